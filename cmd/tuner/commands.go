package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rules-tuner/internal/api"
	"rules-tuner/internal/conversation"
	"rules-tuner/internal/scheduler"
)

func runCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Evaluate, revise the rules and A/B test the revision once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *envFile)
			if err != nil {
				return err
			}
			defer a.Close()

			r, err := a.runner(ctx)
			if err != nil {
				return err
			}
			report, err := r.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), report.GenerateReportSummary())
			return nil
		},
	}
}

func evaluateCmd(envFile *string) *cobra.Command {
	var show int
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score conversations with the current rules and list the weakest turns",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *envFile)
			if err != nil {
				return err
			}
			defer a.Close()

			r, err := a.runner(ctx)
			if err != nil {
				return err
			}
			ev, err := r.Evaluate(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run %s: %d scored, %d skipped\n", ev.RunID, ev.Stats.Total, ev.Pass.Skipped)
			fmt.Fprintf(out, "avg %.1f  median %.0f  good %d%%\n\n", ev.Stats.AvgScore, ev.Stats.MedianScore, ev.Stats.GoodPct)

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SCORE\tCONVERSATION\tMESSAGE\tFEEDBACK")
			for i, res := range ev.Sample {
				if show > 0 && i >= show {
					break
				}
				fmt.Fprintf(tw, "%.0f\t%s\t%d\t%s\n", res.Score, res.ConversationID, res.MessageIndex, res.Feedback)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&show, "show", 15, "how many diagnostic turns to print, 0 for all")
	return cmd
}

func scheduleCmd(envFile *string) *cobra.Command {
	var spec string
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the tuning cycle on a cron schedule until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *envFile)
			if err != nil {
				return err
			}
			defer a.Close()

			r, err := a.runner(ctx)
			if err != nil {
				return err
			}
			if spec == "" {
				spec = a.cfg.ScheduleCron
			}

			s := scheduler.New(a.logger.Named("scheduler"))
			s.SetJob(func(ctx context.Context) error {
				_, err := r.Run(ctx)
				return err
			})
			if err := s.Start(spec); err != nil {
				return err
			}
			a.logger.Info("waiting for scheduled runs", zap.Time("next", s.Next()))

			<-ctx.Done()
			s.Stop()
			return nil
		},
	}
	cmd.Flags().StringVar(&spec, "cron", "", "cron expression, defaults to SCHEDULE_CRON")
	return cmd
}

func serveCmd(envFile *string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run history over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *envFile)
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = a.cfg.HTTPAddr
			}
			return api.NewServer(a.store, a.cfg.GoodScore, a.logger.Named("api")).Run(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, defaults to HTTP_ADDR")
	return cmd
}

func importCmd(envFile *string) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load conversations from a JSON or CSV file into the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *envFile)
			if err != nil {
				return err
			}
			defer a.Close()

			if path == "" {
				path = a.cfg.ConversationsPath
			}
			convs, err := conversation.LoadFile(path)
			if err != nil {
				return err
			}
			if err := a.store.SaveConversations(ctx, convs); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d conversations from %s\n", len(convs), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "conversation file, defaults to CONVERSATIONS_PATH")
	return cmd
}
