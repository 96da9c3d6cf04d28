package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRoot().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRoot() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:           "tuner",
		Short:         "Score chatbot conversations against business rules and tune the rules",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(
		runCmd(&envFile),
		evaluateCmd(&envFile),
		scheduleCmd(&envFile),
		serveCmd(&envFile),
		importCmd(&envFile),
	)
	return root
}
