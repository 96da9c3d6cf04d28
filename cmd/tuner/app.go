package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"rules-tuner/internal/config"
	"rules-tuner/internal/llm"
	"rules-tuner/internal/logger"
	"rules-tuner/internal/notify"
	"rules-tuner/internal/pipeline"
	"rules-tuner/internal/repository"
	"rules-tuner/internal/rules"
	"rules-tuner/internal/scoring"
	"rules-tuner/internal/storage"
)

// app holds what every subcommand needs: config, logger and the run
// history database.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *repository.Store

	closers []func() error
}

func newApp(ctx context.Context, envFile string) (*app, error) {
	envErr := godotenv.Load(envFile)

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return nil, err
	}
	if envErr != nil {
		log.Debug(".env file not loaded", zap.String("path", envFile), zap.Error(envErr))
	}

	if cfg.DBDriver == repository.DriverSQLite {
		if err := ensureSQLiteDir(cfg.DBDSN); err != nil {
			return nil, err
		}
	}
	store, err := repository.Open(ctx, cfg.DBDriver, cfg.DBDSN, log)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: log, store: store}
	a.closers = append(a.closers, store.Close)
	return a, nil
}

func ensureSQLiteDir(dsn string) error {
	if dsn == "" || strings.HasPrefix(dsn, ":memory:") || strings.HasPrefix(dsn, "file:") {
		return nil
	}
	dir := filepath.Dir(dsn)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// runner wires the oracle client, scorer, reviser, sinks and notifier into
// a pipeline.Runner.
func (a *app) runner(ctx context.Context) (*pipeline.Runner, error) {
	cfg := a.cfg

	client, err := llm.NewFactory(cfg).CreateClient(ctx, string(cfg.LLMProvider), cfg.Model())
	if err != nil {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}
	if c, ok := client.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}

	scorer := scoring.New(client, scoring.Config{
		MaxAttempts: cfg.ScoreMaxAttempts,
		RetryDelay:  cfg.ScoreRetryDelay,
		MaxTokens:   cfg.ScoreMaxTokens,
		Policy:      cfg.ScorePolicy,
		Temperature: &cfg.ScoreTemperature,
	}, a.logger.Named("scoring"))

	reviser := rules.NewReviser(client, rules.ReviserConfig{
		MaxExamples: cfg.DiagnosticExamples,
		MaxTokens:   cfg.ReviseMaxTokens,
		Temperature: &cfg.ReviseTemperature,
	}, a.logger.Named("rules"))

	deps := pipeline.Deps{
		Judge:    scorer,
		Reviser:  reviser,
		Store:    a.store,
		Source:   a.store,
		Notifier: notify.Nop{},
	}

	if cfg.ResultsLogPath != "" {
		rec, err := storage.NewFileRecorder(cfg.ResultsLogPath)
		if err != nil {
			return nil, fmt.Errorf("failed to init result log: %w", err)
		}
		deps.Recorder = rec
	}

	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != 0 {
		tg, err := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID, cfg.MessageParseMode, a.logger.Named("notify"))
		if err != nil {
			a.logger.Warn("telegram delivery disabled", zap.Error(err))
		} else {
			deps.Notifier = tg
		}
	}

	a.logger.Info("oracle configured",
		zap.String("provider", string(cfg.LLMProvider)),
		zap.String("model", cfg.Model()))
	return pipeline.NewRunner(pipeline.OptionsFromConfig(cfg), deps, a.logger.Named("pipeline"))
}
