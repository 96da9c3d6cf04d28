package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"rules-tuner/internal/config"
	"rules-tuner/internal/llm"
	"rules-tuner/internal/logger"
	"rules-tuner/internal/scoring"
)

func main() {
	envErr := godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	// zap writes to stderr, stdout belongs to the MCP transport
	log, err := logger.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	if envErr != nil {
		log.Debug(".env file not loaded", zap.Error(envErr))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var judge Judge
	client, err := llm.NewFactory(cfg).CreateClient(ctx, string(cfg.LLMProvider), cfg.Model())
	if err != nil {
		log.Warn("score_turn disabled", zap.Error(err))
	} else {
		judge = scoring.New(client, scoring.Config{
			MaxAttempts: cfg.ScoreMaxAttempts,
			RetryDelay:  cfg.ScoreRetryDelay,
			MaxTokens:   cfg.ScoreMaxTokens,
			Policy:      cfg.ScorePolicy,
			Temperature: &cfg.ScoreTemperature,
		}, log.Named("scoring"))
	}

	tuner := NewTunerMCPServer(judge, log)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "rules-tuner-mcp",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "score_turn",
		Description: "Scores the last BOT message of a context window against a business rule document (0-100 with feedback)",
	}, tuner.ScoreTurn)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "apply_improvements",
		Description: "Applies rule edits to a document by literal first-occurrence replacement and reports skipped edits",
	}, tuner.ApplyImprovements)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "split_stats",
		Description: "Computes average, median, good percentage and count of a list of scores",
	}, tuner.SplitStats)

	log.Info("starting MCP server on stdin/stdout",
		zap.Strings("tools", []string{"score_turn", "apply_improvements", "split_stats"}))

	if err := server.Run(ctx, mcp.NewStdioTransport()); err != nil {
		log.Error("MCP server failed", zap.Error(err))
		os.Exit(1)
	}
}
