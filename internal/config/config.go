package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
)

type LLMProvider string

const (
	ProviderOpenAI LLMProvider = "openai"
	ProviderYandex LLMProvider = "yandex"
	ProviderGemini LLMProvider = "gemini"
)

// Score policies for judge replies outside 0..100.
const (
	ScorePolicyClamp  = "clamp"
	ScorePolicyReject = "reject"
	ScorePolicyPass   = "pass"
)

const (
	SourceFile = "file"
	SourceDB   = "db"
)

type Config struct {
	// LLM settings
	LLMProvider      LLMProvider `env:"LLM_PROVIDER" envDefault:"openai"`
	OpenAIAPIKey     string      `env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string      `env:"OPENAI_BASE_URL"`
	OpenAIModel      string      `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	YandexOAuthToken string      `env:"YANDEX_OAUTH_TOKEN"`
	YandexFolderID   string      `env:"YANDEX_FOLDER_ID"`
	GeminiAPIKey     string      `env:"GEMINI_API_KEY"`
	GeminiModel      string      `env:"GEMINI_MODEL" envDefault:"gemini-2.0-flash"`

	// OpenRouter (optional)
	OpenRouterReferrer string `env:"OPENROUTER_REFERRER"`
	OpenRouterTitle    string `env:"OPENROUTER_TITLE"`

	// Inputs and outputs
	RulesPath           string `env:"RULES_PATH" envDefault:"prompts/rules.md"`
	RulesOutputPath     string `env:"RULES_OUTPUT_PATH" envDefault:"data/rules_improved.md"`
	ConversationsSource string `env:"CONVERSATIONS_SOURCE" envDefault:"file"`
	ConversationsPath   string `env:"CONVERSATIONS_PATH" envDefault:"data/conversations.json"`
	ResultsLogPath      string `env:"RESULTS_LOG_PATH" envDefault:"logs/results.jsonl"`
	ReportPath          string `env:"REPORT_PATH" envDefault:"data/report.json"`

	// Storage
	DBDriver string `env:"DB_DRIVER" envDefault:"sqlite"`
	DBDSN    string `env:"DB_DSN" envDefault:"data/tuner.db"`

	// Judge calls
	ScoreMaxAttempts  int           `env:"SCORE_MAX_ATTEMPTS" envDefault:"3"`
	ScoreRetryDelay   time.Duration `env:"SCORE_RETRY_DELAY" envDefault:"500ms"`
	PacingDelay       time.Duration `env:"PACING_DELAY" envDefault:"100ms"`
	ScoreMaxTokens    int           `env:"SCORE_MAX_TOKENS" envDefault:"500"`
	ReviseMaxTokens   int           `env:"REVISE_MAX_TOKENS" envDefault:"4000"`
	ScoreTemperature  float32       `env:"SCORE_TEMPERATURE" envDefault:"0"`
	ReviseTemperature float32       `env:"REVISE_TEMPERATURE" envDefault:"0.2"`
	ScorePolicy       string        `env:"SCORE_POLICY" envDefault:"clamp"`

	// Evaluation
	ContextWindow      int     `env:"CONTEXT_WINDOW" envDefault:"4"`
	DiagnosticFraction float64 `env:"DIAGNOSTIC_FRACTION" envDefault:"0.1"`
	DiagnosticExamples int     `env:"DIAGNOSTIC_EXAMPLES" envDefault:"15"`
	GoodScore          float64 `env:"GOOD_SCORE" envDefault:"70"`

	// Sampling
	SampleEnabled bool  `env:"SAMPLE_ENABLED" envDefault:"false"`
	SampleSize    int   `env:"SAMPLE_SIZE" envDefault:"50"`
	Seed          int64 `env:"SEED" envDefault:"0"`

	// Delivery
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   int64  `env:"TELEGRAM_CHAT_ID"`
	MessageParseMode string `env:"MESSAGE_PARSE_MODE" envDefault:""`

	// Scheduling / serving
	ScheduleCron string `env:"SCHEDULE_CRON" envDefault:"0 3 * * *"`
	HTTPAddr     string `env:"HTTP_ADDR" envDefault:":8080"`

	// Logging
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	LogDevelopment bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`
}

// Load parses the environment and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch LLMProvider(strings.ToLower(string(c.LLMProvider))) {
	case ProviderOpenAI, ProviderYandex, ProviderGemini:
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider)
	}
	switch c.ScorePolicy {
	case ScorePolicyClamp, ScorePolicyReject, ScorePolicyPass:
	default:
		return fmt.Errorf("unknown SCORE_POLICY %q", c.ScorePolicy)
	}
	switch c.ConversationsSource {
	case SourceFile, SourceDB:
	default:
		return fmt.Errorf("unknown CONVERSATIONS_SOURCE %q", c.ConversationsSource)
	}
	if c.ScoreMaxAttempts < 1 {
		return fmt.Errorf("SCORE_MAX_ATTEMPTS must be at least 1, got %d", c.ScoreMaxAttempts)
	}
	if c.ScoreRetryDelay < 0 || c.PacingDelay < 0 {
		return fmt.Errorf("delays must not be negative")
	}
	if c.ScoreTemperature < 0 || c.ScoreTemperature > 2 {
		return fmt.Errorf("SCORE_TEMPERATURE must be in [0, 2], got %v", c.ScoreTemperature)
	}
	if c.ReviseTemperature < 0 || c.ReviseTemperature > 2 {
		return fmt.Errorf("REVISE_TEMPERATURE must be in [0, 2], got %v", c.ReviseTemperature)
	}
	if c.ContextWindow < 1 {
		return fmt.Errorf("CONTEXT_WINDOW must be at least 1, got %d", c.ContextWindow)
	}
	if c.DiagnosticFraction <= 0 || c.DiagnosticFraction > 1 {
		return fmt.Errorf("DIAGNOSTIC_FRACTION must be in (0, 1], got %v", c.DiagnosticFraction)
	}
	if c.DiagnosticExamples < 1 {
		return fmt.Errorf("DIAGNOSTIC_EXAMPLES must be at least 1, got %d", c.DiagnosticExamples)
	}
	if c.SampleEnabled && c.SampleSize < 1 {
		return fmt.Errorf("SAMPLE_SIZE must be at least 1 when sampling is enabled")
	}
	return nil
}

// Model returns the model name configured for the active provider.
func (c *Config) Model() string {
	switch LLMProvider(strings.ToLower(string(c.LLMProvider))) {
	case ProviderGemini:
		return c.GeminiModel
	case ProviderYandex:
		return "yandexgpt-lite"
	default:
		return c.OpenAIModel
	}
}
