package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/hupe1980/genrelay/engine"
	"github.com/hupe1980/genrelay/logging"
)

const (
	DefaultHTTPAddr    = ":8080"
	DefaultOllamaModel = "phi3"
	DefaultLocalModel  = "llama"
)

// Options contains the command-line configuration for the relay.
type Options struct {
	//
	// Backends. An empty URL or key leaves the backend unregistered.
	//
	InvokeAIURL     string // Base URL of the InvokeAI server.
	OllamaURL       string // Base URL of the Ollama server.
	OllamaModel     string // Model name sent to Ollama.
	LocalAIURL      string // Base URL of the LocalAI server, without /v1.
	LocalAIModel    string // Model name sent to LocalAI.
	AnthropicAPIKey string // Enables the anthropic backend.
	//
	// Front-ends.
	//
	TelegramToken string // Bot API token. Empty disables the poller.
	AdminID       int64  // Telegram user allowed to run admin commands.
	HTTPAddr      string // Listen address of the HTTP API. Empty disables it.
	//
	// Correlation loop.
	//
	MaxInProgress int           // Per-submitter in-flight cap.
	JobTimeout    time.Duration // Lifetime of a streaming job without a terminal event.
	//
	// Storage.
	//
	RedisAddr string // Redis address for conversation history. Empty keeps it in memory.
	//
	// Diagnostics.
	//
	LogLevel  string
	LogFormat string

	// internal
	fs        *pflag.FlagSet              // FlagSet used in AddFlags() and consulted in Complete()
	lookupEnv func(string) (string, bool) // os.LookupEnv unless replaced in tests
	level     logging.LogLevel            // parsed LogLevel, set by Complete()
}

// NewOptions returns a new Options struct initialized with default values.
func NewOptions() *Options {
	return &Options{
		OllamaModel:   DefaultOllamaModel,
		LocalAIModel:  DefaultLocalModel,
		HTTPAddr:      DefaultHTTPAddr,
		MaxInProgress: engine.DefaultConfig.MaxInProgress,
		JobTimeout:    engine.DefaultConfig.JobTimeout,
		LogLevel:      "info",
		LogFormat:     "text",
		lookupEnv:     os.LookupEnv,
	}
}

// AddFlags binds the Options fields to command-line flags on the given FlagSet.
func (opts *Options) AddFlags(fs *pflag.FlagSet) {
	if fs == nil {
		fs = pflag.CommandLine
	}
	opts.fs = fs

	fs.StringVar(&opts.InvokeAIURL, "invokeai-url", opts.InvokeAIURL,
		"Base URL of the InvokeAI server. Falls back to $INVOKE_AI_URL.")
	fs.StringVar(&opts.OllamaURL, "ollama-url", opts.OllamaURL,
		"Base URL of the Ollama server. Falls back to $OLLAMA_URL.")
	fs.StringVar(&opts.OllamaModel, "ollama-model", opts.OllamaModel,
		"Model used by the ollama backend.")
	fs.StringVar(&opts.LocalAIURL, "localai-url", opts.LocalAIURL,
		"Base URL of the LocalAI server. Falls back to $LOCAL_AI_URL.")
	fs.StringVar(&opts.LocalAIModel, "localai-model", opts.LocalAIModel,
		"Model used by the localai backend.")
	fs.StringVar(&opts.AnthropicAPIKey, "anthropic-api-key", opts.AnthropicAPIKey,
		"Anthropic API key. Falls back to $ANTHROPIC_API_KEY.")
	fs.StringVar(&opts.TelegramToken, "telegram-token", opts.TelegramToken,
		"Telegram bot token. Falls back to $TELEGRAM_BOT_TOKEN, then $TELOXIDE_TOKEN.")
	fs.Int64Var(&opts.AdminID, "admin-id", opts.AdminID,
		"Telegram user id allowed to run admin commands. Falls back to $TELEGRAM_ADMIN_USER_ID.")
	fs.StringVar(&opts.HTTPAddr, "http-addr", opts.HTTPAddr,
		"Listen address of the HTTP API. Empty disables it.")
	fs.IntVar(&opts.MaxInProgress, "max-in-progress", opts.MaxInProgress,
		"Maximum in-flight requests per submitter. Falls back to $MAX_IN_PROGRESS.")
	fs.DurationVar(&opts.JobTimeout, "job-timeout", opts.JobTimeout,
		"Time a streaming job may wait for its result before it is failed.")
	fs.StringVar(&opts.RedisAddr, "redis-addr", opts.RedisAddr,
		"Redis address for conversation history. Falls back to $REDIS_ADDR.")
	fs.StringVar(&opts.LogLevel, "log-level", opts.LogLevel,
		"Log level: debug, info, warn or error.")
	fs.StringVar(&opts.LogFormat, "log-format", opts.LogFormat,
		"Log format: text or json.")
}

// Complete fills unset flags from the environment and parses derived values.
func (opts *Options) Complete() error {
	if opts.lookupEnv == nil {
		opts.lookupEnv = os.LookupEnv
	}

	opts.fromEnv("invokeai-url", &opts.InvokeAIURL, "INVOKE_AI_URL")
	opts.fromEnv("ollama-url", &opts.OllamaURL, "OLLAMA_URL")
	opts.fromEnv("localai-url", &opts.LocalAIURL, "LOCAL_AI_URL")
	opts.fromEnv("anthropic-api-key", &opts.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	opts.fromEnv("telegram-token", &opts.TelegramToken, "TELEGRAM_BOT_TOKEN", "TELOXIDE_TOKEN")
	opts.fromEnv("redis-addr", &opts.RedisAddr, "REDIS_ADDR")

	var s string
	if opts.fromEnv("admin-id", &s, "TELEGRAM_ADMIN_USER_ID") {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid TELEGRAM_ADMIN_USER_ID %q: %w", s, err)
		}
		opts.AdminID = id
	}
	if opts.fromEnv("max-in-progress", &s, "MAX_IN_PROGRESS") {
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid MAX_IN_PROGRESS %q: %w", s, err)
		}
		opts.MaxInProgress = n
	}

	level, err := logging.ParseLevel(opts.LogLevel)
	if err != nil {
		return err
	}
	opts.level = level
	return nil
}

// fromEnv copies the first non-empty variable of keys into dst unless the
// flag was set explicitly. It reports whether dst was written.
func (opts *Options) fromEnv(flag string, dst *string, keys ...string) bool {
	if opts.fs != nil {
		if f := opts.fs.Lookup(flag); f != nil && f.Changed {
			return false
		}
	}
	for _, k := range keys {
		if v, ok := opts.lookupEnv(k); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
			return true
		}
	}
	return false
}

// Validate checks the Options for invalid or conflicting values.
func (opts *Options) Validate() error {
	if opts.MaxInProgress <= 0 {
		return fmt.Errorf("invalid value %d for flag %q: must be positive", opts.MaxInProgress, "max-in-progress")
	}
	if opts.JobTimeout < 0 {
		return fmt.Errorf("invalid value %s for flag %q: must not be negative", opts.JobTimeout, "job-timeout")
	}
	if opts.TelegramToken == "" && opts.HTTPAddr == "" {
		return fmt.Errorf("no front-end configured: set --telegram-token or --http-addr")
	}
	if opts.InvokeAIURL == "" && opts.OllamaURL == "" && opts.LocalAIURL == "" && opts.AnthropicAPIKey == "" {
		return fmt.Errorf("no backend configured: set at least one of --invokeai-url, --ollama-url, --localai-url or --anthropic-api-key")
	}
	switch opts.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid value %q for flag %q: must be text or json", opts.LogFormat, "log-format")
	}
	return nil
}

// EngineConfig returns the loop configuration derived from the flags.
func (opts *Options) EngineConfig() engine.Config {
	cfg := engine.DefaultConfig
	cfg.MaxInProgress = opts.MaxInProgress
	cfg.JobTimeout = opts.JobTimeout
	return cfg
}
