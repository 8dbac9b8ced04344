// Command genrelay runs the relay: a Telegram poller and an HTTP API feed
// prompts to generation backends and the results are posted back to the
// originating conversation.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/genrelay"
	"github.com/hupe1980/genrelay/backend/invokeai"
	"github.com/hupe1980/genrelay/backend/textgen"
	"github.com/hupe1980/genrelay/core"
	"github.com/hupe1980/genrelay/history"
	"github.com/hupe1980/genrelay/httpapi"
	"github.com/hupe1980/genrelay/logging"
	"github.com/hupe1980/genrelay/model/anthropic"
	"github.com/hupe1980/genrelay/model/ollama"
	"github.com/hupe1980/genrelay/model/openai"
	"github.com/hupe1980/genrelay/telegram"
)

// localAISystem steers general purpose local models.
const localAISystem = "The prompt below is a question to answer, a task to complete, " +
	"or a conversation to respond to; decide which and write an appropriate response."

func main() {
	opts := NewOptions()
	opts.AddFlags(pflag.CommandLine)
	pflag.Parse()

	if err := opts.Complete(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := opts.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *Options) error {
	logger := logging.NewSlogLogger(opts.level, opts.LogFormat, false)

	sender, err := newSender(opts, logger)
	if err != nil {
		return err
	}

	historyStore, closeHistory, err := newHistoryStore(ctx, opts, logger)
	if err != nil {
		return err
	}
	defer closeHistory()

	relay, err := genrelay.New(func(o *genrelay.Options) {
		o.EngineConfig = opts.EngineConfig()
		o.Sender = sender
		o.HistoryStore = historyStore
		o.Logger = logger.WithComponent("relay")
	})
	if err != nil {
		return err
	}

	if err := registerBackends(ctx, relay, opts, logger); err != nil {
		return err
	}

	var poller *telegram.Poller
	if client, ok := sender.(*telegram.Client); ok {
		me, err := client.GetMe(ctx)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		poller = telegram.NewPoller(client, relay, func(o *telegram.PollerOptions) {
			o.AdminID = opts.AdminID
			o.BotName = me.Username
			o.History = relay.History()
			o.Logger = logger.WithComponent("telegram")
		})
		logger.Info("Telegram poller started", "bot", me.Mention())
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return relay.Run(ctx) })

	if poller != nil {
		g.Go(func() error { return poller.Run(ctx) })
	}

	if opts.HTTPAddr != "" {
		srv := httpapi.NewServer(opts.HTTPAddr, httpapi.NewRouter(relay, func(o *httpapi.Options) {
			o.Metrics = relay.Metrics().Handler()
			o.History = relay.History()
			o.Artifacts = relay.Artifacts()
			o.Logger = logger.WithComponent("http")
		}))
		g.Go(func() error {
			logger.Info("HTTP API listening", "addr", opts.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	logger.Info("Relay stopped")
	return err
}

// newSender returns the Telegram client when a token is configured. Without
// one, replies to HTTP submissions are only logged.
func newSender(opts *Options, logger *logging.RelayLogger) (core.Sender, error) {
	if opts.TelegramToken == "" {
		return &logSender{logger: logger.WithComponent("sender")}, nil
	}
	return telegram.NewClient(opts.TelegramToken, func(o *telegram.ClientOptions) {
		o.Logger = logger.WithComponent("telegram")
	}), nil
}

func newHistoryStore(ctx context.Context, opts *Options, logger *logging.RelayLogger) (core.HistoryStore, func(), error) {
	if opts.RedisAddr == "" {
		return history.NewInMemoryStore(0), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: opts.RedisAddr})
	store := history.NewRedisStore(client)
	if err := store.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	logger.Info("Using Redis history", "addr", opts.RedisAddr)
	return store, func() { _ = client.Close() }, nil
}

func registerBackends(ctx context.Context, relay *genrelay.Relay, opts *Options, logger *logging.RelayLogger) error {
	if opts.OllamaURL != "" {
		m := ollama.NewModel(opts.OllamaURL, func(o *ollama.Options) {
			o.Model = opts.OllamaModel
		})
		relay.Register(textgen.New("ollama", m, func(o *textgen.Options) {
			o.Logger = logger.WithComponent("ollama")
		}))
	}

	if opts.LocalAIURL != "" {
		m := openai.NewModel(func(o *openai.Options) {
			o.BaseURL = strings.TrimRight(opts.LocalAIURL, "/") + "/v1/"
			o.Model = opts.LocalAIModel
			o.Provider = "localai"
		})
		relay.Register(textgen.New("localai", m, func(o *textgen.Options) {
			o.System = localAISystem
			o.Logger = logger.WithComponent("localai")
		}))
	}

	if opts.AnthropicAPIKey != "" {
		m := anthropic.NewModel(func(o *anthropic.Options) {
			o.APIKey = opts.AnthropicAPIKey
		})
		relay.Register(textgen.New("anthropic", m, func(o *textgen.Options) {
			o.Logger = logger.WithComponent("anthropic")
		}))
	}

	if opts.InvokeAIURL != "" {
		b, err := invokeai.Connect(ctx, opts.InvokeAIURL, relay.Notifier(), func(o *invokeai.Options) {
			o.Metrics = relay.Metrics()
			o.Logger = logger.WithComponent("invokeai")
		})
		if err != nil {
			return fmt.Errorf("invokeai: %w", err)
		}
		go func() {
			<-ctx.Done()
			_ = b.Close()
		}()
		relay.Register(b)
	}

	return nil
}

// logSender is the Sender used when no chat front-end is configured.
type logSender struct {
	logger logging.Logger
}

func (s *logSender) SendText(_ context.Context, conversationID, replyTo int64, text string, _ bool) error {
	s.logger.Info("Reply", "conversation", conversationID, "reply_to", replyTo, "text", text)
	return nil
}

func (s *logSender) SendBinary(_ context.Context, conversationID, replyTo int64, data []byte) error {
	s.logger.Info("Binary reply", "conversation", conversationID, "reply_to", replyTo, "bytes", len(data))
	return nil
}
