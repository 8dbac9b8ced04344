// Package genrelay provides a high-level façade over the correlation loop,
// the delivery stage and the supporting stores. Most applications interact
// with this package by:
//  1. Creating a Relay via New() with a chat Sender (optionally overriding
//     the default in-memory stores)
//  2. Registering one or more backends (streaming image, request/response text)
//  3. Running the loop and feeding it requests through Submit
//
// Backends and front-ends report lifecycle events through Notifier(); the
// relay correlates them back to the originating request and replies in the
// same conversation thread.
package genrelay

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/genrelay/artifact"
	"github.com/hupe1980/genrelay/core"
	"github.com/hupe1980/genrelay/delivery"
	"github.com/hupe1980/genrelay/engine"
	"github.com/hupe1980/genrelay/history"
	"github.com/hupe1980/genrelay/logging"
	"github.com/hupe1980/genrelay/metrics"
)

// DefaultMaxPromptRunes bounds prompt length when no limit is configured.
const DefaultMaxPromptRunes = 4000

// Options configures the Relay instance.
type Options struct {
	// EngineConfig tunes the correlation loop (in-flight cap, job timeout).
	EngineConfig engine.Config

	// Sender delivers replies to the chat front-end. Required.
	Sender core.Sender

	// Stores (default to in-memory implementations if not provided)
	HistoryStore  core.HistoryStore
	ArtifactStore core.ArtifactStore

	// Metrics defaults to a private registry.
	Metrics *metrics.Metrics

	// Callbacks holds lifecycle hooks registered before New. A prompt
	// validation hook bounded by MaxPromptRunes always runs first.
	Callbacks *engine.CallbackManager

	// MaxPromptRunes limits prompt length. Zero or negative disables the
	// length check; empty prompts are always rejected.
	MaxPromptRunes int

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Relay is the high-level façade aggregating the loop and its services.
type Relay struct {
	opts   Options
	engine *engine.Engine
	stage  *delivery.Stage
}

// New creates a Relay. Any unset store is initialized in memory.
func New(optFns ...func(o *Options)) (*Relay, error) {
	opts := Options{
		EngineConfig:   engine.DefaultConfig,
		MaxPromptRunes: DefaultMaxPromptRunes,
		Logger:         logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Sender == nil {
		return nil, errors.New("genrelay: sender is required")
	}
	if opts.HistoryStore == nil {
		opts.HistoryStore = history.NewInMemoryStore(0)
	}
	if opts.ArtifactStore == nil {
		opts.ArtifactStore = artifact.NewInMemoryStore()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	callbacks := engine.NewCallbackManager()
	callbacks.RegisterCallback(engine.NewPromptValidationCallback(opts.MaxPromptRunes))
	if opts.Callbacks != nil {
		callbacks.Extend(opts.Callbacks)
	}

	stage := delivery.NewStage(opts.Sender, func(o *delivery.Options) {
		o.History = opts.HistoryStore
		o.Metrics = opts.Metrics
		o.Logger = opts.Logger
	})

	eng, err := engine.New(func(o *engine.Options) {
		o.Config = opts.EngineConfig
		o.Deliverer = stage
		o.ArtifactStore = opts.ArtifactStore
		o.Metrics = opts.Metrics
		o.Callbacks = callbacks
		o.Logger = opts.Logger
	})
	if err != nil {
		return nil, err
	}

	return &Relay{opts: opts, engine: eng, stage: stage}, nil
}

// Register adds a backend under its Info().Name.
func (r *Relay) Register(b core.Backend) { r.engine.Register(b) }

// Submit enqueues a new request. It never blocks.
func (r *Relay) Submit(id core.Identifier, backend, prompt string) {
	r.engine.Submit(id, backend, prompt)
}

// Run drives the correlation loop until ctx is done.
func (r *Relay) Run(ctx context.Context) error { return r.engine.Run(ctx) }

// Notifier is the event sink backends report lifecycle events to.
func (r *Relay) Notifier() core.Notifier { return r.engine }

// Stats returns a snapshot of the loop.
func (r *Relay) Stats(ctx context.Context) (engine.Stats, error) { return r.engine.Stats(ctx) }

// Registry returns the Prometheus registry holding the relay's metrics.
func (r *Relay) Registry() *prometheus.Registry { return r.opts.Metrics.Registry() }

// Metrics returns the relay's collectors.
func (r *Relay) Metrics() *metrics.Metrics { return r.opts.Metrics }

// History returns the conversation history store.
func (r *Relay) History() core.HistoryStore { return r.opts.HistoryStore }

// Artifacts returns the artifact store.
func (r *Relay) Artifacts() core.ArtifactStore { return r.opts.ArtifactStore }
