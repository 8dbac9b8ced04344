// Package textgen adapts a request/response text model to core.Backend.
//
// Every Dispatch performs exactly one Generate call and reports the outcome
// as a Finished or Failed event keyed by the request identifier. The
// adapter keeps no job table; correlation is implicit.
package textgen

import (
	"context"
	"errors"
	"time"

	"github.com/hupe1980/genrelay/core"
	"github.com/hupe1980/genrelay/logging"
	"github.com/hupe1980/genrelay/model"
)

// Options configure a Backend.
type Options struct {
	// Noun names the unit of work in rejection messages. Defaults to "prompts".
	Noun string

	// System is sent with every request when non-empty.
	System string

	// Timeout bounds one Generate call. Zero disables it.
	Timeout time.Duration

	Logger logging.Logger
}

// Backend is a text backend.
type Backend struct {
	name  string
	model model.Model
	opts  Options
}

var _ core.Backend = (*Backend)(nil)

// New wraps m under the given backend name.
func New(name string, m model.Model, optFns ...func(o *Options)) *Backend {
	opts := Options{
		Noun:    "prompts",
		Timeout: 5 * time.Minute,
		Logger:  logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Backend{name: name, model: m, opts: opts}
}

// Info implements core.Backend.
func (b *Backend) Info() core.BackendInfo {
	return core.BackendInfo{Name: b.name, Kind: core.KindText, Noun: b.opts.Noun}
}

// Model returns the wrapped model.
func (b *Backend) Model() model.Model { return b.model }

// Dispatch implements core.Backend. It always returns nil: failures are
// reported as Failed events so the submitter's slot is released by the loop.
func (b *Backend) Dispatch(ctx context.Context, req core.Request, n core.Notifier) error {
	if b.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.opts.Timeout)
		defer cancel()
	}

	resp, err := b.model.Generate(ctx, model.Request{System: b.opts.System, Prompt: req.Prompt.Text})
	if err == nil && resp.Text == "" {
		err = model.ErrEmptyResponse
	}
	if err != nil {
		b.opts.Logger.Warn("Text generation failed",
			"backend", b.name,
			"id", req.ID.String(),
			"model", b.model.Info().Name,
			"error", err,
			"timeout", errors.Is(err, context.DeadlineExceeded),
		)
		n.Notify(core.Failed{ID: req.ID, Backend: b.name, Reason: err.Error()})
		return nil
	}

	if resp.Usage != nil {
		b.opts.Logger.Debug("Text generated",
			"backend", b.name,
			"id", req.ID.String(),
			"prompt_tokens", resp.Usage.PromptTokens,
			"completion_tokens", resp.Usage.CompletionTokens,
		)
	}
	n.Notify(core.Finished{ID: req.ID, Backend: b.name, Result: core.TextResult{Text: resp.Text}})
	return nil
}
