package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"

	"github.com/hupe1980/genrelay/artifact"
	"github.com/hupe1980/genrelay/core"
	"github.com/hupe1980/genrelay/logging"
	"github.com/hupe1980/genrelay/metrics"
)

// ErrAlreadyRunning is returned by Run when the loop is already active.
var ErrAlreadyRunning = errors.New("engine is already running")

// Deliverer sends an outcome back to the conversation a request came from.
// Implementations own retries and must not panic; the engine does not look
// at delivery errors.
type Deliverer interface {
	Deliver(ctx context.Context, id core.Identifier, outcome core.Outcome)
}

// Config defines tuning parameters for the correlation loop.
type Config struct {
	// MaxInProgress is the per-submitter cap enforced by the submission
	// gate. Must be positive.
	MaxInProgress int

	// JobTimeout bounds how long a streaming job may stay in the job table
	// without a terminal notification. Expired jobs are failed and their
	// slot is released. Zero or negative disables the sweep.
	JobTimeout time.Duration

	// SweepInterval is how often the loop evicts expired jobs.
	SweepInterval time.Duration

	// FetchTimeout bounds a single asset download.
	FetchTimeout time.Duration
}

// DefaultConfig provides production defaults.
//
// Configuration values:
//   - MaxInProgress: 3 per submitter
//   - JobTimeout: 15 minutes (image renders on a busy queue can be slow)
//   - SweepInterval: 30 seconds
//   - FetchTimeout: 2 minutes
var DefaultConfig = Config{
	MaxInProgress: core.DefaultMaxInProgress,
	JobTimeout:    15 * time.Minute,
	SweepInterval: 30 * time.Second,
	FetchTimeout:  2 * time.Minute,
}

// Options configures an Engine instance using the functional options pattern.
//
// Example:
//
//	eng, err := engine.New(func(o *engine.Options) {
//	    o.Deliverer = stage
//	    o.Logger = logger
//	})
type Options struct {
	// Config contains operational parameters. Defaults to DefaultConfig.
	Config Config

	// Deliverer receives every outcome. Required.
	Deliverer Deliverer

	// ArtifactStore keeps a copy of every downloaded asset.
	// Defaults to an in-memory store.
	ArtifactStore core.ArtifactStore

	// Metrics records loop activity. Defaults to a private registry.
	Metrics *metrics.Metrics

	// Callbacks holds lifecycle hooks. Defaults to an empty manager.
	Callbacks *CallbackManager

	// Logger defaults to NoOp.
	Logger logging.Logger
}

// Stats is a point-in-time view of the loop.
type Stats struct {
	PendingJobs int                `json:"pending_jobs"`
	QueueDepth  int                `json:"queue_depth"`
	InFlight    int                `json:"in_flight"`
	Backends    []core.BackendInfo `json:"backends"`
}

// job is a job table entry: the request a backend handle belongs to.
type job struct {
	ID      core.Identifier
	Backend string
	Started time.Time
}

// Engine is the correlation loop.
//
// It is the single consumer of an unbounded event queue fed by front-ends,
// backend adapters and its own detached tasks. The loop goroutine
// exclusively owns the job table and is the only caller of the submission
// gate, so no two events are ever correlated concurrently.
//
// Concurrency Model:
//   - Notify and Submit are safe from any goroutine and never block
//   - Backend dispatch, asset download and delivery run on detached
//     goroutines so one slow backend never stalls other requests
//   - Backends are registered through an RWMutex-protected registry
//
// Event Flow:
//  1. Requested: the gate admits or rejects; admitted requests are dispatched
//  2. Started: the backend handle is recorded in the job table
//  3. Finished/Failed: the slot is released and the outcome delivered
//  4. Jobs that never terminate are evicted by the timeout sweep
type Engine struct {
	config    Config
	deliverer Deliverer
	artifacts core.ArtifactStore
	metrics   *metrics.Metrics
	callbacks *CallbackManager
	logger    logging.Logger

	backends map[string]core.Backend
	mu       sync.RWMutex

	queue   *Queue
	gate    *core.Gate
	jobs    *ttlcache.Cache[core.JobHandle, job]
	statsCh chan chan Stats
	tasks   sync.WaitGroup
	running atomic.Bool
}

var _ core.Notifier = (*Engine)(nil)

// New creates an Engine. A Deliverer is required and MaxInProgress must be
// positive.
func New(optFns ...func(o *Options)) (*Engine, error) {
	opts := Options{
		Config: DefaultConfig,
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Deliverer == nil {
		return nil, errors.New("engine: deliverer is required")
	}

	gate, err := core.NewGate(opts.Config.MaxInProgress)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	if opts.ArtifactStore == nil {
		opts.ArtifactStore = artifact.NewInMemoryStore()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	if opts.Callbacks == nil {
		opts.Callbacks = NewCallbackManager()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	ttl := opts.Config.JobTimeout
	if ttl < 0 {
		ttl = 0
	}

	e := &Engine{
		config:    opts.Config,
		deliverer: opts.Deliverer,
		artifacts: opts.ArtifactStore,
		metrics:   opts.Metrics,
		callbacks: opts.Callbacks,
		logger:    opts.Logger,
		backends:  make(map[string]core.Backend),
		queue:     NewQueue(),
		gate:      gate,
		jobs: ttlcache.New[core.JobHandle, job](
			ttlcache.WithTTL[core.JobHandle, job](ttl),
			ttlcache.WithDisableTouchOnHit[core.JobHandle, job](),
		),
		statsCh: make(chan chan Stats),
	}

	e.jobs.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[core.JobHandle, job]) {
		if reason != ttlcache.EvictionReasonExpired {
			return
		}
		j := item.Value()
		e.metrics.RecordTimeout()
		e.Notify(core.Failed{
			Handle:  item.Key(),
			ID:      j.ID,
			Backend: j.Backend,
			Reason:  "timed out",
		})
	})

	return e, nil
}

// Register adds a backend under its Info().Name, replacing any previous one.
func (e *Engine) Register(b core.Backend) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.backends[b.Info().Name] = b
}

// Backend looks up a registered backend by name.
func (e *Engine) Backend(name string) (core.Backend, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, ok := e.backends[name]
	return b, ok
}

// Backends returns the registered backends sorted by name.
func (e *Engine) Backends() []core.BackendInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()

	infos := make([]core.BackendInfo, 0, len(e.backends))
	for _, b := range e.backends {
		infos = append(infos, b.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Notify enqueues a lifecycle event. It implements core.Notifier.
func (e *Engine) Notify(ev core.Event) {
	if !e.queue.Push(ev) {
		e.logger.Debug("Event dropped after shutdown", "event", core.EventName(ev))
	}
}

// Submit enqueues a Requested event.
func (e *Engine) Submit(id core.Identifier, backend, prompt string) {
	e.Notify(core.Requested{ID: id, Backend: backend, Prompt: core.Prompt{Text: prompt}})
}

// Run processes events until ctx is done, then waits for detached tasks.
// It returns nil on cancellation.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	var sweep <-chan time.Time
	if e.config.JobTimeout > 0 && e.config.SweepInterval > 0 {
		ticker := time.NewTicker(e.config.SweepInterval)
		defer ticker.Stop()
		sweep = ticker.C
	}

	e.logger.Info("Correlation loop started",
		"max_in_progress", e.gate.Max(),
		"job_timeout", e.config.JobTimeout,
		"backends", len(e.Backends()),
	)

	defer func() {
		e.tasks.Wait()
		e.queue.Close()
		e.logger.Info("Correlation loop stopped", "pending_jobs", e.jobs.Len())
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.queue.Ready():
			for _, ev := range e.queue.Drain() {
				e.handle(ctx, ev)
			}
		case <-sweep:
			e.jobs.DeleteExpired()
		case reply := <-e.statsCh:
			reply <- e.stats()
		}
	}
}

// Stats asks the loop for a snapshot. It blocks until the loop answers or
// ctx is done.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	select {
	case e.statsCh <- reply:
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

func (e *Engine) stats() Stats {
	return Stats{
		PendingJobs: e.jobs.Len(),
		QueueDepth:  e.queue.Len(),
		InFlight:    e.gate.Total(),
		Backends:    e.Backends(),
	}
}

func (e *Engine) handle(ctx context.Context, ev core.Event) {
	switch ev := ev.(type) {
	case core.Requested:
		e.onRequested(ctx, ev)
	case core.Started:
		e.onStarted(ctx, ev)
	case core.Progress:
		e.onProgress(ctx, ev)
	case core.Finished:
		e.onFinished(ctx, ev)
	case core.Failed:
		e.onFailed(ctx, ev)
	default:
		e.logger.Error("Unknown event type", "type", fmt.Sprintf("%T", ev))
	}

	e.metrics.SetInFlight(e.gate.Total())
	e.metrics.SetPendingJobs(e.jobs.Len())
}

func (e *Engine) onRequested(ctx context.Context, ev core.Requested) {
	b, ok := e.Backend(ev.Backend)
	if !ok {
		e.logger.Warn("Request for unknown backend", "id", ev.ID.String(), "backend", ev.Backend)
		e.metrics.RecordRejected(ev.Backend, "unknown_backend")
		e.deliver(ctx, ev.ID, core.FailureOutcome{
			Message: fmt.Sprintf("Unknown backend %q", ev.Backend),
			Reason:  fmt.Errorf("%w: %s", core.ErrBackendNotFound, ev.Backend).Error(),
		})
		return
	}
	info := b.Info()

	if err := e.gate.Admit(ev.ID.SubmitterID); err != nil {
		e.logger.Info("Request rejected", "id", ev.ID.String(), "backend", info.Name, "error", err)
		e.metrics.RecordRejected(info.Name, "too_many_in_progress")
		e.deliver(ctx, ev.ID, core.FailureOutcome{Message: RejectionMessage(info)})
		return
	}

	prompt := ev.Prompt
	cbCtx := &CallbackContext{ID: ev.ID, Backend: info.Name, Prompt: &prompt, Event: ev}
	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackBeforeDispatch, cbCtx); err != nil {
		e.gate.Release(ev.ID.SubmitterID)
		e.logger.Info("Request vetoed", "id", ev.ID.String(), "backend", info.Name, "error", err)
		e.metrics.RecordRejected(info.Name, "vetoed")
		e.deliver(ctx, ev.ID, core.FailureOutcome{Message: err.Error()})
		return
	}

	e.metrics.RecordAdmitted(info.Name)
	e.logger.Debug("Request admitted",
		"id", ev.ID.String(),
		"backend", info.Name,
		"in_flight", e.gate.InFlight(ev.ID.SubmitterID),
	)

	req := core.Request{ID: ev.ID, Prompt: prompt}
	e.spawn(func() {
		start := time.Now()
		err := b.Dispatch(ctx, req, e)
		dur := time.Since(start)

		e.metrics.ObserveDispatch(info.Name, dur)
		logging.LogDispatch(e.logger, info.Name, dur, err)
		if err != nil {
			e.Notify(core.Failed{ID: req.ID, Backend: info.Name, Reason: err.Error()})
		}
	})
}

func (e *Engine) onStarted(ctx context.Context, ev core.Started) {
	if item := e.jobs.Get(ev.Handle, ttlcache.WithDisableTouchOnHit[core.JobHandle, job]()); item != nil {
		owner := item.Value().ID
		if owner == ev.ID {
			e.logger.Warn("Repeated Started ignored", "handle", ev.Handle.String(), "id", ev.ID.String())
			return
		}

		// The handle stays with its first owner; the second request would
		// never see a terminal event, so it is failed now.
		reason := fmt.Sprintf("job handle %s already belongs to %s", ev.Handle, owner)
		e.gate.Release(ev.ID.SubmitterID)
		e.metrics.RecordFailed(ev.Backend)
		e.logger.Error("Duplicate job handle", "handle", ev.Handle.String(), "id", ev.ID.String(), "owner", owner.String())
		fail := core.Failed{ID: ev.ID, Backend: ev.Backend, Reason: reason}
		e.afterTerminal(ctx, ev.ID, ev.Backend, fail)
		e.deliver(ctx, ev.ID, e.failure(ev.Backend, ev.ID, reason))
		return
	}

	e.jobs.Set(ev.Handle, job{ID: ev.ID, Backend: ev.Backend, Started: time.Now()}, ttlcache.DefaultTTL)
	e.metrics.RecordStarted(ev.Backend)
	e.logger.Info("Job started", "handle", ev.Handle.String(), "id", ev.ID.String(), "backend", ev.Backend)
}

func (e *Engine) onProgress(ctx context.Context, ev core.Progress) {
	if !e.jobs.Has(ev.Handle) {
		e.miss(ctx, ev, ev.Handle)
		return
	}
	e.logger.Debug("Job progress", "handle", ev.Handle.String())
}

func (e *Engine) onFinished(ctx context.Context, ev core.Finished) {
	id, backend := ev.ID, ev.Backend
	key := ev.Handle.String()

	if ev.ByHandle() {
		item, ok := e.jobs.GetAndDelete(ev.Handle)
		if !ok {
			e.miss(ctx, ev, ev.Handle)
			return
		}
		j := item.Value()
		id, backend = j.ID, j.Backend
		e.logger.Info("Job finished", "handle", key, "id", id.String(), "elapsed", time.Since(j.Started))
	} else {
		key = uuid.NewString()
	}

	e.gate.Release(id.SubmitterID)
	e.metrics.RecordFinished(backend)
	e.afterTerminal(ctx, id, backend, ev)

	switch r := ev.Result.(type) {
	case core.TextResult:
		e.deliver(ctx, id, core.TextOutcome{Text: r.Text})
	case core.AssetResult:
		e.spawn(func() { e.storeAndDeliver(ctx, id, key, r.Data) })
	case core.RemoteAsset:
		e.fetchAndDeliver(ctx, id, backend, key, r)
	default:
		e.logger.Error("Finished without a usable result", "id", id.String(), "type", fmt.Sprintf("%T", ev.Result))
		e.deliver(ctx, id, e.failure(backend, id, "empty result"))
	}
}

func (e *Engine) onFailed(ctx context.Context, ev core.Failed) {
	id, backend := ev.ID, ev.Backend

	if ev.ByHandle() {
		if item, ok := e.jobs.GetAndDelete(ev.Handle); ok {
			id, backend = item.Value().ID, item.Value().Backend
		} else if !ev.HasID() {
			e.miss(ctx, ev, ev.Handle)
			return
		}
	}

	e.gate.Release(id.SubmitterID)
	e.metrics.RecordFailed(backend)
	e.logger.Error("Job failed",
		"id", id.String(),
		"handle", ev.Handle.String(),
		"backend", backend,
		"reason", ev.Reason,
	)
	e.afterTerminal(ctx, id, backend, ev)
	e.deliver(ctx, id, e.failure(backend, id, ev.Reason))
}

func (e *Engine) fetchAndDeliver(ctx context.Context, id core.Identifier, backend, key string, asset core.RemoteAsset) {
	b, ok := e.Backend(backend)
	fetcher, canFetch := b.(core.Fetcher)
	if !ok || !canFetch {
		e.logger.Error("Backend cannot fetch assets", "id", id.String(), "backend", backend)
		e.deliver(ctx, id, e.failure(backend, id, "backend cannot fetch assets"))
		return
	}

	e.spawn(func() {
		fctx := ctx
		if e.config.FetchTimeout > 0 {
			var cancel context.CancelFunc
			fctx, cancel = context.WithTimeout(ctx, e.config.FetchTimeout)
			defer cancel()
		}

		data, err := fetcher.Fetch(fctx, asset.Path)
		if err != nil {
			e.logger.Error("Asset download failed", "id", id.String(), "path", asset.Path, "error", err)
			e.deliverer.Deliver(ctx, id, e.failure(backend, id, err.Error()))
			return
		}
		e.storeAndDeliver(ctx, id, key, data)
	})
}

func (e *Engine) storeAndDeliver(ctx context.Context, id core.Identifier, key string, data []byte) {
	if err := e.artifacts.Save(id.ConversationID, key, data); err != nil {
		e.logger.Warn("Failed to store artifact", "id", id.String(), "artifact", key, "error", err)
	}
	e.deliverer.Deliver(ctx, id, core.AssetOutcome{Data: data})
}

func (e *Engine) deliver(ctx context.Context, id core.Identifier, outcome core.Outcome) {
	e.spawn(func() { e.deliverer.Deliver(ctx, id, outcome) })
}

// spawn runs fn as a tracked detached task. Only the loop goroutine calls
// it, so Add never races with the final Wait.
func (e *Engine) spawn(fn func()) {
	e.tasks.Add(1)
	go func() {
		defer e.tasks.Done()
		fn()
	}()
}

func (e *Engine) miss(ctx context.Context, ev core.Event, handle core.JobHandle) {
	err := fmt.Errorf("%w: %s", core.ErrNotInQueue, handle)
	e.logger.Warn("Dropping event", "event", core.EventName(ev), "error", err)
	e.metrics.RecordCorrelationMiss(core.EventName(ev))

	if cbErr := e.callbacks.ExecuteCallbacks(ctx, CallbackOnCorrelationMiss, &CallbackContext{Event: ev}); cbErr != nil {
		e.logger.Warn("Correlation miss callback failed", "error", cbErr)
	}
}

func (e *Engine) afterTerminal(ctx context.Context, id core.Identifier, backend string, ev core.Event) {
	cbCtx := &CallbackContext{ID: id, Backend: backend, Event: ev}
	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackAfterTerminal, cbCtx); err != nil {
		e.logger.Warn("Terminal callback failed", "id", id.String(), "error", err)
	}
}

func (e *Engine) failure(backend string, id core.Identifier, reason string) core.FailureOutcome {
	if b, ok := e.Backend(backend); ok && b.Info().Kind == core.KindImage {
		return core.FailureOutcome{
			Message: fmt.Sprintf("Failed to generate image, send this code to the developer: %s", id),
			Reason:  reason,
		}
	}
	return core.FailureOutcome{
		Message: fmt.Sprintf("Failed to generate text prompt, send this code to the developer: %s", id),
		Reason:  reason,
	}
}

// RejectionMessage is the notice sent when a submitter is at the cap.
func RejectionMessage(info core.BackendInfo) string {
	noun := info.Noun
	if noun == "" {
		noun = "requests"
	}
	return fmt.Sprintf("You already have too many %s in progress", noun)
}
