// Package invokeai implements the streaming image backend.
//
// The adapter talks to an InvokeAI server over two channels: request/response
// HTTP for enqueueing batches and downloading images, and a persistent
// socket.io push channel for job updates. Job updates are keyed by the
// batch id the server assigns on enqueue; the correlation loop maps them
// back to requests.
//
// Ordering: Dispatch holds a read lock on the registration gate from the
// enqueue call until Started has been queued. The socket reader only queues
// translated updates; a forwarding goroutine takes the write lock once per
// drained batch before passing them on. An update can therefore never reach
// the loop ahead of the Started event of its own batch, while pings and
// reads continue during a slow enqueue.
package invokeai

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/hupe1980/genrelay/core"
	"github.com/hupe1980/genrelay/engine"
	"github.com/hupe1980/genrelay/logging"
	"github.com/hupe1980/genrelay/metrics"
)

// Options configure the adapter.
type Options struct {
	// Name is the backend name requests refer to. Defaults to "invokeai".
	Name string

	// Noun names the unit of work in rejection messages. Defaults to "images".
	Noun string

	// QueueID is the server queue to subscribe to. Defaults to "default".
	QueueID string

	// Template is the enqueue_batch body. The prompt and seed are injected
	// at PromptPath and SeedPath. Defaults to DefaultGraph.
	Template []byte

	// Seed returns the noise seed for each batch. Defaults to random.
	Seed func() int64

	HTTPClient *http.Client
	Dialer     *websocket.Dialer

	// EnqueueTimeout bounds each enqueue_batch call. It stays below the
	// server ping window so a stuck enqueue cannot outlive the session.
	EnqueueTimeout time.Duration

	// HandshakeTimeout bounds the socket.io handshake of each dial.
	HandshakeTimeout time.Duration

	// MinBackoff and MaxBackoff bound the reconnect delay.
	MinBackoff time.Duration
	MaxBackoff time.Duration

	// OnReconnect runs after every successful reconnect. Optional.
	OnReconnect func()

	Metrics *metrics.Metrics
	Logger  logging.Logger
}

// Backend is the InvokeAI adapter. It implements core.Backend and
// core.Fetcher.
type Backend struct {
	opts     Options
	client   *client
	socket   *socket
	notifier core.Notifier

	// gate orders enqueue registration before inbound job updates.
	gate sync.RWMutex

	inbox   *engine.Queue
	stop    context.CancelFunc
	stopped chan struct{}
}

var (
	_ core.Backend = (*Backend)(nil)
	_ core.Fetcher = (*Backend)(nil)
)

// Connect dials the push channel of the server at baseURL and subscribes to
// its queue. Inbound job updates are forwarded to n. A failure to connect
// or subscribe is returned as a *core.ProtocolError; later disconnects are
// repaired in the background until Close.
func Connect(ctx context.Context, baseURL string, n core.Notifier, optFns ...func(o *Options)) (*Backend, error) {
	opts := Options{
		Name:             "invokeai",
		Noun:             "images",
		QueueID:          "default",
		Template:         DefaultGraph,
		Seed:             func() int64 { return int64(rand.Uint32()) },
		HTTPClient:       &http.Client{Timeout: 2 * time.Minute},
		Dialer:           websocket.DefaultDialer,
		EnqueueTimeout:   20 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		MinBackoff:       500 * time.Millisecond,
		MaxBackoff:       30 * time.Second,
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	base := strings.TrimRight(baseURL, "/")
	wsURL, err := socketURL(base)
	if err != nil {
		return nil, &core.ProtocolError{Stage: "dial", Err: err}
	}

	b := &Backend{
		opts:     opts,
		client:   &client{baseURL: base, queueID: opts.QueueID, http: opts.HTTPClient, template: opts.Template},
		notifier: n,
		inbox:    engine.NewQueue(),
		stopped:  make(chan struct{}),
	}

	fwdCtx, stop := context.WithCancel(context.Background())
	b.stop = stop
	go b.forward(fwdCtx)

	b.socket, err = dialSocket(ctx, socketConfig{
		URL:              wsURL,
		QueueID:          opts.QueueID,
		Dialer:           opts.Dialer,
		HandshakeTimeout: opts.HandshakeTimeout,
		MinBackoff:       opts.MinBackoff,
		MaxBackoff:       opts.MaxBackoff,
		OnEvent:          b.onEvent,
		OnReconnect:      b.onReconnect,
		Logger:           opts.Logger,
	})
	if err != nil {
		b.shutdown()
		return nil, err
	}

	opts.Logger.Info("Connected to InvokeAI", "url", base, "queue", opts.QueueID)
	return b, nil
}

// socketURL derives the websocket endpoint from the HTTP base URL.
func socketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/socket.io/"
	u.RawQuery = url.Values{"EIO": {"4"}, "transport": {"websocket"}}.Encode()
	return u.String(), nil
}

// Info implements core.Backend.
func (b *Backend) Info() core.BackendInfo {
	return core.BackendInfo{Name: b.opts.Name, Kind: core.KindImage, Noun: b.opts.Noun}
}

// Dispatch enqueues one batch and emits Started with the server's batch id.
func (b *Backend) Dispatch(ctx context.Context, req core.Request, n core.Notifier) error {
	body, err := b.client.buildBatch(req.Prompt.Text, b.opts.Seed())
	if err != nil {
		return err
	}

	if b.opts.EnqueueTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.opts.EnqueueTimeout)
		defer cancel()
	}

	b.gate.RLock()
	defer b.gate.RUnlock()

	handle, err := b.client.enqueue(ctx, body)
	if err != nil {
		return err
	}

	n.Notify(core.Started{Handle: handle, ID: req.ID, Backend: b.opts.Name})
	return nil
}

// Fetch implements core.Fetcher. path is the image name from the
// completion event.
func (b *Backend) Fetch(ctx context.Context, path string) ([]byte, error) {
	return b.client.fetch(ctx, path)
}

// Close shuts down the push channel. Updates not yet forwarded are dropped.
func (b *Backend) Close() error {
	b.socket.close()
	b.shutdown()
	return nil
}

func (b *Backend) shutdown() {
	b.stop()
	<-b.stopped
	b.inbox.Close()
}

// forward passes queued updates to the notifier in arrival order.
func (b *Backend) forward(ctx context.Context) {
	defer close(b.stopped)

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.inbox.Ready():
		}

		batch := b.inbox.Drain()
		if len(batch) == 0 {
			continue
		}

		// Wait for in-flight enqueues to register their handles.
		b.gate.Lock()
		b.gate.Unlock() //nolint:staticcheck // empty critical section is the barrier

		for _, ev := range batch {
			b.notifier.Notify(ev)
		}
	}
}

func (b *Backend) onEvent(name string, data gjson.Result) {
	ev, ie, err := translate(name, data)
	if err != nil {
		b.opts.Logger.Warn("Dropping malformed InvokeAI event", "event", name, "error", err)
		return
	}
	if ie != nil {
		b.opts.Logger.Error("InvokeAI invocation error",
			"handle", ie.Handle.String(),
			"node", ie.SourceNode,
			"type", ie.ErrorType,
			"error", ie.Message,
		)
	}
	if ev == nil {
		return
	}
	b.inbox.Push(ev)
}

func (b *Backend) onReconnect() {
	if b.opts.Metrics != nil {
		b.opts.Metrics.RecordReconnect(b.opts.Name)
	}
	if b.opts.OnReconnect != nil {
		b.opts.OnReconnect()
	}
}
