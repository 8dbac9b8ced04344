package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/hupe1980/genrelay/core"
)

// FakeBackend is a scriptable core.Backend and core.Fetcher.
type FakeBackend struct {
	info core.BackendInfo

	// DispatchFunc runs on every Dispatch. When nil, Dispatch records the
	// request and returns nil without emitting events.
	DispatchFunc func(ctx context.Context, req core.Request, n core.Notifier) error

	// Assets maps fetch paths to bytes. Missing paths fail.
	Assets map[string][]byte

	mu       sync.Mutex
	requests []core.Request
}

var (
	_ core.Backend = (*FakeBackend)(nil)
	_ core.Fetcher = (*FakeBackend)(nil)
)

// NewFakeBackend creates a backend with the given name, kind and noun.
func NewFakeBackend(name string, kind core.Kind, noun string) *FakeBackend {
	return &FakeBackend{
		info:   core.BackendInfo{Name: name, Kind: kind, Noun: noun},
		Assets: make(map[string][]byte),
	}
}

// Info implements core.Backend.
func (b *FakeBackend) Info() core.BackendInfo { return b.info }

// Dispatch implements core.Backend.
func (b *FakeBackend) Dispatch(ctx context.Context, req core.Request, n core.Notifier) error {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	fn := b.DispatchFunc
	b.mu.Unlock()

	if fn == nil {
		return nil
	}
	return fn(ctx, req, n)
}

// Fetch implements core.Fetcher.
func (b *FakeBackend) Fetch(_ context.Context, path string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.Assets[path]
	if !ok {
		return nil, &core.TransportError{Op: "GET " + path, Err: errors.New("not found")}
	}
	return data, nil
}

// Requests returns the dispatched requests.
func (b *FakeBackend) Requests() []core.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]core.Request, len(b.requests))
	copy(out, b.requests)
	return out
}
