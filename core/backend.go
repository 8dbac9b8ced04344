package core

import "context"

// Kind classifies a backend family.
type Kind string

const (
	// KindImage backends produce binary assets.
	KindImage Kind = "image"
	// KindText backends produce text answers.
	KindText Kind = "text"
)

// BackendInfo describes a registered backend.
type BackendInfo struct {
	Name string
	Kind Kind
	// Noun is used in user facing messages, e.g. "images" or "prompts".
	Noun string
}

// Request is an admitted job handed to a backend.
type Request struct {
	ID     Identifier
	Prompt Prompt
}

// Notifier accepts lifecycle events. Implementations must be safe for
// concurrent use and must not block.
type Notifier interface {
	Notify(ev Event)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ev Event)

// Notify implements Notifier.
func (f NotifierFunc) Notify(ev Event) { f(ev) }

// Backend dispatches admitted requests to a generative service.
//
// Dispatch reports progress through the notifier. A streaming backend emits
// Started before returning; a request/response backend performs its single
// call and emits Finished or Failed keyed by the request ID. A returned error
// means the job never started; the caller turns it into a Failed event.
type Backend interface {
	Info() BackendInfo
	Dispatch(ctx context.Context, req Request, n Notifier) error
}

// Fetcher is implemented by backends whose results must be downloaded.
type Fetcher interface {
	Fetch(ctx context.Context, path string) ([]byte, error)
}
