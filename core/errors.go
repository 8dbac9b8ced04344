package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInQueue is returned when an event references a job handle that
	// was never registered (or was already removed).
	ErrNotInQueue = errors.New("received an update for a job that's not in our queue")

	// ErrTooManyInProgress is returned by Gate.Admit when the submitter is at
	// the in-flight cap.
	ErrTooManyInProgress = errors.New("too many requests in progress")

	// ErrBackendNotFound is returned when a request names an unregistered backend.
	ErrBackendNotFound = errors.New("backend not found")

	// ErrRichFormat marks a send failure caused by the rich text formatting
	// (e.g. unparsable markup). Senders wrap it so the delivery stage can
	// fall back to plain text.
	ErrRichFormat = errors.New("rich format rejected")
)

// TransportError wraps a network failure reaching a backend or the chat API.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("%s: transport: %v", e.Op, e.Err) }

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError wraps a malformed payload received from a backend.
type DecodeError struct {
	What string
	Err  error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode %s: %v", e.What, e.Err) }

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error { return e.Err }

// ProtocolError wraps a failure establishing or subscribing a push channel.
// It is only fatal during startup.
type ProtocolError struct {
	Stage string
	Err   error
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("protocol %s: %v", e.Stage, e.Err) }

// Unwrap returns the underlying error.
func (e *ProtocolError) Unwrap() error { return e.Err }
