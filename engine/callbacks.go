package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/hupe1980/genrelay/core"
)

// CallbackType defines the lifecycle points where callbacks are executed.
//
// Callbacks hook into the correlation loop without modifying its logic. They
// run synchronously on the loop goroutine, so implementations must be fast
// and must not block on I/O.
//
// Available callback types:
//   - BeforeDispatch: after admission, before the backend is called
//   - AfterTerminal: once a job reached Finished or Failed
//   - OnCorrelationMiss: when an event names an unknown job handle
type CallbackType string

const (
	// CallbackBeforeDispatch runs after a request was admitted. Callbacks may
	// rewrite CallbackContext.Prompt. Returning an error rejects the request:
	// the slot is released and the error text is sent as a failure notice.
	CallbackBeforeDispatch CallbackType = "before_dispatch"

	// CallbackAfterTerminal runs after a job reached a terminal state and its
	// slot was released. Errors are logged and otherwise ignored.
	CallbackAfterTerminal CallbackType = "after_terminal"

	// CallbackOnCorrelationMiss runs when an event is dropped because its
	// handle is not in the job table. Errors are logged and otherwise ignored.
	CallbackOnCorrelationMiss CallbackType = "on_correlation_miss"
)

// CallbackContext carries the information available at a lifecycle point.
type CallbackContext struct {
	// ID of the request. Zero for correlation misses without an ID.
	ID core.Identifier

	// Backend the request was routed to, if known.
	Backend string

	// Prompt is only set for CallbackBeforeDispatch and may be modified.
	Prompt *core.Prompt

	// Event is the lifecycle event being processed, if any.
	Event core.Event

	// CallbackType indicates which lifecycle point triggered this execution.
	CallbackType CallbackType
}

// Callback defines the interface for lifecycle hooks.
type Callback interface {
	// Type returns the callback type this implementation handles.
	Type() CallbackType

	// Execute performs the callback logic with the provided context.
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback wraps a function as a callback implementation.
//
// Example:
//
//	audit := NewFunctionCallback(
//	    CallbackAfterTerminal,
//	    func(ctx context.Context, cc *CallbackContext) error {
//	        log.Printf("job for %s done", cc.ID)
//	        return nil
//	    },
//	)
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a new function-based callback.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type returns the callback type this function handles.
func (c *FunctionCallback) Type() CallbackType {
	return c.callbackType
}

// Execute calls the wrapped function with the provided context.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager is a registry of callbacks keyed by type.
//
// Callbacks are executed in registration order, and the first error stops
// the chain. Registration may happen concurrently with execution.
type CallbackManager struct {
	callbacks map[CallbackType][]Callback
	mu        sync.RWMutex
}

// NewCallbackManager creates an empty callback manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
}

// RegisterCallback adds a callback to the manager for its type.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	callbackType := callback.Type()
	cm.callbacks[callbackType] = append(cm.callbacks[callbackType], callback)
}

// Extend appends the callbacks currently registered on other, keeping their
// order. Later registrations on other are not picked up.
func (cm *CallbackManager) Extend(other *CallbackManager) {
	other.mu.RLock()
	snapshot := make(map[CallbackType][]Callback, len(other.callbacks))
	for t, cbs := range other.callbacks {
		snapshot[t] = append([]Callback(nil), cbs...)
	}
	other.mu.RUnlock()

	cm.mu.Lock()
	defer cm.mu.Unlock()
	for t, cbs := range snapshot {
		cm.callbacks[t] = append(cm.callbacks[t], cbs...)
	}
}

// ExecuteCallbacks executes all registered callbacks for the specified type
// and returns the first error.
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	cm.mu.RLock()
	callbacks := cm.callbacks[callbackType]
	cm.mu.RUnlock()

	callbackCtx.CallbackType = callbackType
	for _, callback := range callbacks {
		if err := callback.Execute(ctx, callbackCtx); err != nil {
			return err
		}
	}

	return nil
}

// LoggingCallback forwards lifecycle points to a logging function.
type LoggingCallback struct {
	callbackType CallbackType
	logger       func(message string)
}

// NewLoggingCallback creates a new logging callback.
func NewLoggingCallback(callbackType CallbackType, logger func(message string)) *LoggingCallback {
	return &LoggingCallback{
		callbackType: callbackType,
		logger:       logger,
	}
}

// Type returns the callback type this logger handles.
func (c *LoggingCallback) Type() CallbackType {
	return c.callbackType
}

// Execute logs the lifecycle point with the request and event.
func (c *LoggingCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	if c.logger != nil {
		event := "none"
		if callbackCtx.Event != nil {
			event = core.EventName(callbackCtx.Event)
		}
		c.logger(fmt.Sprintf("[%s] %s backend=%s event=%s",
			c.callbackType, callbackCtx.ID, callbackCtx.Backend, event))
	}
	return nil
}

// PromptValidationCallback rejects prompts before they reach a backend.
//
// Rejections are user facing: the returned error text becomes the failure
// notice sent to the submitter.
type PromptValidationCallback struct {
	maxRunes int
}

// NewPromptValidationCallback rejects empty prompts and prompts longer than
// maxRunes. maxRunes <= 0 disables the length check.
func NewPromptValidationCallback(maxRunes int) *PromptValidationCallback {
	return &PromptValidationCallback{maxRunes: maxRunes}
}

// Type returns CallbackBeforeDispatch.
func (c *PromptValidationCallback) Type() CallbackType {
	return CallbackBeforeDispatch
}

// Execute validates the prompt.
func (c *PromptValidationCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	if callbackCtx.Prompt == nil {
		return nil
	}
	if callbackCtx.Prompt.Text == "" {
		return errors.New("Please add a prompt after the command")
	}
	if c.maxRunes > 0 && utf8.RuneCountInString(callbackCtx.Prompt.Text) > c.maxRunes {
		return fmt.Errorf("Your prompt is too long, the limit is %d characters", c.maxRunes)
	}
	return nil
}
