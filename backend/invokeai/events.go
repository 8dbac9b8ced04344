package invokeai

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/hupe1980/genrelay/core"
)

// Socket.IO event names the adapter understands.
const (
	EventInvocationComplete = "invocation_complete"
	EventInvocationError    = "invocation_error"
)

// invocationComplete is a job-update notification.
type invocationComplete struct {
	Handle       core.JobHandle
	Intermediate bool
	ImageName    string
}

// invocationError is a job-error notification. Handle is empty when the
// server did not say which batch failed.
type invocationError struct {
	Handle     core.JobHandle
	SourceNode string
	ErrorType  string
	Message    string
}

// splitEvent decodes the body of a socket.io EVENT packet (everything after
// the "42" prefix) into its name and first argument.
func splitEvent(body string) (string, gjson.Result, error) {
	// Optional namespace ("/ns,") and ack id precede the array.
	if strings.HasPrefix(body, "/") {
		if i := strings.IndexByte(body, ','); i >= 0 {
			body = body[i+1:]
		}
	}
	body = strings.TrimLeft(body, "0123456789")

	if !gjson.Valid(body) {
		return "", gjson.Result{}, &core.DecodeError{What: "socket.io event", Err: errors.New("invalid JSON")}
	}
	arr := gjson.Parse(body)
	if !arr.IsArray() {
		return "", gjson.Result{}, &core.DecodeError{What: "socket.io event", Err: errors.New("not an array")}
	}
	name := arr.Get("0")
	if name.Type != gjson.String {
		return "", gjson.Result{}, &core.DecodeError{What: "socket.io event", Err: errors.New("missing event name")}
	}
	return name.Str, arr.Get("1"), nil
}

func decodeComplete(data gjson.Result) (invocationComplete, error) {
	batch := data.Get("queue_batch_id")
	if batch.Type != gjson.String || batch.Str == "" {
		return invocationComplete{}, &core.DecodeError{What: EventInvocationComplete, Err: errors.New("missing queue_batch_id")}
	}
	intermediate := data.Get("node.is_intermediate")
	if !intermediate.IsBool() {
		return invocationComplete{}, &core.DecodeError{What: EventInvocationComplete, Err: errors.New("missing node.is_intermediate")}
	}
	return invocationComplete{
		Handle:       core.JobHandle(batch.Str),
		Intermediate: intermediate.Bool(),
		ImageName:    data.Get("result.image.image_name").String(),
	}, nil
}

func decodeError(data gjson.Result) (invocationError, error) {
	msg := data.Get("error")
	if !msg.Exists() {
		return invocationError{}, &core.DecodeError{What: EventInvocationError, Err: errors.New("missing error")}
	}
	return invocationError{
		Handle:     core.JobHandle(data.Get("queue_batch_id").String()),
		SourceNode: data.Get("source_node_id").String(),
		ErrorType:  data.Get("error_type").String(),
		Message:    msg.String(),
	}, nil
}

// reason renders the error for the Failed event.
func (e invocationError) reason() string {
	switch {
	case e.ErrorType != "" && e.SourceNode != "":
		return fmt.Sprintf("%s in node %s: %s", e.ErrorType, e.SourceNode, e.Message)
	case e.ErrorType != "":
		return fmt.Sprintf("%s: %s", e.ErrorType, e.Message)
	default:
		return e.Message
	}
}

// translate maps one inbound socket.io event to a lifecycle event. It
// returns nil when the event carries nothing the loop needs.
func translate(name string, data gjson.Result) (core.Event, *invocationError, error) {
	switch name {
	case EventInvocationComplete:
		c, err := decodeComplete(data)
		if err != nil {
			return nil, nil, err
		}
		if c.Intermediate {
			return core.Progress{Handle: c.Handle}, nil, nil
		}
		if c.ImageName == "" {
			return nil, nil, nil
		}
		return core.Finished{Handle: c.Handle, Result: core.RemoteAsset{Path: c.ImageName}}, nil, nil
	case EventInvocationError:
		ie, err := decodeError(data)
		if err != nil {
			return nil, nil, err
		}
		if ie.Handle == "" {
			return nil, &ie, nil
		}
		return core.Failed{Handle: ie.Handle, Reason: ie.reason()}, &ie, nil
	default:
		return nil, nil, nil
	}
}
