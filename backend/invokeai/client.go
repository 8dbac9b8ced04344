package invokeai

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/hupe1980/genrelay/core"
)

// DefaultGraph is the text-to-image batch sent when no template is
// configured.
//
//go:embed graph.json
var DefaultGraph []byte

// Template paths patched on every enqueue.
const (
	PromptPath = "batch.graph.nodes.positive_conditioning.prompt"
	SeedPath   = "batch.graph.nodes.noise.seed"
)

// maxErrorBody caps how much of an error response ends up in logs.
const maxErrorBody = 512

// client wraps the request/response half of the InvokeAI API.
type client struct {
	baseURL  string
	queueID  string
	http     *http.Client
	template []byte
}

// buildBatch injects prompt and seed into the template.
func (c *client) buildBatch(prompt string, seed int64) ([]byte, error) {
	body, err := sjson.SetBytes(c.template, PromptPath, prompt)
	if err != nil {
		return nil, fmt.Errorf("set prompt: %w", err)
	}
	body, err = sjson.SetBytes(body, SeedPath, seed)
	if err != nil {
		return nil, fmt.Errorf("set seed: %w", err)
	}
	return body, nil
}

// enqueue posts a batch and returns the batch id assigned by the server.
func (c *client) enqueue(ctx context.Context, body []byte) (core.JobHandle, error) {
	path := "/api/v1/queue/" + url.PathEscape(c.queueID) + "/enqueue_batch"
	op := "POST " + path

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", &core.TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	raw, err := c.do(req, op)
	if err != nil {
		return "", err
	}

	if !gjson.ValidBytes(raw) {
		return "", &core.DecodeError{What: "enqueue response", Err: errors.New("invalid JSON")}
	}
	id := gjson.GetBytes(raw, "batch.batch_id")
	if id.Type != gjson.String || id.Str == "" {
		return "", &core.DecodeError{What: "enqueue response", Err: errors.New("missing batch.batch_id")}
	}
	return core.JobHandle(id.Str), nil
}

// fetch downloads the full-size image called name.
func (c *client) fetch(ctx context.Context, name string) ([]byte, error) {
	op := "GET image " + name

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/images/i/"+url.PathEscape(name)+"/full", nil)
	if err != nil {
		return nil, &core.TransportError{Op: op, Err: err}
	}
	return c.do(req, op)
}

func (c *client) do(req *http.Request, op string) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &core.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &core.TransportError{Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(raw) > maxErrorBody {
			raw = raw[:maxErrorBody]
		}
		return nil, &core.TransportError{Op: op, Err: fmt.Errorf("status %d: %s", resp.StatusCode, raw)}
	}
	return raw, nil
}
