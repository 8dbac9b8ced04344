// Package openai provides an implementation of model.Model using the OpenAI
// Chat Completions API. Pointed at a custom base URL it serves any
// OpenAI-compatible server such as LocalAI.
package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/hupe1980/genrelay/core"
	"github.com/hupe1980/genrelay/model"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// chatMarkers are template tokens some local servers leak into the answer.
var chatMarkers = []string{"<|assistant|>", "<|end|>"}

// Options configure the OpenAI model adapter.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	// BaseURL overrides the API endpoint, e.g. "http://localai:8080/v1/".
	BaseURL string
	APIKey  string
	// Provider is reported by Info. Defaults to "openai".
	Provider   string
	HTTPClient *http.Client
}

// Model wraps the Chat Completions API behind the generic model.Model interface.
type Model struct {
	client *openai.Client
	opts   Options
}

// NewModel creates a new model using the official client. SDK retries are
// disabled: a text backend performs exactly one call per request.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	clientOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	client := openai.NewClient(clientOpts...)
	return &Model{client: &client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:               "llama",
		Temperature:         0.7,
		MaxCompletionTokens: 1024,
		APIKey:              "local",
		Provider:            "openai",
	}
}

// Generate implements model.Model with a single non-streaming completion.
func (m *Model) Generate(ctx context.Context, req model.Request) (model.Response, error) {
	resp, err := m.client.Chat.Completions.New(ctx, m.buildParams(req))
	if err != nil {
		return model.Response{}, &core.TransportError{Op: "POST chat/completions", Err: err}
	}
	if len(resp.Choices) == 0 {
		return model.Response{}, &core.DecodeError{What: "chat completion", Err: errors.New("no choices returned")}
	}

	ch0 := resp.Choices[0]
	text := strings.TrimSpace(StripMarkers(ch0.Message.Content))
	if text == "" {
		return model.Response{}, model.ErrEmptyResponse
	}

	return model.Response{
		Text:         text,
		FinishReason: ch0.FinishReason,
		Usage: &model.TokenUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

func (m *Model) buildParams(req model.Request) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	return openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               m.opts.Model,
		Temperature:         openai.Float(m.opts.Temperature),
		MaxCompletionTokens: openai.Int(m.opts.MaxCompletionTokens),
	}
}

// StripMarkers removes chat template markers from a completion.
func StripMarkers(s string) string {
	for _, marker := range chatMarkers {
		s = strings.ReplaceAll(s, marker, "")
	}
	return s
}

// Info returns metadata describing this model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:     m.opts.Model,
		Provider: m.opts.Provider,
	}
}
