// Package ollama implements model.Model against an Ollama server through its
// OpenAI-compatible /v1 endpoint.
package ollama

import (
	"net/http"
	"strings"
	"time"

	"github.com/hupe1980/genrelay/model/openai"
)

// Options configure the Ollama adapter.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	HTTPClient          *http.Client
}

// NewModel creates a model for the server at baseURL, e.g.
// "http://ollama:11434".
func NewModel(baseURL string, optFns ...func(o *Options)) *openai.Model {
	opts := Options{
		Model:               "phi3",
		Temperature:         0.7,
		MaxCompletionTokens: 1024,
		HTTPClient:          &http.Client{Timeout: 5 * time.Minute},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return openai.NewModel(func(o *openai.Options) {
		o.BaseURL = strings.TrimRight(baseURL, "/") + "/v1/"
		// Ollama ignores the key but the client requires one.
		o.APIKey = "ollama"
		o.Provider = "ollama"
		o.Model = opts.Model
		o.Temperature = opts.Temperature
		o.MaxCompletionTokens = opts.MaxCompletionTokens
		o.HTTPClient = opts.HTTPClient
	})
}
