package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hupe1980/genrelay/core"
	"github.com/hupe1980/genrelay/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ model.Model = NewModel("http://localhost:11434")

func reply(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      "chatcmpl-9",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "phi3",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
		"usage": map[string]any{"prompt_tokens": 4, "completion_tokens": 3, "total_tokens": 7},
	})
}

func TestModel_Generate(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer ollama", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		reply(w, " Rayleigh scattering. ")
	}))
	defer srv.Close()

	m := NewModel(srv.URL + "/")

	resp, err := m.Generate(context.Background(), model.Request{Prompt: "why is the sky blue?"})
	require.NoError(t, err)
	assert.Equal(t, "Rayleigh scattering.", resp.Text)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 7, resp.Usage.TotalTokens)

	assert.Equal(t, "phi3", body["model"])
	assert.Equal(t, model.Info{Name: "phi3", Provider: "ollama"}, m.Info())
}

func TestModel_Generate_CustomModel(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		reply(w, "ok")
	}))
	defer srv.Close()

	m := NewModel(srv.URL, func(o *Options) { o.Model = "llama3" })

	_, err := m.Generate(context.Background(), model.Request{System: "be brief", Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "llama3", body["model"])
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 2)
}

func TestModel_Generate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, `{"error":{"message":"model not loaded"}}`, http.StatusInternalServerError)
			},
			check: func(t *testing.T, err error) {
				var te *core.TransportError
				assert.True(t, errors.As(err, &te))
			},
		},
		{
			name: "no choices",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[]}`))
			},
			check: func(t *testing.T, err error) {
				var de *core.DecodeError
				assert.True(t, errors.As(err, &de))
			},
		},
		{
			name: "empty answer",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				reply(w, "   ")
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, model.ErrEmptyResponse)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewModel(srv.URL).Generate(context.Background(), model.Request{Prompt: "x"})
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestModel_Generate_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewModel(url).Generate(context.Background(), model.Request{Prompt: "x"})
	var te *core.TransportError
	assert.True(t, errors.As(err, &te))
}
