// Package httpapi exposes the relay over HTTP: a submission endpoint for
// non-chat clients, read access to conversation history and generated
// artifacts, plus health and metrics endpoints for operators.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hupe1980/genrelay/core"
	"github.com/hupe1980/genrelay/engine"
	"github.com/hupe1980/genrelay/logging"
)

// maxBodyBytes bounds a submission body.
const maxBodyBytes = 64 << 10

// Relay is what the API needs from the dispatcher.
type Relay interface {
	Submit(id core.Identifier, backend, prompt string)
	Stats(ctx context.Context) (engine.Stats, error)
}

// Options configure the router.
type Options struct {
	// Metrics serves GET /metrics when set.
	Metrics http.Handler

	// StatsTimeout bounds the health probe's round trip to the loop.
	StatsTimeout time.Duration

	// History serves GET /v1/conversations/{id}/history when set.
	History core.HistoryStore

	// Artifacts serves GET /v1/conversations/{id}/artifacts when set.
	Artifacts core.ArtifactStore

	Logger logging.Logger
}

// SubmitRequest is the body of POST /v1/requests.
type SubmitRequest struct {
	ConversationID int64  `json:"conversation_id"`
	SubmitterID    int64  `json:"submitter_id"`
	MessageID      int64  `json:"message_id"`
	Backend        string `json:"backend"`
	Prompt         string `json:"prompt"`
}

// SubmitResponse acknowledges an accepted submission.
type SubmitResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status string        `json:"status"`
	Stats  *engine.Stats `json:"stats,omitempty"`
	Error  string        `json:"error,omitempty"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type handler struct {
	relay Relay
	opts  Options
}

// NewRouter builds the chi router.
func NewRouter(relay Relay, optFns ...func(o *Options)) http.Handler {
	opts := Options{
		StatsTimeout: 2 * time.Second,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	h := &handler{relay: relay, opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(opts.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.healthz)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	r.Route("/v1", func(r chi.Router) {
		r.Post("/requests", h.submit)
		if opts.History != nil {
			r.Get("/conversations/{conversationID}/history", h.history)
		}
		if opts.Artifacts != nil {
			r.Get("/conversations/{conversationID}/artifacts", h.listArtifacts)
			r.Get("/conversations/{conversationID}/artifacts/{artifactID}", h.getArtifact)
		}
	})

	return r
}

// NewServer wraps handler in an http.Server with conservative timeouts.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}

func (h *handler) submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	req.Backend = strings.TrimSpace(req.Backend)
	switch {
	case req.Backend == "":
		writeError(w, r, http.StatusBadRequest, "backend is required")
		return
	case req.ConversationID == 0 || req.SubmitterID == 0:
		writeError(w, r, http.StatusBadRequest, "conversation_id and submitter_id are required")
		return
	}

	id := core.Identifier{
		ConversationID: req.ConversationID,
		SubmitterID:    req.SubmitterID,
		MessageID:      req.MessageID,
	}
	h.relay.Submit(id, req.Backend, req.Prompt)

	h.opts.Logger.Debug("Request submitted over HTTP",
		"id", id.String(),
		"backend", req.Backend,
		"request_id", middleware.GetReqID(r.Context()),
	)
	writeJSON(w, http.StatusAccepted, SubmitResponse{ID: id.String(), Status: "accepted"})
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.opts.StatsTimeout)
	defer cancel()

	stats, err := h.relay.Stats(ctx)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "correlation loop not responding"
		}
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Error: msg})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Stats: &stats})
}

func requestLogger(l logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			l.Debug("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, RequestID: middleware.GetReqID(r.Context())})
}
