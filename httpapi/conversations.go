package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hupe1980/genrelay/artifact"
	"github.com/hupe1980/genrelay/core"
)

// defaultHistoryLimit applies when the limit query parameter is absent.
const defaultHistoryLimit = 50

// HistoryResponse is the body of GET /v1/conversations/{id}/history.
type HistoryResponse struct {
	ConversationID int64               `json:"conversation_id"`
	Entries        []core.HistoryEntry `json:"entries"`
}

// ArtifactsResponse is the body of GET /v1/conversations/{id}/artifacts.
type ArtifactsResponse struct {
	ConversationID int64    `json:"conversation_id"`
	Artifacts      []string `json:"artifacts"`
}

func conversationID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "conversationID"), 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid conversation id")
		return 0, false
	}
	return id, true
}

func (h *handler) history(w http.ResponseWriter, r *http.Request) {
	conv, ok := conversationID(w, r)
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := h.opts.History.Recent(r.Context(), conv, limit)
	if err != nil {
		h.opts.Logger.Error("Failed to read history", "conversation", conv, "error", err)
		writeError(w, r, http.StatusInternalServerError, "history unavailable")
		return
	}
	if entries == nil {
		entries = []core.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{ConversationID: conv, Entries: entries})
}

func (h *handler) listArtifacts(w http.ResponseWriter, r *http.Request) {
	conv, ok := conversationID(w, r)
	if !ok {
		return
	}

	ids, err := h.opts.Artifacts.List(conv)
	if err != nil {
		h.opts.Logger.Error("Failed to list artifacts", "conversation", conv, "error", err)
		writeError(w, r, http.StatusInternalServerError, "artifacts unavailable")
		return
	}
	writeJSON(w, http.StatusOK, ArtifactsResponse{ConversationID: conv, Artifacts: ids})
}

func (h *handler) getArtifact(w http.ResponseWriter, r *http.Request) {
	conv, ok := conversationID(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "artifactID")

	data, err := h.opts.Artifacts.Get(conv, id)
	if errors.Is(err, artifact.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "artifact not found")
		return
	}
	if err != nil {
		h.opts.Logger.Error("Failed to read artifact", "conversation", conv, "artifact", id, "error", err)
		writeError(w, r, http.StatusInternalServerError, "artifacts unavailable")
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
