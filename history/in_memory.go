package history

import (
	"context"
	"sync"

	"github.com/hupe1980/genrelay/core"
)

// DefaultMaxEntries is the per-conversation cap used by both stores. Chat
// messages recorded for summaries share it with delivered outcomes.
const DefaultMaxEntries = 500

// InMemoryStore is a volatile HistoryStore keeping a capped slice per
// conversation. It is safe for concurrent access.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[int64][]core.HistoryEntry
	max     int
}

var _ core.HistoryStore = (*InMemoryStore)(nil)

// NewInMemoryStore constructs an empty store keeping at most max entries per
// conversation. max <= 0 uses DefaultMaxEntries.
func NewInMemoryStore(max int) *InMemoryStore {
	if max <= 0 {
		max = DefaultMaxEntries
	}
	return &InMemoryStore{entries: make(map[int64][]core.HistoryEntry), max: max}
}

// Append records an entry, dropping the oldest once the cap is exceeded.
func (s *InMemoryStore) Append(_ context.Context, entry core.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := entry.ID.ConversationID
	list := append(s.entries[conv], entry)
	if len(list) > s.max {
		list = append([]core.HistoryEntry(nil), list[len(list)-s.max:]...)
	}
	s.entries[conv] = list
	return nil
}

// Recent returns up to limit of the newest entries, oldest first. limit <= 0
// returns everything kept.
func (s *InMemoryStore) Recent(_ context.Context, conversationID int64, limit int) ([]core.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.entries[conversationID]
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	out := make([]core.HistoryEntry, len(list))
	copy(out, list)
	return out, nil
}
