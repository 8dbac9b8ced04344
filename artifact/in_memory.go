package artifact

import "sync"

// DefaultMaxPerConversation bounds how many assets are kept per conversation.
const DefaultMaxPerConversation = 32

// Options configure an InMemoryStore.
type Options struct {
	// MaxPerConversation evicts the oldest artifact of a conversation once
	// exceeded. Zero or negative keeps everything.
	MaxPerConversation int
}

type bucket struct {
	data  map[string][]byte
	order []string // insertion order, oldest first
}

// InMemoryStore is an in-process ArtifactStore. It keeps artifacts in a
// nested map guarded by an RWMutex and copies data on save and retrieval.
//
// Layout: conversationID -> artifactID -> raw bytes
type InMemoryStore struct {
	mu        sync.RWMutex
	artifacts map[int64]*bucket
	max       int
}

// NewInMemoryStore returns an empty in-memory artifact store.
func NewInMemoryStore(optFns ...func(o *Options)) *InMemoryStore {
	opts := Options{MaxPerConversation: DefaultMaxPerConversation}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &InMemoryStore{artifacts: make(map[int64]*bucket), max: opts.MaxPerConversation}
}

// Save stores (or overwrites) the artifact bytes. The input slice is copied.
func (a *InMemoryStore) Save(conversationID int64, artifactID string, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.artifacts[conversationID]
	if !ok {
		b = &bucket{data: make(map[string][]byte)}
		a.artifacts[conversationID] = b
	}

	cp := make([]byte, len(data))
	copy(cp, data)

	if _, exists := b.data[artifactID]; !exists {
		b.order = append(b.order, artifactID)
	}
	b.data[artifactID] = cp

	for a.max > 0 && len(b.order) > a.max {
		oldest := b.order[0]
		b.order = b.order[1:]
		delete(b.data, oldest)
	}
	return nil
}

// Get returns a copy of the stored artifact bytes or ErrNotFound.
func (a *InMemoryStore) Get(conversationID int64, artifactID string) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	b, ok := a.artifacts[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	data, ok := b.data[artifactID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// List returns the artifact ids of a conversation, oldest first.
func (a *InMemoryStore) List(conversationID int64) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	b, ok := a.artifacts[conversationID]
	if !ok {
		return []string{}, nil
	}
	ids := make([]string, len(b.order))
	copy(ids, b.order)
	return ids, nil
}

// Delete removes the artifact if present or returns ErrNotFound.
func (a *InMemoryStore) Delete(conversationID int64, artifactID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.artifacts[conversationID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := b.data[artifactID]; !ok {
		return ErrNotFound
	}
	delete(b.data, artifactID)
	for i, id := range b.order {
		if id == artifactID {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	if len(b.order) == 0 {
		delete(a.artifacts, conversationID)
	}
	return nil
}
