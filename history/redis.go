package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/genrelay/core"
)

// RedisOptions configure a RedisStore.
type RedisOptions struct {
	// Prefix namespaces the list keys.
	Prefix string
	// MaxEntries caps each conversation list.
	MaxEntries int
	// TTL expires idle conversation lists. Zero keeps them forever.
	TTL time.Duration
}

// RedisStore keeps one capped list per conversation, newest entry first.
type RedisStore struct {
	client redis.UniversalClient
	opts   RedisOptions
}

var _ core.HistoryStore = (*RedisStore)(nil)

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, optFns ...func(o *RedisOptions)) *RedisStore {
	opts := RedisOptions{
		Prefix:     "genrelay:history:",
		MaxEntries: DefaultMaxEntries,
		TTL:        30 * 24 * time.Hour,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	return &RedisStore{client: client, opts: opts}
}

func (s *RedisStore) key(conversationID int64) string {
	return fmt.Sprintf("%s%d", s.opts.Prefix, conversationID)
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return &core.TransportError{Op: "redis ping", Err: err}
	}
	return nil
}

// Append pushes the entry and trims the list to MaxEntries.
func (s *RedisStore) Append(ctx context.Context, entry core.HistoryEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}

	key := s.key(entry.ID.ConversationID)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, raw)
	pipe.LTrim(ctx, key, 0, int64(s.opts.MaxEntries-1))
	if s.opts.TTL > 0 {
		pipe.Expire(ctx, key, s.opts.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return &core.TransportError{Op: "redis append " + key, Err: err}
	}
	return nil
}

// Recent returns up to limit of the newest entries, oldest first.
func (s *RedisStore) Recent(ctx context.Context, conversationID int64, limit int) ([]core.HistoryEntry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	key := s.key(conversationID)
	raws, err := s.client.LRange(ctx, key, 0, stop).Result()
	if errors.Is(err, redis.Nil) {
		return []core.HistoryEntry{}, nil
	}
	if err != nil {
		return nil, &core.TransportError{Op: "redis range " + key, Err: err}
	}

	out := make([]core.HistoryEntry, 0, len(raws))
	for i := len(raws) - 1; i >= 0; i-- {
		var entry core.HistoryEntry
		if err := json.Unmarshal([]byte(raws[i]), &entry); err != nil {
			return nil, &core.DecodeError{What: "history entry", Err: err}
		}
		out = append(out, entry)
	}
	return out, nil
}
