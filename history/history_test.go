package history

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/genrelay/core"
)

func entry(conv, msg int64, text string) core.HistoryEntry {
	return core.HistoryEntry{
		ID:        core.Identifier{ConversationID: conv, SubmitterID: 1, MessageID: msg},
		Kind:      "text",
		Text:      text,
		Delivered: true,
		Timestamp: time.Unix(1700000000+msg, 0).UTC(),
	}
}

func TestInMemoryStore_CapAndOrder(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore(3)

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, s.Append(ctx, entry(1, i, "m")))
	}
	require.NoError(t, s.Append(ctx, entry(2, 1, "other")))

	got, err := s.Recent(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.EqualValues(t, 3, got[0].ID.MessageID)
	assert.EqualValues(t, 5, got[2].ID.MessageID)

	got, err = s.Recent(ctx, 1, 2)
	require.NoError(t, err)
	assert.EqualValues(t, []int64{4, 5}, []int64{got[0].ID.MessageID, got[1].ID.MessageID})

	got, err = s.Recent(ctx, 99, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestInMemoryStore_RecentIsACopy(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore(0)
	require.NoError(t, s.Append(ctx, entry(1, 1, "original")))

	got, err := s.Recent(ctx, 1, 0)
	require.NoError(t, err)
	got[0].Text = "mutated"

	again, err := s.Recent(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, "original", again[0].Text)
}

func TestRedisStore_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 200 * time.Millisecond,
	})
	defer client.Close()

	s := NewRedisStore(client)

	err := s.Append(context.Background(), entry(1, 1, "x"))
	var te *core.TransportError
	assert.True(t, errors.As(err, &te))

	_, err = s.Recent(context.Background(), 1, 5)
	assert.True(t, errors.As(err, &te))
}

// TestRedisStore_Live runs against a real server when REDIS_ADDR is set.
func TestRedisStore_Live(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	s := NewRedisStore(client, func(o *RedisOptions) {
		o.Prefix = "genrelay:test:" + uuid.NewString() + ":"
		o.MaxEntries = 2
		o.TTL = time.Minute
	})
	require.NoError(t, s.Ping(ctx))

	want := []core.HistoryEntry{entry(7, 2, "b"), entry(7, 3, "c")}
	require.NoError(t, s.Append(ctx, entry(7, 1, "a")))
	for _, e := range want {
		require.NoError(t, s.Append(ctx, e))
	}

	got, err := s.Recent(ctx, 7, 0)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Recent mismatch (-want +got):\n%s", diff)
	}
}
