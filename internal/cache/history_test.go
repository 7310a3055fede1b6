package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickcecere/ragchat/internal/model"
)

// fakeSource keeps messages in memory and counts loads.
type fakeSource struct {
	mu       sync.Mutex
	messages []model.Message
	loads    int
}

func (s *fakeSource) add(m model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
}

func (s *fakeSource) Recent(_ context.Context, conversationID int64, limit int, excludeID int64) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	var out []model.Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID && m.ID != excludeID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func setup(t *testing.T, capacity int) (*HistoryCache, *fakeSource, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	src := &fakeSource{}
	return NewHistoryCache(client, src, capacity, time.Minute), src, mr
}

func msg(id, conv int64, role, content string) model.Message {
	return model.Message{ID: id, ConversationID: conv, Role: role, Content: content}
}

func TestRecentLoadsOnceThenServesFromCache(t *testing.T) {
	c, src, mr := setup(t, 5)
	ctx := context.Background()

	src.add(msg(1, 7, model.RoleUser, "hi"))
	src.add(msg(2, 7, model.RoleAssistant, "hello"))

	got, err := c.Recent(ctx, 7, 4, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "hi", got[0].Content)
	assert.Equal(t, 1, src.loads)
	assert.True(t, mr.Exists(key(7)))

	got, err = c.Recent(ctx, 7, 4, 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 1, src.loads)
}

func TestAppendAndExclude(t *testing.T) {
	c, src, _ := setup(t, 3)
	ctx := context.Background()

	src.add(msg(1, 7, model.RoleUser, "one"))
	src.add(msg(2, 7, model.RoleAssistant, "two"))
	_, err := c.Recent(ctx, 7, 2, 0)
	require.NoError(t, err)

	c.Append(ctx, msg(3, 7, model.RoleUser, "three"))
	c.Append(ctx, msg(4, 7, model.RoleAssistant, "four"))

	got, err := c.Recent(ctx, 7, 2, 4)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []int64{2, 3}, []int64{got[0].ID, got[1].ID})
	assert.Equal(t, 1, src.loads)
}

func TestAppendToUncachedConversationIsDropped(t *testing.T) {
	c, src, mr := setup(t, 3)
	ctx := context.Background()

	c.Append(ctx, msg(1, 9, model.RoleUser, "lost"))
	assert.False(t, mr.Exists(key(9)))

	src.add(msg(1, 9, model.RoleUser, "lost"))
	got, err := c.Recent(ctx, 9, 2, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, src.loads)
}

func TestLargeRequestsBypassCache(t *testing.T) {
	c, src, mr := setup(t, 3)

	_, err := c.Recent(context.Background(), 7, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, src.loads)
	assert.False(t, mr.Exists(key(7)))
}

func TestExpiryAndInvalidate(t *testing.T) {
	c, src, mr := setup(t, 5)
	ctx := context.Background()
	src.add(msg(1, 7, model.RoleUser, "hi"))

	_, err := c.Recent(ctx, 7, 2, 0)
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists(key(7)))

	_, err = c.Recent(ctx, 7, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, src.loads)

	c.Invalidate(ctx, 7)
	assert.False(t, mr.Exists(key(7)))
}

func TestRedisDownFallsBack(t *testing.T) {
	c, src, mr := setup(t, 5)
	src.add(msg(1, 7, model.RoleUser, "hi"))
	mr.Close()

	got, err := c.Recent(context.Background(), 7, 2, 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
