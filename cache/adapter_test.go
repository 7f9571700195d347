package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCache_LocalByDefault(t *testing.T) {
	c, err := NewCache(CacheConfig{})
	require.NoError(t, err)

	_, err = c.Get(context.Background(), "missing")
	assert.True(t, IsNotFound(err))
	assert.False(t, IsNotFound(nil))
}

func TestNewPubSub_LocalRoundTrip(t *testing.T) {
	ps, err := NewPubSub(CacheConfig{})
	require.NoError(t, err)
	ctx := context.Background()

	ch, cancel, err := ps.Subscribe(ctx, "quest:p1")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, ps.Publish(ctx, "quest:p1", `{"kind":"quest_completed"}`))
	select {
	case msg := <-ch:
		assert.Equal(t, "quest:p1", msg.Channel)
		assert.JSONEq(t, `{"kind":"quest_completed"}`, msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("no message")
	}
}

func TestNewPubSub_CancelClosesChannel(t *testing.T) {
	ps, err := NewPubSub(CacheConfig{})
	require.NoError(t, err)

	ch, cancel, err := ps.Subscribe(context.Background(), "quest:p2")
	require.NoError(t, err)
	cancel()
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}
