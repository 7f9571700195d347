package local

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recv waits briefly for one message; ok is false on timeout or close.
func recv(ch <-chan *LocalMessage) (*LocalMessage, bool) {
	select {
	case m, open := <-ch:
		return m, open
	case <-time.After(200 * time.Millisecond):
		return nil, false
	}
}

func TestPubSub_DeliversToChannelOnly(t *testing.T) {
	ps := NewPubSub(8)
	ctx := context.Background()

	notices, cancel, err := ps.Subscribe(ctx, "quest:p1")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, ps.Publish(ctx, "quest:p2", "not yours"))
	require.NoError(t, ps.Publish(ctx, "quest:p1", "objective_completed"))

	m, ok := recv(notices)
	require.True(t, ok)
	assert.Equal(t, "quest:p1", m.Channel)
	assert.Equal(t, "objective_completed", m.Payload)
	_, ok = recv(notices)
	assert.False(t, ok, "p2 notice leaked into p1")
}

func TestPubSub_FanOutAndMultiChannel(t *testing.T) {
	ps := NewPubSub(8)
	ctx := context.Background()

	a, cancelA, _ := ps.Subscribe(ctx, "quest:p1")
	b, cancelB, _ := ps.Subscribe(ctx, "quest:p1", "quest:all")
	defer cancelA()
	defer cancelB()

	require.NoError(t, ps.Publish(ctx, "quest:p1", "n1"))
	require.NoError(t, ps.Publish(ctx, "quest:all", "n2"))

	m, ok := recv(a)
	require.True(t, ok)
	assert.Equal(t, "n1", m.Payload)

	var got []string
	for i := 0; i < 2; i++ {
		m, ok := recv(b)
		require.True(t, ok)
		got = append(got, m.Payload)
	}
	assert.ElementsMatch(t, []string{"n1", "n2"}, got)
}

func TestPubSub_CancelClosesAndForgets(t *testing.T) {
	ps := NewPubSub(8)
	ctx := context.Background()

	ch, cancel, err := ps.Subscribe(ctx, "quest:p1")
	require.NoError(t, err)
	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	assert.Empty(t, ps.subscribers)
	assert.NoError(t, ps.Publish(ctx, "quest:p1", "nobody listens"))
}

func TestPubSub_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	ps := NewPubSub(1)
	ctx := context.Background()

	ch, cancel, _ := ps.Subscribe(ctx, "quest:p1")
	defer cancel()
	for i := 0; i < 5; i++ {
		require.NoError(t, ps.Publish(ctx, "quest:p1", "x"))
	}
	assert.Len(t, ch, 1)
}

func TestPubSub_CancelRacesPublish(t *testing.T) {
	ps := NewPubSub(1)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		_, cancel, _ := ps.Subscribe(ctx, "busy")
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = ps.Publish(ctx, "busy", "x")
			}
		}()
		go func() {
			defer wg.Done()
			cancel()
		}()
	}
	wg.Wait()
}
