package player

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func nop() *zap.Logger { return zap.NewNop() }

func TestLocks_SerialisesSamePlayer(t *testing.T) {
	locks := NewLocks(nop())

	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("p1")
			defer unlock()
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, locks.Len())
}

func TestLocks_DifferentPlayersDoNotBlock(t *testing.T) {
	locks := NewLocks(nop())
	unlockA := locks.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := locks.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
}

func TestLocks_EntryRemovedAfterRelease(t *testing.T) {
	locks := NewLocks(nop())
	unlock := locks.Lock("p1")
	assert.True(t, locks.Held("p1"))
	assert.Equal(t, 1, locks.Len())

	unlock()
	unlock() // second call is a no-op
	assert.False(t, locks.Held("p1"))
	assert.Equal(t, 0, locks.Len())
}
