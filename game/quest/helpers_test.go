package quest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func nop() *zap.Logger { return zap.NewNop() }

var day0 = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func buildCatalog(t *testing.T, templates ...*Template) *Catalog {
	t.Helper()
	c := NewCatalog(ResetPolicy{})
	for _, tpl := range templates {
		require.NoError(t, c.Register(tpl))
	}
	require.NoError(t, c.Validate())
	return c
}

func accept(t *testing.T, c *Catalog, st *PlayerState, id QuestID, now time.Time) *Progress {
	t.Helper()
	tpl, err := c.Resolve(id)
	require.NoError(t, err)
	pr := NewProgress(tpl, st.PlayerID, now)
	st.Quests[id] = pr
	return pr
}

func kill(mob string) Event { return Event{Type: EventKill, Target: mob} }
func collect(item string) Event { return Event{Type: EventCollect, Target: item} }
func talk(npc string) Event { return Event{Type: EventInteract, Target: npc} }

// fakeClock is a settable time source for the service.
type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }
func (c *fakeClock) Set(t time.Time) { c.t = t }
