package queststore

import (
	"context"
	"testing"
	"time"

	"github.com/kasuganosora/questforge/server/game/quest"
	"github.com/kasuganosora/questforge/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func nop() *zap.Logger { return zap.NewNop() }

func sampleState(playerID string) *quest.PlayerState {
	tpl := &quest.Template{
		ID:         "supplies",
		Objectives: []quest.Objective{quest.KillMob("zombies", "zombie", 5)},
	}
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	st := quest.NewPlayerState(playerID)
	pr := quest.NewProgress(tpl, playerID, now)
	pr.Objectives["zombies"].Current = 3
	st.Quests[tpl.ID] = pr
	return st
}

func TestGormStore_LoadMissingReturnsEmpty(t *testing.T) {
	s := NewGormStore(testutil.SetupTestDB(t), nop())
	st, err := s.Load(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, "nobody", st.PlayerID)
	assert.Empty(t, st.Quests)
	assert.Zero(t, st.Version)
}

func TestGormStore_SaveLoadRoundTrip(t *testing.T) {
	s := NewGormStore(testutil.SetupTestDB(t), nop())
	ctx := context.Background()

	st := sampleState("p1")
	require.NoError(t, s.Save(ctx, st))
	assert.Equal(t, int64(1), st.Version)

	got, err := s.Load(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	require.Contains(t, got.Quests, quest.QuestID("supplies"))
	assert.Equal(t, 3, got.Quests["supplies"].Objectives["zombies"].Current)
	assert.Equal(t, st.Quests["supplies"].InstanceID, got.Quests["supplies"].InstanceID)

	got.Quests["supplies"].Objectives["zombies"].Current = 4
	require.NoError(t, s.Save(ctx, got))
	assert.Equal(t, int64(2), got.Version)

	again, err := s.Load(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 4, again.Quests["supplies"].Objectives["zombies"].Current)
}

func TestGormStore_VersionConflict(t *testing.T) {
	s := NewGormStore(testutil.SetupTestDB(t), nop())
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, sampleState("p1")))

	a, err := s.Load(ctx, "p1")
	require.NoError(t, err)
	b, err := s.Load(ctx, "p1")
	require.NoError(t, err)

	require.NoError(t, s.Save(ctx, a))
	err = s.Save(ctx, b)
	assert.ErrorIs(t, err, quest.ErrVersionConflict)
	assert.Equal(t, int64(1), b.Version, "failed save leaves the version untouched")
}

func TestGormStore_ConcurrentFirstSave(t *testing.T) {
	s := NewGormStore(testutil.SetupTestDB(t), nop())
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleState("p1")))
	assert.ErrorIs(t, s.Save(ctx, sampleState("p1")), quest.ErrVersionConflict)
}

func TestGormStore_PlayersWithOutbox(t *testing.T) {
	s := NewGormStore(testutil.SetupTestDB(t), nop())
	ctx := context.Background()

	withOutbox := sampleState("p1")
	withOutbox.Outbox = []quest.Notice{{Kind: quest.NoticeQuestCompleted, PlayerID: "p1", QuestID: "supplies", InstanceID: "i1"}}
	require.NoError(t, s.Save(ctx, withOutbox))
	require.NoError(t, s.Save(ctx, sampleState("p2")))

	ids, err := s.PlayersWithOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, ids)
}

func TestCacheStore_ReadThroughAndWriteThrough(t *testing.T) {
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	backing := NewGormStore(db, nop())
	s, err := NewCacheStore(backing, c, time.Minute, nop())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleState("p1")))

	raw, err := c.Get(ctx, stateKey("p1"))
	require.NoError(t, err)
	assert.NotContains(t, raw, "supplies", "cached blob is compressed")

	got, err := s.Load(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, 3, got.Quests["supplies"].Objectives["zombies"].Current)

	// drop the cached copy; Load must fall back to the database and refill
	require.NoError(t, c.Del(ctx, stateKey("p1")))
	got, err = s.Load(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	ok, _ := c.Exists(ctx, stateKey("p1"))
	assert.True(t, ok)
}

func TestCacheStore_CorruptEntryFallsBack(t *testing.T) {
	c, _ := testutil.SetupTestCache(t)
	mem := quest.NewMemoryStore()
	require.NoError(t, mem.Save(context.Background(), sampleState("p1")))

	s, err := NewCacheStore(mem, c, time.Minute, nop())
	require.NoError(t, err)
	require.NoError(t, c.Set(context.Background(), stateKey("p1"), "not-base64!!", 0))

	got, err := s.Load(context.Background(), "p1")
	require.NoError(t, err)
	assert.Contains(t, got.Quests, quest.QuestID("supplies"))
}

func TestCacheStore_ConflictInvalidates(t *testing.T) {
	c, _ := testutil.SetupTestCache(t)
	mem := quest.NewMemoryStore()
	ctx := context.Background()
	s, err := NewCacheStore(mem, c, time.Minute, nop())
	require.NoError(t, err)

	require.NoError(t, s.Save(ctx, sampleState("p1")))
	stale := sampleState("p1") // version 0, store is at 1
	assert.ErrorIs(t, s.Save(ctx, stale), quest.ErrVersionConflict)

	ok, _ := c.Exists(ctx, stateKey("p1"))
	assert.False(t, ok)
}

func TestCacheStore_BacksService(t *testing.T) {
	c, _ := testutil.SetupTestCache(t)
	s, err := NewCacheStore(NewGormStore(testutil.SetupTestDB(t), nop()), c, time.Minute, nop())
	require.NoError(t, err)

	catalog := quest.NewCatalog(quest.ResetPolicy{})
	require.NoError(t, catalog.Register(&quest.Template{
		ID:         "supplies",
		Objectives: []quest.Objective{quest.KillMob("zombies", "zombie", 2)},
	}))
	require.NoError(t, catalog.Validate())

	svc := quest.NewService(catalog, s, lockAll{}, nop())
	ctx := context.Background()
	_, err = svc.AcceptQuest(ctx, quest.Player{ID: "p1"}, "supplies")
	require.NoError(t, err)
	_, err = svc.Apply(ctx, "p1", quest.Event{Type: quest.EventKill, Target: "zombie", Quantity: 2})
	require.NoError(t, err)

	done, err := svc.CompletedQuests(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, done, 1)
}

type lockAll struct{}

func (lockAll) Lock(string) func() { return func() {} }
