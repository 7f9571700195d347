package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kasuganosora/questforge/server/audit"
	"github.com/kasuganosora/questforge/server/config"
	"github.com/kasuganosora/questforge/server/game/player"
	"github.com/kasuganosora/questforge/server/game/quest"
	"github.com/kasuganosora/questforge/server/game/reward"
	"github.com/kasuganosora/questforge/server/plugin/hook"
	"github.com/kasuganosora/questforge/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func nop() *zap.Logger { return zap.NewNop() }

type fakeIssuer struct {
	calls []string
	err   error
}

func (f *fakeIssuer) Issue(_ context.Context, _ string, _ quest.QuestID, instanceID string, _ quest.Reward) error {
	f.calls = append(f.calls, instanceID)
	return f.err
}

type memAuditor struct {
	mu      sync.Mutex
	entries []audit.AuditEntry
}

func (m *memAuditor) Log(e audit.AuditEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
}

func (m *memAuditor) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Action)
	}
	return out
}

var at = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func completedNotice() quest.Notice {
	return quest.Notice{
		Kind:       quest.NoticeQuestCompleted,
		PlayerID:   "p1",
		QuestID:    "supplies",
		InstanceID: "inst-1",
		Reward:     &quest.Reward{Exp: 100},
		At:         at,
	}
}

func TestReward_IssuesCompletedOnly(t *testing.T) {
	iss := &fakeIssuer{}
	aud := &memAuditor{}
	h := Reward(iss, aud, nop())

	require.NoError(t, h(context.Background(), completedNotice()))
	require.NoError(t, h(context.Background(), quest.Notice{Kind: quest.NoticeObjectiveCompleted, InstanceID: "inst-1"}))
	empty := completedNotice()
	empty.InstanceID = "inst-2"
	empty.Reward = &quest.Reward{}
	require.NoError(t, h(context.Background(), empty))

	assert.Equal(t, []string{"inst-1"}, iss.calls)
	assert.Equal(t, []string{audit.ActionRewardIssued}, aud.actions())
}

func TestReward_WalletFailureIsRecorded(t *testing.T) {
	iss := &fakeIssuer{err: &reward.IssueError{InstanceID: "inst-1", Attempts: 1, Err: errors.New("offline")}}
	aud := &memAuditor{}
	require.NoError(t, Reward(iss, aud, nop())(context.Background(), completedNotice()))
	require.Len(t, aud.entries, 1)
	assert.Equal(t, audit.ActionRewardFailed, aud.entries[0].Action)
	assert.Contains(t, aud.entries[0].Error, "offline")
}

func TestReward_RepeatIsNotAudited(t *testing.T) {
	iss := &fakeIssuer{err: reward.ErrAlreadyRecorded}
	aud := &memAuditor{}
	require.NoError(t, Reward(iss, aud, nop())(context.Background(), completedNotice()))
	assert.Len(t, iss.calls, 1)
	assert.Empty(t, aud.actions())
}

func TestReward_LedgerFailureKeepsNotice(t *testing.T) {
	iss := &fakeIssuer{err: errors.New("db gone")}
	err := Reward(iss, nil, nop())(context.Background(), completedNotice())
	assert.EqualError(t, err, "db gone")
}

func TestAudit_Actions(t *testing.T) {
	aud := &memAuditor{}
	h := Audit(aud)
	ctx := context.Background()
	for _, k := range []quest.NoticeKind{
		quest.NoticeQuestAccepted,
		quest.NoticeObjectiveCompleted,
		quest.NoticeQuestCompleted,
		quest.NoticeQuestAbandoned,
	} {
		require.NoError(t, h(ctx, quest.Notice{Kind: k, PlayerID: "p1", QuestID: "q"}))
	}
	assert.Equal(t, []string{
		audit.ActionQuestAccepted,
		audit.ActionQuestCompleted,
		audit.ActionQuestAbandoned,
	}, aud.actions())
	assert.Nil(t, aud.entries[0].Detail)
}

func TestPubSub_PublishesOnPlayerChannel(t *testing.T) {
	_, ps := testutil.SetupTestCache(t)
	ctx := context.Background()
	ch, cancel, err := ps.Subscribe(ctx, Channel("p1"))
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, PubSub(ps, nop())(ctx, completedNotice()))

	select {
	case msg := <-ch:
		assert.Equal(t, "quest:p1", msg.Channel)
		var n quest.Notice
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &n))
		assert.Equal(t, "inst-1", n.InstanceID)
		assert.Equal(t, quest.NoticeQuestCompleted, n.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("notice not published")
	}
}

func TestFeed_KeepsNewestN(t *testing.T) {
	c, _ := testutil.SetupTestCache(t)
	ctx := context.Background()
	h := Feed(c, 3, nop())

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		n := completedNotice()
		n.InstanceID = id
		require.NoError(t, h(ctx, n))
	}
	require.NoError(t, h(ctx, quest.Notice{Kind: quest.NoticeQuestAccepted, PlayerID: "p1", InstanceID: "x"}))

	feed, err := ReadFeed(ctx, c, "p1", 10)
	require.NoError(t, err)
	require.Len(t, feed, 3)
	assert.Equal(t, "e", feed[0].InstanceID)
	assert.Equal(t, "c", feed[2].InstanceID)

	feed, err = ReadFeed(ctx, c, "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, feed)
}

func TestKafka_DisabledIsNoop(t *testing.T) {
	p := NewKafkaPublisher(config.KafkaConfig{Enabled: false, Brokers: []string{"localhost:9092"}}, nop())
	assert.False(t, p.Enabled())
	assert.NoError(t, p.Handle(context.Background(), completedNotice()))
	assert.NoError(t, p.Close())

	p = NewKafkaPublisher(config.KafkaConfig{Enabled: true, Brokers: []string{"localhost:9092"}, Topic: "t"}, nop())
	assert.True(t, p.Enabled())
	assert.NoError(t, p.Close())
}

func TestInstall_Order(t *testing.T) {
	c, ps := testutil.SetupTestCache(t)
	center := hook.NewCenter(nop())
	Install(center, Deps{
		Issuer:  &fakeIssuer{},
		Auditor: &memAuditor{},
		PubSub:  ps,
		Cache:   c,
		Kafka:   NewKafkaPublisher(config.KafkaConfig{}, nop()),
		Logger:  nop(),
	})
	assert.Equal(t, []string{"reward", "audit", "pubsub", "feed"}, center.Handlers(quest.NoticeQuestCompleted))
	assert.Equal(t, []string{"audit", "pubsub"}, center.Handlers(quest.NoticeQuestAccepted))
	assert.Equal(t, []string{"audit", "pubsub", "feed"}, center.Handlers(quest.NoticeObjectiveCompleted))
}

type countingWallet struct {
	mu     sync.Mutex
	grants int
}

func (w *countingWallet) Grant(context.Context, reward.Grant) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.grants++
	return nil
}

// A completion whose delivery keeps failing in one handler is retried only
// in that handler: the reward, audit trail and feed see it once.
func TestRedeliver_OnlyFailedHandlersRunAgain(t *testing.T) {
	ctx := context.Background()
	catalog := quest.NewCatalog(quest.ResetPolicy{})
	require.NoError(t, catalog.Register(&quest.Template{
		ID:         "supplies",
		Name:       "Supplies",
		Objectives: []quest.Objective{quest.KillMob("zombies", "zombie", 1)},
		Reward:     quest.Reward{Exp: 100},
	}))
	require.NoError(t, catalog.Validate())

	wallet := &countingWallet{}
	rewards := reward.NewService(testutil.SetupTestDB(t), wallet, reward.Config{}, nop())
	aud := &memAuditor{}
	c, ps := testutil.SetupTestCache(t)

	center := hook.NewCenter(nop())
	Install(center, Deps{Issuer: rewards, Auditor: aud, PubSub: ps, Cache: c, Logger: nop()})
	var (
		brokerCalls int
		brokerDown  = true
	)
	center.Register(quest.NoticeQuestCompleted, PriorityKafka, "broker", func(context.Context, quest.Notice) error {
		brokerCalls++
		if brokerDown {
			return errors.New("broker unavailable")
		}
		return nil
	})

	svc := quest.NewService(catalog, quest.NewMemoryStore(), player.NewLocks(nop()), nop())
	svc.SetDispatcher(center)

	_, err := svc.AcceptQuest(ctx, quest.Player{ID: "p1"}, "supplies")
	require.NoError(t, err)
	_, err = svc.Apply(ctx, "p1", quest.Event{Type: quest.EventKill, Target: "zombie"})
	require.NoError(t, err)

	want := []string{audit.ActionQuestAccepted, audit.ActionRewardIssued, audit.ActionQuestCompleted}
	assert.Equal(t, want, aud.actions())

	for i := 0; i < 3; i++ {
		n, err := svc.RedeliverOutbox(ctx, "p1")
		require.NoError(t, err)
		assert.Zero(t, n)
	}
	assert.Equal(t, 4, brokerCalls)
	assert.Equal(t, want, aud.actions(), "redelivery must not repeat accepted handlers")
	assert.Equal(t, 1, wallet.grants)
	feed, err := ReadFeed(ctx, c, "p1", 10)
	require.NoError(t, err)
	assert.Len(t, feed, 2, "one objective and one quest completion")

	brokerDown = false
	n, err := svc.RedeliverOutbox(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 5, brokerCalls)
	assert.Equal(t, want, aud.actions())

	pending, err := svc.PendingOutbox(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, pending)
	n, err = svc.RedeliverOutbox(ctx, "p1")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 5, brokerCalls)
}
