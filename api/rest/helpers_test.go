package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/questforge/server/api/rest"
	"github.com/kasuganosora/questforge/server/api/ws"
	"github.com/kasuganosora/questforge/server/audit"
	"github.com/kasuganosora/questforge/server/cache"
	"github.com/kasuganosora/questforge/server/config"
	"github.com/kasuganosora/questforge/server/game/notify"
	"github.com/kasuganosora/questforge/server/game/player"
	"github.com/kasuganosora/questforge/server/game/quest"
	"github.com/kasuganosora/questforge/server/game/queststore"
	"github.com/kasuganosora/questforge/server/game/reward"
	"github.com/kasuganosora/questforge/server/plugin/hook"
	"github.com/kasuganosora/questforge/server/scheduler"
	"github.com/kasuganosora/questforge/server/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func nopLogger() *zap.Logger { return zap.NewNop() }

var t0 = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

const adminKey = "admin-secret"

// switchWallet fails while broken is set.
type switchWallet struct {
	mu     sync.Mutex
	broken bool
	grants []reward.Grant
}

func (w *switchWallet) Grant(_ context.Context, g reward.Grant) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.broken {
		return errors.New("wallet offline")
	}
	w.grants = append(w.grants, g)
	return nil
}

func (w *switchWallet) setBroken(b bool) {
	w.mu.Lock()
	w.broken = b
	w.mu.Unlock()
}

// labelDescriber renders "<quest>/<objective>" so tests can check wiring.
type labelDescriber struct{}

func (labelDescriber) Describe(id quest.QuestID, o quest.Objective, locale string) string {
	if locale != "" {
		return locale + ":" + string(id) + "/" + o.ID
	}
	return string(id) + "/" + o.ID
}

type fixture struct {
	r       *gin.Engine
	quests  *quest.Service
	rewards *reward.Service
	audit   *audit.Service
	sched   *scheduler.Scheduler
	cache   cache.Cache
	wallet  *switchWallet
	now     *time.Time
}

func templates() []*quest.Template {
	return []*quest.Template{
		{
			ID:         "first_steps",
			Name:       "First Steps",
			Category:   quest.CategoryTutorial,
			Objectives: []quest.Objective{quest.InteractNPC("talk", "elder")},
			Reward:     quest.Reward{Exp: 50},
		},
		{
			ID:       "supplies",
			Name:     "Supplies",
			Category: quest.CategorySide,
			Objectives: []quest.Objective{
				quest.KillMob("zombies", "zombie", 2),
				quest.CollectItem("bread", "bread", 1),
			},
			MinLevel:      5,
			Prerequisites: []quest.QuestID{"first_steps"},
			Reward: quest.Reward{
				Exp:      100,
				Currency: []quest.CurrencyAmount{{Currency: "gold", Amount: 10}},
			},
		},
		{
			ID:         "daily_fishing",
			Name:       "Daily Catch",
			Category:   quest.CategoryDaily,
			Objectives: []quest.Objective{quest.Fishing("fish", "trout", 1)},
			Repeatable: true,
			Daily:      true,
			Reward:     quest.Reward{Exp: 10},
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := nopLogger()
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)

	catalog := quest.NewCatalog(quest.ResetPolicy{})
	for _, tpl := range templates() {
		require.NoError(t, catalog.Register(tpl))
	}
	require.NoError(t, catalog.Validate())

	now := t0
	clock := func() time.Time { return now }

	svc := quest.NewService(catalog, queststore.NewGormStore(db, logger), player.NewLocks(logger), logger)
	svc.SetClock(clock)
	svc.SetDeduper(c, time.Hour)

	wallet := &switchWallet{}
	rewards := reward.NewService(db, wallet, reward.Config{MaxAttempts: 2, BaseBackoff: time.Second, MaxBackoff: time.Second}, logger)
	rewards.SetClock(clock)

	auditSvc := audit.New(db, logger)
	t.Cleanup(func() { auditSvc.Stop(context.Background()) })

	center := hook.NewCenter(logger)
	notify.Install(center, notify.Deps{
		Issuer:     rewards,
		Auditor:    auditSvc,
		PubSub:     ps,
		Cache:      c,
		FeedLength: 10,
		Logger:     logger,
	})
	svc.SetDispatcher(center)

	sched := scheduler.New(logger)
	t.Cleanup(sched.Stop)
	sched.AddTicker(scheduler.TaskRewardRetry, time.Hour, scheduler.RewardRetryTask(rewards, 10, logger))

	desc := labelDescriber{}
	questH := rest.NewQuestHandler(svc, c, desc, logger)
	catalogH := rest.NewCatalogHandler(catalog, desc, logger)
	eventH := rest.NewEventHandler(svc, logger)
	sec := config.SecurityConfig{JWTSecret: "rest-test-secret", JWTTTLH: time.Hour}
	adminH := rest.NewAdminHandler(svc, rewards, auditSvc, sched, ws.NewSessions(logger), sec, logger)

	r := gin.New()
	r.GET("/api/quests", catalogH.List)
	r.GET("/api/quests/:quest_id", catalogH.Get)
	r.POST("/api/events", eventH.Post)
	p := r.Group("/api/players/:player_id")
	p.GET("/quests/active", questH.Active)
	p.GET("/quests/completed", questH.Completed)
	p.GET("/quests/:quest_id", questH.Progress)
	p.GET("/quests/:quest_id/eligibility", questH.Eligibility)
	p.POST("/quests/:quest_id/accept", questH.Accept)
	p.POST("/quests/:quest_id/abandon", questH.Abandon)
	p.GET("/available", questH.Available)
	p.GET("/feed", questH.Feed)
	a := r.Group("/api/admin")
	a.GET("/metrics", adminH.Metrics)
	a.GET("/sessions", adminH.Sessions)
	a.POST("/tokens", adminH.IssueToken)
	a.GET("/rewards", adminH.Rewards)
	a.GET("/rewards/pending", adminH.PendingRewards)
	a.POST("/rewards/retry", adminH.RetryRewards)
	a.GET("/rewards/:instance_id", adminH.Reward)
	a.POST("/rewards/:instance_id/requeue", adminH.RequeueReward)
	a.GET("/scheduler", adminH.Scheduler)
	a.POST("/scheduler/:name/run", adminH.RunTask)
	a.GET("/players/:player_id/outbox", adminH.Outbox)
	a.POST("/players/:player_id/redeliver", adminH.Redeliver)
	a.GET("/players/:player_id/audit", adminH.Audit)

	return &fixture{
		r: r, quests: svc, rewards: rewards, audit: auditSvc, sched: sched,
		cache: c, wallet: wallet, now: &now,
	}
}

func (f *fixture) advance(d time.Duration) { *f.now = f.now.Add(d) }

func (f *fixture) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.r.ServeHTTP(w, req)
	return w
}

func (f *fixture) get(path string) *httptest.ResponseRecorder {
	return f.do(http.MethodGet, path, nil)
}

func (f *fixture) post(path string, body interface{}) *httptest.ResponseRecorder {
	return f.do(http.MethodPost, path, body)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func event(playerID string, ev quest.Event) map[string]interface{} {
	return map[string]interface{}{"player_id": playerID, "event": ev}
}

// finishFirstSteps accepts and completes the tutorial for playerID.
func (f *fixture) finishFirstSteps(t *testing.T, playerID string) {
	t.Helper()
	w := f.post("/api/players/"+playerID+"/quests/first_steps/accept", map[string]int{"level": 1})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = f.post("/api/events", event(playerID, quest.Event{Type: quest.EventInteract, Target: "elder"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}
