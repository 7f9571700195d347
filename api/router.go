package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/questforge/server/api/rest"
	"github.com/kasuganosora/questforge/server/api/sse"
	"github.com/kasuganosora/questforge/server/api/ws"
	"github.com/kasuganosora/questforge/server/audit"
	"github.com/kasuganosora/questforge/server/cache"
	"github.com/kasuganosora/questforge/server/config"
	"github.com/kasuganosora/questforge/server/game/quest"
	"github.com/kasuganosora/questforge/server/game/reward"
	mw "github.com/kasuganosora/questforge/server/middleware"
	"github.com/kasuganosora/questforge/server/scheduler"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Deps is everything the HTTP surface is built from.
type Deps struct {
	Config    *config.Config
	Quests    *quest.Service
	Rewards   *reward.Service
	Audit     *audit.Service
	Scheduler *scheduler.Scheduler
	Cache     cache.Cache
	PubSub    cache.PubSub
	Describer quest.Describer
	Sessions  *ws.Sessions
	Logger    *zap.Logger
}

// NewRouter wires middleware and routes. ctx bounds background work owned by
// the router, such as the rate limiter sweep.
func NewRouter(ctx context.Context, d Deps) (*gin.Engine, error) {
	sec := d.Config.Security
	ingestOnly, err := mw.IPWhitelist(sec.IngestWhitelist)
	if err != nil {
		return nil, err
	}
	if d.Sessions == nil {
		d.Sessions = ws.NewSessions(d.Logger)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(d.Logger), mw.Recovery(d.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "quests": d.Quests.Catalog().Len()})
	})

	auth := mw.Auth(sec)
	limit := mw.RateLimit(ctx, rate.Limit(sec.RateLimitRPS), sec.RateLimitBurst)
	service := mw.RequireRole(mw.RoleService, mw.RoleAdmin)

	questH := rest.NewQuestHandler(d.Quests, d.Cache, d.Describer, d.Logger)
	catalogH := rest.NewCatalogHandler(d.Quests.Catalog(), d.Describer, d.Logger)
	eventH := rest.NewEventHandler(d.Quests, d.Logger)
	adminH := rest.NewAdminHandler(d.Quests, d.Rewards, d.Audit, d.Scheduler, d.Sessions, sec, d.Logger)

	api := r.Group("/api")
	{
		catalogG := api.Group("/quests", auth, limit)
		catalogG.GET("", catalogH.List)
		catalogG.GET("/:quest_id", catalogH.Get)

		api.POST("/events", ingestOnly, auth, service, limit, eventH.Post)

		playerG := api.Group("/players/:player_id", auth, mw.PlayerScope("player_id"), limit)
		playerG.GET("/quests/active", questH.Active)
		playerG.GET("/quests/completed", questH.Completed)
		playerG.GET("/quests/:quest_id", questH.Progress)
		playerG.GET("/quests/:quest_id/eligibility", questH.Eligibility)
		playerG.POST("/quests/:quest_id/accept", questH.Accept)
		playerG.POST("/quests/:quest_id/abandon", questH.Abandon)
		playerG.GET("/available", questH.Available)
		playerG.GET("/feed", questH.Feed)

		adminG := api.Group("/admin", mw.AdminKey(d.Config.Server.AdminKey))
		adminG.GET("/metrics", adminH.Metrics)
		adminG.GET("/sessions", adminH.Sessions)
		adminG.POST("/tokens", adminH.IssueToken)
		adminG.GET("/rewards", adminH.Rewards)
		adminG.GET("/rewards/pending", adminH.PendingRewards)
		adminG.POST("/rewards/retry", adminH.RetryRewards)
		adminG.GET("/rewards/:instance_id", adminH.Reward)
		adminG.POST("/rewards/:instance_id/requeue", adminH.RequeueReward)
		adminG.GET("/scheduler", adminH.Scheduler)
		adminG.POST("/scheduler/:name/run", adminH.RunTask)
		adminG.GET("/players/:player_id/outbox", adminH.Outbox)
		adminG.POST("/players/:player_id/redeliver", adminH.Redeliver)
		adminG.GET("/players/:player_id/audit", adminH.Audit)
	}

	wsRouter := ws.NewRouter(d.Logger)
	ws.RegisterQuestHandlers(wsRouter, d.Quests, d.Logger)
	wsH := ws.NewHandler(sec, d.Sessions, wsRouter, d.Logger)
	r.GET("/ws", ingestOnly, auth, service, wsH.ServeWS)

	sseH := sse.NewHandler(d.PubSub, d.Cache, d.Logger)
	r.GET("/sse", auth, sseH.ServeSSE)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return r, nil
}
