package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/questforge/server/api"
	apows "github.com/kasuganosora/questforge/server/api/ws"
	"github.com/kasuganosora/questforge/server/audit"
	"github.com/kasuganosora/questforge/server/cache"
	"github.com/kasuganosora/questforge/server/config"
	dbadapter "github.com/kasuganosora/questforge/server/db"
	"github.com/kasuganosora/questforge/server/game/notify"
	"github.com/kasuganosora/questforge/server/game/player"
	"github.com/kasuganosora/questforge/server/game/quest"
	"github.com/kasuganosora/questforge/server/game/queststore"
	"github.com/kasuganosora/questforge/server/game/reward"
	"github.com/kasuganosora/questforge/server/logging"
	"github.com/kasuganosora/questforge/server/model"
	"github.com/kasuganosora/questforge/server/plugin/hook"
	"github.com/kasuganosora/questforge/server/resource"
	"github.com/kasuganosora/questforge/server/scheduler"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	logger, err := logging.New(cfg.Log, cfg.Server.Debug)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
	}
	if cfg.Security.JWTSecret == "" {
		logger.Fatal("security.jwt_secret is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		logger.Fatal("db open", zap.Error(err))
	}
	if err := model.AutoMigrate(db); err != nil {
		logger.Fatal("db migrate", zap.Error(err))
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Cache / PubSub ----
	cacheConfig := cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		RedisPoolSize:   cfg.Cache.RedisPoolSize,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		logger.Fatal("cache", zap.Error(err))
	}
	pubsub, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		logger.Fatal("pubsub", zap.Error(err))
	}
	logger.Info("Cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	// ---- Quest catalog ----
	res := resource.NewLoader(cfg.Quest.DataPath, cfg.Quest.LangPath, cfg.Quest.DefaultLocale)
	if err := res.Load(); err != nil {
		logger.Fatal("quest data", zap.Error(err))
	}
	loc, err := cfg.Quest.ResetLocation()
	if err != nil {
		logger.Fatal("quest reset timezone", zap.String("tz", cfg.Quest.ResetTimezone), zap.Error(err))
	}
	catalog, err := res.BuildCatalog(quest.ResetPolicy{Hour: cfg.Quest.ResetHour, Location: loc})
	if err != nil {
		logger.Fatal("quest catalog", zap.Error(err))
	}
	logger.Info("Quest catalog loaded",
		zap.Int("quests", catalog.Len()),
		zap.Int("locales", len(res.Locales)))

	// ---- Quest engine ----
	gormStore := queststore.NewGormStore(db, logger)
	var store quest.Store = gormStore
	if cfg.Cache.StateTTL > 0 {
		cs, err := queststore.NewCacheStore(gormStore, c, cfg.Cache.StateTTL, logger)
		if err != nil {
			logger.Fatal("quest state cache", zap.Error(err))
		}
		store = cs
	}
	quests := quest.NewService(catalog, store, player.NewLocks(logger), logger)
	quests.SetDeduper(c, cfg.Quest.EventDedupTTL)

	rewards := reward.NewService(db, reward.NewLogWallet(logger), reward.Config{
		MaxAttempts: cfg.Reward.MaxAttempts,
		BaseBackoff: cfg.Reward.BaseBackoff,
		MaxBackoff:  cfg.Reward.MaxBackoff,
	}, logger)

	auditSvc := audit.New(db, logger)

	kafka := notify.NewKafkaPublisher(cfg.Kafka, logger)
	center := hook.NewCenter(logger)
	notify.Install(center, notify.Deps{
		Issuer:     rewards,
		Auditor:    auditSvc,
		PubSub:     pubsub,
		Cache:      c,
		FeedLength: cfg.Quest.FeedLength,
		Kafka:      kafka,
		Logger:     logger,
	})
	quests.SetDispatcher(center)

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	sched.AddTicker(scheduler.TaskRewardRetry, cfg.Reward.RetryInterval,
		scheduler.RewardRetryTask(rewards, cfg.Reward.RetryBatch, logger))
	redeliver := scheduler.OutboxRedeliverTask(gormStore, quests, cfg.Reward.RetryBatch, logger)
	sched.AddTicker(scheduler.TaskOutboxRedeliver, time.Minute, redeliver)
	sched.AddDelay(scheduler.TaskBootRedeliver, 5*time.Second, redeliver)

	// ---- HTTP ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	sessions := apows.NewSessions(logger)
	r, err := api.NewRouter(ctx, api.Deps{
		Config:    cfg,
		Quests:    quests,
		Rewards:   rewards,
		Audit:     auditSvc,
		Scheduler: sched,
		Cache:     c,
		PubSub:    pubsub,
		Describer: res,
		Sessions:  sessions,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("router", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		sessions.CloseAll(shutdownCtx)
		err := srv.Shutdown(shutdownCtx)
		sched.Stop()
		auditSvc.Stop(shutdownCtx)
		if cerr := kafka.Close(); cerr != nil {
			logger.Warn("kafka close", zap.Error(cerr))
		}
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("Server stopped")
}
