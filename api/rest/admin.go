package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/questforge/server/api/ws"
	"github.com/kasuganosora/questforge/server/audit"
	"github.com/kasuganosora/questforge/server/config"
	"github.com/kasuganosora/questforge/server/game/quest"
	"github.com/kasuganosora/questforge/server/game/reward"
	mw "github.com/kasuganosora/questforge/server/middleware"
	"github.com/kasuganosora/questforge/server/model"
	"github.com/kasuganosora/questforge/server/scheduler"
	"go.uber.org/zap"
)

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by the AdminKey middleware.
type AdminHandler struct {
	quests   *quest.Service
	rewards  *reward.Service
	audit    *audit.Service
	sched    *scheduler.Scheduler
	sessions *ws.Sessions
	sec      config.SecurityConfig
	logger   *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(
	quests *quest.Service,
	rewards *reward.Service,
	auditSvc *audit.Service,
	sched *scheduler.Scheduler,
	sessions *ws.Sessions,
	sec config.SecurityConfig,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		quests:   quests,
		rewards:  rewards,
		audit:    auditSvc,
		sched:    sched,
		sessions: sessions,
		sec:      sec,
		logger:   logger,
	}
}

// Metrics returns server health metrics.
// GET /api/admin/metrics
func (h *AdminHandler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"quests":          h.quests.Catalog().Len(),
		"ingest_sessions": h.sessions.Count(),
		"scheduler_tasks": h.sched.ListTickers(),
		"audit":           h.audit.Stats(),
	})
}

// Sessions lists connected event sources.
// GET /api/admin/sessions
func (h *AdminHandler) Sessions(c *gin.Context) {
	list := h.sessions.List()
	c.JSON(http.StatusOK, gin.H{"sessions": list, "count": len(list)})
}

// Rewards lists ledger rows, pending ones by default.
// GET /api/admin/rewards?status=pending|issued|failed|all&limit=
func (h *AdminHandler) Rewards(c *gin.Context) {
	h.listRewards(c, c.DefaultQuery("status", model.GrantPending))
}

// PendingRewards lists grants still waiting for the wallet.
// GET /api/admin/rewards/pending?limit=
func (h *AdminHandler) PendingRewards(c *gin.Context) {
	h.listRewards(c, model.GrantPending)
}

func (h *AdminHandler) listRewards(c *gin.Context, status string) {
	switch status {
	case model.GrantPending, model.GrantIssued, model.GrantFailed:
	case "all":
		status = ""
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}
	limit, ok := queryInt(c, "limit", 100, 1, 500)
	if !ok {
		return
	}
	grants, err := h.rewards.List(c.Request.Context(), status, limit)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if grants == nil {
		grants = []model.RewardGrant{}
	}
	c.JSON(http.StatusOK, gin.H{"grants": grants, "count": len(grants)})
}

// Reward returns the ledger row of one quest instance.
// GET /api/admin/rewards/:instance_id
func (h *AdminHandler) Reward(c *gin.Context) {
	g, err := h.rewards.ByInstance(c.Request.Context(), c.Param("instance_id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

// RetryRewards runs one retry pass right away.
// POST /api/admin/rewards/retry?limit=
func (h *AdminHandler) RetryRewards(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 100, 1, 1000)
	if !ok {
		return
	}
	issued, failed, err := h.rewards.RetryPending(c.Request.Context(), limit)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	h.logger.Info("admin reward retry", zap.Int("issued", issued), zap.Int("failed", failed))
	c.JSON(http.StatusOK, gin.H{"issued": issued, "failed": failed})
}

// RequeueReward gives a failed grant a fresh retry budget.
// POST /api/admin/rewards/:instance_id/requeue
func (h *AdminHandler) RequeueReward(c *gin.Context) {
	id := c.Param("instance_id")
	if err := h.rewards.Requeue(c.Request.Context(), id); err != nil {
		writeError(c, h.logger, err)
		return
	}
	h.logger.Info("admin requeued reward", zap.String("instance_id", id))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Scheduler reports per-task run statistics.
// GET /api/admin/scheduler
func (h *AdminHandler) Scheduler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.Stats()})
}

// RunTask triggers a scheduled task outside its interval.
// POST /api/admin/scheduler/:name/run
func (h *AdminHandler) RunTask(c *gin.Context) {
	name := c.Param("name")
	if !h.sched.RunNow(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown task"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"ok": true})
}

// Outbox lists the undelivered completion notices of a player.
// GET /api/admin/players/:player_id/outbox
func (h *AdminHandler) Outbox(c *gin.Context) {
	notices, err := h.quests.PendingOutbox(c.Request.Context(), c.Param("player_id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if notices == nil {
		notices = []quest.Notice{}
	}
	c.JSON(http.StatusOK, gin.H{"notices": notices})
}

// Redeliver re-dispatches a player's outbox.
// POST /api/admin/players/:player_id/redeliver
func (h *AdminHandler) Redeliver(c *gin.Context) {
	playerID := c.Param("player_id")
	n, err := h.quests.RedeliverOutbox(c.Request.Context(), playerID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	h.logger.Info("admin redelivered outbox", zap.String("player_id", playerID), zap.Int("delivered", n))
	c.JSON(http.StatusOK, gin.H{"delivered": n})
}

// Audit returns a player's recent audit trail, newest first.
// GET /api/admin/players/:player_id/audit?limit=
func (h *AdminHandler) Audit(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 100, 1, 500)
	if !ok {
		return
	}
	logs, err := h.audit.ForPlayer(c.Request.Context(), c.Param("player_id"), limit)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if logs == nil {
		logs = []model.AuditLog{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": logs})
}

type tokenRequest struct {
	PlayerID string `json:"player_id"`
	Role     string `json:"role" binding:"required"`
	TTL      string `json:"ttl"`
}

// IssueToken mints a JWT for a game server, a player client or an operator.
// POST /api/admin/tokens
func (h *AdminHandler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	switch req.Role {
	case mw.RolePlayer:
		if req.PlayerID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "player tokens need a player_id"})
			return
		}
	case mw.RoleService, mw.RoleAdmin:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
		return
	}
	ttl := h.sec.JWTTTLH
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ttl"})
			return
		}
		ttl = d
	}
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	tok, err := mw.GenerateToken(req.PlayerID, req.Role, h.sec.JWTSecret, ttl)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	h.logger.Info("admin issued token", zap.String("role", req.Role), zap.String("player_id", req.PlayerID))
	c.JSON(http.StatusCreated, gin.H{
		"token":      tok,
		"expires_at": time.Now().Add(ttl).UTC().Format(time.RFC3339),
	})
}
