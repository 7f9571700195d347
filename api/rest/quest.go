package rest

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/questforge/server/cache"
	"github.com/kasuganosora/questforge/server/game/notify"
	"github.com/kasuganosora/questforge/server/game/quest"
	"go.uber.org/zap"
)

// QuestHandler serves the per-player quest API.
type QuestHandler struct {
	svc    *quest.Service
	cache  cache.Cache
	view   viewer
	logger *zap.Logger
}

// NewQuestHandler creates a QuestHandler. desc may be nil.
func NewQuestHandler(svc *quest.Service, c cache.Cache, desc quest.Describer, logger *zap.Logger) *QuestHandler {
	return &QuestHandler{svc: svc, cache: c, view: viewer{desc: desc}, logger: logger}
}

func (h *QuestHandler) player(c *gin.Context) (quest.Player, bool) {
	level, ok := queryInt(c, "level", 0, 0, 1<<20)
	return quest.Player{ID: c.Param("player_id"), Level: level}, ok
}

// Active lists the player's active quests.
// GET /api/players/:player_id/quests/active
func (h *QuestHandler) Active(c *gin.Context) {
	list, err := h.svc.ActiveQuests(c.Request.Context(), c.Param("player_id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	locale := c.Query("locale")
	out := make([]ProgressView, 0, len(list))
	for _, pr := range list {
		t, _ := h.svc.Catalog().Resolve(pr.QuestID)
		out = append(out, h.view.progress(t, pr, locale))
	}
	c.JSON(http.StatusOK, gin.H{"quests": out})
}

// Completed lists the player's completion history.
// GET /api/players/:player_id/quests/completed
func (h *QuestHandler) Completed(c *gin.Context) {
	list, err := h.svc.CompletedQuests(c.Request.Context(), c.Param("player_id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if list == nil {
		list = []quest.CompletionRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"quests": list})
}

// Progress returns the player's instance of one quest.
// GET /api/players/:player_id/quests/:quest_id
func (h *QuestHandler) Progress(c *gin.Context) {
	id := quest.QuestID(c.Param("quest_id"))
	pr, err := h.svc.QuestProgress(c.Request.Context(), c.Param("player_id"), id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	t, _ := h.svc.Catalog().Resolve(id)
	c.JSON(http.StatusOK, h.view.progress(t, pr, c.Query("locale")))
}

// Eligibility reports whether the player may accept a quest now.
// GET /api/players/:player_id/quests/:quest_id/eligibility?level=
func (h *QuestHandler) Eligibility(c *gin.Context) {
	p, ok := h.player(c)
	if !ok {
		return
	}
	id := quest.QuestID(c.Param("quest_id"))
	err := h.svc.Eligibility(c.Request.Context(), p, id)
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"quest_id": id, "eligible": true})
		return
	}
	var ee *quest.EligibilityError
	if !errors.As(err, &ee) {
		writeError(c, h.logger, err)
		return
	}
	body := gin.H{"quest_id": id, "eligible": false, "reason": ee.Reason}
	if len(ee.Missing) > 0 {
		body["missing"] = ee.Missing
	}
	if ee.AvailableAt != nil {
		body["available_at"] = ee.AvailableAt.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, body)
}

// Available lists the quests the player could accept right now.
// GET /api/players/:player_id/available?level=
func (h *QuestHandler) Available(c *gin.Context) {
	p, ok := h.player(c)
	if !ok {
		return
	}
	list, err := h.svc.AvailableQuests(c.Request.Context(), p)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quests": h.view.templates(list, c.Query("locale"))})
}

type acceptRequest struct {
	Level int `json:"level"`
}

// Accept starts a quest for the player.
// POST /api/players/:player_id/quests/:quest_id/accept {"level": n}
func (h *QuestHandler) Accept(c *gin.Context) {
	var req acceptRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Level < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "level must not be negative"})
		return
	}
	id := quest.QuestID(c.Param("quest_id"))
	p := quest.Player{ID: c.Param("player_id"), Level: req.Level}
	pr, err := h.svc.AcceptQuest(c.Request.Context(), p, id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	t, _ := h.svc.Catalog().Resolve(id)
	c.JSON(http.StatusCreated, h.view.progress(t, pr, c.Query("locale")))
}

// Abandon drops the player's active instance of a quest.
// POST /api/players/:player_id/quests/:quest_id/abandon
func (h *QuestHandler) Abandon(c *gin.Context) {
	id := quest.QuestID(c.Param("quest_id"))
	if err := h.svc.AbandonQuest(c.Request.Context(), c.Param("player_id"), id); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Feed returns the player's recent completion notices, newest first.
// GET /api/players/:player_id/feed?limit=
func (h *QuestHandler) Feed(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 20, 1, 100)
	if !ok {
		return
	}
	notices, err := notify.ReadFeed(c.Request.Context(), h.cache, c.Param("player_id"), limit)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notices": notices})
}
