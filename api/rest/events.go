package rest

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/questforge/server/game/quest"
	"go.uber.org/zap"
)

// EventApplier is the part of quest.Service the event endpoint drives.
type EventApplier interface {
	Apply(ctx context.Context, playerID string, ev quest.Event) ([]quest.Notice, error)
}

// EventHandler accepts game events over HTTP.
type EventHandler struct {
	svc    EventApplier
	logger *zap.Logger
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(svc EventApplier, logger *zap.Logger) *EventHandler {
	return &EventHandler{svc: svc, logger: logger}
}

type eventRequest struct {
	PlayerID string      `json:"player_id" binding:"required"`
	Event    quest.Event `json:"event"`
}

// Post applies one event and returns the notices it produced. A replayed
// event id is answered with 200 and duplicate=true so producers can retry
// blindly.
// POST /api/events
func (h *EventHandler) Post(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	notices, err := h.svc.Apply(c.Request.Context(), req.PlayerID, req.Event)
	switch {
	case errors.Is(err, quest.ErrDuplicateEvent):
		c.JSON(http.StatusOK, gin.H{"duplicate": true, "notices": []quest.Notice{}})
		return
	case err != nil:
		writeError(c, h.logger, err)
		return
	}
	if notices == nil {
		notices = []quest.Notice{}
	}
	c.JSON(http.StatusOK, gin.H{"duplicate": false, "notices": notices})
}
