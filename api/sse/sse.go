package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/questforge/server/cache"
	"github.com/kasuganosora/questforge/server/game/notify"
	mw "github.com/kasuganosora/questforge/server/middleware"
	"go.uber.org/zap"
)

const maxReplay = 50

// Handler streams a player's quest notices as server-sent events.
type Handler struct {
	pubsub    cache.PubSub
	c         cache.Cache
	keepalive time.Duration
	logger    *zap.Logger
}

// NewHandler creates a new SSE Handler.
func NewHandler(pubsub cache.PubSub, c cache.Cache, logger *zap.Logger) *Handler {
	return &Handler{pubsub: pubsub, c: c, keepalive: 30 * time.Second, logger: logger}
}

// SetKeepalive changes the comment interval that keeps proxies from timing
// the stream out.
func (h *Handler) SetKeepalive(d time.Duration) { h.keepalive = d }

// ServeSSE handles GET /sse. Auth runs first; player tokens stream their own
// notices, service and admin tokens name the player with ?player_id=.
// ?replay=n sends up to n recent notices from the feed before going live.
func (h *Handler) ServeSSE(c *gin.Context) {
	claims := mw.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	playerID := claims.PlayerID
	if claims.Role != mw.RolePlayer {
		playerID = c.Query("player_id")
	}
	if playerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "player_id is required"})
		return
	}
	replay, _ := strconv.Atoi(c.Query("replay"))
	if replay > maxReplay {
		replay = maxReplay
	}

	subCtx, subCancel := context.WithCancel(c.Request.Context())
	defer subCancel()

	msgCh, unsub, err := h.pubsub.Subscribe(subCtx, notify.Channel(playerID))
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.String("player_id", playerID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "subscribe failed"})
		return
	}
	defer unsub()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	fmt.Fprintf(c.Writer, "event: connected\ndata: {\"player_id\":%q}\n\n", playerID)
	if replay > 0 && h.c != nil {
		h.replay(c, playerID, replay)
	}
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			fmt.Fprintf(c.Writer, "event: notice\ndata: %s\n\n", msg.Payload)
			c.Writer.Flush()

		case <-ticker.C:
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()

		case <-c.Request.Context().Done():
			return
		}
	}
}

func (h *Handler) replay(c *gin.Context, playerID string, n int) {
	notices, err := notify.ReadFeed(c.Request.Context(), h.c, playerID, n)
	if err != nil {
		h.logger.Warn("sse replay failed", zap.String("player_id", playerID), zap.Error(err))
		return
	}
	// feed is newest first
	for i := len(notices) - 1; i >= 0; i-- {
		data, err := json.Marshal(notices[i])
		if err != nil {
			continue
		}
		fmt.Fprintf(c.Writer, "event: notice\ndata: %s\n\n", data)
	}
}
