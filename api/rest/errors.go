package rest

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/questforge/server/game/quest"
	"github.com/kasuganosora/questforge/server/game/reward"
	mw "github.com/kasuganosora/questforge/server/middleware"
	"go.uber.org/zap"
)

// writeError maps engine errors onto HTTP statuses. Anything unrecognised is
// logged and reported as 500 without its message.
func writeError(c *gin.Context, logger *zap.Logger, err error) {
	var ee *quest.EligibilityError
	switch {
	case errors.As(err, &ee):
		body := gin.H{"error": err.Error(), "reason": ee.Reason}
		if len(ee.Missing) > 0 {
			body["missing"] = ee.Missing
		}
		if ee.AvailableAt != nil {
			body["available_at"] = ee.AvailableAt.UTC().Format(time.RFC3339)
		}
		c.JSON(http.StatusConflict, body)
	case errors.Is(err, quest.ErrUnknownQuest),
		errors.Is(err, quest.ErrNotActive),
		errors.Is(err, quest.ErrNoProgress),
		errors.Is(err, reward.ErrGrantNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, quest.ErrUnknownEventType):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("trace_id", mw.GetTraceID(c)),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// queryInt reads an integer query parameter, falling back to def when it is
// absent and clamping it to [lo, hi].
func queryInt(c *gin.Context, name string, def, lo, hi int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return min(max(v, lo), hi), true
}
