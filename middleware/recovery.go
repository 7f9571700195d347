package middleware

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Recovery logs handler panics through zap and answers 500 with the trace
// id, so a player report can be matched to the stack in the logs.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		traceID := GetTraceID(c)
		log.Error("panic recovered",
			zap.Any("panic", recovered),
			zap.String("trace_id", traceID),
			zap.String("route", c.FullPath()),
			zap.Stack("stack"),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":    "internal server error",
			"trace_id": traceID,
		})
	})
}
