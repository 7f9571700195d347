package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTraceRouter() *gin.Engine {
	r := gin.New()
	r.Use(TraceID())
	r.GET("/trace", func(c *gin.Context) {
		c.String(http.StatusOK, GetTraceID(c)+"|"+TraceFromContext(c.Request.Context()))
	})
	return r
}

func traceOf(t *testing.T, r *gin.Engine, header string) (fromGin, fromCtx, echoed string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/trace", nil)
	if header != "" {
		req.Header.Set(TraceIDHeader, header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	parts := strings.SplitN(w.Body.String(), "|", 2)
	return parts[0], parts[1], w.Header().Get(TraceIDHeader)
}

func TestTraceID_Generated(t *testing.T) {
	id, ctxID, echoed := traceOf(t, newTraceRouter(), "")
	assert.Len(t, id, 36)
	assert.Equal(t, id, ctxID)
	assert.Equal(t, id, echoed)
}

func TestTraceID_Provided(t *testing.T) {
	id, ctxID, echoed := traceOf(t, newTraceRouter(), "my-custom-trace")
	assert.Equal(t, "my-custom-trace", id)
	assert.Equal(t, "my-custom-trace", ctxID)
	assert.Equal(t, "my-custom-trace", echoed)
}

func TestTraceID_OversizedHeaderReplaced(t *testing.T) {
	id, _, _ := traceOf(t, newTraceRouter(), strings.Repeat("x", 200))
	assert.Len(t, id, 36)
}

func TestTraceID_UniquePerRequest(t *testing.T) {
	r := newTraceRouter()
	a, _, _ := traceOf(t, r, "")
	b, _, _ := traceOf(t, r, "")
	assert.NotEqual(t, a, b)
}

func TestGetTraceID_Missing(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Equal(t, "", GetTraceID(c))
	assert.Equal(t, "", TraceFromContext(context.Background()))
}
