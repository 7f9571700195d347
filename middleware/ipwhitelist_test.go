package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWhitelistRouter(t *testing.T, entries []string) *gin.Engine {
	t.Helper()
	mw, err := IPWhitelist(entries)
	require.NoError(t, err)
	r := gin.New()
	r.Use(mw)
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func fromIP(r *gin.Engine, ip string) int {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Real-IP", ip)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestIPWhitelist_EmptyAllowsAll(t *testing.T) {
	r := newWhitelistRouter(t, nil)
	assert.Equal(t, http.StatusOK, fromIP(r, "1.2.3.4"))
}

func TestIPWhitelist_SingleAndCIDR(t *testing.T) {
	r := newWhitelistRouter(t, []string{"192.168.1.10", "10.0.0.0/8", "::1"})
	assert.Equal(t, http.StatusOK, fromIP(r, "192.168.1.10"))
	assert.Equal(t, http.StatusOK, fromIP(r, "10.20.30.40"))
	assert.Equal(t, http.StatusOK, fromIP(r, "::1"))
	assert.Equal(t, http.StatusForbidden, fromIP(r, "192.168.1.11"))
	assert.Equal(t, http.StatusForbidden, fromIP(r, "11.0.0.1"))
}

func TestIPWhitelist_BadEntry(t *testing.T) {
	_, err := IPWhitelist([]string{"not-an-ip"})
	assert.Error(t, err)
	_, err = IPWhitelist([]string{"10.0.0.0/99"})
	assert.Error(t, err)
}
