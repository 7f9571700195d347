package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/questforge/server/config"
	"github.com/kasuganosora/questforge/server/game/player"
	"github.com/kasuganosora/questforge/server/game/quest"
	"github.com/kasuganosora/questforge/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testDeps(t *testing.T, sec config.SecurityConfig) Deps {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	catalog := quest.NewCatalog(quest.ResetPolicy{})
	require.NoError(t, catalog.Register(&quest.Template{
		ID:         "intro",
		Name:       "Intro",
		Objectives: []quest.Objective{quest.InteractNPC("talk", "elder")},
	}))
	require.NoError(t, catalog.Validate())
	c, ps := testutil.SetupTestCache(t)
	return Deps{
		Config: &config.Config{Security: sec},
		Quests: quest.NewService(catalog, quest.NewMemoryStore(), player.NewLocks(logger), logger),
		Cache:  c,
		PubSub: ps,
		Logger: logger,
	}
}

func TestNewRouter_Health(t *testing.T) {
	r, err := NewRouter(context.Background(), testDeps(t, config.SecurityConfig{
		JWTSecret: "router-secret", RateLimitRPS: 10, RateLimitBurst: 10,
	}))
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["quests"])
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNewRouter_AdminDisabledWithoutKey(t *testing.T) {
	r, err := NewRouter(context.Background(), testDeps(t, config.SecurityConfig{
		JWTSecret: "router-secret", RateLimitRPS: 10, RateLimitBurst: 10,
	}))
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/admin/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestNewRouter_BadWhitelist(t *testing.T) {
	_, err := NewRouter(context.Background(), testDeps(t, config.SecurityConfig{
		JWTSecret:       "router-secret",
		IngestWhitelist: []string{"not-an-ip"},
	}))
	assert.Error(t, err)
}
