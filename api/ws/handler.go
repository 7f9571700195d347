package ws

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kasuganosora/questforge/server/config"
	mw "github.com/kasuganosora/questforge/server/middleware"
	"go.uber.org/zap"
)

// maxFrameBytes caps one inbound event batch frame.
const maxFrameBytes = 1 << 20

// Handler serves GET /ws for event sources. Auth and RequireRole run in
// front of it, so every connection carries validated claims.
type Handler struct {
	sessions *Sessions
	router   *Router
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewHandler(sec config.SecurityConfig, sessions *Sessions, router *Router, logger *zap.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		router:   router,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    4096,
			WriteBufferSize:   4096,
			EnableCompression: true,
			CheckOrigin:       originChecker(sec.AllowedOrigins),
		},
	}
}

// originChecker accepts any origin when allowed is empty. Requests without
// an Origin header come from game servers, not browsers, and always pass.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// ServeWS upgrades the request and blocks reading frames until the peer
// leaves.
func (h *Handler) ServeWS(c *gin.Context) {
	claims := mw.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Warn("ws upgrade failed", zap.String("remote", c.ClientIP()), zap.Error(err))
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	subject := claims.Subject
	if subject == "" {
		subject = claims.Role
	}
	s := NewSession(uuid.NewString(), subject, c.ClientIP(), conn, h.logger)
	h.sessions.Register(s)
	defer func() {
		s.Close()
		h.sessions.Unregister(s.ID)
	}()
	h.serve(c.Request.Context(), s)
}

func (h *Handler) serve(ctx context.Context, s *Session) {
	s.SetReadDeadline()
	s.Conn.SetPongHandler(func(string) error {
		s.SetReadDeadline()
		return nil
	})
	for {
		_, frame, err := s.Conn.ReadMessage()
		switch {
		case err == nil:
		case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
			h.logger.Warn("ws closed abnormally", zap.String("session_id", s.ID), zap.Error(err))
			return
		default:
			return
		}
		s.SetReadDeadline()
		h.router.Dispatch(ctx, s, frame)
	}
}
