package ws

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	mw "github.com/kasuganosora/questforge/server/middleware"
	"go.uber.org/zap"
)

// Packet types.
const (
	TypeQuestEvent   = "quest_event"
	TypeQuestNotices = "quest_notices"
	TypePing         = "ping"
	TypePong         = "pong"
	TypeError        = "error"
)

// HandlerFunc processes one decoded packet. A returned error is reported to
// the peer as an error packet carrying the request seq.
type HandlerFunc func(ctx context.Context, s *Session, pkt *Packet) error

// ErrorPayload is the body of an error packet.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PacketError lets handlers choose the error code sent back to the peer.
type PacketError struct {
	Code string
	Err  error
}

func (e *PacketError) Error() string { return e.Code + ": " + e.Err.Error() }

func (e *PacketError) Unwrap() error { return e.Err }

// Router dispatches incoming WS packets to registered handlers.
type Router struct {
	handlers map[string]HandlerFunc
	logger   *zap.Logger
}

// NewRouter creates a Router that already answers ping packets.
func NewRouter(logger *zap.Logger) *Router {
	r := &Router{
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}
	r.On(TypePing, func(_ context.Context, s *Session, pkt *Packet) error {
		s.Send(&Packet{Seq: pkt.Seq, Type: TypePong, Payload: pkt.Payload})
		return nil
	})
	return r
}

// On registers fn for msgType, replacing any previous handler.
func (r *Router) On(msgType string, fn HandlerFunc) {
	r.handlers[msgType] = fn
}

// Dispatch decodes raw, rejects replayed seqs and runs the matching handler.
func (r *Router) Dispatch(ctx context.Context, s *Session, raw []byte) {
	var pkt Packet
	if err := json.Unmarshal(raw, &pkt); err != nil {
		r.logger.Warn("malformed packet", zap.String("session_id", s.ID), zap.Error(err))
		s.Reply(0, TypeError, ErrorPayload{Code: "malformed", Message: err.Error()})
		return
	}

	if !s.acceptSeq(pkt.Seq) {
		r.logger.Warn("replayed or out-of-order packet",
			zap.String("session_id", s.ID),
			zap.Uint64("seq", pkt.Seq))
		s.Reply(pkt.Seq, TypeError, ErrorPayload{Code: "stale_seq", Message: "seq already seen"})
		return
	}

	traceID := uuid.NewString()
	s.setTrace(traceID)
	ctx = mw.WithTrace(ctx, traceID)

	fn, ok := r.handlers[pkt.Type]
	if !ok {
		s.Reply(pkt.Seq, TypeError, ErrorPayload{Code: "unknown_type", Message: pkt.Type})
		return
	}

	if err := fn(ctx, s, &pkt); err != nil {
		code := "internal"
		var pe *PacketError
		if errors.As(err, &pe) {
			code = pe.Code
		}
		r.logger.Warn("packet handler error",
			zap.String("type", pkt.Type),
			zap.String("session_id", s.ID),
			zap.String("trace_id", traceID),
			zap.String("code", code),
			zap.Error(err))
		s.Reply(pkt.Seq, TypeError, ErrorPayload{Code: code, Message: err.Error()})
	}
}
