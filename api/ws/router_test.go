package ws

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mw "github.com/kasuganosora/questforge/server/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func nop() *zap.Logger { return zap.NewNop() }

// newSession creates a connectionless Session for dispatch tests.
func newSession(id string) *Session {
	return &Session{
		ID:       id,
		SendChan: make(chan []byte, 16),
		Done:     make(chan struct{}),
		logger:   nop(),
	}
}

func makePacket(t *testing.T, seq uint64, msgType string, payload interface{}) []byte {
	t.Helper()
	p, err := json.Marshal(payload)
	require.NoError(t, err)
	b, err := json.Marshal(Packet{Seq: seq, Type: msgType, Payload: p})
	require.NoError(t, err)
	return b
}

func recv(t *testing.T, s *Session) Packet {
	t.Helper()
	select {
	case raw := <-s.SendChan:
		var pkt Packet
		require.NoError(t, json.Unmarshal(raw, &pkt))
		return pkt
	case <-time.After(time.Second):
		t.Fatal("no packet sent")
		return Packet{}
	}
}

func errorOf(t *testing.T, pkt Packet) ErrorPayload {
	t.Helper()
	require.Equal(t, TypeError, pkt.Type)
	var e ErrorPayload
	require.NoError(t, json.Unmarshal(pkt.Payload, &e))
	return e
}

func TestRouter_DispatchBasic(t *testing.T) {
	r := NewRouter(nop())
	var trace string
	r.On("hello", func(ctx context.Context, _ *Session, _ *Packet) error {
		trace = mw.TraceFromContext(ctx)
		return nil
	})

	s := newSession("s1")
	r.Dispatch(context.Background(), s, makePacket(t, 1, "hello", nil))
	assert.NotEmpty(t, trace)
	assert.Equal(t, trace, s.Info().LastTraceID)
	assert.Equal(t, int64(1), s.Info().Received)
	assert.Empty(t, s.SendChan)
}

func TestRouter_Ping(t *testing.T) {
	r := NewRouter(nop())
	s := newSession("s1")
	r.Dispatch(context.Background(), s, makePacket(t, 3, TypePing, map[string]int{"ts": 7}))

	pkt := recv(t, s)
	assert.Equal(t, TypePong, pkt.Type)
	assert.Equal(t, uint64(3), pkt.Seq)
	assert.JSONEq(t, `{"ts":7}`, string(pkt.Payload))
}

func TestRouter_MalformedJSON(t *testing.T) {
	r := NewRouter(nop())
	s := newSession("s1")
	r.Dispatch(context.Background(), s, []byte("not json"))
	assert.Equal(t, "malformed", errorOf(t, recv(t, s)).Code)
}

func TestRouter_UnknownType(t *testing.T) {
	r := NewRouter(nop())
	s := newSession("s1")
	r.Dispatch(context.Background(), s, makePacket(t, 1, "nope", nil))
	pkt := recv(t, s)
	assert.Equal(t, uint64(1), pkt.Seq)
	assert.Equal(t, "unknown_type", errorOf(t, pkt).Code)
}

func TestRouter_SeqReplayRejected(t *testing.T) {
	r := NewRouter(nop())
	calls := 0
	r.On("x", func(context.Context, *Session, *Packet) error {
		calls++
		return nil
	})
	s := newSession("s1")

	r.Dispatch(context.Background(), s, makePacket(t, 5, "x", nil))
	r.Dispatch(context.Background(), s, makePacket(t, 5, "x", nil))
	r.Dispatch(context.Background(), s, makePacket(t, 4, "x", nil))
	assert.Equal(t, 1, calls)
	assert.Equal(t, "stale_seq", errorOf(t, recv(t, s)).Code)
	assert.Equal(t, "stale_seq", errorOf(t, recv(t, s)).Code)

	// seq 0 opts out of tracking
	r.Dispatch(context.Background(), s, makePacket(t, 0, "x", nil))
	r.Dispatch(context.Background(), s, makePacket(t, 0, "x", nil))
	r.Dispatch(context.Background(), s, makePacket(t, 6, "x", nil))
	assert.Equal(t, 4, calls)
	assert.Equal(t, uint64(6), s.Info().LastSeq)
}

func TestRouter_HandlerErrorCodes(t *testing.T) {
	r := NewRouter(nop())
	r.On("plain", func(context.Context, *Session, *Packet) error { return errors.New("boom") })
	r.On("coded", func(context.Context, *Session, *Packet) error {
		return &PacketError{Code: "bad_request", Err: errors.New("missing field")}
	})
	s := newSession("s1")

	r.Dispatch(context.Background(), s, makePacket(t, 1, "plain", nil))
	assert.Equal(t, "internal", errorOf(t, recv(t, s)).Code)

	r.Dispatch(context.Background(), s, makePacket(t, 2, "coded", nil))
	e := errorOf(t, recv(t, s))
	assert.Equal(t, "bad_request", e.Code)
	assert.Contains(t, e.Message, "missing field")
}

func TestSession_SendAfterCloseIsDropped(t *testing.T) {
	s := newSession("s1")
	s.Close()
	s.Close()
	assert.True(t, s.IsClosed())
	s.Send(&Packet{Type: "x"})
	assert.Empty(t, s.SendChan)
}
