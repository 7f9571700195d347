package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendChanBuf   = 256
	writeDeadline = 10 * time.Second
	readDeadline  = 60 * time.Second
	pingInterval  = 30 * time.Second
)

// Packet is the WS message envelope shared by both directions.
type Packet struct {
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Session is one connected event source, usually a game server shard.
type Session struct {
	ID      string
	Subject string // token subject, the service name for ingest clients
	Remote  string

	Conn     *websocket.Conn
	SendChan chan []byte
	Done     chan struct{}

	ConnectedAt time.Time

	mu       sync.Mutex
	lastSeq  uint64
	traceID  string
	received int64
	once     sync.Once
	logger   *zap.Logger
}

// NewSession wraps conn and starts its write goroutine.
func NewSession(id, subject, remote string, conn *websocket.Conn, logger *zap.Logger) *Session {
	s := &Session{
		ID:          id,
		Subject:     subject,
		Remote:      remote,
		Conn:        conn,
		SendChan:    make(chan []byte, sendChanBuf),
		Done:        make(chan struct{}),
		ConnectedAt: time.Now().UTC(),
		logger:      logger.With(zap.String("session_id", id), zap.String("subject", subject)),
	}
	go s.writePump()
	return s
}

// writePump drains SendChan into the connection and pings on an interval
// so dead peers are noticed before the read deadline.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer s.Conn.Close()
	for {
		select {
		case data := <-s.SendChan:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Warn("ws write error", zap.Error(err))
				s.Close()
				return
			}
		case <-ticker.C:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		case <-s.Done:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			_ = s.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send encodes pkt and queues it without blocking. Packets are dropped
// when the session is closed or its buffer is full.
func (s *Session) Send(pkt *Packet) {
	if s.IsClosed() {
		return
	}
	data, err := json.Marshal(pkt)
	if err != nil {
		s.logger.Error("encode packet", zap.String("type", pkt.Type), zap.Error(err))
		return
	}
	select {
	case s.SendChan <- data:
	case <-s.Done:
	default:
		s.logger.Warn("send channel full, dropping packet", zap.String("type", pkt.Type))
	}
}

// Reply sends a typed payload correlated to the request seq.
func (s *Session) Reply(seq uint64, msgType string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("encode payload", zap.String("type", msgType), zap.Error(err))
		return
	}
	s.Send(&Packet{Seq: seq, Type: msgType, Payload: raw})
}

// Close signals the writePump to shut down. Safe to call more than once.
func (s *Session) Close() {
	s.once.Do(func() { close(s.Done) })
}

// IsClosed reports whether Close has been called.
func (s *Session) IsClosed() bool {
	select {
	case <-s.Done:
		return true
	default:
		return false
	}
}

// SetReadDeadline pushes the read deadline out by readDeadline.
func (s *Session) SetReadDeadline() {
	_ = s.Conn.SetReadDeadline(time.Now().Add(readDeadline))
}

// acceptSeq records seq if it is newer than the last one seen. Zero disables
// tracking for that packet.
func (s *Session) acceptSeq(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq == 0 {
		return true
	}
	if seq <= s.lastSeq {
		return false
	}
	s.lastSeq = seq
	return true
}

func (s *Session) setTrace(id string) {
	s.mu.Lock()
	s.traceID = id
	s.received++
	s.mu.Unlock()
}

// SessionInfo is a point-in-time view of a session for the admin API.
type SessionInfo struct {
	ID          string    `json:"id"`
	Subject     string    `json:"subject"`
	Remote      string    `json:"remote"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeq     uint64    `json:"last_seq"`
	LastTraceID string    `json:"last_trace_id,omitempty"`
	Received    int64     `json:"received"`
}

// Info snapshots the session counters.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:          s.ID,
		Subject:     s.Subject,
		Remote:      s.Remote,
		ConnectedAt: s.ConnectedAt,
		LastSeq:     s.lastSeq,
		LastTraceID: s.traceID,
		Received:    s.received,
	}
}
