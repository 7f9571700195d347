package integration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kasuganosora/questforge/server/api"
	apows "github.com/kasuganosora/questforge/server/api/ws"
	"github.com/kasuganosora/questforge/server/audit"
	"github.com/kasuganosora/questforge/server/config"
	"github.com/kasuganosora/questforge/server/game/notify"
	"github.com/kasuganosora/questforge/server/game/player"
	"github.com/kasuganosora/questforge/server/game/quest"
	"github.com/kasuganosora/questforge/server/game/queststore"
	"github.com/kasuganosora/questforge/server/game/reward"
	mw "github.com/kasuganosora/questforge/server/middleware"
	"github.com/kasuganosora/questforge/server/plugin/hook"
	"github.com/kasuganosora/questforge/server/resource"
	"github.com/kasuganosora/questforge/server/scheduler"
	"github.com/kasuganosora/questforge/server/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const adminKey = "integration-admin-key"

// RecordingWallet keeps every grant the reward service pays out.
type RecordingWallet struct {
	mu     sync.Mutex
	grants []reward.Grant
}

func (w *RecordingWallet) Grant(_ context.Context, g reward.Grant) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.grants = append(w.grants, g)
	return nil
}

// Grants returns a copy of the grants recorded so far.
func (w *RecordingWallet) Grants() []reward.Grant {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]reward.Grant(nil), w.grants...)
}

// TestServer wraps a real HTTP server with the quest engine wired together.
type TestServer struct {
	Quests   *quest.Service
	Rewards  *reward.Service
	Audit    *audit.Service
	Sched    *scheduler.Scheduler
	Sessions *apows.Sessions
	Wallet   *RecordingWallet
	Server   *httptest.Server
	URL      string // http://127.0.0.1:<port>
	WSURL    string // ws://127.0.0.1:<port>/ws
	Sec      config.SecurityConfig
}

// NewTestServer creates a fully wired quest server for integration testing.
// It mirrors the dependency wiring in main.go and loads the sample quests
// from the repository data directory.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	// ---- Infrastructure ----
	db := testutil.SetupTestDB(t)
	c, pubsub := testutil.SetupTestCache(t)
	logger := zap.NewNop()

	cfg := &config.Config{
		Server: config.ServerConfig{AdminKey: adminKey},
		Security: config.SecurityConfig{
			JWTSecret:      "integration-test-secret",
			JWTTTLH:        time.Hour,
			RateLimitRPS:   1000,
			RateLimitBurst: 2000,
		},
		Quest: config.QuestConfig{
			DataPath:      "../data/quests",
			LangPath:      "../data/lang",
			DefaultLocale: "en",
			EventDedupTTL: time.Hour,
			FeedLength:    20,
		},
	}

	// ---- Catalog ----
	res := resource.NewLoader(cfg.Quest.DataPath, cfg.Quest.LangPath, cfg.Quest.DefaultLocale)
	require.NoError(t, res.Load(), "load sample quests")
	catalog, err := res.BuildCatalog(quest.ResetPolicy{Location: time.UTC})
	require.NoError(t, err)

	// ---- Services ----
	store, err := queststore.NewCacheStore(queststore.NewGormStore(db, logger), c, time.Minute, logger)
	require.NoError(t, err)
	quests := quest.NewService(catalog, store, player.NewLocks(logger), logger)
	quests.SetDeduper(c, cfg.Quest.EventDedupTTL)

	wallet := &RecordingWallet{}
	rewards := reward.NewService(db, wallet, reward.Config{}, logger)
	auditSvc := audit.New(db, logger)
	t.Cleanup(func() { auditSvc.Stop(context.Background()) })

	center := hook.NewCenter(logger)
	notify.Install(center, notify.Deps{
		Issuer:     rewards,
		Auditor:    auditSvc,
		PubSub:     pubsub,
		Cache:      c,
		FeedLength: cfg.Quest.FeedLength,
		Logger:     logger,
	})
	quests.SetDispatcher(center)

	sched := scheduler.New(logger)
	t.Cleanup(sched.Stop)
	sched.AddTicker(scheduler.TaskRewardRetry, time.Hour, scheduler.RewardRetryTask(rewards, 100, logger))

	// ---- HTTP ----
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	sessions := apows.NewSessions(logger)
	r, err := api.NewRouter(ctx, api.Deps{
		Config:    cfg,
		Quests:    quests,
		Rewards:   rewards,
		Audit:     auditSvc,
		Scheduler: sched,
		Cache:     c,
		PubSub:    pubsub,
		Describer: res,
		Sessions:  sessions,
		Logger:    logger,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		closeCtx, done := context.WithTimeout(context.Background(), time.Second)
		defer done()
		sessions.CloseAll(closeCtx)
		srv.Close()
	})

	return &TestServer{
		Quests:   quests,
		Rewards:  rewards,
		Audit:    auditSvc,
		Sched:    sched,
		Sessions: sessions,
		Wallet:   wallet,
		Server:   srv,
		URL:      srv.URL,
		WSURL:    "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		Sec:      cfg.Security,
	}
}

// --- Auth helpers ---

// Token mints a JWT for role. playerID is required for player tokens.
func (ts *TestServer) Token(t *testing.T, role, playerID string) string {
	t.Helper()
	tok, err := mw.GenerateToken(playerID, role, ts.Sec.JWTSecret, ts.Sec.JWTTTLH)
	require.NoError(t, err)
	return tok
}

// --- HTTP helpers ---

// PostJSON sends a POST request with JSON body and optional auth token.
func (ts *TestServer) PostJSON(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(http.MethodPost, ts.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// Get sends a GET request with optional auth token.
func (ts *TestServer) Get(t *testing.T, path, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, ts.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// Admin sends a request to the admin API with the given key.
func (ts *TestServer) Admin(t *testing.T, method, path, key string, body interface{}) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+"/api/admin"+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Key", key)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// AdminKey is the key the test server accepts.
func (ts *TestServer) AdminKey() string { return adminKey }

// ReadJSON reads and decodes a JSON response body, closing it.
func ReadJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var m map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&m))
	return m
}

// ReadInto decodes a JSON response body into out, closing it.
func ReadInto(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

// --- WebSocket client ---

// WSClient is a game-server connection to the ingest socket.
type WSClient struct {
	Conn *websocket.Conn
	t    *testing.T
	seq  uint64
	recv chan *apows.Packet
	done chan struct{}
}

// ConnectWS dials the ingest socket with the given token.
func (ts *TestServer) ConnectWS(t *testing.T, token string) *WSClient {
	t.Helper()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := websocket.DefaultDialer.Dial(ts.WSURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	require.NoError(t, err, "ws dial")

	wc := &WSClient{
		Conn: conn,
		t:    t,
		recv: make(chan *apows.Packet, 64),
		done: make(chan struct{}),
	}
	go wc.readLoop()
	t.Cleanup(wc.Close)
	return wc
}

func (wc *WSClient) readLoop() {
	defer close(wc.done)
	for {
		_, data, err := wc.Conn.ReadMessage()
		if err != nil {
			return
		}
		var pkt apows.Packet
		if json.Unmarshal(data, &pkt) != nil {
			continue
		}
		select {
		case wc.recv <- &pkt:
		default:
			// drop if the test is not reading
		}
	}
}

// Send writes a packet with the next sequence number and returns it.
func (wc *WSClient) Send(msgType string, payload interface{}) uint64 {
	wc.t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(wc.t, err)
	seq := atomic.AddUint64(&wc.seq, 1)
	data, err := json.Marshal(apows.Packet{Seq: seq, Type: msgType, Payload: raw})
	require.NoError(wc.t, err)
	require.NoError(wc.t, wc.Conn.WriteMessage(websocket.TextMessage, data))
	return seq
}

// SendEvent pushes one quest event for playerID.
func (wc *WSClient) SendEvent(playerID string, ev quest.Event) uint64 {
	wc.t.Helper()
	return wc.Send(apows.TypeQuestEvent, apows.QuestEventPayload{PlayerID: playerID, Event: ev})
}

// RecvType waits for a packet of msgType, skipping others.
func (wc *WSClient) RecvType(msgType string, timeout time.Duration) *apows.Packet {
	wc.t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case pkt := <-wc.recv:
			if pkt.Type == msgType {
				return pkt
			}
		case <-wc.done:
			wc.t.Fatalf("ws closed while waiting for %q", msgType)
			return nil
		case <-deadline:
			wc.t.Fatalf("timeout waiting for %q", msgType)
			return nil
		}
	}
}

// Notices waits for the quest_notices reply and decodes it.
func (wc *WSClient) Notices(timeout time.Duration) apows.QuestNoticesPayload {
	wc.t.Helper()
	pkt := wc.RecvType(apows.TypeQuestNotices, timeout)
	var p apows.QuestNoticesPayload
	require.NoError(wc.t, json.Unmarshal(pkt.Payload, &p))
	return p
}

// Close closes the WebSocket connection.
func (wc *WSClient) Close() {
	_ = wc.Conn.Close()
}

// --- SSE client ---

// SSEEvent is one decoded server-sent event.
type SSEEvent struct {
	Name string
	Data string
}

// OpenSSE subscribes to a player's notice stream.
func (ts *TestServer) OpenSSE(t *testing.T, token, query string) <-chan SSEEvent {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/sse?"+query, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	t.Cleanup(func() { resp.Body.Close() })

	out := make(chan SSEEvent, 32)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(resp.Body)
		var ev SSEEvent
		for sc.Scan() {
			line := sc.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.Name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.Data = strings.TrimPrefix(line, "data: ")
			case line == "" && ev.Name != "":
				out <- ev
				ev = SSEEvent{}
			}
		}
	}()
	return out
}

// NextNotice waits for the next "notice" event and decodes it.
func NextNotice(t *testing.T, ch <-chan SSEEvent, timeout time.Duration) quest.Notice {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-ch:
			require.True(t, ok, "sse stream closed")
			if ev.Name != "notice" {
				continue
			}
			var n quest.Notice
			require.NoError(t, json.Unmarshal([]byte(ev.Data), &n))
			return n
		case <-deadline:
			t.Fatal("timeout waiting for sse notice")
			return quest.Notice{}
		}
	}
}

// UniqueID returns a short unique string suitable for player ids.
var testCounter uint64

func UniqueID(prefix string) string {
	n := atomic.AddUint64(&testCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano()%100000, n)
}
