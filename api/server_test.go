package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fusiongame/roomserver/internal/registry"
	wstransport "github.com/fusiongame/roomserver/transport/websocket"
)

// newGameViaRealJoin drives an actual WebSocket join through the transport
// layer so the resulting Game carries realistic occupancy, rather than
// reaching into registry internals from a test in another package.
func newGameViaRealJoin(t *testing.T, reg *registry.Registry, gameName, nick string) func() {
	t.Helper()
	_, cleanup := dialAndJoin(t, reg, gameName, nick)
	return cleanup
}

// dialAndJoin is like newGameViaRealJoin but also returns the live
// connection so a test can keep writing frames to it (e.g. to trigger a
// broadcast) after the join completes.
func dialAndJoin(t *testing.T, reg *registry.Registry, gameName, nick string) (*websocket.Conn, func()) {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find a free port: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	srv := wstransport.NewServer(addr, reg, wstransport.Config{})
	if !reg.StartAccepting(srv) {
		t.Fatal("StartAccepting returned false")
	}
	time.Sleep(20 * time.Millisecond)

	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://%s/ws", addr), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	req, _ := json.Marshal(map[string]string{"type": "join", "game": gameName, "nick": nick})
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("read join-result failed: %v", err)
	}

	return conn, func() {
		conn.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

func TestHandleHealth(t *testing.T) {
	srv := NewServer(registry.New())

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if body["status"] != "healthy" {
		t.Fatalf("status field = %q, want %q", body["status"], "healthy")
	}
}

func TestHandleListGamesEmpty(t *testing.T) {
	srv := NewServer(registry.New())

	req := httptest.NewRequest(http.MethodGet, "/api/games", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	var body struct {
		Count int   `json:"count"`
		Games []any `json:"games"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if body.Count != 0 || len(body.Games) != 0 {
		t.Fatalf("body = %+v, want an empty game list", body)
	}
}

func TestHandleGetGameNotFound(t *testing.T) {
	srv := NewServer(registry.New())

	req := httptest.NewRequest(http.MethodGet, "/api/games/missing", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleGetGameFound(t *testing.T) {
	reg := registry.New()
	cleanup := newGameViaRealJoin(t, reg, "alpha", "a")
	defer cleanup()

	srv := NewServer(reg)
	req := httptest.NewRequest(http.MethodGet, "/api/games/alpha", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var summary gameSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if summary.Name != "alpha" || summary.PlayerCount != 1 {
		t.Fatalf("summary = %+v, want name=alpha player_count=1", summary)
	}
}

func TestHandleStatsReflectsRegistry(t *testing.T) {
	reg := registry.New()
	srv := NewServer(reg)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	var body map[string]int64
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if body["sessions_active"] != 0 || body["games_active"] != 0 {
		t.Fatalf("body = %+v, want zeroed counters", body)
	}
}

func TestHandleStatsBroadcastsTotalAdvances(t *testing.T) {
	reg := registry.New()

	sender, cleanupSender := dialAndJoin(t, reg, "stats-broadcast", "sender")
	defer cleanupSender()
	receiver, cleanupReceiver := dialAndJoin(t, reg, "stats-broadcast", "receiver")
	defer cleanupReceiver()

	srv := NewServer(reg)

	statsBefore := readStats(t, srv)
	if statsBefore["broadcasts_total"] != 0 {
		t.Fatalf("broadcasts_total before any frame = %v, want 0", statsBefore["broadcasts_total"])
	}

	if err := sender.WriteMessage(websocket.TextMessage, []byte("hello room")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	receiver.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := receiver.ReadMessage(); err != nil {
		t.Fatalf("read failed: %v", err)
	}

	statsAfter := readStats(t, srv)
	if statsAfter["broadcasts_total"] != 1 {
		t.Fatalf("broadcasts_total after one frame = %v, want 1", statsAfter["broadcasts_total"])
	}
}

func readStats(t *testing.T, srv *Server) map[string]float64 {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	var body map[string]float64
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	return body
}
