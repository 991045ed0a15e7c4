package registry

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fusiongame/roomserver/internal/session"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newRegisteredSession upgrades a loopback connection, registers it with
// reg exactly the way transport/websocket.Server.handleUpgrade does, and
// runs its pumps in the background.
func newRegisteredSession(t *testing.T, reg *Registry) (*session.Session, *websocket.Conn, func()) {
	t.Helper()

	var sess *session.Session
	ready := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		sess = session.New(conn)
		handler := reg.Register(sess)
		sess.InstallInboundHandler(handler)
		close(ready)
		sess.Run()
		reg.Unregister(sess)
	}))

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		server.Close()
		t.Fatalf("dial failed: %v", err)
	}

	<-ready
	return sess, client, func() {
		client.Close()
		server.Close()
	}
}

func readJoinResult(t *testing.T, client *websocket.Conn) joinResultResponse {
	t.Helper()
	client.SetReadDeadline(time.Now().Add(time.Second))
	_, payload, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var resp joinResultResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	return resp
}

func TestRegisterThenUnregisterIsClean(t *testing.T) {
	reg := New()
	sess, _, cleanup := newRegisteredSession(t, reg)
	defer cleanup()

	if reg.SessionCount() != 1 {
		t.Fatalf("SessionCount() = %d, want 1", reg.SessionCount())
	}

	reg.Unregister(sess)
	if reg.SessionCount() != 0 {
		t.Fatalf("SessionCount() after unregister = %d, want 0", reg.SessionCount())
	}
}

func TestUnjoinedHandlerWarnsOnUnknownType(t *testing.T) {
	reg := New()
	_, client, cleanup := newRegisteredSession(t, reg)
	defer cleanup()

	req, _ := json.Marshal(map[string]string{"type": "ping"})
	if err := client.WriteMessage(websocket.TextMessage, req); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(time.Second))
	_, payload, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	var resp warningResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if resp.Type != "warning" || resp.Closed {
		t.Fatalf("resp = %+v, want a non-closing warning", resp)
	}
}

func TestJoinCreatesGame(t *testing.T) {
	reg := New()
	_, client, cleanup := newRegisteredSession(t, reg)
	defer cleanup()

	req, _ := json.Marshal(inboundRequest{Type: "join", Game: "alpha", Nick: "a"})
	if err := client.WriteMessage(websocket.TextMessage, req); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	resp := readJoinResult(t, client)
	if resp.Result != "joined" {
		t.Fatalf("result = %q, want %q", resp.Result, "joined")
	}
	if len(resp.Players) != 1 {
		t.Fatalf("players len = %d, want 1", len(resp.Players))
	}

	if _, ok := reg.Game("alpha"); !ok {
		t.Fatal("expected game \"alpha\" to exist")
	}
}

func TestJoinFullRoomReportsFull(t *testing.T) {
	reg := New()

	var cleanups []func()
	defer func() {
		for _, c := range cleanups {
			c()
		}
	}()

	for i := 0; i < 10; i++ {
		_, client, cleanup := newRegisteredSession(t, reg)
		cleanups = append(cleanups, cleanup)

		req, _ := json.Marshal(inboundRequest{Type: "join", Game: "full", Nick: "p"})
		if err := client.WriteMessage(websocket.TextMessage, req); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
		resp := readJoinResult(t, client)
		if resp.Result != "joined" {
			t.Fatalf("join %d result = %q, want joined", i, resp.Result)
		}
	}

	_, overflow, cleanup := newRegisteredSession(t, reg)
	cleanups = append(cleanups, cleanup)

	req, _ := json.Marshal(inboundRequest{Type: "join", Game: "full", Nick: "overflow"})
	if err := overflow.WriteMessage(websocket.TextMessage, req); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	resp := readJoinResult(t, overflow)
	if resp.Result != "full" {
		t.Fatalf("result = %q, want %q", resp.Result, "full")
	}

	g, ok := reg.Game("full")
	if !ok {
		t.Fatal("expected game \"full\" to exist")
	}
	if g.PlayerCount() != 10 {
		t.Fatalf("player count = %d, want 10", g.PlayerCount())
	}
}

func TestLastLeaverCleansUpGame(t *testing.T) {
	reg := New()
	sess, client, cleanup := newRegisteredSession(t, reg)
	defer cleanup()

	req, _ := json.Marshal(inboundRequest{Type: "join", Game: "solo", Nick: "a"})
	client.WriteMessage(websocket.TextMessage, req)
	readJoinResult(t, client)

	reg.Unregister(sess)

	if _, ok := reg.Game("solo"); ok {
		t.Fatal("expected game \"solo\" to be removed after last leaver")
	}
	if reg.SessionCount() != 0 {
		t.Fatalf("SessionCount() = %d, want 0", reg.SessionCount())
	}
}

func TestShutdownIsNoOpForUnregister(t *testing.T) {
	reg := New()
	sess, _, cleanup := newRegisteredSession(t, reg)
	defer cleanup()

	reg.Shutdown()
	reg.Unregister(sess)

	if reg.SessionCount() != 1 {
		t.Fatalf("SessionCount() after shutdown-then-unregister = %d, want 1 (unregister should be a no-op)", reg.SessionCount())
	}
}

func TestBroadcastIncrementsMetric(t *testing.T) {
	reg := New()

	_, sender, cleanup1 := newRegisteredSession(t, reg)
	defer cleanup1()
	_, receiver, cleanup2 := newRegisteredSession(t, reg)
	defer cleanup2()

	for _, client := range []*websocket.Conn{sender, receiver} {
		req, _ := json.Marshal(inboundRequest{Type: "join", Game: "broadcast-metric", Nick: "p"})
		if err := client.WriteMessage(websocket.TextMessage, req); err != nil {
			t.Fatalf("write failed: %v", err)
		}
		if resp := readJoinResult(t, client); resp.Result != "joined" {
			t.Fatalf("result = %q, want %q", resp.Result, "joined")
		}
	}

	if got := reg.Metrics().BroadcastsTotal; got != 0 {
		t.Fatalf("BroadcastsTotal before any frame = %d, want 0", got)
	}

	if err := sender.WriteMessage(websocket.TextMessage, []byte("hello room")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	receiver.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := receiver.ReadMessage(); err != nil {
		t.Fatalf("read failed: %v", err)
	}

	if got := reg.Metrics().BroadcastsTotal; got != 1 {
		t.Fatalf("BroadcastsTotal after one frame = %d, want 1", got)
	}
}

func TestWithMaxPerTeamLimitsRoomCapacity(t *testing.T) {
	// maxPerTeam=1 caps the room at one player per team; TeamRandom fills
	// the smaller team first, so it takes two successful joins (one per
	// team) before a third overflows.
	reg := New(WithMaxPerTeam(1))

	var cleanups []func()
	defer func() {
		for _, c := range cleanups {
			c()
		}
	}()

	for i, nick := range []string{"a", "b"} {
		_, client, cleanup := newRegisteredSession(t, reg)
		cleanups = append(cleanups, cleanup)
		req, _ := json.Marshal(inboundRequest{Type: "join", Game: "capped", Nick: nick})
		if err := client.WriteMessage(websocket.TextMessage, req); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
		if resp := readJoinResult(t, client); resp.Result != "joined" {
			t.Fatalf("join %d result = %q, want %q", i, resp.Result, "joined")
		}
	}

	_, overflow, cleanup := newRegisteredSession(t, reg)
	cleanups = append(cleanups, cleanup)
	req, _ := json.Marshal(inboundRequest{Type: "join", Game: "capped", Nick: "overflow"})
	if err := overflow.WriteMessage(websocket.TextMessage, req); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if resp := readJoinResult(t, overflow); resp.Result != "full" {
		t.Fatalf("overflow join result = %q, want %q", resp.Result, "full")
	}
}

func TestRegisterTwiceIsNoOp(t *testing.T) {
	reg := New()
	sess, _, cleanup := newRegisteredSession(t, reg)
	defer cleanup()

	before := reg.SessionCount()
	reg.Register(sess)
	if reg.SessionCount() != before {
		t.Fatalf("SessionCount() changed on duplicate register: %d -> %d", before, reg.SessionCount())
	}
}
