package services

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/qianlnk/werewolf-judge/models"
)

type fakeHandler struct {
	mutex    sync.Mutex
	received []Message
	err      error
}

func (h *fakeHandler) SubmitDecision(gameID string, playerID int, step Step, d models.Decision) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.received = append(h.received, Message{Type: "decision", Step: step, Decision: d})
	return h.err
}

func (h *fakeHandler) count() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.received)
}

func newWSServer(t *testing.T, wm *WebSocketManager) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		playerID, _ := strconv.Atoi(r.URL.Query().Get("player"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		wm.RegisterConnection("g1", playerID, conn, r.URL.Query().Get("connection_id"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, playerID int, connID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?player=" + strconv.Itoa(playerID) + "&connection_id=" + connID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var e Event
	if err := conn.ReadJSON(&e); err != nil {
		t.Fatalf("read: %v", err)
	}
	return e
}

func TestWebSocketBroadcastAndPrivate(t *testing.T) {
	wm := NewWebSocketManager(quietLogger())
	srv := newWSServer(t, wm)
	c0 := dial(t, srv, 0, "a")
	c1 := dial(t, srv, 1, "b")
	waitFor(t, func() bool { return wm.ConnectionCount("g1") == 2 })

	wm.Broadcast("g1", Event{Type: "announcement", Payload: "昨晚是平安夜"})
	for _, c := range []*websocket.Conn{c0, c1} {
		e := readEvent(t, c)
		if e.Type != "announcement" || e.GameID != "g1" {
			t.Fatalf("event = %+v", e)
		}
	}

	wm.SendToPlayer("g1", 1, Event{Type: "seer_result"})
	if e := readEvent(t, c1); e.Type != "seer_result" {
		t.Fatalf("private event = %+v", e)
	}
	// 未连接的玩家直接丢弃
	wm.SendToPlayer("g1", 7, Event{Type: "seer_result"})
}

func TestWebSocketDecisionMessage(t *testing.T) {
	wm := NewWebSocketManager(quietLogger())
	h := &fakeHandler{}
	wm.SetDecisionHandler(h)
	srv := newWSServer(t, wm)
	conn := dial(t, srv, 2, "a")
	waitFor(t, func() bool { return wm.ConnectionCount("g1") == 1 })

	msg := Message{Type: "decision", Step: StepVote, Decision: models.Decision{TargetID: models.Target(3)}}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return h.count() == 1 })
	h.mutex.Lock()
	got := h.received[0]
	h.err = errors.New("当前没有等待该玩家的决策")
	h.mutex.Unlock()
	if got.Step != StepVote || got.Decision.TargetID == nil || *got.Decision.TargetID != 3 {
		t.Fatalf("received = %+v", got)
	}

	if err := conn.WriteJSON(msg); err != nil {
		t.Fatal(err)
	}
	if e := readEvent(t, conn); e.Type != "error" {
		t.Fatalf("event = %+v", e)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{bad")); err != nil {
		t.Fatal(err)
	}
	if e := readEvent(t, conn); e.Type != "error" {
		t.Fatalf("event = %+v", e)
	}
}

func TestWebSocketReconnectReplacesOld(t *testing.T) {
	wm := NewWebSocketManager(quietLogger())
	srv := newWSServer(t, wm)
	old := dial(t, srv, 0, "a")
	waitFor(t, func() bool { return wm.ConnectionCount("g1") == 1 })

	fresh := dial(t, srv, 0, "b")
	old.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := old.ReadMessage(); err == nil {
		t.Fatal("old connection should be closed")
	}

	wm.Broadcast("g1", Event{Type: "game_state"})
	if e := readEvent(t, fresh); e.Type != "game_state" {
		t.Fatalf("event = %+v", e)
	}
	if n := wm.ConnectionCount("g1"); n != 1 {
		t.Fatalf("connections = %d", n)
	}
}
