package livefeed

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/linnemanlabs/quell/internal/pipeline"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != n && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.ClientCount() != n {
		t.Fatalf("ClientCount = %d, want %d", h.ClientCount(), n)
	}
}

func TestHub_BroadcastsRunComplete(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	srv := httptest.NewServer(h)
	defer srv.Close()
	defer h.Close()

	conn := dial(t, srv)
	waitForClients(t, h, 1)

	run := &pipeline.Run{ID: "run-1", Status: pipeline.StatusComplete, Reduction: 42}
	if err := h.RunComplete(context.Background(), run); err != nil {
		t.Fatalf("RunComplete: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}

	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if ev.Type != "run_complete" {
		t.Errorf("Type = %q, want run_complete", ev.Type)
	}
	if ev.Run == nil || ev.Run.ID != "run-1" || ev.Run.Reduction != 42 {
		t.Errorf("Run = %+v", ev.Run)
	}
}

func TestHub_BroadcastsRunFailed(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	srv := httptest.NewServer(h)
	defer srv.Close()
	defer h.Close()

	conn := dial(t, srv)
	waitForClients(t, h, 1)

	run := &pipeline.Run{ID: "run-2", Status: pipeline.StatusFailed, Error: "bad batch"}
	if err := h.RunComplete(context.Background(), run); err != nil {
		t.Fatalf("RunComplete: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}

	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if ev.Type != "run_failed" {
		t.Errorf("Type = %q, want run_failed", ev.Type)
	}
}

func TestHub_MultipleSubscribers(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	srv := httptest.NewServer(h)
	defer srv.Close()
	defer h.Close()

	c1 := dial(t, srv)
	c2 := dial(t, srv)
	waitForClients(t, h, 2)

	h.RunComplete(context.Background(), &pipeline.Run{ID: "run-2"})

	for i, conn := range []*websocket.Conn{c1, c2} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("subscriber %d ReadMessage: %v", i, err)
		}
		if !strings.Contains(string(data), "run-2") {
			t.Errorf("subscriber %d got %s", i, data)
		}
	}
}

func TestHub_DropsDeadClient(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	srv := httptest.NewServer(h)
	defer srv.Close()
	defer h.Close()

	conn := dial(t, srv)
	waitForClients(t, h, 1)
	conn.Close()

	// first broadcast after close may still succeed at the TCP level;
	// give the hub a couple of attempts to notice
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() > 0 && time.Now().Before(deadline) {
		h.RunComplete(context.Background(), &pipeline.Run{ID: "run-3"})
		time.Sleep(20 * time.Millisecond)
	}
	if h.ClientCount() != 0 {
		t.Errorf("ClientCount = %d, want 0 after client closed", h.ClientCount())
	}
}

func TestHub_NoSubscribersIsFine(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	if err := h.RunComplete(context.Background(), &pipeline.Run{ID: "run-4"}); err != nil {
		t.Fatalf("RunComplete with no clients: %v", err)
	}
}
