package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"crossswap/apps/crossswap/internal/events"
	"crossswap/apps/crossswap/internal/feed"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func TestWebSocketStream(t *testing.T) {
	_, r := newTestServer(t)
	hub := feed.NewHub(zap.NewNop())
	s, err := NewServer(0, Dependencies{Relayer: r, Events: hub}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws", nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("status = %d, want 101", resp.StatusCode)
	}

	received := make(chan events.SwapEvent, 1)
	go func() {
		for {
			var ev events.SwapEvent
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			select {
			case received <- ev:
			default:
			}
		}
	}()

	// Publish until the handler has subscribed.
	want := events.SwapEvent{EventID: "e1", EventType: events.SecretRevealed, OrderHash: "0xaa"}
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-received:
			if got.EventID != want.EventID || got.EventType != want.EventType || got.OrderHash != want.OrderHash {
				t.Fatalf("received %+v, want %+v", got, want)
			}
			return
		case <-ticker.C:
			_ = hub.Publish(context.Background(), want)
		case <-deadline:
			t.Fatal("no event received over websocket")
		}
	}
}

func TestStreamsDisabledWithoutHub(t *testing.T) {
	h, _ := newTestServer(t)
	for _, path := range []string{"/api/events", "/api/ws"} {
		rec := do(t, h, "GET", path, nil)
		expectStatus(t, rec, http.StatusNotImplemented)
	}
}
