package api

import (
	"encoding/json"
	"net/http"
	"time"

	"crossswap/apps/crossswap/internal/feed"
	"crossswap/apps/crossswap/internal/relayer"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	// Feed events are public
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// FeedHandler serves the polling view of the broadcast feed, the live event
// stream and relayer stats.
type FeedHandler struct {
	responder
	relayer *relayer.Relayer
	events  *feed.Hub
}

func NewFeedHandler(r *relayer.Relayer, events *feed.Hub, logger *zap.Logger) *FeedHandler {
	return &FeedHandler{responder: responder{logger: logger}, relayer: r, events: events}
}

// GetFeed handles GET /api/feed
func (h *FeedHandler) GetFeed(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, h.relayer.Feed())
}

// GetStats handles GET /api/stats
func (h *FeedHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, h.relayer.Stats())
}

// StreamEvents handles GET /api/events. Events are written as JSON lines
// until the client goes away.
func (h *FeedHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		h.writeErrorResponse(w, http.StatusNotImplemented, "stream_disabled", "Event stream is not enabled")
		return
	}

	ch, unsubscribe := h.events.Subscribe(256)
	defer unsubscribe()

	rc := http.NewResponseController(w)
	// The stream outlives the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Error("Streaming not supported", zap.Error(err))
		return
	}

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := enc.Encode(ev); err != nil {
				h.logger.Debug("Event stream closed", zap.Error(err))
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// StreamWebSocket handles GET /api/ws, the same events as StreamEvents over a
// WebSocket. Client messages are ignored apart from pongs.
func (h *FeedHandler) StreamWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		h.writeErrorResponse(w, http.StatusNotImplemented, "stream_disabled", "Event stream is not enabled")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ch, unsubscribe := h.events.Subscribe(256)
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case ev, ok := <-ch:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("WebSocket closed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
