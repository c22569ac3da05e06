package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"govtoken/internal/domain"
	"govtoken/internal/events"
	"govtoken/internal/repository/postgres"
	"govtoken/pkg/logger"
	"govtoken/pkg/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// EventStore lists persisted events.
type EventStore interface {
	RecentEvents(ctx context.Context, typ domain.EventType, limit int) ([]postgres.EventRecord, error)
}

// EventsHandler streams live events and serves the persisted event log.
type EventsHandler struct {
	hub      *events.Hub
	store    EventStore
	logger   logger.Logger
	metrics  *metrics.Collector
	upgrader websocket.Upgrader
}

// NewEventsHandler creates an EventsHandler. store may be nil when the
// service runs without a database. An empty origins list accepts any origin.
func NewEventsHandler(hub *events.Hub, store EventStore, log logger.Logger, m *metrics.Collector, origins []string) *EventsHandler {
	return &EventsHandler{
		hub:     hub,
		store:   store,
		logger:  log,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(origins),
		},
	}
}

// originChecker admits requests without an Origin header (non-browser
// clients) and browser requests whose origin is listed.
func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if len(allowed) == 0 || origin == "" {
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(strings.TrimSpace(o), origin) {
				return true
			}
		}
		return false
	}
}

func eventTypes(r *http.Request) []domain.EventType {
	raw := r.URL.Query().Get("types")
	if raw == "" {
		return nil
	}
	var out []domain.EventType
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, domain.EventType(strings.ToUpper(t)))
		}
	}
	return out
}

// Stream upgrades to a websocket and forwards committed events, optionally
// filtered with ?types=TRANSFER,MINT.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer conn.Close()

	stream, cancel := h.hub.Subscribe(eventTypes(r)...)
	defer cancel()
	if h.metrics != nil {
		h.metrics.StreamClientConnected()
		defer h.metrics.StreamClientDisconnected()
	}
	h.logger.Info("Event stream client connected", map[string]interface{}{"remote": r.RemoteAddr})

	// The read loop only services control frames and notices disconnects.
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-stream:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Warn("Failed to send event", map[string]interface{}{"error": err.Error()})
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			h.logger.Info("Event stream client disconnected", map[string]interface{}{"remote": r.RemoteAddr})
			return
		case <-r.Context().Done():
			return
		}
	}
}

// Recent returns persisted events, newest first.
func (h *EventsHandler) Recent(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		respondError(w, http.StatusServiceUnavailable, "Event log not available")
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	var typ domain.EventType
	if types := eventTypes(r); len(types) > 0 {
		typ = types[0]
	}
	records, err := h.store.RecentEvents(r.Context(), typ, limit)
	if err != nil {
		h.logger.Error("Failed to fetch events", map[string]interface{}{"error": err.Error()})
		respondError(w, http.StatusInternalServerError, "Failed to fetch events")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"events": records, "limit": limit})
}
