package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/steward/internal/events"
)

const (
	writeWait         = 10 * time.Second
	keepaliveInterval = 30 * time.Second
	streamBuffer      = 64
)

// EventsStreamHandler streams vault events to websocket clients. Each
// connection gets its own buffered queue; a client that cannot keep up is
// disconnected rather than allowed to block the event bus.
type EventsStreamHandler struct {
	bus *events.Bus
	log zerolog.Logger
}

// NewEventsStreamHandler creates a new events stream handler.
func NewEventsStreamHandler(bus *events.Bus, log zerolog.Logger) *EventsStreamHandler {
	return &EventsStreamHandler{
		bus: bus,
		log: log.With().Str("component", "events_stream").Logger(),
	}
}

// ServeHTTP handles GET /ws/events. The optional `types` query parameter
// is a comma-separated list of event types to forward.
func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		http.Error(w, "Event streaming unavailable", http.StatusServiceUnavailable)
		return
	}

	var allowedTypes map[events.EventType]bool
	if typesFilter := r.URL.Query().Get("types"); typesFilter != "" {
		allowedTypes = make(map[events.EventType]bool)
		for _, t := range strings.Split(typesFilter, ",") {
			allowedTypes[events.EventType(strings.TrimSpace(t))] = true
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	h.log.Info().
		Str("remote", r.RemoteAddr).
		Int("type_filters", len(allowedTypes)).
		Msg("Events stream client connected")

	// Handlers run synchronously on the emitter's goroutine, so they only
	// enqueue; the writer goroutine below owns the connection.
	queue := make(chan *events.Event, streamBuffer)
	unsubscribe := h.bus.SubscribeAll(func(e *events.Event) {
		if allowedTypes != nil && !allowedTypes[e.Type] {
			return
		}
		select {
		case queue <- e:
		default:
			// Drop rather than block the vault on a slow client.
		}
	})
	defer unsubscribe()

	ctx := r.Context()
	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	// Drain client frames so pongs and close frames are processed.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				h.log.Debug().Err(err).Msg("Events stream keepalive failed")
				return
			}
		case event := <-queue:
			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := wsjson.Write(writeCtx, conn, event)
			cancel()
			if err != nil {
				h.log.Debug().Err(err).Msg("Events stream write failed, disconnecting")
				return
			}
		}
	}
}
