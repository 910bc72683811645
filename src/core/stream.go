package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
)

// eventFilter selects which events a stream subscriber receives
type eventFilter map[EventType]bool

func parseEventFilter(raw string) eventFilter {
	if raw == "" {
		return nil
	}
	filter := make(eventFilter)
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part != "" {
			filter[EventType(part)] = true
		}
	}
	return filter
}

func (f eventFilter) allows(ev Event) bool {
	return len(f) == 0 || f[ev.Type]
}

// EventStreamHandler upgrades to a WebSocket and streams ledger events as JSON.
// The optional types query parameter takes a comma-separated list of event types.
func (s *APIServer) EventStreamHandler(w http.ResponseWriter, r *http.Request) {
	filter := parseEventFilter(r.URL.Query().Get("types"))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("Event stream upgrade failed", "error", err, "requestId", GetRequestID(r.Context()))
		return
	}
	defer conn.Close()

	events, cancel := s.ledger.Events().Subscribe(s.cfg.EventBuffer)
	defer cancel()

	logger.Info("Event stream subscriber connected", "remote", clientAddress(r, s.cfg.TrustProxyHeaders), "requestId", GetRequestID(r.Context()))

	// Reader goroutine only handles control frames and detects disconnects
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			logger.Info("Event stream subscriber disconnected", "requestId", GetRequestID(r.Context()))
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "event bus closed"))
				return
			}
			if !filter.allows(ev) {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				logger.Warn("Event stream write failed", "error", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
