// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package realtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// ServeMeeting upgrades the request to a WebSocket and streams the events
// of meetingID until the client goes away. Incoming messages are ignored.
func (h *Hub) ServeMeeting(w http.ResponseWriter, r *http.Request, meetingID string) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err, "meeting_id", meetingID)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	// CloseRead discards client frames and cancels ctx once the peer closes.
	ctx := conn.CloseRead(r.Context())

	sub, err := h.Subscribe(ctx, meetingID)
	if err != nil {
		if errors.Is(err, ErrHubStopped) {
			conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		return
	}
	defer h.Unsubscribe(context.Background(), sub)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-sub.C:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "subscription closed")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				slog.Debug("websocket write failed", "error", err, "meeting_id", meetingID)
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}

		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}
