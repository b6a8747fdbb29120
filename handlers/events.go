// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/danielhkuo/bookclub-vote/auth"
	"github.com/danielhkuo/bookclub-vote/cliparse"
	"github.com/danielhkuo/bookclub-vote/middleware"
	"github.com/danielhkuo/bookclub-vote/realtime"
)

type EventHandler struct {
	db  *sql.DB
	cfg cliparse.Config
	hub *realtime.Hub
}

func NewEventHandler(db *sql.DB, cfg cliparse.Config, hub *realtime.Hub) *EventHandler {
	return &EventHandler{db: db, cfg: cfg, hub: hub}
}

// Subscribe handles GET /meetings/{id}/events
// Upgrades to a WebSocket that receives poll events for the meeting.
// Browsers can't set headers on the upgrade, so ?token= is accepted too.
func (h *EventHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token, err := auth.TokenFromRequest(r)
	if err != nil {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		middleware.ErrorResponse(w, http.StatusUnauthorized, "Member token required")
		return
	}
	member, ok := memberForToken(ctx, h.db, h.cfg, w, token)
	if !ok {
		return
	}

	meetingID := r.PathValue("id")
	var id string
	err = h.db.QueryRowContext(ctx, `SELECT id FROM meeting WHERE id = $1`, meetingID).Scan(&id)
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "Meeting not found")
		return
	}
	if err != nil {
		slog.Error("failed to query meeting", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	slog.Info("realtime subscriber connected", "meeting_id", meetingID, "member_id", member.ID)
	h.hub.ServeMeeting(w, r, meetingID)
	slog.Info("realtime subscriber disconnected", "meeting_id", meetingID, "member_id", member.ID)
}
