// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package router

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielhkuo/bookclub-vote/cliparse"
	"github.com/danielhkuo/bookclub-vote/handlers"
	"github.com/danielhkuo/bookclub-vote/metrics"
	"github.com/danielhkuo/bookclub-vote/middleware"
	"github.com/danielhkuo/bookclub-vote/realtime"
)

// NewRouter wires every endpoint. Events are published through pub, which
// is either the hub itself or a Redis publisher relaying into it.
func NewRouter(db *sql.DB, cfg cliparse.Config, hub *realtime.Hub, pub realtime.Publisher, m *metrics.Metrics) *http.ServeMux {
	mux := http.NewServeMux()

	// Initialize handlers
	memberHandler := handlers.NewMemberHandler(db, cfg)
	bookHandler := handlers.NewBookHandler(db, cfg)
	meetingHandler := handlers.NewMeetingHandler(db, cfg, pub)
	pollHandler := handlers.NewPollHandler(db, cfg, pub, m)
	votingHandler := handlers.NewVotingHandler(db, cfg, pub, m)
	dateHandler := handlers.NewDateHandler(db, cfg)
	eventHandler := handlers.NewEventHandler(db, cfg, hub)

	handle := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, middleware.Instrument(m, pattern, h))
	}

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			slog.Warn("health check failed", "error", err)
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus scrape endpoint
	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}

	// Members
	handle("POST /members", memberHandler.Register)
	handle("GET /members", memberHandler.List)
	handle("GET /members/me", memberHandler.GetMe)

	// Waitlist
	handle("POST /books", bookHandler.Create)
	handle("GET /books", bookHandler.List)
	handle("DELETE /books/{id}", bookHandler.Delete)

	// Meetings
	handle("POST /meetings", meetingHandler.Create)
	handle("GET /meetings", meetingHandler.List)
	handle("GET /meetings/{id}", meetingHandler.Get)
	handle("POST /meetings/{id}/attend", meetingHandler.Attend)
	handle("DELETE /meetings/{id}/attend", meetingHandler.Unattend)
	handle("POST /meetings/{id}/complete", meetingHandler.Complete)
	handle("POST /meetings/{id}/reopen", meetingHandler.Reopen)
	handle("GET /meetings/{id}/polls", pollHandler.History)

	// Realtime poll events (long-lived, kept out of the latency histogram)
	mux.HandleFunc("GET /meetings/{id}/events", middleware.WithLogging(eventHandler.Subscribe))

	// Polls (admin operations)
	handle("POST /polls", pollHandler.StartPoll)
	handle("POST /polls/stop", pollHandler.StopVoting)
	handle("POST /polls/{id}/finalize", pollHandler.Finalize)
	handle("GET /polls/{id}/reveal", pollHandler.Reveal)

	// Polls (members)
	handle("GET /polls/open", pollHandler.GetOpenPoll)
	handle("GET /polls/{id}", pollHandler.GetPoll)
	handle("GET /polls/{id}/options", votingHandler.GetOptions)
	handle("POST /polls/{id}/votes", votingHandler.CastVote)
	handle("DELETE /polls/{id}/votes", votingHandler.WithdrawVote)

	// Meeting date selection
	handle("POST /date-rounds", dateHandler.Start)
	handle("GET /date-rounds", dateHandler.List)
	handle("POST /date-rounds/{id}/choices", dateHandler.Choose)
	handle("DELETE /date-rounds/{id}/choices/{date}", dateHandler.Unchoose)
	handle("POST /date-rounds/{id}/close", dateHandler.Close)

	// Root endpoint
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("bookclub-vote API v1"))
	})

	return mux
}
