// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"

	"github.com/danielhkuo/bookclub-vote/auth"
	"github.com/danielhkuo/bookclub-vote/cliparse"
	"github.com/danielhkuo/bookclub-vote/metrics"
	"github.com/danielhkuo/bookclub-vote/middleware"
	"github.com/danielhkuo/bookclub-vote/models"
	"github.com/danielhkuo/bookclub-vote/realtime"
	"github.com/danielhkuo/bookclub-vote/runoff"
)

type PollHandler struct {
	db      *sql.DB
	cfg     cliparse.Config
	pub     realtime.Publisher
	metrics *metrics.Metrics

	// shuffle orders the reveal deck; tests make it deterministic
	shuffle func(n int, swap func(i, j int))
}

func NewPollHandler(db *sql.DB, cfg cliparse.Config, pub realtime.Publisher, m *metrics.Metrics) *PollHandler {
	return &PollHandler{db: db, cfg: cfg, pub: pub, metrics: m, shuffle: rand.Shuffle}
}

// StartPoll handles POST /polls
// Opens round 1 of a new poll series. Without a meeting_id the most recent
// past meeting is used.
func (h *PollHandler) StartPoll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := authenticateAdmin(ctx, h.db, h.cfg, w, r); !ok {
		return
	}

	var req models.StartPollRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil && err != io.EOF {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	defer tx.Rollback()

	var meeting models.Meeting
	if req.MeetingID != "" {
		meeting, err = getMeeting(ctx, tx, req.MeetingID)
	} else {
		meeting, err = latestPastMeeting(ctx, tx)
	}
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "No meeting to start a poll for")
		return
	}
	if err != nil {
		slog.Error("failed to query meeting", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	if len(meeting.Attendees) == 0 {
		middleware.ErrorResponse(w, http.StatusConflict, "Meeting has no attendees to vote")
		return
	}

	if _, err := latestOpenPoll(ctx, tx, meeting.ID); err == nil {
		middleware.ErrorResponse(w, http.StatusConflict, "A poll is already open for this meeting")
		return
	} else if err != sql.ErrNoRows {
		slog.Error("failed to query open poll", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	pollID := auth.NewID()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO poll (id, series_id, meeting_id, round, tally, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, pollID, pollID, meeting.ID, 1, "{}", models.StatusOpen)
	if err != nil {
		slog.Error("failed to insert poll", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to start poll")
		return
	}

	poll, err := getPoll(ctx, tx, pollID)
	if err != nil {
		slog.Error("failed to reload poll", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	if err := tx.Commit(); err != nil {
		slog.Error("failed to commit poll", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to start poll")
		return
	}

	slog.Info("poll started", "poll_id", pollID, "meeting_id", meeting.ID, "voters", len(meeting.Attendees))
	publish(ctx, h.pub, pollEvent(models.EventPollStarted, poll))

	middleware.JSONResponse(w, http.StatusCreated, poll)
}

// GetOpenPoll handles GET /polls/open
// Returns the newest open round, optionally for ?meeting_id=
func (h *PollHandler) GetOpenPoll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := authenticate(ctx, h.db, h.cfg, w, r); !ok {
		return
	}

	poll, err := latestOpenPoll(ctx, h.db, r.URL.Query().Get("meeting_id"))
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "No open poll")
		return
	}
	if err != nil {
		slog.Error("failed to query open poll", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, poll)
}

// GetPoll handles GET /polls/{id}
func (h *PollHandler) GetPoll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := authenticate(ctx, h.db, h.cfg, w, r); !ok {
		return
	}

	poll, err := getPoll(ctx, h.db, r.PathValue("id"))
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "Poll not found")
		return
	}
	if err != nil {
		slog.Error("failed to query poll", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, poll)
}

// History handles GET /meetings/{id}/polls
// Every round of every series spawned from the meeting, oldest first
func (h *PollHandler) History(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := authenticate(ctx, h.db, h.cfg, w, r); !ok {
		return
	}

	polls, err := queryPolls(ctx, h.db, `
		SELECT `+pollColumns+` FROM poll
		WHERE meeting_id = $1
		ORDER BY created_at, round
	`, r.PathValue("id"))
	if err != nil {
		slog.Error("failed to query poll history", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.PollHistoryResponse{Polls: polls})
}

// Finalize handles POST /polls/{id}/finalize
// Decides a fully voted round. Unless a book wins, the next round of the
// series is opened in the same transaction.
func (h *PollHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := authenticateAdmin(ctx, h.db, h.cfg, w, r); !ok {
		return
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	defer tx.Rollback()

	poll, err := getPoll(ctx, tx, r.PathValue("id"))
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "Poll not found")
		return
	}
	if err != nil {
		slog.Error("failed to query poll", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	if poll.Status != models.StatusOpen {
		middleware.ErrorResponse(w, http.StatusConflict, "Round already finalized")
		return
	}
	if len(poll.Tally) == 0 {
		middleware.ErrorResponse(w, http.StatusConflict, "Round is still collecting votes")
		return
	}

	prior, err := priorRounds(ctx, tx, poll)
	if err != nil {
		slog.Error("failed to load prior rounds", "error", err, "poll_id", poll.ID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	voters, err := attendeeIDs(ctx, tx, poll.MeetingID)
	if err != nil {
		slog.Error("failed to load attendees", "error", err, "meeting_id", poll.MeetingID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	result := runoff.Resolve(prior, poll.Tally, len(voters))
	winner := result.WinnerValue()

	res, err := tx.ExecContext(ctx, `
		UPDATE poll SET status = $1, winner = $2
		WHERE id = $3 AND status = $4
	`, models.StatusComplete, winner, poll.ID, models.StatusOpen)
	if err != nil {
		slog.Error("failed to finalize poll", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to finalize round")
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		middleware.ErrorResponse(w, http.StatusConflict, "Round already finalized")
		return
	}
	poll.Status = models.StatusComplete
	poll.Winner = &winner

	var next *models.Poll
	if result.Outcome != runoff.OutcomeWinner {
		nextID := auth.NewID()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO poll (id, series_id, meeting_id, round, tally, status)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, nextID, poll.SeriesID, poll.MeetingID, poll.Round+1, "{}", models.StatusOpen)
		if err != nil {
			slog.Error("failed to open next round", "error", err)
			middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to finalize round")
			return
		}
		p, err := getPoll(ctx, tx, nextID)
		if err != nil {
			slog.Error("failed to reload next round", "error", err)
			middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
			return
		}
		next = &p
	}

	if err := tx.Commit(); err != nil {
		slog.Error("failed to commit finalization", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to finalize round")
		return
	}

	h.metrics.RoundFinalized(string(result.Outcome))
	slog.Info("round finalized",
		"poll_id", poll.ID,
		"round", poll.Round,
		"outcome", result.Outcome,
		"winner", winner,
	)

	publish(ctx, h.pub, pollEvent(models.EventRoundFinalized, poll))
	if next != nil {
		publish(ctx, h.pub, pollEvent(models.EventPollStarted, *next))
	}

	middleware.JSONResponse(w, http.StatusOK, models.FinalizeRoundResponse{
		Poll:     poll,
		Result:   result,
		NextPoll: next,
	})
}

// StopVoting handles POST /polls/stop
// Closes every open round without a decision, optionally only for
// ?meeting_id=
func (h *PollHandler) StopVoting(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := authenticateAdmin(ctx, h.db, h.cfg, w, r); !ok {
		return
	}

	stopped, err := h.stopOpenPolls(ctx, r.URL.Query().Get("meeting_id"))
	if err != nil {
		slog.Error("failed to stop polls", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to stop voting")
		return
	}

	slog.Info("voting stopped", "polls", len(stopped))
	for _, p := range stopped {
		publish(ctx, h.pub, pollEvent(models.EventPollStopped, p))
	}

	middleware.JSONResponse(w, http.StatusOK, models.StopPollsResponse{Stopped: len(stopped)})
}

func (h *PollHandler) stopOpenPolls(ctx context.Context, meetingID string) ([]models.Poll, error) {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var open []models.Poll
	if meetingID == "" {
		open, err = queryPolls(ctx, tx, `SELECT `+pollColumns+` FROM poll WHERE status = $1`, models.StatusOpen)
	} else {
		open, err = queryPolls(ctx, tx, `SELECT `+pollColumns+` FROM poll WHERE meeting_id = $1 AND status = $2`, meetingID, models.StatusOpen)
	}
	if err != nil {
		return nil, err
	}

	for i := range open {
		if _, err := tx.ExecContext(ctx, `UPDATE poll SET status = $1 WHERE id = $2`, models.StatusComplete, open[i].ID); err != nil {
			return nil, err
		}
		open[i].Status = models.StatusComplete
	}

	return open, tx.Commit()
}

// Reveal handles GET /polls/{id}/reveal
// Returns the round's votes as a shuffled deck for the admin's
// card-by-card reveal, seeded with the counts of the tie streak before it
func (h *PollHandler) Reveal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := authenticateAdmin(ctx, h.db, h.cfg, w, r); !ok {
		return
	}

	poll, err := getPoll(ctx, h.db, r.PathValue("id"))
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "Poll not found")
		return
	}
	if err != nil {
		slog.Error("failed to query poll", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	if len(poll.Tally) == 0 {
		middleware.ErrorResponse(w, http.StatusConflict, "Round is still collecting votes")
		return
	}

	prior, err := priorRounds(ctx, h.db, poll)
	if err != nil {
		slog.Error("failed to load prior rounds", "error", err, "poll_id", poll.ID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	voters, err := attendeeIDs(ctx, h.db, poll.MeetingID)
	if err != nil {
		slog.Error("failed to load attendees", "error", err, "meeting_id", poll.MeetingID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	deck := runoff.Deck(poll.Tally, h.shuffle)
	priorCounts := runoff.PriorTieCounts(prior)

	ids := append([]string{}, deck...)
	for id := range priorCounts {
		ids = append(ids, id)
	}
	books, err := booksByID(ctx, h.db, ids)
	if err != nil {
		slog.Error("failed to load reveal books", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.RevealResponse{
		PollID:      poll.ID,
		Round:       poll.Round,
		Deck:        deck,
		PriorCounts: priorCounts,
		Books:       books,
		Result:      runoff.Resolve(prior, poll.Tally, len(voters)),
	})
}
