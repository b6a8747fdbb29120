// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"log/slog"
	"net/http"
	"sort"

	"github.com/danielhkuo/bookclub-vote/auth"
	"github.com/danielhkuo/bookclub-vote/cliparse"
	"github.com/danielhkuo/bookclub-vote/db"
	"github.com/danielhkuo/bookclub-vote/metrics"
	"github.com/danielhkuo/bookclub-vote/middleware"
	"github.com/danielhkuo/bookclub-vote/models"
	"github.com/danielhkuo/bookclub-vote/realtime"
	"github.com/danielhkuo/bookclub-vote/runoff"
)

type VotingHandler struct {
	db      *sql.DB
	cfg     cliparse.Config
	pub     realtime.Publisher
	metrics *metrics.Metrics
}

func NewVotingHandler(db *sql.DB, cfg cliparse.Config, pub realtime.Publisher, m *metrics.Metrics) *VotingHandler {
	return &VotingHandler{db: db, cfg: cfg, pub: pub, metrics: m}
}

// GetOptions handles GET /polls/{id}/options
// Lists what the caller may vote for in this round
func (h *VotingHandler) GetOptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	member, ok := authenticate(ctx, h.db, h.cfg, w, r)
	if !ok {
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

	prior, err := priorRounds(ctx, h.db, poll)
	if err != nil {
		slog.Error("failed to load prior rounds", "error", err, "poll_id", poll.ID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	elig := runoff.NextEligibility(prior, member.ID)

	books, err := ballotOptions(ctx, h.db, elig, member.ID)
	if err != nil {
		slog.Error("failed to load ballot options", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	banned := make([]string, 0, len(elig.Banned))
	for id := range elig.Banned {
		banned = append(banned, id)
	}
	sort.Strings(banned)

	resp := models.BallotOptionsResponse{
		PollID:     poll.ID,
		Round:      poll.Round,
		Books:      books,
		Banned:     banned,
		ExcludeOwn: elig.ExcludeOwn,
	}

	var myVote string
	err = h.db.QueryRowContext(ctx, `
		SELECT book_id FROM vote WHERE poll_id = $1 AND round = $2 AND member_id = $3
	`, poll.ID, poll.Round, member.ID).Scan(&myVote)
	switch {
	case err == nil:
		resp.MyVote = &myVote
	case err != sql.ErrNoRows:
		slog.Error("failed to query vote", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, resp)
}

// CastVote handles POST /polls/{id}/votes
// The vote always lands in the newest open round of the poll's meeting,
// which may be later than the one the client was looking at. When the last
// eligible voter's ballot arrives the round tally is written.
func (h *VotingHandler) CastVote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	member, ok := authenticate(ctx, h.db, h.cfg, w, r)
	if !ok {
		return
	}

	var req models.CastVoteRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.BookID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "book_id is required")
		return
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	defer tx.Rollback()

	target, err := getPoll(ctx, tx, r.PathValue("id"))
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "Poll not found")
		return
	}
	if err != nil {
		slog.Error("failed to query poll", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	poll, err := latestOpenPoll(ctx, tx, target.MeetingID)
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusConflict, "Voting is closed")
		return
	}
	if err != nil {
		slog.Error("failed to query open poll", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	if len(poll.Tally) > 0 {
		middleware.ErrorResponse(w, http.StatusConflict, "Round is complete and awaiting results")
		return
	}

	attending, err := isAttendee(ctx, tx, poll.MeetingID, member.ID)
	if err != nil {
		slog.Error("failed to query attendance", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	if !attending {
		middleware.ErrorResponse(w, http.StatusForbidden, "Only meeting attendees can vote")
		return
	}

	book, err := getBook(ctx, tx, req.BookID)
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "Book not found")
		return
	}
	if err != nil {
		slog.Error("failed to query book", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	prior, err := priorRounds(ctx, tx, poll)
	if err != nil {
		slog.Error("failed to load prior rounds", "error", err, "poll_id", poll.ID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	elig := runoff.NextEligibility(prior, member.ID)

	if elig.Banned[book.ID] {
		middleware.ErrorResponse(w, http.StatusConflict, "You already chose this book earlier in the tie-break")
		return
	}
	if !elig.Allows(book.ID) {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Book is not a finalist in this round")
		return
	}
	if !elig.Restricted {
		if book.IsSelected {
			middleware.ErrorResponse(w, http.StatusBadRequest, "Book is no longer on the waitlist")
			return
		}
		if elig.ExcludeOwn && book.MemberID == member.ID {
			middleware.ErrorResponse(w, http.StatusBadRequest, "You cannot vote for your own nomination in this round")
			return
		}
	}

	voteID := auth.NewID()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO vote (id, poll_id, round, member_id, book_id)
		VALUES ($1, $2, $3, $4, $5)
	`, voteID, poll.ID, poll.Round, member.ID, book.ID)
	if db.IsUniqueViolation(err) {
		middleware.ErrorResponse(w, http.StatusConflict, "You already voted in this round")
		return
	}
	if err != nil {
		slog.Error("failed to insert vote", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to record vote")
		return
	}

	if err := tx.Commit(); err != nil {
		if db.IsUniqueViolation(err) {
			middleware.ErrorResponse(w, http.StatusConflict, "You already voted in this round")
			return
		}
		slog.Error("failed to commit vote", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to record vote")
		return
	}

	// Runs after commit so concurrent final ballots see each other. The
	// guarded write records the tally at most once.
	complete, err := completeRound(ctx, h.db, poll)
	if err != nil {
		slog.Error("failed to check round completion", "error", err, "poll_id", poll.ID)
	}

	h.metrics.VoteCast()
	slog.Info("vote cast", "poll_id", poll.ID, "round", poll.Round, "member_id", member.ID)

	if complete {
		slog.Info("round complete", "poll_id", poll.ID, "round", poll.Round)
		publish(ctx, h.pub, pollEvent(models.EventRoundTallied, poll))
	}

	msg := "Vote recorded"
	if complete {
		msg = "Vote recorded; everyone has voted"
	}
	middleware.JSONResponse(w, http.StatusCreated, models.CastVoteResponse{
		VoteID:        voteID,
		PollID:        poll.ID,
		Round:         poll.Round,
		RoundComplete: complete,
		Message:       msg,
	})
}

// WithdrawVote handles DELETE /polls/{id}/votes
// Removes the caller's ballot while the round is still collecting votes
func (h *VotingHandler) WithdrawVote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	member, ok := authenticate(ctx, h.db, h.cfg, w, r)
	if !ok {
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
	if len(poll.Tally) > 0 {
		middleware.ErrorResponse(w, http.StatusConflict, "Round is complete and awaiting results")
		return
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM vote WHERE poll_id = $1 AND round = $2 AND member_id = $3
	`, poll.ID, poll.Round, member.ID)
	if err != nil {
		slog.Error("failed to delete vote", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to withdraw vote")
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		middleware.ErrorResponse(w, http.StatusNotFound, "No vote to withdraw")
		return
	}

	if err := tx.Commit(); err != nil {
		slog.Error("failed to commit withdrawal", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to withdraw vote")
		return
	}

	slog.Info("vote withdrawn", "poll_id", poll.ID, "round", poll.Round, "member_id", member.ID)
	w.WriteHeader(http.StatusNoContent)
}
