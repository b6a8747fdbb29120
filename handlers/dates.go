// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/danielhkuo/bookclub-vote/auth"
	"github.com/danielhkuo/bookclub-vote/cliparse"
	"github.com/danielhkuo/bookclub-vote/db"
	"github.com/danielhkuo/bookclub-vote/middleware"
	"github.com/danielhkuo/bookclub-vote/models"
)

// topDateCount is how many dates survive when a date round closes.
const topDateCount = 3

type DateHandler struct {
	db  *sql.DB
	cfg cliparse.Config
	now func() time.Time
}

func NewDateHandler(db *sql.DB, cfg cliparse.Config) *DateHandler {
	return &DateHandler{db: db, cfg: cfg, now: time.Now}
}

// Start handles POST /date-rounds
// Opens availability voting for the month two after the latest meeting
func (h *DateHandler) Start(w http.ResponseWriter, r *http.Request) {
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

	var openID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM date_round WHERE status = $1 LIMIT 1`, models.DateRoundOpen).Scan(&openID)
	if err == nil {
		middleware.ErrorResponse(w, http.StatusConflict, "A date round is already open")
		return
	}
	if err != sql.ErrNoRows {
		slog.Error("failed to query date rounds", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	base := h.now()
	var latest string
	err = tx.QueryRowContext(ctx, `SELECT meeting_date FROM meeting ORDER BY meeting_date DESC LIMIT 1`).Scan(&latest)
	switch {
	case err == nil:
		if d, perr := time.Parse(dateLayout, latest); perr == nil {
			base = d
		}
	case err != sql.ErrNoRows:
		slog.Error("failed to query latest meeting", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	year, month := targetMonth(base)

	roundID := auth.NewID()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO date_round (id, status, year, month, top_dates)
		VALUES ($1, $2, $3, $4, $5)
	`, roundID, models.DateRoundOpen, year, int(month), "[]")
	if err != nil {
		slog.Error("failed to insert date round", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to start date round")
		return
	}

	round, err := getDateRound(ctx, tx, roundID)
	if err != nil {
		slog.Error("failed to reload date round", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	if err := tx.Commit(); err != nil {
		slog.Error("failed to commit date round", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to start date round")
		return
	}

	slog.Info("date round started", "round_id", roundID, "year", year, "month", int(month))
	middleware.JSONResponse(w, http.StatusCreated, round)
}

// List handles GET /date-rounds
// Open round first, then closed rounds newest first, each with per-date counts
func (h *DateHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := authenticate(ctx, h.db, h.cfg, w, r); !ok {
		return
	}

	rounds, err := listDateRounds(ctx, h.db)
	if err != nil {
		slog.Error("failed to list date rounds", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.DateRoundsResponse{Rounds: rounds})
}

// Choose handles POST /date-rounds/{id}/choices
// Marks the caller available on a date within the round's month
func (h *DateHandler) Choose(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	member, ok := authenticate(ctx, h.db, h.cfg, w, r)
	if !ok {
		return
	}

	var req models.ChooseDateRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	round, ok := h.openRound(w, r)
	if !ok {
		return
	}
	if date.Year() != round.Year || int(date.Month()) != round.Month {
		middleware.ErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("date must fall in %04d-%02d", round.Year, round.Month))
		return
	}

	_, err = h.db.ExecContext(ctx, `
		INSERT INTO date_choice (round_id, member_id, selected_date) VALUES ($1, $2, $3)
	`, round.ID, member.ID, req.Date)
	if err != nil && !db.IsUniqueViolation(err) {
		slog.Error("failed to insert date choice", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to save availability")
		return
	}

	h.respondRound(w, r, round.ID, http.StatusCreated)
}

// Unchoose handles DELETE /date-rounds/{id}/choices/{date}
func (h *DateHandler) Unchoose(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	member, ok := authenticate(ctx, h.db, h.cfg, w, r)
	if !ok {
		return
	}

	round, ok := h.openRound(w, r)
	if !ok {
		return
	}

	_, err := h.db.ExecContext(ctx, `
		DELETE FROM date_choice WHERE round_id = $1 AND member_id = $2 AND selected_date = $3
	`, round.ID, member.ID, r.PathValue("date"))
	if err != nil {
		slog.Error("failed to delete date choice", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to save availability")
		return
	}

	h.respondRound(w, r, round.ID, http.StatusOK)
}

// Close handles POST /date-rounds/{id}/close
// Keeps the most popular dates and closes the round
func (h *DateHandler) Close(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := authenticateAdmin(ctx, h.db, h.cfg, w, r); !ok {
		return
	}

	round, ok := h.openRound(w, r)
	if !ok {
		return
	}

	top, err := json.Marshal(topDates(round.Choices, topDateCount))
	if err != nil {
		slog.Error("failed to encode top dates", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to close date round")
		return
	}

	res, err := h.db.ExecContext(ctx, `
		UPDATE date_round SET status = $1, closed_at = $2, top_dates = $3
		WHERE id = $4 AND status = $5
	`, models.DateRoundClosed, h.now().UTC(), string(top), round.ID, models.DateRoundOpen)
	if err != nil {
		slog.Error("failed to close date round", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to close date round")
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		middleware.ErrorResponse(w, http.StatusConflict, "Date round already closed")
		return
	}

	slog.Info("date round closed", "round_id", round.ID, "top_dates", string(top))
	h.respondRound(w, r, round.ID, http.StatusOK)
}

// openRound loads the round named in the path and insists it is still open.
func (h *DateHandler) openRound(w http.ResponseWriter, r *http.Request) (models.DateRound, bool) {
	round, err := getDateRound(r.Context(), h.db, r.PathValue("id"))
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "Date round not found")
		return round, false
	}
	if err != nil {
		slog.Error("failed to query date round", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return round, false
	}
	if round.Status != models.DateRoundOpen {
		middleware.ErrorResponse(w, http.StatusConflict, "Date round is closed")
		return round, false
	}
	return round, true
}

func (h *DateHandler) respondRound(w http.ResponseWriter, r *http.Request, roundID string, status int) {
	round, err := getDateRound(r.Context(), h.db, roundID)
	if err != nil {
		slog.Error("failed to reload date round", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	middleware.JSONResponse(w, status, round)
}

// targetMonth is the month two after base, rolling into the next year.
func targetMonth(base time.Time) (int, time.Month) {
	m := int(base.Month()) + 2
	y := base.Year()
	if m > 12 {
		m -= 12
		y++
	}
	return y, time.Month(m)
}

// topDates picks the n most chosen dates, earliest first among equals.
func topDates(choices []models.DateVote, n int) []string {
	sorted := append([]models.DateVote(nil), choices...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Count != sorted[j].Count {
			return sorted[i].Count > sorted[j].Count
		}
		return sorted[i].Date < sorted[j].Date
	})

	top := []string{}
	for _, c := range sorted {
		if len(top) == n {
			break
		}
		if c.Count > 0 {
			top = append(top, c.Date)
		}
	}
	return top
}

const dateRoundColumns = `id, status, year, month, top_dates, created_at, closed_at`

func scanDateRound(row rowScanner) (models.DateRound, error) {
	var d models.DateRound
	var top string
	var closedAt sql.NullTime

	if err := row.Scan(&d.ID, &d.Status, &d.Year, &d.Month, &top, &d.CreatedAt, &closedAt); err != nil {
		return models.DateRound{}, err
	}
	d.TopDates = []string{}
	if top != "" {
		if err := json.Unmarshal([]byte(top), &d.TopDates); err != nil {
			return models.DateRound{}, fmt.Errorf("date round %s: failed to decode top dates: %w", d.ID, err)
		}
	}
	if closedAt.Valid {
		d.ClosedAt = &closedAt.Time
	}
	return d, nil
}

func getDateRound(ctx context.Context, q querier, roundID string) (models.DateRound, error) {
	d, err := scanDateRound(q.QueryRowContext(ctx, `SELECT `+dateRoundColumns+` FROM date_round WHERE id = $1`, roundID))
	if err != nil {
		return models.DateRound{}, err
	}
	if d.Choices, err = dateCounts(ctx, q, roundID); err != nil {
		return models.DateRound{}, err
	}
	return d, nil
}

func listDateRounds(ctx context.Context, q querier) ([]models.DateRound, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+dateRoundColumns+` FROM date_round
		ORDER BY CASE WHEN status = 'open' THEN 0 ELSE 1 END, created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	rounds := []models.DateRound{}
	for rows.Next() {
		d, err := scanDateRound(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		rounds = append(rounds, d)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range rounds {
		if rounds[i].Choices, err = dateCounts(ctx, q, rounds[i].ID); err != nil {
			return nil, err
		}
	}
	return rounds, nil
}

func dateCounts(ctx context.Context, q querier, roundID string) ([]models.DateVote, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT selected_date, COUNT(*) FROM date_choice
		WHERE round_id = $1
		GROUP BY selected_date
		ORDER BY selected_date
	`, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	votes := []models.DateVote{}
	for rows.Next() {
		var v models.DateVote
		if err := rows.Scan(&v.Date, &v.Count); err != nil {
			return nil, err
		}
		votes = append(votes, v)
	}
	return votes, rows.Err()
}
