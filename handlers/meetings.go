// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielhkuo/bookclub-vote/auth"
	"github.com/danielhkuo/bookclub-vote/cliparse"
	"github.com/danielhkuo/bookclub-vote/db"
	"github.com/danielhkuo/bookclub-vote/middleware"
	"github.com/danielhkuo/bookclub-vote/models"
	"github.com/danielhkuo/bookclub-vote/realtime"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

type MeetingHandler struct {
	db  *sql.DB
	cfg cliparse.Config
	pub realtime.Publisher

	// now is swapped out by tests
	now func() time.Time
}

func NewMeetingHandler(db *sql.DB, cfg cliparse.Config, pub realtime.Publisher) *MeetingHandler {
	return &MeetingHandler{db: db, cfg: cfg, pub: pub, now: time.Now}
}

// Create handles POST /meetings
// Schedules a meeting for a waitlisted book and takes the book off the
// waitlist. Meetings dated after today start out active.
func (h *MeetingHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := authenticateAdmin(ctx, h.db, h.cfg, w, r); !ok {
		return
	}

	var req models.CreateMeetingRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if req.BookID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "book_id is required")
		return
	}
	req.Location = strings.TrimSpace(req.Location)
	if req.Location == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "location is required")
		return
	}
	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	if _, err := time.Parse(timeLayout, req.Time); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "time must be HH:MM")
		return
	}

	isActive := date.Format(dateLayout) > h.now().Format(dateLayout)

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	defer tx.Rollback()

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
	if book.IsSelected {
		middleware.ErrorResponse(w, http.StatusConflict, "Book has already been picked for a meeting")
		return
	}

	meetingID := auth.NewID()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO meeting (id, book_id, location, meeting_date, meeting_time, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, meetingID, book.ID, req.Location, req.Date, req.Time, isActive)
	if err != nil {
		slog.Error("failed to insert meeting", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create meeting")
		return
	}

	if _, err := tx.ExecContext(ctx, `UPDATE book SET is_selected = $1 WHERE id = $2`, true, book.ID); err != nil {
		slog.Error("failed to mark book selected", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create meeting")
		return
	}

	if err := tx.Commit(); err != nil {
		slog.Error("failed to commit meeting", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create meeting")
		return
	}

	slog.Info("meeting scheduled", "meeting_id", meetingID, "book_id", book.ID, "date", req.Date)

	middleware.JSONResponse(w, http.StatusCreated, models.CreateMeetingResponse{
		MeetingID: meetingID,
		IsActive:  isActive,
	})
}

// List handles GET /meetings
// Newest first, each with its attendee IDs
func (h *MeetingHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := authenticate(ctx, h.db, h.cfg, w, r); !ok {
		return
	}

	meetings, err := h.listMeetings(ctx)
	if err != nil {
		slog.Error("failed to list meetings", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, meetings)
}

// Get handles GET /meetings/{id}
func (h *MeetingHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := authenticate(ctx, h.db, h.cfg, w, r); !ok {
		return
	}

	meeting, err := getMeeting(ctx, h.db, r.PathValue("id"))
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "Meeting not found")
		return
	}
	if err != nil {
		slog.Error("failed to query meeting", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, meeting)
}

// Attend handles POST /meetings/{id}/attend
// Attendees are the eligible voters of polls spawned from the meeting
func (h *MeetingHandler) Attend(w http.ResponseWriter, r *http.Request) {
	h.setAttendance(w, r, true)
}

// Unattend handles DELETE /meetings/{id}/attend
func (h *MeetingHandler) Unattend(w http.ResponseWriter, r *http.Request) {
	h.setAttendance(w, r, false)
}

func (h *MeetingHandler) setAttendance(w http.ResponseWriter, r *http.Request, attending bool) {
	ctx := r.Context()
	member, ok := authenticate(ctx, h.db, h.cfg, w, r)
	if !ok {
		return
	}

	meetingID := r.PathValue("id")
	if !h.meetingExists(ctx, w, meetingID) {
		return
	}

	var err error
	if attending {
		_, err = h.db.ExecContext(ctx, `
			INSERT INTO meeting_attendee (meeting_id, member_id) VALUES ($1, $2)
		`, meetingID, member.ID)
		if db.IsUniqueViolation(err) {
			err = nil
		}
	} else {
		_, err = h.db.ExecContext(ctx, `
			DELETE FROM meeting_attendee WHERE meeting_id = $1 AND member_id = $2
		`, meetingID, member.ID)
	}
	if err != nil {
		slog.Error("failed to update attendance", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to update attendance")
		return
	}

	slog.Info("attendance updated", "meeting_id", meetingID, "member_id", member.ID, "attending", attending)
	h.recheckOpenRound(ctx, meetingID)

	meeting, err := getMeeting(ctx, h.db, meetingID)
	if err != nil {
		slog.Error("failed to reload meeting", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	middleware.JSONResponse(w, http.StatusOK, meeting)
}

// Complete handles POST /meetings/{id}/complete
func (h *MeetingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

// Reopen handles POST /meetings/{id}/reopen
func (h *MeetingHandler) Reopen(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *MeetingHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	ctx := r.Context()
	if _, ok := authenticateAdmin(ctx, h.db, h.cfg, w, r); !ok {
		return
	}

	meetingID := r.PathValue("id")
	res, err := h.db.ExecContext(ctx, `UPDATE meeting SET is_active = $1 WHERE id = $2`, active, meetingID)
	if err != nil {
		slog.Error("failed to update meeting", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to update meeting")
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		middleware.ErrorResponse(w, http.StatusNotFound, "Meeting not found")
		return
	}

	slog.Info("meeting status changed", "meeting_id", meetingID, "is_active", active)

	meeting, err := getMeeting(ctx, h.db, meetingID)
	if err != nil {
		slog.Error("failed to reload meeting", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	middleware.JSONResponse(w, http.StatusOK, meeting)
}

// recheckOpenRound writes the tally of the meeting's open round when the
// attendance change left every remaining attendee with a ballot in it.
func (h *MeetingHandler) recheckOpenRound(ctx context.Context, meetingID string) {
	poll, err := latestOpenPoll(ctx, h.db, meetingID)
	if err == sql.ErrNoRows {
		return
	}
	if err != nil {
		slog.Error("failed to query open poll", "error", err, "meeting_id", meetingID)
		return
	}
	if len(poll.Tally) > 0 {
		return
	}

	complete, err := completeRound(ctx, h.db, poll)
	if err != nil {
		slog.Error("failed to check round completion", "error", err, "poll_id", poll.ID)
		return
	}
	if complete {
		slog.Info("round complete", "poll_id", poll.ID, "round", poll.Round)
		publish(ctx, h.pub, pollEvent(models.EventRoundTallied, poll))
	}
}

func (h *MeetingHandler) meetingExists(ctx context.Context, w http.ResponseWriter, meetingID string) bool {
	var id string
	err := h.db.QueryRowContext(ctx, `SELECT id FROM meeting WHERE id = $1`, meetingID).Scan(&id)
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "Meeting not found")
		return false
	}
	if err != nil {
		slog.Error("failed to query meeting", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return false
	}
	return true
}

func (h *MeetingHandler) listMeetings(ctx context.Context) ([]models.Meeting, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT `+meetingColumns+` FROM meeting
		ORDER BY meeting_date DESC, meeting_time DESC
	`)
	if err != nil {
		return nil, err
	}
	meetings := []models.Meeting{}
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		meetings = append(meetings, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range meetings {
		if meetings[i].Attendees, err = attendeeIDs(ctx, h.db, meetings[i].ID); err != nil {
			return nil, err
		}
	}
	return meetings, nil
}

const meetingColumns = `id, book_id, location, meeting_date, meeting_time, is_active, created_at`

func scanMeeting(row rowScanner) (models.Meeting, error) {
	var m models.Meeting
	err := row.Scan(&m.ID, &m.BookID, &m.Location, &m.Date, &m.Time, &m.IsActive, &m.CreatedAt)
	return m, err
}

func getMeeting(ctx context.Context, q querier, meetingID string) (models.Meeting, error) {
	m, err := scanMeeting(q.QueryRowContext(ctx, `SELECT `+meetingColumns+` FROM meeting WHERE id = $1`, meetingID))
	if err != nil {
		return models.Meeting{}, err
	}
	if m.Attendees, err = attendeeIDs(ctx, q, meetingID); err != nil {
		return models.Meeting{}, err
	}
	return m, nil
}

// latestPastMeeting returns the most recent meeting that is no longer active.
func latestPastMeeting(ctx context.Context, q querier) (models.Meeting, error) {
	m, err := scanMeeting(q.QueryRowContext(ctx, `
		SELECT `+meetingColumns+` FROM meeting
		WHERE is_active = $1
		ORDER BY meeting_date DESC, meeting_time DESC
		LIMIT 1
	`, false))
	if err != nil {
		return models.Meeting{}, err
	}
	if m.Attendees, err = attendeeIDs(ctx, q, m.ID); err != nil {
		return models.Meeting{}, err
	}
	return m, nil
}
