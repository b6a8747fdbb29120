// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielhkuo/bookclub-vote/auth"
	"github.com/danielhkuo/bookclub-vote/cliparse"
	"github.com/danielhkuo/bookclub-vote/middleware"
	"github.com/danielhkuo/bookclub-vote/models"
	"github.com/danielhkuo/bookclub-vote/realtime"
	"github.com/danielhkuo/bookclub-vote/runoff"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
//
// SQLite runs with a single connection, so nothing here may hold a *sql.Rows
// open while issuing another query on the same querier.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// authenticate resolves the calling member from their token. On failure it
// writes the error response and returns false.
func authenticate(ctx context.Context, q querier, cfg cliparse.Config, w http.ResponseWriter, r *http.Request) (models.Member, bool) {
	token, err := auth.TokenFromRequest(r)
	if err != nil {
		middleware.ErrorResponse(w, http.StatusUnauthorized, "Member token required")
		return models.Member{}, false
	}
	return memberForToken(ctx, q, cfg, w, token)
}

func memberForToken(ctx context.Context, q querier, cfg cliparse.Config, w http.ResponseWriter, token string) (models.Member, bool) {
	var m models.Member
	err := q.QueryRowContext(ctx, `
		SELECT id, display_name, is_admin, token_hash, created_at
		FROM member WHERE token_hash = $1
	`, auth.HashToken(token, cfg.TokenSalt)).Scan(&m.ID, &m.DisplayName, &m.IsAdmin, &m.TokenHash, &m.CreatedAt)

	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusUnauthorized, "Invalid member token")
		return models.Member{}, false
	}
	if err != nil {
		slog.Error("failed to query member", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return models.Member{}, false
	}
	return m, true
}

// authenticateAdmin is authenticate plus an is_admin check.
func authenticateAdmin(ctx context.Context, q querier, cfg cliparse.Config, w http.ResponseWriter, r *http.Request) (models.Member, bool) {
	m, ok := authenticate(ctx, q, cfg, w, r)
	if !ok {
		return m, false
	}
	if !m.IsAdmin {
		middleware.ErrorResponse(w, http.StatusForbidden, "Admin only")
		return m, false
	}
	return m, true
}

// Polls

const pollColumns = `id, series_id, meeting_id, round, tally, winner, status, created_at`

func scanPoll(row rowScanner) (models.Poll, error) {
	var p models.Poll
	var tally string
	var winner sql.NullString

	if err := row.Scan(&p.ID, &p.SeriesID, &p.MeetingID, &p.Round, &tally, &winner, &p.Status, &p.CreatedAt); err != nil {
		return models.Poll{}, err
	}

	t, err := decodeTally(tally)
	if err != nil {
		return models.Poll{}, fmt.Errorf("poll %s: %w", p.ID, err)
	}
	p.Tally = t
	if winner.Valid {
		p.Winner = &winner.String
	}
	return p, nil
}

func getPoll(ctx context.Context, q querier, pollID string) (models.Poll, error) {
	return scanPoll(q.QueryRowContext(ctx, `SELECT `+pollColumns+` FROM poll WHERE id = $1`, pollID))
}

// latestOpenPoll returns the newest open poll, restricted to meetingID when
// it is non-empty. sql.ErrNoRows means nothing is open.
func latestOpenPoll(ctx context.Context, q querier, meetingID string) (models.Poll, error) {
	if meetingID == "" {
		return scanPoll(q.QueryRowContext(ctx, `
			SELECT `+pollColumns+` FROM poll
			WHERE status = $1
			ORDER BY created_at DESC, round DESC
			LIMIT 1
		`, models.StatusOpen))
	}
	return scanPoll(q.QueryRowContext(ctx, `
		SELECT `+pollColumns+` FROM poll
		WHERE meeting_id = $1 AND status = $2
		ORDER BY created_at DESC, round DESC
		LIMIT 1
	`, meetingID, models.StatusOpen))
}

func queryPolls(ctx context.Context, q querier, query string, args ...any) ([]models.Poll, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	polls := []models.Poll{}
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, err
		}
		polls = append(polls, p)
	}
	return polls, rows.Err()
}

// priorRounds loads the completed rounds of poll's series that come before it.
func priorRounds(ctx context.Context, q querier, poll models.Poll) ([]runoff.Round, error) {
	polls, err := queryPolls(ctx, q, `
		SELECT `+pollColumns+` FROM poll
		WHERE series_id = $1 AND round < $2 AND status = $3
		ORDER BY round, created_at
	`, poll.SeriesID, poll.Round, models.StatusComplete)
	if err != nil {
		return nil, err
	}

	rounds := make([]runoff.Round, 0, len(polls))
	for _, p := range polls {
		r := runoff.Round{PollID: p.ID, Number: p.Round, Tally: p.Tally}
		if p.Winner != nil {
			r.Winner = *p.Winner
		}
		rounds = append(rounds, r)
	}
	return rounds, nil
}

func decodeTally(s string) (runoff.Tally, error) {
	t := runoff.Tally{}
	if s == "" {
		return t, nil
	}
	if err := json.Unmarshal([]byte(s), &t); err != nil {
		return nil, fmt.Errorf("failed to decode tally: %w", err)
	}
	return t, nil
}

func encodeTally(t runoff.Tally) (string, error) {
	if t == nil {
		t = runoff.Tally{}
	}
	b, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("failed to encode tally: %w", err)
	}
	return string(b), nil
}

// roundBallots loads every ballot cast in a round.
func roundBallots(ctx context.Context, q querier, pollID string, round int) ([]runoff.Ballot, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT member_id, book_id FROM vote
		WHERE poll_id = $1 AND round = $2
		ORDER BY created_at, id
	`, pollID, round)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ballots []runoff.Ballot
	for rows.Next() {
		b := runoff.Ballot{PollID: pollID, Round: round}
		if err := rows.Scan(&b.VoterID, &b.BookID); err != nil {
			return nil, err
		}
		ballots = append(ballots, b)
	}
	return ballots, rows.Err()
}

// completeRound writes the round tally once every current attendee has
// voted. Ballots of members who left the meeting do not count. The write
// only applies while the poll is open and has no tally yet, and it reports
// whether this call was the one that wrote it.
func completeRound(ctx context.Context, q querier, poll models.Poll) (bool, error) {
	ballots, err := roundBallots(ctx, q, poll.ID, poll.Round)
	if err != nil {
		return false, err
	}
	voters, err := attendeeIDs(ctx, q, poll.MeetingID)
	if err != nil {
		return false, err
	}

	attending := make(map[string]bool, len(voters))
	for _, id := range voters {
		attending[id] = true
	}
	counted := ballots[:0]
	for _, b := range ballots {
		if attending[b.VoterID] {
			counted = append(counted, b)
		}
	}

	_, tally := runoff.BuildTally(counted)
	if !runoff.IsComplete(tally.Voters(), len(voters)) {
		return false, nil
	}

	encoded, err := encodeTally(tally)
	if err != nil {
		return false, err
	}
	res, err := q.ExecContext(ctx, `
		UPDATE poll SET tally = $1 WHERE id = $2 AND status = $3 AND tally = $4
	`, encoded, poll.ID, models.StatusOpen, "{}")
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Meetings

func attendeeIDs(ctx context.Context, q querier, meetingID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT member_id FROM meeting_attendee
		WHERE meeting_id = $1
		ORDER BY joined_at, member_id
	`, meetingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func isAttendee(ctx context.Context, q querier, meetingID, memberID string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM meeting_attendee WHERE meeting_id = $1 AND member_id = $2
	`, meetingID, memberID).Scan(&n)
	return n > 0, err
}

// Books

const bookColumns = `id, title, author, page_count, genres, country, author_gender, release_year, member_id, is_selected, created_at`

func scanBook(row rowScanner) (models.Book, error) {
	var b models.Book
	var genres string
	err := row.Scan(&b.ID, &b.Title, &b.Author, &b.PageCount, &genres, &b.Country,
		&b.AuthorGender, &b.ReleaseYear, &b.MemberID, &b.IsSelected, &b.CreatedAt)
	if err != nil {
		return models.Book{}, err
	}
	b.Genres = []string{}
	if genres != "" {
		if err := json.Unmarshal([]byte(genres), &b.Genres); err != nil {
			return models.Book{}, fmt.Errorf("book %s: failed to decode genres: %w", b.ID, err)
		}
	}
	return b, nil
}

func getBook(ctx context.Context, q querier, bookID string) (models.Book, error) {
	return scanBook(q.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM book WHERE id = $1`, bookID))
}

func queryBooks(ctx context.Context, q querier, query string, args ...any) ([]models.Book, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	books := []models.Book{}
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

// waitlist returns every book that has not been picked for a meeting yet.
func waitlist(ctx context.Context, q querier) ([]models.Book, error) {
	return queryBooks(ctx, q, `
		SELECT `+bookColumns+` FROM book
		WHERE is_selected = $1
		ORDER BY created_at, title
	`, false)
}

// booksByID loads the given books, silently skipping IDs that no longer exist.
func booksByID(ctx context.Context, q querier, ids []string) (map[string]models.Book, error) {
	books := make(map[string]models.Book, len(ids))
	for _, id := range ids {
		if _, seen := books[id]; seen {
			continue
		}
		b, err := getBook(ctx, q, id)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}
		books[id] = b
	}
	return books, nil
}

// ballotOptions lists the books memberID may pick this round.
func ballotOptions(ctx context.Context, q querier, e runoff.Eligibility, memberID string) ([]models.Book, error) {
	if e.Restricted {
		found, err := booksByID(ctx, q, e.Finalists)
		if err != nil {
			return nil, err
		}
		books := make([]models.Book, 0, len(found))
		for _, id := range e.Finalists {
			if b, ok := found[id]; ok {
				books = append(books, b)
			}
		}
		return books, nil
	}

	all, err := waitlist(ctx, q)
	if err != nil {
		return nil, err
	}
	books := make([]models.Book, 0, len(all))
	for _, b := range all {
		if e.Banned[b.ID] || (e.ExcludeOwn && b.MemberID == memberID) {
			continue
		}
		books = append(books, b)
	}
	return books, nil
}

// Events

// publish delivers an event, logging rather than failing the request: the
// database write has already committed.
func publish(ctx context.Context, pub realtime.Publisher, event models.PollEvent) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, event); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("failed to publish poll event", "error", err, "type", event.Type, "poll_id", event.PollID)
	}
}

func pollEvent(eventType string, p models.Poll) models.PollEvent {
	return models.PollEvent{
		Type:      eventType,
		MeetingID: p.MeetingID,
		PollID:    p.ID,
		Round:     p.Round,
		Status:    p.Status,
	}
}
