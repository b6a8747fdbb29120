// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package testutil

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/danielhkuo/bookclub-vote/auth"
	"github.com/danielhkuo/bookclub-vote/cliparse"
	"github.com/danielhkuo/bookclub-vote/db"
	"github.com/danielhkuo/bookclub-vote/runoff"
)

// SetupTestDB creates a fresh SQLite database with the full schema in the
// test's temp directory. It is closed when the test finishes.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := db.Open("sqlite", filepath.Join(t.TempDir(), "bookclub.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := db.CreateSchema(conn); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}

	return conn
}

// GetTestConfig returns a standard test configuration
func GetTestConfig() cliparse.Config {
	return cliparse.Config{
		Port:         3318,
		DatabaseURL:  ":memory:",
		DatabaseType: "sqlite",
		TokenSalt:    "test-token-salt",
		AdminKey:     "test-admin-key",
	}
}

// CreateTestMember inserts a member and returns its ID and plaintext token
func CreateTestMember(t *testing.T, conn *sql.DB, cfg cliparse.Config, name string, isAdmin bool) (memberID, token string) {
	t.Helper()

	memberID = auth.NewID()
	token, err := auth.GenerateMemberToken()
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	_, err = conn.Exec(`
		INSERT INTO member (id, display_name, is_admin, token_hash)
		VALUES ($1, $2, $3, $4)
	`, memberID, name, isAdmin, auth.HashToken(token, cfg.TokenSalt))
	if err != nil {
		t.Fatalf("Failed to create test member: %v", err)
	}

	return memberID, token
}

// CreateTestBook adds a book to the waitlist on behalf of memberID
func CreateTestBook(t *testing.T, conn *sql.DB, memberID, title string) string {
	t.Helper()

	bookID := auth.NewID()
	_, err := conn.Exec(`
		INSERT INTO book (id, title, author, page_count, genres, country, author_gender, release_year, member_id)
		VALUES ($1, $2, 'Test Author', 300, '["fiction"]', 'US', 'female', 2001, $3)
	`, bookID, title, memberID)
	if err != nil {
		t.Fatalf("Failed to create test book: %v", err)
	}

	return bookID
}

// CreateTestMeeting creates a meeting on date (YYYY-MM-DD) with the given
// attendees. The book is marked selected like a real meeting would.
func CreateTestMeeting(t *testing.T, conn *sql.DB, bookID, date string, isActive bool, attendees ...string) string {
	t.Helper()

	meetingID := auth.NewID()
	_, err := conn.Exec(`
		INSERT INTO meeting (id, book_id, location, meeting_date, meeting_time, is_active)
		VALUES ($1, $2, 'Library', $3, '19:00', $4)
	`, meetingID, bookID, date, isActive)
	if err != nil {
		t.Fatalf("Failed to create test meeting: %v", err)
	}

	if _, err := conn.Exec(`UPDATE book SET is_selected = $1 WHERE id = $2`, true, bookID); err != nil {
		t.Fatalf("Failed to select meeting book: %v", err)
	}

	for _, memberID := range attendees {
		AddTestAttendee(t, conn, meetingID, memberID)
	}

	return meetingID
}

// AddTestAttendee marks memberID as attending meetingID
func AddTestAttendee(t *testing.T, conn *sql.DB, meetingID, memberID string) {
	t.Helper()

	_, err := conn.Exec(`
		INSERT INTO meeting_attendee (meeting_id, member_id) VALUES ($1, $2)
	`, meetingID, memberID)
	if err != nil {
		t.Fatalf("Failed to add test attendee: %v", err)
	}
}

// TestRound describes one poll row for CreateTestPoll. Winner is stored as
// NULL when empty; SeriesID defaults to the new poll's own ID.
type TestRound struct {
	SeriesID string
	Round    int
	Status   string
	Tally    runoff.Tally
	Winner   string
}

// CreateTestPoll inserts a poll round for meetingID and returns its ID
func CreateTestPoll(t *testing.T, conn *sql.DB, meetingID string, r TestRound) string {
	t.Helper()

	pollID := auth.NewID()
	if r.SeriesID == "" {
		r.SeriesID = pollID
	}
	if r.Round == 0 {
		r.Round = 1
	}
	if r.Status == "" {
		r.Status = "open"
	}
	if r.Tally == nil {
		r.Tally = runoff.Tally{}
	}

	tally, err := json.Marshal(r.Tally)
	if err != nil {
		t.Fatalf("Failed to encode tally: %v", err)
	}

	var winner *string
	if r.Winner != "" {
		winner = &r.Winner
	}

	_, err = conn.Exec(`
		INSERT INTO poll (id, series_id, meeting_id, round, tally, winner, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, pollID, r.SeriesID, meetingID, r.Round, string(tally), winner, r.Status)
	if err != nil {
		t.Fatalf("Failed to create test poll: %v", err)
	}

	return pollID
}

// CastTestVote records a ballot directly, bypassing eligibility checks
func CastTestVote(t *testing.T, conn *sql.DB, pollID string, round int, memberID, bookID string) string {
	t.Helper()

	voteID := auth.NewID()
	_, err := conn.Exec(`
		INSERT INTO vote (id, poll_id, round, member_id, book_id)
		VALUES ($1, $2, $3, $4, $5)
	`, voteID, pollID, round, memberID, bookID)
	if err != nil {
		t.Fatalf("Failed to cast test vote: %v", err)
	}

	return voteID
}

// MemberHeaders returns request headers authenticating as the token holder
func MemberHeaders(token string) map[string]string {
	return map[string]string{"X-Member-Token": token}
}

// MakeRequest creates an HTTP test request
func MakeRequest(method, path string, body any, headers map[string]string) *http.Request {
	var req *http.Request
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(jsonBody))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return req
}

// AssertStatus checks that the response has the expected status code
func AssertStatus(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if w.Code != expected {
		t.Errorf("Expected status %d, got %d. Body: %s", expected, w.Code, w.Body.String())
	}
}

// AssertJSON decodes the response body into the provided struct
func AssertJSON(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode JSON response: %v", err)
	}
}
