// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/danielhkuo/bookclub-vote/cliparse"
	"github.com/danielhkuo/bookclub-vote/models"
	"github.com/danielhkuo/bookclub-vote/testutil"
)

// recordingPublisher keeps every published event for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	events []models.PollEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event models.PollEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, len(p.events))
	for i, e := range p.events {
		types[i] = e.Type
	}
	return types
}

type testMember struct {
	id    string
	token string
	book  string // the member's own nomination
}

// club is a small book club: an admin, a few members who each nominated a
// book and attended the latest (past) meeting.
type club struct {
	db         *sql.DB
	cfg        cliparse.Config
	pub        *recordingPublisher
	adminID    string
	adminToken string
	members    map[string]testMember
	meetingID  string
}

func newClub(t *testing.T, names ...string) *club {
	t.Helper()

	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	c := &club{
		db:      conn,
		cfg:     cfg,
		pub:     &recordingPublisher{},
		members: make(map[string]testMember),
	}

	c.adminID, c.adminToken = testutil.CreateTestMember(t, conn, cfg, "Admin", true)
	meetingBook := testutil.CreateTestBook(t, conn, c.adminID, "Last Month's Book")

	attendees := make([]string, 0, len(names))
	for _, name := range names {
		id, token := testutil.CreateTestMember(t, conn, cfg, name, false)
		book := testutil.CreateTestBook(t, conn, id, name+"'s pick")
		c.members[name] = testMember{id: id, token: token, book: book}
		attendees = append(attendees, id)
	}

	c.meetingID = testutil.CreateTestMeeting(t, conn, meetingBook, "2024-03-14", false, attendees...)
	return c
}

func (c *club) m(name string) testMember {
	return c.members[name]
}

func (c *club) pollHandler() *PollHandler {
	h := NewPollHandler(c.db, c.cfg, c.pub, nil)
	h.shuffle = nil
	return h
}

func (c *club) votingHandler() *VotingHandler {
	return NewVotingHandler(c.db, c.cfg, c.pub, nil)
}

func (c *club) meetingHandler() *MeetingHandler {
	return NewMeetingHandler(c.db, c.cfg, c.pub)
}

// leave drops the member holding token from the club's meeting.
func (c *club) leave(t *testing.T, token string) {
	t.Helper()
	req := testutil.MakeRequest("DELETE", "/meetings/"+c.meetingID+"/attend", nil, testutil.MemberHeaders(token))
	req.SetPathValue("id", c.meetingID)
	w := httptest.NewRecorder()
	c.meetingHandler().Unattend(w, req)
	requireStatus(t, w, http.StatusOK)
}

func (c *club) adminHeaders() map[string]string {
	return testutil.MemberHeaders(c.adminToken)
}

// vote posts a ballot for bookID as the member holding token.
func (c *club) vote(t *testing.T, pollID, token, bookID string) *httptest.ResponseRecorder {
	t.Helper()
	req := testutil.MakeRequest("POST", "/polls/"+pollID+"/votes", models.CastVoteRequest{BookID: bookID}, testutil.MemberHeaders(token))
	req.SetPathValue("id", pollID)
	w := httptest.NewRecorder()
	c.votingHandler().CastVote(w, req)
	return w
}

func (c *club) finalize(t *testing.T, pollID string) *httptest.ResponseRecorder {
	t.Helper()
	req := testutil.MakeRequest("POST", "/polls/"+pollID+"/finalize", nil, c.adminHeaders())
	req.SetPathValue("id", pollID)
	w := httptest.NewRecorder()
	c.pollHandler().Finalize(w, req)
	return w
}

func (c *club) loadPoll(t *testing.T, pollID string) models.Poll {
	t.Helper()
	p, err := getPoll(context.Background(), c.db, pollID)
	if err != nil {
		t.Fatalf("Failed to load poll %s: %v", pollID, err)
	}
	return p
}

func requireStatus(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if w.Code != expected {
		t.Fatalf("Expected status %d, got %d. Body: %s", expected, w.Code, w.Body.String())
	}
}
