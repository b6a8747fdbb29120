// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danielhkuo/bookclub-vote/models"
	"github.com/danielhkuo/bookclub-vote/runoff"
	"github.com/danielhkuo/bookclub-vote/testutil"
)

func TestCastVote_Success(t *testing.T) {
	c := newClub(t, "Alice", "Bob", "Cara")
	pollID := testutil.CreateTestPoll(t, c.db, c.meetingID, testutil.TestRound{})

	w := c.vote(t, pollID, c.m("Alice").token, c.m("Bob").book)
	requireStatus(t, w, http.StatusCreated)

	var resp models.CastVoteResponse
	testutil.AssertJSON(t, w, &resp)

	if resp.VoteID == "" {
		t.Error("Expected vote_id in response")
	}
	if resp.PollID != pollID || resp.Round != 1 {
		t.Errorf("Expected vote in %s round 1, got %s round %d", pollID, resp.PollID, resp.Round)
	}
	if resp.RoundComplete {
		t.Error("Round should not be complete after one of three votes")
	}
	if got := c.loadPoll(t, pollID).Tally; len(got) != 0 {
		t.Errorf("Tally should stay empty until everyone votes, got %v", got)
	}
}

func TestCastVote_Rejections(t *testing.T) {
	c := newClub(t, "Alice", "Bob", "Cara")
	pollID := testutil.CreateTestPoll(t, c.db, c.meetingID, testutil.TestRound{})
	_, outsiderToken := testutil.CreateTestMember(t, c.db, c.cfg, "Outsider", false)

	var meetingBook string
	if err := c.db.QueryRow(`SELECT book_id FROM meeting WHERE id = $1`, c.meetingID).Scan(&meetingBook); err != nil {
		t.Fatalf("Failed to load meeting book: %v", err)
	}

	tests := []struct {
		name     string
		token    string
		bookID   string
		expected int
	}{
		{"own nomination in round one", c.m("Alice").token, c.m("Alice").book, http.StatusBadRequest},
		{"book already picked", c.m("Alice").token, meetingBook, http.StatusBadRequest},
		{"unknown book", c.m("Alice").token, "no-such-book", http.StatusNotFound},
		{"not an attendee", outsiderToken, c.m("Bob").book, http.StatusForbidden},
		{"missing book", c.m("Alice").token, "", http.StatusBadRequest},
		{"bad token", "not-a-token", c.m("Bob").book, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := c.vote(t, pollID, tt.token, tt.bookID)
			testutil.AssertStatus(t, w, tt.expected)
		})
	}
}

func TestCastVote_DuplicateRejected(t *testing.T) {
	c := newClub(t, "Alice", "Bob", "Cara")
	pollID := testutil.CreateTestPoll(t, c.db, c.meetingID, testutil.TestRound{})

	requireStatus(t, c.vote(t, pollID, c.m("Alice").token, c.m("Bob").book), http.StatusCreated)
	testutil.AssertStatus(t, c.vote(t, pollID, c.m("Alice").token, c.m("Cara").book), http.StatusConflict)

	var count int
	c.db.QueryRow(`SELECT COUNT(*) FROM vote WHERE poll_id = $1`, pollID).Scan(&count)
	if count != 1 {
		t.Errorf("Expected 1 stored vote, got %d", count)
	}
}

func TestCastVote_NoOpenPoll(t *testing.T) {
	c := newClub(t, "Alice", "Bob")
	pollID := testutil.CreateTestPoll(t, c.db, c.meetingID, testutil.TestRound{Status: models.StatusComplete, Winner: "x"})

	testutil.AssertStatus(t, c.vote(t, pollID, c.m("Alice").token, c.m("Bob").book), http.StatusConflict)
}

func TestCastVote_CompletionWritesTally(t *testing.T) {
	c := newClub(t, "Alice", "Bob", "Cara")
	pollID := testutil.CreateTestPoll(t, c.db, c.meetingID, testutil.TestRound{})

	requireStatus(t, c.vote(t, pollID, c.m("Alice").token, c.m("Bob").book), http.StatusCreated)
	requireStatus(t, c.vote(t, pollID, c.m("Bob").token, c.m("Cara").book), http.StatusCreated)

	w := c.vote(t, pollID, c.m("Cara").token, c.m("Bob").book)
	requireStatus(t, w, http.StatusCreated)

	var resp models.CastVoteResponse
	testutil.AssertJSON(t, w, &resp)
	if !resp.RoundComplete {
		t.Error("Expected the last attendee's vote to complete the round")
	}

	poll := c.loadPoll(t, pollID)
	want := runoff.Tally{
		c.m("Alice").id: c.m("Bob").book,
		c.m("Bob").id:   c.m("Cara").book,
		c.m("Cara").id:  c.m("Bob").book,
	}
	if len(poll.Tally) != len(want) {
		t.Fatalf("Expected tally %v, got %v", want, poll.Tally)
	}
	for voter, book := range want {
		if poll.Tally[voter] != book {
			t.Errorf("Tally[%s] = %s, want %s", voter, poll.Tally[voter], book)
		}
	}
	if poll.Status != models.StatusOpen {
		t.Errorf("Completion must not finalize the round, status = %s", poll.Status)
	}

	types := c.pub.types()
	if len(types) != 1 || types[0] != models.EventRoundTallied {
		t.Errorf("Expected one round_tallied event, got %v", types)
	}

	// Nobody can slip in once the tally is written.
	extraID, extraToken := testutil.CreateTestMember(t, c.db, c.cfg, "Latecomer", false)
	testutil.AddTestAttendee(t, c.db, c.meetingID, extraID)
	testutil.AssertStatus(t, c.vote(t, pollID, extraToken, c.m("Bob").book), http.StatusConflict)
}

func TestCastVote_FollowsLatestOpenRound(t *testing.T) {
	c := newClub(t, "Alice", "Bob", "Cara")
	round1 := testutil.CreateTestPoll(t, c.db, c.meetingID, testutil.TestRound{
		Round:  1,
		Status: models.StatusComplete,
		Winner: runoff.TieSentinel,
		Tally: runoff.Tally{
			c.m("Alice").id: c.m("Bob").book,
			c.m("Bob").id:   c.m("Cara").book,
			c.m("Cara").id:  c.m("Alice").book,
		},
	})
	round2 := testutil.CreateTestPoll(t, c.db, c.meetingID, testutil.TestRound{SeriesID: round1, Round: 2})

	// Client still looking at round 1.
	w := c.vote(t, round1, c.m("Alice").token, c.m("Cara").book)
	requireStatus(t, w, http.StatusCreated)

	var resp models.CastVoteResponse
	testutil.AssertJSON(t, w, &resp)
	if resp.PollID != round2 || resp.Round != 2 {
		t.Errorf("Expected vote to land in round 2 (%s), got %s round %d", round2, resp.PollID, resp.Round)
	}
}

func TestCastVote_TieStreakBans(t *testing.T) {
	c := newClub(t, "Alice", "Bob", "Cara")
	alice, bob, cara := c.m("Alice"), c.m("Bob"), c.m("Cara")

	round1 := testutil.CreateTestPoll(t, c.db, c.meetingID, testutil.TestRound{
		Round:  1,
		Status: models.StatusComplete,
		Winner: runoff.TieSentinel,
		Tally:  runoff.Tally{alice.id: bob.book, bob.id: cara.book, cara.id: alice.book},
	})
	testutil.CreateTestPoll(t, c.db, c.meetingID, testutil.TestRound{
		SeriesID: round1,
		Round:    2,
		Status:   models.StatusComplete,
		Winner:   runoff.TieSentinel,
		Tally:    runoff.Tally{alice.id: cara.book, bob.id: alice.book, cara.id: bob.book},
	})
	round3 := testutil.CreateTestPoll(t, c.db, c.meetingID, testutil.TestRound{SeriesID: round1, Round: 3})

	// Alice picked Bob's book in round 1 and Cara's in round 2, and the field
	// has never narrowed, so her own book stays hidden too.
	testutil.AssertStatus(t, c.vote(t, round3, alice.token, bob.book), http.StatusConflict)
	testutil.AssertStatus(t, c.vote(t, round3, alice.token, cara.book), http.StatusConflict)
	testutil.AssertStatus(t, c.vote(t, round3, alice.token, alice.book), http.StatusBadRequest)

	extra := testutil.CreateTestBook(t, c.db, bob.id, "Fresh Nomination")
	testutil.AssertStatus(t, c.vote(t, round3, alice.token, extra), http.StatusCreated)
}

func TestCastVote_RunoffRestrictsToFinalists(t *testing.T) {
	c := newClub(t, "Alice", "Bob", "Cara", "Dan")
	alice, bob, cara, dan := c.m("Alice"), c.m("Bob"), c.m("Cara"), c.m("Dan")

	// Alice's book leads with 2, Bob's and Cara's tie for second.
	round1 := testutil.CreateTestPoll(t, c.db, c.meetingID, testutil.TestRound{
		Round:  1,
		Status: models.StatusComplete,
		Winner: runoff.NextRoundSentinel,
		Tally: runoff.Tally{
			bob.id:   alice.book,
			cara.id:  alice.book,
			dan.id:   bob.book,
			alice.id: cara.book,
		},
	})
	round2 := testutil.CreateTestPoll(t, c.db, c.meetingID, testutil.TestRound{SeriesID: round1, Round: 2})

	testutil.AssertStatus(t, c.vote(t, round2, bob.token, dan.book), http.StatusBadRequest)
	// Own nominations are fine in a runoff.
	testutil.AssertStatus(t, c.vote(t, round2, alice.token, alice.book), http.StatusCreated)
	testutil.AssertStatus(t, c.vote(t, round2, bob.token, bob.book), http.StatusCreated)
	testutil.AssertStatus(t, c.vote(t, round2, cara.token, cara.book), http.StatusCreated)
}

func TestGetOptions(t *testing.T) {
	c := newClub(t, "Alice", "Bob", "Cara")
	pollID := testutil.CreateTestPoll(t, c.db, c.meetingID, testutil.TestRound{})

	get := func() models.BallotOptionsResponse {
		req := testutil.MakeRequest("GET", "/polls/"+pollID+"/options", nil, testutil.MemberHeaders(c.m("Alice").token))
		req.SetPathValue("id", pollID)
		w := httptest.NewRecorder()
		c.votingHandler().GetOptions(w, req)
		requireStatus(t, w, http.StatusOK)

		var resp models.BallotOptionsResponse
		testutil.AssertJSON(t, w, &resp)
		return resp
	}

	resp := get()
	if !resp.ExcludeOwn {
		t.Error("Round one should exclude own nominations")
	}
	if len(resp.Books) != 2 {
		t.Fatalf("Expected Bob's and Cara's books, got %d books", len(resp.Books))
	}
	for _, b := range resp.Books {
		if b.ID == c.m("Alice").book {
			t.Error("Alice's own nomination should be hidden")
		}
	}
	if resp.MyVote != nil {
		t.Errorf("Expected no vote yet, got %s", *resp.MyVote)
	}

	requireStatus(t, c.vote(t, pollID, c.m("Alice").token, c.m("Cara").book), http.StatusCreated)

	resp = get()
	if resp.MyVote == nil || *resp.MyVote != c.m("Cara").book {
		t.Errorf("Expected my_vote to be Cara's book, got %v", resp.MyVote)
	}
}

func TestWithdrawVote(t *testing.T) {
	c := newClub(t, "Alice", "Bob")
	pollID := testutil.CreateTestPoll(t, c.db, c.meetingID, testutil.TestRound{})

	withdraw := func(token string) *httptest.ResponseRecorder {
		req := testutil.MakeRequest("DELETE", "/polls/"+pollID+"/votes", nil, testutil.MemberHeaders(token))
		req.SetPathValue("id", pollID)
		w := httptest.NewRecorder()
		c.votingHandler().WithdrawVote(w, req)
		return w
	}

	testutil.AssertStatus(t, withdraw(c.m("Alice").token), http.StatusNotFound)

	requireStatus(t, c.vote(t, pollID, c.m("Alice").token, c.m("Bob").book), http.StatusCreated)
	testutil.AssertStatus(t, withdraw(c.m("Alice").token), http.StatusNoContent)

	// Can vote again after withdrawing.
	requireStatus(t, c.vote(t, pollID, c.m("Alice").token, c.m("Bob").book), http.StatusCreated)
	requireStatus(t, c.vote(t, pollID, c.m("Bob").token, c.m("Alice").book), http.StatusCreated)

	// The round is tallied now; withdrawing would leave a stale tally.
	testutil.AssertStatus(t, withdraw(c.m("Alice").token), http.StatusConflict)
}

func TestLeavingMeetingCompletesRound(t *testing.T) {
	c := newClub(t, "Alice", "Bob", "Cara")
	alice, bob, cara := c.m("Alice"), c.m("Bob"), c.m("Cara")
	pollID := testutil.CreateTestPoll(t, c.db, c.meetingID, testutil.TestRound{})

	requireStatus(t, c.vote(t, pollID, alice.token, bob.book), http.StatusCreated)
	requireStatus(t, c.vote(t, pollID, bob.token, cara.book), http.StatusCreated)

	// Cara never voted; once she leaves everyone remaining has.
	c.leave(t, cara.token)

	poll := c.loadPoll(t, pollID)
	want := runoff.Tally{alice.id: bob.book, bob.id: cara.book}
	if len(poll.Tally) != len(want) || poll.Tally[alice.id] != bob.book || poll.Tally[bob.id] != cara.book {
		t.Errorf("Expected tally %v, got %v", want, poll.Tally)
	}
	if poll.Status != models.StatusOpen {
		t.Errorf("Leaving must not finalize the round, status = %s", poll.Status)
	}
	if types := c.pub.types(); len(types) != 1 || types[0] != models.EventRoundTallied {
		t.Errorf("Expected one round_tallied event, got %v", types)
	}
}

func TestLeavingMeetingDropsBallot(t *testing.T) {
	c := newClub(t, "Alice", "Bob", "Cara")
	alice, bob, cara := c.m("Alice"), c.m("Bob"), c.m("Cara")
	pollID := testutil.CreateTestPoll(t, c.db, c.meetingID, testutil.TestRound{})

	requireStatus(t, c.vote(t, pollID, alice.token, bob.book), http.StatusCreated)
	c.leave(t, alice.token)

	if got := c.loadPoll(t, pollID).Tally; len(got) != 0 {
		t.Fatalf("Tally should stay empty while Bob and Cara have not voted, got %v", got)
	}

	requireStatus(t, c.vote(t, pollID, bob.token, cara.book), http.StatusCreated)
	w := c.vote(t, pollID, cara.token, alice.book)
	requireStatus(t, w, http.StatusCreated)

	var resp models.CastVoteResponse
	testutil.AssertJSON(t, w, &resp)
	if !resp.RoundComplete {
		t.Fatal("Expected the remaining attendees to complete the round")
	}

	tally := c.loadPoll(t, pollID).Tally
	if _, ok := tally[alice.id]; ok || len(tally) != 2 {
		t.Errorf("Expected only Bob's and Cara's ballots in the tally, got %v", tally)
	}
}
