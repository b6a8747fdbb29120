// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danielhkuo/bookclub-vote/models"
	"github.com/danielhkuo/bookclub-vote/runoff"
	"github.com/danielhkuo/bookclub-vote/testutil"
)

// TestFullRunoffWorkflow walks a book club through a whole poll series:
// 1. Register members and nominate books
// 2. Schedule and attend a meeting
// 3. Round 1 ends in an all-tie
// 4. Round 2 bans earlier picks and narrows the field
// 5. Round 3 is restricted to the finalists and produces a winner
func TestFullRunoffWorkflow(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	pub := &recordingPublisher{}

	members := NewMemberHandler(conn, cfg)
	books := NewBookHandler(conn, cfg)
	meetings := NewMeetingHandler(conn, cfg, pub)
	meetings.now = func() time.Time { return time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC) }
	polls := NewPollHandler(conn, cfg, pub, nil)
	polls.shuffle = nil
	voting := NewVotingHandler(conn, cfg, pub, nil)

	call := func(h http.HandlerFunc, method, path string, body any, headers map[string]string, pathValues ...string) *httptest.ResponseRecorder {
		t.Helper()
		req := testutil.MakeRequest(method, path, body, headers)
		for i := 0; i+1 < len(pathValues); i += 2 {
			req.SetPathValue(pathValues[i], pathValues[i+1])
		}
		w := httptest.NewRecorder()
		h(w, req)
		return w
	}

	// Step 1: members
	register := func(name string, headers map[string]string) models.RegisterMemberResponse {
		t.Helper()
		w := call(members.Register, "POST", "/members", models.RegisterMemberRequest{DisplayName: name}, headers)
		requireStatus(t, w, http.StatusCreated)
		var resp models.RegisterMemberResponse
		testutil.AssertJSON(t, w, &resp)
		return resp
	}

	admin := register("Organizer", map[string]string{"X-Admin-Key": cfg.AdminKey})
	if !admin.IsAdmin {
		t.Fatal("Step 1 - admin key did not grant admin rights")
	}
	adminHeaders := testutil.MemberHeaders(admin.Token)

	voters := map[string]models.RegisterMemberResponse{}
	for _, name := range []string{"Alice", "Bob", "Cara", "Dan"} {
		voters[name] = register(name, nil)
		if voters[name].IsAdmin {
			t.Fatalf("Step 1 - %s should not be an admin", name)
		}
	}

	nominate := func(token, title string) string {
		t.Helper()
		w := call(books.Create, "POST", "/books", models.CreateBookRequest{
			Title:  title,
			Author: "Someone",
			Genres: []string{"fiction"},
		}, testutil.MemberHeaders(token))
		requireStatus(t, w, http.StatusCreated)
		var resp models.CreateBookResponse
		testutil.AssertJSON(t, w, &resp)
		return resp.BookID
	}

	meetingBook := nominate(admin.Token, "February Read")
	extra := nominate(admin.Token, "Wildcard")
	picks := map[string]string{}
	for name, v := range voters {
		picks[name] = nominate(v.Token, name+"'s pick")
	}

	// Step 2: meeting
	w := call(meetings.Create, "POST", "/meetings", models.CreateMeetingRequest{
		BookID:   meetingBook,
		Location: "Library",
		Date:     "2024-01-25",
		Time:     "19:00",
	}, adminHeaders)
	requireStatus(t, w, http.StatusCreated)
	var meetingResp models.CreateMeetingResponse
	testutil.AssertJSON(t, w, &meetingResp)
	if meetingResp.IsActive {
		t.Error("Step 2 - a meeting in the past should not be active")
	}
	meetingID := meetingResp.MeetingID

	for _, v := range voters {
		w := call(meetings.Attend, "POST", "/meetings/"+meetingID+"/attend", nil, testutil.MemberHeaders(v.Token), "id", meetingID)
		requireStatus(t, w, http.StatusOK)
	}

	// The meeting book left the waitlist.
	w = call(books.List, "GET", "/books", nil, adminHeaders)
	requireStatus(t, w, http.StatusOK)
	var waitlisted []models.Book
	testutil.AssertJSON(t, w, &waitlisted)
	if len(waitlisted) != 5 {
		t.Errorf("Step 2 - expected 5 waitlisted books, got %d", len(waitlisted))
	}

	vote := func(pollID, name, bookID string) models.CastVoteResponse {
		t.Helper()
		w := call(voting.CastVote, "POST", "/polls/"+pollID+"/votes", models.CastVoteRequest{BookID: bookID},
			testutil.MemberHeaders(voters[name].Token), "id", pollID)
		requireStatus(t, w, http.StatusCreated)
		var resp models.CastVoteResponse
		testutil.AssertJSON(t, w, &resp)
		return resp
	}

	finalize := func(pollID string) models.FinalizeRoundResponse {
		t.Helper()
		w := call(polls.Finalize, "POST", "/polls/"+pollID+"/finalize", nil, adminHeaders, "id", pollID)
		requireStatus(t, w, http.StatusOK)
		var resp models.FinalizeRoundResponse
		testutil.AssertJSON(t, w, &resp)
		return resp
	}

	// Step 3: round 1, everyone picks someone else's book
	w = call(polls.StartPoll, "POST", "/polls", nil, adminHeaders)
	requireStatus(t, w, http.StatusCreated)
	var round1 models.Poll
	testutil.AssertJSON(t, w, &round1)
	if round1.MeetingID != meetingID {
		t.Fatalf("Step 3 - poll opened for %s, want %s", round1.MeetingID, meetingID)
	}

	vote(round1.ID, "Alice", picks["Bob"])
	vote(round1.ID, "Bob", picks["Cara"])
	vote(round1.ID, "Cara", picks["Dan"])
	if last := vote(round1.ID, "Dan", picks["Alice"]); !last.RoundComplete {
		t.Error("Step 3 - last ballot should complete the round")
	}

	w = call(polls.Reveal, "GET", "/polls/"+round1.ID+"/reveal", nil, adminHeaders, "id", round1.ID)
	requireStatus(t, w, http.StatusOK)
	var reveal models.RevealResponse
	testutil.AssertJSON(t, w, &reveal)
	if len(reveal.Deck) != 4 {
		t.Errorf("Step 3 - expected 4 cards, got %d", len(reveal.Deck))
	}

	res1 := finalize(round1.ID)
	if res1.Result.Outcome != runoff.OutcomeAllTie || res1.NextPoll == nil {
		t.Fatalf("Step 3 - expected an all-tie with a next round, got %+v", res1.Result)
	}
	round2 := *res1.NextPoll

	// Step 4: round 2, earlier picks are banned and own books hidden
	w = call(voting.GetOptions, "GET", "/polls/"+round2.ID+"/options", nil, testutil.MemberHeaders(voters["Alice"].Token), "id", round2.ID)
	requireStatus(t, w, http.StatusOK)
	var opts models.BallotOptionsResponse
	testutil.AssertJSON(t, w, &opts)
	if len(opts.Banned) != 1 || opts.Banned[0] != picks["Bob"] {
		t.Errorf("Step 4 - expected Alice banned from Bob's pick, got %v", opts.Banned)
	}
	for _, b := range opts.Books {
		if b.ID == picks["Alice"] || b.ID == picks["Bob"] || b.ID == meetingBook {
			t.Errorf("Step 4 - %q should not be offered to Alice", b.Title)
		}
	}

	w = call(voting.CastVote, "POST", "/polls/"+round2.ID+"/votes", models.CastVoteRequest{BookID: picks["Bob"]},
		testutil.MemberHeaders(voters["Alice"].Token), "id", round2.ID)
	testutil.AssertStatus(t, w, http.StatusConflict)

	// 2 of 4 is not a majority. Pooled with the tie, three books lead with 2.
	vote(round2.ID, "Alice", extra)
	vote(round2.ID, "Bob", extra)
	vote(round2.ID, "Cara", picks["Bob"])
	vote(round2.ID, "Dan", picks["Cara"])

	res2 := finalize(round2.ID)
	if res2.Result.Outcome != runoff.OutcomeNextRound || res2.NextPoll == nil {
		t.Fatalf("Step 4 - expected a runoff, got %+v", res2.Result)
	}
	finalists := map[string]bool{}
	for _, id := range res2.Result.Finalists {
		finalists[id] = true
	}
	if len(finalists) != 3 || !finalists[extra] || !finalists[picks["Bob"]] || !finalists[picks["Cara"]] {
		t.Errorf("Step 4 - unexpected finalists %v", res2.Result.Finalists)
	}
	round3 := *res2.NextPoll

	// Step 5: round 3, only finalists and own nominations are fine again
	w = call(voting.GetOptions, "GET", "/polls/"+round3.ID+"/options", nil, testutil.MemberHeaders(voters["Bob"].Token), "id", round3.ID)
	requireStatus(t, w, http.StatusOK)
	testutil.AssertJSON(t, w, &opts)
	if len(opts.Books) != 3 || opts.ExcludeOwn {
		t.Errorf("Step 5 - expected the three finalists with own books allowed, got %d books exclude_own=%v", len(opts.Books), opts.ExcludeOwn)
	}

	w = call(voting.CastVote, "POST", "/polls/"+round3.ID+"/votes", models.CastVoteRequest{BookID: picks["Dan"]},
		testutil.MemberHeaders(voters["Alice"].Token), "id", round3.ID)
	testutil.AssertStatus(t, w, http.StatusBadRequest)

	vote(round3.ID, "Alice", extra)
	vote(round3.ID, "Bob", picks["Bob"])
	vote(round3.ID, "Cara", extra)
	vote(round3.ID, "Dan", extra)

	res3 := finalize(round3.ID)
	if res3.Result.Outcome != runoff.OutcomeWinner || res3.Result.BookID != extra {
		t.Fatalf("Step 5 - expected %s to win, got %+v", extra, res3.Result)
	}
	if res3.NextPoll != nil {
		t.Error("Step 5 - a decided series must not open another round")
	}

	// History lists the whole series.
	w = call(polls.History, "GET", "/meetings/"+meetingID+"/polls", nil, adminHeaders, "id", meetingID)
	requireStatus(t, w, http.StatusOK)
	var history models.PollHistoryResponse
	testutil.AssertJSON(t, w, &history)
	if len(history.Polls) != 3 {
		t.Fatalf("Expected 3 rounds in history, got %d", len(history.Polls))
	}
	wantWinners := []string{runoff.TieSentinel, runoff.NextRoundSentinel, extra}
	for i, p := range history.Polls {
		if p.SeriesID != round1.ID {
			t.Errorf("Round %d belongs to series %s, want %s", p.Round, p.SeriesID, round1.ID)
		}
		if p.Winner == nil || *p.Winner != wantWinners[i] {
			t.Errorf("Round %d winner = %v, want %s", p.Round, p.Winner, wantWinners[i])
		}
	}

	// No round is left open.
	w = call(polls.GetOpenPoll, "GET", "/polls/open?meeting_id="+meetingID, nil, adminHeaders)
	testutil.AssertStatus(t, w, http.StatusNotFound)
}
