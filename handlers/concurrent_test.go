// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/danielhkuo/bookclub-vote/models"
	"github.com/danielhkuo/bookclub-vote/runoff"
	"github.com/danielhkuo/bookclub-vote/testutil"
)

// TestConcurrentVotes verifies that simultaneous ballots from every attendee
// are all recorded and the round tally is written exactly once.
func TestConcurrentVotes(t *testing.T) {
	names := make([]string, 8)
	for i := range names {
		names[i] = fmt.Sprintf("Voter%c", 'A'+i)
	}
	c := newClub(t, names...)
	pollID := testutil.CreateTestPoll(t, c.db, c.meetingID, testutil.TestRound{})

	var created, completed atomic.Int32
	var wg sync.WaitGroup

	for i, name := range names {
		wg.Add(1)
		go func(voter testMember, pick testMember) {
			defer wg.Done()

			w := c.vote(t, pollID, voter.token, pick.book)
			if w.Code != http.StatusCreated {
				return
			}
			created.Add(1)

			var resp models.CastVoteResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Errorf("Failed to decode vote response: %v", err)
				return
			}
			if resp.RoundComplete {
				completed.Add(1)
			}
		}(c.m(name), c.m(names[(i+1)%len(names)]))
	}

	wg.Wait()

	if int(created.Load()) != len(names) {
		t.Errorf("Expected %d recorded votes, got %d", len(names), created.Load())
	}
	if completed.Load() != 1 {
		t.Errorf("Expected exactly one response to complete the round, got %d", completed.Load())
	}

	var count int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM vote WHERE poll_id = $1", pollID).Scan(&count); err != nil {
		t.Fatalf("Failed to count votes: %v", err)
	}
	if count != len(names) {
		t.Errorf("Expected %d votes in database, got %d", len(names), count)
	}

	poll := c.loadPoll(t, pollID)
	if poll.Tally.Voters() != len(names) {
		t.Errorf("Expected tally with %d voters, got %v", len(names), poll.Tally)
	}

	tallied := 0
	for _, typ := range c.pub.types() {
		if typ == models.EventRoundTallied {
			tallied++
		}
	}
	if tallied != 1 {
		t.Errorf("Expected one round_tallied event, got %d", tallied)
	}
}

// TestConcurrentDuplicateVotes verifies that a member racing against
// themself gets exactly one ballot in.
func TestConcurrentDuplicateVotes(t *testing.T) {
	c := newClub(t, "Alice", "Bob", "Cara")
	alice, bob := c.m("Alice"), c.m("Bob")
	pollID := testutil.CreateTestPoll(t, c.db, c.meetingID, testutil.TestRound{})

	const attempts = 5
	var created, conflicts atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch c.vote(t, pollID, alice.token, bob.book).Code {
			case http.StatusCreated:
				created.Add(1)
			case http.StatusConflict:
				conflicts.Add(1)
			}
		}()
	}

	wg.Wait()

	if created.Load() != 1 {
		t.Errorf("Expected exactly 1 accepted vote, got %d", created.Load())
	}
	if conflicts.Load() != attempts-1 {
		t.Errorf("Expected %d conflicts, got %d", attempts-1, conflicts.Load())
	}

	var count int
	c.db.QueryRow("SELECT COUNT(*) FROM vote WHERE poll_id = $1 AND member_id = $2", pollID, alice.id).Scan(&count)
	if count != 1 {
		t.Errorf("Expected 1 vote in database, got %d", count)
	}
}

// TestConcurrentFinalize verifies that racing finalizations decide a round
// once and open at most one follow-up round.
func TestConcurrentFinalize(t *testing.T) {
	c := newClub(t, "Alice", "Bob", "Cara")
	alice, bob, cara := c.m("Alice"), c.m("Bob"), c.m("Cara")

	pollID := testutil.CreateTestPoll(t, c.db, c.meetingID, testutil.TestRound{
		Tally: runoff.Tally{alice.id: bob.book, bob.id: cara.book, cara.id: alice.book},
	})

	const attempts = 4
	var ok, conflicts atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch c.finalize(t, pollID).Code {
			case http.StatusOK:
				ok.Add(1)
			case http.StatusConflict:
				conflicts.Add(1)
			}
		}()
	}

	wg.Wait()

	if ok.Load() != 1 {
		t.Errorf("Expected exactly 1 successful finalize, got %d", ok.Load())
	}
	if conflicts.Load() != attempts-1 {
		t.Errorf("Expected %d conflicts, got %d", attempts-1, conflicts.Load())
	}

	var rounds int
	c.db.QueryRow("SELECT COUNT(*) FROM poll WHERE series_id = $1", pollID).Scan(&rounds)
	if rounds != 2 {
		t.Errorf("Expected the tie to open exactly one more round, got %d rounds", rounds)
	}
}
