// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package runoff

import "sort"

// Ballot is a single vote cast in one round of a poll.
type Ballot struct {
	PollID  string
	Round   int
	VoterID string
	BookID  string
}

// Tally maps voter ID -> chosen book ID for one round.
// This is the form persisted on the poll row once a round is complete.
type Tally map[string]string

// Counts maps book ID -> number of votes.
type Counts map[string]int

// Entry is one row of a ranked Counts.
type Entry struct {
	BookID string `json:"book_id"`
	Votes  int    `json:"votes"`
}

// BuildTally reduces the ballots of a round into per-book counts and the
// per-voter tally. A voter appearing twice keeps the last ballot in the
// per-voter map while both ballots are counted.
func BuildTally(ballots []Ballot) (Counts, Tally) {
	counts := make(Counts)
	tally := make(Tally)
	for _, b := range ballots {
		if b.BookID == "" {
			continue
		}
		counts[b.BookID]++
		tally[b.VoterID] = b.BookID
	}
	return counts, tally
}

// Counts reduces a per-voter tally into per-book counts.
func (t Tally) Counts() Counts {
	counts := make(Counts)
	for _, bookID := range t {
		if bookID == "" {
			continue
		}
		counts[bookID]++
	}
	return counts
}

// Voters returns the number of distinct voters in the tally.
func (t Tally) Voters() int {
	return len(t)
}

// Total returns the number of votes across all books.
func (c Counts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// Merge returns a new Counts holding the per-book sum of c and other.
func (c Counts) Merge(other Counts) Counts {
	merged := make(Counts, len(c)+len(other))
	for id, n := range c {
		merged[id] += n
	}
	for id, n := range other {
		merged[id] += n
	}
	return merged
}

// Ranked returns the books with at least one vote ordered by descending
// vote count. Equal counts are ordered by book ID so results are stable.
func (c Counts) Ranked() []Entry {
	entries := make([]Entry, 0, len(c))
	for id, n := range c {
		if n <= 0 {
			continue
		}
		entries = append(entries, Entry{BookID: id, Votes: n})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Votes != entries[j].Votes {
			return entries[i].Votes > entries[j].Votes
		}
		return entries[i].BookID < entries[j].BookID
	})
	return entries
}

// IsAllTie reports whether more than one book received votes and every one
// of them received the same number.
func IsAllTie(c Counts) bool {
	first := -1
	books := 0
	for _, n := range c {
		if n <= 0 {
			continue
		}
		books++
		if first < 0 {
			first = n
			continue
		}
		if n != first {
			return false
		}
	}
	return books > 1
}

// IsComplete reports whether every eligible attendee has voted.
func IsComplete(distinctVoters, eligibleVoters int) bool {
	return eligibleVoters > 0 && distinctVoters == eligibleVoters
}
