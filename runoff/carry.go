// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package runoff

import "sort"

// Round is a completed round of a poll series as the replay sees it.
// Winner is empty when the row was completed without a decision.
type Round struct {
	PollID string
	Number int
	Winner string
	Tally  Tally
}

// IsTie reports whether the round ended in an all-tie.
func (r Round) IsTie() bool {
	if r.Winner == TieSentinel {
		return true
	}
	return r.Winner == "" && IsAllTie(r.Tally.Counts())
}

// IsNext reports whether the round narrowed the field to a runoff.
func (r Round) IsNext() bool {
	if r.Winner == NextRoundSentinel {
		return true
	}
	return r.Winner == "" && !IsAllTie(r.Tally.Counts())
}

// Eligibility is the candidate set offered to one voter in the next round.
type Eligibility struct {
	// Restricted is false when the whole waitlist is offered.
	Restricted bool
	// Finalists lists the only books on offer when Restricted is set.
	Finalists []string
	// ExcludeOwn hides the voter's own nominations.
	ExcludeOwn bool
	// Banned holds books the voter already picked during the current
	// all-tie streak.
	Banned map[string]bool
}

// Allows reports whether a book passes the finalist and ban rules. The
// own-nomination rule needs the book owner and is checked by the caller.
func (e Eligibility) Allows(bookID string) bool {
	if e.Banned[bookID] {
		return false
	}
	if !e.Restricted {
		return true
	}
	for _, id := range e.Finalists {
		if id == bookID {
			return true
		}
	}
	return false
}

// NewestFirst orders completed rounds by descending round number. When the
// same number appears more than once the later element of rounds wins.
func NewestFirst(rounds []Round) []Round {
	latest := make(map[int]Round, len(rounds))
	for _, r := range rounds {
		latest[r.Number] = r
	}
	chain := make([]Round, 0, len(latest))
	for _, r := range latest {
		chain = append(chain, r)
	}
	sort.Slice(chain, func(i, j int) bool {
		return chain[i].Number > chain[j].Number
	})
	return chain
}

// NextEligibility replays the completed rounds that precede the current one
// and returns what voterID may choose from.
//
// After an all-tie the full waitlist comes back, minus every book this voter
// picked during the unbroken tie streak, and own nominations stay hidden
// until some round in the series has narrowed the field. After a narrowing
// round only the cumulative leaders of that round and the ties feeding into
// it are offered, with no bans and own nominations allowed.
func NextEligibility(prior []Round, voterID string) Eligibility {
	chain := NewestFirst(prior)
	if len(chain) == 0 {
		return Eligibility{ExcludeOwn: true}
	}

	narrowed := false
	for _, r := range chain {
		if r.IsNext() {
			narrowed = true
			break
		}
	}

	last := chain[0]
	switch {
	case last.IsTie():
		e := Eligibility{ExcludeOwn: !narrowed, Banned: make(map[string]bool)}
		for _, r := range chain {
			if !r.IsTie() {
				break
			}
			if bookID := r.Tally[voterID]; bookID != "" {
				e.Banned[bookID] = true
			}
		}
		return e
	case last.IsNext():
		ids := CumulativeFinalists(chain)
		if len(ids) == 0 {
			return Eligibility{}
		}
		return Eligibility{Restricted: true, Finalists: ids}
	default:
		return Eligibility{ExcludeOwn: true}
	}
}

// CumulativeFinalists sums the newest round with the unbroken run of
// all-tie rounds directly before it and returns the leaders of that sum,
// broadened to second place when a single book leads.
func CumulativeFinalists(rounds []Round) []string {
	chain := NewestFirst(rounds)
	if len(chain) == 0 {
		return []string{}
	}
	counts := chain[0].Tally.Counts()
	for _, r := range chain[1:] {
		if !r.IsTie() {
			break
		}
		counts = counts.Merge(r.Tally.Counts())
	}
	return finalists(counts.Ranked())
}

// PriorTieCounts sums the counts of the unbroken all-tie streak ending at
// the newest of rounds.
func PriorTieCounts(rounds []Round) Counts {
	counts := make(Counts)
	for _, r := range NewestFirst(rounds) {
		if !r.IsTie() {
			break
		}
		counts = counts.Merge(r.Tally.Counts())
	}
	return counts
}

// Resolve decides the current round. A book wins with a strict majority of
// eligibleVoters in the current round alone. Without a winner, the finalists
// come from the current votes pooled with the all-tie streak right before
// it, and the pooled counts are what the result reports.
func Resolve(prior []Round, current Tally, eligibleVoters int) Result {
	own := current.Counts()
	res := Classify(own, eligibleVoters)
	combined := PriorTieCounts(prior).Merge(own)
	res.Counts = combined
	if res.Outcome == OutcomeNextRound {
		res.Finalists = finalists(combined.Ranked())
	}
	return res
}

// Deck returns the current round's votes as cards to be turned over one by
// one. shuffle follows the signature of math/rand.Shuffle.
func Deck(current Tally, shuffle func(n int, swap func(i, j int))) []string {
	voters := make([]string, 0, len(current))
	for voterID := range current {
		voters = append(voters, voterID)
	}
	sort.Strings(voters)

	cards := make([]string, 0, len(voters))
	for _, voterID := range voters {
		if bookID := current[voterID]; bookID != "" {
			cards = append(cards, bookID)
		}
	}
	if shuffle != nil {
		shuffle(len(cards), func(i, j int) {
			cards[i], cards[j] = cards[j], cards[i]
		})
	}
	return cards
}
