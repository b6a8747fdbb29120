// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package runoff

// Outcome is the classification of a finished round.
type Outcome string

const (
	OutcomeWinner    Outcome = "winner"
	OutcomeAllTie    Outcome = "all_tie"
	OutcomeNextRound Outcome = "next_round"
)

// Values stored in poll.winner for rounds without a winning book.
const (
	TieSentinel       = "all tie"
	NextRoundSentinel = "next round"
)

// Result is the decision for one round.
type Result struct {
	Outcome   Outcome  `json:"outcome"`
	BookID    string   `json:"book_id,omitempty"`
	Finalists []string `json:"finalists"`
	Counts    Counts   `json:"counts"`
}

// WinnerValue returns what gets written to poll.winner for this result.
func (r Result) WinnerValue() string {
	switch r.Outcome {
	case OutcomeWinner:
		return r.BookID
	case OutcomeAllTie:
		return TieSentinel
	default:
		return NextRoundSentinel
	}
}

// Classify decides a round from its per-book counts and the number of
// eligible voters. A book wins only with a strict majority; exactly half
// is not enough.
func Classify(counts Counts, eligibleVoters int) Result {
	return classify(counts, eligibleVoters, IsAllTie(counts))
}

func classify(counts Counts, threshold int, allTie bool) Result {
	ranked := counts.Ranked()
	res := Result{Counts: counts, Finalists: []string{}}

	if len(ranked) > 0 && ranked[0].Votes*2 > threshold {
		res.Outcome = OutcomeWinner
		res.BookID = ranked[0].BookID
		res.Finalists = []string{ranked[0].BookID}
		return res
	}

	if allTie {
		res.Outcome = OutcomeAllTie
		for _, e := range ranked {
			res.Finalists = append(res.Finalists, e.BookID)
		}
		return res
	}

	res.Outcome = OutcomeNextRound
	res.Finalists = finalists(ranked)
	return res
}

// finalists returns every book tied for first place. When a single book
// leads, all books tied for second place join it so the runoff has at
// least two candidates whenever a second place exists.
func finalists(ranked []Entry) []string {
	ids := []string{}
	if len(ranked) == 0 {
		return ids
	}

	top := ranked[0].Votes
	i := 0
	for ; i < len(ranked) && ranked[i].Votes == top; i++ {
		ids = append(ids, ranked[i].BookID)
	}
	if len(ids) > 1 || i == len(ranked) {
		return ids
	}

	second := ranked[i].Votes
	for ; i < len(ranked) && ranked[i].Votes == second; i++ {
		ids = append(ids, ranked[i].BookID)
	}
	return ids
}
