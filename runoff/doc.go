// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package runoff decides multi-round "next book" polls.

A poll series starts at round 1 and every round offers a candidate set to
the attendees of the originating meeting. Nothing in this package touches
the database; handlers load rows and pass them in.

# Tallying

	counts, tally := runoff.BuildTally(ballots)

tally (voter -> book) is what gets persisted on the poll row once every
attendee has voted:

	if runoff.IsComplete(tally.Voters(), len(attendees)) { ... }

# Classification

	res := runoff.Classify(counts, eligibleVoters)

The outcome is one of:

  - winner: the top book has strictly more than half of eligibleVoters
  - all_tie: more than one book got votes and all got the same number
  - next_round: the leaders go to a runoff; a lone leader is joined by
    every book tied for second place

Ties are never broken arbitrarily. Resolve does the same for a live round;
the votes of the all-tie streak right before it only count towards the
finalists, never towards a majority.

# Carry-forward

	e := runoff.NextEligibility(priorRounds, voterID)

The round chain is replayed on every call; nothing about it is stored
besides each round's winner value and tally.
*/
package runoff
