// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package handlers contains HTTP request handlers for the bookclub-vote API.

# Handler Types

  - MemberHandler: Registration and member lookup
  - BookHandler: Waitlist nominations
  - MeetingHandler: Scheduling and attendance
  - PollHandler: Poll series lifecycle, reveal and finalization
  - VotingHandler: Ballot options, votes and withdrawals
  - DateHandler: Availability rounds
  - EventHandler: WebSocket subscriptions

Handlers are created via constructor functions that accept *sql.DB and Config,
plus the event publisher and metrics where they emit either:

	pollHandler := handlers.NewPollHandler(db, cfg, pub, m)

Every endpoint needs a member token (X-Member-Token or Bearer). Admin
endpoints additionally require a member registered with the admin key.

# Poll Series

A poll series starts at round 1 for the latest past meeting. Its attendees
vote; the last ballot writes the round tally. The admin reveals the deck
and finalizes the round:

	winner     → series done
	all tie    → next round, full waitlist minus each voter's tie-streak picks
	next round → next round restricted to the finalists

The rules themselves live in package runoff; handlers only load the series,
apply the result and open the next round in the same transaction.

Votes for a stale round land in the newest open round of the meeting.
*/
package handlers
