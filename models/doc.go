// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package models defines request, response, and domain types for the API.

# Request Types

  - RegisterMemberRequest: display_name
  - CreateBookRequest: title, author, page_count, genres, country, author_gender, release_year
  - CreateMeetingRequest: book_id, location, date, time
  - StartPollRequest: meeting_id (optional)
  - CastVoteRequest: book_id
  - ChooseDateRequest: date

# Response Types

  - RegisterMemberResponse: member_id, token, is_admin
  - CastVoteResponse: vote_id, round, round_complete
  - BallotOptionsResponse: books, banned, exclude_own, my_vote
  - FinalizeRoundResponse: poll, result, next_poll
  - RevealResponse: deck, prior_counts, books, result
  - ErrorResponse: error, message

# Domain Types

  - Member, Book, Meeting
  - Poll: one round of a poll series, with its tally and winner
  - Vote: one ballot in one round
  - DateRound, DateVote: availability voting
  - PollEvent: pushed to realtime subscribers

# Constants

Poll status:

	StatusOpen     = "open"
	StatusComplete = "complete"

Event types:

	EventPollStarted    = "poll_started"
	EventRoundTallied   = "round_tallied"
	EventRoundFinalized = "round_finalized"
	EventPollStopped    = "poll_stopped"
*/
package models
