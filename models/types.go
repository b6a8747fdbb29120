package models

import (
	"time"

	"github.com/danielhkuo/bookclub-vote/runoff"
)

// Poll status constants
const (
	StatusOpen     = "open"
	StatusComplete = "complete"
)

// Date round status constants
const (
	DateRoundOpen   = "open"
	DateRoundClosed = "closed"
)

// Realtime event types
const (
	EventPollStarted    = "poll_started"
	EventRoundTallied   = "round_tallied"
	EventRoundFinalized = "round_finalized"
	EventPollStopped    = "poll_stopped"
)

// Request types

type RegisterMemberRequest struct {
	DisplayName string `json:"display_name"`
}

type CreateBookRequest struct {
	Title        string   `json:"title"`
	Author       string   `json:"author"`
	PageCount    int      `json:"page_count"`
	Genres       []string `json:"genres"`
	Country      string   `json:"country"`
	AuthorGender string   `json:"author_gender"`
	ReleaseYear  int      `json:"release_year"`
}

type CreateMeetingRequest struct {
	BookID   string `json:"book_id"`
	Location string `json:"location"`
	Date     string `json:"date"` // YYYY-MM-DD
	Time     string `json:"time"` // HH:MM
}

// MeetingID is optional; the most recent past meeting is used when empty.
type StartPollRequest struct {
	MeetingID string `json:"meeting_id"`
}

type CastVoteRequest struct {
	BookID string `json:"book_id"`
}

type ChooseDateRequest struct {
	Date string `json:"date"` // YYYY-MM-DD
}

// Response types

type RegisterMemberResponse struct {
	MemberID string `json:"member_id"`
	Token    string `json:"token"`
	IsAdmin  bool   `json:"is_admin"`
}

type CreateBookResponse struct {
	BookID string `json:"book_id"`
}

type CreateMeetingResponse struct {
	MeetingID string `json:"meeting_id"`
	IsActive  bool   `json:"is_active"`
}

type CastVoteResponse struct {
	VoteID        string `json:"vote_id"`
	PollID        string `json:"poll_id"`
	Round         int    `json:"round"`
	RoundComplete bool   `json:"round_complete"`
	Message       string `json:"message"`
}

type BallotOptionsResponse struct {
	PollID     string   `json:"poll_id"`
	Round      int      `json:"round"`
	Books      []Book   `json:"books"`
	Banned     []string `json:"banned"`
	ExcludeOwn bool     `json:"exclude_own"`
	MyVote     *string  `json:"my_vote,omitempty"`
}

type FinalizeRoundResponse struct {
	Poll     Poll          `json:"poll"`
	Result   runoff.Result `json:"result"`
	NextPoll *Poll         `json:"next_poll,omitempty"`
}

// Deck holds book IDs in reveal order; PriorCounts seeds the running
// counters with the all-tie streak before this round.
type RevealResponse struct {
	PollID      string          `json:"poll_id"`
	Round       int             `json:"round"`
	Deck        []string        `json:"deck"`
	PriorCounts runoff.Counts   `json:"prior_counts"`
	Books       map[string]Book `json:"books"`
	Result      runoff.Result   `json:"result"`
}

type PollHistoryResponse struct {
	Polls []Poll `json:"polls"`
}

type StopPollsResponse struct {
	Stopped int `json:"stopped"`
}

type DateRoundsResponse struct {
	Rounds []DateRound `json:"rounds"`
}

// Domain types

type Member struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	IsAdmin     bool      `json:"is_admin"`
	TokenHash   string    `json:"-"` // Never expose in JSON
	CreatedAt   time.Time `json:"created_at"`
}

type Book struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Author       string    `json:"author"`
	PageCount    int       `json:"page_count"`
	Genres       []string  `json:"genres"`
	Country      string    `json:"country"`
	AuthorGender string    `json:"author_gender"`
	ReleaseYear  int       `json:"release_year"`
	MemberID     string    `json:"member_id"`
	IsSelected   bool      `json:"is_selected"`
	CreatedAt    time.Time `json:"created_at"`
}

type Meeting struct {
	ID        string    `json:"id"`
	BookID    string    `json:"book_id"`
	Location  string    `json:"location"`
	Date      string    `json:"date"`
	Time      string    `json:"time"`
	IsActive  bool      `json:"is_active"`
	Attendees []string  `json:"attendees"`
	CreatedAt time.Time `json:"created_at"`
}

// Poll is one round of a next-book poll. SeriesID is the ID of the
// round-1 poll of the series, so every round of a series shares it.
type Poll struct {
	ID        string       `json:"id"`
	SeriesID  string       `json:"series_id"`
	MeetingID string       `json:"meeting_id"`
	Round     int          `json:"round"`
	Tally     runoff.Tally `json:"tally"`
	Winner    *string      `json:"winner"`
	Status    string       `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
}

type Vote struct {
	ID        string    `json:"id"`
	PollID    string    `json:"poll_id"`
	Round     int       `json:"round"`
	MemberID  string    `json:"member_id"`
	BookID    string    `json:"book_id"`
	CreatedAt time.Time `json:"created_at"`
}

type DateRound struct {
	ID        string     `json:"id"`
	Status    string     `json:"status"`
	Year      int        `json:"year"`
	Month     int        `json:"month"`
	TopDates  []string   `json:"top_dates"`
	Choices   []DateVote `json:"choices,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

type DateVote struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// PollEvent is pushed to realtime subscribers of a meeting.
type PollEvent struct {
	Type      string `json:"type"`
	MeetingID string `json:"meeting_id"`
	PollID    string `json:"poll_id"`
	Round     int    `json:"round"`
	Status    string `json:"status"`
}

// Error response

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
