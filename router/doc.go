// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package router defines HTTP routes for the bookclub-vote API.

# Route Registration

NewRouter creates a configured http.ServeMux with all endpoints:

	mux := router.NewRouter(db, cfg, hub, pub, m)

API routes are wrapped with request logging and a latency histogram
labelled by route pattern.

# Endpoints

Operational:

	GET /health  - Database ping
	GET /metrics - Prometheus scrape

Members and waitlist (X-Member-Token):

	POST   /members     - Register (X-Admin-Key makes an admin)
	GET    /members     - List members
	GET    /members/me  - Current member
	POST   /books       - Nominate a book
	GET    /books       - Waitlist (?genre, ?country, ?author_gender, ?sort, ?order)
	DELETE /books/{id}  - Remove a nomination

Meetings:

	POST   /meetings               - Schedule (admin)
	GET    /meetings               - List
	GET    /meetings/{id}          - Get
	POST   /meetings/{id}/attend   - Attend
	DELETE /meetings/{id}/attend   - Stop attending
	POST   /meetings/{id}/complete - Mark done (admin)
	POST   /meetings/{id}/reopen   - Mark active (admin)
	GET    /meetings/{id}/polls    - Poll history
	GET    /meetings/{id}/events   - WebSocket poll events

Polls:

	POST   /polls               - Start round 1 (admin)
	POST   /polls/stop          - Close open rounds (admin)
	GET    /polls/open          - Newest open round
	GET    /polls/{id}          - Get round
	GET    /polls/{id}/options  - Caller's ballot
	POST   /polls/{id}/votes    - Vote
	DELETE /polls/{id}/votes    - Withdraw vote
	GET    /polls/{id}/reveal   - Shuffled deck (admin)
	POST   /polls/{id}/finalize - Decide round (admin)

Date rounds:

	POST   /date-rounds                      - Start (admin)
	GET    /date-rounds                      - List
	POST   /date-rounds/{id}/choices         - Mark a date
	DELETE /date-rounds/{id}/choices/{date}  - Unmark a date
	POST   /date-rounds/{id}/close           - Keep the top dates (admin)
*/
package router
