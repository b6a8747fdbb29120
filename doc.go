// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package main provides the entry point for the bookclub-vote API server.

bookclub-vote runs a book club: members nominate books to a waitlist,
meetings are scheduled and attended, and after each meeting the attendees
pick the next book in a multi-round runoff poll. A separate date round
collects availability for the meeting after next.

# Starting the Server

The server reads flags, then the environment, then an optional .env file:

	DATABASE_URL=bookclub.db TOKEN_SALT=... ADMIN_KEY=... go run .

Or with flags:

	go run . -p 3318 -t postgres -d "postgres://..." -redis redis://localhost:6379/0

# Configuration

Required settings:

  - DATABASE_URL (-d): SQLite file or PostgreSQL connection string
  - TOKEN_SALT (--token-salt): Secret for member token hashing
  - ADMIN_KEY (--admin-key): Bootstrap key that grants admin at registration

Optional settings:

  - PORT (-p): Server port (default: 3318)
  - DATABASE_TYPE (-t): sqlite (default) or postgres
  - REDIS_URL (--redis): Relay poll events between server instances

# Architecture

  - runoff: Tally, classification and round carry-forward rules
  - handlers: HTTP request handlers (members, books, meetings, polls, votes, dates, events)
  - router: Route definitions using Go 1.22+ routing
  - realtime: WebSocket hub and Redis relay for poll events
  - metrics: Prometheus collectors
  - middleware: CORS, logging, metrics, JSON helpers
  - models: Request/response types
  - auth: Token generation and validation
  - db: Connection and schema creation
  - cliparse: Configuration parsing

See package documentation for each component.
*/
package main
