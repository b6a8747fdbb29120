// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package db opens the database and creates the schema.

# Drivers

Open picks the driver from the configured type:

	conn, err := db.Open("sqlite", "bookclub.db")      // modernc.org/sqlite
	conn, err := db.Open("postgres", "postgres://...") // github.com/lib/pq

SQLite is limited to a single open connection.

# Schema Creation

	if err := db.CreateSchema(conn); err != nil {
		log.Fatal(err)
	}

Safe to call multiple times - uses IF NOT EXISTS for all tables and indexes.
The DDL is shared by both drivers.

# Tables

  - member: Display name, admin flag and token hash
  - book: Nominations; the waitlist is every book not yet selected
  - meeting: Scheduled meetings, each for one selected book
  - meeting_attendee: The eligible voters of polls spawned from a meeting
  - poll: One row per round; series_id links the rounds of one series
  - vote: One per member per round
  - date_round, date_choice: Availability voting for a future month

# Relationships

	member 1──* book
	book 1──* meeting
	meeting *──* member (via meeting_attendee)
	meeting 1──* poll
	poll 1──* vote
	date_round 1──* date_choice

# Errors

IsUniqueViolation recognizes unique constraint failures from either driver.
*/
package db
