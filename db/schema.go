// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Open connects to PostgreSQL or SQLite depending on databaseType and
// verifies the connection.
func Open(databaseType, url string) (*sql.DB, error) {
	driver := "postgres"
	if databaseType == "sqlite" {
		driver = "sqlite"
	}

	conn, err := sql.Open(driver, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	// SQLite allows a single writer; one connection keeps handlers from
	// tripping over SQLITE_BUSY.
	if driver == "sqlite" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driver, err)
	}

	return conn, nil
}

// CreateSchema creates all tables needed for the application.
// Safe to call multiple times - uses IF NOT EXISTS.
func CreateSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// DropSchema removes every table. Used by tests to start clean.
func DropSchema(db *sql.DB) error {
	_, err := db.Exec(`
		DROP TABLE IF EXISTS date_choice;
		DROP TABLE IF EXISTS date_round;
		DROP TABLE IF EXISTS vote;
		DROP TABLE IF EXISTS poll;
		DROP TABLE IF EXISTS meeting_attendee;
		DROP TABLE IF EXISTS meeting;
		DROP TABLE IF EXISTS book;
		DROP TABLE IF EXISTS member;
	`)
	if err != nil {
		return fmt.Errorf("failed to drop schema: %w", err)
	}
	return nil
}

// The DDL sticks to what PostgreSQL and SQLite both accept.
const schema = `
-- Members
CREATE TABLE IF NOT EXISTS member (
    id TEXT PRIMARY KEY,
    display_name TEXT NOT NULL,
    is_admin BOOLEAN NOT NULL DEFAULT FALSE,
    token_hash TEXT NOT NULL UNIQUE,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Books (the waitlist is every book with is_selected = false)
CREATE TABLE IF NOT EXISTS book (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    author TEXT NOT NULL,
    page_count INTEGER NOT NULL DEFAULT 0,
    genres TEXT NOT NULL DEFAULT '[]',
    country TEXT NOT NULL DEFAULT '',
    author_gender TEXT NOT NULL DEFAULT '',
    release_year INTEGER NOT NULL DEFAULT 0,
    member_id TEXT NOT NULL REFERENCES member(id) ON DELETE CASCADE,
    is_selected BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_book_is_selected ON book(is_selected);
CREATE INDEX IF NOT EXISTS idx_book_member_id ON book(member_id);

-- Meetings
CREATE TABLE IF NOT EXISTS meeting (
    id TEXT PRIMARY KEY,
    book_id TEXT NOT NULL REFERENCES book(id),
    location TEXT NOT NULL,
    meeting_date TEXT NOT NULL,
    meeting_time TEXT NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_meeting_date ON meeting(meeting_date);

-- Attendance (the eligible voters of polls spawned from a meeting)
CREATE TABLE IF NOT EXISTS meeting_attendee (
    meeting_id TEXT NOT NULL REFERENCES meeting(id) ON DELETE CASCADE,
    member_id TEXT NOT NULL REFERENCES member(id) ON DELETE CASCADE,
    joined_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (meeting_id, member_id)
);

-- Polls: one row per round; series_id is the round-1 poll id
CREATE TABLE IF NOT EXISTS poll (
    id TEXT PRIMARY KEY,
    series_id TEXT NOT NULL,
    meeting_id TEXT NOT NULL REFERENCES meeting(id) ON DELETE CASCADE,
    round INTEGER NOT NULL DEFAULT 1 CHECK (round >= 1),
    tally TEXT NOT NULL DEFAULT '{}',
    winner TEXT,
    status TEXT NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'complete')),
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_poll_meeting_status ON poll(meeting_id, status);
CREATE INDEX IF NOT EXISTS idx_poll_series ON poll(series_id, round);

-- Votes: one per member per round
CREATE TABLE IF NOT EXISTS vote (
    id TEXT PRIMARY KEY,
    poll_id TEXT NOT NULL REFERENCES poll(id) ON DELETE CASCADE,
    round INTEGER NOT NULL,
    member_id TEXT NOT NULL REFERENCES member(id) ON DELETE CASCADE,
    book_id TEXT NOT NULL REFERENCES book(id) ON DELETE CASCADE,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (poll_id, round, member_id)
);

CREATE INDEX IF NOT EXISTS idx_vote_poll_round ON vote(poll_id, round);

-- Date selection
CREATE TABLE IF NOT EXISTS date_round (
    id TEXT PRIMARY KEY,
    status TEXT NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'closed')),
    year INTEGER NOT NULL,
    month INTEGER NOT NULL CHECK (month >= 1 AND month <= 12),
    top_dates TEXT NOT NULL DEFAULT '[]',
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    closed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_date_round_status ON date_round(status);

CREATE TABLE IF NOT EXISTS date_choice (
    round_id TEXT NOT NULL REFERENCES date_round(id) ON DELETE CASCADE,
    member_id TEXT NOT NULL REFERENCES member(id) ON DELETE CASCADE,
    selected_date TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (round_id, member_id, selected_date)
);
`
