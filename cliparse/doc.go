// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package cliparse handles command-line argument parsing and configuration.

# Configuration

ParseFlags returns a Config struct with all settings:

	cfg, err := cliparse.ParseFlags(os.Args[1:])

# CLI Flags

	-p            Server port
	-d            Database URL
	-t            Database type (sqlite or postgres)
	-redis        Redis URL
	-token-salt   Member token salt
	-admin-key    Bootstrap admin key

# Environment Variables

Flags fall back to environment variables, which may also come from a .env
file in the working directory:

	PORT          → -p
	DATABASE_URL  → -d
	DATABASE_TYPE → -t
	REDIS_URL     → -redis
	TOKEN_SALT    → -token-salt
	ADMIN_KEY     → -admin-key

CLI flags take precedence over environment variables, and real environment
variables take precedence over .env.

# Validation

ParseFlags returns an error if:

  - DATABASE_URL is missing
  - DATABASE_TYPE is neither sqlite nor postgres
  - TOKEN_SALT or ADMIN_KEY is missing
*/
package cliparse
