// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package db opens the database and manages its schema.

# Connecting

	conn, err := db.Open(cfg.DatabaseType, cfg.DatabaseURL)

Postgres uses lib/pq; SQLite uses the pure-Go modernc driver with a single
connection and foreign keys enabled. Both accept the $1-style placeholders
used throughout the handlers.

# Schema Creation

CreateSchema applies the embedded migrations with sql-migrate:

	if _, err := db.CreateSchema(conn, cfg.DatabaseType); err != nil {
		log.Fatal(err)
	}

Safe to call multiple times; applied migrations are tracked in
gorp_migrations.

# Tables

  - sessions: decision rooms and their lifecycle state
  - participants: people in a session, one token each
  - candidates: options being swiped on
  - swipes: one yes/no per participant per candidate
  - rps_games, rps_players, rps_moves: tiebreak games
  - api_usage: outbound provider calls
  - devices, device_sessions: device history

# Relationships

	sessions 1──* participants
	sessions 1──* candidates
	participants 1──* swipes *──1 candidates
	sessions 1──* rps_games 1──* rps_moves
	devices *──* sessions (via device_sessions)

All foreign keys use ON DELETE CASCADE.
*/
package db
