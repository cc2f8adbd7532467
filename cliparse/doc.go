// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package cliparse handles configuration from the environment and command line.

# Configuration

ParseFlags returns a Config struct with all settings:

	cfg, err := cliparse.ParseFlags(os.Args[1:])

Environment variables are read first (via go-envconfig, after main has
loaded any .env file), then CLI flags override them.

# CLI Flags

	-p            Server port
	-d            Database URL
	-t            Database type (sqlite or postgres)
	-log-level    Log level
	-host-salt    Host key salt
	-code-salt    Join code salt

# Environment Variables

	PORT, DATABASE_URL, DATABASE_TYPE, LOG_LEVEL
	HOST_KEY_SALT, SESSION_CODE_SALT, PUBLIC_BASE_URL, ADMIN_TOKEN
	SESSION_TTL, JANITOR_SCHEDULE
	RATE_LIMIT_RPS, RATE_LIMIT_BURST, CACHE_TTL
	GOOGLE_PLACES_API_KEY, WATCHMODE_API_KEY
	OPENAI_API_KEY, OPENAI_MODEL, OPENAI_BASE_URL, OPENAI_DAILY_LIMIT

# Validation

ParseFlags returns an error if DATABASE_URL, HOST_KEY_SALT or
SESSION_CODE_SALT is missing. DATABASE_TYPE defaults to postgres for
postgres:// URLs and sqlite otherwise.
*/
package cliparse
