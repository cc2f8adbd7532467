// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package main provides the entry point for the choosing.sucks API server.

choosing.sucks helps a group pick a restaurant, something to stream or a
custom option. Everyone swipes yes or no on the same candidates; a candidate
liked by enough people under the session's match rule wins, and ties are
settled by rock-paper-scissors.

# Starting the Server

The server reads a .env file, the environment and then CLI flags:

	DATABASE_URL=postgres://... HOST_KEY_SALT=... SESSION_CODE_SALT=... go run .

Or with flags:

	go run . -p 3318 -d "file:choosing.db" --host-salt ... --code-salt ...

# Configuration

Required settings:

  - DATABASE_URL (-d): Postgres URL or SQLite file
  - HOST_KEY_SALT (--host-salt): Secret for host key HMAC
  - SESSION_CODE_SALT (--code-salt): Secret for join code generation

Optional settings:

  - PORT (-p): Server port (default: 3318)
  - DATABASE_TYPE (-t): sqlite or postgres, inferred from the URL
  - GOOGLE_PLACES_API_KEY, WATCHMODE_API_KEY, OPENAI_API_KEY: providers
  - ADMIN_TOKEN: enables GET /usage
  - SESSION_TTL, JANITOR_SCHEDULE, RATE_LIMIT_RPS, RATE_LIMIT_BURST, CACHE_TTL
  - LOG_LEVEL (--log-level): logrus level (default: info)

# Architecture

  - handlers: HTTP request handlers (sessions, swipes, tiebreak, providers)
  - router: chi route definitions
  - middleware: CORS, logging, rate limiting, JSON helpers
  - realtime: per-session websocket rooms
  - providers: Google Places, Watchmode and OpenAI clients
  - rps: rock-paper-scissors round resolution
  - usage: outbound API accounting
  - jobs: cron janitor
  - metrics: Prometheus collectors
  - models: Request/response types
  - auth: Key, token and join code generation
  - db: Connections and migrations
  - cliparse: Configuration parsing

See package documentation for each component.
*/
package main
