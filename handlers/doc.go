// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package handlers contains HTTP request handlers for the choosing.sucks API.

# Handler Types

Each handler is a struct with database, config and broadcaster dependencies:

  - SessionHandler: session lifecycle (create, start, status, host decide)
  - ParticipantHandler: joining a session by code
  - CandidateHandler: custom candidates and provider-backed loading
  - SwipeHandler: swipes, match detection and outcome resolution
  - TiebreakHandler: rock-paper-scissors games and the winner's pick
  - ResultsHandler: final result and link preview
  - ProxyHandler: Google Places, Watchmode and option generation passthrough
  - UsageHandler: outbound API usage report
  - RealtimeHandler: websocket subscriptions
  - DeviceHandler: device registration and session history

Handlers are created via constructor functions:

	sessionHandler := handlers.NewSessionHandler(db, cfg, hub)

# Session Lifecycle

Sessions move waiting → swiping → matched | no_match | tiebreak → decided.
The janitor moves abandoned sessions to expired.

	POST /sessions                → CreateSession (returns host_key)
	POST /sessions/{id}/candidates → AddCandidate (waiting only)
	POST /sessions/{id}/start      → StartSession
	POST /sessions/{id}/decide     → Decide (host override)

Host operations require the X-Host-Key header.

# Swiping

Participants use the join code:

	POST /sessions/{code}/join   → Join (returns participant_token)
	POST /sessions/{code}/swipes → RecordSwipe
	POST /sessions/{code}/done   → Done

Participant operations require the X-Participant-Token header.

Swipes are committed before match detection runs. Every transition is a
conditional UPDATE on the current status, so concurrent swipes cannot
both match or both start a tiebreak.

# Tiebreak

When everyone is finished and several candidates share the most likes,
all participants play rock-paper-scissors:

	POST /sessions/{code}/rps/moves → Move
	POST /sessions/{code}/pick      → Pick (winner only)

# Device Tracking

Optional device tracking for native apps:

	POST /devices/register     → Register
	GET /devices/me            → GetMe
	GET /devices/my-sessions   → GetMySessions

Device operations require the X-Device-UUID header.
*/
package handlers
