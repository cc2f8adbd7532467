// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package router defines HTTP routes for the choosing.sucks API.

# Route Registration

NewRouter builds a chi router wrapped in CORS:

	h := router.NewRouter(router.Deps{DB: db, Config: cfg, Hub: hub, ...})

# Endpoints

Health and metrics:

	GET /health
	GET /metrics

Host (requires X-Host-Key):

	POST   /sessions
	GET    /sessions/{id}/host
	POST   /sessions/{id}/start
	POST   /sessions/{id}/decide
	POST   /sessions/{id}/tiebreak
	POST   /sessions/{id}/candidates
	DELETE /sessions/{id}/candidates/{candidateID}
	POST   /sessions/{id}/candidates/load

Participants (join code, X-Participant-Token where needed):

	GET  /sessions/{code}
	GET  /sessions/{code}/status
	POST /sessions/{code}/join
	POST /sessions/{code}/swipes
	POST /sessions/{code}/done
	GET  /sessions/{code}/my-swipes
	GET  /sessions/{code}/matches
	GET  /sessions/{code}/rps
	POST /sessions/{code}/rps/moves
	POST /sessions/{code}/pick
	GET  /sessions/{code}/result
	GET  /sessions/{code}/preview
	GET  /sessions/{code}/ws

Provider passthrough, rate limited per client IP:

	GET  /places/search
	GET  /places/{placeID}
	GET  /titles/search
	GET  /titles/{titleID}
	POST /ai/options

Admin and devices:

	GET  /usage
	POST /devices/register
	GET  /devices/me
	GET  /devices/my-sessions
*/
package router
