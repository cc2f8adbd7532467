// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package realtime pushes session events to websocket clients.

Each session has a room. Clients connect through GET /sessions/{code}/ws and
receive JSON envelopes:

	{"type":"match","session_id":"...","payload":{...},"sent_at":"..."}

Handlers publish through the Broadcaster interface:

	hub.Broadcast(session.ID, realtime.EventMatch, candidate)

Broadcast never blocks. A client whose send queue is full is disconnected
and is expected to reconnect and refetch GET /sessions/{code}/status.
*/
package realtime
