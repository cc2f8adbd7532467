// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package auth provides credential and identifier generation.

# Host Keys

Host keys use HMAC-SHA256 to create deterministic, verifiable keys:

	hostKey := auth.GenerateHostKey(sessionID, salt)
	err := auth.ValidateHostKey(sessionID, hostKey, salt)

The key is never stored; holding it proves the caller created the session.

# Participant Tokens

Each participant receives a random 24-byte token when joining:

	token, err := auth.GenerateParticipantToken()

Tokens are sent back in the X-Participant-Token header.

# Join Codes

Join codes are six characters from an alphabet without look-alike glyphs:

	code := auth.GenerateJoinCode(sessionID, salt)

# Row IDs

	id := auth.NewID() // uuid v4
*/
package auth
