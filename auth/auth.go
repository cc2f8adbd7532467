// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrInvalidHostKey = errors.New("invalid host key")
	ErrInvalidToken   = errors.New("invalid token format")
)

// JoinCodeLength is the number of characters in a session join code
const JoinCodeLength = 6

// joinCodeAlphabet skips 0/O and 1/I so codes survive being read aloud
const joinCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewID returns a random UUID string for database rows
func NewID() string {
	return uuid.NewString()
}

// GenerateHostKey creates an HMAC-based host key for a session.
// Deterministic, so it can be validated without being stored.
func GenerateHostKey(sessionID, salt string) string {
	h := hmac.New(sha256.New, []byte(salt))
	h.Write([]byte("host:" + sessionID))
	sum := h.Sum(nil)
	return strings.TrimRight(base64.URLEncoding.EncodeToString(sum), "=")
}

// ValidateHostKey checks if the provided host key is valid for the session
func ValidateHostKey(sessionID, hostKey, salt string) error {
	if hostKey == "" {
		return ErrInvalidHostKey
	}
	expected := GenerateHostKey(sessionID, salt)
	if !hmac.Equal([]byte(hostKey), []byte(expected)) {
		return ErrInvalidHostKey
	}
	return nil
}

// GenerateParticipantToken creates a random secret identifying one participant
func GenerateParticipantToken() (string, error) {
	b := make([]byte, 24) // 192 bits
	_, err := rand.Read(b)
	if err != nil {
		return "", fmt.Errorf("failed to generate participant token: %w", err)
	}
	return strings.TrimRight(base64.URLEncoding.EncodeToString(b), "="), nil
}

// ValidateTokenFormat rejects tokens that could not have come from GenerateParticipantToken
func ValidateTokenFormat(token string) error {
	if len(token) != 32 {
		return ErrInvalidToken
	}
	if _, err := base64.RawURLEncoding.DecodeString(token); err != nil {
		return ErrInvalidToken
	}
	return nil
}

// GenerateJoinCode derives a short, human-friendly join code from the session ID
func GenerateJoinCode(sessionID, salt string) string {
	h := hmac.New(sha256.New, []byte(salt))
	h.Write([]byte("code:" + sessionID))
	sum := h.Sum(nil)

	code := make([]byte, JoinCodeLength)
	for i := range code {
		code[i] = joinCodeAlphabet[int(sum[i])%len(joinCodeAlphabet)]
	}
	return string(code)
}

// NormalizeJoinCode upper-cases and trims a user-entered code
func NormalizeJoinCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// HashIP creates a one-way hash of an IP address for privacy
func HashIP(ip, salt string) string {
	h := hmac.New(sha256.New, []byte(salt))
	h.Write([]byte(ip))
	sum := h.Sum(nil)
	// 64 bits is plenty for deduplication
	return hex.EncodeToString(sum[:8])
}
