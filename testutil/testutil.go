// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/danielhkuo/choosing-sucks/auth"
	"github.com/danielhkuo/choosing-sucks/cliparse"
	"github.com/danielhkuo/choosing-sucks/db"
	"github.com/danielhkuo/choosing-sucks/models"
)

// TestDBURL is a private in-memory SQLite database
const TestDBURL = "file::memory:"

// SetupTestDB creates a fresh in-memory database with the full schema
func SetupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	conn, err := db.Open(cliparse.DatabaseSQLite, TestDBURL)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if _, err := db.CreateSchema(conn, cliparse.DatabaseSQLite); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}

	return conn
}

// GetTestConfig returns a standard test configuration
func GetTestConfig() cliparse.Config {
	return cliparse.Config{
		Port:           3318,
		DatabaseURL:    TestDBURL,
		DatabaseType:   cliparse.DatabaseSQLite,
		HostKeySalt:    "test-host-salt",
		CodeSalt:       "test-code-salt",
		PublicURL:      "https://choosing.test",
		AdminToken:     "test-admin-token",
		CORSOrigins:    []string{"https://choosing.test"},
		SessionTTL:     24 * time.Hour,
		RateLimitRPS:   100,
		RateLimitBurst: 100,
		CacheTTL:       time.Minute,
	}
}

// TestSession is a session created directly in the database
type TestSession struct {
	ID        string
	Code      string
	HostKey   string
	HostID    string
	HostToken string
}

// CreateTestSession creates a unanimous custom session with a host participant.
// status should be one of the models.Status* values.
func CreateTestSession(t *testing.T, conn *sqlx.DB, cfg cliparse.Config, status string) TestSession {
	t.Helper()
	return CreateTestSessionWithRule(t, conn, cfg, status, models.RuleUnanimous, 0)
}

// CreateTestSessionWithRule is CreateTestSession with an explicit match rule
func CreateTestSessionWithRule(t *testing.T, conn *sqlx.DB, cfg cliparse.Config, status, rule string, threshold int) TestSession {
	t.Helper()

	s := TestSession{ID: auth.NewID()}
	s.Code = auth.GenerateJoinCode(s.ID, cfg.CodeSalt)
	s.HostKey = auth.GenerateHostKey(s.ID, cfg.HostKeySalt)

	now := time.Now().UTC()
	var startedAt *time.Time
	if status != models.StatusWaiting {
		startedAt = &now
	}

	_, err := conn.Exec(`
		INSERT INTO sessions (id, code, category, title, creator_name, match_rule, match_threshold, status, created_at, started_at, expires_at)
		VALUES ($1, $2, 'custom', 'Test Session', 'Host', $3, $4, $5, $6, $7, $8)
	`, s.ID, s.Code, rule, threshold, status, now, startedAt, now.Add(cfg.SessionTTL))
	if err != nil {
		t.Fatalf("Failed to create test session: %v", err)
	}

	s.HostID, s.HostToken = insertParticipant(t, conn, s.ID, "Host", true)
	return s
}

// AddTestCandidate appends a custom candidate and returns its ID
func AddTestCandidate(t *testing.T, conn *sqlx.DB, sessionID, title string) string {
	t.Helper()

	var position int
	if err := conn.Get(&position, `SELECT COUNT(*) FROM candidates WHERE session_id = $1`, sessionID); err != nil {
		t.Fatalf("Failed to count candidates: %v", err)
	}

	candidateID := auth.NewID()
	_, err := conn.Exec(`
		INSERT INTO candidates (id, session_id, source, title, position, created_at)
		VALUES ($1, $2, 'custom', $3, $4, $5)
	`, candidateID, sessionID, title, position, time.Now().UTC())
	if err != nil {
		t.Fatalf("Failed to create test candidate: %v", err)
	}

	return candidateID
}

// JoinTestParticipant adds a non-host participant and returns its ID and token
func JoinTestParticipant(t *testing.T, conn *sqlx.DB, sessionID, name string) (participantID, token string) {
	t.Helper()
	return insertParticipant(t, conn, sessionID, name, false)
}

func insertParticipant(t *testing.T, conn *sqlx.DB, sessionID, name string, host bool) (string, string) {
	t.Helper()

	participantID := auth.NewID()
	token, err := auth.GenerateParticipantToken()
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	_, err = conn.Exec(`
		INSERT INTO participants (id, session_id, display_name, token, is_host, joined_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, participantID, sessionID, name, token, host, time.Now().UTC())
	if err != nil {
		t.Fatalf("Failed to create test participant: %v", err)
	}

	return participantID, token
}

// RecordTestSwipe stores a swipe without running match detection
func RecordTestSwipe(t *testing.T, conn *sqlx.DB, sessionID, participantID, candidateID string, liked bool) {
	t.Helper()

	now := time.Now().UTC()
	_, err := conn.Exec(`
		INSERT INTO swipes (session_id, participant_id, candidate_id, liked, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, sessionID, participantID, candidateID, liked, now, now)
	if err != nil {
		t.Fatalf("Failed to create test swipe: %v", err)
	}
}

// SessionStatus reads a session's current status
func SessionStatus(t *testing.T, conn *sqlx.DB, sessionID string) string {
	t.Helper()

	var status string
	if err := conn.Get(&status, `SELECT status FROM sessions WHERE id = $1`, sessionID); err != nil {
		t.Fatalf("Failed to read session status: %v", err)
	}
	return status
}

// MakeRequest creates an HTTP test request
func MakeRequest(method, path string, body interface{}, headers map[string]string) *http.Request {
	var req *http.Request
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(jsonBody))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return req
}

// AssertStatus checks that the response has the expected status code
func AssertStatus(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if w.Code != expected {
		t.Errorf("Expected status %d, got %d. Body: %s", expected, w.Code, w.Body.String())
	}
}

// AssertJSON decodes the response body into the provided struct
func AssertJSON(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode JSON response: %v", err)
	}
}
