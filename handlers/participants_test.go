// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielhkuo/choosing-sucks/auth"
	"github.com/danielhkuo/choosing-sucks/models"
	"github.com/danielhkuo/choosing-sucks/realtime"
	"github.com/danielhkuo/choosing-sucks/testutil"
)

func TestJoin(t *testing.T) {
	db := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	hub := &captureHub{}
	handler := NewParticipantHandler(db, cfg, hub)

	waiting := testutil.CreateTestSession(t, db, cfg, models.StatusWaiting)
	swiping := testutil.CreateTestSession(t, db, cfg, models.StatusSwiping)
	decided := testutil.CreateTestSession(t, db, cfg, models.StatusDecided)
	tiebreak := testutil.CreateTestSession(t, db, cfg, models.StatusTiebreak)

	tests := []struct {
		name           string
		code           string
		body           interface{}
		expectedStatus int
	}{
		{"join waiting session", waiting.Code, models.JoinSessionRequest{DisplayName: "Bob"}, http.StatusCreated},
		{"late join while swiping", swiping.Code, models.JoinSessionRequest{DisplayName: "Bob"}, http.StatusCreated},
		{"name is trimmed", waiting.Code, models.JoinSessionRequest{DisplayName: "  Carol  "}, http.StatusCreated},
		{"name taken", waiting.Code, models.JoinSessionRequest{DisplayName: "Bob"}, http.StatusConflict},
		{"host name taken", waiting.Code, models.JoinSessionRequest{DisplayName: "Host"}, http.StatusConflict},
		{"empty name", waiting.Code, models.JoinSessionRequest{DisplayName: "   "}, http.StatusBadRequest},
		{"name too long", waiting.Code, models.JoinSessionRequest{DisplayName: strings.Repeat("n", 41)}, http.StatusBadRequest},
		{"decided session", decided.Code, models.JoinSessionRequest{DisplayName: "Dave"}, http.StatusConflict},
		{"tiebreak session", tiebreak.Code, models.JoinSessionRequest{DisplayName: "Dave"}, http.StatusConflict},
		{"unknown code", "ZZZZZZ", models.JoinSessionRequest{DisplayName: "Dave"}, http.StatusNotFound},
		{"invalid JSON", waiting.Code, "nope", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(handler.Join, "POST", "/sessions/"+tt.code+"/join", tt.body, nil, map[string]string{"code": tt.code})
			testutil.AssertStatus(t, w, tt.expectedStatus)

			if w.Code == http.StatusCreated {
				var resp models.JoinSessionResponse
				testutil.AssertJSON(t, w, &resp)
				assert.NotEmpty(t, resp.ParticipantID)
				assert.NoError(t, auth.ValidateTokenFormat(resp.ParticipantToken))
			}
		})
	}

	var names []string
	require.NoError(t, db.Select(&names, `
		SELECT display_name FROM participants WHERE session_id = $1 ORDER BY joined_at
	`, waiting.ID))
	assert.Equal(t, []string{"Host", "Bob", "Carol"}, names)
	assert.Equal(t, 3, hub.count(realtime.EventParticipantJoined))
}

func TestJoin_LinksDevice(t *testing.T) {
	db := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	handler := NewParticipantHandler(db, cfg, &captureHub{})

	s := testutil.CreateTestSession(t, db, cfg, models.StatusWaiting)
	w := serve(handler.Join, "POST", "/sessions/"+s.Code+"/join", models.JoinSessionRequest{DisplayName: "Bob"},
		map[string]string{"X-Device-UUID": "phone-1"}, map[string]string{"code": s.Code})
	testutil.AssertStatus(t, w, http.StatusCreated)

	var resp models.JoinSessionResponse
	testutil.AssertJSON(t, w, &resp)

	var link struct {
		Role          string `db:"role"`
		ParticipantID string `db:"participant_id"`
	}
	require.NoError(t, db.Get(&link, `
		SELECT ds.role, ds.participant_id FROM device_sessions ds
		JOIN devices d ON d.id = ds.device_id
		WHERE d.device_uuid = $1
	`, "phone-1"))
	assert.Equal(t, models.RoleParticipant, link.Role)
	assert.Equal(t, resp.ParticipantID, link.ParticipantID)
}
