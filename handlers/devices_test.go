// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielhkuo/choosing-sucks/auth"
	"github.com/danielhkuo/choosing-sucks/models"
	"github.com/danielhkuo/choosing-sucks/testutil"
)

func TestDeviceRegister(t *testing.T) {
	db := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	handler := NewDeviceHandler(db, cfg)

	// Pre-create existing device for "existing device" test case
	now := time.Now().UTC()
	_, err := db.Exec(`
		INSERT INTO devices (id, device_uuid, platform, created_at, last_seen_at)
		VALUES ($1, 'existing-uuid-456', 'android', $2, $2)
	`, auth.NewID(), now)
	require.NoError(t, err)

	tests := []struct {
		name           string
		deviceUUID     string
		requestBody    interface{}
		expectedStatus int
		checkResponse  func(t *testing.T, resp *models.RegisterDeviceResponse)
	}{
		{
			name:           "new device registration",
			deviceUUID:     "test-uuid-123",
			requestBody:    models.RegisterDeviceRequest{Platform: models.PlatformIOS},
			expectedStatus: http.StatusCreated,
			checkResponse: func(t *testing.T, resp *models.RegisterDeviceResponse) {
				assert.NotEmpty(t, resp.DeviceID)
				assert.True(t, resp.IsNew)

				var platform string
				require.NoError(t, db.Get(&platform, `SELECT platform FROM devices WHERE id = $1`, resp.DeviceID))
				assert.Equal(t, models.PlatformIOS, platform)
			},
		},
		{
			name:           "existing device registration updates platform",
			deviceUUID:     "existing-uuid-456",
			requestBody:    models.RegisterDeviceRequest{Platform: models.PlatformWeb},
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, resp *models.RegisterDeviceResponse) {
				assert.False(t, resp.IsNew)

				var platform string
				require.NoError(t, db.Get(&platform, `SELECT platform FROM devices WHERE id = $1`, resp.DeviceID))
				assert.Equal(t, models.PlatformWeb, platform)
			},
		},
		{
			name:           "missing X-Device-UUID header",
			requestBody:    models.RegisterDeviceRequest{Platform: models.PlatformIOS},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid platform",
			deviceUUID:     "test-uuid-789",
			requestBody:    models.RegisterDeviceRequest{Platform: "windows"},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.deviceUUID != "" {
				headers["X-Device-UUID"] = tt.deviceUUID
			}
			w := serve(handler.Register, "POST", "/devices/register", tt.requestBody, headers, nil)

			testutil.AssertStatus(t, w, tt.expectedStatus)
			if tt.checkResponse != nil && w.Code < http.StatusBadRequest {
				var resp models.RegisterDeviceResponse
				testutil.AssertJSON(t, w, &resp)
				tt.checkResponse(t, &resp)
			}
		})
	}
}

func TestDeviceGetMe(t *testing.T) {
	db := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	handler := NewDeviceHandler(db, cfg)

	w := serve(handler.Register, "POST", "/devices/register", models.RegisterDeviceRequest{Platform: models.PlatformMacOS},
		map[string]string{"X-Device-UUID": "me-uuid"}, nil)
	testutil.AssertStatus(t, w, http.StatusCreated)
	var reg models.RegisterDeviceResponse
	testutil.AssertJSON(t, w, &reg)

	tests := []struct {
		name           string
		deviceUUID     string
		expectedStatus int
	}{
		{"registered device", "me-uuid", http.StatusOK},
		{"unknown device", "nobody", http.StatusNotFound},
		{"missing header", "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.deviceUUID != "" {
				headers["X-Device-UUID"] = tt.deviceUUID
			}
			w := serve(handler.GetMe, "GET", "/devices/me", nil, headers, nil)
			testutil.AssertStatus(t, w, tt.expectedStatus)

			if w.Code == http.StatusOK {
				var info models.DeviceInfo
				testutil.AssertJSON(t, w, &info)
				assert.Equal(t, reg.DeviceID, info.ID)
				assert.Equal(t, models.PlatformMacOS, info.Platform)
			}
		})
	}
}

func TestDeviceGetMySessions(t *testing.T) {
	db := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	handler := NewDeviceHandler(db, cfg)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Device-UUID", "sessions-uuid")
	deviceID, err := GetOrCreateDevice(t.Context(), db, req)
	require.NoError(t, err)

	hosted := testutil.CreateTestSession(t, db, cfg, models.StatusWaiting)
	joined := testutil.CreateTestSession(t, db, cfg, models.StatusSwiping)
	bobID, _ := testutil.JoinTestParticipant(t, db, joined.ID, "Bob")
	testutil.CreateTestSession(t, db, cfg, models.StatusWaiting) // not linked

	require.NoError(t, LinkDeviceToSession(t.Context(), db, deviceID, hosted.ID, hosted.HostID, models.RoleHost))
	require.NoError(t, LinkDeviceToSession(t.Context(), db, deviceID, joined.ID, bobID, models.RoleParticipant))

	w := serve(handler.GetMySessions, "GET", "/devices/my-sessions", nil,
		map[string]string{"X-Device-UUID": "sessions-uuid"}, nil)
	testutil.AssertStatus(t, w, http.StatusOK)

	var resp models.GetMySessionsResponse
	testutil.AssertJSON(t, w, &resp)
	require.Len(t, resp.Sessions, 2)

	bySession := map[string]models.DeviceSessionSummary{}
	for _, s := range resp.Sessions {
		bySession[s.SessionID] = s
	}

	host := bySession[hosted.ID]
	assert.Equal(t, models.RoleHost, host.Role)
	assert.Equal(t, hosted.Code, host.Code)
	assert.Equal(t, 1, host.ParticipantCount)

	member := bySession[joined.ID]
	assert.Equal(t, models.RoleParticipant, member.Role)
	assert.Equal(t, models.StatusSwiping, member.Status)
	require.NotNil(t, member.DisplayName)
	assert.Equal(t, "Bob", *member.DisplayName)
	assert.Equal(t, 2, member.ParticipantCount)
}

func TestGetOrCreateDevice(t *testing.T) {
	db := testutil.SetupTestDB(t)

	req := httptest.NewRequest("GET", "/test", nil)
	deviceID, err := GetOrCreateDevice(t.Context(), db, req)
	require.NoError(t, err)
	assert.Empty(t, deviceID, "no header means no device")

	req = httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Device-UUID", "auto-create-uuid")
	deviceID, err = GetOrCreateDevice(t.Context(), db, req)
	require.NoError(t, err)
	require.NotEmpty(t, deviceID)

	var platform string
	require.NoError(t, db.Get(&platform, `SELECT platform FROM devices WHERE id = $1`, deviceID))
	assert.Equal(t, models.PlatformWeb, platform)

	again, err := GetOrCreateDevice(t.Context(), db, req)
	require.NoError(t, err)
	assert.Equal(t, deviceID, again)
}

func TestGetOrCreateDevice_LastSeenFailure(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()
	hook := logtest.NewGlobal()
	t.Cleanup(hook.Reset)

	mock.ExpectQuery(`SELECT id FROM devices WHERE device_uuid`).
		WithArgs("known-uuid").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("device-1"))
	mock.ExpectExec(`UPDATE devices SET last_seen_at`).
		WillReturnError(errors.New("database is locked"))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Device-UUID", "known-uuid")
	deviceID, err := GetOrCreateDevice(t.Context(), sqlx.NewDb(mockDB, "sqlmock"), req)
	require.NoError(t, err, "a stale last_seen_at does not fail the request")
	assert.Equal(t, "device-1", deviceID)
	require.NoError(t, mock.ExpectationsWereMet())

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, log.WarnLevel, entry.Level)
	assert.Equal(t, "device-1", entry.Data["device_id"])
}

func TestLinkDeviceToSession(t *testing.T) {
	db := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Device-UUID", "link-test-uuid")
	deviceID, err := GetOrCreateDevice(t.Context(), db, req)
	require.NoError(t, err)

	s := testutil.CreateTestSession(t, db, cfg, models.StatusWaiting)
	require.NoError(t, LinkDeviceToSession(t.Context(), db, deviceID, s.ID, s.HostID, models.RoleHost))

	// Joining from the same device must not downgrade the host link
	bobID, _ := testutil.JoinTestParticipant(t, db, s.ID, "Bob")
	require.NoError(t, LinkDeviceToSession(t.Context(), db, deviceID, s.ID, bobID, models.RoleParticipant))

	var link struct {
		Role          string `db:"role"`
		ParticipantID string `db:"participant_id"`
	}
	require.NoError(t, db.Get(&link, `
		SELECT role, participant_id FROM device_sessions WHERE device_id = $1 AND session_id = $2
	`, deviceID, s.ID))
	assert.Equal(t, models.RoleHost, link.Role)
	assert.Equal(t, s.HostID, link.ParticipantID)

	assert.NoError(t, LinkDeviceToSession(t.Context(), db, "", s.ID, bobID, models.RoleParticipant))
}
