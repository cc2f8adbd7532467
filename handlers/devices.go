// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"

	"github.com/danielhkuo/choosing-sucks/auth"
	"github.com/danielhkuo/choosing-sucks/cliparse"
	"github.com/danielhkuo/choosing-sucks/middleware"
	"github.com/danielhkuo/choosing-sucks/models"
)

type DeviceHandler struct {
	db  *sqlx.DB
	cfg cliparse.Config
}

func NewDeviceHandler(db *sqlx.DB, cfg cliparse.Config) *DeviceHandler {
	return &DeviceHandler{db: db, cfg: cfg}
}

// Register handles POST /devices/register
// Registers a device and returns its device_id (or finds existing)
func (h *DeviceHandler) Register(w http.ResponseWriter, r *http.Request) {
	deviceUUID := r.Header.Get("X-Device-UUID")
	if deviceUUID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "X-Device-UUID header required")
		return
	}

	var req models.RegisterDeviceRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if !isValidPlatform(req.Platform) {
		middleware.ErrorResponse(w, http.StatusBadRequest, "platform must be one of: ios, macos, android, web")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	var existingID string
	err := h.db.GetContext(ctx, &existingID, `SELECT id FROM devices WHERE device_uuid = $1`, deviceUUID)
	if err == nil {
		if _, err := h.db.ExecContext(ctx, `
			UPDATE devices SET platform = $1, last_seen_at = $2 WHERE id = $3
		`, req.Platform, now, existingID); err != nil {
			log.WithError(err).Error("failed to update device")
		}

		log.WithField("device_id", existingID).Info("device registered (existing)")
		middleware.JSONResponse(w, http.StatusOK, models.RegisterDeviceResponse{
			DeviceID: existingID,
			IsNew:    false,
		})
		return
	}
	if err != sql.ErrNoRows {
		log.WithError(err).Error("failed to query device")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	deviceID := auth.NewID()
	if _, err := h.db.ExecContext(ctx, `
		INSERT INTO devices (id, device_uuid, platform, created_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5)
	`, deviceID, deviceUUID, req.Platform, now, now); err != nil {
		log.WithError(err).Error("failed to insert device")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to register device")
		return
	}

	log.WithFields(log.Fields{"device_id": deviceID, "platform": req.Platform}).Info("device registered (new)")
	middleware.JSONResponse(w, http.StatusCreated, models.RegisterDeviceResponse{
		DeviceID: deviceID,
		IsNew:    true,
	})
}

// GetMe handles GET /devices/me
func (h *DeviceHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	device, ok := h.lookupDevice(w, r)
	if !ok {
		return
	}
	middleware.JSONResponse(w, http.StatusOK, device)
}

// GetMySessions handles GET /devices/my-sessions
// Returns sessions this device hosts or joined, newest link first
func (h *DeviceHandler) GetMySessions(w http.ResponseWriter, r *http.Request) {
	device, ok := h.lookupDevice(w, r)
	if !ok {
		return
	}

	sessions := []models.DeviceSessionSummary{}
	err := h.db.SelectContext(r.Context(), &sessions, `
		SELECT
			s.id AS session_id,
			s.code,
			s.title,
			s.category,
			s.status,
			ds.role,
			p.display_name,
			(SELECT COUNT(*) FROM participants pc WHERE pc.session_id = s.id) AS participant_count,
			ds.linked_at
		FROM device_sessions ds
		JOIN sessions s ON ds.session_id = s.id
		LEFT JOIN participants p ON p.id = ds.participant_id
		WHERE ds.device_id = $1
		ORDER BY ds.linked_at DESC
	`, device.ID)
	if err != nil {
		log.WithError(err).WithField("device_id", device.ID).Error("failed to query device sessions")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.GetMySessionsResponse{Sessions: sessions})
}

// lookupDevice resolves X-Device-UUID and touches last_seen_at
func (h *DeviceHandler) lookupDevice(w http.ResponseWriter, r *http.Request) (*models.DeviceInfo, bool) {
	deviceUUID := r.Header.Get("X-Device-UUID")
	if deviceUUID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "X-Device-UUID header required")
		return nil, false
	}

	var device models.DeviceInfo
	err := h.db.GetContext(r.Context(), &device, `
		SELECT id, platform, created_at, last_seen_at
		FROM devices
		WHERE device_uuid = $1
	`, deviceUUID)
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "Device not registered")
		return nil, false
	}
	if err != nil {
		log.WithError(err).Error("failed to query device")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return nil, false
	}

	if _, err := h.db.ExecContext(r.Context(), `
		UPDATE devices SET last_seen_at = $1 WHERE id = $2
	`, time.Now().UTC(), device.ID); err != nil {
		log.WithError(err).Error("failed to update device last_seen_at")
	}
	return &device, true
}

// GetOrCreateDevice looks up or creates a device record from the X-Device-UUID header.
// Returns an empty id when the header is absent.
func GetOrCreateDevice(ctx context.Context, db *sqlx.DB, r *http.Request) (string, error) {
	deviceUUID := r.Header.Get("X-Device-UUID")
	if deviceUUID == "" {
		return "", nil
	}

	now := time.Now().UTC()
	var deviceID string
	err := db.GetContext(ctx, &deviceID, `SELECT id FROM devices WHERE device_uuid = $1`, deviceUUID)
	if err == nil {
		if _, err := db.ExecContext(ctx, `UPDATE devices SET last_seen_at = $1 WHERE id = $2`, now, deviceID); err != nil {
			log.WithError(err).WithField("device_id", deviceID).Warn("failed to update device last_seen_at")
		}
		return deviceID, nil
	}
	if err != sql.ErrNoRows {
		return "", err
	}

	// Platform defaults to web until /devices/register says otherwise
	deviceID = auth.NewID()
	_, err = db.ExecContext(ctx, `
		INSERT INTO devices (id, device_uuid, platform, created_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (device_uuid) DO NOTHING
	`, deviceID, deviceUUID, models.PlatformWeb, now, now)
	if err != nil {
		return "", err
	}

	// A concurrent request may have inserted first
	err = db.GetContext(ctx, &deviceID, `SELECT id FROM devices WHERE device_uuid = $1`, deviceUUID)
	return deviceID, err
}

// LinkDeviceToSession associates a device with a session. A host link is
// never downgraded to participant.
func LinkDeviceToSession(ctx context.Context, db *sqlx.DB, deviceID, sessionID, participantID, role string) error {
	if deviceID == "" {
		return nil
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO device_sessions (device_id, session_id, participant_id, role, linked_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (device_id, session_id) DO UPDATE SET
			role = CASE WHEN device_sessions.role = 'host' THEN 'host' ELSE excluded.role END,
			participant_id = COALESCE(device_sessions.participant_id, excluded.participant_id)
	`, deviceID, sessionID, participantID, role, time.Now().UTC())
	return err
}

func isValidPlatform(platform string) bool {
	switch platform {
	case models.PlatformIOS, models.PlatformMacOS, models.PlatformAndroid, models.PlatformWeb:
		return true
	}
	return false
}
