// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"

	"github.com/danielhkuo/choosing-sucks/auth"
	"github.com/danielhkuo/choosing-sucks/cliparse"
	"github.com/danielhkuo/choosing-sucks/db"
	"github.com/danielhkuo/choosing-sucks/middleware"
	"github.com/danielhkuo/choosing-sucks/models"
	"github.com/danielhkuo/choosing-sucks/realtime"
)

type ParticipantHandler struct {
	db  *sqlx.DB
	cfg cliparse.Config
	hub realtime.Broadcaster
}

func NewParticipantHandler(db *sqlx.DB, cfg cliparse.Config, hub realtime.Broadcaster) *ParticipantHandler {
	return &ParticipantHandler{db: db, cfg: cfg, hub: hub}
}

// Join handles POST /sessions/{code}/join
func (h *ParticipantHandler) Join(w http.ResponseWriter, r *http.Request) {
	s, ok := sessionFromCode(w, r, h.db)
	if !ok {
		return
	}

	var req models.JoinSessionRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	name, valid := validName(req.DisplayName)
	if !valid {
		middleware.ErrorResponse(w, http.StatusBadRequest, "display_name must be 1-40 characters")
		return
	}

	// Late joiners may still swipe, but not once the outcome is settled
	if s.Status != models.StatusWaiting && s.Status != models.StatusSwiping {
		middleware.ErrorResponse(w, http.StatusConflict, "Session is no longer accepting participants")
		return
	}

	token, err := auth.GenerateParticipantToken()
	if err != nil {
		log.WithError(err).Error("failed to generate participant token")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to join session")
		return
	}

	participantID := auth.NewID()
	_, err = h.db.ExecContext(r.Context(), `
		INSERT INTO participants (id, session_id, display_name, token, is_host, joined_at)
		VALUES ($1, $2, $3, $4, FALSE, $5)
	`, participantID, s.ID, name, token, time.Now().UTC())
	if db.IsUniqueViolation(err) {
		middleware.ErrorResponse(w, http.StatusConflict, "name taken")
		return
	}
	if err != nil {
		log.WithError(err).WithField("session_id", s.ID).Error("failed to insert participant")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to join session")
		return
	}

	// Link device to session as participant (if X-Device-UUID header present)
	deviceID, err := GetOrCreateDevice(r.Context(), h.db, r)
	if err != nil {
		log.WithError(err).Warn("failed to get/create device")
	} else if deviceID != "" {
		if err := LinkDeviceToSession(r.Context(), h.db, deviceID, s.ID, participantID, models.RoleParticipant); err != nil {
			log.WithError(err).Warn("failed to link device to session")
		}
	}

	log.WithFields(log.Fields{"session_id": s.ID, "participant_id": participantID}).Info("participant joined")
	h.hub.Broadcast(s.ID, realtime.EventParticipantJoined, models.ParticipantBrief{
		ID:          participantID,
		DisplayName: name,
	})

	middleware.JSONResponse(w, http.StatusCreated, models.JoinSessionResponse{
		SessionID:        s.ID,
		ParticipantID:    participantID,
		ParticipantToken: token,
	})
}
