// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/danielhkuo/choosing-sucks/middleware"
	"github.com/danielhkuo/choosing-sucks/realtime"
)

// RoomServer streams a session's events over a websocket
type RoomServer interface {
	Serve(w http.ResponseWriter, r *http.Request, sessionID string) error
}

type RealtimeHandler struct {
	db    *sqlx.DB
	rooms RoomServer
}

func NewRealtimeHandler(db *sqlx.DB, rooms RoomServer) *RealtimeHandler {
	return &RealtimeHandler{db: db, rooms: rooms}
}

// Subscribe handles GET /sessions/{code}/ws[?token=...]
// Anyone with the join code may watch; a token, when given, must be valid
func (h *RealtimeHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	s, ok := sessionFromCode(w, r, h.db)
	if !ok {
		return
	}

	fields := log.Fields{"session_id": s.ID}
	if token := r.URL.Query().Get("token"); token != "" {
		p, err := participantFromToken(r.Context(), h.db, s.ID, token)
		if err == errNotParticipant {
			middleware.ErrorResponse(w, http.StatusUnauthorized, "Invalid participant token for this session")
			return
		}
		if err != nil {
			log.WithError(err).WithFields(fields).Error("failed to verify participant")
			middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
			return
		}
		fields["participant_id"] = p.ID
	}

	log.WithFields(fields).Debug("websocket subscribed")
	err := h.rooms.Serve(w, r, s.ID)
	if errors.Is(err, realtime.ErrHubClosed) {
		middleware.ErrorResponse(w, http.StatusServiceUnavailable, "Server is shutting down")
		return
	}
	// The upgrader has already answered the client when this fails
	if err != nil {
		log.WithError(err).WithFields(fields).Warn("websocket closed with error")
	}
}
