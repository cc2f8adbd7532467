// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/danielhkuo/choosing-sucks/auth"
	"github.com/danielhkuo/choosing-sucks/middleware"
	"github.com/danielhkuo/choosing-sucks/models"
)

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx
type queryer interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
}

const sessionColumns = `id, code, category, title, creator_name, match_rule, match_threshold, status,
	winner_candidate_id, decided_by, created_at, started_at, decided_at, expires_at`

const candidateColumns = `id, session_id, source, external_id, title, subtitle, image_url, metadata, position, created_at`

var errNotParticipant = errors.New("invalid participant token")

func getSessionByID(ctx context.Context, q queryer, id string) (*models.Session, error) {
	var s models.Session
	err := sqlx.GetContext(ctx, q, &s, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func getSessionByCode(ctx context.Context, q queryer, code string) (*models.Session, error) {
	var s models.Session
	err := sqlx.GetContext(ctx, q, &s, `SELECT `+sessionColumns+` FROM sessions WHERE code = $1`, auth.NormalizeJoinCode(code))
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// participantFromToken resolves the X-Participant-Token header within a session
func participantFromToken(ctx context.Context, q queryer, sessionID, token string) (*models.Participant, error) {
	if auth.ValidateTokenFormat(token) != nil {
		return nil, errNotParticipant
	}
	var p models.Participant
	err := sqlx.GetContext(ctx, q, &p, `
		SELECT id, session_id, display_name, token, is_host, finished, joined_at
		FROM participants
		WHERE session_id = $1 AND token = $2
	`, sessionID, token)
	if err == sql.ErrNoRows {
		return nil, errNotParticipant
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func listCandidates(ctx context.Context, q queryer, sessionID string) ([]models.Candidate, error) {
	candidates := []models.Candidate{}
	err := sqlx.SelectContext(ctx, q, &candidates, `
		SELECT `+candidateColumns+`
		FROM candidates
		WHERE session_id = $1
		ORDER BY position ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		hydrateCandidate(&candidates[i])
	}
	return candidates, nil
}

func getCandidate(ctx context.Context, q queryer, sessionID, candidateID string) (*models.Candidate, error) {
	var c models.Candidate
	err := sqlx.GetContext(ctx, q, &c, `
		SELECT `+candidateColumns+`
		FROM candidates
		WHERE session_id = $1 AND id = $2
	`, sessionID, candidateID)
	if err != nil {
		return nil, err
	}
	hydrateCandidate(&c)
	return &c, nil
}

func hydrateCandidate(c *models.Candidate) {
	if c.RawMeta != "" && json.Valid([]byte(c.RawMeta)) {
		c.Metadata = json.RawMessage(c.RawMeta)
	}
}

func listParticipants(ctx context.Context, q queryer, sessionID string) ([]models.ParticipantBrief, error) {
	participants := []models.ParticipantBrief{}
	err := sqlx.SelectContext(ctx, q, &participants, `
		SELECT id, display_name, is_host, finished
		FROM participants
		WHERE session_id = $1
		ORDER BY joined_at ASC
	`, sessionID)
	return participants, err
}

func buildSessionView(ctx context.Context, q queryer, s *models.Session) (*models.SessionView, error) {
	candidates, err := listCandidates(ctx, q, s.ID)
	if err != nil {
		return nil, errors.Wrap(err, "list candidates")
	}
	participants, err := listParticipants(ctx, q, s.ID)
	if err != nil {
		return nil, errors.Wrap(err, "list participants")
	}
	return &models.SessionView{Session: *s, Candidates: candidates, Participants: participants}, nil
}

// sessionFromCode loads the session named by the {code} path value, writing
// the error response itself when it fails
func sessionFromCode(w http.ResponseWriter, r *http.Request, db *sqlx.DB) (*models.Session, bool) {
	code := r.PathValue("code")
	if code == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "code is required")
		return nil, false
	}

	s, err := getSessionByCode(r.Context(), db, code)
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "Session not found")
		return nil, false
	}
	if err != nil {
		log.WithError(err).WithField("code", code).Error("failed to query session")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return nil, false
	}
	return s, true
}

// hostSession loads the session named by the {id} path value after checking
// the X-Host-Key header
func hostSession(w http.ResponseWriter, r *http.Request, db *sqlx.DB, salt string) (*models.Session, bool) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "session_id is required")
		return nil, false
	}

	if err := auth.ValidateHostKey(sessionID, r.Header.Get("X-Host-Key"), salt); err != nil {
		middleware.ErrorResponse(w, http.StatusUnauthorized, "Invalid host key")
		return nil, false
	}

	s, err := getSessionByID(r.Context(), db, sessionID)
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "Session not found")
		return nil, false
	}
	if err != nil {
		log.WithError(err).WithField("session_id", sessionID).Error("failed to query session")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return nil, false
	}
	return s, true
}

// callerParticipant resolves the X-Participant-Token header for a session
func callerParticipant(w http.ResponseWriter, r *http.Request, db *sqlx.DB, sessionID string) (*models.Participant, bool) {
	token := r.Header.Get("X-Participant-Token")
	if token == "" {
		middleware.ErrorResponse(w, http.StatusUnauthorized, "X-Participant-Token header required")
		return nil, false
	}

	p, err := participantFromToken(r.Context(), db, sessionID, token)
	if err == errNotParticipant {
		middleware.ErrorResponse(w, http.StatusUnauthorized, "Invalid participant token for this session")
		return nil, false
	}
	if err != nil {
		log.WithError(err).WithField("session_id", sessionID).Error("failed to verify participant")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return nil, false
	}
	return p, true
}
