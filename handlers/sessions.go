// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/danielhkuo/choosing-sucks/auth"
	"github.com/danielhkuo/choosing-sucks/cliparse"
	"github.com/danielhkuo/choosing-sucks/db"
	"github.com/danielhkuo/choosing-sucks/metrics"
	"github.com/danielhkuo/choosing-sucks/middleware"
	"github.com/danielhkuo/choosing-sucks/models"
	"github.com/danielhkuo/choosing-sucks/realtime"
)

const (
	maxNameLength      = 40
	maxTitleLength     = 200
	maxInlineCandidate = 100
	codeAttempts       = 3
)

type SessionHandler struct {
	db  *sqlx.DB
	cfg cliparse.Config
	hub realtime.Broadcaster
}

func NewSessionHandler(db *sqlx.DB, cfg cliparse.Config, hub realtime.Broadcaster) *SessionHandler {
	return &SessionHandler{db: db, cfg: cfg, hub: hub}
}

func validCategory(c string) bool {
	switch c {
	case models.CategoryRestaurants, models.CategoryStreaming, models.CategoryCustom:
		return true
	}
	return false
}

func validRule(r string) bool {
	switch r {
	case models.RuleUnanimous, models.RuleMajority, models.RuleThreshold:
		return true
	}
	return false
}

// validName trims a display name and checks its length
func validName(name string) (string, bool) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	return name, n >= 1 && n <= maxNameLength
}

// CreateSession handles POST /sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSessionRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	// Validate input
	if !validCategory(req.Category) {
		middleware.ErrorResponse(w, http.StatusBadRequest, "category must be one of: restaurants, streaming, custom")
		return
	}
	creator, ok := validName(req.CreatorName)
	if !ok {
		middleware.ErrorResponse(w, http.StatusBadRequest, "creator_name must be 1-40 characters")
		return
	}
	if req.MatchRule == "" {
		req.MatchRule = models.RuleUnanimous
	}
	if !validRule(req.MatchRule) {
		middleware.ErrorResponse(w, http.StatusBadRequest, "match_rule must be one of: unanimous, majority, threshold")
		return
	}
	if req.MatchRule == models.RuleThreshold && req.MatchThreshold < 1 {
		middleware.ErrorResponse(w, http.StatusBadRequest, "match_threshold must be at least 1 for the threshold rule")
		return
	}
	if req.MatchRule != models.RuleThreshold {
		req.MatchThreshold = 0
	}
	title := strings.TrimSpace(req.Title)
	if utf8.RuneCountInString(title) > maxTitleLength {
		middleware.ErrorResponse(w, http.StatusBadRequest, "title is too long")
		return
	}
	if len(req.Candidates) > maxInlineCandidate {
		middleware.ErrorResponse(w, http.StatusBadRequest, "too many candidates")
		return
	}
	for _, c := range req.Candidates {
		if strings.TrimSpace(c.Title) == "" {
			middleware.ErrorResponse(w, http.StatusBadRequest, "every candidate needs a title")
			return
		}
	}

	hostToken, err := auth.GenerateParticipantToken()
	if err != nil {
		log.WithError(err).Error("failed to generate participant token")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	// Join codes are derived from the id; retry with a new id on the rare collision
	var sessionID, code, hostID string
	for attempt := 0; attempt < codeAttempts; attempt++ {
		sessionID = auth.NewID()
		code = auth.GenerateJoinCode(sessionID, h.cfg.CodeSalt)
		hostID = auth.NewID()

		err = h.insertSession(r, sessionID, code, title, creator, hostID, hostToken, req)
		if err == nil || !db.IsUniqueViolation(err) {
			break
		}
		log.WithField("attempt", attempt+1).Warn("join code collision, retrying")
	}
	if err != nil {
		log.WithError(err).Error("failed to insert session")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	// Link device to session as host (if X-Device-UUID header present)
	deviceID, err := GetOrCreateDevice(r.Context(), h.db, r)
	if err != nil {
		log.WithError(err).Warn("failed to get/create device")
	} else if deviceID != "" {
		if err := LinkDeviceToSession(r.Context(), h.db, deviceID, sessionID, hostID, models.RoleHost); err != nil {
			log.WithError(err).Warn("failed to link device to session")
		}
	}

	log.WithFields(log.Fields{
		"session_id": sessionID,
		"category":   req.Category,
		"rule":       req.MatchRule,
		"candidates": len(req.Candidates),
	}).Info("session created")

	middleware.JSONResponse(w, http.StatusCreated, models.CreateSessionResponse{
		SessionID:        sessionID,
		Code:             code,
		HostKey:          auth.GenerateHostKey(sessionID, h.cfg.HostKeySalt),
		ParticipantID:    hostID,
		ParticipantToken: hostToken,
		ShareURL:         strings.TrimRight(h.cfg.PublicURL, "/") + "/s/" + code,
	})
}

func (h *SessionHandler) insertSession(r *http.Request, sessionID, code, title, creator, hostID, hostToken string, req models.CreateSessionRequest) error {
	ctx := r.Context()
	tx, err := h.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, code, category, title, creator_name, match_rule, match_threshold, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, sessionID, code, req.Category, title, creator, req.MatchRule, req.MatchThreshold,
		models.StatusWaiting, now, now.Add(h.cfg.SessionTTL))
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO participants (id, session_id, display_name, token, is_host, joined_at)
		VALUES ($1, $2, $3, $4, TRUE, $5)
	`, hostID, sessionID, creator, hostToken, now)
	if err != nil {
		return errors.Wrap(err, "insert host participant")
	}

	for i, c := range req.Candidates {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO candidates (id, session_id, source, title, subtitle, image_url, position, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, auth.NewID(), sessionID, models.SourceCustom, strings.TrimSpace(c.Title),
			strings.TrimSpace(c.Subtitle), strings.TrimSpace(c.ImageURL), i, now)
		if err != nil {
			return errors.Wrap(err, "insert candidate")
		}
	}

	return tx.Commit()
}

// GetHostView handles GET /sessions/{id}/host
func (h *SessionHandler) GetHostView(w http.ResponseWriter, r *http.Request) {
	s, ok := hostSession(w, r, h.db, h.cfg.HostKeySalt)
	if !ok {
		return
	}

	view, err := buildSessionView(r.Context(), h.db, s)
	if err != nil {
		log.WithError(err).WithField("session_id", s.ID).Error("failed to build session view")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, view)
}

// StartSession handles POST /sessions/{id}/start
func (h *SessionHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	s, ok := hostSession(w, r, h.db, h.cfg.HostKeySalt)
	if !ok {
		return
	}

	if s.Status != models.StatusWaiting {
		middleware.ErrorResponse(w, http.StatusConflict, "Session has already started")
		return
	}

	var candidateCount int
	if err := h.db.GetContext(r.Context(), &candidateCount,
		`SELECT COUNT(*) FROM candidates WHERE session_id = $1`, s.ID); err != nil {
		log.WithError(err).WithField("session_id", s.ID).Error("failed to count candidates")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	if candidateCount < 1 {
		middleware.ErrorResponse(w, http.StatusConflict, "Session needs at least 1 candidate")
		return
	}

	now := time.Now().UTC()
	res, err := h.db.ExecContext(r.Context(), `
		UPDATE sessions SET status = $1, started_at = $2 WHERE id = $3 AND status = $4
	`, models.StatusSwiping, now, s.ID, models.StatusWaiting)
	if err != nil {
		log.WithError(err).WithField("session_id", s.ID).Error("failed to start session")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to start session")
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		middleware.ErrorResponse(w, http.StatusConflict, "Session has already started")
		return
	}

	log.WithFields(log.Fields{"session_id": s.ID, "candidates": candidateCount}).Info("session started")
	h.hub.Broadcast(s.ID, realtime.EventSessionStarted, map[string]interface{}{
		"status":          models.StatusSwiping,
		"candidate_count": candidateCount,
	})

	middleware.JSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":     models.StatusSwiping,
		"started_at": now,
	})
}

// GetSession handles GET /sessions/{code}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := sessionFromCode(w, r, h.db)
	if !ok {
		return
	}

	view, err := buildSessionView(r.Context(), h.db, s)
	if err != nil {
		log.WithError(err).WithField("session_id", s.ID).Error("failed to build session view")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, view)
}

// GetStatus handles GET /sessions/{code}/status
func (h *SessionHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	s, ok := sessionFromCode(w, r, h.db)
	if !ok {
		return
	}

	status, err := getSessionStatus(r.Context(), h.db, s)
	if err != nil {
		log.WithError(err).WithField("session_id", s.ID).Error("failed to get session status")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, status)
}

// Decide handles POST /sessions/{id}/decide
// The host settles the session on a candidate directly
func (h *SessionHandler) Decide(w http.ResponseWriter, r *http.Request) {
	s, ok := hostSession(w, r, h.db, h.cfg.HostKeySalt)
	if !ok {
		return
	}

	var req models.PickRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.CandidateID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "candidate_id is required")
		return
	}

	switch s.Status {
	case models.StatusSwiping, models.StatusMatched, models.StatusTiebreak:
	default:
		middleware.ErrorResponse(w, http.StatusConflict, "Session cannot be decided in status "+s.Status)
		return
	}

	candidate, err := getCandidate(r.Context(), h.db, s.ID, req.CandidateID)
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Candidate does not belong to this session")
		return
	}
	if err != nil {
		log.WithError(err).WithField("session_id", s.ID).Error("failed to query candidate")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	ctx := r.Context()
	tx, err := h.db.BeginTxx(ctx, nil)
	if err != nil {
		log.WithError(err).Error("failed to begin transaction")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE sessions
		SET status = $1, winner_candidate_id = $2, decided_by = $3, decided_at = $4
		WHERE id = $5 AND status = $6
	`, models.StatusDecided, candidate.ID, models.DecidedByHost, now, s.ID, s.Status)
	if err != nil {
		log.WithError(err).WithField("session_id", s.ID).Error("failed to decide session")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to decide session")
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		middleware.ErrorResponse(w, http.StatusConflict, "Session changed, try again")
		return
	}

	// Abandon any game in progress
	if _, err := tx.ExecContext(ctx, `
		UPDATE rps_games SET status = $1, finished_at = $2 WHERE session_id = $3 AND status <> $1
	`, models.GameFinished, now, s.ID); err != nil {
		log.WithError(err).WithField("session_id", s.ID).Error("failed to close games")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to decide session")
		return
	}

	if err := tx.Commit(); err != nil {
		log.WithError(err).Error("failed to commit decision")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to decide session")
		return
	}

	log.WithFields(log.Fields{"session_id": s.ID, "candidate_id": candidate.ID}).Info("session decided by host")
	metrics.SessionOutcome(models.StatusDecided)
	h.hub.Broadcast(s.ID, realtime.EventDecided, decidedPayload(candidate, models.DecidedByHost))

	middleware.JSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":     models.StatusDecided,
		"decided_by": models.DecidedByHost,
		"winner":     candidate,
	})
}

func decidedPayload(c *models.Candidate, decidedBy string) map[string]interface{} {
	return map[string]interface{}{
		"status":     models.StatusDecided,
		"decided_by": decidedBy,
		"winner":     c,
	}
}
