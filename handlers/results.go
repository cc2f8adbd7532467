// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"

	"github.com/danielhkuo/choosing-sucks/cliparse"
	"github.com/danielhkuo/choosing-sucks/middleware"
	"github.com/danielhkuo/choosing-sucks/models"
)

type ResultsHandler struct {
	db  *sqlx.DB
	cfg cliparse.Config
}

func NewResultsHandler(db *sqlx.DB, cfg cliparse.Config) *ResultsHandler {
	return &ResultsHandler{db: db, cfg: cfg}
}

// GetResult handles GET /sessions/{code}/result
// The winner is only revealed once the session is matched or decided
func (h *ResultsHandler) GetResult(w http.ResponseWriter, r *http.Request) {
	s, ok := sessionFromCode(w, r, h.db)
	if !ok {
		return
	}

	if (s.Status != models.StatusMatched && s.Status != models.StatusDecided) || s.WinnerCandidateID == nil {
		middleware.ErrorResponse(w, http.StatusForbidden, "no decision yet")
		return
	}

	ctx := r.Context()
	winner, err := getCandidate(ctx, h.db, s.ID, *s.WinnerCandidateID)
	if err != nil {
		log.WithError(err).WithField("session_id", s.ID).Error("failed to query winner")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	ranking, err := candidateTallies(ctx, h.db, s.ID)
	if err != nil {
		log.WithError(err).WithField("session_id", s.ID).Error("failed to tally candidates")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	decidedBy := ""
	if s.DecidedBy != nil {
		decidedBy = *s.DecidedBy
	}

	middleware.JSONResponse(w, http.StatusOK, models.SessionResult{
		Session:   *s,
		Winner:    *winner,
		DecidedBy: decidedBy,
		Ranking:   ranking,
	})
}

// GetPreview handles GET /sessions/{code}/preview
// Compact data for link unfurls; no participant details
func (h *ResultsHandler) GetPreview(w http.ResponseWriter, r *http.Request) {
	s, ok := sessionFromCode(w, r, h.db)
	if !ok {
		return
	}

	var counts struct {
		Participants int `db:"participants"`
		Candidates   int `db:"candidates"`
	}
	err := h.db.GetContext(r.Context(), &counts, `
		SELECT
			(SELECT COUNT(*) FROM participants WHERE session_id = $1) AS participants,
			(SELECT COUNT(*) FROM candidates WHERE session_id = $1) AS candidates
	`, s.ID)
	if err != nil {
		log.WithError(err).WithField("session_id", s.ID).Error("failed to count session members")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	title := s.Title
	if title == "" {
		title = s.CreatorName + "'s " + s.Category + " pick"
	}

	middleware.JSONResponse(w, http.StatusOK, models.SessionPreviewResponse{
		Title:            title,
		Category:         s.Category,
		Status:           s.Status,
		ParticipantCount: counts.Participants,
		CandidateCount:   counts.Candidates,
		CreatedAgo:       humanize.Time(s.CreatedAt),
	})
}
