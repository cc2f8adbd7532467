// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/danielhkuo/choosing-sucks/cliparse"
	"github.com/danielhkuo/choosing-sucks/metrics"
	"github.com/danielhkuo/choosing-sucks/middleware"
	"github.com/danielhkuo/choosing-sucks/models"
	"github.com/danielhkuo/choosing-sucks/realtime"
)

type SwipeHandler struct {
	db  *sqlx.DB
	cfg cliparse.Config
	hub realtime.Broadcaster
}

func NewSwipeHandler(db *sqlx.DB, cfg cliparse.Config, hub realtime.Broadcaster) *SwipeHandler {
	return &SwipeHandler{db: db, cfg: cfg, hub: hub}
}

// RecordSwipe handles POST /sessions/{code}/swipes
func (h *SwipeHandler) RecordSwipe(w http.ResponseWriter, r *http.Request) {
	s, ok := sessionFromCode(w, r, h.db)
	if !ok {
		return
	}

	p, ok := callerParticipant(w, r, h.db, s.ID)
	if !ok {
		return
	}

	var req models.SwipeRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.CandidateID == "" || req.Liked == nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "candidate_id and liked are required")
		return
	}

	if s.Status != models.StatusSwiping {
		middleware.ErrorResponse(w, http.StatusConflict, "Session is not accepting swipes")
		return
	}

	ctx := r.Context()
	if _, err := getCandidate(ctx, h.db, s.ID, req.CandidateID); err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Candidate does not belong to this session")
		return
	} else if err != nil {
		log.WithError(err).WithField("session_id", s.ID).Error("failed to query candidate")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	swiped, finished, err := h.storeSwipe(ctx, s.ID, p.ID, req.CandidateID, *req.Liked)
	if err == errSessionClosed {
		middleware.ErrorResponse(w, http.StatusConflict, "Session is not accepting swipes")
		return
	}
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"session_id":     s.ID,
			"participant_id": p.ID,
		}).Error("failed to record swipe")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to record swipe")
		return
	}

	h.hub.Broadcast(s.ID, realtime.EventSwipeProgress, map[string]interface{}{
		"participant_id": p.ID,
		"swiped":         swiped,
		"finished":       finished,
	})

	// Evaluated after commit so concurrent swipes all see each other
	var out *outcome
	if *req.Liked {
		out, err = tryMatch(ctx, h.db, s, req.CandidateID)
		if err != nil {
			log.WithError(err).WithField("session_id", s.ID).Error("failed to evaluate match")
		}
	}
	if out == nil && err == nil && finished {
		out, err = resolveOutcome(ctx, h.db, s)
		if err != nil {
			log.WithError(err).WithField("session_id", s.ID).Error("failed to resolve outcome")
		}
	}
	announceOutcome(ctx, h.db, h.hub, s.ID, out)

	resp := models.SwipeResponse{Recorded: true, Finished: finished, Status: s.Status}
	if out != nil {
		resp.Match = out.Match
	}
	if current, err := getSessionByID(ctx, h.db, s.ID); err == nil {
		resp.Status = current.Status
	}

	middleware.JSONResponse(w, http.StatusOK, resp)
}

var errSessionClosed = errors.New("session is not swiping")

// storeSwipe upserts the vote and marks the participant finished once every
// candidate has been swiped
func (h *SwipeHandler) storeSwipe(ctx context.Context, sessionID, participantID, candidateID string, liked bool) (swiped int, finished bool, err error) {
	tx, err := h.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, false, errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	var status string
	if err := tx.GetContext(ctx, &status, `SELECT status FROM sessions WHERE id = $1`, sessionID); err != nil {
		return 0, false, errors.Wrap(err, "session status")
	}
	if status != models.StatusSwiping {
		return 0, false, errSessionClosed
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO swipes (session_id, participant_id, candidate_id, liked, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (participant_id, candidate_id) DO UPDATE SET liked = excluded.liked, updated_at = excluded.updated_at
	`, sessionID, participantID, candidateID, liked, now); err != nil {
		return 0, false, errors.Wrap(err, "upsert swipe")
	}

	var candidates int
	if err := tx.GetContext(ctx, &swiped, `SELECT COUNT(*) FROM swipes WHERE participant_id = $1`, participantID); err != nil {
		return 0, false, errors.Wrap(err, "count swipes")
	}
	if err := tx.GetContext(ctx, &candidates, `SELECT COUNT(*) FROM candidates WHERE session_id = $1`, sessionID); err != nil {
		return 0, false, errors.Wrap(err, "count candidates")
	}

	if swiped >= candidates {
		if _, err := tx.ExecContext(ctx, `UPDATE participants SET finished = TRUE WHERE id = $1`, participantID); err != nil {
			return 0, false, errors.Wrap(err, "mark finished")
		}
		finished = true
	} else if err := tx.GetContext(ctx, &finished, `SELECT finished FROM participants WHERE id = $1`, participantID); err != nil {
		return 0, false, errors.Wrap(err, "participant finished")
	}

	if err := tx.Commit(); err != nil {
		return 0, false, errors.Wrap(err, "commit")
	}
	return swiped, finished, nil
}

// Done handles POST /sessions/{code}/done
// The caller stops swiping; unswiped candidates count as no vote
func (h *SwipeHandler) Done(w http.ResponseWriter, r *http.Request) {
	s, ok := sessionFromCode(w, r, h.db)
	if !ok {
		return
	}

	p, ok := callerParticipant(w, r, h.db, s.ID)
	if !ok {
		return
	}

	if s.Status != models.StatusSwiping {
		middleware.ErrorResponse(w, http.StatusConflict, "Session is not accepting swipes")
		return
	}

	ctx := r.Context()
	if _, err := h.db.ExecContext(ctx, `UPDATE participants SET finished = TRUE WHERE id = $1`, p.ID); err != nil {
		log.WithError(err).WithField("participant_id", p.ID).Error("failed to mark participant finished")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	var swiped int
	if err := h.db.GetContext(ctx, &swiped, `SELECT COUNT(*) FROM swipes WHERE participant_id = $1`, p.ID); err != nil {
		log.WithError(err).WithField("participant_id", p.ID).Warn("failed to count swipes")
	}
	h.hub.Broadcast(s.ID, realtime.EventSwipeProgress, map[string]interface{}{
		"participant_id": p.ID,
		"swiped":         swiped,
		"finished":       true,
	})

	out, err := resolveOutcome(ctx, h.db, s)
	if err != nil {
		log.WithError(err).WithField("session_id", s.ID).Error("failed to resolve outcome")
	}
	announceOutcome(ctx, h.db, h.hub, s.ID, out)

	status := s.Status
	if current, err := getSessionByID(ctx, h.db, s.ID); err == nil {
		status = current.Status
	}

	log.WithFields(log.Fields{"session_id": s.ID, "participant_id": p.ID}).Info("participant finished swiping")
	middleware.JSONResponse(w, http.StatusOK, map[string]interface{}{
		"finished": true,
		"status":   status,
	})
}

// MySwipes handles GET /sessions/{code}/my-swipes
func (h *SwipeHandler) MySwipes(w http.ResponseWriter, r *http.Request) {
	s, ok := sessionFromCode(w, r, h.db)
	if !ok {
		return
	}

	p, ok := callerParticipant(w, r, h.db, s.ID)
	if !ok {
		return
	}

	swipes := []models.Swipe{}
	err := h.db.SelectContext(r.Context(), &swipes, `
		SELECT participant_id, candidate_id, liked, updated_at
		FROM swipes
		WHERE participant_id = $1
		ORDER BY updated_at ASC
	`, p.ID)
	if err != nil {
		log.WithError(err).WithField("participant_id", p.ID).Error("failed to query swipes")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, map[string]interface{}{
		"participant_id": p.ID,
		"swipes":         swipes,
	})
}

// Matches handles GET /sessions/{code}/matches
func (h *SwipeHandler) Matches(w http.ResponseWriter, r *http.Request) {
	s, ok := sessionFromCode(w, r, h.db)
	if !ok {
		return
	}

	resp, err := findSessionMatches(r.Context(), h.db, s)
	if err != nil {
		log.WithError(err).WithField("session_id", s.ID).Error("failed to find matches")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, resp)
}

// announceOutcome broadcasts a session transition and counts it
func announceOutcome(ctx context.Context, db *sqlx.DB, hub realtime.Broadcaster, sessionID string, out *outcome) {
	if out == nil {
		return
	}

	fields := log.Fields{"session_id": sessionID, "status": out.Status}
	metrics.SessionOutcome(out.Status)

	switch out.Status {
	case models.StatusMatched:
		log.WithFields(fields).WithField("candidate_id", out.WinnerID).Info("session matched")
		hub.Broadcast(sessionID, realtime.EventMatch, map[string]interface{}{
			"status":     models.StatusMatched,
			"decided_by": models.DecidedByMatch,
			"candidate":  out.Match,
		})

	case models.StatusNoMatch:
		log.WithFields(fields).Info("session ended without a match")
		hub.Broadcast(sessionID, realtime.EventNoMatch, map[string]interface{}{
			"status": models.StatusNoMatch,
		})

	case models.StatusDecided:
		log.WithFields(fields).WithField("candidate_id", out.WinnerID).Info("session decided by likes")
		c, err := getCandidate(ctx, db, sessionID, out.WinnerID)
		if err != nil {
			log.WithError(err).WithFields(fields).Error("failed to load winning candidate")
			return
		}
		hub.Broadcast(sessionID, realtime.EventDecided, decidedPayload(c, models.DecidedByMostLiked))

	case models.StatusTiebreak:
		log.WithFields(fields).WithField("game_id", out.GameID).Info("tiebreak started")
		hub.Broadcast(sessionID, realtime.EventTiebreakStarted, map[string]interface{}{
			"game_id":   out.GameID,
			"finalists": out.Finalists,
		})

		game, err := getGame(ctx, db, out.GameID)
		if err != nil {
			log.WithError(err).WithFields(fields).Error("failed to load game")
			return
		}
		if game.Status == models.GameFinished {
			hub.Broadcast(sessionID, realtime.EventRPSFinished, map[string]interface{}{
				"game_id":               game.ID,
				"winner_participant_id": game.WinnerParticipantID,
			})
		}
	}
}
