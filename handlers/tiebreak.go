// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/danielhkuo/choosing-sucks/cliparse"
	"github.com/danielhkuo/choosing-sucks/db"
	"github.com/danielhkuo/choosing-sucks/metrics"
	"github.com/danielhkuo/choosing-sucks/middleware"
	"github.com/danielhkuo/choosing-sucks/models"
	"github.com/danielhkuo/choosing-sucks/realtime"
	"github.com/danielhkuo/choosing-sucks/rps"
)

const gameColumns = `id, session_id, status, round, winner_participant_id, finalists, created_at, finished_at`

type TiebreakHandler struct {
	db  *sqlx.DB
	cfg cliparse.Config
	hub realtime.Broadcaster
}

func NewTiebreakHandler(db *sqlx.DB, cfg cliparse.Config, hub realtime.Broadcaster) *TiebreakHandler {
	return &TiebreakHandler{db: db, cfg: cfg, hub: hub}
}

type rpsPlayer struct {
	ParticipantID   string        `db:"participant_id"`
	EliminatedRound sql.NullInt64 `db:"eliminated_round"`
}

type rpsMove struct {
	Round         int    `db:"round"`
	ParticipantID string `db:"participant_id"`
	Move          string `db:"move"`
}

func hydrateGame(g *models.RPSGame) error {
	g.Finalists = []string{}
	if g.RawFinalists == "" {
		return nil
	}
	return json.Unmarshal([]byte(g.RawFinalists), &g.Finalists)
}

func getGame(ctx context.Context, q queryer, gameID string) (*models.RPSGame, error) {
	var g models.RPSGame
	if err := sqlx.GetContext(ctx, q, &g, `SELECT `+gameColumns+` FROM rps_games WHERE id = $1`, gameID); err != nil {
		return nil, err
	}
	if err := hydrateGame(&g); err != nil {
		return nil, errors.Wrap(err, "decode finalists")
	}
	return &g, nil
}

// latestGame returns the session's most recent game or sql.ErrNoRows
func latestGame(ctx context.Context, q queryer, sessionID string) (*models.RPSGame, error) {
	var g models.RPSGame
	err := sqlx.GetContext(ctx, q, &g, `
		SELECT `+gameColumns+`
		FROM rps_games
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, sessionID)
	if err != nil {
		return nil, err
	}
	if err := hydrateGame(&g); err != nil {
		return nil, errors.Wrap(err, "decode finalists")
	}
	return &g, nil
}

func gamePlayers(ctx context.Context, q queryer, gameID string) ([]rpsPlayer, error) {
	players := []rpsPlayer{}
	err := sqlx.SelectContext(ctx, q, &players, `
		SELECT participant_id, eliminated_round FROM rps_players WHERE game_id = $1 ORDER BY participant_id
	`, gameID)
	return players, errors.Wrap(err, "list players")
}

func alivePlayers(players []rpsPlayer) []string {
	alive := []string{}
	for _, p := range players {
		if !p.EliminatedRound.Valid {
			alive = append(alive, p.ParticipantID)
		}
	}
	return alive
}

// buildGameView assembles the public game state. Moves of the current round
// stay hidden until the round is revealed.
func buildGameView(ctx context.Context, q queryer, g *models.RPSGame) (*models.RPSGameView, error) {
	players, err := gamePlayers(ctx, q, g.ID)
	if err != nil {
		return nil, err
	}

	moves := []rpsMove{}
	if err := sqlx.SelectContext(ctx, q, &moves, `
		SELECT round, participant_id, move FROM rps_moves WHERE game_id = $1 ORDER BY round, participant_id
	`, g.ID); err != nil {
		return nil, errors.Wrap(err, "list moves")
	}

	view := &models.RPSGameView{
		Game:           *g,
		AlivePlayers:   alivePlayers(players),
		MovedThisRound: []string{},
		History:        []models.RPSRound{},
	}

	byRound := map[int]*models.RPSRound{}
	for _, m := range moves {
		revealed := m.Round < g.Round || g.Status == models.GameFinished
		if !revealed {
			view.MovedThisRound = append(view.MovedThisRound, m.ParticipantID)
			continue
		}
		rd, ok := byRound[m.Round]
		if !ok {
			rd = &models.RPSRound{Round: m.Round, Moves: map[string]string{}, Eliminated: []string{}}
			byRound[m.Round] = rd
		}
		rd.Moves[m.ParticipantID] = m.Move
	}

	for _, p := range players {
		if !p.EliminatedRound.Valid {
			continue
		}
		if rd, ok := byRound[int(p.EliminatedRound.Int64)]; ok {
			rd.Eliminated = append(rd.Eliminated, p.ParticipantID)
		}
	}

	for _, rd := range byRound {
		rd.Draw = len(rd.Eliminated) == 0
		view.History = append(view.History, *rd)
	}
	sort.Slice(view.History, func(i, j int) bool { return view.History[i].Round < view.History[j].Round })

	return view, nil
}

// resolveRound reveals a round once every alive player has moved. It returns
// nil when the round is still open or another caller already resolved it.
func resolveRound(ctx context.Context, conn *sqlx.DB, gameID string, round int) (*models.RPSRound, error) {
	players, err := gamePlayers(ctx, conn, gameID)
	if err != nil {
		return nil, err
	}
	alive := alivePlayers(players)

	moves := []rpsMove{}
	if err := conn.SelectContext(ctx, &moves, `
		SELECT round, participant_id, move FROM rps_moves WHERE game_id = $1 AND round = $2
	`, gameID, round); err != nil {
		return nil, errors.Wrap(err, "list round moves")
	}
	if len(moves) < len(alive) {
		return nil, nil
	}

	played := make(map[string]string, len(moves))
	for _, m := range moves {
		played[m.ParticipantID] = m.Move
	}
	result := rps.Resolve(played)

	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin round")
	}
	defer tx.Rollback()

	var res sql.Result
	if len(result.Survivors) == 1 {
		res, err = tx.ExecContext(ctx, `
			UPDATE rps_games SET status = $1, winner_participant_id = $2, finished_at = $3
			WHERE id = $4 AND round = $5 AND status <> $1
		`, models.GameFinished, result.Survivors[0], time.Now().UTC(), gameID, round)
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE rps_games SET round = round + 1, status = $1
			WHERE id = $2 AND round = $3 AND status <> $4
		`, models.GamePlaying, gameID, round, models.GameFinished)
	}
	if err != nil {
		return nil, errors.Wrap(err, "claim round")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}

	if len(result.Eliminated) > 0 {
		query, args, err := sqlx.In(`UPDATE rps_players SET eliminated_round = ? WHERE game_id = ? AND participant_id IN (?)`,
			round, gameID, result.Eliminated)
		if err != nil {
			return nil, errors.Wrap(err, "build elimination")
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return nil, errors.Wrap(err, "eliminate players")
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit round")
	}

	return &models.RPSRound{
		Round:      round,
		Moves:      played,
		Draw:       result.Draw,
		Eliminated: result.Eliminated,
	}, nil
}

// ForceTiebreak handles POST /sessions/{id}/tiebreak
func (h *TiebreakHandler) ForceTiebreak(w http.ResponseWriter, r *http.Request) {
	s, ok := hostSession(w, r, h.db, h.cfg.HostKeySalt)
	if !ok {
		return
	}

	if s.Status == models.StatusTiebreak {
		middleware.ErrorResponse(w, http.StatusConflict, "A tiebreak is already active")
		return
	}
	if s.Status != models.StatusSwiping && s.Status != models.StatusNoMatch {
		middleware.ErrorResponse(w, http.StatusConflict, "Session cannot enter a tiebreak in status "+s.Status)
		return
	}

	ctx := r.Context()
	tallies, err := candidateTallies(ctx, h.db, s.ID)
	if err != nil {
		log.WithError(err).WithField("session_id", s.ID).Error("failed to tally candidates")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	finalists := Finalists(tallies)
	if len(finalists) == 0 {
		// Nobody liked anything: everything is in play
		for _, t := range tallies {
			finalists = append(finalists, t.CandidateID)
		}
	}
	if len(finalists) == 0 {
		middleware.ErrorResponse(w, http.StatusConflict, "Session has no candidates")
		return
	}

	gameID, err := startTiebreak(ctx, h.db, s.ID, finalists, models.StatusSwiping, models.StatusNoMatch)
	if err != nil {
		log.WithError(err).WithField("session_id", s.ID).Error("failed to start tiebreak")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to start tiebreak")
		return
	}
	if gameID == "" {
		middleware.ErrorResponse(w, http.StatusConflict, "Session changed, try again")
		return
	}

	announceOutcome(ctx, h.db, h.hub, s.ID, &outcome{
		Status:    models.StatusTiebreak,
		Finalists: finalists,
		GameID:    gameID,
	})

	middleware.JSONResponse(w, http.StatusCreated, map[string]interface{}{
		"game_id":   gameID,
		"finalists": finalists,
	})
}

// GetGame handles GET /sessions/{code}/rps
func (h *TiebreakHandler) GetGame(w http.ResponseWriter, r *http.Request) {
	s, ok := sessionFromCode(w, r, h.db)
	if !ok {
		return
	}

	g, err := latestGame(r.Context(), h.db, s.ID)
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "No tiebreak game for this session")
		return
	}
	if err != nil {
		log.WithError(err).WithField("session_id", s.ID).Error("failed to query game")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	view, err := buildGameView(r.Context(), h.db, g)
	if err != nil {
		log.WithError(err).WithField("game_id", g.ID).Error("failed to build game view")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, view)
}

// Move handles POST /sessions/{code}/rps/moves
func (h *TiebreakHandler) Move(w http.ResponseWriter, r *http.Request) {
	s, ok := sessionFromCode(w, r, h.db)
	if !ok {
		return
	}

	p, ok := callerParticipant(w, r, h.db, s.ID)
	if !ok {
		return
	}

	var req models.MoveRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	move, err := rps.Normalize(req.Move)
	if err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.Status != models.StatusTiebreak {
		middleware.ErrorResponse(w, http.StatusConflict, "Session has no active tiebreak")
		return
	}

	ctx := r.Context()
	g, err := latestGame(ctx, h.db, s.ID)
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusConflict, "Session has no active tiebreak")
		return
	}
	if err != nil {
		log.WithError(err).WithField("session_id", s.ID).Error("failed to query game")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	if g.Status == models.GameFinished {
		middleware.ErrorResponse(w, http.StatusConflict, "Game is over")
		return
	}

	var eliminated sql.NullInt64
	err = h.db.GetContext(ctx, &eliminated, `
		SELECT eliminated_round FROM rps_players WHERE game_id = $1 AND participant_id = $2
	`, g.ID, p.ID)
	if err == sql.ErrNoRows || (err == nil && eliminated.Valid) {
		middleware.ErrorResponse(w, http.StatusForbidden, "You are not playing this round")
		return
	}
	if err != nil {
		log.WithError(err).WithField("game_id", g.ID).Error("failed to query player")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	// Resolving a round needs this player's move, so a stale round number
	// always lands on the unique key
	round := g.Round
	_, err = h.db.ExecContext(ctx, `
		INSERT INTO rps_moves (game_id, round, participant_id, move, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, g.ID, round, p.ID, move, time.Now().UTC())
	if db.IsUniqueViolation(err) {
		middleware.ErrorResponse(w, http.StatusConflict, "Already moved this round")
		return
	}
	if err != nil {
		log.WithError(err).WithField("game_id", g.ID).Error("failed to insert move")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to record move")
		return
	}

	if _, err := h.db.ExecContext(ctx, `
		UPDATE rps_games SET status = $1 WHERE id = $2 AND status = $3
	`, models.GamePlaying, g.ID, models.GameWaiting); err != nil {
		log.WithError(err).WithField("game_id", g.ID).Warn("failed to mark game playing")
	}

	h.hub.Broadcast(s.ID, realtime.EventRPSMove, map[string]interface{}{
		"game_id":        g.ID,
		"round":          round,
		"participant_id": p.ID,
	})

	reveal, err := resolveRound(ctx, h.db, g.ID, round)
	if err != nil {
		log.WithError(err).WithField("game_id", g.ID).Error("failed to resolve round")
	}

	resp := models.MoveResponse{Accepted: true, Round: round, Reveal: reveal, Status: models.GamePlaying}
	if current, err := getGame(ctx, h.db, g.ID); err == nil {
		resp.Status = current.Status
		resp.WinnerID = current.WinnerParticipantID
		g = current
	}

	if reveal != nil {
		log.WithFields(log.Fields{
			"game_id":    g.ID,
			"round":      round,
			"draw":       reveal.Draw,
			"eliminated": len(reveal.Eliminated),
		}).Info("rps round revealed")
		h.hub.Broadcast(s.ID, realtime.EventRPSReveal, reveal)

		if g.Status == models.GameFinished {
			h.hub.Broadcast(s.ID, realtime.EventRPSFinished, map[string]interface{}{
				"game_id":               g.ID,
				"winner_participant_id": g.WinnerParticipantID,
				"finalists":             g.Finalists,
			})
		}
	}

	middleware.JSONResponse(w, http.StatusOK, resp)
}

// Pick handles POST /sessions/{code}/pick
// The tiebreak winner chooses among the finalists
func (h *TiebreakHandler) Pick(w http.ResponseWriter, r *http.Request) {
	s, ok := sessionFromCode(w, r, h.db)
	if !ok {
		return
	}

	p, ok := callerParticipant(w, r, h.db, s.ID)
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

	if s.Status != models.StatusTiebreak {
		middleware.ErrorResponse(w, http.StatusConflict, "Session has no active tiebreak")
		return
	}

	ctx := r.Context()
	g, err := latestGame(ctx, h.db, s.ID)
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusConflict, "Session has no active tiebreak")
		return
	}
	if err != nil {
		log.WithError(err).WithField("session_id", s.ID).Error("failed to query game")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	if g.Status != models.GameFinished || g.WinnerParticipantID == nil {
		middleware.ErrorResponse(w, http.StatusConflict, "Game is not finished")
		return
	}
	if *g.WinnerParticipantID != p.ID {
		middleware.ErrorResponse(w, http.StatusForbidden, "Only the tiebreak winner can pick")
		return
	}

	isFinalist := false
	for _, id := range g.Finalists {
		if id == req.CandidateID {
			isFinalist = true
			break
		}
	}
	if !isFinalist {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Candidate is not a finalist")
		return
	}

	candidate, err := getCandidate(ctx, h.db, s.ID, req.CandidateID)
	if err != nil {
		log.WithError(err).WithField("session_id", s.ID).Error("failed to query candidate")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	res, err := h.db.ExecContext(ctx, `
		UPDATE sessions
		SET status = $1, winner_candidate_id = $2, decided_by = $3, decided_at = $4
		WHERE id = $5 AND status = $6
	`, models.StatusDecided, candidate.ID, models.DecidedByRPS, time.Now().UTC(), s.ID, models.StatusTiebreak)
	if err != nil {
		log.WithError(err).WithField("session_id", s.ID).Error("failed to record pick")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to record pick")
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		middleware.ErrorResponse(w, http.StatusConflict, "Session already decided")
		return
	}

	log.WithFields(log.Fields{
		"session_id":     s.ID,
		"participant_id": p.ID,
		"candidate_id":   candidate.ID,
	}).Info("tiebreak winner picked")
	metrics.SessionOutcome(models.StatusDecided)
	h.hub.Broadcast(s.ID, realtime.EventDecided, decidedPayload(candidate, models.DecidedByRPS))

	middleware.JSONResponse(w, http.StatusOK, decidedPayload(candidate, models.DecidedByRPS))
}
