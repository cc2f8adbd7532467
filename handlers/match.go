// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/danielhkuo/choosing-sucks/auth"
	"github.com/danielhkuo/choosing-sucks/models"
)

// RequiredLikes returns how many likes a candidate needs to match. Zero
// means the session cannot match (nobody is in it).
func RequiredLikes(rule string, threshold, participants int) int {
	if participants <= 0 {
		return 0
	}
	switch rule {
	case models.RuleMajority:
		return participants/2 + 1
	case models.RuleThreshold:
		if threshold < 1 {
			threshold = 1
		}
		if threshold > participants {
			return participants
		}
		return threshold
	default:
		return participants
	}
}

// IsMatch reports whether likes satisfy required
func IsMatch(likes, required int) bool {
	return required > 0 && likes >= required
}

// Finalists returns the candidates tied for the most likes, in ranking
// order. Nobody is a finalist when no candidate was liked.
func Finalists(tallies []models.CandidateTally) []string {
	max := 0
	for _, t := range tallies {
		if t.Likes > max {
			max = t.Likes
		}
	}
	finalists := []string{}
	if max == 0 {
		return finalists
	}
	for _, t := range tallies {
		if t.Likes == max {
			finalists = append(finalists, t.CandidateID)
		}
	}
	return finalists
}

// candidateTallies counts likes and dislikes per candidate, ordered by likes
// descending then position
func candidateTallies(ctx context.Context, q queryer, sessionID string) ([]models.CandidateTally, error) {
	tallies := []models.CandidateTally{}
	err := sqlx.SelectContext(ctx, q, &tallies, `
		SELECT
			c.id AS candidate_id,
			c.title,
			c.position,
			COALESCE(SUM(CASE WHEN s.liked = TRUE THEN 1 ELSE 0 END), 0) AS likes,
			COALESCE(SUM(CASE WHEN s.liked = FALSE THEN 1 ELSE 0 END), 0) AS dislikes
		FROM candidates c
		LEFT JOIN swipes s ON s.candidate_id = c.id
		WHERE c.session_id = $1
		GROUP BY c.id, c.title, c.position
		ORDER BY likes DESC, c.position ASC
	`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "tally candidates")
	}
	return tallies, nil
}

func countParticipants(ctx context.Context, q queryer, sessionID string) (total, finished int, err error) {
	var row struct {
		Total    int `db:"total"`
		Finished int `db:"finished"`
	}
	err = sqlx.GetContext(ctx, q, &row, `
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN finished = TRUE THEN 1 ELSE 0 END), 0) AS finished
		FROM participants
		WHERE session_id = $1
	`, sessionID)
	if err != nil {
		return 0, 0, errors.Wrap(err, "count participants")
	}
	return row.Total, row.Finished, nil
}

// getSessionStatus reports swipe progress for a session
func getSessionStatus(ctx context.Context, q queryer, s *models.Session) (*models.SessionStatus, error) {
	status := &models.SessionStatus{
		SessionID:         s.ID,
		Status:            s.Status,
		MatchRule:         s.MatchRule,
		WinnerCandidateID: s.WinnerCandidateID,
		Progress:          []models.ParticipantProgress{},
	}

	err := sqlx.SelectContext(ctx, q, &status.Progress, `
		SELECT
			p.id AS participant_id,
			p.display_name,
			p.finished,
			COUNT(s.candidate_id) AS swiped
		FROM participants p
		LEFT JOIN swipes s ON s.participant_id = p.id
		WHERE p.session_id = $1
		GROUP BY p.id, p.display_name, p.finished, p.joined_at
		ORDER BY p.joined_at ASC
	`, s.ID)
	if err != nil {
		return nil, errors.Wrap(err, "participant progress")
	}

	for _, p := range status.Progress {
		status.ParticipantCount++
		if p.Finished {
			status.FinishedCount++
		}
		status.SwipeCount += p.Swiped
	}

	if err := sqlx.GetContext(ctx, q, &status.CandidateCount,
		`SELECT COUNT(*) FROM candidates WHERE session_id = $1`, s.ID); err != nil {
		return nil, errors.Wrap(err, "count candidates")
	}

	status.RequiredLikes = RequiredLikes(s.MatchRule, s.MatchThreshold, status.ParticipantCount)

	if s.Status == models.StatusTiebreak {
		var gameIDs []string
		if err := sqlx.SelectContext(ctx, q, &gameIDs, `
			SELECT id FROM rps_games WHERE session_id = $1 ORDER BY created_at DESC LIMIT 1
		`, s.ID); err != nil {
			return nil, errors.Wrap(err, "active game")
		}
		if len(gameIDs) > 0 {
			status.ActiveGameID = &gameIDs[0]
		}
	}

	return status, nil
}

// findSessionMatches returns the candidates meeting the match rule and the
// full like ranking
func findSessionMatches(ctx context.Context, q queryer, s *models.Session) (*models.MatchesResponse, error) {
	total, _, err := countParticipants(ctx, q, s.ID)
	if err != nil {
		return nil, err
	}
	tallies, err := candidateTallies(ctx, q, s.ID)
	if err != nil {
		return nil, err
	}

	resp := &models.MatchesResponse{
		RequiredLikes: RequiredLikes(s.MatchRule, s.MatchThreshold, total),
		Matches:       []models.CandidateTally{},
		Ranking:       tallies,
	}
	for _, t := range tallies {
		if IsMatch(t.Likes, resp.RequiredLikes) {
			resp.Matches = append(resp.Matches, t)
		}
	}
	return resp, nil
}

// outcome describes a session transition made while evaluating swipes
type outcome struct {
	Status    string
	Match     *models.Candidate
	WinnerID  string
	Finalists []string
	GameID    string
}

// tryMatch checks one candidate against the match rule and, when satisfied,
// moves the session from swiping to matched. Only one caller can win the
// transition.
func tryMatch(ctx context.Context, db *sqlx.DB, s *models.Session, candidateID string) (*outcome, error) {
	total, _, err := countParticipants(ctx, db, s.ID)
	if err != nil {
		return nil, err
	}

	var likes int
	if err := db.GetContext(ctx, &likes, `
		SELECT COUNT(*) FROM swipes WHERE candidate_id = $1 AND liked = TRUE
	`, candidateID); err != nil {
		return nil, errors.Wrap(err, "count likes")
	}

	if !IsMatch(likes, RequiredLikes(s.MatchRule, s.MatchThreshold, total)) {
		return nil, nil
	}
	return markMatched(ctx, db, s, candidateID)
}

// markMatched moves the session from swiping to matched on candidateID. It
// returns nil when another caller already moved the session.
func markMatched(ctx context.Context, db *sqlx.DB, s *models.Session, candidateID string) (*outcome, error) {
	now := time.Now().UTC()
	res, err := db.ExecContext(ctx, `
		UPDATE sessions
		SET status = $1, winner_candidate_id = $2, decided_by = $3, decided_at = $4
		WHERE id = $5 AND status = $6
	`, models.StatusMatched, candidateID, models.DecidedByMatch, now, s.ID, models.StatusSwiping)
	if err != nil {
		return nil, errors.Wrap(err, "mark matched")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}

	c, err := getCandidate(ctx, db, s.ID, candidateID)
	if err != nil {
		return nil, errors.Wrap(err, "load matched candidate")
	}
	return &outcome{Status: models.StatusMatched, Match: c, WinnerID: candidateID}, nil
}

// resolveOutcome settles a swiping session once every participant has
// finished. A top candidate that satisfies the match rule matches; otherwise
// no likes ends in no_match, a single top candidate is decided and a tie
// starts a rock-paper-scissors tiebreak.
func resolveOutcome(ctx context.Context, db *sqlx.DB, s *models.Session) (*outcome, error) {
	total, finished, err := countParticipants(ctx, db, s.ID)
	if err != nil {
		return nil, err
	}
	if total == 0 || finished < total {
		return nil, nil
	}

	tallies, err := candidateTallies(ctx, db, s.ID)
	if err != nil {
		return nil, err
	}

	// A like whose own match check has not run yet still counts
	if len(tallies) > 0 && IsMatch(tallies[0].Likes, RequiredLikes(s.MatchRule, s.MatchThreshold, total)) {
		return markMatched(ctx, db, s, tallies[0].CandidateID)
	}

	finalists := Finalists(tallies)
	now := time.Now().UTC()

	switch len(finalists) {
	case 0:
		res, err := db.ExecContext(ctx, `
			UPDATE sessions SET status = $1, decided_at = $2 WHERE id = $3 AND status = $4
		`, models.StatusNoMatch, now, s.ID, models.StatusSwiping)
		if err != nil {
			return nil, errors.Wrap(err, "mark no_match")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, nil
		}
		return &outcome{Status: models.StatusNoMatch, Finalists: finalists}, nil

	case 1:
		res, err := db.ExecContext(ctx, `
			UPDATE sessions
			SET status = $1, winner_candidate_id = $2, decided_by = $3, decided_at = $4
			WHERE id = $5 AND status = $6
		`, models.StatusDecided, finalists[0], models.DecidedByMostLiked, now, s.ID, models.StatusSwiping)
		if err != nil {
			return nil, errors.Wrap(err, "mark decided")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, nil
		}
		return &outcome{Status: models.StatusDecided, WinnerID: finalists[0], Finalists: finalists}, nil
	}

	gameID, err := startTiebreak(ctx, db, s.ID, finalists, models.StatusSwiping)
	if err != nil || gameID == "" {
		return nil, err
	}
	return &outcome{Status: models.StatusTiebreak, Finalists: finalists, GameID: gameID}, nil
}

// startTiebreak moves the session from one of the given statuses to tiebreak
// and creates a game with every participant as a player. It returns an empty
// id when another caller already moved the session.
func startTiebreak(ctx context.Context, db *sqlx.DB, sessionID string, finalists []string, from ...string) (string, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return "", errors.Wrap(err, "begin tiebreak")
	}
	defer tx.Rollback()

	query, args, err := sqlx.In(`UPDATE sessions SET status = ? WHERE id = ? AND status IN (?)`,
		models.StatusTiebreak, sessionID, from)
	if err != nil {
		return "", errors.Wrap(err, "build tiebreak update")
	}
	res, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
	if err != nil {
		return "", errors.Wrap(err, "mark tiebreak")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", nil
	}

	var players []string
	if err := tx.SelectContext(ctx, &players, `
		SELECT id FROM participants WHERE session_id = $1 ORDER BY joined_at ASC
	`, sessionID); err != nil {
		return "", errors.Wrap(err, "list players")
	}

	finalistsJSON, err := json.Marshal(finalists)
	if err != nil {
		return "", errors.Wrap(err, "encode finalists")
	}

	gameID := auth.NewID()
	now := time.Now().UTC()
	status := models.GameWaiting
	var winner *string
	var finishedAt *time.Time
	if len(players) == 1 {
		// A lone participant wins without playing
		status = models.GameFinished
		winner = &players[0]
		finishedAt = &now
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO rps_games (id, session_id, status, round, winner_participant_id, finalists, created_at, finished_at)
		VALUES ($1, $2, $3, 1, $4, $5, $6, $7)
	`, gameID, sessionID, status, winner, string(finalistsJSON), now, finishedAt); err != nil {
		return "", errors.Wrap(err, "insert game")
	}

	for _, p := range players {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rps_players (game_id, participant_id) VALUES ($1, $2)
		`, gameID, p); err != nil {
			return "", errors.Wrap(err, "insert player")
		}
	}

	if err := tx.Commit(); err != nil {
		return "", errors.Wrap(err, "commit tiebreak")
	}
	return gameID, nil
}
