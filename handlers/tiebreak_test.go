// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielhkuo/choosing-sucks/models"
	"github.com/danielhkuo/choosing-sucks/realtime"
	"github.com/danielhkuo/choosing-sucks/testutil"
)

type tiebreakFixture struct {
	handler   *TiebreakHandler
	hub       *captureHub
	session   testutil.TestSession
	finalists []string
	players   map[string]string // name -> token
	ids       map[string]string // name -> participant id
	gameID    string
}

// newTiebreak creates a session in tiebreak with Host, Bob and Carol playing
func newTiebreak(t *testing.T) *tiebreakFixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	hub := &captureHub{}

	s := testutil.CreateTestSession(t, db, cfg, models.StatusSwiping)
	a := testutil.AddTestCandidate(t, db, s.ID, "A")
	b := testutil.AddTestCandidate(t, db, s.ID, "B")
	testutil.AddTestCandidate(t, db, s.ID, "C")
	bobID, bob := testutil.JoinTestParticipant(t, db, s.ID, "Bob")
	carolID, carol := testutil.JoinTestParticipant(t, db, s.ID, "Carol")

	gameID, err := startTiebreak(t.Context(), db, s.ID, []string{a, b}, models.StatusSwiping)
	require.NoError(t, err)
	require.NotEmpty(t, gameID)

	return &tiebreakFixture{
		handler:   NewTiebreakHandler(db, cfg, hub),
		hub:       hub,
		session:   s,
		finalists: []string{a, b},
		players:   map[string]string{"Host": s.HostToken, "Bob": bob, "Carol": carol},
		ids:       map[string]string{"Host": s.HostID, "Bob": bobID, "Carol": carolID},
		gameID:    gameID,
	}
}

func (f *tiebreakFixture) move(name, move string) *httptest.ResponseRecorder {
	code := f.session.Code
	return serve(f.handler.Move, "POST", "/sessions/"+code+"/rps/moves", models.MoveRequest{Move: move},
		participantHeaders(f.players[name]), map[string]string{"code": code})
}

func (f *tiebreakFixture) pick(name, candidateID string) *httptest.ResponseRecorder {
	code := f.session.Code
	return serve(f.handler.Pick, "POST", "/sessions/"+code+"/pick", models.PickRequest{CandidateID: candidateID},
		participantHeaders(f.players[name]), map[string]string{"code": code})
}

func (f *tiebreakFixture) view(t *testing.T) models.RPSGameView {
	t.Helper()
	code := f.session.Code
	w := serve(f.handler.GetGame, "GET", "/sessions/"+code+"/rps", nil, nil, map[string]string{"code": code})
	testutil.AssertStatus(t, w, http.StatusOK)
	var view models.RPSGameView
	testutil.AssertJSON(t, w, &view)
	return view
}

func decodeMove(t *testing.T, w *httptest.ResponseRecorder) models.MoveResponse {
	t.Helper()
	var resp models.MoveResponse
	testutil.AssertJSON(t, w, &resp)
	return resp
}

func TestTiebreak_FullGame(t *testing.T) {
	f := newTiebreak(t)
	db := f.handler.db

	// Round 1: everyone throws rock, a draw
	for _, name := range []string{"Host", "Bob"} {
		testutil.AssertStatus(t, f.move(name, "rock"), http.StatusOK)
	}

	view := f.view(t)
	assert.Equal(t, models.GamePlaying, view.Game.Status)
	assert.ElementsMatch(t, []string{f.ids["Host"], f.ids["Bob"]}, view.MovedThisRound)
	assert.Empty(t, view.History, "moves stay hidden until the round resolves")

	testutil.AssertStatus(t, f.move("Host", "paper"), http.StatusConflict)

	w := f.move("Carol", "ROCK")
	testutil.AssertStatus(t, w, http.StatusOK)
	resp := decodeMove(t, w)
	require.NotNil(t, resp.Reveal)
	assert.True(t, resp.Reveal.Draw)
	assert.Equal(t, 1, resp.Round)
	assert.Equal(t, models.GamePlaying, resp.Status)

	// Round 2: Host and Bob throw paper, Carol is eliminated
	f.move("Host", "paper")
	resp = decodeMove(t, f.move("Bob", "paper"))
	assert.Nil(t, resp.Reveal)
	resp = decodeMove(t, f.move("Carol", "rock"))
	require.NotNil(t, resp.Reveal)
	assert.Equal(t, []string{f.ids["Carol"]}, resp.Reveal.Eliminated)

	testutil.AssertStatus(t, f.move("Carol", "paper"), http.StatusForbidden)

	view = f.view(t)
	assert.Equal(t, 3, view.Game.Round)
	assert.ElementsMatch(t, []string{f.ids["Host"], f.ids["Bob"]}, view.AlivePlayers)
	require.Len(t, view.History, 2)
	assert.True(t, view.History[0].Draw)
	assert.Equal(t, []string{f.ids["Carol"]}, view.History[1].Eliminated)

	// Round 3: Bob's scissors beat Host's paper
	f.move("Host", "paper")
	resp = decodeMove(t, f.move("Bob", "scissors"))
	assert.Equal(t, models.GameFinished, resp.Status)
	require.NotNil(t, resp.WinnerID)
	assert.Equal(t, f.ids["Bob"], *resp.WinnerID)
	assert.Equal(t, 1, f.hub.count(realtime.EventRPSFinished))
	assert.Equal(t, 3, f.hub.count(realtime.EventRPSReveal))

	testutil.AssertStatus(t, f.move("Bob", "rock"), http.StatusConflict)

	// Only the winner picks, and only among the finalists
	testutil.AssertStatus(t, f.pick("Host", f.finalists[0]), http.StatusForbidden)

	var third string
	require.NoError(t, db.Get(&third, `SELECT id FROM candidates WHERE session_id = $1 AND title = 'C'`, f.session.ID))
	testutil.AssertStatus(t, f.pick("Bob", third), http.StatusBadRequest)

	testutil.AssertStatus(t, f.pick("Bob", f.finalists[1]), http.StatusOK)

	sess, err := getSessionByID(t.Context(), db, f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDecided, sess.Status)
	require.NotNil(t, sess.WinnerCandidateID)
	assert.Equal(t, f.finalists[1], *sess.WinnerCandidateID)
	require.NotNil(t, sess.DecidedBy)
	assert.Equal(t, models.DecidedByRPS, *sess.DecidedBy)
	assert.Equal(t, 1, f.hub.count(realtime.EventDecided))

	// The finished game shows every round
	view = f.view(t)
	assert.Len(t, view.History, 3)
	assert.Empty(t, view.MovedThisRound)
}

func TestTiebreak_MoveValidation(t *testing.T) {
	f := newTiebreak(t)

	testutil.AssertStatus(t, f.move("Host", "lizard"), http.StatusBadRequest)

	w := serve(f.handler.Move, "POST", "/sessions/"+f.session.Code+"/rps/moves", models.MoveRequest{Move: "rock"},
		participantHeaders("not-a-token"), map[string]string{"code": f.session.Code})
	testutil.AssertStatus(t, w, http.StatusUnauthorized)

	testutil.AssertStatus(t, f.pick("Host", f.finalists[0]), http.StatusConflict)
}

func TestTiebreak_LatePlayerIsNotInTheGame(t *testing.T) {
	f := newTiebreak(t)
	db := f.handler.db

	// Participants cannot normally join mid-tiebreak; insert one directly
	_, token := testutil.JoinTestParticipant(t, db, f.session.ID, "Dave")
	f.players["Dave"] = token

	testutil.AssertStatus(t, f.move("Dave", "rock"), http.StatusForbidden)
}

func TestMove_NoTiebreak(t *testing.T) {
	db := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	handler := NewTiebreakHandler(db, cfg, &captureHub{})

	s := testutil.CreateTestSession(t, db, cfg, models.StatusSwiping)
	w := serve(handler.Move, "POST", "/sessions/"+s.Code+"/rps/moves", models.MoveRequest{Move: "rock"},
		participantHeaders(s.HostToken), map[string]string{"code": s.Code})
	testutil.AssertStatus(t, w, http.StatusConflict)

	w = serve(handler.GetGame, "GET", "/sessions/"+s.Code+"/rps", nil, nil, map[string]string{"code": s.Code})
	testutil.AssertStatus(t, w, http.StatusNotFound)
}

func TestForceTiebreak(t *testing.T) {
	t.Run("finalists are the most liked", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		cfg := testutil.GetTestConfig()
		hub := &captureHub{}
		handler := NewTiebreakHandler(db, cfg, hub)

		s := testutil.CreateTestSession(t, db, cfg, models.StatusSwiping)
		a := testutil.AddTestCandidate(t, db, s.ID, "A")
		b := testutil.AddTestCandidate(t, db, s.ID, "B")
		testutil.AddTestCandidate(t, db, s.ID, "C")
		bobID, _ := testutil.JoinTestParticipant(t, db, s.ID, "Bob")
		testutil.RecordTestSwipe(t, db, s.ID, s.HostID, a, true)
		testutil.RecordTestSwipe(t, db, s.ID, bobID, b, true)

		force := func() *httptest.ResponseRecorder {
			return serve(handler.ForceTiebreak, "POST", "/sessions/"+s.ID+"/tiebreak", nil,
				hostHeaders(s.HostKey), map[string]string{"id": s.ID})
		}

		w := force()
		testutil.AssertStatus(t, w, http.StatusCreated)
		var resp struct {
			GameID    string   `json:"game_id"`
			Finalists []string `json:"finalists"`
		}
		testutil.AssertJSON(t, w, &resp)
		assert.NotEmpty(t, resp.GameID)
		assert.ElementsMatch(t, []string{a, b}, resp.Finalists)
		assert.Equal(t, models.StatusTiebreak, testutil.SessionStatus(t, db, s.ID))
		assert.Equal(t, 1, hub.count(realtime.EventTiebreakStarted))

		testutil.AssertStatus(t, force(), http.StatusConflict)
	})

	t.Run("no likes puts every candidate in play", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		cfg := testutil.GetTestConfig()
		handler := NewTiebreakHandler(db, cfg, &captureHub{})

		s := testutil.CreateTestSession(t, db, cfg, models.StatusNoMatch)
		testutil.AddTestCandidate(t, db, s.ID, "A")
		testutil.AddTestCandidate(t, db, s.ID, "B")
		testutil.JoinTestParticipant(t, db, s.ID, "Bob")

		w := serve(handler.ForceTiebreak, "POST", "/sessions/"+s.ID+"/tiebreak", nil,
			hostHeaders(s.HostKey), map[string]string{"id": s.ID})
		testutil.AssertStatus(t, w, http.StatusCreated)

		g, err := latestGame(t.Context(), db, s.ID)
		require.NoError(t, err)
		assert.Len(t, g.Finalists, 2)
	})

	t.Run("lone player wins immediately", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		cfg := testutil.GetTestConfig()
		hub := &captureHub{}
		handler := NewTiebreakHandler(db, cfg, hub)

		s := testutil.CreateTestSession(t, db, cfg, models.StatusSwiping)
		a := testutil.AddTestCandidate(t, db, s.ID, "A")
		testutil.AddTestCandidate(t, db, s.ID, "B")

		w := serve(handler.ForceTiebreak, "POST", "/sessions/"+s.ID+"/tiebreak", nil,
			hostHeaders(s.HostKey), map[string]string{"id": s.ID})
		testutil.AssertStatus(t, w, http.StatusCreated)
		assert.Equal(t, 1, hub.count(realtime.EventRPSFinished))

		g, err := latestGame(t.Context(), db, s.ID)
		require.NoError(t, err)
		assert.Equal(t, models.GameFinished, g.Status)
		require.NotNil(t, g.WinnerParticipantID)
		assert.Equal(t, s.HostID, *g.WinnerParticipantID)

		w = serve(handler.Pick, "POST", "/sessions/"+s.Code+"/pick", models.PickRequest{CandidateID: a},
			participantHeaders(s.HostToken), map[string]string{"code": s.Code})
		testutil.AssertStatus(t, w, http.StatusOK)
	})

	t.Run("not from a finished session", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		cfg := testutil.GetTestConfig()
		handler := NewTiebreakHandler(db, cfg, &captureHub{})

		s := testutil.CreateTestSession(t, db, cfg, models.StatusDecided)
		testutil.AddTestCandidate(t, db, s.ID, "A")

		w := serve(handler.ForceTiebreak, "POST", "/sessions/"+s.ID+"/tiebreak", nil,
			hostHeaders(s.HostKey), map[string]string{"id": s.ID})
		testutil.AssertStatus(t, w, http.StatusConflict)
	})
}
