// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielhkuo/choosing-sucks/models"
	"github.com/danielhkuo/choosing-sucks/providers/llm"
	"github.com/danielhkuo/choosing-sucks/realtime"
	"github.com/danielhkuo/choosing-sucks/testutil"
)

type app struct {
	sessions     *SessionHandler
	participants *ParticipantHandler
	candidates   *CandidateHandler
	swipes       *SwipeHandler
	tiebreak     *TiebreakHandler
	results      *ResultsHandler
	devices      *DeviceHandler
}

func newApp(t *testing.T, hub realtime.Broadcaster, p Providers) (*app, func() int) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	a := &app{
		sessions:     NewSessionHandler(db, cfg, hub),
		participants: NewParticipantHandler(db, cfg, hub),
		candidates:   NewCandidateHandler(db, cfg, hub, p),
		swipes:       NewSwipeHandler(db, cfg, hub),
		tiebreak:     NewTiebreakHandler(db, cfg, hub),
		results:      NewResultsHandler(db, cfg),
		devices:      NewDeviceHandler(db, cfg),
	}
	countRows := func() int {
		var n int
		require.NoError(t, db.Get(&n, `SELECT COUNT(*) FROM swipes`))
		return n
	}
	return a, countRows
}

// TestFullTiebreakWorkflow walks a session from creation through a
// rock-paper-scissors tiebreak to a revealed result
func TestFullTiebreakWorkflow(t *testing.T) {
	hub := &captureHub{}
	a, swipeCount := newApp(t, hub, Providers{
		Options: &fakeOptions{result: llm.Result{Options: []string{"Thai", "Burgers"}}},
	})

	// Step 1: Alice creates a session from her phone
	w := serve(a.sessions.CreateSession, "POST", "/sessions", models.CreateSessionRequest{
		Category:    models.CategoryCustom,
		Title:       "Dinner",
		CreatorName: "Alice",
		MatchRule:   models.RuleUnanimous,
	}, map[string]string{"X-Device-UUID": "alice-phone"}, nil)
	testutil.AssertStatus(t, w, http.StatusCreated)
	var created models.CreateSessionResponse
	testutil.AssertJSON(t, w, &created)
	code, id := created.Code, created.SessionID
	host := hostHeaders(created.HostKey)

	// Step 2: She loads candidates and adds one by hand
	w = serve(a.candidates.LoadCandidates, "POST", "/sessions/"+id+"/candidates/load",
		models.LoadCandidatesRequest{Prompt: "dinner near the office"}, host, map[string]string{"id": id})
	testutil.AssertStatus(t, w, http.StatusOK)
	w = serve(a.candidates.AddCandidate, "POST", "/sessions/"+id+"/candidates",
		models.AddCandidateRequest{Title: "Pho"}, host, map[string]string{"id": id})
	testutil.AssertStatus(t, w, http.StatusCreated)

	// Step 3: Bob joins
	w = serve(a.participants.Join, "POST", "/sessions/"+code+"/join",
		models.JoinSessionRequest{DisplayName: "Bob"}, nil, map[string]string{"code": code})
	testutil.AssertStatus(t, w, http.StatusCreated)
	var bob models.JoinSessionResponse
	testutil.AssertJSON(t, w, &bob)

	// Step 4: The host starts swiping
	w = serve(a.sessions.StartSession, "POST", "/sessions/"+id+"/start", nil, host, map[string]string{"id": id})
	testutil.AssertStatus(t, w, http.StatusOK)

	w = serve(a.sessions.GetSession, "GET", "/sessions/"+code, nil, nil, map[string]string{"code": code})
	testutil.AssertStatus(t, w, http.StatusOK)
	var view models.SessionView
	testutil.AssertJSON(t, w, &view)
	require.Len(t, view.Candidates, 3)
	thai, burgers, pho := view.Candidates[0].ID, view.Candidates[1].ID, view.Candidates[2].ID

	// Step 5: Alice likes Thai, Bob likes Burgers; nobody likes Pho
	votes := []struct {
		token     string
		candidate string
		liked     bool
	}{
		{created.ParticipantToken, thai, true},
		{created.ParticipantToken, burgers, false},
		{created.ParticipantToken, pho, false},
		{bob.ParticipantToken, thai, false},
		{bob.ParticipantToken, burgers, true},
		{bob.ParticipantToken, pho, false},
	}
	for _, v := range votes {
		testutil.AssertStatus(t, swipe(a.swipes, code, v.token, v.candidate, v.liked), http.StatusOK)
	}
	assert.Equal(t, 6, swipeCount())

	w = serve(a.sessions.GetStatus, "GET", "/sessions/"+code+"/status", nil, nil, map[string]string{"code": code})
	var status models.SessionStatus
	testutil.AssertJSON(t, w, &status)
	assert.Equal(t, models.StatusTiebreak, status.Status)
	assert.Equal(t, 2, status.FinishedCount)
	require.NotNil(t, status.ActiveGameID)

	// The result stays sealed during the tiebreak
	w = serve(a.results.GetResult, "GET", "/sessions/"+code+"/result", nil, nil, map[string]string{"code": code})
	testutil.AssertStatus(t, w, http.StatusForbidden)

	// Step 6: Bob's rock beats Alice's scissors
	move := func(token, m string) {
		w := serve(a.tiebreak.Move, "POST", "/sessions/"+code+"/rps/moves", models.MoveRequest{Move: m},
			participantHeaders(token), map[string]string{"code": code})
		testutil.AssertStatus(t, w, http.StatusOK)
	}
	move(created.ParticipantToken, "scissors")
	move(bob.ParticipantToken, "rock")

	w = serve(a.tiebreak.GetGame, "GET", "/sessions/"+code+"/rps", nil, nil, map[string]string{"code": code})
	var game models.RPSGameView
	testutil.AssertJSON(t, w, &game)
	assert.Equal(t, models.GameFinished, game.Game.Status)
	require.NotNil(t, game.Game.WinnerParticipantID)
	assert.Equal(t, bob.ParticipantID, *game.Game.WinnerParticipantID)
	assert.ElementsMatch(t, []string{thai, burgers}, game.Game.Finalists)

	// Step 7: Bob picks
	w = serve(a.tiebreak.Pick, "POST", "/sessions/"+code+"/pick", models.PickRequest{CandidateID: burgers},
		participantHeaders(bob.ParticipantToken), map[string]string{"code": code})
	testutil.AssertStatus(t, w, http.StatusOK)

	// Step 8: Everyone sees the result
	w = serve(a.results.GetResult, "GET", "/sessions/"+code+"/result", nil, nil, map[string]string{"code": code})
	testutil.AssertStatus(t, w, http.StatusOK)
	var result models.SessionResult
	testutil.AssertJSON(t, w, &result)
	assert.Equal(t, burgers, result.Winner.ID)
	assert.Equal(t, models.DecidedByRPS, result.DecidedBy)
	assert.Len(t, result.Ranking, 3)

	// Step 9: Alice's device remembers the session she hosted
	w = serve(a.devices.GetMySessions, "GET", "/devices/my-sessions", nil,
		map[string]string{"X-Device-UUID": "alice-phone"}, nil)
	testutil.AssertStatus(t, w, http.StatusOK)
	var mine models.GetMySessionsResponse
	testutil.AssertJSON(t, w, &mine)
	require.Len(t, mine.Sessions, 1)
	assert.Equal(t, models.RoleHost, mine.Sessions[0].Role)
	assert.Equal(t, models.StatusDecided, mine.Sessions[0].Status)

	for _, ev := range []string{
		realtime.EventParticipantJoined,
		realtime.EventSessionStarted,
		realtime.EventTiebreakStarted,
		realtime.EventRPSReveal,
		realtime.EventRPSFinished,
		realtime.EventDecided,
	} {
		assert.Equal(t, 1, hub.count(ev), ev)
	}
	assert.Equal(t, 2, hub.count(realtime.EventCandidatesAdded))
}

// TestMatchWorkflow ends in an immediate majority match
func TestMatchWorkflow(t *testing.T) {
	hub := &captureHub{}
	a, _ := newApp(t, hub, Providers{})

	w := serve(a.sessions.CreateSession, "POST", "/sessions", models.CreateSessionRequest{
		Category:    models.CategoryCustom,
		CreatorName: "Alice",
		MatchRule:   models.RuleMajority,
		Candidates:  []models.AddCandidateRequest{{Title: "Park"}, {Title: "Beach"}},
	}, nil, nil)
	var created models.CreateSessionResponse
	testutil.AssertJSON(t, w, &created)
	code, id := created.Code, created.SessionID

	tokens := []string{created.ParticipantToken}
	for _, name := range []string{"Bob", "Carol"} {
		w := serve(a.participants.Join, "POST", "/sessions/"+code+"/join",
			models.JoinSessionRequest{DisplayName: name}, nil, map[string]string{"code": code})
		var joined models.JoinSessionResponse
		testutil.AssertJSON(t, w, &joined)
		tokens = append(tokens, joined.ParticipantToken)
	}

	serve(a.sessions.StartSession, "POST", "/sessions/"+id+"/start", nil, hostHeaders(created.HostKey), map[string]string{"id": id})

	w = serve(a.sessions.GetSession, "GET", "/sessions/"+code, nil, nil, map[string]string{"code": code})
	var view models.SessionView
	testutil.AssertJSON(t, w, &view)
	beach := view.Candidates[1].ID

	swipe(a.swipes, code, tokens[0], beach, true)
	w = swipe(a.swipes, code, tokens[1], beach, true)
	var resp models.SwipeResponse
	testutil.AssertJSON(t, w, &resp)
	require.NotNil(t, resp.Match)
	assert.Equal(t, "Beach", resp.Match.Title)
	assert.Equal(t, models.StatusMatched, resp.Status)

	// Carol was too slow
	testutil.AssertStatus(t, swipe(a.swipes, code, tokens[2], beach, true), http.StatusConflict)

	w = serve(a.results.GetResult, "GET", "/sessions/"+code+"/result", nil, nil, map[string]string{"code": code})
	testutil.AssertStatus(t, w, http.StatusOK)
	var result models.SessionResult
	testutil.AssertJSON(t, w, &result)
	assert.Equal(t, beach, result.Winner.ID)
	assert.Equal(t, models.DecidedByMatch, result.DecidedBy)
}
