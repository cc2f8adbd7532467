// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package rps resolves rock-paper-scissors elimination rounds.
package rps

import (
	"errors"
	"sort"
	"strings"
)

const (
	Rock     = "rock"
	Paper    = "paper"
	Scissors = "scissors"
)

var ErrInvalidMove = errors.New("move must be rock, paper or scissors")

// Normalize validates a move and returns its canonical form
func Normalize(move string) (string, error) {
	m := strings.ToLower(strings.TrimSpace(move))
	switch m {
	case Rock, Paper, Scissors:
		return m, nil
	}
	return "", ErrInvalidMove
}

// Beats reports whether a defeats b
func Beats(a, b string) bool {
	return (a == Rock && b == Scissors) ||
		(a == Paper && b == Rock) ||
		(a == Scissors && b == Paper)
}

// Outcome of one round
type Outcome struct {
	Draw       bool
	Eliminated []string // sorted participant ids
	Survivors  []string // sorted participant ids
}

// Resolve plays one simultaneous round. With exactly two distinct moves
// the holders of the losing move are eliminated; otherwise the round is a
// draw and everyone survives.
func Resolve(moves map[string]string) Outcome {
	distinct := map[string]bool{}
	for _, m := range moves {
		distinct[m] = true
	}

	players := make([]string, 0, len(moves))
	for id := range moves {
		players = append(players, id)
	}
	sort.Strings(players)

	if len(distinct) != 2 {
		return Outcome{Draw: true, Eliminated: []string{}, Survivors: players}
	}

	var pair []string
	for m := range distinct {
		pair = append(pair, m)
	}
	loser := pair[1]
	if Beats(pair[1], pair[0]) {
		loser = pair[0]
	}

	out := Outcome{Eliminated: []string{}, Survivors: []string{}}
	for _, id := range players {
		if moves[id] == loser {
			out.Eliminated = append(out.Eliminated, id)
		} else {
			out.Survivors = append(out.Survivors, id)
		}
	}
	return out
}
