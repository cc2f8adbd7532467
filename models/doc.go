// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package models defines request, response, and domain types for the API.

# Request Types

  - CreateSessionRequest: category, title, creator_name, match_rule, match_threshold, candidates
  - AddCandidateRequest: title, subtitle, image_url
  - LoadCandidatesRequest: provider filters (places, watchmode, llm prompt)
  - JoinSessionRequest: display_name
  - SwipeRequest: candidate_id, liked
  - MoveRequest: move (rock, paper, scissors)
  - PickRequest: candidate_id
  - GenerateOptionsRequest: prompt, image_url, count

# Domain Types

  - Session: decision room and its lifecycle state
  - Participant: one person in a session (token never serialized)
  - Candidate: one option being swiped on
  - Swipe: a participant's yes/no on a candidate
  - RPSGame, RPSRound: rock-paper-scissors tiebreak state
  - CandidateTally: like/dislike counts used for matches and rankings

Rows carry db tags for sqlx scanning. JSON-valued columns (candidate
metadata, game finalists) are scanned into a raw string field and decoded
by the caller.

# Session Status

	waiting → swiping → matched
	                  → tiebreak → decided
	                  → decided   (single most-liked candidate)
	                  → no_match
	any open state    → expired   (janitor)

# Match Rules

	RuleUnanimous = "unanimous"
	RuleMajority  = "majority"
	RuleThreshold = "threshold"
*/
package models
