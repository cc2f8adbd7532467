package models

import (
	"encoding/json"
	"time"
)

// Session category constants
const (
	CategoryRestaurants = "restaurants"
	CategoryStreaming   = "streaming"
	CategoryCustom      = "custom"
)

// Match rule constants
const (
	RuleUnanimous = "unanimous"
	RuleMajority  = "majority"
	RuleThreshold = "threshold"
)

// Session status constants
const (
	StatusWaiting  = "waiting"
	StatusSwiping  = "swiping"
	StatusMatched  = "matched"
	StatusTiebreak = "tiebreak"
	StatusDecided  = "decided"
	StatusNoMatch  = "no_match"
	StatusExpired  = "expired"
)

// How a session reached its final candidate
const (
	DecidedByMatch     = "match"
	DecidedByMostLiked = "most_liked"
	DecidedByRPS       = "rps"
	DecidedByHost      = "host"
)

// Candidate sources
const (
	SourceCustom       = "custom"
	SourceGooglePlaces = "google_places"
	SourceWatchmode    = "watchmode"
	SourceOpenAI       = "openai"
)

// Rock-paper-scissors game status
const (
	GameWaiting  = "waiting"
	GamePlaying  = "playing"
	GameFinished = "finished"
)

// Request types

type CreateSessionRequest struct {
	Category       string                `json:"category"`
	Title          string                `json:"title"`
	CreatorName    string                `json:"creator_name"`
	MatchRule      string                `json:"match_rule"`
	MatchThreshold int                   `json:"match_threshold"`
	Candidates     []AddCandidateRequest `json:"candidates"`
}

type AddCandidateRequest struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
	ImageURL string `json:"image_url"`
}

type JoinSessionRequest struct {
	DisplayName string `json:"display_name"`
}

type SwipeRequest struct {
	CandidateID string `json:"candidate_id"`
	Liked       *bool  `json:"liked"`
}

type MoveRequest struct {
	Move string `json:"move"`
}

type PickRequest struct {
	CandidateID string `json:"candidate_id"`
}

// LoadCandidatesRequest carries provider filters; which fields apply depends
// on the session category.
type LoadCandidatesRequest struct {
	// restaurants
	Query       string  `json:"query"`
	Location    string  `json:"location"`
	Radius      int     `json:"radius"`
	MinPrice    *int    `json:"min_price"`
	MaxPrice    *int    `json:"max_price"`
	OpenNow     bool    `json:"open_now"`
	MinRating   float64 `json:"min_rating"`
	StrictPrice bool    `json:"strict_price"`

	// streaming
	Types     []string `json:"types"`
	Genres    []int    `json:"genres"`
	SourceIDs []int    `json:"source_ids"`

	// custom
	Prompt   string `json:"prompt"`
	ImageURL string `json:"image_url"`

	Limit int `json:"limit"`
}

type GenerateOptionsRequest struct {
	Prompt   string `json:"prompt"`
	ImageURL string `json:"image_url"`
	Count    int    `json:"count"`
}

// Response types

type CreateSessionResponse struct {
	SessionID        string `json:"session_id"`
	Code             string `json:"code"`
	HostKey          string `json:"host_key"`
	ParticipantID    string `json:"participant_id"`
	ParticipantToken string `json:"participant_token"`
	ShareURL         string `json:"share_url"`
}

type JoinSessionResponse struct {
	SessionID        string `json:"session_id"`
	ParticipantID    string `json:"participant_id"`
	ParticipantToken string `json:"participant_token"`
}

type AddCandidateResponse struct {
	CandidateID string `json:"candidate_id"`
}

type LoadCandidatesResponse struct {
	Added    int         `json:"added"`
	Skipped  int         `json:"skipped"`
	Fallback bool        `json:"fallback,omitempty"`
	Items    []Candidate `json:"candidates"`
}

type SwipeResponse struct {
	Recorded bool       `json:"recorded"`
	Status   string     `json:"status"`
	Match    *Candidate `json:"match,omitempty"`
	Finished bool       `json:"finished"`
}

type GenerateOptionsResponse struct {
	Options  []string `json:"options"`
	Fallback bool     `json:"fallback"`
}

// Domain types

type Session struct {
	ID                string     `json:"id" db:"id"`
	Code              string     `json:"code" db:"code"`
	Category          string     `json:"category" db:"category"`
	Title             string     `json:"title" db:"title"`
	CreatorName       string     `json:"creator_name" db:"creator_name"`
	MatchRule         string     `json:"match_rule" db:"match_rule"`
	MatchThreshold    int        `json:"match_threshold" db:"match_threshold"`
	Status            string     `json:"status" db:"status"`
	WinnerCandidateID *string    `json:"winner_candidate_id,omitempty" db:"winner_candidate_id"`
	DecidedBy         *string    `json:"decided_by,omitempty" db:"decided_by"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	StartedAt         *time.Time `json:"started_at,omitempty" db:"started_at"`
	DecidedAt         *time.Time `json:"decided_at,omitempty" db:"decided_at"`
	ExpiresAt         time.Time  `json:"expires_at" db:"expires_at"`
}

type Participant struct {
	ID          string    `json:"id" db:"id"`
	SessionID   string    `json:"session_id" db:"session_id"`
	DisplayName string    `json:"display_name" db:"display_name"`
	Token       string    `json:"-" db:"token"` // Never expose in JSON
	IsHost      bool      `json:"is_host" db:"is_host"`
	Finished    bool      `json:"finished" db:"finished"`
	JoinedAt    time.Time `json:"joined_at" db:"joined_at"`
}

type Candidate struct {
	ID         string          `json:"id" db:"id"`
	SessionID  string          `json:"session_id" db:"session_id"`
	Source     string          `json:"source" db:"source"`
	ExternalID string          `json:"external_id,omitempty" db:"external_id"`
	Title      string          `json:"title" db:"title"`
	Subtitle   string          `json:"subtitle,omitempty" db:"subtitle"`
	ImageURL   string          `json:"image_url,omitempty" db:"image_url"`
	Metadata   json.RawMessage `json:"metadata,omitempty" db:"-"`
	RawMeta    string          `json:"-" db:"metadata"`
	Position   int             `json:"position" db:"position"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

type Swipe struct {
	ParticipantID string    `json:"participant_id" db:"participant_id"`
	CandidateID   string    `json:"candidate_id" db:"candidate_id"`
	Liked         bool      `json:"liked" db:"liked"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

type SessionView struct {
	Session      Session            `json:"session"`
	Candidates   []Candidate        `json:"candidates"`
	Participants []ParticipantBrief `json:"participants"`
}

type ParticipantBrief struct {
	ID          string `json:"id" db:"id"`
	DisplayName string `json:"display_name" db:"display_name"`
	IsHost      bool   `json:"is_host" db:"is_host"`
	Finished    bool   `json:"finished" db:"finished"`
}

// ParticipantProgress is one row of the session status report
type ParticipantProgress struct {
	ParticipantID string `json:"participant_id" db:"participant_id"`
	DisplayName   string `json:"display_name" db:"display_name"`
	Swiped        int    `json:"swiped" db:"swiped"`
	Finished      bool   `json:"finished" db:"finished"`
}

type SessionStatus struct {
	SessionID         string                `json:"session_id"`
	Status            string                `json:"status"`
	MatchRule         string                `json:"match_rule"`
	RequiredLikes     int                   `json:"required_likes"`
	ParticipantCount  int                   `json:"participant_count"`
	FinishedCount     int                   `json:"finished_count"`
	CandidateCount    int                   `json:"candidate_count"`
	SwipeCount        int                   `json:"swipe_count"`
	Progress          []ParticipantProgress `json:"progress"`
	WinnerCandidateID *string               `json:"winner_candidate_id,omitempty"`
	ActiveGameID      *string               `json:"active_game_id,omitempty"`
}

// CandidateTally is a candidate with its like/dislike counts
type CandidateTally struct {
	CandidateID string `json:"candidate_id" db:"candidate_id"`
	Title       string `json:"title" db:"title"`
	Position    int    `json:"position" db:"position"`
	Likes       int    `json:"likes" db:"likes"`
	Dislikes    int    `json:"dislikes" db:"dislikes"`
}

type MatchesResponse struct {
	RequiredLikes int              `json:"required_likes"`
	Matches       []CandidateTally `json:"matches"`
	Ranking       []CandidateTally `json:"ranking"`
}

type RPSGame struct {
	ID                  string     `json:"id" db:"id"`
	SessionID           string     `json:"session_id" db:"session_id"`
	Status              string     `json:"status" db:"status"`
	Round               int        `json:"round" db:"round"`
	WinnerParticipantID *string    `json:"winner_participant_id,omitempty" db:"winner_participant_id"`
	Finalists           []string   `json:"finalists" db:"-"`
	RawFinalists        string     `json:"-" db:"finalists"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
	FinishedAt          *time.Time `json:"finished_at,omitempty" db:"finished_at"`
}

// RPSRound is a revealed round of a game
type RPSRound struct {
	Round      int               `json:"round"`
	Moves      map[string]string `json:"moves"` // participant_id -> move
	Draw       bool              `json:"draw"`
	Eliminated []string          `json:"eliminated"`
}

type RPSGameView struct {
	Game           RPSGame    `json:"game"`
	AlivePlayers   []string   `json:"alive_players"`
	MovedThisRound []string   `json:"moved_this_round"`
	History        []RPSRound `json:"history"`
}

type MoveResponse struct {
	Accepted bool      `json:"accepted"`
	Round    int       `json:"round"`
	Reveal   *RPSRound `json:"reveal,omitempty"`
	Status   string    `json:"status"`
	WinnerID *string   `json:"winner_participant_id,omitempty"`
}

type SessionResult struct {
	Session   Session          `json:"session"`
	Winner    Candidate        `json:"winner"`
	DecidedBy string           `json:"decided_by"`
	Ranking   []CandidateTally `json:"ranking"`
}

type SessionPreviewResponse struct {
	Title            string `json:"title"`
	Category         string `json:"category"`
	Status           string `json:"status"`
	ParticipantCount int    `json:"participant_count"`
	CandidateCount   int    `json:"candidate_count"`
	CreatedAgo       string `json:"created_ago"`
}

// Device platforms
const (
	PlatformIOS     = "ios"
	PlatformMacOS   = "macos"
	PlatformAndroid = "android"
	PlatformWeb     = "web"
)

// Device roles in a session
const (
	RoleHost        = "host"
	RoleParticipant = "participant"
)

type RegisterDeviceRequest struct {
	Platform string `json:"platform"`
}

type RegisterDeviceResponse struct {
	DeviceID string `json:"device_id"`
	IsNew    bool   `json:"is_new"`
}

type DeviceInfo struct {
	ID         string    `json:"device_id" db:"id"`
	Platform   string    `json:"platform" db:"platform"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at" db:"last_seen_at"`
}

// DeviceSessionSummary is one session linked to a device
type DeviceSessionSummary struct {
	SessionID        string    `json:"session_id" db:"session_id"`
	Code             string    `json:"code" db:"code"`
	Title            string    `json:"title" db:"title"`
	Category         string    `json:"category" db:"category"`
	Status           string    `json:"status" db:"status"`
	Role             string    `json:"role" db:"role"`
	DisplayName      *string   `json:"display_name,omitempty" db:"display_name"`
	ParticipantCount int       `json:"participant_count" db:"participant_count"`
	LinkedAt         time.Time `json:"linked_at" db:"linked_at"`
}

type GetMySessionsResponse struct {
	Sessions []DeviceSessionSummary `json:"sessions"`
}

// Usage reporting

type UsageRow struct {
	Provider         string `json:"provider" db:"provider"`
	Day              string `json:"day" db:"day"`
	Calls            int    `json:"calls" db:"calls"`
	Errors           int    `json:"errors" db:"errors"`
	PromptTokens     int    `json:"prompt_tokens" db:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens" db:"completion_tokens"`
}

type UsageResponse struct {
	Days int        `json:"days"`
	Rows []UsageRow `json:"rows"`
}

// Error response

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
