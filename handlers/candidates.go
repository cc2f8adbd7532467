// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/danielhkuo/choosing-sucks/auth"
	"github.com/danielhkuo/choosing-sucks/cliparse"
	"github.com/danielhkuo/choosing-sucks/middleware"
	"github.com/danielhkuo/choosing-sucks/models"
	"github.com/danielhkuo/choosing-sucks/providers"
	"github.com/danielhkuo/choosing-sucks/providers/llm"
	"github.com/danielhkuo/choosing-sucks/providers/places"
	"github.com/danielhkuo/choosing-sucks/providers/watchmode"
	"github.com/danielhkuo/choosing-sucks/realtime"
)

const (
	defaultLoadLimit = 20
	maxLoadLimit     = 50
)

// PlacesProvider searches restaurants
type PlacesProvider interface {
	Search(ctx context.Context, p places.SearchParams) ([]places.Place, error)
	Details(ctx context.Context, placeID string) (*places.Place, error)
}

// TitlesProvider searches streaming titles
type TitlesProvider interface {
	Search(ctx context.Context, p watchmode.ListParams) ([]watchmode.Title, error)
	Details(ctx context.Context, titleID int) (*watchmode.Title, error)
}

// OptionGenerator proposes custom options; it falls back instead of failing
type OptionGenerator interface {
	GenerateOptions(ctx context.Context, prompt, imageURL string, count int) llm.Result
}

// Providers bundles the outbound integrations handlers can call
type Providers struct {
	Places  PlacesProvider
	Titles  TitlesProvider
	Options OptionGenerator
}

type CandidateHandler struct {
	db        *sqlx.DB
	cfg       cliparse.Config
	hub       realtime.Broadcaster
	providers Providers
}

func NewCandidateHandler(db *sqlx.DB, cfg cliparse.Config, hub realtime.Broadcaster, p Providers) *CandidateHandler {
	return &CandidateHandler{db: db, cfg: cfg, hub: hub, providers: p}
}

// AddCandidate handles POST /sessions/{id}/candidates
func (h *CandidateHandler) AddCandidate(w http.ResponseWriter, r *http.Request) {
	s, ok := hostSession(w, r, h.db, h.cfg.HostKeySalt)
	if !ok {
		return
	}

	var req models.AddCandidateRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" || utf8.RuneCountInString(title) > maxTitleLength {
		middleware.ErrorResponse(w, http.StatusBadRequest, "title must be 1-200 characters")
		return
	}

	if s.Status != models.StatusWaiting {
		middleware.ErrorResponse(w, http.StatusConflict, "Candidates can only change before the session starts")
		return
	}

	added, err := insertCandidates(r.Context(), h.db, s.ID, []models.Candidate{{
		Source:   models.SourceCustom,
		Title:    title,
		Subtitle: strings.TrimSpace(req.Subtitle),
		ImageURL: strings.TrimSpace(req.ImageURL),
	}})
	if err != nil {
		log.WithError(err).WithField("session_id", s.ID).Error("failed to insert candidate")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to add candidate")
		return
	}

	log.WithFields(log.Fields{"session_id": s.ID, "candidate_id": added[0].ID}).Info("candidate added")
	h.hub.Broadcast(s.ID, realtime.EventCandidatesAdded, map[string]interface{}{"candidates": added})

	middleware.JSONResponse(w, http.StatusCreated, models.AddCandidateResponse{CandidateID: added[0].ID})
}

// RemoveCandidate handles DELETE /sessions/{id}/candidates/{candidateID}
func (h *CandidateHandler) RemoveCandidate(w http.ResponseWriter, r *http.Request) {
	s, ok := hostSession(w, r, h.db, h.cfg.HostKeySalt)
	if !ok {
		return
	}

	candidateID := r.PathValue("candidateID")
	if candidateID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "candidate_id is required")
		return
	}

	if s.Status != models.StatusWaiting {
		middleware.ErrorResponse(w, http.StatusConflict, "Candidates can only change before the session starts")
		return
	}

	res, err := h.db.ExecContext(r.Context(), `
		DELETE FROM candidates WHERE session_id = $1 AND id = $2
	`, s.ID, candidateID)
	if err != nil {
		log.WithError(err).WithField("session_id", s.ID).Error("failed to delete candidate")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to remove candidate")
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		middleware.ErrorResponse(w, http.StatusNotFound, "Candidate not found")
		return
	}

	log.WithFields(log.Fields{"session_id": s.ID, "candidate_id": candidateID}).Info("candidate removed")
	middleware.JSONResponse(w, http.StatusOK, map[string]string{"removed": candidateID})
}

// LoadCandidates handles POST /sessions/{id}/candidates/load
// Fills the session from the provider matching its category
func (h *CandidateHandler) LoadCandidates(w http.ResponseWriter, r *http.Request) {
	s, ok := hostSession(w, r, h.db, h.cfg.HostKeySalt)
	if !ok {
		return
	}

	var req models.LoadCandidatesRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if s.Status != models.StatusWaiting {
		middleware.ErrorResponse(w, http.StatusConflict, "Candidates can only change before the session starts")
		return
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultLoadLimit
	}
	if limit > maxLoadLimit {
		limit = maxLoadLimit
	}

	ctx := providers.WithSessionID(r.Context(), s.ID)

	var (
		fetched  []models.Candidate
		fallback bool
		err      error
	)
	switch s.Category {
	case models.CategoryRestaurants:
		if strings.TrimSpace(req.Query) == "" {
			middleware.ErrorResponse(w, http.StatusBadRequest, "query is required for restaurants")
			return
		}
		fetched, err = h.loadPlaces(ctx, req)

	case models.CategoryStreaming:
		fetched, err = h.loadTitles(ctx, req, limit)

	default:
		if strings.TrimSpace(req.Prompt) == "" && strings.TrimSpace(req.ImageURL) == "" {
			middleware.ErrorResponse(w, http.StatusBadRequest, "prompt or image_url is required")
			return
		}
		res := h.providers.Options.GenerateOptions(ctx, req.Prompt, req.ImageURL, req.Limit)
		fallback = res.Fallback
		for _, opt := range res.Options {
			fetched = append(fetched, models.Candidate{Source: models.SourceOpenAI, Title: opt})
		}
	}
	if err != nil {
		providerError(w, err, s.Category)
		return
	}
	if len(fetched) > limit {
		fetched = fetched[:limit]
	}

	existing := []models.Candidate{}
	if err := h.db.SelectContext(r.Context(), &existing, `
		SELECT source, external_id, title FROM candidates WHERE session_id = $1
	`, s.ID); err != nil {
		log.WithError(err).WithField("session_id", s.ID).Error("failed to query candidates")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	fresh := dedupeCandidates(existing, fetched)
	added, err := insertCandidates(r.Context(), h.db, s.ID, fresh)
	if err != nil {
		log.WithError(err).WithField("session_id", s.ID).Error("failed to insert candidates")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to add candidates")
		return
	}

	log.WithFields(log.Fields{
		"session_id": s.ID,
		"category":   s.Category,
		"added":      len(added),
		"skipped":    len(fetched) - len(added),
		"fallback":   fallback,
	}).Info("candidates loaded")
	if len(added) > 0 {
		h.hub.Broadcast(s.ID, realtime.EventCandidatesAdded, map[string]interface{}{"candidates": added})
	}

	middleware.JSONResponse(w, http.StatusOK, models.LoadCandidatesResponse{
		Added:    len(added),
		Skipped:  len(fetched) - len(added),
		Fallback: fallback,
		Items:    added,
	})
}

func (h *CandidateHandler) loadPlaces(ctx context.Context, req models.LoadCandidatesRequest) ([]models.Candidate, error) {
	results, err := h.providers.Places.Search(ctx, places.SearchParams{
		Query:       req.Query,
		Location:    req.Location,
		Radius:      req.Radius,
		MinPrice:    req.MinPrice,
		MaxPrice:    req.MaxPrice,
		OpenNow:     req.OpenNow,
		MinRating:   req.MinRating,
		StrictPrice: req.StrictPrice,
	})
	if err != nil {
		return nil, err
	}

	out := make([]models.Candidate, 0, len(results))
	for _, p := range results {
		meta, err := json.Marshal(p)
		if err != nil {
			return nil, errors.Wrap(err, "encode place")
		}
		out = append(out, models.Candidate{
			Source:     models.SourceGooglePlaces,
			ExternalID: p.ID,
			Title:      p.Name,
			Subtitle:   p.Address,
			RawMeta:    string(meta),
		})
	}
	return out, nil
}

func (h *CandidateHandler) loadTitles(ctx context.Context, req models.LoadCandidatesRequest, limit int) ([]models.Candidate, error) {
	results, err := h.providers.Titles.Search(ctx, watchmode.ListParams{
		Types:     req.Types,
		Genres:    req.Genres,
		SourceIDs: req.SourceIDs,
		Limit:     limit,
	})
	if err != nil {
		return nil, err
	}

	out := make([]models.Candidate, 0, len(results))
	for _, t := range results {
		meta, err := json.Marshal(t)
		if err != nil {
			return nil, errors.Wrap(err, "encode title")
		}
		subtitle := t.Type
		if t.Year > 0 {
			subtitle = fmt.Sprintf("%d %s", t.Year, t.Type)
		}
		out = append(out, models.Candidate{
			Source:     models.SourceWatchmode,
			ExternalID: strconv.Itoa(t.ID),
			Title:      t.Title,
			Subtitle:   strings.TrimSpace(subtitle),
			ImageURL:   t.Poster,
			RawMeta:    string(meta),
		})
	}
	return out, nil
}

// dedupeKey identifies a provider item by its external id and anything else
// by its case-folded title
func dedupeKey(c models.Candidate) string {
	if c.ExternalID != "" {
		return c.Source + "|" + c.ExternalID
	}
	return "title|" + strings.ToLower(strings.TrimSpace(c.Title))
}

// dedupeCandidates drops fetched items already in the session or repeated
// within the batch
func dedupeCandidates(existing, fetched []models.Candidate) []models.Candidate {
	seen := make(map[string]bool, len(existing)+len(fetched))
	for _, c := range existing {
		seen[dedupeKey(c)] = true
	}
	fresh := []models.Candidate{}
	for _, c := range fetched {
		if strings.TrimSpace(c.Title) == "" {
			continue
		}
		key := dedupeKey(c)
		if seen[key] {
			continue
		}
		seen[key] = true
		fresh = append(fresh, c)
	}
	return fresh
}

// insertCandidates appends candidates after the session's current last
// position and returns them with ids assigned
func insertCandidates(ctx context.Context, conn *sqlx.DB, sessionID string, items []models.Candidate) ([]models.Candidate, error) {
	if len(items) == 0 {
		return []models.Candidate{}, nil
	}

	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	var next int
	if err := tx.GetContext(ctx, &next, `
		SELECT COALESCE(MAX(position) + 1, 0) FROM candidates WHERE session_id = $1
	`, sessionID); err != nil {
		return nil, errors.Wrap(err, "next position")
	}

	now := time.Now().UTC()
	for i := range items {
		c := &items[i]
		c.ID = auth.NewID()
		c.SessionID = sessionID
		c.Position = next + i
		c.CreatedAt = now

		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO candidates (id, session_id, source, external_id, title, subtitle, image_url, metadata, position, created_at)
			VALUES (:id, :session_id, :source, :external_id, :title, :subtitle, :image_url, :metadata, :position, :created_at)
		`, c); err != nil {
			return nil, errors.Wrap(err, "insert candidate")
		}
		hydrateCandidate(c)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit")
	}
	return items, nil
}

// providerError maps an outbound failure to 503 (no key), 404 (unknown
// item) or 502
func providerError(w http.ResponseWriter, err error, provider string) {
	if errors.Cause(err) == providers.ErrNotConfigured {
		middleware.ErrorResponse(w, http.StatusServiceUnavailable, provider+" provider is not configured")
		return
	}

	fields := log.Fields{"provider": provider}
	var upstream *providers.UpstreamError
	if errors.As(err, &upstream) {
		if upstream.StatusCode == http.StatusNotFound {
			middleware.ErrorResponse(w, http.StatusNotFound, "Not found")
			return
		}
		fields["upstream_status"] = upstream.StatusCode
	}
	log.WithError(err).WithFields(fields).Error("provider request failed")
	middleware.ErrorResponse(w, http.StatusBadGateway, "Provider request failed")
}
