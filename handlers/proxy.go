// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/danielhkuo/choosing-sucks/cliparse"
	"github.com/danielhkuo/choosing-sucks/middleware"
	"github.com/danielhkuo/choosing-sucks/models"
	"github.com/danielhkuo/choosing-sucks/providers/places"
	"github.com/danielhkuo/choosing-sucks/providers/watchmode"
	"github.com/danielhkuo/choosing-sucks/usage"
)

// ProxyHandler exposes the provider integrations directly to clients
type ProxyHandler struct {
	cfg       cliparse.Config
	providers Providers
}

func NewProxyHandler(cfg cliparse.Config, p Providers) *ProxyHandler {
	return &ProxyHandler{cfg: cfg, providers: p}
}

// SearchPlaces handles GET /places/search
func (h *ProxyHandler) SearchPlaces(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := places.SearchParams{
		Query:       strings.TrimSpace(q.Get("query")),
		Location:    q.Get("location"),
		OpenNow:     q.Get("open_now") == "true",
		StrictPrice: q.Get("strict_price") == "true",
	}
	if params.Query == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "query is required")
		return
	}

	var err error
	if params.Radius, err = intParam(q.Get("radius"), 0); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "radius must be an integer")
		return
	}
	if params.MinPrice, err = optionalIntParam(q.Get("min_price")); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "min_price must be an integer")
		return
	}
	if params.MaxPrice, err = optionalIntParam(q.Get("max_price")); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "max_price must be an integer")
		return
	}
	if v := q.Get("min_rating"); v != "" {
		if params.MinRating, err = strconv.ParseFloat(v, 64); err != nil {
			middleware.ErrorResponse(w, http.StatusBadRequest, "min_rating must be a number")
			return
		}
	}

	results, err := h.providers.Places.Search(r.Context(), params)
	if err != nil {
		providerError(w, err, usage.ProviderGooglePlaces)
		return
	}

	middleware.JSONResponse(w, http.StatusOK, map[string]interface{}{"results": results})
}

// GetPlace handles GET /places/{placeID}
func (h *ProxyHandler) GetPlace(w http.ResponseWriter, r *http.Request) {
	placeID := r.PathValue("placeID")
	if placeID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "place_id is required")
		return
	}

	place, err := h.providers.Places.Details(r.Context(), placeID)
	if err != nil {
		providerError(w, err, usage.ProviderGooglePlaces)
		return
	}

	middleware.JSONResponse(w, http.StatusOK, place)
}

// SearchTitles handles GET /titles/search
func (h *ProxyHandler) SearchTitles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := watchmode.ListParams{
		Types:  stringList(q.Get("types")),
		SortBy: q.Get("sort_by"),
	}

	var err error
	if params.Genres, err = intList(q.Get("genres")); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "genres must be comma-separated integers")
		return
	}
	if params.SourceIDs, err = intList(q.Get("source_ids")); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "source_ids must be comma-separated integers")
		return
	}
	if params.Page, err = intParam(q.Get("page"), 1); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "page must be an integer")
		return
	}
	if params.Limit, err = intParam(q.Get("limit"), 0); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "limit must be an integer")
		return
	}

	results, err := h.providers.Titles.Search(r.Context(), params)
	if err != nil {
		providerError(w, err, usage.ProviderWatchmode)
		return
	}

	middleware.JSONResponse(w, http.StatusOK, map[string]interface{}{"results": results})
}

// GetTitle handles GET /titles/{titleID}
func (h *ProxyHandler) GetTitle(w http.ResponseWriter, r *http.Request) {
	titleID, err := strconv.Atoi(r.PathValue("titleID"))
	if err != nil || titleID <= 0 {
		middleware.ErrorResponse(w, http.StatusBadRequest, "title_id must be a positive integer")
		return
	}

	title, err := h.providers.Titles.Details(r.Context(), titleID)
	if err != nil {
		providerError(w, err, usage.ProviderWatchmode)
		return
	}

	middleware.JSONResponse(w, http.StatusOK, title)
}

// GenerateOptions handles POST /ai/options
// Always answers 200; failures come back as the static fallback list
func (h *ProxyHandler) GenerateOptions(w http.ResponseWriter, r *http.Request) {
	var req models.GenerateOptionsRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" && strings.TrimSpace(req.ImageURL) == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "prompt or image_url is required")
		return
	}

	res := h.providers.Options.GenerateOptions(r.Context(), req.Prompt, req.ImageURL, req.Count)

	middleware.JSONResponse(w, http.StatusOK, models.GenerateOptionsResponse{
		Options:  res.Options,
		Fallback: res.Fallback,
	})
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func optionalIntParam(v string) (*int, error) {
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func stringList(v string) []string {
	out := []string{}
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func intList(v string) ([]int, error) {
	out := []int{}
	for _, part := range stringList(v) {
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
