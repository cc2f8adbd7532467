// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package places is a client for the Google Places Text Search and Details APIs.
package places

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/tidwall/gjson"

	"github.com/danielhkuo/choosing-sucks/providers"
	"github.com/danielhkuo/choosing-sucks/usage"
)

const DefaultBaseURL = "https://maps.googleapis.com/maps/api/place"

// Place is a normalized Google Places result
type Place struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Address          string   `json:"address"`
	Rating           float64  `json:"rating"`
	UserRatingsTotal int      `json:"user_ratings_total"`
	PriceLevel       *int     `json:"price_level,omitempty"`
	PhotoReference   string   `json:"photo_reference,omitempty"`
	Lat              float64  `json:"lat"`
	Lng              float64  `json:"lng"`
	OpenNow          *bool    `json:"open_now,omitempty"`
	Types            []string `json:"types"`
	Phone            string   `json:"phone,omitempty"`
	Website          string   `json:"website,omitempty"`
}

// SearchParams filters a text search
type SearchParams struct {
	Query       string
	Location    string // "lat,lng"
	Radius      int    // meters
	MinPrice    *int
	MaxPrice    *int
	OpenNow     bool
	MinRating   float64
	StrictPrice bool
}

func (p SearchParams) cacheKey() string {
	return fmt.Sprintf("search|%s|%s|%d|%s|%s|%t|%g|%t",
		strings.ToLower(strings.TrimSpace(p.Query)), p.Location, p.Radius,
		intKey(p.MinPrice), intKey(p.MaxPrice), p.OpenNow, p.MinRating, p.StrictPrice)
}

func intKey(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}

type Client struct {
	key     string
	baseURL string
	fetch   *providers.Fetcher
	cache   *cache.Cache
}

// New builds a client. An empty key leaves the client unconfigured.
func New(key string, httpClient *http.Client, cacheTTL time.Duration, sink usage.Sink) *Client {
	return &Client{
		key:     key,
		baseURL: DefaultBaseURL,
		fetch:   providers.NewFetcher(usage.ProviderGooglePlaces, httpClient, sink),
		cache:   cache.New(cacheTTL, 2*cacheTTL),
	}
}

func (c *Client) WithBaseURL(u string) *Client {
	c.baseURL = strings.TrimRight(u, "/")
	return c
}

// WithRetries adjusts the retry budget of outbound calls
func (c *Client) WithRetries(max uint64, initial time.Duration) *Client {
	c.fetch.WithRetries(max, initial)
	return c
}

func (c *Client) Configured() bool {
	return c.key != ""
}

// Search runs a text search and applies the price and rating filters
func (c *Client) Search(ctx context.Context, p SearchParams) ([]Place, error) {
	if !c.Configured() {
		return nil, providers.ErrNotConfigured
	}
	if strings.TrimSpace(p.Query) == "" {
		return nil, fmt.Errorf("query is required")
	}

	key := p.cacheKey()
	if cached, ok := c.cache.Get(key); ok {
		return cached.([]Place), nil
	}

	q := url.Values{}
	q.Set("query", p.Query)
	q.Set("key", c.key)
	if p.Location != "" {
		q.Set("location", p.Location)
	}
	if p.Radius > 0 {
		q.Set("radius", strconv.Itoa(p.Radius))
	}
	if p.MinPrice != nil {
		q.Set("minprice", strconv.Itoa(*p.MinPrice))
	}
	if p.MaxPrice != nil {
		q.Set("maxprice", strconv.Itoa(*p.MaxPrice))
	}
	if p.OpenNow {
		q.Set("opennow", "true")
	}

	body, err := c.fetch.Get(ctx, "textsearch", c.baseURL+"/textsearch/json?"+q.Encode())
	if err != nil {
		return nil, err
	}

	doc := gjson.ParseBytes(body)
	if err := checkStatus(doc); err != nil {
		return nil, err
	}

	results := []Place{}
	doc.Get("results").ForEach(func(_, r gjson.Result) bool {
		results = append(results, parsePlace(r))
		return true
	})

	results = FilterByPrice(results, p.MinPrice, p.MaxPrice, p.StrictPrice)
	results = FilterByRating(results, p.MinRating)

	c.cache.SetDefault(key, results)
	return results, nil
}

// Details fetches one place
func (c *Client) Details(ctx context.Context, placeID string) (*Place, error) {
	if !c.Configured() {
		return nil, providers.ErrNotConfigured
	}

	key := "details|" + placeID
	if cached, ok := c.cache.Get(key); ok {
		p := cached.(Place)
		return &p, nil
	}

	q := url.Values{}
	q.Set("place_id", placeID)
	q.Set("key", c.key)
	q.Set("fields", "place_id,name,formatted_address,rating,user_ratings_total,price_level,photos,geometry,opening_hours,types,formatted_phone_number,website")

	body, err := c.fetch.Get(ctx, "details", c.baseURL+"/details/json?"+q.Encode())
	if err != nil {
		return nil, err
	}

	doc := gjson.ParseBytes(body)
	if err := checkStatus(doc); err != nil {
		return nil, err
	}
	if !doc.Get("result").Exists() {
		return nil, &providers.UpstreamError{Provider: usage.ProviderGooglePlaces, StatusCode: http.StatusNotFound, Message: "NOT_FOUND"}
	}

	p := parsePlace(doc.Get("result"))
	c.cache.SetDefault(key, p)
	return &p, nil
}

func checkStatus(doc gjson.Result) error {
	status := doc.Get("status").String()
	switch status {
	case "OK", "ZERO_RESULTS":
		return nil
	case "NOT_FOUND", "INVALID_REQUEST":
		code := http.StatusBadRequest
		if status == "NOT_FOUND" {
			code = http.StatusNotFound
		}
		return &providers.UpstreamError{Provider: usage.ProviderGooglePlaces, StatusCode: code, Message: status}
	}
	msg := status
	if em := doc.Get("error_message").String(); em != "" {
		msg += ": " + em
	}
	return &providers.UpstreamError{Provider: usage.ProviderGooglePlaces, StatusCode: http.StatusBadGateway, Message: msg}
}

func parsePlace(r gjson.Result) Place {
	p := Place{
		ID:               r.Get("place_id").String(),
		Name:             r.Get("name").String(),
		Address:          r.Get("formatted_address").String(),
		Rating:           r.Get("rating").Float(),
		UserRatingsTotal: int(r.Get("user_ratings_total").Int()),
		PhotoReference:   r.Get("photos.0.photo_reference").String(),
		Lat:              r.Get("geometry.location.lat").Float(),
		Lng:              r.Get("geometry.location.lng").Float(),
		Phone:            r.Get("formatted_phone_number").String(),
		Website:          r.Get("website").String(),
		Types:            []string{},
	}
	if pl := r.Get("price_level"); pl.Exists() {
		v := int(pl.Int())
		p.PriceLevel = &v
	}
	if on := r.Get("opening_hours.open_now"); on.Exists() {
		v := on.Bool()
		p.OpenNow = &v
	}
	r.Get("types").ForEach(func(_, t gjson.Result) bool {
		p.Types = append(p.Types, t.String())
		return true
	})
	return p
}

// FilterByPrice keeps places whose price level lies within [min, max].
// Places without a price level are kept unless strict is set.
func FilterByPrice(places []Place, min, max *int, strict bool) []Place {
	if min == nil && max == nil {
		return places
	}
	out := make([]Place, 0, len(places))
	for _, p := range places {
		if p.PriceLevel == nil {
			if !strict {
				out = append(out, p)
			}
			continue
		}
		if min != nil && *p.PriceLevel < *min {
			continue
		}
		if max != nil && *p.PriceLevel > *max {
			continue
		}
		out = append(out, p)
	}
	return out
}

// FilterByRating drops places rated below min. Unrated places are kept.
func FilterByRating(places []Place, min float64) []Place {
	if min <= 0 {
		return places
	}
	out := make([]Place, 0, len(places))
	for _, p := range places {
		if p.Rating == 0 || p.Rating >= min {
			out = append(out, p)
		}
	}
	return out
}
