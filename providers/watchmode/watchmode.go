// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package watchmode is a client for the Watchmode v1 streaming catalog API.
package watchmode

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
	"golang.org/x/sync/errgroup"

	"github.com/danielhkuo/choosing-sucks/providers"
	"github.com/danielhkuo/choosing-sucks/usage"
)

const (
	DefaultBaseURL = "https://api.watchmode.com/v1"
	DefaultLimit   = 20
	MaxLimit       = 50

	detailWorkers = 4
)

// TitleSummary is one row of list-titles
type TitleSummary struct {
	ID     int    `json:"id"`
	Title  string `json:"title"`
	Year   int    `json:"year"`
	Type   string `json:"type"`
	IMDbID string `json:"imdb_id,omitempty"`
}

// Source is a streaming service offering a title
type Source struct {
	SourceID int    `json:"source_id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Region   string `json:"region"`
	WebURL   string `json:"web_url,omitempty"`
	Format   string `json:"format,omitempty"`
}

// Title is a title with details and sources
type Title struct {
	ID           int      `json:"id"`
	Title        string   `json:"title"`
	Type         string   `json:"type"`
	Year         int      `json:"year"`
	Plot         string   `json:"plot_overview"`
	Runtime      int      `json:"runtime_minutes"`
	Genres       []string `json:"genre_names"`
	UserRating   float64  `json:"user_rating"`
	CriticScore  int      `json:"critic_score"`
	Poster       string   `json:"poster"`
	Backdrop     string   `json:"backdrop,omitempty"`
	ContentRated string   `json:"us_rating,omitempty"`
	Sources      []Source `json:"sources"`
}

// ListParams filters list-titles
type ListParams struct {
	Types     []string // movie, tv_series, ...
	Genres    []int
	SourceIDs []int
	SortBy    string
	Page      int
	Limit     int
}

func (p ListParams) normalized() ListParams {
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.SortBy == "" {
		p.SortBy = "popularity_desc"
	}
	return p
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
		fetch:   providers.NewFetcher(usage.ProviderWatchmode, httpClient, sink),
		cache:   cache.New(cacheTTL, 2*cacheTTL),
	}
}

func (c *Client) WithBaseURL(u string) *Client {
	c.baseURL = strings.TrimRight(u, "/")
	return c
}

func (c *Client) WithRetries(max uint64, initial time.Duration) *Client {
	c.fetch.WithRetries(max, initial)
	return c
}

func (c *Client) Configured() bool {
	return c.key != ""
}

// ListTitles returns catalog titles matching the filters
func (c *Client) ListTitles(ctx context.Context, p ListParams) ([]TitleSummary, error) {
	if !c.Configured() {
		return nil, providers.ErrNotConfigured
	}
	p = p.normalized()

	q := url.Values{}
	q.Set("apiKey", c.key)
	q.Set("sort_by", p.SortBy)
	q.Set("page", strconv.Itoa(p.Page))
	q.Set("limit", strconv.Itoa(p.Limit))
	if len(p.Types) > 0 {
		q.Set("types", strings.Join(p.Types, ","))
	}
	if len(p.Genres) > 0 {
		q.Set("genres", joinInts(p.Genres))
	}
	if len(p.SourceIDs) > 0 {
		q.Set("source_ids", joinInts(p.SourceIDs))
	}

	key := "list|" + q.Encode()
	if cached, ok := c.cache.Get(key); ok {
		return cached.([]TitleSummary), nil
	}

	body, err := c.fetch.Get(ctx, "list-titles", c.baseURL+"/list-titles/?"+q.Encode())
	if err != nil {
		return nil, err
	}

	titles := []TitleSummary{}
	gjson.GetBytes(body, "titles").ForEach(func(_, t gjson.Result) bool {
		titles = append(titles, TitleSummary{
			ID:     int(t.Get("id").Int()),
			Title:  t.Get("title").String(),
			Year:   int(t.Get("year").Int()),
			Type:   t.Get("type").String(),
			IMDbID: t.Get("imdb_id").String(),
		})
		return true
	})

	c.cache.SetDefault(key, titles)
	return titles, nil
}

// Details returns one title with its streaming sources
func (c *Client) Details(ctx context.Context, titleID int) (*Title, error) {
	if !c.Configured() {
		return nil, providers.ErrNotConfigured
	}

	key := "title|" + strconv.Itoa(titleID)
	if cached, ok := c.cache.Get(key); ok {
		t := cached.(Title)
		return &t, nil
	}

	q := url.Values{}
	q.Set("apiKey", c.key)
	q.Set("append_to_response", "sources")

	body, err := c.fetch.Get(ctx, "title-details", fmt.Sprintf("%s/title/%d/details/?%s", c.baseURL, titleID, q.Encode()))
	if err != nil {
		return nil, err
	}

	doc := gjson.ParseBytes(body)
	if msg := doc.Get("statusMessage").String(); msg != "" && !doc.Get("id").Exists() {
		return nil, &providers.UpstreamError{Provider: usage.ProviderWatchmode, StatusCode: http.StatusNotFound, Message: msg}
	}

	t := parseTitle(doc)
	c.cache.SetDefault(key, t)
	return &t, nil
}

// Search lists titles and fetches details for each one concurrently.
// Titles whose details fail are returned with summary fields only.
func (c *Client) Search(ctx context.Context, p ListParams) ([]Title, error) {
	summaries, err := c.ListTitles(ctx, p)
	if err != nil {
		return nil, err
	}

	titles := make([]Title, len(summaries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(detailWorkers)
	for i, s := range summaries {
		i, s := i, s
		g.Go(func() error {
			d, err := c.Details(gctx, s.ID)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				titles[i] = Title{ID: s.ID, Title: s.Title, Type: s.Type, Year: s.Year, Genres: []string{}, Sources: []Source{}}
				return nil
			}
			titles[i] = *d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return titles, nil
}

func parseTitle(doc gjson.Result) Title {
	t := Title{
		ID:           int(doc.Get("id").Int()),
		Title:        doc.Get("title").String(),
		Type:         doc.Get("type").String(),
		Year:         int(doc.Get("year").Int()),
		Plot:         doc.Get("plot_overview").String(),
		Runtime:      int(doc.Get("runtime_minutes").Int()),
		UserRating:   doc.Get("user_rating").Float(),
		CriticScore:  int(doc.Get("critic_score").Int()),
		Poster:       doc.Get("poster").String(),
		Backdrop:     doc.Get("backdrop").String(),
		ContentRated: doc.Get("us_rating").String(),
		Genres:       []string{},
		Sources:      []Source{},
	}
	doc.Get("genre_names").ForEach(func(_, g gjson.Result) bool {
		t.Genres = append(t.Genres, g.String())
		return true
	})

	// The same service appears once per format; keep the first
	seen := map[int]bool{}
	doc.Get("sources").ForEach(func(_, s gjson.Result) bool {
		id := int(s.Get("source_id").Int())
		if seen[id] {
			return true
		}
		seen[id] = true
		t.Sources = append(t.Sources, Source{
			SourceID: id,
			Name:     s.Get("name").String(),
			Type:     s.Get("type").String(),
			Region:   s.Get("region").String(),
			WebURL:   s.Get("web_url").String(),
			Format:   s.Get("format").String(),
		})
		return true
	})
	return t
}

func joinInts(vals []int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
