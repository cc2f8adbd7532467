// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package usage records outbound provider calls and reports on them.
package usage

import (
	"context"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/danielhkuo/choosing-sucks/auth"
	"github.com/danielhkuo/choosing-sucks/metrics"
	"github.com/danielhkuo/choosing-sucks/models"
)

// Provider names as stored in api_usage
const (
	ProviderGooglePlaces = "google_places"
	ProviderWatchmode    = "watchmode"
	ProviderOpenAI       = "openai"
)

// Call describes one outbound request
type Call struct {
	Provider         string
	Endpoint         string
	StatusCode       int // 0 when no response was received
	Latency          time.Duration
	PromptTokens     int
	CompletionTokens int
	SessionID        string
}

func (c Call) ok() bool {
	return c.StatusCode >= 200 && c.StatusCode < 400
}

// Sink receives outbound call records
type Sink interface {
	Record(ctx context.Context, c Call)
}

// Recorder persists calls to api_usage and mirrors them into metrics
type Recorder struct {
	db *sqlx.DB
}

func NewRecorder(db *sqlx.DB) *Recorder {
	return &Recorder{db: db}
}

// Record stores a call. Failures are logged; usage tracking never fails a request.
func (r *Recorder) Record(ctx context.Context, c Call) {
	metrics.ObserveProvider(c.Provider, c.ok())
	if c.PromptTokens > 0 || c.CompletionTokens > 0 {
		metrics.AddTokens(c.PromptTokens, c.CompletionTokens)
	}

	var sessionID *string
	if c.SessionID != "" {
		sessionID = &c.SessionID
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO api_usage (id, provider, endpoint, status_code, latency_ms, prompt_tokens, completion_tokens, session_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, auth.NewID(), c.Provider, c.Endpoint, c.StatusCode, c.Latency.Milliseconds(),
		c.PromptTokens, c.CompletionTokens, sessionID, time.Now().UTC())
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"provider": c.Provider,
			"endpoint": c.Endpoint,
		}).Error("failed to record api usage")
	}
}

// CountSince returns how many calls a provider made since the given time
func (r *Recorder) CountSince(ctx context.Context, provider string, since time.Time) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM api_usage WHERE provider = $1 AND created_at >= $2
	`, provider, since.UTC())
	if err != nil {
		return 0, errors.Wrapf(err, "count %s usage", provider)
	}
	return n, nil
}

// DailyCount returns how many calls a provider made since midnight UTC
func (r *Recorder) DailyCount(ctx context.Context, provider string) (int, error) {
	now := time.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return r.CountSince(ctx, provider, midnight)
}

type usageRecord struct {
	Provider         string    `db:"provider"`
	StatusCode       int       `db:"status_code"`
	PromptTokens     int       `db:"prompt_tokens"`
	CompletionTokens int       `db:"completion_tokens"`
	CreatedAt        time.Time `db:"created_at"`
}

// Summary aggregates the last n days per provider and UTC day, newest first
func (r *Recorder) Summary(ctx context.Context, days int) ([]models.UsageRow, error) {
	if days < 1 {
		days = 1
	}
	now := time.Now().UTC()
	since := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(days - 1))

	var records []usageRecord
	err := r.db.SelectContext(ctx, &records, `
		SELECT provider, status_code, prompt_tokens, completion_tokens, created_at
		FROM api_usage
		WHERE created_at >= $1
	`, since)
	if err != nil {
		return nil, errors.Wrap(err, "select api usage")
	}

	type key struct{ provider, day string }
	agg := map[key]*models.UsageRow{}
	for _, rec := range records {
		k := key{rec.Provider, rec.CreatedAt.UTC().Format("2006-01-02")}
		row, ok := agg[k]
		if !ok {
			row = &models.UsageRow{Provider: k.provider, Day: k.day}
			agg[k] = row
		}
		row.Calls++
		if !(Call{StatusCode: rec.StatusCode}).ok() {
			row.Errors++
		}
		row.PromptTokens += rec.PromptTokens
		row.CompletionTokens += rec.CompletionTokens
	}

	rows := make([]models.UsageRow, 0, len(agg))
	for _, row := range agg {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Day != rows[j].Day {
			return rows[i].Day > rows[j].Day
		}
		return rows[i].Provider < rows[j].Provider
	})
	return rows, nil
}
