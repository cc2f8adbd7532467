// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/danielhkuo/choosing-sucks/usage"
)

// ErrNotConfigured is returned when a provider has no API key
var ErrNotConfigured = errors.New("provider not configured")

// UpstreamError is a non-retryable failure reported by a provider
type UpstreamError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: upstream status %d: %s", e.Provider, e.StatusCode, e.Message)
}

const maxBodySize = 4 << 20

// Fetcher performs GET requests with retries and usage accounting
type Fetcher struct {
	provider   string
	client     *http.Client
	sink       usage.Sink
	maxRetries uint64
	initial    time.Duration
}

// NewFetcher builds a fetcher. A nil client means a pooled cleanhttp client;
// a nil sink disables usage accounting.
func NewFetcher(provider string, client *http.Client, sink usage.Sink) *Fetcher {
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
		client.Timeout = 15 * time.Second
	}
	return &Fetcher{
		provider:   provider,
		client:     client,
		sink:       sink,
		maxRetries: 3,
		initial:    250 * time.Millisecond,
	}
}

// WithRetries overrides the retry budget
func (f *Fetcher) WithRetries(max uint64, initial time.Duration) *Fetcher {
	f.maxRetries = max
	f.initial = initial
	return f
}

// Get fetches rawURL and returns the body of a 2xx response. Network errors,
// 429 and 5xx responses are retried with exponential backoff.
func (f *Fetcher) Get(ctx context.Context, endpoint, rawURL string) ([]byte, error) {
	var body []byte

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return backoff.Permanent(errors.Wrap(err, "build request"))
		}
		req.Header.Set("Accept", "application/json")

		start := time.Now()
		resp, err := f.client.Do(req)
		call := usage.Call{
			Provider:  f.provider,
			Endpoint:  endpoint,
			Latency:   time.Since(start),
			SessionID: SessionIDFrom(ctx),
		}
		if err != nil {
			f.record(ctx, call)
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return errors.Wrapf(err, "%s %s", f.provider, endpoint)
		}
		defer resp.Body.Close()

		call.StatusCode = resp.StatusCode
		f.record(ctx, call)

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return errors.Wrap(err, "read body")
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return &UpstreamError{Provider: f.provider, StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		case resp.StatusCode >= 400:
			return backoff.Permanent(&UpstreamError{Provider: f.provider, StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)})
		}

		body = data
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.initial
	b.MaxElapsedTime = 0

	notify := func(err error, wait time.Duration) {
		log.WithError(err).WithFields(log.Fields{
			"provider": f.provider,
			"endpoint": endpoint,
			"wait_ms":  wait.Milliseconds(),
		}).Warn("retrying provider call")
	}

	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, f.maxRetries), ctx), notify)
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (f *Fetcher) record(ctx context.Context, c usage.Call) {
	if f.sink == nil {
		return
	}
	// Usage is recorded even when the caller's context is cancelled
	f.sink.Record(context.WithoutCancel(ctx), c)
}

type sessionKey struct{}

// WithSessionID tags outbound calls made with ctx with a session id
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionIDFrom returns the session id set by WithSessionID
func SessionIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}
