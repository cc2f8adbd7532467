// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/danielhkuo/choosing-sucks/providers/llm"
	"github.com/danielhkuo/choosing-sucks/providers/places"
	"github.com/danielhkuo/choosing-sucks/providers/watchmode"
	"github.com/danielhkuo/choosing-sucks/testutil"
)

type sentEvent struct {
	SessionID string
	Type      string
	Payload   interface{}
}

// captureHub records broadcasts instead of sending them
type captureHub struct {
	mu     sync.Mutex
	events []sentEvent
}

func (c *captureHub) Broadcast(sessionID, eventType string, payload interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, sentEvent{SessionID: sessionID, Type: eventType, Payload: payload})
}

func (c *captureHub) count(eventType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type fakePlaces struct {
	results []places.Place
	err     error
	calls   int
	last    places.SearchParams
}

func (f *fakePlaces) Search(_ context.Context, p places.SearchParams) ([]places.Place, error) {
	f.calls++
	f.last = p
	return f.results, f.err
}

func (f *fakePlaces) Details(_ context.Context, placeID string) (*places.Place, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, p := range f.results {
		if p.ID == placeID {
			p := p
			return &p, nil
		}
	}
	return &places.Place{ID: placeID}, nil
}

type fakeTitles struct {
	results []watchmode.Title
	err     error
	last    watchmode.ListParams
}

func (f *fakeTitles) Search(_ context.Context, p watchmode.ListParams) ([]watchmode.Title, error) {
	f.last = p
	return f.results, f.err
}

func (f *fakeTitles) Details(_ context.Context, titleID int) (*watchmode.Title, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &watchmode.Title{ID: titleID, Title: "Title"}, nil
}

type fakeOptions struct {
	result llm.Result
	prompt string
}

func (f *fakeOptions) GenerateOptions(_ context.Context, prompt, _ string, count int) llm.Result {
	f.prompt = prompt
	if f.result.Options == nil {
		return llm.Result{Options: llm.FallbackOptions(count), Fallback: true, Reason: llm.ReasonNotConfigured}
	}
	return f.result
}

// serve runs a handler with path values set the way the router sets them
func serve(h http.HandlerFunc, method, path string, body interface{}, headers map[string]string, pathValues map[string]string) *httptest.ResponseRecorder {
	req := testutil.MakeRequest(method, path, body, headers)
	for k, v := range pathValues {
		req.SetPathValue(k, v)
	}
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func hostHeaders(hostKey string) map[string]string {
	return map[string]string{"X-Host-Key": hostKey}
}

func participantHeaders(token string) map[string]string {
	return map[string]string{"X-Participant-Token": token}
}

func boolPtr(b bool) *bool { return &b }
