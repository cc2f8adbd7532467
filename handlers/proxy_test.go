// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielhkuo/choosing-sucks/models"
	"github.com/danielhkuo/choosing-sucks/providers"
	"github.com/danielhkuo/choosing-sucks/providers/llm"
	"github.com/danielhkuo/choosing-sucks/providers/places"
	"github.com/danielhkuo/choosing-sucks/providers/watchmode"
	"github.com/danielhkuo/choosing-sucks/testutil"
)

func TestSearchPlaces(t *testing.T) {
	cfg := testutil.GetTestConfig()

	tests := []struct {
		name           string
		url            string
		expectedStatus int
		check          func(t *testing.T, p places.SearchParams)
	}{
		{
			name:           "all filters",
			url:            "/places/search?query=ramen&location=40.7,-74.0&radius=1500&min_price=1&max_price=3&min_rating=4.2&open_now=true&strict_price=true",
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, p places.SearchParams) {
				assert.Equal(t, "ramen", p.Query)
				assert.Equal(t, "40.7,-74.0", p.Location)
				assert.Equal(t, 1500, p.Radius)
				require.NotNil(t, p.MinPrice)
				assert.Equal(t, 1, *p.MinPrice)
				require.NotNil(t, p.MaxPrice)
				assert.Equal(t, 3, *p.MaxPrice)
				assert.InDelta(t, 4.2, p.MinRating, 0.001)
				assert.True(t, p.OpenNow)
				assert.True(t, p.StrictPrice)
			},
		},
		{
			name:           "price bounds are optional",
			url:            "/places/search?query=ramen",
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, p places.SearchParams) {
				assert.Nil(t, p.MinPrice)
				assert.Nil(t, p.MaxPrice)
				assert.False(t, p.OpenNow)
			},
		},
		{"missing query", "/places/search", http.StatusBadRequest, nil},
		{"bad radius", "/places/search?query=x&radius=far", http.StatusBadRequest, nil},
		{"bad price", "/places/search?query=x&min_price=cheap", http.StatusBadRequest, nil},
		{"bad rating", "/places/search?query=x&min_rating=good", http.StatusBadRequest, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakePlaces{results: []places.Place{{ID: "p1", Name: "Ichiran"}}}
			handler := NewProxyHandler(cfg, Providers{Places: fake})

			w := serve(handler.SearchPlaces, "GET", tt.url, nil, nil, nil)
			testutil.AssertStatus(t, w, tt.expectedStatus)
			if tt.check != nil {
				tt.check(t, fake.last)
			}
		})
	}
}

func TestGetPlace(t *testing.T) {
	cfg := testutil.GetTestConfig()

	handler := NewProxyHandler(cfg, Providers{Places: &fakePlaces{results: []places.Place{{ID: "p1", Name: "Ichiran"}}}})
	w := serve(handler.GetPlace, "GET", "/places/p1", nil, nil, map[string]string{"placeID": "p1"})
	testutil.AssertStatus(t, w, http.StatusOK)
	var place places.Place
	testutil.AssertJSON(t, w, &place)
	assert.Equal(t, "Ichiran", place.Name)

	handler = NewProxyHandler(cfg, Providers{Places: &fakePlaces{err: &providers.UpstreamError{StatusCode: http.StatusNotFound}}})
	w = serve(handler.GetPlace, "GET", "/places/gone", nil, nil, map[string]string{"placeID": "gone"})
	testutil.AssertStatus(t, w, http.StatusNotFound)
}

func TestSearchTitles(t *testing.T) {
	cfg := testutil.GetTestConfig()

	t.Run("lists are parsed", func(t *testing.T) {
		fake := &fakeTitles{results: []watchmode.Title{{ID: 1, Title: "Heat"}}}
		handler := NewProxyHandler(cfg, Providers{Titles: fake})

		w := serve(handler.SearchTitles, "GET", "/titles/search?types=movie,%20tv_series&genres=1,4&source_ids=203&page=2&limit=5", nil, nil, nil)
		testutil.AssertStatus(t, w, http.StatusOK)
		assert.Equal(t, []string{"movie", "tv_series"}, fake.last.Types)
		assert.Equal(t, []int{1, 4}, fake.last.Genres)
		assert.Equal(t, []int{203}, fake.last.SourceIDs)
		assert.Equal(t, 2, fake.last.Page)
		assert.Equal(t, 5, fake.last.Limit)
	})

	t.Run("bad genre", func(t *testing.T) {
		handler := NewProxyHandler(cfg, Providers{Titles: &fakeTitles{}})
		w := serve(handler.SearchTitles, "GET", "/titles/search?genres=drama", nil, nil, nil)
		testutil.AssertStatus(t, w, http.StatusBadRequest)
	})

	t.Run("not configured", func(t *testing.T) {
		handler := NewProxyHandler(cfg, Providers{Titles: &fakeTitles{err: providers.ErrNotConfigured}})
		w := serve(handler.SearchTitles, "GET", "/titles/search", nil, nil, nil)
		testutil.AssertStatus(t, w, http.StatusServiceUnavailable)
	})
}

func TestGetTitle(t *testing.T) {
	handler := NewProxyHandler(testutil.GetTestConfig(), Providers{Titles: &fakeTitles{}})

	tests := []struct {
		id             string
		expectedStatus int
	}{
		{"101", http.StatusOK},
		{"0", http.StatusBadRequest},
		{"-4", http.StatusBadRequest},
		{"heat", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			w := serve(handler.GetTitle, "GET", "/titles/"+tt.id, nil, nil, map[string]string{"titleID": tt.id})
			testutil.AssertStatus(t, w, tt.expectedStatus)
		})
	}
}

func TestGenerateOptions(t *testing.T) {
	cfg := testutil.GetTestConfig()

	t.Run("generated", func(t *testing.T) {
		fake := &fakeOptions{result: llm.Result{Options: []string{"Hike", "Museum"}}}
		handler := NewProxyHandler(cfg, Providers{Options: fake})

		w := serve(handler.GenerateOptions, "POST", "/ai/options", models.GenerateOptionsRequest{Prompt: "saturday", Count: 2}, nil, nil)
		testutil.AssertStatus(t, w, http.StatusOK)
		var resp models.GenerateOptionsResponse
		testutil.AssertJSON(t, w, &resp)
		assert.Equal(t, []string{"Hike", "Museum"}, resp.Options)
		assert.False(t, resp.Fallback)
	})

	t.Run("fallback is still 200", func(t *testing.T) {
		handler := NewProxyHandler(cfg, Providers{Options: &fakeOptions{}})

		w := serve(handler.GenerateOptions, "POST", "/ai/options", models.GenerateOptionsRequest{ImageURL: "https://img/menu.jpg", Count: 4}, nil, nil)
		testutil.AssertStatus(t, w, http.StatusOK)
		var resp models.GenerateOptionsResponse
		testutil.AssertJSON(t, w, &resp)
		assert.True(t, resp.Fallback)
		assert.Len(t, resp.Options, 4)
	})

	t.Run("prompt or image required", func(t *testing.T) {
		handler := NewProxyHandler(cfg, Providers{Options: &fakeOptions{}})
		w := serve(handler.GenerateOptions, "POST", "/ai/options", models.GenerateOptionsRequest{Count: 3}, nil, nil)
		testutil.AssertStatus(t, w, http.StatusBadRequest)
	})
}
