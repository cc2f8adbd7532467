// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielhkuo/choosing-sucks/auth"
)

func TestRateLimiter_BlocksAfterBurst(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	handler := rl.Limit(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/places/search", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		handler(w, req)
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRateLimiter_SeparateBucketsPerIP(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	handler := rl.Limit(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for _, ip := range []string{"10.0.0.1:1", "10.0.0.2:1", "10.0.0.3:1"} {
		req := httptest.NewRequest("GET", "/titles/search", nil)
		req.RemoteAddr = ip
		w := httptest.NewRecorder()
		handler(w, req)
		assert.Equal(t, http.StatusOK, w.Code, "first request from %s", ip)
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.getLimiter("a")
	rl.getLimiter("b")

	assert.Equal(t, 0, rl.Cleanup(time.Hour))
	assert.Equal(t, 2, rl.Cleanup(-time.Second))
	assert.Empty(t, rl.limiters)
}

func TestRateLimiter_IgnoresForwardedFor(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	handler := rl.Limit(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	limited := 0
	for i := 0; i < 20; i++ {
		req := httptest.NewRequest("GET", "/ai/options", nil)
		req.RemoteAddr = "203.0.113.7:4000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		w := httptest.NewRecorder()
		handler(w, req)
		if w.Code == http.StatusTooManyRequests {
			limited++
		}
	}

	assert.Equal(t, 19, limited, "a rotating X-Forwarded-For shares one bucket")
}

func TestRateLimiter_LogsHashedIP(t *testing.T) {
	hook := logtest.NewGlobal()
	t.Cleanup(hook.Reset)

	rl := NewRateLimiter(1, 1).WithIPSalt("salt")
	handler := rl.Limit(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/places/search", nil)
		req.RemoteAddr = "203.0.113.7:4000"
		handler(httptest.NewRecorder(), req)
	}

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "rate limit exceeded", entry.Message)
	assert.Equal(t, auth.HashIP("203.0.113.7", "salt"), entry.Data["ip_hash"])
	assert.NotContains(t, entry.Data, "ip")
}
