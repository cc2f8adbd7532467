// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package middleware provides HTTP middleware and helper functions.

# Request Logging

Wrap handlers with request logging:

	r.Get("/health", middleware.WithLogging(handler))

Logs method, path, remote, status and duration_ms through logrus, and
records the request in the Prometheus registry under the chi route pattern.

# Rate Limiting

Proxy endpoints share a per-IP token bucket:

	rl := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst).WithIPSalt(cfg.HostKeySalt)
	r.Get("/places/search", middleware.WithLogging(rl.Limit(handler)))

Requests over the limit get 429 with a Retry-After header. Buckets are keyed
on the connection's address; the router mounts chi's RealIP first only when
TRUST_PROXY is set. Logged IPs are hashed with auth.HashIP.

# CORS Middleware

Enable cross-origin requests for the web client:

	server := http.Server{
		Handler: middleware.CORS(cfg.CORSOrigins)(r),
	}

An empty origin list allows any origin without credentials. Allows methods GET, POST, PUT, DELETE, OPTIONS with headers
Content-Type, Authorization, X-Host-Key, X-Participant-Token,
X-Device-UUID, X-Admin-Token.

# JSON Helpers

	middleware.JSONResponse(w, http.StatusOK, data)
	middleware.ErrorResponse(w, http.StatusBadRequest, "message")

	var req models.JoinSessionRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

# Client IP Extraction

	ip := middleware.GetClientIP(r)

Returns the host of RemoteAddr, IPv6 included. Used as the rate limit key.
*/
package middleware
