// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"

	"github.com/danielhkuo/choosing-sucks/cliparse"
	"github.com/danielhkuo/choosing-sucks/handlers"
	"github.com/danielhkuo/choosing-sucks/metrics"
	"github.com/danielhkuo/choosing-sucks/middleware"
	"github.com/danielhkuo/choosing-sucks/realtime"
)

// Hub is the realtime fan-out the handlers publish to and clients subscribe on
type Hub interface {
	realtime.Broadcaster
	handlers.RoomServer
}

// Deps carries everything the routes need
type Deps struct {
	DB        *sqlx.DB
	Config    cliparse.Config
	Hub       Hub
	Providers handlers.Providers
	Usage     handlers.UsageReporter
	Limiter   *middleware.RateLimiter
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	if d.Config.TrustProxy {
		r.Use(chimw.RealIP)
	}

	limiter := d.Limiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(d.Config.RateLimitRPS, d.Config.RateLimitBurst).WithIPSalt(d.Config.HostKeySalt)
	}

	// Initialize handlers
	sessionHandler := handlers.NewSessionHandler(d.DB, d.Config, d.Hub)
	participantHandler := handlers.NewParticipantHandler(d.DB, d.Config, d.Hub)
	candidateHandler := handlers.NewCandidateHandler(d.DB, d.Config, d.Hub, d.Providers)
	swipeHandler := handlers.NewSwipeHandler(d.DB, d.Config, d.Hub)
	tiebreakHandler := handlers.NewTiebreakHandler(d.DB, d.Config, d.Hub)
	resultsHandler := handlers.NewResultsHandler(d.DB, d.Config)
	proxyHandler := handlers.NewProxyHandler(d.Config, d.Providers)
	usageHandler := handlers.NewUsageHandler(d.Config, d.Usage)
	realtimeHandler := handlers.NewRealtimeHandler(d.DB, d.Hub)
	deviceHandler := handlers.NewDeviceHandler(d.DB, d.Config)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Session management (host operations, X-Host-Key)
	r.Post("/sessions", middleware.WithLogging(sessionHandler.CreateSession))
	r.Get("/sessions/{id}/host", middleware.WithLogging(sessionHandler.GetHostView))
	r.Post("/sessions/{id}/start", middleware.WithLogging(sessionHandler.StartSession))
	r.Post("/sessions/{id}/decide", middleware.WithLogging(sessionHandler.Decide))
	r.Post("/sessions/{id}/tiebreak", middleware.WithLogging(tiebreakHandler.ForceTiebreak))
	r.Post("/sessions/{id}/candidates", middleware.WithLogging(candidateHandler.AddCandidate))
	r.Delete("/sessions/{id}/candidates/{candidateID}", middleware.WithLogging(candidateHandler.RemoveCandidate))
	r.Post("/sessions/{id}/candidates/load", middleware.WithLogging(limiter.Limit(candidateHandler.LoadCandidates)))

	// Participant operations (join code, X-Participant-Token)
	r.Get("/sessions/{code}", middleware.WithLogging(sessionHandler.GetSession))
	r.Get("/sessions/{code}/status", middleware.WithLogging(sessionHandler.GetStatus))
	r.Post("/sessions/{code}/join", middleware.WithLogging(participantHandler.Join))
	r.Post("/sessions/{code}/swipes", middleware.WithLogging(swipeHandler.RecordSwipe))
	r.Post("/sessions/{code}/done", middleware.WithLogging(swipeHandler.Done))
	r.Get("/sessions/{code}/my-swipes", middleware.WithLogging(swipeHandler.MySwipes))
	r.Get("/sessions/{code}/matches", middleware.WithLogging(swipeHandler.Matches))
	r.Get("/sessions/{code}/rps", middleware.WithLogging(tiebreakHandler.GetGame))
	r.Post("/sessions/{code}/rps/moves", middleware.WithLogging(tiebreakHandler.Move))
	r.Post("/sessions/{code}/pick", middleware.WithLogging(tiebreakHandler.Pick))
	r.Get("/sessions/{code}/ws", middleware.WithLogging(realtimeHandler.Subscribe))

	// Results (public)
	r.Get("/sessions/{code}/result", middleware.WithLogging(resultsHandler.GetResult))
	r.Get("/sessions/{code}/preview", middleware.WithLogging(resultsHandler.GetPreview))

	// Provider passthrough (rate limited per IP)
	r.Get("/places/search", middleware.WithLogging(limiter.Limit(proxyHandler.SearchPlaces)))
	r.Get("/places/{placeID}", middleware.WithLogging(limiter.Limit(proxyHandler.GetPlace)))
	r.Get("/titles/search", middleware.WithLogging(limiter.Limit(proxyHandler.SearchTitles)))
	r.Get("/titles/{titleID}", middleware.WithLogging(limiter.Limit(proxyHandler.GetTitle)))
	r.Post("/ai/options", middleware.WithLogging(limiter.Limit(proxyHandler.GenerateOptions)))

	// Admin
	r.Get("/usage", middleware.WithLogging(usageHandler.GetUsage))

	// Device management
	r.Post("/devices/register", middleware.WithLogging(deviceHandler.Register))
	r.Get("/devices/me", middleware.WithLogging(deviceHandler.GetMe))
	r.Get("/devices/my-sessions", middleware.WithLogging(deviceHandler.GetMySessions))

	// Root endpoint
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("choosing-sucks API v1"))
	})

	return middleware.CORS(d.Config.CORSOrigins)(r)
}
