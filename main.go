package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/danielhkuo/choosing-sucks/cliparse"
	"github.com/danielhkuo/choosing-sucks/db"
	"github.com/danielhkuo/choosing-sucks/handlers"
	"github.com/danielhkuo/choosing-sucks/jobs"
	"github.com/danielhkuo/choosing-sucks/middleware"
	"github.com/danielhkuo/choosing-sucks/providers/llm"
	"github.com/danielhkuo/choosing-sucks/providers/places"
	"github.com/danielhkuo/choosing-sucks/providers/watchmode"
	"github.com/danielhkuo/choosing-sucks/realtime"
	"github.com/danielhkuo/choosing-sucks/router"
	"github.com/danielhkuo/choosing-sucks/usage"
)

func main() {
	// A missing .env is fine; real deployments use the environment
	_ = godotenv.Load()

	// Parse configuration
	cfg, err := cliparse.ParseFlags(os.Args[1:])
	if err != nil {
		log.WithError(err).Fatal("error parsing flags")
	}

	log.SetOutput(os.Stdout)
	log.SetFormatter(&log.JSONFormatter{})
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithField("log_level", cfg.LogLevel).Warn("unknown log level, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)

	// Connect to the database
	dbConn, err := db.Open(cfg.DatabaseType, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("database connection failed")
	}
	defer dbConn.Close()

	applied, err := db.CreateSchema(dbConn, cfg.DatabaseType)
	if err != nil {
		log.WithError(err).Fatal("schema creation failed")
	}
	log.WithFields(log.Fields{"type": cfg.DatabaseType, "migrations": applied}).Info("database schema ready")

	hub := realtime.NewHub()
	recorder := usage.NewRecorder(dbConn)
	p := cfg.Providers
	deps := router.Deps{
		DB:     dbConn,
		Config: cfg,
		Hub:    hub,
		Providers: handlers.Providers{
			Places:  places.New(p.GooglePlacesKey, nil, cfg.CacheTTL, recorder),
			Titles:  watchmode.New(p.WatchmodeKey, nil, cfg.CacheTTL, recorder),
			Options: llm.New(p.OpenAIKey, p.OpenAIModel, p.OpenAIBaseURL, p.OpenAIDailyLimit, recorder, recorder),
		},
		Usage:   recorder,
		Limiter: middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst).WithIPSalt(cfg.HostKeySalt),
	}
	log.WithFields(log.Fields{
		"google_places": p.GooglePlacesKey != "",
		"watchmode":     p.WatchmodeKey != "",
		"openai":        p.OpenAIKey != "",
	}).Info("providers configured")

	// Background jobs
	janitor := jobs.NewJanitor(dbConn, hub)
	if err := janitor.Schedule("@every 10m", "rate_limiter_cleanup", func() {
		if n := deps.Limiter.Cleanup(30 * time.Minute); n > 0 {
			log.WithField("removed", n).Debug("pruned idle rate limiters")
		}
	}); err != nil {
		log.WithError(err).Fatal("failed to schedule limiter cleanup")
	}
	if err := janitor.Start(cfg.JanitorSchedule); err != nil {
		log.WithError(err).Fatal("failed to start janitor")
	}

	// Create server
	server := http.Server{
		Handler:           router.NewRouter(deps),
		Addr:              ":" + strconv.Itoa(cfg.Port),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// signal.Notify requires the channel to be buffered
	ctrlc := make(chan os.Signal, 1)
	signal.Notify(ctrlc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctrlc
		log.Info("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Websockets are hijacked and not tracked by Shutdown
		hub.Close()
		if err := server.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("graceful shutdown failed")
			server.Close()
		}
	}()

	// Start server
	log.WithField("port", cfg.Port).Info("listening")
	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		log.WithError(err).Error("server closed")
	} else {
		log.Info("server closed")
	}
	janitor.Stop()
}
