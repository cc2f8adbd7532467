// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package jobs runs periodic maintenance.
package jobs

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/danielhkuo/choosing-sucks/metrics"
	"github.com/danielhkuo/choosing-sucks/models"
	"github.com/danielhkuo/choosing-sucks/realtime"
)

// Janitor expires abandoned sessions on a cron schedule
type Janitor struct {
	db   *sqlx.DB
	hub  realtime.Broadcaster
	cron *cron.Cron
	now  func() time.Time
}

func NewJanitor(db *sqlx.DB, hub realtime.Broadcaster) *Janitor {
	return &Janitor{
		db:   db,
		hub:  hub,
		cron: cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger))),
		now:  time.Now,
	}
}

// Start schedules session expiry and starts the scheduler
func (j *Janitor) Start(schedule string) error {
	if err := j.Schedule(schedule, "expire_sessions", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := j.ExpireSessions(ctx); err != nil {
			log.WithError(err).Error("failed to expire sessions")
		}
	}); err != nil {
		return err
	}
	j.cron.Start()
	return nil
}

// Schedule adds another periodic task
func (j *Janitor) Schedule(spec, name string, fn func()) error {
	if _, err := j.cron.AddFunc(spec, fn); err != nil {
		return errors.Wrapf(err, "schedule %s", name)
	}
	log.WithFields(log.Fields{"job": name, "schedule": spec}).Info("scheduled job")
	return nil
}

// Stop waits for running jobs to finish
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// ExpireSessions marks unfinished sessions past expires_at as expired and
// returns how many were changed
func (j *Janitor) ExpireSessions(ctx context.Context) (int, error) {
	now := j.now().UTC()

	var ids []string
	err := j.db.SelectContext(ctx, &ids, `
		SELECT id FROM sessions
		WHERE expires_at < $1 AND status IN ('waiting', 'swiping', 'tiebreak')
	`, now)
	if err != nil {
		return 0, errors.Wrap(err, "select expired sessions")
	}

	expired := 0
	for _, id := range ids {
		res, err := j.db.ExecContext(ctx, `
			UPDATE sessions SET status = $1
			WHERE id = $2 AND status IN ('waiting', 'swiping', 'tiebreak')
		`, models.StatusExpired, id)
		if err != nil {
			return expired, errors.Wrapf(err, "expire session %s", id)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}

		expired++
		metrics.SessionOutcome(models.StatusExpired)
		j.hub.Broadcast(id, realtime.EventSessionExpired, map[string]string{"status": models.StatusExpired})
	}

	if expired > 0 {
		log.WithField("count", expired).Info("expired sessions")
	}
	return expired, nil
}
