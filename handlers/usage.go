// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/danielhkuo/choosing-sucks/cliparse"
	"github.com/danielhkuo/choosing-sucks/middleware"
	"github.com/danielhkuo/choosing-sucks/models"
)

const (
	defaultUsageDays = 7
	maxUsageDays     = 90
)

// UsageReporter summarizes outbound API usage
type UsageReporter interface {
	Summary(ctx context.Context, days int) ([]models.UsageRow, error)
}

type UsageHandler struct {
	cfg      cliparse.Config
	reporter UsageReporter
}

func NewUsageHandler(cfg cliparse.Config, reporter UsageReporter) *UsageHandler {
	return &UsageHandler{cfg: cfg, reporter: reporter}
}

// GetUsage handles GET /usage?days=7
func (h *UsageHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	// Hidden entirely unless an admin token is configured
	if h.cfg.AdminToken == "" {
		middleware.ErrorResponse(w, http.StatusNotFound, "Not found")
		return
	}

	token := r.Header.Get("X-Admin-Token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.cfg.AdminToken)) != 1 {
		middleware.ErrorResponse(w, http.StatusUnauthorized, "Invalid admin token")
		return
	}

	days := defaultUsageDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxUsageDays {
			middleware.ErrorResponse(w, http.StatusBadRequest, "days must be between 1 and 90")
			return
		}
		days = n
	}

	rows, err := h.reporter.Summary(r.Context(), days)
	if err != nil {
		log.WithError(err).Error("failed to summarize usage")
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.UsageResponse{Days: days, Rows: rows})
}
