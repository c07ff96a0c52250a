/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/friendsincode/collexions/internal/catalog"
	"github.com/friendsincode/collexions/internal/config"
	"github.com/friendsincode/collexions/internal/ledger"
	"github.com/friendsincode/collexions/internal/logbuffer"
	"github.com/friendsincode/collexions/internal/pinning"
	"github.com/friendsincode/collexions/internal/status"
	"github.com/friendsincode/collexions/internal/version"
)

// Previewer computes a selection for one library without touching Plex.
type Previewer interface {
	Preview(ctx context.Context, library string) (*pinning.LibraryReport, error)
}

// Trigger queues an immediate run.
type Trigger interface {
	Trigger() bool
}

// API serves the read-only status endpoints and the manual run trigger.
type API struct {
	tracker   *status.Tracker
	store     ledger.Store
	previewer Previewer
	trigger   Trigger
	logBuffer *logbuffer.Buffer
	logger    zerolog.Logger

	// Optional hooks, nil when the feature is off.
	lastReport func() (*pinning.Report, error)
	isLeader   func() bool
	updates    func() version.UpdateInfo
}

// NewAPI builds the handler set.
func NewAPI(tracker *status.Tracker, store ledger.Store, previewer Previewer, trigger Trigger, logBuf *logbuffer.Buffer, logger zerolog.Logger) *API {
	return &API{
		tracker:   tracker,
		store:     store,
		previewer: previewer,
		trigger:   trigger,
		logBuffer: logBuf,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts the API under /api/v1.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", a.handleStatus)
		r.Get("/history", a.handleHistory)
		r.Get("/logs", a.handleLogs)
		r.Post("/run", a.handleRun)
		r.Get("/preview/{library}", a.handlePreview)
	})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"version": version.Version,
	}
	if a.tracker != nil {
		st := a.tracker.Current()
		resp["status"] = st.Status
		resp["last_update"] = st.LastUpdate
		if next := st.NextRun(); !next.IsZero() {
			resp["next_run"] = next
		}
	}
	if a.lastReport != nil {
		report, err := a.lastReport()
		if report != nil {
			resp["last_run"] = report
		}
		if err != nil {
			resp["last_error"] = err.Error()
		}
	}
	if a.isLeader != nil {
		resp["leader"] = a.isLeader()
	}
	if a.updates != nil {
		resp["update"] = a.updates()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	l, _, err := a.store.Load(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("load ledger failed")
		writeError(w, http.StatusInternalServerError, "ledger_unavailable")
		return
	}

	entries := l.Entries()
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 && n < len(entries) {
			entries = entries[:n]
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeError(w, http.StatusServiceUnavailable, "log_buffer_unavailable")
		return
	}

	q := r.URL.Query()
	params := logbuffer.QueryParams{
		Level:      q.Get("level"),
		Component:  q.Get("component"),
		Library:    q.Get("library"),
		RunID:      q.Get("run_id"),
		Search:     q.Get("search"),
		Limit:      500,
		Descending: q.Get("order") != "asc",
	}
	if since := q.Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			params.Since = t
		}
	}
	if limit := q.Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			params.Limit = n
		}
	}

	entries := a.logBuffer.Query(params)
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (a *API) handleRun(w http.ResponseWriter, r *http.Request) {
	if a.isLeader != nil && !a.isLeader() {
		writeError(w, http.StatusConflict, "not_leader")
		return
	}
	queued := a.trigger.Trigger()
	a.logger.Info().Bool("queued", queued).Msg("manual run requested")
	writeJSON(w, http.StatusAccepted, map[string]bool{"queued": queued})
}

func (a *API) handlePreview(w http.ResponseWriter, r *http.Request) {
	library := chi.URLParam(r, "library")
	if library == "" {
		writeError(w, http.StatusBadRequest, "library_required")
		return
	}

	report, err := a.previewer.Preview(r.Context(), library)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, report)
	case errors.Is(err, catalog.ErrLibraryNotFound):
		writeError(w, http.StatusNotFound, "library_not_found")
	case errors.Is(err, config.ErrMissingPlexCredentials):
		writeError(w, http.StatusServiceUnavailable, "plex_not_configured")
	case catalog.IsUnavailable(err):
		writeError(w, http.StatusServiceUnavailable, "plex_unavailable")
	default:
		a.logger.Error().Err(err).Str("library", library).Msg("preview failed")
		writeError(w, http.StatusBadGateway, "preview_failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
