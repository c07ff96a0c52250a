/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
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
)

type memStore struct {
	l   ledger.Ledger
	err error
}

func (m *memStore) Load(context.Context) (ledger.Ledger, bool, error) {
	if m.err != nil {
		return nil, false, m.err
	}
	return m.l.Clone(), false, nil
}

func (m *memStore) Save(_ context.Context, l ledger.Ledger) error {
	m.l = l.Clone()
	return nil
}

type fakePreviewer struct {
	library string
	err     error
}

func (f *fakePreviewer) Preview(_ context.Context, library string) (*pinning.LibraryReport, error) {
	f.library = library
	if f.err != nil {
		return nil, f.err
	}
	return &pinning.LibraryReport{Library: library}, nil
}

type fakeTrigger struct{ calls int }

func (f *fakeTrigger) Trigger() bool {
	f.calls++
	return f.calls == 1
}

type apiHarness struct {
	api       *API
	router    chi.Router
	store     *memStore
	previewer *fakePreviewer
	trigger   *fakeTrigger
	tracker   *status.Tracker
	logs      *logbuffer.Buffer
}

func newAPIHarness() *apiHarness {
	h := &apiHarness{
		store:     &memStore{l: ledger.Ledger{}},
		previewer: &fakePreviewer{},
		trigger:   &fakeTrigger{},
		tracker:   status.NewTracker("", zerolog.Nop()),
		logs:      logbuffer.New(100),
	}
	h.api = NewAPI(h.tracker, h.store, h.previewer, h.trigger, h.logs, zerolog.Nop())
	h.router = chi.NewRouter()
	h.api.Routes(h.router)
	return h
}

func (h *apiHarness) do(t *testing.T, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("%s %s: decode %q: %v", method, path, rr.Body.String(), err)
	}
	return rr, body
}

func TestStatusEndpoint(t *testing.T) {
	h := newAPIHarness()
	next := time.Now().Add(time.Hour)
	h.tracker.Update(status.StateSleeping, next)
	h.api.lastReport = func() (*pinning.Report, error) {
		return &pinning.Report{RunID: "run-1"}, errors.New("plex unreachable")
	}
	h.api.isLeader = func() bool { return true }

	rr, body := h.do(t, http.MethodGet, "/api/v1/status")
	if rr.Code != http.StatusOK {
		t.Fatalf("code = %d", rr.Code)
	}
	if body["status"] != status.StateSleeping {
		t.Fatalf("status = %v", body["status"])
	}
	if _, ok := body["next_run"]; !ok {
		t.Fatal("next_run missing")
	}
	if body["last_error"] != "plex unreachable" {
		t.Fatalf("last_error = %v", body["last_error"])
	}
	if run, ok := body["last_run"].(map[string]any); !ok || run["run_id"] != "run-1" {
		t.Fatalf("last_run = %v", body["last_run"])
	}
	if body["leader"] != true {
		t.Fatalf("leader = %v", body["leader"])
	}
}

func TestStatusOmitsDisabledFeatures(t *testing.T) {
	h := newAPIHarness()
	_, body := h.do(t, http.MethodGet, "/api/v1/status")
	for _, key := range []string{"leader", "last_run", "update", "next_run"} {
		if _, ok := body[key]; ok {
			t.Fatalf("%s should be absent, body = %v", key, body)
		}
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	h := newAPIHarness()
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, title := range []string{"Noir", "Westerns", "Heists"} {
		h.store.l[ledger.FormatTimestamp(base.Add(time.Duration(i)*time.Hour))] = []string{title}
	}

	rr, body := h.do(t, http.MethodGet, "/api/v1/history?limit=2")
	if rr.Code != http.StatusOK {
		t.Fatalf("code = %d", rr.Code)
	}
	entries, _ := body["entries"].([]any)
	if len(entries) != 2 || body["count"] != float64(2) {
		t.Fatalf("entries = %v", body)
	}
	first := entries[0].(map[string]any)
	if titles := first["titles"].([]any); titles[0] != "Heists" {
		t.Fatalf("first entry = %v, want the newest run", first)
	}
}

func TestHistoryLoadFailure(t *testing.T) {
	h := newAPIHarness()
	h.store.err = errors.New("disk gone")
	rr, body := h.do(t, http.MethodGet, "/api/v1/history")
	if rr.Code != http.StatusInternalServerError || body["error"] != "ledger_unavailable" {
		t.Fatalf("code = %d body = %v", rr.Code, body)
	}
}

func TestLogsFilter(t *testing.T) {
	h := newAPIHarness()
	now := time.Now()
	h.logs.Add(logbuffer.LogEntry{Timestamp: now, Level: "info", Message: "pinned", Library: "Movies"})
	h.logs.Add(logbuffer.LogEntry{Timestamp: now, Level: "info", Message: "pinned", Library: "TV Shows"})
	h.logs.Add(logbuffer.LogEntry{Timestamp: now, Level: "error", Message: "failed", Library: "Movies"})

	_, body := h.do(t, http.MethodGet, "/api/v1/logs?library=Movies&level=info")
	if body["count"] != float64(1) {
		t.Fatalf("count = %v, body = %v", body["count"], body)
	}
}

func TestLogsWithoutBuffer(t *testing.T) {
	h := newAPIHarness()
	h.api.logBuffer = nil
	rr, _ := h.do(t, http.MethodGet, "/api/v1/logs")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d", rr.Code)
	}
}

func TestRunTrigger(t *testing.T) {
	h := newAPIHarness()

	rr, body := h.do(t, http.MethodPost, "/api/v1/run")
	if rr.Code != http.StatusAccepted || body["queued"] != true {
		t.Fatalf("first trigger: code = %d body = %v", rr.Code, body)
	}
	rr, body = h.do(t, http.MethodPost, "/api/v1/run")
	if rr.Code != http.StatusAccepted || body["queued"] != false {
		t.Fatalf("second trigger: code = %d body = %v", rr.Code, body)
	}
}

func TestRunTriggerOnFollower(t *testing.T) {
	h := newAPIHarness()
	h.api.isLeader = func() bool { return false }

	rr, body := h.do(t, http.MethodPost, "/api/v1/run")
	if rr.Code != http.StatusConflict || body["error"] != "not_leader" {
		t.Fatalf("code = %d body = %v", rr.Code, body)
	}
	if h.trigger.calls != 0 {
		t.Fatal("follower forwarded the trigger")
	}
}

func TestPreview(t *testing.T) {
	h := newAPIHarness()
	rr, body := h.do(t, http.MethodGet, "/api/v1/preview/Kids%20Movies")
	if rr.Code != http.StatusOK {
		t.Fatalf("code = %d body = %v", rr.Code, body)
	}
	if h.previewer.library != "Kids Movies" || body["library"] != "Kids Movies" {
		t.Fatalf("library = %q body = %v", h.previewer.library, body)
	}
}

func TestPreviewErrors(t *testing.T) {
	tests := []struct {
		err  error
		code int
		want string
	}{
		{fmt.Errorf("fetch: %w", catalog.ErrLibraryNotFound), http.StatusNotFound, "library_not_found"},
		{fmt.Errorf("load settings: %w", config.ErrMissingPlexCredentials), http.StatusServiceUnavailable, "plex_not_configured"},
		{errors.New("connection refused"), http.StatusBadGateway, "preview_failed"},
	}
	for _, tt := range tests {
		h := newAPIHarness()
		h.previewer.err = tt.err
		rr, body := h.do(t, http.MethodGet, "/api/v1/preview/Movies")
		if rr.Code != tt.code || body["error"] != tt.want {
			t.Fatalf("%v: code = %d body = %v", tt.err, rr.Code, body)
		}
	}
}
