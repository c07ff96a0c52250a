/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package status records what the service is doing in a small JSON file that
// dashboards and the HTTP API read.
package status

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/friendsincode/collexions/internal/ledger"
)

// Well-known states. Library processing and errors use Processing and Error.
const (
	StateInitializing = "Initializing"
	StateStarting     = "Starting"
	StateRunning      = "Running"
	StateSleeping     = "Sleeping"
	StateStopped      = "Stopped"
)

// Processing is the state while a library is being handled.
func Processing(library string) string { return "Processing: " + library }

// Error is the state after a failed run.
func Error(reason string) string { return "Error: " + reason }

// IsError reports whether state describes a failure.
func IsError(state string) bool {
	return strings.HasPrefix(state, "Error") || strings.HasPrefix(state, "CRITICAL") || strings.HasPrefix(state, "FATAL")
}

// Status is the on-disk document.
type Status struct {
	Status     string    `json:"status"`
	LastUpdate time.Time `json:"last_update"`
	// NextRunTimestamp is the planned next run as Unix seconds.
	NextRunTimestamp *float64 `json:"next_run_timestamp,omitempty"`
}

// NextRun returns the planned next run, or the zero time.
func (s Status) NextRun() time.Time {
	if s.NextRunTimestamp == nil {
		return time.Time{}
	}
	whole := math.Floor(*s.NextRunTimestamp)
	return time.Unix(int64(whole), int64((*s.NextRunTimestamp-whole)*float64(time.Second)))
}

// Tracker holds the current status and mirrors every change to a file.
type Tracker struct {
	path   string
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	current Status
}

// NewTracker returns a tracker writing to path. An empty path keeps the
// status in memory only.
func NewTracker(path string, logger zerolog.Logger) *Tracker {
	return &Tracker{
		path:   path,
		logger: logger.With().Str("component", "status").Logger(),
		now:    time.Now,
	}
}

// Set records state with no planned next run.
func (t *Tracker) Set(state string) {
	t.Update(state, time.Time{})
}

// Update records state and the planned next run. A zero next omits it.
// Write failures are logged and do not propagate.
func (t *Tracker) Update(state string, next time.Time) {
	st := Status{Status: state, LastUpdate: t.now()}
	if !next.IsZero() {
		ts := float64(next.UnixNano()) / float64(time.Second)
		st.NextRunTimestamp = &ts
	}

	t.mu.Lock()
	t.current = st
	t.mu.Unlock()

	if t.path == "" {
		return
	}
	if err := write(t.path, st); err != nil {
		t.logger.Error().Err(err).Str("path", t.path).Msg("failed to write status file")
		return
	}
	t.logger.Debug().Str("status", state).Msg("status updated")
}

// Current returns the last recorded status.
func (t *Tracker) Current() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

func write(path string, st Status) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	return ledger.WriteFileAtomic(path, data, 0o644)
}

// Read loads a status file. A missing file returns os.ErrNotExist.
func Read(path string) (Status, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Status{}, err
	}
	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		return Status{}, fmt.Errorf("parse status file: %w", err)
	}
	if st.Status == "" {
		return Status{}, errors.New("status file has no status")
	}
	return st, nil
}
