/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package ledger keeps the recency history of featured collections: a flat
// mapping from run timestamp to the non-override titles pinned in that run.
package ledger

import (
	"fmt"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Ledger maps a run timestamp to the titles selected in that run.
type Ledger map[string][]string

// Entry is a single ledger row with its parsed timestamp.
type Entry struct {
	Timestamp string    `json:"timestamp"`
	Time      time.Time `json:"time"`
	Titles    []string  `json:"titles"`
}

// naive layouts are read in the local zone.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseTimestamp accepts RFC 3339 plus the zone-less ISO forms older
// ledgers were written with.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable ledger timestamp %q", s)
}

// FormatTimestamp renders a run timestamp as a ledger key.
func FormatTimestamp(t time.Time) string {
	return t.Format(time.RFC3339)
}

// Decode parses raw ledger bytes. Missing or empty content yields an empty
// ledger. Content that is not a JSON object, and entries whose value is not a
// list of strings, are dropped; dirty reports that something was dropped and
// the ledger should be rewritten.
func Decode(data []byte, logger zerolog.Logger) (l Ledger, dirty bool) {
	l = make(Ledger)
	if len(strings.TrimSpace(string(data))) == 0 {
		return l, false
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		logger.Error().Err(err).Msg("ledger is not a JSON object, starting empty")
		return l, true
	}

	for ts, value := range raw {
		var titles []string
		if err := json.Unmarshal(value, &titles); err != nil || titles == nil {
			logger.Warn().Str("timestamp", ts).Msg("dropping malformed ledger entry")
			dirty = true
			continue
		}
		l[ts] = titles
	}
	return l, dirty
}

// Encode renders the ledger as indented JSON.
func (l Ledger) Encode() ([]byte, error) {
	if l == nil {
		l = Ledger{}
	}
	return json.MarshalIndent(l, "", "  ")
}

// Clone returns a deep copy.
func (l Ledger) Clone() Ledger {
	out := make(Ledger, len(l))
	for ts, titles := range l {
		out[ts] = append([]string(nil), titles...)
	}
	return out
}

// Prune returns a copy of l without entries whose timestamp does not parse
// and, when window is positive, without entries older than now-window.
// Pruning is idempotent for a fixed now.
func Prune(l Ledger, now time.Time, window time.Duration) (Ledger, int) {
	cutoff := now.Add(-window)
	out := make(Ledger, len(l))
	removed := 0
	for ts, titles := range l {
		t, err := ParseTimestamp(ts)
		if err != nil {
			removed++
			continue
		}
		if window > 0 && t.Before(cutoff) {
			removed++
			continue
		}
		out[ts] = append([]string(nil), titles...)
	}
	return out, removed
}

// Titles returns the union of all titles in l.
func (l Ledger) Titles() map[string]struct{} {
	out := make(map[string]struct{})
	for _, titles := range l {
		for _, t := range titles {
			if t = strings.TrimSpace(t); t != "" {
				out[t] = struct{}{}
			}
		}
	}
	return out
}

// Entries returns the ledger newest first. Entries with unparseable
// timestamps sort last.
func (l Ledger) Entries() []Entry {
	out := make([]Entry, 0, len(l))
	for ts, titles := range l {
		t, _ := ParseTimestamp(ts)
		out = append(out, Entry{Timestamp: ts, Time: t, Titles: append([]string(nil), titles...)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Time.Equal(out[j].Time) {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].Time.After(out[j].Time)
	})
	return out
}
