/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logbuffer

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestBufferWrapsAround(t *testing.T) {
	b := New(3)
	for i, msg := range []string{"one", "two", "three", "four"} {
		b.Add(LogEntry{Message: msg, Timestamp: time.Unix(int64(i), 0)})
	}

	all := b.GetAll()
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if all[0].Message != "two" || all[2].Message != "four" {
		t.Fatalf("unexpected order: %+v", all)
	}
}

func TestWriterCapturesZerologFields(t *testing.T) {
	b := New(10)
	var fallback bytes.Buffer
	logger := zerolog.New(NewWriter(b, &fallback)).With().Timestamp().Logger()

	logger.Info().Str("component", "pinning").Str("library", "Movies").Str("run_id", "r1").
		Str("title", "Holiday Pack").Msg("pinned collection")
	logger.Warn().Str("component", "catalog").Str("library", "TV Shows").Msg("slow response")

	if fallback.Len() == 0 {
		t.Fatal("fallback writer received nothing")
	}

	entries := b.GetAll()
	if len(entries) != 2 {
		t.Fatalf("len = %d, want 2", len(entries))
	}
	first := entries[0]
	if first.Level != "info" || first.Component != "pinning" || first.Library != "Movies" || first.RunID != "r1" {
		t.Fatalf("unexpected entry: %+v", first)
	}
	if first.Fields["title"] != "Holiday Pack" {
		t.Fatalf("title field missing: %+v", first.Fields)
	}
}

func TestWriterIgnoresNonJSON(t *testing.T) {
	b := New(10)
	n, err := NewWriter(b, nil).Write([]byte("plain text line\n"))
	if err != nil || n != len("plain text line\n") {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if len(b.GetAll()) != 0 {
		t.Fatal("non-JSON line should not be buffered")
	}
}

func TestQuery(t *testing.T) {
	b := New(100)
	base := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	b.Add(LogEntry{Timestamp: base, Level: "info", Component: "pinning", Library: "Movies", Message: "pinned Horror Night"})
	b.Add(LogEntry{Timestamp: base.Add(time.Minute), Level: "warn", Component: "catalog", Library: "TV Shows", Message: "retrying"})
	b.Add(LogEntry{Timestamp: base.Add(2 * time.Minute), Level: "info", Component: "pinning", Library: "TV Shows", Message: "pinned Sitcoms", RunID: "r2"})
	b.Add(LogEntry{Timestamp: base.Add(3 * time.Minute), Level: "error", Component: "notifications", Message: "webhook failed", Fields: map[string]any{"status": "HTTP 500"}})

	tests := []struct {
		name   string
		params QueryParams
		want   []string
	}{
		{"all", QueryParams{}, []string{"pinned Horror Night", "retrying", "pinned Sitcoms", "webhook failed"}},
		{"level", QueryParams{Level: "info"}, []string{"pinned Horror Night", "pinned Sitcoms"}},
		{"component", QueryParams{Component: "catalog"}, []string{"retrying"}},
		{"library", QueryParams{Library: "TV Shows"}, []string{"retrying", "pinned Sitcoms"}},
		{"run", QueryParams{RunID: "r2"}, []string{"pinned Sitcoms"}},
		{"search message", QueryParams{Search: "HORROR"}, []string{"pinned Horror Night"}},
		{"search fields", QueryParams{Search: "http 500"}, []string{"webhook failed"}},
		{"since", QueryParams{Since: base.Add(2 * time.Minute)}, []string{"pinned Sitcoms", "webhook failed"}},
		{"descending limit", QueryParams{Descending: true, Limit: 2}, []string{"webhook failed", "pinned Sitcoms"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := b.Query(tt.params)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d entries, want %d: %+v", len(got), len(tt.want), got)
			}
			for i := range tt.want {
				if got[i].Message != tt.want[i] {
					t.Errorf("entry %d = %q, want %q", i, got[i].Message, tt.want[i])
				}
			}
		})
	}
}

func TestStatsAndClear(t *testing.T) {
	b := New(10)
	b.Add(LogEntry{Level: "info", Component: "b"})
	b.Add(LogEntry{Level: "info", Component: "a"})
	b.Add(LogEntry{Level: "error"})

	stats := b.Stats()
	if stats.Count != 3 || stats.LevelCount["info"] != 2 || stats.LevelCount["error"] != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(stats.Components) != 2 || stats.Components[0] != "a" {
		t.Fatalf("components = %v", stats.Components)
	}

	b.Clear()
	if len(b.GetAll()) != 0 {
		t.Fatal("Clear did not empty the buffer")
	}
}
