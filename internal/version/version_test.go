/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package version

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.2.3", "1.2.3", 0},
		{"1.2.3", "1.2.4", -1},
		{"v2.0.0", "1.9.9", 1},
		{"2.0.0-rc1", "2.0.0", 0},
		{"1.10.0", "1.9.0", 1},
	}
	for _, tt := range tests {
		if got := compareVersions(tt.a, tt.b); got != tt.want {
			t.Errorf("compareVersions(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestTruncateNotes(t *testing.T) {
	if got := truncateNotes("first line\nsecond", 200); got != "first line" {
		t.Fatalf("got %q", got)
	}
	got := truncateNotes(strings.Repeat("x", 50), 10)
	if got != "xxxxxxx..." {
		t.Fatalf("got %q", got)
	}
}

func TestCheckerFindsUpdate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("User-Agent"), "Collexions/") {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tag_name":"v99.0.0","html_url":"https://example.com/r","body":"Big release\nmore"}`))
	}))
	defer srv.Close()

	c := NewChecker(CheckerOptions{ReleasesURL: srv.URL}, zerolog.Nop())
	c.check(context.Background())

	info := c.Info()
	if !info.UpdateAvailable || info.LatestVersion != "99.0.0" || info.ReleaseNotes != "Big release" {
		t.Fatalf("info = %+v", info)
	}
}

func TestCheckerIgnoresErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewChecker(CheckerOptions{ReleasesURL: srv.URL, Period: time.Hour}, zerolog.Nop())
	c.Start(context.Background())
	defer c.Stop()
	time.Sleep(50 * time.Millisecond)

	info := c.Info()
	if info.UpdateAvailable || info.CurrentVersion != Version {
		t.Fatalf("info = %+v", info)
	}
}
