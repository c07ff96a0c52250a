/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package exclusion

import (
	"testing"

	"github.com/rs/zerolog"
)

func set(titles ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(titles))
	for _, t := range titles {
		out[t] = struct{}{}
	}
	return out
}

func TestFullyExcluded(t *testing.T) {
	explicit := []string{"Never", " Padded ", ""}
	all := set("Holiday Pack", "Halloween", "Summer")
	active := set("Halloween")

	got := FullyExcluded(explicit, all, active)

	for _, want := range []string{"Never", "Padded", "Holiday Pack", "Summer"} {
		if _, ok := got[want]; !ok {
			t.Errorf("FullyExcluded missing %q", want)
		}
	}
	if _, ok := got["Halloween"]; ok {
		t.Error("active override title should not be excluded")
	}
	if _, ok := got[""]; ok {
		t.Error("blank explicit title should be dropped")
	}
	if len(got) != 4 {
		t.Errorf("FullyExcluded size = %d, want 4", len(got))
	}
}

func TestFullyExcludedKeepsExplicitEvenWhenActive(t *testing.T) {
	got := FullyExcluded([]string{"Halloween"}, set("Halloween"), set("Halloween"))
	if _, ok := got["Halloween"]; !ok {
		t.Fatal("explicit exclusion must win over an active window")
	}
}

func TestMatcher(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		title    string
		want     bool
	}{
		{"substring", []string{"trailer"}, "Best Trailers", true},
		{"case insensitive", []string{"^the"}, "THE Matrix Collection", true},
		{"anchored miss", []string{"^the"}, "Not The One", false},
		{"alternation", []string{"kids|family"}, "Family Night", true},
		{"no patterns", nil, "Anything", false},
		{"empty title", []string{".*"}, "", false},
		{"invalid pattern skipped", []string{"([unclosed"}, "([unclosed", false},
		{"invalid then valid", []string{"(", "marvel"}, "Marvel Universe", true},
		{"blank pattern ignored", []string{"  "}, "Anything", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchesAnyPattern(tt.title, tt.patterns, zerolog.Nop()); got != tt.want {
				t.Errorf("MatchesAnyPattern(%q, %v) = %v, want %v", tt.title, tt.patterns, got, tt.want)
			}
		})
	}
}

func TestMatcherLen(t *testing.T) {
	m := NewMatcher([]string{"ok", "(bad", "", "also-ok"}, zerolog.Nop())
	if m.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", m.Len())
	}

	var nilMatcher *Matcher
	if nilMatcher.Match("x") || nilMatcher.Len() != 0 {
		t.Fatal("nil matcher should match nothing")
	}
}
