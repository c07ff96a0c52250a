/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package exclusion decides which collection titles may never be featured.
package exclusion

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

// FullyExcluded returns explicit ∪ (allOverride − activeOverride).
// Members of override windows that are not running today are never eligible.
func FullyExcluded(explicit []string, allOverride, activeOverride map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(explicit)+len(allOverride))
	for _, t := range explicit {
		if t = strings.TrimSpace(t); t != "" {
			out[t] = struct{}{}
		}
	}
	for t := range allOverride {
		if _, active := activeOverride[t]; !active {
			out[t] = struct{}{}
		}
	}
	return out
}

// Matcher holds the compiled, case-insensitive exclusion patterns.
type Matcher struct {
	patterns []*regexp.Regexp
}

// NewMatcher compiles patterns. Patterns that fail to compile are logged and
// dropped, so they never match anything.
func NewMatcher(patterns []string, logger zerolog.Logger) *Matcher {
	m := &Matcher{}
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			logger.Error().Err(err).Str("pattern", p).Msg("invalid exclusion regex, skipping")
			continue
		}
		m.patterns = append(m.patterns, re)
	}
	return m
}

// Len returns the number of usable patterns.
func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.patterns)
}

// Match reports whether title contains a match for any pattern.
func (m *Matcher) Match(title string) bool {
	if m == nil || title == "" {
		return false
	}
	for _, re := range m.patterns {
		if re.MatchString(title) {
			return true
		}
	}
	return false
}

// MatchesAnyPattern compiles patterns and tests title against them.
// Prefer NewMatcher when testing many titles.
func MatchesAnyPattern(title string, patterns []string, logger zerolog.Logger) bool {
	return NewMatcher(patterns, logger).Match(title)
}
