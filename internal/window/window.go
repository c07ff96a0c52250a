/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package window resolves which promotional collections are inside their
// configured calendar window on a given day.
package window

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// MonthDay is a calendar day without a year.
type MonthDay struct {
	Month time.Month
	Day   int
}

var daysInMonth = [...]int{0, 31, 29, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

// ParseMonthDay parses an "MM-DD" string. February 29 is accepted.
func ParseMonthDay(s string) (MonthDay, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 2 {
		return MonthDay{}, fmt.Errorf("invalid month-day %q: want MM-DD", s)
	}
	month, err := strconv.Atoi(parts[0])
	if err != nil || month < 1 || month > 12 {
		return MonthDay{}, fmt.Errorf("invalid month in %q", s)
	}
	day, err := strconv.Atoi(parts[1])
	if err != nil || day < 1 || day > daysInMonth[month] {
		return MonthDay{}, fmt.Errorf("invalid day in %q", s)
	}
	return MonthDay{Month: time.Month(month), Day: day}, nil
}

// Of returns the month-day of t in t's location.
func Of(t time.Time) MonthDay {
	return MonthDay{Month: t.Month(), Day: t.Day()}
}

// Before reports whether m falls earlier in the calendar year than o.
func (m MonthDay) Before(o MonthDay) bool {
	if m.Month != o.Month {
		return m.Month < o.Month
	}
	return m.Day < o.Day
}

func (m MonthDay) String() string {
	return fmt.Sprintf("%02d-%02d", int(m.Month), m.Day)
}

// Range is an inclusive calendar window. Start after End means the window
// crosses the year boundary (e.g. 12-15 → 01-10).
type Range struct {
	Start MonthDay
	End   MonthDay
}

// Wraps reports whether the range crosses the year boundary.
func (r Range) Wraps() bool {
	return r.End.Before(r.Start)
}

// Contains reports whether day lies inside the range, bounds included.
func (r Range) Contains(day MonthDay) bool {
	if r.Wraps() {
		return !day.Before(r.Start) || !r.End.Before(day)
	}
	return !day.Before(r.Start) && !r.End.Before(day)
}

// Definition is a promotional override: a date window plus its member titles.
type Definition struct {
	Start  string
	End    string
	Titles []string
}

// ActiveTitles returns the union of member titles of every definition whose
// window contains today. Malformed definitions are skipped with a warning.
func ActiveTitles(defs []Definition, today time.Time, logger zerolog.Logger) map[string]struct{} {
	active := make(map[string]struct{})
	day := Of(today)

	for i, def := range defs {
		titles := cleanTitles(def.Titles)
		if len(titles) == 0 {
			logger.Warn().Int("entry", i+1).Msg("skipping special collection entry with no titles")
			continue
		}
		start, err := ParseMonthDay(def.Start)
		if err != nil {
			logger.Warn().Err(err).Int("entry", i+1).Strs("titles", titles).Msg("skipping special collection entry with bad start_date")
			continue
		}
		end, err := ParseMonthDay(def.End)
		if err != nil {
			logger.Warn().Err(err).Int("entry", i+1).Strs("titles", titles).Msg("skipping special collection entry with bad end_date")
			continue
		}

		r := Range{Start: start, End: end}
		if !r.Contains(day) {
			logger.Debug().Str("start", start.String()).Str("end", end.String()).Bool("wraps", r.Wraps()).
				Strs("titles", titles).Msg("special period inactive")
			continue
		}
		logger.Info().Str("start", start.String()).Str("end", end.String()).
			Strs("titles", titles).Msg("special period active")
		for _, t := range titles {
			active[t] = struct{}{}
		}
	}

	return active
}

// AllTitles returns every member title across all definitions, active or not.
func AllTitles(defs []Definition) map[string]struct{} {
	all := make(map[string]struct{})
	for _, def := range defs {
		for _, t := range cleanTitles(def.Titles) {
			all[t] = struct{}{}
		}
	}
	return all
}

// Sorted returns the members of a title set in lexical order.
func Sorted(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func cleanTitles(titles []string) []string {
	out := make([]string, 0, len(titles))
	for _, t := range titles {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
