/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package selection

import (
	"fmt"
	"strings"
)

// Tier identifies the allocation phase that selected a candidate.
type Tier int

const (
	TierOverride Tier = iota + 1
	TierCategory
	TierRandom
)

func (t Tier) String() string {
	switch t {
	case TierOverride:
		return "override"
	case TierCategory:
		return "category"
	case TierRandom:
		return "random"
	default:
		return "unknown"
	}
}

// MarshalText renders the tier name in JSON output.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Candidate is a collection offered by the catalog.
type Candidate struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	ItemCount  int      `json:"item_count"`
	CountKnown bool     `json:"count_known"`
	Labels     []string `json:"labels,omitempty"`
}

// HasLabel reports whether the candidate carries label, ignoring case.
func (c Candidate) HasLabel(label string) bool {
	for _, l := range c.Labels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}

// Category is a named group of titles with a per-run quota.
type Category struct {
	Name   string   `json:"name"`
	Quota  int      `json:"quota"`
	Titles []string `json:"titles"`
}

// Mode is the category strategy: QuotaMode or LotteryMode.
type Mode interface {
	mode()
	String() string
}

// QuotaMode fills every category up to its quota.
type QuotaMode struct{}

func (QuotaMode) mode()          {}
func (QuotaMode) String() string { return "quota" }

// LotteryMode skips the category tier with probability SkipPercent/100 and
// otherwise awards slots from one randomly chosen category.
type LotteryMode struct {
	SkipPercent int
}

func (LotteryMode) mode() {}
func (m LotteryMode) String() string {
	return fmt.Sprintf("lottery(skip=%d%%)", m.SkipPercent)
}

// ItemCountPolicy decides what happens to a candidate whose item count is
// unknown.
type ItemCountPolicy int

const (
	// Lenient keeps candidates with an unknown item count.
	Lenient ItemCountPolicy = iota
	// Strict drops candidates with an unknown item count.
	Strict
)

func (p ItemCountPolicy) String() string {
	if p == Strict {
		return "strict"
	}
	return "lenient"
}

// ParseItemCountPolicy maps "lenient" or "strict" to a policy.
func ParseItemCountPolicy(s string) (ItemCountPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lenient":
		return Lenient, nil
	case "strict":
		return Strict, nil
	default:
		return Lenient, fmt.Errorf("unknown item count policy %q", s)
	}
}

// Pick is a selected candidate with its tier attribution.
type Pick struct {
	Candidate
	Tier     Tier   `json:"tier"`
	Category string `json:"category,omitempty"`
}

// Discard reasons reported by the eligibility pass.
const (
	DiscardBlankTitle   = "blank_title"
	DiscardDuplicate    = "duplicate"
	DiscardExcluded     = "excluded"
	DiscardPattern      = "pattern"
	DiscardRecent       = "recent"
	DiscardMinItems     = "min_items"
	DiscardUnknownCount = "unknown_count"
)

// Result is the outcome of one library's selection.
type Result struct {
	Picks []Pick `json:"picks"`
	// Eligible is the working pool size after the eligibility pass.
	Eligible  int            `json:"eligible"`
	Discarded map[string]int `json:"discarded,omitempty"`
	Mode      string         `json:"mode"`
	// CategorySkipped is set when the lottery skipped the category tier.
	CategorySkipped bool   `json:"category_skipped,omitempty"`
	ChosenCategory  string `json:"chosen_category,omitempty"`
	// Withheld lists titles kept out of the random tier by category rules.
	Withheld []string `json:"withheld,omitempty"`
}

// Titles returns the picked titles in order.
func (r Result) Titles() []string {
	out := make([]string, len(r.Picks))
	for i, p := range r.Picks {
		out[i] = p.Title
	}
	return out
}

// CountByTier returns how many picks each tier made.
func (r Result) CountByTier() map[Tier]int {
	out := make(map[Tier]int, 3)
	for _, p := range r.Picks {
		out[p.Tier]++
	}
	return out
}
