/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package selection turns a library's candidate pool into the set of
// collections to feature this run, using three tiers: active overrides,
// categories, then random fill.
package selection

import (
	"math/rand"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/friendsincode/collexions/internal/exclusion"
)

// Engine runs the selection algorithm. An Engine owns its random source and
// is not safe for concurrent use.
type Engine struct {
	rng    *rand.Rand
	logger zerolog.Logger
}

// New creates an engine drawing randomness from src.
func New(src rand.Source, logger zerolog.Logger) *Engine {
	return &Engine{rng: rand.New(src), logger: logger.With().Str("component", "selection").Logger()}
}

// Request carries everything needed to select for one library.
type Request struct {
	Library string
	Pool    []Candidate

	// ActiveOverrides are titles inside a running promotional window. They
	// skip the recency and item-count checks.
	ActiveOverrides map[string]struct{}
	// Excluded is the fully-excluded title set.
	Excluded map[string]struct{}
	Patterns *exclusion.Matcher
	Recent   map[string]struct{}
	MinItems int
	Policy   ItemCountPolicy

	Slots      int
	Categories []Category
	Mode       Mode
}

// Eligible runs the eligibility pass and returns the working pool in input
// order, plus a count of discards by reason.
func (e *Engine) Eligible(req Request) ([]Candidate, map[string]int) {
	pool := make([]Candidate, 0, len(req.Pool))
	discarded := make(map[string]int)
	seen := make(map[string]struct{}, len(req.Pool))

	for _, c := range req.Pool {
		title := strings.TrimSpace(c.Title)
		if title == "" {
			discarded[DiscardBlankTitle]++
			continue
		}
		c.Title = title
		if _, dup := seen[title]; dup {
			discarded[DiscardDuplicate]++
			continue
		}
		if _, ok := req.Excluded[title]; ok {
			discarded[DiscardExcluded]++
			continue
		}
		if req.Patterns.Match(title) {
			discarded[DiscardPattern]++
			continue
		}

		if _, override := req.ActiveOverrides[title]; !override {
			if _, ok := req.Recent[title]; ok {
				discarded[DiscardRecent]++
				continue
			}
			if !c.CountKnown {
				if req.Policy == Strict {
					discarded[DiscardUnknownCount]++
					continue
				}
				e.logger.Debug().Str("library", req.Library).Str("title", title).
					Msg("item count unknown, keeping candidate")
			} else if c.ItemCount < req.MinItems {
				discarded[DiscardMinItems]++
				continue
			}
		}

		seen[title] = struct{}{}
		pool = append(pool, c)
	}

	return pool, discarded
}

// Select runs the eligibility pass, shuffles the working pool once, and
// allocates up to req.Slots picks across the three tiers.
func (e *Engine) Select(req Request) Result {
	mode := req.Mode
	if mode == nil {
		mode = QuotaMode{}
	}

	pool, discarded := e.Eligible(req)
	e.rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })

	result := Result{Eligible: len(pool), Discarded: discarded, Mode: mode.String()}
	budget := req.Slots
	if budget < 0 {
		budget = 0
	}

	logger := e.logger.With().Str("library", req.Library).Logger()
	logger.Debug().Int("eligible", len(pool)).Interface("discarded", discarded).
		Int("slots", budget).Str("mode", mode.String()).Msg("eligibility pass complete")

	picked := make(map[string]struct{}, budget)
	take := func(c Candidate, tier Tier, category string) {
		result.Picks = append(result.Picks, Pick{Candidate: c, Tier: tier, Category: category})
		picked[c.Title] = struct{}{}
		budget--
	}

	// Tier 1: active overrides.
	for _, c := range pool {
		if budget <= 0 {
			break
		}
		if _, ok := req.ActiveOverrides[c.Title]; !ok {
			continue
		}
		take(c, TierOverride, "")
	}
	leftover := without(pool, picked)

	// Tier 2: categories.
	var withheld map[string]struct{}
	valid := validCategories(req.Categories)
	if len(valid) > 0 {
		switch m := mode.(type) {
		case LotteryMode:
			withheld = e.lottery(m, valid, leftover, &budget, take, &result, logger)
		default:
			withheld = quota(valid, leftover, &budget, take)
		}
	}
	leftover = without(leftover, picked)

	// Tier 3: random fill from what the categories did not withhold.
	for _, c := range leftover {
		if budget <= 0 {
			break
		}
		if _, ok := withheld[c.Title]; ok {
			continue
		}
		take(c, TierRandom, "")
	}

	if len(withheld) > 0 {
		result.Withheld = make([]string, 0, len(withheld))
		for t := range withheld {
			result.Withheld = append(result.Withheld, t)
		}
		sort.Strings(result.Withheld)
	}

	counts := result.CountByTier()
	logger.Info().
		Int("picks", len(result.Picks)).
		Int("override", counts[TierOverride]).
		Int("category", counts[TierCategory]).
		Int("random", counts[TierRandom]).
		Int("unfilled", budget).
		Msg("selection complete")

	return result
}

// quota assigns each leftover candidate to the first of its categories, in
// definition order, that still has quota. Only served categories have their
// members withheld from the random tier.
func quota(valid []validCategory, leftover []Candidate, budget *int, take func(Candidate, Tier, string)) map[string]struct{} {
	if *budget <= 0 {
		return nil
	}

	remaining := make([]int, len(valid))
	byTitle := make(map[string][]int)
	for i, cat := range valid {
		remaining[i] = cat.Quota
		for t := range cat.members {
			byTitle[t] = append(byTitle[t], i)
		}
	}

	served := make(map[int]struct{})
	for _, c := range leftover {
		if *budget <= 0 {
			break
		}
		for _, idx := range byTitle[c.Title] {
			if remaining[idx] <= 0 {
				continue
			}
			take(c, TierCategory, valid[idx].Name)
			remaining[idx]--
			served[idx] = struct{}{}
			break
		}
	}

	withheld := make(map[string]struct{})
	for idx := range served {
		for t := range valid[idx].members {
			withheld[t] = struct{}{}
		}
	}
	return withheld
}

// lottery either skips the category tier or awards slots from one randomly
// chosen category. Every valid category's members are withheld from the
// random tier either way.
func (e *Engine) lottery(m LotteryMode, valid []validCategory, leftover []Candidate, budget *int, take func(Candidate, Tier, string), result *Result, logger zerolog.Logger) map[string]struct{} {
	withheld := make(map[string]struct{})
	for _, cat := range valid {
		for t := range cat.members {
			withheld[t] = struct{}{}
		}
	}
	if *budget <= 0 {
		return withheld
	}

	skip := m.SkipPercent
	if skip < 0 {
		skip = 0
	} else if skip > 100 {
		skip = 100
	}
	if e.rng.Intn(100) < skip {
		result.CategorySkipped = true
		logger.Info().Int("skip_percent", skip).Msg("category lottery skipped this run")
		return withheld
	}

	chosen := valid[e.rng.Intn(len(valid))]
	result.ChosenCategory = chosen.Name

	var members []Candidate
	for _, c := range leftover {
		if _, ok := chosen.members[c.Title]; ok {
			members = append(members, c)
		}
	}
	e.rng.Shuffle(len(members), func(i, j int) { members[i], members[j] = members[j], members[i] })

	n := min(chosen.Quota, len(members), *budget)
	for _, c := range members[:n] {
		take(c, TierCategory, chosen.Name)
	}
	logger.Info().Str("category", chosen.Name).Int("eligible", len(members)).Int("picked", n).
		Msg("category lottery awarded")

	return withheld
}

type validCategory struct {
	Name    string
	Quota   int
	members map[string]struct{}
}

// validCategories keeps categories with a positive quota and at least one
// member, in definition order.
func validCategories(cats []Category) []validCategory {
	out := make([]validCategory, 0, len(cats))
	for _, cat := range cats {
		if cat.Quota <= 0 {
			continue
		}
		members := make(map[string]struct{}, len(cat.Titles))
		for _, t := range cat.Titles {
			if t = strings.TrimSpace(t); t != "" {
				members[t] = struct{}{}
			}
		}
		if len(members) == 0 {
			continue
		}
		out = append(out, validCategory{Name: cat.Name, Quota: cat.Quota, members: members})
	}
	return out
}

func without(pool []Candidate, picked map[string]struct{}) []Candidate {
	out := make([]Candidate, 0, len(pool))
	for _, c := range pool {
		if _, ok := picked[c.Title]; !ok {
			out = append(out, c)
		}
	}
	return out
}
