/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/friendsincode/collexions/internal/selection"
	"github.com/friendsincode/collexions/internal/window"
)

// ErrMissingPlexCredentials aborts a run when plex_url or plex_token is unset.
var ErrMissingPlexCredentials = errors.New("plex_url and plex_token must be set")

// Settings defaults.
const (
	DefaultPinningInterval    = 180 * time.Minute
	DefaultRepeatBlockHours   = 12
	DefaultMinItems           = 10
	DefaultLabel              = "Collexions"
	DefaultLotterySkipPercent = 70
)

// Settings is the pinning configuration, read fresh for every run.
type Settings struct {
	PlexURL   string
	PlexToken string

	Libraries       []string
	SlotsPerLibrary map[string]int

	PinningInterval  time.Duration
	RepeatBlockHours int
	MinItems         int
	Label            string
	DiscordWebhook   string

	ExclusionList     []string
	ExclusionPatterns []string
	Specials          []window.Definition
	Categories        map[string][]selection.Category

	Mode            selection.Mode
	ItemCountPolicy selection.ItemCountPolicy
}

// Slots returns the per-run budget for library.
func (s *Settings) Slots(library string) int {
	return s.SlotsPerLibrary[library]
}

// LoadSettings reads the settings file at path. The file is JSON; content
// that is not valid JSON is tried as YAML. Defects in individual keys are
// reported as warnings and replaced by defaults. Missing Plex credentials
// return ErrMissingPlexCredentials alongside the parsed settings.
func LoadSettings(path string) (*Settings, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read settings %s: %w", path, err)
	}
	return ParseSettings(data)
}

// ParseSettings parses raw settings content.
func ParseSettings(data []byte) (*Settings, []string, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		if yerr := yaml.Unmarshal(data, &raw); yerr != nil {
			return nil, nil, fmt.Errorf("parse settings: %w", err)
		}
	}
	if raw == nil {
		return nil, nil, fmt.Errorf("parse settings: content is not an object")
	}

	p := &parser{raw: raw}
	s := &Settings{
		PlexURL:           strings.TrimSpace(p.str("plex_url", "")),
		PlexToken:         strings.TrimSpace(p.str("plex_token", "")),
		Libraries:         p.strList("library_names"),
		SlotsPerLibrary:   p.slots(),
		PinningInterval:   time.Duration(p.positiveInt("pinning_interval", int(DefaultPinningInterval/time.Minute))) * time.Minute,
		RepeatBlockHours:  p.nonNegativeInt("repeat_block_hours", DefaultRepeatBlockHours),
		MinItems:          p.nonNegativeInt("min_items_for_pinning", DefaultMinItems),
		Label:             strings.TrimSpace(p.str("collexions_label", DefaultLabel)),
		DiscordWebhook:    strings.TrimSpace(p.str("discord_webhook_url", "")),
		ExclusionList:     p.strList("exclusion_list"),
		ExclusionPatterns: p.strList("regex_exclusion_patterns"),
		Specials:          p.specials(),
		Categories:        p.categories(),
		Mode:              p.mode(),
		ItemCountPolicy:   p.itemCountPolicy(),
	}

	if s.PlexURL == "" || s.PlexToken == "" {
		return s, p.warnings, ErrMissingPlexCredentials
	}
	return s, p.warnings, nil
}

type parser struct {
	raw      map[string]any
	warnings []string
}

func (p *parser) warnf(format string, args ...any) {
	p.warnings = append(p.warnings, fmt.Sprintf(format, args...))
}

func (p *parser) str(key, def string) string {
	v, ok := p.raw[key]
	if !ok || v == nil {
		return def
	}
	s, ok := v.(string)
	if !ok {
		p.warnf("%s must be a string, using %q", key, def)
		return def
	}
	return s
}

func (p *parser) strList(key string) []string {
	v, ok := p.raw[key]
	if !ok || v == nil {
		return nil
	}
	list, ok := toStrings(v)
	if !ok {
		p.warnf("%s must be a list of strings, ignoring", key)
		return nil
	}
	return list
}

func (p *parser) positiveInt(key string, def int) int {
	v, ok := p.raw[key]
	if !ok || v == nil {
		return def
	}
	n, ok := toInt(v)
	if !ok || n <= 0 {
		p.warnf("%s must be a positive integer, using %d", key, def)
		return def
	}
	return n
}

func (p *parser) nonNegativeInt(key string, def int) int {
	v, ok := p.raw[key]
	if !ok || v == nil {
		return def
	}
	n, ok := toInt(v)
	if !ok || n < 0 {
		p.warnf("%s must be a non-negative integer, using %d", key, def)
		return def
	}
	return n
}

func (p *parser) slots() map[string]int {
	out := make(map[string]int)
	v, ok := p.raw["number_of_collections_to_pin"]
	if !ok || v == nil {
		return out
	}
	m, ok := v.(map[string]any)
	if !ok {
		p.warnf("number_of_collections_to_pin must be an object, pinning nothing")
		return out
	}
	for lib, raw := range m {
		n, ok := toInt(raw)
		if !ok || n < 0 {
			p.warnf("number_of_collections_to_pin[%s] must be a non-negative integer, using 0", lib)
			n = 0
		}
		out[lib] = n
	}
	return out
}

func (p *parser) specials() []window.Definition {
	v, ok := p.raw["special_collections"]
	if !ok || v == nil {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		p.warnf("special_collections must be a list, ignoring")
		return nil
	}

	out := make([]window.Definition, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			p.warnf("special_collections[%d] must be an object, skipping", i)
			continue
		}
		list, ok := m["collection_names"].([]any)
		if !ok {
			p.warnf("special_collections[%d] needs a list of collection_names, skipping", i)
			continue
		}
		names, dropped := stringItems(list)
		if dropped > 0 {
			p.warnf("special_collections[%d] has %d non-string collection_names, ignoring them", i, dropped)
		}
		// Entries with unusable dates are kept so their titles stay excluded;
		// window.ActiveTitles never activates them.
		start, okStart := m["start_date"].(string)
		end, okEnd := m["end_date"].(string)
		if !okStart || !okEnd {
			p.warnf("special_collections[%d] needs string start_date and end_date, titles stay excluded", i)
		}
		out = append(out, window.Definition{Start: start, End: end, Titles: names})
	}
	return out
}

func (p *parser) categories() map[string][]selection.Category {
	out := make(map[string][]selection.Category)
	v, ok := p.raw["categories"]
	if !ok || v == nil {
		return out
	}
	m, ok := v.(map[string]any)
	if !ok {
		p.warnf("categories must be an object keyed by library, ignoring")
		return out
	}

	libs := make([]string, 0, len(m))
	for lib := range m {
		libs = append(libs, lib)
	}
	sort.Strings(libs)

	for _, lib := range libs {
		list, ok := m[lib].([]any)
		if !ok {
			p.warnf("categories[%s] must be a list, ignoring", lib)
			continue
		}
		seen := make(map[string]struct{})
		for i, item := range list {
			cm, ok := item.(map[string]any)
			if !ok {
				p.warnf("categories[%s][%d] must be an object, skipping", lib, i)
				continue
			}
			name, _ := cm["category_name"].(string)
			name = strings.TrimSpace(name)
			if name == "" {
				p.warnf("categories[%s][%d] has no category_name, skipping", lib, i)
				continue
			}
			if _, dup := seen[name]; dup {
				p.warnf("categories[%s] defines %q twice, skipping the duplicate", lib, name)
				continue
			}
			quota, ok := toInt(cm["pin_count"])
			if cm["pin_count"] == nil {
				quota, ok = 0, true
			}
			if !ok || quota < 0 {
				p.warnf("categories[%s][%q].pin_count must be a non-negative integer, using 0", lib, name)
				quota = 0
			}
			titles, ok := toStrings(cm["collections"])
			if cm["collections"] != nil && !ok {
				p.warnf("categories[%s][%q].collections must be a list of strings, using none", lib, name)
			}
			seen[name] = struct{}{}
			out[lib] = append(out[lib], selection.Category{Name: name, Quota: quota, Titles: titles})
		}
	}
	return out
}

func (p *parser) mode() selection.Mode {
	lottery := false
	if v, ok := p.raw["use_random_category_mode"]; ok && v != nil {
		b, ok := v.(bool)
		if !ok {
			p.warnf("use_random_category_mode must be a boolean, using false")
		}
		lottery = b
	}
	if !lottery {
		return selection.QuotaMode{}
	}

	skip := DefaultLotterySkipPercent
	if v, ok := p.raw["random_category_skip_percent"]; ok && v != nil {
		n, ok := toInt(v)
		if !ok || n < 0 || n > 100 {
			p.warnf("random_category_skip_percent must be 0-100, using %d", DefaultLotterySkipPercent)
		} else {
			skip = n
		}
	}
	return selection.LotteryMode{SkipPercent: skip}
}

func (p *parser) itemCountPolicy() selection.ItemCountPolicy {
	s := p.str("item_count_policy", "lenient")
	policy, err := selection.ParseItemCountPolicy(s)
	if err != nil {
		p.warnf("%v, using lenient", err)
	}
	return policy
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		return parsed, err == nil
	default:
		return 0, false
	}
}

// stringItems keeps the non-blank strings of list and counts the other items.
func stringItems(list []any) (out []string, dropped int) {
	out = make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			dropped++
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, dropped
}

func toStrings(v any) ([]string, bool) {
	list, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, true
}
