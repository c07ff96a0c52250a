/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/collexions/internal/selection"
	"github.com/friendsincode/collexions/internal/window"
)

const fullSettings = `{
  "plex_url": "http://plex:32400",
  "plex_token": "secret",
  "library_names": ["Movies", "TV Shows"],
  "number_of_collections_to_pin": {"Movies": 5, "TV Shows": 2},
  "pinning_interval": 60,
  "repeat_block_hours": 24,
  "min_items_for_pinning": 4,
  "collexions_label": "Featured",
  "discord_webhook_url": "https://discord.example/hook",
  "exclusion_list": ["Never", " "],
  "regex_exclusion_patterns": ["^trailer"],
  "special_collections": [
    {"start_date": "12-20", "end_date": "01-05", "collection_names": ["Holiday Pack"]}
  ],
  "categories": {
    "Movies": [
      {"category_name": "Horror", "pin_count": 2, "collections": ["A", "B", "C"]},
      {"category_name": "Comedy", "pin_count": 1, "collections": ["D"]}
    ]
  },
  "use_random_category_mode": true,
  "random_category_skip_percent": 40,
  "item_count_policy": "strict"
}`

func TestParseSettingsFull(t *testing.T) {
	s, warnings, err := ParseSettings([]byte(fullSettings))
	if err != nil {
		t.Fatalf("ParseSettings: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}

	if s.PinningInterval != time.Hour {
		t.Errorf("PinningInterval = %v", s.PinningInterval)
	}
	if s.Slots("Movies") != 5 || s.Slots("TV Shows") != 2 || s.Slots("Music") != 0 {
		t.Errorf("SlotsPerLibrary = %v", s.SlotsPerLibrary)
	}
	if s.RepeatBlockHours != 24 || s.MinItems != 4 || s.Label != "Featured" {
		t.Errorf("unexpected scalars: %+v", s)
	}
	if len(s.ExclusionList) != 1 || s.ExclusionList[0] != "Never" {
		t.Errorf("ExclusionList = %v", s.ExclusionList)
	}
	if len(s.Specials) != 1 || s.Specials[0].Start != "12-20" {
		t.Errorf("Specials = %+v", s.Specials)
	}
	cats := s.Categories["Movies"]
	if len(cats) != 2 || cats[0].Name != "Horror" || cats[0].Quota != 2 || len(cats[0].Titles) != 3 {
		t.Errorf("Categories = %+v", s.Categories)
	}
	mode, ok := s.Mode.(selection.LotteryMode)
	if !ok || mode.SkipPercent != 40 {
		t.Errorf("Mode = %#v", s.Mode)
	}
	if s.ItemCountPolicy != selection.Strict {
		t.Errorf("ItemCountPolicy = %v", s.ItemCountPolicy)
	}
}

func TestParseSettingsDefaults(t *testing.T) {
	s, warnings, err := ParseSettings([]byte(`{"plex_url":"http://p","plex_token":"t"}`))
	if err != nil {
		t.Fatalf("ParseSettings: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if s.PinningInterval != DefaultPinningInterval {
		t.Errorf("PinningInterval = %v", s.PinningInterval)
	}
	if s.RepeatBlockHours != DefaultRepeatBlockHours || s.MinItems != DefaultMinItems || s.Label != DefaultLabel {
		t.Errorf("defaults not applied: %+v", s)
	}
	if _, ok := s.Mode.(selection.QuotaMode); !ok {
		t.Errorf("Mode = %#v, want QuotaMode", s.Mode)
	}
	if s.ItemCountPolicy != selection.Lenient {
		t.Errorf("ItemCountPolicy = %v", s.ItemCountPolicy)
	}
}

func TestParseSettingsRecoversFromBadValues(t *testing.T) {
	raw := `{
  "plex_url": "http://p", "plex_token": "t",
  "pinning_interval": -5,
  "repeat_block_hours": "soon",
  "min_items_for_pinning": -1,
  "number_of_collections_to_pin": {"Movies": -3, "TV": "two", "Music": 4},
  "special_collections": [
    {"start_date": "12-20", "end_date": "01-05", "collection_names": "Holiday"},
    "junk",
    {"start_date": "10-01", "end_date": "10-31", "collection_names": ["Halloween"]}
  ],
  "categories": {
    "Movies": [
      {"category_name": "Horror", "pin_count": 2, "collections": ["A"]},
      {"category_name": "Horror", "pin_count": 5, "collections": ["B"]},
      {"pin_count": 1, "collections": ["C"]},
      {"category_name": "Bad Count", "pin_count": -1, "collections": ["D"]}
    ],
    "TV": "nope"
  },
  "use_random_category_mode": true,
  "random_category_skip_percent": 150,
  "item_count_policy": "maybe"
}`
	s, warnings, err := ParseSettings([]byte(raw))
	if err != nil {
		t.Fatalf("ParseSettings: %v", err)
	}

	if s.PinningInterval != DefaultPinningInterval || s.RepeatBlockHours != DefaultRepeatBlockHours || s.MinItems != DefaultMinItems {
		t.Errorf("bad scalars not defaulted: %+v", s)
	}
	if s.Slots("Movies") != 0 || s.Slots("TV") != 0 || s.Slots("Music") != 4 {
		t.Errorf("SlotsPerLibrary = %v", s.SlotsPerLibrary)
	}
	if len(s.Specials) != 1 || s.Specials[0].Titles[0] != "Halloween" {
		t.Errorf("Specials = %+v", s.Specials)
	}
	cats := s.Categories["Movies"]
	if len(cats) != 2 || cats[0].Quota != 2 || cats[1].Name != "Bad Count" || cats[1].Quota != 0 {
		t.Errorf("Categories = %+v", cats)
	}
	if mode, ok := s.Mode.(selection.LotteryMode); !ok || mode.SkipPercent != DefaultLotterySkipPercent {
		t.Errorf("Mode = %#v", s.Mode)
	}
	if s.ItemCountPolicy != selection.Lenient {
		t.Errorf("ItemCountPolicy = %v", s.ItemCountPolicy)
	}

	// interval, repeat hours, min items, 2 slots, 2 specials, duplicate,
	// nameless, negative count, TV categories, skip percent, policy.
	if len(warnings) != 13 {
		t.Errorf("got %d warnings, want 13:\n%s", len(warnings), strings.Join(warnings, "\n"))
	}
}

func TestParseSettingsKeepsTitlesOfMalformedSpecials(t *testing.T) {
	tests := []struct {
		name    string
		special string
		active  bool
	}{
		{
			name:    "numeric date",
			special: `{"start_date": 1220, "end_date": "01-05", "collection_names": ["Holiday Pack"]}`,
		},
		{
			name:    "non-string name",
			special: `{"start_date": "12-20", "end_date": "01-05", "collection_names": ["Holiday Pack", 7]}`,
			active:  true,
		},
	}
	christmas := time.Date(2026, 12, 25, 12, 0, 0, 0, time.UTC)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := `{"plex_url": "http://p", "plex_token": "t", "special_collections": [` + tt.special + `]}`
			s, warnings, err := ParseSettings([]byte(raw))
			if err != nil {
				t.Fatalf("ParseSettings: %v", err)
			}
			if len(warnings) != 1 {
				t.Errorf("warnings = %v, want 1", warnings)
			}
			if len(s.Specials) != 1 || len(s.Specials[0].Titles) != 1 {
				t.Fatalf("Specials = %+v", s.Specials)
			}
			if _, ok := window.AllTitles(s.Specials)["Holiday Pack"]; !ok {
				t.Fatal("Holiday Pack missing from the always-excluded titles")
			}
			_, active := window.ActiveTitles(s.Specials, christmas, zerolog.Nop())["Holiday Pack"]
			if active != tt.active {
				t.Fatalf("active on Dec 25 = %v, want %v", active, tt.active)
			}
		})
	}
}

func TestParseSettingsMissingCredentials(t *testing.T) {
	s, _, err := ParseSettings([]byte(`{"plex_url": "http://p"}`))
	if !errors.Is(err, ErrMissingPlexCredentials) {
		t.Fatalf("err = %v, want ErrMissingPlexCredentials", err)
	}
	if s == nil || s.PlexURL != "http://p" {
		t.Fatal("settings should still be returned")
	}
}

func TestParseSettingsRejectsNonObject(t *testing.T) {
	for _, raw := range []string{`["a"]`, ``, `{{{`} {
		if _, _, err := ParseSettings([]byte(raw)); err == nil {
			t.Errorf("ParseSettings(%q) should fail", raw)
		}
	}
}

func TestLoadSettingsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `plex_url: http://plex:32400
plex_token: abc
library_names:
  - Movies
number_of_collections_to_pin:
  Movies: 3
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	s, _, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if s.Slots("Movies") != 3 || len(s.Libraries) != 1 {
		t.Fatalf("unexpected settings: %+v", s)
	}
}

func TestLoadSettingsMissingFile(t *testing.T) {
	if _, _, err := LoadSettings(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
