/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/collexions/internal/config"
	"github.com/friendsincode/collexions/internal/exclusion"
	"github.com/friendsincode/collexions/internal/window"
)

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the settings file and show the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runCheckConfig,
}

func init() {
	rootCmd.AddCommand(checkConfigCmd)
}

func runCheckConfig(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	settings, warnings, err := config.LoadSettings(cfg.ConfigPath)
	out := cmd.OutOrStdout()
	for _, w := range warnings {
		fmt.Fprintln(out, mutedStyle.Render("warning: "+w))
	}
	if settings == nil {
		return err
	}

	printSettings(out, settings, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "settings OK:", cfg.ConfigPath)
	return nil
}

func printSettings(out io.Writer, s *config.Settings, today time.Time) {
	t := newTable("Setting", "Value")
	t.Row("plex_url", s.PlexURL)
	t.Row("pinning_interval", s.PinningInterval.String())
	t.Row("repeat_block_hours", strconv.Itoa(s.RepeatBlockHours))
	t.Row("min_items_for_pinning", strconv.Itoa(s.MinItems))
	t.Row("collexions_label", s.Label)
	t.Row("mode", s.Mode.String())
	t.Row("item_count_policy", s.ItemCountPolicy.String())
	t.Row("discord_webhook_url", yesNo(s.DiscordWebhook != ""))
	t.Row("exclusion_list", strconv.Itoa(len(s.ExclusionList)))

	usable := exclusion.NewMatcher(s.ExclusionPatterns, logger).Len()
	t.Row("regex_exclusion_patterns", fmt.Sprintf("%d of %d usable", usable, len(s.ExclusionPatterns)))

	active := window.Sorted(window.ActiveTitles(s.Specials, today, logger))
	t.Row("special_collections", fmt.Sprintf("%d defined, active today: %s", len(s.Specials), listOrNone(active)))
	fmt.Fprintln(out, t.String())

	libs := newTable("Library", "Slots", "Categories")
	for _, lib := range s.Libraries {
		cats := make([]string, 0, len(s.Categories[lib]))
		for _, c := range s.Categories[lib] {
			cats = append(cats, fmt.Sprintf("%s (%d)", c.Name, c.Quota))
		}
		libs.Row(lib, strconv.Itoa(s.Slots(lib)), listOrNone(cats))
	}
	fmt.Fprintln(out, libs.String())
}

func yesNo(b bool) string {
	if b {
		return "set"
	}
	return "not set"
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
