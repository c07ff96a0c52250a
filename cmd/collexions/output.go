/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	json "github.com/goccy/go-json"

	"github.com/friendsincode/collexions/internal/ledger"
	"github.com/friendsincode/collexions/internal/pinning"
	"github.com/friendsincode/collexions/internal/selection"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	mutedStyle = lipgloss.NewStyle().Faint(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...)
}

func writeJSONOut(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func picksTable(res selection.Result) string {
	t := newTable("#", "Collection", "Items", "Tier", "Category")
	for i, p := range res.Picks {
		items := "?"
		if p.CountKnown {
			items = strconv.Itoa(p.ItemCount)
		}
		t.Row(strconv.Itoa(i+1), p.Title, items, p.Tier.String(), p.Category)
	}
	return t.String()
}

func discardSummary(discarded map[string]int) string {
	if len(discarded) == 0 {
		return "none"
	}
	reasons := make([]string, 0, len(discarded))
	for reason := range discarded {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	parts := make([]string, len(reasons))
	for i, reason := range reasons {
		parts[i] = fmt.Sprintf("%s=%d", reason, discarded[reason])
	}
	return strings.Join(parts, " ")
}

func printLibrary(w io.Writer, lr pinning.LibraryReport) {
	fmt.Fprintln(w, titleStyle.Render(lr.Library))
	if lr.Error != "" {
		fmt.Fprintln(w, errorStyle.Render("  error: "+lr.Error))
		return
	}
	sel := lr.Selection
	fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("  mode %s, %d eligible, discarded: %s",
		sel.Mode, sel.Eligible, discardSummary(sel.Discarded))))
	if sel.CategorySkipped {
		fmt.Fprintln(w, mutedStyle.Render("  category tier skipped by lottery"))
	} else if sel.ChosenCategory != "" {
		fmt.Fprintln(w, mutedStyle.Render("  lottery chose category "+sel.ChosenCategory))
	}
	if len(sel.Picks) == 0 {
		fmt.Fprintln(w, "  nothing selected")
	} else {
		fmt.Fprintln(w, picksTable(sel))
	}
	if len(lr.Unpinned) > 0 {
		fmt.Fprintf(w, "  unpinned: %s\n", strings.Join(lr.Unpinned, ", "))
	}
	if len(lr.Failed) > 0 {
		fmt.Fprintln(w, errorStyle.Render("  failed to pin: "+strings.Join(lr.Failed, ", ")))
	}
}

func printReport(w io.Writer, report *pinning.Report) {
	header := fmt.Sprintf("Run %s (%s)", report.RunID, report.Mode)
	if report.DryRun {
		header += " [dry run]"
	}
	fmt.Fprintln(w, titleStyle.Render(header))
	for _, warning := range report.Warnings {
		fmt.Fprintln(w, mutedStyle.Render("warning: "+warning))
	}
	for _, lr := range report.Libraries {
		printLibrary(w, lr)
	}
	pinned, unpinned, failed := report.Totals()
	fmt.Fprintf(w, "pinned %d, unpinned %d, failed %d, recorded %d\n", pinned, unpinned, failed, len(report.Recorded))
}

func historyTable(entries []ledger.Entry) string {
	t := newTable("Run", "Collections")
	for _, e := range entries {
		when := e.Timestamp
		if !e.Time.IsZero() {
			when = e.Time.Local().Format("2006-01-02 15:04")
		}
		t.Row(when, strings.Join(e.Titles, ", "))
	}
	return t.String()
}
