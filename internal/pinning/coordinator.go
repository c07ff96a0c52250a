/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package pinning runs pinning cycles: it reads the settings, resolves the
// override and exclusion sets, unpins last cycle's collections, selects new
// ones per library, pins and labels them, and updates the recency ledger.
package pinning

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/collexions/internal/catalog"
	"github.com/friendsincode/collexions/internal/config"
	"github.com/friendsincode/collexions/internal/events"
	"github.com/friendsincode/collexions/internal/exclusion"
	"github.com/friendsincode/collexions/internal/ledger"
	"github.com/friendsincode/collexions/internal/selection"
	"github.com/friendsincode/collexions/internal/status"
	"github.com/friendsincode/collexions/internal/telemetry"
	"github.com/friendsincode/collexions/internal/window"
)

// ErrAllLibrariesFailed is returned when no configured library could be processed.
var ErrAllLibrariesFailed = errors.New("every library failed")

// Catalog is the media-server surface a run needs.
type Catalog interface {
	Collections(ctx context.Context, library string) ([]catalog.Collection, error)
	Promote(ctx context.Context, library string, col catalog.Collection) error
	Demote(ctx context.Context, library string, col catalog.Collection) error
	AddLabel(ctx context.Context, library string, col catalog.Collection, label string) error
	RemoveLabel(ctx context.Context, library string, col catalog.Collection, label string) error
}

// WebhookSetter receives the webhook URL of each run's settings.
type WebhookSetter interface {
	SetWebhookURL(url string)
}

// Deps wires a Coordinator. Settings, Catalog and Store are required.
type Deps struct {
	// Settings loads the pinning settings fresh for each run.
	Settings func() (*config.Settings, []string, error)
	// Catalog returns a client for the run's Plex URL and token.
	Catalog func(baseURL, token string) Catalog
	Store   ledger.Store
	Locker  ledger.Locker

	Bus      *events.Bus
	Status   *status.Tracker
	Notifier WebhookSetter

	// Rand returns the random source for one run. Defaults to a time-seeded source.
	Rand func() rand.Source
	Now  func() time.Time
}

// Coordinator executes pinning runs.
type Coordinator struct {
	deps   Deps
	logger zerolog.Logger
}

// New creates a coordinator.
func New(deps Deps, logger zerolog.Logger) *Coordinator {
	if deps.Locker == nil {
		deps.Locker = ledger.NopLocker{}
	}
	if deps.Rand == nil {
		deps.Rand = func() rand.Source { return rand.NewSource(time.Now().UnixNano()) }
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Coordinator{deps: deps, logger: logger.With().Str("component", "pinning").Logger()}
}

// RunOptions control a single run.
type RunOptions struct {
	// RunID tags logs and events. Generated when empty.
	RunID string
	// DryRun selects without touching Plex or the ledger.
	DryRun bool
	// NextRun is reported in the status file while the run is in progress.
	NextRun time.Time
}

// LibraryReport describes what a run did to one library.
type LibraryReport struct {
	Library   string           `json:"library"`
	Selection selection.Result `json:"selection"`
	Pinned    []string         `json:"pinned,omitempty"`
	Unpinned  []string         `json:"unpinned,omitempty"`
	Failed    []string         `json:"failed,omitempty"`
	Error     string           `json:"error,omitempty"`

	err error
}

// Report summarizes a run.
type Report struct {
	RunID      string          `json:"run_id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	DryRun     bool            `json:"dry_run"`
	Mode       string          `json:"mode"`
	Libraries  []LibraryReport `json:"libraries"`
	// Recorded lists the titles written to the recency ledger.
	Recorded []string `json:"recorded,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Totals sums pins, unpins and failures over all libraries.
func (r *Report) Totals() (pinned, unpinned, failed int) {
	for _, lib := range r.Libraries {
		pinned += len(lib.Pinned)
		unpinned += len(lib.Unpinned)
		failed += len(lib.Failed)
	}
	return
}

// plan holds the per-run inputs shared by every library.
type plan struct {
	settings *config.Settings
	active   map[string]struct{}
	specials map[string]struct{}
	excluded map[string]struct{}
	explicit map[string]struct{}
	patterns *exclusion.Matcher
	recent   map[string]struct{}
	client   Catalog
	engine   *selection.Engine
}

// Run executes one pinning run over every configured library.
func (c *Coordinator) Run(ctx context.Context, opts RunOptions) (*Report, error) {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	start := c.deps.Now()
	logger := c.logger.With().Str("run_id", opts.RunID).Logger()

	ctx, span := telemetry.StartRunSpan(ctx, opts.RunID, opts.DryRun)
	var err error
	defer func() { telemetry.EndSpan(span, err) }()

	report := &Report{RunID: opts.RunID, StartedAt: start, DryRun: opts.DryRun}
	c.setStatus(status.StateRunning, opts.NextRun)
	c.publish(events.EventRunStarted, events.Payload{events.KeyRunID: opts.RunID, events.KeyDryRun: opts.DryRun})
	logger.Info().Bool("dry_run", opts.DryRun).Msg("pinning run started")

	report, err = c.run(ctx, logger, opts, report)
	report.FinishedAt = c.deps.Now()
	if report.Mode != "" {
		span.SetAttributes(telemetry.AttrMode.String(report.Mode))
	}
	duration := report.FinishedAt.Sub(start)

	switch {
	case errors.Is(err, ledger.ErrLocked):
		telemetry.RunsTotal.WithLabelValues("locked").Inc()
		logger.Warn().Msg("another run holds the ledger, skipping")
		return report, err
	case err != nil:
		telemetry.RunsTotal.WithLabelValues("failed").Inc()
		c.setStatus(status.Error(err.Error()), opts.NextRun)
		c.publish(events.EventRunFailed, events.Payload{events.KeyRunID: opts.RunID, events.KeyError: err.Error()})
		logger.Error().Err(err).Dur("duration", duration).Msg("pinning run failed")
		return report, err
	}

	if opts.DryRun {
		telemetry.RunsTotal.WithLabelValues("dry_run").Inc()
	} else {
		telemetry.RunsTotal.WithLabelValues("success").Inc()
		telemetry.RunDuration.Observe(duration.Seconds())
		telemetry.LastRunTimestamp.Set(float64(report.FinishedAt.Unix()))
	}

	pinned, unpinned, failed := report.Totals()
	libs := make([]string, 0, len(report.Libraries))
	for _, l := range report.Libraries {
		libs = append(libs, l.Library)
	}
	if !opts.DryRun {
		c.publish(events.EventRunCompleted, events.Payload{
			events.KeyRunID:     opts.RunID,
			events.KeyPinned:    pinned,
			events.KeyUnpinned:  unpinned,
			events.KeyFailed:    failed,
			events.KeyLibraries: libs,
			events.KeyDuration:  duration.Milliseconds(),
		})
	}
	logger.Info().
		Int("pinned", pinned).
		Int("unpinned", unpinned).
		Int("failed", failed).
		Int("recorded", len(report.Recorded)).
		Dur("duration", duration).
		Msg("pinning run finished")
	return report, nil
}

func (c *Coordinator) run(ctx context.Context, logger zerolog.Logger, opts RunOptions, report *Report) (*Report, error) {
	settings, err := c.loadSettings(logger, report)
	if err != nil {
		return report, err
	}
	report.Mode = modeName(settings.Mode)
	if c.deps.Notifier != nil {
		c.deps.Notifier.SetWebhookURL(settings.DiscordWebhook)
	}

	var book *ledger.Book
	var recent map[string]struct{}
	now := c.deps.Now()

	if opts.DryRun {
		recent, err = c.recentReadOnly(ctx, now, settings.RepeatBlockHours)
		if err != nil {
			return report, err
		}
	} else {
		if err := c.deps.Locker.Acquire(ctx); err != nil {
			return report, err
		}
		defer func() {
			if err := c.deps.Locker.Release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn().Err(err).Msg("failed to release ledger lock")
			}
		}()

		book, err = ledger.Load(ctx, c.deps.Store, logger)
		if err != nil {
			return report, fmt.Errorf("load ledger: %w", err)
		}
		recent, err = book.Recent(ctx, now, settings.RepeatBlockHours)
		if err != nil {
			return report, err
		}
		telemetry.LedgerEntries.Set(float64(len(book.Ledger())))
	}

	p := c.newPlan(settings, now, recent, logger)

	var firstErr error
	failedLibs := 0
	for _, lib := range settings.Libraries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		c.setStatus(status.Processing(lib), opts.NextRun)

		lr := c.runLibrary(ctx, logger, p, lib, opts.DryRun)
		if lr.err != nil {
			failedLibs++
			if firstErr == nil {
				firstErr = lr.err
			}
		}
		report.Libraries = append(report.Libraries, lr)
	}

	if len(settings.Libraries) > 0 && failedLibs == len(settings.Libraries) {
		return report, fmt.Errorf("%w: %w", ErrAllLibrariesFailed, firstErr)
	}

	if opts.DryRun {
		return report, nil
	}

	report.Recorded = recordable(report.Libraries, p.specials)
	if len(report.Recorded) == 0 {
		logger.Info().Msg("nothing recordable was pinned this run, ledger unchanged")
		return report, nil
	}
	if err := book.Record(ctx, now, report.Recorded); err != nil {
		return report, err
	}
	telemetry.LedgerEntries.Set(float64(len(book.Ledger())))
	return report, nil
}

// Preview selects for one library without changing anything.
func (c *Coordinator) Preview(ctx context.Context, library string) (*LibraryReport, error) {
	logger := c.logger.With().Str("preview", library).Logger()
	report := &Report{}
	settings, err := c.loadSettings(logger, report)
	if err != nil {
		return nil, err
	}

	now := c.deps.Now()
	recent, err := c.recentReadOnly(ctx, now, settings.RepeatBlockHours)
	if err != nil {
		return nil, err
	}

	p := c.newPlan(settings, now, recent, logger)
	lr := c.runLibrary(ctx, logger, p, library, true)
	return &lr, lr.err
}

func (c *Coordinator) loadSettings(logger zerolog.Logger, report *Report) (*config.Settings, error) {
	settings, warnings, err := c.deps.Settings()
	for _, w := range warnings {
		logger.Warn().Str("issue", w).Msg("settings problem")
	}
	report.Warnings = warnings
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return settings, nil
}

// recentReadOnly computes the recent set without persisting the prune.
func (c *Coordinator) recentReadOnly(ctx context.Context, now time.Time, windowHours int) (map[string]struct{}, error) {
	l, _, err := c.deps.Store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	if windowHours <= 0 {
		return map[string]struct{}{}, nil
	}
	pruned, _ := ledger.Prune(l, now, time.Duration(windowHours)*time.Hour)
	return pruned.Titles(), nil
}

func (c *Coordinator) newPlan(settings *config.Settings, now time.Time, recent map[string]struct{}, logger zerolog.Logger) *plan {
	active := window.ActiveTitles(settings.Specials, now, logger)
	specials := window.AllTitles(settings.Specials)

	explicit := make(map[string]struct{}, len(settings.ExclusionList))
	for _, t := range settings.ExclusionList {
		if t = strings.TrimSpace(t); t != "" {
			explicit[t] = struct{}{}
		}
	}

	p := &plan{
		settings: settings,
		active:   active,
		specials: specials,
		excluded: exclusion.FullyExcluded(settings.ExclusionList, specials, active),
		explicit: explicit,
		patterns: exclusion.NewMatcher(settings.ExclusionPatterns, logger),
		recent:   recent,
		client:   c.deps.Catalog(settings.PlexURL, settings.PlexToken),
		engine:   selection.New(c.deps.Rand(), logger),
	}
	logger.Info().
		Int("active_overrides", len(active)).
		Int("excluded", len(p.excluded)).
		Int("patterns", p.patterns.Len()).
		Int("recent", len(recent)).
		Msg("run inputs resolved")
	return p
}

func (c *Coordinator) runLibrary(ctx context.Context, logger zerolog.Logger, p *plan, library string, dryRun bool) LibraryReport {
	ctx, span := telemetry.StartLibrarySpan(ctx, library, dryRun)
	var err error
	defer func() { telemetry.EndSpan(span, err) }()

	logger = logger.With().Str("library", library).Logger()
	lr := LibraryReport{Library: library}

	cols, err := p.client.Collections(ctx, library)
	if err != nil {
		lr.err = fmt.Errorf("fetch collections for %q: %w", library, err)
		lr.Error = lr.err.Error()
		logger.Error().Err(err).Msg("failed to fetch collections")
		return lr
	}
	logger.Info().Int("collections", len(cols)).Msg("fetched collections")

	if !dryRun {
		lr.Unpinned = c.unpinManaged(ctx, logger, p, library, cols)
	}

	byID := make(map[string]catalog.Collection, len(cols))
	pool := make([]selection.Candidate, 0, len(cols))
	for _, col := range cols {
		byID[col.RatingKey] = col
		pool = append(pool, col.Candidate())
	}

	result := p.engine.Select(selection.Request{
		Library:         library,
		Pool:            pool,
		ActiveOverrides: p.active,
		Excluded:        p.excluded,
		Patterns:        p.patterns,
		Recent:          p.recent,
		MinItems:        p.settings.MinItems,
		Policy:          p.settings.ItemCountPolicy,
		Slots:           p.settings.Slots(library),
		Categories:      p.settings.Categories[library],
		Mode:            p.settings.Mode,
	})
	lr.Selection = result
	observeSelection(library, result)
	telemetry.SetSelectionAttributes(span, result.Mode, result.Eligible, len(result.Picks), len(result.Withheld))

	if dryRun {
		return lr
	}

	for _, pick := range result.Picks {
		col := byID[pick.ID]
		if err := p.client.Promote(ctx, library, col); err != nil {
			lr.Failed = append(lr.Failed, pick.Title)
			telemetry.PinnedTotal.WithLabelValues(library, "pin", "error").Inc()
			logger.Error().Err(err).Str("title", pick.Title).Msg("failed to pin collection")
			c.publish(events.EventPinFailed, events.Payload{
				events.KeyLibrary: library,
				events.KeyTitle:   pick.Title,
				events.KeyError:   err.Error(),
			})
			continue
		}
		telemetry.PinnedTotal.WithLabelValues(library, "pin", "ok").Inc()

		if label := p.settings.Label; label != "" {
			if err := p.client.AddLabel(ctx, library, col, label); err != nil {
				telemetry.PinnedTotal.WithLabelValues(library, "label", "error").Inc()
				logger.Warn().Err(err).Str("title", pick.Title).Str("label", label).Msg("pinned but failed to add label")
			} else {
				telemetry.PinnedTotal.WithLabelValues(library, "label", "ok").Inc()
			}
		}

		lr.Pinned = append(lr.Pinned, pick.Title)
		logger.Info().Str("title", pick.Title).Str("tier", pick.Tier.String()).Str("category", pick.Category).Msg("pinned collection")
		c.publish(events.EventCollectionPinned, events.Payload{
			events.KeyLibrary:    library,
			events.KeyTitle:      pick.Title,
			events.KeyItemCount:  pick.ItemCount,
			events.KeyCountKnown: pick.CountKnown,
			events.KeyTier:       pick.Tier.String(),
			events.KeyCategory:   pick.Category,
		})
	}
	return lr
}

// unpinManaged demotes the collections a previous run pinned: promoted ones
// carrying the managed label whose title is not explicitly excluded.
func (c *Coordinator) unpinManaged(ctx context.Context, logger zerolog.Logger, p *plan, library string, cols []catalog.Collection) []string {
	label := p.settings.Label
	if label == "" {
		logger.Warn().Msg("no managed label configured, skipping unpin pass")
		return nil
	}

	var unpinned []string
	for i, col := range cols {
		if !col.Promoted || !col.HasLabel(label) {
			continue
		}
		if _, keep := p.explicit[strings.TrimSpace(col.Title)]; keep {
			logger.Debug().Str("title", col.Title).Msg("leaving excluded collection pinned")
			continue
		}

		if err := p.client.RemoveLabel(ctx, library, col, label); err != nil {
			telemetry.PinnedTotal.WithLabelValues(library, "unlabel", "error").Inc()
			logger.Warn().Err(err).Str("title", col.Title).Msg("failed to remove label")
		}
		if err := p.client.Demote(ctx, library, col); err != nil {
			telemetry.PinnedTotal.WithLabelValues(library, "unpin", "error").Inc()
			logger.Error().Err(err).Str("title", col.Title).Msg("failed to unpin collection")
			continue
		}
		telemetry.PinnedTotal.WithLabelValues(library, "unpin", "ok").Inc()

		cols[i].Promoted = false
		unpinned = append(unpinned, col.Title)
		c.publish(events.EventCollectionUnpinned, events.Payload{
			events.KeyLibrary: library,
			events.KeyTitle:   col.Title,
		})
	}
	logger.Info().Int("unpinned", len(unpinned)).Msg("unpin pass complete")
	return unpinned
}

// recordable returns the sorted, de-duplicated titles to add to the ledger:
// successful pins that did not come from the override tier and are not
// special titles.
func recordable(libs []LibraryReport, specials map[string]struct{}) []string {
	seen := make(map[string]struct{})
	for _, lib := range libs {
		pinned := make(map[string]struct{}, len(lib.Pinned))
		for _, t := range lib.Pinned {
			pinned[t] = struct{}{}
		}
		for _, pick := range lib.Selection.Picks {
			if pick.Tier == selection.TierOverride {
				continue
			}
			if _, ok := pinned[pick.Title]; !ok {
				continue
			}
			if _, special := specials[pick.Title]; special {
				continue
			}
			seen[pick.Title] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func observeSelection(library string, r selection.Result) {
	telemetry.EligiblePool.WithLabelValues(library).Set(float64(r.Eligible))
	for reason, n := range r.Discarded {
		telemetry.DiscardedTotal.WithLabelValues(library, reason).Add(float64(n))
	}
	for tier, n := range r.CountByTier() {
		telemetry.PicksTotal.WithLabelValues(library, tier.String()).Add(float64(n))
	}
	if r.CategorySkipped {
		telemetry.CategoryLotterySkips.WithLabelValues(library).Inc()
	}
}

func modeName(m selection.Mode) string {
	if m == nil {
		return selection.QuotaMode{}.String()
	}
	return m.String()
}

func (c *Coordinator) publish(et events.EventType, payload events.Payload) {
	if c.deps.Bus != nil {
		c.deps.Bus.Publish(et, payload)
	}
}

func (c *Coordinator) setStatus(state string, next time.Time) {
	if c.deps.Status != nil {
		c.deps.Status.Update(state, next)
	}
}
