/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Book is a loaded ledger bound to the store it came from. A Book is owned by
// one run and is not safe for concurrent use.
type Book struct {
	store  Store
	ledger Ledger
	logger zerolog.Logger
}

// Load reads the ledger from store. Malformed content found while loading is
// dropped and the cleaned ledger is written back right away.
func Load(ctx context.Context, store Store, logger zerolog.Logger) (*Book, error) {
	l, dirty, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	b := &Book{store: store, ledger: l, logger: logger.With().Str("component", "ledger").Logger()}
	if dirty {
		if err := store.Save(ctx, l); err != nil {
			return nil, fmt.Errorf("persist cleaned ledger: %w", err)
		}
		b.logger.Info().Int("entries", len(l)).Msg("rewrote ledger after dropping malformed entries")
	}
	return b, nil
}

// Ledger returns a copy of the current ledger.
func (b *Book) Ledger() Ledger {
	return b.ledger.Clone()
}

// Recent prunes the ledger against now and returns every title pinned within
// the last windowHours. A window of zero disables the recency check and
// returns an empty set; unparseable timestamps are still dropped. Any prune is
// persisted before returning.
func (b *Book) Recent(ctx context.Context, now time.Time, windowHours int) (map[string]struct{}, error) {
	if windowHours < 0 {
		windowHours = 0
	}
	pruned, removed := Prune(b.ledger, now, time.Duration(windowHours)*time.Hour)
	if removed > 0 {
		if err := b.store.Save(ctx, pruned); err != nil {
			return nil, fmt.Errorf("persist pruned ledger: %w", err)
		}
		b.logger.Info().Int("removed", removed).Int("remaining", len(pruned)).
			Int("window_hours", windowHours).Msg("pruned ledger")
	}
	b.ledger = pruned

	if windowHours == 0 {
		return map[string]struct{}{}, nil
	}
	return b.ledger.Titles(), nil
}

// Record stores titles under the run timestamp, replacing any entry already
// there, and saves the ledger. Blank and duplicate titles are dropped. An
// empty title list is not recorded.
func (b *Book) Record(ctx context.Context, at time.Time, titles []string) error {
	seen := make(map[string]struct{}, len(titles))
	clean := make([]string, 0, len(titles))
	for _, t := range titles {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		clean = append(clean, t)
	}
	if len(clean) == 0 {
		return nil
	}

	next := b.ledger.Clone()
	key := FormatTimestamp(at)
	next[key] = clean
	if err := b.store.Save(ctx, next); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	b.ledger = next
	b.logger.Info().Str("timestamp", key).Strs("titles", clean).Msg("recorded pinned titles")
	return nil
}
