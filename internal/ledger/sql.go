/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package ledger

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/collexions/internal/models"
)

// SQLStore keeps one row per run in the ledger_entries table.
type SQLStore struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewSQLStore returns a store over db. The table must already be migrated.
func NewSQLStore(db *gorm.DB, logger zerolog.Logger) *SQLStore {
	return &SQLStore{db: db, logger: logger.With().Str("component", "ledger_sql").Logger()}
}

// Load reads every ledger row.
func (s *SQLStore) Load(ctx context.Context) (Ledger, bool, error) {
	var rows []models.LedgerEntry
	if err := s.db.WithContext(ctx).Order("timestamp").Find(&rows).Error; err != nil {
		return nil, false, fmt.Errorf("query ledger: %w", err)
	}

	l := make(Ledger, len(rows))
	dirty := false
	for _, row := range rows {
		var titles []string
		if err := json.Unmarshal([]byte(row.Titles), &titles); err != nil || titles == nil {
			s.logger.Warn().Str("timestamp", row.Timestamp).Msg("dropping malformed ledger row")
			dirty = true
			continue
		}
		l[row.Timestamp] = titles
	}
	return l, dirty, nil
}

// Save replaces the table contents with l in one transaction.
func (s *SQLStore) Save(ctx context.Context, l Ledger) error {
	rows := make([]models.LedgerEntry, 0, len(l))
	for ts, titles := range l {
		encoded, err := json.Marshal(titles)
		if err != nil {
			return fmt.Errorf("encode titles for %s: %w", ts, err)
		}
		rows = append(rows, models.LedgerEntry{Timestamp: ts, Titles: string(encoded)})
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.LedgerEntry{}).Error; err != nil {
			return fmt.Errorf("clear ledger: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("insert ledger: %w", err)
		}
		return nil
	})
}
