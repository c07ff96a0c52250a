/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// LedgerEntry is one run's worth of featured titles.
type LedgerEntry struct {
	Timestamp string `gorm:"type:varchar(64);primaryKey"`
	Titles    string `gorm:"type:text"` // JSON array of titles
	CreatedAt time.Time
}

// TableName pins the table name regardless of naming strategy.
func (LedgerEntry) TableName() string { return "ledger_entries" }
