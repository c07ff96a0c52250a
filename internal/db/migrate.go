/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/friendsincode/collexions/internal/models"
)

// Migrate applies the ledger schema using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(&models.LedgerEntry{}); err != nil {
		return fmt.Errorf("migrate ledger schema: %w", err)
	}
	if err := dropBlankTimestamps(database); err != nil {
		return err
	}
	return nil
}

// dropBlankTimestamps removes rows that can never parse as a run time.
func dropBlankTimestamps(database *gorm.DB) error {
	if err := database.Exec("DELETE FROM ledger_entries WHERE TRIM(timestamp) = ''").Error; err != nil {
		return fmt.Errorf("drop blank ledger timestamps: %w", err)
	}
	return nil
}
