/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/collexions/internal/config"
	"github.com/friendsincode/collexions/internal/ledger"
	"github.com/friendsincode/collexions/internal/models"
)

func TestConnectAndMigrate(t *testing.T) {
	database, err := Connect(&config.Config{DBBackend: config.DatabaseSQLite, DBDSN: ":memory:"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = Close(database) })

	if err := Migrate(database); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if !database.Migrator().HasTable(&models.LedgerEntry{}) {
		t.Fatal("ledger_entries table missing after migrate")
	}

	if err := database.Create(&models.LedgerEntry{Timestamp: "  ", Titles: `["x"]`}).Error; err != nil {
		t.Fatalf("seed blank row: %v", err)
	}
	if err := Migrate(database); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	var count int64
	database.Model(&models.LedgerEntry{}).Count(&count)
	if count != 0 {
		t.Fatalf("blank timestamp rows left behind: %d", count)
	}

	store := ledger.NewSQLStore(database, zerolog.Nop())
	ts := ledger.FormatTimestamp(time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC))
	if err := store.Save(context.Background(), ledger.Ledger{ts: {"Noir"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, _, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if titles := got[ts]; len(titles) != 1 || titles[0] != "Noir" {
		t.Fatalf("ledger = %v", got)
	}

	UpdateConnectionMetrics(database)
}

func TestConnectUnknownBackend(t *testing.T) {
	if _, err := Connect(&config.Config{DBBackend: "oracle"}); err == nil {
		t.Fatal("expected an error for an unknown backend")
	}
}
