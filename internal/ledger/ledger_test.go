/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package ledger

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/collexions/internal/models"
)

var now = time.Date(2026, time.October, 16, 12, 0, 0, 0, time.UTC)

func ts(t time.Time) string { return FormatTimestamp(t) }

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"2026-10-16T12:00:00Z", false},
		{"2026-10-16T12:00:00+02:00", false},
		{"2026-10-16T12:00:00.123456", false},
		{"2026-10-16T12:00:00", false},
		{"2026-10-16 12:00:00", false},
		{"yesterday", true},
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := ParseTimestamp(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTimestamp(%q) err = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		wantLen   int
		wantDirty bool
	}{
		{"empty", "", 0, false},
		{"whitespace", "  \n", 0, false},
		{"not an object", `["a","b"]`, 0, true},
		{"garbage", `{{{`, 0, true},
		{"valid", `{"2026-10-16T10:00:00Z":["A","B"]}`, 1, false},
		{"wrong value types", `{"2026-10-16T10:00:00Z":"A","2026-10-16T11:00:00Z":[1,2],"2026-10-16T12:00:00Z":["C"]}`, 1, true},
		{"null value", `{"2026-10-16T10:00:00Z":null}`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, dirty := Decode([]byte(tt.data), zerolog.Nop())
			if len(l) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(l), tt.wantLen)
			}
			if dirty != tt.wantDirty {
				t.Errorf("dirty = %v, want %v", dirty, tt.wantDirty)
			}
		})
	}
}

func TestPruneIdempotent(t *testing.T) {
	l := Ledger{
		ts(now.Add(-1 * time.Hour)):  {"Fresh"},
		ts(now.Add(-13 * time.Hour)): {"Stale"},
		ts(now.Add(-30 * time.Hour)): {"Ancient"},
		"not-a-time":                 {"Corrupt"},
	}

	once, removed := Prune(l, now, 12*time.Hour)
	if removed != 3 {
		t.Fatalf("first prune removed %d, want 3", removed)
	}
	twice, removedAgain := Prune(once, now, 12*time.Hour)
	if removedAgain != 0 {
		t.Fatalf("second prune removed %d, want 0", removedAgain)
	}
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("prune not idempotent: %v vs %v", once, twice)
	}
	if len(l) != 4 {
		t.Fatal("Prune must not mutate its input")
	}
}

func TestPruneZeroWindowOnlyDropsCorrupt(t *testing.T) {
	l := Ledger{
		ts(now.Add(-300 * time.Hour)): {"Old"},
		"garbage":                     {"X"},
	}
	out, removed := Prune(l, now, 0)
	if removed != 1 || len(out) != 1 {
		t.Fatalf("Prune(window=0) = %v (removed %d), want only the old entry kept", out, removed)
	}
}

func TestRecentScenarioThirteenHoursAgo(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "selected_collections.json")
	store := NewFileStore(path, zerolog.Nop())
	if err := store.Save(ctx, Ledger{ts(now.Add(-13 * time.Hour)): {"X"}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	book, err := Load(ctx, store, zerolog.Nop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	recent, err := book.Recent(ctx, now, 12)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 0 {
		t.Fatalf("Recent = %v, want empty", recent)
	}

	persisted, _, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(persisted) != 0 {
		t.Fatalf("pruned entry still on disk: %v", persisted)
	}
}

func TestRecentReturnsTitlesInsideWindow(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "l.json"), zerolog.Nop())
	if err := store.Save(ctx, Ledger{
		ts(now.Add(-2 * time.Hour)):  {"A", "B"},
		ts(now.Add(-11 * time.Hour)): {"C"},
	}); err != nil {
		t.Fatal(err)
	}
	book, err := Load(ctx, store, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	recent, err := book.Recent(ctx, now, 12)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"A", "B", "C"} {
		if _, ok := recent[want]; !ok {
			t.Errorf("Recent missing %q", want)
		}
	}

	disabled, err := book.Recent(ctx, now, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(disabled) != 0 {
		t.Fatalf("Recent(window=0) = %v, want empty", disabled)
	}
}

func TestLoadRewritesCorruptFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "l.json")
	if err := os.WriteFile(path, []byte("this is not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := NewFileStore(path, zerolog.Nop())

	book, err := Load(ctx, store, zerolog.Nop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(book.Ledger()) != 0 {
		t.Fatalf("expected empty ledger, got %v", book.Ledger())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "{}" {
		t.Fatalf("corrupt file not overwritten, got %q", data)
	}
}

func TestLoadMissingFile(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "nested", "missing.json"), zerolog.Nop())
	book, err := Load(context.Background(), store, zerolog.Nop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(book.Ledger()) != 0 {
		t.Fatal("missing ledger should load empty")
	}
}

func TestRecord(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "l.json"), zerolog.Nop())
	book, err := Load(ctx, store, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	if err := book.Record(ctx, now, []string{"A", " ", "B", "A"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := book.Record(ctx, now, []string{"C"}); err != nil {
		t.Fatalf("Record overwrite: %v", err)
	}
	if err := book.Record(ctx, now.Add(time.Hour), nil); err != nil {
		t.Fatalf("Record empty: %v", err)
	}

	persisted, _, err := store.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := Ledger{ts(now): {"C"}}
	if !reflect.DeepEqual(persisted, want) {
		t.Fatalf("persisted = %v, want %v", persisted, want)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestEntriesNewestFirst(t *testing.T) {
	l := Ledger{
		ts(now.Add(-3 * time.Hour)): {"Old"},
		ts(now):                     {"New"},
		"junk":                      {"Junk"},
	}
	entries := l.Entries()
	if len(entries) != 3 {
		t.Fatalf("len = %d", len(entries))
	}
	if entries[0].Titles[0] != "New" || entries[1].Titles[0] != "Old" || entries[2].Titles[0] != "Junk" {
		t.Fatalf("unexpected order: %+v", entries)
	}
}

type memBlobs struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memBlobs) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[key] = append([]byte(nil), data...)
	return nil
}

func (m *memBlobs) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return d, nil
}

func TestObjectStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	blobs := &memBlobs{}
	store := NewObjectStore(blobs, "collexions/ledger.json", zerolog.Nop())

	l, dirty, err := store.Load(ctx)
	if err != nil || dirty || len(l) != 0 {
		t.Fatalf("Load on empty bucket = %v, %v, %v", l, dirty, err)
	}

	want := Ledger{ts(now): {"A"}}
	if err := store.Save(ctx, want); err != nil {
		t.Fatal(err)
	}
	got, _, err := store.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSQLStore(t *testing.T) {
	ctx := context.Background()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.LedgerEntry{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := NewSQLStore(db, zerolog.Nop())

	first := Ledger{ts(now): {"A", "B"}, ts(now.Add(-time.Hour)): {"C"}}
	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("Save: %v", err)
	}
	second := Ledger{ts(now): {"A", "B"}}
	if err := store.Save(ctx, second); err != nil {
		t.Fatalf("Save replace: %v", err)
	}

	got, dirty, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if dirty {
		t.Fatal("unexpected dirty flag")
	}
	if !reflect.DeepEqual(got, second) {
		t.Fatalf("got %v, want %v", got, second)
	}

	if err := db.Create(&models.LedgerEntry{Timestamp: "broken", Titles: "{"}).Error; err != nil {
		t.Fatal(err)
	}
	got, dirty, err = store.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !dirty || len(got) != 1 {
		t.Fatalf("malformed row not dropped: %v dirty=%v", got, dirty)
	}
}

func TestFileLock(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.lock")

	a := NewFileLock(path, time.Hour)
	b := NewFileLock(path, time.Hour)

	if err := a.Acquire(ctx); err != nil {
		t.Fatalf("a.Acquire: %v", err)
	}
	if err := b.Acquire(ctx); err != ErrLocked {
		t.Fatalf("b.Acquire = %v, want ErrLocked", err)
	}
	if err := a.Release(ctx); err != nil {
		t.Fatalf("a.Release: %v", err)
	}
	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("b.Acquire after release: %v", err)
	}
	if err := b.Release(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestFileLockTakesOverStaleLock(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.lock")
	if err := os.WriteFile(path, []byte("1 old\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-3 * time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}

	lock := NewFileLock(path, time.Hour)
	if err := lock.Acquire(ctx); err != nil {
		t.Fatalf("Acquire over stale lock: %v", err)
	}
	if err := lock.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("lock file still present: %v", err)
	}
}
