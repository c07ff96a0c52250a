/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Store persists a ledger. Load on a store with nothing saved yet returns an
// empty ledger and no error. dirty reports that malformed content was dropped.
type Store interface {
	Load(ctx context.Context) (l Ledger, dirty bool, err error)
	Save(ctx context.Context, l Ledger) error
}

// FileStore keeps the ledger in a single JSON file.
type FileStore struct {
	path   string
	logger zerolog.Logger
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string, logger zerolog.Logger) *FileStore {
	return &FileStore{path: path, logger: logger.With().Str("component", "ledger_file").Logger()}
}

// Path returns the ledger file location.
func (s *FileStore) Path() string { return s.path }

// Load reads the ledger file.
func (s *FileStore) Load(ctx context.Context) (Ledger, bool, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Debug().Str("path", s.path).Msg("ledger file not found, starting empty")
		return make(Ledger), false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read ledger: %w", err)
	}
	l, dirty := Decode(data, s.logger)
	return l, dirty, nil
}

// Save writes the ledger to a temp file in the same directory and renames it
// over the target.
func (s *FileStore) Save(ctx context.Context, l Ledger) error {
	data, err := l.Encode()
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	return WriteFileAtomic(s.path, data, 0o644)
}

// WriteFileAtomic writes data to path via a temp file plus rename.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// ErrObjectNotFound is returned by a Blobs implementation when the key is absent.
var ErrObjectNotFound = errors.New("object not found")

// Blobs is the subset of object storage the ledger needs.
type Blobs interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// ObjectStore keeps the ledger as a single object. Object puts replace the
// whole object, so no partial writes are visible.
type ObjectStore struct {
	blobs  Blobs
	key    string
	logger zerolog.Logger
}

// NewObjectStore returns a store writing the ledger under key.
func NewObjectStore(blobs Blobs, key string, logger zerolog.Logger) *ObjectStore {
	return &ObjectStore{blobs: blobs, key: key, logger: logger.With().Str("component", "ledger_object").Logger()}
}

// Load fetches the ledger object.
func (s *ObjectStore) Load(ctx context.Context) (Ledger, bool, error) {
	data, err := s.blobs.Get(ctx, s.key)
	if errors.Is(err, ErrObjectNotFound) {
		s.logger.Debug().Str("key", s.key).Msg("ledger object not found, starting empty")
		return make(Ledger), false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get ledger object: %w", err)
	}
	l, dirty := Decode(data, s.logger)
	return l, dirty, nil
}

// Save uploads the ledger object.
func (s *ObjectStore) Save(ctx context.Context, l Ledger) error {
	data, err := l.Encode()
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	if err := s.blobs.Put(ctx, s.key, data); err != nil {
		return fmt.Errorf("put ledger object: %w", err)
	}
	return nil
}
