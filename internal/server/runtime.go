/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/collexions/internal/catalog"
	"github.com/friendsincode/collexions/internal/config"
	"github.com/friendsincode/collexions/internal/db"
	"github.com/friendsincode/collexions/internal/events"
	"github.com/friendsincode/collexions/internal/leadership"
	"github.com/friendsincode/collexions/internal/ledger"
	"github.com/friendsincode/collexions/internal/notifications"
	"github.com/friendsincode/collexions/internal/pinning"
	"github.com/friendsincode/collexions/internal/status"
	"github.com/friendsincode/collexions/internal/storage"
)

// Runtime holds the services a pinning run needs. The serve command wraps it
// in a Server; one-shot commands use it directly.
type Runtime struct {
	Config      *config.Config
	Bus         *events.Bus
	Store       ledger.Store
	Locker      ledger.Locker
	Status      *status.Tracker
	Notifier    *notifications.Service
	Catalogs    *catalog.Factory
	Coordinator *pinning.Coordinator

	// Redis is nil unless COLLEXIONS_REDIS_ADDR is set.
	Redis *redis.Client
	// DB is nil unless the ledger backend is sql.
	DB *gorm.DB

	logger  zerolog.Logger
	closers []func() error
}

// NewRuntime opens the ledger backend and lock, and builds the coordinator.
// The status tracker writes status.json only when trackStatus is set.
func NewRuntime(ctx context.Context, cfg *config.Config, trackStatus bool, logger zerolog.Logger) (*Runtime, error) {
	rt := &Runtime{
		Config: cfg,
		Bus:    events.NewBus(),
		logger: logger,
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	if cfg.RedisAddr != "" {
		client, err := leadership.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		rt.Redis = client
		rt.deferClose(client.Close)
		logger.Info().Str("redis_addr", cfg.RedisAddr).Msg("connected to Redis")
	}

	store, err := rt.openStore(ctx)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.Store = store

	if rt.Redis != nil {
		rt.Locker = leadership.NewMutex(rt.Redis, leadership.DefaultLedgerLockKey, cfg.LockStaleAfter, logger)
	} else {
		rt.Locker = ledger.NewFileLock(cfg.LockPath(), cfg.LockStaleAfter)
	}

	statusPath := ""
	if trackStatus {
		statusPath = cfg.StatusPath()
	}
	rt.Status = status.NewTracker(statusPath, logger)
	rt.Notifier = notifications.NewService(rt.Bus, notifications.DefaultConfig(), logger)
	rt.Catalogs = catalog.NewFactory(catalog.Options{}, logger)

	rt.Coordinator = pinning.New(pinning.Deps{
		Settings: rt.LoadSettings,
		Catalog:  func(baseURL, token string) pinning.Catalog { return rt.Catalogs.Client(baseURL, token) },
		Store:    rt.Store,
		Locker:   rt.Locker,
		Bus:      rt.Bus,
		Status:   rt.Status,
		Notifier: rt.Notifier,
	}, logger)

	return rt, nil
}

func (rt *Runtime) openStore(ctx context.Context) (ledger.Store, error) {
	cfg := rt.Config
	switch cfg.LedgerBackend {
	case config.LedgerS3:
		blobs, err := storage.NewS3Store(ctx, storage.S3Config{
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			Endpoint:        cfg.S3Endpoint,
			UsePathStyle:    cfg.S3UsePathStyle,
		}, rt.logger)
		if err != nil {
			return nil, fmt.Errorf("open s3 ledger: %w", err)
		}
		return ledger.NewObjectStore(blobs, cfg.LedgerKey, rt.logger), nil

	case config.LedgerSQL:
		database, err := db.Connect(cfg)
		if err != nil {
			return nil, fmt.Errorf("open sql ledger: %w", err)
		}
		rt.deferClose(func() error { return db.Close(database) })
		if err := db.Migrate(database); err != nil {
			return nil, err
		}
		rt.DB = database
		return ledger.NewSQLStore(database, rt.logger), nil

	default:
		return ledger.NewFileStore(cfg.LedgerPath(), rt.logger), nil
	}
}

// LoadSettings reads the pinning settings file.
func (rt *Runtime) LoadSettings() (*config.Settings, []string, error) {
	return config.LoadSettings(rt.Config.ConfigPath)
}

// Interval returns the configured pinning interval, falling back to the
// default when the settings file cannot be read.
func (rt *Runtime) Interval() time.Duration {
	settings, _, err := rt.LoadSettings()
	if settings == nil {
		rt.logger.Warn().Err(err).Dur("interval", config.DefaultPinningInterval).
			Msg("cannot read pinning interval, using default")
		return config.DefaultPinningInterval
	}
	if err != nil && !errors.Is(err, config.ErrMissingPlexCredentials) {
		rt.logger.Warn().Err(err).Msg("settings problem while reading interval")
	}
	return settings.PinningInterval
}

// Close releases resources in reverse order of acquisition.
func (rt *Runtime) Close() error {
	var firstErr error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	rt.closers = nil
	return firstErr
}

func (rt *Runtime) deferClose(fn func() error) {
	rt.closers = append(rt.closers, fn)
}
