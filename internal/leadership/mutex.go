/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package leadership

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/collexions/internal/ledger"
)

// DefaultLedgerLockKey is the Redis key guarding the recency ledger.
const DefaultLedgerLockKey = "collexions:lock:ledger"

// Mutex is a ledger.Locker shared by every instance using the same Redis.
// The key expires after ttl so a crashed holder cannot block runs forever.
type Mutex struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	logger zerolog.Logger

	mu    sync.Mutex
	token string
}

var _ ledger.Locker = (*Mutex)(nil)

// NewMutex returns a mutex on key.
func NewMutex(client *redis.Client, key string, ttl time.Duration, logger zerolog.Logger) *Mutex {
	if key == "" {
		key = DefaultLedgerLockKey
	}
	if ttl <= 0 {
		ttl = ledger.DefaultStaleAfter
	}
	return &Mutex{
		client: client,
		key:    key,
		ttl:    ttl,
		logger: logger.With().Str("component", "ledger_mutex").Logger(),
	}
}

// Acquire takes the lock or returns ledger.ErrLocked when another holder
// has it.
func (m *Mutex) Acquire(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != "" {
		return ledger.ErrLocked
	}

	token := uuid.NewString()
	ok, err := m.client.SetNX(ctx, m.key, token, m.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire ledger lock: %w", err)
	}
	if !ok {
		holder, _ := m.client.Get(ctx, m.key).Result()
		m.logger.Debug().Str("holder", holder).Msg("ledger lock busy")
		return ledger.ErrLocked
	}
	m.token = token
	return nil
}

// Release drops the lock if this mutex still holds it.
func (m *Mutex) Release(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == "" {
		return nil
	}
	token := m.token
	m.token = ""

	n, err := releaseScript.Run(ctx, m.client, []string{m.key}, token).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release ledger lock: %w", err)
	}
	if n == 0 {
		m.logger.Warn().Str("key", m.key).Msg("ledger lock expired before release")
	}
	return nil
}
