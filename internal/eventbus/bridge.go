/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus forwards in-process events to an external broker so other
// systems can follow pinning activity.
package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/collexions/internal/events"
)

// SubjectPrefix is prepended to the event type to form the broker subject.
const SubjectPrefix = "collexions.events."

// Sink publishes encoded messages to a broker.
type Sink interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Close() error
}

// Message is the wire envelope for a forwarded event.
type Message struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

// Marshal builds the envelope for payload.
func Marshal(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	return json.Marshal(Message{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	})
}

// Unmarshal parses an envelope.
func Unmarshal(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal event message: %w", err)
	}
	return &msg, nil
}

// BridgeConfig tunes the failure back-off of a Bridge.
type BridgeConfig struct {
	NodeID string
	// MaxFailures consecutive publish errors pause forwarding for Cooldown.
	MaxFailures int
	Cooldown    time.Duration
}

// Bridge subscribes to every event type on a Bus and forwards each payload
// to a Sink. Events published while the sink is cooling down are dropped.
type Bridge struct {
	bus    *events.Bus
	sink   Sink
	cfg    BridgeConfig
	logger zerolog.Logger

	mu         sync.Mutex
	subs       map[events.EventType]events.Subscriber
	failCount  int
	pauseUntil time.Time

	wg sync.WaitGroup
}

// NewBridge wires bus to sink.
func NewBridge(bus *events.Bus, sink Sink, cfg BridgeConfig, logger zerolog.Logger) *Bridge {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Bridge{
		bus:    bus,
		sink:   sink,
		cfg:    cfg,
		logger: logger.With().Str("component", "eventbus").Logger(),
		subs:   make(map[events.EventType]events.Subscriber),
	}
}

// Start begins forwarding until ctx is done or Stop is called.
func (b *Bridge) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, et := range events.AllTypes {
		if _, ok := b.subs[et]; ok {
			continue
		}
		sub := b.bus.SubscribeBuffered(et, 64)
		b.subs[et] = sub
		b.wg.Add(1)
		go b.forward(ctx, et, sub)
	}
	b.logger.Info().Int("event_types", len(b.subs)).Str("node_id", b.cfg.NodeID).Msg("event bridge started")
}

func (b *Bridge) forward(ctx context.Context, et events.EventType, sub events.Subscriber) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			b.publish(ctx, et, payload)
		}
	}
}

func (b *Bridge) publish(ctx context.Context, et events.EventType, payload events.Payload) {
	b.mu.Lock()
	paused := time.Now().Before(b.pauseUntil)
	b.mu.Unlock()
	if paused {
		return
	}

	data, err := Marshal(et, payload, b.cfg.NodeID)
	if err != nil {
		b.logger.Error().Err(err).Str("event_type", string(et)).Msg("failed to marshal event")
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := b.sink.Publish(pubCtx, SubjectPrefix+string(et), data); err != nil {
		b.logger.Error().Err(err).Str("event_type", string(et)).Msg("failed to forward event")
		b.handleFailure()
		return
	}

	b.mu.Lock()
	b.failCount = 0
	b.mu.Unlock()
	b.logger.Debug().Str("event_type", string(et)).Msg("forwarded event")
}

func (b *Bridge) handleFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failCount++
	if b.failCount >= b.cfg.MaxFailures {
		b.pauseUntil = time.Now().Add(b.cfg.Cooldown)
		b.failCount = 0
		b.logger.Warn().Dur("cooldown", b.cfg.Cooldown).Msg("broker failure threshold reached, pausing event forwarding")
	}
}

// Stop unsubscribes from the bus, waits for the forwarders and closes the sink.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	for et, sub := range b.subs {
		b.bus.Unsubscribe(et, sub)
	}
	b.subs = make(map[events.EventType]events.Subscriber)
	b.mu.Unlock()

	b.wg.Wait()
	return b.sink.Close()
}
