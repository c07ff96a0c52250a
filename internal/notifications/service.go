/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package notifications posts pinning activity to a Discord webhook.
package notifications

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/friendsincode/collexions/internal/events"
	"github.com/friendsincode/collexions/internal/telemetry"
)

// MaxContentLength is Discord's message content limit.
const MaxContentLength = 2000

// Config holds notification delivery settings.
type Config struct {
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	// Transport overrides the HTTP transport. It is wrapped for tracing.
	Transport http.RoundTripper
}

// DefaultConfig returns delivery defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:     10 * time.Second,
		MaxAttempts: 3,
		BaseDelay:   time.Second,
	}
}

// Service delivers bus events to the configured webhook.
type Service struct {
	bus    *events.Bus
	config Config
	client *http.Client
	logger zerolog.Logger

	pinned    events.Subscriber
	completed events.Subscriber
	failed    events.Subscriber

	mu         sync.RWMutex
	webhookURL string
}

// NewService creates a notification service. It subscribes immediately, so
// events published before Start or Flush are not lost.
func NewService(bus *events.Bus, config Config, logger zerolog.Logger) *Service {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &Service{
		bus:    bus,
		config: config,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: telemetry.HTTPTransport(config.Transport),
		},
		logger: logger.With().Str("component", "notifications").Logger(),

		pinned:    bus.SubscribeBuffered(events.EventCollectionPinned, 256),
		completed: bus.SubscribeBuffered(events.EventRunCompleted, 16),
		failed:    bus.SubscribeBuffered(events.EventRunFailed, 16),
	}
}

// SetWebhookURL changes the destination. An empty URL disables delivery.
func (s *Service) SetWebhookURL(url string) {
	s.mu.Lock()
	s.webhookURL = strings.TrimSpace(url)
	s.mu.Unlock()
}

// WebhookURL returns the current destination.
func (s *Service) WebhookURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.webhookURL
}

// Start delivers events until ctx is done, then unsubscribes.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info().Msg("notification service starting")
	defer s.unsubscribe()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("notification service stopping")
			return
		case payload := <-s.pinned:
			s.deliver(ctx, PinnedMessage(payload))
		case payload := <-s.completed:
			s.deliver(ctx, SummaryMessage(payload))
		case payload := <-s.failed:
			s.deliver(ctx, FailureMessage(payload))
		}
	}
}

// Flush delivers every queued event and returns: pins first, then run
// outcomes. One-shot commands call it instead of Start.
func (s *Service) Flush(ctx context.Context) {
	queues := []struct {
		sub    events.Subscriber
		format func(events.Payload) string
	}{
		{s.pinned, PinnedMessage},
		{s.completed, SummaryMessage},
		{s.failed, FailureMessage},
	}
	for _, q := range queues {
	drain:
		for {
			select {
			case payload, ok := <-q.sub:
				if !ok {
					break drain
				}
				s.deliver(ctx, q.format(payload))
			default:
				break drain
			}
		}
	}
}

func (s *Service) unsubscribe() {
	s.bus.Unsubscribe(events.EventCollectionPinned, s.pinned)
	s.bus.Unsubscribe(events.EventRunCompleted, s.completed)
	s.bus.Unsubscribe(events.EventRunFailed, s.failed)
}

func (s *Service) deliver(ctx context.Context, content string) {
	if content == "" {
		return
	}
	if s.WebhookURL() == "" {
		telemetry.NotificationsTotal.WithLabelValues("skipped").Inc()
		return
	}
	if err := s.Send(ctx, content); err != nil {
		s.logger.Error().Err(err).Msg("discord notification failed")
	}
}

// Send posts content to the webhook, truncated to MaxContentLength. HTTP 429
// responses are retried after the server's Retry-After delay.
func (s *Service) Send(ctx context.Context, content string) error {
	url := s.WebhookURL()
	if url == "" {
		return nil
	}

	body, err := json.Marshal(map[string]string{"content": Truncate(content, MaxContentLength)})
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}

	for attempt := 0; attempt < s.config.MaxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			telemetry.NotificationsTotal.WithLabelValues("failed").Inc()
			return fmt.Errorf("create discord request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "Collexions-Webhook/1.0")

		resp, err := s.client.Do(req)
		if err != nil {
			telemetry.NotificationsTotal.WithLabelValues("failed").Inc()
			return fmt.Errorf("post discord webhook: %w", err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			telemetry.NotificationsTotal.WithLabelValues("sent").Inc()
			s.logger.Debug().Int("status", resp.StatusCode).Msg("discord notification sent")
			return nil
		}
		if resp.StatusCode != http.StatusTooManyRequests || attempt == s.config.MaxAttempts-1 {
			telemetry.NotificationsTotal.WithLabelValues("failed").Inc()
			return fmt.Errorf("discord webhook returned status %d", resp.StatusCode)
		}

		delay := s.config.BaseDelay * (1 << attempt)
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.ParseFloat(ra, 64); err == nil && secs >= 0 {
				delay = time.Duration(secs * float64(time.Second))
			}
		}
		s.logger.Warn().Dur("retry_delay", delay).Int("attempt", attempt+1).Msg("discord rate limited, retrying")

		select {
		case <-ctx.Done():
			telemetry.NotificationsTotal.WithLabelValues("failed").Inc()
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil
}

// PinnedMessage formats the per-collection announcement.
func PinnedMessage(p events.Payload) string {
	count := "Unknown"
	plural := "s"
	if p.Bool(events.KeyCountKnown) {
		n := p.Int(events.KeyItemCount)
		count = strconv.Itoa(n)
		if n == 1 {
			plural = ""
		}
	}
	return fmt.Sprintf("📌 Collection '**%s**' (%s Item%s) pinned successfully.", p.String(events.KeyTitle), count, plural)
}

// SummaryMessage formats the end-of-run summary. Runs that changed nothing
// produce no message.
func SummaryMessage(p events.Payload) string {
	pinned, unpinned, failed := p.Int(events.KeyPinned), p.Int(events.KeyUnpinned), p.Int(events.KeyFailed)
	if pinned == 0 && unpinned == 0 && failed == 0 {
		return ""
	}
	msg := fmt.Sprintf("✅ Collexions run finished: %d pinned, %d unpinned", pinned, unpinned)
	if failed > 0 {
		msg += fmt.Sprintf(", %d failed", failed)
	}
	if libs := p.Strings(events.KeyLibraries); len(libs) > 0 {
		msg += " (" + strings.Join(libs, ", ") + ")"
	}
	return msg + "."
}

// FailureMessage formats a failed run.
func FailureMessage(p events.Payload) string {
	return "⚠️ Collexions run failed: " + p.String(events.KeyError)
}

// Truncate shortens s to at most max runes, marking the cut with an ellipsis.
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	if max <= 3 {
		return string([]rune(s)[:max])
	}
	return string([]rune(s)[:max-3]) + "..."
}
