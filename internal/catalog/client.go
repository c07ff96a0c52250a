/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package catalog talks to a Plex Media Server: it lists library collections
// and manages their home-screen hubs and labels.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/friendsincode/collexions/internal/telemetry"
)

// ErrLibraryNotFound is returned when no library section has the requested title.
var ErrLibraryNotFound = errors.New("library not found")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("plex %s %s: HTTP %d", e.Method, e.Path, e.Code)
}

// collectionType is the Plex metadata type for collections.
const collectionType = "18"

// Options configures a Client.
type Options struct {
	BaseURL string
	Token   string
	// Timeout bounds each HTTP request. Defaults to 30s.
	Timeout time.Duration
	// Transport overrides the HTTP transport. It is wrapped for tracing.
	Transport http.RoundTripper
	// MaxRetries bounds retries on HTTP 429. Defaults to 5.
	MaxRetries int
	// BaseDelay is the first backoff delay on HTTP 429. Defaults to 1s.
	BaseDelay time.Duration
}

// Client is a Plex API client guarded by a circuit breaker.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	maxRetries int
	baseDelay  time.Duration
	logger     zerolog.Logger

	mu       sync.Mutex
	sections map[string]string // title -> key
}

// New creates a Plex client.
func New(opts Options, logger zerolog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	logger = logger.With().Str("component", "catalog").Logger()

	return &Client{
		baseURL: trimURL(opts.BaseURL),
		token:   opts.Token,
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: telemetry.HTTPTransport(opts.Transport),
		},
		breaker:    newBreaker("plex-api", logger),
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		logger:     logger,
		sections:   make(map[string]string),
	}
}

func trimURL(u string) string { return strings.TrimRight(strings.TrimSpace(u), "/") }

// BaseURL returns the server URL the client was built for.
func (c *Client) BaseURL() string { return c.baseURL }

// Ping checks that the server answers with the configured token.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, "ping", http.MethodGet, "/identity", nil)
	return err
}

// Libraries returns library section titles keyed to their section keys.
func (c *Client) Libraries(ctx context.Context) (map[string]string, error) {
	body, err := c.call(ctx, "sections", http.MethodGet, "/library/sections", nil)
	if err != nil {
		return nil, err
	}
	var resp mediaContainer[sectionList]
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode sections: %w", err)
	}

	out := make(map[string]string, len(resp.MediaContainer.Directory))
	for _, d := range resp.MediaContainer.Directory {
		out[d.Title] = d.Key
	}

	c.mu.Lock()
	c.sections = out
	c.mu.Unlock()
	return out, nil
}

// sectionKey resolves a library title, refreshing the section list on a miss.
func (c *Client) sectionKey(ctx context.Context, library string) (string, error) {
	c.mu.Lock()
	key, ok := c.sections[library]
	c.mu.Unlock()
	if ok {
		return key, nil
	}

	sections, err := c.Libraries(ctx)
	if err != nil {
		return "", err
	}
	if key, ok := sections[library]; ok {
		return key, nil
	}
	return "", fmt.Errorf("%w: %q", ErrLibraryNotFound, library)
}

// Collections lists every collection in library with its label set, item
// count and hub promotion state.
func (c *Client) Collections(ctx context.Context, library string) ([]Collection, error) {
	ctx, span := telemetry.StartCatalogSpan(ctx, "collections", library)
	var err error
	defer func() { telemetry.EndSpan(span, err) }()

	key, err := c.sectionKey(ctx, library)
	if err != nil {
		return nil, err
	}

	body, err := c.call(ctx, "collections", http.MethodGet,
		"/library/sections/"+key+"/collections", url.Values{"includeLabels": {"1"}})
	if err != nil {
		return nil, err
	}
	var list mediaContainer[collectionList]
	if err = json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("decode collections: %w", err)
	}

	hubs, err := c.managedHubs(ctx, key)
	if err != nil {
		return nil, err
	}

	out := make([]Collection, 0, len(list.MediaContainer.Metadata))
	for _, m := range list.MediaContainer.Metadata {
		col := Collection{RatingKey: m.RatingKey, Title: m.Title}
		col.ChildCount, col.CountKnown = m.ChildCount.Value()
		for _, l := range m.Label {
			if l.Tag != "" {
				col.Labels = append(col.Labels, l.Tag)
			}
		}
		if h, ok := hubs[m.RatingKey]; ok {
			col.HubIdentifier = h.Identifier
			col.Promoted = bool(h.PromotedToOwnHome) || bool(h.PromotedToSharedHome)
		}
		out = append(out, col)
	}

	span.SetAttributes(telemetry.AttrCollections.Int(len(out)))
	c.logger.Debug().Str("library", library).Int("collections", len(out)).Int("hubs", len(hubs)).Msg("fetched collections")
	return out, nil
}

// managedHubs returns the custom collection hubs of a section keyed by rating key.
func (c *Client) managedHubs(ctx context.Context, sectionKey string) (map[string]managedHub, error) {
	body, err := c.call(ctx, "hubs", http.MethodGet, "/hubs/sections/"+sectionKey+"/manage", nil)
	if err != nil {
		return nil, err
	}
	var resp mediaContainer[hubList]
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode hubs: %w", err)
	}
	out := make(map[string]managedHub, len(resp.MediaContainer.Hub))
	for _, h := range resp.MediaContainer.Hub {
		if rk := h.ratingKey(); rk != "" {
			out[rk] = h
		}
	}
	return out, nil
}

// Promote shows the collection on the owner's and shared users' home screens.
func (c *Client) Promote(ctx context.Context, library string, col Collection) error {
	return c.setPromotion(ctx, library, col, true)
}

// Demote removes the collection from all home screens.
func (c *Client) Demote(ctx context.Context, library string, col Collection) error {
	return c.setPromotion(ctx, library, col, false)
}

func (c *Client) setPromotion(ctx context.Context, library string, col Collection, on bool) error {
	op := "promote"
	if !on {
		op = "demote"
	}
	ctx, span := telemetry.StartCatalogSpan(ctx, op, library)
	span.SetAttributes(telemetry.AttrCollection.String(col.Title))
	var err error
	defer func() { telemetry.EndSpan(span, err) }()

	key, err := c.sectionKey(ctx, library)
	if err != nil {
		return err
	}

	flag := "0"
	if on {
		flag = "1"
	}
	q := url.Values{
		"promotedToOwnHome":    {flag},
		"promotedToSharedHome": {flag},
	}

	if col.HubIdentifier == "" {
		if !on {
			return nil
		}
		q.Set("metadataItemId", col.RatingKey)
		q.Set("promotedToRecommended", "0")
		_, err = c.call(ctx, op, http.MethodPost, "/hubs/sections/"+key+"/manage", q)
		return err
	}

	_, err = c.call(ctx, op, http.MethodPut,
		"/hubs/sections/"+key+"/manage/"+url.PathEscape(col.HubIdentifier), q)
	return err
}

// AddLabel attaches label to the collection.
func (c *Client) AddLabel(ctx context.Context, library string, col Collection, label string) error {
	return c.editLabel(ctx, "label_add", library, col, "label[0].tag.tag", label)
}

// RemoveLabel detaches label from the collection.
func (c *Client) RemoveLabel(ctx context.Context, library string, col Collection, label string) error {
	return c.editLabel(ctx, "label_remove", library, col, "label[].tag.tag-", label)
}

func (c *Client) editLabel(ctx context.Context, op, library string, col Collection, param, label string) error {
	key, err := c.sectionKey(ctx, library)
	if err != nil {
		return err
	}
	q := url.Values{
		"type":         {collectionType},
		"id":           {col.RatingKey},
		param:          {label},
		"label.locked": {"1"},
	}
	_, err = c.call(ctx, op, http.MethodPut, "/library/sections/"+key+"/all", q)
	return err
}

// call runs one request through the circuit breaker and returns the body.
func (c *Client) call(ctx context.Context, op, method, path string, query url.Values) ([]byte, error) {
	start := time.Now()
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.do(ctx, method, path, query)
	})

	status := "ok"
	var se *StatusError
	switch {
	case err == nil:
	case errors.As(err, &se):
		status = strconv.Itoa(se.Code)
	case IsUnavailable(err):
		status = "rejected"
		c.logger.Warn().Err(err).Str("operation", op).Msg("request rejected by circuit breaker")
	default:
		status = "error"
	}
	telemetry.CatalogRequestDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
	return body, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Plex-Token", c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.doRequestWithRateLimit(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode}
	}
	return body, nil
}

// doRequestWithRateLimit retries HTTP 429 responses with exponential backoff,
// honouring Retry-After when the server sends one.
func (c *Client) doRequestWithRateLimit(req *http.Request) (*http.Response, error) {
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("execute request: %w", err)
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}
		resp.Body.Close()

		if attempt == c.maxRetries {
			return nil, &StatusError{Method: req.Method, Path: req.URL.Path, Code: http.StatusTooManyRequests}
		}

		retryDelay := c.baseDelay * (1 << attempt)
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds >= 0 {
				retryDelay = time.Duration(seconds) * time.Second
			}
		}

		c.logger.Warn().Dur("retry_delay", retryDelay).Int("attempt", attempt+1).Int("max_retries", c.maxRetries).
			Msg("Plex API rate limited (HTTP 429), retrying")

		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(retryDelay):
		}
	}
	return nil, errors.New("unreachable: retry loop exited")
}
