/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package catalog

import (
	"sync"

	"github.com/rs/zerolog"
)

// Factory hands out clients for the connection settings of each run. The
// client is reused while the URL and token stay the same so that breaker
// state and the section cache carry over between runs.
type Factory struct {
	opts   Options
	logger zerolog.Logger

	mu     sync.Mutex
	token  string
	client *Client
}

// NewFactory returns a factory whose clients use opts for everything except
// the base URL and token.
func NewFactory(opts Options, logger zerolog.Logger) *Factory {
	return &Factory{opts: opts, logger: logger}
}

// Client returns a client for baseURL and token.
func (f *Factory) Client(baseURL, token string) *Client {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.client != nil && f.client.BaseURL() == trimURL(baseURL) && f.token == token {
		return f.client
	}

	opts := f.opts
	opts.BaseURL = baseURL
	opts.Token = token
	f.client = New(opts, f.logger)
	f.token = token
	return f.client
}
