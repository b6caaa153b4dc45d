// Package history fetches a session's past messages and last known state
// from the backend's REST history endpoint.
package history

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/journi-app/journi-go/pkg/wire"
)

// Client calls GET {base}/api/sessions/{sessionID}/history.
type Client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  log.With().Str("component", "history").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchHistory returns the session's past messages and last known state.
// Absent state collections are defaulted to empty ones.
func (c *Client) FetchHistory(ctx context.Context, sessionID string) (*wire.HistorySnapshot, error) {
	u := c.baseURL + "/api/sessions/" + sessionID + "/history"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build history request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch session history")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("history endpoint returned %s", resp.Status)
	}

	var snap wire.HistorySnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, errors.Wrap(err, "decode history response")
	}
	snap.State.Normalize()
	c.logger.Debug().Str("session_id", sessionID).Int("messages", len(snap.Messages)).Msg("fetched session history")
	return &snap, nil
}
