package chat

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/journi-app/journi-go/pkg/wire"
)

// HistoryFetcher loads past messages and the last known session state before
// the first socket open. history.Client satisfies it.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, sessionID string) (*wire.HistorySnapshot, error)
}

// Recorder receives every message appended to the log. Recording is
// best-effort: failures are logged by the client and never affect the
// connection. transcript.Store satisfies it.
type Recorder interface {
	Record(ctx context.Context, sessionID string, msg Message) error
}

// DialFunc opens the websocket to the realtime gateway. Overridable for
// tests and alternative transports.
type DialFunc func(ctx context.Context, url string) (*websocket.Conn, error)

func defaultDial(ctx context.Context, url string) (*websocket.Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// ReconnectPolicy configures opt-in automatic reconnection after abnormal
// socket failures. The zero value is not valid; use DefaultReconnectPolicy.
type ReconnectPolicy struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// Jitter is the fraction of the computed delay added randomly, in [0, 1].
	Jitter float64
	// MaxRetries caps consecutive failed attempts; 0 means unlimited.
	MaxRetries int
}

// DefaultReconnectPolicy matches common gateway client settings: 1s initial,
// doubling to a 30s cap, 20% jitter, 10 attempts.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2,
		Jitter:         0.2,
		MaxRetries:     10,
	}
}

func (p ReconnectPolicy) delay(attempt int) time.Duration {
	d := float64(p.InitialBackoff)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
		if d >= float64(p.MaxBackoff) {
			d = float64(p.MaxBackoff)
			break
		}
	}
	if d > float64(p.MaxBackoff) {
		d = float64(p.MaxBackoff)
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * rand.Float64()
	}
	return time.Duration(d)
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets the backend base URL ("http://host:port"); the websocket
// scheme is derived from it.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHistoryFetcher wires the history bootstrap performed on the first
// Connect for the session.
func WithHistoryFetcher(h HistoryFetcher) Option {
	return func(c *Client) { c.history = h }
}

// WithRecorder wires a transcript recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d DialFunc) Option {
	return func(c *Client) { c.dial = d }
}

// WithLogger replaces the client logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithUpdateHandler registers a callback invoked after every state change.
// It is called without internal locks held; read state through the accessors.
func WithUpdateHandler(fn func()) Option {
	return func(c *Client) { c.onUpdate = fn }
}

// WithErrorHandler registers a callback for transport errors. Each failure is
// reported once; the client does not retry unless WithAutoReconnect is set.
func WithErrorHandler(fn func(error)) Option {
	return func(c *Client) { c.onError = fn }
}

// WithAutoReconnect enables automatic reconnection after abnormal closes.
// Disconnect cancels any pending attempt.
func WithAutoReconnect(p ReconnectPolicy) Option {
	return func(c *Client) { c.reconnect = &p }
}
