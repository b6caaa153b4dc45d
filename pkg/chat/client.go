// Package chat implements the Journi session chat client: one websocket per
// trip session, a reducer over the server's tagged event stream, and the
// derived local state (message log, streaming buffer, tool trace, session
// snapshot, presence) exposed to a UI layer.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/journi-app/journi-go/pkg/wire"
)

const defaultBaseURL = "http://localhost:8000"

// ErrNotConnected is returned by SendMessage when no live connection exists.
// Messages are not queued; the caller retries after reconnecting.
var ErrNotConnected = errors.New("not connected to realtime gateway")

// Client owns one logical chat session: the socket, the connection state and
// all derived state containers. The UI layer only reads, through the
// accessors.
//
// Tool call/result correlation is positional (last appended step), which is
// only sound while at most one assistant turn is in flight per session. The
// gateway serializes turns; overlapping turns would misattribute results.
type Client struct {
	sessionID string
	userID    string

	baseURL   string
	dial      DialFunc
	history   HistoryFetcher
	recorder  Recorder
	reconnect *ReconnectPolicy
	onUpdate  func()
	onError   func(error)
	logger    zerolog.Logger

	mu             sync.Mutex
	status         Status
	conn           *websocket.Conn
	historyLoaded  bool
	closing        bool
	reconnectTimer *time.Timer
	attempts       int

	messages  []Message
	streaming strings.Builder
	typing    bool
	steps     []wire.ThinkingStep
	session   wire.SessionState
	online    map[string]struct{}
}

// NewClient creates a client for one session. userID must be a non-empty
// stable identifier for the lifetime of the client.
func NewClient(sessionID, userID string, opts ...Option) (*Client, error) {
	if sessionID == "" {
		return nil, errors.New("session id is empty")
	}
	if userID == "" {
		return nil, errors.New("user id is empty")
	}
	c := &Client{
		sessionID: sessionID,
		userID:    userID,
		baseURL:   defaultBaseURL,
		dial:      defaultDial,
		logger: log.With().
			Str("component", "session_chat").
			Str("session_id", sessionID).
			Str("user_id", userID).
			Logger(),
		status:  StatusDisconnected,
		session: wire.NewSessionState(),
		online:  map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Connect opens the session. It is idempotent and single-flight: while a
// socket is connecting or connected, further calls are no-ops. On the first
// call for the session it fetches history best-effort before dialing, so the
// user sees continuity; a history failure is logged and swallowed.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.status == StatusConnected || c.status == StatusConnecting {
		c.logger.Debug().Str("status", string(c.status)).Msg("already connected or connecting, skipping")
		c.mu.Unlock()
		return nil
	}
	c.status = StatusConnecting
	c.closing = false
	needHistory := !c.historyLoaded && c.history != nil
	c.mu.Unlock()
	c.notify()

	if needHistory {
		c.loadHistory(ctx)
	}

	gatewayURL, err := c.gatewayURL()
	if err != nil {
		c.failConnect(err)
		return err
	}

	c.logger.Info().Str("url", gatewayURL).Msg("connecting to realtime gateway")
	conn, err := c.dial(ctx, gatewayURL)
	if err != nil {
		err = errors.Wrap(err, "dial realtime gateway")
		c.failConnect(err)
		c.scheduleReconnect()
		return err
	}

	c.mu.Lock()
	if c.closing {
		// Disconnect raced the dial; drop the fresh socket.
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	c.conn = conn
	c.status = StatusConnected
	c.attempts = 0
	// Optimistic local presence; the server corrects it with user_joined
	// echoes.
	c.online = map[string]struct{}{c.userID: {}}
	c.mu.Unlock()
	c.logger.Info().Msg("connected")
	c.notify()

	go c.readLoop(conn)
	return nil
}

// Disconnect cancels any pending reconnect attempt, closes the socket if
// open, and forces the state to disconnected. Safe to call repeatedly and
// when never connected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closing = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	changed := c.status != StatusDisconnected
	c.status = StatusDisconnected
	c.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
	}
	if changed {
		c.logger.Info().Msg("disconnected")
		c.notify()
	}
}

// SendMessage serializes {content, image?} and sends it. There is no local
// echo: the message appears in the log only once the server sends back the
// authoritative user_message event, which keeps ordering consistent across
// participants. Returns ErrNotConnected when no live connection exists.
func (c *Client) SendMessage(content string, imageDataURL string) error {
	c.mu.Lock()
	conn := c.conn
	status := c.status
	c.mu.Unlock()

	if status != StatusConnected || conn == nil {
		c.logger.Error().Str("status", string(status)).Msg("send while not connected, dropping message")
		return ErrNotConnected
	}

	payload, err := json.Marshal(wire.Outbound{Content: content, Image: imageDataURL})
	if err != nil {
		return errors.Wrap(err, "encode outbound message")
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return errors.Wrap(err, "send message")
	}
	return nil
}

// --- accessors (UI layer reads) ---

// Status returns the current connection state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Messages returns a copy of the message log in arrival order.
func (c *Client) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.messages)
}

// StreamingContent returns the partial text of the in-progress assistant
// reply.
func (c *Client) StreamingContent() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streaming.String()
}

// IsTyping reports whether the assistant is composing a reply.
func (c *Client) IsTyping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typing
}

// ThinkingSteps returns the tool trace of the in-flight assistant turn.
func (c *Client) ThinkingSteps() []wire.ThinkingStep {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneSteps(c.steps)
}

// SessionState returns the last authoritative session snapshot.
func (c *Client) SessionState() wire.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Participants returns the session's participant list from the snapshot.
func (c *Client) Participants() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.session.Participants)
}

// OnlineUsers returns the users currently considered online, sorted.
func (c *Client) OnlineUsers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Sorted(maps.Keys(c.online))
}

// --- internals ---

func (c *Client) gatewayURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", errors.Wrap(err, "parse base url")
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", errors.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/" + c.sessionID + "/" + url.PathEscape(c.userID)
	return u.String(), nil
}

func (c *Client) loadHistory(ctx context.Context) {
	snap, err := c.history.FetchHistory(ctx, c.sessionID)
	if err != nil {
		c.logger.Warn().Err(err).Msg("history fetch failed, proceeding with empty history")
		return
	}
	snap.State.Normalize()

	seeded := make([]Message, 0, len(snap.Messages))
	for idx, m := range snap.Messages {
		kind := MessageKind(m.Type)
		if kind != KindUser && kind != KindBot {
			kind = KindSystem
		}
		seeded = append(seeded, Message{
			ID:        fmt.Sprintf("history_%d_%s", idx, uuid.NewString()),
			Kind:      kind,
			Content:   m.Content,
			AuthorID:  m.UserID,
			CreatedAt: m.Timestamp.Time,
		})
	}

	c.mu.Lock()
	c.messages = seeded
	c.session = snap.State
	c.historyLoaded = true
	c.mu.Unlock()
	c.logger.Info().Int("messages", len(seeded)).Msg("session history loaded")
	c.notify()
}

func (c *Client) failConnect(err error) {
	c.mu.Lock()
	c.status = StatusError
	c.mu.Unlock()
	c.logger.Error().Err(err).Msg("connection failed")
	c.notify()
	c.reportError(err)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(conn, err)
			return
		}
		c.handleFrame(data)
	}
}

func (c *Client) handleReadError(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// A stale read loop from a socket that was already replaced or
		// explicitly closed; the lifecycle state belongs to its successor.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	abnormal := !c.closing &&
		!websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
	if abnormal {
		c.status = StatusError
	} else {
		c.status = StatusDisconnected
	}
	c.mu.Unlock()

	if abnormal {
		c.logger.Error().Err(err).Msg("realtime connection lost")
		c.notify()
		c.reportError(errors.Wrap(err, "realtime connection lost"))
		c.scheduleReconnect()
		return
	}
	c.logger.Info().Msg("connection closed")
	c.notify()
}

// handleFrame reduces one raw frame. Malformed or unrecognized frames are
// logged and skipped; they never affect connection state or other frames.
func (c *Client) handleFrame(data []byte) {
	ev, err := wire.DecodeEvent(data)
	if err != nil {
		if errors.Is(err, wire.ErrUnknownEventType) {
			c.logger.Debug().Err(err).Msg("ignoring unknown event type")
		} else {
			c.logger.Warn().Err(err).Msg("failed to parse frame, skipping")
		}
		return
	}

	c.mu.Lock()
	appended := c.reduce(ev)
	c.mu.Unlock()
	c.notify()
	c.record(appended)
}

func (c *Client) record(appended []Message) {
	if c.recorder == nil {
		return
	}
	for _, msg := range appended {
		if err := c.recorder.Record(context.Background(), c.sessionID, msg); err != nil {
			c.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("transcript record failed")
		}
	}
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reconnect == nil || c.closing || c.reconnectTimer != nil {
		return
	}
	if c.reconnect.MaxRetries > 0 && c.attempts >= c.reconnect.MaxRetries {
		c.logger.Warn().Int("attempts", c.attempts).Msg("reconnect attempts exhausted")
		return
	}
	c.attempts++
	delay := c.reconnect.delay(c.attempts)
	c.logger.Info().Int("attempt", c.attempts).Dur("delay", delay).Msg("scheduling reconnect")
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		closing := c.closing
		c.mu.Unlock()
		if closing {
			return
		}
		_ = c.Connect(context.Background())
	})
}

func (c *Client) notify() {
	if c.onUpdate != nil {
		c.onUpdate()
	}
}

func (c *Client) reportError(err error) {
	if c.onError != nil {
		c.onError(err)
	}
}

func cloneSteps(steps []wire.ThinkingStep) []wire.ThinkingStep {
	if len(steps) == 0 {
		return nil
	}
	return slices.Clone(steps)
}
