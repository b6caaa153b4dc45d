package gateway

import (
	"context"
	"slices"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/journi-app/journi-go/pkg/wire"
)

// Session holds one trip's in-memory chat state and its websocket fan-out.
type Session struct {
	ID string

	logger zerolog.Logger

	mu           sync.Mutex
	conns        map[*websocket.Conn]string // conn -> user id
	history      []wire.HistoryMessage
	state        wire.SessionState
	participants map[string]struct{}

	// turnMu serializes bot turns so tool steps from different turns never
	// interleave on the wire; clients correlate results positionally.
	turnMu sync.Mutex
}

func newSession(id string, logger zerolog.Logger) *Session {
	return &Session{
		ID:           id,
		logger:       logger.With().Str("session_id", id).Logger(),
		conns:        map[*websocket.Conn]string{},
		state:        wire.NewSessionState(),
		participants: map[string]struct{}{},
	}
}

// broadcast sends one encoded frame to every connection, dropping
// connections whose writes fail.
func (s *Session) broadcast(ev wire.Event) {
	data, err := wire.EncodeEvent(ev)
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", ev.EventType()).Msg("encode broadcast frame")
		return
	}
	s.mu.Lock()
	for conn := range s.conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.logger.Warn().Err(err).Msg("ws broadcast failed, dropping connection")
			delete(s.conns, conn)
			connectionsActive.Dec()
			_ = conn.Close()
		}
	}
	s.mu.Unlock()
	framesBroadcast.Inc()
}

// addConn registers a connection, records the participant and announces the
// join with the authoritative participant list.
func (s *Session) addConn(conn *websocket.Conn, userID string) {
	s.mu.Lock()
	s.conns[conn] = userID
	s.participants[userID] = struct{}{}
	s.state.Participants = s.participantList()
	participants := slices.Clone(s.state.Participants)
	s.mu.Unlock()
	connectionsActive.Inc()

	s.broadcast(&wire.UserJoinedEvent{UserID: userID, Participants: &participants})
	s.logger.Info().Str("user_id", userID).Int("participants", len(participants)).Msg("user joined")
}

// removeConn unregisters a connection and announces the leave. Participants
// stay in the session state; presence is what changes.
func (s *Session) removeConn(conn *websocket.Conn) {
	s.mu.Lock()
	userID, ok := s.conns[conn]
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
	if !ok {
		return
	}
	connectionsActive.Dec()

	s.broadcast(&wire.UserLeftEvent{UserID: userID})
	s.logger.Info().Str("user_id", userID).Msg("user left")
}

// handleClientMessage echoes the message to all participants, records it in
// the history log and runs one bot turn.
func (s *Session) handleClientMessage(ctx context.Context, engine Engine, userID string, msg wire.Outbound) {
	clientMessages.Inc()
	s.broadcast(&wire.UserMessageEvent{
		UserID:   userID,
		Content:  msg.Content,
		HasImage: msg.Image != "",
	})
	s.appendHistory(wire.HistoryMessage{Type: "user", UserID: userID, Content: msg.Content})

	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	emitter := &turnEmitter{session: s}
	if err := engine.Reply(ctx, s.View(), userID, msg.Content, emitter); err != nil {
		engineErrors.Inc()
		s.logger.Error().Err(err).Msg("bot engine turn failed")
		emitter.abort()
	}
}

func (s *Session) appendHistory(msg wire.HistoryMessage) {
	s.mu.Lock()
	s.history = append(s.history, msg)
	s.mu.Unlock()
}

// Snapshot returns the history response body for the session.
func (s *Session) Snapshot() wire.HistorySnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.state
	state.Normalize()
	return wire.HistorySnapshot{
		Messages: slices.Clone(s.history),
		State:    state,
	}
}

// View returns the engine-visible session state.
func (s *Session) View() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.state
	state.Normalize()
	return SessionView{ID: s.ID, State: state}
}

// participantList returns the sorted participant ids; callers hold s.mu.
func (s *Session) participantList() []string {
	out := make([]string, 0, len(s.participants))
	for id := range s.participants {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// SessionManager tracks live sessions.
type SessionManager struct {
	mu       sync.Mutex
	logger   zerolog.Logger
	sessions map[string]*Session
}

func NewSessionManager(logger zerolog.Logger) *SessionManager {
	return &SessionManager{
		logger:   logger,
		sessions: map[string]*Session{},
	}
}

func (m *SessionManager) GetOrCreate(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[id]; ok {
		return sess
	}
	sess := newSession(id, m.logger)
	m.sessions[id] = sess
	sessionsActive.Inc()
	return sess
}

func (m *SessionManager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	return sess, ok
}

// turnEmitter streams one bot turn to the session and finalizes history and
// state on completion.
type turnEmitter struct {
	session   *Session
	completed bool
}

var _ Emitter = &turnEmitter{}

func (e *turnEmitter) Typing(active bool) {
	e.session.broadcast(&wire.BotTypingEvent{Active: active})
}

func (e *turnEmitter) Thinking(step wire.ThinkingStep) {
	e.session.broadcast(&wire.ThinkingStepEvent{ThinkingStep: step})
}

func (e *turnEmitter) Chunk(content string) {
	e.session.broadcast(&wire.BotChunkEvent{Content: content})
}

func (e *turnEmitter) Complete(content string, patch wire.SessionPatch) {
	e.completed = true
	e.session.mu.Lock()
	patch.Apply(&e.session.state)
	e.session.mu.Unlock()
	e.session.appendHistory(wire.HistoryMessage{Type: "bot", Content: content})
	e.session.broadcast(&wire.BotCompleteEvent{Content: content, SessionPatch: patch})
}

// abort clears the typing indicator after a failed turn that never reached
// Complete, so clients do not show a typing bot forever.
func (e *turnEmitter) abort() {
	if !e.completed {
		e.Typing(false)
	}
}
