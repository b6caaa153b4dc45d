// Package wire defines the frame formats exchanged with the Journi realtime
// gateway and history endpoint: the tagged server event union, the outbound
// message envelope, and the session-state value records.
package wire

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Server event type tags.
const (
	TypeUserMessage  = "user_message"
	TypeThinkingStep = "thinking_step"
	TypeBotChunk     = "bot_chunk"
	TypeBotComplete  = "bot_complete"
	TypeBotTyping    = "bot_typing"
	TypeUserJoined   = "user_joined"
	TypeUserLeft     = "user_left"
)

// ErrUnknownEventType is returned by DecodeEvent for frames whose type tag is
// not part of the protocol. Callers are expected to log and skip these.
var ErrUnknownEventType = errors.New("unknown event type")

// StepPhase distinguishes the two halves of a tool invocation.
type StepPhase string

const (
	StepToolCall   StepPhase = "tool_call"
	StepToolResult StepPhase = "tool_result"
)

// StepStatus is the lifecycle state of one thinking step.
type StepStatus string

const (
	StepActive   StepStatus = "active"
	StepComplete StepStatus = "complete"
)

// ThinkingStep is one tool invocation the assistant performed while composing
// a reply, surfaced as a call/result pair.
type ThinkingStep struct {
	Step     StepPhase      `json:"step"`
	ToolName string         `json:"tool_name,omitempty"`
	ToolArgs map[string]any `json:"tool_args,omitempty"`
	Result   string         `json:"result,omitempty"`
	Status   StepStatus     `json:"status"`
}

// EventTime is an ISO-8601 timestamp that tolerates absent or malformed
// values; those decode to the zero time and are defaulted by DecodeEvent.
type EventTime struct {
	time.Time
}

func (t *EventTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil || s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339, s)
	}
	if err != nil {
		t.Time = time.Time{}
		return nil
	}
	t.Time = parsed
	return nil
}

func (t EventTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}

// Event is the closed union of server-to-client frames. Exactly one concrete
// struct exists per type tag; DecodeEvent dispatches on the tag so new server
// event types surface as ErrUnknownEventType instead of silent misparses.
type Event interface {
	EventType() string
	When() time.Time

	defaultTime(t time.Time)
}

type eventMeta struct {
	Timestamp EventTime `json:"timestamp"`
}

func (m *eventMeta) When() time.Time { return m.Timestamp.Time }

func (m *eventMeta) defaultTime(t time.Time) {
	if m.Timestamp.IsZero() {
		m.Timestamp.Time = t
	}
}

// UserMessageEvent is the authoritative echo of a participant's message.
type UserMessageEvent struct {
	eventMeta
	UserID   string `json:"user_id"`
	Content  string `json:"content"`
	HasImage bool   `json:"has_image,omitempty"`
}

func (*UserMessageEvent) EventType() string { return TypeUserMessage }

// ThinkingStepEvent carries one tool call or tool result of the in-flight
// assistant turn.
type ThinkingStepEvent struct {
	eventMeta
	ThinkingStep
}

func (*ThinkingStepEvent) EventType() string { return TypeThinkingStep }

// BotChunkEvent is one increment of the streamed assistant reply.
type BotChunkEvent struct {
	eventMeta
	Content string `json:"content"`
}

func (*BotChunkEvent) EventType() string { return TypeBotChunk }

// BotCompleteEvent finalizes the assistant reply. It may carry a partial
// session-state overwrite alongside the full reply text.
type BotCompleteEvent struct {
	eventMeta
	Content string `json:"content"`
	SessionPatch
}

func (*BotCompleteEvent) EventType() string { return TypeBotComplete }

// BotTypingEvent toggles the typing indicator. A fresh reply is starting
// whenever Active is true.
type BotTypingEvent struct {
	eventMeta
	Active bool `json:"active"`
}

func (*BotTypingEvent) EventType() string { return TypeBotTyping }

// UserJoinedEvent announces a participant coming online. Participants, when
// present, is the authoritative full participant list.
type UserJoinedEvent struct {
	eventMeta
	UserID       string    `json:"user_id"`
	Participants *[]string `json:"participants,omitempty"`
}

func (*UserJoinedEvent) EventType() string { return TypeUserJoined }

// UserLeftEvent announces a participant going offline.
type UserLeftEvent struct {
	eventMeta
	UserID string `json:"user_id"`
}

func (*UserLeftEvent) EventType() string { return TypeUserLeft }

// DecodeEvent parses one server frame. Frames without a recognized type tag
// return ErrUnknownEventType; malformed JSON returns a decode error. Missing
// timestamps are defaulted to the current time.
func DecodeEvent(data []byte) (Event, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, errors.Wrap(err, "decode event envelope")
	}

	var ev Event
	switch head.Type {
	case TypeUserMessage:
		ev = &UserMessageEvent{}
	case TypeThinkingStep:
		ev = &ThinkingStepEvent{}
	case TypeBotChunk:
		ev = &BotChunkEvent{}
	case TypeBotComplete:
		ev = &BotCompleteEvent{}
	case TypeBotTyping:
		ev = &BotTypingEvent{}
	case TypeUserJoined:
		ev = &UserJoinedEvent{}
	case TypeUserLeft:
		ev = &UserLeftEvent{}
	default:
		return nil, errors.Wrapf(ErrUnknownEventType, "%q", head.Type)
	}

	if err := json.Unmarshal(data, ev); err != nil {
		return nil, errors.Wrapf(err, "decode %s event", head.Type)
	}
	ev.defaultTime(time.Now())
	return ev, nil
}

// EncodeEvent serializes an event with its type tag injected, for the server
// side of the protocol. A zero timestamp is stamped with the current time.
func EncodeEvent(ev Event) ([]byte, error) {
	ev.defaultTime(time.Now().UTC())
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s event", ev.EventType())
	}
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, errors.Wrapf(err, "encode %s event", ev.EventType())
	}
	m["type"] = ev.EventType()
	return json.Marshal(m)
}

// Outbound is the client-to-server message envelope. Image, when set, is a
// data URL.
type Outbound struct {
	Content string `json:"content"`
	Image   string `json:"image,omitempty"`
}

// HistoryMessage is one past message as returned by the history endpoint.
type HistoryMessage struct {
	Type      string    `json:"type"`
	UserID    string    `json:"user_id,omitempty"`
	Content   string    `json:"content"`
	Timestamp EventTime `json:"timestamp"`
}

// HistorySnapshot is the history endpoint's response body.
type HistorySnapshot struct {
	Messages []HistoryMessage `json:"messages"`
	State    SessionState     `json:"state"`
}
