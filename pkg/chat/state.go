package chat

import (
	"time"

	"github.com/journi-app/journi-go/pkg/wire"
)

// Status is the connection lifecycle state. It transitions only in response
// to socket lifecycle events or explicit Connect/Disconnect calls.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// MessageKind classifies entries in the message log.
type MessageKind string

const (
	KindUser   MessageKind = "user"
	KindBot    MessageKind = "bot"
	KindSystem MessageKind = "system"
)

// Message is one immutable entry in the append-only message log. The log is
// ordered by arrival, not by CreatedAt: network order is authoritative.
type Message struct {
	ID        string
	Kind      MessageKind
	Content   string
	AuthorID  string
	CreatedAt time.Time
	HasImage  bool
	ToolTrace []wire.ThinkingStep
}
