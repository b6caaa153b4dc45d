package chat

import (
	"time"

	"github.com/google/uuid"

	"github.com/journi-app/journi-go/pkg/wire"
)

// reduce applies one decoded server event to the client state. Called with
// c.mu held; events arrive in socket order and that order is authoritative.
// Returns messages appended to the log so the caller can hand them to the
// recorder outside the lock.
func (c *Client) reduce(ev wire.Event) []Message {
	switch ev := ev.(type) {
	case *wire.UserMessageEvent:
		msg := Message{
			ID:        "msg_" + uuid.NewString(),
			Kind:      KindUser,
			Content:   ev.Content,
			AuthorID:  ev.UserID,
			CreatedAt: ev.When(),
			HasImage:  ev.HasImage,
		}
		c.messages = append(c.messages, msg)
		// A user message starts a new conversation turn; any unfinalized
		// trace from the previous turn is stale.
		c.steps = nil
		return []Message{msg}

	case *wire.ThinkingStepEvent:
		switch ev.Step {
		case wire.StepToolCall:
			c.steps = append(c.steps, ev.ThinkingStep)
		case wire.StepToolResult:
			// Positional correlation: the result belongs to the most
			// recently appended step. Sound only because turns run one
			// at a time and tool calls are sequential within a turn.
			if last := len(c.steps) - 1; last >= 0 {
				c.steps[last].Result = ev.Result
				c.steps[last].Status = wire.StepComplete
			}
		default:
			c.logger.Debug().Str("step", string(ev.Step)).Msg("ignoring thinking step with unknown phase")
		}

	case *wire.BotChunkEvent:
		c.streaming.WriteString(ev.Content)

	case *wire.BotCompleteEvent:
		msg := Message{
			ID:        "bot_" + uuid.NewString(),
			Kind:      KindBot,
			Content:   ev.Content,
			CreatedAt: ev.When(),
			ToolTrace: cloneSteps(c.steps),
		}
		c.messages = append(c.messages, msg)
		c.streaming.Reset()
		c.typing = false
		c.steps = nil
		ev.SessionPatch.Apply(&c.session)
		return []Message{msg}

	case *wire.BotTypingEvent:
		c.typing = ev.Active
		if ev.Active {
			c.streaming.Reset()
		}

	case *wire.UserJoinedEvent:
		c.online[ev.UserID] = struct{}{}
		if ev.Participants != nil {
			c.session.Participants = *ev.Participants
		}
		msg := c.systemMessage(ev.UserID+" se unió", ev.When())
		return []Message{msg}

	case *wire.UserLeftEvent:
		delete(c.online, ev.UserID)
		msg := c.systemMessage(ev.UserID+" se desconectó", ev.When())
		return []Message{msg}

	default:
		c.logger.Debug().Str("event_type", ev.EventType()).Msg("no reduction for event type")
	}
	return nil
}

func (c *Client) systemMessage(content string, at time.Time) Message {
	msg := Message{
		ID:        "sys_" + uuid.NewString(),
		Kind:      KindSystem,
		Content:   content,
		CreatedAt: at,
	}
	c.messages = append(c.messages, msg)
	return msg
}
