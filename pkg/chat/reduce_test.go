package chat

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/journi-app/journi-go/pkg/wire"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient("trip42", "ana")
	require.NoError(t, err)
	return c
}

func frame(t *testing.T, eventType string, fields map[string]any) []byte {
	t.Helper()
	payload := map[string]any{"type": eventType}
	for k, v := range fields {
		payload[k] = v
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return raw
}

func TestReduce_UserMessageAppendsAndResetsTrace(t *testing.T) {
	c := newTestClient(t)

	c.handleFrame(frame(t, wire.TypeThinkingStep, map[string]any{
		"step": "tool_call", "tool_name": "register_expense", "status": "active",
	}))
	require.Len(t, c.ThinkingSteps(), 1)

	c.handleFrame(frame(t, wire.TypeUserMessage, map[string]any{
		"user_id": "luis", "content": "hola", "has_image": true,
	}))

	msgs := c.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, KindUser, msgs[0].Kind)
	require.Equal(t, "luis", msgs[0].AuthorID)
	require.Equal(t, "hola", msgs[0].Content)
	require.True(t, msgs[0].HasImage)
	// A new turn clears the pending trace even though the previous turn
	// never completed.
	require.Empty(t, c.ThinkingSteps())
}

func TestReduce_ToolTraceCorrelation(t *testing.T) {
	c := newTestClient(t)

	c.handleFrame(frame(t, wire.TypeThinkingStep, map[string]any{
		"step": "tool_call", "tool_name": "register_expense", "status": "active",
	}))
	c.handleFrame(frame(t, wire.TypeThinkingStep, map[string]any{
		"step": "tool_result", "result": "ok", "status": "complete",
	}))
	c.handleFrame(frame(t, wire.TypeBotComplete, map[string]any{"content": "listo"}))

	msgs := c.Messages()
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].ToolTrace, 1)
	require.Equal(t, "register_expense", msgs[0].ToolTrace[0].ToolName)
	require.Equal(t, wire.StepComplete, msgs[0].ToolTrace[0].Status)
	require.Equal(t, "ok", msgs[0].ToolTrace[0].Result)
	require.Empty(t, c.ThinkingSteps())
}

func TestReduce_ToolResultWithoutCallIsIgnored(t *testing.T) {
	c := newTestClient(t)
	c.handleFrame(frame(t, wire.TypeThinkingStep, map[string]any{
		"step": "tool_result", "result": "orphan", "status": "complete",
	}))
	require.Empty(t, c.ThinkingSteps())
}

func TestReduce_StreamingScenario(t *testing.T) {
	c := newTestClient(t)

	c.handleFrame(frame(t, wire.TypeBotTyping, map[string]any{"active": true}))
	require.True(t, c.IsTyping())
	require.Equal(t, "", c.StreamingContent())

	c.handleFrame(frame(t, wire.TypeBotChunk, map[string]any{"content": "Regist"}))
	c.handleFrame(frame(t, wire.TypeBotChunk, map[string]any{"content": "rando..."}))
	require.Equal(t, "Registrando...", c.StreamingContent())

	c.handleFrame(frame(t, wire.TypeBotComplete, map[string]any{
		"content": "Registrando gasto de S/50",
		"expenses": []map[string]any{
			{"id": "e1", "amount": 50, "currency": "PEN"},
		},
	}))

	require.Equal(t, "", c.StreamingContent())
	require.False(t, c.IsTyping())
	msgs := c.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, KindBot, msgs[0].Kind)
	require.Equal(t, "Registrando gasto de S/50", msgs[0].Content)
	state := c.SessionState()
	require.Len(t, state.Expenses, 1)
	require.True(t, state.Expenses[0].Amount.Equal(decimal.NewFromInt(50)))
}

func TestReduce_TypingTrueResetsStreamingBuffer(t *testing.T) {
	c := newTestClient(t)
	c.handleFrame(frame(t, wire.TypeBotChunk, map[string]any{"content": "stale"}))
	c.handleFrame(frame(t, wire.TypeBotTyping, map[string]any{"active": true}))
	require.Equal(t, "", c.StreamingContent())
	c.handleFrame(frame(t, wire.TypeBotTyping, map[string]any{"active": false}))
	require.False(t, c.IsTyping())
}

func TestReduce_PartialSnapshotOverwrite(t *testing.T) {
	c := newTestClient(t)

	c.handleFrame(frame(t, wire.TypeBotComplete, map[string]any{
		"content":      "seed",
		"expenses":     []map[string]any{{"id": "e1", "amount": 50}},
		"payments":     []map[string]any{{"id": "p1", "amount": 10}},
		"participants": []string{"ana", "luis"},
		"balances":     map[string]any{"luis": map[string]any{"ana": 25}},
	}))

	c.handleFrame(frame(t, wire.TypeBotComplete, map[string]any{
		"content": "solo deudas",
		"debts": map[string]any{
			"PEN": []map[string]any{{"from": "luis", "to": "ana", "amount": 25, "currency": "PEN"}},
		},
	}))

	state := c.SessionState()
	require.Len(t, state.Debts["PEN"], 1)
	require.Len(t, state.Expenses, 1)
	require.Len(t, state.Payments, 1)
	require.Equal(t, []string{"ana", "luis"}, state.Participants)
	require.Len(t, state.Balances["luis"], 1)
}

func TestReduce_PresenceSymmetry(t *testing.T) {
	c := newTestClient(t)
	before := c.OnlineUsers()

	c.handleFrame(frame(t, wire.TypeUserJoined, map[string]any{"user_id": "Ana"}))
	require.Equal(t, []string{"Ana"}, c.OnlineUsers())

	c.handleFrame(frame(t, wire.TypeUserLeft, map[string]any{"user_id": "Ana"}))
	require.Equal(t, before, c.OnlineUsers())

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, KindSystem, msgs[0].Kind)
	require.Equal(t, "Ana se unió", msgs[0].Content)
	require.Equal(t, KindSystem, msgs[1].Kind)
	require.Equal(t, "Ana se desconectó", msgs[1].Content)
}

func TestReduce_JoinReplacesParticipantList(t *testing.T) {
	c := newTestClient(t)

	c.handleFrame(frame(t, wire.TypeUserJoined, map[string]any{
		"user_id":      "luis",
		"participants": []string{"ana", "luis"},
	}))
	require.Equal(t, []string{"ana", "luis"}, c.Participants())

	// Without a participant list the snapshot is untouched.
	c.handleFrame(frame(t, wire.TypeUserJoined, map[string]any{"user_id": "marta"}))
	require.Equal(t, []string{"ana", "luis"}, c.Participants())
	require.Contains(t, c.OnlineUsers(), "marta")
}

func TestReduce_MalformedFrameResilience(t *testing.T) {
	c := newTestClient(t)

	c.handleFrame(frame(t, wire.TypeBotChunk, map[string]any{"content": "Regist"}))
	c.handleFrame([]byte("{this is not json"))
	c.handleFrame(frame(t, wire.TypeBotChunk, map[string]any{"content": "rando"}))

	require.Equal(t, "Registrando", c.StreamingContent())
	require.Empty(t, c.Messages())
}

func TestReduce_UnknownEventTypeIgnored(t *testing.T) {
	c := newTestClient(t)
	c.handleFrame(frame(t, "server_restart", map[string]any{"reason": "deploy"}))
	require.Empty(t, c.Messages())
	require.Equal(t, StatusDisconnected, c.Status())
}
