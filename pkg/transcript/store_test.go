package transcript

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/journi-app/journi-go/pkg/chat"
	"github.com/journi-app/journi-go/pkg/wire"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(DSNForFile(filepath.Join(t.TempDir(), "transcript.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_RecordAndReadBack(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.Record(ctx, "trip42", chat.Message{
		ID:        "msg_1",
		Kind:      chat.KindUser,
		AuthorID:  "ana",
		Content:   "gasté 50 en la cena",
		HasImage:  true,
		CreatedAt: base,
	}))
	require.NoError(t, store.Record(ctx, "trip42", chat.Message{
		ID:        "bot_1",
		Kind:      chat.KindBot,
		Content:   "Registrando gasto de S/50",
		CreatedAt: base.Add(time.Second),
		ToolTrace: []wire.ThinkingStep{
			{Step: wire.StepToolCall, ToolName: "register_expense", Status: wire.StepComplete, Result: "ok"},
		},
	}))

	msgs, err := store.Messages(ctx, "trip42")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "msg_1", msgs[0].ID)
	require.Equal(t, chat.KindUser, msgs[0].Kind)
	require.True(t, msgs[0].HasImage)
	require.Equal(t, base.UnixMilli(), msgs[0].CreatedAt.UnixMilli())
	require.Len(t, msgs[1].ToolTrace, 1)
	require.Equal(t, "register_expense", msgs[1].ToolTrace[0].ToolName)
}

func TestStore_RecordIsIdempotentPerMessageID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	msg := chat.Message{ID: "msg_1", Kind: chat.KindUser, Content: "hola", CreatedAt: time.Now()}
	require.NoError(t, store.Record(ctx, "trip42", msg))
	require.NoError(t, store.Record(ctx, "trip42", msg))

	msgs, err := store.Messages(ctx, "trip42")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestStore_SessionsAreIsolated(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, "trip42", chat.Message{ID: "a", Kind: chat.KindUser, Content: "x", CreatedAt: time.Now()}))
	require.NoError(t, store.Record(ctx, "trip99", chat.Message{ID: "b", Kind: chat.KindUser, Content: "y", CreatedAt: time.Now()}))

	msgs, err := store.Messages(ctx, "trip42")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "a", msgs[0].ID)
}
