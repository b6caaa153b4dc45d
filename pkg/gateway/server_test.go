package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/journi-app/journi-go/pkg/wire"
)

func startGateway(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(NewServer(Config{}).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func dialSession(t *testing.T, ts *httptest.Server, sessionID, userID string) *websocket.Conn {
	t.Helper()
	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/ws/" + sessionID + "/" + userID
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) wire.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	ev, err := wire.DecodeEvent(data)
	require.NoError(t, err)
	return ev
}

// readUntil reads frames until one of the wanted type arrives, returning the
// full sequence observed.
func readUntil(t *testing.T, conn *websocket.Conn, eventType string) []wire.Event {
	t.Helper()
	var seen []wire.Event
	for i := 0; i < 50; i++ {
		ev := readEvent(t, conn)
		seen = append(seen, ev)
		if ev.EventType() == eventType {
			return seen
		}
	}
	t.Fatalf("no %s frame within 50 frames", eventType)
	return nil
}

func TestGateway_JoinAnnouncesParticipants(t *testing.T) {
	ts := startGateway(t)

	ana := dialSession(t, ts, "trip42", "ana")
	ev := readEvent(t, ana)
	joined, ok := ev.(*wire.UserJoinedEvent)
	require.True(t, ok)
	require.Equal(t, "ana", joined.UserID)
	require.NotNil(t, joined.Participants)
	require.Equal(t, []string{"ana"}, *joined.Participants)

	luis := dialSession(t, ts, "trip42", "luis")
	_ = readEvent(t, luis) // luis sees his own join

	ev = readEvent(t, ana)
	joined, ok = ev.(*wire.UserJoinedEvent)
	require.True(t, ok)
	require.Equal(t, "luis", joined.UserID)
	require.Equal(t, []string{"ana", "luis"}, *joined.Participants)
}

func TestGateway_EscapedUserIDs(t *testing.T) {
	ts := startGateway(t)
	conn := dialSession(t, ts, "trip42", "Ana%20Mar%C3%ADa")
	joined, ok := readEvent(t, conn).(*wire.UserJoinedEvent)
	require.True(t, ok)
	require.Equal(t, "Ana María", joined.UserID)

	// A literal percent sign must survive the single decode the router
	// already performs.
	conn = dialSession(t, ts, "trip42", url.PathEscape("ana 50%"))
	joined, ok = readEvent(t, conn).(*wire.UserJoinedEvent)
	require.True(t, ok)
	require.Equal(t, "ana 50%", joined.UserID)
}

func TestGateway_MessageTriggersBotTurn(t *testing.T) {
	ts := startGateway(t)
	conn := dialSession(t, ts, "trip42", "ana")
	_ = readEvent(t, conn) // own join

	out, err := json.Marshal(wire.Outbound{Content: "gasté 50 en la cena"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, out))

	seen := readUntil(t, conn, wire.TypeBotComplete)

	types := make([]string, 0, len(seen))
	for _, ev := range seen {
		types = append(types, ev.EventType())
	}
	require.Equal(t, wire.TypeUserMessage, types[0])
	require.Contains(t, types, wire.TypeBotTyping)
	require.Contains(t, types, wire.TypeThinkingStep)
	require.Contains(t, types, wire.TypeBotChunk)

	echo := seen[0].(*wire.UserMessageEvent)
	require.Equal(t, "ana", echo.UserID)
	require.Equal(t, "gasté 50 en la cena", echo.Content)

	complete := seen[len(seen)-1].(*wire.BotCompleteEvent)
	require.NotNil(t, complete.Expenses)
	require.Len(t, *complete.Expenses, 1)
	require.Equal(t, "ana", (*complete.Expenses)[0].PaidBy)
}

func TestGateway_HistoryEndpoint(t *testing.T) {
	ts := startGateway(t)
	conn := dialSession(t, ts, "trip42", "ana")
	_ = readEvent(t, conn)

	out, err := json.Marshal(wire.Outbound{Content: "gasté 50 en la cena"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, out))
	_ = readUntil(t, conn, wire.TypeBotComplete)

	resp, err := http.Get(ts.URL + "/api/sessions/trip42/history")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap wire.HistorySnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	require.Len(t, snap.Messages, 2)
	require.Equal(t, "user", snap.Messages[0].Type)
	require.Equal(t, "bot", snap.Messages[1].Type)
	require.Len(t, snap.State.Expenses, 1)
	require.Equal(t, []string{"ana"}, snap.State.Participants)
}

func TestGateway_HistoryForUnknownSessionIsEmpty(t *testing.T) {
	ts := startGateway(t)

	resp, err := http.Get(ts.URL + "/api/sessions/nope/history")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap wire.HistorySnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	require.Empty(t, snap.Messages)
	require.NotNil(t, snap.State.Expenses)
}

func TestGateway_LeaveBroadcastsUserLeft(t *testing.T) {
	ts := startGateway(t)

	ana := dialSession(t, ts, "trip42", "ana")
	_ = readEvent(t, ana)
	luis := dialSession(t, ts, "trip42", "luis")
	_ = readEvent(t, luis)
	_ = readEvent(t, ana) // luis joined

	require.NoError(t, luis.Close())

	left, ok := readEvent(t, ana).(*wire.UserLeftEvent)
	require.True(t, ok)
	require.Equal(t, "luis", left.UserID)
}

func TestGateway_Healthz(t *testing.T) {
	ts := startGateway(t)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
