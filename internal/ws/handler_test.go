package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/DoyleJ11/planning-poker-backend/internal/coordinator"
	"github.com/DoyleJ11/planning-poker-backend/internal/graph"
	"github.com/DoyleJ11/planning-poker-backend/internal/types"
)

type frame struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func newTestServer(t *testing.T, opts Options) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	svc := coordinator.New(ctx, coordinator.Options{TickInterval: 10 * time.Millisecond})
	srv := httptest.NewServer(Handler(graph.NewSchema(svc, nil), nil, opts))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, ctx context.Context, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{Subprotocols: []string{types.Subprotocol}})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func write(t *testing.T, ctx context.Context, conn *websocket.Conn, v interface{}) {
	t.Helper()
	require.NoError(t, wsjson.Write(ctx, conn, v))
}

func read(t *testing.T, ctx context.Context, conn *websocket.Conn) frame {
	t.Helper()
	var f frame
	require.NoError(t, wsjson.Read(ctx, conn, &f))
	return f
}

func subscribe(id, query string) map[string]interface{} {
	return map[string]interface{}{
		"id":      id,
		"type":    "subscribe",
		"payload": map[string]interface{}{"query": query},
	}
}

func initConn(t *testing.T, ctx context.Context, conn *websocket.Conn, userID string) {
	t.Helper()
	write(t, ctx, conn, map[string]interface{}{"type": "connection_init", "payload": map[string]string{"userId": userID}})
	assert.Equal(t, "connection_ack", read(t, ctx, conn).Type)
}

func TestHandler_MutationThenSubscription(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, newTestServer(t, Options{}))
	initConn(t, ctx, conn, "A")

	write(t, ctx, conn, subscribe("1", `mutation { createRoom(roomId: "R1", cards: ["1","2"]) { id } }`))
	f := read(t, ctx, conn)
	assert.Equal(t, "next", f.Type)
	assert.Equal(t, "1", f.ID)
	assert.JSONEq(t, `{"data":{"createRoom":{"id":"R1"}}}`, string(f.Payload))
	f = read(t, ctx, conn)
	assert.Equal(t, "complete", f.Type)
	assert.Equal(t, "1", f.ID)

	write(t, ctx, conn, subscribe("2", `mutation { joinRoom(roomId: "R1", user: {id: "A", username: "alice"}) { roomOwnerId } }`))
	f = read(t, ctx, conn)
	assert.JSONEq(t, `{"data":{"joinRoom":{"roomOwnerId":"A"}}}`, string(f.Payload))
	assert.Equal(t, "complete", read(t, ctx, conn).Type)

	write(t, ctx, conn, subscribe("3", `subscription { room(roomId: "R1") { revealStage } }`))
	f = read(t, ctx, conn)
	assert.Equal(t, "3", f.ID)
	assert.JSONEq(t, `{"data":{"room":{"revealStage":"NONE"}}}`, string(f.Payload))

	// showCards runs as the connection's viewer.
	write(t, ctx, conn, subscribe("4", `mutation { showCards(roomId: "R1") { id } }`))
	got := map[string][]frame{}
	for len(got["3"]) < 1 || len(got["4"]) < 2 {
		f := read(t, ctx, conn)
		got[f.ID] = append(got[f.ID], f)
	}
	assert.JSONEq(t, `{"data":{"room":{"revealStage":"REVEALED"}}}`, string(got["3"][0].Payload))
	assert.Equal(t, "complete", got["4"][1].Type)

	write(t, ctx, conn, map[string]string{"id": "3", "type": "complete"})
	write(t, ctx, conn, map[string]string{"type": "ping"})
	assert.Equal(t, "pong", read(t, ctx, conn).Type)
}

func TestHandler_ErrorCarriesCode(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, newTestServer(t, Options{}))
	initConn(t, ctx, conn, "")

	write(t, ctx, conn, subscribe("1", `subscription { roomEvents(roomId: "missing") { eventType } }`))
	f := read(t, ctx, conn)
	require.Equal(t, "error", f.Type)
	var errs []struct {
		Message    string                 `json:"message"`
		Extensions map[string]interface{} `json:"extensions"`
	}
	require.NoError(t, json.Unmarshal(f.Payload, &errs))
	require.Len(t, errs, 1)
	assert.Equal(t, "NOT_FOUND", errs[0].Extensions["code"])

	write(t, ctx, conn, subscribe("2", `{ nope }`))
	f = read(t, ctx, conn)
	assert.Equal(t, "error", f.Type)
	assert.Equal(t, "2", f.ID)
}

func TestHandler_ProtocolViolations(t *testing.T) {
	url := newTestServer(t, Options{InitTimeout: 100 * time.Millisecond})

	tests := []struct {
		name   string
		frames []interface{}
		init   bool
		want   websocket.StatusCode
	}{
		{
			name:   "subscribe before init",
			frames: []interface{}{subscribe("1", `{ roomById(roomId: "x") { id } }`)},
			want:   StatusUnauthorized,
		},
		{
			name:   "double init",
			init:   true,
			frames: []interface{}{map[string]string{"type": "connection_init"}},
			want:   StatusTooManyInitRequests,
		},
		{
			name:   "unknown type",
			init:   true,
			frames: []interface{}{map[string]string{"type": "start"}},
			want:   StatusInvalidMessage,
		},
		{
			name: "init timeout",
			want: StatusInitTimeout,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			conn := dial(t, ctx, url)
			if tc.init {
				initConn(t, ctx, conn, "")
			}
			for _, f := range tc.frames {
				write(t, ctx, conn, f)
			}
			var err error
			for err == nil {
				_, _, err = conn.Read(ctx)
			}
			assert.Equal(t, tc.want, websocket.CloseStatus(err))
		})
	}
}

func TestHandler_DuplicateSubscriptionID(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, newTestServer(t, Options{}))
	initConn(t, ctx, conn, "")

	write(t, ctx, conn, subscribe("c", `mutation { createRoom(roomId: "R1", cards: []) { id } }`))
	assert.Equal(t, "next", read(t, ctx, conn).Type)
	assert.Equal(t, "complete", read(t, ctx, conn).Type)

	q := `subscription { room(roomId: "R1") { id } }`
	write(t, ctx, conn, subscribe("s", q))
	assert.Equal(t, "next", read(t, ctx, conn).Type)
	write(t, ctx, conn, subscribe("s", q))

	var err error
	for err == nil {
		_, _, err = conn.Read(ctx)
	}
	assert.Equal(t, StatusSubscriberExists, websocket.CloseStatus(err))
}
