package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/codeready-toolchain/promptforge/internal/pause"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOwnership struct {
	owned map[string]string // taskID -> userID
}

func (f *fakeOwnership) Owns(_ context.Context, userID, taskID string) (bool, error) {
	return f.owned[taskID] == userID, nil
}

func setupTestBus(t *testing.T, owners TaskOwnershipChecker, controllers *pause.Registry, userID string) (*Bus, *httptest.Server) {
	t.Helper()
	bus := NewBus(owners, controllers, nil)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			t.Logf("websocket accept error: %v", err)
			return
		}
		bus.HandleConnection(r.Context(), conn, userID)
	}))
	t.Cleanup(server.Close)
	return bus, server
}

func connectWS(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + server.URL[len("http"):]
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func writeEnvelope(t *testing.T, conn *websocket.Conn, env Envelope) {
	t.Helper()
	data, err := json.Marshal(env)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func TestHandleConnectionSendsEstablished(t *testing.T) {
	_, server := setupTestBus(t, nil, nil, "u1")
	conn := connectWS(t, server)

	env := readEnvelope(t, conn)
	assert.Equal(t, "connection.established", env.Type)
	assert.NotEmpty(t, env.Payload["connectionId"])
}

func TestSubscribeAndPublishBroadcasts(t *testing.T) {
	bus, server := setupTestBus(t, nil, nil, "u1")
	conn := connectWS(t, server)
	readEnvelope(t, conn) // connection.established

	writeEnvelope(t, conn, Envelope{Type: ActionSubscribe, Payload: map[string]any{"taskId": "task-1"}})
	confirm := readEnvelope(t, conn)
	assert.Equal(t, "subscription.confirmed", confirm.Type)

	require.Eventually(t, func() bool {
		return bus.subscriberCount("task-1") == 1
	}, 2*time.Second, 10*time.Millisecond)

	bus.Publish("task-1", "iteration:paused", map[string]any{"iteration": 3})

	env := readEnvelope(t, conn)
	assert.Equal(t, "iteration:paused", env.Type)
	assert.Equal(t, "task-1", env.Payload["taskId"])
	assert.Equal(t, float64(3), env.Payload["iteration"])
}

func TestPublishWithNoSubscribersDoesNotBlock(t *testing.T) {
	bus, _ := setupTestBus(t, nil, nil, "u1")
	bus.Publish("task-nobody", "iteration:paused", map[string]any{})
}

func TestPingPong(t *testing.T) {
	_, server := setupTestBus(t, nil, nil, "u1")
	conn := connectWS(t, server)
	readEnvelope(t, conn)

	writeEnvelope(t, conn, Envelope{Type: ActionPing})
	env := readEnvelope(t, conn)
	assert.Equal(t, "pong", env.Type)
}

func TestTaskPauseCommandAcksIdempotently(t *testing.T) {
	owners := &fakeOwnership{owned: map[string]string{"task-1": "u1"}}
	registry := pause.NewRegistry(nil, nil, nil)
	_, server := setupTestBus(t, owners, registry, "u1")
	conn := connectWS(t, server)
	readEnvelope(t, conn)

	writeEnvelope(t, conn, Envelope{Type: CmdTaskPause, CorrelationID: "cid-1", Payload: map[string]any{"taskId": "task-1"}})
	ack1 := readEnvelope(t, conn)
	assert.Equal(t, "task:pause:ack", ack1.Type)
	assert.Equal(t, "cid-1", ack1.CorrelationID)
	assert.Equal(t, true, ack1.Payload["ok"])
	assert.Nil(t, ack1.Payload["reason"])

	writeEnvelope(t, conn, Envelope{Type: CmdTaskPause, CorrelationID: "cid-2", Payload: map[string]any{"taskId": "task-1"}})
	ack2 := readEnvelope(t, conn)
	assert.Equal(t, true, ack2.Payload["ok"])
	assert.Equal(t, ReasonAlreadyInTargetState, ack2.Payload["reason"])
}

func TestCommandRejectsNonOwner(t *testing.T) {
	owners := &fakeOwnership{owned: map[string]string{"task-1": "someone-else"}}
	registry := pause.NewRegistry(nil, nil, nil)
	_, server := setupTestBus(t, owners, registry, "u1")
	conn := connectWS(t, server)
	readEnvelope(t, conn)

	writeEnvelope(t, conn, Envelope{Type: CmdTaskTerminate, CorrelationID: "cid-1", Payload: map[string]any{"taskId": "task-1"}})
	ack := readEnvelope(t, conn)
	assert.Equal(t, "task:terminate:ack", ack.Type)
	assert.Equal(t, false, ack.Payload["ok"])
	assert.Equal(t, ReasonTaskNotFoundOrForbidden, ack.Payload["reason"])
}

func TestGuidanceSendRequiresPausedAndNonEmptyContent(t *testing.T) {
	owners := &fakeOwnership{owned: map[string]string{"task-1": "u1"}}
	registry := pause.NewRegistry(nil, nil, nil)
	_, server := setupTestBus(t, owners, registry, "u1")
	conn := connectWS(t, server)
	readEnvelope(t, conn)

	writeEnvelope(t, conn, Envelope{Type: CmdGuidanceSend, CorrelationID: "cid-1", Payload: map[string]any{"taskId": "task-1", "content": "   "}})
	ack := readEnvelope(t, conn)
	assert.Equal(t, false, ack.Payload["ok"])

	writeEnvelope(t, conn, Envelope{Type: CmdGuidanceSend, CorrelationID: "cid-2", Payload: map[string]any{"taskId": "task-1", "content": "please use JSON"}})
	ack2 := readEnvelope(t, conn)
	assert.Equal(t, false, ack2.Payload["ok"]) // task isn't paused yet
}

func TestUnknownMessageTypeProducesError(t *testing.T) {
	_, server := setupTestBus(t, nil, nil, "u1")
	conn := connectWS(t, server)
	readEnvelope(t, conn)

	writeEnvelope(t, conn, Envelope{Type: "bogus"})
	env := readEnvelope(t, conn)
	assert.Equal(t, "error", env.Type)
}
