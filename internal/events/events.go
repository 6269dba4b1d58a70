// Package events implements the real-time event bus (spec §6): an
// in-process WebSocket fan-out of JSON envelopes, subscribed per task, plus
// the client→server command protocol (task:pause, task:resume,
// task:terminate, guidance:send) with idempotent acks and ownership
// enforcement.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/codeready-toolchain/promptforge/internal/clock"
	"github.com/codeready-toolchain/promptforge/internal/pause"
)

// Envelope is the WebSocket wire message in both directions (spec §6
// "Messages are JSON envelopes {type, payload, correlationId, ts?}").
type Envelope struct {
	Type          string         `json:"type"`
	Payload       map[string]any `json:"payload,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
	TimestampMS   int64          `json:"ts,omitempty"`
}

// Client→server action/command names.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionPing        = "ping"

	CmdTaskPause     = "task:pause"
	CmdTaskResume    = "task:resume"
	CmdTaskTerminate = "task:terminate"
	CmdGuidanceSend  = "guidance:send"
)

// Ack reasons (spec §6 "idempotent ... ok:true with an already in target
// state rationale" / ownership rejection).
const (
	ReasonAlreadyInTargetState  = "already_in_target_state"
	ReasonTaskNotFoundOrForbidden = "task_not_found_or_forbidden"
)

func isCommand(msgType string) bool {
	switch msgType {
	case CmdTaskPause, CmdTaskResume, CmdTaskTerminate, CmdGuidanceSend:
		return true
	default:
		return false
	}
}

// writeTimeout bounds how long a single WebSocket send may block.
const writeTimeout = 5 * time.Second

// connection is one WebSocket client. subscriptions is only ever touched by
// the goroutine running HandleConnection's read loop, mirroring the
// single-owner-goroutine discipline of the teacher's ConnectionManager.
type connection struct {
	id            string
	userID        string
	conn          *websocket.Conn
	ctx           context.Context
	cancel        context.CancelFunc
	subscriptions map[string]bool
}

// TaskOwnershipChecker resolves whether userID owns taskID, used to enforce
// the WebSocket command ownership rule (spec §6).
type TaskOwnershipChecker interface {
	Owns(ctx context.Context, userID, taskID string) (bool, error)
}

// Bus is the process-wide WebSocket connection manager and event publisher.
// It implements pause.Emitter (and internal/orchestrator's superset of it),
// so pause.Registry and orchestrator.RunRound can publish through the same
// instance client connections are registered against.
type Bus struct {
	mu          sync.RWMutex
	connections map[string]*connection

	channelMu sync.RWMutex
	channels  map[string]map[string]bool // taskID -> set of connection ids

	owners      TaskOwnershipChecker
	controllers *pause.Registry
	log         *slog.Logger
}

// NewBus builds a Bus. owners/controllers may be nil in tests that only
// exercise Publish/broadcast, not the client command path.
func NewBus(owners TaskOwnershipChecker, controllers *pause.Registry, log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		connections: make(map[string]*connection),
		channels:    make(map[string]map[string]bool),
		owners:      owners,
		controllers: controllers,
		log:         log,
	}
}

var _ pause.Emitter = (*Bus)(nil)

// Publish implements pause.Emitter / orchestrator.Emitter: it stamps
// taskId/ts onto the payload and broadcasts to every connection subscribed
// to taskID.
func (b *Bus) Publish(taskID, eventType string, payload map[string]any) {
	out := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		out[k] = v
	}
	out["taskId"] = taskID

	env := Envelope{Type: eventType, Payload: out, TimestampMS: clock.NowMillis()}
	data, err := json.Marshal(env)
	if err != nil {
		b.log.Error("failed to marshal event envelope", "event_type", eventType, "task_id", taskID, "error", err)
		return
	}
	b.broadcast(taskID, data)
}

// ActiveConnections reports the number of live WebSocket connections.
func (b *Bus) ActiveConnections() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.connections)
}

func (b *Bus) subscriberCount(taskID string) int {
	b.channelMu.RLock()
	defer b.channelMu.RUnlock()
	return len(b.channels[taskID])
}

func (b *Bus) broadcast(taskID string, data []byte) {
	b.channelMu.RLock()
	ids, ok := b.channels[taskID]
	if !ok {
		b.channelMu.RUnlock()
		return
	}
	connIDs := make([]string, 0, len(ids))
	for id := range ids {
		connIDs = append(connIDs, id)
	}
	b.channelMu.RUnlock()

	b.mu.RLock()
	conns := make([]*connection, 0, len(connIDs))
	for _, id := range connIDs {
		if c, ok := b.connections[id]; ok {
			conns = append(conns, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range conns {
		if err := b.sendRaw(c, data); err != nil {
			b.log.Warn("failed to send event to client", "connection_id", c.id, "task_id", taskID, "error", err)
		}
	}
}

// HandleConnection drives a single WebSocket connection's lifecycle: it
// registers the connection, reads client messages until the socket closes,
// and tears down its subscriptions on exit. Blocks until the connection
// closes; callers run it in its own goroutine per accepted connection.
func (b *Bus) HandleConnection(parentCtx context.Context, conn *websocket.Conn, userID string) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &connection{
		id:            clock.NewID(),
		userID:        userID,
		conn:          conn,
		ctx:           ctx,
		cancel:        cancel,
		subscriptions: make(map[string]bool),
	}

	b.register(c)
	defer b.unregister(c)

	b.send(c, Envelope{Type: "connection.established", Payload: map[string]any{"connectionId": c.id}})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg Envelope
		if err := json.Unmarshal(data, &msg); err != nil {
			b.log.Warn("invalid websocket message", "connection_id", c.id, "error", err)
			continue
		}
		b.handleClientMessage(ctx, c, &msg)
	}
}

func (b *Bus) handleClientMessage(ctx context.Context, c *connection, msg *Envelope) {
	switch msg.Type {
	case ActionSubscribe:
		taskID := stringField(msg.Payload, "taskId")
		if taskID == "" {
			b.send(c, Envelope{Type: "error", Payload: map[string]any{"message": "taskId is required for subscribe"}})
			return
		}
		b.subscribe(c, taskID)
		b.send(c, Envelope{Type: "subscription.confirmed", Payload: map[string]any{"taskId": taskID}})

	case ActionUnsubscribe:
		taskID := stringField(msg.Payload, "taskId")
		if taskID != "" {
			b.unsubscribe(c, taskID)
		}

	case ActionPing:
		b.send(c, Envelope{Type: "pong"})

	default:
		if isCommand(msg.Type) {
			b.handleCommand(ctx, c, msg)
			return
		}
		b.send(c, Envelope{Type: "error", Payload: map[string]any{"message": fmt.Sprintf("unknown message type %q", msg.Type)}})
	}
}

func (b *Bus) handleCommand(ctx context.Context, c *connection, msg *Envelope) {
	taskID := stringField(msg.Payload, "taskId")
	if taskID == "" {
		b.ack(c, msg.Type, msg.CorrelationID, false, "taskId is required")
		return
	}

	if b.owners != nil {
		owns, err := b.owners.Owns(ctx, c.userID, taskID)
		if err != nil || !owns {
			b.ack(c, msg.Type, msg.CorrelationID, false, ReasonTaskNotFoundOrForbidden)
			return
		}
	}

	if b.controllers == nil {
		b.ack(c, msg.Type, msg.CorrelationID, false, "pause controller unavailable")
		return
	}
	controller := b.controllers.Get(taskID)
	userID := c.userID

	switch msg.Type {
	case CmdTaskPause:
		changed := controller.RequestPause(msg.CorrelationID, &userID)
		b.ackIdempotent(c, msg.Type, msg.CorrelationID, changed)

	case CmdTaskResume:
		changed, err := controller.RequestResume(msg.CorrelationID, &userID)
		if err != nil {
			b.ack(c, msg.Type, msg.CorrelationID, false, err.Error())
			return
		}
		b.ackIdempotent(c, msg.Type, msg.CorrelationID, changed)

	case CmdTaskTerminate:
		changed := controller.RequestStop(msg.CorrelationID, &userID)
		b.ackIdempotent(c, msg.Type, msg.CorrelationID, changed)

	case CmdGuidanceSend:
		content := stringField(msg.Payload, "content")
		if strings.TrimSpace(content) == "" {
			b.ack(c, msg.Type, msg.CorrelationID, false, "content must not be empty")
			return
		}
		if _, err := controller.UpdateGuidance(content); err != nil {
			b.ack(c, msg.Type, msg.CorrelationID, false, err.Error())
			return
		}
		b.ack(c, msg.Type, msg.CorrelationID, true, "")
	}
}

// ackIdempotent sends ok:true always (spec §6: resending a command is always
// "ok"), with a reason explaining a no-op when the state didn't change.
func (b *Bus) ackIdempotent(c *connection, cmdType, correlationID string, changed bool) {
	reason := ""
	if !changed {
		reason = ReasonAlreadyInTargetState
	}
	b.ack(c, cmdType, correlationID, true, reason)
}

func (b *Bus) ack(c *connection, cmdType, correlationID string, ok bool, reason string) {
	payload := map[string]any{"ok": ok}
	if reason != "" {
		payload["reason"] = reason
	}
	b.send(c, Envelope{Type: cmdType + ":ack", Payload: payload, CorrelationID: correlationID})
}

func (b *Bus) subscribe(c *connection, taskID string) {
	b.channelMu.Lock()
	if _, ok := b.channels[taskID]; !ok {
		b.channels[taskID] = make(map[string]bool)
	}
	b.channels[taskID][c.id] = true
	b.channelMu.Unlock()
	c.subscriptions[taskID] = true
}

func (b *Bus) unsubscribe(c *connection, taskID string) {
	b.channelMu.Lock()
	if subs, ok := b.channels[taskID]; ok {
		delete(subs, c.id)
		if len(subs) == 0 {
			delete(b.channels, taskID)
		}
	}
	b.channelMu.Unlock()
	delete(c.subscriptions, taskID)
}

func (b *Bus) register(c *connection) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connections[c.id] = c
}

func (b *Bus) unregister(c *connection) {
	for taskID := range c.subscriptions {
		b.unsubscribe(c, taskID)
	}
	b.mu.Lock()
	delete(b.connections, c.id)
	b.mu.Unlock()

	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

func (b *Bus) send(c *connection, env Envelope) {
	if env.TimestampMS == 0 {
		env.TimestampMS = clock.NowMillis()
	}
	data, err := json.Marshal(env)
	if err != nil {
		b.log.Warn("failed to marshal websocket message", "connection_id", c.id, "error", err)
		return
	}
	if err := b.sendRaw(c, data); err != nil {
		b.log.Warn("failed to send websocket message", "connection_id", c.id, "error", err)
	}
}

func (b *Bus) sendRaw(c *connection, data []byte) error {
	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func stringField(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
