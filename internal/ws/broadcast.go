package ws

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tensei-bridge/backend/internal/session"
)

// ErrTooManyConnections is returned by AddClient when the configured
// connection limit has been reached.
var ErrTooManyConnections = errors.New("too many websocket connections")

type client struct {
	conn *websocket.Conn
	b    *Broadcaster
	send chan []byte
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.b.RemoveClient(c)
			return
		}
	}
}

// SnapshotSource provides the full session set for snapshot messages.
type SnapshotSource interface {
	States() []*session.State
}

// Broadcaster fans migration-state changes out to WebSocket clients.
// Updates are throttled into delta batches; full snapshots go out on
// connect and on a periodic tick so late joiners converge.
type Broadcaster struct {
	mu             sync.RWMutex
	clients        map[*client]bool
	source         SnapshotSource
	throttle       time.Duration
	maxConns       int
	snapshotTicker *time.Ticker
	pendingUpdates []*session.State
	pendingRemoved []string
	flushTimer     *time.Timer
	flushMu        sync.Mutex
}

// NewBroadcaster wires a broadcaster to a snapshot source. maxConns of 0
// means unlimited connections.
func NewBroadcaster(source SnapshotSource, throttle, snapshotInterval time.Duration, maxConns int) *Broadcaster {
	b := &Broadcaster{
		clients:  make(map[*client]bool),
		source:   source,
		throttle: throttle,
		maxConns: maxConns,
	}

	b.snapshotTicker = time.NewTicker(snapshotInterval)
	go b.snapshotLoop()

	return b
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	c := &client{
		conn: conn,
		b:    b,
		send: make(chan []byte, 64),
	}

	snapshot := WSMessage{
		Type: MsgSnapshot,
		Payload: SnapshotPayload{
			Sessions: b.source.States(),
		},
	}
	data, _ := json.Marshal(snapshot)

	b.mu.Lock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		conn.Close()
		return nil, ErrTooManyConnections
	}
	b.clients[c] = true
	// Queued under the lock so the snapshot is always the first message
	// the client sees.
	c.send <- data
	b.mu.Unlock()

	go c.writePump()

	return c, nil
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
	b.mu.Unlock()
}

// QueueUpdate batches a state change into the next delta flush. Safe
// to call from orchestrator commit paths: it never blocks.
func (b *Broadcaster) QueueUpdate(st *session.State) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.pendingUpdates = append(b.pendingUpdates, st)

	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

// QueueRemoval batches deleted session IDs into the next delta flush.
func (b *Broadcaster) QueueRemoval(ids ...string) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.pendingRemoved = append(b.pendingRemoved, ids...)

	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

// AnnounceCompletion pushes a completion event immediately, outside
// the delta throttle.
func (b *Broadcaster) AnnounceCompletion(sessionID string, result *session.Asset) {
	b.broadcast(WSMessage{
		Type: MsgCompletion,
		Payload: CompletionPayload{
			SessionID:   sessionID,
			ResultAsset: result,
		},
	})
}

func (b *Broadcaster) flush() {
	b.flushMu.Lock()
	updates := b.pendingUpdates
	removed := b.pendingRemoved
	b.pendingUpdates = nil
	b.pendingRemoved = nil
	b.flushTimer = nil
	b.flushMu.Unlock()

	if len(updates) == 0 && len(removed) == 0 {
		return
	}

	b.broadcast(WSMessage{
		Type: MsgDelta,
		Payload: DeltaPayload{
			Updates: updates,
			Removed: removed,
		},
	})
}

func (b *Broadcaster) snapshotLoop() {
	for range b.snapshotTicker.C {
		b.broadcast(WSMessage{
			Type: MsgSnapshot,
			Payload: SnapshotPayload{
				Sessions: b.source.States(),
			},
		})
	}
}

func (b *Broadcaster) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("broadcast marshal error: %v", err)
		return
	}

	// Sends happen under the read lock so a concurrent RemoveClient
	// cannot close a channel mid-send.
	var slow []*client
	b.mu.RLock()
	for c := range b.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range slow {
		log.Printf("ws client too slow, disconnecting")
		b.RemoveClient(c)
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Stop halts the periodic snapshot loop.
func (b *Broadcaster) Stop() {
	b.snapshotTicker.Stop()
}
