package room

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/commonplace-systems/commonplace/internal/wire"
)

// ConnectionID identifies one WebSocket connection within a room.
type ConnectionID = string

// OutgoingMessage is a message queued for delivery to a connection's
// write goroutine.
type OutgoingMessage struct {
	Binary []byte // nil when Close is true
	Close  bool
}

// WsConnection is per-connection state: its room membership, the
// negotiated wire protocol, and a buffered outgoing channel drained by
// that connection's write goroutine.
type WsConnection struct {
	ID       ConnectionID
	DocID    string
	Protocol wire.ProtocolMode
	ClientID uint64

	mu           sync.Mutex
	lastActivity time.Time

	sender chan OutgoingMessage
}

// NewWsConnection creates connection state for docID, with a
// server-generated id and client id (first 8 bytes of a fresh UUID,
// matching the original's origin-tracking client_id derivation).
func NewWsConnection(docID string, protocol wire.ProtocolMode, bufSize int) *WsConnection {
	id := uuid.New()
	clientID := binary.LittleEndian.Uint64(id[:8])
	return &WsConnection{
		ID:           id.String(),
		DocID:        docID,
		Protocol:     protocol,
		ClientID:     clientID,
		lastActivity: time.Now(),
		sender:       make(chan OutgoingMessage, bufSize),
	}
}

// Touch records activity, used for idle-timeout sweeps.
func (c *WsConnection) Touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// LastActivity returns the last Touch time.
func (c *WsConnection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Outgoing returns the channel this connection's write goroutine reads
// from.
func (c *WsConnection) Outgoing() <-chan OutgoingMessage {
	return c.sender
}

// TrySend enqueues msg without blocking, reporting false if the buffer
// is full or the connection already closed its channel.
func (c *WsConnection) TrySend(msg OutgoingMessage) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case c.sender <- msg:
		return true
	default:
		return false
	}
}

// TrySendBinary enqueues a binary frame.
func (c *WsConnection) TrySendBinary(data []byte) bool {
	return c.TrySend(OutgoingMessage{Binary: data})
}

// Close signals the write goroutine to close the socket.
func (c *WsConnection) Close() {
	c.TrySend(OutgoingMessage{Close: true})
}
