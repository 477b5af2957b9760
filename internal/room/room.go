// Package room multiplexes WebSocket connections onto documents: a
// Room holds every connection currently viewing one document and
// relays sync/update/commit frames between them, the CRDT store, and
// the commit log.
package room

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/commonplace-systems/commonplace/internal/commitstore"
	"github.com/commonplace-systems/commonplace/internal/docstore"
	"github.com/commonplace-systems/commonplace/internal/wire"
)

var (
	ErrDocumentNotFound = errors.New("room: document not found")
	ErrApplyFailed      = errors.New("room: failed to apply update")
)

// Room coordinates every connection subscribed to one document.
type Room struct {
	docID string

	mu          sync.RWMutex
	connections map[ConnectionID]*WsConnection

	docStore    *docstore.Store
	commitStore commitstore.Store // nil if persistence isn't wired
}

// NewRoom creates an empty room for docID.
func NewRoom(docID string, docStore *docstore.Store, commitStore commitstore.Store) *Room {
	return &Room{
		docID:       docID,
		connections: make(map[ConnectionID]*WsConnection),
		docStore:    docStore,
		commitStore: commitStore,
	}
}

// DocID returns the document this room serves.
func (r *Room) DocID() string { return r.docID }

// AddConnection registers a connection with this room.
func (r *Room) AddConnection(conn *WsConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[conn.ID] = conn
}

// RemoveConnection unregisters a connection.
func (r *Room) RemoveConnection(connID ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.connections, connID)
}

// ConnectionCount reports how many connections are currently joined.
func (r *Room) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// HandleSyncStep1 answers a client's state vector with the update it
// is missing, encoded as a SyncStep2 frame.
func (r *Room) HandleSyncStep1(stateVector []byte) ([]byte, error) {
	doc, err := r.docStore.GetDocument(r.docID)
	if err != nil {
		return nil, ErrDocumentNotFound
	}
	diff, err := doc.Doc.EncodeDiff(stateVector)
	if err != nil {
		return nil, err
	}
	return wire.EncodeSyncStep2(diff), nil
}

// GetStateVector returns this room's document's state vector, for the
// server to open a sync exchange with SyncStep1.
func (r *Room) GetStateVector() ([]byte, error) {
	doc, err := r.docStore.GetDocument(r.docID)
	if err != nil {
		return nil, ErrDocumentNotFound
	}
	return doc.Doc.StateVector()
}

// HandleUpdate applies an update from fromConnID to the document store
// and relays it to every other connection in the room.
func (r *Room) HandleUpdate(fromConnID ConnectionID, update []byte) error {
	if err := r.docStore.ApplyUpdate(r.docID, update); err != nil {
		return ErrApplyFailed
	}
	r.BroadcastExcept(fromConnID, wire.EncodeUpdate(update))
	return nil
}

// BroadcastExcept sends message to every connection but exceptConnID,
// dropping silently on a full or closed buffer.
func (r *Room) BroadcastExcept(exceptConnID ConnectionID, message []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, conn := range r.connections {
		if id == exceptConnID {
			continue
		}
		conn.TrySendBinary(message)
	}
}

// BroadcastAll sends message to every connection in the room.
func (r *Room) BroadcastAll(message []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, conn := range r.connections {
		conn.TrySendBinary(message)
	}
}

// HandleCommitNotification relays a commit made outside this room
// (e.g. via the HTTP API) to every connected client, if it belongs to
// this room's document.
func (r *Room) HandleCommitNotification(ctx context.Context, n docstore.CommitNotification) {
	if n.DocID != r.docID || r.commitStore == nil {
		return
	}
	commit, err := r.commitStore.Get(ctx, n.CommitID)
	if err != nil {
		return
	}
	r.BroadcastAll(wire.EncodeUpdate(commit.UpdateBytes))
}

// Manager owns every room, creating them lazily and forwarding commit
// notifications from the document store to the right room.
type Manager struct {
	mu          sync.RWMutex
	rooms       map[string]*Room
	docStore    *docstore.Store
	commitStore commitstore.Store
}

// NewManager creates an empty room manager.
func NewManager(docStore *docstore.Store, commitStore commitstore.Store) *Manager {
	return &Manager{
		rooms:       make(map[string]*Room),
		docStore:    docStore,
		commitStore: commitStore,
	}
}

// GetOrCreateRoom returns the room for docID, creating it under a
// double-checked lock if it doesn't exist yet.
func (m *Manager) GetOrCreateRoom(docID string) *Room {
	m.mu.RLock()
	if r, ok := m.rooms[docID]; ok {
		m.mu.RUnlock()
		return r
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[docID]; ok {
		return r
	}
	r := NewRoom(docID, m.docStore, m.commitStore)
	m.rooms[docID] = r
	return r
}

// CleanupEmptyRooms removes every room with zero connections.
func (m *Manager) CleanupEmptyRooms() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for docID, r := range m.rooms {
		if r.ConnectionCount() == 0 {
			delete(m.rooms, docID)
		}
	}
}

// SweepStale closes every connection across every room whose
// LastActivity exceeds threshold, the WebSocket liveness sweep §5
// describes. Close enqueues a close message on the connection's
// outgoing channel; its write goroutine acts on it by closing the
// socket, which causes RemoveConnection to run. A connection whose
// outgoing buffer is full does not receive the close message.
func (m *Manager) SweepStale(threshold time.Duration) {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	cutoff := time.Now().Add(-threshold)
	for _, r := range rooms {
		r.mu.RLock()
		var stale []*WsConnection
		for _, conn := range r.connections {
			if conn.LastActivity().Before(cutoff) {
				stale = append(stale, conn)
			}
		}
		r.mu.RUnlock()
		for _, conn := range stale {
			conn.Close()
		}
	}
}

// AllRooms returns a snapshot of every live room, for fan-out of
// commit notifications.
func (m *Manager) AllRooms() []*Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r)
	}
	return out
}

// Notify implements docstore.Broadcaster: it routes a commit
// notification to the one room that owns the notified document, if
// that room is currently live (no connections means no one to tell).
func (m *Manager) Notify(n docstore.CommitNotification) {
	m.mu.RLock()
	r, ok := m.rooms[n.DocID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	r.HandleCommitNotification(context.Background(), n)
}
