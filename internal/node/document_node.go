package node

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// DocumentNode is the node wrapping a single document's blue/red ports.
// The document content itself (the crdt.Doc) is owned by
// internal/docstore; DocumentNode only manages fan-out.
type DocumentNode struct {
	id       NodeId
	docType  string
	blue     *broadcaster[Edit]
	red      *broadcaster[Event]
	shutdown atomic.Bool
}

// NewDocumentNode creates a node for docID. nodeType is a
// human-readable label ("document") surfaced via NodeType.
func NewDocumentNode(docID string, nodeType string) *DocumentNode {
	return &DocumentNode{
		id:      NodeId(docID),
		docType: nodeType,
		blue:    newBroadcaster[Edit](),
		red:     newBroadcaster[Event](),
	}
}

func (n *DocumentNode) ID() NodeId        { return n.id }
func (n *DocumentNode) NodeType() string  { return n.docType }

// ReceiveEdit emits edit to blue subscribers. Applying the edit to the
// document's CRDT state is the caller's (docstore's) responsibility;
// this only handles fan-out, mirroring how the original's DocumentNode
// and DocumentStore are separate concerns.
func (n *DocumentNode) ReceiveEdit(edit Edit) error {
	if n.shutdown.Load() {
		return ErrShutdown
	}
	n.blue.broadcast(edit)
	return nil
}

// ReceiveEvent emits event to red subscribers.
func (n *DocumentNode) ReceiveEvent(event Event) error {
	if n.shutdown.Load() {
		return ErrShutdown
	}
	event.Source = n.id
	n.red.broadcast(event)
	return nil
}

func (n *DocumentNode) SubscribeBlue() *BlueSubscription {
	return &BlueSubscription{Source: n.id, sub: n.blue.subscribe()}
}

func (n *DocumentNode) SubscribeRed() *RedSubscription {
	return &RedSubscription{Source: n.id, sub: n.red.subscribe()}
}

func (n *DocumentNode) Subscribe() *Subscription {
	return &Subscription{Source: n.id, blueSub: n.blue.subscribe(), redSub: n.red.subscribe()}
}

func (n *DocumentNode) BlueSubscriberCount() int { return n.blue.count() }
func (n *DocumentNode) RedSubscriberCount() int  { return n.red.count() }
func (n *DocumentNode) SubscriberCount() int {
	return n.BlueSubscriberCount() + n.RedSubscriberCount()
}

func (n *DocumentNode) Shutdown() error {
	n.shutdown.Store(true)
	n.blue.shutdown()
	n.red.shutdown()
	return nil
}

func (n *DocumentNode) IsHealthy() bool { return !n.shutdown.Load() }

// NewConnectionNodeID generates a server-assigned connection id, used
// by ConnectionNode and by the room layer's WsConnection.
func NewConnectionNodeID() NodeId {
	return NodeId(uuid.NewString())
}
