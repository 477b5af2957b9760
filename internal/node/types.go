// Package node implements the document graph's node and port fabric:
// every document and every live connection is a Node with a blue port
// (persistent edits) and a red port (ephemeral events).
package node

import (
	"errors"
	"time"
)

// NodeId identifies a node in the graph. Document nodes use a caller-
// or schema-assigned id; connection nodes get a server-generated UUID.
type NodeId string

// Edit is a persisted mutation delivered on the blue port.
type Edit struct {
	DocID   string
	CommitID string
	Update  []byte
	Author  string
	Ts      time.Time
}

// Event is an ephemeral message delivered on the red port. Events are
// never persisted and carry no causal ordering guarantee.
type Event struct {
	Source    NodeId
	EventType string
	Payload   []byte
}

// NodeMessage wraps whichever port produced a message from a combined
// Subscription.
type NodeMessage struct {
	Edit  *Edit
	Event *Event
}

var (
	// ErrShutdown is returned by receive_edit/receive_event once a
	// node has been shut down.
	ErrShutdown = errors.New("node: shut down")
	// ErrLagged is returned by a subscription's Recv when the
	// subscriber fell behind and the broadcaster dropped messages for it.
	ErrLagged = errors.New("node: subscriber lagged, messages were dropped")
	// ErrClosed is returned by a subscription's Recv after the node
	// it was subscribed toshut down and closed the channel.
	ErrClosed = errors.New("node: subscription closed")
)

// Node is the interface implemented by every member of the document
// graph: documents, connections, and any future node type.
type Node interface {
	ID() NodeId
	NodeType() string

	ReceiveEdit(edit Edit) error
	ReceiveEvent(event Event) error

	SubscribeBlue() *BlueSubscription
	SubscribeRed() *RedSubscription
	Subscribe() *Subscription

	BlueSubscriberCount() int
	RedSubscriberCount() int
	SubscriberCount() int

	Shutdown() error
	IsHealthy() bool
}
