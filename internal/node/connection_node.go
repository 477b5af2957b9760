package node

import "sync/atomic"

// ConnectionNode is a transient node representing an SSE or WS
// connection. It has a server-generated id, forwards the target
// document's blue port as its own, and owns its own red port for
// events addressed directly to this connection.
//
// Lifecycle: created when a client subscribes to a document, torn
// down (Shutdown) when the underlying connection closes.
type ConnectionNode struct {
	id       NodeId
	targetID NodeId
	target   Node
	red      *broadcaster[Event]
	shutdown atomic.Bool
}

// NewConnectionNode creates a ConnectionNode subscribing to target,
// with a server-generated id.
func NewConnectionNode(target Node) *ConnectionNode {
	return &ConnectionNode{
		id:       NewConnectionNodeID(),
		targetID: target.ID(),
		target:   target,
		red:      newBroadcaster[Event](),
	}
}

// NewConnectionNodeWithID creates a ConnectionNode with an explicit id,
// for tests.
func NewConnectionNodeWithID(id string, target Node) *ConnectionNode {
	return &ConnectionNode{
		id:       NodeId(id),
		targetID: target.ID(),
		target:   target,
		red:      newBroadcaster[Event](),
	}
}

func (c *ConnectionNode) ID() NodeId       { return c.id }
func (c *ConnectionNode) NodeType() string { return "connection" }
func (c *ConnectionNode) TargetID() NodeId { return c.targetID }

// GetTargetBlueSubscription subscribes directly to the target
// document's blue port -- the primary way a connection streams edits.
func (c *ConnectionNode) GetTargetBlueSubscription() *BlueSubscription {
	return c.target.SubscribeBlue()
}

// ReceiveEdit is a no-op: connections are subscribers, not documents.
func (c *ConnectionNode) ReceiveEdit(edit Edit) error {
	if c.shutdown.Load() {
		return ErrShutdown
	}
	return nil
}

// ReceiveEvent forwards event to this connection's red subscribers,
// stamping it with the connection's own id as source.
func (c *ConnectionNode) ReceiveEvent(event Event) error {
	if c.shutdown.Load() {
		return ErrShutdown
	}
	event.Source = c.id
	c.red.broadcast(event)
	return nil
}

// SubscribeBlue forwards to the target document's blue port.
func (c *ConnectionNode) SubscribeBlue() *BlueSubscription {
	return c.target.SubscribeBlue()
}

func (c *ConnectionNode) SubscribeRed() *RedSubscription {
	return &RedSubscription{Source: c.id, sub: c.red.subscribe()}
}

func (c *ConnectionNode) Subscribe() *Subscription {
	blue := c.target.SubscribeBlue()
	return &Subscription{Source: c.id, blueSub: blue.sub, redSub: c.red.subscribe()}
}

// BlueSubscriberCount is always 0: a connection has no blue channel of
// its own, it forwards from the target.
func (c *ConnectionNode) BlueSubscriberCount() int { return 0 }
func (c *ConnectionNode) RedSubscriberCount() int  { return c.red.count() }
func (c *ConnectionNode) SubscriberCount() int     { return c.RedSubscriberCount() }

func (c *ConnectionNode) Shutdown() error {
	c.shutdown.Store(true)
	c.red.shutdown()
	return nil
}

func (c *ConnectionNode) IsHealthy() bool { return !c.shutdown.Load() }
