package node

import "sync"

// defaultPortCapacity matches the teacher's events.Manager subscriber
// channel sizing and the original node/subscription.rs's
// broadcast::channel(256).
const defaultPortCapacity = 256

// broadcaster fans a stream of values of type T out to any number of
// subscribers, each with its own bounded channel. A subscriber that
// can't keep up never blocks the sender: broadcast uses a non-blocking
// send and, on a full channel, closes the subscriber out with
// ErrLagged instead of back-pressuring the whole node -- the same
// choice the teacher's events.Manager.broadcast makes for its
// subscriber map.
type broadcaster[T any] struct {
	mu   sync.RWMutex
	subs map[*portSub[T]]struct{}
	done bool
}

type portSub[T any] struct {
	ch     chan T
	lagged chan struct{}
}

func newBroadcaster[T any]() *broadcaster[T] {
	return &broadcaster[T]{subs: make(map[*portSub[T]]struct{})}
}

func (b *broadcaster[T]) subscribe() *portSub[T] {
	s := &portSub[T]{ch: make(chan T, defaultPortCapacity), lagged: make(chan struct{})}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		close(s.ch)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

func (b *broadcaster[T]) unsubscribe(s *portSub[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, s)
}

// broadcast delivers value to every current subscriber without
// blocking. A subscriber whose buffer is full is dropped: its channel
// is closed and its lagged flag set so Recv reports ErrLagged.
func (b *broadcaster[T]) broadcast(value T) {
	b.mu.RLock()
	targets := make([]*portSub[T], 0, len(b.subs))
	for s := range b.subs {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	var toRemove []*portSub[T]
	for _, s := range targets {
		select {
		case s.ch <- value:
		default:
			close(s.lagged)
			close(s.ch)
			toRemove = append(toRemove, s)
		}
	}
	if len(toRemove) > 0 {
		b.mu.Lock()
		for _, s := range toRemove {
			delete(b.subs, s)
		}
		b.mu.Unlock()
	}
}

func (b *broadcaster[T]) count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// shutdown closes every subscriber's channel (clean close, not lag)
// and prevents further subscriptions.
func (b *broadcaster[T]) shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	b.done = true
	for s := range b.subs {
		close(s.ch)
	}
	b.subs = make(map[*portSub[T]]struct{})
}
