package node

// BlueSubscription receives only Edit messages from a node's blue port.
type BlueSubscription struct {
	Source NodeId
	sub    *portSub[Edit]
}

// Recv blocks for the next edit, or returns ErrLagged if the
// subscriber fell behind, or ErrClosed once the source shut down.
func (s *BlueSubscription) Recv() (Edit, error) {
	e, ok := <-s.sub.ch
	if ok {
		return e, nil
	}
	return Edit{}, closedErr(s.sub)
}

// RedSubscription receives only Event messages from a node's red port.
type RedSubscription struct {
	Source NodeId
	sub    *portSub[Event]
}

// Recv blocks for the next event, or returns ErrLagged/ErrClosed.
func (s *RedSubscription) Recv() (Event, error) {
	ev, ok := <-s.sub.ch
	if ok {
		return ev, nil
	}
	return Event{}, closedErr(s.sub)
}

// Subscription receives messages from both ports. Recv is biased
// toward the blue port: if both an edit and an event are ready, the
// edit is returned first, matching the original's
// `tokio::select! { biased; blue then red }`.
type Subscription struct {
	Source   NodeId
	blueSub  *portSub[Edit]
	redSub   *portSub[Event]
}

// Recv blocks until a message arrives on either port.
func (s *Subscription) Recv() (NodeMessage, error) {
	select {
	case e, ok := <-s.blueSub.ch:
		if ok {
			return NodeMessage{Edit: &e}, nil
		}
		return NodeMessage{}, closedErr(s.blueSub)
	default:
	}

	select {
	case e, ok := <-s.blueSub.ch:
		if ok {
			return NodeMessage{Edit: &e}, nil
		}
		return NodeMessage{}, closedErr(s.blueSub)
	case ev, ok := <-s.redSub.ch:
		if ok {
			return NodeMessage{Event: &ev}, nil
		}
		return NodeMessage{}, closedErr(s.redSub)
	}
}

func closedErr[T any](s *portSub[T]) error {
	select {
	case <-s.lagged:
		return ErrLagged
	default:
		return ErrClosed
	}
}
