package node

import "testing"

func TestDocumentNodeBlueBroadcast(t *testing.T) {
	doc := NewDocumentNode("doc-1", "document")
	sub := doc.SubscribeBlue()

	if err := doc.ReceiveEdit(Edit{DocID: "doc-1", Update: []byte("x")}); err != nil {
		t.Fatal(err)
	}
	edit, err := sub.Recv()
	if err != nil {
		t.Fatal(err)
	}
	if edit.DocID != "doc-1" {
		t.Fatalf("unexpected edit: %+v", edit)
	}
}

func TestConnectionNodeCreation(t *testing.T) {
	doc := NewDocumentNode("doc-1", "document")
	conn := NewConnectionNode(doc)

	if conn.NodeType() != "connection" {
		t.Fatalf("expected connection type, got %s", conn.NodeType())
	}
	if conn.TargetID() != "doc-1" {
		t.Fatalf("expected target doc-1, got %s", conn.TargetID())
	}
	if !conn.IsHealthy() {
		t.Fatal("expected healthy connection")
	}
	if string(conn.ID()) == "doc-1" {
		t.Fatal("connection should have its own id, not the target's")
	}
}

func TestConnectionNodeWithID(t *testing.T) {
	doc := NewDocumentNode("doc-1", "document")
	conn := NewConnectionNodeWithID("conn-123", doc)

	if conn.ID() != "conn-123" {
		t.Fatalf("expected conn-123, got %s", conn.ID())
	}
	if conn.TargetID() != "doc-1" {
		t.Fatalf("expected doc-1, got %s", conn.TargetID())
	}
}

func TestConnectionNodeRedEvents(t *testing.T) {
	doc := NewDocumentNode("doc-1", "document")
	conn := NewConnectionNode(doc)

	redSub := conn.SubscribeRed()
	if err := conn.ReceiveEvent(Event{EventType: "cursor", Source: "external"}); err != nil {
		t.Fatal(err)
	}
	ev, err := redSub.Recv()
	if err != nil {
		t.Fatal(err)
	}
	if ev.EventType != "cursor" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Source != conn.ID() {
		t.Fatalf("expected source to be stamped with connection id, got %s", ev.Source)
	}
}

func TestConnectionNodeShutdown(t *testing.T) {
	doc := NewDocumentNode("doc-1", "document")
	conn := NewConnectionNode(doc)

	if !conn.IsHealthy() {
		t.Fatal("expected healthy before shutdown")
	}
	if err := conn.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if conn.IsHealthy() {
		t.Fatal("expected unhealthy after shutdown")
	}
	if err := conn.ReceiveEvent(Event{EventType: "test"}); err != ErrShutdown {
		t.Fatalf("expected ErrShutdown, got %v", err)
	}
}

func TestSubscriptionBiasedTowardBlue(t *testing.T) {
	doc := NewDocumentNode("doc-1", "document")
	sub := doc.Subscribe()

	if err := doc.ReceiveEvent(Event{EventType: "ev"}); err != nil {
		t.Fatal(err)
	}
	if err := doc.ReceiveEdit(Edit{DocID: "doc-1"}); err != nil {
		t.Fatal(err)
	}

	msg, err := sub.Recv()
	if err != nil {
		t.Fatal(err)
	}
	if msg.Edit == nil {
		t.Fatal("expected the blue-port edit to be delivered first")
	}
}

func TestBroadcastDropsSlowSubscriber(t *testing.T) {
	doc := NewDocumentNode("doc-1", "document")
	sub := doc.SubscribeBlue()

	for i := 0; i < defaultPortCapacity+1; i++ {
		_ = doc.ReceiveEdit(Edit{DocID: "doc-1"})
	}

	// Drain the buffered ones; eventually the channel should report lag.
	var gotLag bool
	for i := 0; i < defaultPortCapacity+1; i++ {
		if _, err := sub.Recv(); err == ErrLagged {
			gotLag = true
			break
		} else if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if !gotLag {
		t.Fatal("expected the slow subscriber to eventually observe ErrLagged")
	}
}
