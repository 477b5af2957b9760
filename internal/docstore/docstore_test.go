package docstore

import (
	"context"
	"testing"

	"github.com/commonplace-systems/commonplace/internal/commitstore"
)

type recordingBroadcaster struct {
	notifications []CommitNotification
}

func (r *recordingBroadcaster) Notify(n CommitNotification) {
	r.notifications = append(r.notifications, n)
}

func TestCreateAndGetDocument(t *testing.T) {
	s := New("site-1", nil)
	d := s.CreateDocument(ContentJSON)

	got, err := s.GetDocument(d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != d.ID {
		t.Fatalf("expected %s, got %s", d.ID, got.ID)
	}
}

func TestGetMissingDocumentReturnsNotFound(t *testing.T) {
	s := New("site-1", nil)
	if _, err := s.GetDocument("missing"); err == nil {
		t.Fatal("expected an error for a missing document")
	}
}

func TestGetOrCreateWithIDIsIdempotent(t *testing.T) {
	s := New("site-1", nil)
	d1, created1 := s.GetOrCreateWithID("fixed-id", ContentJSON)
	d2, created2 := s.GetOrCreateWithID("fixed-id", ContentJSON)

	if !created1 || created2 {
		t.Fatalf("expected first call to create, second to no-op: %v %v", created1, created2)
	}
	if d1 != d2 {
		t.Fatal("expected the same document instance")
	}
}

func TestSetContentEmitsNotification(t *testing.T) {
	bc := &recordingBroadcaster{}
	s := New("site-1", bc)
	d, _ := s.GetOrCreateWithID("doc-1", ContentJSON)

	if err := s.SetContent(d.ID, `{"v":1}`); err != nil {
		t.Fatal(err)
	}
	if len(bc.notifications) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(bc.notifications))
	}
	if bc.notifications[0].DocID != "doc-1" {
		t.Fatalf("unexpected notification: %+v", bc.notifications[0])
	}
	if d.Doc.Content() != `{"v":1}` {
		t.Fatalf("expected content to be applied, got %q", d.Doc.Content())
	}
}

func TestDeleteDocumentRemovesAndShutsDownNode(t *testing.T) {
	s := New("site-1", nil)
	d, _ := s.GetOrCreateWithID("doc-1", ContentJSON)

	if err := s.DeleteDocument(d.ID); err != nil {
		t.Fatal(err)
	}
	if d.Node.IsHealthy() {
		t.Fatal("expected node to be shut down after delete")
	}
	if _, err := s.GetDocument(d.ID); err == nil {
		t.Fatal("expected deleted document to be gone")
	}
}

func TestSetContentAppendsToCommitStore(t *testing.T) {
	cs := commitstore.NewMemStore()
	s := New("site-1", nil)
	s.SetCommitStore(cs)
	d, _ := s.GetOrCreateWithID("doc-1", ContentJSON)

	if err := s.SetContent(d.ID, `{"v":1}`); err != nil {
		t.Fatal(err)
	}
	if err := s.SetContent(d.ID, `{"v":2}`); err != nil {
		t.Fatal(err)
	}

	commits, err := cs.ListForDoc(context.Background(), d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(commits) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(commits))
	}
	if commits[1].ParentCID != commits[0].CommitID {
		t.Fatalf("expected second commit to chain to the first: %+v", commits)
	}

	head, err := cs.Head(context.Background(), d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if head.CommitID != commits[1].CommitID {
		t.Fatalf("expected head to be the latest commit")
	}
}

func TestFromMimeRejectsUnsupported(t *testing.T) {
	if _, ok := FromMime("application/pdf"); ok {
		t.Fatal("expected unsupported media type to be rejected")
	}
	if ct, ok := FromMime("application/json"); !ok || ct != ContentJSON {
		t.Fatalf("expected application/json to map to ContentJSON, got %v %v", ct, ok)
	}
}
