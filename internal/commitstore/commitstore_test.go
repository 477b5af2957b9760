package commitstore

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestComputeCIDDeterministic(t *testing.T) {
	c1, err := ComputeCID([]byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	c2, err := ComputeCID([]byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if c1 != c2 {
		t.Fatalf("expected deterministic CID, got %s vs %s", c1, c2)
	}

	c3, err := ComputeCID([]byte("different"))
	if err != nil {
		t.Fatal(err)
	}
	if c1 == c3 {
		t.Fatal("expected different content to produce a different CID")
	}
}

func TestMemStorePutGetHead(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	c1ID, _ := ComputeCID([]byte("update-1"))
	c2ID, _ := ComputeCID([]byte("update-2"))

	c1 := Commit{DocID: "doc-1", CommitID: c1ID.String(), UpdateBytes: []byte("update-1"), Ts: time.Now()}
	c2 := Commit{DocID: "doc-1", CommitID: c2ID.String(), ParentCID: c1ID.String(), UpdateBytes: []byte("update-2"), Ts: time.Now()}

	if err := s.Put(ctx, c1); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, c2); err != nil {
		t.Fatal(err)
	}

	head, err := s.Head(ctx, "doc-1")
	if err != nil {
		t.Fatal(err)
	}
	if head.CommitID != c2.CommitID {
		t.Fatalf("expected head to be the latest commit, got %s", head.CommitID)
	}

	got, err := s.Get(ctx, c1.CommitID)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.UpdateBytes, []byte("update-1")) {
		t.Fatalf("unexpected update bytes: %q", got.UpdateBytes)
	}

	list, err := s.ListForDoc(ctx, "doc-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(list))
	}
}

func TestMemStoreGetMissingReturnsNotFound(t *testing.T) {
	s := NewMemStore()
	if _, err := s.Get(context.Background(), "missing"); err == nil {
		t.Fatal("expected an error for a missing commit")
	}
}

func TestNextRevIsMonotonic(t *testing.T) {
	a := NextRev()
	b := NextRev()
	if a == b {
		t.Fatal("expected successive revisions to differ")
	}
	if a >= b {
		t.Fatalf("expected revisions to be monotonically increasing, got %q then %q", a, b)
	}
}

func TestSignerSignsVerifiably(t *testing.T) {
	multibase, err := GenerateSigningKey()
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ParseSigningKey(multibase)
	if err != nil {
		t.Fatal(err)
	}

	sig, err := signer.Sign([]byte("update bytes"))
	if err != nil {
		t.Fatal(err)
	}
	if sig == "" {
		t.Fatal("expected a non-empty hex signature")
	}

	otherSig, err := signer.Sign([]byte("different update bytes"))
	if err != nil {
		t.Fatal(err)
	}
	if otherSig == "" {
		t.Fatal("expected a non-empty signature for different bytes too")
	}
}

func TestParseSigningKeyRejectsGarbage(t *testing.T) {
	if _, err := ParseSigningKey("not a real key"); err == nil {
		t.Fatal("expected an error for a malformed signing key")
	}
}

func TestExportCARRoundtrips(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	id, _ := ComputeCID([]byte("content"))
	if err := s.Put(ctx, Commit{DocID: "doc-1", CommitID: id.String(), UpdateBytes: []byte("content"), Ts: time.Now()}); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := ExportCAR(ctx, s, "doc-1", &buf); err != nil {
		t.Fatal(err)
	}
	if buf.Len() == 0 {
		t.Fatal("expected non-empty CAR output")
	}
}
