package fsreconciler

import (
	"context"
	"testing"
	"time"

	"github.com/commonplace-systems/commonplace/internal/docstore"
	"github.com/commonplace-systems/commonplace/internal/fsschema"
)

func TestDeriveDocID(t *testing.T) {
	r := New("my-fs", docstore.New("site-1", nil))

	cases := []struct {
		path string
		want string
	}{
		{"notes/ideas.txt", "my-fs:notes/ideas.txt"},
		{"file.txt", "my-fs:file.txt"},
		{"", "my-fs"},
	}
	for _, c := range cases {
		if got := r.deriveDocID(c.path); got != c.want {
			t.Fatalf("deriveDocID(%q) = %q, want %q", c.path, got, c.want)
		}
	}
}

func TestReconcileCreatesDocumentsForEachEntry(t *testing.T) {
	store := docstore.New("site-1", nil)
	r := New("my-fs", store)

	content := `{"version":1,"root":{"type":"dir","entries":{
		"notes.txt":{"type":"doc"},
		"sub":{"type":"dir","entries":{"a.txt":{"type":"doc"}}}
	}}}`
	if err := r.Reconcile(content); err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"my-fs:notes.txt", "my-fs:sub/a.txt"} {
		if _, err := store.GetDocument(id); err != nil {
			t.Fatalf("expected document %s to exist: %v", id, err)
		}
	}
}

func TestReconcileRejectsMutualExclusion(t *testing.T) {
	store := docstore.New("site-1", nil)
	r := New("my-fs", store)

	content := `{"version":1,"root":{"type":"dir","node_id":"shared","entries":{"a.txt":{"type":"doc"}}}}`
	if err := r.Reconcile(content); err == nil {
		t.Fatal("expected an error for a directory with both node_id and entries")
	}
}

func TestReconcileRejectsNonDirRoot(t *testing.T) {
	store := docstore.New("site-1", nil)
	r := New("my-fs", store)

	content := `{"version":1,"root":{"type":"doc"}}`
	if err := r.Reconcile(content); err == nil {
		t.Fatal("expected an error for a non-dir root")
	}
}

func TestReconcileDetectsDocBackedDirCycle(t *testing.T) {
	store := docstore.New("site-1", nil)
	r := New("my-fs", store)

	// "a" is document-backed and its own content mounts itself again.
	store.GetOrCreateWithID("doc-a", docstore.ContentJSON)

	content := `{"version":1,"root":{"type":"dir","entries":{"a":{"type":"dir","node_id":"doc-a"}}}}`
	if err := r.Reconcile(content); err != nil {
		t.Fatal(err)
	}

	if err := store.SetContent("doc-a", `{"version":1,"root":{"type":"dir","node_id":"doc-a"}}`); err != nil {
		t.Fatal(err)
	}
	if err := r.Reconcile(content); err != nil {
		t.Fatalf("expected cycle to be skipped, not erroring: %v", err)
	}
}

func TestReconcileFallsBackOnInvalidDocBackedDirSchema(t *testing.T) {
	store := docstore.New("site-1", nil)
	r := New("my-fs", store)

	store.GetOrCreateWithID("doc-a", docstore.ContentJSON)
	store.SetContent("doc-a", `{"version":1,"root":{"type":"dir","entries":{"x.txt":{"type":"doc"}}}}`)

	content := `{"version":1,"root":{"type":"dir","entries":{"a":{"type":"dir","node_id":"doc-a"}}}}`
	if err := r.Reconcile(content); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetDocument("my-fs:a/x.txt"); err != nil {
		t.Fatalf("expected my-fs:a/x.txt to exist: %v", err)
	}

	// Now corrupt doc-a's content; reconcile should fall back to the
	// cached valid schema rather than dropping the subtree.
	store.SetContent("doc-a", `not valid json`)
	if err := r.Reconcile(content); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetDocument("my-fs:a/x.txt"); err != nil {
		t.Fatalf("expected cached schema to still produce my-fs:a/x.txt: %v", err)
	}
}

func TestResolvePathFindsInlineEntries(t *testing.T) {
	schema, err := fsschema.Parse(`{"version":1,"root":{"type":"dir","entries":{
		"notes.txt":{"type":"doc"},
		"sub":{"type":"dir","entries":{"a.txt":{"type":"doc"}}}
	}}}`)
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		path   string
		want   string
		wantOK bool
	}{
		{"notes.txt", "my-fs:notes.txt", true},
		{"/notes.txt", "my-fs:notes.txt", true},
		{"sub/a.txt", "my-fs:sub/a.txt", true},
		{"sub", "my-fs:sub", true},
		{"missing.txt", "", false},
	}
	for _, c := range cases {
		got, ok := ResolvePath("my-fs", schema, c.path)
		if ok != c.wantOK || (ok && got != c.want) {
			t.Fatalf("ResolvePath(%q) = (%q, %v), want (%q, %v)", c.path, got, ok, c.want, c.wantOK)
		}
	}
}

func TestResolvePathStopsAtDocumentBackedDir(t *testing.T) {
	schema, err := fsschema.Parse(`{"version":1,"root":{"type":"dir","entries":{
		"mounted":{"type":"dir","node_id":"doc-a"}
	}}}`)
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := ResolvePath("my-fs", schema, "mounted/inner.txt"); ok {
		t.Fatal("expected resolution through a document-backed dir to fail")
	}
	got, ok := ResolvePath("my-fs", schema, "mounted")
	if !ok || got != "doc-a" {
		t.Fatalf("ResolvePath(mounted) = (%q, %v), want (doc-a, true)", got, ok)
	}
}

func TestWatchReconcilesOnEditAndStopsOnCancel(t *testing.T) {
	store := docstore.New("site-1", nil)
	fsRoot, _ := store.GetOrCreateWithID("my-fs", docstore.ContentJSON)
	r := New("my-fs", store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Watch(ctx, fsRoot) }()

	if err := store.SetContent("my-fs", `{"version":1,"root":{"type":"dir","entries":{"a.txt":{"type":"doc"}}}}`); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := store.GetDocument("my-fs:a.txt"); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := store.GetDocument("my-fs:a.txt"); err != nil {
		t.Fatalf("expected Watch to reconcile the new entry: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Watch returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not exit after context cancellation")
	}
}
