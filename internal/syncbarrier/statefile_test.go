package syncbarrier

import (
	"path/filepath"
	"testing"
)

func TestFileStateSaverRoundtrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	saver, err := NewFileStateSaver(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := saver.MarkSynced("cid-1", "hash-1", "notes.txt"); err != nil {
		t.Fatal(err)
	}

	sf, err := LoadStateFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if sf.LastSyncedCID != "cid-1" {
		t.Fatalf("expected cid-1, got %q", sf.LastSyncedCID)
	}
	if sf.Files["notes.txt"] != "hash-1" {
		t.Fatalf("expected hash-1, got %q", sf.Files["notes.txt"])
	}
}

func TestLoadStateFileMissingReturnsEmpty(t *testing.T) {
	sf, err := LoadStateFile(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatal(err)
	}
	if sf.LastSyncedCID != "" || len(sf.Files) != 0 {
		t.Fatalf("expected empty state file, got %+v", sf)
	}
}
