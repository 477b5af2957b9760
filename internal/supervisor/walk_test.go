package supervisor

import (
	"testing"

	"github.com/commonplace-systems/commonplace/internal/fsschema"
)

func TestFindManifestPathsFindsInlineManifest(t *testing.T) {
	schema, err := fsschema.Parse(`{"version":1,"root":{"type":"dir","entries":{
		"examples":{"type":"dir","entries":{
			".processes.json":{"type":"doc"},
			"counter.py":{"type":"doc"}
		}}
	}}}`)
	if err != nil {
		t.Fatal(err)
	}

	found := FindManifestPaths("my-fs", schema)
	docID, ok := found["examples/.processes.json"]
	if !ok {
		t.Fatalf("expected to find examples/.processes.json, got %v", found)
	}
	if docID != "my-fs:examples/.processes.json" {
		t.Fatalf("unexpected derived doc id: %q", docID)
	}
	if len(found) != 1 {
		t.Fatalf("expected exactly one manifest, got %d", len(found))
	}
}

func TestFindManifestPathsIgnoresDocumentBackedDirs(t *testing.T) {
	schema, err := fsschema.Parse(`{"version":1,"root":{"type":"dir","entries":{
		"mounted":{"type":"dir","node_id":"doc-a"}
	}}}`)
	if err != nil {
		t.Fatal(err)
	}

	found := FindManifestPaths("my-fs", schema)
	if len(found) != 0 {
		t.Fatalf("expected no manifests to be found without descending into doc-a, got %v", found)
	}
}

func TestFindManifestPathsWithExplicitNodeID(t *testing.T) {
	schema, err := fsschema.Parse(`{"version":1,"root":{"type":"dir","entries":{
		".processes.json":{"type":"doc","node_id":"manifest-doc"}
	}}}`)
	if err != nil {
		t.Fatal(err)
	}

	found := FindManifestPaths("my-fs", schema)
	if docID, ok := found[".processes.json"]; !ok || docID != "manifest-doc" {
		t.Fatalf("expected .processes.json -> manifest-doc, got %v", found)
	}
}
