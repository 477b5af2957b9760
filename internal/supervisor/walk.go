package supervisor

import (
	"github.com/commonplace-systems/commonplace/internal/fsreconciler"
	"github.com/commonplace-systems/commonplace/internal/fsschema"
)

// FindManifestPaths walks a parsed filesystem schema and returns the
// path of every doc entry named ".processes.json", plus the node id
// it resolves to (its own node_id if document-backed, else the
// derived id under fsRootID). Paths into document-backed directories
// are not descended -- those require fetching that document's own
// content and walking it separately, which the supervisor's poll loop
// does by re-walking once each referenced document is fetched.
func FindManifestPaths(fsRootID string, schema *fsschema.FsSchema) map[string]string {
	found := make(map[string]string)
	if schema.Root == nil {
		return found
	}
	walkManifests(fsRootID, schema.Root, "", found)
	return found
}

func walkManifests(fsRootID string, e *fsschema.Entry, currentPath string, found map[string]string) {
	if e.IsDoc() {
		return
	}
	if e.NodeID != nil {
		// Document-backed dir: its own content isn't available from
		// this schema alone, so record nothing and don't descend.
		return
	}
	for name, child := range e.Entries {
		childPath := name
		if currentPath != "" {
			childPath = currentPath + "/" + name
		}
		if name == ".processes.json" && child.IsDoc() {
			docID := childPath
			if child.NodeID != nil {
				docID = *child.NodeID
			} else {
				docID = fsreconciler.DeriveDocID(fsRootID, childPath)
			}
			found[childPath] = docID
		}
		walkManifests(fsRootID, child, childPath, found)
	}
}
