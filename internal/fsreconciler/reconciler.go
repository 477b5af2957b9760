// Package fsreconciler watches the fs-root document and ensures a
// document exists in the store for every entry declared in its
// filesystem schema, including entries nested inside other
// document-backed directories.
package fsreconciler

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/commonplace-systems/commonplace/internal/docstore"
	"github.com/commonplace-systems/commonplace/internal/fsschema"
	"github.com/commonplace-systems/commonplace/internal/node"
)

// entry is one resolved (path, docID, contentType) triple produced by
// walking a schema tree.
type entry struct {
	path        string
	docID       string
	contentType docstore.ContentType
}

// Reconciler parses the fs-root document's content and creates
// documents for every entry it declares, including document-backed
// directories discovered while walking the tree.
type Reconciler struct {
	fsRootID string
	store    *docstore.Store

	mu                 sync.RWMutex
	lastValidSchema    *fsschema.FsSchema
	knownDocuments     map[string]struct{}
	lastValidNodeSchemas map[string]*fsschema.FsSchema
}

// New creates a Reconciler for the fs-root document fsRootID.
func New(fsRootID string, store *docstore.Store) *Reconciler {
	return &Reconciler{
		fsRootID:             fsRootID,
		store:                store,
		knownDocuments:       make(map[string]struct{}),
		lastValidNodeSchemas: make(map[string]*fsschema.FsSchema),
	}
}

// FsRootID returns the fs-root document id.
func (r *Reconciler) FsRootID() string { return r.fsRootID }

// Reconcile parses content as a filesystem schema and ensures a
// document exists for every entry it declares. If content is malformed
// or unsupported, the error is logged and the last valid schema is
// reconciled instead; with no valid schema seen yet, the error is
// returned.
func (r *Reconciler) Reconcile(content string) error {
	schema, err := fsschema.Parse(content)
	if err != nil {
		err = fmt.Errorf("fsreconciler: %w", err)
	} else if schema.Version != 1 {
		err = fmt.Errorf("fsreconciler: unsupported schema version %d", schema.Version)
	} else if schema.Root != nil && !schema.Root.IsDir() {
		err = fmt.Errorf("fsreconciler: root must be a directory")
	}
	if err != nil {
		r.mu.RLock()
		cached := r.lastValidSchema
		r.mu.RUnlock()
		if cached == nil {
			return err
		}
		log.Printf("%v; falling back to last valid schema", err)
		schema = cached
	}

	var entries []entry
	if schema.Root != nil {
		ignoredDirs := make(map[string]struct{})
		recursionStack := make(map[string]struct{})
		entries, err = r.collectEntriesWithDirs(schema.Root, "", ignoredDirs, recursionStack)
		if err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		if _, err := r.store.GetDocument(e.docID); err != nil {
			r.store.GetOrCreateWithID(e.docID, e.contentType)
			log.Printf("fsreconciler: created document: %s -> %s", e.path, e.docID)
		}
		r.knownDocuments[e.docID] = struct{}{}
	}
	r.lastValidSchema = schema
	return nil
}

// Watch reconciles once against the fs-root document's current
// content, then subscribes to its blue port and re-reconciles after
// every subsequent edit, until ctx is cancelled or the subscription
// closes. A malformed or unsupported schema on any given edit is
// logged and skipped, consistent with Reconcile's fall-back-to-last-
// valid-schema behavior: the watch loop itself never exits on a
// schema error.
func (r *Reconciler) Watch(ctx context.Context, fsRoot *docstore.Document) error {
	if err := r.Reconcile(fsRoot.Doc.Content()); err != nil {
		log.Printf("fsreconciler: initial reconcile failed: %v", err)
	}

	sub := fsRoot.Node.SubscribeBlue()
	recvCh := make(chan error, 1)
	go pumpBlueRecv(sub, recvCh)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-recvCh:
			if err != nil {
				if err == node.ErrClosed {
					return nil
				}
				// Lagged: the broadcast buffer overflowed under this
				// subscriber. Resubscribe and reconcile once against
				// current content to resync from scratch.
				log.Printf("fsreconciler: %v, resubscribing", err)
				sub = fsRoot.Node.SubscribeBlue()
				if err := r.Reconcile(fsRoot.Doc.Content()); err != nil {
					log.Printf("fsreconciler: reconcile failed: %v", err)
				}
				go pumpBlueRecv(sub, recvCh)
				continue
			}
			if err := r.Reconcile(fsRoot.Doc.Content()); err != nil {
				log.Printf("fsreconciler: reconcile failed: %v", err)
			}
			go pumpBlueRecv(sub, recvCh)
		}
	}
}

// pumpBlueRecv blocks on one Recv call and reports its error (nil on a
// successful edit) on done, bridging the subscription's blocking Recv
// into a select alongside ctx.Done().
func pumpBlueRecv(sub *node.BlueSubscription, done chan<- error) {
	_, err := sub.Recv()
	done <- err
}

// collectEntriesWithDirs walks entry, collecting (path, docID,
// contentType) triples and tracking document-backed directory ids in
// docBackedDirs. recursionStack detects cycles: the same document
// appearing again within its own current descent path is skipped, but
// the same document mounted at two different paths (not nested within
// itself) is allowed.
func (r *Reconciler) collectEntriesWithDirs(
	e *fsschema.Entry,
	currentPath string,
	docBackedDirs map[string]struct{},
	recursionStack map[string]struct{},
) ([]entry, error) {
	var results []entry

	if e.IsDoc() {
		docID := r.deriveDocID(currentPath)
		if e.NodeID != nil {
			docID = *e.NodeID
		}
		ct := docstore.ContentJSON
		if e.ContentType != nil {
			if parsed, ok := docstore.FromMime(*e.ContentType); ok {
				ct = parsed
			}
		}
		results = append(results, entry{path: currentPath, docID: docID, contentType: ct})
		return results, nil
	}

	// Dir entry: document-backed and inline forms are mutually exclusive.
	if e.NodeID != nil && e.Entries != nil {
		label := currentPath
		if label == "" {
			label = "/"
		}
		return nil, fmt.Errorf("fsreconciler: directory at %q has both node_id and entries (mutually exclusive)", label)
	}

	if e.NodeID != nil {
		docID := *e.NodeID
		ct := docstore.ContentJSON
		if e.ContentType != nil {
			if parsed, ok := docstore.FromMime(*e.ContentType); ok {
				ct = parsed
			}
		}
		results = append(results, entry{path: currentPath, docID: docID, contentType: ct})
		docBackedDirs[docID] = struct{}{}

		if _, cycling := recursionStack[docID]; cycling {
			log.Printf("fsreconciler: cycle detected: document-backed dir %s in current path, skipping", docID)
		} else {
			recursionStack[docID] = struct{}{}
			childEntries := r.collectDocBackedDirEntriesWithDirs(docID, currentPath, docBackedDirs, recursionStack)
			results = append(results, childEntries...)
			delete(recursionStack, docID)
		}
	}

	if e.Entries != nil {
		for name, child := range e.Entries {
			if err := fsschema.ValidateName(name); err != nil {
				return nil, fmt.Errorf("fsreconciler: %w", err)
			}
			childPath := name
			if currentPath != "" {
				childPath = currentPath + "/" + name
			}
			childResults, err := r.collectEntriesWithDirs(child, childPath, docBackedDirs, recursionStack)
			if err != nil {
				return nil, err
			}
			results = append(results, childResults...)
		}
	}

	return results, nil
}

// collectDocBackedDirEntriesWithDirs fetches and parses a
// document-backed directory's content. A missing or empty document is
// not an error -- it just hasn't been populated yet. A parse, version,
// or shape error falls back to the last valid cached schema for this
// document rather than poisoning the whole tree.
func (r *Reconciler) collectDocBackedDirEntriesWithDirs(
	docID, basePath string,
	docBackedDirs map[string]struct{},
	recursionStack map[string]struct{},
) []entry {
	doc, err := r.store.GetDocument(docID)
	if err != nil {
		return nil
	}
	content := doc.Doc.Content()
	if content == "" || content == "{}" {
		return nil
	}

	schema, err := fsschema.Parse(content)
	if err != nil {
		log.Printf("fsreconciler: failed to parse document-backed dir %s at %s: %v", docID, basePath, err)
		if cached, ok := r.lastValidNodeSchemas[docID]; ok {
			return r.collectFromValidDocSchema(cached, basePath, docBackedDirs, recursionStack)
		}
		return nil
	}

	if schema.Version != 1 {
		log.Printf("fsreconciler: unsupported version %d in document-backed dir %s at %s", schema.Version, docID, basePath)
		if cached, ok := r.lastValidNodeSchemas[docID]; ok {
			return r.collectFromValidDocSchema(cached, basePath, docBackedDirs, recursionStack)
		}
		return nil
	}

	if schema.Root != nil && !schema.Root.IsDir() {
		log.Printf("fsreconciler: invalid root (not a directory) in document-backed dir %s at %s", docID, basePath)
		if cached, ok := r.lastValidNodeSchemas[docID]; ok {
			return r.collectFromValidDocSchema(cached, basePath, docBackedDirs, recursionStack)
		}
		return nil
	}

	r.lastValidNodeSchemas[docID] = schema
	return r.collectFromValidDocSchema(schema, basePath, docBackedDirs, recursionStack)
}

func (r *Reconciler) collectFromValidDocSchema(
	schema *fsschema.FsSchema,
	basePath string,
	docBackedDirs map[string]struct{},
	recursionStack map[string]struct{},
) []entry {
	if schema.Root == nil {
		return nil
	}
	entries, err := r.collectEntriesWithDirs(schema.Root, basePath, docBackedDirs, recursionStack)
	if err != nil {
		log.Printf("fsreconciler: error collecting entries at %s: %v", basePath, err)
		return nil
	}
	return entries
}

// deriveDocID derives a document id from path: "<fs-root-id>:<path>",
// or the fs-root id itself for the empty path.
func (r *Reconciler) deriveDocID(path string) string {
	return DeriveDocID(r.fsRootID, path)
}

// DeriveDocID derives a document id from a path under fsRootID, the
// same derivation Reconcile uses for entries without an explicit
// node_id: "<fs-root-id>:<path>", or fsRootID itself for the empty
// path.
func DeriveDocID(fsRootID, path string) string {
	if path == "" {
		return fsRootID
	}
	return fsRootID + ":" + path
}

// ResolvePath is the pure path-to-docID lookup spec.md §4.6 describes:
// it walks an already-parsed schema and returns the document id a
// file path resolves to, without touching the document store. Leading
// slashes are normalized away. It returns ok=false for any path that
// requires descending into a document-backed directory (entries nil,
// node_id set) -- callers needing that must re-enter recursively with
// the nested document's own schema, since resolving across a
// document-backed dir requires fetching that document's content.
func ResolvePath(fsRootID string, schema *fsschema.FsSchema, path string) (docID string, ok bool) {
	path = strings.TrimPrefix(path, "/")
	if schema.Root == nil {
		return "", false
	}
	return resolveEntry(fsRootID, schema.Root, "", path)
}

func resolveEntry(fsRootID string, e *fsschema.Entry, currentPath, target string) (string, bool) {
	if currentPath == target {
		if e.NodeID != nil {
			return *e.NodeID, true
		}
		return DeriveDocID(fsRootID, currentPath), true
	}
	if e.IsDoc() {
		return "", false
	}
	if e.NodeID != nil {
		// Document-backed dir: resolving further requires that
		// document's own content, which this pure function can't see.
		return "", false
	}
	prefix := currentPath
	if prefix != "" {
		prefix += "/"
	}
	if !strings.HasPrefix(target, prefix) {
		return "", false
	}
	rest := strings.TrimPrefix(target, prefix)
	for name, child := range e.Entries {
		childPath := name
		if currentPath != "" {
			childPath = currentPath + "/" + name
		}
		if childPath == target || strings.HasPrefix(rest, name+"/") {
			return resolveEntry(fsRootID, child, childPath, target)
		}
	}
	return "", false
}
