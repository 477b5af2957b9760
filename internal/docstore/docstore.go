// Package docstore is the in-memory registry of live documents: it
// owns each document's CRDT state and node, and emits commit
// notifications on every mutation so the room layer and filesystem
// reconciler can react.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/commonplace-systems/commonplace/internal/commitstore"
	"github.com/commonplace-systems/commonplace/internal/crdt"
	"github.com/commonplace-systems/commonplace/internal/node"
)

var (
	// ErrNotFound is returned when a document id has no matching entry.
	ErrNotFound = errors.New("docstore: document not found")
	// ErrAlreadyExists is returned by Create when the id is already taken.
	ErrAlreadyExists = errors.New("docstore: document already exists")
)

// ContentType names a document's MIME-ish content kind, mirroring the
// original's ContentType enum (Json | Text | opaque fallback).
type ContentType string

const (
	ContentJSON ContentType = "application/json"
	ContentText ContentType = "text/plain"
)

// FromMime maps an incoming Content-Type header to a ContentType,
// returning false for unsupported media types (the HTTP layer answers
// 415 in that case, matching the original api.rs).
func FromMime(mime string) (ContentType, bool) {
	switch mime {
	case "application/json", "":
		return ContentJSON, true
	case "text/plain", "application/xml", "text/xml":
		return ContentText, true
	default:
		return "", false
	}
}

// ToMime returns the Content-Type header value for ct.
func (ct ContentType) ToMime() string {
	return string(ct)
}

func (ct ContentType) crdtType() crdt.ContentType {
	return ct.ToCrdtType()
}

// ToCrdtType maps a ContentType to the crdt package's content kind,
// for callers (e.g. the HTTP layer's commit replay) that need to
// construct a bare *crdt.Doc outside the store.
func (ct ContentType) ToCrdtType() crdt.ContentType {
	if ct == ContentText {
		return crdt.ContentText
	}
	return crdt.ContentJSON
}

// Document is one entry in the store: its CRDT state, its node (for
// blue/red fan-out), and bookkeeping timestamps.
type Document struct {
	ID          string
	ContentType ContentType
	Doc         *crdt.Doc
	Node        *node.DocumentNode
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CommitNotification is emitted whenever a document's content changes,
// whether via direct API call or a WS update.
type CommitNotification struct {
	DocID    string
	CommitID string
	Ts       time.Time
}

// Broadcaster receives commit notifications. internal/room implements
// this to re-encode notifications as wire frames for connected peers.
type Broadcaster interface {
	Notify(CommitNotification)
}

// Store is the concurrency-safe document registry.
type Store struct {
	mu        sync.RWMutex
	documents map[string]*Document
	siteID    string
	bcast     Broadcaster
	commits   commitstore.Store    // nil until SetCommitStore is called
	signer    *commitstore.Signer // nil unless SetSigner is called
}

// New creates an empty store. siteID identifies this process in the
// CRDT op log (see internal/crdt.Doc); bcast may be nil if no
// downstream broadcaster is wired yet (e.g. during startup).
func New(siteID string, bcast Broadcaster) *Store {
	return &Store{
		documents: make(map[string]*Document),
		siteID:    siteID,
		bcast:     bcast,
	}
}

// SetBroadcaster wires the broadcaster after construction, for cases
// where the room layer is built after the store (it depends on it).
func (s *Store) SetBroadcaster(b Broadcaster) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bcast = b
}

// SetCommitStore wires the commit log after construction. Every
// mutation is appended to it once set; before that, mutations still
// apply locally and broadcast but leave no durable history.
func (s *Store) SetCommitStore(cs commitstore.Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits = cs
}

// SetSigner wires a commit signer after construction. When set, every
// persisted commit carries a signature over its update bytes; without
// one, commits are unsigned (the default, single-operator deployment).
func (s *Store) SetSigner(signer *commitstore.Signer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signer = signer
}

// CreateDocument creates a document with a server-generated id.
func (s *Store) CreateDocument(ct ContentType) *Document {
	id := uuid.NewString()
	d, _ := s.GetOrCreateWithID(id, ct)
	return d
}

// GetOrCreateWithID returns the existing document for id, or creates
// one if absent. The bool result reports whether a document was
// created.
func (s *Store) GetOrCreateWithID(id string, ct ContentType) (*Document, bool) {
	s.mu.RLock()
	if d, ok := s.documents[id]; ok {
		s.mu.RUnlock()
		return d, false
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.documents[id]; ok {
		return d, false
	}
	now := time.Now()
	d := &Document{
		ID:          id,
		ContentType: ct,
		Doc:         crdt.NewDoc(s.siteID, ct.crdtType()),
		Node:        node.NewDocumentNode(id, "document"),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.documents[id] = d
	return d, true
}

// GetDocument returns the document for id, or ErrNotFound.
func (s *Store) GetDocument(id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.documents[id]
	if !ok {
		return nil, fmt.Errorf("docstore: get %s: %w", id, ErrNotFound)
	}
	return d, nil
}

// DeleteDocument removes a document, shutting down its node.
func (s *Store) DeleteDocument(id string) error {
	s.mu.Lock()
	d, ok := s.documents[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("docstore: delete %s: %w", id, ErrNotFound)
	}
	delete(s.documents, id)
	s.mu.Unlock()
	return d.Node.Shutdown()
}

// ListDocuments returns all known document ids.
func (s *Store) ListDocuments() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.documents))
	for id := range s.documents {
		ids = append(ids, id)
	}
	return ids
}

// SetContent performs a whole-content write on a JSON/opaque document,
// applies it locally, broadcasts the resulting edit on the document's
// blue port, and emits a commit notification.
func (s *Store) SetContent(id, content string) error {
	d, err := s.GetDocument(id)
	if err != nil {
		return err
	}
	update, err := d.Doc.SetContent(content)
	if err != nil {
		return err
	}
	return s.afterMutation(d, update)
}

// ApplyUpdate applies an externally-produced update (e.g. received
// over WS) to a document and re-broadcasts it.
func (s *Store) ApplyUpdate(id string, update []byte) error {
	d, err := s.GetDocument(id)
	if err != nil {
		return err
	}
	if err := d.Doc.ApplyUpdate(update); err != nil {
		return err
	}
	return s.afterMutation(d, update)
}

func (s *Store) afterMutation(d *Document, update []byte) error {
	s.mu.Lock()
	d.UpdatedAt = time.Now()
	bcast := s.bcast
	commits := s.commits
	signer := s.signer
	s.mu.Unlock()

	commitID := uuid.NewString()
	ts := time.Now()

	if commits != nil {
		id, err := s.appendCommit(d.ID, update, ts, signer)
		if err != nil {
			return fmt.Errorf("docstore: append commit for %s: %w", d.ID, err)
		}
		commitID = id
	}

	_ = d.Node.ReceiveEdit(node.Edit{DocID: d.ID, CommitID: commitID, Update: update, Ts: ts})

	if bcast != nil {
		bcast.Notify(CommitNotification{DocID: d.ID, CommitID: commitID, Ts: ts})
	}
	return nil
}

// appendCommit derives a content-addressed commit id for update,
// chains it to the document's current head (if any), and persists it.
// When signer is non-nil, the commit carries a signature over update.
func (s *Store) appendCommit(docID string, update []byte, ts time.Time, signer *commitstore.Signer) (string, error) {
	ctx := context.Background()

	var parentCID string
	if head, err := s.commits.Head(ctx, docID); err == nil {
		parentCID = head.CommitID
	}

	c, err := commitstore.ComputeCID(update)
	if err != nil {
		return "", err
	}
	commitID := c.String()

	var sig string
	if signer != nil {
		sig, err = signer.Sign(update)
		if err != nil {
			return "", fmt.Errorf("docstore: sign commit: %w", err)
		}
	}

	err = s.commits.Put(ctx, commitstore.Commit{
		DocID:       docID,
		CommitID:    commitID,
		ParentCID:   parentCID,
		UpdateBytes: update,
		Ts:          ts,
		Rev:         commitstore.NextRev(),
		Sig:         sig,
	})
	if err != nil {
		return "", err
	}
	return commitID, nil
}
