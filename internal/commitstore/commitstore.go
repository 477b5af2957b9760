// Package commitstore is the CID-addressed, append-only commit log
// backing a document's change history: every mutation is assigned a
// content-addressed commit id derived from its update bytes, chained
// to its parent, and retained so peers can replay or export a range.
package commitstore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	car "github.com/ipld/go-car"
	carutil "github.com/ipld/go-car/util"
	"github.com/multiformats/go-multihash"

	"github.com/bluesky-social/indigo/atproto/atcrypto"
	"github.com/bluesky-social/indigo/atproto/syntax"
)

// ErrNotFound is returned when a commit id has no matching entry.
var ErrNotFound = errors.New("commitstore: commit not found")

// Commit is one entry in a document's append-only log.
type Commit struct {
	DocID       string
	CommitID    string // string form of the content-addressed CID
	ParentCID   string // empty for the first commit
	UpdateBytes []byte
	Author      string
	Message     string
	Ts          time.Time
	Rev         string // monotonic TID revision, matching the teacher's repo commit Rev
	Sig         string // hex-encoded signature, empty unless a Signer is configured
}

// revClock hands out monotonic TID revision strings for commits, the
// same syntax.TIDClock the teacher uses for repo commit Rev values.
// A single process-wide clock instance keeps revisions ordered across
// every document, guarded because TIDClock isn't safe for concurrent
// use on its own.
var (
	revClockMu sync.Mutex
	revClock   = syntax.NewTIDClock(0)
)

// NextRev returns the next monotonic TID revision string.
func NextRev() string {
	revClockMu.Lock()
	defer revClockMu.Unlock()
	return revClock.Next().String()
}

// Signer signs commit update bytes with a repo-style signing key,
// adapted from the teacher's repo.ParseKey/atcrypto.PrivateKey.Sign
// path for commits that want end-to-end authenticity.
type Signer struct {
	priv atcrypto.PrivateKeyExportable
}

// GenerateSigningKey creates a new secp256k1 private key and returns
// its multibase-encoded string for storage, matching the teacher's
// repo.GenerateKey.
func GenerateSigningKey() (string, error) {
	priv, err := atcrypto.GeneratePrivateKeyK256()
	if err != nil {
		return "", fmt.Errorf("commitstore: generate signing key: %w", err)
	}
	return priv.Multibase(), nil
}

// ParseSigningKey loads a private key from its multibase-encoded
// string, matching the teacher's repo.ParseKey.
func ParseSigningKey(multibase string) (*Signer, error) {
	priv, err := atcrypto.ParsePrivateMultibase(multibase)
	if err != nil {
		return nil, fmt.Errorf("commitstore: parse signing key: %w", err)
	}
	return &Signer{priv: priv}, nil
}

// Sign hashes and signs data, returning a hex-encoded signature.
func (s *Signer) Sign(data []byte) (string, error) {
	sig, err := s.priv.HashAndSign(data)
	if err != nil {
		return "", fmt.Errorf("commitstore: sign commit: %w", err)
	}
	return hex.EncodeToString(sig), nil
}

// Store is the interface a room or docstore uses to persist and
// retrieve commits, independent of backing storage.
type Store interface {
	Put(ctx context.Context, c Commit) error
	Get(ctx context.Context, commitID string) (Commit, error)
	ListForDoc(ctx context.Context, docID string) ([]Commit, error)
	Head(ctx context.Context, docID string) (Commit, error)
}

// ComputeCID derives a content-addressed CID for update bytes, using
// the raw codec (the payload is already-encoded update bytes, not a
// CBOR record) over SHA2-256, the same builder shape as the teacher's
// repo.ComputeCID.
func ComputeCID(raw []byte) (cid.Cid, error) {
	mh, err := multihash.Sum(raw, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, fmt.Errorf("commitstore: hash update: %w", err)
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// MemStore is an in-memory, mutex-guarded commit log, grounded on the
// teacher's MemBlockstore for the default single-process deployment.
type MemStore struct {
	mu      sync.RWMutex
	commits map[string]Commit          // commitID -> commit
	heads   map[string]string          // docID -> latest commitID
	byDoc   map[string][]string        // docID -> commitIDs in append order
}

// NewMemStore creates an empty in-memory commit store.
func NewMemStore() *MemStore {
	return &MemStore{
		commits: make(map[string]Commit),
		heads:   make(map[string]string),
		byDoc:   make(map[string][]string),
	}
}

func (m *MemStore) Put(_ context.Context, c Commit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits[c.CommitID] = c
	m.heads[c.DocID] = c.CommitID
	m.byDoc[c.DocID] = append(m.byDoc[c.DocID], c.CommitID)
	return nil
}

func (m *MemStore) Get(_ context.Context, commitID string) (Commit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.commits[commitID]
	if !ok {
		return Commit{}, fmt.Errorf("commitstore: get %s: %w", commitID, ErrNotFound)
	}
	return c, nil
}

func (m *MemStore) ListForDoc(_ context.Context, docID string) ([]Commit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.byDoc[docID]
	out := make([]Commit, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.commits[id])
	}
	return out, nil
}

func (m *MemStore) Head(_ context.Context, docID string) (Commit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.heads[docID]
	if !ok {
		return Commit{}, fmt.Errorf("commitstore: head %s: %w", docID, ErrNotFound)
	}
	return m.commits[id], nil
}

// ExportCAR writes every commit for docID as a CAR v1 archive, commit
// blocks in append order, rooted at the head commit's CID -- adapted
// from the teacher's MemBlockstore.ExportCAR.
func ExportCAR(ctx context.Context, store Store, docID string, w io.Writer) error {
	commits, err := store.ListForDoc(ctx, docID)
	if err != nil {
		return err
	}
	if len(commits) == 0 {
		return fmt.Errorf("commitstore: export %s: %w", docID, ErrNotFound)
	}
	head, err := cid.Decode(commits[len(commits)-1].CommitID)
	if err != nil {
		return fmt.Errorf("commitstore: decode head cid: %w", err)
	}

	h := &car.CarHeader{Roots: []cid.Cid{head}, Version: 1}
	if err := car.WriteHeader(h, w); err != nil {
		return fmt.Errorf("commitstore: write car header: %w", err)
	}
	for _, c := range commits {
		blkCid, err := cid.Decode(c.CommitID)
		if err != nil {
			return fmt.Errorf("commitstore: decode commit cid %s: %w", c.CommitID, err)
		}
		blk, err := blocks.NewBlockWithCid(c.UpdateBytes, blkCid)
		if err != nil {
			return fmt.Errorf("commitstore: build block %s: %w", c.CommitID, err)
		}
		if err := carutil.LdWrite(w, blk.Cid().Bytes(), blk.RawData()); err != nil {
			return fmt.Errorf("commitstore: write block %s: %w", c.CommitID, err)
		}
	}
	return nil
}
