// Package syncbarrier coordinates a local file and a remote document
// shared between two independent tasks -- an uploader (file to
// server) and a downloader (server to file) -- so that a
// server-originated write isn't echoed straight back to the server as
// if it were a fresh local edit.
package syncbarrier

import (
	"log"
	"sync"
	"time"
)

// pendingWriteTimeout bounds how long a write barrier can stay up:
// once it has passed without an observed echo, ShouldSkipUpload clears
// the barrier and flags a head refresh.
const pendingWriteTimeout = 5 * time.Second

// PendingWrite marks a write the downloader just made to the local
// file, so the uploader can recognize and skip the resulting
// file-watcher event instead of re-uploading it as a local edit.
type PendingWrite struct {
	WriteID   uint64
	Content   string
	CID       string // empty if no commit CID applies yet
	StartedAt time.Time
}

// expired reports whether this pending write has been up long enough
// that it should be cleared even without an observed echo.
func (p PendingWrite) expired(now time.Time) bool {
	return now.Sub(p.StartedAt) > pendingWriteTimeout
}

// State is the shared state between an upload task and a download
// task for one synchronized file/document pair.
type State struct {
	mu sync.Mutex

	lastWrittenCID     string
	lastWrittenContent string
	currentWriteID     uint64
	pendingWrite       *PendingWrite
	needsHeadRefresh   bool

	saver StateSaver
}

// StateSaver persists sync state for offline-change detection across
// restarts. Implementations may be a no-op (in-memory only).
type StateSaver interface {
	MarkSynced(cid, contentHash, relativePath string) error
}

// New creates an empty State. saver may be nil, in which case
// MarkSynced only updates in-memory bookkeeping.
func New(saver StateSaver) *State {
	return &State{saver: saver}
}

// BeginWrite opens the write barrier before the downloader writes
// content to the local file, returning a token to later match against
// the file watcher's resulting event.
func (s *State) BeginWrite(content, cid string) PendingWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentWriteID++
	pw := PendingWrite{
		WriteID:   s.currentWriteID,
		Content:   content,
		CID:       cid,
		StartedAt: time.Now(),
	}
	s.pendingWrite = &pw
	return pw
}

// ShouldSkipUpload is called by the uploader when the file watcher
// observes a change with the given content. It reports true (and
// clears the barrier) when the change matches the currently pending
// server-originated write -- an echo, not a real local edit.
func (s *State) ShouldSkipUpload(content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pendingWrite == nil {
		return false
	}
	if s.pendingWrite.expired(time.Now()) {
		log.Printf("syncbarrier: pending write %d expired after %s, clearing barrier", s.pendingWrite.WriteID, pendingWriteTimeout)
		s.needsHeadRefresh = true
		s.pendingWrite = nil
		return false
	}
	if s.pendingWrite.Content != content {
		// A genuine local edit arrived while a server write was
		// pending for different content -- don't skip it, but leave
		// the barrier alone (its own echo will still arrive) and flag
		// that HEAD needs a refresh.
		s.needsHeadRefresh = true
		return false
	}

	s.lastWrittenCID = s.pendingWrite.CID
	s.lastWrittenContent = s.pendingWrite.Content
	s.pendingWrite = nil
	return true
}

// NeedsHeadRefresh reports (and clears) whether a change with
// different content arrived while the barrier was up, or the barrier
// expired, meaning the uploader should refresh its view of HEAD.
func (s *State) NeedsHeadRefresh() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	needed := s.needsHeadRefresh
	s.needsHeadRefresh = false
	return needed
}

// LastWritten returns the most recently recorded synced CID and
// content, for echo comparisons outside the barrier window.
func (s *State) LastWritten() (cid, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastWrittenCID, s.lastWrittenContent
}

// MarkSynced records a successful sync and persists it via the
// configured StateSaver. Save failures are logged and otherwise
// ignored -- sync state is a best-effort cache, not a source of truth.
func (s *State) MarkSynced(cid, contentHash, relativePath string) {
	s.mu.Lock()
	s.lastWrittenCID = cid
	saver := s.saver
	s.mu.Unlock()

	if saver == nil {
		return
	}
	if err := saver.MarkSynced(cid, contentHash, relativePath); err != nil {
		log.Printf("syncbarrier: failed to save state file: %v", err)
	}
}
