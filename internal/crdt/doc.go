package crdt

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// ContentType selects which CRDT backs a document's materialized
// content.
type ContentType int

const (
	ContentJSON ContentType = iota
	ContentText
)

// op is one entry in a document's append-only per-site log. Ops are
// the unit of replication: encode_diff returns the ops a peer is
// missing, and apply_update folds unseen ops into local state.
type op struct {
	Site    string      `json:"site"`
	Seq     uint64      `json:"seq"`
	Ts      int64       `json:"ts"` // unix nanos
	Content string      `json:"content,omitempty"` // whole-content replacement (JSON docs)
	RGA     *RGANode    `json:"rga,omitempty"`      // character op (text docs)
}

// Doc is the default CrdtDoc implementation: a vector clock for the
// state vector plus either a last-write-wins register (JSON/opaque
// content) or an RGA (text content) for materialized state.
//
// Convergence: apply_update is commutative and idempotent because the
// final register/RGA value is a deterministic fold over a sorted log
// (by site, then seq), not a fold over arrival order -- any permutation
// of the same multiset of ops yields the same materialized content.
type Doc struct {
	mu          sync.RWMutex
	siteID      string
	contentType ContentType
	clock       VClock
	register    *LWWRegister[string]
	rga         *RGA
	log         []op
	seq         uint64
}

// NewDoc creates an empty document for siteID (this process/replica's
// identity, used to break LWW ties and order RGA inserts).
func NewDoc(siteID string, contentType ContentType) *Doc {
	return &Doc{
		siteID:      siteID,
		contentType: contentType,
		clock:       VClock{},
		register:    &LWWRegister[string]{},
		rga:         NewRGA(),
	}
}

// StateVector returns a snapshot of the document's vector clock,
// encoded as JSON (the wire codec's SyncStep1/opaque payload).
func (d *Doc) StateVector() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return json.Marshal(d.clock)
}

// EncodeDiff returns the ops this document has that the peer (whose
// state is described by peerStateVector) is missing.
func (d *Doc) EncodeDiff(peerStateVector []byte) ([]byte, error) {
	var peerClock VClock
	if len(peerStateVector) > 0 {
		if err := json.Unmarshal(peerStateVector, &peerClock); err != nil {
			return nil, err
		}
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	missing := make([]op, 0)
	for _, o := range d.log {
		if o.Seq > peerClock[o.Site] {
			missing = append(missing, o)
		}
	}
	return json.Marshal(missing)
}

// ApplyUpdate applies an update (as produced by EncodeDiff or a local
// mutation) to the document, merging into the vector clock and the
// materialized content. Applying the same update twice, or applying
// updates out of causal order, is safe.
func (d *Doc) ApplyUpdate(update []byte) error {
	var ops []op
	if err := json.Unmarshal(update, &ops); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, o := range ops {
		if o.Seq <= d.clock[o.Site] {
			continue // already applied
		}
		d.clock[o.Site] = o.Seq
		switch d.contentType {
		case ContentText:
			if o.RGA != nil {
				_ = d.rga.Apply(*o.RGA)
			}
		default:
			d.register.Set(o.Content, time.Unix(0, o.Ts), o.Site)
		}
		d.log = append(d.log, o)
	}
	sort.Slice(d.log, func(i, j int) bool {
		if d.log[i].Site != d.log[j].Site {
			return d.log[i].Site < d.log[j].Site
		}
		return d.log[i].Seq < d.log[j].Seq
	})
	return nil
}

// SetContent performs a local whole-content write (JSON/opaque
// documents) and returns the encoded update ready for broadcast.
func (d *Doc) SetContent(content string) ([]byte, error) {
	d.mu.Lock()
	d.seq++
	o := op{Site: d.siteID, Seq: d.seq, Ts: time.Now().UnixNano(), Content: content}
	d.clock[d.siteID] = d.seq
	d.register.Set(content, time.Unix(0, o.Ts), d.siteID)
	d.log = append(d.log, o)
	d.mu.Unlock()
	return json.Marshal([]op{o})
}

// InsertText performs a local character insert (text documents) after
// afterID (zero value inserts at the start) and returns the encoded
// update ready for broadcast.
func (d *Doc) InsertText(afterID RGANodeID, char rune) ([]byte, RGANodeID, error) {
	d.mu.Lock()
	d.seq++
	node := d.rga.Insert(afterID, char, d.siteID)
	o := op{Site: d.siteID, Seq: d.seq, Ts: time.Now().UnixNano(), RGA: &node}
	d.clock[d.siteID] = d.seq
	d.log = append(d.log, o)
	d.mu.Unlock()
	encoded, err := json.Marshal([]op{o})
	return encoded, node.ID, err
}

// Content returns the document's current materialized content.
func (d *Doc) Content() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.contentType == ContentText {
		return d.rga.Text()
	}
	v, _ := d.register.Get()
	return v
}
