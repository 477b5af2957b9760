// Package fsschema defines the JSON shape of the virtual filesystem
// document: a schema document that declares a tree of doc and dir
// entries, each mapping to a document in the store.
package fsschema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidEntryName is returned by ValidateName.
var ErrInvalidEntryName = errors.New("fsschema: invalid entry name")

// EntryKind discriminates the Entry sum type.
type EntryKind string

const (
	KindDoc EntryKind = "doc"
	KindDir EntryKind = "dir"
)

// FsSchema is the top-level parsed shape of an fs-root document.
type FsSchema struct {
	Version int    `json:"version"`
	Root    *Entry `json:"root,omitempty"`
}

// Entry is the Doc | Dir sum type. Exactly one of the Doc-only and
// Dir-only fields is meaningful, selected by Kind.
//
// A directory entry is either document-backed (NodeID set, Entries
// nil) or inline (Entries set, NodeID nil) -- never both; the
// reconciler enforces that mutual exclusion.
type Entry struct {
	Kind EntryKind

	// Doc fields; NodeID also marks a document-backed directory.
	NodeID      *string `json:"node_id,omitempty"`
	ContentType *string `json:"content_type,omitempty"`

	// Dir-only field.
	Entries map[string]*Entry `json:"entries,omitempty"`
}

// entryWire is the JSON-visible shape; Entry's custom marshaling
// bridges between the tagged wire format and the typed Go struct.
type entryWire struct {
	Type        string             `json:"type"`
	NodeID      *string            `json:"node_id,omitempty"`
	ContentType *string            `json:"content_type,omitempty"`
	Entries     map[string]*Entry  `json:"entries,omitempty"`
}

// UnmarshalJSON decodes a tagged {"type": "doc"|"dir", ...} entry.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var w entryWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Type {
	case "doc":
		e.Kind = KindDoc
	case "dir":
		e.Kind = KindDir
	default:
		return fmt.Errorf("fsschema: unknown entry type %q", w.Type)
	}
	e.NodeID = w.NodeID
	e.ContentType = w.ContentType
	e.Entries = w.Entries
	return nil
}

// MarshalJSON encodes the Entry back into its tagged wire form.
func (e Entry) MarshalJSON() ([]byte, error) {
	w := entryWire{
		Type:        string(e.Kind),
		NodeID:      e.NodeID,
		ContentType: e.ContentType,
		Entries:     e.Entries,
	}
	return json.Marshal(w)
}

// IsDoc reports whether e is a Doc entry.
func (e *Entry) IsDoc() bool { return e.Kind == KindDoc }

// IsDir reports whether e is a Dir entry.
func (e *Entry) IsDir() bool { return e.Kind == KindDir }

// ValidateName checks a path segment per the original's
// Entry::validate_name: non-empty, no path separator, no NUL byte,
// and not a dot or dot-dot special entry.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidEntryName)
	}
	if strings.Contains(name, "/") {
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidEntryName, name)
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q contains a NUL byte", ErrInvalidEntryName, name)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("%w: %q is a reserved name", ErrInvalidEntryName, name)
	}
	return nil
}

// Parse decodes a fs-root document's JSON content into an FsSchema.
func Parse(content string) (*FsSchema, error) {
	var schema FsSchema
	if err := json.Unmarshal([]byte(content), &schema); err != nil {
		return nil, fmt.Errorf("fsschema: parse: %w", err)
	}
	return &schema, nil
}
