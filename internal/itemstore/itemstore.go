// Package itemstore abstracts the host application's item model. The bridge
// never touches Zotero's storage directly; everything goes through this
// capability interface.
package itemstore

import (
	"context"
	"errors"
)

var (
	// ErrItemNotFound means the item key does not resolve in the host.
	ErrItemNotFound = errors.New("item not found")
	// ErrNoteNotFound means no note on the item carries the marker.
	ErrNoteNotFound = errors.New("no note carries the marker")
	// ErrNoteConflict means more than one note carries the marker. The
	// bridge maintains at most one managed note per item, so this signals
	// external tampering.
	ErrNoteConflict = errors.New("multiple notes carry the marker")
	// ErrUnavailable means the host application could not be reached or
	// did not answer in time. Mutations are idempotent, so callers may
	// retry.
	ErrUnavailable = errors.New("item store unavailable")
)

// Note is a child note as the bridge sees it: an identifier and a body.
type Note struct {
	ID   string
	Body string
}

// ItemStore is the read-then-conditional-write surface the mutation engine
// needs. Implementations must resolve ErrItemNotFound for unknown keys and
// detect marker conflicts themselves, since only they can enumerate notes.
type ItemStore interface {
	GetTags(ctx context.Context, key string) ([]string, error)
	SetTags(ctx context.Context, key string, tags []string) error
	FindNoteByMarker(ctx context.Context, key, marker string) (*Note, error)
	CreateNote(ctx context.Context, key, body string) (string, error)
	UpdateNote(ctx context.Context, noteID, body string) error
}
