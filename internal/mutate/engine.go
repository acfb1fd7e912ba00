// Package mutate applies idempotent tag and note mutations to items through
// the itemstore capability interface. Applying the same mutation twice
// always lands in the same end state as applying it once.
package mutate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/basket/zotbridge/internal/itemstore"
	"github.com/basket/zotbridge/internal/otel"
	"github.com/basket/zotbridge/internal/shared"
)

// ErrAmbiguousDelta rejects a delta naming the same tag in add and remove.
var ErrAmbiguousDelta = errors.New("tag appears in both add and remove")

// TagDelta is a set-wise tag change request.
type TagDelta struct {
	Add    []string
	Remove []string
}

// NoteMode selects how an existing managed note is rewritten.
type NoteMode string

const (
	// ModeUpsert rewrites only the managed region (marker to end of body),
	// preserving anything the user wrote above the marker.
	ModeUpsert NoteMode = "upsert"
	// ModeReplace rewrites the entire note body.
	ModeReplace NoteMode = "replace"
)

// NoteMutation describes the desired state of the one managed note on an
// item. The marker is the opaque token that distinguishes the managed note
// from user-authored ones.
type NoteMutation struct {
	Content string
	Mode    NoteMode
	Marker  string
}

// Config wires an Engine.
type Config struct {
	Store itemstore.ItemStore
	// Timeout bounds each item-store call. Zero means 5s.
	Timeout time.Duration
	// DefaultMarker is used when a NoteMutation carries none.
	DefaultMarker string
	Logger        *slog.Logger
	Metrics       *otel.Metrics // nil disables instrument updates
}

type Engine struct {
	cfg   Config
	locks *keyLocks
}

func NewEngine(cfg Config) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.DefaultMarker == "" {
		cfg.DefaultMarker = "<!--zmcp-->"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{cfg: cfg, locks: newKeyLocks()}
}

// call runs one item-store operation under the engine's bounded timeout and
// folds a deadline expiry into the unavailable error class: a stalled host
// should read as retryable, not hang the request.
func (e *Engine) call(ctx context.Context, op string, f func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	start := time.Now()
	err := f(callCtx)
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.ItemStoreDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil && callCtx.Err() != nil && ctx.Err() == nil {
		return fmt.Errorf("%w: %s timed out after %s", itemstore.ErrUnavailable, op, e.cfg.Timeout)
	}
	return err
}

// ApplyTagDelta merges the delta into the item's tag set and writes the
// result back only when it differs from the current set. The returned slice
// is the final tag set, sorted.
func (e *Engine) ApplyTagDelta(ctx context.Context, key string, delta TagDelta) ([]string, error) {
	add := toSet(delta.Add)
	remove := toSet(delta.Remove)
	for tag := range add {
		if _, dup := remove[tag]; dup {
			return nil, fmt.Errorf("%w: %q", ErrAmbiguousDelta, tag)
		}
	}

	release := e.locks.acquire(key)
	defer release()

	var current []string
	if err := e.call(ctx, "get_tags", func(ctx context.Context) error {
		var err error
		current, err = e.cfg.Store.GetTags(ctx, key)
		return err
	}); err != nil {
		return nil, err
	}

	result := toSet(current)
	for tag := range add {
		result[tag] = struct{}{}
	}
	for tag := range remove {
		delete(result, tag)
	}

	final := sortedKeys(result)
	if sameSet(result, toSet(current)) {
		if e.cfg.Metrics != nil {
			e.cfg.Metrics.MutationsSkipped.Add(ctx, 1)
		}
		e.cfg.Logger.Debug("tag delta is a no-op", "item_key", key, "trace_id", shared.TraceID(ctx))
		return final, nil
	}

	if err := e.call(ctx, "set_tags", func(ctx context.Context) error {
		return e.cfg.Store.SetTags(ctx, key, final)
	}); err != nil {
		return nil, err
	}
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.MutationsApplied.Add(ctx, 1)
	}
	e.cfg.Logger.Info("tags updated",
		"item_key", key,
		"added", len(add),
		"removed", len(remove),
		"total", len(final),
		"batch_id", shared.BatchID(ctx),
		"trace_id", shared.TraceID(ctx),
	)
	return final, nil
}

// ApplyNoteMutation converges the item's managed note onto the requested
// content. Repeating an identical mutation leaves the note body byte for
// byte unchanged.
func (e *Engine) ApplyNoteMutation(ctx context.Context, key string, m NoteMutation) (string, error) {
	marker := m.Marker
	if strings.TrimSpace(marker) == "" {
		marker = e.cfg.DefaultMarker
	}
	switch m.Mode {
	case ModeUpsert, ModeReplace:
	default:
		return "", fmt.Errorf("unknown note mode %q", m.Mode)
	}

	release := e.locks.acquire(key)
	defer release()

	var existing *itemstore.Note
	err := e.call(ctx, "find_note_by_marker", func(ctx context.Context) error {
		var err error
		existing, err = e.cfg.Store.FindNoteByMarker(ctx, key, marker)
		return err
	})
	switch {
	case errors.Is(err, itemstore.ErrNoteNotFound):
		body := managedBody(marker, m.Content)
		var noteID string
		if err := e.call(ctx, "create_note", func(ctx context.Context) error {
			var err error
			noteID, err = e.cfg.Store.CreateNote(ctx, key, body)
			return err
		}); err != nil {
			return "", err
		}
		if e.cfg.Metrics != nil {
			e.cfg.Metrics.MutationsApplied.Add(ctx, 1)
		}
		e.cfg.Logger.Info("managed note created", "item_key", key, "note_id", noteID, "trace_id", shared.TraceID(ctx))
		return noteID, nil
	case err != nil:
		return "", err
	}

	var newBody string
	switch m.Mode {
	case ModeUpsert:
		// The managed region runs from the marker to the end of the body;
		// anything before the marker is user space and survives untouched.
		idx := strings.Index(existing.Body, marker)
		newBody = existing.Body[:idx] + managedBody(marker, m.Content)
	case ModeReplace:
		newBody = managedBody(marker, m.Content)
	}

	if newBody == existing.Body {
		if e.cfg.Metrics != nil {
			e.cfg.Metrics.MutationsSkipped.Add(ctx, 1)
		}
		e.cfg.Logger.Debug("note mutation is a no-op", "item_key", key, "note_id", existing.ID, "trace_id", shared.TraceID(ctx))
		return existing.ID, nil
	}

	if err := e.call(ctx, "update_note", func(ctx context.Context) error {
		return e.cfg.Store.UpdateNote(ctx, existing.ID, newBody)
	}); err != nil {
		return "", err
	}
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.MutationsApplied.Add(ctx, 1)
	}
	e.cfg.Logger.Info("managed note updated",
		"item_key", key,
		"note_id", existing.ID,
		"mode", string(m.Mode),
		"trace_id", shared.TraceID(ctx),
	)
	return existing.ID, nil
}

// managedBody renders the managed region: the marker, a newline, then the
// caller's content. Deterministic so repeated mutations compare equal.
func managedBody(marker, content string) string {
	return marker + "\n" + content
}

func toSet(tags []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
	}
	return set
}

func sameSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
