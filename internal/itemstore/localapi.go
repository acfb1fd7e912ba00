package itemstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// LocalAPI talks to Zotero's local HTTP API (the desktop client's loopback
// server). Writes are conditional on the item version the read observed, so
// a concurrent edit in the client surfaces as a retryable failure instead
// of a silent overwrite.
type LocalAPI struct {
	baseURL string
	client  *http.Client
}

// NewLocalAPI builds a store rooted at baseURL, e.g.
// http://127.0.0.1:23119/api/users/0. Per-call deadlines come from the
// caller's context; the engine applies them.
func NewLocalAPI(baseURL string, client *http.Client) *LocalAPI {
	if client == nil {
		client = http.DefaultClient
	}
	return &LocalAPI{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

type apiTag struct {
	Tag  string `json:"tag"`
	Type int    `json:"type,omitempty"`
}

type apiItem struct {
	Key     string `json:"key"`
	Version int    `json:"version"`
	Data    struct {
		ItemType string   `json:"itemType"`
		Note     string   `json:"note"`
		Tags     []apiTag `json:"tags"`
	} `json:"data"`
}

func (s *LocalAPI) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrItemNotFound
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: GET %s: status %d", ErrUnavailable, path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrUnavailable, path, err)
	}
	return nil
}

func (s *LocalAPI) getItem(ctx context.Context, key string) (*apiItem, error) {
	var it apiItem
	if err := s.getJSON(ctx, "/items/"+key, &it); err != nil {
		return nil, err
	}
	return &it, nil
}

func (s *LocalAPI) patchItem(ctx context.Context, key string, version int, fields map[string]any) error {
	body, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal patch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, s.baseURL+"/items/"+key, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("If-Unmodified-Since-Version", strconv.Itoa(version))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrItemNotFound
	case resp.StatusCode == http.StatusPreconditionFailed:
		// The item changed under us. The mutation is idempotent; report
		// retryable rather than overwrite blindly.
		return fmt.Errorf("%w: item %s changed concurrently", ErrUnavailable, key)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: PATCH %s: status %d", ErrUnavailable, key, resp.StatusCode)
	}
	return nil
}

func (s *LocalAPI) GetTags(ctx context.Context, key string) ([]string, error) {
	it, err := s.getItem(ctx, key)
	if err != nil {
		return nil, err
	}
	tags := make([]string, 0, len(it.Data.Tags))
	for _, t := range it.Data.Tags {
		tags = append(tags, t.Tag)
	}
	return tags, nil
}

func (s *LocalAPI) SetTags(ctx context.Context, key string, tags []string) error {
	it, err := s.getItem(ctx, key)
	if err != nil {
		return err
	}
	apiTags := make([]apiTag, 0, len(tags))
	for _, t := range tags {
		apiTags = append(apiTags, apiTag{Tag: t})
	}
	return s.patchItem(ctx, key, it.Version, map[string]any{"tags": apiTags})
}

func (s *LocalAPI) FindNoteByMarker(ctx context.Context, key, marker string) (*Note, error) {
	var children []apiItem
	if err := s.getJSON(ctx, "/items/"+key+"/children", &children); err != nil {
		return nil, err
	}
	var found *Note
	for _, c := range children {
		if c.Data.ItemType != "note" {
			continue
		}
		if strings.Contains(c.Data.Note, marker) {
			if found != nil {
				return nil, ErrNoteConflict
			}
			found = &Note{ID: c.Key, Body: c.Data.Note}
		}
	}
	if found == nil {
		return nil, ErrNoteNotFound
	}
	return found, nil
}

func (s *LocalAPI) CreateNote(ctx context.Context, key, body string) (string, error) {
	payload, err := json.Marshal([]map[string]any{{
		"itemType":   "note",
		"parentItem": key,
		"note":       body,
	}})
	if err != nil {
		return "", fmt.Errorf("marshal note: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/items", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("%w: POST /items: status %d", ErrUnavailable, resp.StatusCode)
	}

	var result struct {
		Success map[string]string         `json:"success"`
		Failed  map[string]json.RawMessage `json:"failed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: decode create response: %v", ErrUnavailable, err)
	}
	noteID, ok := result.Success["0"]
	if !ok {
		return "", fmt.Errorf("%w: note creation rejected by host", ErrUnavailable)
	}
	return noteID, nil
}

func (s *LocalAPI) UpdateNote(ctx context.Context, noteID, body string) error {
	it, err := s.getItem(ctx, noteID)
	if err != nil {
		return err
	}
	return s.patchItem(ctx, noteID, it.Version, map[string]any{"note": body})
}
