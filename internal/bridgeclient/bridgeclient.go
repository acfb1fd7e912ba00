// Package bridgeclient is the caller side of the bridge protocol. It is
// what the automation process links against: health probe, one-time token
// handshake, and the two mutation calls.
package bridgeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TokenHeader mirrors the header the bridge expects.
const TokenHeader = "X-ZMCP-Token"

// DefaultBaseURL is the loopback endpoint a default daemon serves.
const DefaultBaseURL = "http://127.0.0.1:23124/v1"

const defaultTimeout = 5 * time.Second

var (
	// ErrUnavailable means the bridge is not reachable, not running, or
	// answered with a non-auth failure. Retryable.
	ErrUnavailable = errors.New("bridge unavailable")
	// ErrAuth means the token is missing or invalid. Not retryable without
	// operator action.
	ErrAuth = errors.New("bridge auth failed")
)

// APIError carries the bridge's wire-level error kind alongside the
// sentinel classification.
type APIError struct {
	Kind   string
	Status int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bridge error %s (http %d)", e.Kind, e.Status)
}

// Is maps 401 onto ErrAuth and everything else onto ErrUnavailable, so
// errors.Is keeps working for callers that only care about the split.
func (e *APIError) Is(target error) bool {
	if target == ErrAuth {
		return e.Status == http.StatusUnauthorized
	}
	if target == ErrUnavailable {
		return e.Status != http.StatusUnauthorized
	}
	return false
}

// Config wires a Client. Zero values fall back to the defaults above.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	// Copy so the caller's client keeps its own timeout.
	c := *hc
	c.Timeout = cfg.Timeout
	return &Client{baseURL: cfg.BaseURL, token: cfg.Token, http: &c}
}

// Health reports the bridge lifecycle state. It needs no token.
type Health struct {
	OK      bool   `json:"ok"`
	State   string `json:"state"`
	Version string `json:"version"`
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return Health{}, err
	}
	return out, nil
}

// InitToken performs the one-time handshake. A bridge that already holds a
// token rejects it; the caller should then use the token it saved at first
// setup.
func (c *Client) InitToken(ctx context.Context, token string) error {
	body := map[string]string{"token": token}
	return c.do(ctx, http.MethodPost, "/init", body, nil)
}

// TagResult is the bridge's answer to a tag delta.
type TagResult struct {
	Tags    []string `json:"tags"`
	BatchID string   `json:"batchId"`
}

// Tag applies an idempotent tag delta to one item. batchID is optional and
// echoed back for correlation.
func (c *Client) Tag(ctx context.Context, itemKey string, add, remove []string, batchID string) (TagResult, error) {
	payload := map[string]any{"itemKey": itemKey}
	if len(add) > 0 {
		payload["add"] = add
	}
	if len(remove) > 0 {
		payload["remove"] = remove
	}
	if batchID != "" {
		payload["batchId"] = batchID
	}
	var out TagResult
	if err := c.do(ctx, http.MethodPost, "/tag", payload, &out); err != nil {
		return TagResult{}, err
	}
	return out, nil
}

// Note upserts or replaces the managed note on one item and returns the
// note id. mode is "upsert" or "replace"; an empty marker uses the
// bridge's default.
func (c *Client) Note(ctx context.Context, itemKey, content, mode, marker string) (string, error) {
	payload := map[string]any{"itemKey": itemKey, "content": content, "mode": mode}
	if marker != "" {
		payload["marker"] = marker
	}
	var out struct {
		NoteID string `json:"noteId"`
	}
	if err := c.do(ctx, http.MethodPost, "/note", payload, &out); err != nil {
		return "", err
	}
	return out.NoteID, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set(TokenHeader, c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode >= 400 {
		return apiError(resp.StatusCode, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
		}
	}
	return nil
}

func apiError(status int, raw []byte) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(raw, &body)
	if body.Error == "" {
		body.Error = http.StatusText(status)
	}
	return &APIError{Kind: body.Error, Status: status}
}
