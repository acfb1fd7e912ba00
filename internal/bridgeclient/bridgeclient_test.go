package bridgeclient

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func newTestClient(t *testing.T, handler http.Handler, token string) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/v1", Token: token})
}

func TestHealth(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "state": "ready", "version": "1.2.3"})
	})
	c := newTestClient(t, mux, "")

	h, err := c.Health(t.Context())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if !h.OK || h.State != "ready" || h.Version != "1.2.3" {
		t.Fatalf("Health = %+v", h)
	}
}

func TestTagSendsTokenAndBatchID(t *testing.T) {
	var gotToken string
	var gotPayload map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/tag", func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get(TokenHeader)
		json.NewDecoder(r.Body).Decode(&gotPayload)
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "tags": []string{"a", "b"}, "batchId": "b9"})
	})
	c := newTestClient(t, mux, "sekret")

	res, err := c.Tag(t.Context(), "K1", []string{"a"}, []string{"x"}, "b9")
	if err != nil {
		t.Fatalf("Tag: %v", err)
	}
	if gotToken != "sekret" {
		t.Fatalf("token header = %q", gotToken)
	}
	if gotPayload["itemKey"] != "K1" || gotPayload["batchId"] != "b9" {
		t.Fatalf("payload = %v", gotPayload)
	}
	if res.BatchID != "b9" || len(res.Tags) != 2 {
		t.Fatalf("result = %+v", res)
	}
}

func TestNoteOmitsEmptyMarker(t *testing.T) {
	var gotPayload map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/note", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotPayload)
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "noteId": "N42"})
	})
	c := newTestClient(t, mux, "tok")

	id, err := c.Note(t.Context(), "K1", "hello", "upsert", "")
	if err != nil {
		t.Fatalf("Note: %v", err)
	}
	if id != "N42" {
		t.Fatalf("noteId = %q", id)
	}
	if _, present := gotPayload["marker"]; present {
		t.Fatalf("empty marker was sent: %v", gotPayload)
	}
}

func TestErrorClassification(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/tag", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "Unauthorized"})
	})
	mux.HandleFunc("POST /v1/note", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "ItemStoreUnavailable"})
	})
	c := newTestClient(t, mux, "tok")

	_, err := c.Tag(t.Context(), "K1", []string{"a"}, nil, "")
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("401 classified as %v, want ErrAuth", err)
	}
	if errors.Is(err, ErrUnavailable) {
		t.Fatal("401 also classified as ErrUnavailable")
	}

	_, err = c.Note(t.Context(), "K1", "x", "upsert", "")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("503 classified as %v, want ErrUnavailable", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Kind != "ItemStoreUnavailable" {
		t.Fatalf("error kind not surfaced: %v", err)
	}
}

func TestConnectionRefusedIsUnavailable(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1/v1", Token: "tok"})
	if _, err := c.Health(t.Context()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("dead endpoint classified as %v, want ErrUnavailable", err)
	}
}

func TestCredentialsRoundTrip(t *testing.T) {
	home := t.TempDir()

	// Missing file yields empty credentials, not an error.
	creds, err := LoadCredentials(home)
	if err != nil {
		t.Fatalf("LoadCredentials on empty home: %v", err)
	}
	if creds.Token != "" {
		t.Fatalf("creds = %+v, want empty", creds)
	}

	want := Credentials{Endpoint: "http://127.0.0.1:23124/v1", Token: "abc123"}
	if err := SaveCredentials(home, want); err != nil {
		t.Fatalf("SaveCredentials: %v", err)
	}
	got, err := LoadCredentials(home)
	if err != nil {
		t.Fatalf("LoadCredentials: %v", err)
	}
	if got != want {
		t.Fatalf("round trip = %+v, want %+v", got, want)
	}

	info, err := os.Stat(filepath.Join(home, "client.json"))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("credentials perm = %o, want 600", perm)
	}
}
