// Package bridge is the loopback HTTP surface of the write bridge: four
// endpoints (health, init, tag, note), a one-time token handshake, and
// idempotent mutations dispatched to the engine.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/basket/zotbridge/internal/audit"
	"github.com/basket/zotbridge/internal/config"
	"github.com/basket/zotbridge/internal/mutate"
	otelPkg "github.com/basket/zotbridge/internal/otel"
	"github.com/basket/zotbridge/internal/shared"
	"github.com/basket/zotbridge/internal/tokenstore"
)

const maxBodyBytes = 1 << 20

// Config wires a Server.
type Config struct {
	Store   tokenstore.Store
	Engine  *mutate.Engine
	Version string

	Logger    *slog.Logger
	Tracer    trace.Tracer
	Metrics   *otelPkg.Metrics // nil disables instrument updates
	RateLimit config.RateLimitConfig
}

type Server struct {
	cfg     Config
	guard   *Guard
	limiter *authLimiter
	schemas *requestSchemas
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("bridge: token store is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("bridge: mutation engine is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = nooptrace.NewTracerProvider().Tracer(otelPkg.TracerName)
	}
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:     cfg,
		guard:   NewGuard(cfg.Store),
		limiter: newAuthLimiter(cfg.RateLimit.Enabled, cfg.RateLimit.AttemptsPerMinute, cfg.RateLimit.BurstSize),
		schemas: schemas,
	}, nil
}

// Guard exposes the handshake guard for administrative use (reset).
func (s *Server) Guard() *Guard {
	return s.guard
}

// Listen binds the bridge's TCP listener. The bind address must be
// loopback; the token travels in plaintext headers, so anything wider is a
// refused start, not a warning.
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	if err := config.ValidateLoopback(addr); err != nil {
		return nil, err
	}
	var lc net.ListenConfig
	return lc.Listen(ctx, "tcp", addr)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.instrument("bridge.health", s.handleHealth))
	mux.HandleFunc("POST /v1/init", s.instrument("bridge.init", s.handleInit))
	mux.HandleFunc("POST /v1/tag", s.instrument("bridge.tag", s.handleTag))
	mux.HandleFunc("POST /v1/note", s.instrument("bridge.note", s.handleNote))
	return mux
}

// instrument wraps a handler with a per-request trace id, a server span,
// and the request duration metric.
func (s *Server) instrument(name string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := shared.WithTraceID(r.Context(), shared.NewTraceID())
		ctx, span := otelPkg.StartServerSpan(ctx, s.cfg.Tracer, name,
			otelPkg.AttrEndpoint.String(r.URL.Path),
		)
		defer span.End()

		h(w, r.WithContext(ctx))

		if s.cfg.Metrics != nil {
			s.cfg.Metrics.RequestDuration.Record(ctx, time.Since(start).Seconds())
		}
		s.cfg.Logger.Debug("request served",
			"endpoint", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds(),
			"trace_id", shared.TraceID(ctx),
		)
	}
}

type healthResponse struct {
	OK      bool   `json:"ok"`
	State   string `json:"state"`
	Version string `json:"version"`
}

type initRequest struct {
	Token string `json:"token"`
}

type tagRequest struct {
	ItemKey string   `json:"itemKey"`
	Add     []string `json:"add"`
	Remove  []string `json:"remove"`
	BatchID string   `json:"batchId"`
}

type tagResponse struct {
	OK      bool     `json:"ok"`
	Tags    []string `json:"tags"`
	BatchID string   `json:"batchId,omitempty"`
}

type noteRequest struct {
	ItemKey string `json:"itemKey"`
	Content string `json:"content"`
	Mode    string `json:"mode"`
	Marker  string `json:"marker"`
}

type noteResponse struct {
	OK     bool   `json:"ok"`
	NoteID string `json:"noteId"`
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, endpoint string, err error) {
	kind := classify(err)
	if kind == KindInternal {
		s.cfg.Logger.Error("request failed",
			"endpoint", endpoint,
			"error", err.Error(),
			"trace_id", shared.TraceID(ctx),
		)
	} else {
		s.cfg.Logger.Info("request rejected",
			"endpoint", endpoint,
			"error_kind", string(kind),
			"trace_id", shared.TraceID(ctx),
		)
	}
	s.writeErrorKind(w, kind)
}

func (s *Server) writeErrorKind(w http.ResponseWriter, kind ErrorKind) {
	s.writeJSON(w, kind.httpStatus(), errorResponse{OK: false, Error: string(kind)})
}

// readBody reads and bounds the request body. A body the schema rejects or
// that fails to parse is a MalformedRequest, reported before any state is
// touched.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeErrorKind(w, KindMalformedRequest)
		return nil, false
	}
	return raw, true
}

// authenticate runs the guard for a mutating endpoint and handles the
// failure paths: rate limiting, metrics, audit.
func (s *Server) authenticate(ctx context.Context, w http.ResponseWriter, r *http.Request, endpoint string) bool {
	if !s.limiter.allow() {
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.RateLimitRejects.Add(ctx, 1)
		}
		audit.Record("auth", "deny", endpoint, "", "", "rate limited")
		s.writeErrorKind(w, KindRateLimited)
		return false
	}

	err := s.guard.Authenticate(ctx, r.Header.Get(TokenHeader))
	if err == nil {
		return true
	}
	if kind := classify(err); kind == KindUnauthorized {
		s.limiter.failed()
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.AuthFailures.Add(ctx, 1)
		}
		audit.Record("auth", "deny", endpoint, "", "", "token mismatch")
	}
	s.writeError(ctx, w, endpoint, err)
	return false
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state, err := s.guard.State(r.Context())
	if err != nil {
		// Health itself must answer even when the store is unreadable.
		state = tokenstore.StateDegraded
	}
	s.writeJSON(w, http.StatusOK, healthResponse{
		OK:      state != tokenstore.StateDegraded,
		State:   string(state),
		Version: s.cfg.Version,
	})
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	raw, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var req initRequest
	if err := decodeValidated(s.schemas.init, raw, &req); err != nil {
		s.writeErrorKind(w, KindMalformedRequest)
		return
	}

	if err := s.guard.Init(ctx, req.Token); err != nil {
		audit.Record("init", "deny", "/v1/init", "", "", classifyDetail(err))
		s.writeError(ctx, w, "/v1/init", err)
		return
	}
	audit.Record("init", "allow", "/v1/init", "", "", "")
	s.cfg.Logger.Info("bridge initialized", "trace_id", shared.TraceID(ctx))
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleTag(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !s.authenticate(ctx, w, r, "/v1/tag") {
		return
	}
	raw, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var req tagRequest
	if err := decodeValidated(s.schemas.tag, raw, &req); err != nil {
		s.writeErrorKind(w, KindMalformedRequest)
		return
	}

	ctx = shared.WithItemKey(ctx, req.ItemKey)
	if req.BatchID != "" {
		ctx = shared.WithBatchID(ctx, req.BatchID)
	}

	tags, err := s.cfg.Engine.ApplyTagDelta(ctx, req.ItemKey, mutate.TagDelta{
		Add:    req.Add,
		Remove: req.Remove,
	})
	if err != nil {
		audit.Record("tag", "deny", "/v1/tag", req.ItemKey, req.BatchID, classifyDetail(err))
		s.writeError(ctx, w, "/v1/tag", err)
		return
	}
	audit.Record("tag", "allow", "/v1/tag", req.ItemKey, req.BatchID, "")
	s.writeJSON(w, http.StatusOK, tagResponse{OK: true, Tags: tags, BatchID: req.BatchID})
}

func (s *Server) handleNote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !s.authenticate(ctx, w, r, "/v1/note") {
		return
	}
	raw, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var req noteRequest
	if err := decodeValidated(s.schemas.note, raw, &req); err != nil {
		s.writeErrorKind(w, KindMalformedRequest)
		return
	}

	ctx = shared.WithItemKey(ctx, req.ItemKey)
	noteID, err := s.cfg.Engine.ApplyNoteMutation(ctx, req.ItemKey, mutate.NoteMutation{
		Content: req.Content,
		Mode:    mutate.NoteMode(req.Mode),
		Marker:  req.Marker,
	})
	if err != nil {
		audit.Record("note", "deny", "/v1/note", req.ItemKey, "", classifyDetail(err))
		s.writeError(ctx, w, "/v1/note", err)
		return
	}
	audit.Record("note", "allow", "/v1/note", req.ItemKey, "", "")
	s.writeJSON(w, http.StatusOK, noteResponse{OK: true, NoteID: noteID})
}

// classifyDetail renders the error kind for the audit trail without the
// underlying message, which could carry token material on auth paths.
func classifyDetail(err error) string {
	return string(classify(err))
}
