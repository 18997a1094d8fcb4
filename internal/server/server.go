package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/screenpilot/platform/internal/change"
	"github.com/screenpilot/platform/internal/element"
	apperrors "github.com/screenpilot/platform/internal/errors"
	"github.com/screenpilot/platform/internal/locator"
	"github.com/screenpilot/platform/internal/orchestrator"
	"github.com/screenpilot/platform/internal/orchestrator/history"
	"github.com/screenpilot/platform/internal/trace"
)

// Service is what the server drives. *orchestrator.Manager implements it.
type Service interface {
	Elements() element.Set
	Locate(ctx context.Context, name string, adaptive bool) (locator.Result, error)
	WaitForChange(ctx context.Context, target orchestrator.Target, opts change.Options) (bool, error)
	WaitForStable(ctx context.Context, target orchestrator.Target, opts change.Options) (bool, error)
	Learned() map[string]float64
	PersistConfidence(name string) error
	Recent(n int) []history.Entry
	Events() <-chan history.Entry
}

// Message types.
type Message struct {
	Type string `json:"type"`
}

// LocateCommand asks for a locate over the WebSocket.
type LocateCommand struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Adaptive bool   `json:"adaptive"`
	TraceID  string `json:"trace_id,omitempty"`
}

type LocateRequest struct {
	Name     string `json:"name"`
	Adaptive bool   `json:"adaptive"`
}

type WaitRequest struct {
	Name      string   `json:"name,omitempty"`
	Region    []int    `json:"region,omitempty"` // x, y, w, h
	TimeoutMS int      `json:"timeout_ms,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"` // nil takes the default
}

type LocateResponse struct {
	Element    string       `json:"element"`
	Found      bool         `json:"found"`
	Rect       element.Rect `json:"rect"`
	Score      float64      `json:"score"`
	Method     string       `json:"method,omitempty"`
	Template   string       `json:"template,omitempty"`
	Scale      float64      `json:"scale,omitempty"`
	Confidence float64      `json:"confidence"`
	TimedOut   bool         `json:"timed_out"`
	ElapsedMS  int64        `json:"elapsed_ms"`
}

type WaitResponse struct {
	Changed bool `json:"changed,omitempty"`
	Stable  bool `json:"stable,omitempty"`
}

type ElementInfo struct {
	Name           string           `json:"name"`
	Confidence     float64          `json:"confidence"`
	Learned        float64          `json:"learned,omitempty"`
	ReferencePaths []string         `json:"reference_paths"`
	Region         *element.Rect    `json:"region,omitempty"`
	RelativeRegion *element.RelRect `json:"relative_region,omitempty"`
	Parent         string           `json:"parent,omitempty"`
}

type ErrorBody struct {
	Code     apperrors.Code    `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type LocateResultMessage struct {
	Type   string         `json:"type"`
	Result LocateResponse `json:"result"`
}

type EventMessage struct {
	Type  string        `json:"type"`
	Event history.Entry `json:"event"`
}

type ErrorMessage struct {
	Type    string         `json:"type"`
	Code    apperrors.Code `json:"code"`
	Message string         `json:"message"`
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	svc   Service
	mu    sync.RWMutex
	conns map[*websocket.Conn]struct{}
}

// New creates a server and starts broadcasting svc's events to WebSocket clients.
func New(svc Service) *Server {
	s := &Server{
		svc:   svc,
		conns: make(map[*websocket.Conn]struct{}),
	}
	go s.broadcastEvents()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("GET /api/elements", s.handleElements)
	mux.HandleFunc("POST /api/elements/{name}/persist", s.handlePersist)
	mux.HandleFunc("POST /api/locate", s.handleLocate)
	mux.HandleFunc("POST /api/wait/change", s.handleWaitChange)
	mux.HandleFunc("POST /api/wait/stable", s.handleWaitStable)
	mux.HandleFunc("GET /api/events", s.handleEvents)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleElements(w http.ResponseWriter, r *http.Request) {
	set := s.svc.Elements()
	learned := s.svc.Learned()
	out := make([]ElementInfo, 0, len(set))
	for _, name := range set.Names() {
		el := set[name]
		out = append(out, ElementInfo{
			Name:           name,
			Confidence:     el.Confidence,
			Learned:        learned[name],
			ReferencePaths: el.ReferencePaths,
			Region:         el.Region,
			RelativeRegion: el.RelativeRegion,
			Parent:         el.Parent,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLocate(w http.ResponseWriter, r *http.Request) {
	var req LocateRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, r, apperrors.New(apperrors.CodeInvalidArgument, "name is required"))
		return
	}
	res, err := s.svc.Locate(r.Context(), req.Name, req.Adaptive)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(res))
}

func (s *Server) handleWaitChange(w http.ResponseWriter, r *http.Request) {
	s.handleWait(w, r, s.svc.WaitForChange, func(ok bool) WaitResponse { return WaitResponse{Changed: ok} })
}

func (s *Server) handleWaitStable(w http.ResponseWriter, r *http.Request) {
	s.handleWait(w, r, s.svc.WaitForStable, func(ok bool) WaitResponse { return WaitResponse{Stable: ok} })
}

type waitFunc func(context.Context, orchestrator.Target, change.Options) (bool, error)

func (s *Server) handleWait(w http.ResponseWriter, r *http.Request, fn waitFunc, wrap func(bool) WaitResponse) {
	var req WaitRequest
	if !decode(w, r, &req) {
		return
	}
	target, err := req.target()
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok, err := fn(r.Context(), target, change.Options{
		Timeout:   time.Duration(req.TimeoutMS) * time.Millisecond,
		Threshold: req.Threshold,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wrap(ok))
}

func (req WaitRequest) target() (orchestrator.Target, error) {
	t := orchestrator.Target{Element: req.Name}
	switch len(req.Region) {
	case 0:
	case 4:
		t.Region = &element.Rect{X: req.Region[0], Y: req.Region[1], W: req.Region[2], H: req.Region[3]}
	default:
		return t, apperrors.Newf(apperrors.CodeInvalidArgument, "region needs 4 values, got %d", len(req.Region))
	}
	if req.TimeoutMS < 0 || (req.Threshold != nil && (*req.Threshold < 0 || *req.Threshold > 1)) {
		return t, apperrors.New(apperrors.CodeInvalidArgument, "timeout_ms and threshold must be non-negative, threshold at most 1")
	}
	return t, nil
}

func (s *Server) handlePersist(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.svc.PersistConfidence(name); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"element": name, "confidence": s.svc.Learned()[name]})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	n := DefaultEventLimit
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeError(w, r, apperrors.Newf(apperrors.CodeInvalidArgument, "invalid n %q", v))
			return
		}
		n = parsed
	}
	writeJSON(w, http.StatusOK, s.svc.Recent(n))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	// Get trace context from HTTP upgrade request
	baseCtx := r.Context()
	log := trace.Logger(baseCtx)
	log.Info("websocket connected", "remote", r.RemoteAddr)
	rl := &rateLimiter{}

	for {
		var msg json.RawMessage
		if err := wsjson.Read(baseCtx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		if !rl.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			_ = wsjson.Write(baseCtx, conn, ErrorMessage{
				Type:    "error",
				Code:    apperrors.CodeUnavailable,
				Message: "rate limit exceeded",
			})
			continue
		}

		var base Message
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}

		switch base.Type {
		case "locate":
			var cmd LocateCommand
			if err := json.Unmarshal(msg, &cmd); err != nil {
				continue
			}
			ctx := baseCtx
			if cmd.TraceID != "" {
				ctx = trace.WithContext(ctx, trace.NewChild(trace.Context{TraceID: cmd.TraceID}))
			} else {
				ctx, _ = trace.EnsureContext(ctx)
			}
			s.handleLocateCommand(ctx, conn, cmd)
		default:
			_ = wsjson.Write(baseCtx, conn, ErrorMessage{
				Type:    "error",
				Code:    apperrors.CodeInvalidArgument,
				Message: "unknown message type " + strconv.Quote(base.Type),
			})
		}
	}
}

func (s *Server) handleLocateCommand(ctx context.Context, conn *websocket.Conn, cmd LocateCommand) {
	ctx, span := trace.StartSpan(ctx, "ws.locate")
	span.SetAttr("element", cmd.Name)

	res, err := s.svc.Locate(ctx, cmd.Name, cmd.Adaptive)
	span.Finish(err)
	if err != nil {
		_ = wsjson.Write(ctx, conn, ErrorMessage{Type: "error", Code: apperrors.CodeOf(err), Message: err.Error()})
		return
	}
	_ = wsjson.Write(ctx, conn, LocateResultMessage{Type: "locate_result", Result: toResponse(res)})
}

func (s *Server) broadcastEvents() {
	for evt := range s.svc.Events() {
		msg := EventMessage{Type: "event", Event: evt}

		s.mu.RLock()
		for conn := range s.conns {
			go func(c *websocket.Conn) {
				ctx, cancel := context.WithTimeout(context.Background(), WriteTimeout)
				defer cancel()
				_ = wsjson.Write(ctx, c, msg)
			}(conn)
		}
		s.mu.RUnlock()
	}
}

func toResponse(res locator.Result) LocateResponse {
	return LocateResponse{
		Element:    res.Element,
		Found:      res.Found,
		Rect:       res.Rect,
		Score:      res.Score,
		Method:     string(res.Method),
		Template:   res.Template,
		Scale:      res.Scale,
		Confidence: res.Confidence,
		TimedOut:   res.TimedOut,
		ElapsedMS:  res.Elapsed.Milliseconds(),
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, r, apperrors.Wrap(err, apperrors.CodeInvalidArgument, "malformed request body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := ErrorBody{Code: apperrors.CodeOf(err), Message: err.Error()}
	if appErr, ok := apperrors.As(err); ok {
		body.Message = appErr.Message
		body.Metadata = appErr.Metadata
	}
	status := apperrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		trace.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, ErrorResponse{Error: body})
}
