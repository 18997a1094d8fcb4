package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/draw"
	"image/png"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/screenpilot/platform/internal/config"
	"github.com/screenpilot/platform/internal/element"
	apperrors "github.com/screenpilot/platform/internal/errors"
	"github.com/screenpilot/platform/internal/orchestrator"
	"github.com/screenpilot/platform/internal/orchestrator/history"
	"github.com/screenpilot/platform/internal/screen"
	"github.com/screenpilot/platform/internal/trace"
)

const elementsDoc = `
ui_elements:
  send_button:
    reference_paths: [send.png]
    region: [100, 50, 200, 150]
  prompt_box:
    reference_paths: [prompt.png]
`

func noise(w, h int, seed uint64) *image.RGBA {
	r := rand.New(rand.NewPCG(seed, seed*13+5))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = uint8(r.IntN(256))
		img.Pix[i+1] = uint8(r.IntN(256))
		img.Pix[i+2] = uint8(r.IntN(256))
		img.Pix[i+3] = 255
	}
	return img
}

func newTestServer(t *testing.T) (*Server, *orchestrator.Manager) {
	t.Helper()
	dir := t.TempDir()
	docPath := filepath.Join(dir, "ui_elements.yaml")
	if err := os.WriteFile(docPath, []byte(elementsDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	ref := noise(24, 16, 4)
	f, err := os.Create(filepath.Join(dir, "send.png"))
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, ref); err != nil {
		t.Fatal(err)
	}
	f.Close()

	shot := noise(400, 300, 2)
	draw.Draw(shot, image.Rect(150, 100, 174, 116), ref, image.Point{}, draw.Src)

	doc, err := element.LoadDocument(docPath)
	if err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{
		LocateTimeout:   5 * time.Second,
		MaxReferences:   10,
		MatchScales:     []float64{0.8, 0.9, 1.1, 1.2},
		ExcellentScore:  0.99,
		NativeMinScore:  0.98,
		AdaptiveMin:     0.5,
		AdaptiveMax:     0.9,
		AdaptiveStep:    0.1,
		ChangeInterval:  10 * time.Millisecond,
		ChangeThreshold: 0.1,
		ChangeTimeout:   time.Second,
	}
	m, err := orchestrator.New(cfg, doc, screen.FromImage(shot))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(m.Close)
	return New(m), m
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("error body %q: %v", rec.Body.String(), err)
	}
	return resp.Error
}

func TestCORSMiddleware(t *testing.T) {
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Test OPTIONS request
	req := httptest.NewRequest("OPTIONS", "/test", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("OPTIONS status = %d, want %d", rec.Code, http.StatusOK)
	}
	if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("CORS origin = %q, want %q", v, "*")
	}
	if v := rec.Header().Get("Access-Control-Allow-Methods"); v != "GET, POST, OPTIONS" {
		t.Errorf("CORS methods = %q, want %q", v, "GET, POST, OPTIONS")
	}

	// Test regular request
	req = httptest.NewRequest("GET", "/test", http.NoBody)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("GET status = %d, want %d", rec.Code, http.StatusOK)
	}
	if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("CORS origin on GET = %q, want %q", v, "*")
	}
}

func TestLocateEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	req := httptest.NewRequest("POST", "/api/locate", strings.NewReader(`{"name":"send_button"}`))
	req.Header.Set(trace.TraceIDKey, "trace-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if v := rec.Header().Get(trace.TraceIDKey); v != "trace-123" {
		t.Errorf("trace header = %q, want trace-123", v)
	}
	var resp LocateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Found || resp.Rect != (element.Rect{X: 150, Y: 100, W: 24, H: 16}) {
		t.Errorf("response = %+v", resp)
	}
	if resp.Confidence != element.DefaultConfidence {
		t.Errorf("confidence = %v, want %v", resp.Confidence, element.DefaultConfidence)
	}
}

func TestLocateEndpointErrors(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	tests := []struct {
		name   string
		body   string
		status int
		code   apperrors.Code
	}{
		{"unknown element", `{"name":"nope"}`, http.StatusPreconditionFailed, apperrors.CodeConfigMissing},
		{"missing name", `{}`, http.StatusBadRequest, apperrors.CodeInvalidArgument},
		{"malformed", `{"name":`, http.StatusBadRequest, apperrors.CodeInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, "POST", "/api/locate", tt.body)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if got := decodeError(t, rec); got.Code != tt.code {
				t.Errorf("code = %s, want %s", got.Code, tt.code)
			}
		})
	}
}

func TestElementsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s.Handler(), "GET", "/api/elements", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var out []ElementInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[0].Name != "prompt_box" || out[1].Name != "send_button" {
		t.Fatalf("elements = %+v, want prompt_box then send_button", out)
	}
	if out[1].Region == nil || *out[1].Region != (element.Rect{X: 100, Y: 50, W: 200, H: 150}) {
		t.Errorf("send_button region = %v", out[1].Region)
	}
	if out[0].Region != nil {
		t.Errorf("prompt_box should have no region, got %v", out[0].Region)
	}
}

func TestWaitEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := do(t, h, "POST", "/api/wait/change", `{"region":[0,0,50,50],"timeout_ms":50}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("wait/change status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp WaitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Changed {
		t.Error("a static screen should not report a change")
	}

	rec = do(t, h, "POST", "/api/wait/stable", `{"name":"send_button","timeout_ms":2000}`)
	resp = WaitResponse{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || !resp.Stable {
		t.Errorf("wait/stable = %d %+v, want stable", rec.Code, resp)
	}

	rec = do(t, h, "POST", "/api/wait/change", `{"region":[0,0,50]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("short region status = %d, want 400", rec.Code)
	}
	rec = do(t, h, "POST", "/api/wait/change", `{"region":[0,0,50,50],"timeout_ms":50,"threshold":0}`)
	if rec.Code != http.StatusOK {
		t.Errorf("zero threshold status = %d, want 200", rec.Code)
	}
	rec = do(t, h, "POST", "/api/wait/change", `{"threshold":2}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad threshold status = %d, want 400", rec.Code)
	}
}

func TestEventsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	do(t, h, "POST", "/api/locate", `{"name":"send_button"}`)
	do(t, h, "POST", "/api/locate", `{"name":"prompt_box"}`)

	rec := do(t, h, "GET", "/api/events?n=1", "")
	var entries []history.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Element != "prompt_box" || entries[0].Found {
		t.Errorf("events = %+v, want the prompt_box miss", entries)
	}

	if rec := do(t, h, "GET", "/api/events?n=zero", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid n status = %d, want 400", rec.Code)
	}
}

func TestPersistEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := do(t, h, "POST", "/api/elements/send_button/persist", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("persist before learning = %d, want 404", rec.Code)
	}

	do(t, h, "POST", "/api/locate", `{"name":"send_button","adaptive":true}`)
	rec = do(t, h, "POST", "/api/elements/send_button/persist", "")
	if rec.Code != http.StatusOK {
		t.Errorf("persist after learning = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestWebSocketLocate(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := wsjson.Write(ctx, conn, LocateCommand{Type: "locate", Name: "send_button", TraceID: "abc"}); err != nil {
		t.Fatal(err)
	}

	var gotResult, gotEvent bool
	for !gotResult || !gotEvent {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			t.Fatalf("read: %v (result=%v event=%v)", err, gotResult, gotEvent)
		}
		var base Message
		if err := json.Unmarshal(raw, &base); err != nil {
			t.Fatal(err)
		}
		switch base.Type {
		case "locate_result":
			var msg LocateResultMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				t.Fatal(err)
			}
			if !msg.Result.Found {
				t.Errorf("result = %+v, want found", msg.Result)
			}
			gotResult = true
		case "event":
			var msg EventMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				t.Fatal(err)
			}
			if msg.Event.TraceID != "abc" {
				t.Errorf("event trace = %q, want abc", msg.Event.TraceID)
			}
			gotEvent = true
		default:
			t.Fatalf("unexpected message %s", raw)
		}
	}

	if err := wsjson.Write(ctx, conn, Message{Type: "dance"}); err != nil {
		t.Fatal(err)
	}
	var msg ErrorMessage
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != "error" || msg.Code != apperrors.CodeInvalidArgument {
		t.Errorf("unknown type reply = %+v", msg)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := &rateLimiter{}
	for i := 0; i < RateLimitMessages; i++ {
		if !rl.allow() {
			t.Fatalf("message %d should be allowed", i)
		}
	}
	if rl.allow() {
		t.Error("message over the limit should be rejected")
	}

	rl.mu.Lock()
	for i := range rl.timestamps {
		rl.timestamps[i] = rl.timestamps[i].Add(-2 * RateLimitWindow)
	}
	rl.mu.Unlock()
	if !rl.allow() {
		t.Error("window should have slid")
	}
}

func TestMessageTypes(t *testing.T) {
	tests := []struct {
		name    string
		msg     any
		typeVal string
	}{
		{"locate", LocateCommand{Type: "locate", Name: "send_button"}, "locate"},
		{"result", LocateResultMessage{Type: "locate_result"}, "locate_result"},
		{"event", EventMessage{Type: "event", Event: history.Entry{Kind: history.KindLocate}}, "event"},
		{"error", ErrorMessage{Type: "error", Code: apperrors.CodeInternal}, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.msg)
			if err != nil {
				t.Fatalf("json.Marshal error: %v", err)
			}
			var base Message
			if err := json.NewDecoder(bytes.NewReader(data)).Decode(&base); err != nil {
				t.Fatalf("decode error: %v", err)
			}
			if base.Type != tt.typeVal {
				t.Errorf("type = %q, want %q", base.Type, tt.typeVal)
			}
		})
	}
}
