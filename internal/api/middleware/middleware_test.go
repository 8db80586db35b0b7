package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dvloznov/finance-assistant/internal/logger"
)

type fakeSessions struct {
	active     bool
	credential string
}

func (f fakeSessions) Active() bool { return f.active }

func (f fakeSessions) Authorize(token string) bool {
	return f.active && (f.credential == "" || token == f.credential)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"ok": "yes"})
	})
}

func TestRequestID_Generated(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if seen == "" {
		t.Fatal("expected generated request id in context")
	}
	if got := rec.Header().Get("X-Request-ID"); got != seen {
		t.Errorf("header = %q, context = %q", got, seen)
	}
}

func TestRequestID_Propagated(t *testing.T) {
	h := RequestID(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want abc-123", got)
	}
}

func TestRequireSession(t *testing.T) {
	tests := []struct {
		name       string
		sessions   fakeSessions
		path       string
		auth       string
		wantStatus int
	}{
		{name: "active", sessions: fakeSessions{active: true}, path: "/api/transactions", wantStatus: http.StatusOK},
		{name: "inactive", sessions: fakeSessions{}, path: "/api/transactions", wantStatus: http.StatusUnauthorized},
		{name: "open path", sessions: fakeSessions{}, path: "/health", wantStatus: http.StatusOK},
		{name: "credential matches", sessions: fakeSessions{active: true, credential: "s3cret"}, path: "/api/transactions", auth: "Bearer s3cret", wantStatus: http.StatusOK},
		{name: "credential missing", sessions: fakeSessions{active: true, credential: "s3cret"}, path: "/api/transactions", wantStatus: http.StatusUnauthorized},
		{name: "credential wrong", sessions: fakeSessions{active: true, credential: "s3cret"}, path: "/api/transactions", auth: "Bearer guess", wantStatus: http.StatusUnauthorized},
		{name: "credential not bearer", sessions: fakeSessions{active: true, credential: "s3cret"}, path: "/api/transactions", auth: "s3cret", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := RequireSession(tt.sessions, "/health", "/api/session")(okHandler())
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{header: "", want: ""},
		{header: "Bearer abc", want: "abc"},
		{header: "bearer abc", want: "abc"},
		{header: "Basic abc", want: ""},
		{header: "abc", want: ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		if got := BearerToken(req); got != tt.want {
			t.Errorf("BearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf)
	h := Recovery(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(buf.String(), "Panic recovered") {
		t.Errorf("expected panic log, got %q", buf.String())
	}
}

func TestCORS_Preflight(t *testing.T) {
	h := CORS(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/messages", nil))

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing Access-Control-Allow-Origin")
	}
}

func TestLogger_RecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf)
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusTeapot, "nope")
	}), RequestID, Logger(log))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/brew", nil))

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected one JSON log line: %v (%q)", err, buf.String())
	}
	if entry["status"] != float64(http.StatusTeapot) {
		t.Errorf("status = %v, want 418", entry["status"])
	}
	if entry["request_id"] != rec.Header().Get("X-Request-ID") {
		t.Errorf("request_id = %v, want %q", entry["request_id"], rec.Header().Get("X-Request-ID"))
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusBadRequest, "bad")

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["error"] != "bad" {
		t.Errorf("error = %q, want bad", body["error"])
	}
}
