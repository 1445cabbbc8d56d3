package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestRequestIDPropagatesHeader(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if seen != "req-42" || rr.Header().Get(RequestIDHeader) != "req-42" {
		t.Fatalf("request id = %q, header = %q", seen, rr.Header().Get(RequestIDHeader))
	}
}

func TestRequestIDReplacesUnsafeValues(t *testing.T) {
	for _, incoming := range []string{"", "has space", "bad\nline", strings.Repeat("x", 200)} {
		var seen string
		h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = RequestIDFromContext(r.Context())
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if incoming != "" {
			req.Header[RequestIDHeader] = []string{incoming}
		}
		h.ServeHTTP(httptest.NewRecorder(), req)
		if seen == "" || seen == incoming {
			t.Fatalf("incoming %q produced request id %q", incoming, seen)
		}
	}
}

func TestLoggerRecordsStatusAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	h := RequestID(Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("missing"))
	})))

	req := httptest.NewRequest(http.MethodGet, "/generated/x.png", nil)
	req.Header.Set(RequestIDHeader, "abc")
	h.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if line["level"] != "warn" || line["status"] != float64(404) || line["bytes"] != float64(7) {
		t.Fatalf("unexpected log line: %v", line)
	}
	if line["request_id"] != "abc" || line["path"] != "/generated/x.png" {
		t.Fatalf("unexpected log line: %v", line)
	}
}
