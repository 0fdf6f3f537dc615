package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cwygoda/skim/internal/domain"
)

type stubSummarizer struct {
	summary string
	err     error
	got     string
}

func (s *stubSummarizer) Summarize(ctx context.Context, text string, progress domain.ProgressFunc) (string, error) {
	s.got = text
	return s.summary, s.err
}

func postSummarize(srv *EngineServer, body, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/summarize", bytes.NewBufferString(body))
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestEngineServer_Summarize(t *testing.T) {
	stub := &stubSummarizer{summary: "Short."}
	srv := NewEngineServer(stub, ":4000", "", nil)

	rec := postSummarize(srv, `{"text":"long article"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp engineResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Summary != "Short." {
		t.Errorf("summary = %q", resp.Summary)
	}
	if stub.got != "long article" {
		t.Errorf("engine got %q", stub.got)
	}
}

func TestEngineServer_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		body   string
		key    string
		status int
	}{
		{"missing text", nil, `{"text":"  "}`, "k", http.StatusBadRequest},
		{"invalid json", nil, `nope`, "k", http.StatusBadRequest},
		{"wrong key", nil, `{"text":"x"}`, "wrong", http.StatusUnauthorized},
		{"missing key", nil, `{"text":"x"}`, "", http.StatusUnauthorized},
		{"key prefix", nil, `{"text":"x"}`, "k2", http.StatusUnauthorized},
		{"busy", domain.ErrEngineBusy, `{"text":"x"}`, "k", http.StatusServiceUnavailable},
		{"timeout", fmt.Errorf("%w: killed", domain.ErrTimeout), `{"text":"x"}`, "k", http.StatusGatewayTimeout},
		{"inference", fmt.Errorf("%w: exit 1", domain.ErrInference), `{"text":"x"}`, "k", http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewEngineServer(&stubSummarizer{summary: "s", err: tt.err}, ":4000", "k", nil)
			rec := postSummarize(srv, tt.body, tt.key)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body)
			}
		})
	}
}

func TestEngineServer_Health(t *testing.T) {
	srv := NewEngineServer(&stubSummarizer{}, ":4000", "", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}
