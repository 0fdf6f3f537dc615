package http

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cwygoda/skim/internal/domain"
)

// EngineServer exposes a Summarizer over HTTP for remote backends.
type EngineServer struct {
	summarizer domain.Summarizer
	apiKey     string
	mux        *http.ServeMux
	server     *http.Server
	logger     *slog.Logger
}

// NewEngineServer creates the POST /summarize server. A non-empty apiKey
// must be presented as a bearer token.
func NewEngineServer(summarizer domain.Summarizer, addr, apiKey string, logger *slog.Logger) *EngineServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &EngineServer{
		summarizer: summarizer,
		apiKey:     apiKey,
		mux:        http.NewServeMux(),
		logger:     logger,
	}
	s.mux.HandleFunc("POST /summarize", s.handleSummarize)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

type engineRequest struct {
	Text string `json:"text"`
}

type engineResponse struct {
	Summary string `json:"summary"`
}

func (s *EngineServer) handleSummarize(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeEngineError(w, http.StatusUnauthorized, "invalid api key")
		return
	}

	var req engineRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := decodeJSON(r, &req); err != nil {
		writeEngineError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeEngineError(w, http.StatusBadRequest, "text is required")
		return
	}

	start := time.Now()
	summary, err := s.summarizer.Summarize(r.Context(), req.Text, nil)
	if err != nil {
		s.logger.Error("summarize failed", "error", err, "duration", time.Since(start))
		writeEngineError(w, statusFor(err), err.Error())
		return
	}
	s.logger.Info("summarized", "chars", len(req.Text), "duration", time.Since(start))
	writeJSON(w, http.StatusOK, engineResponse{Summary: summary})
}

func (s *EngineServer) authorized(r *http.Request) bool {
	if s.apiKey == "" {
		return true
	}
	got := []byte(r.Header.Get("Authorization"))
	want := []byte("Bearer " + s.apiKey)
	return subtle.ConstantTimeCompare(got, want) == 1
}

func (s *EngineServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeEngineError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// ListenAndServe starts the engine server.
func (s *EngineServer) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the engine server.
func (s *EngineServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing.
func (s *EngineServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
