package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/cors"

	"github.com/cwygoda/skim/internal/auth"
	"github.com/cwygoda/skim/internal/domain"
	"github.com/cwygoda/skim/internal/worker"
)

const maxBodyBytes = 5 << 20

// Submitter accepts jobs and reports processor state.
type Submitter interface {
	Submit(ctx context.Context, req worker.SubmitRequest) (worker.SubmitResult, error)
	Status() worker.Status
}

// Authenticator handles accounts and bearer tokens.
type Authenticator interface {
	Register(ctx context.Context, username, password string) (*domain.User, error)
	Login(ctx context.Context, username, password string) (*auth.Session, error)
	Verify(token string) (int64, error)
}

// Deps are the collaborators of the HTTP adapter. Live and StaticDir are optional.
type Deps struct {
	Jobs  Submitter
	Items domain.ItemRepository
	Users domain.UserRepository
	Auth  Authenticator
	// Live serves the websocket channel on GET /ws.
	Live http.Handler
	// StaticDir holds the dashboard build served for unmatched GETs.
	StaticDir      string
	AllowedOrigins []string
	Logger         *slog.Logger
}

// Server is the HTTP adapter for submissions, history and accounts.
type Server struct {
	deps    Deps
	mux     *http.ServeMux
	handler http.Handler
	server  *http.Server
	logger  *slog.Logger
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, addr string) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		deps:   deps,
		mux:    http.NewServeMux(),
		logger: logger,
	}
	s.routes()

	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.handler = cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}).Handler(s.mux)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /jobs", s.requireAuth(s.handleSubmit))
	s.mux.HandleFunc("POST /api/process-url", s.requireAuth(s.handleSubmit))
	s.mux.HandleFunc("GET /users/{userId}/items", s.requireAuth(s.handleHistory))
	s.mux.HandleFunc("GET /api/users/{userId}/items", s.requireAuth(s.handleHistory))

	s.mux.HandleFunc("POST /api/users/register", s.handleRegister)
	s.mux.HandleFunc("POST /api/users/login", s.handleLogin)
	s.mux.HandleFunc("GET /api/users", s.requireAuth(s.handleListUsers))

	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if s.deps.Live != nil {
		s.mux.Handle("GET /ws", s.deps.Live)
	}
	if s.deps.StaticDir != "" {
		s.mux.Handle("GET /", spaHandler{dir: s.deps.StaticDir})
	}
}

// submitRequest is the request body for POST /jobs.
type submitRequest struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Text  string `json:"text"`
	HTML  string `json:"html,omitempty"`
}

type submitResponse struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
	Message  string `json:"message"`
}

type itemResponse struct {
	ID                  int64  `json:"id"`
	URL                 string `json:"url"`
	Title               string `json:"title"`
	OriginalTextSnippet string `json:"original_text_snippet"`
	ExtractedSummary    string `json:"extracted_summary"`
	Language            string `json:"language,omitempty"`
	CreatedAt           string `json:"created_at"`
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token    string `json:"token"`
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

type userResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type statusResponse struct {
	IsProcessing bool   `json:"isProcessing"`
	QueueLength  int    `json:"queueLength"`
	InFlight     string `json:"inFlight,omitempty"`
}

// errorResponse is the JSON error response.
type errorResponse struct {
	Error string `json:"error"`
}

type authedHandler func(w http.ResponseWriter, r *http.Request, userID int64)

func (s *Server) requireAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.deps.Auth.Verify(auth.BearerToken(r.Header.Get("Authorization")))
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, "missing or invalid token")
			return
		}
		next(w, r, userID)
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request, userID int64) {
	var req submitRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.deps.Jobs.Submit(r.Context(), worker.SubmitRequest{
		UserID: userID,
		URL:    req.URL,
		Title:  req.Title,
		Text:   req.Text,
		HTML:   req.HTML,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	resp := submitResponse{Accepted: res.Accepted, Reason: res.Reason, Message: "URL accepted for processing."}
	if !res.Accepted {
		resp.Message = "URL is already in the queue."
	}
	s.writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, callerID int64) {
	userID, err := strconv.ParseInt(r.PathValue("userId"), 10, 64)
	if err != nil || userID <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid user ID")
		return
	}
	if userID != callerID {
		s.writeError(w, http.StatusForbidden, "history belongs to another user")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}

	items, err := s.deps.Items.ListItems(r.Context(), userID, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	resp := make([]itemResponse, 0, len(items))
	for _, it := range items {
		resp = append(resp, itemToResponse(it))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !s.decode(w, r, &req) {
		return
	}

	user, err := s.deps.Auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.logger.Info("user registered", "user_id", user.ID, "username", user.Username)
	s.writeJSON(w, http.StatusCreated, userResponse{ID: user.ID, Username: user.Username})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !s.decode(w, r, &req) {
		return
	}

	session, err := s.deps.Auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			err = domain.ErrInvalidCredentials
		}
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, loginResponse{
		Token:    session.Token,
		UserID:   session.UserID,
		Username: session.Username,
		Message:  "Login successful",
	})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request, _ int64) {
	users, err := s.deps.Users.ListUsers(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	resp := make([]userResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, userResponse{ID: u.ID, Username: u.Username})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.deps.Jobs.Status()
	resp := statusResponse{IsProcessing: st.Processing, QueueLength: st.QueueLength}
	if st.InFlight != nil {
		resp.InFlight = st.InFlight.URL
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := decodeJSON(r, v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	writeJSON(w, status, v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		s.writeError(w, status, "internal error")
		return
	}
	s.writeError(w, status, err.Error())
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUserExists), errors.Is(err, domain.ErrDuplicateJob):
		return http.StatusConflict
	case errors.Is(err, domain.ErrEngineBusy):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrInference):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func itemToResponse(it domain.SavedItem) itemResponse {
	return itemResponse{
		ID:                  it.ID,
		URL:                 it.URL,
		Title:               it.Title,
		OriginalTextSnippet: it.OriginalTextSnippet,
		ExtractedSummary:    it.ExtractedSummary,
		Language:            it.Language,
		CreatedAt:           it.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// spaHandler serves files from dir and falls back to index.html so client
// side routes resolve.
type spaHandler struct {
	dir string
}

func (h spaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		http.NotFound(w, r)
		return
	}
	path := filepath.Join(h.dir, filepath.FromSlash(filepath.Clean("/"+r.URL.Path)))
	if serveFile(w, r, path) {
		return
	}
	if !serveFile(w, r, filepath.Join(h.dir, "index.html")) {
		http.NotFound(w, r)
	}
}

// serveFile writes the regular file at path, without the /index.html
// redirect of http.ServeFile.
func serveFile(w http.ResponseWriter, r *http.Request, path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		return false
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	return true
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Port extracts the port from the address.
func (s *Server) Port() int {
	addr := s.server.Addr
	if idx := strings.LastIndex(addr, ":"); idx >= 0 {
		port, _ := strconv.Atoi(addr[idx+1:])
		return port
	}
	return 0
}
