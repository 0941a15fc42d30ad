package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/teemow/inboxagent/internal/instrumentation"
	"github.com/teemow/inboxagent/internal/logging"
	"github.com/teemow/inboxagent/internal/oauthflow"
	"github.com/teemow/inboxagent/internal/respond"
	"github.com/teemow/inboxagent/internal/tokens"
)

const (
	maxChatBodyBytes = 64 << 10

	defaultReadHeaderTimeout = 10 * time.Second
	defaultWriteTimeout      = 60 * time.Second
	defaultIdleTimeout       = 120 * time.Second
)

// ChatHandler answers chat requests.
type ChatHandler interface {
	Handle(ctx context.Context, userID, text string) (string, respond.Outcome)
}

// AuthFlow runs the authorization redirect sequence.
type AuthFlow interface {
	InitiateFromLink(ctx context.Context, token, userID string, service tokens.Service) (string, error)
	Callback(ctx context.Context, code, state string) (*oauthflow.Result, error)
}

// Config wires a Server.
type Config struct {
	// BaseURL is the public origin of the server.
	BaseURL string
	Chat    ChatHandler
	Flow    AuthFlow
	Health  *HealthChecker
	// MCP is mounted at /mcp when set.
	MCP        http.Handler
	RateLimit  int
	RateBurst  int
	TrustProxy bool
	Metrics    *instrumentation.Metrics
	Logger     *slog.Logger
}

// Server is the public HTTP surface.
type Server struct {
	cfg     Config
	limiter *RateLimiter
	health  *HealthChecker
	logger  *slog.Logger
	handler http.Handler

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// New validates cfg and builds the route table.
func New(cfg Config) (*Server, error) {
	if err := validateHTTPSRequirement(cfg.BaseURL); err != nil {
		return nil, err
	}
	if cfg.Chat == nil {
		return nil, fmt.Errorf("chat handler is required")
	}
	if cfg.Flow == nil {
		return nil, fmt.Errorf("auth flow is required")
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = DefaultRateBurst
	}
	health := cfg.Health
	if health == nil {
		health = NewHealthChecker()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:     cfg,
		limiter: NewRateLimiter(cfg.RateLimit, cfg.RateBurst, cfg.TrustProxy),
		health:  health,
		logger:  logging.WithOperation(logger, "http"),
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /chat", s.limiter.Middleware(http.HandlerFunc(s.handleChat)))
	mux.Handle("GET /auth-web", s.limiter.Middleware(http.HandlerFunc(s.handleAuthWeb)))
	mux.Handle("GET /auth/callback", s.limiter.Middleware(http.HandlerFunc(s.handleCallback)))
	if s.cfg.MCP != nil {
		mux.Handle("/mcp", s.limiter.Middleware(s.cfg.MCP))
	}
	s.health.RegisterHealthEndpoints(mux)

	return otelhttp.NewHandler(s.instrument(mux), "http.server",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + routeLabel(r.URL.Path)
		}))
}

// Start listens on addr and serves until Shutdown. It blocks.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		WriteTimeout:      defaultWriteTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}

	s.mu.Lock()
	s.httpServer = srv
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("Starting HTTP server", "addr", ln.Addr().String(), "base_url", s.cfg.BaseURL)
	return srv.Serve(ln)
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown fails readiness and drains connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.MarkShuttingDown()
	s.limiter.Stop()

	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

type chatRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

type chatResponse struct {
	Response  string `json:"response"`
	TaskType  string `json:"task_type"`
	UserID    string `json:"user_id"`
	RequestID string `json:"request_id"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	w.Header().Set("X-Request-Id", requestID)

	var req chatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Request body must be JSON with a message field.")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSONError(w, http.StatusBadRequest, "Message must not be empty.")
		return
	}
	if req.UserID == "" {
		req.UserID = uuid.NewString()
	}

	reply, outcome := s.cfg.Chat.Handle(r.Context(), req.UserID, req.Message)

	s.logger.Info("Chat request handled",
		logging.RequestID(requestID),
		logging.UserHash(req.UserID),
		logging.TaskType(string(outcome.TaskType)),
		slog.Bool("success", outcome.Success))

	writeJSON(w, http.StatusOK, chatResponse{
		Response:  reply,
		TaskType:  string(outcome.TaskType),
		UserID:    req.UserID,
		RequestID: requestID,
	})
}

func (s *Server) handleAuthWeb(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token, userID := q.Get("token"), q.Get("user_id")
	if token == "" || userID == "" {
		s.writePage(w, http.StatusBadRequest, authPage{
			Title:   "Link incomplete",
			Message: "This authentication link is missing information. Ask the assistant to connect again.",
		})
		return
	}

	service, ok := tokens.ParseService(q.Get("service"))
	if !ok {
		service = tokens.ServiceGoogle
	}

	redirect, err := s.cfg.Flow.InitiateFromLink(r.Context(), token, userID, service)
	if err != nil {
		s.logger.Warn("Failed to start authorization", logging.UserHash(userID), logging.Err(err))
		s.writePage(w, oauthflow.StatusCode(err), authPage{Title: "Something went wrong", Message: respond.UserMessage(err)})
		return
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := q.Get("code")
	if q.Get("error") != "" {
		code = ""
	}

	res, err := s.cfg.Flow.Callback(r.Context(), code, q.Get("state"))
	if err != nil {
		s.writePage(w, oauthflow.StatusCode(err), authPage{
			Title:   "Authorization failed",
			Message: respond.UserMessage(err),
		})
		return
	}

	s.writePage(w, http.StatusOK, authPage{
		Title:   res.Service.DisplayName() + " connected",
		Message: "You're all set. You can close this window and go back to the chat.",
	})
}

type authPage struct {
	Title   string
	Message string
}

var authPageTemplate = template.Must(template.New("auth").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
</body>
</html>
`))

func (s *Server) writePage(w http.ResponseWriter, status int, page authPage) {
	s.setSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := authPageTemplate.Execute(w, page); err != nil {
		s.logger.Error("Failed to render auth page", logging.Err(err))
	}
}

func (s *Server) setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	if strings.HasPrefix(s.cfg.BaseURL, "https://") {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}
}

// instrument records request metrics. Paths are reduced to the registered
// routes to keep label cardinality bounded.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.cfg.Metrics.RecordHTTPRequest(r.Context(), r.Method, routeLabel(r.URL.Path), rec.status, time.Since(start))
	})
}

var knownRoutes = []string{"/chat", "/auth-web", "/auth/callback", "/mcp", "/healthz", "/readyz", "/healthz/detailed"}

func routeLabel(path string) string {
	for _, r := range knownRoutes {
		if path == r {
			return r
		}
	}
	return instrumentation.LabelOther
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// validateHTTPSRequirement allows plain HTTP only for loopback hosts.
func validateHTTPSRequirement(baseURL string) error {
	if baseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}

	switch u.Scheme {
	case "https":
		return nil
	case "http":
		host := u.Hostname()
		if host == "localhost" || host == "127.0.0.1" || host == "::1" {
			return nil
		}
		return fmt.Errorf("auth links require HTTPS outside localhost (got: %s)", baseURL)
	default:
		return errors.New("invalid URL scheme: must be http (localhost only) or https")
	}
}
