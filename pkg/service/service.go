// Package service is the evaluation front-end: an Agent Protocol server
// that advertises the harness tools on its agent card and drives them from
// an LLM controller. Clients talk JSON-RPC 2.0 to POST / with method
// message/send; conversations are threaded by the contextId the server
// issues on first contact.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wuTims/tau2-bench-agent/pkg/a2a"
	"github.com/wuTims/tau2-bench-agent/pkg/auth"
	"github.com/wuTims/tau2-bench-agent/pkg/config"
	"github.com/wuTims/tau2-bench-agent/pkg/domains"
	"github.com/wuTims/tau2-bench-agent/pkg/llms"
	"github.com/wuTims/tau2-bench-agent/pkg/observability"
	"github.com/wuTims/tau2-bench-agent/pkg/session"
	"github.com/wuTims/tau2-bench-agent/pkg/store"
	"github.com/wuTims/tau2-bench-agent/pkg/tools"
)

// Version is published on the agent card.
const Version = "0.1.0"

// Server is the evaluation service front-end.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	store      store.Store
	sessions   session.Service
	provider   llms.Provider
	tools      *tools.Registry
	controller *controller

	obs       *observability.Manager
	validator auth.TokenValidator
	run       tools.RunFunc

	card   *a2a.AgentCard
	server *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithObservability installs the metrics and tracing manager.
func WithObservability(obs *observability.Manager) Option {
	return func(s *Server) {
		s.obs = obs
	}
}

// WithAuthValidator enables bearer authentication on the RPC endpoint.
func WithAuthValidator(validator auth.TokenValidator) Option {
	return func(s *Server) {
		s.validator = validator
	}
}

// WithProvider substitutes the controller's LLM provider, mainly for tests.
func WithProvider(provider llms.Provider) Option {
	return func(s *Server) {
		s.provider = provider
	}
}

// WithSessionService substitutes the session backend.
func WithSessionService(sessions session.Service) Option {
	return func(s *Server) {
		s.sessions = sessions
	}
}

// WithStore substitutes the results store.
func WithStore(st store.Store) Option {
	return func(s *Server) {
		s.store = st
	}
}

// WithRunFunc substitutes the evaluation runner behind run_evaluation,
// mainly for tests.
func WithRunFunc(run tools.RunFunc) Option {
	return func(s *Server) {
		s.run = run
	}
}

// New builds the service from processed configuration. Backends that are
// not injected through options are constructed from their config sections.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	s := &Server{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.store == nil {
		st, err := openStore(cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("failed to open results store: %w", err)
		}
		s.store = st
	}

	if s.sessions == nil {
		sessions, err := openSessions(cfg.Session)
		if err != nil {
			return nil, fmt.Errorf("failed to open session service: %w", err)
		}
		s.sessions = sessions
	}

	if s.provider == nil {
		provider, err := llms.New(controllerLLMConfig(cfg.LLM))
		if err != nil {
			return nil, fmt.Errorf("failed to create controller LLM: %w", err)
		}
		s.provider = provider
	}

	reg, err := tools.NewRegistry(tools.Deps{
		Domains:   domains.NewRegistry(),
		Store:     s.store,
		Run:       s.run,
		AuthToken: cfg.Client.AuthToken,
		Logger:    s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build tool registry: %w", err)
	}
	s.tools = reg

	s.controller = newController(s.provider, s.tools, s.sessions, s.obs, s.logger)
	s.card = s.buildCard()

	return s, nil
}

// openStore builds the results store named by config.
func openStore(cfg config.StoreConfig) (store.Store, error) {
	if cfg.Backend == config.BackendSQL {
		return store.OpenSQLStore(cfg.Database)
	}
	return store.NewMemoryStore(), nil
}

// openSessions builds the session backend named by config.
func openSessions(cfg config.SessionConfig) (session.Service, error) {
	if cfg.Backend == config.BackendSQL {
		return session.OpenSQLService(cfg.Database)
	}
	return session.NewMemoryService(), nil
}

// controllerLLMConfig maps the config section onto the provider config.
// An empty section selects the Gemini default the controller shipped with.
func controllerLLMConfig(cfg config.LLMConfig) llms.Config {
	out := llms.Config{
		Provider:    cfg.Provider,
		Model:       cfg.Model,
		APIKey:      cfg.APIKey,
		Host:        cfg.Host,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.TimeoutSeconds,
		MaxRetries:  cfg.MaxRetries,
		RetryDelay:  cfg.RetryDelaySeconds,
	}
	if out.Provider == "" && out.Model == "" {
		out.Provider = llms.ProviderGemini
	}
	return out
}

// buildCard assembles the discovery document. One skill per tool.
func (s *Server) buildCard() *a2a.AgentCard {
	infos := tools.Infos(s.tools)
	skills := make([]a2a.AgentSkill, 0, len(infos))
	for _, info := range infos {
		skills = append(skills, a2a.AgentSkill{
			ID:          info.Name,
			Name:        info.Name,
			Description: info.Description,
			Tags:        []string{"evaluation"},
		})
	}

	card := &a2a.AgentCard{
		Name:        s.cfg.Name,
		Description: s.cfg.Description,
		URL:         "http://" + s.cfg.Server.Address(),
		Version:     Version,
		Capabilities: a2a.AgentCapabilities{
			Streaming:         false,
			PushNotifications: false,
		},
		Skills:             skills,
		DefaultInputModes:  []string{"text/plain"},
		DefaultOutputModes: []string{"text/plain"},
	}

	if s.cfg.Auth.IsEnabled() {
		card.SecuritySchemes = map[string]a2a.SecurityScheme{
			"BearerAuth": {Type: "http", Scheme: "bearer", BearerFormat: "JWT"},
		}
		card.Security = []map[string][]string{{"BearerAuth": {}}}
	}

	return card
}

// Handler assembles the routed handler with the full middleware chain:
// observability outermost, then logging, CORS, and auth.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(observability.Middleware(s.obs))
	r.Use(s.loggingMiddleware)
	r.Use(s.corsMiddleware)

	if s.validator != nil {
		excluded := s.cfg.Auth.ExcludedPaths
		if s.obs.MetricsEnabled() {
			excluded = append(excluded, "/metrics")
		}
		r.Use(auth.Middleware(s.validator, excluded))
		s.logger.Info("Authentication enabled", "excluded_paths", excluded)
	}

	r.Get("/health", s.handleHealth)
	r.Get(a2a.AgentCardPath, s.handleAgentCard)
	r.Post("/", s.handleJSONRPC)

	if s.obs.MetricsEnabled() {
		r.Handle("/metrics", s.obs.MetricsHandler())
		s.logger.Info("Metrics endpoint enabled", "path", "/metrics")
	}

	return r
}

// Start runs the server until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Address(),
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	s.logger.Info("Evaluation service starting",
		"address", s.cfg.Server.Address(),
		"agent", s.cfg.Name,
		"model", s.provider.GetModelName())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown drains in-flight requests within the configured grace period and
// closes the backing services.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.Server.ShutdownGrace)
	defer cancel()

	var errs []error
	if s.server != nil {
		s.logger.Info("Evaluation service shutting down")
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}

	if err := s.sessions.Close(); err != nil {
		errs = append(errs, fmt.Errorf("session close: %w", err))
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}
	if err := s.provider.Close(); err != nil {
		errs = append(errs, fmt.Errorf("provider close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.cfg.Server.Address()
}

// Card returns the agent card the service publishes.
func (s *Server) Card() *a2a.AgentCard {
	return s.card
}

// ============================================================================
// HANDLERS
// ============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.card)
}

// rpcRequest is the inbound JSON-RPC envelope. IDs are echoed untyped
// because clients may send strings or numbers.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, nil, a2a.CodeParseError, "failed to read request body")
		return
	}

	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, nil, a2a.CodeParseError, "invalid JSON")
		return
	}

	if req.JSONRPC != "2.0" {
		s.writeError(w, req.ID, a2a.CodeInvalidRequest, "invalid JSON-RPC version")
		return
	}

	if req.Method != a2a.MethodMessageSend {
		s.writeError(w, req.ID, a2a.CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
		return
	}

	var params a2a.MessageSendParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.writeError(w, req.ID, a2a.CodeInvalidParams, "invalid params: "+err.Error())
		return
	}
	if len(params.Message.Parts) == 0 {
		s.writeError(w, req.ID, a2a.CodeInvalidParams, "message has no parts")
		return
	}

	reply, err := s.controller.handleMessage(r.Context(), &params.Message)
	if err != nil {
		s.logger.Error("Message handling failed",
			"context_id", params.Message.ContextID,
			"error", err)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			s.writeError(w, req.ID, a2a.CodeInternalError, "request cancelled")
			return
		}
		s.writeError(w, req.ID, a2a.CodeInternalError, err.Error())
		return
	}

	s.writeResult(w, req.ID, reply)
}

func (s *Server) writeResult(w http.ResponseWriter, id any, result any) {
	raw, err := json.Marshal(result)
	if err != nil {
		s.writeError(w, id, a2a.CodeInternalError, "failed to encode result")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(a2a.Response{
		JSONRPC: "2.0",
		ID:      id,
		Result:  raw,
	})
}

func (s *Server) writeError(w http.ResponseWriter, id any, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(a2a.Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &a2a.RPCError{Code: code, Message: message},
	})
}

// ============================================================================
// MIDDLEWARE
// ============================================================================

// corsMiddleware applies the configured CORS policy. Preflight requests are
// answered here and never reach auth or the RPC handler.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	cors := s.cfg.Server.CORS
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && cors != nil {
			for _, allowed := range cors.AllowedOrigins {
				if allowed == "*" || allowed == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		if cors != nil {
			w.Header().Set("Access-Control-Allow-Methods", joinHeader(cors.AllowedMethods))
			w.Header().Set("Access-Control-Allow-Headers", joinHeader(cors.AllowedHeaders))
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func joinHeader(values []string) string {
	out := ""
	for i, v := range values {
		if i > 0 {
			out += ", "
		}
		out += v
	}
	return out
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}
