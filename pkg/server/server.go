// Package server exposes skill loading and activation over HTTP so a host
// agent can fetch the skills relevant to a task without linking the loader.
// Every request performs a fresh load of the workspace.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillet/pkg/logger"
	"github.com/jingkaihe/skillet/pkg/presenter"
	"github.com/jingkaihe/skillet/pkg/skills"
	"github.com/jingkaihe/skillet/pkg/version"
)

// CatalogueLoader loads the skill catalogue of a workspace
type CatalogueLoader interface {
	Load(ctx context.Context, workspaceDir string) (*skills.Catalogue, error)
}

// Server represents the skills HTTP server
type Server struct {
	router *mux.Router
	loader CatalogueLoader
	config *Config
	server *http.Server
}

// Config holds the configuration for the server
type Config struct {
	Host      string
	Port      int
	Workspace string
}

// Validate validates the server configuration
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		return errors.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.Workspace == "" {
		return errors.New("workspace cannot be empty")
	}
	return nil
}

// New creates a server answering from catalogues produced by loader
func New(config *Config, loader CatalogueLoader) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid server configuration")
	}
	if loader == nil {
		return nil, errors.New("catalogue loader is required")
	}

	s := &Server{
		router: mux.NewRouter(),
		loader: loader,
		config: config,
	}
	s.setupRoutes()

	return s, nil
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	// OPTIONS is routed so preflight requests reach the CORS middleware
	api.HandleFunc("/skills", s.handleListSkills).Methods("GET", "OPTIONS")
	api.HandleFunc("/skills/{name}", s.handleGetSkill).Methods("GET", "OPTIONS")
	api.HandleFunc("/activate", s.handleActivate).Methods("POST", "OPTIONS")

	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		logger.G(r.Context()).WithFields(map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rw.statusCode,
			"duration":    time.Since(start),
			"remote_addr": r.RemoteAddr,
		}).Info("HTTP request")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// responseWriter captures the status code for request logs
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// SkillSummary describes a skill without its content
type SkillSummary struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Triggers    []string `json:"triggers,omitempty"`
	Path        string   `json:"path"`
}

// ListSkillsResponse is the body of GET /api/skills
type ListSkillsResponse struct {
	Skills   []SkillSummary `json:"skills"`
	Warnings []string       `json:"warnings,omitempty"`
}

// SkillResponse is a skill including its content
type SkillResponse struct {
	SkillSummary
	Content string `json:"content"`
}

// ActivateRequest is the body of POST /api/activate
type ActivateRequest struct {
	Context string `json:"context"`
}

// ActivateResponse lists the skills to inject for the requested context
type ActivateResponse struct {
	Skills   []SkillResponse `json:"skills"`
	Warnings []string        `json:"warnings,omitempty"`
}

func summarize(skill *skills.Skill) SkillSummary {
	return SkillSummary{
		Name:        skill.Name,
		Type:        skill.Type(),
		Description: skill.Description,
		Triggers:    skill.Triggers,
		Path:        skill.Path,
	}
}

func warningMessages(catalogue *skills.Catalogue) []string {
	var out []string
	for _, w := range catalogue.Warnings() {
		out = append(out, w.Error())
	}
	return out
}

// handleListSkills handles GET /api/skills
func (s *Server) handleListSkills(w http.ResponseWriter, r *http.Request) {
	catalogue, ok := s.load(w, r)
	if !ok {
		return
	}

	response := ListSkillsResponse{
		Skills:   make([]SkillSummary, 0, catalogue.Len()),
		Warnings: warningMessages(catalogue),
	}
	for _, skill := range catalogue.Skills() {
		response.Skills = append(response.Skills, summarize(skill))
	}

	s.writeJSONResponse(w, response)
}

// handleGetSkill handles GET /api/skills/{name}
func (s *Server) handleGetSkill(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	catalogue, ok := s.load(w, r)
	if !ok {
		return
	}

	skill, found := catalogue.Get(name)
	if !found {
		s.writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("skill %q not found", name), nil)
		return
	}

	s.writeJSONResponse(w, SkillResponse{SkillSummary: summarize(skill), Content: skill.Content})
}

// handleActivate handles POST /api/activate
func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	// an empty body activates against an empty context
	var req ActivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	catalogue, ok := s.load(w, r)
	if !ok {
		return
	}

	active := catalogue.Activate(req.Context)
	response := ActivateResponse{
		Skills:   make([]SkillResponse, 0, len(active)),
		Warnings: warningMessages(catalogue),
	}
	for _, skill := range active {
		response.Skills = append(response.Skills, SkillResponse{SkillSummary: summarize(skill), Content: skill.Content})
	}

	s.writeJSONResponse(w, response)
}

// handleHealth handles GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSONResponse(w, map[string]any{
		"status":  "ok",
		"version": version.Get().Version,
	})
}

// load runs a fresh load, writing the error response itself on failure
func (s *Server) load(w http.ResponseWriter, r *http.Request) (*skills.Catalogue, bool) {
	catalogue, err := s.loader.Load(r.Context(), s.config.Workspace)
	if err != nil {
		s.writeErrorResponse(w, http.StatusServiceUnavailable, "failed to load skills", err)
		return nil, false
	}
	return catalogue, true
}

func (s *Server) writeJSONResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.G(context.TODO()).WithError(err).Error("failed to encode JSON response")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, message string, err error) {
	if err != nil {
		logger.G(context.TODO()).WithError(err).Error(message)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := map[string]any{
		"error":   message,
		"status":  statusCode,
		"success": false,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.G(context.TODO()).WithError(err).Error("failed to encode error response")
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:              address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	presenter.Info(fmt.Sprintf("Serving skills for %s on http://%s", s.config.Workspace, address))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "skills server failed")
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// Stop closes the server immediately
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}
