package api

import (
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	chi "github.com/go-chi/chi/v5"

	"github.com/chatdochq/chatdoc/internal/chat"
	"github.com/chatdochq/chatdoc/internal/common"
	"github.com/chatdochq/chatdoc/internal/docs"
	"github.com/chatdochq/chatdoc/internal/history"
	"github.com/chatdochq/chatdoc/internal/index"
	"github.com/chatdochq/chatdoc/internal/ingest"
	"github.com/chatdochq/chatdoc/internal/vector"
)

type Server struct {
	router     chi.Router
	manager    *index.Manager
	loader     *ingest.Loader
	bot        *chat.Bot
	history    *history.Store
	vector     vector.Store
	uploadRoot string
}

// Config controls server-local behavior; everything else arrives as wired
// dependencies.
type Config struct {
	UploadRoot string
}

func DefaultConfig() Config {
	return Config{UploadRoot: filepath.Join(os.TempDir(), "chatdoc_uploads")}
}

func (c Config) Merge(override Config) Config {
	result := c
	if strings.TrimSpace(override.UploadRoot) != "" {
		result.UploadRoot = strings.TrimSpace(override.UploadRoot)
	}
	return result
}

func NewServer(manager *index.Manager, loader *ingest.Loader, bot *chat.Bot, hist *history.Store, store vector.Store, cfg *Config) (*Server, error) {
	if manager == nil {
		return nil, fmt.Errorf("index manager required")
	}
	if bot == nil {
		return nil, fmt.Errorf("chat bot required")
	}
	configuration := DefaultConfig()
	if cfg != nil {
		configuration = configuration.Merge(*cfg)
	}
	if err := os.MkdirAll(configuration.UploadRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create upload root: %w", err)
	}
	srv := &Server{
		router:     chi.NewRouter(),
		manager:    manager,
		loader:     loader,
		bot:        bot,
		history:    hist,
		vector:     store,
		uploadRoot: configuration.UploadRoot,
	}
	srv.routes()
	common.Logger().Info("api: server ready", "upload_root", configuration.UploadRoot)
	return srv, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Post("/v1/documents", s.handleDocumentUpload)
	s.router.Get("/v1/documents", s.handleDocumentList)
	s.router.Delete("/v1/documents", s.handleDocumentDelete)
	s.router.Post("/v1/chat", s.handleChat)
	s.router.Get("/v1/retriever/config", s.handleRetrieverConfigGet)
	s.router.Put("/v1/retriever/config", s.handleRetrieverConfigPut)
	s.router.Delete("/v1/session", s.handleSessionDelete)
	s.router.Get("/v1/logs", s.handleLogs)
	s.router.Handle("/debug/vars", expvar.Handler())
}

// sessionFrom resolves the caller's session id from the X-Session-ID header,
// falling back to a session_id form value or query parameter.
func sessionFrom(r *http.Request) string {
	if session := strings.TrimSpace(r.Header.Get("X-Session-ID")); session != "" {
		return session
	}
	if session := strings.TrimSpace(r.FormValue("session_id")); session != "" {
		return session
	}
	return strings.TrimSpace(r.URL.Query().Get("session_id"))
}

// statusForError maps the domain error taxonomy to HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, docs.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, docs.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	logger := common.Logger()
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "status", status, "error", err)
	} else {
		logger.Warn("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
