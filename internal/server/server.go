package server

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/GMKrieger/client-server-merkle/internal/config"
	"github.com/GMKrieger/client-server-merkle/internal/logging"
	"github.com/GMKrieger/client-server-merkle/internal/service"
	"github.com/GMKrieger/client-server-merkle/pkg/cose"
	"github.com/GMKrieger/client-server-merkle/pkg/filename"
)

//go:embed openapi.yaml
var openapiSpec string

// multipartOverhead is allowed on top of the aggregate size limit for part headers and boundaries
const multipartOverhead = 1 << 20

// Server represents the HTTP server
type Server struct {
	config      *config.Config
	service     *service.FileService
	ownsService bool
	logger      *slog.Logger
	mux         *http.ServeMux
}

// NewServer creates the file service described by cfg, restores its last
// commit and registers the HTTP routes
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	svc, err := service.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create file service: %w", err)
	}

	if err := svc.Load(ctx); err != nil {
		svc.Close()
		return nil, fmt.Errorf("failed to restore commit: %w", err)
	}

	server := NewWithService(cfg, svc, logger)
	server.ownsService = true
	return server, nil
}

// NewWithService serves an existing file service
func NewWithService(cfg *config.Config, svc *service.FileService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}

	server := &Server{
		config:  cfg,
		service: svc,
		logger:  logger,
		mux:     http.NewServeMux(),
	}
	server.registerRoutes()
	return server
}

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	// API Documentation
	s.mux.HandleFunc("/", s.handleSwaggerUI)
	s.mux.HandleFunc("/openapi.json", s.handleOpenAPISpec)

	s.mux.HandleFunc("/.well-known/merkle-keys", s.handleKeys)

	s.mux.HandleFunc("/upload", s.handleUpload)
	s.mux.HandleFunc("/file/", s.handleFile)
	s.mux.HandleFunc("/root", s.handleRoot)
	s.mux.HandleFunc("/manifest", s.handleManifest)
	s.mux.HandleFunc("/receipt", s.handleReceipt)

	s.mux.HandleFunc("/health", s.handleHealth)
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	addr := s.config.Addr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("server_start", "addr", addr, "origin", s.config.Origin, "hash", s.service.HashAlgorithm())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info("server_stop", "addr", addr)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Close closes the server and releases resources
func (s *Server) Close() error {
	if s.ownsService {
		return s.service.Close()
	}
	return nil
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.loggingMiddleware(s.corsMiddleware(s.mux))
}

// handleUpload handles POST /upload. Every file part is staged with its size
// ceilings enforced while streaming; the set is committed once all parts arrived.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if limit := s.config.Limits.MaxTotalSize; limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	}

	reader, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "Expected multipart/form-data body", http.StatusBadRequest)
		return
	}

	upload := s.service.NewUpload()
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			upload.Abort()
			s.writeError(w, "upload", fmt.Errorf("failed to read multipart body: %w", err))
			return
		}

		name, ok := partFileName(part.Header.Get("Content-Disposition"))
		if !ok {
			part.Close()
			continue
		}

		_, err = upload.AddFile(r.Context(), name, part)
		part.Close()
		if err != nil {
			upload.Abort()
			s.writeError(w, "upload", err)
			return
		}
	}

	result, err := s.service.Commit(r.Context(), upload)
	if err != nil {
		s.writeError(w, "upload", err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// partFileName reads the raw filename parameter. multipart.Part.FileName
// strips directories, which would hide traversal attempts from validation.
func partFileName(disposition string) (string, bool) {
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return "", false
	}
	name, ok := params["filename"]
	return name, ok
}

// handleFile handles GET /file/{name}
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/file/")
	result, err := s.service.Fetch(r.Context(), name)
	if err != nil {
		s.writeError(w, "fetch", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleRoot handles GET /root
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	root, err := s.service.Root()
	if err != nil {
		s.writeError(w, "root", err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(root.String()))
}

// handleManifest handles GET /manifest
func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	manifest, err := s.service.Manifest()
	if err != nil {
		s.writeError(w, "manifest", err)
		return
	}

	writeJSON(w, http.StatusOK, manifest)
}

// handleReceipt handles GET /receipt
func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	signed, err := s.service.Receipt()
	if err != nil {
		s.writeError(w, "receipt", err)
		return
	}

	w.Header().Set("Content-Type", "application/cose")
	w.WriteHeader(http.StatusOK)
	w.Write(signed)
}

// handleKeys handles GET /.well-known/merkle-keys
func (s *Server) handleKeys(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	publicKey := s.service.PublicKey()
	if publicKey == nil {
		http.Error(w, "Receipts are not enabled", http.StatusNotFound)
		return
	}

	key, err := cose.ExportPublicKeyToCOSECBOR(publicKey)
	if err != nil {
		s.writeError(w, "keys", err)
		return
	}

	w.Header().Set("Content-Type", "application/cbor")
	w.WriteHeader(http.StatusOK)
	w.Write(key)
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	_, err := s.service.Root()
	health := map[string]interface{}{
		"status":         "healthy",
		"origin":         s.config.Origin,
		"hash_algorithm": s.service.HashAlgorithm(),
		"committed":      err == nil,
	}

	writeJSON(w, http.StatusOK, health)
}

// writeError maps service errors onto status codes
func (s *Server) writeError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+"_err", "err", err)
		http.Error(w, "Internal server error", status)
		return
	}

	s.logger.Debug(op+"_rejected", "status", status, "err", err)
	http.Error(w, err.Error(), status)
}

func statusFor(err error) int {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.Is(err, service.ErrLimitExceeded), errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, filename.ErrInvalidName),
		errors.Is(err, service.ErrTooManyFiles),
		errors.Is(err, service.ErrDuplicateFile),
		errors.Is(err, service.ErrEmptyUpload),
		errors.Is(err, service.ErrUploadClosed):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNoCommit),
		errors.Is(err, service.ErrFileNotFound),
		errors.Is(err, service.ErrNoReceipt):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusRecorder captures the response code for request logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs all HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("http_request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"remote", r.RemoteAddr,
			"duration", time.Since(start),
		)
	})
}

// corsMiddleware adds CORS headers if configured
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.Server.CORS.Enabled {
			allowed := s.config.Server.CORS.AllowedOrigins
			if len(allowed) > 0 && allowed[0] == "*" {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				reqOrigin := r.Header.Get("Origin")
				for _, origin := range allowed {
					if reqOrigin == origin {
						w.Header().Set("Access-Control-Allow-Origin", reqOrigin)
						w.Header().Add("Vary", "Origin")
						break
					}
				}
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			// Handle preflight
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// handleSwaggerUI serves the Swagger UI at the root path
func (s *Server) handleSwaggerUI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(swaggerHTML))
}

const swaggerHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Merkle File Store API</title>
    <link rel="stylesheet" type="text/css" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5.10.5/swagger-ui.css">
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5.10.5/swagger-ui-bundle.js"></script>
    <script>
        window.onload = function() {
            window.ui = SwaggerUIBundle({
                url: "/openapi.json",
                dom_id: '#swagger-ui',
                deepLinking: true
            });
        };
    </script>
</body>
</html>`

// handleOpenAPISpec serves the OpenAPI specification in JSON format
func (s *Server) handleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var spec map[string]interface{}
	if err := yaml.Unmarshal([]byte(openapiSpec), &spec); err != nil {
		s.writeError(w, "openapi", fmt.Errorf("failed to parse OpenAPI document: %w", err))
		return
	}

	// Advertise the configured origin
	if servers, ok := spec["servers"].([]interface{}); ok && len(servers) > 0 {
		if server, ok := servers[0].(map[string]interface{}); ok {
			server["url"] = s.config.Origin
		}
	}

	writeJSON(w, http.StatusOK, spec)
}
