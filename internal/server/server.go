package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"vehicleregistry/internal/app"
	"vehicleregistry/internal/ratelimit"
	"vehicleregistry/internal/util"
	"vehicleregistry/pkg/domain"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	MaxUploadBytes int64
	// UploadLimiter throttles upload submissions per client IP. Nil disables
	// rate limiting.
	UploadLimiter  *ratelimit.FixedWindowLimiter
	TrustedProxies *util.TrustedProxies
}

// Server exposes the batch registration HTTP endpoints.
type Server struct {
	app       *app.App
	maxUpload int64
	limiter   *ratelimit.FixedWindowLimiter
	trusted   *util.TrustedProxies
	mux       *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 25_000_000
	}
	s := &Server{
		app:       cfg.App,
		maxUpload: maxUpload,
		limiter:   cfg.UploadLimiter,
		trusted:   cfg.TrustedProxies,
		mux:       http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithCORS(util.WithRequestID(util.WithRequestLog(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/api/batch/upload", s.handleUpload)
	s.mux.HandleFunc("/api/batch/upload-big-file", s.handleUploadBigFile)
	s.mux.HandleFunc("/api/batch/status/", s.handleStatus)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "queued": s.app.QueueLen()})
}

// allowRate enforces the per-IP upload quota. Returns false after writing
// the 429 response.
func (s *Server) allowRate(w http.ResponseWriter, r *http.Request) bool {
	if s.limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + util.ClientIP(r, s.trusted)
	if s.limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, "too many upload attempts")
	return false
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r) {
		return
	}
	data, ok := s.readUploadedFile(w, r)
	if !ok {
		return
	}
	summary, err := s.app.ProcessUpload(data)
	if err != nil {
		writeUploadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleUploadBigFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r) {
		return
	}
	data, ok := s.readUploadedFile(w, r)
	if !ok {
		return
	}
	task, err := s.app.SubmitUpload(r.Context(), data)
	if err != nil {
		writeUploadError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"taskId": task.ID})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/batch/status/")
	if rest, found := strings.CutSuffix(id, "/file"); found {
		s.handleArchivedFile(w, r, rest)
		return
	}
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	task, ok, err := s.app.GetTaskStatus(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load task status")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleArchivedFile serves a pre-signed download link for the raw CSV a
// task was created from.
func (s *Server) handleArchivedFile(w http.ResponseWriter, r *http.Request, id string) {
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	url, ok, err := s.app.ArchivedFileURL(r.Context(), id)
	if err != nil {
		if errors.Is(err, app.ErrNoArchive) {
			writeError(w, http.StatusNotFound, "upload archive not configured")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to resolve archived upload")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// readUploadedFile extracts the "file" part from a multipart form. On
// failure it has already written the error response.
func (s *Server) readUploadedFile(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file exceeds the upload size limit")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "expected multipart form with a file field")
		return nil, false
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return nil, false
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read uploaded file")
		return nil, false
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, domain.ErrEmptyFile.Error())
		return nil, false
	}
	return data, true
}

func writeUploadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrDuplicateFile):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrEmptyFile), errors.Is(err, domain.ErrMalformedCSV):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "failed to process upload")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
