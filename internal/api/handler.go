package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"scoutsite-backend/internal/config"
	"scoutsite-backend/internal/content"
	"scoutsite-backend/internal/domain"
	"scoutsite-backend/internal/github"
	"scoutsite-backend/internal/metrics"
	"scoutsite-backend/internal/store"
)

// Handler wires HTTP routes to the content service.
type Handler struct {
	cfg     *config.Config
	svc     *content.Service
	journal store.Journal
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewHandler creates a Handler instance. m may be nil.
func NewHandler(cfg *config.Config, svc *content.Service, journal store.Journal, m *metrics.Metrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{cfg: cfg, svc: svc, journal: journal, metrics: m, logger: logger}
}

// Router returns a configured chi router.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(h.metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.handleHealth)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/files", h.handleFiles)

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdmin(h.cfg.JWTSecret))
			r.Get("/me", h.handleMe)
			r.Post("/upload", h.handleUpload)
			r.Delete("/remove", h.handleRemove)
			r.Post("/edit-images", h.handleEditImages)
			r.Post("/edit-files", h.handleEditFiles)
			r.Post("/rename-file", h.handleRenameFile)
			r.Delete("/posts", h.handleDeletePost)
			r.Get("/collections", h.handleCollections)
			r.Delete("/collections/{name}", h.handleDeleteCollection)
			r.Get("/git-history", h.handleHistory)
			r.Get("/operations", h.handleOperations)
		})
	})

	return r
}

type uploadResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	domain.UploadResult
}

type changeResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	domain.ChangeResult
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := AdminFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"user": map[string]string{"username": claims.Username, "role": claims.Role},
	})
}

func (h *Handler) handleFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.svc.Files(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req domain.UploadRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Upload(r.Context(), req.Items)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{Success: true, UploadResult: *res})
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	var req domain.RemoveRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Remove(r.Context(), req.Paths, req.CommitMessage)
	writeChange(w, res, err)
}

func (h *Handler) handleEditImages(w http.ResponseWriter, r *http.Request) {
	var req domain.EditImagesRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.EditImages(r.Context(), req)
	writeChange(w, res, err)
}

func (h *Handler) handleEditFiles(w http.ResponseWriter, r *http.Request) {
	var req domain.EditFilesRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.EditFiles(r.Context(), req)
	writeChange(w, res, err)
}

func (h *Handler) handleRenameFile(w http.ResponseWriter, r *http.Request) {
	var req domain.RenameRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.RenameFile(r.Context(), req)
	writeChange(w, res, err)
}

func (h *Handler) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	var req domain.DeletePostRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.DeletePost(r.Context(), req.Title)
	writeChange(w, res, err)
}

func (h *Handler) handleCollections(w http.ResponseWriter, r *http.Request) {
	names, err := h.svc.Collections(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"collections": names})
}

func (h *Handler) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.DeleteCollection(r.Context(), chi.URLParam(r, "name"))
	writeChange(w, res, err)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	count, ok := queryInt(w, r, "count")
	if !ok {
		return
	}
	commits, err := h.svc.History(r.Context(), r.URL.Query().Get("path"), count)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, commits)
}

func (h *Handler) handleOperations(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	ops, err := h.journal.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ops)
}

// decode reads a JSON body capped at the configured size and reports
// whether the handler should continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request payload")
		return false
	}
	return true
}

func queryInt(w http.ResponseWriter, r *http.Request, key string) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "invalid "+key)
		return 0, false
	}
	return n, true
}

// statusFor maps content errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, content.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, content.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, content.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, github.ErrAuth):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeChange(w http.ResponseWriter, res *domain.ChangeResult, err error) {
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, changeResponse{Success: true, ChangeResult: *res})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}
