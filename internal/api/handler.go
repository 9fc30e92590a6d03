// Package api provides HTTP handlers for the VisoLabs API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/viso-labs/internal/catalog"
	"github.com/ashureev/viso-labs/internal/domain"
	"github.com/ashureev/viso-labs/internal/identity"
	"github.com/ashureev/viso-labs/internal/store"
	"github.com/go-chi/chi/v5"
)

// maxRequestBodySize bounds JSON request bodies.
const maxRequestBodySize = 1 << 20

// Handler serves the practice endpoints.
type Handler struct {
	repo     store.Repository
	practice *Practice
	catalog  *catalog.Catalog
}

// NewHandler creates a new Handler.
func NewHandler(repo store.Repository, practice *Practice, cat *catalog.Catalog) *Handler {
	return &Handler{repo: repo, practice: practice, catalog: cat}
}

// RegisterRoutes registers the practice and catalog routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/catalog", h.GetCatalog)
		r.Route("/practice", func(r chi.Router) {
			r.Get("/", h.GetPractice)
			r.Get("/history", h.GetHistory)
			r.Post("/start", h.Start)
			r.Post("/turn", h.Turn)
			r.Post("/export/images", h.ExportImages)
			r.Post("/export/log", h.ExportLog)
		})
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// StatusFor maps a practice error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidParams):
		return http.StatusBadRequest
	case errors.Is(err, ErrBusy):
		return http.StatusConflict
	case errors.Is(err, domain.ErrCollaborator):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("Practice request failed", "error", err, "path", r.URL.Path,
			"learner_id", identity.LearnerIDFromContext(r.Context()))
		msg = "internal error"
	}
	Error(w, status, msg)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func learnerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := identity.LearnerIDFromContext(r.Context())
	if id == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return id, true
}

// GetCatalog returns the selectable levels, styles and difficulty names.
func (h *Handler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"difficulties":         h.catalog.DifficultyNames(),
		"autism_levels":        h.catalog.AutismLevels(),
		"default_autism_level": h.catalog.DefaultAutismLevel,
		"image_styles":         h.catalog.StyleNames(),
	})
}

// GetPractice returns the active session, checklist and progress.
func (h *Handler) GetPractice(w http.ResponseWriter, r *http.Request) {
	id, ok := learnerID(w, r)
	if !ok {
		return
	}
	view, err := h.practice.Current(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, view)
}

// GetHistory returns archived sessions followed by the active one.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := learnerID(w, r)
	if !ok {
		return
	}
	sessions, err := h.practice.History(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []*domain.Session{}
	}
	JSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// Start generates a new practice session.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	id, ok := learnerID(w, r)
	if !ok {
		return
	}
	var params domain.StartParams
	if !decodeBody(w, r, &params) {
		return
	}

	slog.Info("Practice start request",
		"learner_id", id,
		"age", params.Age,
		"autism_level", params.AutismLevel,
		"image_style", params.ImageStyle)

	view, err := h.practice.Start(r.Context(), id, params)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, view)
}

type turnRequest struct {
	Message string `json:"message"`
}

// Turn evaluates one learner description.
func (h *Handler) Turn(w http.ResponseWriter, r *http.Request) {
	id, ok := learnerID(w, r)
	if !ok {
		return
	}
	var req turnRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}

	view, err := h.practice.Turn(r.Context(), id, req.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, view)
}

// ExportImages saves all session images on the server.
func (h *Handler) ExportImages(w http.ResponseWriter, r *http.Request) {
	id, ok := learnerID(w, r)
	if !ok {
		return
	}
	report, err := h.practice.ExportImages(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, report)
}

// ExportLog saves the redacted session log on the server.
func (h *Handler) ExportLog(w http.ResponseWriter, r *http.Request) {
	id, ok := learnerID(w, r)
	if !ok {
		return
	}
	report, err := h.practice.ExportLog(r.Context(), id)
	if err != nil {
		slog.Error("Session log export failed", "error", err, "learner_id", id)
		JSON(w, http.StatusInternalServerError, report)
		return
	}
	JSON(w, http.StatusOK, report)
}

// Health reports database connectivity.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		slog.Error("Health check failed", "error", err)
		Error(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
