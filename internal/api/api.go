// Package api exposes schedule generation over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/derekprior/cricsched/internal/config"
	"github.com/derekprior/cricsched/internal/schedule"
	"github.com/derekprior/cricsched/internal/service"
	"github.com/derekprior/cricsched/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Scheduler is the service the handlers call.
type Scheduler interface {
	Generate(ctx context.Context, tournamentID string) (*schedule.Report, error)
	Preview(ctx context.Context, cfg *config.Config) *schedule.Report
	Matches(ctx context.Context, tournamentID string) ([]store.Match, error)
	Clear(ctx context.Context, tournamentID string) (int64, error)
}

// GenerationTimeout bounds a single generate or preview request.
const GenerationTimeout = 60 * time.Second

// Handler holds the HTTP handlers for the schedule API.
type Handler struct {
	svc      Scheduler
	logger   *zap.Logger
	validate *validator.Validate
}

func NewHandler(svc Scheduler, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger, validate: validator.New()}
}

// Router builds the chi router with middleware and CORS.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.accessLog)

	r.Get("/health", HealthCheck)

	r.Route("/tournaments/{id}", func(r chi.Router) {
		r.With(middleware.Timeout(GenerationTimeout)).Post("/generate-schedule", h.GenerateSchedule)
		r.Get("/matches", h.ListMatches)
		r.Delete("/matches", h.ClearMatches)
	})
	r.With(middleware.Timeout(GenerationTimeout)).Post("/schedules/preview", h.Preview)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(r)
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// ScheduleResponse is the body returned by generate and preview.
type ScheduleResponse struct {
	Success          bool              `json:"success"`
	Message          string            `json:"message"`
	Kind             string            `json:"kind,omitempty"`
	ErrorClass       string            `json:"error_class,omitempty"`
	MatchesScheduled int               `json:"matches_scheduled"`
	Conflicts        []string          `json:"conflicts"`
	Suggestions      []string          `json:"suggestions"`
	Warnings         []string          `json:"warnings,omitempty"`
	Summary          *schedule.Summary `json:"schedule_summary"`
	Matches          []schedule.Match  `json:"matches,omitempty"`
}

func newScheduleResponse(r *schedule.Report, withMatches bool) ScheduleResponse {
	resp := ScheduleResponse{
		Success:          r.Success,
		Message:          r.Message,
		Kind:             string(r.Kind),
		ErrorClass:       string(r.Class),
		MatchesScheduled: r.MatchesScheduled(),
		Conflicts:        r.ConflictMessages(),
		Suggestions:      r.Suggestions,
		Warnings:         r.Warnings,
		Summary:          r.Summary,
	}
	if resp.Suggestions == nil {
		resp.Suggestions = []string{}
	}
	if withMatches {
		resp.Matches = r.Matches
	}
	return resp
}

// PreviewRequest is the body of POST /schedules/preview.
type PreviewRequest struct {
	Tournament     config.Tournament `json:"tournament"`
	Teams          []config.Team     `json:"teams" validate:"max=64,dive"`
	Venues         []config.Venue    `json:"venues" validate:"max=32,dive"`
	Engine         config.Engine     `json:"engine"`
	IncludeMatches bool              `json:"include_matches"`
}

// MessageResponse is returned by operations without a richer body.
type MessageResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// validationMessage flattens validator errors into one line.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		if fe.Param() != "" {
			msgs[i] = fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param())
		} else {
			msgs[i] = fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag())
		}
	}
	return strings.Join(msgs, "; ")
}

// GenerateSchedule handles POST /tournaments/{id}/generate-schedule.
// A schedule that cannot be built is still a 200 with success false.
func (h *Handler) GenerateSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	report, err := h.svc.Generate(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "tournament not found")
		case errors.Is(err, service.ErrGenerationInProgress):
			writeError(w, http.StatusConflict, err.Error())
		default:
			h.logger.Error("generate schedule", zap.String("tournament_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to generate schedule")
		}
		return
	}

	writeJSON(w, http.StatusOK, newScheduleResponse(report, false))
}

// ListMatches handles GET /tournaments/{id}/matches.
func (h *Handler) ListMatches(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	matches, err := h.svc.Matches(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "tournament not found")
			return
		}
		h.logger.Error("list matches", zap.String("tournament_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list matches")
		return
	}

	if matches == nil {
		matches = []store.Match{}
	}
	writeJSON(w, http.StatusOK, matches)
}

// ClearMatches handles DELETE /tournaments/{id}/matches.
func (h *Handler) ClearMatches(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	n, err := h.svc.Clear(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrGenerationInProgress) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error("clear matches", zap.String("tournament_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to clear matches")
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{
		Success: true,
		Message: fmt.Sprintf("Cleared %d matches from schedule", n),
		Data:    map[string]any{"deleted_count": n},
	})
}

// Preview handles POST /schedules/preview: generation without persistence.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	cfg := &config.Config{Tournament: req.Tournament, Teams: req.Teams, Venues: req.Venues, Engine: req.Engine}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report := h.svc.Preview(r.Context(), cfg)
	writeJSON(w, http.StatusOK, newScheduleResponse(report, req.IncludeMatches))
}

// HealthCheck handles GET /health.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
