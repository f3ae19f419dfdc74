package audithttp

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/atelier-erp/atelier/internal/audit"
	"github.com/atelier-erp/atelier/internal/platform/httpx"
)

// Handler serves the audit timeline read API.
type Handler struct {
	logger  *slog.Logger
	service *audit.Service
}

// NewHandler builds the audit handler.
func NewHandler(logger *slog.Logger, service *audit.Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/audit", h.timeline)
	r.Get("/audit/{entityType}/{entityID}", h.entityTimeline)
}

type timelineRow struct {
	ID          int64          `json:"id"`
	EntityType  string         `json:"entity_type"`
	EntityID    uuid.UUID      `json:"entity_id"`
	Action      string         `json:"action"`
	ActorUserID int64          `json:"actor_user_id"`
	Before      map[string]any `json:"before,omitempty"`
	After       map[string]any `json:"after,omitempty"`
	At          time.Time      `json:"at"`
}

type timelineResponse struct {
	Rows     []timelineRow `json:"rows"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
	HasNext  bool          `json:"has_next"`
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	filters := audit.TimelineFilters{
		EntityType: r.URL.Query().Get("entity_type"),
		Page:       atoiDefault(r.URL.Query().Get("page"), 1),
		PageSize:   atoiDefault(r.URL.Query().Get("page_size"), 20),
	}
	if raw := r.URL.Query().Get("actor"); raw != "" {
		filters.Actor, _ = strconv.ParseInt(raw, 10, 64)
	}
	h.respond(w, r, filters)
}

func (h *Handler) entityTimeline(w http.ResponseWriter, r *http.Request) {
	entityID, err := uuid.Parse(chi.URLParam(r, "entityID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid entity id")
		return
	}
	filters := audit.TimelineFilters{
		EntityType: chi.URLParam(r, "entityType"),
		EntityID:   entityID,
		Page:       atoiDefault(r.URL.Query().Get("page"), 1),
		PageSize:   atoiDefault(r.URL.Query().Get("page_size"), 20),
	}
	h.respond(w, r, filters)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, filters audit.TimelineFilters) {
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.logger.Error("audit timeline", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	resp := timelineResponse{Page: result.Page, PageSize: result.PageSize, HasNext: result.HasNext}
	for _, e := range result.Rows {
		resp.Rows = append(resp.Rows, timelineRow{
			ID:          e.ID,
			EntityType:  e.EntityType,
			EntityID:    e.EntityID,
			Action:      e.Action,
			ActorUserID: e.ActorUserID,
			Before:      e.Before,
			After:       e.After,
			At:          e.At,
		})
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func atoiDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
