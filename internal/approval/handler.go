package approval

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/atelier-erp/atelier/internal/authz"
	"github.com/atelier-erp/atelier/internal/platform/httpx"
	"github.com/atelier-erp/atelier/internal/shared"
)

// Handler exposes chain decisions and template administration over HTTP.
type Handler struct {
	logger   *slog.Logger
	engine   *Engine
	authz    authz.Middleware
	validate *validator.Validate
}

// NewHandler builds the approval handler.
func NewHandler(logger *slog.Logger, engine *Engine, authz authz.Middleware) *Handler {
	return &Handler{
		logger:   logger,
		engine:   engine,
		authz:    authz,
		validate: validator.New(),
	}
}

// MountRoutes registers approval routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/approval-chains/{id}", h.show)
	r.Post("/approval-chains/{id}/steps/{sequence}/approve", h.approveStep)
	r.Post("/approval-chains/{id}/steps/{sequence}/reject", h.rejectStep)

	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireAny(shared.RoleAdmin))
		r.Get("/admin/approval-chains", h.listTemplates)
		r.Post("/admin/approval-chains", h.createTemplate)
	})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	chainID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid chain id")
		return
	}
	chain, err := h.engine.GetChain(r.Context(), chainID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, chain)
}

type rejectStepRequest struct {
	Reason string `json:"reason" validate:"required,min=3"`
}

func (h *Handler) approveStep(w http.ResponseWriter, r *http.Request) {
	chainID, sequence, actorID, ok := h.stepParams(w, r)
	if !ok {
		return
	}
	chain, err := h.engine.ApproveStep(r.Context(), chainID, sequence, actorID)
	if err != nil {
		h.logger.Warn("approve step", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, chain)
}

func (h *Handler) rejectStep(w http.ResponseWriter, r *http.Request) {
	chainID, sequence, actorID, ok := h.stepParams(w, r)
	if !ok {
		return
	}
	var req rejectStepRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	chain, err := h.engine.RejectStep(r.Context(), chainID, sequence, actorID, req.Reason)
	if err != nil {
		h.logger.Warn("reject step", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, chain)
}

type createTemplateRequest struct {
	Name         string   `json:"name" validate:"required,max=120"`
	DocumentType string   `json:"document_type" validate:"required,oneof=QUOTATION INVOICE"`
	Roles        []string `json:"roles" validate:"required,min=1,dive,required"`
}

func (h *Handler) createTemplate(w http.ResponseWriter, r *http.Request) {
	var req createTemplateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	tmpl := Template{Name: req.Name, DocumentType: DocumentType(req.DocumentType)}
	for i, role := range req.Roles {
		tmpl.Steps = append(tmpl.Steps, TemplateStep{Sequence: i + 1, RequiredRole: role})
	}
	created, err := h.engine.CreateTemplate(r.Context(), tmpl)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	docType := DocumentType(r.URL.Query().Get("document_type"))
	templates, err := h.engine.ListTemplates(r.Context(), docType)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, templates)
}

func (h *Handler) stepParams(w http.ResponseWriter, r *http.Request) (uuid.UUID, int, int64, bool) {
	chainID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid chain id")
		return uuid.Nil, 0, 0, false
	}
	sequence, err := strconv.Atoi(chi.URLParam(r, "sequence"))
	if err != nil || sequence <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid step sequence")
		return uuid.Nil, 0, 0, false
	}
	actorID, ok := shared.UserIDFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
		return uuid.Nil, 0, 0, false
	}
	return chainID, sequence, actorID, true
}
