package quotations

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/atelier-erp/atelier/internal/platform/httpx"
	"github.com/atelier-erp/atelier/internal/shared"
)

// Handler exposes the quotation lifecycle over HTTP.
type Handler struct {
	logger   *slog.Logger
	svc      *Service
	validate *validator.Validate
}

// NewHandler builds the quotation handler.
func NewHandler(logger *slog.Logger, svc *Service) *Handler {
	return &Handler{logger: logger, svc: svc, validate: validator.New()}
}

// MountRoutes registers quotation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/quotations", h.create)
	r.Get("/quotations/{id}", h.show)
	r.Put("/quotations/{id}", h.update)
	r.Post("/quotations/{id}/submit", h.submit)
	r.Post("/quotations/{id}/expire", h.expire)
	r.Get("/projects/{projectID}/quotations/current", h.currentAccepted)
}

type lineRequest struct {
	ProductID string  `json:"productId" validate:"required,uuid4"`
	Quantity  float64 `json:"quantity" validate:"required,gt=0"`
	UnitPrice float64 `json:"unitPrice" validate:"gte=0"`
}

type upsertQuotationRequest struct {
	ProjectID  string        `json:"projectId" validate:"required,uuid4"`
	ValidUntil time.Time     `json:"validUntil" validate:"required"`
	Lines      []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

type submitQuotationRequest struct {
	TemplateID string `json:"templateId" validate:"required,uuid4"`
}

func (r upsertQuotationRequest) toCreateRequest() (CreateRequest, error) {
	projectID, err := uuid.Parse(r.ProjectID)
	if err != nil {
		return CreateRequest{}, err
	}
	req := CreateRequest{ProjectID: projectID, ValidUntil: r.ValidUntil}
	for _, l := range r.Lines {
		productID, err := uuid.Parse(l.ProductID)
		if err != nil {
			return CreateRequest{}, err
		}
		req.Lines = append(req.Lines, LineInput{ProductID: productID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	return req, nil
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var body upsertQuotationRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	req, err := body.toCreateRequest()
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid identifier in request")
		return
	}
	actorID, _ := shared.UserIDFromContext(r.Context())
	q, err := h.svc.Create(r.Context(), req, actorID)
	if err != nil {
		h.logger.Error("create quotation", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(q))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid quotation id")
		return
	}
	var body upsertQuotationRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	req, err := body.toCreateRequest()
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid identifier in request")
		return
	}
	actorID, _ := shared.UserIDFromContext(r.Context())
	q, err := h.svc.UpdateDraft(r.Context(), id, req, actorID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(q))
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid quotation id")
		return
	}
	q, err := h.svc.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(q))
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid quotation id")
		return
	}
	var body submitQuotationRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	templateID, err := uuid.Parse(body.TemplateID)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid template id")
		return
	}
	actorID, _ := shared.UserIDFromContext(r.Context())
	q, err := h.svc.SubmitForApproval(r.Context(), id, templateID, actorID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(q))
}

func (h *Handler) expire(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid quotation id")
		return
	}
	actorID, _ := shared.UserIDFromContext(r.Context())
	q, err := h.svc.Expire(r.Context(), id, actorID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(q))
}

func (h *Handler) currentAccepted(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(chi.URLParam(r, "projectID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid project id")
		return
	}
	q, err := h.svc.CurrentAccepted(r.Context(), projectID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(q))
}
