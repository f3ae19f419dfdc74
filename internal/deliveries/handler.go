package deliveries

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/atelier-erp/atelier/internal/platform/httpx"
	"github.com/atelier-erp/atelier/internal/shared"
)

// Handler exposes the delivery lifecycle over HTTP.
type Handler struct {
	logger   *slog.Logger
	svc      *Service
	validate *validator.Validate
}

// NewHandler builds the delivery handler.
func NewHandler(logger *slog.Logger, svc *Service) *Handler {
	return &Handler{logger: logger, svc: svc, validate: validator.New()}
}

// MountRoutes registers delivery routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/deliveries", h.create)
	r.Get("/deliveries/{id}", h.show)
	r.Post("/deliveries/{id}/delivered", h.markDelivered)
	r.Post("/deliveries/{id}/returned", h.markReturned)
	r.Get("/projects/{projectID}/deliveries", h.listByProject)
}

type lineRequest struct {
	ProductID string  `json:"productId" validate:"required,uuid4"`
	Quantity  float64 `json:"quantity" validate:"required,gt=0"`
}

type createDeliveryRequest struct {
	ProjectID string        `json:"projectId" validate:"required,uuid4"`
	Lines     []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

type deliveryLineResponse struct {
	ProductID uuid.UUID `json:"productId"`
	Quantity  float64   `json:"quantity"`
}

type deliveryResponse struct {
	ID                      uuid.UUID              `json:"id"`
	ProjectID               uuid.UUID              `json:"projectId"`
	SourceQuotationID       uuid.UUID              `json:"sourceQuotationId"`
	SourceQuotationRevision int64                  `json:"sourceQuotationRevision"`
	Status                  string                 `json:"status"`
	Outdated                bool                   `json:"outdated"`
	Lines                   []deliveryLineResponse `json:"lines"`
	CreatedBy               int64                  `json:"createdBy"`
	CreatedAt               time.Time              `json:"createdAt"`
	UpdatedAt               time.Time              `json:"updatedAt"`
}

func toResponse(d *Delivery, outdated bool) deliveryResponse {
	lines := make([]deliveryLineResponse, 0, len(d.Lines))
	for _, l := range d.Lines {
		lines = append(lines, deliveryLineResponse{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	return deliveryResponse{
		ID:                      d.ID,
		ProjectID:               d.ProjectID,
		SourceQuotationID:       d.SourceQuotationID,
		SourceQuotationRevision: d.SourceQuotationRevision,
		Status:                  string(d.Status),
		Outdated:                outdated,
		Lines:                   lines,
		CreatedBy:               d.CreatedBy,
		CreatedAt:               d.CreatedAt,
		UpdatedAt:               d.UpdatedAt,
	}
}

func (h *Handler) respondDelivery(w http.ResponseWriter, r *http.Request, status int, d *Delivery) {
	outdated, err := h.svc.IsOutdated(r.Context(), d)
	if err != nil {
		h.logger.Error("derive outdated flag", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, status, toResponse(d, outdated))
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var body createDeliveryRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	projectID, err := uuid.Parse(body.ProjectID)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid project id")
		return
	}
	req := CreateRequest{ProjectID: projectID}
	for _, l := range body.Lines {
		productID, err := uuid.Parse(l.ProductID)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid product id")
			return
		}
		req.Lines = append(req.Lines, LineInput{ProductID: productID, Quantity: l.Quantity})
	}
	actorID, _ := shared.UserIDFromContext(r.Context())
	d, err := h.svc.Create(r.Context(), req, actorID)
	if err != nil {
		h.logger.Error("create delivery", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.respondDelivery(w, r, http.StatusCreated, d)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid delivery id")
		return
	}
	d, err := h.svc.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.respondDelivery(w, r, http.StatusOK, d)
}

func (h *Handler) markDelivered(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.MarkDelivered)
}

func (h *Handler) markReturned(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.MarkReturned)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID, int64) (*Delivery, error)) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid delivery id")
		return
	}
	actorID, _ := shared.UserIDFromContext(r.Context())
	d, err := fn(r.Context(), id, actorID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.respondDelivery(w, r, http.StatusOK, d)
}

func (h *Handler) listByProject(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(chi.URLParam(r, "projectID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid project id")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	list, err := h.svc.ListByProject(r.Context(), projectID, limit, offset)
	if err != nil {
		h.logger.Error("list deliveries", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]deliveryResponse, 0, len(list))
	for i := range list {
		outdated, err := h.svc.IsOutdated(r.Context(), &list[i])
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		out = append(out, toResponse(&list[i], outdated))
	}
	httpx.JSON(w, http.StatusOK, out)
}
