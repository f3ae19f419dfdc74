package invoices

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/atelier-erp/atelier/internal/platform/httpx"
	"github.com/atelier-erp/atelier/internal/shared"
)

// Handler exposes the invoice lifecycle over HTTP.
type Handler struct {
	logger   *slog.Logger
	svc      *Service
	validate *validator.Validate
}

// NewHandler builds the invoice handler.
func NewHandler(logger *slog.Logger, svc *Service) *Handler {
	return &Handler{logger: logger, svc: svc, validate: validator.New()}
}

// MountRoutes registers invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/invoices", h.create)
	r.Get("/invoices/{id}", h.show)
	r.Post("/invoices/{id}/issue", h.issue)
	r.Post("/invoices/{id}/payments", h.recordPayment)
	r.Post("/invoices/{id}/cancel", h.cancel)
	r.Get("/projects/{projectID}/invoices", h.listByProject)
}

type lineRequest struct {
	ProductID string  `json:"productId" validate:"required,uuid4"`
	Quantity  float64 `json:"quantity" validate:"required,gt=0"`
	UnitPrice float64 `json:"unitPrice" validate:"gte=0"`
}

type createInvoiceRequest struct {
	ProjectID string        `json:"projectId" validate:"required,uuid4"`
	Lines     []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

type recordPaymentRequest struct {
	Amount float64 `json:"amount" validate:"required,gt=0"`
}

func (h *Handler) respondInvoice(w http.ResponseWriter, r *http.Request, status int, inv *Invoice) {
	outdated, err := h.svc.IsOutdated(r.Context(), inv)
	if err != nil {
		h.logger.Error("derive outdated flag", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, status, toResponse(inv, outdated))
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var body createInvoiceRequest
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
		req.Lines = append(req.Lines, LineInput{ProductID: productID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	actorID, _ := shared.UserIDFromContext(r.Context())
	inv, err := h.svc.Create(r.Context(), req, actorID)
	if err != nil {
		h.logger.Error("create invoice", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.respondInvoice(w, r, http.StatusCreated, inv)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}
	inv, err := h.svc.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.respondInvoice(w, r, http.StatusOK, inv)
}

func (h *Handler) issue(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}
	actorID, _ := shared.UserIDFromContext(r.Context())
	inv, err := h.svc.Issue(r.Context(), id, actorID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.respondInvoice(w, r, http.StatusOK, inv)
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}
	var body recordPaymentRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actorID, _ := shared.UserIDFromContext(r.Context())
	inv, err := h.svc.RecordPayment(r.Context(), id, body.Amount, actorID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.respondInvoice(w, r, http.StatusOK, inv)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}
	actorID, _ := shared.UserIDFromContext(r.Context())
	inv, err := h.svc.Cancel(r.Context(), id, actorID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.respondInvoice(w, r, http.StatusOK, inv)
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
		h.logger.Error("list invoices", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]invoiceResponse, 0, len(list))
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
