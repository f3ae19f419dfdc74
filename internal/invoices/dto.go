package invoices

import (
	"time"

	"github.com/google/uuid"
)

type lineResponse struct {
	ProductID uuid.UUID `json:"productId"`
	Quantity  float64   `json:"quantity"`
	UnitPrice float64   `json:"unitPrice"`
	Total     float64   `json:"total"`
}

type paymentResponse struct {
	Amount     float64   `json:"amount"`
	PaidAt     time.Time `json:"paidAt"`
	RecordedBy int64     `json:"recordedBy"`
}

type invoiceResponse struct {
	ID                      uuid.UUID         `json:"id"`
	ProjectID               uuid.UUID         `json:"projectId"`
	SourceQuotationID       uuid.UUID         `json:"sourceQuotationId"`
	SourceQuotationRevision int64             `json:"sourceQuotationRevision"`
	Status                  string            `json:"status"`
	Outdated                bool              `json:"outdated"`
	Lines                   []lineResponse    `json:"lines"`
	Payments                []paymentResponse `json:"payments"`
	TotalAmount             float64           `json:"totalAmount"`
	PaidAmount              float64           `json:"paidAmount"`
	Balance                 float64           `json:"balance"`
	CreatedBy               int64             `json:"createdBy"`
	CreatedAt               time.Time         `json:"createdAt"`
	UpdatedAt               time.Time         `json:"updatedAt"`
}

func toResponse(inv *Invoice, outdated bool) invoiceResponse {
	lines := make([]lineResponse, 0, len(inv.Lines))
	for _, l := range inv.Lines {
		lines = append(lines, lineResponse{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice, Total: l.Total()})
	}
	payments := make([]paymentResponse, 0, len(inv.Payments))
	for _, p := range inv.Payments {
		payments = append(payments, paymentResponse{Amount: p.Amount, PaidAt: p.PaidAt, RecordedBy: p.RecordedBy})
	}
	return invoiceResponse{
		ID:                      inv.ID,
		ProjectID:               inv.ProjectID,
		SourceQuotationID:       inv.SourceQuotationID,
		SourceQuotationRevision: inv.SourceQuotationRevision,
		Status:                  string(inv.Status),
		Outdated:                outdated,
		Lines:                   lines,
		Payments:                payments,
		TotalAmount:             inv.TotalAmount(),
		PaidAmount:              inv.PaidAmount(),
		Balance:                 inv.Balance(),
		CreatedBy:               inv.CreatedBy,
		CreatedAt:               inv.CreatedAt,
		UpdatedAt:               inv.UpdatedAt,
	}
}
