package quotations

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

type quotationResponse struct {
	ID              uuid.UUID      `json:"id"`
	ProjectID       uuid.UUID      `json:"projectId"`
	RevisionNumber  int64          `json:"revisionNumber"`
	Status          string         `json:"status"`
	ValidUntil      time.Time      `json:"validUntil"`
	ApprovalChainID *uuid.UUID     `json:"approvalChainId,omitempty"`
	Lines           []lineResponse `json:"lines"`
	TotalAmount     float64        `json:"totalAmount"`
	CreatedBy       int64          `json:"createdBy"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

func toResponse(q *Quotation) quotationResponse {
	lines := make([]lineResponse, 0, len(q.Lines))
	for _, l := range q.Lines {
		lines = append(lines, lineResponse{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			Total:     l.Total(),
		})
	}
	return quotationResponse{
		ID:              q.ID,
		ProjectID:       q.ProjectID,
		RevisionNumber:  q.RevisionNumber,
		Status:          string(q.Status),
		ValidUntil:      q.ValidUntil,
		ApprovalChainID: q.ApprovalChainID,
		Lines:           lines,
		TotalAmount:     q.TotalAmount(),
		CreatedBy:       q.CreatedBy,
		CreatedAt:       q.CreatedAt,
		UpdatedAt:       q.UpdatedAt,
	}
}
