package quotations

import (
	"time"

	"github.com/google/uuid"
)

// QuotationStatus enumerates quotation lifecycle states.
type QuotationStatus string

const (
	QuotationStatusDraft           QuotationStatus = "DRAFT"
	QuotationStatusPendingApproval QuotationStatus = "PENDING_APPROVAL"
	QuotationStatusApproved        QuotationStatus = "APPROVED"
	QuotationStatusRejected        QuotationStatus = "REJECTED"
	QuotationStatusAccepted        QuotationStatus = "ACCEPTED"
	QuotationStatusSuperseded      QuotationStatus = "SUPERSEDED"
	QuotationStatusExpired         QuotationStatus = "EXPIRED"
)

// Quotation is a priced offer for a project. Once accepted it becomes the
// project's single authoritative source for invoice amounts and delivery
// quantities, until a newer revision supersedes it.
type Quotation struct {
	ID              uuid.UUID       `json:"id"`
	ProjectID       uuid.UUID       `json:"project_id"`
	RevisionNumber  int64           `json:"revision_number"`
	Status          QuotationStatus `json:"status"`
	ValidUntil      time.Time       `json:"valid_until"`
	ApprovalChainID *uuid.UUID      `json:"approval_chain_id,omitempty"`
	Lines           []QuotationLine `json:"lines,omitempty"`
	CreatedBy       int64           `json:"created_by"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// QuotationLine is one priced product position. Lines are immutable once the
// quotation leaves DRAFT.
type QuotationLine struct {
	ID          int64     `json:"id"`
	QuotationID uuid.UUID `json:"quotation_id"`
	ProductID   uuid.UUID `json:"product_id"`
	Quantity    float64   `json:"quantity"`
	UnitPrice   float64   `json:"unit_price"`
}

// Total returns the line amount.
func (l QuotationLine) Total() float64 {
	return l.Quantity * l.UnitPrice
}

// LineForProduct returns the line for the given product, or nil.
func (q *Quotation) LineForProduct(productID uuid.UUID) *QuotationLine {
	for i := range q.Lines {
		if q.Lines[i].ProductID == productID {
			return &q.Lines[i]
		}
	}
	return nil
}

// TotalAmount sums all line amounts.
func (q *Quotation) TotalAmount() float64 {
	var total float64
	for _, l := range q.Lines {
		total += l.Total()
	}
	return total
}
