package deliveries

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus enumerates delivery lifecycle states.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "PENDING"
	DeliveryStatusDelivered DeliveryStatus = "DELIVERED"
	DeliveryStatusReturned  DeliveryStatus = "RETURNED"
)

// ConsumesQuantity reports whether a delivery in this status counts against
// the quotation's quantity allowance. Returned goods re-open their allowance.
func (s DeliveryStatus) ConsumesQuantity() bool {
	return s != DeliveryStatusReturned
}

// Delivery ships part of a project's quoted quantities. Like invoices, the
// source quotation and revision are fixed at creation.
type Delivery struct {
	ID                      uuid.UUID      `json:"id"`
	ProjectID               uuid.UUID      `json:"project_id"`
	SourceQuotationID       uuid.UUID      `json:"source_quotation_id"`
	SourceQuotationRevision int64          `json:"source_quotation_revision"`
	Status                  DeliveryStatus `json:"status"`
	Lines                   []DeliveryLine `json:"lines,omitempty"`
	CreatedBy               int64          `json:"created_by"`
	CreatedAt               time.Time      `json:"created_at"`
	UpdatedAt               time.Time      `json:"updated_at"`
}

// DeliveryLine is one shipped product position.
type DeliveryLine struct {
	ID         int64     `json:"id"`
	DeliveryID uuid.UUID `json:"delivery_id"`
	ProductID  uuid.UUID `json:"product_id"`
	Quantity   float64   `json:"quantity"`
}
