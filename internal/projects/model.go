package projects

import (
	"time"

	"github.com/google/uuid"
)

// ProjectStatus enumerates project states.
type ProjectStatus string

const (
	ProjectStatusActive ProjectStatus = "ACTIVE"
	ProjectStatusClosed ProjectStatus = "CLOSED"
)

// Project owns quotations, invoices and deliveries. The current accepted
// quotation pointer is written only by the quotation lifecycle, inside the
// accept-and-supersede transaction.
type Project struct {
	ID                         uuid.UUID     `json:"id"`
	Name                       string        `json:"name"`
	Status                     ProjectStatus `json:"status"`
	CurrentAcceptedQuotationID *uuid.UUID    `json:"current_accepted_quotation_id,omitempty"`
	CreatedBy                  int64         `json:"created_by"`
	CreatedAt                  time.Time     `json:"created_at"`
	UpdatedAt                  time.Time     `json:"updated_at"`
}
