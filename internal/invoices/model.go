package invoices

import (
	"time"

	"github.com/google/uuid"
)

// InvoiceStatus enumerates invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "DRAFT"
	InvoiceStatusIssued        InvoiceStatus = "ISSUED"
	InvoiceStatusPartiallyPaid InvoiceStatus = "PARTIALLY_PAID"
	InvoiceStatusPaid          InvoiceStatus = "PAID"
	InvoiceStatusCancelled     InvoiceStatus = "CANCELLED"
)

// ConsumesBudget reports whether an invoice in this status counts against the
// project's remaining invoiceable amount. Cancelled invoices release their
// amount back to the budget.
func (s InvoiceStatus) ConsumesBudget() bool {
	return s != InvoiceStatusCancelled
}

// Invoice bills part of a project against its accepted quotation. The source
// quotation and revision are stamped at creation and never change, so a later
// quotation revision makes the invoice detectably outdated without rewriting
// history.
type Invoice struct {
	ID                      uuid.UUID     `json:"id"`
	ProjectID               uuid.UUID     `json:"project_id"`
	SourceQuotationID       uuid.UUID     `json:"source_quotation_id"`
	SourceQuotationRevision int64         `json:"source_quotation_revision"`
	Status                  InvoiceStatus `json:"status"`
	Lines                   []InvoiceLine `json:"lines,omitempty"`
	Payments                []Payment     `json:"payments,omitempty"`
	CreatedBy               int64         `json:"created_by"`
	CreatedAt               time.Time     `json:"created_at"`
	UpdatedAt               time.Time     `json:"updated_at"`
}

// InvoiceLine is one billed product position.
type InvoiceLine struct {
	ID        int64     `json:"id"`
	InvoiceID uuid.UUID `json:"invoice_id"`
	ProductID uuid.UUID `json:"product_id"`
	Quantity  float64   `json:"quantity"`
	UnitPrice float64   `json:"unit_price"`
}

// Total returns the line amount.
func (l InvoiceLine) Total() float64 {
	return l.Quantity * l.UnitPrice
}

// Payment is one recorded payment against an issued invoice.
type Payment struct {
	ID         int64     `json:"id"`
	InvoiceID  uuid.UUID `json:"invoice_id"`
	Amount     float64   `json:"amount"`
	PaidAt     time.Time `json:"paid_at"`
	RecordedBy int64     `json:"recorded_by"`
}

// TotalAmount sums all line amounts.
func (inv *Invoice) TotalAmount() float64 {
	var total float64
	for _, l := range inv.Lines {
		total += l.Total()
	}
	return total
}

// PaidAmount sums all recorded payments.
func (inv *Invoice) PaidAmount() float64 {
	var paid float64
	for _, p := range inv.Payments {
		paid += p.Amount
	}
	return paid
}

// Balance returns the open amount.
func (inv *Invoice) Balance() float64 {
	return inv.TotalAmount() - inv.PaidAmount()
}
