package invoices

import (
	"fmt"

	"github.com/atelier-erp/atelier/internal/shared"
)

// Domain errors for the invoice lifecycle.
var (
	// ErrNotFound indicates the invoice does not exist.
	ErrNotFound = fmt.Errorf("%w: invoice", shared.ErrNotFound)

	// ErrNoAcceptedQuotation indicates the project has no accepted quotation to invoice against.
	ErrNoAcceptedQuotation = fmt.Errorf("%w: project has no accepted quotation", shared.ErrStateConflict)
	// ErrAlreadyIssued indicates an issue call on a non-DRAFT invoice.
	ErrAlreadyIssued = fmt.Errorf("%w: invoice already issued", shared.ErrStateConflict)
	// ErrInvalidTransition indicates the invoice is not in a state that permits the transition.
	ErrInvalidTransition = fmt.Errorf("%w: invalid invoice transition", shared.ErrStateConflict)
	// ErrHasPayments indicates a cancel call on an invoice that has recorded payments.
	ErrHasPayments = fmt.Errorf("%w: invoice has recorded payments", shared.ErrStateConflict)

	// ErrExceedsQuotationAmount indicates a line would overrun the accepted quotation's amount budget.
	ErrExceedsQuotationAmount = fmt.Errorf("%w: amount exceeds remaining invoiceable amount", shared.ErrInvariant)
	// ErrOverpayment indicates a payment beyond the invoice's open balance.
	ErrOverpayment = fmt.Errorf("%w: payment exceeds open balance", shared.ErrInvariant)
	// ErrProductNotOnQuotation indicates a line for a product the accepted quotation does not carry.
	ErrProductNotOnQuotation = fmt.Errorf("%w: product not on accepted quotation", shared.ErrValidation)

	// ErrEmptyLineItems indicates an invoice without line items.
	ErrEmptyLineItems = fmt.Errorf("%w: invoice requires at least one line item", shared.ErrValidation)
	// ErrDuplicateProduct indicates two lines for the same product.
	ErrDuplicateProduct = fmt.Errorf("%w: duplicate product line", shared.ErrValidation)
)
