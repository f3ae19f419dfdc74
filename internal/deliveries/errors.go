package deliveries

import (
	"fmt"

	"github.com/atelier-erp/atelier/internal/shared"
)

// Domain errors for the delivery lifecycle.
var (
	// ErrNotFound indicates the delivery does not exist.
	ErrNotFound = fmt.Errorf("%w: delivery", shared.ErrNotFound)

	// ErrNoAcceptedQuotation indicates the project has no accepted quotation to deliver against.
	ErrNoAcceptedQuotation = fmt.Errorf("%w: project has no accepted quotation", shared.ErrStateConflict)
	// ErrInvalidTransition indicates the delivery is not in a state that permits the transition.
	ErrInvalidTransition = fmt.Errorf("%w: invalid delivery transition", shared.ErrStateConflict)

	// ErrExceedsRemainingQuantity indicates a line would overrun the accepted quotation's quantity allowance.
	ErrExceedsRemainingQuantity = fmt.Errorf("%w: quantity exceeds remaining deliverable quantity", shared.ErrInvariant)
	// ErrProductNotOnQuotation indicates a line for a product the accepted quotation does not carry.
	ErrProductNotOnQuotation = fmt.Errorf("%w: product not on accepted quotation", shared.ErrValidation)

	// ErrEmptyLineItems indicates a delivery without line items.
	ErrEmptyLineItems = fmt.Errorf("%w: delivery requires at least one line item", shared.ErrValidation)
	// ErrDuplicateProduct indicates two lines for the same product.
	ErrDuplicateProduct = fmt.Errorf("%w: duplicate product line", shared.ErrValidation)
)
