package quotations

import (
	"fmt"

	"github.com/atelier-erp/atelier/internal/shared"
)

// Domain errors for the quotation lifecycle.
var (
	// ErrNotFound indicates the quotation does not exist.
	ErrNotFound = fmt.Errorf("%w: quotation", shared.ErrNotFound)

	// ErrInvalidTransition indicates the quotation is not in a state that permits the transition.
	ErrInvalidTransition = fmt.Errorf("%w: invalid quotation transition", shared.ErrStateConflict)
	// ErrLinesImmutable indicates line edits after the quotation left DRAFT.
	ErrLinesImmutable = fmt.Errorf("%w: line items are immutable once submitted", shared.ErrStateConflict)
	// ErrValidityNotElapsed indicates an expire call before the validity window closed.
	ErrValidityNotElapsed = fmt.Errorf("%w: quotation validity window has not elapsed", shared.ErrStateConflict)

	// ErrEmptyLineItems indicates a quotation without line items.
	ErrEmptyLineItems = fmt.Errorf("%w: quotation requires at least one line item", shared.ErrValidation)
	// ErrDuplicateProduct indicates two lines for the same product.
	ErrDuplicateProduct = fmt.Errorf("%w: duplicate product line", shared.ErrValidation)

	// ErrNoAcceptedQuotation indicates the project has no current accepted quotation.
	ErrNoAcceptedQuotation = fmt.Errorf("%w: project has no accepted quotation", shared.ErrStateConflict)
)
