package approval

import (
	"fmt"

	"github.com/atelier-erp/atelier/internal/shared"
)

// Domain errors for the approval chain engine.
var (
	// ErrNotFound indicates the requested chain does not exist.
	ErrNotFound = fmt.Errorf("%w: approval chain", shared.ErrNotFound)
	// ErrStepNotFound indicates the chain has no step with that sequence.
	ErrStepNotFound = fmt.Errorf("%w: approval step", shared.ErrNotFound)
	// ErrTemplateNotFound indicates the chain template does not exist.
	ErrTemplateNotFound = fmt.Errorf("%w: approval chain template", shared.ErrNotFound)

	// ErrAlreadySubmitted indicates the document already has an active chain.
	ErrAlreadySubmitted = fmt.Errorf("%w: document already has an active approval chain", shared.ErrStateConflict)
	// ErrOutOfOrder indicates a lower-sequence step is not approved yet.
	ErrOutOfOrder = fmt.Errorf("%w: an earlier approval step is not approved", shared.ErrStateConflict)
	// ErrAlreadyResolved indicates the step is no longer pending.
	ErrAlreadyResolved = fmt.Errorf("%w: approval step already resolved", shared.ErrStateConflict)
	// ErrChainTerminated indicates the chain reached a terminal state.
	ErrChainTerminated = fmt.Errorf("%w: approval chain already terminated", shared.ErrStateConflict)

	// ErrForbidden indicates the actor lacks the step's required role.
	ErrForbidden = fmt.Errorf("%w: acting user does not hold the required role", shared.ErrForbidden)

	// ErrTemplateEmpty indicates a template without steps.
	ErrTemplateEmpty = fmt.Errorf("%w: approval template requires at least one step", shared.ErrValidation)
	// ErrTemplateRole indicates a template step names an unknown role.
	ErrTemplateRole = fmt.Errorf("%w: approval template step names an unknown role", shared.ErrValidation)
	// ErrDocumentTypeMismatch indicates a template bound to another document type.
	ErrDocumentTypeMismatch = fmt.Errorf("%w: template is for a different document type", shared.ErrValidation)
)
