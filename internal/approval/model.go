package approval

import (
	"time"

	"github.com/google/uuid"
)

// DocumentType identifies which kind of document a chain governs.
type DocumentType string

const (
	DocumentTypeQuotation DocumentType = "QUOTATION"
	DocumentTypeInvoice   DocumentType = "INVOICE"
)

// ChainStatus enumerates approval chain states.
type ChainStatus string

const (
	ChainStatusActive   ChainStatus = "ACTIVE"
	ChainStatusComplete ChainStatus = "COMPLETE"
	ChainStatusRejected ChainStatus = "REJECTED"
)

// Terminal reports whether no further step decisions are possible.
func (s ChainStatus) Terminal() bool {
	return s == ChainStatusComplete || s == ChainStatusRejected
}

// StepState enumerates the states of a single approval step.
type StepState string

const (
	StepStatePending  StepState = "PENDING"
	StepStateApproved StepState = "APPROVED"
	StepStateRejected StepState = "REJECTED"
	StepStateSkipped  StepState = "SKIPPED"
)

// Chain is an ordered sequence of role-gated sign-off steps attached to a
// document. Step order is fixed by the template at instantiation and never
// changes afterwards.
type Chain struct {
	ID           uuid.UUID
	DocumentType DocumentType
	DocumentID   uuid.UUID
	TemplateID   uuid.UUID
	Status       ChainStatus
	Steps        []Step
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// StepBySequence returns the step with the given sequence, or nil.
func (c *Chain) StepBySequence(sequence int) *Step {
	for i := range c.Steps {
		if c.Steps[i].Sequence == sequence {
			return &c.Steps[i]
		}
	}
	return nil
}

// Step is one sign-off in a chain.
type Step struct {
	ID           uuid.UUID
	ChainID      uuid.UUID
	Sequence     int
	RequiredRole string
	State        StepState
	DecidedBy    *int64
	DecidedAt    *time.Time
	Note         string
}

// Template defines the ordered role list a chain is instantiated from.
// Templates are authored by admins; a chain keeps its own copy of the steps,
// so later template edits never affect documents already in flight.
type Template struct {
	ID           uuid.UUID
	Name         string
	DocumentType DocumentType
	Steps        []TemplateStep
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TemplateStep is one ordered role requirement in a template.
type TemplateStep struct {
	Sequence     int
	RequiredRole string
}
