package invoices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/atelier-erp/atelier/internal/audit"
	"github.com/atelier-erp/atelier/internal/quotations"
	"github.com/atelier-erp/atelier/internal/shared"
)

const auditEntity = "invoice"

// amountEpsilon absorbs float rounding in budget and balance comparisons.
const amountEpsilon = 1e-6

var amountPrinter = message.NewPrinter(language.English)

func formatAmount(v float64) string {
	return amountPrinter.Sprintf("%.2f", v)
}

// QuotationSource resolves the project's current accepted quotation, which
// carries the amount budget invoices draw against.
type QuotationSource interface {
	CurrentAccepted(ctx context.Context, projectID uuid.UUID) (*quotations.Quotation, error)
}

// Service owns invoice state transitions and the per-project amount budget.
type Service struct {
	repo       Repository
	quotes     QuotationSource
	clock      shared.Clock
	metrics    shared.TransitionRecorder
	logger     *slog.Logger
	maxRetries int
	backoff    time.Duration
}

// NewService constructs the invoice lifecycle.
func NewService(repo Repository, quotes QuotationSource, clock shared.Clock, metrics shared.TransitionRecorder, logger *slog.Logger) *Service {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:       repo,
		quotes:     quotes,
		clock:      clock,
		metrics:    metrics,
		logger:     logger,
		maxRetries: 4,
		backoff:    50 * time.Millisecond,
	}
}

func (s *Service) recordTransition(action string) {
	if s.metrics != nil {
		s.metrics.RecordTransition(auditEntity, action)
	}
}

// withDocRetry runs a single-document transition, retrying when the
// transaction loses a same-row write race surfaced as contention.
func (s *Service) withDocRetry(ctx context.Context, fn func(context.Context, Repository) error) error {
	return shared.RetryOnContention(ctx, s.maxRetries, s.backoff, func() error {
		return s.repo.WithTx(ctx, fn)
	})
}

// CreateRequest carries the input for a new draft invoice.
type CreateRequest struct {
	ProjectID uuid.UUID
	Lines     []LineInput
}

// LineInput is one requested invoice line.
type LineInput struct {
	ProductID uuid.UUID
	Quantity  float64
	UnitPrice float64
}

func validateLines(lines []LineInput) error {
	if len(lines) == 0 {
		return ErrEmptyLineItems
	}
	seen := make(map[uuid.UUID]struct{}, len(lines))
	for _, l := range lines {
		if l.ProductID == uuid.Nil {
			return fmt.Errorf("%w: line requires a product", shared.ErrValidation)
		}
		if l.Quantity <= 0 {
			return fmt.Errorf("%w: quantity must be positive", shared.ErrValidation)
		}
		if l.UnitPrice < 0 {
			return fmt.Errorf("%w: unit price must not be negative", shared.ErrValidation)
		}
		if _, dup := seen[l.ProductID]; dup {
			return fmt.Errorf("%w %s", ErrDuplicateProduct, l.ProductID)
		}
		seen[l.ProductID] = struct{}{}
	}
	return nil
}

// Create derives a new draft invoice from the project's current accepted
// quotation. Each line is checked against the remaining invoiceable amount
// for its product under the project lock, so two concurrent creations cannot
// both pass the check against the same stale budget. The source revision is
// stamped at creation and never updated.
func (s *Service) Create(ctx context.Context, req CreateRequest, actorID int64) (*Invoice, error) {
	if err := validateLines(req.Lines); err != nil {
		return nil, err
	}

	var invoiceID uuid.UUID
	err := shared.RetryOnContention(ctx, s.maxRetries, s.backoff, func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
			if err := repo.LockProject(ctx, req.ProjectID); err != nil {
				return err
			}
			// Resolved under the project lock: acceptance takes the same
			// lock, so the revision read here cannot be superseded before
			// this transaction commits.
			quotation, err := s.quotes.CurrentAccepted(ctx, req.ProjectID)
			if err != nil {
				if errors.Is(err, quotations.ErrNoAcceptedQuotation) {
					return ErrNoAcceptedQuotation
				}
				return fmt.Errorf("resolve accepted quotation: %w", err)
			}

			inv := Invoice{
				ID:                      uuid.New(),
				ProjectID:               req.ProjectID,
				SourceQuotationID:       quotation.ID,
				SourceQuotationRevision: quotation.RevisionNumber,
				Status:                  InvoiceStatusDraft,
				CreatedBy:               actorID,
			}
			for _, l := range req.Lines {
				inv.Lines = append(inv.Lines, InvoiceLine{
					InvoiceID: inv.ID,
					ProductID: l.ProductID,
					Quantity:  l.Quantity,
					UnitPrice: l.UnitPrice,
				})
			}
			invoiceID = inv.ID

			invoiced, err := repo.InvoicedAmountByProduct(ctx, req.ProjectID)
			if err != nil {
				return err
			}
			for _, l := range inv.Lines {
				quotationLine := quotation.LineForProduct(l.ProductID)
				if quotationLine == nil {
					return fmt.Errorf("%w: %s", ErrProductNotOnQuotation, l.ProductID)
				}
				remaining := quotationLine.Total() - invoiced[l.ProductID]
				if l.Total() > remaining+amountEpsilon {
					return fmt.Errorf("%w: product %s has %s remaining, requested %s",
						ErrExceedsQuotationAmount, l.ProductID, formatAmount(remaining), formatAmount(l.Total()))
				}
			}
			if err := repo.Create(ctx, inv); err != nil {
				return err
			}
			return repo.AppendAudit(ctx, audit.Entry{
				EntityType:  auditEntity,
				EntityID:    inv.ID,
				Action:      "CREATE",
				ActorUserID: actorID,
				After:       auditState(&inv),
				At:          s.clock.Now(),
			})
		})
	})
	if err != nil {
		return nil, err
	}
	s.recordTransition("CREATE")
	return s.repo.Get(ctx, invoiceID)
}

// Issue moves a draft invoice to ISSUED.
func (s *Service) Issue(ctx context.Context, id uuid.UUID, actorID int64) (*Invoice, error) {
	err := s.withDocRetry(ctx, func(ctx context.Context, repo Repository) error {
		inv, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if inv.Status != InvoiceStatusDraft {
			return fmt.Errorf("%w (status %s)", ErrAlreadyIssued, inv.Status)
		}
		before := auditState(inv)
		if err := repo.UpdateStatus(ctx, id, InvoiceStatusIssued); err != nil {
			return err
		}
		issued := *inv
		issued.Status = InvoiceStatusIssued
		return repo.AppendAudit(ctx, audit.Entry{
			EntityType:  auditEntity,
			EntityID:    id,
			Action:      "ISSUE",
			ActorUserID: actorID,
			Before:      before,
			After:       auditState(&issued),
			At:          s.clock.Now(),
		})
	})
	if err != nil {
		return nil, err
	}
	s.recordTransition("ISSUE")
	return s.repo.Get(ctx, id)
}

// RecordPayment applies a payment against an issued invoice. The invoice
// reaches PAID when cumulative payments cover the total, PARTIALLY_PAID
// otherwise. A payment beyond the open balance is refused.
func (s *Service) RecordPayment(ctx context.Context, id uuid.UUID, amount float64, actorID int64) (*Invoice, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: payment amount must be positive", shared.ErrValidation)
	}
	err := s.withDocRetry(ctx, func(ctx context.Context, repo Repository) error {
		inv, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if inv.Status != InvoiceStatusIssued && inv.Status != InvoiceStatusPartiallyPaid {
			return fmt.Errorf("%w: cannot record payment on %s invoice", ErrInvalidTransition, inv.Status)
		}
		balance := inv.Balance()
		if amount > balance+amountEpsilon {
			return fmt.Errorf("%w: open balance %s, payment %s", ErrOverpayment, formatAmount(balance), formatAmount(amount))
		}

		now := s.clock.Now()
		before := auditState(inv)
		if err := repo.AddPayment(ctx, Payment{InvoiceID: id, Amount: amount, PaidAt: now, RecordedBy: actorID}); err != nil {
			return err
		}
		status := InvoiceStatusPartiallyPaid
		if inv.PaidAmount()+amount >= inv.TotalAmount()-amountEpsilon {
			status = InvoiceStatusPaid
		}
		if err := repo.UpdateStatus(ctx, id, status); err != nil {
			return err
		}
		updated := *inv
		updated.Status = status
		updated.Payments = append(updated.Payments, Payment{InvoiceID: id, Amount: amount, PaidAt: now, RecordedBy: actorID})
		return repo.AppendAudit(ctx, audit.Entry{
			EntityType:  auditEntity,
			EntityID:    id,
			Action:      "PAYMENT",
			ActorUserID: actorID,
			Before:      before,
			After:       auditState(&updated),
			At:          now,
		})
	})
	if err != nil {
		return nil, err
	}
	s.recordTransition("PAYMENT")
	return s.repo.Get(ctx, id)
}

// Cancel voids a draft or unpaid issued invoice, releasing its amount back
// into the project's invoiceable budget. The payments guard runs first: an
// invoice that has taken money reports HasPayments whatever its status.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actorID int64) (*Invoice, error) {
	err := s.withDocRetry(ctx, func(ctx context.Context, repo Repository) error {
		inv, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if len(inv.Payments) > 0 {
			return ErrHasPayments
		}
		if inv.Status != InvoiceStatusDraft && inv.Status != InvoiceStatusIssued {
			return fmt.Errorf("%w: cannot cancel %s invoice", ErrInvalidTransition, inv.Status)
		}
		before := auditState(inv)
		if err := repo.UpdateStatus(ctx, id, InvoiceStatusCancelled); err != nil {
			return err
		}
		cancelled := *inv
		cancelled.Status = InvoiceStatusCancelled
		return repo.AppendAudit(ctx, audit.Entry{
			EntityType:  auditEntity,
			EntityID:    id,
			Action:      "CANCEL",
			ActorUserID: actorID,
			Before:      before,
			After:       auditState(&cancelled),
			At:          s.clock.Now(),
		})
	})
	if err != nil {
		return nil, err
	}
	s.recordTransition("CANCEL")
	return s.repo.Get(ctx, id)
}

// Get loads an invoice with lines and payments.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return s.repo.Get(ctx, id)
}

// ListByProject returns the project's invoices, newest first.
func (s *Service) ListByProject(ctx context.Context, projectID uuid.UUID, limit, offset int) ([]Invoice, error) {
	return s.repo.ListByProject(ctx, projectID, limit, offset)
}

// IsOutdated reports whether the invoice was derived from a quotation
// revision that is no longer the project's current accepted one. Derived on
// every read, never stored; an invoice against a project with no accepted
// quotation at all also reads as outdated.
func (s *Service) IsOutdated(ctx context.Context, inv *Invoice) (bool, error) {
	current, err := s.quotes.CurrentAccepted(ctx, inv.ProjectID)
	if err != nil {
		if errors.Is(err, quotations.ErrNoAcceptedQuotation) {
			return true, nil
		}
		return false, err
	}
	return inv.SourceQuotationRevision != current.RevisionNumber, nil
}

func auditState(inv *Invoice) map[string]any {
	return map[string]any{
		"status":          string(inv.Status),
		"project":         inv.ProjectID.String(),
		"source_revision": inv.SourceQuotationRevision,
		"total":           inv.TotalAmount(),
		"paid":            inv.PaidAmount(),
	}
}
