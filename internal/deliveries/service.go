package deliveries

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/atelier-erp/atelier/internal/audit"
	"github.com/atelier-erp/atelier/internal/quotations"
	"github.com/atelier-erp/atelier/internal/shared"
)

const auditEntity = "delivery"

const quantityEpsilon = 1e-6

// QuotationSource resolves the project's current accepted quotation, which
// carries the quantity allowance deliveries draw against.
type QuotationSource interface {
	CurrentAccepted(ctx context.Context, projectID uuid.UUID) (*quotations.Quotation, error)
}

// Service owns delivery state transitions and the per-project quantity ledger.
type Service struct {
	repo       Repository
	quotes     QuotationSource
	clock      shared.Clock
	metrics    shared.TransitionRecorder
	logger     *slog.Logger
	maxRetries int
	backoff    time.Duration
}

// NewService constructs the delivery lifecycle.
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

// CreateRequest carries the input for a new pending delivery.
type CreateRequest struct {
	ProjectID uuid.UUID
	Lines     []LineInput
}

// LineInput is one requested delivery line.
type LineInput struct {
	ProductID uuid.UUID
	Quantity  float64
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
		if _, dup := seen[l.ProductID]; dup {
			return fmt.Errorf("%w %s", ErrDuplicateProduct, l.ProductID)
		}
		seen[l.ProductID] = struct{}{}
	}
	return nil
}

// Create opens a new pending delivery against the project's current accepted
// quotation. Each line's quantity is checked against the remaining
// deliverable quantity under the project lock; returned deliveries do not
// count against the allowance. The source revision is stamped at creation.
func (s *Service) Create(ctx context.Context, req CreateRequest, actorID int64) (*Delivery, error) {
	if err := validateLines(req.Lines); err != nil {
		return nil, err
	}

	var deliveryID uuid.UUID
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

			d := Delivery{
				ID:                      uuid.New(),
				ProjectID:               req.ProjectID,
				SourceQuotationID:       quotation.ID,
				SourceQuotationRevision: quotation.RevisionNumber,
				Status:                  DeliveryStatusPending,
				CreatedBy:               actorID,
			}
			for _, l := range req.Lines {
				d.Lines = append(d.Lines, DeliveryLine{DeliveryID: d.ID, ProductID: l.ProductID, Quantity: l.Quantity})
			}
			deliveryID = d.ID

			delivered, err := repo.DeliveredQuantityByProduct(ctx, req.ProjectID)
			if err != nil {
				return err
			}
			for _, l := range d.Lines {
				quotationLine := quotation.LineForProduct(l.ProductID)
				if quotationLine == nil {
					return fmt.Errorf("%w: %s", ErrProductNotOnQuotation, l.ProductID)
				}
				remaining := quotationLine.Quantity - delivered[l.ProductID]
				if l.Quantity > remaining+quantityEpsilon {
					return fmt.Errorf("%w: product %s has %.3f remaining, requested %.3f",
						ErrExceedsRemainingQuantity, l.ProductID, remaining, l.Quantity)
				}
			}
			if err := repo.Create(ctx, d); err != nil {
				return err
			}
			return repo.AppendAudit(ctx, audit.Entry{
				EntityType:  auditEntity,
				EntityID:    d.ID,
				Action:      "CREATE",
				ActorUserID: actorID,
				After:       auditState(&d),
				At:          s.clock.Now(),
			})
		})
	})
	if err != nil {
		return nil, err
	}
	s.recordTransition("CREATE")
	return s.repo.Get(ctx, deliveryID)
}

// MarkDelivered moves a pending delivery to DELIVERED.
func (s *Service) MarkDelivered(ctx context.Context, id uuid.UUID, actorID int64) (*Delivery, error) {
	return s.transition(ctx, id, DeliveryStatusPending, DeliveryStatusDelivered, "DELIVER", actorID)
}

// MarkReturned moves a delivered delivery to RETURNED, re-opening its
// quantities for new deliveries.
func (s *Service) MarkReturned(ctx context.Context, id uuid.UUID, actorID int64) (*Delivery, error) {
	return s.transition(ctx, id, DeliveryStatusDelivered, DeliveryStatusReturned, "RETURN", actorID)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, from, to DeliveryStatus, action string, actorID int64) (*Delivery, error) {
	err := shared.RetryOnContention(ctx, s.maxRetries, s.backoff, func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
			d, err := repo.Get(ctx, id)
			if err != nil {
				return err
			}
			if d.Status != from {
				return fmt.Errorf("%w: %s -> %s not allowed", ErrInvalidTransition, d.Status, to)
			}
			before := auditState(d)
			if err := repo.UpdateStatus(ctx, id, to); err != nil {
				return err
			}
			after := *d
			after.Status = to
			return repo.AppendAudit(ctx, audit.Entry{
				EntityType:  auditEntity,
				EntityID:    id,
				Action:      action,
				ActorUserID: actorID,
				Before:      before,
				After:       auditState(&after),
				At:          s.clock.Now(),
			})
		})
	})
	if err != nil {
		return nil, err
	}
	s.recordTransition(action)
	return s.repo.Get(ctx, id)
}

// Get loads a delivery with lines.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Delivery, error) {
	return s.repo.Get(ctx, id)
}

// ListByProject returns the project's deliveries, newest first.
func (s *Service) ListByProject(ctx context.Context, projectID uuid.UUID, limit, offset int) ([]Delivery, error) {
	return s.repo.ListByProject(ctx, projectID, limit, offset)
}

// IsOutdated reports whether the delivery was derived from a quotation
// revision that is no longer the project's current accepted one.
func (s *Service) IsOutdated(ctx context.Context, d *Delivery) (bool, error) {
	current, err := s.quotes.CurrentAccepted(ctx, d.ProjectID)
	if err != nil {
		if errors.Is(err, quotations.ErrNoAcceptedQuotation) {
			return true, nil
		}
		return false, err
	}
	return d.SourceQuotationRevision != current.RevisionNumber, nil
}

func auditState(d *Delivery) map[string]any {
	state := map[string]any{
		"status":          string(d.Status),
		"project":         d.ProjectID.String(),
		"source_revision": d.SourceQuotationRevision,
	}
	if len(d.Lines) > 0 {
		lines := make([]map[string]any, 0, len(d.Lines))
		for _, l := range d.Lines {
			lines = append(lines, map[string]any{"product": l.ProductID.String(), "quantity": l.Quantity})
		}
		state["lines"] = lines
	}
	return state
}
