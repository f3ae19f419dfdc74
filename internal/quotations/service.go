package quotations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/atelier-erp/atelier/internal/approval"
	"github.com/atelier-erp/atelier/internal/audit"
	"github.com/atelier-erp/atelier/internal/shared"
)

const auditEntity = "quotation"

// ChainEngine is the slice of the approval engine the quotation lifecycle
// needs: instantiating chains and receiving their outcomes.
type ChainEngine interface {
	Submit(ctx context.Context, docType approval.DocumentType, documentID uuid.UUID, templateID uuid.UUID, actorID int64) (*approval.Chain, error)
	ActiveChain(ctx context.Context, docType approval.DocumentType, documentID uuid.UUID) (*approval.Chain, error)
	RegisterHandler(docType approval.DocumentType, handler approval.CompletionHandler)
}

// Service owns quotation state transitions and the project's current accepted
// quotation pointer. It implements approval.CompletionHandler for chains of
// type QUOTATION.
type Service struct {
	repo       Repository
	chains     ChainEngine
	clock      shared.Clock
	metrics    shared.TransitionRecorder
	logger     *slog.Logger
	maxRetries int
	backoff    time.Duration
}

// NewService constructs the quotation lifecycle and registers it with the
// approval engine.
func NewService(repo Repository, chains ChainEngine, clock shared.Clock, metrics shared.TransitionRecorder, logger *slog.Logger) *Service {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:       repo,
		chains:     chains,
		clock:      clock,
		metrics:    metrics,
		logger:     logger,
		maxRetries: 4,
		backoff:    50 * time.Millisecond,
	}
	if chains != nil {
		chains.RegisterHandler(approval.DocumentTypeQuotation, s)
	}
	return s
}

func (s *Service) recordTransition(action string) {
	if s.metrics != nil {
		s.metrics.RecordTransition(auditEntity, action)
	}
}

// CreateRequest carries the input for a new draft quotation.
type CreateRequest struct {
	ProjectID  uuid.UUID
	ValidUntil time.Time
	Lines      []LineInput
}

// LineInput is one requested line position.
type LineInput struct {
	ProductID uuid.UUID
	Quantity  float64
	UnitPrice float64
}

func validateLines(lines []LineInput) ([]QuotationLine, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyLineItems
	}
	seen := make(map[uuid.UUID]struct{}, len(lines))
	out := make([]QuotationLine, 0, len(lines))
	for _, l := range lines {
		if l.ProductID == uuid.Nil {
			return nil, fmt.Errorf("%w: line requires a product", shared.ErrValidation)
		}
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive", shared.ErrValidation)
		}
		if l.UnitPrice < 0 {
			return nil, fmt.Errorf("%w: unit price must not be negative", shared.ErrValidation)
		}
		if _, dup := seen[l.ProductID]; dup {
			return nil, fmt.Errorf("%w %s", ErrDuplicateProduct, l.ProductID)
		}
		seen[l.ProductID] = struct{}{}
		out = append(out, QuotationLine{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	return out, nil
}

// Create authors a new draft quotation.
func (s *Service) Create(ctx context.Context, req CreateRequest, actorID int64) (*Quotation, error) {
	lines, err := validateLines(req.Lines)
	if err != nil {
		return nil, err
	}
	exists, err := s.repo.ProjectExists(ctx, req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("verify project: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: project", shared.ErrNotFound)
	}

	q := Quotation{
		ID:         uuid.New(),
		ProjectID:  req.ProjectID,
		Status:     QuotationStatusDraft,
		ValidUntil: req.ValidUntil,
		Lines:      lines,
		CreatedBy:  actorID,
	}
	for i := range q.Lines {
		q.Lines[i].QuotationID = q.ID
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := repo.Create(ctx, q); err != nil {
			return err
		}
		return repo.AppendAudit(ctx, audit.Entry{
			EntityType:  auditEntity,
			EntityID:    q.ID,
			Action:      "CREATE",
			ActorUserID: actorID,
			After:       auditState(&q),
			At:          s.clock.Now(),
		})
	})
	if err != nil {
		return nil, err
	}
	s.recordTransition("CREATE")
	return s.repo.Get(ctx, q.ID)
}

// UpdateDraft replaces lines and validity on a draft quotation.
func (s *Service) UpdateDraft(ctx context.Context, id uuid.UUID, req CreateRequest, actorID int64) (*Quotation, error) {
	lines, err := validateLines(req.Lines)
	if err != nil {
		return nil, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		existing, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if existing.Status != QuotationStatusDraft {
			return fmt.Errorf("%w (status %s)", ErrLinesImmutable, existing.Status)
		}
		before := auditState(existing)
		for i := range lines {
			lines[i].QuotationID = id
		}
		if err := repo.ReplaceLines(ctx, id, lines); err != nil {
			return err
		}
		if !req.ValidUntil.IsZero() {
			if err := repo.UpdateValidity(ctx, id, req.ValidUntil); err != nil {
				return err
			}
		}
		updated := *existing
		updated.Lines = lines
		return repo.AppendAudit(ctx, audit.Entry{
			EntityType:  auditEntity,
			EntityID:    id,
			Action:      "UPDATE_DRAFT",
			ActorUserID: actorID,
			Before:      before,
			After:       auditState(&updated),
			At:          s.clock.Now(),
		})
	})
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// SubmitForApproval moves a draft into the approval chain. The chain is
// instantiated first; a document with an active chain cannot be double
// submitted, so a failed status write leaves no second path to acceptance.
func (s *Service) SubmitForApproval(ctx context.Context, id uuid.UUID, templateID uuid.UUID, actorID int64) (*Quotation, error) {
	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if q.Status != QuotationStatusDraft {
		return nil, fmt.Errorf("%w: can only submit DRAFT quotations (status %s)", ErrInvalidTransition, q.Status)
	}
	if len(q.Lines) == 0 {
		return nil, ErrEmptyLineItems
	}

	chain, err := s.chains.Submit(ctx, approval.DocumentTypeQuotation, q.ID, templateID, actorID)
	if errors.Is(err, approval.ErrAlreadySubmitted) {
		// A draft with an active chain means an earlier submit created the
		// chain but never got to write the status. Relink instead of
		// stranding the quotation.
		chain, err = s.chains.ActiveChain(ctx, approval.DocumentTypeQuotation, q.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("submit approval chain: %w", err)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		before := auditState(q)
		if err := repo.UpdateStatus(ctx, id, QuotationStatusPendingApproval); err != nil {
			return err
		}
		if err := repo.SetChain(ctx, id, chain.ID); err != nil {
			return err
		}
		after := *q
		after.Status = QuotationStatusPendingApproval
		after.ApprovalChainID = &chain.ID
		return repo.AppendAudit(ctx, audit.Entry{
			EntityType:  auditEntity,
			EntityID:    id,
			Action:      "SUBMIT",
			ActorUserID: actorID,
			Before:      before,
			After:       auditState(&after),
			At:          s.clock.Now(),
		})
	})
	if err != nil {
		return nil, err
	}
	s.recordTransition("SUBMIT")
	return s.repo.Get(ctx, id)
}

// OnChainComplete accepts the fully approved quotation and supersedes the
// project's previous accepted quotation. The whole step is one transaction
// under the project lock: mark old SUPERSEDED, assign the next revision, mark
// new ACCEPTED, repoint the project.
func (s *Service) OnChainComplete(ctx context.Context, quotationID uuid.UUID, actorID int64) error {
	var superseded bool
	err := shared.RetryOnContention(ctx, s.maxRetries, s.backoff, func() error {
		superseded = false
		return s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
			q, err := repo.Get(ctx, quotationID)
			if err != nil {
				return err
			}
			if q.Status != QuotationStatusPendingApproval {
				return fmt.Errorf("%w: quotation is %s, expected PENDING_APPROVAL", ErrInvalidTransition, q.Status)
			}
			if err := repo.LockProject(ctx, q.ProjectID); err != nil {
				return err
			}

			now := s.clock.Now()
			prev, err := repo.CurrentAccepted(ctx, q.ProjectID)
			if err != nil && !errors.Is(err, ErrNoAcceptedQuotation) {
				return err
			}
			if prev != nil {
				superseded = true
				prevBefore := auditState(prev)
				if err := repo.UpdateStatus(ctx, prev.ID, QuotationStatusSuperseded); err != nil {
					return err
				}
				prevAfter := *prev
				prevAfter.Status = QuotationStatusSuperseded
				if err := repo.AppendAudit(ctx, audit.Entry{
					EntityType:  auditEntity,
					EntityID:    prev.ID,
					Action:      "SUPERSEDE",
					ActorUserID: actorID,
					Before:      prevBefore,
					After:       auditState(&prevAfter),
					At:          now,
				}); err != nil {
					return err
				}
			}

			maxRev, err := repo.MaxRevision(ctx, q.ProjectID)
			if err != nil {
				return err
			}
			revision := maxRev + 1

			before := auditState(q)
			if err := repo.MarkAccepted(ctx, q.ID, revision); err != nil {
				return err
			}
			if err := repo.SetProjectCurrent(ctx, q.ProjectID, &q.ID); err != nil {
				return err
			}

			accepted := *q
			accepted.Status = QuotationStatusAccepted
			accepted.RevisionNumber = revision
			return repo.AppendAudit(ctx, audit.Entry{
				EntityType:  auditEntity,
				EntityID:    q.ID,
				Action:      "ACCEPT",
				ActorUserID: actorID,
				Before:      before,
				After:       auditState(&accepted),
				At:          now,
			})
		})
	})
	if err != nil {
		return err
	}
	if superseded {
		s.recordTransition("SUPERSEDE")
	}
	s.recordTransition("ACCEPT")
	return nil
}

// OnChainRejected marks the quotation rejected. Rejection is terminal; the
// author creates a new draft for another attempt.
func (s *Service) OnChainRejected(ctx context.Context, quotationID uuid.UUID, actorID int64, reason string) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		q, err := repo.Get(ctx, quotationID)
		if err != nil {
			return err
		}
		if q.Status != QuotationStatusPendingApproval {
			return fmt.Errorf("%w: quotation is %s, expected PENDING_APPROVAL", ErrInvalidTransition, q.Status)
		}
		before := auditState(q)
		if err := repo.UpdateStatus(ctx, quotationID, QuotationStatusRejected); err != nil {
			return err
		}
		rejected := *q
		rejected.Status = QuotationStatusRejected
		return repo.AppendAudit(ctx, audit.Entry{
			EntityType:  auditEntity,
			EntityID:    quotationID,
			Action:      "REJECT",
			ActorUserID: actorID,
			Before:      before,
			After:       auditState(&rejected),
			At:          s.clock.Now(),
		})
	})
	if err != nil {
		return err
	}
	s.recordTransition("REJECT")
	return nil
}

// Expire transitions an accepted or approved quotation past its validity
// window to EXPIRED. Expiring the current accepted quotation clears the
// project pointer, leaving the project without commercial terms until a new
// revision is accepted.
func (s *Service) Expire(ctx context.Context, id uuid.UUID, actorID int64) (*Quotation, error) {
	err := shared.RetryOnContention(ctx, s.maxRetries, s.backoff, func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
			q, err := repo.Get(ctx, id)
			if err != nil {
				return err
			}
			if q.Status != QuotationStatusAccepted && q.Status != QuotationStatusApproved {
				return fmt.Errorf("%w: cannot expire %s quotation", ErrInvalidTransition, q.Status)
			}
			now := s.clock.Now()
			if now.Before(q.ValidUntil) {
				return fmt.Errorf("%w (valid until %s)", ErrValidityNotElapsed, q.ValidUntil.Format(time.RFC3339))
			}
			if err := repo.LockProject(ctx, q.ProjectID); err != nil {
				return err
			}

			before := auditState(q)
			if err := repo.UpdateStatus(ctx, id, QuotationStatusExpired); err != nil {
				return err
			}
			if q.Status == QuotationStatusAccepted {
				if err := repo.SetProjectCurrent(ctx, q.ProjectID, nil); err != nil {
					return err
				}
			}
			expired := *q
			expired.Status = QuotationStatusExpired
			return repo.AppendAudit(ctx, audit.Entry{
				EntityType:  auditEntity,
				EntityID:    id,
				Action:      "EXPIRE",
				ActorUserID: actorID,
				Before:      before,
				After:       auditState(&expired),
				At:          now,
			})
		})
	})
	if err != nil {
		return nil, err
	}
	s.recordTransition("EXPIRE")
	return s.repo.Get(ctx, id)
}

// ExpireDue sweeps quotations whose validity window has elapsed. Used by the
// background worker; returns how many quotations were expired.
func (s *Service) ExpireDue(ctx context.Context, limit int) (int, error) {
	due, err := s.repo.ListExpirable(ctx, s.clock.Now(), limit)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, q := range due {
		if _, err := s.Expire(ctx, q.ID, 0); err != nil {
			if errors.Is(err, shared.ErrStateConflict) {
				continue
			}
			return expired, err
		}
		expired++
	}
	return expired, nil
}

// ReconcileChainOutcomes picks up quotations whose approval chain reached a
// terminal state without the quotation moving on, which happens when a crash
// or exhausted retry lands between the deciding step's commit and the outcome
// callback. It replays the outcome. Used by the background worker; returns
// how many quotations were moved.
func (s *Service) ReconcileChainOutcomes(ctx context.Context, limit int) (int, error) {
	stuck, err := s.repo.ListPendingChainOutcomes(ctx, limit)
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, o := range stuck {
		switch o.ChainStatus {
		case approval.ChainStatusComplete:
			err = s.OnChainComplete(ctx, o.QuotationID, 0)
		case approval.ChainStatusRejected:
			err = s.OnChainRejected(ctx, o.QuotationID, 0, "approval chain rejected")
		default:
			continue
		}
		if err != nil {
			if errors.Is(err, shared.ErrStateConflict) {
				continue
			}
			return moved, err
		}
		moved++
	}
	return moved, nil
}

// Get loads a quotation with lines.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Quotation, error) {
	return s.repo.Get(ctx, id)
}

// CurrentAccepted returns the project's authoritative quotation.
func (s *Service) CurrentAccepted(ctx context.Context, projectID uuid.UUID) (*Quotation, error) {
	return s.repo.CurrentAccepted(ctx, projectID)
}

func auditState(q *Quotation) map[string]any {
	state := map[string]any{
		"status":   string(q.Status),
		"revision": q.RevisionNumber,
		"project":  q.ProjectID.String(),
	}
	if len(q.Lines) > 0 {
		lines := make([]map[string]any, 0, len(q.Lines))
		for _, l := range q.Lines {
			lines = append(lines, map[string]any{
				"product":    l.ProductID.String(),
				"quantity":   l.Quantity,
				"unit_price": l.UnitPrice,
			})
		}
		state["lines"] = lines
	}
	return state
}
