package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/atelier-erp/atelier/internal/audit"
	"github.com/atelier-erp/atelier/internal/authz"
	"github.com/atelier-erp/atelier/internal/shared"
)

const auditEntity = "approval_chain"

// CompletionHandler is implemented by document lifecycles that own chains.
// The engine calls back after the deciding transaction commits; the handler
// runs its own transaction (acceptance touches multiple rows of its own).
type CompletionHandler interface {
	OnChainComplete(ctx context.Context, documentID uuid.UUID, actorID int64) error
	OnChainRejected(ctx context.Context, documentID uuid.UUID, actorID int64, reason string) error
}

// Engine evaluates and advances approval chains.
type Engine struct {
	repo       Repository
	authorizer authz.Authorizer
	clock      shared.Clock
	logger     *slog.Logger
	handlers   map[DocumentType]CompletionHandler
	maxRetries int
	backoff    time.Duration
}

// NewEngine constructs the approval chain engine.
func NewEngine(repo Repository, authorizer authz.Authorizer, clock shared.Clock, logger *slog.Logger) *Engine {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		repo:       repo,
		authorizer: authorizer,
		clock:      clock,
		logger:     logger,
		handlers:   make(map[DocumentType]CompletionHandler),
		maxRetries: 3,
		backoff:    50 * time.Millisecond,
	}
}

// RegisterHandler binds a document lifecycle to its chain outcomes.
func (e *Engine) RegisterHandler(docType DocumentType, handler CompletionHandler) {
	e.handlers[docType] = handler
}

// Submit instantiates a chain from a template with all steps pending.
func (e *Engine) Submit(ctx context.Context, docType DocumentType, documentID uuid.UUID, templateID uuid.UUID, actorID int64) (*Chain, error) {
	tmpl, err := e.repo.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if tmpl.DocumentType != docType {
		return nil, ErrDocumentTypeMismatch
	}
	if len(tmpl.Steps) == 0 {
		return nil, ErrTemplateEmpty
	}

	chain := Chain{
		ID:           uuid.New(),
		DocumentType: docType,
		DocumentID:   documentID,
		TemplateID:   templateID,
		Status:       ChainStatusActive,
	}
	for _, ts := range tmpl.Steps {
		chain.Steps = append(chain.Steps, Step{
			ID:           uuid.New(),
			ChainID:      chain.ID,
			Sequence:     ts.Sequence,
			RequiredRole: ts.RequiredRole,
			State:        StepStatePending,
		})
	}

	err = e.withRetry(ctx, func() error {
		return e.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
			if err := repo.LockDocument(ctx, documentID); err != nil {
				return err
			}
			_, err := repo.ActiveChainForDocument(ctx, docType, documentID)
			if err == nil {
				return ErrAlreadySubmitted
			}
			if !errors.Is(err, shared.ErrNotFound) {
				return err
			}
			if err := repo.CreateChain(ctx, chain); err != nil {
				return err
			}
			return repo.AppendAudit(ctx, audit.Entry{
				EntityType:  auditEntity,
				EntityID:    chain.ID,
				Action:      "SUBMIT",
				ActorUserID: actorID,
				After:       chainAuditState(&chain),
				At:          e.clock.Now(),
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return &chain, nil
}

// ApproveStep marks a pending step approved. Approving the final step marks
// the chain complete and notifies the owning document's lifecycle.
func (e *Engine) ApproveStep(ctx context.Context, chainID uuid.UUID, sequence int, actorID int64) (*Chain, error) {
	var (
		result    *Chain
		completed bool
	)
	err := e.withRetry(ctx, func() error {
		completed = false
		return e.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
			chain, step, err := e.pendingStep(ctx, repo, chainID, sequence)
			if err != nil {
				return err
			}
			for i := range chain.Steps {
				if chain.Steps[i].Sequence < sequence && chain.Steps[i].State != StepStateApproved {
					return fmt.Errorf("%w (step %d is %s)", ErrOutOfOrder, chain.Steps[i].Sequence, chain.Steps[i].State)
				}
			}
			if err := e.requireRole(ctx, actorID, step.RequiredRole); err != nil {
				return err
			}

			before := chainAuditState(chain)
			now := e.clock.Now()
			step.State = StepStateApproved
			step.DecidedBy = &actorID
			step.DecidedAt = &now
			if err := repo.UpdateStep(ctx, *step); err != nil {
				return err
			}

			completed = true
			for i := range chain.Steps {
				if chain.Steps[i].State != StepStateApproved {
					completed = false
					break
				}
			}
			if completed {
				chain.Status = ChainStatusComplete
				if err := repo.UpdateChainStatus(ctx, chain.ID, ChainStatusComplete); err != nil {
					return err
				}
			}

			result = chain
			return repo.AppendAudit(ctx, audit.Entry{
				EntityType:  auditEntity,
				EntityID:    chain.ID,
				Action:      fmt.Sprintf("STEP_%d_APPROVED", sequence),
				ActorUserID: actorID,
				Before:      before,
				After:       chainAuditState(chain),
				At:          now,
			})
		})
	})
	if err != nil {
		return nil, err
	}

	if completed {
		if handler, ok := e.handlers[result.DocumentType]; ok {
			if err := handler.OnChainComplete(ctx, result.DocumentID, actorID); err != nil {
				return nil, fmt.Errorf("chain complete callback: %w", err)
			}
		} else {
			e.logger.Warn("approval chain completed without handler",
				slog.String("document_type", string(result.DocumentType)),
				slog.String("chain_id", result.ID.String()))
		}
	}
	return result, nil
}

// RejectStep marks a pending step rejected, skips every later step, terminates
// the chain, and notifies the owning document's lifecycle.
func (e *Engine) RejectStep(ctx context.Context, chainID uuid.UUID, sequence int, actorID int64, reason string) (*Chain, error) {
	var result *Chain
	err := e.withRetry(ctx, func() error {
		return e.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
			chain, step, err := e.pendingStep(ctx, repo, chainID, sequence)
			if err != nil {
				return err
			}
			for i := range chain.Steps {
				if chain.Steps[i].Sequence < sequence && chain.Steps[i].State != StepStateApproved {
					return fmt.Errorf("%w (step %d is %s)", ErrOutOfOrder, chain.Steps[i].Sequence, chain.Steps[i].State)
				}
			}
			if err := e.requireRole(ctx, actorID, step.RequiredRole); err != nil {
				return err
			}

			before := chainAuditState(chain)
			now := e.clock.Now()
			step.State = StepStateRejected
			step.DecidedBy = &actorID
			step.DecidedAt = &now
			step.Note = reason
			if err := repo.UpdateStep(ctx, *step); err != nil {
				return err
			}
			for i := range chain.Steps {
				if chain.Steps[i].Sequence > sequence && chain.Steps[i].State == StepStatePending {
					chain.Steps[i].State = StepStateSkipped
					if err := repo.UpdateStep(ctx, chain.Steps[i]); err != nil {
						return err
					}
				}
			}
			chain.Status = ChainStatusRejected
			if err := repo.UpdateChainStatus(ctx, chain.ID, ChainStatusRejected); err != nil {
				return err
			}

			result = chain
			return repo.AppendAudit(ctx, audit.Entry{
				EntityType:  auditEntity,
				EntityID:    chain.ID,
				Action:      fmt.Sprintf("STEP_%d_REJECTED", sequence),
				ActorUserID: actorID,
				Before:      before,
				After:       chainAuditState(chain),
				At:          now,
			})
		})
	})
	if err != nil {
		return nil, err
	}

	if handler, ok := e.handlers[result.DocumentType]; ok {
		if err := handler.OnChainRejected(ctx, result.DocumentID, actorID, reason); err != nil {
			return nil, fmt.Errorf("chain rejected callback: %w", err)
		}
	}
	return result, nil
}

// GetChain loads a chain with its steps.
func (e *Engine) GetChain(ctx context.Context, chainID uuid.UUID) (*Chain, error) {
	return e.repo.GetChain(ctx, chainID)
}

// ActiveChain returns the document's active chain, if one exists. Lifecycles
// use it to relink a document whose submit never recorded the chain id.
func (e *Engine) ActiveChain(ctx context.Context, docType DocumentType, documentID uuid.UUID) (*Chain, error) {
	return e.repo.ActiveChainForDocument(ctx, docType, documentID)
}

// CreateTemplate stores a new chain template after validating its steps.
func (e *Engine) CreateTemplate(ctx context.Context, tmpl Template) (*Template, error) {
	if len(tmpl.Steps) == 0 {
		return nil, ErrTemplateEmpty
	}
	for i, s := range tmpl.Steps {
		if !shared.KnownRole(s.RequiredRole) {
			return nil, fmt.Errorf("%w: %q", ErrTemplateRole, s.RequiredRole)
		}
		if s.Sequence != i+1 {
			return nil, fmt.Errorf("%w: step sequences must be contiguous from 1", shared.ErrValidation)
		}
	}
	if tmpl.ID == uuid.Nil {
		tmpl.ID = uuid.New()
	}
	if err := e.repo.CreateTemplate(ctx, tmpl); err != nil {
		return nil, err
	}
	return &tmpl, nil
}

// ListTemplates returns templates, optionally filtered by document type.
func (e *Engine) ListTemplates(ctx context.Context, docType DocumentType) ([]Template, error) {
	return e.repo.ListTemplates(ctx, docType)
}

func (e *Engine) pendingStep(ctx context.Context, repo Repository, chainID uuid.UUID, sequence int) (*Chain, *Step, error) {
	if err := repo.LockChain(ctx, chainID); err != nil {
		return nil, nil, err
	}
	chain, err := repo.GetChain(ctx, chainID)
	if err != nil {
		return nil, nil, err
	}
	if chain.Status.Terminal() {
		return nil, nil, ErrChainTerminated
	}
	step := chain.StepBySequence(sequence)
	if step == nil {
		return nil, nil, ErrStepNotFound
	}
	if step.State != StepStatePending {
		return nil, nil, fmt.Errorf("%w (step %d is %s)", ErrAlreadyResolved, sequence, step.State)
	}
	return chain, step, nil
}

func (e *Engine) requireRole(ctx context.Context, actorID int64, role string) error {
	ok, err := e.authorizer.HasRole(ctx, actorID, role)
	if err != nil {
		return fmt.Errorf("check role: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w %q", ErrForbidden, role)
	}
	return nil
}

func (e *Engine) withRetry(ctx context.Context, fn func() error) error {
	return shared.RetryOnContention(ctx, e.maxRetries, e.backoff, fn)
}

func chainAuditState(c *Chain) map[string]any {
	steps := make([]map[string]any, 0, len(c.Steps))
	for _, s := range c.Steps {
		steps = append(steps, map[string]any{
			"sequence": s.Sequence,
			"role":     s.RequiredRole,
			"state":    string(s.State),
		})
	}
	return map[string]any{
		"status": string(c.Status),
		"steps":  steps,
	}
}
