package quotations

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/atelier-erp/atelier/internal/approval"
	"github.com/atelier-erp/atelier/internal/audit"
	"github.com/atelier-erp/atelier/internal/shared"
)

// memoryQuotationRepo is an in-memory Repository. WithTx holds a mutex so
// concurrent transactions serialize the way the project advisory lock does.
type memoryQuotationRepo struct {
	mu            sync.Mutex
	quotations    map[uuid.UUID]*Quotation
	projects      map[uuid.UUID]*uuid.UUID
	chainOutcomes map[uuid.UUID]approval.ChainStatus
	audits        []audit.Entry
}

func newMemoryQuotationRepo() *memoryQuotationRepo {
	return &memoryQuotationRepo{
		quotations:    make(map[uuid.UUID]*Quotation),
		projects:      make(map[uuid.UUID]*uuid.UUID),
		chainOutcomes: make(map[uuid.UUID]approval.ChainStatus),
	}
}

func (m *memoryQuotationRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, (*memoryTxRepo)(m))
}

func (m *memoryQuotationRepo) LockProject(ctx context.Context, projectID uuid.UUID) error {
	return nil
}

func (m *memoryQuotationRepo) Get(ctx context.Context, id uuid.UUID) (*Quotation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memoryTxRepo)(m).Get(ctx, id)
}

func (m *memoryQuotationRepo) Create(ctx context.Context, q Quotation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memoryTxRepo)(m).Create(ctx, q)
}

func (m *memoryQuotationRepo) ReplaceLines(ctx context.Context, id uuid.UUID, lines []QuotationLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memoryTxRepo)(m).ReplaceLines(ctx, id, lines)
}

func (m *memoryQuotationRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status QuotationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memoryTxRepo)(m).UpdateStatus(ctx, id, status)
}

func (m *memoryQuotationRepo) UpdateValidity(ctx context.Context, id uuid.UUID, validUntil time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memoryTxRepo)(m).UpdateValidity(ctx, id, validUntil)
}

func (m *memoryQuotationRepo) SetChain(ctx context.Context, id uuid.UUID, chainID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memoryTxRepo)(m).SetChain(ctx, id, chainID)
}

func (m *memoryQuotationRepo) MarkAccepted(ctx context.Context, id uuid.UUID, revision int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memoryTxRepo)(m).MarkAccepted(ctx, id, revision)
}

func (m *memoryQuotationRepo) CurrentAccepted(ctx context.Context, projectID uuid.UUID) (*Quotation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memoryTxRepo)(m).CurrentAccepted(ctx, projectID)
}

func (m *memoryQuotationRepo) MaxRevision(ctx context.Context, projectID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memoryTxRepo)(m).MaxRevision(ctx, projectID)
}

func (m *memoryQuotationRepo) SetProjectCurrent(ctx context.Context, projectID uuid.UUID, quotationID *uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memoryTxRepo)(m).SetProjectCurrent(ctx, projectID, quotationID)
}

func (m *memoryQuotationRepo) ProjectExists(ctx context.Context, projectID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memoryTxRepo)(m).ProjectExists(ctx, projectID)
}

func (m *memoryQuotationRepo) ListExpirable(ctx context.Context, asOf time.Time, limit int) ([]Quotation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memoryTxRepo)(m).ListExpirable(ctx, asOf, limit)
}

func (m *memoryQuotationRepo) ListPendingChainOutcomes(ctx context.Context, limit int) ([]ChainOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memoryTxRepo)(m).ListPendingChainOutcomes(ctx, limit)
}

func (m *memoryQuotationRepo) AppendAudit(ctx context.Context, entry audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memoryTxRepo)(m).AppendAudit(ctx, entry)
}

// memoryTxRepo is the lock-held view used inside WithTx.
type memoryTxRepo memoryQuotationRepo

func (m *memoryTxRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, m)
}

func (m *memoryTxRepo) LockProject(ctx context.Context, projectID uuid.UUID) error { return nil }

func (m *memoryTxRepo) Get(ctx context.Context, id uuid.UUID) (*Quotation, error) {
	q, ok := m.quotations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *q
	cp.Lines = append([]QuotationLine(nil), q.Lines...)
	return &cp, nil
}

func (m *memoryTxRepo) Create(ctx context.Context, q Quotation) error {
	m.quotations[q.ID] = &q
	return nil
}

func (m *memoryTxRepo) ReplaceLines(ctx context.Context, id uuid.UUID, lines []QuotationLine) error {
	q, ok := m.quotations[id]
	if !ok {
		return ErrNotFound
	}
	q.Lines = append([]QuotationLine(nil), lines...)
	return nil
}

func (m *memoryTxRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status QuotationStatus) error {
	q, ok := m.quotations[id]
	if !ok {
		return ErrNotFound
	}
	q.Status = status
	return nil
}

func (m *memoryTxRepo) UpdateValidity(ctx context.Context, id uuid.UUID, validUntil time.Time) error {
	q, ok := m.quotations[id]
	if !ok {
		return ErrNotFound
	}
	q.ValidUntil = validUntil
	return nil
}

func (m *memoryTxRepo) SetChain(ctx context.Context, id uuid.UUID, chainID uuid.UUID) error {
	q, ok := m.quotations[id]
	if !ok {
		return ErrNotFound
	}
	q.ApprovalChainID = &chainID
	return nil
}

func (m *memoryTxRepo) MarkAccepted(ctx context.Context, id uuid.UUID, revision int64) error {
	q, ok := m.quotations[id]
	if !ok {
		return ErrNotFound
	}
	// Same guarantee the partial unique index gives on postgres.
	for _, other := range m.quotations {
		if other.ProjectID == q.ProjectID && other.ID != id && other.Status == QuotationStatusAccepted {
			return fmt.Errorf("%w: another quotation is already accepted", shared.ErrContention)
		}
	}
	q.Status = QuotationStatusAccepted
	q.RevisionNumber = revision
	return nil
}

func (m *memoryTxRepo) CurrentAccepted(ctx context.Context, projectID uuid.UUID) (*Quotation, error) {
	current, ok := m.projects[projectID]
	if !ok || current == nil {
		return nil, ErrNoAcceptedQuotation
	}
	return m.Get(ctx, *current)
}

func (m *memoryTxRepo) MaxRevision(ctx context.Context, projectID uuid.UUID) (int64, error) {
	var max int64
	for _, q := range m.quotations {
		if q.ProjectID == projectID && q.RevisionNumber > max {
			max = q.RevisionNumber
		}
	}
	return max, nil
}

func (m *memoryTxRepo) SetProjectCurrent(ctx context.Context, projectID uuid.UUID, quotationID *uuid.UUID) error {
	m.projects[projectID] = quotationID
	return nil
}

func (m *memoryTxRepo) ProjectExists(ctx context.Context, projectID uuid.UUID) (bool, error) {
	_, ok := m.projects[projectID]
	return ok, nil
}

func (m *memoryTxRepo) ListExpirable(ctx context.Context, asOf time.Time, limit int) ([]Quotation, error) {
	var out []Quotation
	for _, q := range m.quotations {
		if (q.Status == QuotationStatusAccepted || q.Status == QuotationStatusApproved) && !asOf.Before(q.ValidUntil) {
			out = append(out, *q)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memoryTxRepo) ListPendingChainOutcomes(ctx context.Context, limit int) ([]ChainOutcome, error) {
	var out []ChainOutcome
	for id, q := range m.quotations {
		status, ok := m.chainOutcomes[id]
		if !ok || q.Status != QuotationStatusPendingApproval || !status.Terminal() {
			continue
		}
		out = append(out, ChainOutcome{QuotationID: id, ChainStatus: status})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memoryTxRepo) AppendAudit(ctx context.Context, entry audit.Entry) error {
	m.audits = append(m.audits, entry)
	return nil
}

// fakeChains records submissions and returns a fresh chain per call.
type fakeChains struct {
	mu        sync.Mutex
	submitted []uuid.UUID
	submitErr error
	active    *approval.Chain
}

func (f *fakeChains) Submit(ctx context.Context, docType approval.DocumentType, documentID uuid.UUID, templateID uuid.UUID, actorID int64) (*approval.Chain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submitted = append(f.submitted, documentID)
	return &approval.Chain{ID: uuid.New(), DocumentType: docType, DocumentID: documentID, Status: approval.ChainStatusActive}, nil
}

func (f *fakeChains) ActiveChain(ctx context.Context, docType approval.DocumentType, documentID uuid.UUID) (*approval.Chain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil {
		return nil, approval.ErrNotFound
	}
	return f.active, nil
}

func (f *fakeChains) RegisterHandler(docType approval.DocumentType, handler approval.CompletionHandler) {
}

func testTime() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func newTestService(t *testing.T) (*Service, *memoryQuotationRepo, *fakeChains, uuid.UUID) {
	t.Helper()
	repo := newMemoryQuotationRepo()
	chains := &fakeChains{}
	svc := NewService(repo, chains, shared.FixedClock{At: testTime()}, nil, nil)
	projectID := uuid.New()
	repo.projects[projectID] = nil
	return svc, repo, chains, projectID
}

func draftRequest(projectID uuid.UUID) CreateRequest {
	return CreateRequest{
		ProjectID:  projectID,
		ValidUntil: testTime().Add(30 * 24 * time.Hour),
		Lines: []LineInput{
			{ProductID: uuid.New(), Quantity: 10, UnitPrice: 25.5},
			{ProductID: uuid.New(), Quantity: 4, UnitPrice: 120},
		},
	}
}

func mustAccept(t *testing.T, svc *Service, chains *fakeChains, projectID uuid.UUID, actor int64) *Quotation {
	t.Helper()
	ctx := context.Background()
	q, err := svc.Create(ctx, draftRequest(projectID), actor)
	require.NoError(t, err)
	q, err = svc.SubmitForApproval(ctx, q.ID, uuid.New(), actor)
	require.NoError(t, err)
	require.NoError(t, svc.OnChainComplete(ctx, q.ID, actor))
	q, err = svc.Get(ctx, q.ID)
	require.NoError(t, err)
	return q
}

func TestCreateRejectsInvalidLines(t *testing.T) {
	svc, _, _, projectID := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateRequest{ProjectID: projectID, ValidUntil: testTime().Add(time.Hour)}, 1)
	require.ErrorIs(t, err, ErrEmptyLineItems)

	productID := uuid.New()
	_, err = svc.Create(ctx, CreateRequest{
		ProjectID:  projectID,
		ValidUntil: testTime().Add(time.Hour),
		Lines: []LineInput{
			{ProductID: productID, Quantity: 1, UnitPrice: 10},
			{ProductID: productID, Quantity: 2, UnitPrice: 10},
		},
	}, 1)
	require.ErrorIs(t, err, ErrDuplicateProduct)

	_, err = svc.Create(ctx, CreateRequest{
		ProjectID:  projectID,
		ValidUntil: testTime().Add(time.Hour),
		Lines:      []LineInput{{ProductID: uuid.New(), Quantity: -1, UnitPrice: 10}},
	}, 1)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestSubmitRequiresDraft(t *testing.T) {
	svc, _, chains, projectID := newTestService(t)
	ctx := context.Background()

	q, err := svc.Create(ctx, draftRequest(projectID), 1)
	require.NoError(t, err)

	q, err = svc.SubmitForApproval(ctx, q.ID, uuid.New(), 1)
	require.NoError(t, err)
	require.Equal(t, QuotationStatusPendingApproval, q.Status)
	require.NotNil(t, q.ApprovalChainID)
	require.Len(t, chains.submitted, 1)

	_, err = svc.SubmitForApproval(ctx, q.ID, uuid.New(), 1)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestLinesImmutableAfterSubmit(t *testing.T) {
	svc, _, _, projectID := newTestService(t)
	ctx := context.Background()

	q, err := svc.Create(ctx, draftRequest(projectID), 1)
	require.NoError(t, err)
	_, err = svc.SubmitForApproval(ctx, q.ID, uuid.New(), 1)
	require.NoError(t, err)

	_, err = svc.UpdateDraft(ctx, q.ID, draftRequest(projectID), 1)
	require.ErrorIs(t, err, ErrLinesImmutable)
}

func TestAcceptAssignsMonotonicRevisionsAndSupersedes(t *testing.T) {
	svc, repo, chains, projectID := newTestService(t)
	ctx := context.Background()

	first := mustAccept(t, svc, chains, projectID, 1)
	require.Equal(t, QuotationStatusAccepted, first.Status)
	require.Equal(t, int64(1), first.RevisionNumber)

	second := mustAccept(t, svc, chains, projectID, 1)
	require.Equal(t, int64(2), second.RevisionNumber)

	first, err := svc.Get(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, QuotationStatusSuperseded, first.Status)

	current, err := svc.CurrentAccepted(ctx, projectID)
	require.NoError(t, err)
	require.Equal(t, second.ID, current.ID)

	var actions []string
	for _, e := range repo.audits {
		actions = append(actions, e.Action)
	}
	require.Contains(t, actions, "SUPERSEDE")
	require.Contains(t, actions, "ACCEPT")
}

func TestSingleAcceptedUnderConcurrentAcceptance(t *testing.T) {
	svc, repo, _, projectID := newTestService(t)
	ctx := context.Background()

	var pending []uuid.UUID
	for i := 0; i < 4; i++ {
		q, err := svc.Create(ctx, draftRequest(projectID), 1)
		require.NoError(t, err)
		_, err = svc.SubmitForApproval(ctx, q.ID, uuid.New(), 1)
		require.NoError(t, err)
		pending = append(pending, q.ID)
	}

	var g errgroup.Group
	for _, id := range pending {
		id := id
		g.Go(func() error {
			return svc.OnChainComplete(ctx, id, 1)
		})
	}
	require.NoError(t, g.Wait())

	accepted := 0
	revisions := map[int64]bool{}
	repo.mu.Lock()
	for _, q := range repo.quotations {
		if q.Status == QuotationStatusAccepted {
			accepted++
		}
		if q.RevisionNumber > 0 {
			require.False(t, revisions[q.RevisionNumber], "revision assigned twice")
			revisions[q.RevisionNumber] = true
		}
	}
	repo.mu.Unlock()
	require.Equal(t, 1, accepted, "exactly one accepted quotation per project")
	require.Len(t, revisions, 4)
}

func TestRejectionIsTerminal(t *testing.T) {
	svc, _, _, projectID := newTestService(t)
	ctx := context.Background()

	q, err := svc.Create(ctx, draftRequest(projectID), 1)
	require.NoError(t, err)
	_, err = svc.SubmitForApproval(ctx, q.ID, uuid.New(), 1)
	require.NoError(t, err)

	require.NoError(t, svc.OnChainRejected(ctx, q.ID, 2, "pricing off"))
	q, err = svc.Get(ctx, q.ID)
	require.NoError(t, err)
	require.Equal(t, QuotationStatusRejected, q.Status)

	_, err = svc.SubmitForApproval(ctx, q.ID, uuid.New(), 1)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestExpireRequiresElapsedValidity(t *testing.T) {
	svc, _, chains, projectID := newTestService(t)
	ctx := context.Background()

	q := mustAccept(t, svc, chains, projectID, 1)
	_, err := svc.Expire(ctx, q.ID, 1)
	require.ErrorIs(t, err, ErrValidityNotElapsed)
}

func TestExpireClearsProjectPointer(t *testing.T) {
	repo := newMemoryQuotationRepo()
	chains := &fakeChains{}
	projectID := uuid.New()
	repo.projects[projectID] = nil

	early := shared.FixedClock{At: testTime()}
	svc := NewService(repo, chains, early, nil, nil)
	q := mustAccept(t, svc, chains, projectID, 1)

	// Move past the validity window and expire.
	late := NewService(repo, chains, shared.FixedClock{At: q.ValidUntil.Add(time.Hour)}, nil, nil)
	expired, err := late.Expire(context.Background(), q.ID, 1)
	require.NoError(t, err)
	require.Equal(t, QuotationStatusExpired, expired.Status)

	_, err = late.CurrentAccepted(context.Background(), projectID)
	require.ErrorIs(t, err, ErrNoAcceptedQuotation)
}

func TestExpireDueSweep(t *testing.T) {
	repo := newMemoryQuotationRepo()
	chains := &fakeChains{}
	projectA := uuid.New()
	projectB := uuid.New()
	repo.projects[projectA] = nil
	repo.projects[projectB] = nil

	svc := NewService(repo, chains, shared.FixedClock{At: testTime()}, nil, nil)
	qa := mustAccept(t, svc, chains, projectA, 1)
	qb := mustAccept(t, svc, chains, projectB, 1)

	sweeper := NewService(repo, chains, shared.FixedClock{At: qa.ValidUntil.Add(time.Minute)}, nil, nil)
	n, err := sweeper.ExpireDue(context.Background(), 100)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	for _, id := range []uuid.UUID{qa.ID, qb.ID} {
		q, err := svc.Get(context.Background(), id)
		require.NoError(t, err)
		require.Equal(t, QuotationStatusExpired, q.Status)
	}
}

func TestSubmitRelinksExistingChain(t *testing.T) {
	svc, _, chains, projectID := newTestService(t)
	ctx := context.Background()

	q, err := svc.Create(ctx, draftRequest(projectID), 1)
	require.NoError(t, err)

	// An earlier submit created the chain but crashed before writing the
	// status; the engine reports the chain as already active.
	existing := &approval.Chain{ID: uuid.New(), DocumentType: approval.DocumentTypeQuotation, DocumentID: q.ID, Status: approval.ChainStatusActive}
	chains.submitErr = approval.ErrAlreadySubmitted
	chains.active = existing

	q, err = svc.SubmitForApproval(ctx, q.ID, uuid.New(), 1)
	require.NoError(t, err)
	require.Equal(t, QuotationStatusPendingApproval, q.Status)
	require.NotNil(t, q.ApprovalChainID)
	require.Equal(t, existing.ID, *q.ApprovalChainID)
}

func TestReconcileAppliesChainOutcomes(t *testing.T) {
	svc, repo, _, projectID := newTestService(t)
	ctx := context.Background()

	submit := func() uuid.UUID {
		q, err := svc.Create(ctx, draftRequest(projectID), 1)
		require.NoError(t, err)
		_, err = svc.SubmitForApproval(ctx, q.ID, uuid.New(), 1)
		require.NoError(t, err)
		return q.ID
	}
	completed := submit()
	rejected := submit()

	// Both chains reached a terminal state but the outcome callback never
	// landed, so the quotations are still pending.
	repo.mu.Lock()
	repo.chainOutcomes[completed] = approval.ChainStatusComplete
	repo.chainOutcomes[rejected] = approval.ChainStatusRejected
	repo.mu.Unlock()

	moved, err := svc.ReconcileChainOutcomes(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 2, moved)

	q, err := svc.Get(ctx, completed)
	require.NoError(t, err)
	require.Equal(t, QuotationStatusAccepted, q.Status)
	require.Equal(t, int64(1), q.RevisionNumber)

	q, err = svc.Get(ctx, rejected)
	require.NoError(t, err)
	require.Equal(t, QuotationStatusRejected, q.Status)

	current, err := svc.CurrentAccepted(ctx, projectID)
	require.NoError(t, err)
	require.Equal(t, completed, current.ID)

	// Nothing left to move on a second pass.
	moved, err = svc.ReconcileChainOutcomes(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 0, moved)
}

// captureRecorder collects transition counter increments.
type captureRecorder struct {
	mu      sync.Mutex
	actions []string
}

func (c *captureRecorder) RecordTransition(entity, action string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actions = append(c.actions, entity+":"+action)
}

func TestLifecycleRecordsTransitions(t *testing.T) {
	repo := newMemoryQuotationRepo()
	chains := &fakeChains{}
	recorder := &captureRecorder{}
	projectID := uuid.New()
	repo.projects[projectID] = nil
	svc := NewService(repo, chains, shared.FixedClock{At: testTime()}, recorder, nil)

	mustAccept(t, svc, chains, projectID, 1)
	second := mustAccept(t, svc, chains, projectID, 1)
	require.Equal(t, int64(2), second.RevisionNumber)

	require.Subset(t, recorder.actions, []string{
		"quotation:CREATE",
		"quotation:SUBMIT",
		"quotation:ACCEPT",
		"quotation:SUPERSEDE",
	})
}

func TestAcceptRequiresPendingApproval(t *testing.T) {
	svc, _, _, projectID := newTestService(t)
	ctx := context.Background()

	q, err := svc.Create(ctx, draftRequest(projectID), 1)
	require.NoError(t, err)

	err = svc.OnChainComplete(ctx, q.ID, 1)
	require.Error(t, err)
	require.True(t, errors.Is(err, shared.ErrStateConflict))
}
