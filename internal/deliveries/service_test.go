package deliveries

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/atelier-erp/atelier/internal/audit"
	"github.com/atelier-erp/atelier/internal/quotations"
	"github.com/atelier-erp/atelier/internal/shared"
)

// memoryDeliveryRepo serializes WithTx on a mutex the way the project
// advisory lock serializes quantity checks on postgres.
type memoryDeliveryRepo struct {
	mu         sync.Mutex
	deliveries map[uuid.UUID]*Delivery
	audits     []audit.Entry
	inTx       bool
}

func newMemoryDeliveryRepo() *memoryDeliveryRepo {
	return &memoryDeliveryRepo{deliveries: make(map[uuid.UUID]*Delivery)}
}

func (m *memoryDeliveryRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	m.mu.Lock()
	m.inTx = true
	defer func() {
		m.inTx = false
		m.mu.Unlock()
	}()
	return fn(ctx, (*memoryDeliveryTx)(m))
}

func (m *memoryDeliveryRepo) LockProject(ctx context.Context, projectID uuid.UUID) error { return nil }

func (m *memoryDeliveryRepo) Get(ctx context.Context, id uuid.UUID) (*Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memoryDeliveryTx)(m).Get(ctx, id)
}

func (m *memoryDeliveryRepo) Create(ctx context.Context, d Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memoryDeliveryTx)(m).Create(ctx, d)
}

func (m *memoryDeliveryRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status DeliveryStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memoryDeliveryTx)(m).UpdateStatus(ctx, id, status)
}

func (m *memoryDeliveryRepo) ListByProject(ctx context.Context, projectID uuid.UUID, limit, offset int) ([]Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memoryDeliveryTx)(m).ListByProject(ctx, projectID, limit, offset)
}

func (m *memoryDeliveryRepo) DeliveredQuantityByProduct(ctx context.Context, projectID uuid.UUID) (map[uuid.UUID]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memoryDeliveryTx)(m).DeliveredQuantityByProduct(ctx, projectID)
}

func (m *memoryDeliveryRepo) AppendAudit(ctx context.Context, entry audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memoryDeliveryTx)(m).AppendAudit(ctx, entry)
}

type memoryDeliveryTx memoryDeliveryRepo

func (m *memoryDeliveryTx) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, m)
}

func (m *memoryDeliveryTx) LockProject(ctx context.Context, projectID uuid.UUID) error { return nil }

func (m *memoryDeliveryTx) Get(ctx context.Context, id uuid.UUID) (*Delivery, error) {
	d, ok := m.deliveries[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	cp.Lines = append([]DeliveryLine(nil), d.Lines...)
	return &cp, nil
}

func (m *memoryDeliveryTx) Create(ctx context.Context, d Delivery) error {
	m.deliveries[d.ID] = &d
	return nil
}

func (m *memoryDeliveryTx) UpdateStatus(ctx context.Context, id uuid.UUID, status DeliveryStatus) error {
	d, ok := m.deliveries[id]
	if !ok {
		return ErrNotFound
	}
	d.Status = status
	return nil
}

func (m *memoryDeliveryTx) ListByProject(ctx context.Context, projectID uuid.UUID, limit, offset int) ([]Delivery, error) {
	var out []Delivery
	for _, d := range m.deliveries {
		if d.ProjectID == projectID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *memoryDeliveryTx) DeliveredQuantityByProduct(ctx context.Context, projectID uuid.UUID) (map[uuid.UUID]float64, error) {
	sums := make(map[uuid.UUID]float64)
	for _, d := range m.deliveries {
		if d.ProjectID != projectID || !d.Status.ConsumesQuantity() {
			continue
		}
		for _, l := range d.Lines {
			sums[l.ProductID] += l.Quantity
		}
	}
	return sums, nil
}

func (m *memoryDeliveryTx) AppendAudit(ctx context.Context, entry audit.Entry) error {
	m.audits = append(m.audits, entry)
	return nil
}

// staticQuotes serves a fixed current accepted quotation per project.
type staticQuotes struct {
	mu      sync.Mutex
	current map[uuid.UUID]*quotations.Quotation
}

func (s *staticQuotes) CurrentAccepted(ctx context.Context, projectID uuid.UUID) (*quotations.Quotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.current[projectID]
	if !ok || q == nil {
		return nil, quotations.ErrNoAcceptedQuotation
	}
	return q, nil
}

func (s *staticQuotes) set(projectID uuid.UUID, q *quotations.Quotation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current[projectID] = q
}

func newTestDeliveryService(t *testing.T) (*Service, *memoryDeliveryRepo, *staticQuotes, uuid.UUID, uuid.UUID) {
	t.Helper()
	repo := newMemoryDeliveryRepo()
	quotes := &staticQuotes{current: make(map[uuid.UUID]*quotations.Quotation)}
	svc := NewService(repo, quotes, shared.FixedClock{At: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}, nil, nil)

	projectID := uuid.New()
	productID := uuid.New()
	// 10 units quoted for the product.
	quotes.set(projectID, &quotations.Quotation{
		ID:             uuid.New(),
		ProjectID:      projectID,
		RevisionNumber: 1,
		Status:         quotations.QuotationStatusAccepted,
		Lines:          []quotations.QuotationLine{{ProductID: productID, Quantity: 10, UnitPrice: 50}},
	})
	return svc, repo, quotes, projectID, productID
}

// supersededQuotes serves a stale revision until the budget transaction
// starts, imitating an acceptance that commits between the request arriving
// and the project lock being taken.
type supersededQuotes struct {
	repo    *memoryDeliveryRepo
	stale   *quotations.Quotation
	current *quotations.Quotation
}

func (s *supersededQuotes) CurrentAccepted(ctx context.Context, projectID uuid.UUID) (*quotations.Quotation, error) {
	if s.repo.inTx {
		return s.current, nil
	}
	return s.stale, nil
}

func createDelivery(t *testing.T, svc *Service, projectID, productID uuid.UUID, qty float64) *Delivery {
	t.Helper()
	d, err := svc.Create(context.Background(), CreateRequest{
		ProjectID: projectID,
		Lines:     []LineInput{{ProductID: productID, Quantity: qty}},
	}, 1)
	require.NoError(t, err)
	return d
}

func TestCreateRequiresAcceptedQuotation(t *testing.T) {
	svc, _, _, _, productID := newTestDeliveryService(t)

	_, err := svc.Create(context.Background(), CreateRequest{
		ProjectID: uuid.New(),
		Lines:     []LineInput{{ProductID: productID, Quantity: 1}},
	}, 1)
	require.ErrorIs(t, err, ErrNoAcceptedQuotation)
}

func TestCreateValidatesAgainstCurrentRevisionUnderLock(t *testing.T) {
	repo := newMemoryDeliveryRepo()
	projectID := uuid.New()
	productID := uuid.New()
	// Revision 1 allowed 100 units; revision 2 cut the product to 10 and
	// became current just before the delivery transaction got the lock.
	quotes := &supersededQuotes{
		repo:    repo,
		stale:   &quotations.Quotation{ID: uuid.New(), ProjectID: projectID, RevisionNumber: 1, Status: quotations.QuotationStatusAccepted, Lines: []quotations.QuotationLine{{ProductID: productID, Quantity: 100, UnitPrice: 50}}},
		current: &quotations.Quotation{ID: uuid.New(), ProjectID: projectID, RevisionNumber: 2, Status: quotations.QuotationStatusAccepted, Lines: []quotations.QuotationLine{{ProductID: productID, Quantity: 10, UnitPrice: 50}}},
	}
	svc := NewService(repo, quotes, shared.FixedClock{At: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}, nil, nil)
	ctx := context.Background()

	// 60 units fit the stale allowance but not the current 10.
	_, err := svc.Create(ctx, CreateRequest{
		ProjectID: projectID,
		Lines:     []LineInput{{ProductID: productID, Quantity: 60}},
	}, 1)
	require.ErrorIs(t, err, ErrExceedsRemainingQuantity)

	d, err := svc.Create(ctx, CreateRequest{
		ProjectID: projectID,
		Lines:     []LineInput{{ProductID: productID, Quantity: 5}},
	}, 1)
	require.NoError(t, err)
	require.Equal(t, int64(2), d.SourceQuotationRevision)
}

func TestQuantityBudgetAcrossDeliveries(t *testing.T) {
	svc, _, _, projectID, productID := newTestDeliveryService(t)

	// 10 quoted: 6 then 4 fit exactly, a further 1 overruns.
	createDelivery(t, svc, projectID, productID, 6)
	createDelivery(t, svc, projectID, productID, 4)

	_, err := svc.Create(context.Background(), CreateRequest{
		ProjectID: projectID,
		Lines:     []LineInput{{ProductID: productID, Quantity: 1}},
	}, 1)
	require.ErrorIs(t, err, ErrExceedsRemainingQuantity)
	require.ErrorIs(t, err, shared.ErrInvariant)
}

func TestReturnReopensQuantity(t *testing.T) {
	svc, _, _, projectID, productID := newTestDeliveryService(t)
	ctx := context.Background()

	first := createDelivery(t, svc, projectID, productID, 10)

	_, err := svc.Create(ctx, CreateRequest{
		ProjectID: projectID,
		Lines:     []LineInput{{ProductID: productID, Quantity: 1}},
	}, 1)
	require.ErrorIs(t, err, ErrExceedsRemainingQuantity)

	_, err = svc.MarkDelivered(ctx, first.ID, 1)
	require.NoError(t, err)
	_, err = svc.MarkReturned(ctx, first.ID, 1)
	require.NoError(t, err)

	// The full allowance is available again.
	createDelivery(t, svc, projectID, productID, 10)
}

func TestTransitionOrder(t *testing.T) {
	svc, _, _, projectID, productID := newTestDeliveryService(t)
	ctx := context.Background()

	d := createDelivery(t, svc, projectID, productID, 2)

	// PENDING cannot be returned directly.
	_, err := svc.MarkReturned(ctx, d.ID, 1)
	require.ErrorIs(t, err, ErrInvalidTransition)

	d2, err := svc.MarkDelivered(ctx, d.ID, 1)
	require.NoError(t, err)
	require.Equal(t, DeliveryStatusDelivered, d2.Status)

	// DELIVERED cannot be delivered again.
	_, err = svc.MarkDelivered(ctx, d.ID, 1)
	require.ErrorIs(t, err, ErrInvalidTransition)

	d3, err := svc.MarkReturned(ctx, d.ID, 1)
	require.NoError(t, err)
	require.Equal(t, DeliveryStatusReturned, d3.Status)

	// RETURNED is terminal.
	_, err = svc.MarkDelivered(ctx, d.ID, 1)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestOutdatedFlagAfterSupersede(t *testing.T) {
	svc, _, quotes, projectID, productID := newTestDeliveryService(t)
	ctx := context.Background()

	d := createDelivery(t, svc, projectID, productID, 4)
	require.Equal(t, int64(1), d.SourceQuotationRevision)

	outdated, err := svc.IsOutdated(ctx, d)
	require.NoError(t, err)
	require.False(t, outdated)

	// A new accepted revision makes the existing delivery outdated while a
	// delivery created afterwards is current.
	quotes.set(projectID, &quotations.Quotation{
		ID:             uuid.New(),
		ProjectID:      projectID,
		RevisionNumber: 2,
		Status:         quotations.QuotationStatusAccepted,
		Lines:          []quotations.QuotationLine{{ProductID: productID, Quantity: 10, UnitPrice: 55}},
	})

	outdated, err = svc.IsOutdated(ctx, d)
	require.NoError(t, err)
	require.True(t, outdated)

	fresh := createDelivery(t, svc, projectID, productID, 1)
	require.Equal(t, int64(2), fresh.SourceQuotationRevision)
	outdated, err = svc.IsOutdated(ctx, fresh)
	require.NoError(t, err)
	require.False(t, outdated)
}

func TestConcurrentCreatesCannotOverDeliver(t *testing.T) {
	svc, repo, _, projectID, productID := newTestDeliveryService(t)
	ctx := context.Background()

	// Two deliveries of 6 against 10 quoted: only one may pass.
	var g errgroup.Group
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		i := i
		g.Go(func() error {
			_, err := svc.Create(ctx, CreateRequest{
				ProjectID: projectID,
				Lines:     []LineInput{{ProductID: productID, Quantity: 6}},
			}, int64(i+1))
			results[i] = err
			return nil
		})
	}
	require.NoError(t, g.Wait())

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, ErrExceedsRemainingQuantity)
		}
	}
	require.Equal(t, 1, succeeded)

	var total float64
	repo.mu.Lock()
	for _, d := range repo.deliveries {
		if d.Status.ConsumesQuantity() {
			for _, l := range d.Lines {
				total += l.Quantity
			}
		}
	}
	repo.mu.Unlock()
	require.LessOrEqual(t, total, 10.0+quantityEpsilon)
}

func TestAuditActionsRecorded(t *testing.T) {
	svc, repo, _, projectID, productID := newTestDeliveryService(t)
	ctx := context.Background()

	d := createDelivery(t, svc, projectID, productID, 3)
	_, err := svc.MarkDelivered(ctx, d.ID, 1)
	require.NoError(t, err)
	_, err = svc.MarkReturned(ctx, d.ID, 1)
	require.NoError(t, err)

	var actions []string
	for _, e := range repo.audits {
		require.Equal(t, "delivery", e.EntityType)
		actions = append(actions, e.Action)
	}
	require.Equal(t, []string{"CREATE", "DELIVER", "RETURN"}, actions)
}
