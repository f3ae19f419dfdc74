package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type memoryAuditRepo struct {
	entries []Entry
}

func (r *memoryAuditRepo) Timeline(ctx context.Context, filters TimelineFilters, limit, offset int) ([]Entry, error) {
	var matched []Entry
	for _, e := range r.entries {
		if filters.EntityType != "" && e.EntityType != filters.EntityType {
			continue
		}
		if filters.EntityID != uuid.Nil && e.EntityID != filters.EntityID {
			continue
		}
		matched = append(matched, e)
	}
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func TestTimelinePaging(t *testing.T) {
	repo := &memoryAuditRepo{}
	docID := uuid.New()
	for i := 0; i < 25; i++ {
		repo.entries = append(repo.entries, Entry{
			ID:         int64(i + 1),
			EntityType: "quotation",
			EntityID:   docID,
			Action:     "SUBMIT",
			At:         time.Now(),
		})
	}

	svc := NewService(repo)
	result, err := svc.Timeline(context.Background(), TimelineFilters{EntityType: "quotation", PageSize: 20})
	require.NoError(t, err)
	require.Len(t, result.Rows, 20)
	require.True(t, result.HasNext)

	result, err = svc.Timeline(context.Background(), TimelineFilters{EntityType: "quotation", Page: 2, PageSize: 20})
	require.NoError(t, err)
	require.Len(t, result.Rows, 5)
	require.False(t, result.HasNext)
}

func TestTimelineFiltersEntity(t *testing.T) {
	repo := &memoryAuditRepo{entries: []Entry{
		{ID: 1, EntityType: "quotation", EntityID: uuid.New(), Action: "SUBMIT"},
		{ID: 2, EntityType: "invoice", EntityID: uuid.New(), Action: "ISSUE"},
	}}

	svc := NewService(repo)
	result, err := svc.Timeline(context.Background(), TimelineFilters{EntityType: "invoice"})
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	require.Equal(t, "ISSUE", result.Rows[0].Action)
}
