package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TimelineFilters narrows the audit timeline.
type TimelineFilters struct {
	EntityType string
	EntityID   uuid.UUID
	Actor      int64
	From       time.Time
	To         time.Time
	Page       int
	PageSize   int
}

// Repository provides read access to the stored trail.
type Repository interface {
	Timeline(ctx context.Context, filters TimelineFilters, limit, offset int) ([]Entry, error)
}

// Result wraps a timeline page.
type Result struct {
	Rows     []Entry
	Page     int
	PageSize int
	HasNext  bool
}

// Service coordinates audit timeline reads.
type Service struct {
	repo Repository
}

// NewService builds a timeline service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline returns one page of audit entries, oldest first.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize
	rows, err := s.repo.Timeline(ctx, filters, pageSize+1, offset)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	return Result{Rows: rows, Page: page, PageSize: pageSize, HasNext: hasNext}, nil
}
