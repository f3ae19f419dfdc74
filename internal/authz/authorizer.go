// Package authz resolves role membership for acting users. Lifecycle services
// receive the Authorizer as an explicit collaborator rather than relying on
// middleware alone, because approval steps carry their own required role.
package authz

import "context"

// Authorizer answers role membership questions.
type Authorizer interface {
	HasRole(ctx context.Context, userID int64, role string) (bool, error)
	HasAnyRole(ctx context.Context, userID int64, roles []string) (bool, error)
}

// Service implements Authorizer over a role repository.
type Service struct {
	repo Repository
}

// Repository provides the stored role assignments.
type Repository interface {
	RolesForUser(ctx context.Context, userID int64) ([]string, error)
}

// NewService builds the authorizer.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// HasRole reports whether the user holds the given role.
func (s *Service) HasRole(ctx context.Context, userID int64, role string) (bool, error) {
	granted, err := s.repo.RolesForUser(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, g := range granted {
		if g == role {
			return true, nil
		}
	}
	return false, nil
}

// HasAnyRole reports whether the user holds at least one of the given roles.
func (s *Service) HasAnyRole(ctx context.Context, userID int64, roles []string) (bool, error) {
	granted, err := s.repo.RolesForUser(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, g := range granted {
		for _, r := range roles {
			if g == r {
				return true, nil
			}
		}
	}
	return false, nil
}
