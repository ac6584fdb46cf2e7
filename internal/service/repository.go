package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Strob0t/scmrelay/internal/domain"
	"github.com/Strob0t/scmrelay/internal/domain/repository"
	"github.com/Strob0t/scmrelay/internal/port/upstream"
)

// RepositoryService exposes read-only repository views from upstream.
type RepositoryService struct {
	gw upstream.Gateway
}

// NewRepositoryService creates a RepositoryService.
func NewRepositoryService(gw upstream.Gateway) *RepositoryService {
	return &RepositoryService{gw: gw}
}

// Get returns one repository.
func (s *RepositoryService) Get(ctx context.Context, repoID string) (*repository.Repository, error) {
	return s.gw.GetRepository(ctx, repoID)
}

// Branches lists the branches of a repository.
func (s *RepositoryService) Branches(ctx context.Context, repoID string) ([]repository.Branch, error) {
	return s.gw.ListBranches(ctx, repoID)
}

// Events lists recorded repository events. Dates, when set, must be
// YYYY-MM-DD and ordered.
func (s *RepositoryService) Events(ctx context.Context, repoID string, q repository.EventQuery) ([]repository.Event, error) {
	var start, end time.Time
	for _, d := range []struct {
		raw string
		dst *time.Time
	}{{q.StartDate, &start}, {q.EndDate, &end}} {
		if d.raw == "" {
			continue
		}
		t, err := time.Parse(time.DateOnly, d.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q: %w", d.raw, domain.ErrValidation)
		}
		*d.dst = t
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return nil, fmt.Errorf("end date before start date: %w", domain.ErrValidation)
	}
	return s.gw.ListRepositoryEvents(ctx, repoID, q)
}
