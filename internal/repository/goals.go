package repository

import (
	"context"
	"fmt"

	"github.com/dvloznov/finance-companion/internal/domain"
)

// Goals returns the user's savings goals, oldest first.
func (r *Repository) Goals(ctx context.Context, id domain.Identity) ([]domain.Goal, error) {
	return read(ctx, r, id, readSpec[domain.Goal]{
		collection: CollectionGoals,
		key:        CollectionGoals + "-" + primaryOwner(id),
		orderField: fieldCreatedAt,
		decode:     decodeGoal,
		owner:      func(g domain.Goal) string { return g.UserID },
		less:       func(a, b domain.Goal) bool { return a.CreatedAt.Before(b.CreatedAt) },
	})
}

// CreateGoal stores a new goal.
func (r *Repository) CreateGoal(ctx context.Context, id domain.Identity, g domain.Goal) (domain.Goal, error) {
	if g.UserID == "" {
		g.UserID = primaryOwner(id)
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = r.now().UTC()
	}
	if err := g.Validate(); err != nil {
		return domain.Goal{}, fmt.Errorf("CreateGoal: %w", err)
	}

	doc, err := r.store.CreateDocument(withToken(ctx, id), CollectionGoals, encodeGoal(g))
	if err != nil {
		return domain.Goal{}, fmt.Errorf("CreateGoal: %w", err)
	}
	g.ID = doc.ID()
	r.invalidate(id, CollectionGoals)
	return g, nil
}

// UpdateGoal replaces every stored field of g.
func (r *Repository) UpdateGoal(ctx context.Context, id domain.Identity, g domain.Goal) error {
	if g.ID == "" {
		return fmt.Errorf("UpdateGoal: goal id is required")
	}
	if err := g.Validate(); err != nil {
		return fmt.Errorf("UpdateGoal: %w", err)
	}
	if _, err := r.store.PatchDocument(withToken(ctx, id), CollectionGoals, g.ID, encodeGoal(g)); err != nil {
		return fmt.Errorf("UpdateGoal: %w", err)
	}
	r.invalidate(id, CollectionGoals)
	return nil
}

// DeleteGoal removes a goal by id.
func (r *Repository) DeleteGoal(ctx context.Context, id domain.Identity, goalID string) error {
	if err := r.store.DeleteDocument(withToken(ctx, id), CollectionGoals, goalID); err != nil {
		return fmt.Errorf("DeleteGoal: %w", err)
	}
	r.invalidate(id, CollectionGoals)
	return nil
}
