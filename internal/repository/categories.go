package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/finance-companion/internal/domain"
)

// Categories returns the built-in categories followed by the user's own.
func (r *Repository) Categories(ctx context.Context, id domain.Identity) ([]domain.Category, error) {
	remote, err := read(ctx, r, id, readSpec[domain.Category]{
		collection: CollectionCategories,
		key:        CollectionCategories + "-" + primaryOwner(id),
		decode:     decodeCategory,
		owner:      func(c domain.Category) string { return c.UserID },
	})
	if err != nil {
		return nil, err
	}
	return domain.MergeCategories(domain.BuiltinCategories, remote), nil
}

// CreateCategory stores a user category. Names that collide with a
// built-in category are rejected.
func (r *Repository) CreateCategory(ctx context.Context, id domain.Identity, c domain.Category) (domain.Category, error) {
	if strings.TrimSpace(c.Name) == "" {
		return domain.Category{}, fmt.Errorf("CreateCategory: name is required")
	}
	for _, b := range domain.BuiltinCategories {
		if strings.EqualFold(b.ID, c.Name) || strings.EqualFold(b.Name, c.Name) {
			return domain.Category{}, fmt.Errorf("CreateCategory: %q is a built-in category", c.Name)
		}
	}
	if c.UserID == "" {
		c.UserID = primaryOwner(id)
	}

	doc, err := r.store.CreateDocument(withToken(ctx, id), CollectionCategories, encodeCategory(c))
	if err != nil {
		return domain.Category{}, fmt.Errorf("CreateCategory: %w", err)
	}
	c.ID = doc.ID()
	r.invalidate(id, CollectionCategories)
	return c, nil
}

// DeleteCategory removes a user category by id.
func (r *Repository) DeleteCategory(ctx context.Context, id domain.Identity, categoryID string) error {
	if err := r.store.DeleteDocument(withToken(ctx, id), CollectionCategories, categoryID); err != nil {
		return fmt.Errorf("DeleteCategory: %w", err)
	}
	r.invalidate(id, CollectionCategories)
	return nil
}
