package repository

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/finance-companion/internal/docstore"
	"github.com/dvloznov/finance-companion/internal/domain"
)

// TransactionsKey is the cache key of a transaction range read.
func TransactionsKey(userID string, start, end civil.Date) string {
	return fmt.Sprintf("%s-%s-%s-%s", CollectionTransactions, userID, start, end)
}

// Transactions returns the user's transactions dated within [start, end],
// sorted ascending by date.
func (r *Repository) Transactions(ctx context.Context, id domain.Identity, start, end civil.Date) ([]domain.Transaction, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("Transactions: end %s before start %s", end, start)
	}
	return read(ctx, r, id, readSpec[domain.Transaction]{
		collection: CollectionTransactions,
		key:        TransactionsKey(primaryOwner(id), start, end),
		ranged:     true,
		start:      start,
		end:        end,
		orderField: fieldDate,
		decode:     decodeTransaction,
		owner:      func(t domain.Transaction) string { return t.UserID },
		date:       func(t domain.Transaction) civil.Date { return t.Date },
		less:       func(a, b domain.Transaction) bool { return a.Date.Before(b.Date) },
	})
}

// CreateTransaction validates and stores t, returning it with its assigned id.
func (r *Repository) CreateTransaction(ctx context.Context, id domain.Identity, t domain.Transaction) (domain.Transaction, error) {
	if t.UserID == "" {
		t.UserID = primaryOwner(id)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = r.now().UTC()
	}
	if err := t.Validate(); err != nil {
		return domain.Transaction{}, fmt.Errorf("CreateTransaction: %w", err)
	}

	doc, err := r.store.CreateDocument(withToken(ctx, id), CollectionTransactions, encodeTransaction(t))
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("CreateTransaction: %w", err)
	}
	t.ID = doc.ID()
	r.invalidate(id, CollectionTransactions)
	return t, nil
}

// UpdateTransaction replaces every stored field of t.
func (r *Repository) UpdateTransaction(ctx context.Context, id domain.Identity, t domain.Transaction) error {
	if t.ID == "" {
		return fmt.Errorf("UpdateTransaction: transaction id is required")
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("UpdateTransaction: %w", err)
	}

	if _, err := r.store.PatchDocument(withToken(ctx, id), CollectionTransactions, t.ID, encodeTransaction(t)); err != nil {
		return fmt.Errorf("UpdateTransaction: %w", err)
	}
	r.invalidate(id, CollectionTransactions)
	return nil
}

// DeleteTransaction removes a transaction by id.
func (r *Repository) DeleteTransaction(ctx context.Context, id domain.Identity, txID string) error {
	if err := r.store.DeleteDocument(withToken(ctx, id), CollectionTransactions, txID); err != nil {
		return fmt.Errorf("DeleteTransaction: %w", err)
	}
	r.invalidate(id, CollectionTransactions)
	return nil
}

// SetStatus marks a transaction settled or outstanding. Only the status
// field is written; the rest of the stored record is left as is.
func (r *Repository) SetStatus(ctx context.Context, id domain.Identity, t domain.Transaction, status domain.Status) (domain.Transaction, error) {
	if t.ID == "" {
		return domain.Transaction{}, fmt.Errorf("SetStatus: transaction id is required")
	}
	if !t.Kind.Allows(status) {
		return domain.Transaction{}, fmt.Errorf("SetStatus: %w: %q for %s", domain.ErrInvalidStatus, status, t.Kind)
	}

	fields := docstore.Fields{fieldStatus: docstore.String(string(status))}
	if _, err := r.store.PatchDocument(withToken(ctx, id), CollectionTransactions, t.ID, fields, fieldStatus); err != nil {
		return domain.Transaction{}, fmt.Errorf("SetStatus: %w", err)
	}
	r.invalidate(id, CollectionTransactions)
	t.Status = status
	return t, nil
}

func primaryOwner(id domain.Identity) string {
	if owners := id.Owners(); len(owners) > 0 {
		return owners[0]
	}
	return ""
}

func withToken(ctx context.Context, id domain.Identity) context.Context {
	if id.Token == "" {
		return ctx
	}
	return docstore.WithToken(ctx, id.Token)
}

// invalidate drops every cached read of a collection for all of the
// identity's identifiers.
func (r *Repository) invalidate(id domain.Identity, collection string) {
	removed := 0
	for _, owner := range id.Owners() {
		removed += r.cache.RemoveAll(collection + "-" + owner)
	}
	r.log.Debug().Str("collection", collection).Int("removed", removed).Msg("Invalidated cache")
}
