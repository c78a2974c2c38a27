package repository

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-companion/internal/domain"
)

// Transfer moves an income record into an investment, or an investment back
// into income. The new record carries the source id; the source is deleted
// once the new record exists. Only the full amount can be moved.
func (r *Repository) Transfer(ctx context.Context, id domain.Identity, source domain.Transaction, target domain.Kind, amount decimal.Decimal) (domain.Transaction, error) {
	switch {
	case source.Kind == domain.KindIncome && target == domain.KindInvestment:
	case source.Kind == domain.KindInvestment && target == domain.KindIncome:
	default:
		return domain.Transaction{}, fmt.Errorf("Transfer: %w: %s to %s", domain.ErrInvalidKind, source.Kind, target)
	}
	if source.ID == "" {
		return domain.Transaction{}, fmt.Errorf("Transfer: source id is required")
	}
	if !amount.Equal(source.Amount) {
		return domain.Transaction{}, fmt.Errorf("Transfer: %w: %s of %s", ErrPartialTransfer, amount, source.Amount)
	}

	now := r.now().UTC()
	moved := domain.Transaction{
		UserID:              source.UserID,
		Title:               source.Title,
		Description:         source.Description,
		Amount:              source.Amount,
		CategoryID:          source.CategoryID,
		Date:                civil.DateOf(now),
		Kind:                target,
		Status:              domain.Statuses(target)[0],
		CreatedAt:           now,
		SourceTransactionID: source.ID,
	}

	created, err := r.CreateTransaction(ctx, id, moved)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("Transfer: %w", err)
	}
	if err := r.DeleteTransaction(ctx, id, source.ID); err != nil {
		return created, fmt.Errorf("Transfer: created %s but source remains: %w", created.ID, err)
	}

	r.log.Info().
		Str("source_id", source.ID).
		Str("target_id", created.ID).
		Str("target_kind", string(target)).
		Msg("Transfer completed")
	return created, nil
}
