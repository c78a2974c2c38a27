package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Goal is a savings target.
type Goal struct {
	ID            string          `json:"id,omitempty"`
	UserID        string          `json:"user_id"`
	Title         string          `json:"title"`
	TargetAmount  decimal.Decimal `json:"target_amount"`
	CurrentAmount decimal.Decimal `json:"current_amount"`
	Deadline      *civil.Date     `json:"deadline,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Progress returns the saved fraction in [0, 1].
func (g Goal) Progress() decimal.Decimal {
	if !g.TargetAmount.IsPositive() {
		return decimal.Zero
	}
	p := g.CurrentAmount.Div(g.TargetAmount)
	if p.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	if p.IsNegative() {
		return decimal.Zero
	}
	return p
}

// Validate checks owner and amounts.
func (g Goal) Validate() error {
	if g.UserID == "" {
		return ErrMissingOwner
	}
	if g.TargetAmount.IsNegative() || g.CurrentAmount.IsNegative() {
		return ErrNegativeAmount
	}
	return nil
}
