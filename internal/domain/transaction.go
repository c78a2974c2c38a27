package domain

import (
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Kind classifies a transaction as money going out, coming in or being set aside.
type Kind string

const (
	KindExpense    Kind = "expense"
	KindIncome     Kind = "income"
	KindInvestment Kind = "investment"
)

// Status is the settlement state of a transaction. The allowed values depend on Kind.
type Status string

const (
	StatusPaid     Status = "paid"
	StatusUnpaid   Status = "unpaid"
	StatusReceived Status = "received"
	StatusPending  Status = "pending"
	StatusInvested Status = "invested"
)

// Frequency is the repeat period of a recurring transaction.
type Frequency string

const (
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

var (
	// ErrInvalidKind is returned for a kind outside expense/income/investment.
	ErrInvalidKind = errors.New("invalid transaction kind")

	// ErrInvalidStatus is returned when a status does not belong to the kind's vocabulary.
	ErrInvalidStatus = errors.New("status not allowed for kind")

	// ErrNegativeAmount is returned when an amount is below zero.
	ErrNegativeAmount = errors.New("amount must not be negative")

	// ErrMissingOwner is returned when a record has no owner identifier.
	ErrMissingOwner = errors.New("owner identifier is required")

	// ErrInvalidFrequency is returned for an unknown recurrence frequency.
	ErrInvalidFrequency = errors.New("invalid recurrence frequency")
)

// Statuses returns the status vocabulary for a kind. The first entry is the
// settled state, the second the outstanding one.
func Statuses(k Kind) []Status {
	switch k {
	case KindExpense:
		return []Status{StatusPaid, StatusUnpaid}
	case KindIncome:
		return []Status{StatusReceived, StatusPending}
	case KindInvestment:
		return []Status{StatusInvested, StatusPending}
	default:
		return nil
	}
}

// DefaultStatus is the outstanding status for a kind.
func DefaultStatus(k Kind) Status {
	if s := Statuses(k); len(s) == 2 {
		return s[1]
	}
	return StatusUnpaid
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return Statuses(k) != nil
}

// Allows reports whether status s belongs to kind k.
func (k Kind) Allows(s Status) bool {
	for _, allowed := range Statuses(k) {
		if allowed == s {
			return true
		}
	}
	return false
}

// Recurrence describes a repeating transaction.
type Recurrence struct {
	Frequency Frequency   `json:"frequency"`
	EndDate   *civil.Date `json:"end_date,omitempty"`
}

// Transaction is a single money entry owned by a user.
type Transaction struct {
	// ID is assigned by the document store; empty for records not yet created.
	ID          string          `json:"id,omitempty"`
	UserID      string          `json:"user_id"`
	Title       string          `json:"title,omitempty"`
	Description string          `json:"description,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	CategoryID  string          `json:"category_id"`
	Date        civil.Date      `json:"date"`
	Kind        Kind            `json:"kind"`
	Status      Status          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`

	// IsRecurring and Recurrence are set together.
	IsRecurring bool        `json:"is_recurring,omitempty"`
	Recurrence  *Recurrence `json:"recurrence,omitempty"`

	// SourceTransactionID links income/investment transfer pairs.
	SourceTransactionID string `json:"source_transaction_id,omitempty"`
}

// Validate checks the invariants a transaction must satisfy before it is written.
func (t Transaction) Validate() error {
	if t.UserID == "" {
		return ErrMissingOwner
	}
	if !t.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, t.Kind)
	}
	if !t.Kind.Allows(t.Status) {
		return fmt.Errorf("%w: %q for %s", ErrInvalidStatus, t.Status, t.Kind)
	}
	if t.Amount.IsNegative() {
		return ErrNegativeAmount
	}
	if t.IsRecurring && t.Recurrence != nil {
		switch t.Recurrence.Frequency {
		case FrequencyWeekly, FrequencyMonthly, FrequencyYearly:
		default:
			return fmt.Errorf("%w: %q", ErrInvalidFrequency, t.Recurrence.Frequency)
		}
	}
	return nil
}

// Outstanding reports whether the transaction is still awaiting settlement.
func (t Transaction) Outstanding() bool {
	return t.Status == DefaultStatus(t.Kind)
}

// Label is the user facing name of the transaction.
func (t Transaction) Label() string {
	if t.Title != "" {
		return t.Title
	}
	if t.Description != "" {
		return t.Description
	}
	return string(t.Kind)
}
