// Package insights writes the monthly summary notification with a language
// model.
package insights

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-companion/internal/domain"
	"github.com/dvloznov/finance-companion/internal/notifications"
)

// maxMessageLen keeps the summary short enough for a notification body.
const maxMessageLen = 280

// TransactionSource reads a user's transactions in a date range.
type TransactionSource interface {
	Transactions(ctx context.Context, id domain.Identity, start, end civil.Date) ([]domain.Transaction, error)
}

// Totals aggregates one month of transactions.
type Totals struct {
	Income      decimal.Decimal
	Expenses    decimal.Decimal
	Invested    decimal.Decimal
	Outstanding int
	// TopCategories holds up to three expense categories, largest first.
	TopCategories []CategoryTotal
}

// CategoryTotal is the expense sum of one category.
type CategoryTotal struct {
	CategoryID string
	Amount     decimal.Decimal
}

// Net is income minus expenses and investments.
func (t Totals) Net() decimal.Decimal {
	return t.Income.Sub(t.Expenses).Sub(t.Invested)
}

// Summarize computes the totals of txs.
func Summarize(txs []domain.Transaction) Totals {
	t := Totals{Income: decimal.Zero, Expenses: decimal.Zero, Invested: decimal.Zero}
	byCategory := map[string]decimal.Decimal{}
	for _, tx := range txs {
		if tx.Outstanding() {
			t.Outstanding++
		}
		switch tx.Kind {
		case domain.KindIncome:
			t.Income = t.Income.Add(tx.Amount)
		case domain.KindInvestment:
			t.Invested = t.Invested.Add(tx.Amount)
		case domain.KindExpense:
			t.Expenses = t.Expenses.Add(tx.Amount)
			cat := tx.CategoryID
			if cat == "" {
				cat = "uncategorized"
			}
			byCategory[cat] = byCategory[cat].Add(tx.Amount)
		}
	}
	for id, amount := range byCategory {
		t.TopCategories = append(t.TopCategories, CategoryTotal{CategoryID: id, Amount: amount})
	}
	sort.Slice(t.TopCategories, func(i, j int) bool {
		a, b := t.TopCategories[i], t.TopCategories[j]
		if a.Amount.Equal(b.Amount) {
			return a.CategoryID < b.CategoryID
		}
		return a.Amount.GreaterThan(b.Amount)
	})
	if len(t.TopCategories) > 3 {
		t.TopCategories = t.TopCategories[:3]
	}
	return t
}

// Summarizer produces the monthly summary for the month before today.
type Summarizer struct {
	source   TransactionSource
	model    Model
	currency string
	newID    func() string
	now      func() time.Time
	log      zerolog.Logger
}

// Option configures a Summarizer.
type Option func(*Summarizer)

// WithCurrency sets the ISO code used for amounts in the prompt.
func WithCurrency(code string) Option {
	return func(s *Summarizer) { s.currency = code }
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Summarizer) { s.log = log }
}

// WithIDGenerator replaces uuid.NewString.
func WithIDGenerator(f func() string) Option {
	return func(s *Summarizer) { s.newID = f }
}

// WithNow replaces time.Now for CreatedAt stamps.
func WithNow(now func() time.Time) Option {
	return func(s *Summarizer) { s.now = now }
}

// NewSummarizer creates a Summarizer.
func NewSummarizer(source TransactionSource, model Model, opts ...Option) *Summarizer {
	s := &Summarizer{
		source:   source,
		model:    model,
		currency: "USD",
		newID:    uuid.NewString,
		now:      time.Now,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PreviousMonth returns the first and last day of the month before today.
func PreviousMonth(today civil.Date) (civil.Date, civil.Date) {
	first := civil.Date{Year: today.Year, Month: today.Month, Day: 1}
	end := first.AddDays(-1)
	return civil.Date{Year: end.Year, Month: end.Month, Day: 1}, end
}

// MonthlySummary reads last month's transactions and asks the model for a
// short summary. A month without transactions is summarized without the model.
func (s *Summarizer) MonthlySummary(ctx context.Context, id domain.Identity, today civil.Date) (notifications.Notification, error) {
	start, end := PreviousMonth(today)
	txs, err := s.source.Transactions(ctx, id, start, end)
	if err != nil {
		return notifications.Notification{}, fmt.Errorf("MonthlySummary: fetch transactions: %w", err)
	}

	totals := Summarize(txs)
	month := start.In(time.UTC).Format("January 2006")

	message := fmt.Sprintf("No transactions were recorded in %s.", month)
	if len(txs) > 0 {
		text, err := s.model.Generate(ctx, s.prompt(month, totals, len(txs)))
		if err != nil {
			return notifications.Notification{}, fmt.Errorf("MonthlySummary: %w", err)
		}
		message = cleanText(text)
	}

	s.log.Debug().Str("month", month).Int("transactions", len(txs)).Msg("Monthly summary generated")

	return notifications.Notification{
		ID:        s.newID(),
		Type:      notifications.TypeMonthlySummary,
		Title:     month + " summary",
		Message:   message,
		Priority:  notifications.PriorityLow,
		CreatedAt: s.now(),
		Metadata: map[string]string{
			"income":   totals.Income.StringFixed(2),
			"expenses": totals.Expenses.StringFixed(2),
			"net":      totals.Net().StringFixed(2),
		},
	}, nil
}

func (s *Summarizer) prompt(month string, t Totals, count int) string {
	var b strings.Builder
	b.WriteString("You write the monthly summary notification of a personal finance app.\n\n")
	fmt.Fprintf(&b, "Month: %s\n", month)
	fmt.Fprintf(&b, "Transactions: %d (%d still outstanding)\n", count, t.Outstanding)
	fmt.Fprintf(&b, "Income: %s\n", notifications.FormatMoney(t.Income, s.currency))
	fmt.Fprintf(&b, "Expenses: %s\n", notifications.FormatMoney(t.Expenses, s.currency))
	fmt.Fprintf(&b, "Invested: %s\n", notifications.FormatMoney(t.Invested, s.currency))
	if len(t.TopCategories) > 0 {
		b.WriteString("Largest expense categories:\n")
		for _, c := range t.TopCategories {
			fmt.Fprintf(&b, "  - %s: %s\n", c.CategoryID, notifications.FormatMoney(c.Amount, s.currency))
		}
	}
	b.WriteString("\nRules:\n")
	b.WriteString("- At most two sentences, plain text, no Markdown.\n")
	b.WriteString("- Mention the net result and one concrete observation.\n")
	b.WriteString("- Use the amounts exactly as given.\n")
	return b.String()
}

// cleanText strips Markdown wrappers the model adds despite instructions
// and bounds the length.
func cleanText(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```text")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > maxMessageLen {
		s = strings.TrimSpace(string(r[:maxMessageLen-1])) + "…"
	}
	return s
}
