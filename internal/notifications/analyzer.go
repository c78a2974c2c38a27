package notifications

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-companion/internal/domain"
)

const warningGlyph = "⚠️"

// Analyzer derives reminders from a user's transactions. Apart from the
// preferences it holds, its output depends only on its inputs.
type Analyzer struct {
	mu    sync.RWMutex
	prefs Preferences
	now   func() time.Time
}

// AnalyzerOption configures an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithNow replaces time.Now for CreatedAt stamps.
func WithNow(now func() time.Time) AnalyzerOption {
	return func(a *Analyzer) { a.now = now }
}

// NewAnalyzer creates an Analyzer with the given preferences.
func NewAnalyzer(prefs Preferences, opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{prefs: prefs, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// UpdatePolicy replaces the preferences used by later calls.
func (a *Analyzer) UpdatePolicy(prefs Preferences) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prefs = prefs
}

// Preferences returns the current preferences.
func (a *Analyzer) Preferences() Preferences {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.prefs
}

type bill struct {
	tx   domain.Transaction
	date civil.Date
}

// idSpace namespaces notification identifiers.
var idSpace = uuid.MustParse("6f1c2b9e-4a53-4d0e-9b7a-2f4c8e1d5a60")

// NotificationID derives the identifier of the notification a rule raises
// on today for the given keys. The same condition yields the same
// identifier on every check of that day, whatever the key order.
func NotificationID(typ Type, today civil.Date, keys ...string) string {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	name := string(typ) + "|" + today.String() + "|" + strings.Join(sorted, ",")
	return uuid.NewSHA1(idSpace, []byte(name)).String()
}

// Analyze returns the reminders that apply on today, in rule order: overdue,
// due today, due tomorrow, low balance.
func (a *Analyzer) Analyze(txs []domain.Transaction, today civil.Date) []Notification {
	prefs := a.Preferences()
	tomorrow := today.AddDays(1)

	var overdue, dueToday, dueTomorrow []bill
	for _, tx := range txs {
		if tx.Kind != domain.KindExpense {
			continue
		}
		if tx.Outstanding() {
			switch {
			case tx.Date.Before(today):
				overdue = append(overdue, bill{tx, tx.Date})
			case tx.Date == today:
				dueToday = append(dueToday, bill{tx, tx.Date})
			case tx.Date == tomorrow:
				dueTomorrow = append(dueTomorrow, bill{tx, tx.Date})
			}
		}
		// upcoming repeats of a recurring bill have no record of their own yet
		if tx.IsRecurring {
			for _, occ := range domain.Occurrences(tx, today, tomorrow) {
				if occ.Date == tx.Date {
					continue
				}
				if occ.Date == today {
					dueToday = append(dueToday, bill{tx, occ.Date})
				} else {
					dueTomorrow = append(dueTomorrow, bill{tx, occ.Date})
				}
			}
		}
	}

	var out []Notification
	if prefs.Enabled(TypeBillOverdue) && len(overdue) > 0 {
		out = append(out, a.billNotification(TypeBillOverdue, PriorityUrgent, overdue, today, prefs.Currency))
	}
	if prefs.Enabled(TypeBillDueToday) && len(dueToday) > 0 {
		out = append(out, a.billNotification(TypeBillDueToday, PriorityHigh, dueToday, today, prefs.Currency))
	}
	if prefs.Enabled(TypeBillDueTomorrow) && len(dueTomorrow) > 0 {
		out = append(out, a.billNotification(TypeBillDueTomorrow, PriorityMedium, dueTomorrow, today, prefs.Currency))
	}
	if prefs.Enabled(TypeLowBalance) && prefs.LowBalanceThreshold != nil {
		if n, ok := a.lowBalance(txs, today, *prefs.LowBalanceThreshold, prefs.Currency); ok {
			out = append(out, n)
		}
	}
	return out
}

func (a *Analyzer) billNotification(typ Type, p Priority, bills []bill, today civil.Date, code string) Notification {
	total := decimal.Zero
	ids := make([]string, 0, len(bills))
	keys := make([]string, 0, len(bills))
	for _, b := range bills {
		total = total.Add(b.tx.Amount)
		if b.tx.ID != "" {
			ids = append(ids, b.tx.ID)
		}
		key := b.tx.ID
		if key == "" {
			key = b.tx.Label()
		}
		keys = append(keys, key+"@"+b.date.String())
	}
	money := FormatMoney(total, code)
	count := len(bills)

	var title, message string
	switch typ {
	case TypeBillOverdue:
		title = plural(count, "Overdue bill", "Overdue bills")
		if count == 1 {
			message = fmt.Sprintf("%s %q (%s) is overdue since %s.", warningGlyph, bills[0].tx.Label(), money, bills[0].date)
		} else {
			message = fmt.Sprintf("%s %d bills totaling %s are overdue.", warningGlyph, count, money)
		}
	case TypeBillDueToday:
		title = plural(count, "Bill due today", "Bills due today")
		if count == 1 {
			message = fmt.Sprintf("%q (%s) is due today.", bills[0].tx.Label(), money)
		} else {
			message = fmt.Sprintf("%d bills totaling %s are due today.", count, money)
		}
	default:
		title = plural(count, "Bill due tomorrow", "Bills due tomorrow")
		if count == 1 {
			message = fmt.Sprintf("%q (%s) is due tomorrow.", bills[0].tx.Label(), money)
		} else {
			message = fmt.Sprintf("%d bills totaling %s are due tomorrow.", count, money)
		}
	}

	return Notification{
		ID:        NotificationID(typ, today, keys...),
		Type:      typ,
		Title:     title,
		Message:   message,
		Priority:  p,
		CreatedAt: a.now(),
		Metadata: map[string]string{
			MetaCount:          strconv.Itoa(count),
			MetaTotal:          total.StringFixed(2),
			MetaTransactionIDs: strings.Join(ids, ","),
		},
	}
}

// lowBalance compares this month's settled income minus settled expenses,
// up to and including today, with the threshold.
func (a *Analyzer) lowBalance(txs []domain.Transaction, today civil.Date, threshold decimal.Decimal, code string) (Notification, bool) {
	balance := decimal.Zero
	seen := false
	for _, tx := range txs {
		if tx.Date.Year != today.Year || tx.Date.Month != today.Month || tx.Date.After(today) {
			continue
		}
		switch {
		case tx.Kind == domain.KindIncome && tx.Status == domain.StatusReceived:
			balance = balance.Add(tx.Amount)
			seen = true
		case tx.Kind == domain.KindExpense && tx.Status == domain.StatusPaid:
			balance = balance.Sub(tx.Amount)
			seen = true
		}
	}
	if !seen || !balance.LessThan(threshold) {
		return Notification{}, false
	}

	return Notification{
		ID:        NotificationID(TypeLowBalance, today),
		Type:      TypeLowBalance,
		Title:     "Low balance",
		Message:   fmt.Sprintf("Your balance this month is %s, below your %s threshold.", FormatMoney(balance, code), FormatMoney(threshold, code)),
		Priority:  PriorityHigh,
		CreatedAt: a.now(),
		Metadata: map[string]string{
			MetaTotal: balance.StringFixed(2),
		},
	}, true
}
