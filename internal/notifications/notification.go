// Package notifications turns transactions into ranked reminders and merges
// them with the platform's pending and delivered lists for display.
package notifications

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Type identifies the rule that produced a notification.
type Type string

const (
	TypeBillDueToday    Type = "bill_due_today"
	TypeBillDueTomorrow Type = "bill_due_tomorrow"
	TypeBillOverdue     Type = "bill_overdue"
	TypeLowBalance      Type = "low_balance"
	TypeGoalProgress    Type = "goal_progress"
	TypeMonthlySummary  Type = "monthly_summary"
	TypeCustom          Type = "custom"
)

// Types lists every notification type.
var Types = []Type{
	TypeBillDueToday,
	TypeBillDueTomorrow,
	TypeBillOverdue,
	TypeLowBalance,
	TypeGoalProgress,
	TypeMonthlySummary,
	TypeCustom,
}

// ParseType accepts a type name, also in its dashed form.
func ParseType(s string) (Type, error) {
	s = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for _, t := range Types {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown notification type %q", s)
}

// Priority ranks notifications; higher values come first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityUrgent
)

func (p Priority) String() string {
	switch p {
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "low"
	}
}

// ParsePriority parses the String form of a priority.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "medium":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	case "urgent":
		return PriorityUrgent, nil
	default:
		return PriorityLow, fmt.Errorf("unknown priority %q", s)
	}
}

func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Metadata keys set by the analyzer.
const (
	MetaCount          = "count"
	MetaTotal          = "total"
	MetaTransactionIDs = "transaction_ids"
	MetaPriority       = "priority"
	MetaType           = "type"
	// MetaNotificationID carries the analyzed notification a platform
	// request was raised for.
	MetaNotificationID = "notification_id"
)

// Notification is one generated reminder.
type Notification struct {
	ID          string            `json:"id"`
	Type        Type              `json:"type"`
	Title       string            `json:"title"`
	Message     string            `json:"message"`
	Priority    Priority          `json:"priority"`
	ScheduledAt *time.Time        `json:"scheduled_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Preferences are the user's notification settings.
type Preferences struct {
	// Disabled holds the types the user switched off; everything else is on.
	Disabled map[Type]bool

	// Currency is the ISO 4217 code used in messages.
	Currency string

	// LowBalanceThreshold enables the low-balance rule when set.
	LowBalanceThreshold *decimal.Decimal
}

// DefaultPreferences enables every type and formats money in US dollars.
func DefaultPreferences() Preferences {
	return Preferences{Currency: "USD"}
}

// Enabled reports whether notifications of type t may be produced.
func (p Preferences) Enabled(t Type) bool {
	return !p.Disabled[t]
}

// WithDisabled returns a copy of p with the given types switched off.
func (p Preferences) WithDisabled(types ...Type) Preferences {
	disabled := make(map[Type]bool, len(p.Disabled)+len(types))
	for t, off := range p.Disabled {
		disabled[t] = off
	}
	for _, t := range types {
		disabled[t] = true
	}
	p.Disabled = disabled
	return p
}

// SortByPriority returns a copy of ns ordered from urgent to low. Equal
// priorities keep their input order.
func SortByPriority(ns []Notification) []Notification {
	out := append([]Notification(nil), ns...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// Select drops disabled types, sorts by priority and keeps at most limit
// items. A limit of zero or less keeps everything.
func Select(ns []Notification, prefs Preferences, limit int) []Notification {
	kept := make([]Notification, 0, len(ns))
	for _, n := range ns {
		if prefs.Enabled(n.Type) {
			kept = append(kept, n)
		}
	}
	kept = SortByPriority(kept)
	if limit > 0 && len(kept) > limit {
		kept = kept[:limit]
	}
	return kept
}
