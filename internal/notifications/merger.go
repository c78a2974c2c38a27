package notifications

import (
	"sort"
	"time"

	"github.com/dvloznov/finance-companion/internal/notify"
)

// Source tags where a display item came from.
type Source string

const (
	SourceAnalyzed  Source = "analyzed"
	SourcePending   Source = "pending"
	SourceDelivered Source = "delivered"
)

// DisplayItem is the common shape the notification list renders.
type DisplayItem struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Message  string    `json:"message"`
	Date     time.Time `json:"date"`
	Source   Source    `json:"source"`
	Priority *Priority `json:"priority,omitempty"`
	Icon     string    `json:"icon"`
}

// Icon returns the icon hint for a notification type.
func Icon(t Type) string {
	switch t {
	case TypeBillOverdue:
		return "exclamationmark.triangle"
	case TypeBillDueToday, TypeBillDueTomorrow:
		return "calendar.badge.clock"
	case TypeLowBalance:
		return "creditcard"
	case TypeGoalProgress:
		return "target"
	case TypeMonthlySummary:
		return "chart.bar"
	default:
		return "bell"
	}
}

// FromNotification maps an analyzed notification. Its date is the scheduled
// time when set, otherwise the creation time.
func FromNotification(n Notification) DisplayItem {
	date := n.CreatedAt
	if n.ScheduledAt != nil {
		date = *n.ScheduledAt
	}
	p := n.Priority
	return DisplayItem{
		ID:       n.ID,
		Title:    n.Title,
		Message:  n.Message,
		Date:     date,
		Source:   SourceAnalyzed,
		Priority: &p,
		Icon:     Icon(n.Type),
	}
}

// FromPending maps a scheduled platform entry.
func FromPending(p notify.Pending) DisplayItem {
	return fromRequest(p.Request, p.NextFire, SourcePending)
}

// FromDelivered maps a delivered platform entry.
func FromDelivered(d notify.Delivered) DisplayItem {
	return fromRequest(d.Request, d.DeliveredAt, SourceDelivered)
}

// fromRequest keys the item by the analyzed notification it came from, when
// known, so that it collapses with the analyzed copy.
func fromRequest(r notify.Request, date time.Time, src Source) DisplayItem {
	id := r.ID
	if v := r.Metadata[MetaNotificationID]; v != "" {
		id = v
	}
	item := DisplayItem{
		ID:      id,
		Title:   r.Title,
		Message: r.Body,
		Date:    date,
		Source:  src,
		Icon:    Icon(Type(r.Metadata[MetaType])),
	}
	if v, ok := r.Metadata[MetaPriority]; ok {
		if p, err := ParsePriority(v); err == nil {
			item.Priority = &p
		}
	}
	return item
}

// Merge maps the three sources to display items, newest first, with one
// item per identifier.
func Merge(analyzed []Notification, pending []notify.Pending, delivered []notify.Delivered) []DisplayItem {
	items := make([]DisplayItem, 0, len(analyzed)+len(pending)+len(delivered))
	for _, n := range analyzed {
		items = append(items, FromNotification(n))
	}
	for _, p := range pending {
		items = append(items, FromPending(p))
	}
	for _, d := range delivered {
		items = append(items, FromDelivered(d))
	}
	return MergeItems(items)
}

// MergeItems concatenates lists, sorts by date descending and keeps the first
// occurrence of each identifier. Items with equal dates keep their input order.
func MergeItems(lists ...[]DisplayItem) []DisplayItem {
	var all []DisplayItem
	for _, l := range lists {
		all = append(all, l...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Date.After(all[j].Date) })

	seen := make(map[string]bool, len(all))
	out := make([]DisplayItem, 0, len(all))
	for _, item := range all {
		if seen[item.ID] {
			continue
		}
		seen[item.ID] = true
		out = append(out, item)
	}
	return out
}
