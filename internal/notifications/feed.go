package notifications

import (
	"context"
	"fmt"
	"sync"

	"github.com/dvloznov/finance-companion/internal/notify"
)

// Feed is the notification list shown to the user: the latest analyzed set
// plus the platform's pending and delivered entries, with an unread badge.
type Feed struct {
	mu       sync.Mutex
	notifier notify.Notifier
	analyzed []Notification
	badge    int
}

// NewFeed creates a Feed backed by n.
func NewFeed(n notify.Notifier) *Feed {
	return &Feed{notifier: n}
}

// SetAnalyzed replaces the analyzed set. Identifiers not in the previous set
// count as unread.
func (f *Feed) SetAnalyzed(ns []Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev := make(map[string]bool, len(f.analyzed))
	for _, n := range f.analyzed {
		prev[n.ID] = true
	}
	for _, n := range ns {
		if !prev[n.ID] {
			f.badge++
		}
	}
	f.analyzed = append([]Notification(nil), ns...)
}

// Analyzed returns the latest analyzed set.
func (f *Feed) Analyzed() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Notification(nil), f.analyzed...)
}

// Badge returns the unread counter.
func (f *Feed) Badge() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.badge
}

// Items merges the analyzed set with the platform lists.
func (f *Feed) Items(ctx context.Context) ([]DisplayItem, error) {
	pending, err := f.notifier.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("Items: list pending: %w", err)
	}
	delivered, err := f.notifier.ListDelivered(ctx)
	if err != nil {
		return nil, fmt.Errorf("Items: list delivered: %w", err)
	}
	return Merge(f.Analyzed(), pending, delivered), nil
}

// Clear removes delivered platform entries and resets the badge. Pending
// reminders stay scheduled and the analyzed set is kept; the returned list
// holds only analyzed items.
func (f *Feed) Clear(ctx context.Context) ([]DisplayItem, error) {
	if err := f.notifier.ClearDelivered(ctx); err != nil {
		return nil, fmt.Errorf("Clear: %w", err)
	}

	f.mu.Lock()
	f.badge = 0
	analyzed := append([]Notification(nil), f.analyzed...)
	f.mu.Unlock()

	return Merge(analyzed, nil, nil), nil
}
