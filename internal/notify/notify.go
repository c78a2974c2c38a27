// Package notify defines the platform notifier the scheduler hands
// reminders to: scheduling, cancellation, pending and delivered lists.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidTrigger is returned for a trigger with neither a calendar time nor a delay.
	ErrInvalidTrigger = errors.New("invalid trigger")

	// ErrNotAuthorized is returned when the user has not allowed notifications.
	ErrNotAuthorized = errors.New("notifications not authorized")
)

// CalendarTrigger fires at a wall-clock time. Zero Day and empty Weekdays
// mean every day.
type CalendarTrigger struct {
	Hour     int
	Minute   int
	Day      int
	Weekdays []time.Weekday
	Repeats  bool
}

// CronSpec renders the trigger as a standard five-field cron expression.
func (c CalendarTrigger) CronSpec() string {
	dom := "*"
	if c.Day > 0 {
		dom = strconv.Itoa(c.Day)
	}
	dow := "*"
	if len(c.Weekdays) > 0 {
		days := make([]string, len(c.Weekdays))
		for i, wd := range c.Weekdays {
			days[i] = strconv.Itoa(int(wd))
		}
		dow = strings.Join(days, ",")
	}
	return fmt.Sprintf("%d %d %s * %s", c.Minute, c.Hour, dom, dow)
}

// Trigger is either a calendar time or a one-shot delay from scheduling.
type Trigger struct {
	Calendar *CalendarTrigger
	Delay    time.Duration
}

// After fires once, d after scheduling.
func After(d time.Duration) Trigger {
	return Trigger{Delay: d}
}

// DailyAt repeats every day at hour:minute.
func DailyAt(hour, minute int) Trigger {
	return Trigger{Calendar: &CalendarTrigger{Hour: hour, Minute: minute, Repeats: true}}
}

// Validate checks that exactly one kind of trigger is set and its fields are in range.
func (t Trigger) Validate() error {
	switch {
	case t.Calendar != nil && t.Delay > 0:
		return fmt.Errorf("%w: both calendar and delay set", ErrInvalidTrigger)
	case t.Calendar != nil:
		c := t.Calendar
		if c.Hour < 0 || c.Hour > 23 || c.Minute < 0 || c.Minute > 59 || c.Day < 0 || c.Day > 31 {
			return fmt.Errorf("%w: %02d:%02d day %d", ErrInvalidTrigger, c.Hour, c.Minute, c.Day)
		}
		return nil
	case t.Delay > 0:
		return nil
	default:
		return ErrInvalidTrigger
	}
}

// Request is one notification to show.
type Request struct {
	ID       string
	Title    string
	Body     string
	Trigger  Trigger
	Metadata map[string]string
}

// Pending is a scheduled request that has not fired yet.
type Pending struct {
	Request
	NextFire time.Time
}

// Delivered is a request that has been shown.
type Delivered struct {
	Request
	DeliveredAt time.Time
}

// AuthorizationStatus is the user's notification permission.
type AuthorizationStatus int

const (
	NotDetermined AuthorizationStatus = iota
	Denied
	Authorized
)

func (s AuthorizationStatus) String() string {
	switch s {
	case Denied:
		return "denied"
	case Authorized:
		return "authorized"
	default:
		return "not_determined"
	}
}

// Notifier is the host platform's notification service.
type Notifier interface {
	// Schedule adds or replaces the request with the same ID.
	Schedule(ctx context.Context, req Request) error
	// Cancel removes pending requests by ID. Unknown IDs are ignored.
	Cancel(ctx context.Context, ids ...string) error
	ListPending(ctx context.Context) ([]Pending, error)
	ListDelivered(ctx context.Context) ([]Delivered, error)
	ClearDelivered(ctx context.Context) error
	Authorization(ctx context.Context) (AuthorizationStatus, error)
}

// CancelPrefix cancels every pending request whose ID starts with prefix and
// returns the cancelled IDs.
func CancelPrefix(ctx context.Context, n Notifier, prefix string) ([]string, error) {
	pending, err := n.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("CancelPrefix: list pending: %w", err)
	}
	var ids []string
	for _, p := range pending {
		if strings.HasPrefix(p.ID, prefix) {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if err := n.Cancel(ctx, ids...); err != nil {
		return nil, fmt.Errorf("CancelPrefix: cancel: %w", err)
	}
	return ids, nil
}
