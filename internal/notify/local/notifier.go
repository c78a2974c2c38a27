// Package local is the in-process platform notifier used by the daemon.
// Calendar triggers run on a cron scheduler, delays on timers; fired
// requests move to the delivered list and are handed to a Sink.
package local

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-companion/internal/notify"
)

const defaultMaxDelivered = 200

// Sink receives every fired request.
type Sink func(ctx context.Context, d notify.Delivered) error

type entry struct {
	req      notify.Request
	cronID   cron.EntryID
	schedule cron.Schedule
	timer    *time.Timer
	fireAt   time.Time
}

// Notifier implements notify.Notifier in memory.
type Notifier struct {
	mu           sync.Mutex
	cron         *cron.Cron
	pending      map[string]*entry
	delivered    []notify.Delivered
	maxDelivered int
	sink         Sink
	status       notify.AuthorizationStatus
	now          func() time.Time
	log          zerolog.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithSink sets the receiver of fired requests.
func WithSink(s Sink) Option {
	return func(n *Notifier) { n.sink = s }
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(n *Notifier) { n.log = log }
}

// WithLocation sets the time zone calendar triggers are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(n *Notifier) { n.cron = cron.New(cron.WithLocation(loc)) }
}

// WithAuthorization sets the reported permission. Anything but Authorized
// makes Schedule fail.
func WithAuthorization(s notify.AuthorizationStatus) Option {
	return func(n *Notifier) { n.status = s }
}

// WithMaxDelivered bounds the delivered list; the oldest entries are dropped.
func WithMaxDelivered(max int) Option {
	return func(n *Notifier) { n.maxDelivered = max }
}

// New creates a stopped Notifier. Call Start to run calendar triggers.
func New(opts ...Option) *Notifier {
	n := &Notifier{
		cron:         cron.New(),
		pending:      make(map[string]*entry),
		maxDelivered: defaultMaxDelivered,
		status:       notify.Authorized,
		now:          time.Now,
		log:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Start runs the calendar scheduler in the background.
func (n *Notifier) Start() {
	n.cron.Start()
}

// Stop halts the calendar scheduler and pending timers, waiting for running
// deliveries until ctx is done.
func (n *Notifier) Stop(ctx context.Context) error {
	n.mu.Lock()
	for _, e := range n.pending {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	n.mu.Unlock()

	select {
	case <-n.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Schedule implements notify.Notifier. A request with an existing ID
// replaces the earlier one.
func (n *Notifier) Schedule(ctx context.Context, req notify.Request) error {
	if n.status != notify.Authorized {
		return notify.ErrNotAuthorized
	}
	if req.ID == "" {
		return fmt.Errorf("Schedule: request id is required")
	}
	if err := req.Trigger.Validate(); err != nil {
		return fmt.Errorf("Schedule %s: %w", req.ID, err)
	}

	e := &entry{req: req}
	if cal := req.Trigger.Calendar; cal != nil {
		sched, err := cron.ParseStandard(cal.CronSpec())
		if err != nil {
			return fmt.Errorf("Schedule %s: %w: %v", req.ID, notify.ErrInvalidTrigger, err)
		}
		e.schedule = sched
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.removeLocked(req.ID)
	id := req.ID
	if e.schedule != nil {
		e.cronID = n.cron.Schedule(e.schedule, cron.FuncJob(func() { n.fire(id, e) }))
	} else {
		e.fireAt = n.now().Add(req.Trigger.Delay)
		e.timer = time.AfterFunc(req.Trigger.Delay, func() { n.fire(id, e) })
	}
	n.pending[id] = e

	n.log.Debug().Str("id", id).Msg("Notification scheduled")
	return nil
}

// fire delivers a request. The entry pointer guards against a replaced request.
func (n *Notifier) fire(id string, e *entry) {
	n.mu.Lock()
	cur, ok := n.pending[id]
	if !ok || cur != e {
		n.mu.Unlock()
		return
	}
	cal := e.req.Trigger.Calendar
	if cal == nil || !cal.Repeats {
		n.removeLocked(id)
	}
	d := notify.Delivered{Request: e.req, DeliveredAt: n.now()}
	n.delivered = append(n.delivered, d)
	if n.maxDelivered > 0 && len(n.delivered) > n.maxDelivered {
		n.delivered = append([]notify.Delivered(nil), n.delivered[len(n.delivered)-n.maxDelivered:]...)
	}
	sink := n.sink
	n.mu.Unlock()

	n.log.Info().Str("id", id).Str("title", d.Title).Msg("Notification delivered")
	if sink != nil {
		if err := sink(context.Background(), d); err != nil {
			n.log.Error().Err(err).Str("id", id).Msg("Failed to hand off delivered notification")
		}
	}
}

func (n *Notifier) removeLocked(id string) {
	e, ok := n.pending[id]
	if !ok {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	if e.schedule != nil {
		n.cron.Remove(e.cronID)
	}
	delete(n.pending, id)
}

// Cancel implements notify.Notifier.
func (n *Notifier) Cancel(ctx context.Context, ids ...string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, id := range ids {
		n.removeLocked(id)
	}
	return nil
}

// ListPending implements notify.Notifier, soonest first.
func (n *Notifier) ListPending(ctx context.Context) ([]notify.Pending, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	out := make([]notify.Pending, 0, len(n.pending))
	for _, e := range n.pending {
		next := e.fireAt
		if e.schedule != nil {
			next = e.schedule.Next(now)
		}
		out = append(out, notify.Pending{Request: e.req, NextFire: next})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].NextFire.Equal(out[j].NextFire) {
			return out[i].ID < out[j].ID
		}
		return out[i].NextFire.Before(out[j].NextFire)
	})
	return out, nil
}

// ListDelivered implements notify.Notifier, oldest first.
func (n *Notifier) ListDelivered(ctx context.Context) ([]notify.Delivered, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Delivered(nil), n.delivered...), nil
}

// ClearDelivered implements notify.Notifier.
func (n *Notifier) ClearDelivered(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delivered = nil
	return nil
}

// Authorization implements notify.Notifier.
func (n *Notifier) Authorization(ctx context.Context) (notify.AuthorizationStatus, error) {
	return n.status, nil
}

var _ notify.Notifier = (*Notifier)(nil)
