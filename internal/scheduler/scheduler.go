// Package scheduler runs the periodic check cycle: fetch a window of
// transactions, analyze it, select by preference and intensity, and hand the
// result to the platform notifier.
//
// A Scheduler is Idle until Start and Active until Stop. Only one polling
// loop runs at a time; Start while Active does nothing.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-companion/internal/domain"
	"github.com/dvloznov/finance-companion/internal/notifications"
	"github.com/dvloznov/finance-companion/internal/notify"
)

const (
	// KeyPrefix marks every notifier entry the scheduler owns.
	KeyPrefix = "scheduler-"
	// AlertPrefix marks alerts handed over by a check cycle.
	AlertPrefix = KeyPrefix + "alert-"
	// ReminderPrefix marks the wall-clock check-in reminders.
	ReminderPrefix = KeyPrefix + "reminder-"

	// Window is how far before and after today a cycle reads transactions.
	Window = 7

	alertDelay = time.Second
)

// TransactionSource reads a user's transactions in a date range.
type TransactionSource interface {
	Transactions(ctx context.Context, id domain.Identity, start, end civil.Date) ([]domain.Transaction, error)
}

// Generator turns transactions into candidate notifications.
type Generator interface {
	Analyze(txs []domain.Transaction, today civil.Date) []notifications.Notification
	UpdatePolicy(prefs notifications.Preferences)
	Preferences() notifications.Preferences
}

// AuditSink records what each cycle handed to the notifier.
type AuditSink interface {
	RecordNotifications(ctx context.Context, userID string, ns []notifications.Notification) error
}

// Summarizer writes the monthly summary notification.
type Summarizer interface {
	MonthlySummary(ctx context.Context, id domain.Identity, today civil.Date) (notifications.Notification, error)
}

// Scheduler owns the polling loop.
type Scheduler struct {
	source     TransactionSource
	analyzer   Generator
	notifier   notify.Notifier
	audit      AuditSink
	summarizer Summarizer
	feed       *notifications.Feed
	log        zerolog.Logger
	now        func() time.Time
	after      func(time.Duration) <-chan time.Time
	loc        *time.Location

	mu          sync.Mutex
	id          domain.Identity
	policy      Policy
	cancel      context.CancelFunc
	done        chan struct{}
	reload      chan struct{}
	latest      []notifications.Notification
	summaryDone string
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

// WithAudit records every cycle's output.
func WithAudit(a AuditSink) Option {
	return func(s *Scheduler) { s.audit = a }
}

// WithSummarizer enables the monthly summary.
func WithSummarizer(sum Summarizer) Option {
	return func(s *Scheduler) { s.summarizer = sum }
}

// WithFeed publishes every cycle's output to the in-app feed.
func WithFeed(f *notifications.Feed) Option {
	return func(s *Scheduler) { s.feed = f }
}

// WithPolicy sets the initial policy.
func WithPolicy(p Policy) Option {
	return func(s *Scheduler) { s.policy = p }
}

// WithClock replaces time.Now and time.After.
func WithClock(now func() time.Time, after func(time.Duration) <-chan time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
		s.after = after
	}
}

// WithLocation sets the zone that decides what "today" is.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) { s.loc = loc }
}

// New creates an idle Scheduler.
func New(source TransactionSource, analyzer Generator, notifier notify.Notifier, opts ...Option) *Scheduler {
	s := &Scheduler{
		source:   source,
		analyzer: analyzer,
		notifier: notifier,
		log:      zerolog.Nop(),
		now:      time.Now,
		after:    time.After,
		loc:      time.Local,
		policy:   DefaultPolicy(),
		reload:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start schedules the reminders for policy, runs one check immediately and
// then keeps checking on the policy's intervals until Stop or ctx is done.
func (s *Scheduler) Start(ctx context.Context, id domain.Identity, policy Policy) error {
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("Start: %w", err)
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		s.log.Debug().Msg("Scheduler already active")
		return nil
	}
	s.id = id
	s.policy = policy
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	if err := s.scheduleReminders(ctx, policy); err != nil {
		s.log.Error().Err(err).Msg("Failed to schedule reminders")
	}

	s.log.Info().
		Str("user_id", id.UserID).
		Str("periodicity", string(policy.Periodicity)).
		Str("intensity", string(policy.Intensity)).
		Msg("Scheduler started")

	go s.loop(loopCtx, done)
	return nil
}

// loop sleeps on ctx but runs each cycle detached from it, so that Stop is
// observed at the next sleep and a running check completes.
func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	cycleCtx := context.WithoutCancel(ctx)
	s.cycle(cycleCtx)
	step := 0
	for {
		intervals := s.Policy().Intervals()
		wait := intervals[step%len(intervals)]
		select {
		case <-ctx.Done():
			return
		case <-s.reload:
			step = 0
		case <-s.after(wait):
			step++
			s.cycle(cycleCtx)
		}
	}
}

func (s *Scheduler) cycle(ctx context.Context) {
	s.mu.Lock()
	id := s.id
	s.mu.Unlock()

	if _, err := s.Check(ctx, id); err != nil {
		// the next wake retries
		s.log.Warn().Err(err).Msg("Check cycle failed")
	}
}

// Stop ends the polling loop and cancels every notifier entry the scheduler
// owns. An in-flight cycle finishes first unless ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	ids, err := notify.CancelPrefix(ctx, s.notifier, KeyPrefix)
	if err != nil {
		return fmt.Errorf("Stop: %w", err)
	}
	s.log.Info().Int("cancelled", len(ids)).Msg("Scheduler stopped")
	return nil
}

// Active reports whether the polling loop is running.
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Policy returns the current policy.
func (s *Scheduler) Policy() Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy
}

// UpdateSchedule replaces the policy. While Active the reminders are
// rescheduled and the loop restarts its interval list without another check.
func (s *Scheduler) UpdateSchedule(ctx context.Context, policy Policy) error {
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("UpdateSchedule: %w", err)
	}

	s.mu.Lock()
	s.policy = policy
	active := s.cancel != nil
	s.mu.Unlock()

	if !active {
		return nil
	}
	if err := s.scheduleReminders(ctx, policy); err != nil {
		return fmt.Errorf("UpdateSchedule: %w", err)
	}
	select {
	case s.reload <- struct{}{}:
	default:
	}
	return nil
}

// UpdatePreferences passes new notification preferences to the analyzer.
func (s *Scheduler) UpdatePreferences(prefs notifications.Preferences) {
	s.analyzer.UpdatePolicy(prefs)
}

// Latest returns what the last successful cycle handed to the notifier.
func (s *Scheduler) Latest() []notifications.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notifications.Notification(nil), s.latest...)
}

// Check runs one cycle for id and returns the notifications selected for
// it. They are handed to the notifier only while it reports Authorized.
// Only a failed fetch is an error; notifier, audit and summary failures are
// logged.
func (s *Scheduler) Check(ctx context.Context, id domain.Identity) ([]notifications.Notification, error) {
	log := s.log.With().Str("user_id", id.UserID).Logger()
	today := civil.DateOf(s.now().In(s.loc))

	txs, err := s.source.Transactions(ctx, id, today.AddDays(-Window), today.AddDays(Window))
	if err != nil {
		return nil, fmt.Errorf("Check: fetch transactions: %w", err)
	}

	generated := append([]notifications.Notification(nil), s.analyzer.Analyze(txs, today)...)
	prefs := s.analyzer.Preferences()
	if n, ok := s.monthlySummary(ctx, id, today, prefs); ok {
		generated = append(generated, n)
	}

	policy := s.Policy()
	selected := notifications.Select(generated, prefs, policy.Cap())
	handed := 0
	if len(selected) > 0 && s.authorized(ctx, log) {
		now := s.now()
		for _, n := range selected {
			if err := s.notifier.Schedule(ctx, alertRequest(n, now)); err != nil {
				log.Error().Err(err).Str("notification_id", n.ID).Msg("Failed to schedule notification")
				continue
			}
			handed++
		}
	}

	s.mu.Lock()
	s.latest = selected
	s.mu.Unlock()
	if s.feed != nil {
		s.feed.SetAnalyzed(selected)
	}

	if s.audit != nil && handed > 0 {
		if err := s.audit.RecordNotifications(ctx, id.UserID, selected); err != nil {
			log.Error().Err(err).Msg("Failed to record notifications")
		}
	}

	log.Info().
		Int("transactions", len(txs)).
		Int("generated", len(generated)).
		Int("selected", len(selected)).
		Int("scheduled", handed).
		Msg("Check cycle finished")
	return selected, nil
}

// monthlySummary runs at most once per calendar month.
func (s *Scheduler) monthlySummary(ctx context.Context, id domain.Identity, today civil.Date, prefs notifications.Preferences) (notifications.Notification, bool) {
	if s.summarizer == nil || !prefs.Enabled(notifications.TypeMonthlySummary) {
		return notifications.Notification{}, false
	}
	month := fmt.Sprintf("%04d-%02d", today.Year, today.Month)
	s.mu.Lock()
	seen := s.summaryDone == month
	s.mu.Unlock()
	if seen {
		return notifications.Notification{}, false
	}

	n, err := s.summarizer.MonthlySummary(ctx, id, today)
	if err != nil {
		s.log.Warn().Err(err).Str("month", month).Msg("Monthly summary failed")
		return notifications.Notification{}, false
	}
	s.mu.Lock()
	s.summaryDone = month
	s.mu.Unlock()
	return n, true
}

// authorized asks the notifier for permission, logging when it is missing.
func (s *Scheduler) authorized(ctx context.Context, log zerolog.Logger) bool {
	status, err := s.notifier.Authorization(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read notification permission")
		return false
	}
	if status != notify.Authorized {
		log.Warn().Str("status", status.String()).Msg("Notifications not authorized, skipping delivery")
		return false
	}
	return true
}

func (s *Scheduler) scheduleReminders(ctx context.Context, policy Policy) error {
	if _, err := notify.CancelPrefix(ctx, s.notifier, ReminderPrefix); err != nil {
		return fmt.Errorf("scheduleReminders: %w", err)
	}
	if !s.authorized(ctx, s.log) {
		return nil
	}
	for i, t := range policy.ReminderTimes() {
		req := notify.Request{
			ID:       ReminderPrefix + strconv.Itoa(i),
			Title:    "Finance check-in",
			Body:     "Review your upcoming bills and recent spending.",
			Trigger:  policy.reminderTrigger(t),
			Metadata: map[string]string{notifications.MetaPriority: notifications.PriorityLow.String()},
		}
		if err := s.notifier.Schedule(ctx, req); err != nil {
			return fmt.Errorf("scheduleReminders: %s at %s: %w", req.ID, t, err)
		}
	}
	return nil
}

// alertRequest builds the platform request for n. A notification scheduled
// later than alertDelay after now waits for its time.
func alertRequest(n notifications.Notification, now time.Time) notify.Request {
	meta := make(map[string]string, len(n.Metadata)+3)
	for k, v := range n.Metadata {
		meta[k] = v
	}
	meta[notifications.MetaPriority] = n.Priority.String()
	meta[notifications.MetaType] = string(n.Type)
	meta[notifications.MetaNotificationID] = n.ID

	trigger := notify.After(alertDelay)
	if n.ScheduledAt != nil {
		if d := n.ScheduledAt.Sub(now); d > alertDelay {
			trigger = notify.After(d)
		}
	}
	return notify.Request{
		ID:       AlertPrefix + n.ID,
		Title:    n.Title,
		Body:     n.Message,
		Trigger:  trigger,
		Metadata: meta,
	}
}
