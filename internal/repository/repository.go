// Package repository is the resilient read/write client for transactions,
// goals and categories. Reads go through the local cache and a degrading
// query cascade; writes invalidate the cache on success.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-companion/internal/cache"
	"github.com/dvloznov/finance-companion/internal/docstore"
)

const (
	// DefaultMaxAge is how long a cached result set counts as fresh.
	DefaultMaxAge = 5 * time.Minute

	// DefaultBackoff is the wait before the single retry after a 429.
	DefaultBackoff = 3 * time.Second
)

// Collection names.
const (
	CollectionTransactions = "transactions"
	CollectionGoals        = "goals"
	CollectionCategories   = "categories"
)

// ErrPartialTransfer is returned when a transfer does not move the full amount.
var ErrPartialTransfer = errors.New("only full transfers are supported")

// Repository reads and writes user records through the document store.
type Repository struct {
	store   docstore.Store
	cache   *cache.Cache
	log     zerolog.Logger
	maxAge  time.Duration
	backoff time.Duration
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option configures a Repository.
type Option func(*Repository)

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(r *Repository) { r.log = log }
}

// WithMaxAge sets the cache freshness window.
func WithMaxAge(d time.Duration) Option {
	return func(r *Repository) { r.maxAge = d }
}

// WithBackoff sets the wait before the rate-limit retry.
func WithBackoff(d time.Duration) Option {
	return func(r *Repository) { r.backoff = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// WithSleep replaces the context-aware sleep used for the rate-limit backoff.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Repository) { r.sleep = sleep }
}

// New creates a Repository over store, caching results in c.
func New(store docstore.Store, c *cache.Cache, opts ...Option) *Repository {
	r := &Repository{
		store:   store,
		cache:   c,
		log:     zerolog.Nop(),
		maxAge:  DefaultMaxAge,
		backoff: DefaultBackoff,
		now:     time.Now,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
