package repository

import (
	"context"
	"errors"
	"sort"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-companion/internal/cache"
	"github.com/dvloznov/finance-companion/internal/docstore"
	"github.com/dvloznov/finance-companion/internal/domain"
)

// readSpec describes one read: where the records live, how to filter them
// remotely and locally, and how to order the result.
type readSpec[T any] struct {
	collection string
	key        string

	// ranged reads filter on the date field within [start, end].
	ranged     bool
	start, end civil.Date

	// orderField is the remote ordering of the primary query; empty for none.
	orderField string

	decode func(docstore.Document) (T, bool)
	owner  func(T) string
	date   func(T) civil.Date
	less   func(a, b T) bool
}

// read serves s from the fresh cache or runs the cascade and caches its
// result, empty results included. When the cascade fails hard, a stale
// cache entry is returned instead of the error.
func read[T any](ctx context.Context, r *Repository, id domain.Identity, s readSpec[T]) ([]T, error) {
	log := r.log.With().Str("collection", s.collection).Str("key", s.key).Logger()

	if items, ok := cache.LoadJSON[[]T](r.cache, s.key, r.maxAge); ok {
		log.Debug().Int("count", len(items)).Msg("Cache hit")
		return items, nil
	}

	owners := id.Owners()
	if len(owners) == 0 {
		return nil, domain.ErrMissingOwner
	}
	if id.Token != "" {
		ctx = docstore.WithToken(ctx, id.Token)
	}

	c := &cascade[T]{r: r, spec: s, id: id, log: log, tried: make(map[string]bool)}
	items, err := c.run(ctx, owners)
	if err != nil {
		if docstore.IsFatal(err) || ctx.Err() != nil {
			return nil, err
		}
		if stale, ok := cache.LoadStaleJSON[[]T](r.cache, s.key); ok {
			log.Warn().Err(err).Int("count", len(stale)).Msg("Serving stale cache after failed fetch")
			return stale, nil
		}
		return nil, &docstore.FetchError{Collection: s.collection, Err: err}
	}

	if items == nil {
		items = []T{}
	}
	if err := cache.SaveJSON(r.cache, s.key, items); err != nil {
		log.Warn().Err(err).Msg("Failed to cache result")
	}
	log.Debug().Int("count", len(items)).Int("calls", c.calls).Msg("Fetched from document store")
	return items, nil
}

// cascade runs the progressively degraded queries for one read.
type cascade[T any] struct {
	r    *Repository
	spec readSpec[T]
	id   domain.Identity
	log  zerolog.Logger

	// answered is set once any step completed without a hard failure.
	answered bool
	lastErr  error
	calls    int
	tried    map[string]bool
}

func (c *cascade[T]) run(ctx context.Context, owners []string) ([]T, error) {
	// Primary query per identity, primary identifier first.
	for i, owner := range owners {
		items, err := c.primary(ctx, owner, i == 0)
		if err != nil {
			return nil, err
		}
		if len(items) > 0 {
			return items, nil
		}
	}

	// Owner equality only, dates filtered locally.
	for _, owner := range owners {
		items, err := c.attempt(ctx, "owner-only", c.ownerQuery(owner))
		if err != nil {
			return nil, err
		}
		if len(items) > 0 {
			return items, nil
		}
	}

	// Date range only, identities filtered locally.
	if c.spec.ranged {
		q := docstore.Query{Collection: c.spec.collection}.
			Where(fieldDate, docstore.OpGreaterThanOrEqual, docstore.String(c.spec.start.String())).
			Where(fieldDate, docstore.OpLessThanOrEqual, docstore.String(c.spec.end.String()))
		items, err := c.attempt(ctx, "date-only", &q)
		if err != nil {
			return nil, err
		}
		if len(items) > 0 {
			return items, nil
		}
	}

	items, err := c.attempt(ctx, "full-collection", nil)
	if err != nil {
		return nil, err
	}
	if len(items) > 0 || c.answered {
		return items, nil
	}
	return nil, c.lastErr
}

// primary runs the composite query for one identity, retrying once after a
// rate limit and falling back to the owner-only query when an index is missing.
func (c *cascade[T]) primary(ctx context.Context, owner string, first bool) ([]T, error) {
	q := docstore.Query{Collection: c.spec.collection}.Where(fieldUserID, docstore.OpEqual, docstore.String(owner))
	if c.spec.ranged {
		q = q.Where(fieldDate, docstore.OpGreaterThanOrEqual, docstore.String(c.spec.start.String())).
			Where(fieldDate, docstore.OpLessThanOrEqual, docstore.String(c.spec.end.String()))
	}
	if c.spec.orderField != "" {
		q = q.Ordered(c.spec.orderField, docstore.Ascending)
	}
	c.tried[signature(q)] = true

	docs, err := c.query(ctx, q)
	retried := false
	if errors.Is(err, docstore.ErrRateLimited) {
		c.log.Warn().Str("step", "rate-limit-retry").Dur("backoff", c.r.backoff).Msg("Rate limited, retrying once")
		if serr := c.r.sleep(ctx, c.r.backoff); serr != nil {
			return nil, serr
		}
		docs, err = c.query(ctx, q)
		retried = true
	}

	if errors.Is(err, docstore.ErrIndexRequired) {
		c.log.Warn().Str("step", "missing-index").Str("owner", owner).Msg("Composite query needs an index, filtering locally")
		return c.attempt(ctx, "owner-only", c.ownerQuery(owner))
	}

	if err != nil {
		if docstore.IsFatal(err) || ctx.Err() != nil {
			return nil, err
		}
		if first && !retried && errors.Is(err, docstore.ErrUnavailable) {
			return nil, err
		}
		if retried || errors.Is(err, docstore.ErrDecode) {
			c.log.Warn().Str("step", "primary").Err(err).Msg("Treating failed query as empty")
			c.answered = true
			return nil, nil
		}
		c.fail("primary", err)
		return nil, nil
	}

	c.answered = true
	return c.keep(docs), nil
}

// attempt runs one fallback step. A nil query lists the whole collection.
// Only fatal errors are returned; other failures are recorded and the step
// yields nothing.
func (c *cascade[T]) attempt(ctx context.Context, step string, q *docstore.Query) ([]T, error) {
	sig := "list:" + c.spec.collection
	if q != nil {
		sig = signature(*q)
	}
	if c.tried[sig] {
		return nil, nil
	}
	c.tried[sig] = true

	var docs []docstore.Document
	var err error
	if q == nil {
		c.calls++
		docs, err = c.r.store.ListDocuments(ctx, c.spec.collection)
	} else {
		docs, err = c.query(ctx, *q)
	}

	if err != nil {
		if docstore.IsFatal(err) || ctx.Err() != nil {
			return nil, err
		}
		if errors.Is(err, docstore.ErrDecode) {
			c.log.Warn().Str("step", step).Err(err).Msg("Undecodable response, treating as empty")
			c.answered = true
			return nil, nil
		}
		c.fail(step, err)
		return nil, nil
	}

	c.answered = true
	items := c.keep(docs)
	if len(items) > 0 {
		c.log.Warn().Str("step", step).Int("documents", len(docs)).Int("kept", len(items)).Msg("Served by fallback")
	}
	return items, nil
}

func (c *cascade[T]) query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	c.calls++
	return c.r.store.RunQuery(ctx, q)
}

func (c *cascade[T]) fail(step string, err error) {
	c.lastErr = err
	c.log.Warn().Str("step", step).Err(err).Msg("Fallback step failed")
}

func (c *cascade[T]) ownerQuery(owner string) *docstore.Query {
	q := docstore.Query{Collection: c.spec.collection}.Where(fieldUserID, docstore.OpEqual, docstore.String(owner))
	return &q
}

// keep decodes docs and applies the identity and date rules locally, then
// sorts. Every step goes through it so all steps agree on what matches.
func (c *cascade[T]) keep(docs []docstore.Document) []T {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		item, ok := c.spec.decode(doc)
		if !ok {
			continue
		}
		if c.spec.owner != nil && !c.id.Owns(c.spec.owner(item)) {
			continue
		}
		if c.spec.ranged {
			d := c.spec.date(item)
			if d.Before(c.spec.start) || d.After(c.spec.end) {
				continue
			}
		}
		out = append(out, item)
	}
	if c.spec.less != nil {
		sort.SliceStable(out, func(i, j int) bool { return c.spec.less(out[i], out[j]) })
	}
	return out
}

// signature identifies a query so no step issues the same request twice.
func signature(q docstore.Query) string {
	var b strings.Builder
	b.WriteString(q.Collection)
	for _, f := range q.Filters {
		b.WriteString("|" + f.Field + " " + string(f.Op) + " " + f.Value.StringOr(""))
	}
	for _, o := range q.OrderBy {
		b.WriteString("|order " + o.Field)
	}
	return b.String()
}
