package repository

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-companion/internal/cache"
	"github.com/dvloznov/finance-companion/internal/docstore"
	"github.com/dvloznov/finance-companion/internal/domain"
)

// fakeStore is a docstore.Store whose behaviour is set per test.
type fakeStore struct {
	mu      sync.Mutex
	queries []docstore.Query
	lists   int

	RunQueryFunc      func(q docstore.Query) ([]docstore.Document, error)
	ListDocumentsFunc func(collection string) ([]docstore.Document, error)
	CreateFunc        func(collection string, fields docstore.Fields) (docstore.Document, error)
	PatchFunc         func(collection, id string, fields docstore.Fields, mask []string) (docstore.Document, error)
	DeleteFunc        func(collection, id string) error
}

func (f *fakeStore) RunQuery(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	if f.RunQueryFunc != nil {
		return f.RunQueryFunc(q)
	}
	return nil, nil
}

func (f *fakeStore) ListDocuments(ctx context.Context, collection string) ([]docstore.Document, error) {
	f.mu.Lock()
	f.lists++
	f.mu.Unlock()
	if f.ListDocumentsFunc != nil {
		return f.ListDocumentsFunc(collection)
	}
	return nil, nil
}

func (f *fakeStore) CreateDocument(ctx context.Context, collection string, fields docstore.Fields) (docstore.Document, error) {
	if f.CreateFunc != nil {
		return f.CreateFunc(collection, fields)
	}
	return docstore.Document{Name: "p/" + collection + "/new", Fields: fields}, nil
}

func (f *fakeStore) PatchDocument(ctx context.Context, collection, id string, fields docstore.Fields, mask ...string) (docstore.Document, error) {
	if f.PatchFunc != nil {
		return f.PatchFunc(collection, id, fields, mask)
	}
	return docstore.Document{Name: "p/" + collection + "/" + id, Fields: fields}, nil
}

func (f *fakeStore) DeleteDocument(ctx context.Context, collection, id string) error {
	if f.DeleteFunc != nil {
		return f.DeleteFunc(collection, id)
	}
	return nil
}

func (f *fakeStore) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries) + f.lists
}

func txDoc(id, owner string, date docstore.Value, amount float64) docstore.Document {
	return docstore.Document{
		Name: "projects/demo/databases/(default)/documents/transactions/" + id,
		Fields: docstore.Fields{
			"userId": docstore.String(owner),
			"title":  docstore.String("tx " + id),
			"amount": docstore.Double(amount),
			"date":   date,
			"type":   docstore.String("expense"),
			"status": docstore.String("unpaid"),
		},
	}
}

func ownerOf(q docstore.Query) string {
	for _, f := range q.Filters {
		if f.Field == "userId" {
			return f.Value.StringOr("")
		}
	}
	return ""
}

func isPrimary(q docstore.Query) bool { return len(q.Filters) == 3 }

var (
	jan1  = civil.Date{Year: 2024, Month: time.January, Day: 1}
	jan31 = civil.Date{Year: 2024, Month: time.January, Day: 31}
	user  = domain.Identity{UserID: "u1"}
)

type recordedSleep struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *recordedSleep) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return nil
}

func newRepo(store docstore.Store, c *cache.Cache) (*Repository, *recordedSleep) {
	s := &recordedSleep{}
	return New(store, c, WithSleep(s.sleep)), s
}

func ids(txs []domain.Transaction) []string {
	out := make([]string, len(txs))
	for i, t := range txs {
		out[i] = t.ID
	}
	return out
}

func TestTransactions_FreshCacheSkipsNetwork(t *testing.T) {
	c := cache.New()
	cached := []domain.Transaction{
		{ID: "a", UserID: "u1", Amount: decimal.NewFromInt(50), Date: jan1, Kind: domain.KindExpense, Status: domain.StatusUnpaid},
	}
	key := "transactions-u1-2024-01-01-2024-01-31"
	require.Equal(t, key, TransactionsKey("u1", jan1, jan31))
	require.NoError(t, cache.SaveJSON(c, key, cached))
	payload, _ := c.LoadStale(key)

	store := &fakeStore{RunQueryFunc: func(q docstore.Query) ([]docstore.Document, error) {
		t.Fatal("unexpected query")
		return nil, nil
	}}
	repo, _ := newRepo(store, c)

	got, err := repo.Transactions(context.Background(), user, jan1, jan31)
	require.NoError(t, err)
	assert.Zero(t, store.calls())

	data, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), string(data))
}

func TestTransactions_MissingIndexFiltersLocally(t *testing.T) {
	inRange := []string{"2024-01-20", "2024-01-01", "2024-01-31", "2024-01-05", "2024-01-15", "2024-01-10"}
	outside := []string{"2023-12-31", "2024-02-01", "2023-06-15", "2025-01-10"}

	var docs []docstore.Document
	for i, d := range append(append([]string{}, inRange...), outside...) {
		docs = append(docs, txDoc(string(rune('a'+i)), "u1", docstore.String(d), 10))
	}

	store := &fakeStore{RunQueryFunc: func(q docstore.Query) ([]docstore.Document, error) {
		if isPrimary(q) {
			return nil, &docstore.StatusError{StatusCode: http.StatusBadRequest, Message: "The query requires an index."}
		}
		if len(q.Filters) == 1 && ownerOf(q) == "u1" {
			return docs, nil
		}
		t.Fatalf("unexpected query %+v", q)
		return nil, nil
	}}
	c := cache.New()
	repo, _ := newRepo(store, c)

	got, err := repo.Transactions(context.Background(), user, jan1, jan31)
	require.NoError(t, err)
	require.Len(t, got, 6)
	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].Date.Before(got[i-1].Date), "not sorted at %d", i)
	}
	assert.Equal(t, jan1, got[0].Date)
	assert.Equal(t, jan31, got[5].Date)
	assert.Equal(t, 2, store.calls())

	cached, ok := cache.LoadJSON[[]domain.Transaction](c, TransactionsKey("u1", jan1, jan31), time.Minute)
	require.True(t, ok)
	assert.Equal(t, ids(got), ids(cached))
}

func TestTransactions_RateLimitRetriesOnce(t *testing.T) {
	primaryCalls := 0
	store := &fakeStore{RunQueryFunc: func(q docstore.Query) ([]docstore.Document, error) {
		if isPrimary(q) {
			primaryCalls++
			return nil, &docstore.StatusError{StatusCode: http.StatusTooManyRequests}
		}
		return nil, nil
	}}
	repo, sleeps := newRepo(store, cache.New())

	got, err := repo.Transactions(context.Background(), user, jan1, jan31)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Equal(t, 2, primaryCalls)
	assert.Equal(t, []time.Duration{DefaultBackoff}, sleeps.waits)
}

func TestTransactions_RateLimitRetrySucceeds(t *testing.T) {
	primaryCalls := 0
	store := &fakeStore{RunQueryFunc: func(q docstore.Query) ([]docstore.Document, error) {
		primaryCalls++
		if primaryCalls == 1 {
			return nil, &docstore.StatusError{StatusCode: http.StatusTooManyRequests}
		}
		return []docstore.Document{txDoc("a", "u1", docstore.String("2024-01-03"), 5)}, nil
	}}
	repo, sleeps := newRepo(store, cache.New())

	got, err := repo.Transactions(context.Background(), user, jan1, jan31)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(got))
	assert.Len(t, sleeps.waits, 1)
	assert.Equal(t, 2, store.calls())
}

func TestTransactions_AlternateIdentity(t *testing.T) {
	id := domain.Identity{UserID: "u1", Email: "me@example.com"}
	store := &fakeStore{RunQueryFunc: func(q docstore.Query) ([]docstore.Document, error) {
		if isPrimary(q) && ownerOf(q) == "me@example.com" {
			return []docstore.Document{txDoc("e1", "me@example.com", docstore.String("2024-01-09"), 1)}, nil
		}
		return nil, nil
	}}
	repo, _ := newRepo(store, cache.New())

	got, err := repo.Transactions(context.Background(), id, jan1, jan31)
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, ids(got))
	assert.Equal(t, 2, store.calls())
}

func TestTransactions_OwnerOnlyAcceptsTimestampDates(t *testing.T) {
	store := &fakeStore{RunQueryFunc: func(q docstore.Query) ([]docstore.Document, error) {
		if len(q.Filters) == 1 && ownerOf(q) == "u1" {
			return []docstore.Document{
				txDoc("ts", "u1", docstore.Timestamp(time.Date(2024, 1, 12, 15, 0, 0, 0, time.UTC)), 3),
				txDoc("str", "u1", docstore.String("2024-01-02"), 3),
				txDoc("old", "u1", docstore.Timestamp(time.Date(2023, 1, 12, 15, 0, 0, 0, time.UTC)), 3),
			}, nil
		}
		return nil, nil
	}}
	repo, _ := newRepo(store, cache.New())

	got, err := repo.Transactions(context.Background(), user, jan1, jan31)
	require.NoError(t, err)
	assert.Equal(t, []string{"str", "ts"}, ids(got))
}

func TestTransactions_DateOnlyFiltersByIdentity(t *testing.T) {
	id := domain.Identity{UserID: "u1", Email: "Me@Example.com"}
	store := &fakeStore{RunQueryFunc: func(q docstore.Query) ([]docstore.Document, error) {
		if ownerOf(q) == "" {
			return []docstore.Document{
				txDoc("mine", "me@example.com", docstore.String("2024-01-04"), 1),
				txDoc("theirs", "u2", docstore.String("2024-01-04"), 1),
			}, nil
		}
		return nil, nil
	}}
	repo, _ := newRepo(store, cache.New())

	got, err := repo.Transactions(context.Background(), id, jan1, jan31)
	require.NoError(t, err)
	assert.Equal(t, []string{"mine"}, ids(got))
}

func TestTransactions_FullCollectionLastResort(t *testing.T) {
	store := &fakeStore{ListDocumentsFunc: func(collection string) ([]docstore.Document, error) {
		assert.Equal(t, CollectionTransactions, collection)
		return []docstore.Document{
			txDoc("b", "u1", docstore.String("2024-01-20"), 1),
			txDoc("a", "u1", docstore.String("2024-01-10"), 1),
			txDoc("x", "u9", docstore.String("2024-01-10"), 1),
			txDoc("y", "u1", docstore.String("2024-03-10"), 1),
		}, nil
	}}
	repo, _ := newRepo(store, cache.New())

	got, err := repo.Transactions(context.Background(), user, jan1, jan31)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(got))
	assert.Equal(t, 1, store.lists)
}

func TestTransactions_CascadeTerminatesAndCachesEmpty(t *testing.T) {
	id := domain.Identity{UserID: "u1", Email: "me@example.com"}
	store := &fakeStore{}
	c := cache.New()
	repo, _ := newRepo(store, c)

	got, err := repo.Transactions(context.Background(), id, jan1, jan31)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.LessOrEqual(t, store.calls(), 8)
	assert.Equal(t, 1, store.lists)

	cached, ok := cache.LoadJSON[[]domain.Transaction](c, TransactionsKey("u1", jan1, jan31), time.Minute)
	assert.True(t, ok)
	assert.Empty(t, cached)

	// second read is served by the cached empty result
	before := store.calls()
	_, err = repo.Transactions(context.Background(), id, jan1, jan31)
	require.NoError(t, err)
	assert.Equal(t, before, store.calls())
}

func TestTransactions_BoundedCallsUnderIndexAndRateLimits(t *testing.T) {
	id := domain.Identity{UserID: "u1", Email: "me@example.com"}
	store := &fakeStore{RunQueryFunc: func(q docstore.Query) ([]docstore.Document, error) {
		if isPrimary(q) {
			return nil, &docstore.StatusError{StatusCode: http.StatusBadRequest, Message: "needs index"}
		}
		return nil, &docstore.StatusError{StatusCode: http.StatusTooManyRequests}
	}}
	repo, _ := newRepo(store, cache.New())

	_, _ = repo.Transactions(context.Background(), id, jan1, jan31)
	assert.LessOrEqual(t, store.calls(), 8)
}

func TestTransactions_HardFailures(t *testing.T) {
	serverError := func(q docstore.Query) ([]docstore.Document, error) {
		return nil, &docstore.StatusError{StatusCode: http.StatusInternalServerError}
	}
	listError := func(string) ([]docstore.Document, error) {
		return nil, &docstore.StatusError{StatusCode: http.StatusServiceUnavailable}
	}

	t.Run("no cache propagates fetch error", func(t *testing.T) {
		store := &fakeStore{RunQueryFunc: serverError, ListDocumentsFunc: listError}
		repo, _ := newRepo(store, cache.New())

		_, err := repo.Transactions(context.Background(), user, jan1, jan31)
		require.Error(t, err)
		assert.ErrorIs(t, err, docstore.ErrFetch)
		var fe *docstore.FetchError
		require.True(t, errors.As(err, &fe))
		assert.Equal(t, CollectionTransactions, fe.Collection)
	})

	t.Run("stale cache wins", func(t *testing.T) {
		now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		c := cache.New(cache.WithClock(func() time.Time { return now }))
		stale := []domain.Transaction{{ID: "old", UserID: "u1", Date: jan1, Kind: domain.KindExpense, Status: domain.StatusPaid}}
		require.NoError(t, cache.SaveJSON(c, TransactionsKey("u1", jan1, jan31), stale))
		now = now.Add(24 * time.Hour)

		store := &fakeStore{RunQueryFunc: serverError, ListDocumentsFunc: listError}
		repo, _ := newRepo(store, c)

		got, err := repo.Transactions(context.Background(), user, jan1, jan31)
		require.NoError(t, err)
		assert.Equal(t, []string{"old"}, ids(got))
	})

	t.Run("decode errors are empty results", func(t *testing.T) {
		store := &fakeStore{
			RunQueryFunc: func(q docstore.Query) ([]docstore.Document, error) {
				return nil, docstore.ErrDecode
			},
			ListDocumentsFunc: listError,
		}
		repo, _ := newRepo(store, cache.New())

		got, err := repo.Transactions(context.Background(), user, jan1, jan31)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestTransactions_UnavailableAtFirstAttempt(t *testing.T) {
	unreachable := func(q docstore.Query) ([]docstore.Document, error) {
		return nil, docstore.ErrUnavailable
	}

	store := &fakeStore{RunQueryFunc: unreachable}
	repo, _ := newRepo(store, cache.New())
	_, err := repo.Transactions(context.Background(), user, jan1, jan31)
	assert.ErrorIs(t, err, docstore.ErrUnavailable)
	assert.Equal(t, 1, store.calls())

	now := time.Now()
	c := cache.New(cache.WithClock(func() time.Time { return now }))
	require.NoError(t, cache.SaveJSON(c, TransactionsKey("u1", jan1, jan31), []domain.Transaction{{ID: "s", Date: jan1}}))
	now = now.Add(time.Hour)

	repo, _ = newRepo(&fakeStore{RunQueryFunc: unreachable}, c)
	got, err := repo.Transactions(context.Background(), user, jan1, jan31)
	require.NoError(t, err)
	assert.Equal(t, []string{"s"}, ids(got))
}

func TestTransactions_FatalErrorsAlwaysPropagate(t *testing.T) {
	now := time.Now()
	c := cache.New(cache.WithClock(func() time.Time { return now }))
	// a stale entry does not hide an authentication failure
	c.Save(TransactionsKey("u1", jan1, jan31), []byte(`[]`))
	now = now.Add(time.Hour)
	repo, _ := newRepo(&fakeStore{RunQueryFunc: func(q docstore.Query) ([]docstore.Document, error) {
		return nil, &docstore.StatusError{StatusCode: http.StatusUnauthorized}
	}}, c)

	_, err := repo.Transactions(context.Background(), user, jan1, jan31)
	assert.ErrorIs(t, err, docstore.ErrAuthentication)

	repo, _ = newRepo(&fakeStore{RunQueryFunc: func(q docstore.Query) ([]docstore.Document, error) {
		return nil, docstore.ErrConfiguration
	}}, cache.New())
	_, err = repo.Transactions(context.Background(), user, jan1, jan31)
	assert.ErrorIs(t, err, docstore.ErrConfiguration)
}

func TestTransactions_Validation(t *testing.T) {
	repo, _ := newRepo(&fakeStore{}, cache.New())

	_, err := repo.Transactions(context.Background(), domain.Identity{}, jan1, jan31)
	assert.ErrorIs(t, err, domain.ErrMissingOwner)

	_, err = repo.Transactions(context.Background(), user, jan31, jan1)
	assert.Error(t, err)
}

func TestWrites_InvalidateOnSuccessOnly(t *testing.T) {
	id := domain.Identity{UserID: "u1", Email: "me@example.com"}
	c := cache.New()
	c.Save(TransactionsKey("u1", jan1, jan31), []byte(`[]`))
	c.Save(TransactionsKey("me@example.com", jan1, jan31), []byte(`[]`))
	c.Save(TransactionsKey("u2", jan1, jan31), []byte(`[]`))
	c.Save("goals-u1", []byte(`[]`))

	store := &fakeStore{}
	repo, _ := newRepo(store, c)

	tx := domain.Transaction{
		Amount: decimal.RequireFromString("12.50"),
		Date:   jan1,
		Kind:   domain.KindExpense,
		Status: domain.StatusUnpaid,
	}

	store.CreateFunc = func(collection string, fields docstore.Fields) (docstore.Document, error) {
		return docstore.Document{}, &docstore.WriteError{Op: "create", Collection: collection, Err: errors.New("rejected")}
	}
	_, err := repo.CreateTransaction(context.Background(), id, tx)
	require.Error(t, err)
	assert.ErrorIs(t, err, docstore.ErrWrite)
	assert.Equal(t, 4, c.Len())

	store.CreateFunc = func(collection string, fields docstore.Fields) (docstore.Document, error) {
		assert.Equal(t, "u1", fields.Get("userId").StringOr(""))
		assert.Equal(t, 12.5, fields.Get("amount").FloatOr(0))
		assert.Equal(t, "2024-01-01", fields.Get("date").StringOr(""))
		return docstore.Document{Name: "p/transactions/t9"}, nil
	}
	created, err := repo.CreateTransaction(context.Background(), id, tx)
	require.NoError(t, err)
	assert.Equal(t, "t9", created.ID)
	assert.Equal(t, "u1", created.UserID)

	_, ok := c.LoadStale(TransactionsKey("u1", jan1, jan31))
	assert.False(t, ok)
	_, ok = c.LoadStale(TransactionsKey("me@example.com", jan1, jan31))
	assert.False(t, ok)
	_, ok = c.LoadStale(TransactionsKey("u2", jan1, jan31))
	assert.True(t, ok)
	_, ok = c.LoadStale("goals-u1")
	assert.True(t, ok)

	require.NoError(t, repo.DeleteGoal(context.Background(), id, "g1"))
	_, ok = c.LoadStale("goals-u1")
	assert.False(t, ok)
}

func TestSetStatus_PatchesOnlyStatus(t *testing.T) {
	id := domain.Identity{UserID: "u1"}
	c := cache.New()
	c.Save(TransactionsKey("u1", jan1, jan31), []byte(`[]`))

	var gotID string
	var gotFields docstore.Fields
	var gotMask []string
	store := &fakeStore{PatchFunc: func(collection, txID string, fields docstore.Fields, mask []string) (docstore.Document, error) {
		assert.Equal(t, CollectionTransactions, collection)
		gotID, gotFields, gotMask = txID, fields, mask
		return docstore.Document{Name: "p/transactions/" + txID, Fields: fields}, nil
	}}
	repo, _ := newRepo(store, c)

	rent := domain.Transaction{ID: "t1", UserID: "u1", Title: "Rent", Amount: decimal.NewFromInt(900), Date: jan1, Kind: domain.KindExpense, Status: domain.StatusUnpaid}
	paid, err := repo.SetStatus(context.Background(), id, rent, domain.StatusPaid)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, paid.Status)
	assert.False(t, paid.Outstanding())
	assert.Equal(t, "t1", gotID)
	assert.Equal(t, []string{"status"}, gotMask)
	assert.Len(t, gotFields, 1)
	assert.Equal(t, "paid", gotFields.Get("status").StringOr(""))
	_, ok := c.LoadStale(TransactionsKey("u1", jan1, jan31))
	assert.False(t, ok)

	// income has its own vocabulary
	_, err = repo.SetStatus(context.Background(), id, rent, domain.StatusReceived)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
	_, err = repo.SetStatus(context.Background(), id, domain.Transaction{Kind: domain.KindExpense}, domain.StatusPaid)
	assert.Error(t, err)

	store.PatchFunc = func(collection, txID string, fields docstore.Fields, mask []string) (docstore.Document, error) {
		return docstore.Document{}, &docstore.WriteError{Op: "patch", Collection: collection, ID: txID, Err: docstore.ErrAuthentication}
	}
	_, err = repo.SetStatus(context.Background(), id, rent, domain.StatusPaid)
	assert.ErrorIs(t, err, docstore.ErrWrite)
}

func TestCreateTransaction_RejectsInvalid(t *testing.T) {
	store := &fakeStore{CreateFunc: func(string, docstore.Fields) (docstore.Document, error) {
		t.Fatal("invalid record must not be written")
		return docstore.Document{}, nil
	}}
	repo, _ := newRepo(store, cache.New())

	_, err := repo.CreateTransaction(context.Background(), user, domain.Transaction{
		Kind:   domain.KindIncome,
		Status: domain.StatusPaid,
		Date:   jan1,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestCategories_MergesBuiltins(t *testing.T) {
	store := &fakeStore{RunQueryFunc: func(q docstore.Query) ([]docstore.Document, error) {
		return []docstore.Document{
			{Name: "p/categories/FOOD", Fields: docstore.Fields{"userId": docstore.String("u1"), "name": docstore.String("My food")}},
			{Name: "p/categories/pets", Fields: docstore.Fields{"userId": docstore.String("u1"), "name": docstore.String("Pets")}},
			{Name: "p/categories/gym", Fields: docstore.Fields{"userId": docstore.String("u1"), "name": docstore.String("Gym")}},
		}, nil
	}}
	repo, _ := newRepo(store, cache.New())

	got, err := repo.Categories(context.Background(), user)
	require.NoError(t, err)
	require.Len(t, got, len(domain.BuiltinCategories)+2)
	assert.Equal(t, "Food", got[0].Name)
	assert.Equal(t, "pets", got[len(got)-2].ID)
	assert.Equal(t, "gym", got[len(got)-1].ID)
	assert.Equal(t, 1, store.calls())
}

func TestGoals_IndexFallbackSortsByCreation(t *testing.T) {
	goalDoc := func(id string, created time.Time) docstore.Document {
		return docstore.Document{Name: "p/goals/" + id, Fields: docstore.Fields{
			"userId":        docstore.String("u1"),
			"title":         docstore.String(id),
			"targetAmount":  docstore.Double(1000),
			"currentAmount": docstore.Integer(250),
			"createdAt":     docstore.Timestamp(created),
			"deadline":      docstore.String("2024-12-31"),
		}}
	}
	store := &fakeStore{RunQueryFunc: func(q docstore.Query) ([]docstore.Document, error) {
		if len(q.OrderBy) > 0 {
			return nil, &docstore.StatusError{StatusCode: http.StatusBadRequest, Message: "index required"}
		}
		return []docstore.Document{
			goalDoc("late", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)),
			goalDoc("early", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		}, nil
	}}
	repo, _ := newRepo(store, cache.New())

	got, err := repo.Goals(context.Background(), user)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "early", got[0].ID)
	assert.True(t, got[0].CurrentAmount.Equal(decimal.NewFromInt(250)))
	require.NotNil(t, got[0].Deadline)
	assert.Equal(t, "2024-12-31", got[0].Deadline.String())
	assert.Equal(t, 2, store.calls())
}

func TestTransfer(t *testing.T) {
	source := domain.Transaction{
		ID:     "inc1",
		UserID: "u1",
		Amount: decimal.NewFromInt(300),
		Date:   jan1,
		Kind:   domain.KindIncome,
		Status: domain.StatusReceived,
	}

	t.Run("partial is rejected", func(t *testing.T) {
		repo, _ := newRepo(&fakeStore{}, cache.New())
		_, err := repo.Transfer(context.Background(), user, source, domain.KindInvestment, decimal.NewFromInt(100))
		assert.ErrorIs(t, err, ErrPartialTransfer)
	})

	t.Run("expense cannot be transferred", func(t *testing.T) {
		repo, _ := newRepo(&fakeStore{}, cache.New())
		exp := source
		exp.Kind = domain.KindExpense
		_, err := repo.Transfer(context.Background(), user, exp, domain.KindInvestment, exp.Amount)
		assert.ErrorIs(t, err, domain.ErrInvalidKind)
	})

	t.Run("full amount moves", func(t *testing.T) {
		var deleted string
		store := &fakeStore{
			CreateFunc: func(collection string, fields docstore.Fields) (docstore.Document, error) {
				assert.Equal(t, "investment", fields.Get("type").StringOr(""))
				assert.Equal(t, "invested", fields.Get("status").StringOr(""))
				assert.Equal(t, "inc1", fields.Get("sourceTransactionId").StringOr(""))
				return docstore.Document{Name: "p/transactions/inv1"}, nil
			},
			DeleteFunc: func(collection, id string) error {
				deleted = id
				return nil
			},
		}
		repo, _ := newRepo(store, cache.New())

		moved, err := repo.Transfer(context.Background(), user, source, domain.KindInvestment, decimal.RequireFromString("300.00"))
		require.NoError(t, err)
		assert.Equal(t, "inv1", moved.ID)
		assert.Equal(t, "inc1", moved.SourceTransactionID)
		assert.Equal(t, "inc1", deleted)
	})
}

func TestDecodeTransactionDefaults(t *testing.T) {
	created := time.Date(2024, 2, 3, 22, 0, 0, 0, time.UTC)
	tx, ok := decodeTransaction(docstore.Document{
		Name: "p/transactions/x",
		Fields: docstore.Fields{
			"userId":    docstore.String("u1"),
			"status":    docstore.String("received"),
			"createdAt": docstore.Timestamp(created),
		},
	})
	require.True(t, ok)
	assert.Equal(t, "x", tx.ID)
	assert.True(t, tx.Amount.IsZero())
	assert.Equal(t, domain.KindExpense, tx.Kind)
	assert.Equal(t, domain.StatusUnpaid, tx.Status)
	assert.Equal(t, civil.Date{Year: 2024, Month: time.February, Day: 3}, tx.Date)

	_, ok = decodeTransaction(docstore.Document{Name: "p/transactions/y", Fields: docstore.Fields{}})
	assert.False(t, ok)

	rec, ok := decodeTransaction(docstore.Document{Name: "p/transactions/r", Fields: docstore.Fields{
		"date":                docstore.String("2024-01-31T00:00:00Z"),
		"amount":              docstore.String("19.99"),
		"isRecurring":         docstore.Boolean(true),
		"recurrenceFrequency": docstore.String("monthly"),
		"recurrenceEndDate":   docstore.Null(),
	}})
	require.True(t, ok)
	assert.Equal(t, jan31, rec.Date)
	assert.True(t, rec.Amount.Equal(decimal.RequireFromString("19.99")))
	require.NotNil(t, rec.Recurrence)
	assert.Equal(t, domain.FrequencyMonthly, rec.Recurrence.Frequency)
	assert.Nil(t, rec.Recurrence.EndDate)
}
