package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-companion/internal/domain"
	"github.com/dvloznov/finance-companion/internal/notify"
)

var today = civil.Date{Year: 2024, Month: time.March, Day: 15}

func expense(id, title string, amount string, date civil.Date, status domain.Status) domain.Transaction {
	return domain.Transaction{
		ID:     id,
		UserID: "u1",
		Title:  title,
		Amount: decimal.RequireFromString(amount),
		Date:   date,
		Kind:   domain.KindExpense,
		Status: status,
	}
}

func newTestAnalyzer(prefs Preferences) *Analyzer {
	return NewAnalyzer(prefs, WithNow(func() time.Time { return time.Date(2024, time.March, 15, 9, 0, 0, 0, time.UTC) }))
}

func TestAnalyze_TwoBillsDueToday(t *testing.T) {
	a := newTestAnalyzer(DefaultPreferences())
	got := a.Analyze([]domain.Transaction{
		expense("t1", "Phone", "50.00", today, domain.StatusUnpaid),
		expense("t2", "Power", "100.00", today, domain.StatusUnpaid),
	}, today)

	require.Len(t, got, 1)
	n := got[0]
	assert.Equal(t, TypeBillDueToday, n.Type)
	assert.Equal(t, PriorityHigh, n.Priority)
	assert.Contains(t, n.Message, "2 bills")
	assert.Contains(t, n.Message, "150.00")
	assert.Equal(t, "2", n.Metadata[MetaCount])
	assert.Equal(t, "150.00", n.Metadata[MetaTotal])
	assert.Equal(t, "t1,t2", n.Metadata[MetaTransactionIDs])
}

func TestAnalyze_IDsAreStablePerCondition(t *testing.T) {
	a := newTestAnalyzer(DefaultPreferences())
	txs := []domain.Transaction{
		expense("t1", "Phone", "50.00", today, domain.StatusUnpaid),
		expense("t2", "Power", "100.00", today, domain.StatusUnpaid),
		expense("late", "Rent", "900", today.AddDays(-3), domain.StatusUnpaid),
	}

	first := a.Analyze(txs, today)
	require.Len(t, first, 2)
	assert.NotEqual(t, first[0].ID, first[1].ID)

	// input order does not matter
	again := a.Analyze([]domain.Transaction{txs[2], txs[1], txs[0]}, today)
	require.Len(t, again, 2)
	assert.Equal(t, first[0].ID, again[0].ID)
	assert.Equal(t, first[1].ID, again[1].ID)
	assert.Equal(t, NotificationID(TypeBillDueToday, today, "t2@"+today.String(), "t1@"+today.String()), first[1].ID)

	// a new bill or a new day is a new condition
	more := a.Analyze(append(txs, expense("t3", "Water", "20", today, domain.StatusUnpaid)), today)
	assert.Equal(t, first[0].ID, more[0].ID)
	assert.NotEqual(t, first[1].ID, more[1].ID)

	next := a.Analyze(txs, today.AddDays(1))
	require.NotEmpty(t, next)
	assert.NotEqual(t, first[0].ID, next[0].ID)
}

func TestAnalyze_Rules(t *testing.T) {
	a := newTestAnalyzer(DefaultPreferences())
	got := a.Analyze([]domain.Transaction{
		expense("late", "Rent", "900", today.AddDays(-3), domain.StatusUnpaid),
		expense("tmr", "Gym", "30", today.AddDays(1), domain.StatusUnpaid),
		expense("paid", "Paid today", "10", today, domain.StatusPaid),
		expense("far", "Later", "10", today.AddDays(5), domain.StatusUnpaid),
		{ID: "inc", Amount: decimal.NewFromInt(10), Date: today, Kind: domain.KindIncome, Status: domain.StatusPending},
	}, today)

	require.Len(t, got, 2)

	overdue := got[0]
	assert.Equal(t, TypeBillOverdue, overdue.Type)
	assert.Equal(t, PriorityUrgent, overdue.Priority)
	assert.True(t, strings.HasPrefix(overdue.Message, "⚠️"))
	assert.Contains(t, overdue.Message, "Rent")

	tomorrow := got[1]
	assert.Equal(t, TypeBillDueTomorrow, tomorrow.Type)
	assert.Equal(t, PriorityMedium, tomorrow.Priority)
	assert.Contains(t, tomorrow.Message, `"Gym"`)
	assert.Contains(t, tomorrow.Message, "30.00")
}

func TestAnalyze_DisabledRuleAndPolicyUpdate(t *testing.T) {
	txs := []domain.Transaction{expense("t1", "Phone", "50", today, domain.StatusUnpaid)}
	a := newTestAnalyzer(DefaultPreferences().WithDisabled(TypeBillDueToday))
	assert.Empty(t, a.Analyze(txs, today))

	a.UpdatePolicy(DefaultPreferences())
	assert.Len(t, a.Analyze(txs, today), 1)
}

func TestAnalyze_RecurringBillDueToday(t *testing.T) {
	rent := expense("r1", "Rent", "700", civil.Date{Year: 2024, Month: time.January, Day: 15}, domain.StatusPaid)
	rent.IsRecurring = true
	rent.Recurrence = &domain.Recurrence{Frequency: domain.FrequencyMonthly}

	got := newTestAnalyzer(DefaultPreferences()).Analyze([]domain.Transaction{rent}, today)
	require.Len(t, got, 1)
	assert.Equal(t, TypeBillDueToday, got[0].Type)
	assert.Contains(t, got[0].Message, "Rent")
}

func TestAnalyze_LowBalance(t *testing.T) {
	threshold := decimal.NewFromInt(500)
	prefs := DefaultPreferences()
	prefs.LowBalanceThreshold = &threshold

	txs := []domain.Transaction{
		{ID: "sal", Amount: decimal.NewFromInt(1000), Date: today.AddDays(-10), Kind: domain.KindIncome, Status: domain.StatusReceived},
		expense("rent", "Rent", "800", today.AddDays(-5), domain.StatusPaid),
		// previous month does not count
		expense("old", "Old", "5000", civil.Date{Year: 2024, Month: time.February, Day: 1}, domain.StatusPaid),
	}

	got := newTestAnalyzer(prefs).Analyze(txs, today)
	require.Len(t, got, 1)
	assert.Equal(t, TypeLowBalance, got[0].Type)
	assert.Equal(t, PriorityHigh, got[0].Priority)
	assert.Equal(t, "200.00", got[0].Metadata[MetaTotal])

	prefs.LowBalanceThreshold = nil
	assert.Empty(t, newTestAnalyzer(prefs).Analyze(txs, today))
}

func TestFormatMoney(t *testing.T) {
	assert.Contains(t, FormatMoney(decimal.NewFromInt(150), "USD"), "150.00")
	assert.Contains(t, FormatMoney(decimal.RequireFromString("2.5"), "nope"), "2.50")
	assert.NotContains(t, FormatMoney(decimal.NewFromInt(1500), "JPY"), ".")
}

func TestSortByPriority_StableAndNonIncreasing(t *testing.T) {
	in := []Notification{
		{ID: "a", Priority: PriorityLow},
		{ID: "b", Priority: PriorityHigh},
		{ID: "c", Priority: PriorityUrgent},
		{ID: "d", Priority: PriorityHigh},
		{ID: "e", Priority: PriorityMedium},
		{ID: "f", Priority: PriorityUrgent},
		{ID: "g", Priority: PriorityLow},
	}
	got := SortByPriority(in)

	var order []string
	for i, n := range got {
		order = append(order, n.ID)
		if i > 0 {
			assert.LessOrEqual(t, n.Priority, got[i-1].Priority)
		}
	}
	assert.Equal(t, []string{"c", "f", "b", "d", "e", "a", "g"}, order)
	assert.Equal(t, "a", in[0].ID, "input must not be reordered")
}

func TestSelect_CapsAndDisabled(t *testing.T) {
	var ns []Notification
	for i := 0; i < 7; i++ {
		ns = append(ns, Notification{ID: fmt.Sprint(i), Type: TypeCustom, Priority: Priority(i % 4)})
	}
	ns = append(ns, Notification{ID: "off", Type: TypeBillDueToday, Priority: PriorityUrgent})
	prefs := DefaultPreferences().WithDisabled(TypeBillDueToday)

	tests := []struct {
		limit int
		want  int
	}{
		{2, 2},
		{5, 5},
		{0, 7},
	}
	for _, tt := range tests {
		got := Select(ns, prefs, tt.limit)
		assert.Len(t, got, tt.want)
		for _, n := range got {
			assert.NotEqual(t, "off", n.ID)
		}
	}
	assert.Equal(t, PriorityUrgent, Select(ns, prefs, 2)[0].Priority)
}

func TestParseTypeAndPriority(t *testing.T) {
	typ, err := ParseType("bill-due-today")
	require.NoError(t, err)
	assert.Equal(t, TypeBillDueToday, typ)
	_, err = ParseType("nope")
	assert.Error(t, err)

	p, err := ParsePriority("Urgent")
	require.NoError(t, err)
	assert.Equal(t, PriorityUrgent, p)
	assert.True(t, PriorityUrgent > PriorityHigh && PriorityHigh > PriorityMedium && PriorityMedium > PriorityLow)
}

func TestMerge_SortsAndDedupes(t *testing.T) {
	base := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	analyzed := []Notification{
		{ID: "x", Type: TypeBillOverdue, Title: "analyzed x", Priority: PriorityUrgent, CreatedAt: base},
	}
	pending := []notify.Pending{
		{Request: notify.Request{ID: "p1", Title: "later"}, NextFire: base.Add(2 * time.Hour)},
	}
	delivered := []notify.Delivered{
		{Request: notify.Request{ID: "x", Title: "delivered x", Metadata: map[string]string{MetaPriority: "urgent"}}, DeliveredAt: base.Add(time.Hour)},
		{Request: notify.Request{ID: "d1", Title: "old"}, DeliveredAt: base.Add(-time.Hour)},
	}

	got := Merge(analyzed, pending, delivered)
	require.Len(t, got, 3)
	assert.Equal(t, "p1", got[0].ID)
	assert.Equal(t, SourcePending, got[0].Source)
	assert.Nil(t, got[0].Priority)
	assert.Equal(t, "delivered x", got[1].Title)
	assert.Equal(t, SourceDelivered, got[1].Source)
	require.NotNil(t, got[1].Priority)
	assert.Equal(t, PriorityUrgent, *got[1].Priority)
	assert.Equal(t, "d1", got[2].ID)
}

func TestMerge_PlatformCopyCollapsesWithAnalyzed(t *testing.T) {
	base := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	analyzed := []Notification{{ID: "n-1", Type: TypeBillDueToday, Title: "Bill due today", Priority: PriorityHigh, CreatedAt: base}}
	req := notify.Request{
		ID:       "scheduler-alert-n-1",
		Title:    "Bill due today",
		Metadata: map[string]string{MetaNotificationID: "n-1", MetaType: string(TypeBillDueToday)},
	}

	got := Merge(analyzed,
		[]notify.Pending{{Request: req, NextFire: base.Add(time.Second)}},
		[]notify.Delivered{{Request: req, DeliveredAt: base.Add(time.Minute)}})
	require.Len(t, got, 1)
	assert.Equal(t, "n-1", got[0].ID)
	assert.Equal(t, SourceDelivered, got[0].Source)
	assert.Equal(t, "calendar.badge.clock", got[0].Icon)
}

func TestMergeItems_DedupIdempotent(t *testing.T) {
	base := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	items := []DisplayItem{
		{ID: "a", Date: base},
		{ID: "b", Date: base.Add(time.Minute)},
		{ID: "a", Date: base.Add(-time.Minute)},
		{ID: "c", Date: base},
	}
	once := MergeItems(items)
	twice := MergeItems(items, items)
	assert.Equal(t, once, twice)
	assert.Len(t, once, 3)
	assert.Equal(t, "b", once[0].ID)
}

type fakeNotifier struct {
	pending   []notify.Pending
	delivered []notify.Delivered
	clearErr  error
	cleared   int
}

func (f *fakeNotifier) Schedule(ctx context.Context, req notify.Request) error { return nil }
func (f *fakeNotifier) Cancel(ctx context.Context, ids ...string) error     { return nil }
func (f *fakeNotifier) ListPending(ctx context.Context) ([]notify.Pending, error) {
	return f.pending, nil
}
func (f *fakeNotifier) ListDelivered(ctx context.Context) ([]notify.Delivered, error) {
	return f.delivered, nil
}
func (f *fakeNotifier) ClearDelivered(ctx context.Context) error {
	if f.clearErr != nil {
		return f.clearErr
	}
	f.cleared++
	f.delivered = nil
	return nil
}
func (f *fakeNotifier) Authorization(ctx context.Context) (notify.AuthorizationStatus, error) {
	return notify.Authorized, nil
}

func TestFeed_ClearKeepsAnalyzed(t *testing.T) {
	now := time.Now()
	n := &fakeNotifier{
		pending:   []notify.Pending{{Request: notify.Request{ID: "p"}, NextFire: now.Add(time.Hour)}},
		delivered: []notify.Delivered{{Request: notify.Request{ID: "d"}, DeliveredAt: now}},
	}
	feed := NewFeed(n)
	feed.SetAnalyzed([]Notification{{ID: "a", CreatedAt: now}, {ID: "b", CreatedAt: now}})
	assert.Equal(t, 2, feed.Badge())

	// re-setting the same ids does not bump the badge
	feed.SetAnalyzed([]Notification{{ID: "a", CreatedAt: now}, {ID: "b", CreatedAt: now}, {ID: "c", CreatedAt: now}})
	assert.Equal(t, 3, feed.Badge())

	items, err := feed.Items(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 5)

	items, err = feed.Clear(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 3)
	for _, it := range items {
		assert.Equal(t, SourceAnalyzed, it.Source)
	}
	assert.Zero(t, feed.Badge())
	assert.Equal(t, 1, n.cleared)
	assert.Len(t, n.pending, 1, "pending reminders stay scheduled")

	n.clearErr = errors.New("denied")
	_, err = feed.Clear(context.Background())
	assert.Error(t, err)
}
