package repository

import (
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-companion/internal/docstore"
	"github.com/dvloznov/finance-companion/internal/domain"
)

// Field names as stored in the document store.
const (
	fieldUserID              = "userId"
	fieldTitle               = "title"
	fieldDescription         = "description"
	fieldAmount              = "amount"
	fieldCategoryID          = "categoryId"
	fieldDate                = "date"
	fieldType                = "type"
	fieldStatus              = "status"
	fieldCreatedAt           = "createdAt"
	fieldIsRecurring         = "isRecurring"
	fieldRecurrenceFrequency = "recurrenceFrequency"
	fieldRecurrenceEndDate   = "recurrenceEndDate"
	fieldSourceTransactionID = "sourceTransactionId"
	fieldTargetAmount        = "targetAmount"
	fieldCurrentAmount       = "currentAmount"
	fieldDeadline            = "deadline"
	fieldName                = "name"
	fieldIcon                = "icon"
)

// dateOf reads a calendar date stored either as a "YYYY-MM-DD" string (an
// RFC 3339 string is accepted too) or as a timestamp.
func dateOf(v docstore.Value) (civil.Date, bool) {
	switch v.Kind() {
	case docstore.KindString:
		s := strings.TrimSpace(v.StringOr(""))
		if len(s) > 10 {
			s = s[:10]
		}
		d, err := civil.ParseDate(s)
		if err != nil {
			return civil.Date{}, false
		}
		return d, true
	case docstore.KindTimestamp:
		return civil.DateOf(v.TimeOr(time.Time{})), true
	default:
		return civil.Date{}, false
	}
}

func amountOf(v docstore.Value) decimal.Decimal {
	return decimal.NewFromFloat(v.FloatOr(0))
}

// decodeTransaction maps a document onto a Transaction. Missing fields take
// the same defaults the app has always applied: amount 0, kind expense, the
// kind's outstanding status, and the creation day when no date is stored.
// Documents with no usable date at all are skipped.
func decodeTransaction(doc docstore.Document) (domain.Transaction, bool) {
	f := doc.Fields

	kind := domain.Kind(f.Get(fieldType).StringOr(string(domain.KindExpense)))
	if !kind.Valid() {
		kind = domain.KindExpense
	}
	status := domain.Status(f.Get(fieldStatus).StringOr(""))
	if !kind.Allows(status) {
		status = domain.DefaultStatus(kind)
	}

	createdAt := f.Get(fieldCreatedAt).TimeOr(doc.CreateTime)

	date, ok := dateOf(f.Get(fieldDate))
	if !ok {
		if createdAt.IsZero() {
			return domain.Transaction{}, false
		}
		date = civil.DateOf(createdAt)
	}

	t := domain.Transaction{
		ID:                  doc.ID(),
		UserID:              f.Get(fieldUserID).StringOr(""),
		Title:               f.Get(fieldTitle).StringOr(""),
		Description:         f.Get(fieldDescription).StringOr(""),
		Amount:              amountOf(f.Get(fieldAmount)),
		CategoryID:          f.Get(fieldCategoryID).StringOr(""),
		Date:                date,
		Kind:                kind,
		Status:              status,
		CreatedAt:           createdAt,
		IsRecurring:         f.Get(fieldIsRecurring).BoolOr(false),
		SourceTransactionID: f.Get(fieldSourceTransactionID).StringOr(""),
	}

	if t.IsRecurring {
		rec := &domain.Recurrence{
			Frequency: domain.Frequency(f.Get(fieldRecurrenceFrequency).StringOr(string(domain.FrequencyMonthly))),
		}
		if end, ok := dateOf(f.Get(fieldRecurrenceEndDate)); ok {
			rec.EndDate = &end
		}
		t.Recurrence = rec
	}
	return t, true
}

func encodeTransaction(t domain.Transaction) docstore.Fields {
	f := docstore.Fields{
		fieldUserID:      docstore.String(t.UserID),
		fieldTitle:       docstore.String(t.Title),
		fieldDescription: docstore.String(t.Description),
		fieldAmount:      docstore.Double(t.Amount.InexactFloat64()),
		fieldCategoryID:  docstore.String(t.CategoryID),
		fieldDate:        docstore.String(t.Date.String()),
		fieldType:        docstore.String(string(t.Kind)),
		fieldStatus:      docstore.String(string(t.Status)),
		fieldCreatedAt:   docstore.Timestamp(t.CreatedAt),
		fieldIsRecurring: docstore.Boolean(t.IsRecurring),
	}
	if t.IsRecurring && t.Recurrence != nil {
		f[fieldRecurrenceFrequency] = docstore.String(string(t.Recurrence.Frequency))
		if t.Recurrence.EndDate != nil {
			f[fieldRecurrenceEndDate] = docstore.String(t.Recurrence.EndDate.String())
		} else {
			f[fieldRecurrenceEndDate] = docstore.Null()
		}
	}
	if t.SourceTransactionID != "" {
		f[fieldSourceTransactionID] = docstore.String(t.SourceTransactionID)
	}
	return f
}

func decodeGoal(doc docstore.Document) (domain.Goal, bool) {
	f := doc.Fields
	g := domain.Goal{
		ID:            doc.ID(),
		UserID:        f.Get(fieldUserID).StringOr(""),
		Title:         f.Get(fieldTitle).StringOr(""),
		TargetAmount:  amountOf(f.Get(fieldTargetAmount)),
		CurrentAmount: amountOf(f.Get(fieldCurrentAmount)),
		CreatedAt:     f.Get(fieldCreatedAt).TimeOr(doc.CreateTime),
	}
	if d, ok := dateOf(f.Get(fieldDeadline)); ok {
		g.Deadline = &d
	}
	return g, true
}

func encodeGoal(g domain.Goal) docstore.Fields {
	f := docstore.Fields{
		fieldUserID:        docstore.String(g.UserID),
		fieldTitle:         docstore.String(g.Title),
		fieldTargetAmount:  docstore.Double(g.TargetAmount.InexactFloat64()),
		fieldCurrentAmount: docstore.Double(g.CurrentAmount.InexactFloat64()),
		fieldCreatedAt:     docstore.Timestamp(g.CreatedAt),
		fieldDeadline:      docstore.Null(),
	}
	if g.Deadline != nil {
		f[fieldDeadline] = docstore.String(g.Deadline.String())
	}
	return f
}

func decodeCategory(doc docstore.Document) (domain.Category, bool) {
	f := doc.Fields
	c := domain.Category{
		ID:     doc.ID(),
		UserID: f.Get(fieldUserID).StringOr(""),
		Name:   f.Get(fieldName).StringOr(""),
		Icon:   f.Get(fieldIcon).StringOr(""),
		Kind:   domain.Kind(f.Get(fieldType).StringOr("")),
	}
	if c.Name == "" {
		c.Name = c.ID
	}
	return c, c.ID != ""
}

func encodeCategory(c domain.Category) docstore.Fields {
	return docstore.Fields{
		fieldUserID: docstore.String(c.UserID),
		fieldName:   docstore.String(c.Name),
		fieldIcon:   docstore.String(c.Icon),
		fieldType:   docstore.String(string(c.Kind)),
	}
}
