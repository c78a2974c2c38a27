package docstore

import (
	firestore "google.golang.org/api/firestore/v1"
)

// Operator is a field filter comparison supported by this client.
type Operator string

const (
	OpEqual              Operator = "EQUAL"
	OpGreaterThanOrEqual Operator = "GREATER_THAN_OR_EQUAL"
	OpLessThanOrEqual    Operator = "LESS_THAN_OR_EQUAL"
)

// Direction is an ordering direction.
type Direction string

const (
	Ascending  Direction = "ASCENDING"
	Descending Direction = "DESCENDING"
)

// Filter compares one field to a value.
type Filter struct {
	Field string
	Op    Operator
	Value Value
}

// Order sorts results by one field.
type Order struct {
	Field     string
	Direction Direction
}

// Query is a structured query against a single collection. Filters are
// combined with AND.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    []Order
	Limit      int
}

// Where appends an equality or range filter and returns the query.
func (q Query) Where(field string, op Operator, v Value) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Op: op, Value: v})
	return q
}

// Ordered appends an ordering and returns the query.
func (q Query) Ordered(field string, dir Direction) Query {
	q.OrderBy = append(append([]Order(nil), q.OrderBy...), Order{Field: field, Direction: dir})
	return q
}

// structured builds the wire query. A single filter is sent as a plain field
// filter; several are wrapped in an AND composite.
func (q Query) structured() *firestore.StructuredQuery {
	sq := &firestore.StructuredQuery{
		From:  []*firestore.CollectionSelector{{CollectionId: q.Collection}},
		Limit: int64(q.Limit),
	}

	filters := make([]*firestore.Filter, 0, len(q.Filters))
	for _, f := range q.Filters {
		filters = append(filters, &firestore.Filter{FieldFilter: &firestore.FieldFilter{
			Field: &firestore.FieldReference{FieldPath: f.Field},
			Op:    string(f.Op),
			Value: f.Value.wire(),
		}})
	}
	switch len(filters) {
	case 0:
	case 1:
		sq.Where = filters[0]
	default:
		sq.Where = &firestore.Filter{CompositeFilter: &firestore.CompositeFilter{Op: "AND", Filters: filters}}
	}

	for _, o := range q.OrderBy {
		dir := o.Direction
		if dir == "" {
			dir = Ascending
		}
		sq.OrderBy = append(sq.OrderBy, &firestore.Order{
			Field:     &firestore.FieldReference{FieldPath: o.Field},
			Direction: string(dir),
		})
	}

	return sq
}
