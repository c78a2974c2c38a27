package docstore

import (
	"strconv"
	"time"

	firestore "google.golang.org/api/firestore/v1"
)

// Kind is the type tag of a field value.
type Kind int

const (
	// KindMissing marks an absent field or a tag this client does not understand.
	KindMissing Kind = iota
	KindNull
	KindString
	KindDouble
	KindInteger
	KindBoolean
	KindTimestamp
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindDouble:
		return "double"
	case KindInteger:
		return "integer"
	case KindBoolean:
		return "boolean"
	case KindTimestamp:
		return "timestamp"
	default:
		return "missing"
	}
}

// Value is one field of a document. Exactly one payload is meaningful, chosen by Kind.
type Value struct {
	kind Kind
	s    string
	d    float64
	i    int64
	b    bool
	t    time.Time
}

func String(s string) Value       { return Value{kind: KindString, s: s} }
func Double(d float64) Value      { return Value{kind: KindDouble, d: d} }
func Integer(i int64) Value       { return Value{kind: KindInteger, i: i} }
func Boolean(b bool) Value        { return Value{kind: KindBoolean, b: b} }
func Timestamp(t time.Time) Value { return Value{kind: KindTimestamp, t: t.UTC()} }
func Null() Value                 { return Value{kind: KindNull} }

// Kind returns the type tag.
func (v Value) Kind() Kind { return v.kind }

// StringOr returns the string payload, or def for any other kind.
func (v Value) StringOr(def string) string {
	if v.kind == KindString {
		return v.s
	}
	return def
}

// FloatOr returns a numeric payload as float64. Integers and numeric strings
// are accepted; anything else yields def.
func (v Value) FloatOr(def float64) float64 {
	switch v.kind {
	case KindDouble:
		return v.d
	case KindInteger:
		return float64(v.i)
	case KindString:
		if f, err := strconv.ParseFloat(v.s, 64); err == nil {
			return f
		}
	}
	return def
}

// IntOr returns an integer payload; doubles are truncated.
func (v Value) IntOr(def int64) int64 {
	switch v.kind {
	case KindInteger:
		return v.i
	case KindDouble:
		return int64(v.d)
	}
	return def
}

// BoolOr returns the boolean payload, or def.
func (v Value) BoolOr(def bool) bool {
	if v.kind == KindBoolean {
		return v.b
	}
	return def
}

// TimeOr returns the timestamp payload, or def.
func (v Value) TimeOr(def time.Time) time.Time {
	if v.kind == KindTimestamp {
		return v.t
	}
	return def
}

// wire converts the value to its REST form. Missing converts as null.
func (v Value) wire() *firestore.Value {
	switch v.kind {
	case KindString:
		s := v.s
		return &firestore.Value{StringValue: &s}
	case KindDouble:
		d := v.d
		return &firestore.Value{DoubleValue: &d}
	case KindInteger:
		i := v.i
		return &firestore.Value{IntegerValue: &i}
	case KindBoolean:
		b := v.b
		return &firestore.Value{BooleanValue: &b}
	case KindTimestamp:
		return &firestore.Value{TimestampValue: v.t.Format(time.RFC3339Nano)}
	default:
		return &firestore.Value{NullValue: "NULL_VALUE"}
	}
}

// fromWire converts a REST value. Tags this client does not use (maps,
// arrays, references, bytes, geo points) and malformed timestamps convert as
// KindMissing rather than failing the whole document.
func fromWire(w firestore.Value) Value {
	switch {
	case w.StringValue != nil:
		return String(*w.StringValue)
	case w.DoubleValue != nil:
		return Double(*w.DoubleValue)
	case w.BooleanValue != nil:
		return Boolean(*w.BooleanValue)
	case w.TimestampValue != "":
		t, err := time.Parse(time.RFC3339Nano, w.TimestampValue)
		if err != nil {
			return Value{}
		}
		return Timestamp(t)
	case w.IntegerValue != nil:
		return Integer(*w.IntegerValue)
	case w.MapValue != nil || w.ArrayValue != nil || w.GeoPointValue != nil ||
		w.ReferenceValue != "" || w.BytesValue != "":
		return Value{}
	default:
		return Null()
	}
}

// Fields is the field map of a document.
type Fields map[string]Value

func (f Fields) wire() map[string]firestore.Value {
	out := make(map[string]firestore.Value, len(f))
	for name, v := range f {
		out[name] = *v.wire()
	}
	return out
}

// Get returns the named value, or a Missing value when absent.
func (f Fields) Get(name string) Value {
	if f == nil {
		return Value{}
	}
	return f[name]
}
