package domain

import (
	"time"

	"cloud.google.com/go/civil"
)

// maxOccurrences bounds expansion of open-ended recurrences.
const maxOccurrences = 5000

// Occurrences expands a recurring transaction into the dates it falls on in
// [from, to]. A non-recurring transaction yields its own date when in range.
// Each occurrence is a copy of t with Date replaced.
func Occurrences(t Transaction, from, to civil.Date) []Transaction {
	if !t.IsRecurring || t.Recurrence == nil {
		if inRange(t.Date, from, to) {
			return []Transaction{t}
		}
		return nil
	}

	end := to
	if e := t.Recurrence.EndDate; e != nil && e.IsValid() && e.Before(end) {
		end = *e
	}

	var out []Transaction
	for i := 0; i < maxOccurrences; i++ {
		d := step(t.Date, t.Recurrence.Frequency, i)
		if !d.IsValid() || d.After(end) {
			break
		}
		if d.Before(from) {
			continue
		}
		occ := t
		occ.Date = d
		out = append(out, occ)
	}
	return out
}

// step returns the n-th occurrence after start. Month and year steps clamp to
// the last day of shorter months so a bill on the 31st stays at month end.
func step(start civil.Date, f Frequency, n int) civil.Date {
	switch f {
	case FrequencyWeekly:
		return start.AddDays(7 * n)
	case FrequencyMonthly:
		return addMonthsClamped(start, n)
	case FrequencyYearly:
		return addMonthsClamped(start, 12*n)
	default:
		return civil.Date{}
	}
}

func addMonthsClamped(d civil.Date, months int) civil.Date {
	total := int(d.Month) - 1 + months
	year := d.Year + total/12
	month := time.Month(total%12 + 1)
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	day := d.Day
	if day > last {
		day = last
	}
	return civil.Date{Year: year, Month: month, Day: day}
}

func inRange(d, from, to civil.Date) bool {
	return !d.Before(from) && !d.After(to)
}
