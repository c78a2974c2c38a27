package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/finance-companion/internal/notify"
)

// ErrInvalidPolicy is returned for an unknown periodicity or intensity.
var ErrInvalidPolicy = errors.New("invalid schedule policy")

// Periodicity controls how often the check cycle runs.
type Periodicity string

const (
	Daily   Periodicity = "daily"
	Weekly  Periodicity = "weekly"
	Monthly Periodicity = "monthly"
)

// Intensity controls how many reminders a day are allowed.
type Intensity string

const (
	Light    Intensity = "light"
	Moderate Intensity = "moderate"
	Intense  Intensity = "intense"
)

// ParsePeriodicity accepts daily, weekly or monthly in any case.
func ParsePeriodicity(s string) (Periodicity, error) {
	p := Periodicity(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case Daily, Weekly, Monthly:
		return p, nil
	}
	return "", fmt.Errorf("%w: periodicity %q", ErrInvalidPolicy, s)
}

// ParseIntensity accepts light, moderate or intense in any case.
func ParseIntensity(s string) (Intensity, error) {
	i := Intensity(strings.ToLower(strings.TrimSpace(s)))
	switch i {
	case Light, Moderate, Intense:
		return i, nil
	}
	return "", fmt.Errorf("%w: intensity %q", ErrInvalidPolicy, s)
}

// ClockTime is a wall-clock time of day.
type ClockTime struct {
	Hour   int
	Minute int
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// defaultReminder is used wherever the table has a single reminder.
var defaultReminder = ClockTime{Hour: 9}

var (
	moderateReminders = []ClockTime{{8, 30}, {13, 0}, {19, 30}}
	intenseReminders  = []ClockTime{{8, 0}, {10, 30}, {13, 0}, {15, 30}, {18, 0}, {20, 30}}
)

// Policy is the user's periodicity and intensity choice.
type Policy struct {
	Periodicity Periodicity `json:"periodicity"`
	Intensity   Intensity   `json:"intensity"`
}

// DefaultPolicy is daily at moderate intensity.
func DefaultPolicy() Policy {
	return Policy{Periodicity: Daily, Intensity: Moderate}
}

// ParsePolicy parses both settings.
func ParsePolicy(periodicity, intensity string) (Policy, error) {
	p, err := ParsePeriodicity(periodicity)
	if err != nil {
		return Policy{}, err
	}
	i, err := ParseIntensity(intensity)
	if err != nil {
		return Policy{}, err
	}
	return Policy{Periodicity: p, Intensity: i}, nil
}

// Validate checks both settings.
func (p Policy) Validate() error {
	_, err := ParsePolicy(string(p.Periodicity), string(p.Intensity))
	return err
}

// Intervals returns the sleeps between check cycles; the loop cycles through them.
func (p Policy) Intervals() []time.Duration {
	switch p.Periodicity {
	case Weekly:
		return []time.Duration{7 * 24 * time.Hour}
	case Monthly:
		return []time.Duration{30 * 24 * time.Hour}
	}
	switch p.Intensity {
	case Moderate:
		return repeat(8*time.Hour, 3)
	case Intense:
		return repeat(4*time.Hour, 6)
	default:
		return []time.Duration{24 * time.Hour}
	}
}

// ReminderTimes returns the wall-clock reminders for the policy.
func (p Policy) ReminderTimes() []ClockTime {
	if p.Periodicity != Daily {
		return []ClockTime{defaultReminder}
	}
	switch p.Intensity {
	case Moderate:
		return append([]ClockTime(nil), moderateReminders...)
	case Intense:
		return append([]ClockTime(nil), intenseReminders...)
	default:
		return []ClockTime{defaultReminder}
	}
}

// Cap is the most notifications one cycle may hand to the notifier. Zero
// means unbounded.
func (p Policy) Cap() int {
	switch p.Intensity {
	case Light:
		return 2
	case Moderate:
		return 5
	default:
		return 0
	}
}

// reminderTrigger repeats daily, on Mondays for weekly and on the first of
// the month for monthly.
func (p Policy) reminderTrigger(t ClockTime) notify.Trigger {
	cal := &notify.CalendarTrigger{Hour: t.Hour, Minute: t.Minute, Repeats: true}
	switch p.Periodicity {
	case Weekly:
		cal.Weekdays = []time.Weekday{time.Monday}
	case Monthly:
		cal.Day = 1
	}
	return notify.Trigger{Calendar: cal}
}

func repeat(d time.Duration, n int) []time.Duration {
	out := make([]time.Duration, n)
	for i := range out {
		out[i] = d
	}
	return out
}
