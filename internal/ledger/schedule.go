package ledger

import (
	"fmt"

	"lifeops/internal/core"
)

// DueScheduler computes the due date that follows from for a bill.
type DueScheduler interface {
	Next(from core.Date, dueDay int) core.Date
}

// intervalScheduler advances by a fixed number of days.
type intervalScheduler struct{ days int }

func (s intervalScheduler) Next(from core.Date, _ int) core.Date {
	return from.AddDays(s.days)
}

// monthScheduler advances by whole months and lands on the due day,
// clamped to the length of the target month.
type monthScheduler struct{ months int }

func (s monthScheduler) Next(from core.Date, dueDay int) core.Date {
	y, m := from.Year(), from.Month()+s.months
	for m > 12 {
		m -= 12
		y++
	}
	return core.NewDate(y, m, clampDay(y, m, dueDay))
}

func clampDay(year, month, day int) int {
	if last := core.DaysIn(year, month); day > last {
		return last
	}
	return day
}

var dueSchedulers = map[core.Frequency]DueScheduler{
	core.FrequencyWeekly:    intervalScheduler{days: 7},
	core.FrequencyBiweekly:  intervalScheduler{days: 14},
	core.FrequencyMonthly:   monthScheduler{months: 1},
	core.FrequencyQuarterly: monthScheduler{months: 3},
	core.FrequencyYearly:    monthScheduler{months: 12},
}

// SchedulerFor returns the scheduler for a bill frequency.
func SchedulerFor(f core.Frequency) (DueScheduler, error) {
	s, ok := dueSchedulers[f]
	if !ok {
		return nil, fmt.Errorf("unknown bill frequency: %s", f)
	}
	return s, nil
}

// FirstDue is the first date on or after from that falls on dueDay
// (clamped to the month length).
func FirstDue(from core.Date, dueDay int) core.Date {
	y, m := from.Year(), from.Month()
	d := core.NewDate(y, m, clampDay(y, m, dueDay))
	if d.Before(from) {
		return monthScheduler{months: 1}.Next(d, dueDay)
	}
	return d
}

// NextDueAfter advances from the current due date until it is strictly
// after paid, so a late payment does not leave the bill overdue.
func NextDueAfter(current, paid core.Date, f core.Frequency, dueDay int) (core.Date, error) {
	sched, err := SchedulerFor(f)
	if err != nil {
		return core.Date{}, err
	}
	next := current
	if next.IsZero() {
		next = paid
	}
	next = sched.Next(next, dueDay)
	for !next.After(paid) {
		next = sched.Next(next, dueDay)
	}
	return next, nil
}
