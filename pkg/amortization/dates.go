package amortization

import "time"

// AddMonths moves t by n calendar months, clamping the day to the end of the
// target month (Jan 31 + 1 month = Feb 28 or 29).
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first.Year(), first.Month(), t.Location()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// WholeMonthsBetween counts the full calendar months from start to now. It is
// never negative.
func WholeMonthsBetween(start, now time.Time) int {
	if !now.After(start) {
		return 0
	}
	sy, sm, _ := start.Date()
	ny, nm, _ := now.Date()
	months := (ny-sy)*12 + int(nm-sm)
	if months > 0 && AddMonths(start, months).After(now) {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}

// EMIDueDate derives the live due date of an installment loan from elapsed
// time. Before the first month has passed the first installment is due at
// start + 1 month. Afterwards the installment of the current cycle
// (start + monthsPassed) is due once now has reached it. Installments already
// paid are skipped, so the date never points at a settled cycle.
func EMIDueDate(start time.Time, paidInstallments int, now time.Time) time.Time {
	monthsPassed := WholeMonthsBetween(start, now)

	cycle := monthsPassed + 1
	if monthsPassed > 0 && !now.Before(AddMonths(start, monthsPassed)) {
		cycle = monthsPassed
	}
	if paidInstallments >= cycle {
		cycle = paidInstallments + 1
	}
	return AddMonths(start, cycle)
}

// OneTimeDueDate is the stored due date, or start + 1 month when none was set.
func OneTimeDueDate(start time.Time, due *time.Time) time.Time {
	if due != nil {
		return *due
	}
	return AddMonths(start, 1)
}

// SameDay reports whether a and b fall on the same calendar day in a's location.
func SameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// IsOverdue is true when a pending loan's due date has passed and now is not
// on the due day itself.
func IsOverdue(pending bool, due, now time.Time) bool {
	return pending && now.After(due) && !SameDay(now, due)
}

// DaysOverdue is the whole number of days since the due date, zero when the
// loan is not overdue.
func DaysOverdue(pending bool, due, now time.Time) int {
	if !IsOverdue(pending, due, now) {
		return 0
	}
	return int(now.Sub(due) / (24 * time.Hour))
}
