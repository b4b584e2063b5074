// Package calendar implements the named recurrence schedule functions used
// by RecurringPayment (§4.5.4): deterministic, pure next_occurrence(from)
// calculations with civil-calendar month/leap-year clamping.
package calendar

import (
	"time"

	"github.com/Shugur-Network/portal/internal/errors"
)

// Name identifies one of the named recurrence calendars (§4.2).
type Name string

const (
	Minutely     Name = "minutely"
	Hourly       Name = "hourly"
	Daily        Name = "daily"
	Weekly       Name = "weekly"
	Monthly      Name = "monthly"
	Quarterly    Name = "quarterly"
	Semiannually Name = "semiannually"
	Yearly       Name = "yearly"
)

// NextOccurrence returns the next timestamp strictly after from for the
// named calendar. It is a pure function: same (name, from) always yields
// the same result, satisfying the determinism property (§8 item 7).
func NextOccurrence(name Name, from time.Time) (time.Time, error) {
	switch name {
	case Minutely:
		return from.Add(time.Minute), nil
	case Hourly:
		return from.Add(time.Hour), nil
	case Daily:
		return from.AddDate(0, 0, 1), nil
	case Weekly:
		return from.AddDate(0, 0, 7), nil
	case Monthly:
		return addCivilMonths(from, 1), nil
	case Quarterly:
		return addCivilMonths(from, 3), nil
	case Semiannually:
		return addCivilMonths(from, 6), nil
	case Yearly:
		return addCivilYears(from, 1), nil
	default:
		return time.Time{}, errors.New(errors.ErrorTypeValidation, "UNKNOWN_CALENDAR", "unknown recurrence calendar: "+string(name))
	}
}

// addCivilMonths advances from by n civil-calendar months, clamping the
// day-of-month to the last valid day of the destination month (e.g. Jan 31
// + 1 month -> Feb 28 or Feb 29, not a rollover into March).
func addCivilMonths(from time.Time, n int) time.Time {
	day := from.Day()
	firstOfTarget := time.Date(from.Year(), from.Month(), 1, from.Hour(), from.Minute(), from.Second(), from.Nanosecond(), from.Location())
	firstOfTarget = firstOfTarget.AddDate(0, n, 0)

	lastDay := lastDayOfMonth(firstOfTarget.Year(), firstOfTarget.Month())
	if day > lastDay {
		day = lastDay
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), day, from.Hour(), from.Minute(), from.Second(), from.Nanosecond(), from.Location())
}

// addCivilYears advances from by n years, clamping Feb 29 to Feb 28 when
// the destination year is not a leap year.
func addCivilYears(from time.Time, n int) time.Time {
	year := from.Year() + n
	day := from.Day()
	if from.Month() == time.February && day == 29 && !isLeapYear(year) {
		day = 28
	}
	return time.Date(year, from.Month(), day, from.Hour(), from.Minute(), from.Second(), from.Nanosecond(), from.Location())
}

func lastDayOfMonth(year int, month time.Month) int {
	firstOfNext := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC)
	lastOfThis := firstOfNext.Add(-24 * time.Hour)
	return lastOfThis.Day()
}

func isLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// Schedule generates the sequence of occurrences starting at firstPaymentDue,
// bounded by maxPayments (if > 0) and until (if non-zero). It is used to
// project a RecurringPayment's full schedule for client-facing notices.
func Schedule(name Name, firstPaymentDue time.Time, maxPayments int, until time.Time) ([]time.Time, error) {
	var occurrences []time.Time
	next := firstPaymentDue
	for {
		if maxPayments > 0 && len(occurrences) >= maxPayments {
			break
		}
		if !until.IsZero() && next.After(until) {
			break
		}
		occurrences = append(occurrences, next)

		var err error
		next, err = NextOccurrence(name, next)
		if err != nil {
			return nil, err
		}
		if maxPayments <= 0 && until.IsZero() && len(occurrences) > 10000 {
			// Without either bound the schedule is unbounded; this guards
			// against a caller accidentally materializing it forever.
			break
		}
	}
	return occurrences, nil
}
