// Package calendar provides the civil-calendar arithmetic shared by the
// transaction store and the lot-pairing engine: calendar-year boundaries
// and the leap-year-aware "N years later" anchor used by the holding-period
// time test. None of this relies on "N * 365.25 days" approximations.
package calendar

import "time"

// YearBounds returns the Unix-seconds range [start, end] spanning calendar
// year in local time, inclusive of both endpoints.
func YearBounds(year int) (start, end int64) {
	loc := time.Local
	startT := time.Date(year, time.January, 1, 0, 0, 0, 0, loc)
	endT := time.Date(year, time.December, 31, 23, 59, 59, 0, loc)
	return startT.Unix(), endT.Unix()
}

// AddYearsCivil adds years to t, falling back from Feb 29 to Feb 28 when
// the target year is not a leap year.
func AddYearsCivil(t time.Time, years int) time.Time {
	target := t.AddDate(years, 0, 0)
	// time.AddDate normalizes Feb 29 -> Mar 1 on non-leap target years;
	// detect that rollover and fall back to Feb 28 instead.
	if t.Month() == time.February && t.Day() == 29 && target.Month() == time.March && target.Day() == 1 {
		target = time.Date(t.Year()+years, time.February, 28, t.Hour(), t.Minute(), t.Second(), 0, t.Location())
	}
	return target
}

// SubtractYearsCivil subtracts years from t with the same Feb-29 fallback
// as AddYearsCivil, used to derive the SQL pre-filter threshold for
// candidate lots ("purchase.timestamp < sale_date - Y years").
func SubtractYearsCivil(t time.Time, years int) time.Time {
	return AddYearsCivil(t, -years)
}
