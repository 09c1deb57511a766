// Package holiday answers one question: is a given local date a holiday, and
// which one. Pack odds halve most hit denominators on holidays, so this is
// deliberately a pure calendar with no storage behind it.
package holiday

import "time"

type fixedDate struct {
	month time.Month
	day   int
	name  string
}

var fixedDates = []fixedDate{
	{time.January, 1, "New Year's Day"},
	{time.February, 14, "Valentine's Day"},
	{time.February, 29, "Leap Day"},
	{time.March, 17, "St. Patrick's Day"},
	{time.June, 19, "Juneteenth"},
	{time.July, 4, "Independence Day"},
	{time.October, 31, "Halloween"},
	{time.November, 11, "Veterans Day"},
	{time.December, 24, "Christmas Eve"},
	{time.December, 25, "Christmas Day"},
	{time.December, 31, "New Year's Eve"},
}

// Name reports the holiday falling on t's local date, if any. When several
// coincide the fixed-date calendar wins, then the floating holidays, then
// Easter.
func Name(t time.Time) (string, bool) {
	year, month, day := t.Date()

	for _, f := range fixedDates {
		if month == f.month && day == f.day {
			return f.name, true
		}
	}

	// Inauguration Day falls on Jan 20 the year after a presidential
	// election.
	if month == time.January && day == 20 && year%4 == 1 {
		return "Inauguration Day", true
	}

	for _, f := range floating {
		if month == f.month && day == f.dayInYear(year) {
			return f.name, true
		}
	}

	if em, ed := easter(year); month == em && day == ed {
		return "Easter Sunday", true
	}

	return "", false
}

type floatingDate struct {
	month     time.Month
	weekday   time.Weekday
	n         int // 1-based occurrence; -1 for last
	name      string
	dayInYear func(year int) int
}

var floating []floatingDate

func init() {
	add := func(month time.Month, weekday time.Weekday, n int, name string) {
		f := floatingDate{month: month, weekday: weekday, n: n, name: name}
		f.dayInYear = func(year int) int {
			return nthWeekday(year, f.month, f.weekday, f.n)
		}
		floating = append(floating, f)
	}

	add(time.January, time.Monday, 3, "Martin Luther King Jr. Day")
	add(time.February, time.Monday, 3, "Presidents' Day")
	add(time.May, time.Monday, -1, "Memorial Day")
	add(time.September, time.Monday, 1, "Labor Day")
	add(time.October, time.Monday, 2, "Columbus Day")
	add(time.November, time.Thursday, 4, "Thanksgiving")
}

// nthWeekday returns the day-of-month of the nth given weekday, or the last
// one when n is -1.
func nthWeekday(year int, month time.Month, weekday time.Weekday, n int) int {
	if n == -1 {
		last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC)
		offset := int(last.Weekday()-weekday+7) % 7
		return last.Day() - offset
	}
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := int(weekday-first.Weekday()+7) % 7
	return 1 + offset + (n-1)*7
}

// easter computes Gregorian Easter Sunday using the anonymous algorithm.
func easter(year int) (time.Month, int) {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return time.Month(month), day
}
