package cronexpr

import "time"

// searchYears bounds the next-fire search. An expression that cannot
// match within this window (e.g. "0 0 30 2 *") yields a zero Time.
const searchYears = 5

// Next returns the smallest instant strictly after t whose wall-clock
// decomposition in loc satisfies the expression, or the zero Time if no
// such instant exists within the search window.
//
// DST handling: a wall-clock match that falls inside a spring-forward
// gap fires at the instant the gap ends (the next valid wall clock).
// During a fall-back repeat the match fires at its first occurrence
// only: candidates are materialized in absolute time and must be
// strictly after the previous one.
func (e *Expr) Next(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	year, month, day := local.Date()
	hour, minute := local.Hour(), local.Minute()
	minute++ // strictly after t

	limitYear := year + searchYears

	for {
		// Carry wall-clock overflow before field checks.
		if minute > 59 {
			minute = 0
			hour++
		}
		if hour > 23 {
			hour = 0
			day++
		}
		if day > daysIn(year, month) {
			day = 1
			month++
		}
		if month > 12 {
			month = 1
			year++
		}
		if year > limitYear {
			return time.Time{}
		}

		if !bitSet(e.month, int(month)) {
			month++
			day, hour, minute = 1, 0, 0
			continue
		}
		if !e.dayMatches(year, month, day) {
			day++
			hour, minute = 0, 0
			continue
		}
		if !bitSet(e.hour, hour) {
			hour++
			minute = 0
			continue
		}
		if !bitSet(e.minute, minute) {
			minute++
			continue
		}

		cand := time.Date(year, month, day, hour, minute, 0, 0, loc)
		if cand.Hour() != hour || cand.Minute() != minute {
			// The wall clock we built does not exist in loc (spring
			// forward). Fire when the gap ends instead.
			start, _ := cand.ZoneBounds()
			cand = start
		}
		if cand.After(t) {
			return cand
		}
		// Gap-end collapsed onto an instant at or before t; keep going.
		minute++
	}
}

// dayMatches applies the standard cron day rule: when both day-of-month
// and day-of-week are restricted, a day satisfying either fires.
func (e *Expr) dayMatches(year int, month time.Month, day int) bool {
	domOK := bitSet(e.dom, day)
	// Noon UTC sidesteps DST when deriving the weekday.
	weekday := int(time.Date(year, month, day, 12, 0, 0, 0, time.UTC).Weekday())
	dowOK := bitSet(e.dow, weekday)

	if e.domRestricted && e.dowRestricted {
		return domOK || dowOK
	}
	return domOK && dowOK
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 12, 0, 0, 0, time.UTC).Day()
}
