package schedule

import "time"

// NextTime returns the next occurrence after from for a cadence.
//
// Monthly advances one calendar month keeping the time of day; when the
// day-of-month does not exist in the target month it clamps to that
// month's last day (Jan 31 -> Feb 28 or 29).
func NextTime(from time.Time, pattern Pattern) time.Time {
	switch pattern {
	case PatternHourly:
		return from.Add(time.Hour)
	case PatternDaily:
		return from.Add(24 * time.Hour)
	case PatternWeekly:
		return from.Add(7 * 24 * time.Hour)
	case PatternMonthly:
		return addMonth(from)
	default:
		return from
	}
}

func addMonth(from time.Time) time.Time {
	year, month, day := from.Date()
	hour, minute, sec := from.Clock()

	targetYear, targetMonth := year, month+1
	if targetMonth > time.December {
		targetMonth = time.January
		targetYear++
	}

	if last := daysIn(targetYear, targetMonth, from.Location()); day > last {
		day = last
	}
	return time.Date(targetYear, targetMonth, day, hour, minute, sec, from.Nanosecond(), from.Location())
}

// daysIn returns the number of days in a month (day 0 of the next month is the last day)
func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
