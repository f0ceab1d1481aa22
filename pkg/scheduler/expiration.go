package scheduler

import "time"

// HolidayFunc reports whether a date is a market holiday. Weekends are
// handled separately.
type HolidayFunc func(t time.Time) bool

// ThirdWednesday returns the third Wednesday of a month, the settlement
// day of Taiwan index futures.
func ThirdWednesday(year int, month time.Month, loc *time.Location) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	offset := (int(time.Wednesday) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, offset+14)
}

// FuturesExpirations returns the twelve monthly settlement dates of a
// year, each moved back to the previous trading day when it lands on a
// holiday.
func FuturesExpirations(year int, loc *time.Location, isHoliday HolidayFunc) []time.Time {
	out := make([]time.Time, 0, 12)
	for m := time.January; m <= time.December; m++ {
		d := ThirdWednesday(year, m, loc)
		for isTradingHoliday(d, isHoliday) {
			d = d.AddDate(0, 0, -1)
		}
		out = append(out, d)
	}
	return out
}

// NextExpiration returns the first settlement date at or after now.
func NextExpiration(now time.Time, isHoliday HolidayFunc) time.Time {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	for _, d := range FuturesExpirations(now.Year(), now.Location(), isHoliday) {
		if !d.Before(day) {
			return d
		}
	}
	// Roll into January of the next year.
	return FuturesExpirations(now.Year()+1, now.Location(), isHoliday)[0]
}

// QuarterlyBlackoutDates returns the Taiwan earnings-season blackout
// windows of a year: the three trading days around each statutory
// filing deadline (Mar 31, May 15, Aug 14, Nov 14).
func QuarterlyBlackoutDates(year int, loc *time.Location) []time.Time {
	deadlines := []time.Time{
		time.Date(year, time.March, 31, 0, 0, 0, 0, loc),
		time.Date(year, time.May, 15, 0, 0, 0, 0, loc),
		time.Date(year, time.August, 14, 0, 0, 0, 0, loc),
		time.Date(year, time.November, 14, 0, 0, 0, 0, loc),
	}
	out := make([]time.Time, 0, len(deadlines)*3)
	for _, d := range deadlines {
		for off := -1; off <= 1; off++ {
			day := d.AddDate(0, 0, off)
			if !isWeekend(day) {
				out = append(out, day)
			}
		}
	}
	return out
}

func isTradingHoliday(t time.Time, isHoliday HolidayFunc) bool {
	if isWeekend(t) {
		return true
	}
	return isHoliday != nil && isHoliday(t)
}
