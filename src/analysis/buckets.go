package analysis

import (
	"fmt"
	"time"

	"traffic-observer/src/models"
)

// -----------------------------------------------------------------------------
// Period bucketing. All functions operate on adjusted (business) time, are
// total, and depend on nothing but their arguments.
// -----------------------------------------------------------------------------

// BucketStart truncates t to the start of its period bucket: the day, the
// Monday of its ISO week, the first of its month, or January 1st.
func BucketStart(period string, t time.Time) time.Time {
	switch period {
	case models.PeriodWeek:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		weekday := int(day.Weekday())
		if weekday == 0 { // Sunday
			weekday = 7
		}
		return day.AddDate(0, 0, -(weekday - 1))
	case models.PeriodMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	case models.PeriodYear:
		return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, t.Location())
	default: // day
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	}
}

// -----------------------------------------------------------------------------

// BucketLabel renders a bucket start for the detail table.
func BucketLabel(period string, start time.Time) string {
	switch period {
	case models.PeriodWeek:
		year, week := start.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case models.PeriodMonth:
		return start.Format("2006-01")
	case models.PeriodYear:
		return start.Format("2006")
	default:
		return start.Format("2006-01-02")
	}
}

// -----------------------------------------------------------------------------

// SubIntervalStart truncates t to the sub-interval used for averages, the
// peak and the trend series: hours within a day, days within a week or
// month, months within a year.
func SubIntervalStart(period string, t time.Time) time.Time {
	switch period {
	case models.PeriodDay:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
	case models.PeriodYear:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	default: // week, month
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	}
}

// -----------------------------------------------------------------------------

// PeakLabel renders the peak sub-interval the way the dashboard shows it.
func PeakLabel(period string, t time.Time) string {
	switch period {
	case models.PeriodDay:
		return t.Format("15:04")
	case models.PeriodYear:
		return t.Format("2006-01")
	default:
		return t.Format("02/01")
	}
}

// -----------------------------------------------------------------------------

// PreviousPeriodRange shifts a [start, end] date range back by one period, to
// fetch the comparison total for growth.
func PreviousPeriodRange(period string, start, end time.Time) (time.Time, time.Time) {
	switch period {
	case models.PeriodWeek:
		return start.AddDate(0, 0, -7), end.AddDate(0, 0, -7)
	case models.PeriodMonth:
		return start.AddDate(0, -1, 0), end.AddDate(0, -1, 0)
	case models.PeriodYear:
		return start.AddDate(-1, 0, 0), end.AddDate(-1, 0, 0)
	default:
		return start.AddDate(0, 0, -1), end.AddDate(0, 0, -1)
	}
}
