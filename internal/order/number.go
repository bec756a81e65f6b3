package order

import (
	"fmt"
	"time"
)

// FormatOrderNumber renders CMD-YYMMDD-NNNN for the given creation day and
// daily sequence. Sequences above 9999 keep all their digits.
func FormatOrderNumber(day time.Time, seq int) string {
	return fmt.Sprintf("CMD-%s-%04d", day.Format("060102"), seq)
}

// counterDay truncates t to the calendar day the counter is keyed by.
func counterDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
