package domain

import (
	"time"

	"example.com/timetracker/internal/localtime"
)

// SplitDays divides [start, stop] into one span per civil calendar day the
// interval touches in the given zone. A span that is truncated at a day
// boundary stops at 23:59:59 local; the following span starts one second
// later, at 00:00:00 of the next day. Intervals confined to a single day come
// back as exactly one span. Callers validate stop > start first.
func SplitDays(start, stop time.Time, zone localtime.Zone) []Span {
	spans := make([]Span, 0, 1)
	cursor := start
	for !zone.SameDay(cursor, stop) {
		spans = append(spans, Span{Start: cursor, Stop: zone.DayEnd(cursor)})
		cursor = zone.NextDayStart(cursor)
		if !stop.After(cursor) {
			// Stop landed exactly on a midnight boundary; the truncated
			// span already covers everything up to the cutoff.
			return spans
		}
	}
	return append(spans, Span{Start: cursor, Stop: stop})
}
