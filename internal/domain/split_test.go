package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/timetracker/internal/localtime"
)

var testZone = localtime.MustLoadZone("Asia/Yekaterinburg")

func civil(value string) time.Time {
	utc, err := testZone.ParseWire(value)
	if err != nil {
		panic(err)
	}
	return utc
}

func TestSplitDaysSingleDay(t *testing.T) {
	spans := SplitDays(civil("2024-06-01 09:00:00"), civil("2024-06-01 17:30:00"), testZone)

	require.Len(t, spans, 1)
	require.Equal(t, civil("2024-06-01 09:00:00"), spans[0].Start)
	require.Equal(t, civil("2024-06-01 17:30:00"), spans[0].Stop)
	require.Equal(t, int64(8*3600+30*60), spans[0].Seconds())
}

func TestSplitDaysAcrossMidnight(t *testing.T) {
	spans := SplitDays(civil("2024-06-01 23:58:00"), civil("2024-06-02 00:05:00"), testZone)

	require.Len(t, spans, 2)

	require.Equal(t, civil("2024-06-01 23:58:00"), spans[0].Start)
	require.Equal(t, civil("2024-06-01 23:59:59"), spans[0].Stop)
	require.Equal(t, int64(119), spans[0].Seconds())

	require.Equal(t, civil("2024-06-02 00:00:00"), spans[1].Start)
	require.Equal(t, civil("2024-06-02 00:05:00"), spans[1].Stop)
	require.Equal(t, int64(300), spans[1].Seconds())
}

func TestSplitDaysMultipleDays(t *testing.T) {
	spans := SplitDays(civil("2024-06-01 22:00:00"), civil("2024-06-04 03:00:00"), testZone)

	require.Len(t, spans, 4)
	require.Equal(t, civil("2024-06-01 23:59:59"), spans[0].Stop)
	require.Equal(t, civil("2024-06-02 00:00:00"), spans[1].Start)
	require.Equal(t, civil("2024-06-02 23:59:59"), spans[1].Stop)
	require.Equal(t, civil("2024-06-03 00:00:00"), spans[2].Start)
	require.Equal(t, civil("2024-06-03 23:59:59"), spans[2].Stop)
	require.Equal(t, civil("2024-06-04 00:00:00"), spans[3].Start)
	require.Equal(t, civil("2024-06-04 03:00:00"), spans[3].Stop)

	// Full middle days account for 86399 tracked seconds each; the one-second
	// gap at each boundary is not tracked time.
	require.Equal(t, int64(86399), spans[1].Seconds())
	require.Equal(t, int64(86399), spans[2].Seconds())
}

func TestSplitDaysStopExactlyAtMidnight(t *testing.T) {
	spans := SplitDays(civil("2024-06-01 23:00:00"), civil("2024-06-02 00:00:00"), testZone)

	// The truncated span covers everything up to the cutoff; no zero-length
	// span is produced for the next day.
	require.Len(t, spans, 1)
	require.Equal(t, civil("2024-06-01 23:00:00"), spans[0].Start)
	require.Equal(t, civil("2024-06-01 23:59:59"), spans[0].Stop)
}

func TestSplitDaysBoundaryFromUTCInstants(t *testing.T) {
	// 18:58 UTC on June 1 is 23:58 local; the split follows the civil
	// calendar of the zone, not the UTC one.
	start := time.Date(2024, time.June, 1, 18, 58, 0, 0, time.UTC)
	stop := time.Date(2024, time.June, 1, 19, 5, 0, 0, time.UTC)

	spans := SplitDays(start, stop, testZone)
	require.Len(t, spans, 2)
	require.Equal(t, "2024-06-01 23:59:59", testZone.FormatWire(spans[0].Stop))
	require.Equal(t, "2024-06-02 00:00:00", testZone.FormatWire(spans[1].Start))
}
