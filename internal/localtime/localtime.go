// Package localtime converts between the tracker's single configured civil
// timezone and the UTC instants kept in storage. Storage is always UTC; civil
// wall-clock values exist only at the API boundary.
package localtime

import (
	"fmt"
	"time"
)

// WireFormat is the civil timestamp layout used on the API boundary.
const WireFormat = "2006-01-02 15:04:05"

// Zone wraps the process-wide tracking timezone. It is resolved once at
// startup; construction failure is a configuration defect.
type Zone struct {
	loc *time.Location
}

// LoadZone resolves the named timezone. Callers treat an error as fatal.
func LoadZone(name string) (Zone, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return Zone{}, fmt.Errorf("resolve timezone %q: %w", name, err)
	}
	return Zone{loc: loc}, nil
}

// MustLoadZone is LoadZone for tests with a known-good zone name.
func MustLoadZone(name string) Zone {
	zone, err := LoadZone(name)
	if err != nil {
		panic(err)
	}
	return zone
}

// Location exposes the underlying *time.Location.
func (z Zone) Location() *time.Location {
	return z.loc
}

// ToUTC interprets a naive civil timestamp as zone wall-clock time and returns
// the equivalent UTC instant.
func (z Zone) ToUTC(civil time.Time) time.Time {
	return time.Date(civil.Year(), civil.Month(), civil.Day(),
		civil.Hour(), civil.Minute(), civil.Second(), civil.Nanosecond(), z.loc).UTC()
}

// FromUTC returns the zone wall-clock representation of a UTC instant.
func (z Zone) FromUTC(utc time.Time) time.Time {
	return utc.In(z.loc)
}

// SameDay reports whether two instants fall on the same civil calendar day.
func (z Zone) SameDay(a, b time.Time) bool {
	al, bl := a.In(z.loc), b.In(z.loc)
	ay, am, ad := al.Date()
	by, bm, bd := bl.Date()
	return ay == by && am == bm && ad == bd
}

// DayStart returns the UTC instant of 00:00:00 on t's civil day.
func (z Zone) DayStart(t time.Time) time.Time {
	local := t.In(z.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, z.loc).UTC()
}

// DayEnd returns the UTC instant of 23:59:59 on t's civil day, the last
// whole-second cutoff used when a period is truncated at a day boundary.
func (z Zone) DayEnd(t time.Time) time.Time {
	local := t.In(z.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 23, 59, 59, 0, z.loc).UTC()
}

// NextDayStart returns the UTC instant of 00:00:00 on the civil day after t's.
func (z Zone) NextDayStart(t time.Time) time.Time {
	local := t.In(z.loc)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, z.loc).UTC()
}

// FormatWire renders a UTC instant as a civil wire timestamp.
func (z Zone) FormatWire(utc time.Time) string {
	return utc.In(z.loc).Format(WireFormat)
}

// ParseWire parses a civil wire timestamp into a UTC instant.
func (z Zone) ParseWire(value string) (time.Time, error) {
	parsed, err := time.ParseInLocation(WireFormat, value, z.loc)
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC(), nil
}
