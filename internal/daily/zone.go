// Package daily groups transactions into local calendar days and finds the
// expense/reimbursement pairs inside a day.
package daily

import (
	"fmt"
	"time"
)

// DayLayout is the bucket key layout.
const DayLayout = "2006-01-02"

// Zone is a fixed UTC offset. Deployment zones are assumed to have no DST.
type Zone struct {
	offsetMinutes int
	loc           *time.Location
}

// Guayaquil is the default deployment zone (UTC-5).
var Guayaquil = FixedZone(-300)

// FixedZone returns the zone offsetMinutes away from UTC.
func FixedZone(offsetMinutes int) Zone {
	return Zone{
		offsetMinutes: offsetMinutes,
		loc:           time.FixedZone(zoneName(offsetMinutes), offsetMinutes*60),
	}
}

func zoneName(offsetMinutes int) string {
	sign := '+'
	if offsetMinutes < 0 {
		sign = '-'
		offsetMinutes = -offsetMinutes
	}
	return fmt.Sprintf("UTC%c%02d:%02d", sign, offsetMinutes/60, offsetMinutes%60)
}

// OffsetMinutes returns the offset from UTC.
func (z Zone) OffsetMinutes() int {
	return z.offsetMinutes
}

// Location returns the zone as a *time.Location.
func (z Zone) Location() *time.Location {
	if z.loc == nil {
		return time.UTC
	}
	return z.loc
}

func (z Zone) String() string {
	return z.Location().String()
}

// LocalDay returns the yyyy-MM-dd calendar day of t in the zone.
func (z Zone) LocalDay(t time.Time) string {
	return t.In(z.Location()).Format(DayLayout)
}

// Today returns the local calendar date of now as year, month, day.
func (z Zone) Today(now time.Time) (int, time.Month, int) {
	return now.In(z.Location()).Date()
}

// MonthRange returns the UTC instants bounding the local calendar month:
// from is inclusive, to is exclusive.
func (z Zone) MonthRange(year int, month time.Month) (from, to time.Time) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, z.Location())
	return start.UTC(), start.AddDate(0, 1, 0).UTC()
}
