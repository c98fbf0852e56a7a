package engine

import (
	"time"
)

// TimeUnit is the precision of a raw epoch integer.
type TimeUnit string

const (
	UnitSeconds      TimeUnit = "seconds"
	UnitMilliseconds TimeUnit = "milliseconds"
	UnitMicroseconds TimeUnit = "microseconds"
	UnitNanoseconds  TimeUnit = "nanoseconds"
)

// ClassifyMagnitude buckets a raw epoch value by order of magnitude.
// This is a heuristic: a value that merely looks large enough is assumed
// to be in the finer unit. Values near a threshold resolve to the coarser
// bucket they exceed. Current-era timestamps land correctly for all four
// units (1.7e9 s, 1.7e12 ms, 1.7e15 us, 1.7e18 ns).
func ClassifyMagnitude(n float64) TimeUnit {
	switch {
	case n > 1e18:
		return UnitNanoseconds
	case n > 1e15:
		return UnitMicroseconds
	case n > 1e12:
		return UnitMilliseconds
	default:
		return UnitSeconds
	}
}

// ToInstant converts an epoch integer in the given unit to a UTC instant.
func ToInstant(n int64, unit TimeUnit) time.Time {
	switch unit {
	case UnitSeconds:
		return time.Unix(n, 0).UTC()
	case UnitMilliseconds:
		return time.UnixMilli(n).UTC()
	case UnitMicroseconds:
		return time.UnixMicro(n).UTC()
	default:
		return time.Unix(0, n).UTC()
	}
}

// FromInstant converts an instant to an epoch integer in the given unit.
// Exact inverse of ToInstant for integers aligned to the unit's resolution.
func FromInstant(t time.Time, unit TimeUnit) int64 {
	switch unit {
	case UnitSeconds:
		return t.Unix()
	case UnitMilliseconds:
		return t.UnixMilli()
	case UnitMicroseconds:
		return t.UnixMicro()
	default:
		return t.UnixNano()
	}
}

// plausibleEpoch reports whether n is in a magnitude range where it could
// be a current-era timestamp in any supported unit. The lower bound is
// 2001-09-09 in seconds; anything below that is far likelier to be a
// counter or an ID fragment than a time value.
func plausibleEpoch(n float64) bool {
	return n >= 1e9 && n < 1e19
}
