package engine

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/chartsql/chartsql/core"
)

// Descriptor kinds for the labeled TimeRangeDescriptor variants. The
// query-range variant carries no kind at all.
const (
	RangeKindRelative = "relative"
	RangeKindAbsolute = "absolute"
)

// TimeRangeDescriptor is the union of the three time-range shapes callers
// send:
//
//   - relative-labeled: Kind "relative", From "<n><unit>", To "now"
//   - absolute-labeled: Kind "absolute", From/To absolute timestamp strings
//   - query-range: no Kind; From/To are "now", "now-<n><unit>[/<snap>]" or
//     absolute strings, and Enabled false means "apply no time filter"
type TimeRangeDescriptor struct {
	Kind    string `json:"kind,omitempty"`
	From    string `json:"from"`
	To      string `json:"to"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// AbsoluteRange builds an absolute-labeled descriptor from two instants.
func AbsoluteRange(from, to time.Time) *TimeRangeDescriptor {
	return &TimeRangeDescriptor{
		Kind: RangeKindAbsolute,
		From: from.Format(time.RFC3339Nano),
		To:   to.Format(time.RFC3339Nano),
	}
}

// TimeBounds is a resolved, concrete time range. From is always strictly
// before To.
type TimeBounds struct {
	From time.Time
	To   time.Time
}

// Nanos converts the bounds to the executor wire shape (Unix nanoseconds).
func (b *TimeBounds) Nanos() *core.TimeBounds {
	if b == nil {
		return nil
	}
	start := b.From.UnixNano()
	end := b.To.UnixNano()
	return &core.TimeBounds{Start: &start, End: &end}
}

// Resolve turns a descriptor into concrete bounds relative to now.
// A nil result is a signal, not an error: the descriptor is disabled,
// unparsable, or inverted (from >= to), and callers should omit time
// filtering entirely.
func (d *TimeRangeDescriptor) Resolve(now time.Time) *TimeBounds {
	if d == nil {
		return nil
	}
	if d.Enabled != nil && !*d.Enabled {
		return nil
	}

	fromExpr := strings.TrimSpace(d.From)
	toExpr := strings.TrimSpace(d.To)

	// The relative-labeled variant writes its lookback as a bare span
	// ("15m"), shorthand for "now-15m".
	if d.Kind == RangeKindRelative {
		if spanPattern.MatchString(fromExpr) {
			fromExpr = "now-" + fromExpr
		}
	}

	from := resolveExpr(fromExpr, now)
	to := resolveExpr(toExpr, now)
	if from == nil || to == nil {
		return nil
	}
	if !from.Before(*to) {
		return nil
	}
	return &TimeBounds{From: *from, To: *to}
}

var (
	spanPattern    = regexp.MustCompile(`^(\d+)([smhdwMy])$`)
	nowExprPattern = regexp.MustCompile(`^now(?:-(\d+)([smhdwMy]))?(?:/([dwMy]))?$`)
)

// resolveExpr resolves a single bound: "now", "now-<n><unit>[/<snap>]",
// or an absolute timestamp string. Returns nil when the expression does
// not parse.
func resolveExpr(expr string, now time.Time) *time.Time {
	if expr == "" {
		return nil
	}
	if m := nowExprPattern.FindStringSubmatch(expr); m != nil {
		t := now
		if m[1] != "" {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				return nil
			}
			t = t.Add(-spanDuration(n, m[2]))
		}
		if m[3] != "" {
			t = snapDown(t, m[3])
		}
		return &t
	}
	return parseAbsolute(expr)
}

// spanDuration maps the relative-expression units to durations. Months and
// years are fixed 30d/365d approximations.
func spanDuration(n int, unit string) time.Duration {
	d := time.Duration(n)
	switch unit {
	case "s":
		return d * time.Second
	case "m":
		return d * time.Minute
	case "h":
		return d * time.Hour
	case "d":
		return d * 24 * time.Hour
	case "w":
		return d * 7 * 24 * time.Hour
	case "M":
		return d * 30 * 24 * time.Hour
	case "y":
		return d * 365 * 24 * time.Hour
	}
	return 0
}

// snapDown truncates t to the start of the given calendar boundary in t's
// own location. Start of week is the most recent Sunday at 00:00:00.
func snapDown(t time.Time, unit string) time.Time {
	loc := t.Location()
	switch unit {
	case "d":
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	case "w":
		midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		return midnight.AddDate(0, 0, -int(midnight.Weekday()))
	case "M":
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
	case "y":
		return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, loc)
	}
	return t
}

var absoluteLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseAbsolute parses an absolute timestamp string: ISO-ish layouts first,
// then a bare epoch number whose unit is inferred from its magnitude.
func parseAbsolute(s string) *time.Time {
	for _, layout := range absoluteLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil && plausibleEpoch(n) {
		t := ToInstant(int64(n), ClassifyMagnitude(n))
		return &t
	}
	return nil
}
