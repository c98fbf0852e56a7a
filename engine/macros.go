package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/chartsql/chartsql/core"
)

// The five recognized query macros. This is the complete, fixed vocabulary.
const (
	MacroTimeFilter = "$__timeFilter"
	MacroTimeField  = "$__timeField"
	MacroInterval   = "$__interval"
	MacroTimeFrom   = "$__timeFrom"
	MacroTimeTo     = "$__timeTo"
)

var macroTokens = []string{MacroTimeFilter, MacroTimeField, MacroInterval, MacroTimeFrom, MacroTimeTo}

// DefaultTimeColumn is assumed when the caller sets no explicit time column.
const DefaultTimeColumn = "__timestamp"

// DefaultMaxPoints caps the number of time buckets $__interval produces
// when the caller does not say otherwise.
const DefaultMaxPoints = 1000

// fallbackInterval is emitted for $__interval when no range resolves.
const fallbackInterval = 60 * time.Second

// InterpolationContext carries the supporting context for macro
// substitution. All fields are optional; interpolation is best-effort.
type InterpolationContext struct {
	TimeColumn       string
	TimeColumnSchema *ColumnDescriptor
	TimeRange        *TimeRangeDescriptor
	TimeZone         string
	MaxPoints        int
	Now              time.Time // zero means time.Now()
}

// InterpolationResult is the outcome of one Interpolate call. Interpolated
// records every macro that was actually substituted and its concrete value.
type InterpolationResult struct {
	Query            string            `json:"query"`
	HasTimeVariables bool              `json:"hasTimeVariables"`
	Interpolated     map[string]string `json:"interpolated"`
	Errors           []string          `json:"errors"`
	Bounds           *TimeBounds       `json:"-"`
}

// Interpolate substitutes the recognized macros into raw SQL text. It never
// fails: macros whose context is missing are neutralized or left in place
// with a diagnostic, and everything outside the five tokens is treated as
// opaque text.
func Interpolate(ctx context.Context, query string, ictx InterpolationContext) InterpolationResult {
	res := InterpolationResult{
		Query:        query,
		Interpolated: map[string]string{},
		Errors:       []string{},
	}
	for _, token := range macroTokens {
		if strings.Contains(query, token) {
			res.HasTimeVariables = true
			break
		}
	}

	timeColumn := ictx.TimeColumn
	if timeColumn == "" {
		timeColumn = DefaultTimeColumn
	}

	now := ictx.Now
	if now.IsZero() {
		now = time.Now()
	}
	res.Bounds = ictx.TimeRange.Resolve(now)

	// Field substitution, then alias-aware GROUP BY/ORDER BY rewriting.
	if strings.Contains(res.Query, MacroTimeField) {
		res.Query = strings.ReplaceAll(res.Query, MacroTimeField, timeColumn)
		res.Interpolated[MacroTimeField] = timeColumn
	}
	res.Query = rewriteTimeAliases(res.Query, timeColumn)

	unit := timeColumnUnit(timeColumn, ictx.TimeColumnSchema)

	if strings.Contains(res.Query, MacroTimeFilter) {
		var clause string
		if res.Bounds == nil {
			// Neutral filter keeps the query syntactically valid and
			// effectively unfiltered.
			clause = "1=1"
		} else {
			lo, hi := formatBounds(res.Bounds, unit, epochColumn(timeColumn, ictx.TimeColumnSchema), ictx.TimeZone)
			clause = fmt.Sprintf("%s >= %s AND %s <= %s", timeColumn, lo, timeColumn, hi)
		}
		res.Query = strings.ReplaceAll(res.Query, MacroTimeFilter, clause)
		res.Interpolated[MacroTimeFilter] = clause
	}

	if strings.Contains(res.Query, MacroInterval) {
		interval := intervalFor(res.Bounds, ictx.MaxPoints)
		res.Query = strings.ReplaceAll(res.Query, MacroInterval, interval)
		res.Interpolated[MacroInterval] = interval
	}

	for _, endpoint := range []struct {
		token string
		pick  func(*TimeBounds) time.Time
	}{
		{MacroTimeFrom, func(b *TimeBounds) time.Time { return b.From }},
		{MacroTimeTo, func(b *TimeBounds) time.Time { return b.To }},
	} {
		if !strings.Contains(res.Query, endpoint.token) {
			continue
		}
		if res.Bounds == nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s requires a resolvable time range", endpoint.token))
			continue
		}
		value := fmt.Sprintf("%d", FromInstant(endpoint.pick(res.Bounds), unit))
		res.Query = strings.ReplaceAll(res.Query, endpoint.token, value)
		res.Interpolated[endpoint.token] = value
	}

	if len(res.Interpolated) > 0 {
		core.Debugf(ctx, "interpolated %d macro(s): %v", len(res.Interpolated), res.Interpolated)
	}
	return res
}

// rewriteTimeAliases scans for "SELECT <timeColumn> AS <alias>" and keeps
// GROUP BY/ORDER BY pointing at the real column:
//
//   - a self-alias (alias == column, case-insensitive) is dropped outright
//   - otherwise GROUP BY/ORDER BY references to the alias are rewritten to
//     the column, since downstream consumers must group and order by the
//     real column even when the SELECT list renames it
func rewriteTimeAliases(query, timeColumn string) string {
	aliasPattern := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(timeColumn) + `\s+AS\s+([A-Za-z_][A-Za-z0-9_]*)`)

	matches := aliasPattern.FindAllStringSubmatch(query, -1)
	for _, m := range matches {
		alias := m[1]
		if strings.EqualFold(alias, timeColumn) {
			// "t AS t" is self-referential; drop the alias and leave any
			// GROUP BY/ORDER BY alone, they already name the real column.
			selfPattern := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(timeColumn) + `\s+AS\s+` + regexp.QuoteMeta(alias) + `\b`)
			query = selfPattern.ReplaceAllString(query, timeColumn)
			continue
		}
		clausePattern := regexp.MustCompile(`(?i)\b(GROUP\s+BY|ORDER\s+BY)(\s+)` + regexp.QuoteMeta(alias) + `\b`)
		query = clausePattern.ReplaceAllString(query, "${1}${2}"+timeColumn)
	}
	return query
}

// epochColumn reports whether the column name suggests raw epoch integers
// rather than a native timestamp type. Best-effort: callers needing
// guaranteed correctness pass an explicit TimeUnit on the schema hint.
func epochColumn(name string, schema *ColumnDescriptor) bool {
	if schema != nil && schema.TimeUnit != "" {
		return true
	}
	lower := strings.ToLower(name)
	if lower == DefaultTimeColumn || lower == "timestamp" {
		return true
	}
	for _, marker := range []string{"epoch", "_ts", "_ns", "_ms", "_us"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// timeColumnUnit picks the epoch unit for bound literals. Schema wins;
// otherwise the name suffix decides, defaulting to the storage layer's
// nanosecond convention for __timestamp and to seconds elsewhere.
func timeColumnUnit(name string, schema *ColumnDescriptor) TimeUnit {
	if schema != nil && schema.TimeUnit != "" {
		return schema.TimeUnit
	}
	lower := strings.ToLower(name)
	switch {
	case lower == DefaultTimeColumn:
		return UnitNanoseconds
	case strings.HasSuffix(lower, "_ns"):
		return UnitNanoseconds
	case strings.HasSuffix(lower, "_us"):
		return UnitMicroseconds
	case strings.HasSuffix(lower, "_ms"):
		return UnitMilliseconds
	default:
		return UnitSeconds
	}
}

// formatBounds renders the range endpoints as SQL literals: unquoted epoch
// integers for epoch-looking columns, quoted local-time strings otherwise.
func formatBounds(bounds *TimeBounds, unit TimeUnit, epoch bool, timeZone string) (string, string) {
	if epoch {
		return fmt.Sprintf("%d", FromInstant(bounds.From, unit)),
			fmt.Sprintf("%d", FromInstant(bounds.To, unit))
	}
	loc, err := time.LoadLocation(timeZone)
	if err != nil || timeZone == "" {
		loc = time.UTC
	}
	const layout = "2006-01-02 15:04:05"
	return "'" + bounds.From.In(loc).Format(layout) + "'",
		"'" + bounds.To.In(loc).Format(layout) + "'"
}

// intervalFor picks the coarsest per-bucket granularity in whole seconds
// that keeps the bucket count at or under maxPoints across the range.
func intervalFor(bounds *TimeBounds, maxPoints int) string {
	if maxPoints <= 0 {
		maxPoints = DefaultMaxPoints
	}
	if bounds == nil {
		return fmt.Sprintf("%ds", int(fallbackInterval.Seconds()))
	}
	secs := bounds.To.Sub(bounds.From).Milliseconds() / int64(maxPoints) / 1000
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("%ds", secs)
}
