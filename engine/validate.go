package engine

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ValidationResult is the advisory outcome of a pre-flight check.
type ValidationResult struct {
	IsValid bool     `json:"isValid"`
	Errors  []string `json:"errors"`
}

var plausibleTimeColumnPattern = regexp.MustCompile(`(?i)\b(timestamp|time)\b`)

// Validate checks that a macro-bearing query has the supporting context
// before interpolation is attempted. It is purely advisory: it never
// mutates the query and callers choose whether to block on the errors.
// Interpolate still produces best-effort output regardless.
func Validate(query string, timeColumn string, timeRange *TimeRangeDescriptor) ValidationResult {
	res := ValidationResult{IsValid: true, Errors: []string{}}
	fail := func(format string, args ...any) {
		res.IsValid = false
		res.Errors = append(res.Errors, fmt.Sprintf(format, args...))
	}

	hasFilter := strings.Contains(query, MacroTimeFilter)
	hasField := strings.Contains(query, MacroTimeField)
	hasEndpoints := strings.Contains(query, MacroTimeFrom) || strings.Contains(query, MacroTimeTo)
	hasAnyTimeMacro := hasFilter || hasField || hasEndpoints || strings.Contains(query, MacroInterval)

	if hasFilter && timeColumn == "" && !plausibleTimeColumnPattern.MatchString(query) {
		fail("%s requires a time field", MacroTimeFilter)
	}
	if hasFilter && timeRange == nil {
		fail("%s requires a time range", MacroTimeFilter)
	}
	if hasField && timeColumn == "" {
		fail("%s requires a time field", MacroTimeField)
	}
	if hasEndpoints && timeRange == nil {
		fail("%s/%s require a time range", MacroTimeFrom, MacroTimeTo)
	}

	if timeRange != nil {
		if hasAnyTimeMacro && timeRange.Enabled != nil && !*timeRange.Enabled {
			fail("time range must be enabled when time macros are present")
		}
		now := time.Now()
		fromExpr := strings.TrimSpace(timeRange.From)
		if timeRange.Kind == RangeKindRelative && spanPattern.MatchString(fromExpr) {
			fromExpr = "now-" + fromExpr
		}
		from := resolveExpr(fromExpr, now)
		to := resolveExpr(strings.TrimSpace(timeRange.To), now)
		if from != nil && to != nil && !from.Before(*to) {
			fail("time range from must precede to")
		}
	}

	return res
}
