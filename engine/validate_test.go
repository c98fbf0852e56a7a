package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	queryRange := &TimeRangeDescriptor{From: "now-1h", To: "now"}

	tests := []struct {
		name       string
		query      string
		timeColumn string
		timeRange  *TimeRangeDescriptor
		wantValid  bool
		wantError  string
	}{
		{
			name:       "Filter with full context",
			query:      "SELECT v FROM m WHERE $__timeFilter",
			timeColumn: "ts",
			timeRange:  queryRange,
			wantValid:  true,
		},
		{
			name:      "Filter without time field or plausible column",
			query:     "SELECT v FROM m WHERE $__timeFilter",
			timeRange: queryRange,
			wantValid: false,
			wantError: "requires a time field",
		},
		{
			name:      "Filter without time field but query mentions timestamp",
			query:     "SELECT timestamp, v FROM m WHERE $__timeFilter",
			timeRange: queryRange,
			wantValid: true,
		},
		{
			name:       "Filter without time range",
			query:      "SELECT v FROM m WHERE $__timeFilter",
			timeColumn: "ts",
			wantValid:  false,
			wantError:  "requires a time range",
		},
		{
			name:      "Time field macro without time column",
			query:     "SELECT $__timeField FROM m",
			wantValid: false,
			wantError: "requires a time field",
		},
		{
			name:      "Endpoints without time range",
			query:     "SELECT v FROM m WHERE ts >= $__timeFrom AND ts < $__timeTo",
			wantValid: false,
			wantError: "require a time range",
		},
		{
			name:       "Disabled range with time macros",
			query:      "SELECT v FROM m WHERE $__timeFilter",
			timeColumn: "ts",
			timeRange:  &TimeRangeDescriptor{From: "now-1h", To: "now", Enabled: boolPtr(false)},
			wantValid:  false,
			wantError:  "must be enabled",
		},
		{
			name:       "Inverted range",
			query:      "SELECT v FROM m WHERE $__timeFilter",
			timeColumn: "ts",
			timeRange:  &TimeRangeDescriptor{From: "now", To: "now-1h"},
			wantValid:  false,
			wantError:  "must precede",
		},
		{
			name:      "No macros at all",
			query:     "SELECT v FROM m",
			wantValid: true,
		},
		{
			name:      "Disabled range without macros is fine",
			query:     "SELECT v FROM m",
			timeRange: &TimeRangeDescriptor{From: "now-1h", To: "now", Enabled: boolPtr(false)},
			wantValid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Validate(tt.query, tt.timeColumn, tt.timeRange)
			assert.Equal(t, tt.wantValid, res.IsValid)
			if tt.wantError != "" {
				require.NotEmpty(t, res.Errors)
				found := false
				for _, e := range res.Errors {
					if strings.Contains(e, tt.wantError) {
						found = true
					}
				}
				assert.True(t, found, "errors %v should mention %q", res.Errors, tt.wantError)
			} else {
				assert.Empty(t, res.Errors)
			}
		})
	}
}
