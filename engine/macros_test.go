package engine

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func formatInt(n int64) string { return strconv.FormatInt(n, 10) }

func TestInterpolateAliasRewrite(t *testing.T) {
	now := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	result := Interpolate(context.Background(),
		"SELECT __timestamp AS time, v FROM m WHERE $__timeFilter GROUP BY time ORDER BY time",
		InterpolationContext{
			TimeColumn: "__timestamp",
			TimeRange:  &TimeRangeDescriptor{From: "now-1h", To: "now"},
			Now:        now,
		})

	assert.True(t, result.HasTimeVariables)
	assert.Empty(t, result.Errors)
	assert.Contains(t, result.Query, "GROUP BY __timestamp")
	assert.Contains(t, result.Query, "ORDER BY __timestamp")
	assert.NotContains(t, result.Query, "GROUP BY time")
	assert.NotContains(t, result.Query, "ORDER BY time")
}

func TestInterpolateSelfAliasDropped(t *testing.T) {
	result := Interpolate(context.Background(),
		"SELECT t AS t FROM m",
		InterpolationContext{TimeColumn: "t"})

	assert.Equal(t, "SELECT t FROM m", result.Query)
	assert.False(t, result.HasTimeVariables)
}

func TestInterpolateNilRangeNeutralizesFilter(t *testing.T) {
	result := Interpolate(context.Background(),
		"SELECT v FROM m WHERE $__timeFilter",
		InterpolationContext{TimeColumn: "ts"})

	assert.Equal(t, "SELECT v FROM m WHERE 1=1", result.Query)
	assert.Empty(t, result.Errors)
	assert.Equal(t, "1=1", result.Interpolated[MacroTimeFilter])
}

func TestInterpolateEpochFilter(t *testing.T) {
	now := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	result := Interpolate(context.Background(),
		"SELECT v FROM m WHERE $__timeFilter",
		InterpolationContext{
			TimeColumn: "__timestamp",
			TimeRange:  &TimeRangeDescriptor{From: "now-1h", To: "now"},
			Now:        now,
		})

	lo := now.Add(-time.Hour).UnixNano()
	hi := now.UnixNano()
	want := "SELECT v FROM m WHERE __timestamp >= " + formatInt(lo) + " AND __timestamp <= " + formatInt(hi)
	assert.Equal(t, want, result.Query)
}

func TestInterpolateQuotedFilterForNamedColumn(t *testing.T) {
	now := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	result := Interpolate(context.Background(),
		"SELECT v FROM m WHERE $__timeFilter",
		InterpolationContext{
			TimeColumn: "created",
			TimeRange:  &TimeRangeDescriptor{From: "2024-06-15T08:00:00Z", To: "2024-06-15T09:00:00Z"},
			Now:        now,
		})

	assert.Equal(t,
		"SELECT v FROM m WHERE created >= '2024-06-15 08:00:00' AND created <= '2024-06-15 09:00:00'",
		result.Query)
}

func TestInterpolateEndToEnd(t *testing.T) {
	// The time-field macro introduces an alias that GROUP BY then uses;
	// both must land on the real column with millisecond epoch bounds.
	result := Interpolate(context.Background(),
		"SELECT $__timeField as time, AVG(v) FROM m WHERE $__timeFilter GROUP BY time",
		InterpolationContext{
			TimeColumn:       "ts",
			TimeColumnSchema: &ColumnDescriptor{ColumnName: "ts", DataType: "bigint", TimeUnit: UnitMilliseconds},
			TimeRange: &TimeRangeDescriptor{
				Kind: RangeKindAbsolute,
				From: ToInstant(1000, UnitMilliseconds).Format(time.RFC3339Nano),
				To:   ToInstant(2000, UnitMilliseconds).Format(time.RFC3339Nano),
			},
		})

	assert.Contains(t, result.Query, "ts >= 1000 AND ts <= 2000")
	assert.Contains(t, result.Query, "GROUP BY ts")
	assert.Equal(t, "ts", result.Interpolated[MacroTimeField])
}

func TestInterpolateInterval(t *testing.T) {
	now := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		timeRange *TimeRangeDescriptor
		maxPoints int
		want      string
	}{
		{
			// 24h over 1000 points is 86.4s per bucket, floored to 86s.
			name:      "Day range",
			timeRange: &TimeRangeDescriptor{From: "now-1d", To: "now"},
			maxPoints: 1000,
			want:      "86s",
		},
		{
			// A short range floors at 1s.
			name:      "Short range",
			timeRange: &TimeRangeDescriptor{From: "now-1m", To: "now"},
			maxPoints: 1000,
			want:      "1s",
		},
		{
			name:      "Unresolvable range falls back to a minute",
			timeRange: nil,
			maxPoints: 1000,
			want:      "60s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Interpolate(context.Background(),
				"SELECT time_bucket('$__interval', ts) FROM m",
				InterpolationContext{TimeRange: tt.timeRange, MaxPoints: tt.maxPoints, Now: now})
			assert.Equal(t, tt.want, result.Interpolated[MacroInterval])
		})
	}
}

func TestInterpolateEndpoints(t *testing.T) {
	now := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	result := Interpolate(context.Background(),
		"SELECT v FROM m WHERE ts >= $__timeFrom AND ts < $__timeTo",
		InterpolationContext{
			TimeColumn:       "ts",
			TimeColumnSchema: &ColumnDescriptor{ColumnName: "ts", TimeUnit: UnitSeconds},
			TimeRange:        &TimeRangeDescriptor{From: "now-1h", To: "now"},
			Now:              now,
		})

	require.Empty(t, result.Errors)
	assert.Equal(t, formatInt(now.Add(-time.Hour).Unix()), result.Interpolated[MacroTimeFrom])
	assert.Equal(t, formatInt(now.Unix()), result.Interpolated[MacroTimeTo])
}

func TestInterpolateEndpointsWithoutRange(t *testing.T) {
	result := Interpolate(context.Background(),
		"SELECT v FROM m WHERE ts >= $__timeFrom",
		InterpolationContext{TimeColumn: "ts"})

	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], MacroTimeFrom)
	assert.Contains(t, result.Query, MacroTimeFrom)
}

func TestInterpolatePlainQueryUntouched(t *testing.T) {
	query := "SELECT a, b FROM m WHERE a > 5"
	result := Interpolate(context.Background(), query, InterpolationContext{})

	assert.Equal(t, query, result.Query)
	assert.False(t, result.HasTimeVariables)
	assert.Empty(t, result.Interpolated)
}
