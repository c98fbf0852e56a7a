package engine

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chartsql/chartsql/core"
)

// Chart kinds.
const (
	ChartLine = "line"
	ChartBar  = "bar"
	ChartArea = "area"
)

// FieldMapping associates result columns with chart roles.
type FieldMapping struct {
	XAxis   string `json:"xAxis"`
	YAxis   string `json:"yAxis"`
	GroupBy string `json:"groupBy,omitempty"`
}

// ChartStyling holds presentation options. Nil pointers mean "default on".
type ChartStyling struct {
	ShowLegend *bool `json:"showLegend,omitempty"`
	ShowGrid   *bool `json:"showGrid,omitempty"`
	Smooth     bool  `json:"smooth,omitempty"`
	Stack      bool  `json:"stack,omitempty"`
}

// TimeFormatting controls coercion of the x field to millisecond epochs.
type TimeFormatting struct {
	Enabled        bool     `json:"enabled"`
	SourceTimeUnit TimeUnit `json:"sourceTimeUnit,omitempty"`
}

// ChartConfiguration is the user-facing chart state. RenderSpec is a cache,
// fully derivable from the other fields plus the current result rows, and
// is never authoritative.
type ChartConfiguration struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	ChartKind      string          `json:"chartKind"`
	FieldMapping   FieldMapping    `json:"fieldMapping"`
	Styling        ChartStyling    `json:"styling"`
	TimeFormatting *TimeFormatting `json:"timeFormatting,omitempty"`
	RenderSpec     *RenderSpec     `json:"renderSpec,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// RenderSpec is the renderer-agnostic declarative chart description. The
// rendering engine consumes it verbatim.
type RenderSpec struct {
	XAxis  AxisSpec     `json:"xAxis"`
	YAxis  AxisSpec     `json:"yAxis"`
	Series []SeriesSpec `json:"series"`
	Legend LegendSpec   `json:"legend"`
	Grid   GridSpec     `json:"grid"`
}

// Axis types.
const (
	AxisTemporal    = "temporal"
	AxisCategorical = "categorical"
	AxisValue       = "value"
)

type AxisSpec struct {
	Type       string   `json:"type"`
	Categories []string `json:"categories,omitempty"`
}

// SeriesSpec holds one named series. Temporal series carry Points;
// categorical series carry Values aligned with the x-axis categories,
// nil marking an absent combination.
type SeriesSpec struct {
	Name         string     `json:"name"`
	Kind         string     `json:"kind"`
	Points       []Point    `json:"points,omitempty"`
	Values       []*float64 `json:"values,omitempty"`
	Color        string     `json:"color,omitempty"`
	Smooth       bool       `json:"smooth,omitempty"`
	Stack        string     `json:"stack,omitempty"`
	AreaFill     bool       `json:"areaFill,omitempty"`
	ConnectNulls bool       `json:"connectNulls"`
}

// Point is one (x, y) pair of a temporal series. X is a millisecond epoch;
// a nil Y is a deliberate series break.
type Point struct {
	X float64  `json:"x"`
	Y *float64 `json:"y"`
}

type LegendSpec struct {
	Show bool `json:"show"`
}

type GridSpec struct {
	Show bool `json:"show"`
}

// Synthesize recomputes the render spec for a configuration from the given
// rows. It returns a new configuration value; the input is never mutated.
// Empty rows, a broken field mapping, or any panic during synthesis degrade
// to a nil render spec, which callers must treat as "nothing to draw".
func Synthesize(ctx context.Context, rows []map[string]interface{}, cfg ChartConfiguration, themeColors []string) (out ChartConfiguration) {
	out = cfg
	out.RenderSpec = nil
	out.UpdatedAt = time.Now()
	if out.CreatedAt.IsZero() {
		out.CreatedAt = out.UpdatedAt
	}

	defer func() {
		if r := recover(); r != nil {
			core.Errorf(ctx, "chart synthesis failed for %q: %v", cfg.ID, r)
			out.RenderSpec = nil
		}
	}()

	if len(rows) == 0 {
		return out
	}
	if cfg.FieldMapping.XAxis == "" || cfg.FieldMapping.YAxis == "" {
		return out
	}

	temporal := cfg.TimeFormatting != nil && cfg.TimeFormatting.Enabled
	points := buildDataPoints(rows, cfg.FieldMapping, cfg.TimeFormatting)
	sortDataPoints(points, temporal)

	spec := &RenderSpec{
		YAxis:  AxisSpec{Type: AxisValue},
		Legend: LegendSpec{Show: cfg.FieldMapping.GroupBy != "" && boolOrTrue(cfg.Styling.ShowLegend)},
		Grid:   GridSpec{Show: boolOrTrue(cfg.Styling.ShowGrid)},
	}

	if temporal {
		spec.XAxis = AxisSpec{Type: AxisTemporal}
		spec.Series = temporalSeries(points, cfg)
	} else {
		categories := unifiedCategories(points)
		spec.XAxis = AxisSpec{Type: AxisCategorical, Categories: categories}
		spec.Series = categoricalSeries(points, categories, cfg)
	}

	shapeForKind(spec.Series, cfg)
	applyColors(spec.Series, themeColors)

	out.RenderSpec = spec
	return out
}

// dataPoint is one row projected onto the declared field mapping.
type dataPoint struct {
	xNum   float64 // coerced x for temporal/numeric compare
	xLabel string  // raw x label for categorical axes
	xNull  bool
	y      *float64
	group  string
}

func buildDataPoints(rows []map[string]interface{}, mapping FieldMapping, tf *TimeFormatting) []dataPoint {
	points := make([]dataPoint, 0, len(rows))
	for _, row := range rows {
		p := dataPoint{}
		xv, ok := row[mapping.XAxis]
		if !ok || xv == nil {
			p.xNull = true
		} else if tf != nil && tf.Enabled {
			if ms, ok := coerceToMillis(xv, tf.SourceTimeUnit); ok {
				p.xNum = ms
			} else {
				p.xNull = true
			}
		} else {
			p.xLabel = fmt.Sprint(xv)
			if f, ok := toFloat(xv); ok {
				p.xNum = f
			} else if f, err := strconv.ParseFloat(p.xLabel, 64); err == nil {
				p.xNum = f
			}
		}
		if yv, ok := row[mapping.YAxis]; ok && yv != nil {
			if f, ok := toFloat(yv); ok {
				p.y = &f
			} else if f, err := strconv.ParseFloat(fmt.Sprint(yv), 64); err == nil {
				p.y = &f
			}
		}
		if mapping.GroupBy != "" {
			if gv, ok := row[mapping.GroupBy]; ok && gv != nil {
				p.group = fmt.Sprint(gv)
			}
		}
		points = append(points, p)
	}
	return points
}

// coerceToMillis turns an x value into a millisecond epoch. Numeric values
// are rescaled by their declared or inferred unit; numeric-looking strings
// are parsed then rescaled; anything else goes through date-string parsing.
func coerceToMillis(v interface{}, unit TimeUnit) (float64, bool) {
	if t, ok := v.(time.Time); ok {
		return float64(t.UnixMilli()), true
	}
	if f, ok := toFloat(v); ok {
		return rescaleToMillis(f, unit), true
	}
	s := fmt.Sprint(v)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return rescaleToMillis(f, unit), true
	}
	if t := parseAbsolute(s); t != nil {
		return float64(t.UnixMilli()), true
	}
	return 0, false
}

func rescaleToMillis(n float64, unit TimeUnit) float64 {
	if unit == "" {
		unit = ClassifyMagnitude(n)
	}
	switch unit {
	case UnitSeconds:
		return n * 1e3
	case UnitMicroseconds:
		return n / 1e3
	case UnitNanoseconds:
		return n / 1e6
	default:
		return n
	}
}

// sortDataPoints orders rows ascending by x with nulls last. Line and area
// rendering assume monotonic x, so unsorted input must never reach series
// construction.
func sortDataPoints(points []dataPoint, temporal bool) {
	numeric := temporal
	if !numeric {
		numeric = true
		for _, p := range points {
			if p.xNull {
				continue
			}
			if _, err := strconv.ParseFloat(p.xLabel, 64); err != nil {
				numeric = false
				break
			}
		}
	}
	sort.SliceStable(points, func(i, j int) bool {
		a, b := points[i], points[j]
		if a.xNull || b.xNull {
			return !a.xNull && b.xNull
		}
		if numeric {
			return a.xNum < b.xNum
		}
		return strings.Compare(a.xLabel, b.xLabel) < 0
	})
}

// temporalSeries fans rows out into one series per group, or a single
// series named after the y field when no grouping is set.
func temporalSeries(points []dataPoint, cfg ChartConfiguration) []SeriesSpec {
	if cfg.FieldMapping.GroupBy == "" {
		s := SeriesSpec{Name: cfg.FieldMapping.YAxis, Kind: cfg.ChartKind, ConnectNulls: true}
		for _, p := range points {
			if p.xNull {
				continue
			}
			s.Points = append(s.Points, Point{X: p.xNum, Y: p.y})
		}
		return []SeriesSpec{s}
	}

	byGroup := map[string]int{}
	var series []SeriesSpec
	for _, p := range points {
		if p.xNull {
			continue
		}
		idx, ok := byGroup[p.group]
		if !ok {
			idx = len(series)
			byGroup[p.group] = idx
			series = append(series, SeriesSpec{Name: p.group, Kind: cfg.ChartKind, ConnectNulls: true})
		}
		series[idx].Points = append(series[idx].Points, Point{X: p.xNum, Y: p.y})
	}
	return series
}

// unifiedCategories collects the union of observed x categories across all
// groups, sorted numerically when every category parses as a number and
// lexically otherwise.
func unifiedCategories(points []dataPoint) []string {
	seen := map[string]bool{}
	var categories []string
	for _, p := range points {
		if p.xNull || seen[p.xLabel] {
			continue
		}
		seen[p.xLabel] = true
		categories = append(categories, p.xLabel)
	}

	allNumeric := true
	for _, c := range categories {
		if _, err := strconv.ParseFloat(c, 64); err != nil {
			allNumeric = false
			break
		}
	}
	sort.SliceStable(categories, func(i, j int) bool {
		if allNumeric {
			a, _ := strconv.ParseFloat(categories[i], 64)
			b, _ := strconv.ParseFloat(categories[j], 64)
			return a < b
		}
		return strings.Compare(categories[i], categories[j]) < 0
	})
	return categories
}

// categoricalSeries builds one series per group with one value per unified
// category, nil where a (group, category) combination was never observed.
// Lines must not visually connect across those gaps, so connect-nulls is
// disabled for grouped categorical series.
func categoricalSeries(points []dataPoint, categories []string, cfg ChartConfiguration) []SeriesSpec {
	catIndex := make(map[string]int, len(categories))
	for i, c := range categories {
		catIndex[c] = i
	}

	// Bars sum repeated (group, category) observations; other kinds keep
	// the last observed value.
	assign := func(values []*float64, i int, y *float64) {
		if cfg.ChartKind == ChartBar && values[i] != nil && y != nil {
			sum := *values[i] + *y
			values[i] = &sum
			return
		}
		values[i] = y
	}

	if cfg.FieldMapping.GroupBy == "" {
		s := SeriesSpec{Name: cfg.FieldMapping.YAxis, Kind: cfg.ChartKind, Values: make([]*float64, len(categories))}
		for _, p := range points {
			if p.xNull {
				continue
			}
			assign(s.Values, catIndex[p.xLabel], p.y)
		}
		return []SeriesSpec{s}
	}

	byGroup := map[string]int{}
	var series []SeriesSpec
	for _, p := range points {
		if p.xNull {
			continue
		}
		idx, ok := byGroup[p.group]
		if !ok {
			idx = len(series)
			byGroup[p.group] = idx
			series = append(series, SeriesSpec{
				Name:   p.group,
				Kind:   cfg.ChartKind,
				Values: make([]*float64, len(categories)),
			})
		}
		assign(series[idx].Values, catIndex[p.xLabel], p.y)
	}
	return series
}

// shapeForKind applies the kind-specific adjustments: bars sum per category
// and zero-fill gaps (a bar renders even at zero), areas reuse the line
// series with gradient fill and stacking defaults, lines take the optional
// smoothing flag.
func shapeForKind(series []SeriesSpec, cfg ChartConfiguration) {
	for i := range series {
		switch cfg.ChartKind {
		case ChartBar:
			for j, v := range series[i].Values {
				if v == nil {
					zero := 0.0
					series[i].Values[j] = &zero
				}
			}
			if cfg.Styling.Stack {
				series[i].Stack = "total"
			}
		case ChartArea:
			series[i].AreaFill = true
			series[i].Stack = "total"
			series[i].Smooth = cfg.Styling.Smooth
		default:
			series[i].Smooth = cfg.Styling.Smooth
		}
	}
}

func applyColors(series []SeriesSpec, themeColors []string) {
	if len(themeColors) == 0 {
		return
	}
	for i := range series {
		series[i].Color = themeColors[i%len(themeColors)]
	}
}

func boolOrTrue(b *bool) bool {
	return b == nil || *b
}

// DetectFieldMapping proposes a baseline mapping from analyzed fields: the
// first time field (or first dimension) becomes x, the first measure
// becomes y, and a low-cardinality non-x dimension becomes the grouping.
// Callers apply this immediately on first load, not debounced, since it
// establishes the configuration users then edit.
func DetectFieldMapping(fields []FieldInfo) (FieldMapping, *TimeFormatting) {
	var mapping FieldMapping
	var tf *TimeFormatting

	for _, f := range fields {
		if f.IsTimeField {
			mapping.XAxis = f.Name
			tf = &TimeFormatting{Enabled: true, SourceTimeUnit: f.TimeUnit}
			break
		}
	}
	for _, f := range fields {
		if mapping.XAxis == "" && f.Role == RoleDimension {
			mapping.XAxis = f.Name
		}
		if mapping.YAxis == "" && f.Role == RoleMeasure {
			mapping.YAxis = f.Name
		}
	}
	for _, f := range fields {
		if f.Role == RoleDimension && !f.IsTimeField && f.Name != mapping.XAxis &&
			f.ContentType == ContentCategorical {
			mapping.GroupBy = f.Name
			break
		}
	}
	return mapping, tf
}
