package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/chartsql/chartsql/core"
)

// Semantic column types.
const (
	TypeInteger  = "integer"
	TypeBigint   = "bigint"
	TypeFloat    = "float"
	TypeString   = "string"
	TypeBoolean  = "boolean"
	TypeDate     = "date"
	TypeDatetime = "datetime"
	TypeTime     = "time"
)

// Field roles and content types.
const (
	RoleMeasure   = "measure"
	RoleDimension = "dimension"

	ContentNumeric     = "numeric"
	ContentCategorical = "categorical"
	ContentTemporal    = "temporal"
	ContentText        = "text"
)

// ColumnDescriptor is an optional schema hint for a result column. When
// present it seeds the classification but is still cross-checked against
// sampled values.
type ColumnDescriptor struct {
	ColumnName string   `json:"columnName"`
	DataType   string   `json:"dataType"`
	TimeUnit   TimeUnit `json:"timeUnit,omitempty"`
}

// FieldInfo is the analyzer's verdict for one result column.
type FieldInfo struct {
	Name         string   `json:"name"`
	SemanticType string   `json:"semanticType"`
	Role         string   `json:"role"`
	ContentType  string   `json:"contentType"`
	IsTimeField  bool     `json:"isTimeField"`
	TimeUnit     TimeUnit `json:"timeUnit,omitempty"`
	Cardinality  int      `json:"cardinality"`
}

const maxSamples = 100

// Analyze classifies each column of a result set into a semantic type,
// role and time-field status. Classification layers schema hints, a
// name heuristic and sampled data; the data layer validates or overrides
// a suspicious schema/name signal but never silently contradicts a
// confident one (contradictions are logged).
func Analyze(ctx context.Context, rows []map[string]interface{}, schemaHints []ColumnDescriptor) []FieldInfo {
	hintsByName := make(map[string]*ColumnDescriptor, len(schemaHints))
	for i := range schemaHints {
		hintsByName[strings.ToLower(schemaHints[i].ColumnName)] = &schemaHints[i]
	}

	names := columnNames(rows)
	fields := make([]FieldInfo, 0, len(names))
	for _, name := range names {
		fields = append(fields, analyzeColumn(ctx, name, rows, hintsByName[strings.ToLower(name)]))
	}
	return fields
}

// columnNames collects the union of keys across rows in a stable order.
func columnNames(rows []map[string]interface{}) []string {
	seen := make(map[string]bool)
	var names []string
	for _, row := range rows {
		for name := range row {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}

// isTimeCandidateName is the name heuristic for time columns.
func isTimeCandidateName(name string) bool {
	lower := strings.ToLower(name)
	switch lower {
	case "__timestamp", "timestamp", "time", "created_at", "updated_at":
		return true
	}
	return strings.Contains(lower, "time") || strings.Contains(lower, "date")
}

func analyzeColumn(ctx context.Context, name string, rows []map[string]interface{}, hint *ColumnDescriptor) FieldInfo {
	field := FieldInfo{Name: name}

	var samples []interface{}
	for _, row := range rows {
		if v, ok := row[name]; ok && v != nil {
			samples = append(samples, v)
			if len(samples) >= maxSamples {
				break
			}
		}
	}

	nameIsTime := isTimeCandidateName(name)
	hintType := ""
	if hint != nil {
		hintType = normalizeDataType(hint.DataType)
	}

	// All-null columns cannot be sample-analyzed.
	if len(samples) == 0 {
		field.SemanticType = TypeString
		if hintType != "" {
			field.SemanticType = hintType
		}
		if hint != nil && hint.TimeUnit != "" {
			field.IsTimeField = true
			field.TimeUnit = hint.TimeUnit
		}
		assignRole(&field)
		if field.ContentType == ContentText {
			field.ContentType = ContentCategorical
		}
		return field
	}

	numericCount, floatCount := 0, 0
	magnitudeSum := 0.0
	for _, v := range samples {
		if f, ok := toFloat(v); ok {
			numericCount++
			magnitudeSum += math.Abs(f)
			if f != math.Trunc(f) {
				floatCount++
			}
		}
	}
	allNumeric := numericCount == len(samples)
	avgMagnitude := magnitudeSum / float64(max(numericCount, 1))

	switch {
	case hint != nil:
		field.SemanticType = hintType
		if field.SemanticType == "" {
			field.SemanticType = classifyByData(samples, allNumeric, floatCount)
		}
		if hint.TimeUnit != "" {
			field.IsTimeField = true
			field.TimeUnit = hint.TimeUnit
		}
		if nameIsTime {
			switch hintType {
			case TypeInteger, TypeBigint:
				// Integer schema + time-ish name: confirm against sample
				// magnitude before trusting the name.
				if allNumeric && plausibleEpoch(avgMagnitude) {
					field.IsTimeField = true
					if field.TimeUnit == "" {
						field.TimeUnit = ClassifyMagnitude(avgMagnitude)
					}
				} else {
					core.Debugf(ctx, "column %q named like a time field but samples (avg magnitude %g) are not plausible epochs", name, avgMagnitude)
				}
			default:
				field.IsTimeField = true
			}
		}
	case allNumeric:
		field.SemanticType = TypeInteger
		if floatCount > 0 {
			field.SemanticType = TypeFloat
		} else if avgMagnitude > math.MaxInt32 {
			field.SemanticType = TypeBigint
		}
		if plausibleEpoch(avgMagnitude) || nameIsTime {
			field.IsTimeField = true
			field.TimeUnit = ClassifyMagnitude(avgMagnitude)
		}
	default:
		allBool := true
		for _, v := range samples {
			if _, ok := v.(bool); !ok {
				allBool = false
				break
			}
		}
		if allBool {
			field.SemanticType = TypeBoolean
			break
		}
		dateCount := 0
		for _, v := range samples {
			if s, ok := v.(string); ok && parseAbsolute(s) != nil {
				dateCount++
			}
		}
		if dateCount*5 >= len(samples)*4 || nameIsTime {
			field.SemanticType = TypeDatetime
			field.IsTimeField = true
		} else {
			field.SemanticType = TypeString
		}
	}

	field.Cardinality = cardinality(samples)
	assignRole(&field)
	if field.ContentType == ContentText && field.Cardinality*2 < len(samples) {
		field.ContentType = ContentCategorical
	}
	return field
}

// assignRole derives role and content type from the semantic type.
func assignRole(field *FieldInfo) {
	if field.IsTimeField {
		field.Role = RoleDimension
		field.ContentType = ContentTemporal
		return
	}
	switch field.SemanticType {
	case TypeInteger, TypeBigint, TypeFloat:
		field.Role = RoleMeasure
		field.ContentType = ContentNumeric
	case TypeDate, TypeDatetime, TypeTime:
		field.Role = RoleDimension
		field.ContentType = ContentTemporal
	case TypeBoolean:
		field.Role = RoleDimension
		field.ContentType = ContentCategorical
	default:
		field.Role = RoleDimension
		field.ContentType = ContentText
	}
}

func classifyByData(samples []interface{}, allNumeric bool, floatCount int) string {
	if allNumeric {
		if floatCount > 0 {
			return TypeFloat
		}
		return TypeInteger
	}
	return TypeString
}

func cardinality(samples []interface{}) int {
	distinct := make(map[string]bool, len(samples))
	for _, v := range samples {
		distinct[fmt.Sprint(v)] = true
	}
	return len(distinct)
}

// normalizeDataType maps database type names onto the semantic type set.
func normalizeDataType(dataType string) string {
	t := strings.ToLower(strings.TrimSpace(dataType))
	switch {
	case t == "":
		return ""
	case strings.Contains(t, "bigint") || strings.Contains(t, "int64") || strings.Contains(t, "long"):
		return TypeBigint
	case strings.Contains(t, "int"):
		return TypeInteger
	case strings.Contains(t, "float") || strings.Contains(t, "double") || strings.Contains(t, "decimal") || strings.Contains(t, "real") || strings.Contains(t, "numeric"):
		return TypeFloat
	case strings.Contains(t, "bool"):
		return TypeBoolean
	case strings.Contains(t, "datetime") || strings.Contains(t, "timestamp"):
		return TypeDatetime
	case strings.Contains(t, "date"):
		return TypeDate
	case t == "time":
		return TypeTime
	default:
		return TypeString
	}
}

// toFloat reports v as a float64 when it carries a Go numeric type.
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
