package engine

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

type formatterFn func(data []map[string]any, w http.ResponseWriter) error

var formatters = map[string]formatterFn{
	"json":   JsonFormatter,
	"ndjson": NDJsonFormatter,
}

func JsonFormatter(data []map[string]any, w http.ResponseWriter) error {
	processedResults := ProcessResultsForJSON(data)

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(QueryResponse{
		Results: processedResults,
	})
}

func NDJsonFormatter(data []map[string]any, w http.ResponseWriter) error {
	processedResults := ProcessResultsForJSON(data)

	w.Header().Set("Content-Type", "application/x-ndjson")
	for _, result := range processedResults {
		if err := json.NewEncoder(w).Encode(result); err != nil {
			return err
		}
	}
	return nil
}

// ProcessResultsForJSON prepares result rows for JSON serialization.
// int64 values are rendered as strings so 64-bit epochs survive consumers
// that decode numbers as float64.
func ProcessResultsForJSON(results []map[string]interface{}) []map[string]interface{} {
	processedResults := make([]map[string]interface{}, len(results))

	for i, row := range results {
		processedRow := make(map[string]interface{})

		for key, value := range row {
			switch v := value.(type) {
			case nil:
				processedRow[key] = nil
			case int64:
				processedRow[key] = strconv.FormatInt(v, 10)
			case time.Time:
				processedRow[key] = v.Format(time.RFC3339Nano)
			default:
				processedRow[key] = v
			}
		}

		processedResults[i] = processedRow
	}

	return processedResults
}
