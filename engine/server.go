package engine

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/chartsql/chartsql/core"
)

// Server exposes the engine over HTTP JSON. Every operation underneath is a
// pure synchronous computation, so handlers need no locking; each request
// produces a fresh output value. Debouncing of rapid successive edits is a
// caller concern — HTTP clients are their own coalescing point.
type Server struct {
	QueryClient core.QueryClient
	DefaultDB   string
	TimeZone    string
	MaxPoints   int
}

// NewServer wires the engine surface to an optional query-execution
// collaborator. client may be nil, in which case /query is unavailable.
func NewServer(client core.QueryClient, defaultDB string) *Server {
	return &Server{
		QueryClient: client,
		DefaultDB:   defaultDB,
		MaxPoints:   DefaultMaxPoints,
	}
}

// InterpolateRequest is the /interpolate request body.
type InterpolateRequest struct {
	Query            string               `json:"query"`
	TimeColumn       string               `json:"timeColumn,omitempty"`
	TimeColumnSchema *ColumnDescriptor    `json:"timeColumnSchema,omitempty"`
	TimeRange        *TimeRangeDescriptor `json:"timeRange,omitempty"`
	TimeZone         string               `json:"timeZone,omitempty"`
	MaxPoints        int                  `json:"maxPoints,omitempty"`
}

// InterpolateResponse carries the interpolated query plus the advisory
// validation outcome.
type InterpolateResponse struct {
	Query            string            `json:"query"`
	HasTimeVariables bool              `json:"hasTimeVariables"`
	Interpolated     map[string]string `json:"interpolated"`
	Errors           []string          `json:"errors"`
	Validation       ValidationResult  `json:"validation"`
}

// AnalyzeRequest is the /analyze request body.
type AnalyzeRequest struct {
	Rows        []map[string]interface{} `json:"rows"`
	SchemaHints []ColumnDescriptor       `json:"schemaHints,omitempty"`
}

// AnalyzeResponse lists the analyzed fields and a proposed baseline
// field mapping.
type AnalyzeResponse struct {
	Fields         []FieldInfo     `json:"fields"`
	FieldMapping   FieldMapping    `json:"fieldMapping"`
	TimeFormatting *TimeFormatting `json:"timeFormatting,omitempty"`
}

// ChartRequest is the /chart request body.
type ChartRequest struct {
	Rows          []map[string]interface{} `json:"rows"`
	Configuration ChartConfiguration       `json:"configuration"`
	ThemeColors   []string                 `json:"themeColors,omitempty"`
}

// QueryRequest is the /query request body: the full pipeline from raw
// macro-bearing SQL to executed rows.
type QueryRequest struct {
	InterpolateRequest
	DB     string `json:"db,omitempty"`
	Format string `json:"format,omitempty"`
}

// QueryResponse represents a query API response
type QueryResponse struct {
	Results []map[string]interface{} `json:"results"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

var reqId int32

// addCORSHeaders adds CORS headers to the response
func addCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func decodePost[T any](w http.ResponseWriter, r *http.Request, req *T) bool {
	addCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return false
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		sendErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) interpolationContext(req InterpolateRequest) InterpolationContext {
	maxPoints := req.MaxPoints
	if maxPoints <= 0 {
		maxPoints = s.MaxPoints
	}
	timeZone := req.TimeZone
	if timeZone == "" {
		timeZone = s.TimeZone
	}
	return InterpolationContext{
		TimeColumn:       req.TimeColumn,
		TimeColumnSchema: req.TimeColumnSchema,
		TimeRange:        req.TimeRange,
		TimeZone:         timeZone,
		MaxPoints:        maxPoints,
	}
}

// HandleInterpolate handles the /interpolate endpoint: validate, then
// best-effort macro substitution with a diagnostics record.
func (s *Server) HandleInterpolate(w http.ResponseWriter, r *http.Request) {
	ctx := core.WithDefaultLogger(r.Context(), fmt.Sprintf("req-%d", atomic.AddInt32(&reqId, 1)))
	var req InterpolateRequest
	if !decodePost(w, r, &req) {
		return
	}
	if req.Query == "" {
		sendErrorResponse(w, "Missing query parameter", http.StatusBadRequest)
		return
	}

	validation := Validate(req.Query, req.TimeColumn, req.TimeRange)
	result := Interpolate(ctx, req.Query, s.interpolationContext(req))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(InterpolateResponse{
		Query:            result.Query,
		HasTimeVariables: result.HasTimeVariables,
		Interpolated:     result.Interpolated,
		Errors:           result.Errors,
		Validation:       validation,
	})
}

// HandleAnalyze handles the /analyze endpoint.
func (s *Server) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	ctx := core.WithDefaultLogger(r.Context(), fmt.Sprintf("req-%d", atomic.AddInt32(&reqId, 1)))
	var req AnalyzeRequest
	if !decodePost(w, r, &req) {
		return
	}

	fields := Analyze(ctx, req.Rows, req.SchemaHints)
	mapping, tf := DetectFieldMapping(fields)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AnalyzeResponse{
		Fields:         fields,
		FieldMapping:   mapping,
		TimeFormatting: tf,
	})
}

// HandleChart handles the /chart endpoint: re-synthesizes the render spec
// for the supplied rows and configuration.
func (s *Server) HandleChart(w http.ResponseWriter, r *http.Request) {
	ctx := core.WithDefaultLogger(r.Context(), fmt.Sprintf("req-%d", atomic.AddInt32(&reqId, 1)))
	var req ChartRequest
	if !decodePost(w, r, &req) {
		return
	}

	cfg := Synthesize(ctx, req.Rows, req.Configuration, req.ThemeColors)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cfg)
}

// HandleQuery handles the /query endpoint: validate, interpolate, execute
// via the query collaborator, and return JSON-processed rows.
func (s *Server) HandleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := core.WithDefaultLogger(r.Context(), fmt.Sprintf("req-%d", atomic.AddInt32(&reqId, 1)))
	var req QueryRequest
	if !decodePost(w, r, &req) {
		return
	}
	if req.Query == "" {
		sendErrorResponse(w, "Missing query parameter", http.StatusBadRequest)
		return
	}
	if s.QueryClient == nil {
		sendErrorResponse(w, "No query backend configured", http.StatusServiceUnavailable)
		return
	}

	dbName := r.URL.Query().Get("db")
	if dbName == "" {
		dbName = req.DB
	}
	if dbName == "" {
		dbName = s.DefaultDB
	}

	if validation := Validate(req.Query, req.TimeColumn, req.TimeRange); !validation.IsValid {
		sendErrorResponse(w, fmt.Sprintf("invalid query context: %v", validation.Errors), http.StatusBadRequest)
		return
	}

	start := time.Now()
	result := Interpolate(ctx, req.Query, s.interpolationContext(req.InterpolateRequest))
	rows, err := s.QueryClient.Query(ctx, result.Query, dbName, result.Bounds.Nanos())
	if err != nil {
		sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	core.Infof(ctx, "executed query against %s in %v (%d rows)", dbName, time.Since(start), len(rows))

	formatter, ok := formatters[req.Format]
	if !ok {
		formatter = JsonFormatter
	}
	if err := formatter(rows, w); err != nil {
		core.Errorf(ctx, "failed to write response: %v", err)
	}
}

// Send an error response in JSON format
func sendErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error: message,
	})
}

// HandleHealth is the health check endpoint.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	addCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// Close releases the query backend, if any.
func (s *Server) Close() error {
	if s.QueryClient != nil {
		return s.QueryClient.Close()
	}
	return nil
}
