// Package executor is the DuckDB-backed query-execution collaborator.
// It runs fully-interpolated SQL over time-partitioned parquet trees;
// time-range semantics live entirely in the engine, which hands resolved
// bounds down for partition pruning.
package executor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/chartsql/chartsql/core"
	_ "github.com/marcboeker/go-duckdb/v2"
	"github.com/spf13/afero"
)

// Ensure Client implements core.QueryClient interface
var _ core.QueryClient = (*Client)(nil)

// Client executes SQL over parquet files laid out as
// <dataDir>/<db>/<table>/date=YYYY-MM-DD/hour=HH/*.parquet.
type Client struct {
	DataDir string
	DB      *sql.DB
	FS      afero.Fs
}

// NewClient creates a client over the OS filesystem.
func NewClient(dataDir string) *Client {
	return &Client{
		DataDir: dataDir,
		FS:      afero.NewOsFs(),
	}
}

// Initialize sets up the DuckDB connection
func (c *Client) Initialize() error {
	db, err := sql.Open("duckdb", "?access_mode=READ_WRITE")
	if err != nil {
		return fmt.Errorf("failed to initialize DuckDB: %v", err)
	}
	c.DB = db
	return nil
}

// target is the FROM clause target of a query.
type target struct {
	DbName      string
	Measurement string
}

var fromPattern = regexp.MustCompile(`(?i)FROM\s+(?:(\w+)\.)?(\w+)`)

// parseTarget extracts the database and measurement names from the query.
func parseTarget(query, dbName string) (*target, error) {
	m := fromPattern.FindStringSubmatch(query)
	if len(m) < 3 {
		return nil, fmt.Errorf("invalid query: FROM clause not found or invalid")
	}
	t := &target{DbName: dbName, Measurement: m[2]}
	if m[1] != "" {
		t.DbName = m[1]
	}
	return t, nil
}

// MetadataFile represents a metadata.json file structure
type MetadataFile struct {
	Type             string        `json:"type"`
	ParquetSizeBytes int           `json:"parquet_size_bytes"`
	RowCount         int           `json:"row_count"`
	MinTime          int64         `json:"min_time"`
	MaxTime          int64         `json:"max_time"`
	Files            []ParquetFile `json:"files"`
}

// ParquetFile represents a single parquet file entry in metadata
type ParquetFile struct {
	Path      string `json:"path"`
	SizeBytes int    `json:"size_bytes"`
	RowCount  int    `json:"row_count"`
	MinTime   int64  `json:"min_time"`
	MaxTime   int64  `json:"max_time"`
}

func (c *Client) enumFolderWithMetadata(metadataPath string, bounds *core.TimeBounds) ([]string, error) {
	metadataBytes, err := afero.ReadFile(c.FS, metadataPath)
	if err != nil {
		return nil, err
	}

	var metadata MetadataFile
	if err := json.Unmarshal(metadataBytes, &metadata); err != nil {
		return nil, err
	}

	// Skip if metadata time range doesn't overlap with requested bounds
	if bounds != nil && bounds.Start != nil && bounds.End != nil &&
		(metadata.MaxTime < *bounds.Start || metadata.MinTime > *bounds.End) {
		return []string{}, nil
	}

	var res []string
	for _, file := range metadata.Files {
		if bounds != nil && bounds.Start != nil && bounds.End != nil &&
			(file.MaxTime < *bounds.Start || file.MinTime > *bounds.End) {
			continue
		}
		if _, err := c.FS.Stat(file.Path); err == nil {
			res = append(res, file.Path)
		}
	}
	return res, nil
}

func (c *Client) enumFolderNoMetadata(path string) ([]string, error) {
	entries, err := afero.ReadDir(c.FS, path)
	if err != nil {
		return nil, err
	}
	var res []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".parquet") {
			res = append(res, filepath.Join(path, entry.Name()))
		}
	}
	return res, nil
}

// FindRelevantFiles lists the parquet files overlapping the given bounds.
func (c *Client) FindRelevantFiles(ctx context.Context, dbName, measurement string, bounds *core.TimeBounds) ([]string, error) {
	if bounds == nil || (bounds.Start == nil && bounds.End == nil) {
		core.Debugf(ctx, "no time bounds, getting all files for %s.%s", dbName, measurement)
		return c.findAllFiles(ctx, dbName, measurement)
	}

	var relevantFiles []string
	start := time.Now()
	defer func() {
		core.Debugf(ctx, "found %d file(s) in %v", len(relevantFiles), time.Since(start))
	}()

	startDate := time.Unix(0, 0)
	if bounds.Start != nil {
		startDate = time.Unix(0, *bounds.Start).UTC()
	}
	endDate := time.Now().UTC()
	if bounds.End != nil {
		endDate = time.Unix(0, *bounds.End).UTC()
	}

	dateDirs, err := c.getDateDirectoriesInRange(dbName, measurement, startDate, endDate)
	if err != nil {
		core.Errorf(ctx, "failed to get date directories: %v", err)
		return nil, err
	}

	for _, dateDir := range dateDirs {
		datePath := filepath.Join(c.DataDir, dbName, measurement, dateDir)
		hourDirs, err := c.getHourDirectoriesInRange(datePath, startDate, endDate)
		if err != nil {
			core.Debugf(ctx, "failed to get hour directories for %s: %v", datePath, err)
			continue
		}

		for _, hourDir := range hourDirs {
			hourPath := filepath.Join(datePath, hourDir)
			metadataPath := filepath.Join(hourPath, "metadata.json")
			if _, err := c.FS.Stat(metadataPath); err == nil {
				files, err := c.enumFolderWithMetadata(metadataPath, bounds)
				if err == nil {
					relevantFiles = append(relevantFiles, files...)
					continue
				}
				core.Debugf(ctx, "failed to read metadata.json: %v", err)
			}

			files, err := c.enumFolderNoMetadata(hourPath)
			if err == nil {
				relevantFiles = append(relevantFiles, files...)
				continue
			}
			core.Debugf(ctx, "failed to enumerate folder: %v", err)
		}
	}

	return relevantFiles, nil
}

// findAllFiles walks the whole measurement tree.
func (c *Client) findAllFiles(ctx context.Context, dbName, measurement string) ([]string, error) {
	var allFiles []string
	basePath := filepath.Join(c.DataDir, dbName, measurement)

	if _, err := c.FS.Stat(basePath); err != nil {
		return allFiles, nil
	}

	err := afero.Walk(c.FS, basePath, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors
		}

		if info.IsDir() && info.Name() == "tmp" {
			// tmp may hold half-written parquet files
			return filepath.SkipDir
		}

		if info.IsDir() {
			metadataPath := filepath.Join(path, "metadata.json")
			if _, err := c.FS.Stat(metadataPath); err == nil {
				metadataBytes, err := afero.ReadFile(c.FS, metadataPath)
				if err == nil {
					var metadata MetadataFile
					if err := json.Unmarshal(metadataBytes, &metadata); err == nil {
						for _, file := range metadata.Files {
							if _, err := c.FS.Stat(file.Path); err == nil {
								allFiles = append(allFiles, file.Path)
							} else {
								relPath := filepath.Join(filepath.Dir(path), filepath.Base(file.Path))
								if _, err := c.FS.Stat(relPath); err == nil {
									allFiles = append(allFiles, relPath)
								}
							}
						}
					}
				}
				return filepath.SkipDir
			}
			return nil
		}

		if strings.HasSuffix(info.Name(), ".parquet") {
			allFiles = append(allFiles, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return allFiles, nil
}

var (
	datePattern = regexp.MustCompile(`^date=(.+)$`)
	hourPattern = regexp.MustCompile(`^hour=(\d+)$`)
)

func (c *Client) getDateDirectoriesInRange(dbName, measurement string, startDate, endDate time.Time) ([]string, error) {
	basePath := filepath.Join(c.DataDir, dbName, measurement)
	entries, err := afero.ReadDir(c.FS, basePath)
	if err != nil {
		return nil, err
	}

	var dateDirs []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		matches := datePattern.FindStringSubmatch(entry.Name())
		if len(matches) < 2 {
			continue
		}
		dirDate, err := time.Parse("2006-01-02", matches[1])
		if err != nil {
			continue
		}

		dirDateOnly := time.Date(dirDate.Year(), dirDate.Month(), dirDate.Day(), 0, 0, 0, 0, time.UTC)
		startDateOnly := time.Date(startDate.Year(), startDate.Month(), startDate.Day(), 0, 0, 0, 0, time.UTC)
		endDateOnly := time.Date(endDate.Year(), endDate.Month(), endDate.Day(), 0, 0, 0, 0, time.UTC)

		if !dirDateOnly.Before(startDateOnly) && !dirDateOnly.After(endDateOnly) {
			dateDirs = append(dateDirs, entry.Name())
		}
	}

	return dateDirs, nil
}

func (c *Client) getHourDirectoriesInRange(datePath string, startDate, endDate time.Time) ([]string, error) {
	entries, err := afero.ReadDir(c.FS, datePath)
	if err != nil {
		return nil, err
	}

	dateMatches := datePattern.FindStringSubmatch(filepath.Base(datePath))
	if len(dateMatches) < 2 {
		return nil, nil
	}
	dirDate, err := time.Parse("2006-01-02", dateMatches[1])
	if err != nil {
		return nil, nil
	}

	sameDay := func(a, b time.Time) bool {
		return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
	}

	var hourDirs []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		matches := hourPattern.FindStringSubmatch(entry.Name())
		if len(matches) < 2 {
			continue
		}
		hour, err := strconv.Atoi(matches[1])
		if err != nil {
			continue
		}

		switch {
		case sameDay(dirDate, startDate) && sameDay(dirDate, endDate):
			if hour >= startDate.Hour() && hour <= endDate.Hour() {
				hourDirs = append(hourDirs, entry.Name())
			}
		case sameDay(dirDate, startDate):
			if hour >= startDate.Hour() {
				hourDirs = append(hourDirs, entry.Name())
			}
		case sameDay(dirDate, endDate):
			if hour <= endDate.Hour() {
				hourDirs = append(hourDirs, entry.Name())
			}
		default:
			hourDirs = append(hourDirs, entry.Name())
		}
	}

	return hourDirs, nil
}

// rewriteFrom replaces the table reference with a read_parquet call over
// the discovered files.
func rewriteFrom(query string, t *target, files []string) string {
	var filesList strings.Builder
	for i, file := range files {
		if i > 0 {
			filesList.WriteString(", ")
		}
		filesList.WriteString(fmt.Sprintf("'%s'", file))
	}
	source := fmt.Sprintf("read_parquet([%s], union_by_name=true)", filesList.String())

	tablePattern := regexp.MustCompile(fmt.Sprintf(`(?i)FROM\s+(?:%s\.)?%s\b`,
		regexp.QuoteMeta(t.DbName), regexp.QuoteMeta(t.Measurement)))
	return tablePattern.ReplaceAllString(query, "FROM "+source)
}

// Query executes an interpolated query. The query text must already be
// free of macros; bounds are used only for partition pruning.
func (c *Client) Query(ctx context.Context, query, dbName string, bounds *core.TimeBounds) ([]map[string]interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	query = strings.TrimSpace(query)
	query = strings.ReplaceAll(query, "\n", " ")
	query = strings.ReplaceAll(query, "\r", " ")
	query = regexp.MustCompile(`\s+`).ReplaceAllString(query, " ")

	// Handle special commands
	switch strings.ToUpper(query) {
	case "SHOW DATABASES":
		entries, err := afero.ReadDir(c.FS, c.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to read data directory: %v", err)
		}
		results := make([]map[string]interface{}, 0)
		for _, entry := range entries {
			if entry.IsDir() {
				results = append(results, map[string]interface{}{
					"database_name": entry.Name(),
				})
			}
		}
		return results, nil

	case "SHOW TABLES":
		entries, err := afero.ReadDir(c.FS, filepath.Join(c.DataDir, dbName))
		if err != nil {
			return nil, fmt.Errorf("failed to read database directory: %v", err)
		}
		results := make([]map[string]interface{}, 0)
		for _, entry := range entries {
			if entry.IsDir() {
				results = append(results, map[string]interface{}{
					"table_name": entry.Name(),
				})
			}
		}
		return results, nil
	}

	t, err := parseTarget(query, dbName)
	if err != nil {
		return nil, err
	}

	files, err := c.FindRelevantFiles(ctx, t.DbName, t.Measurement, bounds)
	if err != nil || len(files) == 0 {
		return nil, fmt.Errorf("no relevant files found for query")
	}

	duckdbQuery := rewriteFrom(query, t, files)
	core.Debugf(ctx, "rewritten query: %s", duckdbQuery)

	start := time.Now()
	rows, err := c.DB.QueryContext(ctx, duckdbQuery)
	if err != nil {
		return nil, fmt.Errorf("query execution failed: %v", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %v", err)
	}

	var result []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("error scanning row: %v", err)
		}

		row := make(map[string]interface{})
		for i, col := range columns {
			val := values[i]
			// COUNT columns come back nil when nothing matched
			if strings.Contains(col, "count") && val == nil {
				row[col] = 0
			} else {
				row[col] = val
			}
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %v", err)
	}

	core.Debugf(ctx, "got query result in %v", time.Since(start))
	return result, nil
}

// Close releases resources
func (c *Client) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
