package core

import (
	"context"
)

// QueryClient defines the interface for the query-execution collaborator.
// The engine never executes SQL itself; callers hand the interpolated query
// to an implementation of this interface.
type QueryClient interface {
	// Query executes a query and returns the results as flat rows.
	// bounds carries the engine-resolved time range (may be nil) so the
	// executor can prune time-partitioned storage without re-parsing SQL.
	Query(ctx context.Context, query, dbName string, bounds *TimeBounds) ([]map[string]interface{}, error)

	// Initialize sets up the query client
	Initialize() error

	// Close releases resources
	Close() error
}

// TimeBounds is a resolved query time range in Unix nanoseconds.
// A nil pointer on either side means that side is unbounded.
type TimeBounds struct {
	Start *int64
	End   *int64
}
