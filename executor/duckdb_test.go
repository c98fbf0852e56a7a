package executor

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/chartsql/chartsql/core"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(n int64) *int64 { return &n }

func TestParseTarget(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		dbName  string
		want    *target
		wantErr bool
	}{
		{
			name:   "Qualified table",
			query:  "SELECT COUNT(*) AS value FROM metrics.cpu WHERE 1=1",
			dbName: "mydb",
			want:   &target{DbName: "metrics", Measurement: "cpu"},
		},
		{
			name:   "Unqualified table uses provided db",
			query:  "SELECT * FROM cpu",
			dbName: "mydb",
			want:   &target{DbName: "mydb", Measurement: "cpu"},
		},
		{
			name:    "Missing FROM clause",
			query:   "SELECT 1",
			dbName:  "mydb",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTarget(tt.query, tt.dbName)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseTarget() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseTarget() error = %v", err)
			}
			if got.DbName != tt.want.DbName || got.Measurement != tt.want.Measurement {
				t.Errorf("parseTarget() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRewriteFrom(t *testing.T) {
	tgt := &target{DbName: "metrics", Measurement: "cpu"}
	got := rewriteFrom("SELECT v FROM metrics.cpu WHERE v > 1", tgt, []string{"/a.parquet", "/b.parquet"})
	want := "SELECT v FROM read_parquet(['/a.parquet', '/b.parquet'], union_by_name=true) WHERE v > 1"
	assert.Equal(t, want, got)

	got = rewriteFrom("SELECT v FROM cpu", tgt, []string{"/a.parquet"})
	assert.Equal(t, "SELECT v FROM read_parquet(['/a.parquet'], union_by_name=true)", got)
}

// newMemClient builds a client over an in-memory tree:
//
//	/data/mydb/cpu/date=2024-06-15/hour=10/{a.parquet,metadata.json}
//	/data/mydb/cpu/date=2024-06-15/hour=11/b.parquet
//	/data/mydb/cpu/date=2024-06-16/hour=00/c.parquet
func newMemClient(t *testing.T) *Client {
	t.Helper()
	fs := afero.NewMemMapFs()
	c := &Client{DataDir: "/data", FS: fs}

	base := "/data/mydb/cpu"
	h10 := filepath.Join(base, "date=2024-06-15", "hour=10")
	h11 := filepath.Join(base, "date=2024-06-15", "hour=11")
	h00 := filepath.Join(base, "date=2024-06-16", "hour=00")
	for _, dir := range []string{h10, h11, h00} {
		require.NoError(t, fs.MkdirAll(dir, 0o755))
	}

	aPath := filepath.Join(h10, "a.parquet")
	require.NoError(t, afero.WriteFile(fs, aPath, []byte("pq"), 0o644))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(h11, "b.parquet"), []byte("pq"), 0o644))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(h00, "c.parquet"), []byte("pq"), 0o644))

	// hour=10 carries metadata covering only the first 15 minutes
	meta := MetadataFile{
		Type:    "parquet",
		MinTime: hourNanos(2024, 6, 15, 10),
		MaxTime: hourNanos(2024, 6, 15, 10) + int64(15*time.Minute),
		Files: []ParquetFile{
			{
				Path:    aPath,
				MinTime: hourNanos(2024, 6, 15, 10),
				MaxTime: hourNanos(2024, 6, 15, 10) + int64(15*time.Minute),
			},
		},
	}
	metaBytes, err := json.Marshal(meta)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, filepath.Join(h10, "metadata.json"), metaBytes, 0o644))

	return c
}

func hourNanos(year int, month time.Month, day, hour int) int64 {
	return time.Date(year, month, day, hour, 0, 0, 0, time.UTC).UnixNano()
}

func TestFindRelevantFilesWithBounds(t *testing.T) {
	c := newMemClient(t)
	ctx := context.Background()

	// Bounds covering only hour=10 of the first day.
	bounds := &core.TimeBounds{
		Start: ptr(hourNanos(2024, 6, 15, 10)),
		End:   ptr(hourNanos(2024, 6, 15, 10) + int64(30*time.Minute)),
	}

	files, err := c.FindRelevantFiles(ctx, "mydb", "cpu", bounds)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Contains(t, files[0], "a.parquet")
}

func TestFindRelevantFilesMetadataPrunes(t *testing.T) {
	c := newMemClient(t)
	ctx := context.Background()

	// Bounds inside the hour=10 directory but past the metadata's
	// max time: the metadata wins and the file is pruned.
	bounds := &core.TimeBounds{
		Start: ptr(hourNanos(2024, 6, 15, 10) + int64(30*time.Minute)),
		End:   ptr(hourNanos(2024, 6, 15, 10) + int64(45*time.Minute)),
	}

	files, err := c.FindRelevantFiles(ctx, "mydb", "cpu", bounds)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestFindRelevantFilesSpanningDays(t *testing.T) {
	c := newMemClient(t)
	ctx := context.Background()

	bounds := &core.TimeBounds{
		Start: ptr(hourNanos(2024, 6, 15, 10)),
		End:   ptr(hourNanos(2024, 6, 16, 1)),
	}

	files, err := c.FindRelevantFiles(ctx, "mydb", "cpu", bounds)
	require.NoError(t, err)
	assert.Len(t, files, 3)
}

func TestFindRelevantFilesNoBounds(t *testing.T) {
	c := newMemClient(t)

	files, err := c.FindRelevantFiles(context.Background(), "mydb", "cpu", nil)
	require.NoError(t, err)
	// All three parquet files, with hour=10 resolved through its metadata.
	assert.Len(t, files, 3)
}

func TestShowDatabasesAndTables(t *testing.T) {
	c := newMemClient(t)
	ctx := context.Background()

	dbs, err := c.Query(ctx, "SHOW DATABASES", "", nil)
	require.NoError(t, err)
	require.Len(t, dbs, 1)
	assert.Equal(t, "mydb", dbs[0]["database_name"])

	tables, err := c.Query(ctx, "SHOW TABLES", "mydb", nil)
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "cpu", tables[0]["table_name"])
}
