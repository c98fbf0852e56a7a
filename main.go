package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/chartsql/chartsql/config"
	"github.com/chartsql/chartsql/core"
	"github.com/chartsql/chartsql/engine"
	"github.com/chartsql/chartsql/executor"
)

func main() {
	if err := config.InitConfig(os.Getenv("CHARTSQL_CONFIG")); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx := core.WithDefaultLogger(context.Background(), "main")

	queryFlag := flag.String("query", "", "Execute a single query and exit")
	dbFlag := flag.String("db", config.Config.DefaultDB, "Database name to query")
	flag.Parse()

	client := executor.NewClient(config.Config.DataDir)
	if err := client.Initialize(); err != nil {
		core.Errorf(ctx, "Failed to initialize query client: %v", err)
		os.Exit(1)
	}
	defer client.Close()

	// One-shot mode: interpolate, execute, print rows as JSON.
	if *queryFlag != "" {
		result := engine.Interpolate(ctx, *queryFlag, engine.InterpolationContext{
			TimeZone:  config.Config.TimeZone,
			MaxPoints: config.Config.MaxPoints,
		})
		rows, err := client.Query(ctx, result.Query, *dbFlag, result.Bounds.Nanos())
		if err != nil {
			core.Errorf(ctx, "Query error: %v", err)
			os.Exit(1)
		}
		jsonData, err := json.MarshalIndent(engine.ProcessResultsForJSON(rows), "", "  ")
		if err != nil {
			core.Errorf(ctx, "Failed to marshal results: %v", err)
			os.Exit(1)
		}
		fmt.Println(string(jsonData))
		return
	}

	server := engine.NewServer(client, config.Config.DefaultDB)
	server.TimeZone = config.Config.TimeZone
	server.MaxPoints = config.Config.MaxPoints
	defer server.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", server.HandleHealth)
	mux.HandleFunc("/interpolate", server.HandleInterpolate)
	mux.HandleFunc("/analyze", server.HandleAnalyze)
	mux.HandleFunc("/chart", server.HandleChart)
	mux.HandleFunc("/query", server.HandleQuery)

	core.Infof(ctx, "chartsql server running at http://localhost:%d", config.Config.Port)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", config.Config.Port), mux); err != nil {
		core.Errorf(ctx, "Failed to start server: %v", err)
		os.Exit(1)
	}
}
