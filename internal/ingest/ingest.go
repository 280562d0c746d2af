package ingest

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"vibecheck/internal/config"
	"vibecheck/internal/dataset"
	"vibecheck/internal/vibedb"
)

// Options allow overriding config values from CLI flags.
type Options struct {
	LogFile     string
	DatasetPath string
	// Rows, when non-nil, is ingested instead of reading DatasetPath.
	Rows []dataset.Row
	// SchemaOnly stops after the database and schema are ensured.
	SchemaOnly bool
	// Output receives log lines when no log file is set; defaults to stdout.
	Output io.Writer
}

// Run executes a single ingestion run. Scheduling is left to cron or similar.
// Only configuration, connection and dataset errors are returned; schema and
// row problems end up in the report.
func Run(ctx context.Context, opts Options, load config.ConfigLoad) (Report, error) {
	cfg, err := load()
	if err != nil {
		return Report{}, err
	}

	logFile := strings.TrimSpace(opts.LogFile)
	if logFile == "" {
		logFile = cfg.LogFile
	}
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	logger, closeLog := NewLogger(out, config.ExpandPath(logFile))
	defer closeLog()

	created, err := vibedb.EnsureDatabase(ctx, cfg.Database)
	if err != nil {
		logger.Printf("database setup failed: %v", err)
		return Report{}, fmt.Errorf("ensure database: %w", err)
	}
	if created {
		logger.Printf("database created: driver=%s", cfg.Database.Driver)
	}

	db, err := vibedb.Open(ctx, cfg.Database)
	if err != nil {
		logger.Printf("connection failed: %v", err)
		return Report{}, fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if opts.SchemaOnly {
		rep := Report{Schema: vibedb.NewSchemaManager(db, logger).Ensure(ctx)}
		logger.Printf("schema ensured: changes=%d failures=%d", len(rep.Schema.Changes), len(rep.Schema.Failures))
		return rep, nil
	}

	rows := opts.Rows
	if rows == nil {
		path := strings.TrimSpace(opts.DatasetPath)
		if path == "" {
			path = cfg.DatasetPath
		}
		path = config.ExpandPath(path)
		var stats dataset.Stats
		rows, stats, err = dataset.Load(path)
		if err != nil {
			logger.Printf("dataset load failed: path=%s err=%v", path, err)
			return Report{}, fmt.Errorf("load dataset %s: %w", path, err)
		}
		logger.Printf("dataset loaded: path=%s read=%d kept=%d dropped=%d", path, stats.Read, stats.Kept, stats.Dropped)
	}

	rep := NewOrchestrator(db, cfg, logger).Run(ctx, rows)
	logger.Printf("ingest completed: rows=%d %s", len(rows), rep.Totals())
	if counts, err := db.Counts(ctx); err == nil {
		logger.Printf("tables: influencers=%d content=%d comments=%d votes=%d",
			counts["influencers"], counts["content"], counts["comments"], counts["votes"])
	}
	return rep, nil
}

// NewLogger writes to logFile when it can be opened in append mode and to out
// otherwise.
func NewLogger(out io.Writer, logFile string) (*log.Logger, func() error) {
	logger := log.New(out, "[vibecheck] ", log.LstdFlags)
	closeLog := func() error { return nil }
	if logFile == "" {
		return logger, closeLog
	}
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err == nil {
		if f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
			logger.SetOutput(f)
			closeLog = f.Close
		}
	}
	return logger, closeLog
}
