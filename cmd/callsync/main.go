package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rumor-ml/callsync/internal/config"
	"github.com/rumor-ml/callsync/internal/domain"
	"github.com/rumor-ml/callsync/internal/extract"
	"github.com/rumor-ml/callsync/internal/load"
	"github.com/rumor-ml/callsync/internal/pipeline"
	"github.com/rumor-ml/callsync/internal/storage"
	"github.com/rumor-ml/callsync/internal/ui"
	"github.com/rumor-ml/callsync/internal/uploader"
)

const (
	version = "0.1.0"
)

var (
	// Global flags
	versionFlag = flag.Bool("version", false, "Show version")

	// Core CLI flags
	configFile = flag.String("config", "", "Config YAML file (defaults apply when omitted)")
	dryRun     = flag.Bool("dry-run", false, "Extract and transform only, skip upload and load")
	verbose    = flag.Bool("verbose", false, "Show detailed stage logs")

	// Extraction window flags
	updatedAfter  = flag.String("updated-after", "", "Only calls updated after this RFC3339 timestamp")
	updatedBefore = flag.String("updated-before", "", "Only calls updated before this RFC3339 timestamp")
)

func main() {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, `callsync - Sync voice-AI call records and recordings

Usage:
  callsync [flags]

Flags:
`)
		flag.PrintDefaults()
		fmt.Fprint(os.Stderr, `
Environment:
  CALLSYNC_API_KEY        API key for the calls endpoint (required)
  CALLSYNC_DATABASE_DSN   Postgres connection string (required unless -dry-run)

Examples:
  # Sync everything updated in a window
  callsync -updated-after 2025-10-23T00:00:00Z -updated-before 2025-10-24T00:00:00Z

  # Preview a window without uploading or writing to the database
  callsync -updated-after 2025-10-23T00:00:00Z -dry-run

  # Use a config file
  callsync -config callsync.yaml

`)
	}

	flag.Parse()

	if *versionFlag {
		fmt.Printf("callsync version %s\n", version)
		os.Exit(0)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, extract.ErrWindowTooLarge) {
			fmt.Fprintf(os.Stderr, "Narrow the window with -updated-after / -updated-before and retry\n")
		}
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.Load(*configFile)
	if err != nil {
		return err
	}
	if cfg.API.Key == "" {
		return fmt.Errorf("API key is required, set %s", config.EnvAPIKey)
	}

	window, err := buildWindow(*updatedAfter, *updatedBefore)
	if err != nil {
		return err
	}

	if !*verbose {
		ui.Header("Syncing Voice-AI Calls")
		ui.Step(1, 4, "Connecting")
	}

	client := extract.New(cfg.API.BaseURL, cfg.API.Key, cfg.API.PageLimit)

	var (
		upl   pipeline.Uploader
		store pipeline.Loader
	)
	if *dryRun {
		// Dry runs never touch the bucket or write to the database.
		store = dryRunLoader{}
	} else {
		bucket, err := storage.NewBucket(ctx, cfg.Storage.Bucket, cfg.Storage.CredentialsFile)
		if err != nil {
			return fmt.Errorf("failed to open bucket %s: %w", cfg.Storage.Bucket, err)
		}
		defer bucket.Close()

		if cfg.Database.DSN == "" {
			return fmt.Errorf("database DSN is required, set %s", config.EnvDatabaseDSN)
		}
		db, err := load.NewStore(ctx, cfg.Database.DSN, cfg.Database.Table, cfg.Database.BatchSize)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		upl = uploader.New(bucket, uploader.Config{
			MaxRetries:   cfg.Upload.MaxRetries,
			BackoffBase:  cfg.Upload.BackoffBase(),
			MaxWorkers:   cfg.Upload.MaxWorkers,
			SignedURLTTL: cfg.Upload.SignedURLTTL(),
		})
		store = db
	}

	p := pipeline.New(client, upl, store, pipeline.Config{
		FailedCSV:  cfg.Artifacts.FailedCSV,
		DatasetCSV: cfg.Artifacts.DatasetCSV,
		DryRun:     *dryRun,
	})

	if !*verbose {
		ui.Step(2, 4, "Extracting call records")
	}

	report, err := p.Run(ctx, window)
	if err != nil {
		return err
	}

	printReport(report)
	return nil
}

// buildWindow validates the window flags. Both bounds are optional; an
// empty window means a full sync.
func buildWindow(after, before string) (extract.Window, error) {
	if after != "" {
		if _, err := time.Parse(time.RFC3339, after); err != nil {
			return extract.Window{}, fmt.Errorf("invalid -updated-after value %q: %w", after, err)
		}
	}
	if before != "" {
		if _, err := time.Parse(time.RFC3339, before); err != nil {
			return extract.Window{}, fmt.Errorf("invalid -updated-before value %q: %w", before, err)
		}
	}
	return extract.Window{UpdatedAfter: after, UpdatedBefore: before}, nil
}

func printReport(r *pipeline.RunReport) {
	if *verbose {
		fmt.Fprintf(os.Stderr, "\nRun %s complete:\n", r.RunID)
		fmt.Fprintf(os.Stderr, "  Extracted:   %d calls over %d page(s)\n", r.Extracted, r.Pages)
		fmt.Fprintf(os.Stderr, "  Transformed: %d rows (%d already in table)\n", r.Transformed, r.Existing)
		fmt.Fprintf(os.Stderr, "  Uploads:     %d uploaded, %d reused, %d skipped, %d failed\n",
			r.Upload.Uploaded, r.Upload.SignedURLGenerated, r.Upload.SkippedNoURL, r.Upload.Failed)
		fmt.Fprintf(os.Stderr, "  Loaded:      %d ok, %d failed\n", r.LoadSuccess, r.LoadFailed)
		if !r.AuditTime.IsZero() {
			fmt.Fprintf(os.Stderr, "  Audit time:  %s\n", r.AuditTime.Format(time.RFC3339))
		}
		return
	}

	ui.Step(3, 4, "Uploading recordings")
	if r.Upload.Failed > 0 {
		ui.Warning(fmt.Sprintf("%d upload(s) failed, see failed-uploads spool", r.Upload.Failed))
	} else {
		ui.Success(fmt.Sprintf("%d uploaded, %d reused, %d skipped",
			r.Upload.Uploaded, r.Upload.SignedURLGenerated, r.Upload.SkippedNoURL))
	}

	ui.Step(4, 4, "Loading rows")
	if *dryRun {
		ui.Info(fmt.Sprintf("Dry run: %d rows ready, nothing written", r.Transformed))
	} else if r.LoadFailed > 0 {
		ui.Warning(fmt.Sprintf("%d row(s) loaded, %d failed", r.LoadSuccess, r.LoadFailed))
	} else {
		ui.Success(fmt.Sprintf("%d row(s) loaded", r.LoadSuccess))
	}
}

// dryRunLoader stands in for the database during dry runs.
type dryRunLoader struct{}

func (dryRunLoader) CountExisting(context.Context, []domain.CallRow) (int, error) {
	return 0, errors.New("dry run: no database connection")
}

func (dryRunLoader) UpsertCalls(context.Context, []domain.CallRow) (load.Result, error) {
	return load.Result{}, errors.New("dry run: no database connection")
}
