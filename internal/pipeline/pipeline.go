// Package pipeline sequences one ETL run: extract, transform, upload,
// merge, persist.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/rumor-ml/callsync/internal/domain"
	"github.com/rumor-ml/callsync/internal/extract"
	"github.com/rumor-ml/callsync/internal/load"
	"github.com/rumor-ml/callsync/internal/output"
	"github.com/rumor-ml/callsync/internal/transform"
	"github.com/rumor-ml/callsync/internal/uploader"
	"github.com/rumor-ml/callsync/internal/validate"
)

// Extractor produces the raw call records for a time window.
type Extractor interface {
	ListCalls(ctx context.Context, w extract.Window) (*extract.ListResult, error)
}

// Uploader resolves every row to a terminal upload outcome.
type Uploader interface {
	Run(ctx context.Context, rows []domain.Row) *uploader.Result
}

// Loader persists the enriched rows.
type Loader interface {
	CountExisting(ctx context.Context, rows []domain.CallRow) (int, error)
	UpsertCalls(ctx context.Context, rows []domain.CallRow) (load.Result, error)
}

// Config holds the run-scoped pipeline settings.
type Config struct {
	FailedCSV  string
	DatasetCSV string
	DryRun     bool
}

// RunReport summarizes one pipeline run for the CLI banner.
type RunReport struct {
	RunID       string
	Extracted   int
	Pages       int
	Transformed int
	Existing    int
	Upload      domain.Summary
	LoadSuccess int
	LoadFailed  int
	AuditTime   time.Time
}

// Pipeline wires the stages together.
type Pipeline struct {
	extractor Extractor
	uploader  Uploader
	loader    Loader
	cfg       Config
}

// New creates a Pipeline.
func New(e Extractor, u Uploader, l Loader, cfg Config) *Pipeline {
	return &Pipeline{extractor: e, uploader: u, loader: l, cfg: cfg}
}

// Run executes the full ETL flow for the window. Row-level upload failures
// never fail the run; stage-level failures (extraction, validation, load)
// do.
func (p *Pipeline) Run(ctx context.Context, w extract.Window) (*RunReport, error) {
	report := &RunReport{RunID: uuid.NewString()}
	log.Printf("starting run %s", report.RunID)

	// Extract.
	listed, err := p.extractor.ListCalls(ctx, w)
	if err != nil {
		return report, fmt.Errorf("extraction failed: %w", err)
	}
	report.Extracted = len(listed.Calls)
	report.Pages = listed.Pages
	if len(listed.Calls) == 0 {
		log.Printf("no calls found in extraction window, nothing to do")
		return report, nil
	}

	// Transform.
	rows := transform.Rows(listed.Calls)
	report.Transformed = len(rows)

	// Existing-record count is reporting only; a failure here never
	// stops the run.
	existing, err := p.loader.CountExisting(ctx, rows)
	if err != nil {
		log.Printf("WARNING: could not count existing records: %v", err)
	} else {
		report.Existing = existing
	}

	if p.cfg.DryRun {
		log.Printf("dry run: stopping before upload, %d rows ready", len(rows))
		return report, nil
	}

	// Upload recordings.
	uploadResult := p.uploader.Run(ctx, transform.UploadRows(rows))
	report.Upload = uploadResult.Summary

	if len(uploadResult.Failed) > 0 && p.cfg.FailedCSV != "" {
		if err := uploader.WriteSpool(p.cfg.FailedCSV, uploadResult.Failed); err != nil {
			log.Printf("WARNING: could not write failed-record spool: %v", err)
		} else {
			log.Printf("saved %d failed upload(s) to %s", len(uploadResult.Failed), p.cfg.FailedCSV)
		}
	}

	// Merge signed URLs back onto rows by record key. Rows without a
	// matching successful outcome keep absent values.
	mergeOutcomes(rows, uploadResult.Outcomes)

	if p.cfg.DatasetCSV != "" {
		if err := output.WriteDataset(p.cfg.DatasetCSV, rows); err != nil {
			log.Printf("WARNING: could not write intermediate dataset: %v", err)
		}
	}

	// Validate, then persist.
	vr := validate.Rows(rows)
	for _, w := range vr.Warnings {
		log.Printf("WARNING: row %s [%s]: %s", w.RowID, w.Field, w.Message)
	}
	if !vr.OK() {
		for _, e := range vr.Errors {
			log.Printf("ERROR: row %s [%s]: %s", e.RowID, e.Field, e.Message)
		}
		return report, fmt.Errorf("validation failed with %d error(s)", len(vr.Errors))
	}

	loadResult, err := p.loader.UpsertCalls(ctx, rows)
	if err != nil {
		return report, fmt.Errorf("load failed: %w", err)
	}
	report.LoadSuccess = loadResult.Success
	report.LoadFailed = loadResult.Failed
	report.AuditTime = loadResult.AuditTime

	return report, nil
}

// mergeOutcomes joins outcomes onto rows by record key.
func mergeOutcomes(rows []domain.CallRow, outcomes []domain.Outcome) {
	byKey := make(map[string]domain.Outcome, len(outcomes))
	for _, o := range outcomes {
		byKey[o.RecordKey] = o
	}

	for i := range rows {
		o, ok := byKey[rows[i].ID]
		if !ok || !o.Disposition.Success() {
			continue
		}
		rows[i].SignedURL = o.SignedURL
		rows[i].SignedURLExpiry = o.SignedURLExpiry
	}
}
