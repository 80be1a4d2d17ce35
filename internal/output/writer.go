// Package output writes the enriched dataset to a CSV side artifact for
// manual inspection between the upload and load stages.
package output

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rumor-ml/callsync/internal/domain"
)

// datasetHeader is the column set of the intermediate dataset file.
var datasetHeader = []string{
	"id", "assistant_id", "type", "org_id", "campaign_id", "status",
	"ended_reason", "created_at", "started_at", "ended_at", "updated_at",
	"duration", "stereo_recording_url", "transcript", "summary", "cost",
	"signed_url", "signed_url_expiry",
}

// WriteDataset serializes the rows to CSV at path, overwriting any file
// from a previous run.
func WriteDataset(path string, rows []domain.CallRow) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create dataset file %s: %w", path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close dataset file %s: %w", path, closeErr)
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write(datasetHeader); err != nil {
		return fmt.Errorf("failed to write dataset header: %w", err)
	}

	for i := range rows {
		if err := w.Write(datasetRecord(&rows[i])); err != nil {
			return fmt.Errorf("failed to write dataset row %s: %w", rows[i].ID, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush dataset file %s: %w", path, err)
	}
	return nil
}

func datasetRecord(r *domain.CallRow) []string {
	duration := ""
	if r.Duration != nil {
		duration = strconv.FormatFloat(*r.Duration, 'f', -1, 64)
	}
	cost := ""
	if r.Cost != nil {
		cost = strconv.FormatFloat(*r.Cost, 'f', -1, 64)
	}
	expiry := ""
	if !r.SignedURLExpiry.IsZero() {
		expiry = r.SignedURLExpiry.UTC().Format(time.RFC3339)
	}

	return []string{
		r.ID, r.AssistantID, r.Type, r.OrgID, r.CampaignID, r.Status,
		r.EndedReason, r.CreatedAt, r.StartedAt, r.EndedAt, r.UpdatedAt,
		duration, r.RecordingURL, r.Transcript, r.Summary, cost,
		r.SignedURL, expiry,
	}
}
