// Package transform flattens raw call records into tabular rows for the
// upload and load stages.
package transform

import (
	"fmt"
	"log"
	"time"

	"github.com/rumor-ml/callsync/internal/domain"
	"github.com/rumor-ml/callsync/internal/extract"
)

// Rows converts raw calls into flat CallRows. Records that cannot be
// converted are logged and skipped; a malformed call never aborts the run.
func Rows(calls []extract.Call) []domain.CallRow {
	rows := make([]domain.CallRow, 0, len(calls))
	for i := range calls {
		row, err := buildRow(&calls[i])
		if err != nil {
			log.Printf("ERROR: skipping call %s: %v", calls[i].ID, err)
			continue
		}
		rows = append(rows, *row)
	}
	return rows
}

// buildRow maps one raw call onto the table schema.
func buildRow(c *extract.Call) (*domain.CallRow, error) {
	if c.ID == "" {
		return nil, fmt.Errorf("call has no ID")
	}
	if len(c.Raw) == 0 {
		return nil, fmt.Errorf("call has no raw payload")
	}

	return &domain.CallRow{
		ID:                  c.ID,
		AssistantID:         c.AssistantID,
		Type:                c.Type,
		OrgID:               c.OrgID,
		CampaignID:          c.CampaignID,
		Status:              c.Status,
		EndedReason:         c.EndedReason,
		CreatedAt:           c.CreatedAt,
		StartedAt:           c.StartedAt,
		EndedAt:             c.EndedAt,
		UpdatedAt:           c.UpdatedAt,
		Duration:            duration(c.StartedAt, c.EndedAt),
		RecordingURL:        c.StereoRecordingURL,
		Transcript:          c.Transcript,
		Summary:             c.Summary,
		Cost:                c.Cost,
		CustomerJSON:        c.Customer,
		AssistantNumberJSON: c.AssistantPhoneNumber,
		AnalysisJSON:        c.Analysis,
		Raw:                 c.Raw,
	}, nil
}

// duration computes the call length in seconds. Returns nil when either
// timestamp is missing or unparseable.
func duration(startedAt, endedAt string) *float64 {
	if startedAt == "" || endedAt == "" {
		return nil
	}
	start, err := time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return nil
	}
	end, err := time.Parse(time.RFC3339, endedAt)
	if err != nil {
		return nil
	}
	secs := end.Sub(start).Seconds()
	return &secs
}

// UploadRows projects the orchestrator's input out of the flat rows: one
// Row per call, keyed by ID, carrying the source recording URL when present.
func UploadRows(rows []domain.CallRow) []domain.Row {
	out := make([]domain.Row, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.Row{
			RecordKey:      r.ID,
			SourceAudioURL: r.RecordingURL,
		})
	}
	return out
}
