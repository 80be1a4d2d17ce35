package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Disposition is the terminal classification of a row's upload outcome.
// Use Valid to ensure validity before use.
type Disposition string

const (
	// DispositionUploaded means the recording was downloaded from the
	// source URL and stored in the bucket during this run.
	DispositionUploaded Disposition = "uploaded"
	// DispositionSignedURLGenerated means the object already existed in
	// the bucket and only a fresh signed URL was minted.
	DispositionSignedURLGenerated Disposition = "signed_url_generated"
	// DispositionSkippedNoURL means the row carried no source audio URL.
	DispositionSkippedNoURL Disposition = "skipped_no_source_url"
	// DispositionFailed means every attempt to resolve the row failed.
	DispositionFailed Disposition = "failed"
)

var validDispositions = map[Disposition]struct{}{
	DispositionUploaded: {}, DispositionSignedURLGenerated: {},
	DispositionSkippedNoURL: {}, DispositionFailed: {},
}

// Valid reports whether d is one of the four terminal dispositions.
func (d Disposition) Valid() bool {
	_, ok := validDispositions[d]
	return ok
}

// Success reports whether the disposition counts toward the success total.
func (d Disposition) Success() bool {
	return d == DispositionUploaded || d == DispositionSignedURLGenerated
}

// Row is one unit of input to the upload orchestrator. RecordKey doubles as
// the database primary key and the object-storage filename stem. An empty
// SourceAudioURL means the record has no recording to upload.
type Row struct {
	RecordKey      string
	SourceAudioURL string
}

// Outcome is the terminal result for a single Row. Exactly one Outcome is
// produced per input Row; SignedURL and SignedURLExpiry are set iff the
// disposition is a success.
type Outcome struct {
	RecordKey       string
	SignedURL       string
	SignedURLExpiry time.Time
	Disposition     Disposition
}

// Validate checks the Outcome's internal consistency.
func (o *Outcome) Validate() error {
	if o.RecordKey == "" {
		return fmt.Errorf("outcome record key is required")
	}
	if !o.Disposition.Valid() {
		return fmt.Errorf("invalid disposition: %s", o.Disposition)
	}
	if o.Disposition.Success() && o.SignedURL == "" {
		return fmt.Errorf("disposition %s requires a signed URL", o.Disposition)
	}
	if !o.Disposition.Success() && o.SignedURL != "" {
		return fmt.Errorf("disposition %s must not carry a signed URL", o.Disposition)
	}
	return nil
}

// Summary aggregates dispositions across one orchestrator run. It is
// derived by folding over outcomes, never mutated independently.
type Summary struct {
	Total              int
	Success            int
	Uploaded           int
	SignedURLGenerated int
	SkippedNoURL       int
	Failed             int
}

// Summarize folds outcomes into a Summary by simple counting.
func Summarize(outcomes []Outcome) Summary {
	s := Summary{Total: len(outcomes)}
	for _, o := range outcomes {
		switch o.Disposition {
		case DispositionUploaded:
			s.Uploaded++
		case DispositionSignedURLGenerated:
			s.SignedURLGenerated++
		case DispositionSkippedNoURL:
			s.SkippedNoURL++
		case DispositionFailed:
			s.Failed++
		}
	}
	s.Success = s.Uploaded + s.SignedURLGenerated
	return s
}

// Accounted reports whether every row landed in exactly one bucket:
// uploaded + signed_url_generated + skipped + failed == total.
func (s Summary) Accounted() bool {
	return s.Uploaded+s.SignedURLGenerated+s.SkippedNoURL+s.Failed == s.Total
}

// CallRow is the flat tabular form of one call record, produced by the
// transform stage and upserted into the calls table keyed by ID.
type CallRow struct {
	ID           string
	AssistantID  string
	Type         string
	OrgID        string
	CampaignID   string
	Status       string
	EndedReason  string
	CreatedAt    string
	StartedAt    string
	EndedAt      string
	UpdatedAt    string
	Duration     *float64 // seconds, nil when start or end is missing
	RecordingURL string   // source stereo recording URL, may be empty
	Transcript   string
	Summary      string
	Cost         *float64

	CustomerJSON        json.RawMessage
	AssistantNumberJSON json.RawMessage
	AnalysisJSON        json.RawMessage
	Raw                 json.RawMessage // full raw call payload

	// Populated after the upload stage.
	SignedURL       string
	SignedURLExpiry time.Time
}

// Validate checks the CallRow has the fields persistence depends on.
func (r *CallRow) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("call row ID is required")
	}
	if len(r.Raw) == 0 {
		return fmt.Errorf("call row raw payload is required")
	}
	return nil
}
