package pipeline

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/callsync/internal/domain"
	"github.com/rumor-ml/callsync/internal/extract"
	"github.com/rumor-ml/callsync/internal/load"
	"github.com/rumor-ml/callsync/internal/uploader"
)

type fakeExtractor struct {
	result *extract.ListResult
	err    error
}

func (f *fakeExtractor) ListCalls(_ context.Context, _ extract.Window) (*extract.ListResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeUploader struct {
	result *uploader.Result
	called bool
	rows   []domain.Row
}

func (f *fakeUploader) Run(_ context.Context, rows []domain.Row) *uploader.Result {
	f.called = true
	f.rows = rows
	if f.result != nil {
		return f.result
	}
	outcomes := make([]domain.Outcome, len(rows))
	for i, r := range rows {
		outcomes[i] = domain.Outcome{RecordKey: r.RecordKey, Disposition: domain.DispositionSkippedNoURL}
	}
	return &uploader.Result{Outcomes: outcomes, Summary: domain.Summarize(outcomes)}
}

type fakeLoader struct {
	existing    int
	existingErr error
	loadResult  load.Result
	loadErr     error
	upserted    []domain.CallRow
}

func (f *fakeLoader) CountExisting(_ context.Context, _ []domain.CallRow) (int, error) {
	return f.existing, f.existingErr
}

func (f *fakeLoader) UpsertCalls(_ context.Context, rows []domain.CallRow) (load.Result, error) {
	f.upserted = rows
	return f.loadResult, f.loadErr
}

func callJSON(t *testing.T, id, recordingURL string) extract.Call {
	t.Helper()
	payload := map[string]any{
		"id":                 id,
		"status":             "ended",
		"updatedAt":          "2025-10-23T16:03:00Z",
		"stereoRecordingUrl": recordingURL,
	}
	data, err := json.Marshal(payload)
	require.NoError(t, err)

	var c extract.Call
	require.NoError(t, json.Unmarshal(data, &c))
	return c
}

func TestRunHappyPath(t *testing.T) {
	dir := t.TempDir()
	expiry := time.Date(2025, 10, 30, 16, 0, 0, 0, time.UTC)
	audit := time.Date(2025, 10, 25, 12, 0, 0, 0, time.UTC)

	extractor := &fakeExtractor{result: &extract.ListResult{
		Calls: []extract.Call{
			callJSON(t, "call-1", "https://cdn.example.com/call-1.mp3"),
			callJSON(t, "call-2", ""),
		},
		Pages: 1,
	}}
	upl := &fakeUploader{result: &uploader.Result{
		Outcomes: []domain.Outcome{
			{
				RecordKey:       "call-1",
				SignedURL:       "https://signed.example.com/call-1",
				SignedURLExpiry: expiry,
				Disposition:     domain.DispositionUploaded,
			},
			{RecordKey: "call-2", Disposition: domain.DispositionSkippedNoURL},
		},
		Summary: domain.Summary{Total: 2, Success: 1, Uploaded: 1, SkippedNoURL: 1},
	}}
	loader := &fakeLoader{
		existing:   1,
		loadResult: load.Result{Success: 2, AuditTime: audit},
	}

	p := New(extractor, upl, loader, Config{
		FailedCSV:  filepath.Join(dir, "failed_uploads.csv"),
		DatasetCSV: filepath.Join(dir, "calls_with_recordings.csv"),
	})

	report, err := p.Run(context.Background(), extract.Window{})
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 2, report.Extracted)
	assert.Equal(t, 1, report.Pages)
	assert.Equal(t, 2, report.Transformed)
	assert.Equal(t, 1, report.Existing)
	assert.Equal(t, 2, report.Upload.Total)
	assert.Equal(t, 2, report.LoadSuccess)
	assert.Equal(t, audit, report.AuditTime)

	// Signed URL merged onto the matching row only.
	require.Len(t, loader.upserted, 2)
	assert.Equal(t, "https://signed.example.com/call-1", loader.upserted[0].SignedURL)
	assert.Equal(t, expiry, loader.upserted[0].SignedURLExpiry)
	assert.Empty(t, loader.upserted[1].SignedURL)
	assert.True(t, loader.upserted[1].SignedURLExpiry.IsZero())

	// Dataset artifact written.
	_, statErr := os.Stat(filepath.Join(dir, "calls_with_recordings.csv"))
	assert.NoError(t, statErr)

	// No failures, so no spool.
	_, statErr = os.Stat(filepath.Join(dir, "failed_uploads.csv"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunEmptyWindowStopsCleanly(t *testing.T) {
	extractor := &fakeExtractor{result: &extract.ListResult{Pages: 1}}
	upl := &fakeUploader{}
	loader := &fakeLoader{}

	p := New(extractor, upl, loader, Config{})
	report, err := p.Run(context.Background(), extract.Window{})

	require.NoError(t, err)
	assert.Zero(t, report.Extracted)
	assert.False(t, upl.called)
	assert.Nil(t, loader.upserted)
}

func TestRunExtractionFailure(t *testing.T) {
	extractor := &fakeExtractor{err: errors.New("boom")}
	p := New(extractor, &fakeUploader{}, &fakeLoader{}, Config{})

	_, err := p.Run(context.Background(), extract.Window{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extraction failed")
}

func TestRunDryRunStopsBeforeUpload(t *testing.T) {
	extractor := &fakeExtractor{result: &extract.ListResult{
		Calls: []extract.Call{callJSON(t, "call-1", "https://cdn.example.com/call-1.mp3")},
		Pages: 1,
	}}
	upl := &fakeUploader{}
	loader := &fakeLoader{existing: 1}

	p := New(extractor, upl, loader, Config{DryRun: true})
	report, err := p.Run(context.Background(), extract.Window{})

	require.NoError(t, err)
	assert.Equal(t, 1, report.Transformed)
	assert.Equal(t, 1, report.Existing)
	assert.False(t, upl.called)
	assert.Nil(t, loader.upserted)
}

func TestRunExistingCountFailureIsNonFatal(t *testing.T) {
	extractor := &fakeExtractor{result: &extract.ListResult{
		Calls: []extract.Call{callJSON(t, "call-1", "")},
		Pages: 1,
	}}
	loader := &fakeLoader{existingErr: errors.New("db offline"), loadResult: load.Result{Success: 1}}

	p := New(extractor, &fakeUploader{}, loader, Config{})
	report, err := p.Run(context.Background(), extract.Window{})

	require.NoError(t, err)
	assert.Zero(t, report.Existing)
	assert.Equal(t, 1, report.LoadSuccess)
}

func TestRunWritesSpoolOnFailures(t *testing.T) {
	dir := t.TempDir()
	spool := filepath.Join(dir, "failed_uploads.csv")

	extractor := &fakeExtractor{result: &extract.ListResult{
		Calls: []extract.Call{callJSON(t, "call-1", "https://cdn.example.com/call-1.mp3")},
		Pages: 1,
	}}
	upl := &fakeUploader{result: &uploader.Result{
		Outcomes: []domain.Outcome{{RecordKey: "call-1", Disposition: domain.DispositionFailed}},
		Summary:  domain.Summary{Total: 1, Failed: 1},
		Failed: []domain.Row{
			{RecordKey: "call-1", SourceAudioURL: "https://cdn.example.com/call-1.mp3"},
		},
	}}
	loader := &fakeLoader{loadResult: load.Result{Success: 1}}

	p := New(extractor, upl, loader, Config{FailedCSV: spool})
	report, err := p.Run(context.Background(), extract.Window{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Upload.Failed)

	f, err := os.Open(spool)
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"call-1", "https://cdn.example.com/call-1.mp3"}, records[1])

	// Failed rows are still loaded, just without a signed URL.
	require.Len(t, loader.upserted, 1)
	assert.Empty(t, loader.upserted[0].SignedURL)
}

func TestRunValidationFailureBlocksLoad(t *testing.T) {
	// Two calls with the same id collide on the upsert key.
	extractor := &fakeExtractor{result: &extract.ListResult{
		Calls: []extract.Call{
			callJSON(t, "call-1", ""),
			callJSON(t, "call-1", ""),
		},
		Pages: 1,
	}}
	loader := &fakeLoader{}

	p := New(extractor, &fakeUploader{}, loader, Config{})
	_, err := p.Run(context.Background(), extract.Window{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
	assert.Nil(t, loader.upserted)
}

func TestRunLoadFailure(t *testing.T) {
	extractor := &fakeExtractor{result: &extract.ListResult{
		Calls: []extract.Call{callJSON(t, "call-1", "")},
		Pages: 1,
	}}
	loader := &fakeLoader{loadErr: errors.New("connection reset")}

	p := New(extractor, &fakeUploader{}, loader, Config{})
	_, err := p.Run(context.Background(), extract.Window{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "load failed")
}

func TestMergeOutcomesIgnoresFailures(t *testing.T) {
	rows := []domain.CallRow{{ID: "call-1"}, {ID: "call-2"}}
	outcomes := []domain.Outcome{
		{RecordKey: "call-1", Disposition: domain.DispositionFailed},
		{
			RecordKey:       "call-2",
			SignedURL:       "https://signed.example.com/call-2",
			SignedURLExpiry: time.Date(2025, 10, 30, 0, 0, 0, 0, time.UTC),
			Disposition:     domain.DispositionSignedURLGenerated,
		},
	}

	mergeOutcomes(rows, outcomes)

	assert.Empty(t, rows[0].SignedURL)
	assert.Equal(t, "https://signed.example.com/call-2", rows[1].SignedURL)
}
