package output

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rumor-ml/callsync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteDataset(t *testing.T) {
	duration := 150.0
	cost := 0.42
	expiry := time.Date(2025, 10, 30, 16, 0, 0, 0, time.UTC)

	rows := []domain.CallRow{
		{
			ID:              "call-1",
			AssistantID:     "asst-1",
			Status:          "ended",
			UpdatedAt:       "2025-10-23T16:03:00Z",
			Duration:        &duration,
			RecordingURL:    "https://cdn.example.com/call-1.mp3",
			Cost:            &cost,
			Raw:             json.RawMessage(`{}`),
			SignedURL:       "https://signed.example.com/call-1",
			SignedURLExpiry: expiry,
		},
		{
			ID:  "call-2",
			Raw: json.RawMessage(`{}`),
		},
	}

	path := filepath.Join(t.TempDir(), "calls_with_recordings.csv")
	require.NoError(t, WriteDataset(path, rows))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	header := records[0]
	assert.Equal(t, "id", header[0])
	assert.Equal(t, "signed_url_expiry", header[len(header)-1])

	first := records[1]
	assert.Equal(t, "call-1", first[0])
	assert.Equal(t, "150", first[11])
	assert.Equal(t, "0.42", first[15])
	assert.Equal(t, "https://signed.example.com/call-1", first[16])
	assert.Equal(t, "2025-10-30T16:00:00Z", first[17])

	second := records[2]
	assert.Equal(t, "call-2", second[0])
	assert.Empty(t, second[11], "nil duration stays empty")
	assert.Empty(t, second[16], "missing signed URL stays empty")
	assert.Empty(t, second[17], "zero expiry stays empty")
}

func TestWriteDatasetOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dataset.csv")

	require.NoError(t, WriteDataset(path, []domain.CallRow{{ID: "old", Raw: json.RawMessage(`{}`)}}))
	require.NoError(t, WriteDataset(path, []domain.CallRow{{ID: "new", Raw: json.RawMessage(`{}`)}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "old")
	assert.Contains(t, string(data), "new")
}

func TestWriteDatasetEmptyRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dataset.csv")
	require.NoError(t, WriteDataset(path, nil))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 1, "header only")
}
