package uploader

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/rumor-ml/callsync/internal/domain"
)

// WriteSpool persists the failed-record spool for operator review. The
// file is overwritten each run, not appended.
func WriteSpool(path string, failed []domain.Row) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create spool file %s: %w", path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close spool file %s: %w", path, closeErr)
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"record_key", "source_audio_url"}); err != nil {
		return fmt.Errorf("failed to write spool header: %w", err)
	}
	for _, row := range failed {
		if err := w.Write([]string{row.RecordKey, row.SourceAudioURL}); err != nil {
			return fmt.Errorf("failed to write spool row for %s: %w", row.RecordKey, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush spool file %s: %w", path, err)
	}
	return nil
}
