// Package validate checks the transformed rows before they are handed to
// persistence.
package validate

import (
	"fmt"

	"github.com/rumor-ml/callsync/internal/domain"
)

// Error is a validation failure that blocks the load stage.
type Error struct {
	RowID   string
	Field   string
	Message string
}

// Warning is a non-critical validation issue, reported but not blocking.
type Warning struct {
	RowID   string
	Field   string
	Message string
}

// Result contains all errors and warnings found across the row set.
type Result struct {
	Errors   []Error
	Warnings []Warning
}

// OK reports whether the rows may be loaded.
func (r *Result) OK() bool {
	return len(r.Errors) == 0
}

// Rows validates the row set: every row needs an ID and a raw payload, IDs
// must be unique across the set (they are the upsert join key), and rows
// without an updated_at timestamp draw a warning.
func Rows(rows []domain.CallRow) *Result {
	result := &Result{}

	seen := make(map[string]bool, len(rows))
	for i, row := range rows {
		if row.ID == "" {
			result.Errors = append(result.Errors, Error{
				Field:   "id",
				Message: fmt.Sprintf("row %d has no ID", i),
			})
			continue
		}

		if seen[row.ID] {
			result.Errors = append(result.Errors, Error{
				RowID:   row.ID,
				Field:   "id",
				Message: "duplicate row ID",
			})
		}
		seen[row.ID] = true

		if len(row.Raw) == 0 {
			result.Errors = append(result.Errors, Error{
				RowID:   row.ID,
				Field:   "raw",
				Message: "row has no raw payload",
			})
		}

		if row.UpdatedAt == "" {
			result.Warnings = append(result.Warnings, Warning{
				RowID:   row.ID,
				Field:   "updated_at",
				Message: "row has no updated_at timestamp",
			})
		}
	}

	return result
}
