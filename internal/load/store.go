// Package load persists the enriched call rows into the relational calls
// table with idempotent, batched upserts.
package load

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rumor-ml/callsync/internal/domain"
)

// existingBatchSize bounds the id lists sent to the existence query.
const existingBatchSize = 100

// columns is the table's column set, in insert order. id is the primary
// key and the upsert conflict target.
var columns = []string{
	"id", "assistant_id", "type", "org_id", "campaign_id", "status",
	"ended_reason", "created_at", "started_at", "ended_at", "updated_at",
	"duration", "stereo_recording_url", "transcript", "summary", "cost",
	"customer_json", "assistant_number_json", "analysis_json", "jsonb",
	"signed_url", "signed_url_expiry", "audit_timestamp",
}

// Store upserts call rows into one table over a pgx connection pool.
type Store struct {
	pool      *pgxpool.Pool
	table     string
	batchSize int
}

// NewStore connects the pool and verifies the connection.
func NewStore(ctx context.Context, dsn, table string, batchSize int) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return &Store{pool: pool, table: table, batchSize: batchSize}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Result is the outcome of one load.
type Result struct {
	Success   int
	Failed    int
	AuditTime time.Time
}

// CountExisting reports how many of the rows are already present with the
// same (id, updated_at) pair. Reporting only; the upsert itself stays
// idempotent regardless.
func (s *Store) CountExisting(ctx context.Context, rows []domain.CallRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		if r.ID != "" {
			ids = append(ids, r.ID)
		}
	}

	existing := make(map[string]string, len(ids))
	query := fmt.Sprintf(`SELECT id, updated_at FROM %s WHERE id = ANY($1)`, s.table)

	for start := 0; start < len(ids); start += existingBatchSize {
		end := start + existingBatchSize
		if end > len(ids) {
			end = len(ids)
		}

		rs, err := s.pool.Query(ctx, query, ids[start:end])
		if err != nil {
			return 0, fmt.Errorf("failed to query existing records: %w", err)
		}
		for rs.Next() {
			var id string
			var updatedAt *string
			if err := rs.Scan(&id, &updatedAt); err != nil {
				rs.Close()
				return 0, fmt.Errorf("failed to scan existing record: %w", err)
			}
			if updatedAt != nil {
				existing[id] = *updatedAt
			} else {
				existing[id] = ""
			}
		}
		if err := rs.Err(); err != nil {
			rs.Close()
			return 0, fmt.Errorf("failed to iterate existing records: %w", err)
		}
		rs.Close()
	}

	count := 0
	for _, r := range rows {
		if updatedAt, ok := existing[r.ID]; ok && updatedAt == r.UpdatedAt {
			count++
		}
	}
	return count, nil
}

// UpsertCalls writes the rows in batches with ON CONFLICT (id) DO UPDATE,
// stamping every row with the same run audit timestamp. Per-batch success
// counts are accumulated; a failed batch marks its rows failed and the
// load continues.
func (s *Store) UpsertCalls(ctx context.Context, rows []domain.CallRow) (Result, error) {
	if len(rows) == 0 {
		return Result{}, nil
	}

	audit := time.Now().UTC()
	result := Result{AuditTime: audit}
	sql := upsertSQL(s.table)

	for start := 0; start < len(rows); start += s.batchSize {
		end := start + s.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		batch := &pgx.Batch{}
		for i := range chunk {
			batch.Queue(sql, rowArgs(&chunk[i], audit)...)
		}

		br := s.pool.SendBatch(ctx, batch)
		batchSuccess := 0
		var batchErr error
		for range chunk {
			if _, err := br.Exec(); err != nil {
				if batchErr == nil {
					batchErr = err
				}
				continue
			}
			batchSuccess++
		}
		if err := br.Close(); err != nil && batchErr == nil {
			batchErr = err
		}

		result.Success += batchSuccess
		result.Failed += len(chunk) - batchSuccess
		if batchErr != nil {
			log.Printf("ERROR: batch %d-%d: %d row(s) failed: %v", start, end, len(chunk)-batchSuccess, batchErr)
		}
	}

	return result, nil
}

// upsertSQL builds the idempotent insert for the table.
func upsertSQL(table string) string {
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	updates := make([]string, 0, len(columns)-1)
	for _, col := range columns[1:] {
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s",
		table,
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(updates, ", "),
	)
}

// rowArgs maps one row onto the column order, converting absent values
// to SQL NULL.
func rowArgs(r *domain.CallRow, audit time.Time) []any {
	var expiry any
	if !r.SignedURLExpiry.IsZero() {
		expiry = r.SignedURLExpiry.UTC()
	}

	return []any{
		r.ID,
		nullable(r.AssistantID),
		nullable(r.Type),
		nullable(r.OrgID),
		nullable(r.CampaignID),
		nullable(r.Status),
		nullable(r.EndedReason),
		nullable(r.CreatedAt),
		nullable(r.StartedAt),
		nullable(r.EndedAt),
		nullable(r.UpdatedAt),
		r.Duration,
		nullable(r.RecordingURL),
		nullable(r.Transcript),
		nullable(r.Summary),
		r.Cost,
		rawOrNil(r.CustomerJSON),
		rawOrNil(r.AssistantNumberJSON),
		rawOrNil(r.AnalysisJSON),
		rawOrNil(r.Raw),
		nullable(r.SignedURL),
		expiry,
		audit,
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func rawOrNil(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
