// Package uploader drives the parallel recording upload stage: for each
// input row it decides among skip, reuse-existing and upload-new, retries
// failures with linear backoff, and folds every row into a terminal
// disposition and an aggregate summary.
package uploader

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/rumor-ml/callsync/internal/domain"
	"github.com/rumor-ml/callsync/internal/storage"
)

const (
	// maxJitter is the upper bound of the random jitter added to every
	// backoff sleep. Jitter desynchronizes workers retrying at the same
	// moment so the remote service is not hit in lockstep.
	maxJitter = 2 * time.Second

	// congestionPause is the extra sleep granted when a failure is the
	// low-level congestion signal. The attempt still counts against the
	// retry budget.
	congestionPause = 3 * time.Second
)

// Store is the bucket capability the orchestrator fans out to. Satisfied
// by *storage.Bucket; faked in tests.
type Store interface {
	// Exists probes for the record's object without transferring data.
	Exists(ctx context.Context, recordKey string) (bool, error)
	// SignedURL mints a time-bounded URL for an object known to exist.
	SignedURL(ctx context.Context, recordKey string, ttl time.Duration) (string, time.Time, error)
	// FetchAndStore downloads the source URL, stores it under the
	// record's object with overwrite semantics and signs the result.
	FetchAndStore(ctx context.Context, recordKey, sourceURL string, ttl time.Duration) (string, time.Time, error)
}

// Config is the static configuration of one upload run.
type Config struct {
	MaxRetries   int
	BackoffBase  time.Duration
	MaxWorkers   int
	SignedURLTTL time.Duration
}

// Result aggregates one run: per-row outcomes in submission order, the
// disposition summary, and the rows destined for the failed-record spool.
type Result struct {
	Outcomes []domain.Outcome
	Summary  domain.Summary
	Failed   []domain.Row
}

// Uploader is the upload orchestrator. Create one per run with New.
type Uploader struct {
	store Store
	cfg   Config
	cache *keyCache

	// Injection points for deterministic tests.
	sleep  func(time.Duration)
	jitter func(max time.Duration) time.Duration
}

// New creates an Uploader over the given store.
func New(store Store, cfg Config) *Uploader {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 1
	}
	return &Uploader{
		store:  store,
		cfg:    cfg,
		cache:  newKeyCache(),
		sleep:  time.Sleep,
		jitter: randomJitter,
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

// Run processes every row across a bounded worker pool and returns once
// all rows reached a terminal disposition. Rows are independent; no
// per-row failure ever escapes this method. An empty input yields an
// empty-but-valid result.
func (u *Uploader) Run(ctx context.Context, rows []domain.Row) *Result {
	outcomes := make([]domain.Outcome, len(rows))

	if len(rows) > 0 {
		log.Printf("processing %d recordings with %d workers", len(rows), u.cfg.MaxWorkers)

		type task struct {
			idx int
			row domain.Row
		}
		tasks := make(chan task)

		workers := u.cfg.MaxWorkers
		if workers > len(rows) {
			workers = len(rows)
		}

		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for t := range tasks {
					outcomes[t.idx] = u.processRow(ctx, t.row)
				}
			}()
		}

		for i, row := range rows {
			tasks <- task{idx: i, row: row}
		}
		close(tasks)
		wg.Wait()
	}

	result := &Result{
		Outcomes: outcomes,
		Summary:  domain.Summarize(outcomes),
	}
	for i, o := range outcomes {
		if o.Disposition == domain.DispositionFailed {
			result.Failed = append(result.Failed, rows[i])
		}
	}
	return result
}

// processRow resolves one row to its terminal disposition.
func (u *Uploader) processRow(ctx context.Context, row domain.Row) domain.Outcome {
	if row.SourceAudioURL == "" {
		log.Printf("[skip] no source URL for %s", row.RecordKey)
		return domain.Outcome{RecordKey: row.RecordKey, Disposition: domain.DispositionSkippedNoURL}
	}

	if u.exists(ctx, row.RecordKey) {
		url, expiry, err := u.store.SignedURL(ctx, row.RecordKey, u.cfg.SignedURLTTL)
		if err != nil {
			log.Printf("ERROR: could not generate signed URL for %s: %v", row.RecordKey, err)
			return domain.Outcome{RecordKey: row.RecordKey, Disposition: domain.DispositionFailed}
		}
		return domain.Outcome{
			RecordKey:       row.RecordKey,
			SignedURL:       url,
			SignedURLExpiry: expiry,
			Disposition:     domain.DispositionSignedURLGenerated,
		}
	}

	return u.uploadWithRetry(ctx, row)
}

// exists wraps the store probe with the run-scoped cache. A probe error is
// logged and conservatively treated as "does not exist", which routes the
// row into the upload path.
func (u *Uploader) exists(ctx context.Context, recordKey string) bool {
	if u.cache.Has(recordKey) {
		return true
	}

	ok, err := u.store.Exists(ctx, recordKey)
	if err != nil {
		log.Printf("WARNING: could not verify existence for %s: %v", recordKey, err)
		return false
	}
	if ok {
		u.cache.Add(recordKey)
	}
	return ok
}

// uploadWithRetry attempts the fetch-and-store up to MaxRetries times with
// linear backoff plus jitter between attempts. Congestion failures get an
// extra pause but still consume an attempt.
func (u *Uploader) uploadWithRetry(ctx context.Context, row domain.Row) domain.Outcome {
	var lastErr error
	for attempt := 1; attempt <= u.cfg.MaxRetries; attempt++ {
		url, expiry, err := u.store.FetchAndStore(ctx, row.RecordKey, row.SourceAudioURL, u.cfg.SignedURLTTL)
		if err == nil {
			log.Printf("uploaded %s", row.RecordKey)
			return domain.Outcome{
				RecordKey:       row.RecordKey,
				SignedURL:       url,
				SignedURLExpiry: expiry,
				Disposition:     domain.DispositionUploaded,
			}
		}
		lastErr = err

		if storage.IsCongestion(err) {
			log.Printf("[congestion] temporary network congestion for %s, pausing", row.RecordKey)
			u.sleep(congestionPause + u.jitter(maxJitter))
		}

		if attempt < u.cfg.MaxRetries {
			wait := time.Duration(attempt)*u.cfg.BackoffBase + u.jitter(maxJitter)
			log.Printf("[retry] %s attempt %d/%d failed, retrying in %.1fs: %v",
				row.RecordKey, attempt, u.cfg.MaxRetries, wait.Seconds(), err)
			u.sleep(wait)
		}
	}

	log.Printf("ERROR: %s: all %d attempts exhausted: %v", row.RecordKey, u.cfg.MaxRetries, lastErr)
	return domain.Outcome{RecordKey: row.RecordKey, Disposition: domain.DispositionFailed}
}
