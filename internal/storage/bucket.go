// Package storage talks to the recordings bucket: existence probes,
// overwrite uploads and signed URL issuance.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const (
	// probeTimeout bounds the metadata-only existence check.
	probeTimeout = 10 * time.Second
	// fetchTimeout bounds the full-body download of a source recording.
	fetchTimeout = 30 * time.Second
	// storeTimeout bounds the object write.
	storeTimeout = 30 * time.Second

	contentType = "audio/mpeg"
)

// ObjectKey derives the deterministic object name for a record key.
func ObjectKey(recordKey string) string {
	return recordKey + ".mp3"
}

// Bucket wraps a GCS client scoped to the recordings bucket.
type Bucket struct {
	client *gcs.Client
	name   string
	httpc  *http.Client
}

// NewBucket creates a Bucket. credentialsFile is optional; when empty,
// Application Default Credentials are used.
func NewBucket(ctx context.Context, name, credentialsFile string) (*Bucket, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &Bucket{
		client: client,
		name:   name,
		httpc:  &http.Client{Timeout: fetchTimeout},
	}, nil
}

// Close releases the underlying client.
func (b *Bucket) Close() error {
	return b.client.Close()
}

// Exists issues a metadata-only probe for the record's object. A definite
// "not found" is (false, nil); any other failure is (false, err) so the
// caller can log it and fall back to the upload path.
func (b *Bucket) Exists(ctx context.Context, recordKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	_, err := b.client.Bucket(b.name).Object(ObjectKey(recordKey)).Attrs(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to probe %s: %w", ObjectKey(recordKey), err)
	}
	return true, nil
}

// SignedURL mints a time-bounded GET URL for an object assumed to exist.
// The expiry is computed locally as now (UTC) + ttl, independent of what
// the backend reports. An empty URL from the backend is an error, never a
// silent nil.
func (b *Bucket) SignedURL(_ context.Context, recordKey string, ttl time.Duration) (string, time.Time, error) {
	expiry := time.Now().UTC().Add(ttl)

	url, err := b.client.Bucket(b.name).SignedURL(ObjectKey(recordKey), &gcs.SignedURLOptions{
		Scheme:  gcs.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: expiry,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign URL for %s: %w", recordKey, err)
	}
	if url == "" {
		return "", time.Time{}, fmt.Errorf("no signed URL returned for %s", recordKey)
	}
	return url, expiry, nil
}

// FetchAndStore downloads the source recording and writes it to the
// record's object with overwrite semantics, then mints a signed URL for
// the stored object. Every step's failure carries the record key.
func (b *Bucket) FetchAndStore(ctx context.Context, recordKey, sourceURL string, ttl time.Duration) (string, time.Time, error) {
	body, err := b.fetch(ctx, sourceURL)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to fetch recording for %s: %w", recordKey, err)
	}

	if err := b.store(ctx, ObjectKey(recordKey), body); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to store recording for %s: %w", recordKey, err)
	}

	url, expiry, err := b.SignedURL(ctx, recordKey, ttl)
	if err != nil {
		return "", time.Time{}, err
	}
	return url, expiry, nil
}

// fetch reads the full body of the source URL. Non-2xx is an error; there
// is no partial-content handling at this layer.
func (b *Bucket) fetch(ctx context.Context, sourceURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := b.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d from source", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	return body, nil
}

// store writes the object. GCS writes replace any existing object under
// the same name, so re-running a key is idempotent.
func (b *Bucket) store(ctx context.Context, objectKey string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	w := b.client.Bucket(b.name).Object(objectKey).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := w.Write(body); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return nil
}
