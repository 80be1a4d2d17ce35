// refreshurl re-mints a signed URL for a recording already in the bucket,
// without re-uploading.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rumor-ml/callsync/internal/config"
	"github.com/rumor-ml/callsync/internal/storage"
	"github.com/rumor-ml/callsync/internal/ui"
)

var (
	configFile = flag.String("config", "", "Config YAML file (defaults apply when omitted)")
	recordKey  = flag.String("key", "", "Record key of the uploaded recording (required)")
	hours      = flag.Int("hours", 24, "Signed URL lifetime in hours")
)

func main() {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, `refreshurl - Mint a fresh signed URL for an uploaded recording

Usage:
  refreshurl -key <record-key> [-hours N]

Flags:
`)
		flag.PrintDefaults()
		fmt.Fprint(os.Stderr, `
Examples:
  # Refresh with the default 24 hour lifetime
  refreshurl -key 0077e1b9-7f06-44a2-bb21-20ee06b2c2c0

  # One week lifetime
  refreshurl -key 0077e1b9-7f06-44a2-bb21-20ee06b2c2c0 -hours 168

`)
	}

	flag.Parse()

	if *recordKey == "" {
		fmt.Fprintf(os.Stderr, "Error: -key flag is required\n\n")
		flag.Usage()
		os.Exit(1)
	}
	if *hours < 1 {
		fmt.Fprintf(os.Stderr, "Error: -hours must be >= 1\n")
		os.Exit(1)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.Load(*configFile)
	if err != nil {
		return err
	}

	bucket, err := storage.NewBucket(ctx, cfg.Storage.Bucket, cfg.Storage.CredentialsFile)
	if err != nil {
		return fmt.Errorf("failed to open bucket %s: %w", cfg.Storage.Bucket, err)
	}
	defer bucket.Close()

	exists, err := bucket.Exists(ctx, *recordKey)
	if err != nil {
		return fmt.Errorf("failed to check recording for %s: %w", *recordKey, err)
	}
	if !exists {
		return fmt.Errorf("no uploaded recording found for %s", *recordKey)
	}

	url, expiry, err := bucket.SignedURL(ctx, *recordKey, time.Duration(*hours)*time.Hour)
	if err != nil {
		return fmt.Errorf("failed to refresh signed URL for %s: %w", *recordKey, err)
	}

	ui.Success(fmt.Sprintf("Refreshed signed URL for %s", *recordKey))
	fmt.Printf("Signed URL: %s\n", url)
	fmt.Printf("Expires at: %s\n", expiry.Format(time.RFC3339))
	return nil
}
