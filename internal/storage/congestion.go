package storage

import (
	"errors"
	"syscall"
)

// IsCongestion reports whether err is the low-level transient congestion
// signal (socket would-block or connection reset). The orchestrator gives
// these an extra pause before the attempt is counted against the retry
// budget.
func IsCongestion(err error) bool {
	return errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.EWOULDBLOCK) ||
		errors.Is(err, syscall.ECONNRESET)
}
