package flushmanager

import "errors"

// --- Error Definitions ---

var (
	// ErrBusy is the retryable class: an update is not yet globally visible,
	// or a page is transiently held elsewhere. Callers retry the whole pass.
	ErrBusy = errors.New("resource busy, retry later")
	// ErrReconcile wraps any failure while building or writing a page image.
	ErrReconcile = errors.New("reconciliation failed")

	ErrBlockNotFound     = errors.New("block not found in block store")
	ErrChecksumMismatch  = errors.New("page image checksum mismatch, data corruption suspected")
	ErrInvalidPageData   = errors.New("invalid page image")
	ErrUnknownCompressor = errors.New("unknown page image compression")
)

// IsRetryable reports whether err belongs to the retryable-busy class.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBusy)
}
