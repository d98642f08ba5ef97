package models

import "errors"

// Sentinel errors shared by the signage components. Callers wrap them with
// context and test with errors.Is.
var (
	// ErrNetworkUnavailable indicates the device has no usable local address.
	ErrNetworkUnavailable = errors.New("network unavailable")

	// ErrServerUnreachable indicates the schedule or download request failed.
	ErrServerUnreachable = errors.New("server unreachable")

	// ErrParse indicates a malformed schedule document, clock time or timestamp.
	ErrParse = errors.New("parse error")

	// ErrStorageExhausted indicates the storage probe reported no usable space.
	ErrStorageExhausted = errors.New("storage exhausted")

	// ErrFileNotFound indicates a playback target is missing on disk.
	ErrFileNotFound = errors.New("media file not found")

	// ErrIO indicates the schedule cache could not be read or written.
	ErrIO = errors.New("cache i/o error")
)

// IsRetryable reports whether err is a transient condition the poll loop
// recovers from by simply trying again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetworkUnavailable) || errors.Is(err, ErrServerUnreachable)
}
