package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies ingestion failures so the worker can decide between
// retrying, escalating, or retrying only the watermark compare-and-swap.
type ErrorKind string

const (
	// KindTransport covers network and non-2xx HTTP failures. Retryable.
	KindTransport ErrorKind = "transport"
	// KindRateLimit covers provider throttling (429 or a throttle note in
	// the payload). Retryable with a longer backoff floor.
	KindRateLimit ErrorKind = "rate_limit"
	// KindValidation covers malformed, empty, or inconsistent payloads.
	// Not retryable; retrying does not fix a data-shape problem.
	KindValidation ErrorKind = "validation"
	// KindStorage covers object-store write failures. Retryable.
	KindStorage ErrorKind = "storage"
	// KindWatermarkConflict signals a lost compare-and-swap race. Only the
	// swap is retried, never the whole fetch.
	KindWatermarkConflict ErrorKind = "watermark_conflict"
)

// IngestError wraps a failure with its classification and the operation
// that produced it.
type IngestError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *IngestError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *IngestError) Unwrap() error { return e.Err }

// E builds a classified ingestion error.
func E(kind ErrorKind, op string, err error) *IngestError {
	return &IngestError{Kind: kind, Op: op, Err: err}
}

// Ef builds a classified ingestion error from a format string.
func Ef(kind ErrorKind, op, format string, args ...interface{}) *IngestError {
	return &IngestError{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the classification from err. Unclassified errors are
// treated as transport failures, the safest retryable default.
func KindOf(err error) ErrorKind {
	var ie *IngestError
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return KindTransport
}

// Retryable reports whether the task-level retry policy applies to err.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransport, KindRateLimit, KindStorage:
		return true
	default:
		return false
	}
}
