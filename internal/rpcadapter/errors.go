package rpcadapter

import (
	"errors"
	"fmt"
)

// Class is the error taxonomy spec §4.3/§7 requires adapters to
// distinguish.
type Class int

const (
	// ClassFatal surfaces immediately; no retry.
	ClassFatal Class = iota
	// ClassArchiveNodeNeeded is returned verbatim for propagation: the
	// caller must re-route to an archive node or give up on that range.
	ClassArchiveNodeNeeded
	// ClassNetworkChanged retries immediately after a short delay.
	ClassNetworkChanged
	// ClassRateLimited retries after exponential backoff.
	ClassRateLimited
	// ClassTransient covers generic timeouts/connection resets: retried
	// with backoff under the gate, same as ClassRateLimited.
	ClassTransient
)

func (c Class) String() string {
	switch c {
	case ClassFatal:
		return "fatal"
	case ClassArchiveNodeNeeded:
		return "archive-node-needed"
	case ClassNetworkChanged:
		return "network-changed"
	case ClassRateLimited:
		return "rate-limited"
	case ClassTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// ClassifiedError wraps an underlying transport error with its taxonomy
// class, so the gate (internal/rpcgate) can decide whether to retry.
type ClassifiedError struct {
	Class Class
	Err   error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// Classify wraps err with class, unless it is already a ClassifiedError.
func Classify(class Class, err error) error {
	if err == nil {
		return nil
	}
	var existing *ClassifiedError
	if errors.As(err, &existing) {
		return err
	}
	return &ClassifiedError{Class: class, Err: err}
}

// ClassOf extracts the Class of err, defaulting to ClassFatal when err was
// never classified (a programmer error in an adapter hook).
func ClassOf(err error) Class {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	return ClassFatal
}

// ErrMissingBatchResult is a fail-fast ProgrammerError (spec §4.6.1 step 4):
// a batch response that doesn't contain a result for every queued item is
// never tolerated silently.
var ErrMissingBatchResult = errors.New("rpcadapter: missing result for batch item")
