// Package errors provides the pipeline's error taxonomy and retry handling.
// Extraction and load failures are classified into a small set of kinds so callers can
// tell a missing source from an unparseable one, a malformed table shape from bad data,
// and an unwritable destination from an unsupported codec. Transient I/O failures can be
// retried with exponential backoff.
package errors

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Kind represents the classification of a pipeline error
type Kind string

const (
	KindSourceUnavailable Kind = "source_unavailable" // Source missing or unreadable
	KindFormat            Kind = "format_error"       // Content does not parse as the declared format
	KindSchema            Kind = "schema_error"       // Required columns absent or table shape broken
	KindWrite             Kind = "write_error"        // Destination unwritable or codec missing
)

// Sentinels for errors.Is checks. A PipelineError matches the sentinel of its kind.
var (
	ErrSourceUnavailable = &PipelineError{Kind: KindSourceUnavailable}
	ErrFormat            = &PipelineError{Kind: KindFormat}
	ErrSchema            = &PipelineError{Kind: KindSchema}
	ErrWrite             = &PipelineError{Kind: KindWrite}

	// ErrUnsupportedFormat is wrapped by format or write errors when no codec is available.
	ErrUnsupportedFormat = errors.New("unsupported format")
)

// PipelineError is a classified error raised by extraction, validation shape checks or load.
type PipelineError struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

// Error implements the error interface
func (e *PipelineError) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.Path != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Is matches any PipelineError of the same kind.
func (e *PipelineError) Is(target error) bool {
	t, ok := target.(*PipelineError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// SourceUnavailable creates a source_unavailable error.
func SourceUnavailable(op, path string, err error) error {
	return &PipelineError{Kind: KindSourceUnavailable, Op: op, Path: path, Err: err}
}

// Format creates a format_error.
func Format(op, path string, err error) error {
	return &PipelineError{Kind: KindFormat, Op: op, Path: path, Err: err}
}

// Schema creates a schema_error.
func Schema(op, path string, err error) error {
	return &PipelineError{Kind: KindSchema, Op: op, Path: path, Err: err}
}

// Write creates a write_error.
func Write(op, path string, err error) error {
	return &PipelineError{Kind: KindWrite, Op: op, Path: path, Err: err}
}

// KindOf extracts the kind of a classified error, or "" when err is not classified.
func KindOf(err error) Kind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsTransient reports whether an I/O error is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EAGAIN, syscall.EBUSY, syscall.EINTR:
			return true
		}
	}
	return false
}

// RetryPolicy configures retry behavior
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Jitter       bool
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Jitter:       true,
	}
}

// Retry runs fn until it succeeds, fails with a non-transient error, or the policy's
// attempts are exhausted. The last error is returned unchanged.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	if policy.MaxAttempts <= 1 {
		return fn()
	}

	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = policy.InitialDelay
	exponential.MaxInterval = policy.MaxDelay
	exponential.MaxElapsedTime = 0
	if !policy.Jitter {
		exponential.RandomizationFactor = 0
	}

	strategy := backoff.WithContext(
		backoff.WithMaxRetries(exponential, uint64(policy.MaxAttempts-1)),
		ctx,
	)

	var lastErr error
	err := backoff.Retry(func() error {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return backoff.Permanent(lastErr)
		}
		return lastErr
	}, strategy)
	if err != nil && lastErr != nil {
		return lastErr
	}
	return err
}
