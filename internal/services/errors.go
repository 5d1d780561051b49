package services

import (
	"errors"
	"fmt"
)

var (
	// ErrTaskNotFound is returned for an unknown task id.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskNotCompleted is returned by Result for tasks that are not COMPLETED.
	ErrTaskNotCompleted = errors.New("task not completed")
	// ErrPageNotReady is returned when page images are requested before conversion finished.
	ErrPageNotReady = errors.New("pages not yet converted")
	// ErrPageOutOfRange is returned for a page index outside 1..total_pages.
	ErrPageOutOfRange = errors.New("page out of range")
	// ErrUnsupportedFormat is returned for documents that are neither PDF nor PPTX.
	ErrUnsupportedFormat = errors.New("unsupported document format")
	// ErrInvalidMode is returned for an unknown extraction mode.
	ErrInvalidMode = errors.New("invalid extraction mode")
	// ErrTaskCancelled is recorded when a task is cancelled before it finished.
	ErrTaskCancelled = errors.New("task cancelled")
)

// ConversionError means the source document is unreadable, corrupt, or the
// rendered image count does not match its declared page count.
type ConversionError struct {
	Message string
	Err     error
}

func (e *ConversionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("conversion failed: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("conversion failed: %s", e.Message)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// ConversionToolError means the external converter could not run or exited non-zero.
type ConversionToolError struct {
	Tool     string
	ExitCode int
	Output   string
	Err      error
}

func (e *ConversionToolError) Error() string {
	msg := fmt.Sprintf("conversion tool %s failed", e.Tool)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit %d)", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

func (e *ConversionToolError) Unwrap() error { return e.Err }

// FailureClass tells the analyzer whether an extraction failure is worth retrying.
type FailureClass string

const (
	FailureTransient   FailureClass = "transient"
	FailureRateLimited FailureClass = "rate_limited"
	FailurePermanent   FailureClass = "permanent"
)

// ExtractionServiceError is a classified failure from the extraction service.
type ExtractionServiceError struct {
	Class FailureClass
	Err   error
}

func (e *ExtractionServiceError) Error() string {
	return fmt.Sprintf("extraction service %s error: %v", e.Class, e.Err)
}

func (e *ExtractionServiceError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable extraction failure.
func Transient(err error) error {
	return &ExtractionServiceError{Class: FailureTransient, Err: err}
}

// RateLimited wraps err as a rate-limit signal from the extraction service.
func RateLimited(err error) error {
	return &ExtractionServiceError{Class: FailureRateLimited, Err: err}
}

// Permanent wraps err as a non-retryable extraction failure.
func Permanent(err error) error {
	return &ExtractionServiceError{Class: FailurePermanent, Err: err}
}

// ClassOf returns the failure class of err. Unclassified errors are transient.
func ClassOf(err error) FailureClass {
	var serr *ExtractionServiceError
	if errors.As(err, &serr) {
		return serr.Class
	}
	return FailureTransient
}

// SchedulingInvariantError signals a scheduler defect: a page slot was left
// empty or filled twice.
type SchedulingInvariantError struct {
	TaskID string
	Detail string
}

func (e *SchedulingInvariantError) Error() string {
	return fmt.Sprintf("scheduling invariant violated for task %s: %s", e.TaskID, e.Detail)
}
