package dynexec

import (
	"errors"
	"fmt"

	"github.com/loykin/slotexec/internal/slot"
)

// ExhaustedCode is the diagnostic code carried by every exhaustion error.
const ExhaustedCode = "53400"

var (
	// ErrResourceExhausted matches every *ExhaustedError.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrUsage matches every *UsageError.
	ErrUsage = errors.New("usage error")
	// ErrClosed is returned by Execute after Close.
	ErrClosed = errors.New("facility closed")
	// ErrBackend matches every *BackendError.
	ErrBackend = errors.New("slot table failure")
)

// ExhaustedError reports that no execution slot was free when the statement
// arrived, either because of concurrent callers or because nesting went
// deeper than the number of slots.
type ExhaustedError struct {
	Code      string
	Statement string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all execution slots are busy (code %s): cannot run %q", e.Code, e.Statement)
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrResourceExhausted }

func (e *ExhaustedError) Unwrap() error { return slot.ErrNoFreeSlot }

// UsageError is returned for input rejected before any slot is touched.
type UsageError struct {
	Reason string
}

func (e *UsageError) Error() string { return "usage error: " + e.Reason }

func (e *UsageError) Is(target error) bool { return target == ErrUsage }

// BackendError reports a slot table failure while preparing, acquiring or
// releasing a slot. It never wraps an engine error.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *BackendError) Unwrap() error { return e.Err }

func (e *BackendError) Is(target error) bool { return target == ErrBackend }

// IsExhausted reports whether err is a resource exhaustion error.
func IsExhausted(err error) bool { return errors.Is(err, ErrResourceExhausted) }
