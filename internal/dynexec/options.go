package dynexec

import (
	"log/slog"
	"time"

	"github.com/loykin/slotexec/internal/history"
)

// Option configures a Facility.
type Option func(*Facility)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(f *Facility) {
		if l != nil {
			f.log = l
		}
	}
}

// WithTimeout bounds every statement with d. Zero disables the bound, in
// which case a statement that never returns keeps its slot busy forever.
func WithTimeout(d time.Duration) Option {
	return func(f *Facility) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithHistory adds sinks that receive one event per call.
func WithHistory(sinks ...history.Sink) Option {
	return func(f *Facility) {
		for _, s := range sinks {
			if s != nil {
				f.sinks = append(f.sinks, s)
			}
		}
	}
}

// WithReleaseTimeout bounds the slot release issued after each statement.
func WithReleaseTimeout(d time.Duration) Option {
	return func(f *Facility) {
		if d > 0 {
			f.releaseTimeout = d
		}
	}
}
