package analytics

import (
	"errors"
	"fmt"
)

// Sentinel errors of the detection core. Callers are expected to branch with
// errors.Is; none of them abort a live stream.
var (
	// ErrInsufficientData means a window or sample is too small for the
	// requested statistic. Recoverable: treat the result as neutral/pending.
	ErrInsufficientData = errors.New("analytics: insufficient data")

	// ErrNotFitted means detect/classify was called before a successful fit.
	ErrNotFitted = errors.New("analytics: model not fitted")

	// ErrNoReference means drift detection was requested before SetReference.
	ErrNoReference = errors.New("analytics: reference distribution not set")
)

// FitError reports a degenerate or too-small training set. The caller may
// retry with better data; the prior fitted state, if any, is left untouched.
type FitError struct {
	Model  string
	Reason string
}

func (e *FitError) Error() string {
	return fmt.Sprintf("analytics: fit %s: %s", e.Model, e.Reason)
}

// ConfigError reports invalid construction-time configuration. Always fatal
// at construction, never deferred to first use.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("analytics: config %s: %s", e.Field, e.Reason)
}
