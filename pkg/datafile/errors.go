package datafile

import (
	"errors"
	"fmt"
)

// Standard resolver errors
// ========================
//
// Resolver implementations distinguish a missing key from a malformed one:
// a missing key wraps ErrParamNotFound, a present-but-mistyped value is
// reported as a *ParamTypeError. The construction logic relies on this
// distinction to decide whether a declared default may be substituted.

// ErrParamNotFound indicates a configuration key is absent.
//
// Resolver implementations must wrap this sentinel so callers can test for
// it with errors.Is.
var ErrParamNotFound = errors.New("parameter not found")

// ParamTypeError indicates a configuration value exists but cannot be
// converted to the requested type.
type ParamTypeError struct {
	// Section and Key identify the offending entry.
	Section string
	Key     string

	// Want is the requested type name (int, float, string, bool).
	Want string

	// Value is the raw value found in the configuration.
	Value any
}

func (e *ParamTypeError) Error() string {
	return fmt.Sprintf("parameter %s.%s: cannot use %v as %s", e.Section, e.Key, e.Value, e.Want)
}

// ConfigurationError reports a construction-time validation or resolution
// failure: a required parameter that cannot be resolved, a bad file
// extension, or an empty file bound to a non-writable format.
//
// The error is recoverable for the caller; whether it aborts the process is
// a policy decision left to the top-level orchestrator.
type ConfigurationError struct {
	// Path is the data file the error relates to.
	Path string

	// Section and Key identify the unresolvable parameter, when the error
	// is about parameter resolution. Both empty otherwise.
	Section string
	Key     string

	// Want is the expected type of the parameter, when applicable.
	Want string

	// Default is the declared default, nil when the parameter is mandatory.
	Default any

	// Reason describes validation failures not tied to a single parameter.
	Reason string

	// Err is the underlying resolver error, if any.
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Key != "" {
		msg := fmt.Sprintf("%s: %s must be specified as type %s in the [%s] section", e.Path, e.Key, e.Want, e.Section)
		if e.Default != nil {
			msg += fmt.Sprintf(" (default %v)", e.Default)
		} else {
			msg += " (mandatory)"
		}
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// NotWritableError reports a write attempted through a format whose
// capability record declares it read-only.
type NotWritableError struct {
	Format string
	Path   string
}

func (e *NotWritableError) Error() string {
	return fmt.Sprintf("%s: format %q is not writable", e.Path, e.Format)
}

// BackendIOError wraps an opaque storage failure from a format backend.
type BackendIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *BackendIOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *BackendIOError) Unwrap() error { return e.Err }
