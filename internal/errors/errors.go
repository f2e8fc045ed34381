// Package errors defines the normalized error classes shared by episim
// packages. Every class carries an RFC code so callers can classify a failure
// no matter how many layers wrapped it.
package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/pingcap/errors"
)

var (
	// ErrConfiguration is raised before any cycle runs: a rate outside [0,1],
	// a non-positive period or size, a duplicate ID, a malformed config file.
	ErrConfiguration = errors.Normalize(
		"invalid configuration: %s",
		errors.RFCCodeText("EPISIM:ErrConfiguration"),
	)

	// ErrRuntimeFailure is raised when a listener hook fails inside a cycle.
	ErrRuntimeFailure = errors.Normalize(
		"listener failed during cycle %d (%s)",
		errors.RFCCodeText("EPISIM:ErrRuntimeFailure"),
	)

	// ErrState is raised when an operation is called in the wrong lifecycle
	// state, such as exporting statistics before the run was sealed.
	ErrState = errors.Normalize(
		"invalid state: %s",
		errors.RFCCodeText("EPISIM:ErrState"),
	)

	// ErrScenarioFailed wraps any failure with the owning scenario's identity.
	ErrScenarioFailed = errors.Normalize(
		"scenario %s failed at %s",
		errors.RFCCodeText("EPISIM:ErrScenarioFailed"),
	)

	// ErrStore is raised by the results store.
	ErrStore = errors.Normalize(
		"results store: %s",
		errors.RFCCodeText("EPISIM:ErrStore"),
	)
)

// WrapError attaches cause to an error class. It returns nil for a nil cause.
func WrapError(rfcError *errors.Error, cause error, args ...interface{}) error {
	if cause == nil {
		return nil
	}
	return rfcError.Wrap(cause).GenWithStackByCause(args...)
}

// Coder is implemented by errors that carry an RFC code. *errors.Error is
// one; domain error types can opt in to classification by implementing it.
type Coder interface {
	RFCCode() errors.RFCErrorCode
}

// Is reports whether any error in err's tree belongs to class. The standard
// Unwrap chains (including joined errors) and pingcap Cause chains are both
// followed.
func Is(err error, class *errors.Error) bool {
	code := class.RFCCode()
	return walk(err, 0, func(c Coder) bool { return c.RFCCode() == code })
}

// RFCCode returns the RFC code of the first classified error in err's tree.
func RFCCode(err error) (errors.RFCErrorCode, bool) {
	var code errors.RFCErrorCode
	ok := walk(err, 0, func(c Coder) bool {
		code = c.RFCCode()
		return true
	})
	return code, ok
}

// walk visits err's tree depth first until visit returns true.
func walk(err error, depth int, visit func(Coder) bool) bool {
	for ; err != nil && depth < 64; depth++ {
		if c, ok := err.(Coder); ok && visit(c) {
			return true
		}
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, e := range joined.Unwrap() {
				if walk(e, depth+1, visit) {
					return true
				}
			}
			return false
		}
		next := stderrors.Unwrap(err)
		if next == nil {
			if c, ok := err.(interface{ Cause() error }); ok {
				next = c.Cause()
			}
		}
		if next == err {
			break
		}
		err = next
	}
	return false
}

// Configf is shorthand for a configuration error with a formatted reason.
func Configf(format string, args ...interface{}) error {
	return ErrConfiguration.GenWithStackByArgs(fmt.Sprintf(format, args...))
}
