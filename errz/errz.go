// Package errz defines the errors the script runtime reports to callers.
package errz

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Kind represents the category of an error.
type Kind int

const (
	// Compile indicates a script failed to compile at every optimization
	// level that was attempted.
	Compile Kind = iota
	// Resolution indicates a script could not be located or read.
	Resolution
	// Conversion indicates a value could not cross the host/guest boundary.
	Conversion
	// Chain indicates misuse of the call chain, e.g. inheriting into a
	// context that already has one.
	Chain
	// Execution indicates the script raised an error while running.
	Execution
)

// String returns the string representation of the error kind.
func (k Kind) String() string {
	switch k {
	case Compile:
		return "compile error"
	case Resolution:
		return "resolution error"
	case Conversion:
		return "conversion error"
	case Chain:
		return "call chain error"
	case Execution:
		return "execution error"
	default:
		return "error"
	}
}

// FriendlyError is an interface for errors that have a human friendly message
// in addition to the lower level default error message.
type FriendlyError interface {
	Error() string
	FriendlyErrorMessage() string
}

// FatalError is an interface for errors that may or may not be fatal.
type FatalError interface {
	Error() string
	IsFatal() bool
}

// Error is a script runtime error. It records the script being executed and
// the call chain at the time of failure.
type Error struct {
	Kind    Kind
	Message string
	Script  string
	Chain   []string
	Cause   error

	// Attempts holds one error per failed compile attempt, in order. Only set
	// for Compile errors.
	Attempts *multierror.Error
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind that wraps cause. The message is
// taken from the cause.
func Wrap(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Message: cause.Error(), Cause: cause}
}

// WithScript records the name of the failing script.
func (e *Error) WithScript(name string) *Error {
	e.Script = name
	return e
}

// WithChain records the names of the scripts on the call chain.
func (e *Error) WithChain(chain []string) *Error {
	e.Chain = append([]string(nil), chain...)
	return e
}

// WithCause wraps the error with a cause.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Script == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Script)
}

// Unwrap returns the underlying cause of the error. For compile errors this
// is the error of the final attempt.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsFatal returns whether the error is considered fatal. Conversion errors
// are reported to the caller but leave the engine usable for the value that
// failed, every other kind aborts the execution.
func (e *Error) IsFatal() bool {
	return e.Kind != Conversion
}

// FriendlyErrorMessage returns a multi-line message with the call chain and
// any compile attempts.
func (e *Error) FriendlyErrorMessage() string {
	var msg bytes.Buffer
	msg.WriteString(fmt.Sprintf("%s: %s\n", e.Kind, e.Message))
	if e.Script != "" {
		msg.WriteString(fmt.Sprintf(" | script: %s\n", e.Script))
	}
	if e.Attempts != nil && len(e.Attempts.Errors) > 1 {
		msg.WriteString("\nCompile attempts:\n")
		for i, attempt := range e.Attempts.Errors {
			msg.WriteString(fmt.Sprintf("  %d. %s\n", i+1, attempt))
		}
	}
	if len(e.Chain) > 0 {
		msg.WriteString("\nCall chain:\n")
		for i := len(e.Chain) - 1; i >= 0; i-- {
			msg.WriteString("  at ")
			msg.WriteString(e.Chain[i])
			msg.WriteString("\n")
		}
	}
	return msg.String()
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Is reports whether err contains an *Error of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
