// Package anaerr classifies the failures of the cmsana tools.
package anaerr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrExecution    = errors.New("execution failed")
	ErrMismatch     = errors.New("mismatch")
)

type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindInvalidInput Kind = "invalid_input"
	KindExecution    Kind = "execution"
	KindMismatch     Kind = "mismatch"
)

// OpError wraps an underlying error with the operation and, when relevant, the file it concerns.
type OpError struct {
	Op   string
	Kind Kind
	Path string
	Err  error
}

func (e *OpError) Error() string {
	if e == nil {
		return "<nil>"
	}

	base := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Path != "" {
		base += fmt.Sprintf(" (path=%s)", e.Path)
	}
	if e.Err != nil {
		base += fmt.Sprintf(": %v", e.Err)
	}
	return base
}

func (e *OpError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is lets errors.Is match the sentinel belonging to the error kind.
func (e *OpError) Is(target error) bool {
	if e == nil {
		return false
	}
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrInvalidInput:
		return e.Kind == KindInvalidInput
	case ErrExecution:
		return e.Kind == KindExecution
	case ErrMismatch:
		return e.Kind == KindMismatch
	}
	return false
}

func IsKind(err error, kind Kind) bool {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Kind == kind
	}
	return false
}

func NotFound(op, path string, err error) error {
	if err == nil {
		err = ErrNotFound
	}
	return &OpError{Op: op, Kind: KindNotFound, Path: path, Err: err}
}

func Invalid(op, path string, format string, args ...any) error {
	return &OpError{Op: op, Kind: KindInvalidInput, Path: path, Err: fmt.Errorf(format, args...)}
}

// ExitError reports a subprocess that ran but returned a non-zero status.
type ExitError struct {
	Command  string
	ExitCode int
	Output   string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%q exited with status %d", e.Command, e.ExitCode)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

func Execution(op string, err error) error {
	return &OpError{Op: op, Kind: KindExecution, Err: err}
}
