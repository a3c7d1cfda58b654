package tun

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an Error.
type Kind int

const (
	// KindIO is a failed system call or kernel control request.
	KindIO Kind = iota + 1

	// KindInvalidParam is a configuration value rejected before it
	// reached the kernel.
	KindInvalidParam
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindInvalidParam:
		return "invalid parameter"
	}
	return fmt.Sprintf("%%!(Kind=%d)", int(k))
}

// Error is the error type returned by this package. The underlying errno,
// if any, stays reachable through errors.Is.
type Error struct {
	Kind Kind
	Op   string // operation or control request, e.g. "TUNSETIFF"
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return "tun: " + e.Err.Error()
	}
	return "tun: " + e.Op + ": " + e.Err.Error()
}

// Cause implements the causer interface of github.com/pkg/errors.
func (e *Error) Cause() error { return e.Err }

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

func ioError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindIO, Op: op, Err: err}
}

func paramError(op, format string, a ...interface{}) error {
	return &Error{Kind: KindInvalidParam, Op: op, Err: errors.Errorf(format, a...)}
}

// IsIO reports whether err is a failed system call or control request.
func IsIO(err error) bool {
	return kindOf(err) == KindIO
}

// IsInvalidParam reports whether err is a rejected configuration value.
func IsInvalidParam(err error) bool {
	return kindOf(err) == KindInvalidParam
}

func kindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
