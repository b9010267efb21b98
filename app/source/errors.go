package source

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrRateLimited         = errors.New("rate limited")
	ErrTimeout             = errors.New("provider timed out")
	ErrNormalization       = errors.New("normalization failed")
)

type ErrorKind string

const (
	KindUnavailable   ErrorKind = "unavailable"
	KindRateLimited   ErrorKind = "rate_limited"
	KindTimeout       ErrorKind = "timeout"
	KindNormalization ErrorKind = "normalization"
)

// Error is the only error type a source returns. It matches the sentinel
// for its kind under errors.Is.
type Error struct {
	Source string
	Kind   ErrorKind
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("source %s: %s", e.Source, e.Kind)
	}
	return fmt.Sprintf("source %s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	switch e.Kind {
	case KindUnavailable:
		return target == ErrProviderUnavailable
	case KindRateLimited:
		return target == ErrRateLimited
	case KindTimeout:
		return target == ErrTimeout
	case KindNormalization:
		return target == ErrNormalization
	}
	return false
}

func newError(source string, kind ErrorKind, err error) *Error {
	return &Error{Source: source, Kind: kind, Err: err}
}

// asSourceError converts any error coming out of a provider call into an
// *Error, treating unknown failures as unavailability.
func asSourceError(source string, err error) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(source, KindTimeout, err)
	}
	return newError(source, KindUnavailable, err)
}
