package pipeline

import (
	"errors"
	"strings"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrCorruptInput      = errors.New("corrupt input")
	ErrDimensionTooLarge = errors.New("dimension too large")
	ErrInvalidParameters = errors.New("invalid parameters")
	ErrEncodeFailure     = errors.New("encode failure")
)

// ErrorKind is the wire tag of a pipeline failure.
type ErrorKind string

const (
	KindUnsupportedFormat ErrorKind = "unsupported_format"
	KindCorruptInput      ErrorKind = "corrupt_input"
	KindDimensionTooLarge ErrorKind = "dimension_too_large"
	KindInvalidParameters ErrorKind = "invalid_parameters"
	KindEncodeFailure     ErrorKind = "encode_failure"
)

// Error is the terminal failure of one pipeline call. It never carries pixel data.
type Error struct {
	Kind   ErrorKind
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Detail
}

func (e *Error) Is(target error) bool {
	return sentinelFor(e.Kind) == target
}

// AsError classifies err into an *Error. Errors that wrap none of the
// package sentinels are reported as encode failures.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}

	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}

	kind := KindEncodeFailure
	switch {
	case errors.Is(err, ErrUnsupportedFormat):
		kind = KindUnsupportedFormat
	case errors.Is(err, ErrCorruptInput):
		kind = KindCorruptInput
	case errors.Is(err, ErrDimensionTooLarge):
		kind = KindDimensionTooLarge
	case errors.Is(err, ErrInvalidParameters):
		kind = KindInvalidParameters
	}

	return &Error{Kind: kind, Detail: detailOf(err, sentinelFor(kind))}
}

func sentinelFor(kind ErrorKind) error {
	switch kind {
	case KindUnsupportedFormat:
		return ErrUnsupportedFormat
	case KindCorruptInput:
		return ErrCorruptInput
	case KindDimensionTooLarge:
		return ErrDimensionTooLarge
	case KindInvalidParameters:
		return ErrInvalidParameters
	case KindEncodeFailure:
		return ErrEncodeFailure
	default:
		return nil
	}
}

// detailOf strips the leading "<sentinel>: " produced by fmt.Errorf("%w: ...").
func detailOf(err, sentinel error) string {
	msg := err.Error()
	if sentinel == nil {
		return msg
	}
	if trimmed, ok := strings.CutPrefix(msg, sentinel.Error()+": "); ok {
		return trimmed
	}
	return msg
}
