package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a processing failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidRequest
	KindConflict
	KindAcquisition
	KindConversion
	KindNormalization
	KindDerivation
	KindMerge
)

func (k Kind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid request"
	case KindConflict:
		return "conflict"
	case KindAcquisition:
		return "acquisition"
	case KindConversion:
		return "conversion"
	case KindNormalization:
		return "normalization"
	case KindDerivation:
		return "derivation"
	case KindMerge:
		return "merge"
	default:
		return "unknown"
	}
}

// ErrConflict reports that a request with the same identity key is already
// running or has already produced its output.
var ErrConflict = errors.New("already in progress or already exists")

// Error is a failure tagged with the pipeline stage that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap tags err with kind. An error that already carries a kind keeps it and
// only gains op as context. Wrap(kind, op, nil) returns nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a tagged error from a format string.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// ConflictError reports a duplicate identity key.
func ConflictError(key string) error {
	return &Error{Kind: KindConflict, Op: key, Err: ErrConflict}
}

// KindOf returns the kind of the outermost tagged error in err's chain.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// IsRetriable reports whether another attempt could succeed without a
// different input.
func IsRetriable(err error) bool {
	switch KindOf(err) {
	case KindConflict, KindInvalidRequest:
		return false
	}
	return true
}
