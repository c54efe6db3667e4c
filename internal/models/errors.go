package models

import "github.com/pkg/errors"

var (
	ErrValidation = errors.New("validation error")
	ErrAuth       = errors.New("invalid credentials")
	ErrDispatch   = errors.New("mail dispatch failed")
	ErrStorage    = errors.New("storage error")
	ErrNotFound   = errors.New("tracking not found")
)

// KindError tags err with one of the sentinel categories above while keeping
// the original message and cause for logging.
type KindError struct {
	Kind error
	Err  error
}

func (e *KindError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Err.Error()
}

func (e *KindError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func WithKind(kind, err error) error {
	return &KindError{Kind: kind, Err: err}
}
