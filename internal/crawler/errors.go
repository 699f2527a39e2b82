package crawler

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnusable marks an extraction that finished without a product name or price.
var ErrUnusable = errors.New("record has neither product name nor price")

// Failure wraps an error with its retry classification.
type Failure struct {
	Kind ResultKind
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return string(f.Kind) + " failure"
	}
	return fmt.Sprintf("%s failure: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Transient marks err as retryable. Nil stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &Failure{Kind: ResultTransient, Err: err}
}

// Fatal marks err as a failure that retrying cannot fix. Nil stays nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &Failure{Kind: ResultFatal, Err: err}
}

// IsFatal reports whether err carries a fatal classification.
func IsFatal(err error) bool {
	var f *Failure
	return errors.As(err, &f) && f.Kind == ResultFatal
}

// IsCanceled reports whether err stems from context cancellation.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// Classify maps an attempt error to a result kind. Unclassified errors are
// treated as transient.
func Classify(err error) ResultKind {
	switch {
	case err == nil:
		return ResultSuccess
	case IsFatal(err):
		return ResultFatal
	default:
		return ResultTransient
	}
}
