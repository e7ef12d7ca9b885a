package pipeline

import (
	"errors"
	"fmt"
)

// FailureKind enumerates every way the image pipeline can fail. The
// worker matches on the kind at its boundary and turns the failure into
// the task's error message; nothing below the worker decides task state.
type FailureKind string

const (
	FailureInvalidSource          FailureKind = "invalid_source"
	FailureUnsupportedContentType FailureKind = "unsupported_content_type"
	FailureTooLarge               FailureKind = "too_large"
	FailureTimeout                FailureKind = "timeout"
	FailureTransport              FailureKind = "transport_error"
	FailureUpstream               FailureKind = "upstream_error"
	FailureInvalidImage           FailureKind = "invalid_image"
	FailureUnsupportedFormat      FailureKind = "unsupported_format"
	FailureDimensionOutOfRange    FailureKind = "dimension_out_of_range"
	FailureNotFound               FailureKind = "not_found"
	FailureNoVariants             FailureKind = "no_variants"
	FailureUnexpected             FailureKind = "unexpected"
)

// Failure is a pipeline error with a client-safe message. Message never
// carries internal error text; Err holds the underlying cause for logs.
type Failure struct {
	Kind    FailureKind
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func Failuref(kind FailureKind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapFailure(kind FailureKind, err error, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// AsFailure unwraps err into a *Failure if one is in its chain.
func AsFailure(err error) (*Failure, bool) {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure, true
	}
	return nil, false
}
