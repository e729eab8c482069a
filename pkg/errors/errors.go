// Package errors provides error wrapping utilities for context-aware error messages
// and the typed error taxonomy used by every pipeline stage.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Wrap wraps an error with additional context information.
// If err is nil, it returns nil without wrapping.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Kind classifies a pipeline failure.
type Kind string

const (
	KindConfiguration      Kind = "configuration_error"
	KindValidation         Kind = "validation_error"
	KindCompression        Kind = "compression_error"
	KindUpload             Kind = "upload_error"
	KindTransform          Kind = "transform_error"
	KindAggregateTransform Kind = "aggregate_transform_error"
	KindFilesystem         Kind = "filesystem_error"
	KindUnknown            Kind = "unknown_error"
)

// Error is a classified error. Message is user-facing; Err, when set, is the
// underlying cause and is appended to Error(). With no Message, Error() is
// the cause's text.
type Error struct {
	Kind    Kind
	Message string
	Err     error
	Context map[string]any
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Message == "":
		return e.Err.Error()
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithContext attaches a diagnostic key/value pair to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// New creates a classified error without a cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf is New with fmt formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapKind classifies err under kind with an additional message.
// If err is nil, it returns nil.
func WrapKind(err error, kind Kind, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// Classify returns err unchanged when it already carries a kind, otherwise
// it tags it with kind keeping the original message.
func Classify(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return err
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf reports the kind of the outermost classified error in err's chain,
// or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
