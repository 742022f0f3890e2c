// Package apperr defines the error taxonomy shared by the ingestion pipeline,
// the analysis orchestrator and the credit ledger. Every failure that crosses a
// component boundary is an *Error carrying a Kind, so the HTTP layer can map it
// to a status code without string matching.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindSizeExceeded        Kind = "size_exceeded"
	KindInvalidRange        Kind = "invalid_range"
	KindNotFound            Kind = "not_found"
	KindConflict            Kind = "conflict"
	KindFileMissing         Kind = "file_missing"
	KindDecode              Kind = "decode"
	KindTranscode           Kind = "transcode"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindRemoteAuth          Kind = "remote_auth"
	KindRemoteQuota         Kind = "remote_quota"
	KindRemoteUnavailable   Kind = "remote_unavailable"
	KindRemoteUnknown       Kind = "remote_unknown"
	KindProcessingTimeout   Kind = "processing_timeout"
	KindMalformedResult     Kind = "malformed_result"
	KindStorage             Kind = "storage"
	KindInternal            Kind = "internal"
)

// Sentinels for errors.Is. Matching is by Kind only.
var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrSizeExceeded        = &Error{Kind: KindSizeExceeded}
	ErrInvalidRange        = &Error{Kind: KindInvalidRange}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrConflict            = &Error{Kind: KindConflict}
	ErrFileMissing         = &Error{Kind: KindFileMissing}
	ErrDecode              = &Error{Kind: KindDecode}
	ErrTranscode           = &Error{Kind: KindTranscode}
	ErrInsufficientBalance = &Error{Kind: KindInsufficientBalance}
	ErrRemoteAuth          = &Error{Kind: KindRemoteAuth}
	ErrRemoteQuota         = &Error{Kind: KindRemoteQuota}
	ErrRemoteUnavailable   = &Error{Kind: KindRemoteUnavailable}
	ErrRemoteUnknown       = &Error{Kind: KindRemoteUnknown}
	ErrProcessingTimeout   = &Error{Kind: KindProcessingTimeout}
	ErrMalformedResult     = &Error{Kind: KindMalformedResult}
	ErrStorage             = &Error{Kind: KindStorage}
)

// Error is the concrete error type for every classified failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
	// Details carries structured data safe to return to the caller, such as
	// the balance and required amount of an insufficient-balance failure.
	Details map[string]any
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New returns an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap returns an *Error of the given kind wrapping err.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithDetails attaches caller-visible details and returns e.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// IsRemote reports whether kind is one of the remote transport kinds.
func IsRemote(kind Kind) bool {
	switch kind {
	case KindRemoteAuth, KindRemoteQuota, KindRemoteUnavailable, KindRemoteUnknown:
		return true
	}
	return false
}

// UserMessage returns the caller-facing message for a kind. Remote transport
// kinds each get a distinct message; other kinds fall back to the error text.
func UserMessage(err error) string {
	switch KindOf(err) {
	case KindRemoteAuth:
		return "The analysis service rejected our credentials. Please contact support."
	case KindRemoteQuota:
		return "The analysis service is over its quota. Please try again later."
	case KindRemoteUnavailable:
		return "The analysis model is currently unavailable. Please try again later."
	case KindRemoteUnknown:
		return "The analysis service failed unexpectedly."
	case KindProcessingTimeout:
		return "The analysis service did not finish processing the video in time."
	case KindMalformedResult:
		return "The analysis service returned an unreadable result."
	}
	var ae *Error
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	return err.Error()
}
