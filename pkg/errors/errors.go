package errors

import (
	"errors"
	"fmt"
)

// Kind classifies runtime failures.
type Kind string

const (
	// KindInvalidResponse marks an upstream reply that is not an HTTP
	// response at all.
	KindInvalidResponse Kind = "INVALID_RESPONSE"
	// KindHTTPStatus marks a non-2xx upstream status.
	KindHTTPStatus Kind = "HTTP_STATUS"
	// KindDecoding marks malformed wire data: SSE JSON, JWT segments,
	// schema mismatches.
	KindDecoding Kind = "DECODING"
	// KindUnsupported marks requests the runtime refuses: provider
	// mismatch, unknown tool, unsupported schema type, turn caps.
	KindUnsupported Kind = "UNSUPPORTED"
	// KindTransport marks underlying I/O failures.
	KindTransport Kind = "TRANSPORT"
)

// AppError is the error type carried across component boundaries.
type AppError struct {
	Kind    Kind
	Message string
	// Status and Body are set for KindHTTPStatus only. Body holds at most
	// the first 64 KiB of the upstream response.
	Status int
	Body   string
	Err    error
}

func (e *AppError) Error() string {
	switch {
	case e.Kind == KindHTTPStatus:
		return fmt.Sprintf("[%s] %d: %s", e.Kind, e.Status, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	default:
		return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	}
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// InvalidResponse reports an upstream reply that could not be treated as
// an HTTP response.
func InvalidResponse(message string) *AppError {
	return &AppError{Kind: KindInvalidResponse, Message: message}
}

// HTTPStatus reports a non-2xx upstream status together with the captured
// body prefix.
func HTTPStatus(status int, body string) *AppError {
	return &AppError{
		Kind:    KindHTTPStatus,
		Message: fmt.Sprintf("unexpected status %d", status),
		Status:  status,
		Body:    body,
	}
}

// Decoding reports malformed wire data.
func Decoding(message string) *AppError {
	return &AppError{Kind: KindDecoding, Message: message}
}

// Decodingf formats a Decoding error.
func Decodingf(format string, args ...any) *AppError {
	return Decoding(fmt.Sprintf(format, args...))
}

// Unsupported reports an operation the runtime refuses to perform.
func Unsupported(message string) *AppError {
	return &AppError{Kind: KindUnsupported, Message: message}
}

// Unsupportedf formats an Unsupported error.
func Unsupportedf(format string, args ...any) *AppError {
	return Unsupported(fmt.Sprintf(format, args...))
}

// Transport reports an I/O failure, wrapping its cause.
func Transport(message string, cause error) *AppError {
	return &AppError{Kind: KindTransport, Message: message, Err: cause}
}

// KindOf extracts the Kind from err, or "" when err is not an AppError.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

// IsHTTPStatus reports whether err is a KindHTTPStatus error and returns
// the status code when it is.
func IsHTTPStatus(err error) (int, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Kind == KindHTTPStatus {
		return appErr.Status, true
	}
	return 0, false
}

// IsUnsupported reports whether err carries KindUnsupported.
func IsUnsupported(err error) bool {
	return KindOf(err) == KindUnsupported
}

// IsDecoding reports whether err carries KindDecoding.
func IsDecoding(err error) bool {
	return KindOf(err) == KindDecoding
}

// IsTransport reports whether err carries KindTransport.
func IsTransport(err error) bool {
	return KindOf(err) == KindTransport
}
