package webcodecs

import (
	"errors"
	"fmt"
)

// CodecError classifies a failure the way the WebCodecs spec names it
// (DOMException-style), so callers can branch on .Name the way they would
// branch on error.name in the source spec.
type CodecError struct {
	Name string // "TypeError", "InvalidStateError", "RangeError", "NotSupportedError", "EncodingError", "AbortError"
	msg  string
}

func (e *CodecError) Error() string { return e.Name + ": " + e.msg }

func newCodecError(name, msg string) *CodecError { return &CodecError{Name: name, msg: msg} }

// Sentinel errors used with errors.Is/errors.As and %w wrapping, one per
// WebCodecs-visible error kind.
var (
	ErrType         = newCodecError("TypeError", "invalid argument")
	ErrInvalidState = newCodecError("InvalidStateError", "codec is in the wrong state")
	ErrRange        = newCodecError("RangeError", "value out of range")
	ErrNotSupported = newCodecError("NotSupportedError", "configuration not supported")
	ErrEncoding     = newCodecError("EncodingError", "backend coding error")
	ErrAbort        = newCodecError("AbortError", "operation aborted")

	// Registry/backend errors outside the WebCodecs taxonomy.
	ErrBufferTooSmall   = errors.New("buffer too small")
	ErrProviderNotFound = errors.New("provider not available")
)

// typeErrorf builds a TypeError with a formatted message, chaining through
// errors.Is(err, ErrType).
func typeErrorf(format string, args ...any) error  { return wrapf(ErrType, format, args...) }
func stateErrorf(format string, args ...any) error { return wrapf(ErrInvalidState, format, args...) }
func rangeErrorf(format string, args ...any) error { return wrapf(ErrRange, format, args...) }
func notSupportedErrorf(format string, args ...any) error {
	return wrapf(ErrNotSupported, format, args...)
}
func encodingErrorf(format string, args ...any) error { return wrapf(ErrEncoding, format, args...) }

func wrapf(sentinel *CodecError, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
