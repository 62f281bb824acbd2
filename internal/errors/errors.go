package errors

import (
	"context"
	"errors"
	"fmt"
)

// Code is a numeric SDK error code.
type Code int

// Argument and general errors.
const (
	CodeUnknown        Code = 40002
	CodeMissingValue   Code = 40004
	CodeInvalidValue   Code = 40005
	CodeBadRequest     Code = 40014
	CodeNotImplemented Code = 40018
)

// Transport and response errors.
const (
	CodeRequestFailed      Code = 40009
	CodeParseFailed        Code = 40010
	CodeBadResponse        Code = 40015
	CodeTimeout            Code = 40020
	CodeKeyDenied          Code = 40024
	CodeInvalidKey         Code = 40030
	CodeStaleKeyAttributes Code = 40031
)

// Profile errors.
const (
	CodeNoDeviceProfile Code = 40022
)

// Crypto and codec errors.
const (
	CodeChunkError           Code = 20001
	CodeCryptoError          Code = 50001
	CodeKeyValidationFailure Code = 50007
)

var codeNames = map[Code]string{
	CodeUnknown:              "UNKNOWN",
	CodeMissingValue:         "MISSING_VALUE",
	CodeInvalidValue:         "INVALID_VALUE",
	CodeBadRequest:           "BAD_REQUEST",
	CodeNotImplemented:       "NOT_IMPLEMENTED",
	CodeRequestFailed:        "REQUEST_FAILED",
	CodeParseFailed:          "PARSE_FAILED",
	CodeBadResponse:          "BAD_RESPONSE",
	CodeTimeout:              "TIMEOUT",
	CodeKeyDenied:            "KEY_DENIED",
	CodeInvalidKey:           "INVALID_KEY",
	CodeStaleKeyAttributes:   "STALE_KEY_ATTRIBUTES",
	CodeNoDeviceProfile:      "NO_DEVICE_PROFILE",
	CodeChunkError:           "CHUNK_ERROR",
	CodeCryptoError:          "CRYPTO_ERROR",
	CodeKeyValidationFailure: "KEY_VALIDATION_FAILURE",
}

// String returns the symbolic name of the code.
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CODE_%d", int(c))
}

// Error is a classified failure.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message,omitempty"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	msg := e.Code.String()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code. Sentinels carry
// no message, so a sentinel matches any error of its code; two errors with
// messages must also agree on the message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != e.Code {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

// New returns an error with the given code and message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under code. If err already carries a code it is
// returned with msg prepended and its code unchanged. Context deadline
// errors are classified as timeouts.
func Wrap(code Code, msg string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		if msg == "" {
			return err
		}
		return fmt.Errorf("%s: %w", msg, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		code = CodeTimeout
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the code carried by err, or CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// From returns the *Error carried by err, classifying unclassified errors
// as CodeUnknown.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: CodeUnknown, Err: err}
}

// FromServer maps a key service error code onto an SDK code. Codes the
// service does not document fall back to the given code.
func FromServer(serverCode int, fallback Code) Code {
	switch serverCode {
	case 4020:
		return CodeKeyDenied
	case 4202, 409:
		return CodeStaleKeyAttributes
	default:
		return fallback
	}
}

// ErrorMap records per-item failures keyed by item identifier.
type ErrorMap map[string]*Error

// Add records an error for id.
func (m ErrorMap) Add(id string, code Code, format string, args ...any) {
	m[id] = New(code, format, args...)
}

// Sentinel errors, one per code, for use with errors.Is.
var (
	ErrUnknown        = &Error{Code: CodeUnknown}
	ErrMissingValue   = &Error{Code: CodeMissingValue}
	ErrInvalidValue   = &Error{Code: CodeInvalidValue}
	ErrBadRequest     = &Error{Code: CodeBadRequest}
	ErrNotImplemented = &Error{Code: CodeNotImplemented}
)

var (
	ErrRequestFailed      = &Error{Code: CodeRequestFailed}
	ErrParseFailed        = &Error{Code: CodeParseFailed}
	ErrBadResponse        = &Error{Code: CodeBadResponse}
	ErrTimeout            = &Error{Code: CodeTimeout}
	ErrKeyDenied          = &Error{Code: CodeKeyDenied}
	ErrInvalidKey         = &Error{Code: CodeInvalidKey}
	ErrStaleKeyAttributes = &Error{Code: CodeStaleKeyAttributes}
)

var (
	// ErrNoDeviceProfile indicates no profile exists for the requested scope or device.
	ErrNoDeviceProfile = &Error{Code: CodeNoDeviceProfile}

	// ErrCorruptedProfileSet indicates more than one stored profile shares a device id.
	ErrCorruptedProfileSet = &Error{Code: CodeNoDeviceProfile, Message: "corrupted profile set"}
)

var (
	ErrChunkError           = &Error{Code: CodeChunkError}
	ErrCryptoError          = &Error{Code: CodeCryptoError}
	ErrKeyValidationFailure = &Error{Code: CodeKeyValidationFailure}
)
