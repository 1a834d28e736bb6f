package npu

import (
	"errors"
	"fmt"
	"io/fs"
)

// Code classifies every error returned by this package. The set is closed;
// binding layers map it one to one onto their own error representation.
type Code int

const (
	CodeOK Code = iota
	CodeInvalidInput
	CodeNull
	CodeUnsupported
	CodeUnavailable
	CodeDeviceNotFound
	CodeDeviceBusy
	CodeIO
	CodePermissionDenied
	CodeUnknownArch
	CodeIncompatibleDriver
	CodeHwmon
	CodePerformanceCounter
	CodeUnexpectedValue
	CodeParse
	CodeUnknown
)

var codeNames = [...]string{
	CodeOK:                 "ok",
	CodeInvalidInput:       "invalid_input",
	CodeNull:               "null_error",
	CodeUnsupported:        "unsupported_error",
	CodeUnavailable:        "unavailable_error",
	CodeDeviceNotFound:     "device_not_found",
	CodeDeviceBusy:         "device_busy",
	CodeIO:                 "io_error",
	CodePermissionDenied:   "permission_denied_error",
	CodeUnknownArch:        "unknown_arch_error",
	CodeIncompatibleDriver: "incompatible_driver_error",
	CodeHwmon:              "hwmon_error",
	CodePerformanceCounter: "performance_counter_error",
	CodeUnexpectedValue:    "unexpected_value_error",
	CodeParse:              "parse_error",
	CodeUnknown:            "unknown_error",
}

func (c Code) String() string {
	if c < 0 || int(c) >= len(codeNames) {
		return codeNames[CodeUnknown]
	}
	return codeNames[c]
}

// Sentinel errors for use with errors.Is. Matching is by code only.
var (
	ErrInvalidInput       = &Error{Code: CodeInvalidInput}
	ErrNull               = &Error{Code: CodeNull}
	ErrUnsupported        = &Error{Code: CodeUnsupported}
	ErrUnavailable        = &Error{Code: CodeUnavailable}
	ErrDeviceNotFound     = &Error{Code: CodeDeviceNotFound}
	ErrDeviceBusy         = &Error{Code: CodeDeviceBusy}
	ErrIO                 = &Error{Code: CodeIO}
	ErrPermissionDenied   = &Error{Code: CodePermissionDenied}
	ErrUnknownArch        = &Error{Code: CodeUnknownArch}
	ErrIncompatibleDriver = &Error{Code: CodeIncompatibleDriver}
	ErrHwmon              = &Error{Code: CodeHwmon}
	ErrPerformanceCounter = &Error{Code: CodePerformanceCounter}
	ErrUnexpectedValue    = &Error{Code: CodeUnexpectedValue}
	ErrParse              = &Error{Code: CodeParse}
	ErrUnknown            = &Error{Code: CodeUnknown}
)

// Error is the concrete error type of this package.
type Error struct {
	Code Code
	// Op names the failed operation, e.g. "read heartbeat".
	Op string
	// Path is the attribute path involved, if any.
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Code.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code carried by err. A nil error is CodeOK and an error
// that carries no code is CodeUnknown. For joined errors the first coded
// error wins.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

func newError(code Code, op string, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Err: fmt.Errorf(format, args...)}
}

// sourceError classifies an Attribute Source failure.
func sourceError(op, path string, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return &Error{Code: e.Code, Op: op, Path: path, Err: err}
	}
	code := CodeIO
	if errors.Is(err, fs.ErrPermission) {
		code = CodePermissionDenied
	}
	return &Error{Code: code, Op: op, Path: path, Err: err}
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
