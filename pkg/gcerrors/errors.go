// Unified error handling for the gcode-host move core
//
// Copyright (C) 2026  GCode Host Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package gcerrors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// ErrCommandParse is raised when a present parameter holds a
	// non-numeric value; it carries the offending command text.
	ErrCommandParse ErrorCode = "COMMAND_PARSE"

	// ErrInvalidParameter is raised for out-of-range numeric parameters
	// (non-positive feed rates and override percentages).
	ErrInvalidParameter ErrorCode = "INVALID_PARAMETER"

	// ErrUnsupportedCommand is raised for commands the machine refuses
	// outright (G20 inch mode).
	ErrUnsupportedCommand ErrorCode = "UNSUPPORTED_COMMAND"

	// ErrAlreadyBound is raised when a move transform is bound a second
	// time without the force flag.
	ErrAlreadyBound ErrorCode = "TRANSFORM_ALREADY_BOUND"

	// ErrUnknownState is raised when restoring a saved state name that
	// was never saved.
	ErrUnknownState ErrorCode = "UNKNOWN_STATE"

	// ErrNotReady is raised by diagnostic queries before the motion
	// executor exists.
	ErrNotReady ErrorCode = "NOT_READY"
)

// CoreError is the unified error type for the move core.
type CoreError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Command is the offending command line, if any
	Command string

	// Err wraps the underlying error
	Err error
}

// Error implements the error interface
func (e *CoreError) Error() string {
	if e.Command != "" {
		return fmt.Sprintf("[%s] %s (command: %q)", e.Code, e.Message, e.Command)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *CoreError) Unwrap() error {
	return e.Err
}

// SetCommand attaches the offending command line
func (e *CoreError) SetCommand(command string) *CoreError {
	e.Command = command
	return e
}

// New creates a new CoreError
func New(code ErrorCode, message string) *CoreError {
	return &CoreError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a code and message
func Wrap(err error, code ErrorCode, message string) *CoreError {
	return &CoreError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CommandParseError creates an error for an unparseable command parameter.
// The command text is always attached so the operator can see the line
// that was rejected.
func CommandParseError(command string, reason string) *CoreError {
	return New(ErrCommandParse, fmt.Sprintf("unable to parse command: %s", reason)).
		SetCommand(command)
}

// InvalidParameterError creates an error for an out-of-range parameter value
func InvalidParameterError(param string, value float64, reason string) *CoreError {
	return New(ErrInvalidParameter, fmt.Sprintf("invalid %s=%v: %s", param, value, reason))
}

// UnsupportedCommandError creates an error for a refused command
func UnsupportedCommandError(command string, reason string) *CoreError {
	return New(ErrUnsupportedCommand, reason).SetCommand(command)
}

// AlreadyBoundError creates an error for a duplicate transform bind
func AlreadyBoundError() *CoreError {
	return New(ErrAlreadyBound, "move transform already specified")
}

// UnknownStateError creates an error for a missing saved state
func UnknownStateError(name string) *CoreError {
	return New(ErrUnknownState, fmt.Sprintf("unknown saved state: %s", name))
}

// NotReadyError creates an error for queries made before the executor exists
func NotReadyError(what string) *CoreError {
	return New(ErrNotReady, fmt.Sprintf("%s not available until ready", what))
}

// Is checks if the error (or any wrapped error) matches the given code
func Is(err error, code ErrorCode) bool {
	var ce *CoreError
	if stderrors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// Code returns the error code of err, or "" if err is not a CoreError
func Code(err error) ErrorCode {
	var ce *CoreError
	if stderrors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
