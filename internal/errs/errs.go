// Package errs carries the typed failures the transcription pipeline reports
// at its boundary.
package errs

import (
	"errors"
	"fmt"
)

// Kind groups failures by the stage that produced them.
type Kind string

const (
	KindInput  Kind = "input"
	KindTool   Kind = "tool"
	KindConfig Kind = "config"
	KindModel  Kind = "model"
)

// Code names a failure a caller can act on.
type Code string

const (
	CodeFileNotFound        Code = "FileNotFound"
	CodeDecodeFailed        Code = "DecodeFailed"
	CodeToolUnavailable     Code = "ToolUnavailable"
	CodeTranscodeFailed     Code = "TranscodeFailed"
	CodeUnsupportedBackend  Code = "UnsupportedBackend"
	CodeInvalidConfig       Code = "InvalidConfig"
	CodeTranscriptionFailed Code = "TranscriptionFailed"
)

type Error struct {
	Kind    Kind
	Code    Code
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Kind, e.Code, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Kind, e.Code, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func New(kind Kind, code Code, op, message string) *Error {
	return &Error{Kind: kind, Code: code, Op: op, Message: message}
}

// Wrap attaches kind and code to err. An err that already carries an *Error
// is returned as is so the innermost classification wins.
func Wrap(kind Kind, code Code, op, message string, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	return &Error{Kind: kind, Code: code, Op: op, Message: message, Cause: err}
}

func FileNotFound(op, path string, cause error) *Error {
	return &Error{Kind: KindInput, Code: CodeFileNotFound, Op: op, Message: "file not found: " + path, Cause: cause}
}

func ToolUnavailable(op, tool string, cause error) *Error {
	return &Error{Kind: KindTool, Code: CodeToolUnavailable, Op: op, Message: "transcoding tool unavailable: " + tool, Cause: cause}
}

// TranscodeFailed keeps the tool's diagnostic output in Message.
func TranscodeFailed(op, diagnostics string, cause error) *Error {
	return &Error{Kind: KindTool, Code: CodeTranscodeFailed, Op: op, Message: diagnostics, Cause: cause}
}

func UnsupportedBackend(op, value string) *Error {
	return &Error{Kind: KindConfig, Code: CodeUnsupportedBackend, Op: op, Message: fmt.Sprintf("unsupported backend %q", value)}
}

func TranscriptionFailed(op, message string, cause error) *Error {
	return &Error{Kind: KindModel, Code: CodeTranscriptionFailed, Op: op, Message: message, Cause: cause}
}

// CodeOf returns the code of the first *Error in the chain, or "".
func CodeOf(err error) Code {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Code
	}
	return ""
}

func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsKind checks whether the first *Error in the chain has the provided kind.
func IsKind(err error, kind Kind) bool {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind == kind
	}
	return false
}
