// Package vm implements the script virtual machine: program loading, the
// stack interpreter and the registry of running program instances.
package vm

import (
	"errors"
	"fmt"

	"github.com/pingw33n/vault13-sub000/pkg/opcode"
)

// ErrorKind classifies VM errors.
type ErrorKind string

const (
	// Load errors. Fatal to loading one program only.
	ErrorMalformedProgram       ErrorKind = "MALFORMED_PROGRAM"
	ErrorUnexpectedEndOfProgram ErrorKind = "UNEXPECTED_END_OF_PROGRAM"
	ErrorMalformedString        ErrorKind = "MALFORMED_STRING"
	ErrorDuplicateProcedure     ErrorKind = "DUPLICATE_PROCEDURE"

	// Interpretation errors. Fatal to the current invocation only.
	ErrorBadOpcode           ErrorKind = "BAD_OPCODE"
	ErrorStackOverflow       ErrorKind = "STACK_OVERFLOW"
	ErrorStackUnderflow      ErrorKind = "STACK_UNDERFLOW"
	ErrorBadJumpTarget       ErrorKind = "BAD_JUMP_TARGET"
	ErrorUndefinedBase       ErrorKind = "UNDEFINED_BASE"
	ErrorTypeMismatch        ErrorKind = "TYPE_MISMATCH"
	ErrorUnresolvedProcedure ErrorKind = "UNRESOLVED_PROCEDURE"
	ErrorIndexOutOfRange     ErrorKind = "INDEX_OUT_OF_RANGE"
	ErrorBadValue            ErrorKind = "BAD_VALUE"

	// ErrorInvalidState reports host misuse of the API, such as resuming a
	// program that is not suspended.
	ErrorInvalidState ErrorKind = "INVALID_STATE"
)

// Sentinels for errors.Is. Any *Error of the same kind matches.
var (
	ErrMalformedProgram       = &Error{Kind: ErrorMalformedProgram}
	ErrUnexpectedEndOfProgram = &Error{Kind: ErrorUnexpectedEndOfProgram}
	ErrMalformedString        = &Error{Kind: ErrorMalformedString}
	ErrDuplicateProcedure     = &Error{Kind: ErrorDuplicateProcedure}
	ErrBadOpcode              = &Error{Kind: ErrorBadOpcode}
	ErrStackOverflow          = &Error{Kind: ErrorStackOverflow}
	ErrStackUnderflow         = &Error{Kind: ErrorStackUnderflow}
	ErrBadJumpTarget          = &Error{Kind: ErrorBadJumpTarget}
	ErrUndefinedBase          = &Error{Kind: ErrorUndefinedBase}
	ErrTypeMismatch           = &Error{Kind: ErrorTypeMismatch}
	ErrUnresolvedProcedure    = &Error{Kind: ErrorUnresolvedProcedure}
	ErrIndexOutOfRange        = &Error{Kind: ErrorIndexOutOfRange}
	ErrBadValue               = &Error{Kind: ErrorBadValue}
	ErrInvalidState           = &Error{Kind: ErrorInvalidState}
)

// Error is the error type returned by every VM entry point.
// Program, Offset and Opcode are filled in by the interpreter loop when the
// error surfaces from a running program.
type Error struct {
	Kind    ErrorKind
	Message string
	Program string        // Program name if available
	Offset  int           // Code offset of the failing instruction, -1 otherwise
	Opcode  opcode.Opcode // Failing opcode, 0 if none was decoded
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	} else {
		msg = fmt.Sprintf("[%s] %s", e.Kind, msg)
	}
	if e.Program != "" && e.Offset >= 0 {
		if e.Opcode != 0 {
			return fmt.Sprintf("%s at %s:0x%06x (%s)", msg, e.Program, e.Offset, e.Opcode)
		}
		return fmt.Sprintf("%s at %s:0x%06x", msg, e.Program, e.Offset)
	}
	if e.Program != "" {
		return fmt.Sprintf("%s in %s", msg, e.Program)
	}
	return msg
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// IsLoadError reports whether the error was raised while parsing a program.
func (e *Error) IsLoadError() bool {
	switch e.Kind {
	case ErrorMalformedProgram, ErrorMalformedString, ErrorDuplicateProcedure:
		return true
	case ErrorUnexpectedEndOfProgram:
		// Raised by an instruction, it carries the instruction offset.
		return e.Offset < 0
	default:
		return false
	}
}

// NewError creates an Error with no location information.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Offset:  -1,
	}
}

// KindOf returns the kind of err, or "" if err is not a VM error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func errTypeMismatch(op string, l, r Value) *Error {
	return NewError(ErrorTypeMismatch, "%s: incompatible operands %s and %s", op, l.Kind(), r.Kind())
}

func errUnsupported(op string, v Value) *Error {
	return NewError(ErrorTypeMismatch, "%s: unsupported operand %s", op, v.Kind())
}

func errExpected(want Kind, got Value) *Error {
	return NewError(ErrorTypeMismatch, "expected %s, got %s", want, got.Kind())
}

func errUnexpectedEnd(what string, pos, need, have int) *Error {
	return NewError(ErrorUnexpectedEndOfProgram, "%s: need %d bytes at 0x%x, have %d", what, need, pos, have)
}
