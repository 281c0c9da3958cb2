// Package cerrors implements the error-kind taxonomy of spec.md §7,
// generalized from the teacher's internal/errors/errors.go (SentraError /
// SourceLocation / StackFrame / With* builder chain) from guest-source
// errors to compiler- and VM-level errors.
package cerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is one of the closed error kinds from spec.md §7.
type Kind string

const (
	TypeMismatch           Kind = "TypeMismatch"
	UnknownOperand         Kind = "UnknownOperand"
	MissGeneric            Kind = "MissGeneric"
	IndexOutOfRange        Kind = "IndexOutOfRange"
	LLVMVerifyFailed       Kind = "LLVMVerifyFailed"
	TooManySubInstructions Kind = "TooManySubInstructions"
	ReturnValueTooLarge    Kind = "ReturnValueTooLarge"
	GCThreadPanic          Kind = "GCThreadPanic"
	GCThreadOther          Kind = "GCThreadOther"
	GuestRuntimeError      Kind = "GuestRuntimeError"
)

// Stage names where a CompileError was raised, for the ErrorWhile{...}
// attribution spec.md §7 asks for.
type Stage string

const (
	StageGenerate  Stage = "Generate"
	StageFinding   Stage = "Finding"
	StageWriteBack Stage = "WriteBack"
)

// Attribution points a CompileError at the specific statement, operand or
// block that caused it.
type Attribution struct {
	Stage     Stage
	Function  string
	BlockID   int
	StatIndex int
	Operand   string
}

func (a Attribution) String() string {
	s := fmt.Sprintf("ErrorWhile%s{fn=%s", a.Stage, a.Function)
	if a.BlockID != 0 {
		s += fmt.Sprintf(" block=%d", a.BlockID)
	}
	if a.StatIndex != 0 {
		s += fmt.Sprintf(" stat=%d", a.StatIndex)
	}
	if a.Operand != "" {
		s += fmt.Sprintf(" operand=%s", a.Operand)
	}
	return s + "}"
}

// CompileError is fatal to compilation (all kinds except GCThread*/
// GuestRuntimeError, per spec.md §7's policy column).
type CompileError struct {
	Kind    Kind
	Message string
	At      Attribution
	cause   error
}

func (e *CompileError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (%s): %v", e.Kind, e.Message, e.At, e.cause)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.At)
}

func (e *CompileError) Unwrap() error { return e.cause }

// NewCompileError builds a CompileError, capturing a stack via pkg/errors
// so the attribution survives up through the lowering call chain.
func NewCompileError(kind Kind, at Attribution, format string, args ...interface{}) *CompileError {
	return &CompileError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		At:      at,
		cause:   errors.New(fmt.Sprintf(format, args...)),
	}
}

// Wrap attaches an attribution and stack trace to an arbitrary error from
// a lowering step.
func Wrap(kind Kind, at Attribution, err error) *CompileError {
	return &CompileError{
		Kind:    kind,
		Message: err.Error(),
		At:      at,
		cause:   errors.WithStack(err),
	}
}

// GCThreadError aggregates worker failures observed at join (spec.md §4.4,
// §7): a panic is reported as GCThreadPanic, any other error as
// GCThreadOther.
type GCThreadError struct {
	Kind    Kind // GCThreadPanic or GCThreadOther
	WorkerID int
	Message string
}

func (e *GCThreadError) Error() string {
	return fmt.Sprintf("%s: worker %d: %s", e.Kind, e.WorkerID, e.Message)
}

// RuntimeError is a user-visible guest-level error (spec.md §7): non-
// numeric arithmetic, bad index, etc. It unwinds to the nearest handler
// rather than aborting compilation.
type RuntimeError struct {
	Message string
	Op      string
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("GuestRuntimeError: %s (in %s)", e.Message, e.Op)
}

func NewRuntimeError(op, format string, args ...interface{}) *RuntimeError {
	return &RuntimeError{Op: op, Message: fmt.Sprintf(format, args...)}
}
