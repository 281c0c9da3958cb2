package cerrors

import (
	"errors"
	"strings"
	"testing"
)

func TestNewCompileErrorFormatsAttribution(t *testing.T) {
	at := Attribution{Stage: StageGenerate, Function: "add2", BlockID: 1, StatIndex: 2, Operand: "lhs"}
	err := NewCompileError(TypeMismatch, at, "bad operand %s", "lhs")
	msg := err.Error()
	if !strings.Contains(msg, "TypeMismatch") || !strings.Contains(msg, "add2") || !strings.Contains(msg, "lhs") {
		t.Fatalf("error message missing expected fields: %s", msg)
	}
}

func TestAttributionStringOmitsZeroFields(t *testing.T) {
	at := Attribution{Stage: StageFinding, Function: "f"}
	s := at.String()
	if strings.Contains(s, "block=") || strings.Contains(s, "stat=") || strings.Contains(s, "operand=") {
		t.Fatalf("zero-valued attribution fields should be omitted, got %s", s)
	}
}

func TestWrapPreservesUnderlyingError(t *testing.T) {
	cause := errors.New("boom")
	wrapped := Wrap(IndexOutOfRange, Attribution{Function: "g"}, cause)
	if wrapped.Unwrap() == nil {
		t.Fatalf("Wrap should keep the original error reachable via Unwrap")
	}
	if !strings.Contains(wrapped.Error(), "boom") {
		t.Fatalf("wrapped message should mention the cause, got %s", wrapped.Error())
	}
}

func TestGCThreadErrorFormatting(t *testing.T) {
	e := &GCThreadError{Kind: GCThreadPanic, WorkerID: 3, Message: "nil pointer"}
	if !strings.Contains(e.Error(), "worker 3") {
		t.Fatalf("want worker id in message, got %s", e.Error())
	}
}

func TestRuntimeErrorFormatting(t *testing.T) {
	e := NewRuntimeError("SetElement", "cannot index %s", "nil")
	if !strings.Contains(e.Error(), "SetElement") || !strings.Contains(e.Error(), "cannot index nil") {
		t.Fatalf("unexpected message: %s", e.Error())
	}
}
