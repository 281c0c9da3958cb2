package codegen

import (
	"testing"

	"corevm/internal/instr"
	"corevm/internal/typemodel"
)

// TestExecComplexBranchIfSelectsBlock builds a two-block CFG gated on
// BranchIf and confirms both edges are reachable.
func TestExecComplexBranchIfSelectsBlock(t *testing.T) {
	i64 := typemodel.IntType{K: typemodel.I64}
	ret := &instr.Bootstrap{Name: "Return", Op: instr.OpReturn}
	meta := instr.Metadata{Operands: []instr.Operand{
		{Name: "cond", ValueType: i64, Input: true},
		{Name: "result", ValueType: i64, Output: true},
	}}
	branchIf := &instr.Bootstrap{Name: "BranchIf", Op: instr.OpBranchIf}
	body := &instr.Complex{
		Name: "pick",
		Meta: meta,
		Blocks: []*instr.BasicBlock{
			{ID: 0, Stat: []instr.Stat{
				instr.Lit{Dst: "zero", Value: int64(0)},
				instr.InstructionCall{
					Callee:   branchIf,
					Args:     []string{"cond"},
					Generics: []instr.GenericArg{{Kind: instr.GenericBasicBlock, BlockID: 1}, {Kind: instr.GenericBasicBlock, BlockID: 2}},
				},
			}},
			{ID: 1, Stat: []instr.Stat{
				instr.Lit{Dst: "result", Value: int64(111)},
				instr.InstructionCall{Callee: ret, Args: []string{"result"}},
			}},
			{ID: 2, Stat: []instr.Stat{
				instr.Lit{Dst: "result", Value: int64(222)},
				instr.InstructionCall{Callee: ret, Args: []string{"result"}},
			}},
		},
	}
	g := NewGenerator()
	if err := g.Register(body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	gotTrue, err := g.Invoke("pick", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotTrue != 111 {
		t.Fatalf("nonzero cond should take the true edge, want 111 got %d", gotTrue)
	}
	gotFalse, err := g.Invoke("pick", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotFalse != 222 {
		t.Fatalf("zero cond should take the false edge, want 222 got %d", gotFalse)
	}
}

func TestExecComplexMoveCopiesLocal(t *testing.T) {
	i64 := typemodel.IntType{K: typemodel.I64}
	ret := &instr.Bootstrap{Name: "Return", Op: instr.OpReturn}
	body := &instr.Complex{
		Name: "mv",
		Meta: instr.Metadata{Operands: []instr.Operand{{Name: "a", ValueType: i64, Input: true}, {Name: "out", ValueType: i64, Output: true}}},
		Blocks: []*instr.BasicBlock{{ID: 0, Stat: []instr.Stat{
			instr.Move{Dst: "out", Src: "a"},
			instr.InstructionCall{Callee: ret, Args: []string{"out"}},
		}}},
	}
	g := NewGenerator()
	if err := g.Register(body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := g.Invoke("mv", 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Fatalf("want 42, got %d", got)
	}
}

func TestCompressionNestedDispatchResolvesSubOpcode(t *testing.T) {
	i64 := typemodel.IntType{K: typemodel.I64}
	add := instr.NewBinaryArith("Add.c", instr.OpAdd, i64, i64)
	sub := instr.NewBinaryArith("Sub.c", instr.OpSub, i64, i64)
	inner := instr.NewSet("inner", 255)
	addOp, err := inner.Add(add)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	subOp, err := inner.Add(sub)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	comp := &instr.Compression{Name: "arith", Inner: inner}
	ret := &instr.Bootstrap{Name: "Return", Op: instr.OpReturn}

	wrapperFor := func(name string, subOpcode uint32) *instr.Complex {
		return &instr.Complex{
			Name: name,
			Meta: instr.Metadata{Operands: []instr.Operand{
				{Name: "a", ValueType: i64, Input: true},
				{Name: "b", ValueType: i64, Input: true},
				{Name: "result", ValueType: i64, Output: true},
			}},
			Blocks: []*instr.BasicBlock{{ID: 0, Stat: []instr.Stat{
				instr.InstructionCall{
					Callee:   comp,
					Generics: []instr.GenericArg{{Kind: instr.GenericConstant, ConstValue: uint64(subOpcode)}},
					Args:     []string{"a", "b"},
					Rets:     []string{"result"},
				},
				instr.InstructionCall{Callee: ret, Args: []string{"result"}},
			}}},
		}
	}

	g := NewGenerator()
	addWrapper := wrapperFor("add_wrapper", addOp)
	subWrapper := wrapperFor("sub_wrapper", subOp)
	if err := g.Register(addWrapper); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := g.Register(subWrapper); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	gotAdd, err := g.Invoke("add_wrapper", 4, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAdd != 9 {
		t.Fatalf("want 9, got %d", gotAdd)
	}
	gotSub, err := g.Invoke("sub_wrapper", 9, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotSub != 5 {
		t.Fatalf("want 5, got %d", gotSub)
	}
}

// TestExecNestedComplexCallRejectsArgCountMismatch checks spec.md §8's
// "Metadata consistency": a nested InstructionCall supplying fewer Args
// than its Complex callee declares Input operands must fail to compile
// rather than silently binding a partial operand set.
func TestExecNestedComplexCallRejectsArgCountMismatch(t *testing.T) {
	i64 := typemodel.IntType{K: typemodel.I64}
	add := instr.NewBinaryArith("Add.nested", instr.OpAdd, i64, i64)
	ret := &instr.Bootstrap{Name: "Return", Op: instr.OpReturn}

	callee := &instr.Complex{
		Name: "needs_two",
		Meta: instr.Metadata{Operands: []instr.Operand{
			{Name: "a", ValueType: i64, Input: true},
			{Name: "b", ValueType: i64, Input: true},
			{Name: "result", ValueType: i64, Output: true},
		}},
		Blocks: []*instr.BasicBlock{{ID: 0, Stat: []instr.Stat{
			instr.InstructionCall{Callee: add, Args: []string{"a", "b"}, Rets: []string{"result"}},
			instr.InstructionCall{Callee: ret, Args: []string{"result"}},
		}}},
	}
	caller := &instr.Complex{
		Name: "caller",
		Meta: instr.Metadata{Operands: []instr.Operand{
			{Name: "x", ValueType: i64, Input: true},
			{Name: "out", ValueType: i64, Output: true},
		}},
		Blocks: []*instr.BasicBlock{{ID: 0, Stat: []instr.Stat{
			// only 1 arg bound, but needs_two declares 2 input operands.
			instr.InstructionCall{Callee: callee, Args: []string{"x"}, Rets: []string{"out"}},
			instr.InstructionCall{Callee: ret, Args: []string{"out"}},
		}}},
	}

	g := NewGenerator()
	if err := g.Register(caller); err != nil {
		t.Fatalf("unexpected error registering caller: %v", err)
	}
	if _, err := g.Invoke("caller", 5); err == nil {
		t.Fatalf("expected an error for a call site with too few args, got nil")
	}
}
