package codegen

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"corevm/internal/cerrors"
	"corevm/internal/instr"
)

// llvmBuilder lowers one Instruction's body into real LLVM IR (spec.md
// §4.3/§4.4: basic blocks and phi nodes map 1:1 to native basic blocks,
// register state is SSA-constructed). Registers are modeled as one
// alloca per name in the function's entry block, written with store and
// read with load — the same memory-SSA shape an unoptimized `clang -O0`
// frontend emits, which a later `mem2reg` pass would fold into true SSA;
// building real allocas/loads/stores (rather than skipping straight to
// hand-rolled SSA bookkeeping) is what keeps every Move/Phi/arith
// statement a genuine llir/llvm instruction instead of an emulated one.
type llvmBuilder struct {
	g       *Generator
	fn      *ir.Func
	entry   *ir.Block
	blocks  map[int]*ir.Block
	allocas map[string]*ir.InstAlloca
	phis    map[int][]*ir.InstPhi  // block id -> its phi instructions, declaration order
	phiMeta map[*ir.InstPhi]instr.Phi
}

// lowerComplex builds fn's body from c, 1:1 over c.Blocks. Declared
// runtime-helper functions are shared with nested lowerings through g.
func (g *Generator) lowerComplex(fn *ir.Func, c *instr.Complex) error {
	l := &llvmBuilder{
		g:       g,
		fn:      fn,
		blocks:  make(map[int]*ir.Block),
		allocas: make(map[string]*ir.InstAlloca),
		phis:    make(map[int][]*ir.InstPhi),
		phiMeta: make(map[*ir.InstPhi]instr.Phi),
	}
	l.entry = fn.NewBlock(safeBlockName("entry", -1))

	names := make(map[string]bool)
	for _, n := range collectNames(c) {
		names[n] = true
	}
	for n := range names {
		l.allocas[n] = l.entry.NewAlloca(types.I64)
	}

	// Bind the declared Input operands from the function's own parameters.
	argIdx := 0
	for _, op := range c.Meta.Operands {
		if op.Input {
			l.entry.NewStore(fn.Params[argIdx], l.allocas[op.Name])
			argIdx++
		}
	}

	if len(c.Blocks) == 0 {
		l.entry.NewRet(constant.NewInt(types.I64, 0))
		return nil
	}

	// Pass 1: pre-create every basic block and its phi instructions so
	// forward branches and phi incoming-value sourcing both resolve.
	for _, b := range c.Blocks {
		l.blocks[b.ID] = fn.NewBlock(safeBlockName("bb", b.ID))
	}
	for _, b := range c.Blocks {
		block := l.blocks[b.ID]
		for _, phi := range b.Phi {
			p := block.NewPhi()
			l.phis[b.ID] = append(l.phis[b.ID], p)
			l.phiMeta[p] = phi
		}
	}
	l.entry.NewBr(l.blocks[c.Blocks[0].ID])

	// Pass 2: lower each block's phi-destination stores, then its
	// statements, then its terminator, inserting any pending phi-incoming
	// loads for blocks that branch out of it right before that terminator.
	for _, b := range c.Blocks {
		if err := l.lowerBlock(c, b); err != nil {
			return err
		}
	}
	return nil
}

func collectNames(c *instr.Complex) []string {
	seen := make(map[string]bool)
	var order []string
	add := func(n string) {
		if n == "" || seen[n] {
			return
		}
		seen[n] = true
		order = append(order, n)
	}
	for _, op := range c.Meta.Operands {
		add(op.Name)
	}
	for _, b := range c.Blocks {
		for _, phi := range b.Phi {
			add(phi.Var)
			for _, m := range phi.Map {
				add(m.FromVar)
			}
		}
		for _, s := range b.Stat {
			switch st := s.(type) {
			case instr.Move:
				add(st.Dst)
				add(st.Src)
			case instr.Lit:
				add(st.Dst)
			case instr.InstructionCall:
				for _, a := range st.Args {
					add(a)
				}
				for _, r := range st.Rets {
					add(r)
				}
			}
		}
	}
	return order
}

func safeBlockName(prefix string, id int) string {
	if id < 0 {
		return prefix
	}
	return fmt.Sprintf("%s%d", prefix, id)
}

func (l *llvmBuilder) allocaFor(name string) *ir.InstAlloca {
	a, ok := l.allocas[name]
	if !ok {
		// A name never declared by collectNames (shouldn't happen given
		// collectNames walks every Stat) gets a lazily-created slot rather
		// than panicking the lowering pass.
		a = l.entry.NewAlloca(types.I64)
		l.allocas[name] = a
	}
	return a
}

func (l *llvmBuilder) load(block *ir.Block, name string) value.Value {
	return block.NewLoad(types.I64, l.allocaFor(name))
}

func (l *llvmBuilder) store(block *ir.Block, name string, v value.Value) {
	block.NewStore(v, l.allocaFor(name))
}

// lowerBlock lowers one BasicBlock's phi-result stores, statements, and
// terminator into its pre-created *ir.Block.
func (l *llvmBuilder) lowerBlock(c *instr.Complex, b *instr.BasicBlock) error {
	block := l.blocks[b.ID]

	// Phi results land in their destination var's alloca so ordinary
	// load/store statement lowering downstream sees the merged value,
	// exactly as mem2reg would represent a real SSA phi as a stack slot
	// write in unoptimized IR.
	for _, p := range l.phis[b.ID] {
		l.store(block, l.phiMeta[p].Var, p)
	}

	terminated := false
	for i, stat := range b.Stat {
		switch s := stat.(type) {
		case instr.Move:
			l.store(block, s.Dst, l.load(block, s.Src))
		case instr.Lit:
			l.store(block, s.Dst, constant.NewInt(types.I64, int64(litBits(s.Value))))
		case instr.InstructionCall:
			done, err := l.lowerCall(c, b, block, &s, i)
			if err != nil {
				return err
			}
			if done {
				terminated = true
			}
		}
		if terminated {
			break
		}
	}

	if !terminated {
		// Falls off the end of the declared statement list: lowered the
		// same way the tree-walking interpreter treats it, as an implicit
		// Return 0 (ExecComplex/execBlock), not a branch to a shared exit
		// block.
		l.insertPendingPhiLoads(block, b.ID)
		block.NewRet(constant.NewInt(types.I64, 0))
	}
	return nil
}

// insertPendingPhiLoads loads, right before fromID's terminator, the
// current value of every var a not-yet-filled phi elsewhere in the
// function wants sourced from block fromID, and wires each as that
// phi's incoming value for this predecessor.
func (l *llvmBuilder) insertPendingPhiLoads(block *ir.Block, fromID int) {
	for _, ps := range l.phis {
		for _, p := range ps {
			meta := l.phiMeta[p]
			for _, m := range meta.Map {
				if m.FromBlock == fromID {
					v := l.load(block, m.FromVar)
					p.Incs = append(p.Incs, ir.NewIncoming(v, block))
				}
			}
		}
	}
}

// lowerCall lowers one InstructionCall statement. done reports whether
// it terminated the block (Branch/BranchIf/Return); the caller moves on
// to the next statement otherwise.
func (l *llvmBuilder) lowerCall(c *instr.Complex, b *instr.BasicBlock, block *ir.Block, call *instr.InstructionCall, statIdx int) (bool, error) {
	bootstrap, isBootstrap := call.Callee.(*instr.Bootstrap)
	if isBootstrap {
		switch bootstrap.Op {
		case instr.OpBranch:
			target := l.blocks[call.Generics[0].BlockID]
			l.insertPendingPhiLoads(block, b.ID)
			block.NewBr(target)
			return true, nil
		case instr.OpBranchIf:
			cond := l.load(block, call.Args[0])
			condBit := block.NewICmp(enum.IPredNE, cond, constant.NewInt(types.I64, 0))
			thenB := l.blocks[call.Generics[0].BlockID]
			elseB := l.blocks[call.Generics[1].BlockID]
			l.insertPendingPhiLoads(block, b.ID)
			block.NewCondBr(condBit, thenB, elseB)
			return true, nil
		case instr.OpReturn:
			l.insertPendingPhiLoads(block, b.ID)
			if len(call.Args) == 0 {
				block.NewRet(constant.NewInt(types.I64, 0))
			} else {
				block.NewRet(l.load(block, call.Args[0]))
			}
			return true, nil
		case instr.OpInvoke:
			// No first-class function values in this model; always takes
			// the "then" edge, matching ExecComplex's own simplification.
			target := l.blocks[call.Generics[0].BlockID]
			l.insertPendingPhiLoads(block, b.ID)
			block.NewBr(target)
			return true, nil
		case instr.OpSetState:
			fn := l.g.runtimeHelper("corevm.rt.set_state", 1)
			idx := int64(litBits(call.Generics[0].ConstValue))
			cl := block.NewCall(fn, constant.NewInt(types.I64, idx))
			cl.Tail = enum.TailNone
			return false, nil
		default:
			return false, l.lowerBootstrapOp(block, bootstrap, call.Args, call.Rets)
		}
	}

	result, tail, err := l.lowerNestedCall(block, call, statIdx == len(b.Stat)-1)
	if err != nil {
		return false, err
	}
	if len(call.Rets) > 0 {
		l.store(block, call.Rets[0], result)
	}
	_ = tail
	return false, nil
}

// lowerBootstrapOp emits the genuine LLVM instruction(s) for one
// value-producing Bootstrap op (spec.md §4.2's Arith/cmp/Bit/Casts
// groups); ops outside that primitive-instruction surface (memory,
// aggregate, enum, misc — anything operating on the boxed heap model
// rather than two flat register values) lower to a call against a
// declared runtime-helper function, the same "intrinsic call" shape a
// real compiler uses for operations a target's instruction set can't
// express directly.
func (l *llvmBuilder) lowerBootstrapOp(block *ir.Block, b *instr.Bootstrap, args, rets []string) error {
	get := func(i int) value.Value { return l.load(block, args[i]) }
	set := func(i int, v value.Value) { l.store(block, rets[i], v) }
	signed := b.IntKind.Signed()

	switch b.Op {
	case instr.OpAdd:
		set(0, block.NewAdd(get(0), get(1)))
	case instr.OpSub:
		set(0, block.NewSub(get(0), get(1)))
	case instr.OpMul:
		set(0, block.NewMul(get(0), get(1)))
	case instr.OpDiv:
		if signed {
			set(0, block.NewSDiv(get(0), get(1)))
		} else {
			set(0, block.NewUDiv(get(0), get(1)))
		}
	case instr.OpRem:
		if signed {
			set(0, block.NewSRem(get(0), get(1)))
		} else {
			set(0, block.NewURem(get(0), get(1)))
		}
	case instr.OpNeg:
		set(0, block.NewSub(constant.NewInt(types.I64, 0), get(0)))

	case instr.OpFAdd, instr.OpFSub, instr.OpFMul, instr.OpFDiv, instr.OpFRem, instr.OpFNeg:
		return l.lowerFloatOp(block, b, args, rets)

	case instr.OpCmpEQ:
		set(0, zext(block, block.NewICmp(enum.IPredEQ, get(0), get(1))))
	case instr.OpCmpNE:
		set(0, zext(block, block.NewICmp(enum.IPredNE, get(0), get(1))))
	case instr.OpCmpLT:
		set(0, zext(block, block.NewICmp(enum.IPredSLT, get(0), get(1))))
	case instr.OpCmpLE:
		set(0, zext(block, block.NewICmp(enum.IPredSLE, get(0), get(1))))
	case instr.OpCmpGT:
		set(0, zext(block, block.NewICmp(enum.IPredSGT, get(0), get(1))))
	case instr.OpCmpGE:
		set(0, zext(block, block.NewICmp(enum.IPredSGE, get(0), get(1))))
	case instr.OpUCmpLT:
		set(0, zext(block, block.NewICmp(enum.IPredULT, get(0), get(1))))
	case instr.OpUCmpLE:
		set(0, zext(block, block.NewICmp(enum.IPredULE, get(0), get(1))))
	case instr.OpUCmpGT:
		set(0, zext(block, block.NewICmp(enum.IPredUGT, get(0), get(1))))
	case instr.OpUCmpGE:
		set(0, zext(block, block.NewICmp(enum.IPredUGE, get(0), get(1))))

	case instr.OpAnd:
		set(0, block.NewAnd(get(0), get(1)))
	case instr.OpOr:
		set(0, block.NewOr(get(0), get(1)))
	case instr.OpXor:
		set(0, block.NewXor(get(0), get(1)))
	case instr.OpShl:
		set(0, block.NewShl(get(0), get(1)))
	case instr.OpShr:
		set(0, block.NewAShr(get(0), get(1)))
	case instr.OpUshr:
		set(0, block.NewLShr(get(0), get(1)))
	case instr.OpNot:
		set(0, block.NewXor(get(0), constant.NewInt(types.I64, -1)))

	case instr.OpIntExtend, instr.OpUIntExtend, instr.OpIntTruncate, instr.OpCastUnchecked:
		// Every register is already modeled as i64 storage (spec.md §4.1's
		// flat value model); narrower int kinds are represented by their
		// masked bit pattern rather than a distinct LLVM integer width, so
		// these casts are value-preserving moves at the IR level — the
		// bit-masking itself happens in the interpreter's maskTo, the
		// execution path this IR is not JIT-compiled to replace (see
		// DESIGN.md "native execution").
		set(0, get(0))
	case instr.OpIntToFloat, instr.OpFloatToInt, instr.OpFloatToFloat:
		return l.lowerFloatOp(block, b, args, rets)

	default:
		fn := l.g.runtimeHelper(runtimeHelperName(b.Op), len(args))
		vs := make([]value.Value, len(args))
		for i := range args {
			vs[i] = get(i)
		}
		call := block.NewCall(fn, vs...)
		if len(rets) > 0 {
			set(0, call)
		}
	}
	return nil
}

// lowerFloatOp handles the float-kind arith/cmp/cast ops: the i64
// register storage is bitcast to double around the operation, since the
// flat value model keeps a float's bit pattern in the same 8-byte slot
// a double occupies (typemodel.FloatType's Layout).
func (l *llvmBuilder) lowerFloatOp(block *ir.Block, b *instr.Bootstrap, args, rets []string) error {
	getF := func(i int) value.Value { return block.NewBitCast(l.load(block, args[i]), types.Double) }
	setF := func(i int, v value.Value) { l.store(block, rets[i], block.NewBitCast(v, types.I64)) }
	set := func(i int, v value.Value) { l.store(block, rets[i], v) }

	switch b.Op {
	case instr.OpFAdd:
		setF(0, block.NewFAdd(getF(0), getF(1)))
	case instr.OpFSub:
		setF(0, block.NewFSub(getF(0), getF(1)))
	case instr.OpFMul:
		setF(0, block.NewFMul(getF(0), getF(1)))
	case instr.OpFDiv:
		setF(0, block.NewFDiv(getF(0), getF(1)))
	case instr.OpFRem:
		setF(0, block.NewFRem(getF(0), getF(1)))
	case instr.OpFNeg:
		setF(0, block.NewFSub(constant.NewFloat(types.Double, 0), getF(0)))
	case instr.OpFCmpEQ:
		set(0, zext(block, block.NewFCmp(enum.FPredOEQ, getF(0), getF(1))))
	case instr.OpFCmpNE:
		set(0, zext(block, block.NewFCmp(enum.FPredONE, getF(0), getF(1))))
	case instr.OpFCmpLT:
		set(0, zext(block, block.NewFCmp(enum.FPredOLT, getF(0), getF(1))))
	case instr.OpFCmpLE:
		set(0, zext(block, block.NewFCmp(enum.FPredOLE, getF(0), getF(1))))
	case instr.OpFCmpGT:
		set(0, zext(block, block.NewFCmp(enum.FPredOGT, getF(0), getF(1))))
	case instr.OpFCmpGE:
		set(0, zext(block, block.NewFCmp(enum.FPredOGE, getF(0), getF(1))))
	case instr.OpIntToFloat:
		if b.IntKind.Signed() {
			setF(0, block.NewSIToFP(l.load(block, args[0]), types.Double))
		} else {
			setF(0, block.NewUIToFP(l.load(block, args[0]), types.Double))
		}
	case instr.OpFloatToInt:
		if b.IntKind.Signed() {
			set(0, block.NewFPToSI(getF(0), types.I64))
		} else {
			set(0, block.NewFPToUI(getF(0), types.I64))
		}
	case instr.OpFloatToFloat:
		set(0, l.load(block, args[0]))
	default:
		return fmt.Errorf("lowerFloatOp: unhandled op %d", b.Op)
	}
	return nil
}

func zext(block *ir.Block, cmp value.Value) value.Value {
	return block.NewZExt(cmp, types.I64)
}

// runtimeHelperName maps a non-primitive Bootstrap op to the runtime
// helper it calls out to (spec.md §4.2's Memory/Aggregate/Enum/Misc
// groups operate on the boxed heap the GC/Shape packages own, not on
// two flat register values an LLVM instruction can compute directly).
func runtimeHelperName(op instr.BootstrapOp) string {
	return fmt.Sprintf("corevm.rt.op%d", op)
}

// runtimeHelper returns (declaring on first use) an external function
// symbol representing a native runtime entry point: a genuine call
// target in the module with no body, exactly how a real compiler lowers
// an operation the target instruction set can't express inline.
func (g *Generator) runtimeHelper(name string, arity int) *ir.Func {
	if fn, ok := g.helpers[name]; ok {
		return fn
	}
	params := make([]*ir.Param, arity)
	for i := range params {
		params[i] = ir.NewParam("", types.I64)
	}
	fn := g.module.NewFunc(llvmSafeName(name), types.I64, params...)
	// No blocks ever get appended to fn: llir/llvm prints a function with
	// zero blocks as an external `declare`, exactly the runtime-linked
	// symbol shape this helper call needs.
	g.helpers[name] = fn
	return fn
}

// lowerNestedCall lowers a call to a non-Bootstrap callee (Complex/
// Stateful/Compression) into a genuine LLVM `call` against that
// callee's own lowered function, built lazily and memoized by identity
// so repeated calls to the same instruction share one *ir.Func — the
// tail-threaded dispatch spec.md §4.4 asks for is modeled by marking a
// call in a block's final statement position (the callee's result flows
// straight to this block's own terminator, the shape a tail call needs)
// with LLVM's `tail` marker.
func (l *llvmBuilder) lowerNestedCall(block *ir.Block, call *instr.InstructionCall, lastStat bool) (value.Value, bool, error) {
	callee, err := l.g.lowerCallee(call.Callee)
	if err != nil {
		return nil, false, err
	}
	args := make([]value.Value, len(call.Args))
	for i, a := range call.Args {
		args[i] = l.load(block, a)
	}
	cl := block.NewCall(callee, args...)
	if lastStat {
		cl.Tail = enum.TailTail
	}
	return cl, lastStat, nil
}

// lowerCallee lazily builds (and memoizes by pointer identity) the real
// *ir.Func backing a nested Complex/Stateful/Compression callee, so a
// Complex body's InstructionCall to another instruction becomes an
// actual LLVM call site rather than one only the tree-walking
// interpreter understands.
func (g *Generator) lowerCallee(i instr.Instruction) (*ir.Func, error) {
	if fn, ok := g.nested[i]; ok {
		return fn, nil
	}
	meta := instr.CachedMetadata(i)
	wantIn := 0
	for _, op := range meta.Operands {
		if op.Input {
			wantIn++
		}
	}
	params := make([]*ir.Param, wantIn)
	for n := range params {
		params[n] = ir.NewParam("", types.I64)
	}
	fn := g.module.NewFunc(llvmSafeName(fmt.Sprintf("%s.%d", i.InstrName(), len(g.nested))), types.I64, params...)
	g.nested[i] = fn // memoize before lowering the body: guards against cycles

	switch callee := i.(type) {
	case *instr.Complex:
		if err := g.lowerComplex(fn, callee); err != nil {
			return nil, err
		}
	case *instr.Bootstrap:
		entry := fn.NewBlock("entry")
		argNames, retNames := syntheticNames(callee.Meta)
		env := &llvmBuilder{g: g, fn: fn, entry: entry, blocks: map[int]*ir.Block{}, allocas: map[string]*ir.InstAlloca{}, phis: map[int][]*ir.InstPhi{}, phiMeta: map[*ir.InstPhi]instr.Phi{}}
		for pi, n := range argNames {
			env.allocas[n] = entry.NewAlloca(types.I64)
			entry.NewStore(fn.Params[pi], env.allocas[n])
		}
		for _, n := range retNames {
			if _, ok := env.allocas[n]; !ok {
				env.allocas[n] = entry.NewAlloca(types.I64)
			}
		}
		if err := env.lowerBootstrapOp(entry, callee, argNames, retNames); err != nil {
			return nil, err
		}
		if len(retNames) > 0 {
			entry.NewRet(env.load(entry, retNames[0]))
		} else {
			entry.NewRet(constant.NewInt(types.I64, 0))
		}
	case *instr.Stateful:
		// The boost state's body stands in for the family: which state
		// actually runs is runtime-selected (Generator.stateOf), a piece
		// of deploy-table state this structural IR doesn't model (see
		// DESIGN.md "native execution"), so only one representative body
		// is lowered for introspection/verification purposes.
		idx := callee.BoostIndex()
		if idx < 0 || idx >= len(callee.Statuses) {
			return nil, cerrors.NewCompileError(cerrors.IndexOutOfRange, cerrors.Attribution{Function: callee.Name}, "stateful instruction has no boost state")
		}
		if err := g.lowerComplex(fn, callee.Statuses[idx].Body); err != nil {
			return nil, err
		}
	case *instr.Compression:
		// A Compression reached as a nested callee without its sub-opcode
		// resolved (spec.md §4.3 "lowering a Compression instruction")
		// has no single fixed body; emitting `unreachable` here is the
		// honest IR-level statement that this path is never taken as
		// structural IR, matching Invoke's own rejection of a bare
		// Compression as a top-level entry point.
		entry := fn.NewBlock("entry")
		entry.NewUnreachable()
	default:
		return nil, fmt.Errorf("lowerCallee: unhandled instruction variant %T", i)
	}
	return fn, nil
}
