//go:build amd64

package jit

import (
	"math"

	"go.uber.org/zap"

	"tracejit/value"
)

// objHeaderSize is the byte offset of field 0 within a host object, past
// the class-pointer header word; field i lives at objHeaderSize + i*8.
const objHeaderSize = 8

// frameScratchBytes is the extra frame area past the spill slots, used to
// marshal bit patterns between the GP and FP register files through
// memory.
const frameScratchBytes = 16

// CodeGen lowers a register-allocated, optimized Buffer into a native code
// blob through a Backend.
type CodeGen struct {
	backend Backend
	log     *zap.SugaredLogger
}

// NewCodeGen constructs a code generator over the given backend.
func NewCodeGen(backend Backend, log *zap.SugaredLogger) *CodeGen {
	if log == nil {
		log = newNopLogger()
	}
	return &CodeGen{backend: backend, log: log}
}

// SideExitStub records where one snapshot's deoptimization stub landed in
// the assembled code, so the caller can build the trace's exit table.
type SideExitStub struct {
	SnapshotID int32
	Offset     int
}

// GeneratedCode is the output of one Generate call.
type GeneratedCode struct {
	Code        []byte
	EntryOffset int
	SideExits   []SideExitStub
	SpillSlots  int

	// GCRoots holds the object-pointer constant payloads embedded in the
	// emitted code, for the collector to trace while the trace is live.
	GCRoots []uintptr
}

// Generate walks b in SSA order and emits one instruction group per live
// node. alloc and spillSlots come from RegAlloc.
func (cg *CodeGen) Generate(b *Buffer, alloc map[int32]Allocation, spillSlots int) (*GeneratedCode, error) {
	ctx, err := cg.backend.NewContext()
	if err != nil {
		return nil, err
	}
	defer ctx.Dispose()

	entry := ctx.NewLabel()
	ctx.BindLabel(entry)

	ctx.Prologue(spillSlots*8 + frameScratchBytes)

	var headerLabel Label = -1
	exitLabels := map[int32]Label{}
	var exitOrder []int32

	exitLabelFor := func(snap int32) Label {
		if l, ok := exitLabels[snap]; ok {
			return l
		}
		l := ctx.NewLabel()
		exitLabels[snap] = l
		exitOrder = append(exitOrder, snap)
		return l
	}

	opnd := func(id int32) Operand {
		if id == NoOperand {
			return Operand{}
		}
		a, ok := alloc[id]
		if !ok {
			return Operand{}
		}
		return physOperand(a)
	}

	// objectBase strips the NaN-box tag bits from a boxed object pointer
	// and leaves the raw address in the second GP scratch, so field and
	// class-header accesses can dereference it.
	objectBase := func(loc Operand) int {
		base := Operand{Reg: int(gpScratch1)}
		ctx.AndImmUnsigned(base, loc, uint64(value.PointerMask))
		return base.Reg
	}

	for i := range b.Nodes {
		n := &b.Nodes[i]
		if n.Dead() {
			continue
		}
		id := int32(i)
		dst := opnd(id)

		switch n.Op {
		case OpNop, OpSnapshot:
			// Metadata only; nothing to lower.

		case OpLoopHeader:
			headerLabel = ctx.NewLabel()
			ctx.BindLabel(headerLabel)

		case OpLoopBack:
			// The PHI back-edge copies must land before the jump or they
			// are unreachable.
			closePhiBackedges(ctx, b, opnd)
			if headerLabel >= 0 {
				ctx.Jump(headerLabel)
			}

		case OpSideExit:
			ctx.Jump(exitLabelFor(n.Imm.Snap))

		case OpPhi:
			// The pre-loop value is copied into the PHI's home location
			// once, at the point the PHI node sits in the pre-header
			// reserved region. The back-edge copy happens when loop-back
			// is lowered, below.
			ctx.MoveRegToReg(regClassOf(n.Type), dst, opnd(n.Operand0))

		case OpConstNum:
			ctx.LoadImmFloatBits(dst, math.Float64bits(n.Imm.Num), Operand{Reg: int(gpScratch0)})

		case OpConstInt:
			ctx.LoadImmInt(dst, n.Imm.Int)

		case OpConstBool:
			ctx.LoadImmInt(dst, int64(uint64(value.Bool(n.Imm.Bool))))

		case OpConstNull:
			ctx.LoadImmInt(dst, int64(uint64(value.Null)))

		case OpConstObj:
			ctx.LoadImmInt(dst, int64(uint64(value.ObjPtr(n.Imm.Ptr))))

		case OpLoadStack:
			mem := Operand{IsMemory: true, BaseReg: int(regStackBase), Disp: int32(n.Imm.Slot * 8)}
			ctx.MoveRegToReg(ClassGP, dst, mem)

		case OpStoreStack:
			mem := Operand{IsMemory: true, BaseReg: int(regStackBase), Disp: int32(n.Imm.Slot * 8)}
			ctx.MoveRegToReg(ClassGP, mem, opnd(n.Operand0))

		case OpLoadModVar:
			mem := Operand{IsMemory: true, BaseReg: int(regModuleBase), Disp: int32(n.Imm.Addr * 8)}
			ctx.MoveRegToReg(ClassGP, dst, mem)

		case OpStoreMod:
			mem := Operand{IsMemory: true, BaseReg: int(regModuleBase), Disp: int32(n.Imm.Addr * 8)}
			ctx.MoveRegToReg(ClassGP, mem, opnd(n.Operand0))

		case OpLoadField:
			base := objectBase(opnd(n.Operand0))
			mem := Operand{IsMemory: true, BaseReg: base, Disp: int32(objHeaderSize + n.Imm.Field*8)}
			ctx.MoveRegToReg(ClassGP, dst, mem)

		case OpStoreField:
			base := objectBase(opnd(n.Operand0))
			mem := Operand{IsMemory: true, BaseReg: base, Disp: int32(objHeaderSize + n.Imm.Field*8)}
			ctx.MoveRegToReg(ClassGP, mem, opnd(n.Operand1))

		case OpBoxNum, OpUnboxNum:
			// A real double already carries its boxed representation in
			// its own bit pattern (the NaN-boxing scheme stores ordinary
			// numbers untagged); box/unbox is a same-bits move across the
			// GP/FP register file boundary.
			ctx.MoveRegToReg(ClassGP, dst, opnd(n.Operand0))

		case OpUnboxInt:
			// Unlike unbox-num, this has to produce the exact signed
			// 64-bit integer the double encodes (integer-typed nodes run
			// through ArithInt, not ArithFloat), so the boxed bits are
			// shuttled into an FP register and genuinely converted rather
			// than reinterpreted.
			scratch := Operand{Reg: int(fpScratch0)}
			ctx.MoveRegToReg(ClassGP, scratch, opnd(n.Operand0))
			ctx.ConvertFloatToInt(dst, scratch)

		case OpBoxInt:
			scratch := Operand{Reg: int(fpScratch0)}
			ctx.ConvertIntToFloat(scratch, opnd(n.Operand0))
			ctx.MoveRegToReg(ClassGP, dst, scratch)

		case OpBoxBool:
			falseLabel := ctx.NewLabel()
			doneLabel := ctx.NewLabel()
			ctx.JumpIfZero(opnd(n.Operand0), falseLabel)
			ctx.LoadImmInt(dst, int64(uint64(value.True)))
			ctx.Jump(doneLabel)
			ctx.BindLabel(falseLabel)
			ctx.LoadImmInt(dst, int64(uint64(value.False)))
			ctx.BindLabel(doneLabel)

		case OpBoxObj:
			ctx.OrImm(dst, opnd(n.Operand0), uint64(value.QNANMask|value.SignBit))

		case OpUnboxObj:
			ctx.AndImmUnsigned(dst, opnd(n.Operand0), uint64(value.PointerMask))

		case OpAdd, OpSub, OpMul, OpDiv, OpMod:
			if n.Type == TNum {
				ctx.ArithFloat(n.Op, dst, opnd(n.Operand0), opnd(n.Operand1))
			} else {
				ctx.ArithInt(n.Op, dst, opnd(n.Operand0), opnd(n.Operand1))
			}

		case OpNeg:
			if n.Type == TNum {
				zero := Operand{Reg: int(fpScratch1)}
				ctx.LoadImmFloatBits(zero, 0, Operand{Reg: int(gpScratch0)})
				ctx.ArithFloat(OpSub, dst, zero, opnd(n.Operand0))
			} else {
				zero := Operand{Reg: int(gpScratch1)}
				ctx.LoadImmInt(zero, 0)
				ctx.ArithInt(OpSub, dst, zero, opnd(n.Operand0))
			}

		case OpBitNot:
			ctx.BitNot(dst, opnd(n.Operand0))

		case OpShl:
			ctx.ShiftLeft(dst, opnd(n.Operand0), n.Imm.Int)

		case OpBitAnd:
			mask, _ := constInt(b, n.Operand1)
			ctx.AndImm(dst, opnd(n.Operand0), mask)

		case OpLt, OpGt, OpLte, OpGte, OpEq, OpNeq:
			ctx.Compare(asmCondOf(n.Op), regClassOf(b.Nodes[n.Operand0].Type), dst, opnd(n.Operand0), opnd(n.Operand1))

		case OpGuardNum:
			// IsNum is (v & qnan) != qnan: mask then compare against qnan,
			// exit on equality.
			tmp := Operand{Reg: int(gpScratch0)}
			ctx.AndImmUnsigned(tmp, opnd(n.Operand0), uint64(value.QNANMask))
			maskVal := Operand{Reg: int(gpScratch1)}
			ctx.LoadImmInt(maskVal, int64(uint64(value.QNANMask)))
			eq := Operand{Reg: int(gpScratch0)}
			ctx.Compare(AsmEqual, ClassGP, eq, tmp, maskVal)
			ctx.JumpIfNotZero(eq, exitLabelFor(n.Imm.Snap))

		case OpGuardClass:
			base := objectBase(opnd(n.Operand0))
			mem := Operand{IsMemory: true, BaseReg: base, Disp: 0}
			classPtr := Operand{Reg: int(gpScratch0)}
			ctx.LoadImmInt(classPtr, int64(n.Imm.Ptr))
			eq := Operand{Reg: int(gpScratch0)}
			ctx.Compare(AsmNotEqual, ClassGP, eq, mem, classPtr)
			ctx.JumpIfNotZero(eq, exitLabelFor(n.Imm.Snap))

		case OpGuardTrue:
			// A raw bool is a 0/1 word; a boxed value is truthy unless it
			// is the false or null encoding, both of which are nonzero bit
			// patterns, so they need explicit equality tests.
			if b.Nodes[n.Operand0].Type == TBool {
				ctx.JumpIfZero(opnd(n.Operand0), exitLabelFor(n.Imm.Snap))
			} else {
				exit := exitLabelFor(n.Imm.Snap)
				sentinel := Operand{Reg: int(gpScratch1)}
				eq := Operand{Reg: int(gpScratch0)}
				ctx.LoadImmInt(sentinel, int64(uint64(value.False)))
				ctx.Compare(AsmEqual, ClassGP, eq, opnd(n.Operand0), sentinel)
				ctx.JumpIfNotZero(eq, exit)
				ctx.LoadImmInt(sentinel, int64(uint64(value.Null)))
				ctx.Compare(AsmEqual, ClassGP, eq, opnd(n.Operand0), sentinel)
				ctx.JumpIfNotZero(eq, exit)
			}

		case OpGuardFalse:
			if b.Nodes[n.Operand0].Type == TBool {
				ctx.JumpIfNotZero(opnd(n.Operand0), exitLabelFor(n.Imm.Snap))
			} else {
				falsy := ctx.NewLabel()
				sentinel := Operand{Reg: int(gpScratch1)}
				eq := Operand{Reg: int(gpScratch0)}
				ctx.LoadImmInt(sentinel, int64(uint64(value.False)))
				ctx.Compare(AsmEqual, ClassGP, eq, opnd(n.Operand0), sentinel)
				ctx.JumpIfNotZero(eq, falsy)
				ctx.LoadImmInt(sentinel, int64(uint64(value.Null)))
				ctx.Compare(AsmEqual, ClassGP, eq, opnd(n.Operand0), sentinel)
				ctx.JumpIfZero(eq, exitLabelFor(n.Imm.Snap))
				ctx.BindLabel(falsy)
			}

		case OpGuardNotNull:
			nullVal := Operand{Reg: int(gpScratch1)}
			ctx.LoadImmInt(nullVal, int64(uint64(value.Null)))
			eq := Operand{Reg: int(gpScratch0)}
			ctx.Compare(AsmEqual, ClassGP, eq, opnd(n.Operand0), nullVal)
			ctx.JumpIfNotZero(eq, exitLabelFor(n.Imm.Snap))

		case OpCall:
			// Calls bail the trace out to the interpreter in this backend;
			// a call site is always immediately followed by a guard or
			// side-exit in valid traces, so there is nothing further to
			// lower here.

		default:
		}
	}

	// Side-exit stubs: for each snapshot a guard can deoptimize through,
	// spill every live SSA id the snapshot names back to its interpreter
	// stack slot, then return the snapshot's id plus one: a deopt is just a
	// normal return with a nonzero code.
	for _, snap := range exitOrder {
		ctx.BindLabel(exitLabels[snap])
		for _, e := range b.SnapshotEntries(snap) {
			mem := Operand{IsMemory: true, BaseReg: int(regStackBase), Disp: int32(e.Slot * 8)}
			ctx.MoveRegToReg(regClassOf(b.Nodes[e.ID].Type), mem, opnd(e.ID))
		}
		ctx.ReturnImm(int64(snap) + 1)
	}

	code, offsets, err := ctx.Assemble()
	if err != nil {
		return nil, err
	}

	out := &GeneratedCode{
		Code:        code,
		EntryOffset: offsets[entry],
		SpillSlots:  spillSlots,
	}
	for _, snap := range exitOrder {
		out.SideExits = append(out.SideExits, SideExitStub{SnapshotID: snap, Offset: offsets[exitLabels[snap]]})
	}
	// Object-pointer constants are baked into the code as immediates; the
	// collector has to learn about them from the trace's root list since it
	// cannot scan native code.
	for i := range b.Nodes {
		n := &b.Nodes[i]
		if !n.Dead() && n.Op == OpConstObj {
			out.GCRoots = append(out.GCRoots, n.Imm.Ptr)
		}
	}
	return out, nil
}

// closePhiBackedges copies each PHI's back-edge operand into the PHI's home
// location right before control jumps back to the loop header, completing
// the loop-carry started when the PHI node itself was lowered.
func closePhiBackedges(ctx BackendContext, b *Buffer, opnd func(int32) Operand) {
	for i := range b.Nodes {
		n := &b.Nodes[i]
		if n.Dead() || n.Op != OpPhi {
			continue
		}
		ctx.MoveRegToReg(regClassOf(n.Type), opnd(int32(i)), opnd(n.Operand1))
	}
}

func regClassOf(t Type) RegClass {
	if t == TNum {
		return ClassFP
	}
	return ClassGP
}

func asmCondOf(op Op) CondKindAsm {
	switch op {
	case OpLt:
		return AsmLess
	case OpGt:
		return AsmGreater
	case OpLte:
		return AsmLessEqual
	case OpGte:
		return AsmGreaterEqual
	case OpEq:
		return AsmEqual
	case OpNeq:
		return AsmNotEqual
	}
	return AsmEqual
}

func physOperand(a Allocation) Operand {
	if a.Spilled() {
		return Operand{IsMemory: true, BaseReg: int(regFramePtr), Disp: int32(a.Spill * 8)}
	}
	if a.Class == ClassFP {
		return Operand{Reg: int(fpRegs[a.Reg])}
	}
	return Operand{Reg: int(gpRegs[a.Reg])}
}
