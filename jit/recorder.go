package jit

import "go.uber.org/zap"

// recState is the recorder's own lifecycle state: an abort increments a
// counter and returns the recorder to idle.
type recState uint8

const (
	recIdle recState = iota
	recRecording
)

const maxStackSlots = 256

type slotEntry struct {
	id   int32
	live bool
}

// CondKind distinguishes the three forms of conditional forward branch the
// recorder's per-bytecode contract treats uniformly but guards in opposite
// directions.
type CondKind uint8

const (
	CondIf CondKind = iota // plain conditional forward branch (pops unconditionally)
	CondAnd                // logical-and short-circuit (pops only on fallthrough)
	CondOr                 // logical-or short-circuit (pops only on fallthrough)
)

// CallOperand is what the host reports about a method-call receiver or
// argument: just enough concrete runtime shape for the recorder to decide
// which path to record from the values actually observed.
type CallOperand struct {
	IsNum          bool
	IsRange        bool
	RangeFrom      float64
	RangeTo        float64
	RangeInclusive bool
	RangeClassPtr  uintptr
}

// Recorder turns one dynamic iteration of a hot loop into SSA IR. It is
// driven by the host interpreter one executed
// bytecode instruction at a time; every method below is a no-op once the
// recorder has aborted or finished, so callers never need to check state
// before calling through.
type Recorder struct {
	cfg Config
	log *zap.SugaredLogger

	state    recState
	buf      *Buffer
	slots    [maxStackSlots]slotEntry
	stackTop uint32

	instrCount int
	callDepth  int

	abortReason  AbortReason
	abortCount   uint64
	compileCount uint64

	// onAbort, if set, is called with the anchor PC of the trace that
	// just failed to record, so Core can re-arm that PC's hot counter —
	// an abort is retryable control flow, not a permanent
	// "never record this loop again" verdict.
	onAbort func(anchorPC uint32)
}

// SetAbortHook installs fn as the callback abort() invokes on every abort,
// regardless of which recorder method triggered it.
func (r *Recorder) SetAbortHook(fn func(anchorPC uint32)) { r.onAbort = fn }

// NewRecorder constructs an idle recorder. A single instance is reused
// across traces; the IR buffer is owned exclusively by one trace's
// pipeline at a time.
func NewRecorder(cfg Config, log *zap.SugaredLogger) *Recorder {
	if log == nil {
		log = newNopLogger()
	}
	return &Recorder{cfg: cfg, log: log}
}

// Active reports whether the recorder is mid-trace.
func (r *Recorder) Active() bool { return r.state == recRecording }

// AbortReason returns the reason recording last stopped, valid only after
// a call that aborted.
func (r *Recorder) AbortReason() AbortReason { return r.abortReason }

// AbortCount and CompileCount are the counters every JIT failure or
// success surfaces through, and nothing else.
func (r *Recorder) AbortCount() uint64   { return r.abortCount }
func (r *Recorder) CompileCount() uint64 { return r.compileCount }

// Start begins recording one iteration at anchorPC: reset state, pre-allocate the pre-header no-op slots, emit
// the loop-header node, then emit a load-stack node for each live
// interpreter slot at entry and seed the slot map.
func (r *Recorder) Start(anchorPC uint32, liveEntrySlots []uint32) {
	r.buf = NewBuffer(anchorPC)
	r.state = recRecording
	r.instrCount = 0
	r.callDepth = 0
	r.abortReason = AbortNone
	r.stackTop = 0
	for i := range r.slots {
		r.slots[i] = slotEntry{}
	}

	n := r.cfg.PreHeaderReservedNodes
	if n%2 != 0 {
		n++
	}
	for i := 0; i < n; i++ {
		r.buf.Emit(Node{Op: OpNop})
	}

	hdr := r.buf.Emit(Node{Op: OpLoopHeader, Operand0: NoOperand, Operand1: NoOperand})
	r.buf.LoopHeader = hdr

	top := uint32(0)
	for _, slot := range liveEntrySlots {
		id := r.buf.Emit(Node{Op: OpLoadStack, Type: TValue, Operand0: NoOperand, Operand1: NoOperand, Imm: Imm{Slot: slot}})
		r.setSlot(slot, id)
		if slot+1 > top {
			top = slot + 1
		}
	}
	r.stackTop = top

	r.log.Debugw("recording started", "anchor_pc", anchorPC, "live_slots", len(liveEntrySlots))
}

func (r *Recorder) setSlot(slot uint32, id int32) {
	r.slots[slot] = slotEntry{id: id, live: true}
}

func (r *Recorder) popID() int32 {
	r.stackTop--
	s := &r.slots[r.stackTop]
	id := s.id
	s.live = false
	return id
}

func (r *Recorder) pushID(id int32) {
	r.setSlot(r.stackTop, id)
	r.stackTop++
}

// beginInstr enforces the instruction-count bound on trace length and
// reports whether the caller should
// proceed. It returns false both when the recorder is already idle and
// when this instruction pushes past the bound (in which case it aborts).
func (r *Recorder) beginInstr() bool {
	if r.state != recRecording {
		return false
	}
	r.instrCount++
	if r.instrCount > r.cfg.MaxInstructionsPerTrace {
		r.abort(AbortInstructionCountExceeded)
		return false
	}
	return true
}

func (r *Recorder) abort(reason AbortReason) {
	if r.state != recRecording {
		return
	}
	r.state = recIdle
	r.abortReason = reason
	r.abortCount++
	r.log.Debugw("recording aborted", "anchor_pc", r.buf.AnchorPC, "reason", reason.String())
	if r.onAbort != nil {
		r.onAbort(r.buf.AnchorPC)
	}
}

// Abort lets the host force an abort for a reason it alone can detect
// (e.g. an opcode the recorder has no row for).
func (r *Recorder) Abort(reason AbortReason) { r.abort(reason) }

func (r *Recorder) emit(n Node) int32 {
	id := r.buf.Emit(n)
	if id == NoOperand {
		r.abort(AbortIRBufferFull)
	}
	return id
}

// emitSnapshot builds a snapshot at the given resume PC and interpreter
// stack depth, capturing every currently-live stack slot as a snapshot
// entry. Aborts when the trace's snapshot or per-snapshot entry budget is
// exhausted.
func (r *Recorder) emitSnapshot(resumePC uint32, stackDepth int) int32 {
	if len(r.buf.Snapshots) >= r.cfg.MaxSnapshots {
		r.abort(AbortSnapshotLimit)
		return NoOperand
	}
	entries := make([]SnapshotEntry, 0, r.stackTop)
	for slot := uint32(0); slot < r.stackTop; slot++ {
		if r.slots[slot].live {
			entries = append(entries, SnapshotEntry{Slot: int(slot), ID: r.slots[slot].id})
		}
	}
	if len(entries) > r.cfg.MaxSnapshotEntriesPerSnapshot {
		r.abort(AbortSnapshotLimit)
		return NoOperand
	}
	return r.buf.AddSnapshot(resumePC, stackDepth, entries)
}

// --- push / store / pop -----------------------------------------------

func (r *Recorder) PushLocal(slot uint32) {
	if !r.beginInstr() {
		return
	}
	s := r.slots[slot]
	if !s.live {
		// Not yet tracked (e.g. a local never written this iteration):
		// establish it the same way Start does for entry slots.
		id := r.emit(Node{Op: OpLoadStack, Type: TValue, Operand0: NoOperand, Operand1: NoOperand, Imm: Imm{Slot: slot}})
		if r.state != recRecording {
			return
		}
		r.setSlot(slot, id)
		s = r.slots[slot]
	}
	r.pushID(s.id)
}

func (r *Recorder) PushConstNum(f float64) {
	if !r.beginInstr() {
		return
	}
	id := r.emit(Node{Op: OpConstNum, Type: TNum, Operand0: NoOperand, Operand1: NoOperand, Imm: Imm{Num: f}})
	if r.state != recRecording {
		return
	}
	// Constants are produced unboxed-adjacent: box immediately so the
	// logical stack always carries boxed values, matching what a real
	// push-constant bytecode does.
	boxed := r.emit(Node{Op: OpBoxNum, Type: TValue, Operand0: id, Operand1: NoOperand})
	if r.state != recRecording {
		return
	}
	r.pushID(boxed)
}

func (r *Recorder) PushConstBool(b bool) {
	if !r.beginInstr() {
		return
	}
	id := r.emit(Node{Op: OpConstBool, Type: TValue, Operand0: NoOperand, Operand1: NoOperand, Imm: Imm{Bool: b}})
	if r.state != recRecording {
		return
	}
	r.pushID(id)
}

func (r *Recorder) PushConstNull() {
	if !r.beginInstr() {
		return
	}
	id := r.emit(Node{Op: OpConstNull, Type: TValue, Operand0: NoOperand, Operand1: NoOperand})
	if r.state != recRecording {
		return
	}
	r.pushID(id)
}

func (r *Recorder) PushConstObj(ptr uintptr) {
	if !r.beginInstr() {
		return
	}
	id := r.emit(Node{Op: OpConstObj, Type: TValue, Operand0: NoOperand, Operand1: NoOperand, Imm: Imm{Ptr: ptr}})
	if r.state != recRecording {
		return
	}
	r.pushID(id)
}

func (r *Recorder) StoreLocal(slot uint32) {
	if !r.beginInstr() {
		return
	}
	if r.stackTop == 0 {
		r.abort(AbortStackUnderflow)
		return
	}
	valID := r.slots[r.stackTop-1].id
	r.emit(Node{Op: OpStoreStack, Type: TVoid, Operand0: valID, Operand1: NoOperand, Imm: Imm{Slot: slot}})
	if r.state != recRecording {
		return
	}
	r.setSlot(slot, valID)
}

func (r *Recorder) Pop() {
	if !r.beginInstr() {
		return
	}
	if r.stackTop == 0 {
		r.abort(AbortStackUnderflow)
		return
	}
	r.popID()
}

// --- fields / module vars ------------------------------------------------

// receiverSlot0 returns (and lazily tracks) the SSA id for stack slot 0,
// the implicit field receiver.
func (r *Recorder) receiverSlot0() int32 {
	s := r.slots[0]
	if s.live {
		return s.id
	}
	id := r.emit(Node{Op: OpLoadStack, Type: TValue, Operand0: NoOperand, Operand1: NoOperand, Imm: Imm{Slot: 0}})
	if r.state != recRecording {
		return NoOperand
	}
	r.setSlot(0, id)
	return id
}

func (r *Recorder) LoadField(fieldIdx uint32) {
	if !r.beginInstr() {
		return
	}
	recv := r.receiverSlot0()
	if r.state != recRecording {
		return
	}
	id := r.emit(Node{Op: OpLoadField, Type: TValue, Operand0: recv, Operand1: NoOperand, Imm: Imm{Field: fieldIdx}})
	if r.state != recRecording {
		return
	}
	r.pushID(id)
}

func (r *Recorder) StoreField(fieldIdx uint32) {
	if !r.beginInstr() {
		return
	}
	if r.stackTop == 0 {
		r.abort(AbortStackUnderflow)
		return
	}
	valID := r.popID()
	recv := r.receiverSlot0()
	if r.state != recRecording {
		return
	}
	r.emit(Node{Op: OpStoreField, Type: TVoid, Operand0: recv, Operand1: valID, Imm: Imm{Field: fieldIdx}})
}

func (r *Recorder) LoadModuleVar(addr uint32) {
	if !r.beginInstr() {
		return
	}
	id := r.emit(Node{Op: OpLoadModVar, Type: TValue, Operand0: NoOperand, Operand1: NoOperand, Imm: Imm{Addr: addr}})
	if r.state != recRecording {
		return
	}
	r.pushID(id)
}

func (r *Recorder) StoreModuleVar(addr uint32) {
	if !r.beginInstr() {
		return
	}
	if r.stackTop == 0 {
		r.abort(AbortStackUnderflow)
		return
	}
	valID := r.popID()
	r.emit(Node{Op: OpStoreMod, Type: TVoid, Operand0: valID, Operand1: NoOperand, Imm: Imm{Addr: addr}})
}

// --- method calls ----------------------------------------------------

// arithOpFor and cmpOpFor implement the method-symbol dispatch table:
// the exact operator spellings the host's method-symbol table carries.
func arithOpFor(sym string) (Op, bool) {
	switch sym {
	case "+(_)":
		return OpAdd, true
	case "-(_)":
		return OpSub, true
	case "*(_)":
		return OpMul, true
	case "/(_)":
		return OpDiv, true
	case "%(_)":
		return OpMod, true
	}
	return OpNop, false
}

func cmpOpFor(sym string) (Op, bool) {
	switch sym {
	case "<(_)":
		return OpLt, true
	case ">(_)":
		return OpGt, true
	case "<=(_)":
		return OpLte, true
	case ">=(_)":
		return OpGte, true
	case "==(_)":
		return OpEq, true
	case "!=(_)":
		return OpNeq, true
	}
	return OpNop, false
}

// CallMethod records a unary or binary method call. pc and stackDepth
// describe the call
// instruction itself, used as the snapshot's deopt resume point on guard
// failure.
func (r *Recorder) CallMethod(pc uint32, stackDepth int, sym string, binary bool, recv, arg CallOperand) {
	if !r.beginInstr() {
		return
	}
	if r.stackTop == 0 || (binary && r.stackTop < 2) {
		r.abort(AbortStackUnderflow)
		return
	}

	var argID int32 = NoOperand
	if binary {
		argID = r.popID()
	}
	recvID := r.popID()

	if recv.IsNum && (!binary || arg.IsNum) {
		r.recordNumericOp(pc, stackDepth, sym, binary, recvID, argID)
		return
	}

	if binary {
		result, ok := r.recordWiden(pc, stackDepth, sym, recvID, argID, recv, arg)
		if ok {
			if r.state == recRecording {
				r.pushID(result)
			}
			return
		}
		if recv.IsRange {
			r.abort(AbortWideningDeclined)
			return
		}
	}
	r.abort(AbortUnsupportedReceiver)
}

func (r *Recorder) recordNumericOp(pc uint32, stackDepth int, sym string, binary bool, recvID, argID int32) {
	snap := r.emitSnapshot(pc, stackDepth)
	if r.state != recRecording {
		return
	}

	r.emit(Node{Op: OpGuardNum, Type: TVoid, Operand0: recvID, Operand1: NoOperand, Imm: Imm{Snap: snap}, Flags: FlagGuard})
	if r.state != recRecording {
		return
	}
	if binary {
		r.emit(Node{Op: OpGuardNum, Type: TVoid, Operand0: argID, Operand1: NoOperand, Imm: Imm{Snap: snap}, Flags: FlagGuard})
		if r.state != recRecording {
			return
		}
	}

	unboxRecv := r.emit(Node{Op: OpUnboxNum, Type: TNum, Operand0: recvID, Operand1: NoOperand})
	if r.state != recRecording {
		return
	}
	var unboxArg int32 = NoOperand
	if binary {
		unboxArg = r.emit(Node{Op: OpUnboxNum, Type: TNum, Operand0: argID, Operand1: NoOperand})
		if r.state != recRecording {
			return
		}
	}

	if op, ok := arithOpFor(sym); ok {
		if !binary {
			op = OpNeg
		}
		res := r.emit(Node{Op: op, Type: TNum, Operand0: unboxRecv, Operand1: unboxArg})
		if r.state != recRecording {
			return
		}
		boxed := r.emit(Node{Op: OpBoxNum, Type: TValue, Operand0: res, Operand1: NoOperand})
		if r.state != recRecording {
			return
		}
		r.pushID(boxed)
		return
	}
	if op, ok := cmpOpFor(sym); ok {
		res := r.emit(Node{Op: op, Type: TBool, Operand0: unboxRecv, Operand1: unboxArg})
		if r.state != recRecording {
			return
		}
		boxed := r.emit(Node{Op: OpBoxBool, Type: TValue, Operand0: res, Operand1: NoOperand})
		if r.state != recRecording {
			return
		}
		r.pushID(boxed)
		return
	}
	if sym == "-" && !binary {
		res := r.emit(Node{Op: OpNeg, Type: TNum, Operand0: unboxRecv, Operand1: NoOperand})
		if r.state != recRecording {
			return
		}
		boxed := r.emit(Node{Op: OpBoxNum, Type: TValue, Operand0: res, Operand1: NoOperand})
		if r.state != recRecording {
			return
		}
		r.pushID(boxed)
		return
	}
	r.abort(AbortUnsupportedOpcode)
}

// recordWiden implements the monomorphic widening inliner for the range
// iteration primitives.
func (r *Recorder) recordWiden(pc uint32, stackDepth int, sym string, recvID, argID int32, recv, arg CallOperand) (int32, bool) {
	switch sym {
	case "iterate(_)":
		if !recv.IsRange || !arg.IsNum {
			return NoOperand, false
		}
		snap := r.emitSnapshot(pc, stackDepth)
		if r.state != recRecording {
			return NoOperand, true
		}
		r.emit(Node{Op: OpGuardClass, Type: TVoid, Operand0: recvID, Operand1: NoOperand, Imm: Imm{Ptr: recv.RangeClassPtr, Snap: snap}, Flags: FlagGuard})
		if r.state != recRecording {
			return NoOperand, true
		}
		r.emit(Node{Op: OpGuardNum, Type: TVoid, Operand0: argID, Operand1: NoOperand, Imm: Imm{Snap: snap}, Flags: FlagGuard})
		if r.state != recRecording {
			return NoOperand, true
		}

		unboxIter := r.emit(Node{Op: OpUnboxNum, Type: TNum, Operand0: argID, Operand1: NoOperand})
		if r.state != recRecording {
			return NoOperand, true
		}

		ascending := recv.RangeFrom <= recv.RangeTo
		step := 1.0
		if !ascending {
			step = -1.0
		}
		stepConst := r.emit(Node{Op: OpConstNum, Type: TNum, Operand0: NoOperand, Operand1: NoOperand, Imm: Imm{Num: step}})
		if r.state != recRecording {
			return NoOperand, true
		}
		advanced := r.emit(Node{Op: OpAdd, Type: TNum, Operand0: unboxIter, Operand1: stepConst})
		if r.state != recRecording {
			return NoOperand, true
		}
		boundConst := r.emit(Node{Op: OpConstNum, Type: TNum, Operand0: NoOperand, Operand1: NoOperand, Imm: Imm{Num: recv.RangeTo}})
		if r.state != recRecording {
			return NoOperand, true
		}

		var cmp Op
		switch {
		case ascending && recv.RangeInclusive:
			cmp = OpLte
		case ascending && !recv.RangeInclusive:
			cmp = OpLt
		case !ascending && recv.RangeInclusive:
			cmp = OpGte
		default:
			cmp = OpGt
		}
		cmpNode := r.emit(Node{Op: cmp, Type: TBool, Operand0: advanced, Operand1: boundConst})
		if r.state != recRecording {
			return NoOperand, true
		}
		boxedBool := r.emit(Node{Op: OpBoxBool, Type: TValue, Operand0: cmpNode, Operand1: NoOperand})
		if r.state != recRecording {
			return NoOperand, true
		}
		r.emit(Node{Op: OpGuardTrue, Type: TVoid, Operand0: boxedBool, Operand1: NoOperand, Imm: Imm{Snap: snap}, Flags: FlagGuard})
		if r.state != recRecording {
			return NoOperand, true
		}
		boxedIter := r.emit(Node{Op: OpBoxNum, Type: TValue, Operand0: advanced, Operand1: NoOperand})
		if r.state != recRecording {
			return NoOperand, true
		}
		return boxedIter, true

	case "iteratorValue(_)":
		if !arg.IsNum {
			return NoOperand, false
		}
		snap := r.emitSnapshot(pc, stackDepth)
		if r.state != recRecording {
			return NoOperand, true
		}
		r.emit(Node{Op: OpGuardNum, Type: TVoid, Operand0: argID, Operand1: NoOperand, Imm: Imm{Snap: snap}, Flags: FlagGuard})
		if r.state != recRecording {
			return NoOperand, true
		}
		return argID, true
	}
	return NoOperand, false
}

// --- control flow ------------------------------------------------------

// CondBranch records a conditional forward branch, logical-and, or
// logical-or. taken reports the direction actually
// observed at the concrete runtime state; notTakenPC is the resume
// address for the path not taken.
func (r *Recorder) CondBranch(pc uint32, stackDepth int, kind CondKind, taken bool, notTakenPC uint32) {
	if !r.beginInstr() {
		return
	}
	if r.stackTop == 0 {
		r.abort(AbortStackUnderflow)
		return
	}

	var pops bool
	switch kind {
	case CondIf:
		pops = true
	case CondAnd:
		pops = !taken
	case CondOr:
		pops = !taken
	}

	var id int32
	if pops {
		id = r.popID()
	} else {
		id = r.slots[r.stackTop-1].id
	}

	snap := r.emitSnapshot(notTakenPC, stackDepth)
	if r.state != recRecording {
		return
	}

	var guardOp Op
	switch kind {
	case CondIf:
		if taken {
			guardOp = OpGuardFalse
		} else {
			guardOp = OpGuardTrue
		}
	case CondAnd:
		if taken {
			guardOp = OpGuardFalse
		} else {
			guardOp = OpGuardTrue
		}
	case CondOr:
		if taken {
			guardOp = OpGuardTrue
		} else {
			guardOp = OpGuardFalse
		}
	}
	r.emit(Node{Op: guardOp, Type: TVoid, Operand0: id, Operand1: NoOperand, Imm: Imm{Snap: snap}, Flags: FlagGuard})
}

// JumpForward records an unconditional forward branch: no IR is emitted.
func (r *Recorder) JumpForward() {
	r.beginInstr()
}

// EnterCall records entry into a callee the host has chosen to follow
// while recording, bounding the nesting depth so a deeply recursive path
// cannot produce an unbounded trace.
func (r *Recorder) EnterCall() {
	if !r.beginInstr() {
		return
	}
	if r.callDepth+1 > r.cfg.MaxCallDepthDuringRecording {
		r.abort(AbortCallDepthExceeded)
		return
	}
	r.callDepth++
}

// Return models the host's return instruction: if call depth is nonzero it
// is decremented (returning from an inlined call); otherwise the trace
// root itself is returning mid-loop, which aborts.
func (r *Recorder) Return() {
	if !r.beginInstr() {
		return
	}
	if r.callDepth > 0 {
		r.callDepth--
		return
	}
	r.abort(AbortReturnCrossedTraceRoot)
}

// LoopBack records a backward branch. If targetPC is the anchor, the
// trace closes successfully; any other target means a nested or unrelated
// loop, which aborts. Returns the finished buffer and true on success.
func (r *Recorder) LoopBack(targetPC uint32) (*Buffer, bool) {
	if !r.beginInstr() {
		return nil, false
	}
	if targetPC != r.buf.AnchorPC {
		r.abort(AbortBackwardBranchNotAnchor)
		return nil, false
	}
	id := r.emit(Node{Op: OpLoopBack, Operand0: NoOperand, Operand1: NoOperand})
	if r.state != recRecording {
		return nil, false
	}
	r.buf.LoopBack = id
	r.state = recIdle
	r.compileCount++
	r.log.Debugw("recording closed", "anchor_pc", r.buf.AnchorPC, "nodes", len(r.buf.Nodes))
	return r.buf, true
}
