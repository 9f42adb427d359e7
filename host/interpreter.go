//go:build amd64 && (linux || darwin)

package host

import (
	"unsafe"

	"go.uber.org/zap"

	"tracejit/jit"
	"tracejit/value"
)

// maxStackDepth bounds the interpreter stack this reference host runs
// with. Real embedders size this from the compiled program's max-depth
// analysis; this host fixes one generous size since it has no such
// analysis pass of its own.
const maxStackDepth = 256

// Interpreter is the reference bytecode interpreter the JIT core treats
// as an external collaborator. It owns the
// dynamically typed stack, module variables, and method-symbol table, and
// drives tracejit/jit.Core across the hot-loop boundary: bumping the hot
// counter on backward branches, feeding bytecode events to the active
// recorder, and handing control to compiled native code once a trace
// exists for the current program counter.
type Interpreter struct {
	Symbols *SymbolTable
	Core    *jit.Core
	log     *zap.SugaredLogger

	moduleVars []value.Value
	stack      [maxStackDepth]value.Value
	stackTop   uint32
	pc         uint32

	// Counters are the only externally visible signal of JIT activity —
	// exposed for tests and embedders, never
	// consulted by the interpreter itself.
	SideExits uint64
}

// NewInterpreter builds an interpreter around cfg's JIT configuration and
// numModuleVars module-variable slots. log may be nil.
func NewInterpreter(cfg jit.Config, numModuleVars int, log *zap.SugaredLogger) (*Interpreter, error) {
	core, err := jit.NewCore(cfg, log)
	if err != nil {
		return nil, err
	}
	interp := &Interpreter{
		Symbols:    NewSymbolTable(),
		Core:       core,
		log:        log,
		moduleVars: make([]value.Value, numModuleVars),
	}
	for j := range interp.stack {
		interp.stack[j] = value.Null
	}
	return interp, nil
}

// ModuleVars exposes the module-variable slots for test setup/assertions.
func (i *Interpreter) ModuleVars() []value.Value { return i.moduleVars }

// Locals exposes the current values of the first n stack slots (the
// program's locals), for test assertions after Run returns.
func (i *Interpreter) Locals(n uint32) []value.Value {
	return append([]value.Value(nil), i.stack[:n]...)
}

func (i *Interpreter) recording() bool { return i.Core.Recorder().Active() }

// Run executes prog from instruction 0 until it reaches an End or Return
// with no enclosing call, interleaving trace recording, compilation, and
// native-code execution at backward branches. Slots 0..NumLocals-1 are the
// program's locals and the operand stack grows above them. Run does not
// clear the stack: locals an embedder seeded before Run keep those values,
// and locals nobody wrote read as Null, which NewInterpreter fills the
// stack with.
func (i *Interpreter) Run(prog *Program) {
	i.pc = 0
	i.stackTop = prog.NumLocals

	stackBase := unsafe.Pointer(&i.stack[0])
	var moduleBase unsafe.Pointer
	if len(i.moduleVars) > 0 {
		moduleBase = unsafe.Pointer(&i.moduleVars[0])
	}
	selfPtr := unsafe.Pointer(i)

	for {
		if trace, ok := i.Core.Lookup(i.pc); ok && !i.recording() {
			res, deopted := i.Core.Execute(trace, selfPtr, nil, stackBase, moduleBase)
			if !deopted {
				// No guard fired: the trace ran off its end, which only a
				// guard-free trace can do. Nothing left to resume from.
				return
			}
			i.SideExits++
			i.pc = res.ResumePC
			i.stackTop = uint32(res.StackDepth)
			continue
		}

		if int(i.pc) >= len(prog.Instructions) {
			return
		}
		instr := prog.Instructions[i.pc]
		if instr.Op == End {
			return
		}
		if !i.step(prog, instr) {
			return
		}
	}
}

// step executes one instruction for real and, if recording is active,
// mirrors the same event into the recorder with the concrete runtime
// values it observed, since guard biasing depends on them. Returns false when the program
// should stop (Return at trace-root call depth).
func (i *Interpreter) step(prog *Program, instr Instruction) bool {
	pc := i.pc
	rec := i.Core.Recorder()
	active := i.recording()

	switch instr.Op {
	case Nop:
		i.pc++

	case PushLocal:
		i.push(i.stack[instr.Arg])
		if active {
			rec.PushLocal(instr.Arg)
		}
		i.pc++

	case PushConst:
		c := prog.Constants[instr.Arg]
		i.push(c)
		if active {
			i.mirrorPushConst(rec, c)
		}
		i.pc++

	case StoreLocal:
		i.stack[instr.Arg] = i.top()
		if active {
			rec.StoreLocal(instr.Arg)
		}
		i.pc++

	case Pop:
		i.pop()
		if active {
			rec.Pop()
		}
		i.pc++

	case LoadField:
		recv := InstanceFromValue(i.stack[0])
		i.push(recv.Fields[instr.Arg])
		if active {
			rec.LoadField(instr.Arg)
		}
		i.pc++

	case StoreField:
		v := i.pop()
		recv := InstanceFromValue(i.stack[0])
		recv.Fields[instr.Arg] = v
		if active {
			rec.StoreField(instr.Arg)
		}
		i.pc++

	case LoadModuleVar:
		i.push(i.moduleVars[instr.Arg])
		if active {
			rec.LoadModuleVar(instr.Arg)
		}
		i.pc++

	case StoreModuleVar:
		v := i.pop()
		i.moduleVars[instr.Arg] = v
		if active {
			rec.StoreModuleVar(instr.Arg)
		}
		i.pc++

	case CallMethod0:
		i.callMethod(rec, active, pc, Symbol(instr.Arg), false)
		i.pc++

	case CallMethod1:
		i.callMethod(rec, active, pc, Symbol(instr.Arg), true)
		i.pc++

	case JumpIfFalse:
		v := i.pop()
		taken := !value.Truthy(v)
		if active {
			// notTaken is where control flow goes under the opposite
			// outcome from the one just observed: that's where a guard
			// failure must resume.
			notTaken := instr.Arg
			if taken {
				notTaken = pc + 1
			}
			rec.CondBranch(pc, int(i.stackTop), jit.CondIf, taken, notTaken)
		}
		if taken {
			i.pc = instr.Arg
		} else {
			i.pc = pc + 1
		}

	case And:
		v := i.top()
		taken := !value.Truthy(v)
		if !taken {
			i.pop()
		}
		if active {
			notTaken := instr.Arg
			if taken {
				notTaken = pc + 1
			}
			rec.CondBranch(pc, int(i.stackTop), jit.CondAnd, taken, notTaken)
		}
		if taken {
			i.pc = instr.Arg
		} else {
			i.pc = pc + 1
		}

	case Or:
		v := i.top()
		taken := value.Truthy(v)
		if !taken {
			i.pop()
		}
		if active {
			notTaken := instr.Arg
			if taken {
				notTaken = pc + 1
			}
			rec.CondBranch(pc, int(i.stackTop), jit.CondOr, taken, notTaken)
		}
		if taken {
			i.pc = instr.Arg
		} else {
			i.pc = pc + 1
		}

	case Jump:
		if active {
			rec.JumpForward()
		}
		i.pc = instr.Arg

	case Loop:
		target := instr.Arg
		if active {
			if buf, ok := rec.LoopBack(target); ok {
				if err := i.Core.Compile(buf); err != nil && i.log != nil {
					i.log.Debugw("trace compile failed", "anchor_pc", target, "err", err)
				}
			}
		} else if i.Core.ShouldStartRecording(target) {
			rec.Start(target, i.liveEntrySlots(prog))
		}
		i.pc = target

	case Return:
		if active {
			rec.Return()
		}
		return false

	case End:
		return false
	}
	return true
}

func (i *Interpreter) mirrorPushConst(rec *jit.Recorder, c value.Value) {
	switch {
	case value.IsNum(c):
		rec.PushConstNum(value.AsNum(c))
	case value.IsNull(c):
		rec.PushConstNull()
	case value.IsBool(c):
		rec.PushConstBool(value.AsBool(c))
	case value.IsObj(c):
		rec.PushConstObj(value.AsObjPtr(c))
	}
}

// liveEntrySlots reports every local slot as live at loop entry: this
// reference host has no liveness analysis of its own, so it takes the
// conservative, always-correct answer.
func (i *Interpreter) liveEntrySlots(prog *Program) []uint32 {
	slots := make([]uint32, prog.NumLocals)
	for s := range slots {
		slots[s] = uint32(s)
	}
	return slots
}

func (i *Interpreter) push(v value.Value) {
	i.stack[i.stackTop] = v
	i.stackTop++
}

func (i *Interpreter) pop() value.Value {
	i.stackTop--
	return i.stack[i.stackTop]
}

func (i *Interpreter) top() value.Value {
	return i.stack[i.stackTop-1]
}

// callMethod implements the real semantics for every method-symbol
// dispatch the recorder's table also classifies, then
// mirrors the same call into the recorder when active.
func (i *Interpreter) callMethod(rec *jit.Recorder, active bool, pc uint32, sym Symbol, binary bool) {
	// preCallDepth is the stack depth with the receiver (and arg, if
	// binary) still present: a guard recorded for this call resumes at pc
	// itself (jit/recorder.go's recordNumericOp/recordWiden), so the
	// interpreter must find its operands still on the stack when it
	// re-dispatches this same instruction after a deopt.
	preCallDepth := int(i.stackTop)

	var arg value.Value
	if binary {
		arg = i.pop()
	}
	recv := i.pop()

	var recvOperand, argOperand jit.CallOperand
	recvOperand.IsNum = value.IsNum(recv)
	if binary {
		argOperand.IsNum = value.IsNum(arg)
	}
	if !recvOperand.IsNum && value.IsObj(recv) {
		if inst := InstanceFromValue(recv); IsRange(inst) {
			recvOperand.IsRange = true
			recvOperand.RangeFrom = RangeFrom(inst)
			recvOperand.RangeTo = RangeTo(inst)
			recvOperand.RangeInclusive = RangeInclusive(inst)
			recvOperand.RangeClassPtr = uintptr(unsafe.Pointer(RangeClass))
			argOperand.RangeClassPtr = recvOperand.RangeClassPtr
		}
	}

	result := i.evalMethod(recv, arg, sym, binary, recvOperand.IsRange)
	i.push(result)

	if active {
		rec.CallMethod(pc, preCallDepth, i.Symbols.Name(sym), binary, recvOperand, argOperand)
	}
}

// evalMethod computes the real, interpreted result of a method-symbol
// dispatch, independent of whatever the recorder decides to do with the
// same event.
func (i *Interpreter) evalMethod(recv, arg value.Value, sym Symbol, binary, isRange bool) value.Value {
	if isRange && binary {
		inst := InstanceFromValue(recv)
		switch sym {
		case SymIterate:
			return evalRangeIterate(inst, arg)
		case SymIteratorValue:
			return arg
		}
	}

	if !value.IsNum(recv) || (binary && !value.IsNum(arg)) {
		return value.Null
	}
	rv := value.AsNum(recv)
	if !binary {
		if sym == SymNeg {
			return value.Num(-rv)
		}
		return value.Null
	}
	av := value.AsNum(arg)
	switch sym {
	case SymAdd:
		return value.Num(rv + av)
	case SymSub:
		return value.Num(rv - av)
	case SymMul:
		return value.Num(rv * av)
	case SymDiv:
		return value.Num(rv / av)
	case SymMod:
		return value.Num(float64(int64(rv) % int64(av)))
	case SymLt:
		return value.Bool(rv < av)
	case SymGt:
		return value.Bool(rv > av)
	case SymLte:
		return value.Bool(rv <= av)
	case SymGte:
		return value.Bool(rv >= av)
	case SymEq:
		return value.Bool(rv == av)
	case SymNeq:
		return value.Bool(rv != av)
	}
	return value.Null
}

// evalRangeIterate advances a range iteration: Null in means "start",
// otherwise arg is the previous iterator value. Returns Null once the
// range is exhausted, the for-in desugaring's loop-exit signal.
func evalRangeIterate(r *Instance, prev value.Value) value.Value {
	from, to, inclusive := RangeFrom(r), RangeTo(r), RangeInclusive(r)
	ascending := from <= to
	step := 1.0
	if !ascending {
		step = -1.0
	}

	var next float64
	if value.IsNull(prev) {
		next = from
	} else {
		next = value.AsNum(prev) + step
	}

	inBounds := false
	switch {
	case ascending && inclusive:
		inBounds = next <= to
	case ascending && !inclusive:
		inBounds = next < to
	case !ascending && inclusive:
		inBounds = next >= to
	default:
		inBounds = next > to
	}
	if !inBounds {
		return value.Null
	}
	return value.Num(next)
}
