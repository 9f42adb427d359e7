package host

import "tracejit/value"

// Program is a complete, already-"compiled" unit the Interpreter runs: a
// flat instruction stream, a constant pool, and the count of local slots
// reserved at the bottom of the interpreter stack. There is no text-format
// parser here: programs for this minimal host are built directly through
// Builder, the way an embedder would when compiling from a language
// front-end that isn't this repo's concern.
type Program struct {
	Instructions []Instruction
	Constants    []value.Value
	NumLocals    uint32
}

// Builder assembles a Program one instruction at a time, resolving
// forward and backward jump targets by label through a patch list, in a
// single pass since this host has no nested scopes to unwind.
type Builder struct {
	prog    Program
	labels  map[string]uint32
	patches map[string][]int // index into Instructions awaiting this label
}

// NewBuilder starts an empty program reserving numLocals stack slots.
func NewBuilder(numLocals uint32) *Builder {
	return &Builder{
		prog:    Program{NumLocals: numLocals},
		labels:  make(map[string]uint32),
		patches: make(map[string][]int),
	}
}

// Const interns a constant value, returning its index.
func (b *Builder) Const(v value.Value) uint32 {
	b.prog.Constants = append(b.prog.Constants, v)
	return uint32(len(b.prog.Constants) - 1)
}

// Label marks the current instruction address under name, resolving any
// jump instructions already emitted that referenced it.
func (b *Builder) Label(name string) {
	pc := uint32(len(b.prog.Instructions))
	b.labels[name] = pc
	for _, idx := range b.patches[name] {
		b.prog.Instructions[idx].Arg = pc
	}
	delete(b.patches, name)
}

// emit appends an instruction and returns its address.
func (b *Builder) emit(op Op, arg uint32) uint32 {
	pc := uint32(len(b.prog.Instructions))
	b.prog.Instructions = append(b.prog.Instructions, Instruction{Op: op, Arg: arg})
	return pc
}

// emitJump appends a jump-family instruction whose Arg is resolved against
// label, either immediately (backward reference) or via a patch recorded
// for Label to fill in later (forward reference).
func (b *Builder) emitJump(op Op, label string) uint32 {
	pc := b.emit(op, 0)
	if target, ok := b.labels[label]; ok {
		b.prog.Instructions[pc].Arg = target
	} else {
		b.patches[label] = append(b.patches[label], int(pc))
	}
	return pc
}

func (b *Builder) PushLocal(slot uint32)       { b.emit(PushLocal, slot) }
func (b *Builder) PushConst(idx uint32)        { b.emit(PushConst, idx) }
func (b *Builder) StoreLocal(slot uint32)      { b.emit(StoreLocal, slot) }
func (b *Builder) Pop()                        { b.emit(Pop, 0) }
func (b *Builder) LoadField(field uint32)      { b.emit(LoadField, field) }
func (b *Builder) StoreField(field uint32)     { b.emit(StoreField, field) }
func (b *Builder) LoadModuleVar(addr uint32)   { b.emit(LoadModuleVar, addr) }
func (b *Builder) StoreModuleVar(addr uint32)  { b.emit(StoreModuleVar, addr) }
func (b *Builder) CallMethod0(sym Symbol)      { b.emit(CallMethod0, uint32(sym)) }
func (b *Builder) CallMethod1(sym Symbol)      { b.emit(CallMethod1, uint32(sym)) }

func (b *Builder) JumpIfFalse(label string) { b.emitJump(JumpIfFalse, label) }
func (b *Builder) And(label string)         { b.emitJump(And, label) }
func (b *Builder) Or(label string)          { b.emitJump(Or, label) }
func (b *Builder) Jump(label string)        { b.emitJump(Jump, label) }
func (b *Builder) Loop(label string)        { b.emitJump(Loop, label) }
func (b *Builder) Return()                  { b.emit(Return, 0) }
func (b *Builder) End()                     { b.emit(End, 0) }

// Build finalizes the program. Any label referenced by a jump but never
// bound is a builder misuse and panics; Builder only ever runs inside
// test fixtures.
func (b *Builder) Build() Program {
	if len(b.patches) != 0 {
		panic("host: Builder.Build: unresolved jump labels")
	}
	return b.prog
}
