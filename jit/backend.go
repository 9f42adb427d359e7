package jit

// Backend is the abstract assembler interface the code generator lowers
// optimized IR through. It is intentionally
// minimal: create/dispose a compile context, emit labels and jumps,
// emit register/memory operand instructions, then assemble into a
// machine-code byte slice. A concrete implementation adapts a real assembler
// (this repo's is github.com/twitchyliquid64/golang-asm, the same
// low-level building block wazero's JIT-era WebAssembly backend used).
type Backend interface {
	// NewContext starts a fresh compile context for one trace.
	NewContext() (BackendContext, error)
}

// Operand describes a source or destination for a two-operand
// instruction: either a physical register or a frame-relative memory
// location (base + displacement), so spilled values can feed most
// instructions without an explicit reload.
type Operand struct {
	IsMemory    bool
	Reg         int   // machine register number when !IsMemory
	BaseReg     int   // base register when IsMemory
	Disp        int32 // byte displacement when IsMemory
}

// CondKindAsm enumerates the comparison kinds the backend can turn into a
// conditional jump.
type CondKindAsm uint8

const (
	AsmEqual CondKindAsm = iota
	AsmNotEqual
	AsmLess
	AsmLessEqual
	AsmGreater
	AsmGreaterEqual
)

// Label is an opaque, backend-assigned jump target.
type Label int

// BackendContext emits one compiled function's instructions in program
// order and finally assembles them into an executable code blob.
type BackendContext interface {
	// Prologue reserves frameSize bytes of local frame.
	Prologue(frameSize int)

	NewLabel() Label
	BindLabel(l Label)

	MoveRegToReg(class RegClass, dst, src Operand)
	LoadImmInt(dst Operand, v int64)
	LoadImmFloatBits(dst Operand, bits uint64, scratch Operand)

	// ConvertFloatToInt truncates src (an FP-register double) to the
	// signed 64-bit integer it encodes, toward zero. ConvertIntToFloat is
	// its inverse. Both are genuine value conversions, unlike
	// MoveRegToReg, which only ever moves bits; integer-typed values
	// need the former to avoid reinterpreting a double's bit pattern as
	// if it were already the integer itself.
	ConvertFloatToInt(dst, src Operand)
	ConvertIntToFloat(dst, src Operand)

	ArithInt(op Op, dst, lhs, rhs Operand)
	ArithFloat(op Op, dst, lhs, rhs Operand)
	BitNot(dst, src Operand)
	ShiftLeft(dst, src Operand, amount int64)
	AndImm(dst, src Operand, mask int64)

	// Compare emits a compare of lhs against rhs and sets dst (a GP
	// operand) to 0/1 per cond.
	Compare(cond CondKindAsm, class RegClass, dst, lhs, rhs Operand)

	// JumpIfZero and JumpIfNotZero test testOperand against zero and jump
	// to target when it is zero or nonzero, respectively.
	JumpIfZero(testOperand Operand, target Label)
	JumpIfNotZero(testOperand Operand, target Label)
	Jump(target Label)

	// Or/And over raw bit patterns, used for box-obj/unbox-obj masking.
	OrImm(dst, src Operand, mask uint64)
	AndImmUnsigned(dst, src Operand, mask uint64)

	ReturnImm(v int64)

	// Assemble finalizes the instruction stream and returns the machine
	// code as plain bytes (the caller copies them into executable memory)
	// plus the byte offset of each bound label
	// (used by the caller to locate the entry point and side-exit stubs).
	Assemble() ([]byte, map[Label]int, error)

	Dispose()
}
