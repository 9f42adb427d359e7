//go:build amd64

package jit

import (
	"math"

	asm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"
)

// gpRegs and fpRegs map the allocator's class-relative register indices
// to concrete amd64 registers. The first two entries of each physical
// scratch pool are reserved as codegen temporaries and never appear here;
// R10-R13 carry the entry contract's four pointer arguments and are
// excluded too. DX stays out of the pool because IDIV claims it
// implicitly, and R14/R15 stay out because the Go runtime reserves them.
var gpRegs = [numGPAllocatable]int16{x86.REG_BX, x86.REG_R8, x86.REG_R9, x86.REG_SI}
var fpRegs = [numFPAllocatable]int16{x86.REG_X2, x86.REG_X3, x86.REG_X4, x86.REG_X5, x86.REG_X6, x86.REG_X7, x86.REG_X8, x86.REG_X9}

const (
	regVM         = x86.REG_R10
	regFiber      = x86.REG_R11
	regStackBase  = x86.REG_R12
	regModuleBase = x86.REG_R13
	regFramePtr   = x86.REG_SP
	gpScratch0    = x86.REG_AX
	gpScratch1    = x86.REG_CX
	fpScratch0    = x86.REG_X0
	fpScratch1    = x86.REG_X1
)

// golangAsmBackend adapts github.com/twitchyliquid64/golang-asm's
// asm.Builder to the Backend interface (the same library wazero's old
// WebAssembly JIT wrapped for exactly this job).
type golangAsmBackend struct{}

// NewGolangAsmBackend constructs the amd64 assembler backend.
func NewGolangAsmBackend() Backend { return golangAsmBackend{} }

func (golangAsmBackend) NewContext() (BackendContext, error) {
	b, err := asm.NewBuilder("amd64", 1024)
	if err != nil {
		return nil, ErrBackendFailed
	}
	return &amd64Context{
		builder: b,
		labels:  map[Label]*obj.Prog{},
		pending: map[Label][]*obj.Prog{},
	}, nil
}

type amd64Context struct {
	builder   *asm.Builder
	nextLabel Label
	labels    map[Label]*obj.Prog
	pending   map[Label][]*obj.Prog
	frameSize int
}

func (c *amd64Context) newProg() *obj.Prog {
	p := c.builder.NewProg()
	c.builder.AddInstruction(p)
	return p
}

func toAddr(a *obj.Addr, op Operand) {
	if op.IsMemory {
		a.Type = obj.TYPE_MEM
		a.Reg = int16(op.BaseReg)
		a.Offset = int64(op.Disp)
		return
	}
	a.Type = obj.TYPE_REG
	a.Reg = int16(op.Reg)
}

// Prologue carves the local frame out of the stack. The compiled function
// is a bare CALL target (no Go frame descriptor), so the frame is a plain
// SP adjustment undone by every ReturnImm.
func (c *amd64Context) Prologue(frameSize int) {
	c.frameSize = frameSize
	if frameSize == 0 {
		return
	}
	p := c.newProg()
	p.As = x86.ASUBQ
	p.From.Type = obj.TYPE_CONST
	p.From.Offset = int64(frameSize)
	p.To.Type = obj.TYPE_REG
	p.To.Reg = x86.REG_SP
}

func (c *amd64Context) NewLabel() Label {
	c.nextLabel++
	return c.nextLabel
}

func (c *amd64Context) BindLabel(l Label) {
	marker := c.newProg()
	marker.As = obj.ANOP
	c.labels[l] = marker
	for _, jmp := range c.pending[l] {
		jmp.To.SetTarget(marker)
	}
	delete(c.pending, l)
}

func (c *amd64Context) resolveOrDefer(jmp *obj.Prog, l Label) {
	if marker, ok := c.labels[l]; ok {
		jmp.To.SetTarget(marker)
		return
	}
	c.pending[l] = append(c.pending[l], jmp)
}

func scratchFor(class RegClass) Operand {
	if class == ClassFP {
		return Operand{Reg: int(fpScratch0)}
	}
	return Operand{Reg: int(gpScratch0)}
}

func (c *amd64Context) MoveRegToReg(class RegClass, dst, src Operand) {
	if dst.IsMemory && src.IsMemory {
		// No mem-to-mem form on x86; stage through the class scratch.
		tmp := scratchFor(class)
		c.MoveRegToReg(class, tmp, src)
		c.MoveRegToReg(class, dst, tmp)
		return
	}
	p := c.newProg()
	if class == ClassFP && !dst.IsMemory && !src.IsMemory {
		p.As = x86.AMOVSD
	} else {
		// MOVQ covers GP<->mem, GP<->XMM, and XMM<->mem moves alike.
		p.As = x86.AMOVQ
	}
	toAddr(&p.From, src)
	toAddr(&p.To, dst)
}

func (c *amd64Context) ConvertFloatToInt(dst, src Operand) {
	s := src
	if s.IsMemory {
		s = Operand{Reg: int(fpScratch0)}
		c.MoveRegToReg(ClassFP, s, src)
	}
	d := dst
	if d.IsMemory {
		d = Operand{Reg: int(gpScratch0)}
	}
	p := c.newProg()
	p.As = x86.ACVTTSD2SQ
	toAddr(&p.From, s)
	toAddr(&p.To, d)
	if dst.IsMemory {
		c.MoveRegToReg(ClassGP, dst, d)
	}
}

func (c *amd64Context) ConvertIntToFloat(dst, src Operand) {
	d := dst
	if d.IsMemory {
		d = Operand{Reg: int(fpScratch0)}
	}
	p := c.newProg()
	p.As = x86.ACVTSQ2SD
	toAddr(&p.From, src)
	toAddr(&p.To, d)
	if dst.IsMemory {
		c.MoveRegToReg(ClassFP, dst, d)
	}
}

func fitsInt32(v int64) bool {
	return v >= math.MinInt32 && v <= math.MaxInt32
}

func (c *amd64Context) LoadImmInt(dst Operand, v int64) {
	if dst.IsMemory && !fitsInt32(v) {
		// MOVQ $imm64 only encodes with a register destination.
		tmp := Operand{Reg: int(gpScratch1)}
		c.LoadImmInt(tmp, v)
		c.MoveRegToReg(ClassGP, dst, tmp)
		return
	}
	p := c.newProg()
	p.As = x86.AMOVQ
	p.From.Type = obj.TYPE_CONST
	p.From.Offset = v
	toAddr(&p.To, dst)
}

func (c *amd64Context) LoadImmFloatBits(dst Operand, bits uint64, scratch Operand) {
	c.LoadImmInt(scratch, int64(bits))
	c.MoveRegToReg(ClassGP, dst, scratch)
}

func arithIntOp(op Op) obj.As {
	switch op {
	case OpAdd:
		return x86.AADDQ
	case OpSub:
		return x86.ASUBQ
	case OpMul:
		return x86.AIMULQ
	}
	return x86.AADDQ
}

func arithFloatOp(op Op) obj.As {
	switch op {
	case OpAdd:
		return x86.AADDSD
	case OpSub:
		return x86.ASUBSD
	case OpMul:
		return x86.AMULSD
	case OpDiv:
		return x86.ADIVSD
	}
	return x86.AADDSD
}

func (c *amd64Context) ArithInt(op Op, dst, lhs, rhs Operand) {
	if op == OpDiv || op == OpMod {
		c.intDivMod(op, dst, lhs, rhs)
		return
	}
	target := dst
	if dst.IsMemory {
		target = Operand{Reg: int(gpScratch0)}
	}
	c.MoveRegToReg(ClassGP, target, lhs)
	p := c.newProg()
	p.As = arithIntOp(op)
	toAddr(&p.From, rhs)
	toAddr(&p.To, target)
	if dst.IsMemory {
		c.MoveRegToReg(ClassGP, dst, target)
	}
}

// intDivMod emits the IDIV choreography: dividend in RDX:RAX, divisor in
// CX (so it survives the sign extension), quotient back in RAX, remainder
// in RDX. DX is not in the allocatable pool, so clobbering it is safe.
func (c *amd64Context) intDivMod(op Op, dst, lhs, rhs Operand) {
	divisor := Operand{Reg: int(gpScratch1)}
	c.MoveRegToReg(ClassGP, divisor, rhs)
	c.MoveRegToReg(ClassGP, Operand{Reg: int(gpScratch0)}, lhs)

	ext := c.newProg()
	ext.As = x86.ACQO

	div := c.newProg()
	div.As = x86.AIDIVQ
	toAddr(&div.From, divisor)

	result := Operand{Reg: int(gpScratch0)}
	if op == OpMod {
		result = Operand{Reg: int(x86.REG_DX)}
	}
	c.MoveRegToReg(ClassGP, dst, result)
}

func (c *amd64Context) ArithFloat(op Op, dst, lhs, rhs Operand) {
	target := dst
	if dst.IsMemory {
		target = Operand{Reg: int(fpScratch0)}
	}
	c.MoveRegToReg(ClassFP, target, lhs)
	p := c.newProg()
	p.As = arithFloatOp(op)
	toAddr(&p.From, rhs)
	toAddr(&p.To, target)
	if dst.IsMemory {
		c.MoveRegToReg(ClassFP, dst, target)
	}
}

func (c *amd64Context) BitNot(dst, src Operand) {
	c.MoveRegToReg(ClassGP, dst, src)
	p := c.newProg()
	p.As = x86.ANOTQ
	toAddr(&p.To, dst)
}

func (c *amd64Context) ShiftLeft(dst, src Operand, amount int64) {
	c.MoveRegToReg(ClassGP, dst, src)
	p := c.newProg()
	p.As = x86.ASHLQ
	p.From.Type = obj.TYPE_CONST
	p.From.Offset = amount
	toAddr(&p.To, dst)
}

// bitOpImm emits dst = src OP mask. Masks wider than an int32 immediate
// (AND/OR encode nothing larger) are routed through whichever codegen
// scratch dst is not occupying.
func (c *amd64Context) bitOpImm(as obj.As, dst, src Operand, mask int64) {
	c.MoveRegToReg(ClassGP, dst, src)
	p := c.newProg()
	p.As = as
	if fitsInt32(mask) {
		p.From.Type = obj.TYPE_CONST
		p.From.Offset = mask
	} else {
		tmp := Operand{Reg: int(gpScratch1)}
		if !dst.IsMemory && dst.Reg == int(gpScratch1) {
			tmp = Operand{Reg: int(gpScratch0)}
		}
		c.LoadImmInt(tmp, mask)
		toAddr(&p.From, tmp)
	}
	toAddr(&p.To, dst)
}

func (c *amd64Context) AndImm(dst, src Operand, mask int64) {
	c.bitOpImm(x86.AANDQ, dst, src, mask)
}

func (c *amd64Context) OrImm(dst, src Operand, mask uint64) {
	c.bitOpImm(x86.AORQ, dst, src, int64(mask))
}

func (c *amd64Context) AndImmUnsigned(dst, src Operand, mask uint64) {
	c.bitOpImm(x86.AANDQ, dst, src, int64(mask))
}

// condSetCC maps a comparison kind to the signed SETcc used after CMPQ.
func condSetCC(cond CondKindAsm) obj.As {
	switch cond {
	case AsmEqual:
		return x86.ASETEQ
	case AsmNotEqual:
		return x86.ASETNE
	case AsmLess:
		return x86.ASETLT
	case AsmLessEqual:
		return x86.ASETLE
	case AsmGreater:
		return x86.ASETGT
	case AsmGreaterEqual:
		return x86.ASETGE
	}
	return x86.ASETEQ
}

// condSetCCUnordered maps the same kinds to the unsigned SETcc forms,
// which is what UCOMISD's CF/ZF-based flag layout requires.
func condSetCCUnordered(cond CondKindAsm) obj.As {
	switch cond {
	case AsmEqual:
		return x86.ASETEQ
	case AsmNotEqual:
		return x86.ASETNE
	case AsmLess:
		return x86.ASETCS
	case AsmLessEqual:
		return x86.ASETLS
	case AsmGreater:
		return x86.ASETHI
	case AsmGreaterEqual:
		return x86.ASETCC
	}
	return x86.ASETEQ
}

func (c *amd64Context) Compare(cond CondKindAsm, class RegClass, dst, lhs, rhs Operand) {
	var setAs obj.As
	if class == ClassFP {
		// UCOMISD needs a register first operand, and its Go-asm operand
		// order compares To against From.
		l := lhs
		if l.IsMemory {
			l = Operand{Reg: int(fpScratch1)}
			c.MoveRegToReg(ClassFP, l, lhs)
		}
		cmp := c.newProg()
		cmp.As = x86.AUCOMISD
		toAddr(&cmp.From, rhs)
		toAddr(&cmp.To, l)
		setAs = condSetCCUnordered(cond)
	} else {
		// CMP is the one Go-asm instruction whose operands read in natural
		// order: CMPQ a, b sets flags for a ? b.
		l := lhs
		if l.IsMemory && rhs.IsMemory {
			l = Operand{Reg: int(gpScratch0)}
			c.MoveRegToReg(ClassGP, l, lhs)
		}
		cmp := c.newProg()
		cmp.As = x86.ACMPQ
		toAddr(&cmp.From, l)
		toAddr(&cmp.To, rhs)
		setAs = condSetCC(cond)
	}

	// SETcc writes one byte; widen through a register so the full slot
	// reads back as 0 or 1.
	target := dst
	if dst.IsMemory {
		target = Operand{Reg: int(gpScratch0)}
	}
	set := c.newProg()
	set.As = setAs
	toAddr(&set.To, target)
	zx := c.newProg()
	zx.As = x86.AMOVBQZX
	toAddr(&zx.From, target)
	toAddr(&zx.To, target)
	if dst.IsMemory {
		c.MoveRegToReg(ClassGP, dst, target)
	}
}

func (c *amd64Context) testOperand(op Operand) Operand {
	if !op.IsMemory {
		return op
	}
	tmp := Operand{Reg: int(gpScratch0)}
	c.MoveRegToReg(ClassGP, tmp, op)
	return tmp
}

func (c *amd64Context) JumpIfZero(testOperand Operand, target Label) {
	reg := c.testOperand(testOperand)
	t := c.newProg()
	t.As = x86.ATESTQ
	toAddr(&t.From, reg)
	toAddr(&t.To, reg)

	jmp := c.newProg()
	jmp.As = x86.AJEQ
	jmp.To.Type = obj.TYPE_BRANCH
	c.resolveOrDefer(jmp, target)
}

func (c *amd64Context) JumpIfNotZero(testOperand Operand, target Label) {
	reg := c.testOperand(testOperand)
	t := c.newProg()
	t.As = x86.ATESTQ
	toAddr(&t.From, reg)
	toAddr(&t.To, reg)

	jmp := c.newProg()
	jmp.As = x86.AJNE
	jmp.To.Type = obj.TYPE_BRANCH
	c.resolveOrDefer(jmp, target)
}

func (c *amd64Context) Jump(target Label) {
	jmp := c.newProg()
	jmp.As = obj.AJMP
	jmp.To.Type = obj.TYPE_BRANCH
	c.resolveOrDefer(jmp, target)
}

func (c *amd64Context) ReturnImm(v int64) {
	p := c.newProg()
	p.As = x86.AMOVQ
	p.From.Type = obj.TYPE_CONST
	p.From.Offset = v
	p.To.Type = obj.TYPE_REG
	p.To.Reg = x86.REG_AX

	if c.frameSize > 0 {
		add := c.newProg()
		add.As = x86.AADDQ
		add.From.Type = obj.TYPE_CONST
		add.From.Offset = int64(c.frameSize)
		add.To.Type = obj.TYPE_REG
		add.To.Reg = x86.REG_SP
	}

	ret := c.newProg()
	ret.As = obj.ARET
}

func (c *amd64Context) Assemble() ([]byte, map[Label]int, error) {
	code := c.builder.Assemble()
	offsets := make(map[Label]int, len(c.labels))
	for l, p := range c.labels {
		offsets[l] = int(p.Pc)
	}
	return code, offsets, nil
}

func (c *amd64Context) Dispose() {
	c.labels = nil
	c.pending = nil
}
