package jit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrengthReductionRewritesIntMulByPowerOfTwoToShift(t *testing.T) {
	b := NewBuffer(0)
	x := b.Emit(Node{Op: OpLoadStack, Type: TInt, Operand0: NoOperand, Operand1: NoOperand, Imm: Imm{Slot: 0}})
	eight := b.Emit(Node{Op: OpConstInt, Type: TInt, Imm: Imm{Int: 8}, Operand0: NoOperand, Operand1: NoOperand})
	mul := b.Emit(Node{Op: OpMul, Type: TInt, Operand0: x, Operand1: eight})

	passStrengthReduction(b)

	assert.Equal(t, OpShl, b.Nodes[mul].Op)
	assert.Equal(t, x, b.Nodes[mul].Operand0)
	assert.Equal(t, int64(3), b.Nodes[mul].Imm.Int)
}

func TestStrengthReductionLeavesNonPowerOfTwoIntMulAlone(t *testing.T) {
	b := NewBuffer(0)
	x := b.Emit(Node{Op: OpLoadStack, Type: TInt, Operand0: NoOperand, Operand1: NoOperand, Imm: Imm{Slot: 0}})
	three := b.Emit(Node{Op: OpConstInt, Type: TInt, Imm: Imm{Int: 3}, Operand0: NoOperand, Operand1: NoOperand})
	mul := b.Emit(Node{Op: OpMul, Type: TInt, Operand0: x, Operand1: three})

	passStrengthReduction(b)

	assert.Equal(t, OpMul, b.Nodes[mul].Op)
}

func TestStrengthReductionRewritesNumMulByTwoToAdd(t *testing.T) {
	b := NewBuffer(0)
	x := b.Emit(Node{Op: OpUnboxNum, Type: TNum, Operand0: NoOperand, Operand1: NoOperand})
	two := b.Emit(Node{Op: OpConstNum, Type: TNum, Imm: Imm{Num: 2}, Operand0: NoOperand, Operand1: NoOperand})
	mul := b.Emit(Node{Op: OpMul, Type: TNum, Operand0: x, Operand1: two})

	passStrengthReduction(b)

	assert.Equal(t, OpAdd, b.Nodes[mul].Op)
	assert.Equal(t, x, b.Nodes[mul].Operand0)
	assert.Equal(t, x, b.Nodes[mul].Operand1)
}

func TestStrengthReductionRewritesIntModByPowerOfTwoToMask(t *testing.T) {
	b := NewBuffer(0)
	b.Emit(Node{Op: OpNop, Operand0: NoOperand, Operand1: NoOperand})
	x := b.Emit(Node{Op: OpLoadStack, Type: TInt, Operand0: NoOperand, Operand1: NoOperand, Imm: Imm{Slot: 0}})
	four := b.Emit(Node{Op: OpConstInt, Type: TInt, Imm: Imm{Int: 4}, Operand0: NoOperand, Operand1: NoOperand})
	mod := b.Emit(Node{Op: OpMod, Type: TInt, Operand0: x, Operand1: four})

	passStrengthReduction(b)

	require.Equal(t, OpBitAnd, b.Nodes[mod].Op)
	mask := b.Nodes[mod].Operand1
	assert.Equal(t, OpConstInt, b.Nodes[mask].Op)
	assert.Equal(t, int64(3), b.Nodes[mask].Imm.Int)
}

func TestStrengthReductionRewritesNumDivByConstantToReciprocalMul(t *testing.T) {
	b := NewBuffer(0)
	b.Emit(Node{Op: OpNop, Operand0: NoOperand, Operand1: NoOperand})
	x := b.Emit(Node{Op: OpUnboxNum, Type: TNum, Operand0: NoOperand, Operand1: NoOperand})
	four := b.Emit(Node{Op: OpConstNum, Type: TNum, Imm: Imm{Num: 4}, Operand0: NoOperand, Operand1: NoOperand})
	div := b.Emit(Node{Op: OpDiv, Type: TNum, Operand0: x, Operand1: four})

	passStrengthReduction(b)

	require.Equal(t, OpMul, b.Nodes[div].Op)
	recip := b.Nodes[div].Operand1
	assert.Equal(t, OpConstNum, b.Nodes[recip].Op)
	assert.Equal(t, 0.25, b.Nodes[recip].Imm.Num)
}
