package jit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProofBasedGuardEliminationKillsGuardNumOnProvenNumericLoad(t *testing.T) {
	b := NewBuffer(0)
	boxed := b.Emit(Node{Op: OpConstNum, Type: TNum, Imm: Imm{Num: 1}, Operand0: NoOperand, Operand1: NoOperand})
	b.Emit(Node{Op: OpStoreStack, Operand0: boxed, Operand1: NoOperand, Imm: Imm{Slot: 0}})
	load := b.Emit(Node{Op: OpLoadStack, Type: TValue, Operand0: NoOperand, Operand1: NoOperand, Imm: Imm{Slot: 0}})
	guard := b.Emit(Node{Op: OpGuardNum, Operand0: load, Operand1: NoOperand, Flags: FlagGuard})

	passProofBasedGuardElimination(b)

	assert.True(t, b.Nodes[guard].Dead())
}

func TestProofBasedGuardEliminationKeepsGuardOnUnprovenSlot(t *testing.T) {
	b := NewBuffer(0)
	obj := b.Emit(Node{Op: OpConstObj, Type: TPtr, Operand0: NoOperand, Operand1: NoOperand})
	b.Emit(Node{Op: OpStoreStack, Operand0: obj, Operand1: NoOperand, Imm: Imm{Slot: 0}})
	load := b.Emit(Node{Op: OpLoadStack, Type: TValue, Operand0: NoOperand, Operand1: NoOperand, Imm: Imm{Slot: 0}})
	guard := b.Emit(Node{Op: OpGuardNum, Operand0: load, Operand1: NoOperand, Flags: FlagGuard})

	passProofBasedGuardElimination(b)

	assert.False(t, b.Nodes[guard].Dead())
}

func TestProofBasedGuardEliminationDedupesWithoutLoopHeaderReset(t *testing.T) {
	b := NewBuffer(0)
	val := b.Emit(Node{Op: OpLoadStack, Type: TValue, Operand0: NoOperand, Operand1: NoOperand, Imm: Imm{Slot: 0}})
	g1 := b.Emit(Node{Op: OpGuardNotNull, Operand0: val, Operand1: NoOperand, Flags: FlagGuard})
	header := b.Emit(Node{Op: OpLoopHeader, Operand0: NoOperand, Operand1: NoOperand})
	b.LoopHeader = header
	g2 := b.Emit(Node{Op: OpGuardNotNull, Operand0: val, Operand1: NoOperand, Flags: FlagGuard})

	passProofBasedGuardElimination(b)

	require.False(t, b.Nodes[g1].Dead())
	assert.True(t, b.Nodes[g2].Dead(), "proof-based pass must not reset its seen-set at the loop header")
}

func TestMarkDispensableStoresKillsStoreWithNoInLoopReloadOrCall(t *testing.T) {
	b := NewBuffer(0)
	val := b.Emit(Node{Op: OpConstNum, Type: TNum, Imm: Imm{Num: 1}, Operand0: NoOperand, Operand1: NoOperand})
	for i := 0; i < 4; i++ {
		b.Emit(Node{Op: OpNop, Operand0: NoOperand, Operand1: NoOperand})
	}
	header := b.Emit(Node{Op: OpLoopHeader, Operand0: NoOperand, Operand1: NoOperand})
	b.LoopHeader = header
	store := b.Emit(Node{Op: OpStoreStack, Operand0: val, Operand1: NoOperand, Imm: Imm{Slot: 0}})
	back := b.Emit(Node{Op: OpLoopBack, Operand0: NoOperand, Operand1: NoOperand})
	b.LoopBack = back

	passProofBasedGuardElimination(b)

	assert.True(t, b.Nodes[store].Dead())
}

func TestMarkDispensableStoresKeepsStoreReloadedInsideLoop(t *testing.T) {
	b := NewBuffer(0)
	val := b.Emit(Node{Op: OpConstNum, Type: TNum, Imm: Imm{Num: 1}, Operand0: NoOperand, Operand1: NoOperand})
	for i := 0; i < 4; i++ {
		b.Emit(Node{Op: OpNop, Operand0: NoOperand, Operand1: NoOperand})
	}
	header := b.Emit(Node{Op: OpLoopHeader, Operand0: NoOperand, Operand1: NoOperand})
	b.LoopHeader = header
	store := b.Emit(Node{Op: OpStoreStack, Operand0: val, Operand1: NoOperand, Imm: Imm{Slot: 0}})
	b.Emit(Node{Op: OpLoadStack, Type: TValue, Operand0: NoOperand, Operand1: NoOperand, Imm: Imm{Slot: 0}})
	back := b.Emit(Node{Op: OpLoopBack, Operand0: NoOperand, Operand1: NoOperand})
	b.LoopBack = back

	passProofBasedGuardElimination(b)

	assert.False(t, b.Nodes[store].Dead())
}
