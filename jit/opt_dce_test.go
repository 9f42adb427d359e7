package jit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDCEKillsUnusedPureComputation(t *testing.T) {
	b := NewBuffer(0)
	c1 := b.Emit(Node{Op: OpConstNum, Type: TNum, Imm: Imm{Num: 1}, Operand0: NoOperand, Operand1: NoOperand})
	c2 := b.Emit(Node{Op: OpConstNum, Type: TNum, Imm: Imm{Num: 2}, Operand0: NoOperand, Operand1: NoOperand})
	dead := b.Emit(Node{Op: OpAdd, Type: TNum, Operand0: c1, Operand1: c2})
	_ = dead

	passDCE(b)

	assert.True(t, b.Nodes[dead].Dead())
	assert.True(t, b.Nodes[c1].Dead())
	assert.True(t, b.Nodes[c2].Dead())
}

func TestDCEKeepsValueReachableFromStoreRoot(t *testing.T) {
	b := NewBuffer(0)
	val := b.Emit(Node{Op: OpConstNum, Type: TNum, Imm: Imm{Num: 1}, Operand0: NoOperand, Operand1: NoOperand})
	store := b.Emit(Node{Op: OpStoreStack, Operand0: val, Operand1: NoOperand, Imm: Imm{Slot: 0}})

	passDCE(b)

	assert.False(t, b.Nodes[val].Dead())
	assert.False(t, b.Nodes[store].Dead())
}

func TestDCEKeepsValueReferencedBySnapshotEntry(t *testing.T) {
	b := NewBuffer(0)
	val := b.Emit(Node{Op: OpConstNum, Type: TNum, Imm: Imm{Num: 1}, Operand0: NoOperand, Operand1: NoOperand})
	b.AddSnapshot(0, 0, []SnapshotEntry{{Slot: 0, ID: val}})

	passDCE(b)

	assert.False(t, b.Nodes[val].Dead())
}

func TestDCEKeepsGuardsAndCallsAsRoots(t *testing.T) {
	b := NewBuffer(0)
	val := b.Emit(Node{Op: OpConstNum, Type: TNum, Imm: Imm{Num: 1}, Operand0: NoOperand, Operand1: NoOperand})
	guard := b.Emit(Node{Op: OpGuardNum, Operand0: val, Operand1: NoOperand, Flags: FlagGuard})
	callArg := b.Emit(Node{Op: OpConstObj, Type: TPtr, Operand0: NoOperand, Operand1: NoOperand})
	call := b.Emit(Node{Op: OpCall, Type: TPtr, Operand0: callArg, Operand1: NoOperand})

	passDCE(b)

	assert.False(t, b.Nodes[guard].Dead())
	assert.False(t, b.Nodes[val].Dead())
	assert.False(t, b.Nodes[call].Dead())
	assert.False(t, b.Nodes[callArg].Dead())
}
