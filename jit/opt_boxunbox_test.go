package jit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoxUnboxEliminationCancelsAdjacentInversePair(t *testing.T) {
	b := NewBuffer(0)
	raw := b.Emit(Node{Op: OpLoadStack, Type: TNum, Operand0: NoOperand, Operand1: NoOperand, Imm: Imm{Slot: 0}})
	boxed := b.Emit(Node{Op: OpBoxNum, Type: TValue, Operand0: raw, Operand1: NoOperand})
	unboxed := b.Emit(Node{Op: OpUnboxNum, Type: TNum, Operand0: boxed, Operand1: NoOperand})
	use := b.Emit(Node{Op: OpNeg, Type: TNum, Operand0: unboxed, Operand1: NoOperand})

	passBoxUnboxElimination(b)

	// The unbox cancels directly against its producing box (part (a));
	// the now-unreferenced box itself is left for DCE to sweep up rather
	// than killed here (part (b) only elides a box whose use count is
	// nonzero use count survives sub-pass (a) and is sub-pass (b)'s job).
	assert.True(t, b.Nodes[unboxed].Dead())
	assert.False(t, b.Nodes[boxed].Dead())
	assert.Equal(t, raw, b.Nodes[use].Operand0)
}

func TestBoxUnboxEliminationFoldsUnboxOfConstant(t *testing.T) {
	b := NewBuffer(0)
	c := b.Emit(Node{Op: OpConstNum, Type: TNum, Imm: Imm{Num: 7}, Operand0: NoOperand, Operand1: NoOperand})
	unbox := b.Emit(Node{Op: OpUnboxNum, Type: TNum, Operand0: c, Operand1: NoOperand})

	passBoxUnboxElimination(b)

	assert.Equal(t, OpConstNum, b.Nodes[unbox].Op)
	assert.Equal(t, 7.0, b.Nodes[unbox].Imm.Num)
}

func TestBoxUnboxEliminationCancelsEveryDirectUnboxOfTheSameBox(t *testing.T) {
	b := NewBuffer(0)
	raw := b.Emit(Node{Op: OpLoadStack, Type: TNum, Operand0: NoOperand, Operand1: NoOperand, Imm: Imm{Slot: 0}})
	box := b.Emit(Node{Op: OpBoxNum, Type: TValue, Operand0: raw, Operand1: NoOperand})
	unbox1 := b.Emit(Node{Op: OpUnboxNum, Type: TNum, Operand0: box, Operand1: NoOperand})
	unbox2 := b.Emit(Node{Op: OpUnboxNum, Type: TNum, Operand0: box, Operand1: NoOperand})
	use1 := b.Emit(Node{Op: OpNeg, Type: TNum, Operand0: unbox1, Operand1: NoOperand})
	use2 := b.Emit(Node{Op: OpNeg, Type: TNum, Operand0: unbox2, Operand1: NoOperand})

	passBoxUnboxElimination(b)

	require.True(t, b.Nodes[unbox1].Dead())
	require.True(t, b.Nodes[unbox2].Dead())
	assert.Equal(t, raw, b.Nodes[use1].Operand0)
	assert.Equal(t, raw, b.Nodes[use2].Operand0)
}

func TestBoxUnboxEliminationKeepsBoxReferencedBySnapshot(t *testing.T) {
	b := NewBuffer(0)
	raw := b.Emit(Node{Op: OpLoadStack, Type: TNum, Operand0: NoOperand, Operand1: NoOperand, Imm: Imm{Slot: 0}})
	box := b.Emit(Node{Op: OpBoxNum, Type: TValue, Operand0: raw, Operand1: NoOperand})
	b.Emit(Node{Op: OpUnboxNum, Type: TNum, Operand0: box, Operand1: NoOperand})
	b.AddSnapshot(0, 0, []SnapshotEntry{{Slot: 0, ID: box}})

	passBoxUnboxElimination(b)

	assert.False(t, b.Nodes[box].Dead())
}
