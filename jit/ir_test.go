package jit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferEmitAssignsSequentialIDs(t *testing.T) {
	b := NewBuffer(42)
	id0 := b.Emit(Node{Op: OpConstNum, Type: TNum, Operand0: NoOperand, Operand1: NoOperand, Imm: Imm{Num: 1}})
	id1 := b.Emit(Node{Op: OpConstNum, Type: TNum, Operand0: NoOperand, Operand1: NoOperand, Imm: Imm{Num: 2}})
	assert.Equal(t, int32(0), id0)
	assert.Equal(t, int32(1), id1)
	assert.Len(t, b.Nodes, 2)
	assert.Equal(t, uint32(42), b.AnchorPC)
}

func TestBufferEmitRejectsOverCapacity(t *testing.T) {
	b := NewBuffer(0)
	b.Nodes = make([]Node, MaxIRNodes)
	id := b.Emit(Node{Op: OpNop})
	assert.Equal(t, int32(NoOperand), id)
	assert.Len(t, b.Nodes, MaxIRNodes)
}

func TestAddSnapshotAndSnapshotEntries(t *testing.T) {
	b := NewBuffer(0)
	entries := []SnapshotEntry{{Slot: 0, ID: 0}, {Slot: 1, ID: 1}}
	id := b.AddSnapshot(100, 2, entries)
	assert.Equal(t, int32(0), id)

	got := b.SnapshotEntries(id)
	require.Len(t, got, 2)
	assert.Equal(t, entries[0], got[0])
	assert.Equal(t, entries[1], got[1])

	id2 := b.AddSnapshot(200, 1, []SnapshotEntry{{Slot: 0, ID: 2}})
	assert.Equal(t, int32(1), id2)
	assert.Len(t, b.SnapshotEntries(id2), 1)
	// The shared entry pool must not have been disturbed by the second add.
	assert.Len(t, b.SnapshotEntries(id), 2)
}

func TestReplaceAllUsesRewritesNodesAndEntries(t *testing.T) {
	b := NewBuffer(0)
	b.Emit(Node{Op: OpConstNum, Operand0: NoOperand, Operand1: NoOperand})
	b.Emit(Node{Op: OpAdd, Operand0: 0, Operand1: 0})
	b.AddSnapshot(0, 0, []SnapshotEntry{{Slot: 0, ID: 0}})

	b.ReplaceAllUses(0, 5)

	assert.Equal(t, int32(5), b.Nodes[1].Operand0)
	assert.Equal(t, int32(5), b.Nodes[1].Operand1)
	assert.Equal(t, int32(5), b.SnapshotEntries(0)[0].ID)
}

func TestReplaceAllUsesNoopWhenEqual(t *testing.T) {
	b := NewBuffer(0)
	b.Emit(Node{Op: OpAdd, Operand0: 3, Operand1: 3})
	b.ReplaceAllUses(3, 3)
	assert.Equal(t, int32(3), b.Nodes[0].Operand0)
}

func TestKillMarksDeadAndClearsOp(t *testing.T) {
	b := NewBuffer(0)
	b.Emit(Node{Op: OpConstNum})
	b.Kill(0)
	assert.True(t, b.Nodes[0].Dead())
	assert.Equal(t, OpNop, b.Nodes[0].Op)
}

func TestNodeFlagHelpers(t *testing.T) {
	n := Node{Flags: FlagInvariant | FlagGuard}
	assert.True(t, n.Invariant())
	assert.True(t, n.IsGuard())
	assert.False(t, n.Hoisted())
	assert.False(t, n.Dead())
}

func TestIsGuardOp(t *testing.T) {
	assert.True(t, isGuardOp(OpGuardNum))
	assert.True(t, isGuardOp(OpGuardClass))
	assert.True(t, isGuardOp(OpGuardTrue))
	assert.True(t, isGuardOp(OpGuardFalse))
	assert.True(t, isGuardOp(OpGuardNotNull))
	assert.False(t, isGuardOp(OpAdd))
	assert.False(t, isGuardOp(OpNop))
}
