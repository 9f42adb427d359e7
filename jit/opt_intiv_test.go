package jit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildConstIV builds a PHI whose pre-loop operand is a literal integer-
// valued constant and whose back edge adds a constant integer step, the
// simplest integer-IV shape (a plain `for i := 0; ...; i += 1` counter with
// no promoted storage underneath it).
func buildConstIV(b *Buffer, preVal, stepVal float64) (phi, pre, step, back int32) {
	pre = b.Emit(Node{Op: OpConstNum, Type: TNum, Imm: Imm{Num: preVal}, Operand0: NoOperand, Operand1: NoOperand})
	step = b.Emit(Node{Op: OpConstNum, Type: TNum, Imm: Imm{Num: stepVal}, Operand0: NoOperand, Operand1: NoOperand})
	phi = b.Emit(Node{Op: OpPhi, Type: TNum, Operand0: pre, Operand1: NoOperand})
	back = b.Emit(Node{Op: OpAdd, Type: TNum, Operand0: phi, Operand1: step})
	b.Nodes[phi].Operand1 = back
	return
}

func TestIntegerIVInferenceRewritesLiteralPreLoopOperandToConstInt(t *testing.T) {
	b := NewBuffer(0)
	phi, pre, step, back := buildConstIV(b, 0, 1)

	passIntegerIVInference(b)

	assert.Equal(t, TInt, b.Nodes[phi].Type)
	assert.Equal(t, OpConstInt, b.Nodes[pre].Op)
	assert.Equal(t, int64(0), b.Nodes[pre].Imm.Int)
	assert.Equal(t, OpConstInt, b.Nodes[step].Op)
	assert.Equal(t, int64(1), b.Nodes[step].Imm.Int)
	assert.Equal(t, TInt, b.Nodes[back].Type)
}

func TestIntegerIVInferenceLeavesNonIntegerStepAlone(t *testing.T) {
	b := NewBuffer(0)
	phi, _, _, _ := buildConstIV(b, 0, 0.5)

	passIntegerIVInference(b)

	assert.NotEqual(t, TInt, b.Nodes[phi].Type, "a non-integer step disqualifies the PHI as an integer IV")
}

// buildLoopCarriedIV mimics the shape passLoopVariablePromotion synthesizes:
// the PHI's pre-loop operand is the pre-header unbox of a load, not a
// literal, so it has nothing to fold but is still a sound integer-IV
// candidate (jit/opt_intiv.go's isEntryLoad).
func buildLoopCarriedIV(b *Buffer, stepVal float64) (phi, preUnbox, preLoad, step, back int32) {
	preLoad = b.Emit(Node{Op: OpLoadStack, Type: TValue, Operand0: NoOperand, Operand1: NoOperand, Imm: Imm{Slot: 0}})
	preUnbox = b.Emit(Node{Op: OpUnboxNum, Type: TNum, Operand0: preLoad, Operand1: NoOperand})
	step = b.Emit(Node{Op: OpConstNum, Type: TNum, Imm: Imm{Num: stepVal}, Operand0: NoOperand, Operand1: NoOperand})
	phi = b.Emit(Node{Op: OpPhi, Type: TNum, Operand0: preUnbox, Operand1: NoOperand})
	back = b.Emit(Node{Op: OpAdd, Type: TNum, Operand0: phi, Operand1: step})
	b.Nodes[phi].Operand1 = back
	return
}

func TestIntegerIVInferenceAcceptsLoopCarriedEntryLoad(t *testing.T) {
	b := NewBuffer(0)
	phi, preUnbox, _, step, _ := buildLoopCarriedIV(b, 1)

	passIntegerIVInference(b)

	assert.Equal(t, TInt, b.Nodes[phi].Type)
	// The pre-header unbox has no literal value to fold, but it joins the
	// integer set, so the pass's retyping sweep rewrites it to unbox-int;
	// the step constant folds to an integer literal.
	assert.Equal(t, OpUnboxInt, b.Nodes[preUnbox].Op, "intSet marks the entry unbox, and the retyping sweep rewrites it to unbox-int")
	assert.Equal(t, OpConstInt, b.Nodes[step].Op)
}

func TestIntegerIVInferenceRejectsNonLoadNonConstPreLoopOperand(t *testing.T) {
	b := NewBuffer(0)
	pre := b.Emit(Node{Op: OpNeg, Type: TNum, Operand0: NoOperand, Operand1: NoOperand})
	step := b.Emit(Node{Op: OpConstNum, Type: TNum, Imm: Imm{Num: 1}, Operand0: NoOperand, Operand1: NoOperand})
	phi := b.Emit(Node{Op: OpPhi, Type: TNum, Operand0: pre, Operand1: NoOperand})
	back := b.Emit(Node{Op: OpAdd, Type: TNum, Operand0: phi, Operand1: step})
	b.Nodes[phi].Operand1 = back

	passIntegerIVInference(b)

	assert.NotEqual(t, TInt, b.Nodes[phi].Type, "an arbitrary computed pre-loop value is neither a literal nor a recognized entry load")
}

func TestIntegerIVInferencePropagatesThroughArithmeticToFixedPoint(t *testing.T) {
	b := NewBuffer(0)
	// The fixed-point loop accepts an operand that is already int-typed
	// (from the PHI/back-edge detection, or transitively from an earlier
	// node) or an integer-valued constant. Chaining the IV against itself
	// (phi+back, then sum2-back) uses no constant, so sub2 can only become
	// int-typed through sum2, exercising node-to-node propagation.
	phi, _, _, back := buildConstIV(b, 0, 1)
	sum2 := b.Emit(Node{Op: OpAdd, Type: TNum, Operand0: phi, Operand1: back})
	sub2 := b.Emit(Node{Op: OpSub, Type: TNum, Operand0: sum2, Operand1: back})

	passIntegerIVInference(b)

	require.Equal(t, TInt, b.Nodes[phi].Type)
	assert.Equal(t, TInt, b.Nodes[sum2].Type, "both operands are already confirmed int-typed from the IV detection")
	assert.Equal(t, TInt, b.Nodes[sub2].Type, "propagates on from sum2 once sum2 itself becomes int-typed")
}

func TestIntegerIVInferencePromotesConstantFeedingIntTypedArithmetic(t *testing.T) {
	b := NewBuffer(0)
	phi, _, _, _ := buildConstIV(b, 0, 1)
	c := b.Emit(Node{Op: OpConstNum, Type: TNum, Imm: Imm{Num: 2}, Operand0: NoOperand, Operand1: NoOperand})
	b.Emit(Node{Op: OpMul, Type: TNum, Operand0: phi, Operand1: c})

	passIntegerIVInference(b)

	assert.Equal(t, OpConstInt, b.Nodes[c].Op, "a constant multiplied against a confirmed integer IV gets promoted to a literal int")
}

func TestIntegerIVInferenceRewritesBoxNumConsumingIntTypedValue(t *testing.T) {
	b := NewBuffer(0)
	phi, _, _, back := buildConstIV(b, 0, 1)
	box := b.Emit(Node{Op: OpBoxNum, Type: TValue, Operand0: back, Operand1: NoOperand})

	passIntegerIVInference(b)

	require.Equal(t, TInt, b.Nodes[back].Type)
	assert.Equal(t, OpBoxInt, b.Nodes[box].Op, "a box whose operand is confirmed integer-typed must box as an int, not a float")
	_ = phi
}

func TestIntegerIVInferenceMarksIntegerComparisonAsTInt(t *testing.T) {
	b := NewBuffer(0)
	phi, _, _, _ := buildConstIV(b, 0, 1)
	bound := b.Emit(Node{Op: OpConstNum, Type: TNum, Imm: Imm{Num: 100}, Operand0: NoOperand, Operand1: NoOperand})
	cmp := b.Emit(Node{Op: OpLt, Type: TBool, Operand0: phi, Operand1: bound})

	passIntegerIVInference(b)

	assert.Equal(t, OpConstInt, b.Nodes[bound].Op, "the comparison bound is a constant feeding int-typed arithmetic and gets promoted")
	assert.Equal(t, TInt, b.Nodes[cmp].Type, "once both sides are confirmed integer-typed the comparison itself is marked integer")
}

func TestIntegerIVInferenceLeavesUnrelatedPhiAlone(t *testing.T) {
	b := NewBuffer(0)
	pre := b.Emit(Node{Op: OpConstNum, Type: TNum, Imm: Imm{Num: 0.5}, Operand0: NoOperand, Operand1: NoOperand})
	step := b.Emit(Node{Op: OpConstNum, Type: TNum, Imm: Imm{Num: 1}, Operand0: NoOperand, Operand1: NoOperand})
	phi := b.Emit(Node{Op: OpPhi, Type: TNum, Operand0: pre, Operand1: NoOperand})
	back := b.Emit(Node{Op: OpAdd, Type: TNum, Operand0: phi, Operand1: step})
	b.Nodes[phi].Operand1 = back

	passIntegerIVInference(b)

	assert.NotEqual(t, TInt, b.Nodes[phi].Type, "a fractional pre-loop literal is never integer-valued")
	assert.Equal(t, OpConstNum, b.Nodes[pre].Op, "must not be rewritten since it was never accepted as an integer IV")
}
