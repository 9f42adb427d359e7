package jit

import "math"

// passIntegerIVInference implements optimizer pass 13, in four phases.
// Phase one finds induction PHIs whose pre-loop operand is an
// integer-valued literal (or the pre-header unbox of a promoted load) and
// whose back edge adds or subtracts an integer constant step. Phase two
// optimistically propagates integer-ness through add/sub/mul. Phase three
// demotes any candidate a float-only context still consumes — a mixed
// add, a division, a constant shared with float users — because there is
// no buffer slot to materialize an int-to-double conversion in, so the
// chain reverts instead of feeding integer bits to a float instruction.
// Phase four rewrites the survivors: PHIs and arithmetic retype to int,
// entry unboxes become unbox-int, boxes of integer values become box-int,
// constants fold to integer literals, and comparisons whose operands all
// survived are marked integer.
func passIntegerIVInference(b *Buffer) {
	intSet := make(map[int32]bool)

	for i := range b.Nodes {
		n := &b.Nodes[i]
		if n.Dead() || n.Op != OpPhi {
			continue
		}
		if n.Operand0 == NoOperand || n.Operand1 == NoOperand {
			continue
		}
		pre := &b.Nodes[n.Operand0]
		if pre.Dead() {
			continue
		}
		preIsConst := pre.Op == OpConstNum && isIntegerValued(pre.Imm.Num)
		preIsLoopCarried := pre.Op == OpUnboxNum && isEntryLoad(b, pre.Operand0)
		if !preIsConst && !preIsLoopCarried {
			continue
		}
		back := &b.Nodes[n.Operand1]
		if back.Dead() || (back.Op != OpAdd && back.Op != OpSub) {
			continue
		}
		var stepID int32 = NoOperand
		if back.Operand0 == int32(i) {
			stepID = back.Operand1
		} else if back.Operand1 == int32(i) {
			stepID = back.Operand0
		} else {
			continue
		}
		if stepID == NoOperand {
			continue
		}
		step := &b.Nodes[stepID]
		if step.Dead() || step.Op != OpConstNum || !isIntegerValued(step.Imm.Num) {
			continue
		}

		intSet[int32(i)] = true
		intSet[n.Operand1] = true
		if preIsLoopCarried {
			// The pre-header unbox has no literal value to fold, but the
			// unbox-rewrite sweep below needs to know it's integer-typed.
			intSet[n.Operand0] = true
		}
	}
	if len(intSet) == 0 {
		return
	}

	constCapable := func(id int32) bool {
		if id == NoOperand {
			return false
		}
		c := &b.Nodes[id]
		if c.Dead() {
			return false
		}
		return c.Op == OpConstInt || (c.Op == OpConstNum && isIntegerValued(c.Imm.Num))
	}

	// constFloat marks integer-valued constants some float context also
	// uses (GVN may have merged a literal shared across both worlds); they
	// must stay doubles, and integer contexts must not lean on them.
	constFloat := make(map[int32]bool)

	intOperand := func(id int32) bool {
		if id == NoOperand {
			return false
		}
		if intSet[id] {
			return true
		}
		return constCapable(id) && !constFloat[id]
	}

	// Optimistic propagation through pure arithmetic.
	for changed := true; changed; {
		changed = false
		for i := range b.Nodes {
			n := &b.Nodes[i]
			if n.Dead() || intSet[int32(i)] {
				continue
			}
			switch n.Op {
			case OpAdd, OpSub, OpMul:
				if intOperand(n.Operand0) && intOperand(n.Operand1) {
					intSet[int32(i)] = true
					changed = true
				}
			}
		}
	}

	// Demotion to a fixed point.
	demote := func(id int32) bool {
		if id == NoOperand {
			return false
		}
		if intSet[id] {
			delete(intSet, id)
			return true
		}
		if constCapable(id) && !constFloat[id] {
			constFloat[id] = true
			return true
		}
		return false
	}
	for changed := true; changed; {
		changed = false
		for i := range b.Nodes {
			n := &b.Nodes[i]
			if n.Dead() {
				continue
			}
			id := int32(i)
			switch n.Op {
			case OpAdd, OpSub, OpMul, OpPhi:
				if intSet[id] {
					if constFloat[n.Operand0] || (n.Operand1 != NoOperand && constFloat[n.Operand1]) {
						delete(intSet, id)
						changed = true
					}
					continue
				}
				if demote(n.Operand0) {
					changed = true
				}
				if demote(n.Operand1) {
					changed = true
				}
			case OpDiv, OpMod, OpNeg:
				if demote(n.Operand0) {
					changed = true
				}
				if demote(n.Operand1) {
					changed = true
				}
			case OpLt, OpGt, OpLte, OpGte, OpEq, OpNeq:
				if !(intOperand(n.Operand0) && intOperand(n.Operand1)) {
					if demote(n.Operand0) {
						changed = true
					}
					if demote(n.Operand1) {
						changed = true
					}
				}
			}
		}
	}
	if len(intSet) == 0 {
		return
	}

	promote := func(id int32) {
		if id == NoOperand {
			return
		}
		c := &b.Nodes[id]
		if c.Op == OpConstNum && isIntegerValued(c.Imm.Num) && !constFloat[id] {
			*c = Node{Op: OpConstInt, Type: TInt, Operand0: NoOperand, Operand1: NoOperand, Imm: Imm{Int: int64(c.Imm.Num)}}
		}
	}

	// Retype survivors and fold their constants.
	for i := range b.Nodes {
		n := &b.Nodes[i]
		if n.Dead() || !intSet[int32(i)] {
			continue
		}
		switch n.Op {
		case OpPhi, OpAdd, OpSub, OpMul:
			n.Type = TInt
			promote(n.Operand0)
			promote(n.Operand1)
		case OpUnboxNum:
			n.Op = OpUnboxInt
			n.Type = TInt
		}
	}

	// Rewrite boxes of integer values and mark integer comparisons.
	for i := range b.Nodes {
		n := &b.Nodes[i]
		if n.Dead() {
			continue
		}
		switch n.Op {
		case OpBoxNum:
			if n.Operand0 != NoOperand && intSet[n.Operand0] {
				n.Op = OpBoxInt
			}
		case OpLt, OpGt, OpLte, OpGte, OpEq, OpNeq:
			if (intSet[n.Operand0] || intSet[n.Operand1]) && intOperand(n.Operand0) && intOperand(n.Operand1) {
				promote(n.Operand0)
				promote(n.Operand1)
				n.Type = TInt
			}
		}
	}
}

// isEntryLoad reports whether id is a pre-header load of storage (the
// shape jit/opt_loopvar.go synthesizes for a promoted module variable or
// stack local): its pre-loop value has no literal to fold, but it is still
// a sound integer-IV candidate because passLoopVariablePromotion only ever
// produces this shape from a load/unbox/store round trip with an integer
// step already confirmed by the caller.
func isEntryLoad(b *Buffer, id int32) bool {
	if id == NoOperand {
		return false
	}
	n := &b.Nodes[id]
	return !n.Dead() && (n.Op == OpLoadModVar || n.Op == OpLoadStack)
}

func isIntegerValued(f float64) bool {
	return f == math.Trunc(f) && !math.IsInf(f, 0)
}
