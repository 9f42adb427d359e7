package jit

// passConstantPropagation implements optimizer pass 4.
func passConstantPropagation(b *Buffer) {
	for i := range b.Nodes {
		n := &b.Nodes[i]
		if n.Dead() {
			continue
		}
		switch n.Op {
		case OpPhi:
			if n.Operand0 == n.Operand1 {
				b.ReplaceAllUses(int32(i), n.Operand0)
				b.Kill(int32(i))
			}
		case OpNeg:
			if c, ok := constNum(b, n.Operand0); ok {
				*n = Node{Op: OpConstNum, Type: TNum, Operand0: NoOperand, Operand1: NoOperand, Imm: Imm{Num: -c}}
			}
		case OpBitNot:
			if c, ok := constInt(b, n.Operand0); ok {
				*n = Node{Op: OpConstInt, Type: TInt, Operand0: NoOperand, Operand1: NoOperand, Imm: Imm{Int: ^c}}
			}
		case OpAdd, OpSub, OpMul, OpDiv, OpMod:
			foldBinaryArith(b, int32(i), n)
		case OpLt, OpGt, OpLte, OpGte, OpEq, OpNeq:
			foldComparison(b, int32(i), n)
		case OpGuardTrue:
			if bv, ok := constBool(b, n.Operand0); ok && bv {
				b.Kill(int32(i))
			}
		case OpGuardFalse:
			if bv, ok := constBool(b, n.Operand0); ok && !bv {
				b.Kill(int32(i))
			}
		case OpGuardNum:
			if isProvablyNumeric(b, n.Operand0) {
				b.Kill(int32(i))
			}
		}
	}
}

func constNum(b *Buffer, id int32) (float64, bool) {
	if id == NoOperand {
		return 0, false
	}
	n := b.Nodes[id]
	if n.Dead() || n.Op != OpConstNum {
		return 0, false
	}
	return n.Imm.Num, true
}

func constInt(b *Buffer, id int32) (int64, bool) {
	if id == NoOperand {
		return 0, false
	}
	n := b.Nodes[id]
	if n.Dead() || n.Op != OpConstInt {
		return 0, false
	}
	return n.Imm.Int, true
}

func constBool(b *Buffer, id int32) (bool, bool) {
	if id == NoOperand {
		return false, false
	}
	n := b.Nodes[id]
	if n.Dead() {
		return false, false
	}
	switch n.Op {
	case OpConstBool:
		return n.Imm.Bool, true
	case OpBoxBool:
		return constBool(b, n.Operand0)
	}
	return false, false
}

// isProvablyNumeric reports whether id's producing node is known, by
// construction, to always be a number: the fold for guard-num elimination.
func isProvablyNumeric(b *Buffer, id int32) bool {
	if id == NoOperand {
		return false
	}
	n := b.Nodes[id]
	if n.Dead() {
		return false
	}
	switch n.Op {
	case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpNeg, OpConstNum, OpConstInt, OpUnboxNum:
		return true
	}
	return false
}

func foldBinaryArith(b *Buffer, id int32, n *Node) {
	if n.Type == TInt {
		lv, lok := constInt(b, n.Operand0)
		rv, rok := constInt(b, n.Operand1)
		if lok && rok {
			var res int64
			switch n.Op {
			case OpAdd:
				res = lv + rv
			case OpSub:
				res = lv - rv
			case OpMul:
				res = lv * rv
			case OpDiv:
				if rv == 0 {
					return
				}
				res = lv / rv
			case OpMod:
				if rv == 0 {
					return
				}
				res = lv % rv
			}
			*n = Node{Op: OpConstInt, Type: TInt, Operand0: NoOperand, Operand1: NoOperand, Imm: Imm{Int: res}}
			return
		}
		applyIntIdentities(b, id, n)
		return
	}

	lv, lok := constNum(b, n.Operand0)
	rv, rok := constNum(b, n.Operand1)
	if lok && rok {
		var res float64
		switch n.Op {
		case OpAdd:
			res = lv + rv
		case OpSub:
			res = lv - rv
		case OpMul:
			res = lv * rv
		case OpDiv:
			res = lv / rv
		case OpMod:
			res = numMod(lv, rv)
		}
		*n = Node{Op: OpConstNum, Type: TNum, Operand0: NoOperand, Operand1: NoOperand, Imm: Imm{Num: res}}
		return
	}
	applyNumIdentities(b, id, n)
}

func numMod(a, bv float64) float64 {
	if bv == 0 {
		return 0
	}
	m := a - bv*float64(int64(a/bv))
	return m
}

// applyNumIdentities folds x+0, 0+x, x-0, x*1, 1*x, x/1 -> x and x*0, 0*x -> 0.
func applyNumIdentities(b *Buffer, id int32, n *Node) {
	lZero, lIsZero := constNum(b, n.Operand0)
	rZero, rIsZero := constNum(b, n.Operand1)
	switch n.Op {
	case OpAdd:
		if rIsZero && rZero == 0 {
			replaceWithOperand(b, id, n.Operand0)
		} else if lIsZero && lZero == 0 {
			replaceWithOperand(b, id, n.Operand1)
		}
	case OpSub:
		if rIsZero && rZero == 0 {
			replaceWithOperand(b, id, n.Operand0)
		}
	case OpMul:
		if rIsZero && rZero == 1 {
			replaceWithOperand(b, id, n.Operand0)
		} else if lIsZero && lZero == 1 {
			replaceWithOperand(b, id, n.Operand1)
		} else if (rIsZero && rZero == 0) || (lIsZero && lZero == 0) {
			*n = Node{Op: OpConstNum, Type: TNum, Operand0: NoOperand, Operand1: NoOperand, Imm: Imm{Num: 0}}
		}
	case OpDiv:
		if rIsZero && rZero == 1 {
			replaceWithOperand(b, id, n.Operand0)
		}
	}
}

func applyIntIdentities(b *Buffer, id int32, n *Node) {
	lZero, lIsZero := constInt(b, n.Operand0)
	rZero, rIsZero := constInt(b, n.Operand1)
	switch n.Op {
	case OpAdd:
		if rIsZero && rZero == 0 {
			replaceWithOperand(b, id, n.Operand0)
		} else if lIsZero && lZero == 0 {
			replaceWithOperand(b, id, n.Operand1)
		}
	case OpSub:
		if rIsZero && rZero == 0 {
			replaceWithOperand(b, id, n.Operand0)
		}
	case OpMul:
		if rIsZero && rZero == 1 {
			replaceWithOperand(b, id, n.Operand0)
		} else if lIsZero && lZero == 1 {
			replaceWithOperand(b, id, n.Operand1)
		} else if (rIsZero && rZero == 0) || (lIsZero && lZero == 0) {
			*n = Node{Op: OpConstInt, Type: TInt, Operand0: NoOperand, Operand1: NoOperand, Imm: Imm{Int: 0}}
		}
	}
}

// replaceWithOperand rewrites node id in place into an alias: since
// ReplaceAllUses cannot target a not-yet-existing node, we fold the
// identity by pointing every other use directly at the surviving operand,
// then turn this node into a dead no-op.
func replaceWithOperand(b *Buffer, id, operand int32) {
	b.ReplaceAllUses(id, operand)
	b.Kill(id)
}

func foldComparison(b *Buffer, id int32, n *Node) {
	if lv, lok := constNum(b, n.Operand0); lok {
		if rv, rok := constNum(b, n.Operand1); rok {
			res := evalCmp(n.Op, lv, rv)
			*n = Node{Op: OpConstBool, Type: TBool, Operand0: NoOperand, Operand1: NoOperand, Imm: Imm{Bool: res}}
		}
	}
}

func evalCmp(op Op, l, r float64) bool {
	switch op {
	case OpLt:
		return l < r
	case OpGt:
		return l > r
	case OpLte:
		return l <= r
	case OpGte:
		return l >= r
	case OpEq:
		return l == r
	case OpNeq:
		return l != r
	}
	return false
}
