package jit

// passStrengthReduction implements optimizer pass 8.
func passStrengthReduction(b *Buffer) {
	for i := range b.Nodes {
		n := &b.Nodes[i]
		if n.Dead() {
			continue
		}
		switch n.Op {
		case OpMul:
			reduceMul(b, int32(i), n)
		case OpDiv:
			reduceDiv(b, int32(i), n)
		case OpMod:
			reduceMod(b, int32(i), n)
		}
	}
}

func powerOfTwoShift(v int64) (int64, bool) {
	if v <= 0 || v&(v-1) != 0 {
		return 0, false
	}
	shift := int64(0)
	for v > 1 {
		v >>= 1
		shift++
	}
	return shift, true
}

func reduceMul(b *Buffer, id int32, n *Node) {
	if n.Type == TInt {
		if iv, ok := constInt(b, n.Operand1); ok {
			if shift, isPow2 := powerOfTwoShift(iv); isPow2 {
				n.Op = OpShl
				n.Operand1 = NoOperand
				n.Imm = Imm{Int: shift}
				return
			}
		}
		if iv, ok := constInt(b, n.Operand0); ok {
			if shift, isPow2 := powerOfTwoShift(iv); isPow2 {
				n.Op = OpShl
				n.Operand0 = n.Operand1
				n.Operand1 = NoOperand
				n.Imm = Imm{Int: shift}
				return
			}
		}
		return
	}
	if fv, ok := constNum(b, n.Operand1); ok && fv == 2 {
		n.Op = OpAdd
		n.Operand1 = n.Operand0
		return
	}
	if fv, ok := constNum(b, n.Operand0); ok && fv == 2 {
		n.Op = OpAdd
		n.Operand0 = n.Operand1
		return
	}
}

func reduceDiv(b *Buffer, id int32, n *Node) {
	if n.Type == TInt {
		return
	}
	if c, ok := constNum(b, n.Operand1); ok && c != 0 {
		slot := findFreeNopSlot(b, id)
		if slot == NoOperand {
			return
		}
		b.Nodes[slot] = Node{Op: OpConstNum, Type: TNum, Operand0: NoOperand, Operand1: NoOperand, Imm: Imm{Num: 1 / c}}
		n.Op = OpMul
		n.Operand1 = slot
	}
}

func reduceMod(b *Buffer, id int32, n *Node) {
	if n.Type != TInt {
		return
	}
	if iv, ok := constInt(b, n.Operand1); ok {
		if _, isPow2 := powerOfTwoShift(iv); isPow2 {
			slot := findFreeNopSlot(b, id)
			if slot == NoOperand {
				return
			}
			b.Nodes[slot] = Node{Op: OpConstInt, Type: TInt, Operand0: NoOperand, Operand1: NoOperand, Imm: Imm{Int: iv - 1}}
			n.Op = OpBitAnd
			n.Operand1 = slot
		}
	}
}
