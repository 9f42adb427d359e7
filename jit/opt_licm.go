package jit

// passLICM implements optimizer pass 6: loop-invariant code
// motion between loop-header and loop-back, iterated to a fixed point,
// with hoisted nodes relocated into pre-header no-op slots.
func passLICM(b *Buffer) {
	if b.LoopHeader == NoOperand || b.LoopBack == NoOperand {
		return
	}
	header, back := b.LoopHeader, b.LoopBack
	writtenSlots := writtenStackSlots(b, header, back)

	for {
		changed := false
		for i := header + 1; i < back; i++ {
			n := &b.Nodes[i]
			if n.Dead() || n.Op == OpPhi || sideEffecting(n.Op) || n.Hoisted() {
				continue
			}
			if n.Op == OpLoadStack && writtenSlots[n.Imm.Slot] {
				continue
			}
			if !operandInvariant(b, n.Operand0, header) || !operandInvariant(b, n.Operand1, header) {
				continue
			}
			slot := findFreeNopSlot(b, header)
			if slot == NoOperand {
				continue
			}
			moved := *n
			moved.Flags |= FlagInvariant | FlagHoisted
			b.Nodes[slot] = moved
			b.ReplaceAllUses(int32(i), slot)
			b.Kill(int32(i))
			changed = true
		}
		if !changed {
			break
		}
	}
}

func operandInvariant(b *Buffer, id, header int32) bool {
	if id == NoOperand {
		return true
	}
	if id < header {
		return true
	}
	n := &b.Nodes[id]
	return isConst(b, id) || n.Invariant()
}

func writtenStackSlots(b *Buffer, header, back int32) map[uint32]bool {
	m := make(map[uint32]bool)
	for i := header + 1; i < back; i++ {
		n := &b.Nodes[i]
		if !n.Dead() && n.Op == OpStoreStack {
			m[n.Imm.Slot] = true
		}
	}
	return m
}
