package jit

// passProofBasedGuardElimination is optimizer pass 12: phase A re-dedupes
// guards using a proven-numeric fact set without
// resetting at the loop header; phase B marks dispensable store-stack
// nodes dead ahead of the final DCE sweep.
func passProofBasedGuardElimination(b *Buffer) {
	numericSlots := provablyNumericSlots(b)

	seen := make(map[string]bool)
	for i := range b.Nodes {
		n := &b.Nodes[i]
		if n.Dead() || !n.IsGuard() {
			continue
		}
		if n.Op == OpGuardNum && isProvablyNumericOrLoad(b, n.Operand0, numericSlots) {
			b.Kill(int32(i))
			continue
		}
		key := guardKey(n)
		if seen[key] {
			b.Kill(int32(i))
			continue
		}
		seen[key] = true
	}

	markDispensableStores(b)
}

func isProvablyNumericOrLoad(b *Buffer, id int32, numericSlots map[uint32]bool) bool {
	if isProvablyNumeric(b, id) {
		return true
	}
	if id == NoOperand {
		return false
	}
	n := &b.Nodes[id]
	return n.Op == OpLoadStack && numericSlots[n.Imm.Slot]
}

// provablyNumericSlots finds every stack slot whose every store (anywhere
// in the buffer) writes a value produced by a box-num or const-num node
// (or an already-unboxed numeric result).
func provablyNumericSlots(b *Buffer) map[uint32]bool {
	storesBySlot := make(map[uint32][]int32)
	for i := range b.Nodes {
		n := &b.Nodes[i]
		if n.Dead() || n.Op != OpStoreStack {
			continue
		}
		storesBySlot[n.Imm.Slot] = append(storesBySlot[n.Imm.Slot], int32(i))
	}
	result := make(map[uint32]bool)
	for slot, ids := range storesBySlot {
		allNumeric := true
		for _, id := range ids {
			val := b.Nodes[id].Operand0
			if val == NoOperand {
				allNumeric = false
				break
			}
			vn := &b.Nodes[val]
			if vn.Type != TNum && vn.Op != OpBoxNum && vn.Op != OpConstNum {
				allNumeric = false
				break
			}
		}
		if allNumeric {
			result[slot] = true
		}
	}
	return result
}

// markDispensableStores implements phase B: a store-stack is dispensable
// iff no call follows it before the next snapshot or side-exit and no
// load-stack of the same slot exists inside the loop body.
func markDispensableStores(b *Buffer) {
	header, back := b.LoopHeader, b.LoopBack
	for i := range b.Nodes {
		n := &b.Nodes[i]
		if n.Dead() || n.Op != OpStoreStack {
			continue
		}
		if callBeforeNextCheckpoint(b, int32(i)) {
			continue
		}
		if header != NoOperand && back != NoOperand && loadOfSlotInRange(b, n.Imm.Slot, header, back) {
			continue
		}
		b.Kill(int32(i))
	}
}

func callBeforeNextCheckpoint(b *Buffer, from int32) bool {
	for j := from + 1; int(j) < len(b.Nodes); j++ {
		n := &b.Nodes[j]
		if n.Dead() {
			continue
		}
		if n.Op == OpCall {
			return true
		}
		if n.IsGuard() || n.Op == OpSideExit {
			return false
		}
	}
	return false
}

func loadOfSlotInRange(b *Buffer, slot uint32, lo, hi int32) bool {
	for j := lo + 1; j < hi; j++ {
		n := &b.Nodes[j]
		if !n.Dead() && n.Op == OpLoadStack && n.Imm.Slot == slot {
			return true
		}
	}
	return false
}
