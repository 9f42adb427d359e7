package jit

// passBoxUnboxElimination implements optimizer pass 2.
func passBoxUnboxElimination(b *Buffer) {
	// (a) cancel adjacent inverse pairs.
	for i := range b.Nodes {
		n := &b.Nodes[i]
		if n.Dead() {
			continue
		}
		switch n.Op {
		case OpBoxNum:
			if inner := b.Nodes[n.Operand0]; inner.Op == OpUnboxNum && !inner.Dead() {
				b.ReplaceAllUses(int32(i), inner.Operand0)
				b.Kill(int32(i))
			}
		case OpUnboxNum:
			inner := b.Nodes[n.Operand0]
			if inner.Op == OpBoxNum && !inner.Dead() {
				b.ReplaceAllUses(int32(i), inner.Operand0)
				b.Kill(int32(i))
			} else if inner.Op == OpConstNum && !inner.Dead() {
				b.Nodes[i] = Node{Op: OpConstNum, Type: TNum, Operand0: NoOperand, Operand1: NoOperand, Imm: Imm{Num: inner.Imm.Num}}
			}
		case OpBoxObj:
			if inner := b.Nodes[n.Operand0]; inner.Op == OpUnboxObj && !inner.Dead() {
				b.ReplaceAllUses(int32(i), inner.Operand0)
				b.Kill(int32(i))
			}
		case OpUnboxObj:
			if inner := b.Nodes[n.Operand0]; inner.Op == OpBoxObj && !inner.Dead() {
				b.ReplaceAllUses(int32(i), inner.Operand0)
				b.Kill(int32(i))
			}
		}
	}

	// (b) a box-num whose every use is an unbox-num, and which is never
	// referenced by a snapshot entry, can be elided entirely.
	snapshotted := snapshotReferencedSet(b)
	useCount := make([]int, len(b.Nodes))
	allUnbox := make([]bool, len(b.Nodes))
	for i := range b.Nodes {
		allUnbox[i] = true
	}
	for i := range b.Nodes {
		n := &b.Nodes[i]
		if n.Dead() {
			continue
		}
		if n.Operand0 != NoOperand {
			useCount[n.Operand0]++
			if n.Op != OpUnboxNum {
				allUnbox[n.Operand0] = false
			}
		}
		if n.Operand1 != NoOperand {
			useCount[n.Operand1]++
			if n.Op != OpUnboxNum {
				allUnbox[n.Operand1] = false
			}
		}
	}
	for i := range b.Nodes {
		n := &b.Nodes[i]
		if n.Dead() || n.Op != OpBoxNum {
			continue
		}
		if useCount[i] == 0 || !allUnbox[i] || snapshotted[int32(i)] {
			continue
		}
		for j := range b.Nodes {
			u := &b.Nodes[j]
			if u.Dead() || u.Op != OpUnboxNum {
				continue
			}
			if u.Operand0 == int32(i) {
				b.ReplaceAllUses(int32(j), n.Operand0)
				b.Kill(int32(j))
			}
		}
		b.Kill(int32(i))
	}
}

// snapshotReferencedSet returns the set of SSA ids named by any live
// snapshot entry.
func snapshotReferencedSet(b *Buffer) map[int32]bool {
	m := make(map[int32]bool, len(b.Entries))
	for _, e := range b.Entries {
		m[e.ID] = true
	}
	return m
}
