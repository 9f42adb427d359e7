package jit

// passDCE implements optimizer passes 11 and 14: mark-sweep
// dead code elimination. Roots are stores, side-exits, loop boundaries,
// calls, PHIs, any guard, and any SSA id referenced by a snapshot entry;
// liveness propagates backward through operands.
func passDCE(b *Buffer) {
	live := make([]bool, len(b.Nodes))
	var worklist []int32

	mark := func(id int32) {
		if id == NoOperand || live[id] {
			return
		}
		live[id] = true
		worklist = append(worklist, id)
	}

	for i := range b.Nodes {
		n := &b.Nodes[i]
		if n.Dead() {
			continue
		}
		if isDCERoot(n) {
			mark(int32(i))
		}
	}
	for _, e := range b.Entries {
		mark(e.ID)
	}

	for len(worklist) > 0 {
		id := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		n := &b.Nodes[id]
		mark(n.Operand0)
		mark(n.Operand1)
	}

	for i := range b.Nodes {
		n := &b.Nodes[i]
		if n.Dead() || n.Op == OpNop {
			continue
		}
		if !live[i] {
			b.Kill(int32(i))
		}
	}
}

func isDCERoot(n *Node) bool {
	switch n.Op {
	case OpStoreStack, OpStoreField, OpStoreMod,
		OpSideExit, OpLoopHeader, OpLoopBack, OpCall,
		OpPhi, OpSnapshot:
		return true
	}
	return n.IsGuard()
}
