package jit

import "fmt"

// passBoundsCheckDedup implements optimizer pass 9:
// recognize induction PHIs (positive-step add-recurrences), then dedupe
// guard-true-over-less-than checks keyed by (IV id, bound id).
func passBoundsCheckDedup(b *Buffer) {
	ivs := inductionPHIs(b)
	if len(ivs) == 0 {
		return
	}
	seen := make(map[string]bool)
	for i := range b.Nodes {
		n := &b.Nodes[i]
		if n.Dead() || n.Op != OpGuardTrue {
			continue
		}
		lt := &b.Nodes[n.Operand0]
		if lt.Dead() {
			continue
		}
		cmp := lt
		if lt.Op == OpBoxBool {
			cmp = &b.Nodes[lt.Operand0]
		}
		if cmp.Dead() || cmp.Op != OpLt || !ivs[cmp.Operand0] {
			continue
		}
		if !isLoopInvariantOperand(b, cmp.Operand1) {
			continue
		}
		key := fmt.Sprintf("%d:%d", cmp.Operand0, cmp.Operand1)
		if seen[key] {
			b.Kill(int32(i))
			continue
		}
		seen[key] = true
	}
}

// inductionPHIs returns the set of PHI ids whose back-edge operand is an
// add of the PHI and a positive constant step.
func inductionPHIs(b *Buffer) map[int32]bool {
	ivs := make(map[int32]bool)
	for i := range b.Nodes {
		n := &b.Nodes[i]
		if n.Dead() || n.Op != OpPhi {
			continue
		}
		back := &b.Nodes[n.Operand1]
		if back.Dead() || back.Op != OpAdd {
			continue
		}
		if back.Operand0 == int32(i) {
			if isPositiveConst(b, back.Operand1) {
				ivs[int32(i)] = true
			}
		} else if back.Operand1 == int32(i) {
			if isPositiveConst(b, back.Operand0) {
				ivs[int32(i)] = true
			}
		}
	}
	return ivs
}

func isPositiveConst(b *Buffer, id int32) bool {
	if v, ok := constNum(b, id); ok {
		return v > 0
	}
	if v, ok := constInt(b, id); ok {
		return v > 0
	}
	return false
}

func isLoopInvariantOperand(b *Buffer, id int32) bool {
	if id == NoOperand {
		return true
	}
	return isConst(b, id) || b.Nodes[id].Invariant()
}
