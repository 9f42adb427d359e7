package jit

import "fmt"

// passRedundantGuardElimination is optimizer pass 3. It walks forward
// keeping a per-guard-kind set of SSA ids already
// guarded and kills repeats; the set resets at the loop header so a guard
// proven once before the loop isn't (yet) assumed to cover the loop body
// — pass 12 revisits this without the reset once more facts are proven.
func passRedundantGuardElimination(b *Buffer) {
	seen := make(map[string]bool)
	for i := range b.Nodes {
		if int32(i) == b.LoopHeader {
			seen = make(map[string]bool)
		}
		n := &b.Nodes[i]
		if n.Dead() || !n.IsGuard() {
			continue
		}
		key := guardKey(n)
		if seen[key] {
			b.Kill(int32(i))
			continue
		}
		seen[key] = true
	}
}

func guardKey(n *Node) string {
	if n.Op == OpGuardClass {
		return fmt.Sprintf("%d:%d:%d", n.Op, n.Operand0, n.Imm.Ptr)
	}
	return fmt.Sprintf("%d:%d", n.Op, n.Operand0)
}
