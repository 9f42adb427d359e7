package jit

// passEscapeAnalysis implements optimizer pass 10.
func passEscapeAnalysis(b *Buffer) {
	eliminateNonEscapingAllocations(b)
	forwardStoreLoad(b)
}

// eliminateNonEscapingAllocations implements part (a): a call-C node whose
// result is a pointer and every use is a load-field of that object (no
// stores, no passes into other calls, not snapshot-referenced) is
// replaced by its constructor argument and killed. This IR models
// single-argument constructors only (field 0); multi-argument object
// construction never appears in a recorded trace in this host, so this is
// the degenerate but still-correct case of the general rule.
func eliminateNonEscapingAllocations(b *Buffer) {
	snapshotted := snapshotReferencedSet(b)
	for i := range b.Nodes {
		n := &b.Nodes[i]
		if n.Dead() || n.Op != OpCall || n.Type != TPtr {
			continue
		}
		if snapshotted[int32(i)] {
			continue
		}
		if !allUsesAreFieldZeroLoads(b, int32(i)) {
			continue
		}
		for j := range b.Nodes {
			u := &b.Nodes[j]
			if u.Dead() || u.Op != OpLoadField || u.Operand0 != int32(i) {
				continue
			}
			b.ReplaceAllUses(int32(j), n.Operand0)
			b.Kill(int32(j))
		}
		b.Kill(int32(i))
	}
}

func allUsesAreFieldZeroLoads(b *Buffer, obj int32) bool {
	used := false
	for j := range b.Nodes {
		u := &b.Nodes[j]
		if u.Dead() {
			continue
		}
		refs := u.Operand0 == obj || u.Operand1 == obj
		if !refs {
			continue
		}
		if u.Op != OpLoadField || u.Operand0 != obj || u.Imm.Field != 0 {
			return false
		}
		used = true
	}
	return used
}

// forwardStoreLoad implements part (b): for each load-field, scan
// backward to the nearest store-field on the same (object, field);
// forward the stored value; stop at calls or other writes to the same
// object.
func forwardStoreLoad(b *Buffer) {
	for i := range b.Nodes {
		n := &b.Nodes[i]
		if n.Dead() || n.Op != OpLoadField {
			continue
		}
		for j := int32(i) - 1; j >= 0; j-- {
			s := &b.Nodes[j]
			if s.Dead() {
				continue
			}
			if s.Op == OpCall {
				break
			}
			if s.Op == OpStoreField && s.Operand0 == n.Operand0 {
				if s.Imm.Field == n.Imm.Field {
					b.ReplaceAllUses(int32(i), s.Operand1)
					b.Kill(int32(i))
				}
				break
			}
		}
	}
}
