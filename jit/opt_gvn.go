package jit

import "math"

// gvnTableSize is fixed at >= 2x the node cap.
const gvnTableSize = 2 * MaxIRNodes

// passGVN implements optimizer pass 5: global value numbering via an
// open-addressed, linearly-probed table keyed by a hash of
// (opcode, type, operands, immediate).
func passGVN(b *Buffer) {
	table := make([]int32, gvnTableSize)
	for i := range table {
		table[i] = NoOperand
	}

	for i := range b.Nodes {
		n := &b.Nodes[i]
		if n.Dead() || !gvnEligible(n.Op) {
			continue
		}
		h := gvnHash(n) % uint64(gvnTableSize)
		probe := h
		for {
			existing := table[probe]
			if existing == NoOperand {
				table[probe] = int32(i)
				break
			}
			if gvnEqual(&b.Nodes[existing], n) {
				b.ReplaceAllUses(int32(i), existing)
				b.Kill(int32(i))
				break
			}
			probe = (probe + 1) % uint64(gvnTableSize)
		}
	}
}

func gvnEligible(op Op) bool {
	if sideEffecting(op) {
		return false
	}
	switch op {
	case OpPhi, OpLoopHeader, OpLoopBack, OpSnapshot, OpNop:
		return false
	}
	return true
}

func gvnHash(n *Node) uint64 {
	h := uint64(n.Op)*31 + uint64(n.Type)
	h = h*31 + uint64(uint32(n.Operand0))
	h = h*31 + uint64(uint32(n.Operand1))
	h = h*31 + uint64(n.Imm.Slot)
	h = h*31 + uint64(n.Imm.Field)
	h = h*31 + uint64(n.Imm.Addr)
	h = h*31 + uint64(n.Imm.Int)
	h = h*31 + uint64(n.Imm.Ptr)
	if n.Imm.Bool {
		h = h*31 + 1
	}
	h ^= math.Float64bits(n.Imm.Num)
	// Fibonacci multiplicative scrambler over the combined fields. (The
	// trace cache hashes anchor PCs with its own xor-shift-multiply mix.)
	h *= 11400714819323198485
	return h
}

func gvnEqual(a, b *Node) bool {
	return a.Op == b.Op && a.Type == b.Type &&
		a.Operand0 == b.Operand0 && a.Operand1 == b.Operand1 &&
		a.Imm == b.Imm
}
