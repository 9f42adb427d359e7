package jit

// passLoopVariablePromotion implements optimizer pass 1:
// recognize a load/unbox/store round trip spanning the loop body for a
// module variable or a stack local, and replace it with a PHI of a
// genuine pre-header unboxed value and the back-edge value, the PHI
// itself placed into a pre-header no-op slot so later passes (integer-IV
// inference in particular) see a normal loop-carried value instead of a
// boxed round trip through storage.
func passLoopVariablePromotion(b *Buffer) {
	if b.LoopHeader == NoOperand || b.LoopBack == NoOperand {
		return
	}
	header, back := b.LoopHeader, b.LoopBack

	seenAddr := map[uint32]bool{}
	seenSlot := map[uint32]bool{}
	for i := header + 1; i < back; i++ {
		n := &b.Nodes[i]
		if n.Dead() {
			continue
		}
		switch n.Op {
		case OpLoadModVar:
			addr := n.Imm.Addr
			if !seenAddr[addr] {
				seenAddr[addr] = true
				promoteModuleVar(b, addr, header, back)
			}
		case OpLoadStack:
			slot := n.Imm.Slot
			if !seenSlot[slot] {
				seenSlot[slot] = true
				promoteStackLocal(b, slot, header, back)
			}
		}
	}
}

func promoteModuleVar(b *Buffer, addr uint32, header, back int32) {
	var loadID, storeID int32 = NoOperand, NoOperand
	var unboxIDs []int32

	for i := header + 1; i < back; i++ {
		n := &b.Nodes[i]
		if n.Dead() {
			continue
		}
		if loadID == NoOperand && n.Op == OpLoadModVar && n.Imm.Addr == addr {
			loadID = i
			continue
		}
		if loadID != NoOperand && n.Op == OpUnboxNum && n.Operand0 == loadID {
			unboxIDs = append(unboxIDs, i)
		}
		if n.Op == OpStoreMod && n.Imm.Addr == addr {
			storeID = i
		}
	}
	if loadID == NoOperand || len(unboxIDs) == 0 || storeID == NoOperand {
		return
	}
	if b.Nodes[storeID].Operand0 == NoOperand {
		return
	}
	boxID := b.Nodes[storeID].Operand0
	if b.Nodes[boxID].Op != OpBoxNum {
		return
	}
	newVal := b.Nodes[boxID].Operand0

	slots, ok := reserveNopSlots(b, header, 3)
	if !ok {
		return
	}
	preLoad, preUnbox, phi := slots[0], slots[1], slots[2]

	b.Nodes[preLoad] = Node{Op: OpLoadModVar, Type: TValue, Operand0: NoOperand, Operand1: NoOperand, Imm: Imm{Addr: addr}}
	b.Nodes[preUnbox] = Node{Op: OpUnboxNum, Type: TNum, Operand0: preLoad, Operand1: NoOperand}
	b.Nodes[phi] = Node{Op: OpPhi, Type: TNum, Operand0: preUnbox, Operand1: newVal}

	for _, id := range unboxIDs {
		retargetUses(b, id, phi)
	}
}

// promoteStackLocal mirrors promoteModuleVar for a loop-carried stack
// local (accumulator and induction variables, which never touch a
// module variable): the same load/unbox/store shape, keyed on the stack
// slot index instead of a module-variable address.
func promoteStackLocal(b *Buffer, slot uint32, header, back int32) {
	var loadID, storeID int32 = NoOperand, NoOperand
	var unboxIDs []int32

	for i := header + 1; i < back; i++ {
		n := &b.Nodes[i]
		if n.Dead() {
			continue
		}
		if loadID == NoOperand && n.Op == OpLoadStack && n.Imm.Slot == slot {
			loadID = i
			continue
		}
		if loadID != NoOperand && n.Op == OpUnboxNum && n.Operand0 == loadID {
			unboxIDs = append(unboxIDs, i)
		}
		if n.Op == OpStoreStack && n.Imm.Slot == slot {
			storeID = i
		}
	}
	if loadID == NoOperand || len(unboxIDs) == 0 || storeID == NoOperand {
		return
	}
	if b.Nodes[storeID].Operand0 == NoOperand {
		return
	}
	boxID := b.Nodes[storeID].Operand0
	if b.Nodes[boxID].Op != OpBoxNum {
		return
	}
	newVal := b.Nodes[boxID].Operand0

	slots, ok := reserveNopSlots(b, header, 3)
	if !ok {
		return
	}
	preLoad, preUnbox, phi := slots[0], slots[1], slots[2]

	b.Nodes[preLoad] = Node{Op: OpLoadStack, Type: TValue, Operand0: NoOperand, Operand1: NoOperand, Imm: Imm{Slot: slot}}
	b.Nodes[preUnbox] = Node{Op: OpUnboxNum, Type: TNum, Operand0: preLoad, Operand1: NoOperand}
	b.Nodes[phi] = Node{Op: OpPhi, Type: TNum, Operand0: preUnbox, Operand1: newVal}

	for _, id := range unboxIDs {
		retargetUses(b, id, phi)
	}
}

// retargetUses rewrites every reference to from (one of the in-body unbox
// sites reading the promoted variable) onto the new PHI to, including
// snapshot entries, the same rewrite passLICM does for a hoisted node's
// id. Called once per redundant unbox site so a variable
// read more than once per iteration (e.g. once in a loop condition, once
// in its own update) is fully promoted rather than only its first read.
func retargetUses(b *Buffer, from, to int32) {
	for j := range b.Nodes {
		if int32(j) == to {
			continue
		}
		n := &b.Nodes[j]
		if n.Operand0 == from {
			n.Operand0 = to
		}
		if n.Operand1 == from {
			n.Operand1 = to
		}
	}
	for j := range b.Entries {
		if b.Entries[j].ID == from {
			b.Entries[j].ID = to
		}
	}
}

// findFreeNopSlot returns the id of an unused OpNop reserved before header,
// or NoOperand if none remain.
func findFreeNopSlot(b *Buffer, header int32) int32 {
	for i := int32(0); i < header; i++ {
		if b.Nodes[i].Op == OpNop {
			return i
		}
	}
	return NoOperand
}

// reserveNopSlots returns count distinct free pre-header OpNop slot ids,
// in ascending order, or ok=false if the reservation doesn't have enough
// room left — checked up front so a caller never partially commits a
// multi-node rewrite it then has to unwind.
func reserveNopSlots(b *Buffer, header int32, count int) ([]int32, bool) {
	slots := make([]int32, 0, count)
	for i := int32(0); i < header && len(slots) < count; i++ {
		if b.Nodes[i].Op == OpNop {
			slots = append(slots, i)
		}
	}
	if len(slots) < count {
		return nil, false
	}
	return slots, true
}
