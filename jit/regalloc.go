package jit

import "sort"

// RegClass is one of the two register classes the allocator assigns
// from.
type RegClass uint8

const (
	ClassGP RegClass = iota
	ClassFP
)

// Register pool sizes. GP has no saved registers in this ABI; FP's saved
// registers are the callee-preserved half of its pool, distinguished only
// so the code generator knows which need prologue/epilogue save/restore.
const (
	numGPAllocatable        = 4
	numFPScratchAllocatable = 4
	numFPSavedAllocatable   = 4
	numFPAllocatable        = numFPScratchAllocatable + numFPSavedAllocatable
)

// PhysReg names a single allocatable physical register slot. Index is
// relative to the allocatable sub-range of its class's pool; the code
// generator maps it to an actual machine register.
type PhysReg struct {
	Class RegClass
	Index int
	Saved bool // FP only: true if this index falls in the saved half
}

// Allocation is what the register allocator decided for one SSA id:
// either a physical register, or a spill slot (Reg == -1).
type Allocation struct {
	Class RegClass
	Reg   int // index within the class's allocatable pool, or -1 if spilled
	Saved bool
	Spill int // valid only when Reg == -1
}

func (a Allocation) Spilled() bool { return a.Reg < 0 }

type liveRange struct {
	id         int32
	start, end int32
	class      RegClass
}

// RegAlloc runs linear-scan register allocation over an optimized buffer
// and returns a per-SSA-id allocation table plus the number
// of spill slots used (the frame size driver).
func RegAlloc(b *Buffer, cfg Config) (map[int32]Allocation, int, error) {
	ranges := computeLiveRanges(b, cfg)
	if len(ranges) > cfg.MaxLiveRanges {
		return nil, 0, ErrRegisterAllocFailed
	}

	sort.Slice(ranges, func(i, j int) bool {
		if ranges[i].start != ranges[j].start {
			return ranges[i].start < ranges[j].start
		}
		return ranges[i].end < ranges[j].end
	})

	alloc := make(map[int32]Allocation, len(ranges))
	spillCount := 0

	freeGP := make([]int, numGPAllocatable)
	for i := range freeGP {
		freeGP[i] = numGPAllocatable - 1 - i
	}
	freeFP := make([]int, numFPAllocatable)
	for i := range freeFP {
		freeFP[i] = numFPAllocatable - 1 - i
	}

	type activeEntry struct {
		r   liveRange
		reg int
	}
	var active []activeEntry

	popFree := func(class RegClass) (int, bool) {
		if class == ClassGP {
			if len(freeGP) == 0 {
				return 0, false
			}
			r := freeGP[len(freeGP)-1]
			freeGP = freeGP[:len(freeGP)-1]
			return r, true
		}
		if len(freeFP) == 0 {
			return 0, false
		}
		r := freeFP[len(freeFP)-1]
		freeFP = freeFP[:len(freeFP)-1]
		return r, true
	}
	pushFree := func(class RegClass, reg int) {
		if class == ClassGP {
			freeGP = append(freeGP, reg)
			return
		}
		freeFP = append(freeFP, reg)
	}

	sortActiveByEnd := func() {
		sort.Slice(active, func(i, j int) bool { return active[i].r.end < active[j].r.end })
	}

	for _, r := range ranges {
		// Expire active ranges ending before this one starts.
		kept := active[:0]
		for _, ae := range active {
			if ae.r.end < r.start {
				pushFree(ae.r.class, ae.reg)
				continue
			}
			kept = append(kept, ae)
		}
		active = kept

		if reg, ok := popFree(r.class); ok {
			a := Allocation{Class: r.class, Reg: reg}
			if r.class == ClassFP {
				a.Saved = reg >= numFPScratchAllocatable
			}
			alloc[r.id] = a
			active = append(active, activeEntry{r: r, reg: reg})
			sortActiveByEnd()
			continue
		}

		// Spill: find the same-class active range with the greatest end.
		worstIdx := -1
		for idx, ae := range active {
			if ae.r.class != r.class {
				continue
			}
			if worstIdx == -1 || ae.r.end > active[worstIdx].r.end {
				worstIdx = idx
			}
		}
		if worstIdx != -1 && active[worstIdx].r.end > r.end {
			stolen := active[worstIdx]
			a := Allocation{Class: r.class, Reg: stolen.reg}
			if r.class == ClassFP {
				a.Saved = stolen.reg >= numFPScratchAllocatable
			}
			alloc[r.id] = a
			alloc[stolen.r.id] = Allocation{Class: stolen.r.class, Reg: -1, Spill: spillCount}
			spillCount++
			active[worstIdx] = activeEntry{r: r, reg: stolen.reg}
			sortActiveByEnd()
			continue
		}

		alloc[r.id] = Allocation{Class: r.class, Reg: -1, Spill: spillCount}
		spillCount++
	}

	return alloc, spillCount, nil
}

func classOf(n *Node) RegClass {
	if n.Type == TNum {
		return ClassFP
	}
	return ClassGP
}

func producesValue(n *Node) bool {
	return !n.Dead() && n.Type != TVoid
}

func computeLiveRanges(b *Buffer, cfg Config) []liveRange {
	starts := make(map[int32]int32)
	ends := make(map[int32]int32)
	classes := make(map[int32]RegClass)

	for i := range b.Nodes {
		n := &b.Nodes[i]
		if !producesValue(n) {
			continue
		}
		starts[int32(i)] = int32(i)
		ends[int32(i)] = int32(i)
		classes[int32(i)] = classOf(n)
	}

	extend := func(id, at int32) {
		if _, ok := starts[id]; !ok {
			return
		}
		if at > ends[id] {
			ends[id] = at
		}
	}

	for i := range b.Nodes {
		n := &b.Nodes[i]
		if n.Dead() {
			continue
		}
		extend(n.Operand0, int32(i))
		extend(n.Operand1, int32(i))
	}

	for sid, snap := range b.Snapshots {
		lastGuard := int32(-1)
		for i := range b.Nodes {
			g := &b.Nodes[i]
			if g.Dead() || !g.IsGuard() || int(g.Imm.Snap) != sid {
				continue
			}
			if int32(i) > lastGuard {
				lastGuard = int32(i)
			}
		}
		if lastGuard == -1 {
			continue
		}
		for _, e := range b.Entries[snap.EntryStart : snap.EntryStart+snap.EntryLen] {
			extend(e.ID, lastGuard)
		}
	}

	if b.LoopHeader != NoOperand && b.LoopBack != NoOperand {
		for i := range b.Nodes {
			n := &b.Nodes[i]
			if n.Dead() || n.Op != OpPhi {
				continue
			}
			extend(int32(i), b.LoopBack)
			extend(n.Operand1, b.LoopBack)
		}
	}

	ranges := make([]liveRange, 0, len(starts))
	for id, start := range starts {
		ranges = append(ranges, liveRange{id: id, start: start, end: ends[id], class: classes[id]})
	}
	return ranges
}
