package jit

// CompiledTrace is one finished compilation: native code plus everything
// the deoptimizer needs to resume interpretation on a guard failure.
type CompiledTrace struct {
	AnchorPC uint32
	Mem      *execMemory
	Entry    uintptr

	// SideExits maps a snapshot id to the byte offset of its stub within
	// Mem. Translating a raw jitcall return code back into the snapshot
	// that fired is ExitSnapshot's job and does not use this map.
	SideExits map[int32]int

	Snapshots []Snapshot
	Entries   []SnapshotEntry

	// GCRoots lists the object-pointer constants this trace's machine
	// code embeds directly, so a collector can find them without walking
	// the native code.
	GCRoots []uintptr

	SpillSlots int

	execCount     uint64
	sideExitCount uint64
}

// ExecCount reports how many times this trace's native code has been
// entered.
func (t *CompiledTrace) ExecCount() uint64 { return t.execCount }

// SideExitCount reports how many of those executions left through a guard
// rather than running indefinitely at loop-back.
func (t *CompiledTrace) SideExitCount() uint64 { return t.sideExitCount }

// EachGCRoot invokes gray for every embedded object-pointer constant, the
// hook the host's collector uses to keep trace-referenced objects alive.
func (t *CompiledTrace) EachGCRoot(gray func(uintptr)) {
	for _, r := range t.GCRoots {
		gray(r)
	}
}

// ExitSnapshot looks up the snapshot a given side-exit code deoptimizes
// through. The code is the raw value ReturnImm placed in the return
// register: one past the snapshot's id, with 0 reserved to mean "fell off
// the end of the trace" (only possible for a trace with no guards at all).
func (t *CompiledTrace) ExitSnapshot(code uintptr) (Snapshot, bool) {
	if code == 0 {
		return Snapshot{}, false
	}
	id := int32(code - 1)
	if int(id) < 0 || int(id) >= len(t.Snapshots) {
		return Snapshot{}, false
	}
	return t.Snapshots[id], true
}

// Release frees the trace's executable memory. Safe to call once no fiber
// is executing it.
func (t *CompiledTrace) Release() error {
	if t.Mem == nil {
		return nil
	}
	return t.Mem.Release()
}
