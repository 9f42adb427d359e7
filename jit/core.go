//go:build amd64 && (linux || darwin)

package jit

import (
	"unsafe"

	"go.uber.org/zap"
)

// HotCounter tracks how many times execution has reached a given anchor PC
// on a backward branch, the trigger the host's interpreter loop checks
// before asking Core to start recording.
type HotCounter struct {
	counts map[uint32]uint32
}

// NewHotCounter constructs an empty counter table.
func NewHotCounter() *HotCounter { return &HotCounter{counts: make(map[uint32]uint32)} }

// Bump increments pc's count and reports whether it has just reached
// threshold (the point at which the host starts recording a trace).
func (h *HotCounter) Bump(pc uint32, threshold uint32) bool {
	h.counts[pc]++
	return h.counts[pc] == threshold
}

// Reset clears pc's count, used after a trace compiles or a recording
// attempt aborts, so the next hot-threshold crossing gets a fresh attempt.
func (h *HotCounter) Reset(pc uint32) { delete(h.counts, pc) }

// Core ties the recorder, optimizer, register allocator, code generator,
// and trace cache together behind the small API the host interpreter's
// dispatch loop drives. It never imports the host package;
// all host state crosses this boundary as raw pointers and plain values.
type Core struct {
	cfg     Config
	log     *zap.SugaredLogger
	rec     *Recorder
	opt     *Optimizer
	backend Backend
	codegen *CodeGen
	cache   *TraceCache
	hot     *HotCounter
}

// NewCore builds a Core ready to drive one interpreter instance.
func NewCore(cfg Config, log *zap.SugaredLogger) (*Core, error) {
	if log == nil {
		log = newNopLogger()
	}
	cache, err := NewTraceCache(cfg.TraceCacheCapacity)
	if err != nil {
		return nil, err
	}
	backend := NewGolangAsmBackend()
	hot := NewHotCounter()
	rec := NewRecorder(cfg, log)
	rec.SetAbortHook(hot.Reset)
	return &Core{
		cfg:     cfg,
		log:     log,
		rec:     rec,
		opt:     NewOptimizer(log),
		backend: backend,
		codegen: NewCodeGen(backend, log),
		cache:   cache,
		hot:     hot,
	}, nil
}

// Lookup returns the compiled trace anchored at pc, if the host should
// execute native code instead of interpreting.
func (c *Core) Lookup(pc uint32) (*CompiledTrace, bool) {
	if !c.cfg.Enabled {
		return nil, false
	}
	return c.cache.Lookup(pc)
}

// ShouldStartRecording reports whether pc has just crossed the hot
// threshold and recording is not already underway.
func (c *Core) ShouldStartRecording(pc uint32) bool {
	if !c.cfg.Enabled || c.rec.Active() {
		return false
	}
	return c.hot.Bump(pc, c.cfg.HotThreshold)
}

// Recorder exposes the active recorder to the host's dispatch loop so it
// can feed bytecode events in as they execute.
func (c *Core) Recorder() *Recorder { return c.rec }

// Execute runs a compiled trace's native code and returns where the host
// should resume interpreting.
func (c *Core) Execute(t *CompiledTrace, vm, fiber, stackBase, moduleBase unsafe.Pointer) (DeoptResult, bool) {
	code := callCompiled(t.Entry, vm, fiber, stackBase, moduleBase)
	t.execCount++
	if code != 0 {
		t.sideExitCount++
	}
	return Deoptimize(t, code)
}

// GrayRoots invokes gray for every object-pointer constant embedded in any
// cached trace, the callback the host's collector drives during marking.
func (c *Core) GrayRoots(gray func(uintptr)) {
	c.cache.EachTrace(func(t *CompiledTrace) { t.EachGCRoot(gray) })
}

// Compile runs the optimizer, register allocator, and code generator over
// a finished recording and installs the result in the trace cache. On any
// failure the trace is discarded and the anchor PC's hot counter is reset
// so the next attempt starts clean.
func (c *Core) Compile(buf *Buffer) error {
	if err := c.opt.Run(buf); err != nil {
		c.hot.Reset(buf.AnchorPC)
		return err
	}
	alloc, spillSlots, err := RegAlloc(buf, c.cfg)
	if err != nil {
		c.hot.Reset(buf.AnchorPC)
		return err
	}
	gen, err := c.codegen.Generate(buf, alloc, spillSlots)
	if err != nil {
		c.hot.Reset(buf.AnchorPC)
		return err
	}
	mem, err := mapExecutable(gen.Code)
	if err != nil {
		c.hot.Reset(buf.AnchorPC)
		return err
	}

	trace := &CompiledTrace{
		AnchorPC:   buf.AnchorPC,
		Mem:        mem,
		Entry:      mem.EntryPointer() + uintptr(gen.EntryOffset),
		SideExits:  make(map[int32]int, len(gen.SideExits)),
		Snapshots:  buf.Snapshots,
		Entries:    buf.Entries,
		GCRoots:    gen.GCRoots,
		SpillSlots: gen.SpillSlots,
	}
	for _, se := range gen.SideExits {
		trace.SideExits[se.SnapshotID] = se.Offset
	}

	c.cache.Insert(trace)
	c.hot.Reset(buf.AnchorPC)
	return nil
}
