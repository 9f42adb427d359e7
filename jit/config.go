package jit

// Config holds the JIT's tuning knobs. It is a plain struct rather than a
// flag/file-based configuration layer: persistence, CLI, and configuration
// loading are the embedder's business.
type Config struct {
	// HotThreshold is the number of backward-branch taken counts at an
	// anchor PC before recording begins. Default 50.
	HotThreshold uint32

	// Enabled is the master switch; when false, recording and trace
	// execution are inert and the interpreter never consults the JIT.
	Enabled bool

	// TraceCacheCapacity is the trace cache's initial size, must be a
	// power of two. Default 1024.
	TraceCacheCapacity int

	// MaxInstructionsPerTrace bounds recording length (default 1000).
	MaxInstructionsPerTrace int

	// MaxCallDepthDuringRecording bounds call nesting while recording
	// (default 8).
	MaxCallDepthDuringRecording int

	// MaxLiveRanges bounds the register allocator's live range table;
	// equal to MaxIRNodes by contract.
	MaxLiveRanges int

	// MaxSnapshots bounds the number of snapshots a single trace may
	// produce (default 256).
	MaxSnapshots int

	// MaxSnapshotEntriesPerSnapshot bounds entries per snapshot (default
	// 64).
	MaxSnapshotEntriesPerSnapshot int

	// PreHeaderReservedNodes is the even count of no-op slots reserved
	// before the loop-header node for later hoisting passes (default 16,
	// must be even).
	PreHeaderReservedNodes int
}

// DefaultConfig returns the default tuning.
func DefaultConfig() Config {
	return Config{
		HotThreshold:                  50,
		Enabled:                       true,
		TraceCacheCapacity:            1024,
		MaxInstructionsPerTrace:       1000,
		MaxCallDepthDuringRecording:   8,
		MaxLiveRanges:                 MaxIRNodes,
		MaxSnapshots:                  256,
		MaxSnapshotEntriesPerSnapshot: 64,
		PreHeaderReservedNodes:        16,
	}
}
