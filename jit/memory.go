//go:build amd64 && (linux || darwin)

package jit

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// execMemory is one mmap'd, page-aligned region holding a single compiled
// trace's machine code. The W^X transition (RW while the assembler writes
// it, RX before anything calls into it) mirrors wazero's jit_amd64.go
// mmapCodeSegment/codeSegment lifecycle, reimplemented here against
// golang.org/x/sys/unix instead of a raw syscall shim.
type execMemory struct {
	region []byte
}

// mapExecutable copies code into a fresh RW mapping, then flips it to RX.
// The returned execMemory must be released with Release once the trace is
// evicted from the cache.
func mapExecutable(code []byte) (*execMemory, error) {
	if len(code) == 0 {
		return nil, ErrExecMemAllocFailed
	}
	size := pageAlign(len(code))
	region, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, ErrExecMemAllocFailed
	}
	copy(region, code)
	if err := unix.Mprotect(region, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		_ = unix.Munmap(region)
		return nil, ErrExecMemAllocFailed
	}
	return &execMemory{region: region}, nil
}

// EntryPointer returns the address of the mapped code's first byte, the
// value jitcall is given as its codeSegment argument.
func (m *execMemory) EntryPointer() uintptr {
	return uintptr(unsafe.Pointer(&m.region[0]))
}

// Release unmaps the region. Callers must guarantee no in-flight call is
// executing the mapped code.
func (m *execMemory) Release() error {
	if m.region == nil {
		return nil
	}
	err := unix.Munmap(m.region)
	m.region = nil
	return err
}

func pageAlign(n int) int {
	const pageSize = 4096
	if n%pageSize == 0 {
		return n
	}
	return (n/pageSize + 1) * pageSize
}
