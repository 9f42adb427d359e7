//go:build amd64

package jit

import "unsafe"

// jitcall transfers control to a compiled trace's entry point. The callee
// receives the VM, fiber, interpreter-stack-base, and module-variable-base
// pointers in R10-R13 and returns the
// side-exit index (0 means "ran off the end of the trace without exiting
// through a guard", used only by traces with no guards at all) shifted by
// one, mirroring wazero's old jitcall(codeSegment, engine, memory uintptr)
// trampoline shape extended to this VM's four-pointer calling convention.
//
//go:noescape
func jitcall(codeSegment uintptr, vm, fiber, stackBase, moduleBase unsafe.Pointer) uintptr

// callCompiled invokes a trace's machine code and returns the raw exit
// code the assembled ReturnImm left in the return register.
func callCompiled(entry uintptr, vm, fiber, stackBase, moduleBase unsafe.Pointer) uintptr {
	return jitcall(entry, vm, fiber, stackBase, moduleBase)
}
