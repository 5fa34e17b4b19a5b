// Package stub implements the stub manager: the cache of lazy-compile
// stubs and native-ABI wrappers that let internal/codegen emit a call
// before its callee is necessarily compiled, or before a host function
// has an adapter for the source-level calling convention.
package stub

import (
	"fmt"
	"sync"

	"github.com/dora-lang/corejit/internal/rt"
)

// TrampolineBuilder generates the actual native bytes a stub needs.
// Producing those bytes means emitting code that can call back into the
// embedder's compiler and allocator, which live outside this core
// alongside the rest of the runtime ABI. The Manager only decides when
// a trampoline is needed and caches the result; building one is the
// embedder's job.
type TrampolineBuilder interface {
	// BuildLazyStub returns the entry address of a trampoline that, on
	// first entry, triggers compilation of fn, installs and registers
	// the result, and transfers control to it.
	BuildLazyStub(fn rt.FctId) (entry uintptr, err error)
	// BuildNativeStub returns the entry address of an ABI-adapting
	// wrapper around ptr: it prepares a transition frame, marshals
	// arguments from the source ABI to the host ABI, calls ptr directly,
	// then transitions back.
	BuildNativeStub(fn rt.FctId, ptr uintptr, returnsRef, returnsFloat bool, argc int) (entry uintptr, err error)
}

// Manager is the stub manager. One Manager is shared by every
// compilation happening concurrently in the process, so Address (after
// its lock-free check for a finished compile), EnsureNativeStub and
// Invalidate hold mu for the rest of their body rather than trying to
// get clever about sharding, and VTableIndex only forwards to its
// lookup; callers are expected to
// call Address/EnsureNativeStub rarely relative to the cost of a JIT
// compile it might trigger.
type Manager struct {
	mu      sync.Mutex
	builder TrampolineBuilder

	// compiled looks up a function's already-finished compile result, so
	// Address can skip the stub indirection once one exists. Backed by
	// the embedder's CodeMap/function table.
	compiled func(rt.FctId) (*rt.JitFct, bool)
	// vtableIndex resolves a virtual method's method-table slot, backed
	// by the embedder's class/function registry.
	vtableIndex func(rt.FctId) (int32, bool)

	stubs   map[rt.FctId]uintptr // fn -> lazy-stub entry, once built.
	natives map[uintptr]uintptr  // raw host ptr -> wrapper entry, once built.
}

// New constructs a Manager. compiled and vtableIndex are read-only
// lookups into collaborators this package must not itself own (the code
// map and the class/function registry).
func New(builder TrampolineBuilder, compiled func(rt.FctId) (*rt.JitFct, bool), vtableIndex func(rt.FctId) (int32, bool)) *Manager {
	return &Manager{
		builder:     builder,
		compiled:    compiled,
		vtableIndex: vtableIndex,
		stubs:       make(map[rt.FctId]uintptr),
		natives:     make(map[uintptr]uintptr),
	}
}

// Address implements rt.FctRegistry: if fn is already compiled, its
// real entry point is returned directly; otherwise a lazy-compile stub
// is built, or reused: repeated calls return the same pointer until
// Invalidate replaces it with a finished compile.
func (m *Manager) Address(fn rt.FctId) (uintptr, error) {
	if jf, ok := m.compiled(fn); ok && jf.CodePtr != 0 {
		return jf.CodePtr, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if addr, ok := m.stubs[fn]; ok {
		return addr, nil
	}
	addr, err := m.builder.BuildLazyStub(fn)
	if err != nil {
		return 0, fmt.Errorf("stub: building lazy stub for fct %d: %w", fn, err)
	}
	m.stubs[fn] = addr
	return addr, nil
}

// VTableIndex implements rt.FctRegistry.
func (m *Manager) VTableIndex(fn rt.FctId) (int32, bool) {
	return m.vtableIndex(fn)
}

// EnsureNativeStub implements rt.NativeStubs. Wrappers are cached by the
// raw host pointer: two FctIds that happen to wrap the same native
// function (an overload resolved to one C symbol, say) share one
// trampoline.
func (m *Manager) EnsureNativeStub(fn rt.FctId, ptr uintptr, returnsRef, returnsFloat bool, argc int) uintptr {
	m.mu.Lock()
	defer m.mu.Unlock()

	if addr, ok := m.natives[ptr]; ok {
		return addr
	}
	addr, err := m.builder.BuildNativeStub(fn, ptr, returnsRef, returnsFloat, argc)
	if err != nil {
		// A native stub is requested mid-compilation of some other
		// function's body; there is no sensible error return through
		// rt.NativeStubs's signature (it mirrors the call-site's own
		// no-error emitCall contract), so a build failure here is always
		// a programmer/embedder error, not a well-formed program's
		// fault.
		panic(fmt.Sprintf("stub: building native stub for fct %d at %#x: %v", fn, ptr, err))
	}
	m.natives[ptr] = addr
	return addr
}

// Invalidate drops fn's cached lazy-stub entry. Call this once a real
// compile for fn has completed and been installed, so the next Address
// call picks up the compiled path instead of the stub indirection:
// cache eviction rather than in-place code patching (see DESIGN.md).
func (m *Manager) Invalidate(fn rt.FctId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stubs, fn)
}

var (
	_ rt.FctRegistry = (*Manager)(nil)
	_ rt.NativeStubs = (*Manager)(nil)
)
