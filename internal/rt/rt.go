// Package rt is the runtime-facing half of the core: the object/VTable
// binary layout, the class and function registries the code generator
// compiles against, the executable-code map the trap and GC-walk paths
// use to find a JitFct from a raw PC, and the trap/allocation entry
// points emitted code calls into. None of it executes the bytes
// internal/codegen produces; installing and running compiled code is
// the embedder's job.
package rt

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/dora-lang/corejit/internal/asm"
)

// DisplaySize is the fixed-length prefix of a class's superclass chain
// stored inline in every VTable (the Cohen display). Classes
// deeper than this fall back to SubtypeOverflow.
const DisplaySize = 6

// VTable is the binary layout the generated `is`/`as` checks and virtual
// calls read directly; field order matters, since emitted code addresses
// every field by a fixed byte offset. Display and SubtypeOverflow hold
// the raw addresses of superclass VTables (as produced by VTableAddr),
// indexed by subtype depth, so a subtype test is a single pointer
// compare against the target VTable's address.
type VTable struct {
	Class           ClassId
	SubtypeDepth    int32
	Display         [DisplaySize]uintptr
	SubtypeOverflow []uintptr // ancestors at depth >= DisplaySize; only populated for deep classes.
	Methods         []uintptr // method table, indexed by the vtable slot resolved at compile time.
}

// IsSubtypeOf implements the Cohen display test: O(1) when the target's
// depth fits in the display, falling back to the SubtypeOverflow array
// otherwise (guarded by a depth compare, since a shallow class has no
// overflow entry at a deep target's index).
// Emitted machine code performs the equivalent check inline; this Go
// method exists so tests can assert the generator's lowering is correct
// without decoding x86-64.
func (v *VTable) IsSubtypeOf(target *VTable) bool {
	if target.SubtypeDepth < DisplaySize {
		return v.Display[target.SubtypeDepth] == VTableAddr(target)
	}
	if v.SubtypeDepth < target.SubtypeDepth {
		return false
	}
	idx := target.SubtypeDepth - DisplaySize
	if int(idx) >= len(v.SubtypeOverflow) {
		return false
	}
	return v.SubtypeOverflow[idx] == VTableAddr(target)
}

// Byte offsets of the VTable fields as emitted code addresses them:
// Class (4 bytes), SubtypeDepth (4 bytes), Display ([DisplaySize]uintptr,
// 8-byte slots), then the SubtypeOverflow and Methods slice headers
// (24 bytes each on amd64).
const (
	SubtypeDepthOffset    = 4
	DisplayOffset         = 8
	SubtypeOverflowOffset = DisplayOffset + DisplaySize*8
	// MethodTableOffset is where emitted code finds the method table's
	// backing-array pointer. Go represents Methods as a slice rather
	// than an inline C array, so a virtual call needs one more
	// indirection than a contiguous inline method table would: emitted
	// code loads the slice header's data pointer from this offset, then
	// indexes that pointer by vtable_index*8. SubtypeOverflow is
	// addressed the same way from SubtypeOverflowOffset (see DESIGN.md).
	MethodTableOffset = SubtypeOverflowOffset + 24
)

// VTableAddr returns the host address of v, the value that belongs in
// an object header's VTablePtr field. Classes are finalised once and
// their VTables are immutable from then on, so taking this address is
// safe for as long as the ClassRegistry that owns v is alive.
func VTableAddr(v *VTable) uintptr { return uintptr(unsafe.Pointer(v)) }

// MethodAt returns the function pointer installed at vtable slot idx,
// the Go-level equivalent of the two-indirection load emitted code
// performs through MethodTableOffset. Exists so tests can assert a
// virtual call site resolves to the right slot without decoding
// x86-64.
func (v *VTable) MethodAt(idx int32) uintptr {
	return v.Methods[idx]
}

// ClassId and FctId mirror the ast package's opaque handles; repeated
// here (rather than imported) because rt must not depend on ast: the
// registries are the generator's read side, ast is the input contract.
type ClassId = uint32
type FctId = uint32

// ObjectHeader is the fixed prefix every heap object starts with. A
// VTable pointer first, so `mov vtable_reg, [obj]` is always the first
// instruction of a dispatch or subtype check regardless of the object's
// concrete layout.
type ObjectHeader struct {
	VTablePtr uintptr
}

// ClassRegistry resolves a ClassId to its VTable, populated by semantic
// analysis/class loading ahead of code generation. The registry is the
// generator's source of VTables (and so of display contents) and
// instance sizes; field offsets come from the side tables and
// method-table slots from FctRegistry.VTableIndex.
type ClassRegistry interface {
	VTable(id ClassId) (*VTable, bool)
	// Size returns the byte size of id's instances, as the generator
	// needs it to marshal the allocation request a constructor call
	// lowers to (the allocation size is the first native-call argument).
	Size(id ClassId) (int32, bool)
}

// FctRegistry resolves a FctId to its compiled (or not-yet-compiled)
// entry point. internal/stub is the concrete implementation used in
// production; tests can substitute a fake.
type FctRegistry interface {
	// Address returns the current callable entry point for fn: either
	// the JIT-compiled function's code, or a lazy-compile stub if fn has
	// not been compiled yet.
	Address(fn FctId) (uintptr, error)
	// VTableIndex returns fn's slot in its declaring class's method
	// table, valid only for virtual methods.
	VTableIndex(fn FctId) (int32, bool)
}

// NativeStubs resolves a native (foreign) function pointer to its
// ABI-adapting wrapper, the collaborator internal/codegen's call
// lowering uses for CalleeNative sites.
type NativeStubs interface {
	// EnsureNativeStub returns the cached wrapper for ptr, generating one
	// on first use. argc is the source-level argument count (excluding
	// the receiver, when the call site has one).
	EnsureNativeStub(fn FctId, ptr uintptr, returnsRef, returnsFloat bool, argc int) uintptr
}

// JitFct is everything a single compiled function contributes to the
// runtime: its code plus the side tables internal/asm.Result produced,
// retained so traps, stack walks and disassembly can all find their way
// back from a raw PC.
type JitFct struct {
	Fct               FctId
	Code              []byte
	CodePtr           uintptr // address Code was installed at; 0 until mapped executable.
	FrameSize         int32
	ExceptionHandlers []asm.ExceptionHandler
	GcPoints          []asm.GcPointEntry
	LineNumbers       []asm.LineEntry
	Comments          []asm.CommentEntry
}

// HandlerFor returns the innermost exception handler covering pc
// (relative to CodePtr), or false if pc is not protected by any try
// region. The table is compiled innermost-first, so a linear scan
// returns the innermost match.
func (f *JitFct) HandlerFor(pcOffset uint32) (asm.ExceptionHandler, bool) {
	for _, h := range f.ExceptionHandlers {
		if pcOffset >= h.TryStart && pcOffset < h.TryEnd {
			return h, true
		}
	}
	return asm.ExceptionHandler{}, false
}

// GcPointAt returns the recorded live-root snapshot for a safepoint pc,
// or false if pc is not a recorded safepoint.
func (f *JitFct) GcPointAt(pcOffset uint32) (asm.GcPointEntry, bool) {
	for _, g := range f.GcPoints {
		if g.PC == pcOffset {
			return g, true
		}
	}
	return asm.GcPointEntry{}, false
}

// LineAt returns the source line recorded for the entry at or before
// pcOffset, or 0 if none was recorded.
func (f *JitFct) LineAt(pcOffset uint32) uint32 {
	var line uint32
	for _, l := range f.LineNumbers {
		if l.PC > pcOffset {
			break
		}
		line = l.Line
	}
	return line
}

// CodeMap is the address-range-keyed lookup from a raw PC back to its
// owning JitFct, shared by every thread that traps or walks a stack.
type CodeMap struct {
	mux     sync.RWMutex
	entries []codeMapEntry // sorted by start, ascending.
}

type codeMapEntry struct {
	start, end uintptr
	fct        *JitFct
}

func NewCodeMap() *CodeMap { return &CodeMap{} }

// Register inserts fct's installed code range. fct.CodePtr must already
// be set (i.e. the code has been mapped executable).
func (m *CodeMap) Register(fct *JitFct) {
	if fct.CodePtr == 0 {
		panic("rt: CodeMap.Register called before CodePtr was assigned")
	}
	start := fct.CodePtr
	end := start + uintptr(len(fct.Code))

	m.mux.Lock()
	defer m.mux.Unlock()
	i := 0
	for i < len(m.entries) && m.entries[i].start < start {
		i++
	}
	m.entries = append(m.entries, codeMapEntry{})
	copy(m.entries[i+1:], m.entries[i:])
	m.entries[i] = codeMapEntry{start: start, end: end, fct: fct}
}

// Lookup finds the JitFct whose installed range contains pc.
func (m *CodeMap) Lookup(pc uintptr) (*JitFct, bool) {
	m.mux.RLock()
	defer m.mux.RUnlock()
	lo, hi := 0, len(m.entries)
	for lo < hi {
		mid := (lo + hi) / 2
		e := m.entries[mid]
		switch {
		case pc < e.start:
			hi = mid
		case pc >= e.end:
			lo = mid + 1
		default:
			return e.fct, true
		}
	}
	return nil, false
}

// TrapError is what a trap call surfaces to the embedder: which kind of
// fault fired, in which compiled function, at which source position.
type TrapError struct {
	Kind      asm.TrapKind
	Fct       FctId
	SourcePos uint32
}

func (e *TrapError) Error() string {
	return fmt.Sprintf("trap %s in fct %d at source pos %d", e.Kind, e.Fct, e.SourcePos)
}

// Allocator is the GC-facing allocation interface. A real embedder backs
// this with a bump-pointer or freelist heap. Neither internal/stub nor
// internal/codegen calls it: emitted code reaches the allocator through
// the raw entry address internal/codegen's allocAddr supplies.
type Allocator interface {
	// Alloc returns size bytes zeroed and ready to receive an
	// ObjectHeader, or an error if the allocation triggered a collection
	// that could not free enough space.
	Alloc(size uintptr) (uintptr, error)
}

// TrapSink receives every trap emitted code bails out to. Tests commonly
// substitute a sink that records calls instead of aborting the process.
type TrapSink interface {
	Trap(fct FctId, kind asm.TrapKind, sourcePos uint32)
}

// PanicTrapSink is the default TrapSink: it panics with a *TrapError,
// unwinding the native stack on an unhandled trap.
type PanicTrapSink struct{}

func (PanicTrapSink) Trap(fct FctId, kind asm.TrapKind, sourcePos uint32) {
	panic(&TrapError{Kind: kind, Fct: fct, SourcePos: sourcePos})
}
