// Package frame implements the frame and temp manager. Temp slots are
// pre-planned by the front end (ast.TempSlot, CallSite.Args) alongside
// the local-variable layout; this package only converts a planned slot
// into its concrete frame offset, -(localSize+Slot), and maintains the
// set of offsets currently holding a live GC reference. It never
// invents a slot of its own, and there is no register allocator in
// front of it: registers are always the fixed
// REG_RESULT/REG_TMP1/REG_TMP2 convention, and a temp only ever means
// "this intermediate value needs its planned frame slot because a call
// or a nested subexpression might clobber a register holding it".
package frame

import (
	"fmt"

	"github.com/dora-lang/corejit/internal/asm"
	"github.com/dora-lang/corejit/internal/ast"
)

// Slot is one currently-reserved temp: its resolved frame offset, the
// mode it holds, and whether it is a GC reference that must appear in
// the live set at every safepoint until it's freed.
type Slot struct {
	Offset asm.Mem
	Mode   asm.MachineMode
	IsRef  bool
}

// Manager owns the temp region of one function's frame. LocalSize bytes
// of locals sit above it; a planned slot s resolves to frame offset
// -(LocalSize+s).
type Manager struct {
	localSize int32
	reserved  map[int32]Slot // keyed by resolved frame offset.
	highWater int32          // largest planned slot seen, i.e. the temp-region size.
	liveRefs  map[int32]bool
}

func New(localSize int32) *Manager {
	return &Manager{
		localSize: localSize,
		reserved:  make(map[int32]Slot),
		liveRefs:  make(map[int32]bool),
	}
}

// Reserve resolves a pre-planned temp slot to its frame offset and
// marks it live. Reserving a slot that is already reserved is a
// programmer error in the generator and panics: two simultaneously-live
// intermediates were planned onto the same slot, or the emit order has
// drifted from the plan.
func (m *Manager) Reserve(t ast.TempSlot) asm.Mem {
	if t.Slot <= 0 {
		panic(fmt.Sprintf("frame: temp slot %d would overlap the locals region", t.Slot))
	}
	off := -(m.localSize + t.Slot)
	if _, ok := m.reserved[off]; ok {
		panic(fmt.Sprintf("frame: temp slot %d (offset %d) reserved twice", t.Slot, off))
	}

	mem := asm.Local(off)
	m.reserved[off] = Slot{Offset: mem, Mode: t.Mode, IsRef: t.IsRef}
	if t.IsRef {
		m.liveRefs[off] = true
	}
	if t.Slot > m.highWater {
		m.highWater = t.Slot
	}
	return mem
}

// Free releases a previously reserved slot. Freeing a slot that is not
// reserved is a programmer error and panics, the same way
// double-reservation does.
func (m *Manager) Free(t ast.TempSlot) {
	off := -(m.localSize + t.Slot)
	if _, ok := m.reserved[off]; !ok {
		panic(fmt.Sprintf("frame: temp slot %d (offset %d) is not reserved", t.Slot, off))
	}
	delete(m.reserved, off)
	delete(m.liveRefs, off)
}

// AssertBalanced panics if any temp is still reserved, the check
// internal/codegen runs once at the end of emitting a function body:
// an unfreed temp means the emit order drifted from the AST walk.
func (m *Manager) AssertBalanced() {
	if len(m.reserved) != 0 {
		panic(fmt.Sprintf("frame: %d temp(s) still reserved at end of function", len(m.reserved)))
	}
}

// LiveRefOffsets returns the frame offsets of every temp currently
// holding a GC reference, suitable for folding into an asm.GcPoint
// alongside whichever local-variable offsets the caller knows are live.
func (m *Manager) LiveRefOffsets() []int32 {
	offs := make([]int32, 0, len(m.liveRefs))
	for off := range m.liveRefs {
		offs = append(offs, off)
	}
	return offs
}

// FrameSize returns the total frame size (locals + deepest planned temp
// actually reserved), rounded up to 16 bytes to keep the stack pointer
// aligned across calls per the System-V ABI.
func (m *Manager) FrameSize() int32 {
	total := m.localSize + m.highWater
	if rem := total % 16; rem != 0 {
		total += 16 - rem
	}
	return total
}
