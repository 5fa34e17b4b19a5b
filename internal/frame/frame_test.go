package frame

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dora-lang/corejit/internal/asm"
	"github.com/dora-lang/corejit/internal/ast"
)

func TestManager_ReserveAndFree(t *testing.T) {
	m := New(16)

	off1 := m.Reserve(ast.TempSlot{Mode: asm.Int64, Slot: 8})
	require.Equal(t, int32(-24), off1.Disp)

	off2 := m.Reserve(ast.TempSlot{Mode: asm.Ptr, Slot: 16, IsRef: true})
	require.Equal(t, int32(-32), off2.Disp)
	require.ElementsMatch(t, []int32{-32}, m.LiveRefOffsets())

	m.Free(ast.TempSlot{Mode: asm.Int64, Slot: 8})
	require.ElementsMatch(t, []int32{-32}, m.LiveRefOffsets())

	// Slot 8 is free again, so a plan that reuses it for a later,
	// non-overlapping intermediate resolves to the same offset.
	off3 := m.Reserve(ast.TempSlot{Mode: asm.Int32, Slot: 8})
	require.Equal(t, off1.Disp, off3.Disp)

	m.Free(ast.TempSlot{Slot: 16})
	m.Free(ast.TempSlot{Slot: 8})
	require.Empty(t, m.LiveRefOffsets())
	m.AssertBalanced()
}

func TestManager_ReserveSameSlotTwicePanics(t *testing.T) {
	m := New(0)
	m.Reserve(ast.TempSlot{Mode: asm.Int32, Slot: 8})
	require.Panics(t, func() { m.Reserve(ast.TempSlot{Mode: asm.Int32, Slot: 8}) })
}

func TestManager_ReserveNonPositiveSlotPanics(t *testing.T) {
	m := New(16)
	require.Panics(t, func() { m.Reserve(ast.TempSlot{Mode: asm.Int32, Slot: 0}) })
}

func TestManager_FreeUnreservedSlotPanics(t *testing.T) {
	m := New(0)
	require.Panics(t, func() { m.Free(ast.TempSlot{Slot: 8}) })
}

func TestManager_AssertBalancedPanicsOnLeak(t *testing.T) {
	m := New(0)
	m.Reserve(ast.TempSlot{Mode: asm.Int32, Slot: 8})
	require.Panics(t, func() { m.AssertBalanced() })
}

func TestManager_FrameSizeRoundsUpTo16(t *testing.T) {
	m := New(8)
	m.Reserve(ast.TempSlot{Mode: asm.Int32, Slot: 8})
	require.Equal(t, int32(16), m.FrameSize())

	m2 := New(8)
	m2.Reserve(ast.TempSlot{Mode: asm.Int32, Slot: 8})
	m2.Reserve(ast.TempSlot{Mode: asm.Int32, Slot: 16}) // 16 bytes of temp region, 24 total.
	require.Equal(t, int32(32), m2.FrameSize())
}
