package rt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dora-lang/corejit/internal/asm"
)

func TestVTable_IsSubtypeOf_Display(t *testing.T) {
	root := &VTable{Class: 1, SubtypeDepth: 0}
	mid := &VTable{Class: 2, SubtypeDepth: 1}
	leaf := &VTable{Class: 42, SubtypeDepth: 2}
	leaf.Display = [DisplaySize]uintptr{VTableAddr(root), VTableAddr(mid), VTableAddr(leaf)}
	other := &VTable{Class: 99, SubtypeDepth: 2}

	require.True(t, leaf.IsSubtypeOf(leaf))
	require.True(t, leaf.IsSubtypeOf(root))
	require.False(t, leaf.IsSubtypeOf(other))
}

func TestVTable_IsSubtypeOf_Overflow(t *testing.T) {
	deepTarget := &VTable{Class: 7, SubtypeDepth: DisplaySize + 2}
	deeper := &VTable{Class: 8, SubtypeDepth: DisplaySize + 2}
	deeper.SubtypeOverflow = []uintptr{100, 101, VTableAddr(deepTarget)}
	shallow := &VTable{Class: 9, SubtypeDepth: 1}
	veryDeep := &VTable{Class: 10, SubtypeDepth: DisplaySize + 50}

	require.True(t, deeper.IsSubtypeOf(deepTarget))
	require.False(t, shallow.IsSubtypeOf(deepTarget)) // depth guard, no overflow entry to read.
	require.False(t, deeper.IsSubtypeOf(veryDeep))    // depth guard: deeper is shallower than veryDeep.
}

func TestVTable_MethodAt(t *testing.T) {
	v := &VTable{Methods: []uintptr{0x1000, 0x2000, 0x3000}}
	require.Equal(t, uintptr(0x2000), v.MethodAt(1))
}

func TestVTableAddr_RoundTrips(t *testing.T) {
	v := &VTable{Class: 1}
	addr := VTableAddr(v)
	require.NotZero(t, addr)
}

func TestCodeMap_RegisterAndLookup(t *testing.T) {
	m := NewCodeMap()

	f1 := &JitFct{Fct: 1, Code: make([]byte, 16), CodePtr: 0x1000}
	f2 := &JitFct{Fct: 2, Code: make([]byte, 32), CodePtr: 0x2000}
	m.Register(f1)
	m.Register(f2)

	got, ok := m.Lookup(0x1005)
	require.True(t, ok)
	require.Equal(t, FctId(1), got.Fct)

	got, ok = m.Lookup(0x2010)
	require.True(t, ok)
	require.Equal(t, FctId(2), got.Fct)

	_, ok = m.Lookup(0x1500)
	require.False(t, ok)

	_, ok = m.Lookup(0xFFFF)
	require.False(t, ok)
}

func TestCodeMap_RegisterWithoutCodePtrPanics(t *testing.T) {
	m := NewCodeMap()
	require.Panics(t, func() { m.Register(&JitFct{Fct: 1}) })
}

func TestJitFct_HandlerFor(t *testing.T) {
	f := &JitFct{
		ExceptionHandlers: []asm.ExceptionHandler{
			{TryStart: 10, TryEnd: 20, CatchPC: 30},
		},
	}

	h, ok := f.HandlerFor(15)
	require.True(t, ok)
	require.Equal(t, uint32(30), h.CatchPC)

	_, ok = f.HandlerFor(25)
	require.False(t, ok)
}

func TestJitFct_GcPointAt(t *testing.T) {
	f := &JitFct{
		GcPoints: []asm.GcPointEntry{{PC: 8, Refs: []int32{-16}}},
	}

	g, ok := f.GcPointAt(8)
	require.True(t, ok)
	require.Equal(t, []int32{-16}, g.Refs)

	_, ok = f.GcPointAt(9)
	require.False(t, ok)
}

func TestJitFct_LineAt(t *testing.T) {
	f := &JitFct{
		LineNumbers: []asm.LineEntry{{PC: 0, Line: 1}, {PC: 20, Line: 2}, {PC: 40, Line: 3}},
	}

	require.Equal(t, uint32(1), f.LineAt(5))
	require.Equal(t, uint32(2), f.LineAt(25))
	require.Equal(t, uint32(3), f.LineAt(1000))
}

func TestPanicTrapSink_Trap(t *testing.T) {
	defer func() {
		r := recover()
		require.NotNil(t, r)
		te, ok := r.(*TrapError)
		require.True(t, ok)
		require.Equal(t, asm.TrapNil, te.Kind)
		require.Equal(t, FctId(5), te.Fct)
		require.Contains(t, te.Error(), "NIL")
	}()
	PanicTrapSink{}.Trap(5, asm.TrapNil, 99)
}
