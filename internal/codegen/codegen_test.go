package codegen

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dora-lang/corejit/internal/asm"
	"github.com/dora-lang/corejit/internal/asm/amd64"
	"github.com/dora-lang/corejit/internal/ast"
	"github.com/dora-lang/corejit/internal/rt"
)

type fakeClasses struct {
	sizes   map[uint32]int32
	vtables map[uint32]*rt.VTable
}

func (f fakeClasses) VTable(id rt.ClassId) (*rt.VTable, bool) { v, ok := f.vtables[id]; return v, ok }
func (f fakeClasses) Size(id rt.ClassId) (int32, bool)        { s, ok := f.sizes[id]; return s, ok }

type fakeFcts struct {
	addrs map[uint32]uintptr
	vidx  map[uint32]int32
}

func (f fakeFcts) Address(fn rt.FctId) (uintptr, error) {
	if a, ok := f.addrs[fn]; ok {
		return a, nil
	}
	return 0, fmt.Errorf("no such fct %d", fn)
}

func (f fakeFcts) VTableIndex(fn rt.FctId) (int32, bool) { v, ok := f.vidx[fn]; return v, ok }

type fakeNatives struct{}

func (fakeNatives) EnsureNativeStub(fn rt.FctId, ptr uintptr, returnsRef, returnsFloat bool, argc int) uintptr {
	return ptr + 1
}

func newTestGenerator() *Generator {
	return New(Config{}, fakeClasses{}, fakeFcts{}, fakeNatives{})
}

// return a + b; for two Int32 parameters exercises the Frame Manager,
// the arithmetic path and the prologue/epilogue emitted through the
// real golang-asm backend, with no call-lowering involved.
func TestGenerate_ArithmeticFunction(t *testing.T) {
	st := ast.NewSideTables()
	st.Vars[0] = &ast.VarInfo{Id: 0, IntMode: true, Mode: asm.Int32, Offset: -8, IsParam: true, ParamIdx: 0}
	st.Vars[1] = &ast.VarInfo{Id: 1, IntMode: true, Mode: asm.Int32, Offset: -16, IsParam: true, ParamIdx: 1}
	st.VarOf[1] = 0
	st.VarOf[2] = 1
	st.LocalSize = 16
	st.Temps[1] = ast.TempSlot{Mode: asm.Int32, Slot: 8} // a's spill across b's evaluation.

	body := ast.NewBlock(100,
		ast.NewReturn(4, ast.NewBin(3, ast.BinAdd, ast.NewIdent(1), ast.NewIdent(2))),
	)

	g := newTestGenerator()
	jf, err := g.Generate(ast.FctId(1), body, st)
	require.NoError(t, err)
	require.NotEmpty(t, jf.Code)
	require.Equal(t, rt.FctId(1), jf.Fct)
}

// return try call_fct() else 0; exercises Component E's universal call
// lowering (direct CalleeFct dispatch, GC point recording) together with
// Component C's Try/Else exception-handler-table registration.
func TestGenerate_CallInsideTryElse(t *testing.T) {
	st := ast.NewSideTables()
	st.Calls[1] = &ast.CallSite{Kind: ast.CalleeFct, Fct: 42}

	call := ast.NewCall(1, nil, nil)
	els := ast.NewLitInt(2, 0, ast.Width32)
	try := ast.NewTry(3, call, ast.TryElse, els)
	body := ast.NewBlock(100, ast.NewReturn(4, try))

	g := New(Config{}, fakeClasses{}, fakeFcts{addrs: map[uint32]uintptr{42: 0x9000}}, fakeNatives{})
	jf, err := g.Generate(ast.FctId(7), body, st)
	require.NoError(t, err)
	require.NotEmpty(t, jf.Code)

	require.Len(t, jf.ExceptionHandlers, 1)
	h := jf.ExceptionHandlers[0]
	// TryStart/TryEnd/CatchPC are real resolved byte offsets into jf.Code
	// now, not the try/catch labels' own creation-order ids, so the only
	// thing worth asserting here is their relative shape.
	require.Less(t, h.TryStart, h.TryEnd, "try region must span at least the guarded call")
	require.Equal(t, h.TryEnd, h.CatchPC, "the catch span starts exactly where the try span ends")
	require.Less(t, h.CatchPC, uint32(len(jf.Code)))
	require.False(t, h.HasFinally)

	require.Len(t, jf.GcPoints, 1) // the call's post-dispatch safepoint.
}

// return Int::add(3, 4); exercises Component C's intrinsic dispatch
// (emitIntrinsicCall) instead of falling through to a real call.
func TestGenerate_IntrinsicAdd(t *testing.T) {
	st := ast.NewSideTables()
	st.Calls[1] = &ast.CallSite{Intrinsic: ast.IntrinsicIntAdd}
	st.Temps[2] = ast.TempSlot{Mode: asm.Int32, Slot: 8}

	lhs := ast.NewLitInt(2, 3, ast.Width32)
	rhs := ast.NewLitInt(3, 4, ast.Width32)
	call := ast.NewCall(1, nil, []ast.Expr{lhs, rhs})
	body := ast.NewBlock(100, ast.NewReturn(4, call))

	g := newTestGenerator()
	jf, err := g.Generate(ast.FctId(1), body, st)
	require.NoError(t, err)
	require.NotEmpty(t, jf.Code)
	require.Empty(t, jf.ExceptionHandlers)
}

// Eight arguments overflow the six-register parameter bank, so the last
// two must be marshalled through the outgoing stack area at the frame
// bottom.
func TestGenerate_StackArguments(t *testing.T) {
	st := ast.NewSideTables()

	args := make([]ast.Expr, 8)
	planned := make([]ast.Arg, 8)
	for i := range args {
		args[i] = ast.NewLitInt(ast.NodeId(10+i), int64(i), ast.Width32)
		planned[i] = ast.Arg{Kind: ast.ArgExpr, Expr: args[i], Mode: asm.Int32, Slot: int32(8 + i*8)}
	}
	st.Calls[1] = &ast.CallSite{Kind: ast.CalleeFct, Fct: 9, Args: planned}
	call := ast.NewCall(1, nil, args)
	body := ast.NewBlock(100, ast.NewReturn(4, call))

	g := New(Config{}, fakeClasses{}, fakeFcts{addrs: map[uint32]uintptr{9: 0x9000}}, fakeNatives{})
	jf, err := g.Generate(ast.FctId(1), body, st)
	require.NoError(t, err)
	require.NotEmpty(t, jf.Code)
	require.Len(t, jf.GcPoints, 1)
	// Eight 8-byte argument spills plus the 16-byte outgoing area for
	// the two stack-passed arguments: the outgoing area must sit below
	// the temp region, never on top of a still-live spill slot.
	require.GreaterOrEqual(t, jf.FrameSize, int32(80))
}

// A constructor call inlines the allocation: gc_alloc, OOM bailout,
// VTable publication, then the initializer call. Two safepoints in
// total (the allocation and the call itself), and the call's value is
// the allocated instance reloaded from its spill slot.
func TestGenerate_ConstructorCall(t *testing.T) {
	origAlloc := allocAddr
	defer func() { allocAddr = origAlloc }()
	allocAddr = func() uintptr { return 0x7000 }

	origTrap := amd64.TrapHandlerAddr
	defer func() { amd64.TrapHandlerAddr = origTrap }()
	amd64.TrapHandlerAddr = func() uintptr { return 0x8000 }

	st := ast.NewSideTables()
	st.Calls[1] = &ast.CallSite{
		Kind: ast.CalleeFct, Fct: 3,
		HasReceiver: true, IsConstructor: true, NewClass: 5, ReturnsRef: true,
		Args: []ast.Arg{{Kind: ast.ArgSelfieNew, Mode: asm.Ptr, IsRef: true, Slot: 8}},
	}

	call := ast.NewCall(1, nil, nil)
	body := ast.NewBlock(100, ast.NewReturn(4, call))

	classes := fakeClasses{
		sizes:   map[uint32]int32{5: 24},
		vtables: map[uint32]*rt.VTable{5: {Class: 5}},
	}
	g := New(Config{}, classes, fakeFcts{addrs: map[uint32]uintptr{3: 0x9000}}, fakeNatives{})
	jf, err := g.Generate(ast.FctId(1), body, st)
	require.NoError(t, err)
	require.NotEmpty(t, jf.Code)
	require.Len(t, jf.GcPoints, 2)
}

// An unrecognised IntrinsicKind must panic rather than silently falling
// back to universal call lowering.
func TestGenerate_UnknownIntrinsicPanics(t *testing.T) {
	st := ast.NewSideTables()
	st.Calls[1] = &ast.CallSite{Intrinsic: ast.IntrinsicKind(200)}

	call := ast.NewCall(1, nil, []ast.Expr{ast.NewLitInt(2, 1, ast.Width32)})
	body := ast.NewBlock(100, ast.NewReturn(4, call))

	g := newTestGenerator()
	require.Panics(t, func() {
		_, _ = g.Generate(ast.FctId(1), body, st)
	})
}

// A Call whose CallSite is missing entirely from SideTables.Calls is a
// front-end/generator contract violation and must panic immediately
// rather than dispatch against a zero-value CallSite.
func TestGenerate_CallWithNoResolvedCallSitePanics(t *testing.T) {
	st := ast.NewSideTables()
	call := ast.NewCall(1, nil, nil)
	body := ast.NewBlock(100, ast.NewReturn(4, call))

	g := newTestGenerator()
	require.Panics(t, func() {
		_, _ = g.Generate(ast.FctId(1), body, st)
	})
}

// TryMode_Opt is rejected before any emission happens.
func TestGenerate_RejectsTryOpt(t *testing.T) {
	st := ast.NewSideTables()
	try := ast.NewTry(3, ast.NewLitInt(1, 1, ast.Width32), ast.TryOpt, nil)
	body := ast.NewBlock(100, ast.NewReturn(4, try))

	g := newTestGenerator()
	_, err := g.Generate(ast.FctId(1), body, st)
	require.ErrorIs(t, err, ErrUnsupportedTryMode)
}

// x is B, with B one level below A in the display: the lowering loads
// the object's VTable, loads B's VTable address from the constant pool,
// and compares the display slot at B's depth. A nil x short-circuits to
// false without touching the VTable.
func TestGenerate_ConvIsDisplay(t *testing.T) {
	st := ast.NewSideTables()
	st.Vars[0] = &ast.VarInfo{Id: 0, Mode: asm.Ptr, Offset: -8, IsParam: true, ParamIdx: 0, IsRef: true}
	st.VarOf[1] = 0
	st.Stores[1] = ast.StoreLocal
	st.LocalSize = 8
	st.Temps[1] = ast.TempSlot{Mode: asm.Ptr, Slot: 8, IsRef: true}
	st.Convs[2] = &ast.ConvInfo{Target: 5, MayBeNil: true}

	body := ast.NewBlock(100,
		ast.NewReturn(4, ast.NewConv(2, ast.NewIdent(1), ast.ConvIs, 5)),
	)

	parent := &rt.VTable{Class: 4, SubtypeDepth: 0}
	target := &rt.VTable{Class: 5, SubtypeDepth: 1}
	target.Display = [rt.DisplaySize]uintptr{rt.VTableAddr(parent), rt.VTableAddr(target)}
	classes := fakeClasses{vtables: map[uint32]*rt.VTable{5: target}}

	g := New(Config{}, classes, fakeFcts{}, fakeNatives{})
	jf, err := g.Generate(ast.FctId(1), body, st)
	require.NoError(t, err)
	require.NotEmpty(t, jf.Code)
}

// A target deeper than the display forces the overflow walk: depth
// guard first, then the overflow entry at the target's index. The `as`
// form bails out with a cast trap on mismatch, so the trap handler hook
// must be in place while compiling it.
func TestGenerate_ConvAsDeepOverflow(t *testing.T) {
	origTrap := amd64.TrapHandlerAddr
	defer func() { amd64.TrapHandlerAddr = origTrap }()
	amd64.TrapHandlerAddr = func() uintptr { return 0x8000 }

	st := ast.NewSideTables()
	st.Vars[0] = &ast.VarInfo{Id: 0, Mode: asm.Ptr, Offset: -8, IsParam: true, ParamIdx: 0, IsRef: true}
	st.VarOf[1] = 0
	st.Stores[1] = ast.StoreLocal
	st.LocalSize = 8
	st.Temps[1] = ast.TempSlot{Mode: asm.Ptr, Slot: 8, IsRef: true}
	st.Convs[2] = &ast.ConvInfo{Target: 9, MayBeNil: false}

	body := ast.NewBlock(100,
		ast.NewReturn(4, ast.NewConv(2, ast.NewIdent(1), ast.ConvAs, 9)),
	)

	deep := &rt.VTable{Class: 9, SubtypeDepth: rt.DisplaySize + 1}
	classes := fakeClasses{vtables: map[uint32]*rt.VTable{9: deep}}

	g := New(Config{}, classes, fakeFcts{}, fakeNatives{})
	jf, err := g.Generate(ast.FctId(1), body, st)
	require.NoError(t, err)
	require.NotEmpty(t, jf.Code)
}

// A conversion semantic analysis already proved valid never emits the
// VTable walk, so it needs neither a temp slot nor the target's VTable
// in the registry.
func TestGenerate_ConvIsAlwaysValid(t *testing.T) {
	st := ast.NewSideTables()
	st.Vars[0] = &ast.VarInfo{Id: 0, Mode: asm.Ptr, Offset: -8, IsParam: true, ParamIdx: 0, IsRef: true}
	st.VarOf[1] = 0
	st.Stores[1] = ast.StoreLocal
	st.LocalSize = 8
	st.Convs[2] = &ast.ConvInfo{Target: 5, AlwaysValid: true, MayBeNil: false}

	body := ast.NewBlock(100,
		ast.NewReturn(4, ast.NewConv(2, ast.NewIdent(1), ast.ConvIs, 5)),
	)

	g := newTestGenerator()
	jf, err := g.Generate(ast.FctId(1), body, st)
	require.NoError(t, err)
	require.NotEmpty(t, jf.Code)
}

// A spill site whose node was never planned a temp slot is a contract
// violation between the front end and the generator.
func TestGenerate_MissingPlannedTempPanics(t *testing.T) {
	st := ast.NewSideTables()
	body := ast.NewBlock(100,
		ast.NewReturn(4, ast.NewBin(3, ast.BinAdd,
			ast.NewLitInt(1, 1, ast.Width32), ast.NewLitInt(2, 2, ast.Width32))),
	)

	g := newTestGenerator()
	require.Panics(t, func() {
		_, _ = g.Generate(ast.FctId(1), body, st)
	})
}
