package codegen

import (
	"fmt"

	"github.com/dora-lang/corejit/internal/asm"
	"github.com/dora-lang/corejit/internal/asm/amd64"
	"github.com/dora-lang/corejit/internal/ast"
	"github.com/dora-lang/corejit/internal/rt"
)

// allocAddr is the embedder-supplied address of the runtime's
// `gc_alloc(size) -> ptr` entry point, the same indirection expr.go
// uses for internStringConstant: neither native address is known until
// the embedder has loaded its runtime.
var allocAddr = func() uintptr {
	panic("codegen: allocAddr must be set by the embedder before compiling a constructor call")
}

// emitCall is the expression generator's entry point for Call nodes: an
// intrinsic target dispatches to its specialised emitter, everything
// else goes through universal call lowering against the site's planned
// argument list.
func (g *Generator) emitCall(n *ast.Call, dest asm.Register) {
	site, ok := g.st.Calls[n.ID()]
	if !ok {
		panic("codegen: Call with no resolved CallSite")
	}
	if site.Intrinsic != ast.IntrinsicNone {
		g.emitIntrinsicCall(intrinsicOperands(n), site, n.ID(), dest)
		return
	}
	g.emitUniversalCall(n, site, dest)
}

// emitDelegation lowers a constructor's call to its superclass
// constructor. The front end plans its implicit receiver as ArgSelfie:
// always the enclosing method's self, never a freshly evaluated
// expression or a fresh allocation.
func (g *Generator) emitDelegation(n *ast.Delegation, dest asm.Register) {
	site, ok := g.st.Calls[n.ID()]
	if !ok {
		panic("codegen: Delegation with no resolved CallSite")
	}
	g.emitUniversalCall(n, site, dest)
}

// marshalMode maps a value's true mode to the mode used to move its
// bits between a frame slot and a general-purpose register during
// argument marshalling. Floats are stored/loaded in their true mode
// when moving to/from an xmm register (so the bits round-trip
// correctly) but reloaded through the matching integer width when
// landing in a REG_PARAMS slot or the outgoing-argument stack area:
// arguments travel through the single REG_PARAMS bank rather than a
// separate float-argument register file (see DESIGN.md). A bitwise
// reinterpretation, not a conversion.
func marshalMode(mode asm.MachineMode) asm.MachineMode {
	switch mode {
	case asm.Float32:
		return asm.Int32
	case asm.Float64:
		return asm.Int64
	default:
		return mode
	}
}

// emitUniversalCall is the general call path: evaluate and spill
// every argument in source order, marshal into REG_PARAMS/stack,
// null-check a receiver that may be nil, dispatch per CalleeKind, then
// record the post-call bookkeeping (lineno, GC point, result copy,
// constructor reload) and free every temp it reserved.
func (g *Generator) emitUniversalCall(node ast.Expr, site *ast.CallSite, dest asm.Register) {
	plan := site.Args

	spills := make([]asm.Mem, len(plan))

	for i, a := range plan {
		valueReg := amd64.RegResult
		if a.Mode.IsFloat() {
			valueReg = amd64.FRegResult
		}
		switch a.Kind {
		case ast.ArgSelfieNew:
			g.emitSelfieNewAlloc(site.NewClass, node.ID())
		case ast.ArgSelfie:
			g.emitSelf(amd64.RegResult)
		default:
			g.emitExpr(a.Expr, valueReg)
		}

		off := g.tmps.Reserve(ast.TempSlot{Mode: a.Mode, Slot: a.Slot, IsRef: a.IsRef})
		g.asm.Store(a.Mode, valueReg, off)
		spills[i] = off
	}

	if excess := int32(len(plan) - len(amd64.RegParams)); excess > 0 {
		if out := excess * 8; out > g.maxOutgoing {
			g.maxOutgoing = out
		}
	}

	for i, a := range plan {
		mm := marshalMode(a.Mode)
		if i < len(amd64.RegParams) {
			g.asm.Load(mm, spills[i], amd64.RegParams[i])
		} else {
			// Excess arguments land at [sp], [sp+8], ... in source order;
			// Generate reserves this outgoing area (maxOutgoing) at the
			// bottom of the frame.
			g.asm.Load(mm, spills[i], amd64.RegTmp1)
			stackOff := int32(i-len(amd64.RegParams)) * 8
			g.asm.Store(mm, amd64.RegTmp1, asm.Base(amd64.RegStackPointer, stackOff))
		}
	}

	if site.HasReceiver && !site.IsConstructor && site.ReceiverMayBeNil {
		g.emitNilCheck(amd64.RegParams[0], node.ID())
	}

	switch site.Kind {
	case ast.CalleeVirtual:
		idx, ok := g.fcts.VTableIndex(rt.FctId(site.Fct))
		if !ok {
			panic(fmt.Sprintf("codegen: virtual call to fct %d has no vtable slot", site.Fct))
		}
		g.asm.Load(asm.Ptr, asm.Base(amd64.RegParams[0], 0), amd64.RegTmp1)
		g.asm.Load(asm.Ptr, asm.Base(amd64.RegTmp1, rt.MethodTableOffset), amd64.RegTmp1)
		g.asm.Load(asm.Ptr, asm.Base(amd64.RegTmp1, idx*8), amd64.RegTmp1)
		g.asm.CallRegister(amd64.RegTmp1)

	case ast.CalleeNative:
		argc := len(plan)
		if site.HasReceiver {
			argc--
		}
		wrapper := g.natives.EnsureNativeStub(rt.FctId(site.Fct), site.NativePtr, site.ReturnsRef, site.ReturnsFloat, argc)
		g.asm.CallAddress(wrapper)

	default: // ast.CalleeFct: direct, static and super calls all resolve the same way.
		addr, err := g.fcts.Address(rt.FctId(site.Fct))
		if err != nil {
			panic(fmt.Sprintf("codegen: resolving call target fct %d: %v", site.Fct, err))
		}
		g.asm.CallAddress(addr)
	}

	if line, ok := g.st.Line[node.ID()]; ok {
		g.asm.EmitLineno(line)
	}
	g.asm.EmitGcPoint(asm.GcPoint{RefSlots: g.liveRefSlots()})

	resultReg := amd64.RegResult
	if site.ReturnsFloat {
		resultReg = amd64.FRegResult
	}
	if site.IsConstructor {
		// Constructors return the allocated instance, not whatever the
		// initializer call itself produced: reload the SelfieNew slot.
		g.asm.Load(asm.Ptr, spills[0], dest)
	} else if resultReg != dest {
		resultMode := asm.Ptr
		if site.ReturnsFloat {
			resultMode = asm.Float64
		}
		g.asm.CopyReg(resultMode, resultReg, dest)
	}

	for _, a := range plan {
		g.tmps.Free(ast.TempSlot{Mode: a.Mode, Slot: a.Slot, IsRef: a.IsRef})
	}
}

// emitSelfieNewAlloc inlines the Arg::SelfieNew allocation sequence:
// request cls.size bytes from the allocator, bail out to TrapOOM on a
// null result, then publish the class's VTable pointer into the new
// object's header before the constructor's own argument marshalling
// runs: the VTable store must precede any use of the object so it
// never escapes in a half-initialised state.
func (g *Generator) emitSelfieNewAlloc(cls ast.ClassId, node ast.NodeId) {
	size, ok := g.classes.Size(rt.ClassId(cls))
	if !ok {
		panic(fmt.Sprintf("codegen: SelfieNew against unknown class %d", cls))
	}
	vtable, ok := g.classVTable(cls)
	if !ok {
		panic(fmt.Sprintf("codegen: SelfieNew against unknown class %d", cls))
	}

	g.asm.LoadImmediate(asm.Int32, int64(size), amd64.RegParam0)
	g.asm.CallAddress(allocAddr())
	// The allocation is itself a safepoint: any reference temp already
	// spilled for an earlier argument must be visible to a collection
	// triggered here.
	g.asm.EmitGcPoint(asm.GcPoint{RefSlots: g.liveRefSlots()})

	lblOK := g.asm.CreateLabel()
	g.asm.TestAndJumpIfNotZero(amd64.RegResult, lblOK)
	g.asm.EmitBailoutInplace(asm.TrapOOM, g.st.Line[node])
	g.asm.BindLabel(lblOK)

	disp := g.asm.AddAddr(rt.VTableAddr(vtable))
	g.asm.LoadConstPool(disp, amd64.RegTmp1)
	g.asm.Store(asm.Ptr, amd64.RegTmp1, asm.Base(amd64.RegResult, 0))
}

// liveRefSlots folds every currently-reserved reference temp into the
// GC-point snapshot taken at this call's safepoint, together with every
// reference-typed local. Scope-variable liveness is
// the front end's responsibility to narrow (dead locals are simply
// absent from SideTables.Vars' IsRef-true entries actually read at this
// point); this core folds in every reference-typed local unconditionally,
// a conservative but always-correct over-approximation.
func (g *Generator) liveRefSlots() []int32 {
	slots := g.tmps.LiveRefOffsets()
	for _, v := range g.st.Vars {
		if v.IsRef {
			slots = append(slots, v.Offset)
		}
	}
	return slots
}

