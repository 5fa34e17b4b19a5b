package codegen

import (
	"github.com/dora-lang/corejit/internal/asm"
	"github.com/dora-lang/corejit/internal/asm/amd64"
	"github.com/dora-lang/corejit/internal/ast"
	"github.com/dora-lang/corejit/internal/rt"
)

// headerSize is the byte size of rt.ObjectHeader; arrays additionally
// carry a length field immediately after it.
const headerSize = 8

// emitFieldRead evaluates the receiver and loads the resolved field,
// bailing out on a nil receiver first: every field read and method
// call implicitly null-checks its receiver.
func (g *Generator) emitFieldRead(n *ast.Field, dest asm.Register) {
	info := g.st.Fields[n.ID()]
	g.emitExpr(n.Obj, amd64.RegResult)
	g.emitNilCheck(amd64.RegResult, n.ID())
	g.asm.Load(info.Mode, asm.Base(amd64.RegResult, info.Offset), dest)
}

// emitNilCheck bails out with TrapNil if reg holds a null pointer.
func (g *Generator) emitNilCheck(reg asm.Register, node ast.NodeId) {
	lbl := g.asm.CreateLabel()
	g.asm.TestAndJumpIfNotZero(reg, lbl)
	g.asm.EmitBailoutInplace(asm.TrapNil, g.st.Line[node])
	g.asm.BindLabel(lbl)
}

// emitArrayGet evaluates the object into a spilled temp, evaluates the
// index, optionally range-checks it, and loads the element: object
// first, then index, bounds check only after both are known.
func (g *Generator) emitArrayGet(n *ast.Array, dest asm.Register) {
	info := g.st.Arrays[n.ID()]

	g.emitExpr(n.Obj, amd64.RegResult)
	off := g.reserveTempForNode(n.Obj)
	g.asm.Store(asm.Ptr, amd64.RegResult, off)

	g.emitExpr(n.Index, amd64.RegTmp1)
	g.asm.Load(asm.Ptr, off, amd64.RegResult)
	g.freeTempForNode(n.Obj)

	g.emitNilCheck(amd64.RegResult, n.ID())
	if !g.cfg.OmitBoundsCheck {
		g.emitBoundsCheck(amd64.RegResult, amd64.RegTmp1, n.ID())
	}

	elemReg := resultRegFor(info.Mode)
	g.loadArrayElem(info, elemReg, amd64.RegResult, amd64.RegTmp1)
	if elemReg != dest {
		g.asm.CopyReg(info.Mode, elemReg, dest)
	}
}

// emitArraySet lowers the LHS of `arr[i] = v`. Object, index and value
// are each spilled to their own temp before the store, since evaluating
// any of the three can clobber REG_RESULT while the others are still
// needed.
func (g *Generator) emitArraySet(arr *ast.Array, rhs ast.Expr, dest asm.Register) {
	info := g.st.Arrays[arr.ID()]

	g.emitExpr(arr.Obj, amd64.RegResult)
	offObj := g.reserveTempForNode(arr.Obj)
	g.asm.Store(asm.Ptr, amd64.RegResult, offObj)

	g.emitExpr(arr.Index, amd64.RegResult)
	offIdx := g.reserveTempForNode(arr.Index)
	g.asm.Store(asm.Int32, amd64.RegResult, offIdx)

	val := resultRegFor(info.Mode)
	g.emitExpr(rhs, val)
	offVal := g.reserveTempForNode(rhs)
	g.asm.Store(info.Mode, val, offVal)

	g.asm.Load(asm.Ptr, offObj, amd64.RegTmp1)
	g.asm.Load(asm.Int32, offIdx, amd64.RegTmp2)

	g.emitNilCheck(amd64.RegTmp1, arr.ID())
	if !g.cfg.OmitBoundsCheck {
		g.emitBoundsCheck(amd64.RegTmp1, amd64.RegTmp2, arr.ID())
	}

	g.asm.Load(info.Mode, offVal, val)
	g.storeArrayElem(info, amd64.RegTmp1, amd64.RegTmp2, val)

	g.freeTempForNode(arr.Obj)
	g.freeTempForNode(arr.Index)
	g.freeTempForNode(rhs)

	if val != dest {
		g.asm.CopyReg(info.Mode, val, dest)
	}
}

// emitBoundsCheck bails out with TrapIndexOutOfBounds unless
// 0 <= idxReg < length(arrReg). The length word lives right after the
// object header, matching rt's array layout.
func (g *Generator) emitBoundsCheck(arrReg, idxReg asm.Register, node ast.NodeId) {
	g.asm.Load(asm.Int32, asm.Base(arrReg, headerSize), amd64.RegTmp2)
	if idxReg == amd64.RegTmp2 {
		panic("codegen: bounds check index register aliases the scratch length register")
	}
	g.asm.Cmp(asm.Int32, idxReg, amd64.RegTmp2)
	lbl := g.asm.CreateLabel()
	g.asm.JumpIf(asm.Below, lbl)
	g.asm.EmitBailoutInplace(asm.TrapIndexOutOfBounds, g.st.Line[node])
	g.asm.BindLabel(lbl)
}

// elemBaseOffset is the byte offset of element 0 within an array
// object: header, then the length word, then the element data.
const elemBaseOffset = headerSize + 4

func (g *Generator) loadArrayElem(info *ast.ArrayInfo, dst, arrReg, idxReg asm.Register) {
	scale := int8(info.ElemSize)
	g.asm.Load(info.Mode, asm.Index(arrReg, idxReg, scale, elemBaseOffset), dst)
}

func (g *Generator) storeArrayElem(info *ast.ArrayInfo, arrReg, idxReg, src asm.Register) {
	scale := int8(info.ElemSize)
	g.asm.Store(info.Mode, src, asm.Index(arrReg, idxReg, scale, elemBaseOffset))
}

// emitConv lowers `is`/`as`. A nil receiver never reaches the VTable walk
// below (there is no VTable to dereference): `is` against nil is always
// false, and `as` passes nil straight through since nil is a member of
// every reference type. Once that's out of the way, a statically-proven
// check (AlwaysValid) just produces the answer directly; otherwise the
// generator walks the object's VTable display the same way
// rt.VTable.IsSubtypeOf does, inline.
func (g *Generator) emitConv(n *ast.Conv, dest asm.Register) {
	info := g.st.Convs[n.ID()]

	g.emitExpr(n.Obj, amd64.RegResult)

	if !info.MayBeNil {
		g.emitConvNonNil(n, info, dest)
		return
	}

	lblNonNil := g.asm.CreateLabel()
	lblEnd := g.asm.CreateLabel()
	g.asm.TestAndJumpIfNotZero(amd64.RegResult, lblNonNil)

	if n.Kind == ast.ConvIs {
		g.asm.LoadImmediate(asm.Int8, 0, dest)
	} else if amd64.RegResult != dest {
		g.asm.CopyReg(asm.Ptr, amd64.RegResult, dest)
	}
	g.asm.Jump(lblEnd)

	g.asm.BindLabel(lblNonNil)
	g.emitConvNonNil(n, info, dest)

	g.asm.BindLabel(lblEnd)
}

// emitConvNonNil implements the AlwaysValid fast path and the general
// VTable walk, assuming REG_RESULT already holds a non-nil object
// pointer; emitConv handles the nil case itself before ever reaching
// here.
func (g *Generator) emitConvNonNil(n *ast.Conv, info *ast.ConvInfo, dest asm.Register) {
	if info.AlwaysValid {
		if n.Kind == ast.ConvIs {
			g.asm.LoadImmediate(asm.Int8, 1, dest)
		} else if amd64.RegResult != dest {
			g.asm.CopyReg(asm.Ptr, amd64.RegResult, dest)
		}
		return
	}

	g.emitVTableSubtypeTest(n.Obj, info, n.ID(), dest, n.Kind)
}

// emitVTableSubtypeTest performs the Cohen display check: load the
// object's VTable pointer, load the target VTable's address from the
// constant pool, and compare the display slot at the target's depth (or
// the subtype_overflow entry beyond DisplaySize, guarded by a depth
// compare) against it. For `as`, a failed check bails out with TrapCast
// instead of producing false.
func (g *Generator) emitVTableSubtypeTest(obj ast.Expr, info *ast.ConvInfo, node ast.NodeId, dest asm.Register, kind ast.ConvKind) {
	off := g.reserveTempForNode(obj)
	g.asm.Store(asm.Ptr, amd64.RegResult, off)

	vtable, ok := g.classVTable(info.Target)
	if !ok {
		panic("codegen: Conv against unknown class")
	}

	g.asm.Load(asm.Ptr, asm.Base(amd64.RegResult, 0), amd64.RegTmp1) // obj's vtable ptr
	disp := g.asm.AddAddr(rt.VTableAddr(vtable))
	g.asm.LoadConstPool(disp, amd64.RegTmp2) // target's vtable ptr

	lblFail := g.asm.CreateLabel()
	lblOK := g.asm.CreateLabel()

	if vtable.SubtypeDepth < rt.DisplaySize {
		displayOff := int32(rt.DisplayOffset) + vtable.SubtypeDepth*8
		g.asm.Load(asm.Ptr, asm.Base(amd64.RegTmp1, displayOff), amd64.RegTmp1)
		g.asm.Cmp(asm.Ptr, amd64.RegTmp1, amd64.RegTmp2)
		g.asm.JumpIf(asm.Equal, lblOK)
		g.asm.Jump(lblFail)
	} else {
		// Deep target: the display only covers the first DisplaySize
		// ancestors. A shallower object has no overflow entry at the
		// target's index, so its depth is checked first; the overflow
		// array itself is reached through the data pointer at
		// SubtypeOverflowOffset, one indirection more than an inline
		// array would need (see rt.MethodTableOffset). The object
		// pointer is already spilled, so REG_RESULT doubles as the
		// depth scratch here.
		g.asm.Load(asm.Int32, asm.Base(amd64.RegTmp1, rt.SubtypeDepthOffset), amd64.RegResult)
		g.asm.CmpImm(asm.Int32, amd64.RegResult, int64(vtable.SubtypeDepth))
		g.asm.JumpIf(asm.Less, lblFail)
		g.asm.Load(asm.Ptr, asm.Base(amd64.RegTmp1, rt.SubtypeOverflowOffset), amd64.RegTmp1)
		overflowOff := (vtable.SubtypeDepth - rt.DisplaySize) * 8
		g.asm.Load(asm.Ptr, asm.Base(amd64.RegTmp1, overflowOff), amd64.RegTmp1)
		g.asm.Cmp(asm.Ptr, amd64.RegTmp1, amd64.RegTmp2)
		g.asm.JumpIf(asm.Equal, lblOK)
		g.asm.Jump(lblFail)
	}

	g.asm.BindLabel(lblOK)
	if kind == ast.ConvIs {
		g.asm.LoadImmediate(asm.Int8, 1, dest)
	} else {
		g.asm.Load(asm.Ptr, off, dest)
	}
	lblEnd := g.asm.CreateLabel()
	g.asm.Jump(lblEnd)

	g.asm.BindLabel(lblFail)
	if kind == ast.ConvIs {
		g.asm.LoadImmediate(asm.Int8, 0, dest)
	} else {
		g.asm.EmitBailoutInplace(asm.TrapCast, g.st.Line[node])
	}
	g.asm.BindLabel(lblEnd)

	g.freeTempForNode(obj)
}

// classVTable resolves a ClassId's VTable through the registry,
// returning (nil-zero, false) if unknown.
func (g *Generator) classVTable(id ast.ClassId) (*rt.VTable, bool) {
	return g.classes.VTable(rt.ClassId(id))
}
