package codegen

import (
	"math"

	"github.com/dora-lang/corejit/internal/asm"
	"github.com/dora-lang/corejit/internal/asm/amd64"
	"github.com/dora-lang/corejit/internal/ast"
)

// emitExpr is the expression generator's single entry point: every
// expression form produces its value into an arbitrary destination
// register.
func (g *Generator) emitExpr(e ast.Expr, dest asm.Register) {
	switch v := e.(type) {
	case *ast.LitInt:
		g.asm.LoadImmediate(v.Width.IntMode(), v.Value, dest)
	case *ast.LitBool:
		val := int64(0)
		if v.Value {
			val = 1
		}
		g.asm.LoadImmediate(asm.Int8, val, dest)
	case *ast.LitFloat:
		g.emitLitFloat(v, dest)
	case *ast.LitStr:
		g.emitLitStr(v, dest)
	case *ast.Nil:
		g.asm.LoadImmediate(asm.Ptr, 0, dest)
	case *ast.Self:
		g.emitSelf(dest)
	case *ast.Super:
		panic("codegen: Super is only valid as the receiver of a Call")
	case *ast.Ident:
		g.emitIdent(v, dest)
	case *ast.Assign:
		g.emitAssign(v, dest)
	case *ast.Un:
		g.emitUn(v, dest)
	case *ast.Bin:
		g.emitBin(v, dest)
	case *ast.Call:
		g.emitCall(v, dest)
	case *ast.Field:
		g.emitFieldRead(v, dest)
	case *ast.Array:
		g.emitArrayGet(v, dest)
	case *ast.Conv:
		g.emitConv(v, dest)
	case *ast.Try:
		g.emitTry(v, dest)
	case *ast.Delegation:
		g.emitDelegation(v, dest)
	default:
		panic("codegen: unhandled expression form")
	}
}

// emitSelf reads the receiver out of its spilled local slot rather than
// REG_PARAM0 directly: by the time any statement runs, the prologue has
// already copied REG_PARAM0 there, and REG_PARAM0 itself may since have
// been overwritten by argument marshalling for an intervening call.
func (g *Generator) emitSelf(dest asm.Register) {
	if !g.st.HasSelf {
		panic("codegen: Self used in a function with no receiver")
	}
	g.asm.Load(asm.Ptr, asm.Local(g.st.SelfOffset), dest)
}

func (g *Generator) emitLitFloat(n *ast.LitFloat, dest asm.Register) {
	mode := n.Width.FloatMode()
	var bits uint64
	if mode == asm.Float32 {
		bits = uint64(math.Float32bits(float32(n.Value)))
	} else {
		bits = math.Float64bits(n.Value)
	}
	g.asm.LoadFloatImmediateFromPool(mode, bits, dest)
}

// emitLitStr materialises a string literal's already-allocated constant
// object pointer from the constant pool, deduplicating identical
// literals within one function.
func (g *Generator) emitLitStr(n *ast.LitStr, dest asm.Register) {
	disp, ok := g.strings[n.Value]
	if !ok {
		ptr := internStringConstant(n.Value)
		disp = g.asm.AddAddr(ptr)
		g.strings[n.Value] = disp
	}
	g.asm.LoadConstPool(disp, dest)
}

func (g *Generator) emitIdent(n *ast.Ident, dest asm.Register) {
	switch g.st.Stores[n.ID()] {
	case ast.StoreLocal:
		v, ok := g.st.VarOf[n.ID()]
		if !ok {
			panic("codegen: Ident with no resolved var")
		}
		g.loadVar(v, dest)
	case ast.StoreField:
		// A bare identifier naming a field of the enclosing method's
		// receiver: load self, then the field.
		info, ok := g.st.Fields[n.ID()]
		if !ok {
			panic("codegen: field Ident with no resolved field")
		}
		g.emitSelf(amd64.RegResult)
		g.asm.Load(info.Mode, asm.Base(amd64.RegResult, info.Offset), dest)
	default:
		panic("codegen: bare Ident resolving to a non-local store (expected a Field/Array node instead)")
	}
}

// emitAssign lowers `lhs = rhs`, dispatching on the resolved store
// target: a local write evaluates straight into the var's slot, a field
// write spills the receiver across the RHS evaluation since evaluating
// the RHS may itself clobber REG_RESULT.
func (g *Generator) emitAssign(n *ast.Assign, dest asm.Register) {
	if arr, ok := n.LHS.(*ast.Array); ok {
		g.emitArraySet(arr, n.RHS, dest)
		return
	}

	switch g.st.Stores[n.LHS.ID()] {
	case ast.StoreLocal:
		v := g.st.VarOf[n.LHS.ID()]
		src := resultRegFor(g.st.Vars[v].Mode)
		g.emitExpr(n.RHS, src)
		g.storeVar(v, src)
		if dest != src {
			g.asm.CopyReg(g.st.Vars[v].Mode, src, dest)
		}

	case ast.StoreField:
		info, ok := g.st.Fields[n.LHS.ID()]
		if !ok {
			panic("codegen: field assign with no resolved field")
		}

		// The receiver is either the explicit object of a Field LHS or,
		// for a bare identifier naming a receiver field, self.
		if field, isField := n.LHS.(*ast.Field); isField {
			g.emitExpr(field.Obj, amd64.RegResult)
		} else {
			g.emitSelf(amd64.RegResult)
		}
		off := g.reserveTempForNode(n.LHS)
		g.asm.Store(asm.Ptr, amd64.RegResult, off)

		val := resultRegFor(info.Mode)
		g.emitExpr(n.RHS, val)
		g.asm.Load(asm.Ptr, off, amd64.RegTmp1)

		g.emitNilCheck(amd64.RegTmp1, n.ID())
		g.asm.Store(info.Mode, val, asm.Base(amd64.RegTmp1, info.Offset))
		g.freeTempForNode(n.LHS)

		if val != dest {
			g.asm.CopyReg(info.Mode, val, dest)
		}

	default:
		panic("codegen: assign to unsupported store target")
	}
}

// emitUn dispatches a unary operator node, consulting SideTables.Calls
// first the same way emitBin does: an overloaded or intrinsic-backed
// unary operator carries a CallSite keyed by this node, and only the
// absence of one falls through to the raw Neg/Not/no-op below.
func (g *Generator) emitUn(n *ast.Un, dest asm.Register) {
	if site, ok := g.st.Calls[n.ID()]; ok {
		if site.Intrinsic != ast.IntrinsicNone {
			g.emitIntrinsicCall([]ast.Expr{n.Expr}, site, n.ID(), dest)
		} else {
			g.emitUniversalCall(n, site, dest)
		}
		return
	}

	mode := exprIntMode(g.st, n.Expr)
	if mode.IsFloat() {
		panic("codegen: float unary operator with no resolved call site")
	}
	g.emitExpr(n.Expr, dest)
	switch n.Op {
	case ast.UnNeg:
		g.asm.Neg(mode, dest)
	case ast.UnNot:
		g.asm.Not(mode, dest)
	case ast.UnPlus:
		// no-op: value is already in dest.
	}
}

// exprIntMode resolves the machine mode an expression produces. Literal
// widths carry their own mode; everything else is resolved through the
// relevant side table, so a float local, field or element keeps its
// float mode and a float-returning call resolves to Float64. A float
// literal is not recognised here and falls through to Int64 (exprMode
// covers it).
func exprIntMode(st *ast.SideTables, e ast.Expr) asm.MachineMode {
	switch v := e.(type) {
	case *ast.LitInt:
		return v.Width.IntMode()
	case *ast.LitBool:
		return asm.Int8
	case *ast.Ident:
		if id, ok := st.VarOf[v.ID()]; ok {
			return st.Vars[id].Mode
		}
		if f, ok := st.Fields[v.ID()]; ok {
			return f.Mode
		}
	case *ast.Field:
		if f, ok := st.Fields[v.ID()]; ok {
			return f.Mode
		}
	case *ast.Array:
		if a, ok := st.Arrays[v.ID()]; ok {
			return a.Mode
		}
	case *ast.Un:
		return exprIntMode(st, v.Expr)
	case *ast.Bin:
		return exprIntMode(st, v.LHS)
	case *ast.Assign:
		return exprIntMode(st, v.LHS)
	case *ast.Try:
		return exprIntMode(st, v.Expr)
	case *ast.Call:
		if cs, ok := st.Calls[v.ID()]; ok && cs.ReturnsFloat {
			return asm.Float64
		}
	}
	return asm.Int64
}

// resultRegFor picks the canonical result register for a value of the
// given mode: FREG_RESULT for floats, REG_RESULT for everything else.
func resultRegFor(mode asm.MachineMode) asm.Register {
	if mode.IsFloat() {
		return amd64.FRegResult
	}
	return amd64.RegResult
}

// internStringConstant is the boundary to the object heap: it returns
// the address of an already-allocated, already-initialized string
// object. The concrete allocation/interning policy belongs to the
// runtime, not to code generation;
// production wiring replaces this with a call against that service.
var internStringConstant = func(s string) uintptr {
	panic("codegen: internStringConstant must be set by the embedder before compiling string literals")
}
