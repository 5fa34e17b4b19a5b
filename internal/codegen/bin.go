package codegen

import (
	"github.com/dora-lang/corejit/internal/asm"
	"github.com/dora-lang/corejit/internal/asm/amd64"
	"github.com/dora-lang/corejit/internal/ast"
)

// emitBin dispatches a binary operator node. Reference identity
// (Is/IsNot) and the short-circuit logical operators are never
// overloadable (they test pointer bits or short-circuit control flow,
// not a type's own method table) so they go straight to their own
// control flow. Every other operator first consults SideTables.Calls:
// the front end records a CallSite there whenever the static operand
// types resolve the operator to an overloaded method or an intrinsic
// rather than a raw hardware op (see DESIGN.md "operator overload
// resolution"). No entry at all means the operator is the plain
// built-in one, lowered as raw arithmetic or a compare.
func (g *Generator) emitBin(n *ast.Bin, dest asm.Register) {
	switch n.Op {
	case ast.BinIs, ast.BinIsNot:
		g.emitRefIdentity(n, dest)
		return
	case ast.BinLogOr:
		g.emitLogOr(n, dest)
		return
	case ast.BinLogAnd:
		g.emitLogAnd(n, dest)
		return
	}

	if site, ok := g.st.Calls[n.ID()]; ok {
		if site.Intrinsic != ast.IntrinsicNone {
			g.emitIntrinsicCall([]ast.Expr{n.LHS, n.RHS}, site, n.ID(), dest)
		} else {
			g.emitUniversalCall(n, site, dest)
		}
		return
	}

	if n.Op == ast.BinCmp {
		g.emitCmp(n, dest)
		return
	}
	g.emitArith(n, dest)
}

// emitRefIdentity spills lhs across the evaluation of rhs (either side
// may itself clobber REG_RESULT), then compares the two pointers for
// bitwise equality. This is reference identity, unrelated to the
// VTable-based `is` subtype test a Conv node performs.
func (g *Generator) emitRefIdentity(n *ast.Bin, dest asm.Register) {
	g.emitExpr(n.LHS, amd64.RegResult)
	off := g.reserveTempForNode(n.LHS)
	g.asm.Store(asm.Ptr, amd64.RegResult, off)

	g.emitExpr(n.RHS, amd64.RegTmp1)
	g.asm.Load(asm.Ptr, off, amd64.RegResult)
	g.freeTempForNode(n.LHS)

	g.asm.Cmp(asm.Ptr, amd64.RegResult, amd64.RegTmp1)
	cond := asm.Equal
	if n.Op == ast.BinIsNot {
		cond = asm.NotEqual
	}
	g.asm.Set(cond, dest)
}

// emitLogOr and emitLogAnd implement short-circuit evaluation: the
// right-hand side is only evaluated when its value can change the
// result.
func (g *Generator) emitLogOr(n *ast.Bin, dest asm.Register) {
	lblTrue := g.asm.CreateLabel()
	lblFalse := g.asm.CreateLabel()
	lblEnd := g.asm.CreateLabel()

	g.emitExpr(n.LHS, amd64.RegResult)
	g.asm.TestAndJumpIfNotZero(amd64.RegResult, lblTrue)

	g.emitExpr(n.RHS, amd64.RegResult)
	g.asm.TestAndJumpIfZero(amd64.RegResult, lblFalse)

	g.asm.BindLabel(lblTrue)
	g.asm.LoadImmediate(asm.Int8, 1, dest)
	g.asm.Jump(lblEnd)

	g.asm.BindLabel(lblFalse)
	g.asm.LoadImmediate(asm.Int8, 0, dest)

	g.asm.BindLabel(lblEnd)
}

func (g *Generator) emitLogAnd(n *ast.Bin, dest asm.Register) {
	lblFalse := g.asm.CreateLabel()
	lblEnd := g.asm.CreateLabel()

	g.emitExpr(n.LHS, amd64.RegResult)
	g.asm.TestAndJumpIfZero(amd64.RegResult, lblFalse)

	g.emitExpr(n.RHS, amd64.RegResult)
	g.asm.TestAndJumpIfZero(amd64.RegResult, lblFalse)

	g.asm.LoadImmediate(asm.Int8, 1, dest)
	g.asm.Jump(lblEnd)

	g.asm.BindLabel(lblFalse)
	g.asm.LoadImmediate(asm.Int8, 0, dest)

	g.asm.BindLabel(lblEnd)
}

// emitCmp spills lhs, evaluates rhs, reloads lhs and emits a Set on the
// requested condition. Floating-point comparisons use the same Cmp
// entry point; internal/asm's backend picks UCOMISS/UCOMISD based on
// mode.
func (g *Generator) emitCmp(n *ast.Bin, dest asm.Register) {
	mode := exprMode(g.st, n.LHS)
	lhsReg, rhsReg := amd64.RegResult, amd64.RegTmp1
	if mode.IsFloat() {
		lhsReg, rhsReg = amd64.FRegResult, amd64.FRegTmp1
	}

	g.emitExpr(n.LHS, lhsReg)
	off := g.reserveTempForNode(n.LHS)
	g.asm.Store(mode, lhsReg, off)

	g.emitExpr(n.RHS, rhsReg)
	g.asm.Load(mode, off, lhsReg)
	g.freeTempForNode(n.LHS)

	g.asm.Cmp(mode, lhsReg, rhsReg)
	g.asm.Set(cmpCond(n.Cmp, mode), dest)
}

// cmpCond maps a source-level comparison to a condition code. Float
// compares go through UCOMISS/UCOMISD, whose flags encode the ordering
// the way an unsigned integer compare would, so the float variants use
// the Below/Above family instead of the signed Less/Greater pair.
func cmpCond(op ast.CmpOp, mode asm.MachineMode) asm.Cond {
	if mode.IsFloat() {
		switch op {
		case ast.CmpEq:
			return asm.Equal
		case ast.CmpNe:
			return asm.NotEqual
		case ast.CmpLt:
			return asm.Below
		case ast.CmpLe:
			return asm.BelowEqual
		case ast.CmpGt:
			return asm.Above
		default:
			return asm.AboveEqual
		}
	}
	switch op {
	case ast.CmpEq:
		return asm.Equal
	case ast.CmpNe:
		return asm.NotEqual
	case ast.CmpLt:
		return asm.Less
	case ast.CmpLe:
		return asm.LessEqual
	case ast.CmpGt:
		return asm.Greater
	default:
		return asm.GreaterEqual
	}
}

// emitArith lowers +, -, *, /, %, &, |, ^, <<, >>: spill lhs, evaluate
// rhs into REG_TMP1, reload lhs into REG_RESULT and issue the
// two-operand instruction, then copy to dest if it isn't already
// REG_RESULT. Division and shift counts go through their architecture's
// fixed operand registers (REG_RESULT/CL respectively); internal/asm
// hides that constraint behind the Div/Rem/Shl/Shr signatures.
func (g *Generator) emitArith(n *ast.Bin, dest asm.Register) {
	mode := exprMode(g.st, n.LHS)
	lhsReg, rhsReg := amd64.RegResult, amd64.RegTmp1
	if mode.IsFloat() {
		lhsReg, rhsReg = amd64.FRegResult, amd64.FRegTmp1
	}

	g.emitExpr(n.LHS, lhsReg)
	off := g.reserveTempForNode(n.LHS)
	g.asm.Store(mode, lhsReg, off)

	g.emitExpr(n.RHS, rhsReg)
	g.asm.Load(mode, off, lhsReg)
	g.freeTempForNode(n.LHS)

	switch n.Op {
	case ast.BinAdd:
		g.asm.Add(mode, rhsReg, lhsReg)
	case ast.BinSub:
		g.asm.Sub(mode, rhsReg, lhsReg)
	case ast.BinMul:
		g.asm.Mul(mode, rhsReg, lhsReg)
	case ast.BinDiv:
		g.asm.Div(mode, rhsReg, lhsReg, true)
	case ast.BinMod:
		g.asm.Rem(mode, rhsReg, lhsReg, true)
	case ast.BinOr:
		g.asm.Or(mode, rhsReg, lhsReg)
	case ast.BinAnd:
		g.asm.And(mode, rhsReg, lhsReg)
	case ast.BinXor:
		g.asm.Xor(mode, rhsReg, lhsReg)
	case ast.BinShl:
		g.asm.Shl(mode, rhsReg, lhsReg)
	case ast.BinShr:
		g.asm.Shr(mode, rhsReg, lhsReg, true)
	default:
		panic("codegen: unhandled arithmetic operator")
	}

	if lhsReg != dest {
		g.asm.CopyReg(mode, lhsReg, dest)
	}
}

// exprMode resolves the machine mode of an expression for arithmetic
// purposes: it adds float literals to what exprIntMode resolves.
func exprMode(st *ast.SideTables, e ast.Expr) asm.MachineMode {
	switch v := e.(type) {
	case *ast.LitFloat:
		return v.Width.FloatMode()
	default:
		return exprIntMode(st, e)
	}
}
