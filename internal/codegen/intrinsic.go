package codegen

import (
	"fmt"

	"github.com/dora-lang/corejit/internal/asm"
	"github.com/dora-lang/corejit/internal/asm/amd64"
	"github.com/dora-lang/corejit/internal/ast"
)

// intrinsicOperands collects a Call node's operands in source order: the
// receiver first when present (method-style intrinsics such as
// `arr.len()`), then the explicit arguments (free-function-style
// intrinsics such as `Int::add(a, b)` have no receiver and reach here
// entirely through Args). Both call shapes are uniform once resolved to
// a CallSite.
func intrinsicOperands(n *ast.Call) []ast.Expr {
	ops := make([]ast.Expr, 0, len(n.Args)+1)
	if n.Receiver != nil {
		ops = append(ops, n.Receiver)
	}
	return append(ops, n.Args...)
}

// emitIntrinsicCall lowers a call site the front end resolved to one of
// the fixed built-ins enumerated by ast.IntrinsicKind, bypassing
// universal call lowering entirely: no argument marshalling, no
// dispatch, no GC point, since none of these intrinsics can allocate,
// block, or run user code; they lower directly to a handful of
// instructions instead of a call. ops is the operand list in source
// order (receiver first, when there is one) and node is the id
// recorded side tables (line numbers, bailouts) key off; bin.go/expr.go
// build ops straight from a Bin/Un node's own LHS/RHS/Expr when an
// operator resolves to an intrinsic, rather than going through a Call
// node and intrinsicOperands.
func (g *Generator) emitIntrinsicCall(ops []ast.Expr, site *ast.CallSite, node ast.NodeId, dest asm.Register) {
	switch site.Intrinsic {
	case ast.IntrinsicAssert:
		g.emitIntrinsicAssert(ops[0], node)
		return

	case ast.IntrinsicShl:
		g.emitIntrinsicBinOp(asm.Int32, ops[0], ops[1], dest, func(src, dst asm.Register) { g.asm.Shl(asm.Int32, src, dst) })
		return

	case ast.IntrinsicSetUint8:
		g.emitIntrinsicSetUint8(ops, node)
		return

	case ast.IntrinsicIntArrayLen, ast.IntrinsicByteArrayLen, ast.IntrinsicLongArrayLen, ast.IntrinsicStrLen:
		g.emitIntrinsicLen(ops[0], dest, node)
		return

	case ast.IntrinsicIntArrayGet, ast.IntrinsicByteArrayGet, ast.IntrinsicLongArrayGet, ast.IntrinsicStrGet:
		g.emitIntrinsicArrayGet(ops[0], ops[1], dest, node, intrinsicElemInfo(site.Intrinsic))
		return

	case ast.IntrinsicIntArraySet, ast.IntrinsicByteArraySet, ast.IntrinsicLongArraySet:
		g.emitIntrinsicArraySet(ops[0], ops[1], ops[2], dest, node, intrinsicElemInfo(site.Intrinsic))
		return

	case ast.IntrinsicBoolToInt, ast.IntrinsicByteToInt, ast.IntrinsicBoolToLong, ast.IntrinsicByteToLong,
		ast.IntrinsicIntToLong:
		g.emitIntrinsicWiden(ops[0], dest, intrinsicConvFrom(site.Intrinsic), intrinsicConvTo(site.Intrinsic))
		return

	case ast.IntrinsicIntToByte, ast.IntrinsicLongToByte, ast.IntrinsicLongToInt:
		g.emitIntrinsicNarrow(ops[0], dest, intrinsicConvTo(site.Intrinsic))
		return

	case ast.IntrinsicBoolNot:
		// A bool is a canonical 0/1, so logical not is a compare with zero.
		g.emitExpr(ops[0], dest)
		g.asm.CmpImm(asm.Int8, dest, 0)
		g.asm.Set(asm.Equal, dest)
		return

	case ast.IntrinsicByteNot, ast.IntrinsicIntNot, ast.IntrinsicLongNot:
		g.emitExpr(ops[0], dest)
		g.asm.Not(intrinsicMode(site.Intrinsic), dest)
		if site.Intrinsic == ast.IntrinsicByteNot {
			g.asm.ZeroExtend(asm.Int8, asm.Int64, dest)
		}
		return

	case ast.IntrinsicIntNeg, ast.IntrinsicLongNeg:
		g.emitExpr(ops[0], dest)
		g.asm.Neg(intrinsicMode(site.Intrinsic), dest)
		return

	case ast.IntrinsicIntPlus, ast.IntrinsicLongPlus:
		g.emitExpr(ops[0], dest)
		return

	case ast.IntrinsicByteEq, ast.IntrinsicBoolEq, ast.IntrinsicIntEq, ast.IntrinsicLongEq:
		g.emitIntrinsicCmp(intrinsicMode(site.Intrinsic), ops[0], ops[1], asm.Equal, dest)
		return

	case ast.IntrinsicByteCmp, ast.IntrinsicIntCmp, ast.IntrinsicLongCmp:
		g.emitIntrinsicCmp3way(intrinsicMode(site.Intrinsic), ops[0], ops[1], dest)
		return

	case ast.IntrinsicIntAdd, ast.IntrinsicLongAdd:
		g.emitIntrinsicBinOp(intrinsicMode(site.Intrinsic), ops[0], ops[1], dest, func(src, dst asm.Register) {
			g.asm.Add(intrinsicMode(site.Intrinsic), src, dst)
		})
		return
	case ast.IntrinsicIntSub, ast.IntrinsicLongSub:
		g.emitIntrinsicBinOp(intrinsicMode(site.Intrinsic), ops[0], ops[1], dest, func(src, dst asm.Register) {
			g.asm.Sub(intrinsicMode(site.Intrinsic), src, dst)
		})
		return
	case ast.IntrinsicIntMul, ast.IntrinsicLongMul:
		g.emitIntrinsicBinOp(intrinsicMode(site.Intrinsic), ops[0], ops[1], dest, func(src, dst asm.Register) {
			g.asm.Mul(intrinsicMode(site.Intrinsic), src, dst)
		})
		return
	case ast.IntrinsicIntDiv, ast.IntrinsicLongDiv:
		g.emitIntrinsicBinOp(intrinsicMode(site.Intrinsic), ops[0], ops[1], dest, func(src, dst asm.Register) {
			g.asm.Div(intrinsicMode(site.Intrinsic), src, dst, true)
		})
		return
	case ast.IntrinsicIntMod, ast.IntrinsicLongMod:
		g.emitIntrinsicBinOp(intrinsicMode(site.Intrinsic), ops[0], ops[1], dest, func(src, dst asm.Register) {
			g.asm.Rem(intrinsicMode(site.Intrinsic), src, dst, true)
		})
		return
	case ast.IntrinsicIntOr, ast.IntrinsicLongOr:
		g.emitIntrinsicBinOp(intrinsicMode(site.Intrinsic), ops[0], ops[1], dest, func(src, dst asm.Register) {
			g.asm.Or(intrinsicMode(site.Intrinsic), src, dst)
		})
		return
	case ast.IntrinsicIntAnd, ast.IntrinsicLongAnd:
		g.emitIntrinsicBinOp(intrinsicMode(site.Intrinsic), ops[0], ops[1], dest, func(src, dst asm.Register) {
			g.asm.And(intrinsicMode(site.Intrinsic), src, dst)
		})
		return
	case ast.IntrinsicIntXor, ast.IntrinsicLongXor:
		g.emitIntrinsicBinOp(intrinsicMode(site.Intrinsic), ops[0], ops[1], dest, func(src, dst asm.Register) {
			g.asm.Xor(intrinsicMode(site.Intrinsic), src, dst)
		})
		return
	case ast.IntrinsicIntShl, ast.IntrinsicLongShl:
		g.emitIntrinsicBinOp(intrinsicMode(site.Intrinsic), ops[0], ops[1], dest, func(src, dst asm.Register) {
			g.asm.Shl(intrinsicMode(site.Intrinsic), src, dst)
		})
		return
	case ast.IntrinsicIntSar, ast.IntrinsicLongSar:
		g.emitIntrinsicBinOp(intrinsicMode(site.Intrinsic), ops[0], ops[1], dest, func(src, dst asm.Register) {
			g.asm.Shr(intrinsicMode(site.Intrinsic), src, dst, true)
		})
		return
	case ast.IntrinsicIntShr, ast.IntrinsicLongShr:
		g.emitIntrinsicBinOp(intrinsicMode(site.Intrinsic), ops[0], ops[1], dest, func(src, dst asm.Register) {
			g.asm.Shr(intrinsicMode(site.Intrinsic), src, dst, false)
		})
		return

	case ast.IntrinsicFloatAdd, ast.IntrinsicDoubleAdd:
		g.emitIntrinsicFloatBinOp(intrinsicMode(site.Intrinsic), ops[0], ops[1], dest, g.asm.Add)
		return
	case ast.IntrinsicFloatSub, ast.IntrinsicDoubleSub:
		g.emitIntrinsicFloatBinOp(intrinsicMode(site.Intrinsic), ops[0], ops[1], dest, g.asm.Sub)
		return
	case ast.IntrinsicFloatMul, ast.IntrinsicDoubleMul:
		g.emitIntrinsicFloatBinOp(intrinsicMode(site.Intrinsic), ops[0], ops[1], dest, g.asm.Mul)
		return
	case ast.IntrinsicFloatDiv, ast.IntrinsicDoubleDiv:
		g.emitIntrinsicFloatBinOp(intrinsicMode(site.Intrinsic), ops[0], ops[1], dest, func(mode asm.MachineMode, src, dst asm.Register) {
			g.asm.Div(mode, src, dst, true)
		})
		return
	case ast.IntrinsicFloatEq, ast.IntrinsicDoubleEq:
		g.emitIntrinsicCmp(intrinsicMode(site.Intrinsic), ops[0], ops[1], asm.Equal, dest)
		return
	case ast.IntrinsicFloatCmp, ast.IntrinsicDoubleCmp:
		g.emitIntrinsicFloatCmp3way(intrinsicMode(site.Intrinsic), ops[0], ops[1], dest)
		return

	default:
		panic(fmt.Sprintf("codegen: unhandled intrinsic %d", site.Intrinsic))
	}
}

// emitIntrinsicAssert evaluates cond and bails out with TrapAssert
// unless it is non-zero.
func (g *Generator) emitIntrinsicAssert(cond ast.Expr, node ast.NodeId) {
	g.emitExpr(cond, amd64.RegResult)
	lbl := g.asm.CreateLabel()
	g.asm.TestAndJumpIfNotZero(amd64.RegResult, lbl)
	g.asm.EmitBailoutInplace(asm.TrapAssert, g.st.Line[node])
	g.asm.BindLabel(lbl)
}

// emitIntrinsicLen loads an array/string object's length word, the same
// layout array.go's bounds check reads.
func (g *Generator) emitIntrinsicLen(recv ast.Expr, dest asm.Register, node ast.NodeId) {
	g.emitExpr(recv, amd64.RegResult)
	g.emitNilCheck(amd64.RegResult, node)
	g.asm.Load(asm.Int32, asm.Base(amd64.RegResult, headerSize), dest)
}

// intrinsicArrayElem is the element shape an array/string get-or-set
// intrinsic operates on; this core never needs the IsRef/IntMode fields
// array.go's ast.ArrayInfo carries for a real Array node since none of
// these element kinds is a GC reference.
type intrinsicArrayElem struct {
	size int32
	mode asm.MachineMode
}

func intrinsicElemInfo(k ast.IntrinsicKind) intrinsicArrayElem {
	switch k {
	case ast.IntrinsicByteArrayGet, ast.IntrinsicByteArraySet:
		return intrinsicArrayElem{size: 1, mode: asm.Int8}
	case ast.IntrinsicLongArrayGet, ast.IntrinsicLongArraySet:
		return intrinsicArrayElem{size: 8, mode: asm.Int64}
	case ast.IntrinsicStrGet:
		return intrinsicArrayElem{size: 1, mode: asm.Int8}
	default: // IntArrayGet/Set
		return intrinsicArrayElem{size: 4, mode: asm.Int32}
	}
}

// emitIntrinsicArrayGet mirrors array.go's emitArrayGet exactly, against
// explicit receiver/index expressions instead of an ast.Array node.
func (g *Generator) emitIntrinsicArrayGet(recv, idx ast.Expr, dest asm.Register, node ast.NodeId, elem intrinsicArrayElem) {
	g.emitExpr(recv, amd64.RegResult)
	off := g.reserveTempForNode(recv)
	g.asm.Store(asm.Ptr, amd64.RegResult, off)

	g.emitExpr(idx, amd64.RegTmp1)
	g.asm.Load(asm.Ptr, off, amd64.RegResult)
	g.freeTempForNode(recv)

	g.emitNilCheck(amd64.RegResult, node)
	if !g.cfg.OmitBoundsCheck {
		g.emitBoundsCheck(amd64.RegResult, amd64.RegTmp1, node)
	}

	g.asm.Load(elem.mode, asm.Index(amd64.RegResult, amd64.RegTmp1, int8(elem.size), elemBaseOffset), amd64.RegResult)
	if amd64.RegResult != dest {
		g.asm.CopyReg(elem.mode, amd64.RegResult, dest)
	}
}

// emitIntrinsicArraySet mirrors array.go's emitArraySet, three-temp
// pattern included.
func (g *Generator) emitIntrinsicArraySet(recv, idx, val ast.Expr, dest asm.Register, node ast.NodeId, elem intrinsicArrayElem) {
	g.emitExpr(recv, amd64.RegResult)
	offObj := g.reserveTempForNode(recv)
	g.asm.Store(asm.Ptr, amd64.RegResult, offObj)

	g.emitExpr(idx, amd64.RegResult)
	offIdx := g.reserveTempForNode(idx)
	g.asm.Store(asm.Int32, amd64.RegResult, offIdx)

	g.emitExpr(val, amd64.RegResult)
	offVal := g.reserveTempForNode(val)
	g.asm.Store(elem.mode, amd64.RegResult, offVal)

	g.asm.Load(asm.Ptr, offObj, amd64.RegTmp1)
	g.asm.Load(asm.Int32, offIdx, amd64.RegTmp2)

	g.emitNilCheck(amd64.RegTmp1, node)
	if !g.cfg.OmitBoundsCheck {
		g.emitBoundsCheck(amd64.RegTmp1, amd64.RegTmp2, node)
	}

	g.asm.Load(elem.mode, offVal, amd64.RegResult)
	g.asm.Store(elem.mode, amd64.RegResult, asm.Index(amd64.RegTmp1, amd64.RegTmp2, int8(elem.size), elemBaseOffset))

	g.freeTempForNode(recv)
	g.freeTempForNode(idx)
	g.freeTempForNode(val)

	if amd64.RegResult != dest {
		g.asm.CopyReg(elem.mode, amd64.RegResult, dest)
	}
}

// emitIntrinsicSetUint8 lowers the one raw-memory intrinsic in the set:
// an unchecked byte poke at ptr+offset, used by the runtime's own
// Byte-array builtins to bypass the bounds-checked path. No nil check:
// the caller already holds a validated pointer.
func (g *Generator) emitIntrinsicSetUint8(ops []ast.Expr, node ast.NodeId) {
	g.emitExpr(ops[0], amd64.RegResult)
	offPtr := g.reserveTempForNode(ops[0])
	g.asm.Store(asm.Ptr, amd64.RegResult, offPtr)

	g.emitExpr(ops[1], amd64.RegResult)
	offIdx := g.reserveTempForNode(ops[1])
	g.asm.Store(asm.Int64, amd64.RegResult, offIdx)

	g.emitExpr(ops[2], amd64.RegResult)

	g.asm.Load(asm.Ptr, offPtr, amd64.RegTmp1)
	g.asm.Load(asm.Int64, offIdx, amd64.RegTmp2)
	g.freeTempForNode(ops[0])
	g.freeTempForNode(ops[1])

	g.asm.Store(asm.Int8, amd64.RegResult, asm.Index(amd64.RegTmp1, amd64.RegTmp2, 1, 0))
}

// intrinsicMode resolves the machine mode a numeric intrinsic's operands
// and result share. Eq/Cmp intrinsics produce an Int8 boolean/tri-state
// result themselves but still compare at their operand width.
func intrinsicMode(k ast.IntrinsicKind) asm.MachineMode {
	switch k {
	case ast.IntrinsicByteNot, ast.IntrinsicByteEq, ast.IntrinsicByteCmp:
		return asm.Int8
	case ast.IntrinsicBoolNot, ast.IntrinsicBoolEq:
		return asm.Int8
	case ast.IntrinsicLongNot, ast.IntrinsicLongNeg, ast.IntrinsicLongPlus, ast.IntrinsicLongEq, ast.IntrinsicLongCmp,
		ast.IntrinsicLongAdd, ast.IntrinsicLongSub, ast.IntrinsicLongMul, ast.IntrinsicLongDiv, ast.IntrinsicLongMod,
		ast.IntrinsicLongOr, ast.IntrinsicLongAnd, ast.IntrinsicLongXor, ast.IntrinsicLongShl, ast.IntrinsicLongSar, ast.IntrinsicLongShr:
		return asm.Int64
	case ast.IntrinsicFloatAdd, ast.IntrinsicFloatSub, ast.IntrinsicFloatMul, ast.IntrinsicFloatDiv,
		ast.IntrinsicFloatEq, ast.IntrinsicFloatCmp:
		return asm.Float32
	case ast.IntrinsicDoubleAdd, ast.IntrinsicDoubleSub, ast.IntrinsicDoubleMul, ast.IntrinsicDoubleDiv,
		ast.IntrinsicDoubleEq, ast.IntrinsicDoubleCmp:
		return asm.Float64
	default:
		return asm.Int32 // Int*, IntNeg/IntPlus/IntEq/IntCmp and their arithmetic siblings.
	}
}

func intrinsicConvFrom(k ast.IntrinsicKind) asm.MachineMode {
	switch k {
	case ast.IntrinsicByteToInt, ast.IntrinsicByteToLong:
		return asm.Int8
	case ast.IntrinsicIntToLong:
		return asm.Int32
	default: // BoolToInt, BoolToLong
		return asm.Int8
	}
}

func intrinsicConvTo(k ast.IntrinsicKind) asm.MachineMode {
	switch k {
	case ast.IntrinsicBoolToInt, ast.IntrinsicByteToInt, ast.IntrinsicLongToInt:
		return asm.Int32
	case ast.IntrinsicBoolToLong, ast.IntrinsicByteToLong, ast.IntrinsicIntToLong:
		return asm.Int64
	default: // IntToByte, LongToByte
		return asm.Int8
	}
}

// emitIntrinsicWiden lowers a widening numeric conversion: zero-extend
// for Bool/Byte sources (both unsigned by construction), sign-extend
// for Int->Long.
func (g *Generator) emitIntrinsicWiden(operand ast.Expr, dest asm.Register, from, to asm.MachineMode) {
	g.emitExpr(operand, dest)
	if from == asm.Int32 {
		g.asm.SignExtend(from, to, dest)
	} else {
		g.asm.ZeroExtend(from, to, dest)
	}
}

// emitIntrinsicNarrow truncates to the narrower mode `to`. Narrowing to
// Int32 needs no instruction: Int32 arithmetic, compares and stores read
// only the low 32 bits. Narrowing to a byte zero-extends the low 8 bits,
// so the register holds a canonical 0..255 value.
func (g *Generator) emitIntrinsicNarrow(operand ast.Expr, dest asm.Register, to asm.MachineMode) {
	g.emitExpr(operand, dest)
	if to == asm.Int8 {
		g.asm.ZeroExtend(asm.Int8, asm.Int64, dest)
	}
}

// emitIntrinsicBinOp is the integer-arithmetic analogue of bin.go's
// emitArith, generalised to operands that aren't necessarily an ast.Bin
// node's LHS/RHS.
func (g *Generator) emitIntrinsicBinOp(mode asm.MachineMode, lhs, rhs ast.Expr, dest asm.Register, apply func(src, dst asm.Register)) {
	g.emitExpr(lhs, amd64.RegResult)
	off := g.reserveTempForNode(lhs)
	g.asm.Store(mode, amd64.RegResult, off)

	g.emitExpr(rhs, amd64.RegTmp1)
	g.asm.Load(mode, off, amd64.RegResult)
	g.freeTempForNode(lhs)

	apply(amd64.RegTmp1, amd64.RegResult)

	if amd64.RegResult != dest {
		g.asm.CopyReg(mode, amd64.RegResult, dest)
	}
}

// emitIntrinsicFloatBinOp is emitIntrinsicBinOp's floating-point sibling:
// same spill/reload shape, through FREG_RESULT/FREG_TMP1 instead of the
// general-purpose pair.
func (g *Generator) emitIntrinsicFloatBinOp(mode asm.MachineMode, lhs, rhs ast.Expr, dest asm.Register, apply func(mode asm.MachineMode, src, dst asm.Register)) {
	g.emitExpr(lhs, amd64.FRegResult)
	off := g.reserveTempForNode(lhs)
	g.asm.Store(mode, amd64.FRegResult, off)

	g.emitExpr(rhs, amd64.FRegTmp1)
	g.asm.Load(mode, off, amd64.FRegResult)
	g.freeTempForNode(lhs)

	apply(mode, amd64.FRegTmp1, amd64.FRegResult)

	if amd64.FRegResult != dest {
		g.asm.CopyReg(mode, amd64.FRegResult, dest)
	}
}

// emitIntrinsicCmp lowers a two-operand equality intrinsic the same way
// bin.go's emitCmp lowers BinCmp, but fixed to a single Cond rather than
// one resolved from ast.CmpOp.
func (g *Generator) emitIntrinsicCmp(mode asm.MachineMode, lhs, rhs ast.Expr, cond asm.Cond, dest asm.Register) {
	lhsReg, tmpReg := amd64.RegResult, amd64.RegTmp1
	if mode.IsFloat() {
		lhsReg, tmpReg = amd64.FRegResult, amd64.FRegTmp1
	}

	g.emitExpr(lhs, lhsReg)
	off := g.reserveTempForNode(lhs)
	g.asm.Store(mode, lhsReg, off)

	g.emitExpr(rhs, tmpReg)
	g.asm.Load(mode, off, lhsReg)
	g.freeTempForNode(lhs)

	g.asm.Cmp(mode, lhsReg, tmpReg)
	g.asm.Set(cond, dest)
}

// emitIntrinsicCmp3way produces a three-way comparator result in
// {-1, 0, 1} via (lhs>rhs) - (lhs<rhs), since Cmp intrinsics are
// distinguished from Eq precisely by returning an ordering rather than
// a boolean.
func (g *Generator) emitIntrinsicCmp3way(mode asm.MachineMode, lhs, rhs ast.Expr, dest asm.Register) {
	g.emitExpr(lhs, amd64.RegResult)
	off := g.reserveTempForNode(lhs)
	g.asm.Store(mode, amd64.RegResult, off)

	g.emitExpr(rhs, amd64.RegTmp1)
	g.asm.Load(mode, off, amd64.RegResult)
	g.freeTempForNode(lhs)

	g.asm.Cmp(mode, amd64.RegResult, amd64.RegTmp1)
	g.asm.Set(asm.Greater, dest)
	g.asm.Set(asm.Less, amd64.RegTmp2)
	g.asm.Sub(asm.Int8, amd64.RegTmp2, dest)
}

// emitIntrinsicFloatCmp3way mirrors emitIntrinsicCmp3way for
// Float/Double, using the unsigned Below/Above conditions UCOMISS/
// UCOMISD's flags actually produce rather than the signed Less/Greater
// pair integer compares use.
func (g *Generator) emitIntrinsicFloatCmp3way(mode asm.MachineMode, lhs, rhs ast.Expr, dest asm.Register) {
	g.emitExpr(lhs, amd64.FRegResult)
	off := g.reserveTempForNode(lhs)
	g.asm.Store(mode, amd64.FRegResult, off)

	g.emitExpr(rhs, amd64.FRegTmp1)
	g.asm.Load(mode, off, amd64.FRegResult)
	g.freeTempForNode(lhs)

	g.asm.Cmp(mode, amd64.FRegResult, amd64.FRegTmp1)
	g.asm.Set(asm.Above, dest)
	g.asm.Set(asm.Below, amd64.RegTmp2)
	g.asm.Sub(asm.Int8, amd64.RegTmp2, dest)
}
