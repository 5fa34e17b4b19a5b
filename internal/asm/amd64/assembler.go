package amd64

import (
	"fmt"

	goasm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/dora-lang/corejit/internal/asm"
)

var registerToGoAsm = map[asm.Register]int16{
	RegResult: x86.REG_AX,
	RegTmp1:   x86.REG_R10,
	RegTmp2:   x86.REG_R11,
	RegParam0: x86.REG_DI,
	RegParam1: x86.REG_SI,
	RegParam2: x86.REG_DX,
	RegParam3: x86.REG_CX,
	RegParam4: x86.REG_R8,
	RegParam5: x86.REG_R9,
	RegSelf:   x86.REG_DI,

	RegFramePointer: x86.REG_BP,
	RegStackPointer: x86.REG_SP,

	FRegResult: x86.REG_X0,
	FRegTmp1:   x86.REG_X1,
}

var condToGoAsm = map[asm.Cond][2]instruction{
	// [0] is the SETcc instruction id, [1] the Jcc instruction id.
	asm.Equal:        {iSETEQ, iJEQ},
	asm.NotEqual:     {iSETNE, iJNE},
	asm.Less:         {iSETLT, iJLT},
	asm.LessEqual:    {iSETLE, iJLE},
	asm.Greater:      {iSETGT, iJGT},
	asm.GreaterEqual: {iSETGE, iJGE},
	asm.Below:        {iSETCS, iJCS},
	asm.BelowEqual:   {iSETLS, iJLS},
	asm.Above:        {iSETHI, iJHI},
	asm.AboveEqual:   {iSETCC, iJCC},
}

var instructionToGoAsm = map[instruction]obj.As{
	iMOVB: x86.AMOVB, iMOVL: x86.AMOVL, iMOVQ: x86.AMOVQ,
	iMOVSS: x86.AMOVSS, iMOVSD: x86.AMOVSD, iLEAQ: x86.ALEAQ,
	iADDL: x86.AADDL, iADDQ: x86.AADDQ, iADDSS: x86.AADDSS, iADDSD: x86.AADDSD,
	iSUBL: x86.ASUBL, iSUBQ: x86.ASUBQ, iSUBSS: x86.ASUBSS, iSUBSD: x86.ASUBSD,
	iIMULL: x86.AIMULL, iIMULQ: x86.AIMULQ, iMULSS: x86.AMULSS, iMULSD: x86.AMULSD,
	iIDIVL: x86.AIDIVL, iIDIVQ: x86.AIDIVQ, iDIVL: x86.ADIVL, iDIVQ: x86.ADIVQ,
	iDIVSS: x86.ADIVSS, iDIVSD: x86.ADIVSD,
	iCDQ: x86.ACDQ, iCQO: x86.ACQO,
	iANDL: x86.AANDL, iANDQ: x86.AANDQ, iORL: x86.AORL, iORQ: x86.AORQ,
	iXORL: x86.AXORL, iXORQ: x86.AXORQ,
	iSHLL: x86.ASHLL, iSHLQ: x86.ASHLQ, iSARL: x86.ASARL, iSARQ: x86.ASARQ,
	iSHRL: x86.ASHRL, iSHRQ: x86.ASHRQ,
	iNEGL: x86.ANEGL, iNEGQ: x86.ANEGQ, iNOTL: x86.ANOTL, iNOTQ: x86.ANOTQ,
	iCMPL: x86.ACMPL, iCMPQ: x86.ACMPQ, iUCOMISS: x86.AUCOMISS, iUCOMISD: x86.AUCOMISD,
	iMOVBLSX: x86.AMOVBLSX, iMOVBLZX: x86.AMOVBLZX,
	iMOVBQSX: x86.AMOVBQSX, iMOVBQZX: x86.AMOVBQZX,
	iMOVLQSX: x86.AMOVLQSX, iMOVLQZX: x86.AMOVLQZX,
	iCVTSL2SS: x86.ACVTSL2SS, iCVTSL2SD: x86.ACVTSL2SD,
	iCVTSQ2SS: x86.ACVTSQ2SS, iCVTSQ2SD: x86.ACVTSQ2SD,
	iCVTTSS2SL: x86.ACVTTSS2SL, iCVTTSS2SQ: x86.ACVTTSS2SQ,
	iCVTTSD2SL: x86.ACVTTSD2SL, iCVTTSD2SQ: x86.ACVTTSD2SQ,
	iCVTSS2SD: x86.ACVTSS2SD, iCVTSD2SS: x86.ACVTSD2SS,
	iSETEQ: x86.ASETEQ, iSETNE: x86.ASETNE, iSETLT: x86.ASETLT, iSETGE: x86.ASETGE,
	iSETGT: x86.ASETGT, iSETLE: x86.ASETLE, iSETCS: x86.ASETCS, iSETCC: x86.ASETCC,
	iSETHI: x86.ASETHI, iSETLS: x86.ASETLS,
	iJMP: obj.AJMP, iJEQ: x86.AJEQ, iJNE: x86.AJNE, iJLT: x86.AJLT, iJGE: x86.AJGE,
	iJGT: x86.AJGT, iJLE: x86.AJLE, iJCS: x86.AJCS, iJCC: x86.AJCC, iJHI: x86.AJHI, iJLS: x86.AJLS,
	iCALL: obj.ACALL, iRET: obj.ARET, iNOP: obj.ANOP, iPUSHQ: x86.APUSHQ, iPOPQ: x86.APOPQ,
}

// assemblerImpl implements asm.Assembler on top of golang-asm's per-function
// instruction builder.
//
// golang-asm only assigns an obj.Prog its byte offset (Prog.Pc) during
// Builder.Assemble, so nothing here ever records a raw PC at emission
// time: labels, handler-table boundaries, GC points, line numbers and
// comments are all anchored on a Prog and resolved in Assemble, once
// Prog.Pc is meaningful.
type assemblerImpl struct {
	b *goasm.Builder

	constPool []uintptr

	labels       []*obj.Prog // labels[i] is nil until bound.
	pendingJumps map[int][]*obj.Prog

	pendingHandlers []pendingExceptionHandler
	gcPointAnchors  []gcPointAnchor
	lineAnchors     []lineAnchor
	commentAnchors  []commentAnchor

	// frameAdjusts collects the prologue SUBQ and every epilogue ADDQ
	// emitted with a placeholder frame size, patched by SetFrameSize.
	frameAdjusts []*obj.Prog
	frameSize    int32
	frameSizeSet bool
}

// pendingExceptionHandler records a handler-table entry by label rather
// than by PC: tryStart/tryEnd/catchPC/finallyPC are only resolved to real
// byte offsets in Assemble, after golang-asm has fixed every bound
// label's node in place (see Assemble and BindLabel).
type pendingExceptionHandler struct {
	tryStart, tryEnd, catchPC, finallyPC *asm.Label
	t                                    asm.CatchType
}

type gcPointAnchor struct {
	prog *obj.Prog
	refs []int32
}

type lineAnchor struct {
	prog *obj.Prog
	line uint32
}

type commentAnchor struct {
	prog *obj.Prog
	text string
}

// NewAssembler constructs a fresh per-function x86-64 assembler.
func NewAssembler() (asm.Assembler, error) {
	b, err := goasm.NewBuilder("amd64", 1024)
	if err != nil {
		return nil, fmt.Errorf("amd64: failed to create assembly builder: %w", err)
	}
	return &assemblerImpl{b: b, pendingJumps: map[int][]*obj.Prog{}}, nil
}

func (a *assemblerImpl) newProg(inst instruction) *obj.Prog {
	p := a.b.NewProg()
	p.As = instructionToGoAsm[inst]
	a.b.AddInstruction(p)
	return p
}

// anchor emits a zero-byte ANOP pseudo-instruction whose Pc, once
// Assemble has run, is the byte offset of whatever real instruction
// follows it (or the function end). BindLabel and the metadata tables
// all hang off these.
func (a *assemblerImpl) anchor() *obj.Prog {
	return a.newProg(iNOP)
}

func memToAddr(m asm.Mem) obj.Addr {
	switch m.Kind {
	case asm.MemLocal:
		return obj.Addr{Type: obj.TYPE_MEM, Reg: x86.REG_BP, Offset: int64(m.Disp)}
	case asm.MemBase:
		return obj.Addr{Type: obj.TYPE_MEM, Reg: registerToGoAsm[m.Base], Offset: int64(m.Disp)}
	case asm.MemIndex:
		return obj.Addr{
			Type: obj.TYPE_MEM, Reg: registerToGoAsm[m.Base],
			Index: registerToGoAsm[m.Index], Scale: int16(m.Scale), Offset: int64(m.Disp),
		}
	default:
		panic(fmt.Sprintf("amd64: unknown mem kind %d", m.Kind))
	}
}

func regAddr(r asm.Register) obj.Addr {
	return obj.Addr{Type: obj.TYPE_REG, Reg: registerToGoAsm[r]}
}

func constAddr(v int64) obj.Addr {
	return obj.Addr{Type: obj.TYPE_CONST, Offset: v}
}

func widthInst(mode asm.MachineMode, l, q instruction) instruction {
	if mode == asm.Int64 || mode == asm.Ptr {
		return q
	}
	return l
}

func floatInst(mode asm.MachineMode, ss, sd instruction) instruction {
	if mode == asm.Float64 {
		return sd
	}
	return ss
}

// moveInst picks the right MOV* mnemonic for a register-to-register,
// memory-to-register, or register-to-memory transfer of a value in mode.
func moveInst(mode asm.MachineMode) instruction {
	switch mode {
	case asm.Int8:
		return iMOVB
	case asm.Float32:
		return iMOVSS
	case asm.Float64:
		return iMOVSD
	default:
		return widthInst(mode, iMOVL, iMOVQ)
	}
}

// -- arithmetic --

func (a *assemblerImpl) binOp(l, q, ss, sd instruction, mode asm.MachineMode, src, dst asm.Register) {
	var inst instruction
	switch mode {
	case asm.Float32:
		inst = ss
	case asm.Float64:
		inst = sd
	default:
		inst = widthInst(mode, l, q)
	}
	p := a.newProg(inst)
	p.From = regAddr(src)
	p.To = regAddr(dst)
}

func (a *assemblerImpl) Add(mode asm.MachineMode, src, dst asm.Register) {
	a.binOp(iADDL, iADDQ, iADDSS, iADDSD, mode, src, dst)
}

func (a *assemblerImpl) Sub(mode asm.MachineMode, src, dst asm.Register) {
	a.binOp(iSUBL, iSUBQ, iSUBSS, iSUBSD, mode, src, dst)
}

func (a *assemblerImpl) Mul(mode asm.MachineMode, src, dst asm.Register) {
	a.binOp(iIMULL, iIMULQ, iMULSS, iMULSD, mode, src, dst)
}

// Div implements asm.Assembler.Div. Integer hardware constraint: the
// dividend must be in RegResult (AX) and the quotient is produced there
// too; DX, which the fixed register convention knows as RegParam2, is
// clobbered as the sign-extension register. Division only ever happens
// before argument marshalling touches the parameter bank, so the DX
// clobber is invisible to call lowering. Float division has no fixed
// registers: divisor into dst, in place.
func (a *assemblerImpl) Div(mode asm.MachineMode, divisor, dst asm.Register, signed bool) {
	if mode.IsFloat() {
		p := a.newProg(floatInst(mode, iDIVSS, iDIVSD))
		p.From = regAddr(divisor)
		p.To = regAddr(dst)
		return
	}
	a.signExtendForDivide(mode, signed)
	inst := widthInst(mode, iIDIVL, iIDIVQ)
	if !signed {
		inst = widthInst(mode, iDIVL, iDIVQ)
	}
	p := a.newProg(inst)
	p.From = regAddr(divisor)
	if dst != RegResult {
		a.CopyReg(mode, RegResult, dst)
	}
}

// Rem is Div's integer-only counterpart: the remainder lands in DX
// (RegParam2) and is copied out to dst.
func (a *assemblerImpl) Rem(mode asm.MachineMode, divisor, dst asm.Register, signed bool) {
	if mode.IsFloat() {
		panic("amd64: float remainder must be lowered as a call, not Rem")
	}
	a.signExtendForDivide(mode, signed)
	inst := widthInst(mode, iIDIVL, iIDIVQ)
	if !signed {
		inst = widthInst(mode, iDIVL, iDIVQ)
	}
	p := a.newProg(inst)
	p.From = regAddr(divisor)
	if dst != RegParam2 {
		a.CopyReg(mode, RegParam2, dst)
	}
}

func (a *assemblerImpl) signExtendForDivide(mode asm.MachineMode, signed bool) {
	if signed {
		a.newProg(widthInst(mode, iCDQ, iCQO))
	} else {
		// Zero the high half (DX) for unsigned division.
		p := a.newProg(widthInst(mode, iXORL, iXORQ))
		p.From = regAddr(RegParam2)
		p.To = regAddr(RegParam2)
	}
}

func (a *assemblerImpl) And(mode asm.MachineMode, src, dst asm.Register) {
	p := a.newProg(widthInst(mode, iANDL, iANDQ))
	p.From, p.To = regAddr(src), regAddr(dst)
}

func (a *assemblerImpl) Or(mode asm.MachineMode, src, dst asm.Register) {
	p := a.newProg(widthInst(mode, iORL, iORQ))
	p.From, p.To = regAddr(src), regAddr(dst)
}

func (a *assemblerImpl) Xor(mode asm.MachineMode, src, dst asm.Register) {
	p := a.newProg(widthInst(mode, iXORL, iXORQ))
	p.From, p.To = regAddr(src), regAddr(dst)
}

// Shl/Shr: x86-64 only shifts by CL, so the count is moved into CX
// (RegParam3 in the fixed bank) first. Shifts, like division, only run
// before call marshalling repopulates the parameter registers.
func (a *assemblerImpl) Shl(mode asm.MachineMode, count, dst asm.Register) {
	a.shiftCountToCX(count, dst)
	p := a.newProg(widthInst(mode, iSHLL, iSHLQ))
	p.From, p.To = regAddr(RegParam3), regAddr(dst)
}

func (a *assemblerImpl) Shr(mode asm.MachineMode, count, dst asm.Register, signed bool) {
	a.shiftCountToCX(count, dst)
	var inst instruction
	if signed {
		inst = widthInst(mode, iSARL, iSARQ)
	} else {
		inst = widthInst(mode, iSHRL, iSHRQ)
	}
	p := a.newProg(inst)
	p.From, p.To = regAddr(RegParam3), regAddr(dst)
}

func (a *assemblerImpl) shiftCountToCX(count, dst asm.Register) {
	if dst == RegParam3 {
		panic("amd64: shift destination aliases CX, which holds the count")
	}
	if count != RegParam3 {
		a.CopyReg(asm.Int64, count, RegParam3)
	}
}

func (a *assemblerImpl) Neg(mode asm.MachineMode, reg asm.Register) {
	p := a.newProg(widthInst(mode, iNEGL, iNEGQ))
	p.To = regAddr(reg)
}

func (a *assemblerImpl) Not(mode asm.MachineMode, reg asm.Register) {
	p := a.newProg(widthInst(mode, iNOTL, iNOTQ))
	p.To = regAddr(reg)
}

// -- data movement --

func (a *assemblerImpl) LoadImmediate(mode asm.MachineMode, value int64, dst asm.Register) {
	p := a.newProg(widthInst(mode, iMOVL, iMOVQ))
	p.From = constAddr(value)
	p.To = regAddr(dst)
}

// LoadFloatImmediateFromPool materialises a float bit-pattern by loading
// it as an integer immediate into RegTmp1 and reinterpreting the bits
// with a MOVQ into the target xmm register, avoiding a real PC-relative
// data section.
func (a *assemblerImpl) LoadFloatImmediateFromPool(mode asm.MachineMode, bits uint64, dst asm.Register) {
	p := a.newProg(iMOVQ)
	p.From = constAddr(int64(bits))
	p.To = regAddr(RegTmp1)
	// MOVQ between a general-purpose and an xmm register reinterprets the
	// bits rather than converting a number, which is exactly what's
	// needed to land a raw float/double bit pattern into dst.
	mv := a.newProg(iMOVQ)
	mv.From = regAddr(RegTmp1)
	mv.To = regAddr(dst)
}

// CopyReg and Load widen Int8 transfers with a zero-extending move: a
// plain MOVB writes only the low byte of the destination, and the stale
// upper bits would poison the full-width zero tests bools flow into.
// Byte values (bool, the unsigned byte type) are always canonical 0..255
// in a full register.
func (a *assemblerImpl) CopyReg(mode asm.MachineMode, src, dst asm.Register) {
	if src == dst {
		return
	}
	inst := moveInst(mode)
	if mode == asm.Int8 {
		inst = iMOVBQZX
	}
	p := a.newProg(inst)
	p.From, p.To = regAddr(src), regAddr(dst)
}

func (a *assemblerImpl) Load(mode asm.MachineMode, src asm.Mem, dst asm.Register) {
	inst := moveInst(mode)
	if mode == asm.Int8 {
		inst = iMOVBQZX
	}
	p := a.newProg(inst)
	p.From = memToAddr(src)
	p.To = regAddr(dst)
}

func (a *assemblerImpl) Store(mode asm.MachineMode, src asm.Register, dst asm.Mem) {
	p := a.newProg(moveInst(mode))
	p.From = regAddr(src)
	p.To = memToAddr(dst)
}

func (a *assemblerImpl) SignExtend(from, to asm.MachineMode, reg asm.Register) {
	var inst instruction
	switch {
	case from == asm.Int8 && to == asm.Int32:
		inst = iMOVBLSX
	case from == asm.Int8 && (to == asm.Int64 || to == asm.Ptr):
		inst = iMOVBQSX
	case from == asm.Int32 && (to == asm.Int64 || to == asm.Ptr):
		inst = iMOVLQSX
	default:
		panic(fmt.Sprintf("amd64: unsupported sign extend %s -> %s", from, to))
	}
	p := a.newProg(inst)
	p.From, p.To = regAddr(reg), regAddr(reg)
}

func (a *assemblerImpl) ZeroExtend(from, to asm.MachineMode, reg asm.Register) {
	var inst instruction
	switch {
	case from == asm.Int8 && to == asm.Int32:
		inst = iMOVBLZX
	case from == asm.Int8 && (to == asm.Int64 || to == asm.Ptr):
		inst = iMOVBQZX
	case from == asm.Int32 && (to == asm.Int64 || to == asm.Ptr):
		inst = iMOVLQZX
	default:
		panic(fmt.Sprintf("amd64: unsupported zero extend %s -> %s", from, to))
	}
	p := a.newProg(inst)
	p.From, p.To = regAddr(reg), regAddr(reg)
}

// -- compares / conditionals --

func (a *assemblerImpl) Cmp(mode asm.MachineMode, lhs, rhs asm.Register) {
	var inst instruction
	if mode.IsFloat() {
		inst = floatInst(mode, iUCOMISS, iUCOMISD)
	} else {
		inst = widthInst(mode, iCMPL, iCMPQ)
	}
	p := a.newProg(inst)
	p.From, p.To = regAddr(rhs), regAddr(lhs)
}

func (a *assemblerImpl) CmpImm(mode asm.MachineMode, lhs asm.Register, rhsImm int64) {
	p := a.newProg(widthInst(mode, iCMPL, iCMPQ))
	p.From = constAddr(rhsImm)
	p.To = regAddr(lhs)
}

// Set writes the condition as a canonical 0/1 into the full dst register:
// SETcc only touches the low byte, so the zero-extension keeps later
// full-width zero tests honest.
func (a *assemblerImpl) Set(cond asm.Cond, dst asm.Register) {
	p := a.newProg(condToGoAsm[cond][0])
	p.To = regAddr(dst)
	z := a.newProg(iMOVBQZX)
	z.From, z.To = regAddr(dst), regAddr(dst)
}

func (a *assemblerImpl) label(l *asm.Label) int { return l.ID() }

func (a *assemblerImpl) jumpTo(inst instruction, target *asm.Label) {
	id := a.label(target)
	p := a.newProg(inst)
	p.To.Type = obj.TYPE_BRANCH
	if id < len(a.labels) && a.labels[id] != nil {
		p.To.SetTarget(a.labels[id])
		return
	}
	a.pendingJumps[id] = append(a.pendingJumps[id], p)
}

func (a *assemblerImpl) TestAndJumpIfZero(reg asm.Register, target *asm.Label) {
	p := a.newProg(iCMPQ)
	p.From = constAddr(0)
	p.To = regAddr(reg)
	a.jumpTo(iJEQ, target)
}

func (a *assemblerImpl) TestAndJumpIfNotZero(reg asm.Register, target *asm.Label) {
	p := a.newProg(iCMPQ)
	p.From = constAddr(0)
	p.To = regAddr(reg)
	a.jumpTo(iJNE, target)
}

func (a *assemblerImpl) JumpIf(cond asm.Cond, target *asm.Label) {
	a.jumpTo(condToGoAsm[cond][1], target)
}

func (a *assemblerImpl) Jump(target *asm.Label) {
	a.jumpTo(iJMP, target)
}

// -- labels --

func (a *assemblerImpl) CreateLabel() *asm.Label {
	id := len(a.labels)
	a.labels = append(a.labels, nil)
	return asm.NewLabel(id)
}

func (a *assemblerImpl) BindLabel(l *asm.Label) {
	id := a.label(l)
	if a.labels[id] != nil {
		panic(fmt.Sprintf("amd64: label %d bound twice", id))
	}
	// Anchor on a zero-byte NOP so jumps emitted both before and after
	// this point have a concrete target node.
	anchorProg := a.anchor()
	a.labels[id] = anchorProg
	for _, pending := range a.pendingJumps[id] {
		pending.To.SetTarget(anchorProg)
	}
	delete(a.pendingJumps, id)
}

// -- calls --

func (a *assemblerImpl) CallAddress(addr uintptr) {
	// x86-64 CALL rel32 cannot reach an arbitrary 64-bit immediate, so
	// materialise the address in RegTmp1 and call through it.
	a.LoadImmediate(asm.Ptr, int64(addr), RegTmp1)
	a.CallRegister(RegTmp1)
}

func (a *assemblerImpl) CallRegister(reg asm.Register) {
	p := a.newProg(iCALL)
	p.To = regAddr(reg)
}

// -- constant pool / metadata --

func (a *assemblerImpl) AddAddr(ptr uintptr) int32 {
	a.constPool = append(a.constPool, ptr)
	return int32(len(a.constPool) - 1)
}

// LoadConstPool materialises the pool entry at disp with an immediate
// load rather than a true PC-relative [rip+disp] load: golang-asm's Builder does not
// expose a writable data segment we can address relative to the
// generated code, and the compiled function's executable allocation is
// not position-independent in the way text/data sections of a normal
// binary are, so there's nothing gained by indirecting through a
// computed RIP offset versus embedding the already-known host address
// directly.
func (a *assemblerImpl) LoadConstPool(disp int32, dst asm.Register) {
	addr := a.constPool[disp]
	a.LoadImmediate(asm.Ptr, int64(addr), dst)
}

func (a *assemblerImpl) EmitExceptionHandler(tryStart, tryEnd, catchPC, finallyPC *asm.Label, t asm.CatchType) {
	a.pendingHandlers = append(a.pendingHandlers, pendingExceptionHandler{
		tryStart: tryStart, tryEnd: tryEnd, catchPC: catchPC, finallyPC: finallyPC, t: t,
	})
}

// labelPC resolves a bound label to its byte offset. The offset is final
// only after a.b.Assemble() has run, which fixes obj.Prog.Pc in place.
// A nil label resolves to 0; a label that was never bound is a generator
// bug and panics.
func (a *assemblerImpl) labelPC(l *asm.Label) uint32 {
	if l == nil {
		return 0
	}
	id := l.ID()
	if id < 0 || id >= len(a.labels) || a.labels[id] == nil {
		panic(fmt.Sprintf("amd64: exception handler references unbound label %d", id))
	}
	return uint32(a.labels[id].Pc)
}

func (a *assemblerImpl) EmitGcPoint(p asm.GcPoint) {
	a.gcPointAnchors = append(a.gcPointAnchors, gcPointAnchor{prog: a.anchor(), refs: p.RefSlots})
}

func (a *assemblerImpl) EmitLineno(line uint32) {
	a.lineAnchors = append(a.lineAnchors, lineAnchor{prog: a.anchor(), line: line})
}

// -- bailouts --

func (a *assemblerImpl) EmitBailoutInplace(trap asm.TrapKind, sourcePos uint32) {
	a.emitTrapCall(trap, sourcePos)
}

func (a *assemblerImpl) EmitBailout(l *asm.Label, trap asm.TrapKind, sourcePos uint32) {
	a.BindLabel(l)
	a.emitTrapCall(trap, sourcePos)
}

// emitTrapCall loads the trap kind and source position into the first two
// parameter registers and calls the runtime trap entry point, which
// never returns. The entry
// point's address is supplied by the embedder at process start-up, the
// same indirection internal/codegen uses for internStringConstant: this
// backend has no compile-time knowledge of where the runtime's trap
// handler lives.
func (a *assemblerImpl) emitTrapCall(trap asm.TrapKind, sourcePos uint32) {
	a.Comment(fmt.Sprintf("bailout: %s @ line %d", trap, sourcePos))
	a.LoadImmediate(asm.Int32, int64(trap), RegParam0)
	a.LoadImmediate(asm.Int32, int64(sourcePos), RegParam1)
	a.CallAddress(TrapHandlerAddr())
}

// TrapHandlerAddr is the embedder-supplied address of the runtime's
// `trap(kind, source_pos)` entry point. It must
// be assigned before any function containing a bailout is compiled;
// tests substitute a fake trap sink's entry trampoline.
var TrapHandlerAddr = func() uintptr {
	panic("amd64: TrapHandlerAddr must be set by the embedder before compiling a function that can bail out")
}

// -- prologue / epilogue --

func (a *assemblerImpl) EmitPrologue() {
	push := a.newProg(iPUSHQ)
	push.From = regAddr(RegFramePointer)
	mov := a.newProg(iMOVQ)
	mov.From, mov.To = regAddr(RegStackPointer), regAddr(RegFramePointer)
	sub := a.newProg(iSUBQ)
	sub.From = constAddr(0) // patched by SetFrameSize.
	sub.To = regAddr(RegStackPointer)
	a.frameAdjusts = append(a.frameAdjusts, sub)
}

func (a *assemblerImpl) EmitEpilogue() {
	add := a.newProg(iADDQ)
	add.From = constAddr(0) // patched by SetFrameSize.
	add.To = regAddr(RegStackPointer)
	a.frameAdjusts = append(a.frameAdjusts, add)
	pop := a.newProg(iPOPQ)
	pop.To = regAddr(RegFramePointer)
}

func (a *assemblerImpl) SetFrameSize(frameSize int32) {
	a.frameSize = frameSize
	a.frameSizeSet = true
	for _, p := range a.frameAdjusts {
		p.From.Offset = int64(frameSize)
	}
}

func (a *assemblerImpl) Ret() {
	a.newProg(iRET)
}

func (a *assemblerImpl) Comment(text string) {
	a.commentAnchors = append(a.commentAnchors, commentAnchor{prog: a.anchor(), text: text})
}

func (a *assemblerImpl) Assemble() (asm.Result, error) {
	if len(a.frameAdjusts) > 0 && !a.frameSizeSet {
		return asm.Result{}, fmt.Errorf("amd64: Assemble before SetFrameSize on a function with a prologue")
	}
	if len(a.pendingJumps) > 0 {
		return asm.Result{}, fmt.Errorf("amd64: %d label(s) jumped to but never bound", len(a.pendingJumps))
	}

	code := a.b.Assemble()

	// Every prog's Pc is only meaningful from this point on, so the
	// handler table and the anchored metadata are resolved to real byte
	// offsets here rather than at emission time.
	handlers := make([]asm.ExceptionHandler, len(a.pendingHandlers))
	for i, p := range a.pendingHandlers {
		handlers[i] = asm.ExceptionHandler{
			TryStart:   a.labelPC(p.tryStart),
			TryEnd:     a.labelPC(p.tryEnd),
			CatchPC:    a.labelPC(p.catchPC),
			FinallyPC:  a.labelPC(p.finallyPC),
			HasFinally: p.finallyPC != nil,
			Type:       p.t,
		}
	}

	gcPoints := make([]asm.GcPointEntry, len(a.gcPointAnchors))
	for i, g := range a.gcPointAnchors {
		gcPoints[i] = asm.GcPointEntry{PC: uint32(g.prog.Pc), Refs: g.refs}
	}
	lines := make([]asm.LineEntry, len(a.lineAnchors))
	for i, l := range a.lineAnchors {
		lines[i] = asm.LineEntry{PC: uint32(l.prog.Pc), Line: l.line}
	}
	comments := make([]asm.CommentEntry, len(a.commentAnchors))
	for i, c := range a.commentAnchors {
		comments[i] = asm.CommentEntry{PC: uint32(c.prog.Pc), Text: c.text}
	}

	return asm.Result{
		Code:              code,
		ExceptionHandlers: handlers,
		GcPoints:          gcPoints,
		LineNumbers:       lines,
		Comments:          comments,
	}, nil
}
