package amd64

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dora-lang/corejit/internal/asm"
)

func TestNewAssembler_EmptyFunctionAssembles(t *testing.T) {
	a, err := NewAssembler()
	require.NoError(t, err)

	a.EmitPrologue()
	a.EmitEpilogue()
	a.Ret()
	a.SetFrameSize(16)

	res, err := a.Assemble()
	require.NoError(t, err)
	require.NotEmpty(t, res.Code)
}

func TestAssembler_AssembleWithoutFrameSizeFails(t *testing.T) {
	a, err := NewAssembler()
	require.NoError(t, err)

	a.EmitPrologue()
	a.Ret()

	_, err = a.Assemble()
	require.Error(t, err)
}

func TestAssembler_ArithmeticAndMove(t *testing.T) {
	a, err := NewAssembler()
	require.NoError(t, err)

	a.EmitPrologue()
	a.LoadImmediate(asm.Int64, 41, RegResult)
	a.LoadImmediate(asm.Int64, 1, RegTmp1)
	a.Add(asm.Int64, RegTmp1, RegResult)
	a.EmitEpilogue()
	a.Ret()
	a.SetFrameSize(16)

	res, err := a.Assemble()
	require.NoError(t, err)
	require.NotEmpty(t, res.Code)
}

func TestAssembler_DivRemShiftFixedRegisters(t *testing.T) {
	// IDIV and the shifts carry hardware register constraints (dividend
	// in AX, count in CX); this just pins down that the emitted stream
	// assembles once the assembler has routed the operands itself.
	a, err := NewAssembler()
	require.NoError(t, err)

	a.LoadImmediate(asm.Int32, 42, RegResult)
	a.LoadImmediate(asm.Int32, 5, RegTmp1)
	a.Div(asm.Int32, RegTmp1, RegResult, true)
	a.Rem(asm.Int32, RegTmp1, RegResult, true)
	a.LoadImmediate(asm.Int32, 3, RegTmp1)
	a.Shl(asm.Int32, RegTmp1, RegResult)
	a.Shr(asm.Int32, RegTmp1, RegResult, false)
	a.Ret()

	res, err := a.Assemble()
	require.NoError(t, err)
	require.NotEmpty(t, res.Code)
}

func TestAssembler_ShiftIntoCXPanics(t *testing.T) {
	a, err := NewAssembler()
	require.NoError(t, err)

	require.Panics(t, func() { a.Shl(asm.Int32, RegTmp1, RegParam3) })
}

func TestAssembler_RemFloatPanics(t *testing.T) {
	a, err := NewAssembler()
	require.NoError(t, err)

	require.Panics(t, func() { a.Rem(asm.Float64, FRegTmp1, FRegResult, true) })
}

func TestAssembler_LabelsAndJumps(t *testing.T) {
	a, err := NewAssembler()
	require.NoError(t, err)

	lbl := a.CreateLabel()
	a.LoadImmediate(asm.Int32, 0, RegResult)
	a.Jump(lbl)
	a.LoadImmediate(asm.Int32, 1, RegResult) // dead store; still must assemble cleanly.
	a.BindLabel(lbl)
	a.Ret()

	res, err := a.Assemble()
	require.NoError(t, err)
	require.NotEmpty(t, res.Code)
}

func TestAssembler_GcPointAndLinenoRecordPCs(t *testing.T) {
	a, err := NewAssembler()
	require.NoError(t, err)

	a.LoadImmediate(asm.Int32, 1, RegResult)
	a.EmitLineno(10)
	a.EmitGcPoint(asm.GcPoint{RefSlots: []int32{-8, -16}})
	a.LoadImmediate(asm.Int32, 2, RegResult)
	a.Ret()

	res, err := a.Assemble()
	require.NoError(t, err)
	require.Len(t, res.LineNumbers, 1)
	require.Equal(t, uint32(10), res.LineNumbers[0].Line)
	require.Greater(t, res.LineNumbers[0].PC, uint32(0), "recorded after a real instruction, so the PC is not 0")
	require.Len(t, res.GcPoints, 1)
	require.Equal(t, res.LineNumbers[0].PC, res.GcPoints[0].PC, "both anchored at the same point in the stream")
	require.ElementsMatch(t, []int32{-8, -16}, res.GcPoints[0].Refs)
}

func TestAssembler_ExceptionHandlerRecorded(t *testing.T) {
	a, err := NewAssembler()
	require.NoError(t, err)

	tryStart := a.CreateLabel()
	a.BindLabel(tryStart)

	a.LoadImmediate(asm.Int64, 1, RegResult)
	a.LoadImmediate(asm.Int64, 2, RegTmp1)
	a.Add(asm.Int64, RegTmp1, RegResult)

	catch := a.CreateLabel()
	a.BindLabel(catch)
	a.EmitExceptionHandler(tryStart, catch, catch, nil, asm.CatchAny)

	res, err := a.Assemble()
	require.NoError(t, err)
	require.Len(t, res.ExceptionHandlers, 1)
	h := res.ExceptionHandlers[0]

	// These must be real resolved byte offsets, not the labels' own
	// creation-order ids (tryStart and catch would both misleadingly
	// read back as 0/1 under that bug).
	require.Equal(t, uint32(0), h.TryStart, "tryStart is bound before any instruction is emitted")
	require.Equal(t, h.TryEnd, h.CatchPC, "tryEnd and catchPC resolve the same bound label")
	require.Greater(t, h.CatchPC, uint32(0), "catch is bound after three real instructions, not at label id 1")
	require.False(t, h.HasFinally)
	require.Zero(t, h.FinallyPC)
	require.Equal(t, asm.CatchAny, h.Type)
}

func TestAssembler_Bailout_CallsTrapHandlerAddr(t *testing.T) {
	orig := TrapHandlerAddr
	defer func() { TrapHandlerAddr = orig }()
	TrapHandlerAddr = func() uintptr { return 0xABCD }

	a, err := NewAssembler()
	require.NoError(t, err)

	a.EmitBailoutInplace(asm.TrapNil, 7)
	res, err := a.Assemble()
	require.NoError(t, err)
	require.NotEmpty(t, res.Code)
	require.Len(t, res.Comments, 1)
	require.Contains(t, res.Comments[0].Text, "NIL")
}

func TestAssembler_ConstPoolRoundTrips(t *testing.T) {
	a, err := NewAssembler()
	require.NoError(t, err)
	impl := a.(*assemblerImpl)

	disp := a.AddAddr(0x1234)
	require.Equal(t, int32(0), disp)
	require.Equal(t, uintptr(0x1234), impl.constPool[disp])

	a.LoadConstPool(disp, RegResult)
	_, err = a.Assemble()
	require.NoError(t, err)
}
