// Package amd64 is the x86-64 backend for internal/asm, implemented on
// top of github.com/twitchyliquid64/golang-asm. A baseline compiler has
// no need to beat the Go toolchain's own encoder on speed, so golang-asm
// stays the primary encoding path.
package amd64

import "github.com/dora-lang/corejit/internal/asm"

// Fixed register convention. The generator never
// allocates registers beyond this set; REG_TMP1/REG_TMP2 are short-lived
// scratch for 2-operand lowering of binary operators and array
// addressing, and RegTmp1 also carries call targets, VTable loads and
// float bit patterns on their way into an xmm register.
const (
	RegResult  asm.Register = iota + 1 // AX
	RegTmp1                            // R10
	RegTmp2                            // R11
	RegParam0                          // DI
	RegParam1                          // SI
	RegParam2                          // DX
	RegParam3                          // CX
	RegParam4                          // R8
	RegParam5                          // R9
	RegSelf                            // alias of RegParam0: where self arrives on entry, before the prologue spills it to its frame slot.
	RegFramePointer
	RegStackPointer

	FRegResult // X0
	FRegTmp1   // X1
)

// RegParams lists the System-V-style integer argument registers in
// order.
var RegParams = []asm.Register{RegParam0, RegParam1, RegParam2, RegParam3, RegParam4, RegParam5}

// instruction is the subset of x86-64 mnemonics the code generator
// needs, named the way the Go assembler names them.
type instruction int

const (
	iMOVB instruction = iota
	iMOVL
	iMOVQ
	iMOVSS
	iMOVSD
	iLEAQ
	iADDL
	iADDQ
	iADDSS
	iADDSD
	iSUBL
	iSUBQ
	iSUBSS
	iSUBSD
	iIMULL
	iIMULQ
	iMULSS
	iMULSD
	iIDIVL
	iIDIVQ
	iDIVL
	iDIVQ
	iDIVSS
	iDIVSD
	iCDQ
	iCQO
	iANDL
	iANDQ
	iORL
	iORQ
	iXORL
	iXORQ
	iSHLL
	iSHLQ
	iSARL
	iSARQ
	iSHRL
	iSHRQ
	iNEGL
	iNEGQ
	iNOTL
	iNOTQ
	iCMPL
	iCMPQ
	iUCOMISS
	iUCOMISD
	iMOVBLSX
	iMOVBLZX
	iMOVBQSX
	iMOVBQZX
	iMOVLQSX
	iMOVLQZX
	iCVTSL2SS
	iCVTSL2SD
	iCVTSQ2SS
	iCVTSQ2SD
	iCVTTSS2SL
	iCVTTSS2SQ
	iCVTTSD2SL
	iCVTTSD2SQ
	iCVTSS2SD
	iCVTSD2SS
	iSETEQ
	iSETNE
	iSETLT
	iSETGE
	iSETGT
	iSETLE
	iSETCS
	iSETCC
	iSETHI
	iSETLS
	iJMP
	iJEQ
	iJNE
	iJLT
	iJGE
	iJGT
	iJLE
	iJCS
	iJCC
	iJHI
	iJLS
	iCALL
	iRET
	iNOP
	iPUSHQ
	iPOPQ
)
