// Package codegen implements expression, statement and call lowering:
// the single AST-walking pass that turns one function's decorated body
// into native machine code through internal/asm, using internal/frame
// for every intermediate value that needs a frame slot and internal/rt
// for class/function/VTable lookups.
//
// Each AST form has its own emit method; operands are evaluated into
// fixed known registers and spilled around calls, with an explicit
// destination register threaded through every emit.
package codegen

import (
	"errors"
	"fmt"

	"github.com/dora-lang/corejit/internal/asm"
	"github.com/dora-lang/corejit/internal/asm/amd64"
	"github.com/dora-lang/corejit/internal/ast"
	"github.com/dora-lang/corejit/internal/frame"
	"github.com/dora-lang/corejit/internal/rt"
)

// ErrUnsupportedTryMode is returned when a function body contains a Try
// node in TryOpt mode. This core rejects it explicitly rather than
// assume a front end already filtered it out, since semantic analysis
// is an external collaborator.
var ErrUnsupportedTryMode = errors.New("codegen: TryMode_Opt is not supported by this core")

// Config carries the compile-time knobs the generator consults at
// lowering time.
type Config struct {
	// OmitBoundsCheck skips the index-range check on array/string
	// element access. Defaults to false: checked accesses unless
	// explicitly opted out.
	OmitBoundsCheck bool
}

// Generator lowers one function at a time; none of its state survives
// across functions, matching the per-function lifetime of the
// Assembler and frame manager it drives.
type Generator struct {
	cfg     Config
	classes rt.ClassRegistry
	fcts    rt.FctRegistry
	natives rt.NativeStubs

	fct  ast.FctId
	st   *ast.SideTables
	asm  asm.Assembler
	tmps *frame.Manager

	// loopLabels is the break/continue target stack, innermost last.
	loopLabels []loopTargets

	// tryRegions accumulates the exception-handler table entries for the
	// function as try/else blocks are walked; flushed into asm at the
	// very end so offsets are resolved against the final instruction
	// stream.
	tryRegions []pendingHandler

	// maxOutgoing is the widest outgoing stack-argument area any call in
	// the function needs (arguments beyond the REG_PARAMS bank), kept
	// out of the temp region so marshalling can never clobber a live
	// spill slot.
	maxOutgoing int32

	// strings interns string-literal constant-pool entries per function,
	// so two occurrences of the same literal share one pool slot.
	strings map[string]int32
}

type loopTargets struct {
	breakLabel, continueLabel *asm.Label
}

type pendingHandler struct {
	tryStart, tryEnd *asm.Label
	catch            *asm.Label
	finally          *asm.Label
}

// New constructs a Generator for one function. classes/fcts/natives
// resolve VTable, call-target and native-wrapper lookups during
// lowering; they are read-only from the generator's point of view.
// internal/stub.Manager satisfies both fcts and natives in production.
func New(cfg Config, classes rt.ClassRegistry, fcts rt.FctRegistry, natives rt.NativeStubs) *Generator {
	return &Generator{
		cfg:     cfg,
		classes: classes,
		fcts:    fcts,
		natives: natives,
		strings: make(map[string]int32),
	}
}

// Generate lowers body into a complete JitFct: prologue, the statement
// sequence, epilogue and return, with the exception-handler, GC-point
// and line-number tables internal/asm recorded along the way folded
// into the result.
func (g *Generator) Generate(fct ast.FctId, body *ast.Block, st *ast.SideTables) (*rt.JitFct, error) {
	if err := checkNoOptTry(body); err != nil {
		return nil, err
	}

	g.fct = fct
	g.st = st
	g.tmps = frame.New(st.LocalSize)
	a, err := amd64.NewAssembler()
	if err != nil {
		return nil, fmt.Errorf("codegen: creating assembler for fct %d: %w", fct, err)
	}
	g.asm = a
	g.loopLabels = nil
	g.tryRegions = nil
	g.maxOutgoing = 0
	g.strings = make(map[string]int32)

	g.asm.EmitPrologue()
	g.spillParams()
	g.emitBlock(body)
	g.tmps.AssertBalanced()

	// A function whose body doesn't end in an explicit Return still
	// needs an epilogue; falling off the end returns whatever is
	// currently in REG_RESULT, matching a void method's implicit return.
	g.asm.EmitEpilogue()
	g.asm.Ret()

	for _, h := range g.tryRegions {
		g.asm.EmitExceptionHandler(h.tryStart, h.tryEnd, h.catch, h.finally, asm.CatchAny)
	}

	// The frame must cover the deepest temp watermark the walk actually
	// hit plus the widest outgoing stack-argument area any call needed,
	// or the front end's pre-computed StackSize when that is larger.
	frameSize := g.tmps.FrameSize() + roundUp16(g.maxOutgoing)
	if planned := roundUp16(g.st.StackSize); planned > frameSize {
		frameSize = planned
	}
	g.asm.SetFrameSize(frameSize)

	res, err := g.asm.Assemble()
	if err != nil {
		return nil, fmt.Errorf("codegen: assembling fct %d: %w", fct, err)
	}

	return &rt.JitFct{
		Fct:               rt.FctId(fct),
		Code:              res.Code,
		FrameSize:         frameSize,
		ExceptionHandlers: res.ExceptionHandlers,
		GcPoints:          res.GcPoints,
		LineNumbers:       res.LineNumbers,
		Comments:          res.Comments,
	}, nil
}

// spillParams copies every incoming parameter, and self when the
// function is a method or constructor, out of its fixed REG_PARAMS bank
// register into its own frame slot, immediately after the prologue and
// before any user code runs. REG_PARAMS registers are caller-saved and
// get reused as scratch the moment argument marshalling or a nested call
// touches them (emitUniversalCall loads straight into amd64.RegParams),
// so a parameter or self read anywhere but the very top of the function
// must go through its spilled slot, not the register it arrived in.
func (g *Generator) spillParams() {
	if g.st.HasSelf {
		g.asm.Store(asm.Ptr, amd64.RegParams[0], asm.Local(g.st.SelfOffset))
	}
	for _, v := range g.st.Vars {
		if !v.IsParam {
			continue
		}
		if v.ParamIdx >= len(amd64.RegParams) {
			panic(fmt.Sprintf("codegen: parameter %d of fct %d arrives on the incoming stack, which this core does not yet spill", v.Id, g.fct))
		}
		g.asm.Store(marshalMode(v.Mode), amd64.RegParams[v.ParamIdx], asm.Local(v.Offset))
	}
}

// reserveTempForNode resolves e's pre-planned spill slot (assigned by
// the front end alongside the frame layout) and reserves it. An
// expression the generator needs to spill but that was never planned a
// slot is a front-end/generator contract violation.
func (g *Generator) reserveTempForNode(e ast.Expr) asm.Mem {
	t, ok := g.st.Temps[e.ID()]
	if !ok {
		panic(fmt.Sprintf("codegen: node %d has no pre-planned temp slot", e.ID()))
	}
	return g.tmps.Reserve(t)
}

func (g *Generator) freeTempForNode(e ast.Expr) {
	g.tmps.Free(g.st.Temps[e.ID()])
}

func roundUp16(n int32) int32 {
	if rem := n % 16; rem != 0 {
		n += 16 - rem
	}
	return n
}

func checkNoOptTry(n ast.Stmt) error {
	var walkStmt func(ast.Stmt) error
	var walkExpr func(ast.Expr) error

	walkExpr = func(e ast.Expr) error {
		if e == nil {
			return nil
		}
		switch v := e.(type) {
		case *ast.Try:
			if v.Mode == ast.TryOpt {
				return ErrUnsupportedTryMode
			}
			return walkExpr(v.Expr)
		case *ast.Assign:
			if err := walkExpr(v.LHS); err != nil {
				return err
			}
			return walkExpr(v.RHS)
		case *ast.Un:
			return walkExpr(v.Expr)
		case *ast.Bin:
			if err := walkExpr(v.LHS); err != nil {
				return err
			}
			return walkExpr(v.RHS)
		case *ast.Call:
			if err := walkExpr(v.Receiver); err != nil {
				return err
			}
			for _, a := range v.Args {
				if err := walkExpr(a); err != nil {
					return err
				}
			}
		case *ast.Field:
			return walkExpr(v.Obj)
		case *ast.Array:
			if err := walkExpr(v.Obj); err != nil {
				return err
			}
			return walkExpr(v.Index)
		case *ast.Conv:
			return walkExpr(v.Obj)
		case *ast.Delegation:
			for _, a := range v.Args {
				if err := walkExpr(a); err != nil {
					return err
				}
			}
		}
		return nil
	}

	walkStmt = func(s ast.Stmt) error {
		if s == nil {
			return nil
		}
		switch v := s.(type) {
		case *ast.Block:
			for _, st := range v.Stmts {
				if err := walkStmt(st); err != nil {
					return err
				}
			}
		case *ast.Return:
			return walkExpr(v.Expr)
		case *ast.If:
			if err := walkExpr(v.Cond); err != nil {
				return err
			}
			if err := walkStmt(v.Then); err != nil {
				return err
			}
			if v.Else != nil {
				return walkStmt(v.Else)
			}
			return nil
		case *ast.ExprStmt:
			return walkExpr(v.Expr)
		case *ast.Let:
			return walkExpr(v.Init)
		case *ast.Loop:
			return walkStmt(v.Body)
		}
		return nil
	}

	return walkStmt(n)
}
