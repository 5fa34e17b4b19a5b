package codegen

import (
	"github.com/dora-lang/corejit/internal/asm"
	"github.com/dora-lang/corejit/internal/asm/amd64"
	"github.com/dora-lang/corejit/internal/ast"
)

// emitBlock lowers every statement of a block in order; a Block carries
// no scope bookkeeping of its own beyond what the frame.Manager already
// tracks per local.
func (g *Generator) emitBlock(b *ast.Block) {
	for _, s := range b.Stmts {
		g.emitStmt(s)
	}
}

func (g *Generator) emitStmt(s ast.Stmt) {
	if line, ok := g.st.Line[s.ID()]; ok {
		g.asm.EmitLineno(line)
	}

	switch v := s.(type) {
	case *ast.Block:
		g.emitBlock(v)
	case *ast.Return:
		g.emitReturn(v)
	case *ast.Break:
		g.emitBreak(v)
	case *ast.Continue:
		g.emitContinue(v)
	case *ast.If:
		g.emitIf(v)
	case *ast.ExprStmt:
		g.emitExpr(v.Expr, resultRegFor(exprMode(g.st, v.Expr)))
	case *ast.Let:
		g.emitLet(v)
	case *ast.Loop:
		g.emitLoop(v)
	default:
		panic("codegen: unhandled statement form")
	}
}

func (g *Generator) emitReturn(r *ast.Return) {
	if r.Expr != nil {
		g.emitExpr(r.Expr, resultRegFor(exprMode(g.st, r.Expr)))
	}
	g.asm.EmitEpilogue()
	g.asm.Ret()
}

func (g *Generator) emitBreak(*ast.Break) {
	if len(g.loopLabels) == 0 {
		panic("codegen: break outside of a loop")
	}
	top := g.loopLabels[len(g.loopLabels)-1]
	g.asm.Jump(top.breakLabel)
}

func (g *Generator) emitContinue(*ast.Continue) {
	if len(g.loopLabels) == 0 {
		panic("codegen: continue outside of a loop")
	}
	top := g.loopLabels[len(g.loopLabels)-1]
	g.asm.Jump(top.continueLabel)
}

// emitIf lowers the condition into REG_RESULT, then branches around the
// then/else arms; the condition is a boolean value (0/1 in Int8), so a
// zero test is enough, the same test_and_jump_if pattern used for
// short-circuit && / ||.
func (g *Generator) emitIf(n *ast.If) {
	lblElse := g.asm.CreateLabel()
	lblEnd := g.asm.CreateLabel()

	g.emitExpr(n.Cond, amd64.RegResult)
	g.asm.TestAndJumpIfZero(amd64.RegResult, lblElse)

	g.emitBlock(n.Then)
	if n.Else != nil {
		g.asm.Jump(lblEnd)
	}
	g.asm.BindLabel(lblElse)
	if n.Else != nil {
		g.emitBlock(n.Else)
		g.asm.BindLabel(lblEnd)
	}
}

// emitLet evaluates the initializer (if any) straight into the local's
// frame slot; a Let with no initializer leaves the slot's contents
// undefined (semantic analysis is responsible for rejecting reads of an
// unset local before this point).
func (g *Generator) emitLet(n *ast.Let) {
	if n.Init == nil {
		return
	}
	info, ok := g.st.Vars[n.Var]
	if !ok {
		panic("codegen: Let declaring an unknown var")
	}
	src := resultRegFor(info.Mode)
	g.emitExpr(n.Init, src)
	g.storeVar(n.Var, src)
}

func (g *Generator) emitLoop(n *ast.Loop) {
	lblStart := g.asm.CreateLabel()
	lblEnd := g.asm.CreateLabel()

	g.asm.BindLabel(lblStart)
	g.loopLabels = append(g.loopLabels, loopTargets{breakLabel: lblEnd, continueLabel: lblStart})
	g.emitBlock(n.Body)
	g.loopLabels = g.loopLabels[:len(g.loopLabels)-1]
	g.asm.Jump(lblStart)
	g.asm.BindLabel(lblEnd)
}

// storeVar writes src into the frame slot for v: resolve a VarId to its
// Mem and emit the store.
func (g *Generator) storeVar(v ast.VarId, src asm.Register) {
	info, ok := g.st.Vars[v]
	if !ok {
		panic("codegen: store to unknown var")
	}
	g.asm.Store(info.Mode, src, g.localMem(v))
}

func (g *Generator) loadVar(v ast.VarId, dst asm.Register) {
	info, ok := g.st.Vars[v]
	if !ok {
		panic("codegen: load of unknown var")
	}
	g.asm.Load(info.Mode, g.localMem(v), dst)
}

// localMem computes a variable's frame-relative Mem. Parameters are
// spilled into their local slot by the prologue: REG_PARAMS[i] is only
// live across the prologue, after which every local (parameter or not)
// lives at a fixed frame offset.
func (g *Generator) localMem(v ast.VarId) asm.Mem {
	return asm.Local(g.st.Vars[v].Offset)
}
