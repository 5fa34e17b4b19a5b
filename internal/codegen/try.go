package codegen

import (
	"github.com/dora-lang/corejit/internal/asm"
	"github.com/dora-lang/corejit/internal/ast"
)

// emitTry lowers the three supported TryMode forms. TryOpt is rejected before a
// function body is ever walked (codegen.checkNoOptTry), so reaching the
// default arm here would be an upstream invariant violation.
func (g *Generator) emitTry(n *ast.Try, dest asm.Register) {
	switch n.Mode {
	case ast.TryNormal:
		g.emitExpr(n.Expr, dest)
	case ast.TryForce:
		g.emitTryForce(n, dest)
	case ast.TryElse:
		g.emitTryElse(n, dest)
	default:
		panic("codegen: unhandled try mode")
	}
}

// emitTryForce wraps expr's try-span with a catch-span that is an
// immediate TrapUnexpected bailout: the source asserted the exception
// can't happen, and the assertion is enforced at runtime.
func (g *Generator) emitTryForce(n *ast.Try, dest asm.Register) {
	lblTryStart := g.asm.CreateLabel()
	lblCatch := g.asm.CreateLabel()
	lblEnd := g.asm.CreateLabel()

	g.asm.BindLabel(lblTryStart)
	g.emitExpr(n.Expr, dest)
	g.asm.Jump(lblEnd)

	g.asm.BindLabel(lblCatch)
	g.asm.EmitBailoutInplace(asm.TrapUnexpected, g.st.Line[n.ID()])

	g.asm.BindLabel(lblEnd)

	g.registerTryRegion(lblTryStart, lblCatch, nil)
}

// emitTryElse evaluates expr under a try-span; if an exception
// propagates out of it, execution resumes at the catch-span, which
// evaluates Else instead and leaves its value in dest.
func (g *Generator) emitTryElse(n *ast.Try, dest asm.Register) {
	lblTryStart := g.asm.CreateLabel()
	lblCatch := g.asm.CreateLabel()
	lblEnd := g.asm.CreateLabel()

	g.asm.BindLabel(lblTryStart)
	g.emitExpr(n.Expr, dest)
	g.asm.Jump(lblEnd)

	g.asm.BindLabel(lblCatch)
	g.emitExpr(n.Else, dest)

	g.asm.BindLabel(lblEnd)

	g.registerTryRegion(lblTryStart, lblCatch, nil)
}

// registerTryRegion queues one exception-handler table entry, flushed
// into internal/asm once the whole function body has been walked
// (codegen.go's Generate), the same deferred-resolution approach the
// MacroAssembler's own label table uses for ordinary jumps: labels (and,
// here, a try-span's boundary labels) are never assumed resolved to a
// real byte offset before the golang-asm builder assembles the function
// (see DESIGN.md "exception-handler table" entry): tryStart/tryEnd stay
// *asm.Label all the way to Assemble, rather than being converted to a
// label's creation-order id, which is not a byte offset at all.
func (g *Generator) registerTryRegion(tryStart, catch, finally *asm.Label) {
	g.tryRegions = append(g.tryRegions, pendingHandler{
		tryStart: tryStart,
		tryEnd:   catch,
		catch:    catch,
		finally:  finally,
	})
}
