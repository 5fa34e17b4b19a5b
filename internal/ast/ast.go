// Package ast defines the decorated abstract syntax tree the code
// generator consumes. Lexing, parsing, name resolution and type checking
// live in an external front end; this package only describes the shape
// of their output.
package ast

import "github.com/dora-lang/corejit/internal/asm"

// NodeId is a stable identity shared by an expression/statement node and
// its entries in the side-tables.
type NodeId uint32

// Width distinguishes integer/float literal bit-widths.
type Width byte

const (
	Width8 Width = iota
	Width32
	Width64
)

// Stmt is the closed set of statement forms.
type Stmt interface {
	stmtNode()
	ID() NodeId
}

// Expr is the closed set of expression forms.
type Expr interface {
	exprNode()
	ID() NodeId
}

type base struct{ id NodeId }

func (b base) ID() NodeId { return b.id }

// -- statements --

type Block struct {
	base
	Stmts []Stmt
}

type Return struct {
	base
	Expr Expr // nil for a bare `return;`
}

type Break struct{ base }

type Continue struct{ base }

type If struct {
	base
	Cond Expr
	Then *Block
	Else *Block // nil if absent.
}

type ExprStmt struct {
	base
	Expr Expr
}

type Let struct {
	base
	Var  VarId
	Init Expr // nil if the local has no initializer.
}

type Loop struct {
	base
	Body *Block
}

func (*Block) stmtNode()    {}
func (*Return) stmtNode()   {}
func (*Break) stmtNode()    {}
func (*Continue) stmtNode() {}
func (*If) stmtNode()       {}
func (*ExprStmt) stmtNode() {}
func (*Let) stmtNode()      {}
func (*Loop) stmtNode()     {}

// NewBlock, NewReturn, ... are small convenience constructors used
// throughout tests; production ASTs are built by the external front end.
func NewBlock(id NodeId, stmts ...Stmt) *Block    { return &Block{base{id}, stmts} }
func NewReturn(id NodeId, e Expr) *Return         { return &Return{base{id}, e} }
func NewBreak(id NodeId) *Break                   { return &Break{base{id}} }
func NewContinue(id NodeId) *Continue             { return &Continue{base{id}} }
func NewExprStmt(id NodeId, e Expr) *ExprStmt      { return &ExprStmt{base{id}, e} }
func NewLet(id NodeId, v VarId, init Expr) *Let    { return &Let{base{id}, v, init} }
func NewLoop(id NodeId, body *Block) *Loop         { return &Loop{base{id}, body} }
func NewIf(id NodeId, cond Expr, then, els *Block) *If {
	return &If{base{id}, cond, then, els}
}

// -- expressions --

type LitInt struct {
	base
	Value int64
	Width Width
}

type LitFloat struct {
	base
	Value float64
	Width Width // Width32 or Width64.
}

type LitBool struct {
	base
	Value bool
}

type LitStr struct {
	base
	Value string
}

type Nil struct{ base }

type Self struct{ base }

type Super struct{ base } // only valid as the receiver of a Call.

type Ident struct{ base }

type Assign struct {
	base
	LHS Expr
	RHS Expr
}

type UnOp byte

const (
	UnNeg UnOp = iota
	UnNot    // boolean/bitwise not, mode-parameterised.
	UnPlus   // no-op unless overloaded.
)

type Un struct {
	base
	Op   UnOp
	Expr Expr
}

type BinOp byte

const (
	BinAdd BinOp = iota
	BinSub
	BinMul
	BinDiv
	BinMod
	BinOr  // bitwise
	BinAnd // bitwise
	BinXor
	BinShl
	BinShr
	BinCmp // carries a Cmp sub-operator, see CmpOp
	BinIs
	BinIsNot
	BinLogOr  // short-circuit ||
	BinLogAnd // short-circuit &&
)

type CmpOp byte

const (
	CmpEq CmpOp = iota
	CmpNe
	CmpLt
	CmpLe
	CmpGt
	CmpGe
)

type Bin struct {
	base
	Op  BinOp
	Cmp CmpOp // meaningful only when Op == BinCmp; defaults to CmpEq.
	LHS Expr
	RHS Expr
}

type Call struct {
	base
	Receiver Expr // nil for a free function call.
	Args     []Expr
}

type Field struct {
	base
	Obj Expr
}

type Array struct {
	base
	Obj   Expr
	Index Expr
}

type ConvKind byte

const (
	ConvIs ConvKind = iota
	ConvAs
)

type Conv struct {
	base
	Obj  Expr
	Kind ConvKind
	// TargetClass is resolved by semantic analysis; redundant with the
	// Convs side table but kept here too, since the syntax carries the
	// type reference alongside the resolved class.
	TargetClass ClassId
}

type TryMode byte

const (
	TryNormal TryMode = iota
	TryElse
	TryForce
	TryOpt // declared, unsupported; rejected before code generation.
)

type Try struct {
	base
	Expr Expr
	Mode TryMode
	Else Expr // only set when Mode == TryElse.
}

type Delegation struct {
	base
	Args []Expr
}

func (*LitInt) exprNode()     {}
func (*LitFloat) exprNode()   {}
func (*LitBool) exprNode()    {}
func (*LitStr) exprNode()     {}
func (*Nil) exprNode()        {}
func (*Self) exprNode()       {}
func (*Super) exprNode()      {}
func (*Ident) exprNode()      {}
func (*Assign) exprNode()     {}
func (*Un) exprNode()         {}
func (*Bin) exprNode()        {}
func (*Call) exprNode()       {}
func (*Field) exprNode()      {}
func (*Array) exprNode()      {}
func (*Conv) exprNode()       {}
func (*Try) exprNode()        {}
func (*Delegation) exprNode() {}

func NewLitInt(id NodeId, v int64, w Width) *LitInt       { return &LitInt{base{id}, v, w} }
func NewLitFloat(id NodeId, v float64, w Width) *LitFloat  { return &LitFloat{base{id}, v, w} }
func NewLitBool(id NodeId, v bool) *LitBool                { return &LitBool{base{id}, v} }
func NewLitStr(id NodeId, v string) *LitStr                { return &LitStr{base{id}, v} }
func NewNil(id NodeId) *Nil                                { return &Nil{base{id}} }
func NewSelf(id NodeId) *Self                               { return &Self{base{id}} }
func NewSuper(id NodeId) *Super                             { return &Super{base{id}} }
func NewIdent(id NodeId) *Ident                             { return &Ident{base{id}} }
func NewAssign(id NodeId, lhs, rhs Expr) *Assign            { return &Assign{base{id}, lhs, rhs} }
func NewUn(id NodeId, op UnOp, e Expr) *Un                  { return &Un{base{id}, op, e} }
func NewBin(id NodeId, op BinOp, lhs, rhs Expr) *Bin        { return &Bin{base{id}, op, CmpEq, lhs, rhs} }
func NewBinCmp(id NodeId, cmp CmpOp, lhs, rhs Expr) *Bin {
	return &Bin{base{id}, BinCmp, cmp, lhs, rhs}
}
func NewCall(id NodeId, recv Expr, args []Expr) *Call { return &Call{base{id}, recv, args} }
func NewField(id NodeId, obj Expr) *Field             { return &Field{base{id}, obj} }
func NewArray(id NodeId, obj, index Expr) *Array      { return &Array{base{id}, obj, index} }
func NewConv(id NodeId, obj Expr, kind ConvKind, cls ClassId) *Conv {
	return &Conv{base{id}, obj, kind, cls}
}
func NewTry(id NodeId, e Expr, mode TryMode, els Expr) *Try {
	return &Try{base{id}, e, mode, els}
}
func NewDelegation(id NodeId, args []Expr) *Delegation { return &Delegation{base{id}, args} }

// IntMode maps an integer literal width to the asm package's mode enum.
func (w Width) IntMode() asm.MachineMode {
	switch w {
	case Width8:
		return asm.Int8
	case Width32:
		return asm.Int32
	default:
		return asm.Int64
	}
}

func (w Width) FloatMode() asm.MachineMode {
	if w == Width32 {
		return asm.Float32
	}
	return asm.Float64
}
