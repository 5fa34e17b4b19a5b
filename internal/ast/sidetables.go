package ast

import "github.com/dora-lang/corejit/internal/asm"

// VarId, ClassId, FctId are opaque handles resolved by the external
// semantic-analysis front end; the core only
// ever uses them as keys into the side-tables below and into
// internal/rt's registries.
type VarId uint32
type ClassId uint32
type FctId uint32

// VarInfo describes one local variable or parameter slot.
type VarInfo struct {
	Id      VarId
	IntMode bool // true if Type is an integer/bool/byte builtin, false otherwise.
	Mode    asm.MachineMode
	// Offset is the variable's frame-pointer-relative byte offset
	// within the locals region, assigned once by the front end before
	// code generation and stable for the lifetime of the function.
	Offset   int32
	IsParam  bool
	ParamIdx int // valid only when IsParam.
	IsRef    bool
}

// TempSlot is the pre-planned spill slot for one expression's
// intermediate value, assigned by the front end ahead of code
// generation alongside the local-variable layout. Slot is the
// cumulative byte offset of the slot within the temp region below the
// locals: the value lives at frame offset -(LocalSize+Slot), and the
// front end assigns slots so that no two simultaneously-live
// intermediates overlap. internal/frame only converts these to
// concrete offsets and tracks reference liveness; it never invents a
// slot of its own.
type TempSlot struct {
	Mode  asm.MachineMode
	Slot  int32
	IsRef bool
}

// ArgKind distinguishes the three forms a planned call argument can
// take: an evaluated expression, the current method's self, or a fresh
// allocation standing in as a constructor's receiver.
type ArgKind byte

const (
	ArgExpr ArgKind = iota
	ArgSelfie
	ArgSelfieNew
)

// Arg is one pre-planned argument of a resolved call site, in source
// order with the receiver (when there is one) first. Slot is the
// argument's spill slot within the temp region, planned by the front
// end exactly like a TempSlot's.
type Arg struct {
	Kind ArgKind
	// Expr is the argument's expression; only set for ArgExpr.
	Expr  Expr
	Mode  asm.MachineMode
	IsRef bool
	Slot  int32
}

// CalleeKind distinguishes how a call site's target is resolved.
type CalleeKind byte

const (
	// CalleeFct is a direct, statically known static/free/super call.
	CalleeFct CalleeKind = iota
	// CalleeVirtual dispatches through the receiver's VTable at a fixed
	// method-table slot.
	CalleeVirtual
	// CalleeNative calls a host-provided function pointer through its
	// ABI-adapting wrapper (rt.NativeStubs), no VTable, no safepoint
	// beyond the call instruction itself.
	CalleeNative
)

// CallSite is the resolved shape of one Call/Delegation node.
type CallSite struct {
	Kind CalleeKind
	// Args is the planned argument list, receiver first when the site
	// has one (a Selfie for super calls and delegations, a SelfieNew for
	// constructors, the receiver expression otherwise), each with its
	// pre-planned spill slot. Call lowering evaluates and marshals
	// exactly this list; the Call node's own Receiver/Args fields are
	// the syntax these entries were planned from.
	Args []Arg
	// Fct is valid when Kind == CalleeFct or CalleeVirtual: the callee's
	// identity (direct address lookup for CalleeFct, VTable slot index
	// carried on FctId's registry entry for CalleeVirtual).
	Fct FctId
	// NativePtr is valid only when Kind == CalleeNative.
	NativePtr uintptr
	// HasReceiver is true when Args[0] (by convention) is the receiver
	// rather than a plain argument, i.e. this is a method call and not a
	// free-function call.
	HasReceiver bool
	// ReturnsRef: the callee's return value is a GC reference, meaning
	// the call's dest must be added to the live root set as soon as it's
	// stored.
	ReturnsRef bool
	// ReturnsFloat: the callee's return value lands in FREG_RESULT
	// instead of REG_RESULT.
	ReturnsFloat bool
	// IsConstructor marks a call whose implicit receiver is a fresh
	// allocation of NewClass rather than an evaluated expression: the
	// Call node's Receiver is nil for these sites, and call lowering
	// inlines the allocation plus the VTable store in place of
	// evaluating a receiver expression.
	IsConstructor bool
	// NewClass is the class being allocated; valid only when
	// IsConstructor.
	NewClass ClassId
	// ReceiverMayBeNil is true unless semantic analysis proved the
	// receiver expression non-nil; it gates the null-check bailout call
	// lowering emits before dispatch.
	ReceiverMayBeNil bool
	// Intrinsic names a call site recognised as a built-in whose body is
	// lowered inline rather than through a real call. Zero
	// value IntrinsicNone means "not an intrinsic, lower as a universal
	// call".
	Intrinsic IntrinsicKind
}

// IntrinsicKind enumerates the fixed set of recognised intrinsic call
// targets. An intrinsic call site the generator cannot map
// to one of these is a programmer error upstream and must panic, never
// silently fall back to a real call.
type IntrinsicKind byte

const (
	IntrinsicNone IntrinsicKind = iota
	IntrinsicAssert
	IntrinsicShl
	IntrinsicSetUint8
	IntrinsicIntArrayLen
	IntrinsicByteArrayLen
	IntrinsicLongArrayLen
	IntrinsicStrLen
	IntrinsicIntArrayGet
	IntrinsicIntArraySet
	IntrinsicByteArrayGet
	IntrinsicByteArraySet
	IntrinsicLongArrayGet
	IntrinsicLongArraySet
	IntrinsicStrGet
	IntrinsicBoolToInt
	IntrinsicBoolToLong
	IntrinsicByteToInt
	IntrinsicByteToLong
	IntrinsicIntToByte
	IntrinsicIntToLong
	IntrinsicLongToByte
	IntrinsicLongToInt
	IntrinsicBoolNot
	IntrinsicByteNot
	IntrinsicIntNot
	IntrinsicLongNot
	IntrinsicIntNeg
	IntrinsicLongNeg
	IntrinsicIntPlus
	IntrinsicLongPlus
	IntrinsicByteEq
	IntrinsicByteCmp
	IntrinsicBoolEq
	IntrinsicIntEq
	IntrinsicIntCmp
	IntrinsicLongEq
	IntrinsicLongCmp
	IntrinsicIntAdd
	IntrinsicIntSub
	IntrinsicIntMul
	IntrinsicIntDiv
	IntrinsicIntMod
	IntrinsicIntOr
	IntrinsicIntAnd
	IntrinsicIntXor
	IntrinsicIntShl
	IntrinsicIntSar
	IntrinsicIntShr
	IntrinsicLongAdd
	IntrinsicLongSub
	IntrinsicLongMul
	IntrinsicLongDiv
	IntrinsicLongMod
	IntrinsicLongOr
	IntrinsicLongAnd
	IntrinsicLongXor
	IntrinsicLongShl
	IntrinsicLongSar
	IntrinsicLongShr
	IntrinsicFloatAdd
	IntrinsicFloatSub
	IntrinsicFloatMul
	IntrinsicFloatDiv
	IntrinsicFloatEq
	IntrinsicFloatCmp
	IntrinsicDoubleAdd
	IntrinsicDoubleSub
	IntrinsicDoubleMul
	IntrinsicDoubleDiv
	IntrinsicDoubleEq
	IntrinsicDoubleCmp
)

// ConvInfo is the resolved shape of one Conv node: the class being
// tested/cast against plus whether the check is statically known to
// succeed.
type ConvInfo struct {
	Target ClassId
	// AlwaysValid is set by semantic analysis when the static type of
	// Obj is already a subtype of Target: the generator then skips the
	// runtime VTable walk entirely and, for ConvAs, just passes Obj
	// through; for ConvIs it loads a constant `true` (unless Obj may be
	// nil, in which case it still needs a nil check).
	AlwaysValid bool
	// MayBeNil is true unless semantic analysis proved Obj non-nil.
	MayBeNil bool
}

// StoreTarget describes where an Ident/Assign/Field/Array expression's
// value lives, resolved ahead of time by semantic analysis.
type StoreTarget byte

const (
	StoreLocal StoreTarget = iota
	StoreField
	StoreArrayElem
	StoreGlobal
)

// FieldInfo resolves a Field expression (or the LHS of a field Assign)
// to a concrete byte offset from the object header plus its mode and
// whether it holds a GC reference.
type FieldInfo struct {
	Offset int32
	IntMode bool
	Mode    asm.MachineMode
	IsRef   bool
}

// ArrayInfo resolves an Array expression to its element size/mode; the
// base offset of element 0 and the length-field offset are fixed
// constants (internal/codegen's headerSize and elemBaseOffset, laid out
// after rt.ObjectHeader), not per-site.
type ArrayInfo struct {
	ElemSize int32
	IntMode  bool
	Mode     asm.MachineMode
	IsRef    bool
}

// SideTables is the decoration layer semantic analysis attaches to a
// function body: identifier, call-site, field, array and conversion
// resolution, plus per-function frame sizing. One SideTables is produced per compiled
// function by the external front end and handed to internal/codegen
// alongside the function's ast.Block body.
type SideTables struct {
	// Vars holds every local/parameter declared in the function, keyed
	// by VarId.
	Vars map[VarId]*VarInfo
	// Stores resolves every Ident/Assign/Field/Array node's target kind.
	Stores map[NodeId]StoreTarget
	// VarOf resolves an Ident node (or the LHS of an Assign to a local)
	// to the VarId it reads/writes.
	VarOf map[NodeId]VarId
	// Fields resolves a Field node (or Assign LHS targeting StoreField)
	// to its FieldInfo.
	Fields map[NodeId]*FieldInfo
	// Arrays resolves an Array node to its ArrayInfo.
	Arrays map[NodeId]*ArrayInfo
	// Calls resolves a Call or Delegation node to its CallSite.
	Calls map[NodeId]*CallSite
	// Convs resolves a Conv node to its ConvInfo.
	Convs map[NodeId]*ConvInfo
	// Temps assigns a pre-planned spill slot to every expression node
	// whose intermediate value the generator must hold across a nested
	// evaluation (the left operand of a binary operator, an array
	// access's object and index, a field assignment's receiver, the
	// object of an `is`/`as` test). Call-site argument slots live on
	// CallSite.Args instead.
	Temps map[NodeId]TempSlot
	// HasSelf is true for a method/constructor body, where the implicit
	// receiver parameter needs its own stable frame slot alongside the
	// declared locals.
	HasSelf bool
	// SelfOffset is self's frame-pointer-relative slot, valid only when
	// HasSelf. Assigned by the front end the same way a VarInfo.Offset
	// is, and spilled by the prologue before the function body runs.
	SelfOffset int32
	// LocalSize is the byte size of the locals region of the frame;
	// temps are addressed at -(LocalSize+slot) below it.
	LocalSize int32
	// StackSize is LocalSize plus the largest temp-region high-water
	// mark computed during a prior dry-run reservation pass, or 0 if the
	// caller wants internal/frame to compute it from scratch.
	StackSize int32
	// Line maps a NodeId to its source line, for EmitLineno.
	Line map[NodeId]uint32
}

func NewSideTables() *SideTables {
	return &SideTables{
		Vars:   make(map[VarId]*VarInfo),
		Stores: make(map[NodeId]StoreTarget),
		VarOf:  make(map[NodeId]VarId),
		Fields: make(map[NodeId]*FieldInfo),
		Arrays: make(map[NodeId]*ArrayInfo),
		Calls:  make(map[NodeId]*CallSite),
		Convs:  make(map[NodeId]*ConvInfo),
		Temps:  make(map[NodeId]TempSlot),
		Line:   make(map[NodeId]uint32),
	}
}
