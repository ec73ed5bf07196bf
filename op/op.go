// Package op defines opcodes used by Udon programs and the virtual machine.
package op

// Code is an integer opcode that indicates an operation to execute.
type Code uint16

const (
	Invalid Code = 0

	// Execution
	Nop         Code = 1
	Halt        Code = 2
	Call        Code = 3
	ReturnValue Code = 4
	CallAwait   Code = 5 // Call whose result is awaited in place

	// Call preparation. Each of these pushes a pre-live activation record
	// whose arguments are still being evaluated on the stack. The record
	// becomes live at the matching Call or CallAwait.
	PrepCall       Code = 7
	PrepMethodCall Code = 8
	PrepCtorCall   Code = 9

	// Jump
	JumpBackward          Code = 10
	JumpForward           Code = 11
	PopJumpForwardIfFalse Code = 12
	PopJumpForwardIfTrue  Code = 13

	// Load
	LoadFast   Code = 21
	LoadGlobal Code = 23
	LoadConst  Code = 24

	// Store
	StoreFast   Code = 31
	StoreGlobal Code = 33

	// Operations
	BinaryOp      Code = 40
	CompareOp     Code = 41
	UnaryNegative Code = 42
	UnaryNot      Code = 43

	// Member access. A compound access like a.b.c = v compiles to a run
	// of MemberDim steps ending in MemberFinal. While the run executes,
	// the VM holds intermediate references in scratch slots outside the
	// evaluation stack.
	MemberDim   Code = 60
	MemberFinal Code = 61

	// Stack
	Swap   Code = 70
	Copy   Code = 71
	PopTop Code = 72

	// Push constants
	Nil   Code = 80
	False Code = 81
	True  Code = 82

	// Suspension points
	Await Code = 90
	Yield Code = 91

	// Exception handling
	Throw  Code = 142 // Throw TOS as exception
	Catch  Code = 143 // Enter a catch handler: pop the fault, push its exception
	Unwind Code = 144 // End a cleanup handler: resume propagating the fault
)

// IsCallPrep returns true for opcodes that push a pre-live activation
// record onto the stack.
func IsCallPrep(c Code) bool {
	switch c {
	case PrepCall, PrepMethodCall, PrepCtorCall:
		return true
	}
	return false
}

// IsConstructorCall returns true if the opcode prepares a constructor
// call. A receiver whose constructor never completes must not have its
// destructor run.
func IsConstructorCall(c Code) bool {
	return c == PrepCtorCall
}

// IsMemberAccess returns true for opcodes in the member access protocol,
// which may raise while the VM's scratch references are live.
func IsMemberAccess(c Code) bool {
	switch c {
	case MemberDim, MemberFinal:
		return true
	}
	return false
}

// IsReturn returns true if the opcode returns from the current function.
func IsReturn(c Code) bool {
	return c == ReturnValue
}

// IsAwaitCall returns true if the opcode performs an eagerly awaited call.
func IsAwaitCall(c Code) bool {
	return c == CallAwait
}

// BinaryOpType describes a type of binary operation, as in an operation that
// takes two operands. For example, addition, subtraction, multiplication, etc.
type BinaryOpType uint16

const (
	Add        BinaryOpType = 1
	Subtract   BinaryOpType = 2
	Multiply   BinaryOpType = 3
	Divide     BinaryOpType = 4
	Modulo     BinaryOpType = 5
	And        BinaryOpType = 6
	Or         BinaryOpType = 7
	Xor        BinaryOpType = 8
	Power      BinaryOpType = 9
	LShift     BinaryOpType = 10
	RShift     BinaryOpType = 11
	BitwiseAnd BinaryOpType = 12
	BitwiseOr  BinaryOpType = 13
)

// String returns a string representation of the binary operation.
// For example "+" for addition.
func (bop BinaryOpType) String() string {
	switch bop {
	case Add:
		return "+"
	case Subtract:
		return "-"
	case Multiply:
		return "*"
	case Divide:
		return "/"
	case Modulo:
		return "%"
	case And:
		return "&&"
	case Or:
		return "||"
	case Xor:
		return "^"
	case Power:
		return "**"
	case LShift:
		return "<<"
	case RShift:
		return ">>"
	case BitwiseAnd:
		return "&^"
	case BitwiseOr:
		return "|^"
	default:
		return ""
	}
}

// CompareOpType describes a type of comparison operation. For example, less
// than, greater than, equal, etc.
type CompareOpType uint16

const (
	LessThan           CompareOpType = 1
	LessThanOrEqual    CompareOpType = 2
	Equal              CompareOpType = 3
	NotEqual           CompareOpType = 4
	GreaterThan        CompareOpType = 5
	GreaterThanOrEqual CompareOpType = 6
)

// String returns a string representation of the comparison operation.
// For example "<" for less than.
func (cop CompareOpType) String() string {
	switch cop {
	case LessThan:
		return "<"
	case LessThanOrEqual:
		return "<="
	case Equal:
		return "=="
	case NotEqual:
		return "!="
	case GreaterThan:
		return ">"
	case GreaterThanOrEqual:
		return ">="
	default:
		return ""
	}
}

// Info contains information about an opcode.
type Info struct {
	Code         Code
	Name         string
	OperandCount int
}

var infos = make([]Info, 256)

func init() {
	type opInfo struct {
		op    Code
		name  string
		count int
	}
	ops := []opInfo{
		{Await, "AWAIT", 0},
		{BinaryOp, "BINARY_OP", 1},
		{Call, "CALL", 1},
		{CallAwait, "CALL_AWAIT", 1},
		{Catch, "CATCH", 0},
		{CompareOp, "COMPARE_OP", 1},
		{Copy, "COPY", 1},
		{False, "FALSE", 0},
		{Halt, "HALT", 0},
		{JumpBackward, "JUMP_BACKWARD", 1},
		{JumpForward, "JUMP_FORWARD", 1},
		{LoadConst, "LOAD_CONST", 1},
		{LoadFast, "LOAD_FAST", 1},
		{LoadGlobal, "LOAD_GLOBAL", 1},
		{MemberDim, "MEMBER_DIM", 1},
		{MemberFinal, "MEMBER_FINAL", 1},
		{Nil, "NIL", 0},
		{Nop, "NOP", 0},
		{PopJumpForwardIfFalse, "POP_JUMP_FORWARD_IF_FALSE", 1},
		{PopJumpForwardIfTrue, "POP_JUMP_FORWARD_IF_TRUE", 1},
		{PopTop, "POP_TOP", 0},
		{PrepCall, "PREP_CALL", 1},
		{PrepCtorCall, "PREP_CTOR_CALL", 1},
		{PrepMethodCall, "PREP_METHOD_CALL", 1},
		{ReturnValue, "RETURN_VALUE", 0},
		{StoreFast, "STORE_FAST", 1},
		{StoreGlobal, "STORE_GLOBAL", 1},
		{Swap, "SWAP", 1},
		{Throw, "THROW", 0},
		{True, "TRUE", 0},
		{UnaryNegative, "UNARY_NEGATIVE", 0},
		{UnaryNot, "UNARY_NOT", 0},
		{Unwind, "UNWIND", 0},
		{Yield, "YIELD", 0},
	}
	for _, o := range ops {
		infos[o.op] = Info{
			Name:         o.name,
			Code:         o.op,
			OperandCount: o.count,
		}
	}
}

// GetInfo returns information about the given opcode.
func GetInfo(op Code) Info {
	return infos[op]
}
