// Package program defines the static representation the virtual machine
// executes: functions with their instruction streams, the handler and
// call-preparation tables the unwinder consults while a throw is in
// flight, and the program container that binds functions to classes.
package program

import (
	"fmt"

	"github.com/gofrs/uuid"

	"github.com/deepnoodle-ai/udon/object"
	"github.com/deepnoodle-ai/udon/op"
)

// Kind describes how a function's frame suspends and completes.
type Kind int

const (
	// KindPlain frames return a value or unwind.
	KindPlain Kind = iota
	// KindAsync frames settle a future instead of returning when they
	// have suspended at least once.
	KindAsync
	// KindGenerator frames suspend at yields and finish on unwind.
	KindGenerator
	// KindAsyncGenerator frames combine both behaviors.
	KindAsyncGenerator
	// KindBuiltin frames execute a host function.
	KindBuiltin
)

func (k Kind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindAsync:
		return "async"
	case KindGenerator:
		return "generator"
	case KindAsyncGenerator:
		return "async_generator"
	case KindBuiltin:
		return "builtin"
	default:
		return "unknown"
	}
}

// Function represents one executable function. It is immutable after
// creation and safe for concurrent use.
type Function struct {
	id           string
	name         string
	className    string
	kind         Kind
	ctor         bool
	paramCount   int
	localCount   int
	instructions []op.Code
	constants    []object.Object
	names        []string
	localNames   []string
	handlers     []Handler
	callRegions  []CallRegion
	builtin      object.BuiltinFunction
}

// FunctionParams contains parameters for creating a new Function.
type FunctionParams struct {
	ID            string
	Name          string
	ClassName     string
	Kind          Kind
	IsConstructor bool
	ParamCount    int
	LocalCount    int
	Instructions  []op.Code
	Constants     []object.Object
	Names         []string
	LocalNames    []string
	Handlers      []Handler
	CallRegions   []CallRegion
	Builtin       object.BuiltinFunction
}

// NewFunction creates a new immutable Function from the given
// parameters. Input slices are copied. An empty ID is replaced with a
// fresh UUID.
func NewFunction(params FunctionParams) *Function {
	id := params.ID
	if id == "" {
		id = uuid.Must(uuid.NewV4()).String()
	}
	return &Function{
		id:           id,
		name:         params.Name,
		className:    params.ClassName,
		kind:         params.Kind,
		ctor:         params.IsConstructor,
		paramCount:   params.ParamCount,
		localCount:   params.LocalCount,
		instructions: copyInstructions(params.Instructions),
		constants:    copyObjects(params.Constants),
		names:        copyStrings(params.Names),
		localNames:   copyStrings(params.LocalNames),
		handlers:     copyHandlers(params.Handlers),
		callRegions:  copyCallRegions(params.CallRegions),
		builtin:      params.Builtin,
	}
}

// ID returns the unique identifier for this function.
func (f *Function) ID() string {
	return f.id
}

// Name returns the function name.
func (f *Function) Name() string {
	return f.name
}

// ClassName returns the class this function is a method of, or "".
func (f *Function) ClassName() string {
	return f.className
}

// QualifiedName returns ClassName::Name for methods, Name otherwise.
func (f *Function) QualifiedName() string {
	if f.className == "" {
		return f.name
	}
	return fmt.Sprintf("%s::%s", f.className, f.name)
}

// Kind returns how this function's frames suspend and complete.
func (f *Function) Kind() Kind {
	return f.kind
}

// IsConstructor reports whether this function is a constructor.
func (f *Function) IsConstructor() bool {
	return f.ctor
}

// IsBuiltin reports whether this function executes a host function.
func (f *Function) IsBuiltin() bool {
	return f.kind == KindBuiltin
}

// IsAsync reports whether frames of this function settle a future.
func (f *Function) IsAsync() bool {
	return f.kind == KindAsync
}

// IsGenerator reports whether this function is a generator.
func (f *Function) IsGenerator() bool {
	return f.kind == KindGenerator
}

// IsAsyncGenerator reports whether this function is an async generator.
func (f *Function) IsAsyncGenerator() bool {
	return f.kind == KindAsyncGenerator
}

// ParamCount returns the number of parameters.
func (f *Function) ParamCount() int {
	return f.paramCount
}

// LocalCount returns the number of local variable slots, including
// parameters.
func (f *Function) LocalCount() int {
	return f.localCount
}

// InstructionCount returns the number of instruction slots, operands
// included.
func (f *Function) InstructionCount() int {
	return len(f.instructions)
}

// InstructionAt returns the instruction slot at the given offset.
func (f *Function) InstructionAt(offset int) op.Code {
	return f.instructions[offset]
}

// OpAt returns the opcode at the given offset. The offset must be an
// instruction boundary, not an operand slot.
func (f *Function) OpAt(offset int) op.Code {
	if offset < 0 || offset >= len(f.instructions) {
		return op.Invalid
	}
	return f.instructions[offset]
}

// ConstantCount returns the number of constants.
func (f *Function) ConstantCount() int {
	return len(f.constants)
}

// ConstantAt returns the constant at the given index.
func (f *Function) ConstantAt(index int) object.Object {
	return f.constants[index]
}

// NameCount returns the number of names (property names used in this
// function).
func (f *Function) NameCount() int {
	return len(f.names)
}

// NameAt returns the property name at the given index.
func (f *Function) NameAt(index int) string {
	return f.names[index]
}

// LocalNameCount returns the number of recorded local variable names.
func (f *Function) LocalNameCount() int {
	return len(f.localNames)
}

// LocalNameAt returns the local variable name at the given index, or
// "" if unrecorded.
func (f *Function) LocalNameAt(index int) string {
	if index < 0 || index >= len(f.localNames) {
		return ""
	}
	return f.localNames[index]
}

// HandlerCount returns the number of handler table entries.
func (f *Function) HandlerCount() int {
	return len(f.handlers)
}

// HandlerAt returns the handler table entry at the given index.
func (f *Function) HandlerAt(index int) Handler {
	return f.handlers[index]
}

// FindHandler returns the index of the innermost handler whose
// protected range covers the given offset, or -1. The table is ordered
// parents first, so the last covering entry is the innermost.
func (f *Function) FindHandler(offset int) int {
	found := -1
	for i, h := range f.handlers {
		if h.Covers(offset) {
			found = i
		}
	}
	return found
}

// HandlerParent returns the index of the handler enclosing the entry
// at the given index, or -1.
func (f *Function) HandlerParent(index int) int {
	return f.handlers[index].Parent
}

// StackDepthAt returns the evaluation stack height, relative to the
// frame base, that the innermost protected region covering the given
// offset maintains. Offsets outside every protected region report 0:
// the unwinder discards the whole frame-owned stack there.
func (f *Function) StackDepthAt(offset int) int {
	if idx := f.FindHandler(offset); idx != -1 {
		return f.handlers[idx].Depth
	}
	return 0
}

// CallRegionCount returns the number of call-preparation regions.
func (f *Function) CallRegionCount() int {
	return len(f.callRegions)
}

// CallRegionAt returns the call-preparation region at the given index.
func (f *Function) CallRegionAt(index int) CallRegion {
	return f.callRegions[index]
}

// FindCallRegion returns the innermost call-preparation region
// covering the given offset, or -1. Regions nest but carry no
// particular table order, so the narrowest covering region wins.
func (f *Function) FindCallRegion(offset int) int {
	found := -1
	for i, r := range f.callRegions {
		if !r.Covers(offset) {
			continue
		}
		if found == -1 || r.Past-r.Base < f.callRegions[found].Past-f.callRegions[found].Base {
			found = i
		}
	}
	return found
}

// EnclosingCallPrep returns the preparation opcode of the innermost
// call-preparation region covering the given offset, or op.Invalid if
// the offset is not inside any region. The unwinder uses this to learn
// what kind of call a frame was created by.
func (f *Function) EnclosingCallPrep(offset int) op.Code {
	idx := f.FindCallRegion(offset)
	if idx == -1 {
		return op.Invalid
	}
	return f.OpAt(f.callRegions[idx].PrepOffset)
}

// Builtin returns the host function this function executes, or nil.
func (f *Function) Builtin() object.BuiltinFunction {
	return f.builtin
}

// String returns a short description of the function.
func (f *Function) String() string {
	return fmt.Sprintf("func %s(%d args)", f.QualifiedName(), f.paramCount)
}

// ClassBinding associates a class with the function that serves as its
// declared constructor, if any.
type ClassBinding struct {
	Class *object.Class
	Ctor  *Function
}

// Program is a complete executable unit: the entry function, the
// function table call instructions index into, the class table
// constructor calls index into, and global variable names.
type Program struct {
	id          string
	main        *Function
	functions   []*Function
	classes     []*object.Class
	ctors       map[*object.Class]*Function
	globalNames []string
}

// ProgramParams contains parameters for creating a new Program.
type ProgramParams struct {
	ID          string
	Main        *Function
	Functions   []*Function
	Classes     []ClassBinding
	GlobalNames []string
}

// NewProgram creates a new immutable Program from the given
// parameters. An empty ID is replaced with a fresh UUID.
func NewProgram(params ProgramParams) *Program {
	id := params.ID
	if id == "" {
		id = uuid.Must(uuid.NewV4()).String()
	}
	p := &Program{
		id:          id,
		main:        params.Main,
		globalNames: copyStrings(params.GlobalNames),
		ctors:       make(map[*object.Class]*Function),
	}
	if len(params.Functions) > 0 {
		p.functions = make([]*Function, len(params.Functions))
		copy(p.functions, params.Functions)
	}
	for _, binding := range params.Classes {
		p.classes = append(p.classes, binding.Class)
		if binding.Ctor != nil {
			p.ctors[binding.Class] = binding.Ctor
		}
	}
	return p
}

// ID returns the unique identifier for this program.
func (p *Program) ID() string {
	return p.id
}

// Main returns the entry function.
func (p *Program) Main() *Function {
	return p.main
}

// FunctionCount returns the number of functions in the table.
func (p *Program) FunctionCount() int {
	return len(p.functions)
}

// FunctionAt returns the function at the given table index.
func (p *Program) FunctionAt(index int) *Function {
	return p.functions[index]
}

// ClassCount returns the number of classes in the table.
func (p *Program) ClassCount() int {
	return len(p.classes)
}

// ClassAt returns the class at the given table index.
func (p *Program) ClassAt(index int) *object.Class {
	return p.classes[index]
}

// CtorOf returns the constructor function instances of cls run, which
// may be declared on an ancestor. The second result is false if no
// class in the chain declares one.
func (p *Program) CtorOf(cls *object.Class) (*Function, bool) {
	for c := cls; c != nil; c = c.Parent() {
		if fn, ok := p.ctors[c]; ok {
			return fn, true
		}
	}
	return nil, false
}

// GlobalCount returns the number of global variables.
func (p *Program) GlobalCount() int {
	return len(p.globalNames)
}

// GlobalNameAt returns the global variable name at the given index, or
// "" if the index is out of range.
func (p *Program) GlobalNameAt(index int) string {
	if index < 0 || index >= len(p.globalNames) {
		return ""
	}
	return p.globalNames[index]
}

// GlobalIndex returns the index of the named global, or -1.
func (p *Program) GlobalIndex(name string) int {
	for i, n := range p.globalNames {
		if n == name {
			return i
		}
	}
	return -1
}
