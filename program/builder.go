package program

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"

	"github.com/deepnoodle-ai/udon/object"
	"github.com/deepnoodle-ai/udon/op"
)

// Builder assembles a Function incrementally. Call-preparation regions
// are derived automatically from PrepCall/Call pairing as instructions
// are emitted, and handler parent links are computed from region
// nesting at Build time.
type Builder struct {
	name        string
	className   string
	kind        Kind
	ctor        bool
	paramCount  int
	localCount  int
	code        []op.Code
	constants   []object.Object
	names       []string
	localNames  []string
	handlers    []Handler
	callRegions []CallRegion
	openPreps   []int // offsets of preps whose call has not been emitted
	builtin     object.BuiltinFunction
	errs        []error
}

// NewBuilder creates a builder for a function with the given name.
func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

// Class marks the function as a method of the named class.
func (b *Builder) Class(name string) *Builder {
	b.className = name
	return b
}

// Ctor marks the function as a constructor.
func (b *Builder) Ctor() *Builder {
	b.ctor = true
	return b
}

// Kind sets how the function's frames suspend and complete.
func (b *Builder) Kind(kind Kind) *Builder {
	b.kind = kind
	return b
}

// Params sets the parameter count.
func (b *Builder) Params(n int) *Builder {
	b.paramCount = n
	return b
}

// Locals sets the local slot count, parameters included.
func (b *Builder) Locals(n int) *Builder {
	b.localCount = n
	return b
}

// LocalNames records local variable names for diagnostics.
func (b *Builder) LocalNames(names ...string) *Builder {
	b.localNames = append(b.localNames, names...)
	return b
}

// Builtin sets the host function a KindBuiltin function executes.
func (b *Builder) Builtin(fn object.BuiltinFunction) *Builder {
	b.builtin = fn
	return b
}

// Offset returns the offset the next instruction will be emitted at.
func (b *Builder) Offset() int {
	return len(b.code)
}

// Emit appends an instruction and its operands, returning the offset
// of the opcode.
func (b *Builder) Emit(code op.Code, operands ...int) int {
	offset := len(b.code)
	info := op.GetInfo(code)
	if info.Name == "" {
		b.errs = append(b.errs, fmt.Errorf("emit at %d: unknown opcode %d", offset, code))
	} else if info.OperandCount != len(operands) {
		b.errs = append(b.errs, fmt.Errorf("emit %s at %d: expected %d operands, got %d",
			info.Name, offset, info.OperandCount, len(operands)))
	}
	b.code = append(b.code, code)
	for _, operand := range operands {
		b.code = append(b.code, op.Code(operand))
	}
	if op.IsCallPrep(code) {
		b.openPreps = append(b.openPreps, offset)
	}
	if code == op.Call || code == op.CallAwait {
		if len(b.openPreps) == 0 {
			b.errs = append(b.errs, fmt.Errorf("emit %s at %d: no open call preparation", info.Name, offset))
		} else {
			prep := b.openPreps[len(b.openPreps)-1]
			b.openPreps = b.openPreps[:len(b.openPreps)-1]
			b.callRegions = append(b.callRegions, CallRegion{
				PrepOffset: prep,
				Base:       prep + 2,
				Past:       len(b.code),
			})
		}
	}
	return offset
}

// Constant interns a constant and returns its index.
func (b *Builder) Constant(obj object.Object) int {
	for i, existing := range b.constants {
		if existing == obj {
			return i
		}
	}
	b.constants = append(b.constants, obj)
	return len(b.constants) - 1
}

// Name interns a property name and returns its index.
func (b *Builder) Name(name string) int {
	for i, existing := range b.names {
		if existing == name {
			return i
		}
	}
	b.names = append(b.names, name)
	return len(b.names) - 1
}

// Catch protects [base, past) with a catch handler entered at target.
func (b *Builder) Catch(base, past, target int) *Builder {
	b.handlers = append(b.handlers, Handler{
		Kind: HandlerCatch, Base: base, Past: past, Target: target, Parent: -1,
	})
	return b
}

// Fault protects [base, past) with a cleanup handler entered at target.
func (b *Builder) Fault(base, past, target int) *Builder {
	b.handlers = append(b.handlers, Handler{
		Kind: HandlerFault, Base: base, Past: past, Target: target, Parent: -1,
	})
	return b
}

// Depth records the evaluation stack height code in the most recently
// added handler's protected range maintains, relative to the frame
// base. Handlers default to depth 0.
func (b *Builder) Depth(n int) *Builder {
	if len(b.handlers) == 0 {
		b.errs = append(b.errs, fmt.Errorf("depth %d set with no handler to apply it to", n))
		return b
	}
	b.handlers[len(b.handlers)-1].Depth = n
	return b
}

// Build finalizes the function: handlers are ordered parents first,
// parent links computed, and the result validated.
func (b *Builder) Build() (*Function, error) {
	if len(b.openPreps) > 0 {
		b.errs = append(b.errs, fmt.Errorf("%d call preparations have no matching call", len(b.openPreps)))
	}
	handlers := orderHandlers(b.handlers)
	fn := NewFunction(FunctionParams{
		Name:          b.name,
		ClassName:     b.className,
		Kind:          b.kind,
		IsConstructor: b.ctor,
		ParamCount:    b.paramCount,
		LocalCount:    b.localCount,
		Instructions:  b.code,
		Constants:     b.constants,
		Names:         b.names,
		LocalNames:    b.localNames,
		Handlers:      handlers,
		CallRegions:   b.callRegions,
		Builtin:       b.builtin,
	})
	if err := Validate(fn); err != nil {
		b.errs = append(b.errs, err)
	}
	if len(b.errs) > 0 {
		var result *multierror.Error
		for _, err := range b.errs {
			result = multierror.Append(result, err)
		}
		return nil, fmt.Errorf("build %q: %w", b.name, result.ErrorOrNil())
	}
	return fn, nil
}

// MustBuild is Build for hand-assembled functions known to be valid.
func (b *Builder) MustBuild() *Function {
	fn, err := b.Build()
	if err != nil {
		panic(err)
	}
	return fn
}

// orderHandlers sorts handler entries so parents precede children and
// fills in Parent indexes from nesting.
func orderHandlers(src []Handler) []Handler {
	if len(src) == 0 {
		return nil
	}
	handlers := make([]Handler, len(src))
	copy(handlers, src)
	sort.SliceStable(handlers, func(i, j int) bool {
		if handlers[i].Base != handlers[j].Base {
			return handlers[i].Base < handlers[j].Base
		}
		return handlers[i].Past > handlers[j].Past
	})
	var enclosing []int
	for i := range handlers {
		for len(enclosing) > 0 {
			outer := handlers[enclosing[len(enclosing)-1]]
			if handlers[i].Base >= outer.Base && handlers[i].Past <= outer.Past {
				break
			}
			enclosing = enclosing[:len(enclosing)-1]
		}
		if len(enclosing) > 0 {
			handlers[i].Parent = enclosing[len(enclosing)-1]
		} else {
			handlers[i].Parent = -1
		}
		enclosing = append(enclosing, i)
	}
	return handlers
}
