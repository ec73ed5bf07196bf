package program

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/deepnoodle-ai/udon/object"
	"github.com/deepnoodle-ai/udon/op"
)

func TestFunctionBasics(t *testing.T) {
	fn := NewFunction(FunctionParams{
		Name:       "greet",
		ClassName:  "Greeter",
		Kind:       KindPlain,
		ParamCount: 1,
		LocalCount: 2,
		Instructions: []op.Code{
			op.LoadFast, 0,
			op.ReturnValue,
		},
		Constants:  []object.Object{object.NewString("hi")},
		Names:      []string{"message"},
		LocalNames: []string{"who", "tmp"},
	})

	assert.NotEmpty(t, fn.ID())
	assert.Equal(t, "greet", fn.Name())
	assert.Equal(t, "Greeter", fn.ClassName())
	assert.Equal(t, "Greeter::greet", fn.QualifiedName())
	assert.Equal(t, KindPlain, fn.Kind())
	assert.False(t, fn.IsConstructor())
	assert.False(t, fn.IsBuiltin())
	assert.Equal(t, 1, fn.ParamCount())
	assert.Equal(t, 2, fn.LocalCount())
	assert.Equal(t, 3, fn.InstructionCount())
	assert.Equal(t, op.LoadFast, fn.OpAt(0))
	assert.Equal(t, op.ReturnValue, fn.OpAt(2))
	assert.Equal(t, op.Invalid, fn.OpAt(99))
	assert.Equal(t, 1, fn.ConstantCount())
	assert.Equal(t, "hi", fn.ConstantAt(0).(*object.String).Value())
	assert.Equal(t, "message", fn.NameAt(0))
	assert.Equal(t, "who", fn.LocalNameAt(0))
	assert.Equal(t, "", fn.LocalNameAt(9))
	assert.Equal(t, "func Greeter::greet(1 args)", fn.String())
}

func TestFunctionIDsAreUnique(t *testing.T) {
	a := NewFunction(FunctionParams{Name: "a"})
	b := NewFunction(FunctionParams{Name: "b"})
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestFunctionKindPredicates(t *testing.T) {
	assert.True(t, NewFunction(FunctionParams{Kind: KindAsync}).IsAsync())
	assert.True(t, NewFunction(FunctionParams{Kind: KindGenerator}).IsGenerator())
	assert.True(t, NewFunction(FunctionParams{Kind: KindAsyncGenerator}).IsAsyncGenerator())
	assert.True(t, NewFunction(FunctionParams{Kind: KindBuiltin}).IsBuiltin())
	plain := NewFunction(FunctionParams{Kind: KindPlain})
	assert.False(t, plain.IsAsync())
	assert.False(t, plain.IsGenerator())
}

func TestFindHandlerInnermost(t *testing.T) {
	// Outer region [0, 20) with a nested inner region [5, 10).
	fn := NewFunction(FunctionParams{
		Name: "nested",
		Instructions: []op.Code{
			0: op.Nop, 1: op.Nop, 2: op.Nop, 3: op.Nop, 4: op.Nop,
			5: op.Nop, 6: op.Nop, 7: op.Nop, 8: op.Nop, 9: op.Nop,
			10: op.Nop, 11: op.Nop, 12: op.Nop, 13: op.Nop, 14: op.Nop,
			15: op.Nop, 16: op.Nop, 17: op.Nop, 18: op.Nop, 19: op.Nop,
			20: op.Catch, 21: op.Catch, 22: op.ReturnValue,
		},
		Handlers: []Handler{
			{Kind: HandlerCatch, Base: 0, Past: 20, Target: 20, Parent: -1},
			{Kind: HandlerCatch, Base: 5, Past: 10, Target: 21, Parent: 0},
		},
	})

	// Inside both regions: innermost wins.
	idx := fn.FindHandler(7)
	assert.Equal(t, 1, idx)
	assert.Equal(t, 0, fn.HandlerParent(idx))

	// Only the outer region covers this offset.
	assert.Equal(t, 0, fn.FindHandler(3))
	assert.Equal(t, 0, fn.FindHandler(15))

	// Past is exclusive.
	assert.Equal(t, 0, fn.FindHandler(10))

	// Outside every region.
	assert.Equal(t, -1, fn.FindHandler(21))
	assert.Equal(t, -1, fn.HandlerParent(0))
}

func TestHandlerCovers(t *testing.T) {
	h := Handler{Base: 3, Past: 7}
	assert.False(t, h.Covers(2))
	assert.True(t, h.Covers(3))
	assert.True(t, h.Covers(6))
	assert.False(t, h.Covers(7))
}

func TestEnclosingCallPrep(t *testing.T) {
	// PrepCtorCall at 0, args at 2..3, Call at 4.
	fn := NewFunction(FunctionParams{
		Name: "caller",
		Instructions: []op.Code{
			op.PrepCtorCall, 0,
			op.LoadConst, 0,
			op.Call, 1,
			op.ReturnValue,
		},
		Constants:   []object.Object{object.NewInt(1)},
		CallRegions: []CallRegion{{PrepOffset: 0, Base: 2, Past: 6}},
	})

	assert.Equal(t, op.PrepCtorCall, fn.EnclosingCallPrep(2))
	assert.Equal(t, op.PrepCtorCall, fn.EnclosingCallPrep(4))
	assert.Equal(t, op.Invalid, fn.EnclosingCallPrep(0))
	assert.Equal(t, op.Invalid, fn.EnclosingCallPrep(6))
	assert.Equal(t, -1, fn.FindCallRegion(6))
}

func TestProgramTables(t *testing.T) {
	helper := NewFunction(FunctionParams{Name: "helper"})
	main := NewFunction(FunctionParams{Name: "main"})
	ctor := NewFunction(FunctionParams{
		Name: "init", ClassName: "Widget", IsConstructor: true,
	})
	widget := object.NewClass("Widget", object.WithConstructor())
	gadget := object.NewClass("Gadget", object.WithParent(widget))

	p := NewProgram(ProgramParams{
		Main:      main,
		Functions: []*Function{main, helper, ctor},
		Classes: []ClassBinding{
			{Class: widget, Ctor: ctor},
			{Class: gadget},
		},
		GlobalNames: []string{"result", "count"},
	})

	assert.NotEmpty(t, p.ID())
	assert.Equal(t, main, p.Main())
	assert.Equal(t, 3, p.FunctionCount())
	assert.Equal(t, helper, p.FunctionAt(1))
	assert.Equal(t, 2, p.ClassCount())
	assert.Equal(t, widget, p.ClassAt(0))

	got, ok := p.CtorOf(widget)
	assert.True(t, ok)
	assert.Equal(t, ctor, got)

	// Subclasses without their own binding inherit the ancestor's ctor.
	got, ok = p.CtorOf(gadget)
	assert.True(t, ok)
	assert.Equal(t, ctor, got)

	_, ok = p.CtorOf(object.NewClass("Other"))
	assert.False(t, ok)

	assert.Equal(t, 2, p.GlobalCount())
	assert.Equal(t, "result", p.GlobalNameAt(0))
	assert.Equal(t, "", p.GlobalNameAt(5))
	assert.Equal(t, 1, p.GlobalIndex("count"))
	assert.Equal(t, -1, p.GlobalIndex("missing"))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "plain", KindPlain.String())
	assert.Equal(t, "async", KindAsync.String())
	assert.Equal(t, "generator", KindGenerator.String())
	assert.Equal(t, "async_generator", KindAsyncGenerator.String())
	assert.Equal(t, "builtin", KindBuiltin.String())
	assert.Equal(t, "unknown", Kind(42).String())
}
