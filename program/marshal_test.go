package program

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/deepnoodle-ai/udon/object"
	"github.com/deepnoodle-ai/udon/op"
)

func TestMarshalRoundTrip(t *testing.T) {
	ctorB := NewBuilder("init").Class("Widget").Ctor().Params(1).Locals(2)
	ctorB.Emit(op.Nil)
	ctorB.Emit(op.ReturnValue)
	ctor := ctorB.MustBuild()

	mainB := NewBuilder("main").Locals(1).LocalNames("w")
	prep := mainB.Emit(op.PrepCtorCall, 0)
	mainB.Emit(op.LoadConst, mainB.Constant(object.NewString("size")))
	mainB.Emit(op.LoadConst, mainB.Constant(object.NewInt(3)))
	mainB.Emit(op.LoadConst, mainB.Constant(object.NewFloat(1.5)))
	mainB.Emit(op.LoadConst, mainB.Constant(object.True))
	mainB.Emit(op.LoadConst, mainB.Constant(object.Nil))
	callOff := mainB.Emit(op.Call, 5)
	mainB.Emit(op.PopTop)
	mainB.Emit(op.Nil)
	mainB.Emit(op.ReturnValue)
	target := mainB.Emit(op.Catch)
	mainB.Emit(op.PopTop)
	mainB.Emit(op.Nil)
	mainB.Emit(op.ReturnValue)
	mainB.Catch(prep, target, target)
	main := mainB.MustBuild()

	widget := object.NewClass("Widget",
		object.WithConstructor(),
		object.WithProperties("size"))
	gadget := object.NewClass("Gadget",
		object.WithParent(widget),
		object.WithProperties("color"))

	src := NewProgram(ProgramParams{
		Main:      main,
		Functions: []*Function{main, ctor},
		Classes: []ClassBinding{
			{Class: widget, Ctor: ctor},
			{Class: gadget},
		},
		GlobalNames: []string{"w"},
	})

	data, err := Marshal(src)
	assert.Nil(t, err)

	got, err := Unmarshal(data)
	assert.Nil(t, err)
	assert.Equal(t, src.ID(), got.ID())
	assert.Equal(t, 2, got.FunctionCount())
	assert.Equal(t, 1, got.GlobalCount())
	assert.Equal(t, "w", got.GlobalNameAt(0))

	gotMain := got.Main()
	assert.Equal(t, main.ID(), gotMain.ID())
	assert.Equal(t, main.InstructionCount(), gotMain.InstructionCount())
	for i := 0; i < main.InstructionCount(); i++ {
		assert.Equal(t, main.InstructionAt(i), gotMain.InstructionAt(i))
	}
	assert.Equal(t, "w", gotMain.LocalNameAt(0))
	assert.Equal(t, "size", gotMain.ConstantAt(0).(*object.String).Value())
	assert.Equal(t, int64(3), gotMain.ConstantAt(1).(*object.Int).Value())
	assert.Equal(t, 1.5, gotMain.ConstantAt(2).(*object.Float).Value())
	assert.Equal(t, object.True, gotMain.ConstantAt(3))
	assert.Equal(t, object.Nil, gotMain.ConstantAt(4))

	// The handler table survives intact.
	assert.Equal(t, 1, gotMain.HandlerCount())
	h := gotMain.HandlerAt(0)
	assert.Equal(t, HandlerCatch, h.Kind)
	assert.Equal(t, prep, h.Base)
	assert.Equal(t, target, h.Past)
	assert.Equal(t, target, h.Target)
	assert.Equal(t, -1, h.Parent)

	// Call-preparation regions survive intact.
	assert.Equal(t, 1, gotMain.CallRegionCount())
	assert.Equal(t, op.PrepCtorCall, gotMain.EnclosingCallPrep(callOff))

	// Classes come back with the same slot layout and ctor bindings.
	assert.Equal(t, 2, got.ClassCount())
	gotWidget := got.ClassAt(0)
	gotGadget := got.ClassAt(1)
	assert.Equal(t, "Widget", gotWidget.Name())
	assert.Equal(t, gotWidget, gotGadget.Parent())
	assert.Equal(t, 1, gotWidget.NumSlots())
	assert.Equal(t, 2, gotGadget.NumSlots())
	slot, ok := gotGadget.SlotOf("size")
	assert.True(t, ok)
	assert.Equal(t, 0, slot)
	slot, ok = gotGadget.SlotOf("color")
	assert.True(t, ok)
	assert.Equal(t, 1, slot)

	gotCtor, ok := got.CtorOf(gotWidget)
	assert.True(t, ok)
	assert.Equal(t, ctor.ID(), gotCtor.ID())
	assert.True(t, gotCtor.IsConstructor())

	// The subclass inherits the ctor binding through the parent chain.
	gotCtor, ok = got.CtorOf(gotGadget)
	assert.True(t, ok)
	assert.Equal(t, ctor.ID(), gotCtor.ID())
}

func TestMarshalThrowableSubclass(t *testing.T) {
	custom := object.NewClass("TimeoutException",
		object.WithParent(object.ExceptionClass))
	main := NewBuilder("main").MustBuild()
	src := NewProgram(ProgramParams{
		Main:    main,
		Classes: []ClassBinding{{Class: custom}},
	})

	data, err := Marshal(src)
	assert.Nil(t, err)
	got, err := Unmarshal(data)
	assert.Nil(t, err)

	// The parent resolves against the built-in throwable classes and
	// the fixed slot layout is preserved.
	cls := got.ClassAt(0)
	assert.Equal(t, object.ExceptionClass, cls.Parent())
	assert.True(t, cls.IsSubclassOf(object.ThrowableClass))
	slot, ok := cls.SlotOf("previous")
	assert.True(t, ok)
	assert.Equal(t, object.SlotPrevious, slot)
}

func TestMarshalBuiltinRebinding(t *testing.T) {
	called := false
	impl := func(ctx context.Context, args ...object.Object) (object.Object, error) {
		called = true
		return object.Nil, nil
	}
	debugBreak := NewFunction(FunctionParams{
		Name:    "debug_break",
		Kind:    KindBuiltin,
		Builtin: impl,
	})
	main := NewBuilder("main").MustBuild()
	src := NewProgram(ProgramParams{
		Main:      main,
		Functions: []*Function{main, debugBreak},
	})

	data, err := Marshal(src)
	assert.Nil(t, err)

	// Without a binding map the host function comes back nil.
	got, err := Unmarshal(data)
	assert.Nil(t, err)
	assert.Nil(t, got.FunctionAt(1).Builtin())

	got, err = UnmarshalWithBuiltins(data, map[string]object.BuiltinFunction{
		"debug_break": impl,
	})
	assert.Nil(t, err)
	rebound := got.FunctionAt(1).Builtin()
	assert.NotNil(t, rebound)
	_, err = rebound(context.Background())
	assert.Nil(t, err)
	assert.True(t, called)
}

func TestMarshalUnsupportedConstant(t *testing.T) {
	fn := NewFunction(FunctionParams{
		Name:      "bad",
		Constants: []object.Object{object.NewClass("Widget")},
	})
	src := NewProgram(ProgramParams{Main: fn})
	_, err := Marshal(src)
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "unable to marshal constant of type class")
}

func TestUnmarshalUnknownConstantType(t *testing.T) {
	data := []byte(`{
		"id": "p",
		"main_index": 0,
		"functions": [{
			"id": "f", "name": "main", "kind": 0,
			"param_count": 0, "local_count": 0,
			"instructions": [],
			"constants": [{"type": "blob"}]
		}]
	}`)
	_, err := Unmarshal(data)
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), `unable to unmarshal constant of type "blob"`)
}

func TestUnmarshalUnknownParent(t *testing.T) {
	data := []byte(`{
		"id": "p",
		"main_index": -1,
		"functions": [],
		"classes": [{"name": "Orphan", "parent": "Missing", "ctor_index": -1}]
	}`)
	_, err := Unmarshal(data)
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), `class "Orphan": unknown parent "Missing"`)
}
