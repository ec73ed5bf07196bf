package program

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/deepnoodle-ai/udon/object"
	"github.com/deepnoodle-ai/udon/op"
)

func TestBuilderEmit(t *testing.T) {
	b := NewBuilder("emit")
	assert.Equal(t, 0, b.Offset())
	assert.Equal(t, 0, b.Emit(op.LoadConst, 0))
	assert.Equal(t, 2, b.Offset())
	assert.Equal(t, 2, b.Emit(op.ReturnValue))
	b.Constant(object.NewInt(7))

	fn, err := b.Build()
	assert.Nil(t, err)
	assert.Equal(t, 3, fn.InstructionCount())
	assert.Equal(t, op.LoadConst, fn.OpAt(0))
	assert.Equal(t, op.Code(0), fn.OpAt(1))
	assert.Equal(t, op.ReturnValue, fn.OpAt(2))
}

func TestBuilderOperandCountMismatch(t *testing.T) {
	b := NewBuilder("bad")
	b.Emit(op.LoadConst) // LOAD_CONST takes one operand
	b.Emit(op.ReturnValue)
	_, err := b.Build()
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "expected 1 operands, got 0")
}

func TestBuilderUnknownOpcode(t *testing.T) {
	b := NewBuilder("bad")
	b.Emit(op.Code(250))
	b.Emit(op.ReturnValue)
	_, err := b.Build()
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "unknown opcode 250")
}

func TestBuilderCallRegions(t *testing.T) {
	b := NewBuilder("caller")
	one := b.Constant(object.NewInt(1))
	prep := b.Emit(op.PrepCall, 0)
	b.Emit(op.LoadConst, one)
	call := b.Emit(op.Call, 1)
	b.Emit(op.ReturnValue)

	fn, err := b.Build()
	assert.Nil(t, err)
	assert.Equal(t, 1, fn.CallRegionCount())
	region := fn.CallRegionAt(0)
	assert.Equal(t, prep, region.PrepOffset)
	assert.Equal(t, prep+2, region.Base)
	assert.Equal(t, call+2, region.Past)
	assert.Equal(t, op.PrepCall, fn.EnclosingCallPrep(2))
	assert.Equal(t, op.PrepCall, fn.EnclosingCallPrep(4))
	assert.Equal(t, op.Invalid, fn.EnclosingCallPrep(6))
}

func TestBuilderNestedCallRegions(t *testing.T) {
	// new Widget(helper()): the inner call's arguments sit inside the
	// outer constructor preparation region.
	b := NewBuilder("caller")
	outer := b.Emit(op.PrepCtorCall, 0)
	inner := b.Emit(op.PrepCall, 1)
	innerCall := b.Emit(op.Call, 0)
	outerCall := b.Emit(op.Call, 1)
	b.Emit(op.ReturnValue)

	fn, err := b.Build()
	assert.Nil(t, err)
	assert.Equal(t, 2, fn.CallRegionCount())

	// The inner pair resolves first.
	assert.Equal(t, inner, fn.CallRegionAt(0).PrepOffset)
	assert.Equal(t, outer, fn.CallRegionAt(1).PrepOffset)

	// The innermost covering region wins at each offset.
	assert.Equal(t, op.PrepCall, fn.EnclosingCallPrep(innerCall))
	assert.Equal(t, op.PrepCtorCall, fn.EnclosingCallPrep(outerCall))
}

func TestBuilderDanglingPrep(t *testing.T) {
	b := NewBuilder("dangling")
	b.Emit(op.PrepCall, 0)
	b.Emit(op.ReturnValue)
	_, err := b.Build()
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "call preparations have no matching call")
}

func TestBuilderCallWithoutPrep(t *testing.T) {
	b := NewBuilder("orphan")
	b.Emit(op.Call, 0)
	b.Emit(op.ReturnValue)
	_, err := b.Build()
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "no open call preparation")
}

func TestBuilderInterning(t *testing.T) {
	b := NewBuilder("intern")
	one := object.NewInt(1)
	assert.Equal(t, 0, b.Constant(one))
	assert.Equal(t, 1, b.Constant(object.NewInt(2)))
	assert.Equal(t, 0, b.Constant(one))
	assert.Equal(t, 0, b.Name("x"))
	assert.Equal(t, 1, b.Name("y"))
	assert.Equal(t, 0, b.Name("x"))
}

func TestBuilderHandlerOrdering(t *testing.T) {
	// Register the inner region first; Build must still order the outer
	// region ahead of it and point the child at its parent.
	b := NewBuilder("handlers")
	for i := 0; i < 10; i++ {
		b.Emit(op.Nop)
	}
	catchOuter := b.Emit(op.Catch)
	b.Emit(op.PopTop)
	catchInner := b.Emit(op.Catch)
	b.Emit(op.PopTop)
	b.Emit(op.Nil)
	b.Emit(op.ReturnValue)
	b.Catch(4, 8, catchInner)
	b.Catch(0, 10, catchOuter)

	fn, err := b.Build()
	assert.Nil(t, err)
	assert.Equal(t, 2, fn.HandlerCount())
	assert.Equal(t, 0, fn.HandlerAt(0).Base)
	assert.Equal(t, -1, fn.HandlerAt(0).Parent)
	assert.Equal(t, 4, fn.HandlerAt(1).Base)
	assert.Equal(t, 0, fn.HandlerAt(1).Parent)
}

func TestBuilderSiblingHandlers(t *testing.T) {
	// Two disjoint regions under one enclosing region.
	b := NewBuilder("siblings")
	for i := 0; i < 12; i++ {
		b.Emit(op.Nop)
	}
	t0 := b.Emit(op.Catch)
	b.Emit(op.PopTop)
	t1 := b.Emit(op.Catch)
	b.Emit(op.PopTop)
	t2 := b.Emit(op.Catch)
	b.Emit(op.PopTop)
	b.Emit(op.Nil)
	b.Emit(op.ReturnValue)
	b.Catch(0, 12, t0)
	b.Catch(1, 4, t1)
	b.Catch(6, 9, t2)

	fn, err := b.Build()
	assert.Nil(t, err)
	assert.Equal(t, 3, fn.HandlerCount())
	assert.Equal(t, 0, fn.HandlerAt(1).Parent)
	assert.Equal(t, 0, fn.HandlerAt(2).Parent)
	assert.Equal(t, 1, fn.FindHandler(2))
	assert.Equal(t, 2, fn.FindHandler(7))
	assert.Equal(t, 0, fn.FindHandler(5))
}

func TestBuilderFaultHandler(t *testing.T) {
	b := NewBuilder("cleanup")
	b.Emit(op.Nop)
	b.Emit(op.Nil)
	ret := b.Emit(op.ReturnValue)
	target := b.Emit(op.Nop)
	b.Emit(op.Unwind)
	b.Fault(0, ret, target)

	fn, err := b.Build()
	assert.Nil(t, err)
	assert.Equal(t, HandlerFault, fn.HandlerAt(0).Kind)
	assert.Equal(t, target, fn.HandlerAt(0).Target)
}

func TestBuilderMetadata(t *testing.T) {
	fn, err := NewBuilder("init").
		Class("Widget").
		Ctor().
		Kind(KindPlain).
		Params(2).
		Locals(3).
		LocalNames("this", "size", "tmp").
		Build()
	assert.Nil(t, err)
	assert.True(t, fn.IsConstructor())
	assert.Equal(t, "Widget::init", fn.QualifiedName())
	assert.Equal(t, 2, fn.ParamCount())
	assert.Equal(t, 3, fn.LocalCount())
	assert.Equal(t, 3, fn.LocalNameCount())
	assert.Equal(t, "size", fn.LocalNameAt(1))
}

func TestMustBuildPanics(t *testing.T) {
	assert.Panics(t, func() {
		b := NewBuilder("bad")
		b.Emit(op.Call, 0)
		b.MustBuild()
	})
}
