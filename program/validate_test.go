package program

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/deepnoodle-ai/udon/object"
	"github.com/deepnoodle-ai/udon/op"
)

func noopBuiltin(ctx context.Context, args ...object.Object) (object.Object, error) {
	return object.Nil, nil
}

func validFn(mutate func(*FunctionParams)) *Function {
	params := FunctionParams{
		Name: "f",
		Instructions: []op.Code{
			op.Nop, op.Nil, op.ReturnValue, op.Catch, op.PopTop,
		},
	}
	if mutate != nil {
		mutate(&params)
	}
	return NewFunction(params)
}

func TestValidateOK(t *testing.T) {
	fn := validFn(func(p *FunctionParams) {
		p.Handlers = []Handler{
			{Kind: HandlerCatch, Base: 0, Past: 2, Target: 3, Parent: -1},
		}
	})
	assert.Nil(t, Validate(fn))
}

func TestValidateHandlerRegionBounds(t *testing.T) {
	fn := validFn(func(p *FunctionParams) {
		p.Handlers = []Handler{
			{Kind: HandlerCatch, Base: 2, Past: 2, Target: 3, Parent: -1},
			{Kind: HandlerCatch, Base: 0, Past: 99, Target: 3, Parent: -1},
		}
	})
	err := Validate(fn)
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "handler 0: region [2, 2) out of bounds")
	assert.Contains(t, err.Error(), "handler 1: region [0, 99) out of bounds")
}

func TestValidateHandlerTarget(t *testing.T) {
	fn := validFn(func(p *FunctionParams) {
		p.Handlers = []Handler{
			{Kind: HandlerCatch, Base: 0, Past: 2, Target: 99, Parent: -1},
			{Kind: HandlerCatch, Base: 0, Past: 2, Target: 1, Parent: 0},
		}
	})
	err := Validate(fn)
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "handler 0: target 99 out of bounds")
	assert.Contains(t, err.Error(), "handler 1: catch target 1 is NIL, not CATCH")
}

func TestValidateHandlerParentOrder(t *testing.T) {
	fn := validFn(func(p *FunctionParams) {
		p.Handlers = []Handler{
			{Kind: HandlerCatch, Base: 0, Past: 2, Target: 3, Parent: 1},
			{Kind: HandlerCatch, Base: 0, Past: 2, Target: 3, Parent: -1},
		}
	})
	err := Validate(fn)
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "handler 0: parent 1 does not precede it")
}

func TestValidateHandlerPartialOverlap(t *testing.T) {
	fn := validFn(func(p *FunctionParams) {
		p.Handlers = []Handler{
			{Kind: HandlerCatch, Base: 0, Past: 2, Target: 3, Parent: -1},
			{Kind: HandlerCatch, Base: 1, Past: 3, Target: 3, Parent: -1},
		}
	})
	err := Validate(fn)
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "partially overlaps handler 0")
}

func TestValidateNestedHandlersAllowed(t *testing.T) {
	fn := validFn(func(p *FunctionParams) {
		p.Handlers = []Handler{
			{Kind: HandlerFault, Base: 0, Past: 3, Target: 3, Parent: -1},
			{Kind: HandlerCatch, Base: 1, Past: 2, Target: 3, Parent: 0},
		}
	})
	assert.Nil(t, Validate(fn))
}

func TestValidateCallRegions(t *testing.T) {
	fn := validFn(func(p *FunctionParams) {
		p.CallRegions = []CallRegion{
			{PrepOffset: 99, Base: 0, Past: 2},
			{PrepOffset: 0, Base: 0, Past: 2},
			{PrepOffset: 1, Base: 4, Past: 2},
		}
	})
	err := Validate(fn)
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "call region 0: preparation offset 99 out of bounds")
	assert.Contains(t, err.Error(), "call region 1: offset 0 holds NOP, not a call preparation")
	assert.Contains(t, err.Error(), "call region 2: range [4, 2) out of bounds")
}

func TestValidateBuiltin(t *testing.T) {
	empty := NewFunction(FunctionParams{Name: "b", Kind: KindBuiltin})
	err := Validate(empty)
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), `builtin function "b" has no host function`)

	wrong := validFn(func(p *FunctionParams) {
		p.Builtin = noopBuiltin
	})
	err = Validate(wrong)
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), `function "f" has a host function but kind plain`)
}

func TestValidateLocalCount(t *testing.T) {
	fn := validFn(func(p *FunctionParams) {
		p.ParamCount = 3
		p.LocalCount = 1
	})
	err := Validate(fn)
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "local count 1 is less than param count 3")
}

func TestValidateConstructorClass(t *testing.T) {
	fn := validFn(func(p *FunctionParams) {
		p.IsConstructor = true
	})
	err := Validate(fn)
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), `constructor "f" has no class`)
}
