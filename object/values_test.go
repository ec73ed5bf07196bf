package object

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/udon/op"
)

func TestTruthiness(t *testing.T) {
	tests := []struct {
		obj  Object
		want bool
	}{
		{True, true},
		{False, false},
		{Nil, false},
		{NewInt(0), false},
		{NewInt(-3), true},
		{NewFloat(0.0), false},
		{NewFloat(0.1), true},
		{NewString(""), false},
		{NewString("x"), true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.obj.IsTruthy(), tt.obj.Inspect())
	}
}

func TestBinaryOpArithmetic(t *testing.T) {
	tests := []struct {
		name   string
		opType op.BinaryOpType
		left   Object
		right  Object
		want   Object
	}{
		{"int add", op.Add, NewInt(2), NewInt(3), NewInt(5)},
		{"int subtract", op.Subtract, NewInt(2), NewInt(3), NewInt(-1)},
		{"int multiply", op.Multiply, NewInt(4), NewInt(3), NewInt(12)},
		{"int divide", op.Divide, NewInt(7), NewInt(2), NewInt(3)},
		{"int modulo", op.Modulo, NewInt(7), NewInt(2), NewInt(1)},
		{"int power", op.Power, NewInt(2), NewInt(10), NewInt(1024)},
		{"int xor", op.Xor, NewInt(6), NewInt(3), NewInt(5)},
		{"int lshift", op.LShift, NewInt(1), NewInt(4), NewInt(16)},
		{"int rshift", op.RShift, NewInt(16), NewInt(2), NewInt(4)},
		{"int and bits", op.BitwiseAnd, NewInt(6), NewInt(3), NewInt(2)},
		{"int or bits", op.BitwiseOr, NewInt(6), NewInt(3), NewInt(7)},
		{"int float mix", op.Add, NewInt(1), NewFloat(0.5), NewFloat(1.5)},
		{"float divide", op.Divide, NewFloat(1.0), NewFloat(4.0), NewFloat(0.25)},
		{"string concat", op.Add, NewString("ab"), NewString("cd"), NewString("abcd")},
		{"string repeat", op.Multiply, NewString("ab"), NewInt(3), NewString("ababab")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BinaryOp(tt.opType, tt.left, tt.right)
			require.Nil(t, err)
			assert.True(t, tt.want.Equals(got),
				"want %s, got %s", tt.want.Inspect(), got.Inspect())
		})
	}
}

func TestBinaryOpErrors(t *testing.T) {
	_, err := BinaryOp(op.Divide, NewInt(1), NewInt(0))
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "division by zero")

	_, err = BinaryOp(op.Modulo, NewInt(1), NewInt(0))
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "division by zero")

	_, err = BinaryOp(op.Multiply, NewString("ab"), NewInt(-1))
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "negative repeat count")

	_, err = BinaryOp(op.Add, NewInt(1), NewString("x"))
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "unsupported operation")

	_, err = BinaryOp(op.Subtract, Nil, NewInt(1))
	require.NotNil(t, err)
}

func TestBinaryOpShortCircuit(t *testing.T) {
	a := NewString("a")
	b := NewString("b")
	empty := NewString("")

	// And yields the right side when the left is truthy, the left
	// otherwise; Or is the mirror image. No type constraint applies.
	got, err := BinaryOp(op.And, a, b)
	require.Nil(t, err)
	assert.Same(t, b, got)
	got, err = BinaryOp(op.And, empty, b)
	require.Nil(t, err)
	assert.Same(t, empty, got)
	got, err = BinaryOp(op.Or, a, b)
	require.Nil(t, err)
	assert.Same(t, a, got)
	got, err = BinaryOp(op.Or, empty, b)
	require.Nil(t, err)
	assert.Same(t, b, got)
}

func TestCompareOrdering(t *testing.T) {
	tests := []struct {
		name   string
		opType op.CompareOpType
		left   Object
		right  Object
		want   bool
	}{
		{"int lt", op.LessThan, NewInt(1), NewInt(2), true},
		{"int lte equal", op.LessThanOrEqual, NewInt(2), NewInt(2), true},
		{"int gt", op.GreaterThan, NewInt(1), NewInt(2), false},
		{"int gte", op.GreaterThanOrEqual, NewInt(3), NewInt(2), true},
		{"int float mix", op.LessThan, NewInt(1), NewFloat(1.5), true},
		{"string order", op.LessThan, NewString("apple"), NewString("banana"), true},
		{"bool order", op.LessThan, False, True, true},
		{"eq across types", op.Equal, NewInt(1), NewString("1"), false},
		{"neq across types", op.NotEqual, NewInt(1), NewString("1"), true},
		{"nil equals nil", op.Equal, Nil, Nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compare(tt.opType, tt.left, tt.right)
			require.Nil(t, err)
			assert.Equal(t, NewBool(tt.want), got)
		})
	}
}

func TestCompareNotComparable(t *testing.T) {
	_, err := Compare(op.LessThan, Nil, NewInt(1))
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "comparable")
}

func TestRetainReleaseIgnoresUncountedValues(t *testing.T) {
	// Only instances participate in the reference count protocol;
	// plain values pass through the helpers untouched.
	v := NewInt(42)
	Retain(v)
	require.Nil(t, Release(v))

	inst := NewInstance(NewClass("Thing"))
	Retain(inst)
	assert.Equal(t, 2, inst.RefCount())
	require.Nil(t, Release(inst))
	assert.Equal(t, 1, inst.RefCount())
}

func TestInspect(t *testing.T) {
	assert.Equal(t, "42", NewInt(42).Inspect())
	assert.Equal(t, "true", True.Inspect())
	assert.Equal(t, "nil", Nil.Inspect())
	assert.Equal(t, `"hi"`, NewString("hi").Inspect())
}
