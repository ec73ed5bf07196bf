package object

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/deepnoodle-ai/udon/op"
)

// Int wraps int64 and implements Object.
type Int struct {
	value int64
}

func (i *Int) GetAttr(name string) (Object, bool) {
	return nil, false
}

func (i *Int) SetAttr(name string, value Object) error {
	return TypeErrorf("type error: int has no attribute %q", name)
}

func (i *Int) Inspect() string {
	return strconv.FormatInt(i.value, 10)
}

func (i *Int) Type() Type {
	return INT
}

func (i *Int) Value() int64 {
	return i.value
}

func (i *Int) Interface() interface{} {
	return i.value
}

func (i *Int) String() string {
	return i.Inspect()
}

func (i *Int) Compare(other Object) (int, error) {
	switch other := other.(type) {
	case *Int:
		if i.value == other.value {
			return 0, nil
		}
		if i.value > other.value {
			return 1, nil
		}
		return -1, nil
	case *Float:
		thisFloat := float64(i.value)
		if thisFloat == other.value {
			return 0, nil
		}
		if thisFloat > other.value {
			return 1, nil
		}
		return -1, nil
	default:
		return 0, TypeErrorf("type error: unable to compare int and %s", other.Type())
	}
}

func (i *Int) Equals(other Object) bool {
	switch other := other.(type) {
	case *Int:
		return i.value == other.value
	case *Float:
		return float64(i.value) == other.value
	}
	return false
}

func (i *Int) IsTruthy() bool {
	return i.value != 0
}

func (i *Int) RunOperation(opType op.BinaryOpType, right Object) (Object, error) {
	switch right := right.(type) {
	case *Int:
		return i.runOperationInt(opType, right.value)
	case *Float:
		return i.runOperationFloat(opType, right.value)
	default:
		return nil, TypeErrorf("type error: unsupported operation for int: %v on type %s", opType, right.Type())
	}
}

func (i *Int) runOperationInt(opType op.BinaryOpType, right int64) (Object, error) {
	switch opType {
	case op.Add:
		return NewInt(i.value + right), nil
	case op.Subtract:
		return NewInt(i.value - right), nil
	case op.Multiply:
		return NewInt(i.value * right), nil
	case op.Divide:
		if right == 0 {
			return nil, ValueErrorf("value error: division by zero")
		}
		return NewInt(i.value / right), nil
	case op.Modulo:
		if right == 0 {
			return nil, ValueErrorf("value error: division by zero")
		}
		return NewInt(i.value % right), nil
	case op.Power:
		return NewInt(int64(math.Pow(float64(i.value), float64(right)))), nil
	case op.Xor:
		return NewInt(i.value ^ right), nil
	case op.LShift:
		return NewInt(i.value << uint(right)), nil
	case op.RShift:
		return NewInt(i.value >> uint(right)), nil
	case op.BitwiseAnd:
		return NewInt(i.value & right), nil
	case op.BitwiseOr:
		return NewInt(i.value | right), nil
	default:
		return nil, TypeErrorf("type error: unsupported operation for int: %v", opType)
	}
}

func (i *Int) runOperationFloat(opType op.BinaryOpType, right float64) (Object, error) {
	left := float64(i.value)
	switch opType {
	case op.Add:
		return NewFloat(left + right), nil
	case op.Subtract:
		return NewFloat(left - right), nil
	case op.Multiply:
		return NewFloat(left * right), nil
	case op.Divide:
		return NewFloat(left / right), nil
	case op.Power:
		return NewFloat(math.Pow(left, right)), nil
	default:
		return nil, TypeErrorf("type error: unsupported operation for int: %v", opType)
	}
}

func (i *Int) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.value)
}

func NewInt(value int64) *Int {
	return &Int{value: value}
}
