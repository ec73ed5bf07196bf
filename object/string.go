package object

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/deepnoodle-ai/udon/op"
)

type String struct {
	value string
}

func (s *String) GetAttr(name string) (Object, bool) {
	return nil, false
}

func (s *String) SetAttr(name string, value Object) error {
	return TypeErrorf("type error: string has no attribute %q", name)
}

func (s *String) Type() Type {
	return STRING
}

func (s *String) Value() string {
	return s.value
}

func (s *String) Inspect() string {
	sLen := len(s.value)
	if sLen >= 2 {
		if s.value[0] == '"' && s.value[sLen-1] == '"' {
			if strings.Count(s.value, "\"") == 2 {
				return fmt.Sprintf("'%s'", s.value)
			}
		}
	}
	return fmt.Sprintf("%q", s.value)
}

func (s *String) String() string {
	return s.value
}

func (s *String) Interface() interface{} {
	return s.value
}

func (s *String) Compare(other Object) (int, error) {
	otherStr, ok := other.(*String)
	if !ok {
		return 0, TypeErrorf("type error: unable to compare string and %s", other.Type())
	}
	return strings.Compare(s.value, otherStr.value), nil
}

func (s *String) Equals(other Object) bool {
	otherStr, ok := other.(*String)
	if !ok {
		return false
	}
	return s.value == otherStr.value
}

func (s *String) IsTruthy() bool {
	return s.value != ""
}

func (s *String) RunOperation(opType op.BinaryOpType, right Object) (Object, error) {
	switch right := right.(type) {
	case *String:
		switch opType {
		case op.Add:
			return NewString(s.value + right.value), nil
		default:
			return nil, TypeErrorf("type error: unsupported operation for string: %v", opType)
		}
	case *Int:
		switch opType {
		case op.Multiply:
			if right.value < 0 {
				return nil, ValueErrorf("value error: negative repeat count")
			}
			return NewString(strings.Repeat(s.value, int(right.value))), nil
		default:
			return nil, TypeErrorf("type error: unsupported operation for string: %v", opType)
		}
	default:
		return nil, TypeErrorf("type error: unsupported operation for string: %v on type %s", opType, right.Type())
	}
}

func (s *String) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.value)
}

func NewString(value string) *String {
	return &String{value: value}
}
