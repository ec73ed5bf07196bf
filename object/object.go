// Package object provides the set of Udon object types.
//
// For external users of Udon, often an object.Object interface
// will be type asserted to a specific object type, such as *object.Int.
//
// For example:
//
//	switch obj := obj.(type) {
//	case *object.String:
//		// do something with obj.Value()
//	case *object.Instance:
//		// do something with obj.Class()
//	}
//
// The Type() method of each object may also be used to get a string
// name of the object type, such as "string" or "instance".
//
// Class instances carry reference counts. The counts do not manage
// memory, which belongs to the Go runtime. They decide when an
// instance's destructor runs: the transition to zero is an observable
// event for executing programs, so the virtual machine maintains the
// counts precisely while the evaluation stack and call frames are
// discarded.
package object

import (
	"sort"

	"github.com/deepnoodle-ai/udon/op"
)

// Type of an object as a string.
type Type string

// Type constants
const (
	BOOL            Type = "bool"
	BUILTIN         Type = "builtin"
	CLASS           Type = "class"
	FLOAT           Type = "float"
	FUTURE          Type = "future"
	GENERATOR       Type = "generator"
	ASYNC_GENERATOR Type = "async_generator"
	INSTANCE        Type = "instance"
	INT             Type = "int"
	NIL             Type = "nil"
	STRING          Type = "string"
)

var (
	Nil   = &NilType{}
	True  = &Bool{value: true}
	False = &Bool{value: false}
)

// Object is the interface that all object types in Udon must implement.
type Object interface {
	// Type of the object.
	Type() Type

	// Inspect returns a string representation of the given object.
	Inspect() string

	// Interface converts the given object to a native Go value.
	Interface() interface{}

	// Returns true if the given object is equal to this object.
	Equals(other Object) bool

	// GetAttr returns the attribute with the given name from this object.
	GetAttr(name string) (Object, bool)

	// SetAttr sets the attribute with the given name on this object.
	SetAttr(name string, value Object) error

	// IsTruthy returns true if the object is considered "truthy".
	IsTruthy() bool

	// RunOperation runs an operation on this object with the given
	// right-hand side object.
	RunOperation(opType op.BinaryOpType, right Object) (Object, error)
}

// RefCounted is implemented by objects whose destructor timing depends
// on a reference count. All other objects ignore the count protocol.
type RefCounted interface {
	Object

	// Retain increments the reference count.
	Retain()

	// Release decrements the reference count. When the count reaches
	// zero the object's destructor runs, and any error it produced is
	// returned.
	Release() error

	// RefCount returns the current reference count.
	RefCount() int
}

// Retain increments obj's reference count if it is counted.
func Retain(obj Object) {
	if rc, ok := obj.(RefCounted); ok {
		rc.Retain()
	}
}

// Release decrements obj's reference count if it is counted. The error
// is non-nil only if the decrement ran a destructor and the destructor
// failed or threw.
func Release(obj Object) error {
	if rc, ok := obj.(RefCounted); ok {
		return rc.Release()
	}
	return nil
}

// Comparable is an interface used to compare two objects.
//
//	-1 if this < other
//	 0 if this == other
//	 1 if this > other
type Comparable interface {
	Compare(other Object) (int, error)
}

func CompareTypes(a, b Object) int {
	aType := a.Type()
	bType := b.Type()
	if aType != bType {
		if aType < bType {
			return -1
		}
		return 1
	}
	return 0
}

// Keys returns the keys of an object map as a sorted slice of strings.
func Keys(m map[string]Object) []string {
	var names []string
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
