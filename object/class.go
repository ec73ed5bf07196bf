package object

import (
	"fmt"

	"github.com/deepnoodle-ai/udon/op"
)

// DestructorFunc runs when an instance's reference count reaches zero.
// A destructor may itself fail or throw; Release surfaces that error to
// the caller, which decides whether to propagate or discard it.
type DestructorFunc func(inst *Instance) error

// Class describes a user-visible class: its property slot layout, its
// place in an inheritance chain, and whether it declares a constructor
// or destructor of its own.
type Class struct {
	*base
	name       string
	parent     *Class
	ownProps   []string
	slotNames  []string
	slotIndex  map[string]int
	hasCtor    bool
	destructor DestructorFunc
}

// ClassOption configures a Class under construction.
type ClassOption func(*Class)

// WithParent sets the parent class.
func WithParent(parent *Class) ClassOption {
	return func(c *Class) {
		c.parent = parent
	}
}

// WithProperties declares the property slots this class adds. Slots
// are laid out parent first, so a property's index never changes in
// subclasses that do not redeclare it.
func WithProperties(names ...string) ClassOption {
	return func(c *Class) {
		c.ownProps = append(c.ownProps, names...)
	}
}

// WithConstructor marks the class as declaring its own constructor.
func WithConstructor() ClassOption {
	return func(c *Class) {
		c.hasCtor = true
	}
}

// WithDestructor sets the destructor for instances of this class.
func WithDestructor(fn DestructorFunc) ClassOption {
	return func(c *Class) {
		c.destructor = fn
	}
}

// NewClass creates a new class with the given name and options.
func NewClass(name string, opts ...ClassOption) *Class {
	c := &Class{name: name}
	for _, opt := range opts {
		opt(c)
	}
	if c.parent != nil {
		c.slotNames = append(c.slotNames, c.parent.slotNames...)
	}
	c.slotIndex = make(map[string]int, len(c.slotNames)+len(c.ownProps))
	for i, n := range c.slotNames {
		c.slotIndex[n] = i
	}
	for _, n := range c.ownProps {
		if _, exists := c.slotIndex[n]; exists {
			continue // redeclared properties share the parent's slot
		}
		c.slotIndex[n] = len(c.slotNames)
		c.slotNames = append(c.slotNames, n)
	}
	return c
}

// Name returns the class name.
func (c *Class) Name() string {
	return c.name
}

// Parent returns the parent class, or nil.
func (c *Class) Parent() *Class {
	return c.parent
}

// NumSlots returns the total number of property slots, including
// inherited ones.
func (c *Class) NumSlots() int {
	return len(c.slotNames)
}

// SlotOf returns the slot index of the named property.
func (c *Class) SlotOf(name string) (int, bool) {
	idx, ok := c.slotIndex[name]
	return idx, ok
}

// SlotName returns the property name at the given slot index.
func (c *Class) SlotName(idx int) string {
	return c.slotNames[idx]
}

// CtorClass returns the class whose constructor instances of c run:
// c itself if it declares one, otherwise the nearest ancestor that
// does. Returns nil if no class in the chain declares a constructor.
func (c *Class) CtorClass() *Class {
	for cls := c; cls != nil; cls = cls.parent {
		if cls.hasCtor {
			return cls
		}
	}
	return nil
}

// DeclaresDestructor reports whether this class itself declares a
// destructor, as opposed to inheriting one.
func (c *Class) DeclaresDestructor() bool {
	return c.destructor != nil
}

// BindDestructor attaches a destructor after construction. Destructors
// are host functions and do not survive serialization, so program
// loaders rebind them.
func (c *Class) BindDestructor(fn DestructorFunc) {
	c.destructor = fn
}

// ResolveDestructor returns the destructor instances of c run, which
// may be inherited. Returns nil if no class in the chain declares one.
func (c *Class) ResolveDestructor() DestructorFunc {
	for cls := c; cls != nil; cls = cls.parent {
		if cls.destructor != nil {
			return cls.destructor
		}
	}
	return nil
}

// HasDestructor reports whether instances of c have a destructor,
// declared or inherited.
func (c *Class) HasDestructor() bool {
	return c.ResolveDestructor() != nil
}

// IsSubclassOf reports whether c is other or descends from other.
func (c *Class) IsSubclassOf(other *Class) bool {
	for cls := c; cls != nil; cls = cls.parent {
		if cls == other {
			return true
		}
	}
	return false
}

func (c *Class) Type() Type {
	return CLASS
}

func (c *Class) Inspect() string {
	return fmt.Sprintf("class(%s)", c.name)
}

func (c *Class) String() string {
	return c.Inspect()
}

func (c *Class) Interface() interface{} {
	return c.name
}

func (c *Class) Equals(other Object) bool {
	otherClass, ok := other.(*Class)
	if !ok {
		return false
	}
	return c == otherClass
}

func (c *Class) RunOperation(opType op.BinaryOpType, right Object) (Object, error) {
	return nil, fmt.Errorf("type error: unsupported operation for class: %v", opType)
}
