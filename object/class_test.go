package object

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassSlotLayout(t *testing.T) {
	parent := NewClass("Base", WithProperties("a", "b"))
	child := NewClass("Child", WithParent(parent), WithProperties("c"))

	assert.Equal(t, 2, parent.NumSlots())
	assert.Equal(t, 3, child.NumSlots())

	// Parent slots keep their indexes in the child.
	idx, ok := child.SlotOf("a")
	assert.True(t, ok)
	assert.Equal(t, 0, idx)
	idx, ok = child.SlotOf("b")
	assert.True(t, ok)
	assert.Equal(t, 1, idx)
	idx, ok = child.SlotOf("c")
	assert.True(t, ok)
	assert.Equal(t, 2, idx)

	_, ok = parent.SlotOf("c")
	assert.False(t, ok)
	_, ok = child.SlotOf("missing")
	assert.False(t, ok)

	assert.Equal(t, "a", child.SlotName(0))
	assert.Equal(t, "c", child.SlotName(2))
}

func TestClassRedeclaredProperty(t *testing.T) {
	parent := NewClass("Base", WithProperties("x"))
	child := NewClass("Child", WithParent(parent), WithProperties("x", "y"))

	// Redeclaring x must not add a second slot.
	assert.Equal(t, 2, child.NumSlots())
	idx, ok := child.SlotOf("x")
	assert.True(t, ok)
	assert.Equal(t, 0, idx)
}

func TestClassCtorResolution(t *testing.T) {
	grandparent := NewClass("A", WithConstructor())
	parent := NewClass("B", WithParent(grandparent))
	child := NewClass("C", WithParent(parent), WithConstructor())

	assert.Equal(t, grandparent, parent.CtorClass())
	assert.Equal(t, child, child.CtorClass())
	assert.Nil(t, NewClass("Plain").CtorClass())
}

func TestClassDestructorResolution(t *testing.T) {
	dtor := func(inst *Instance) error { return nil }
	parent := NewClass("Base", WithDestructor(dtor))
	child := NewClass("Child", WithParent(parent))
	plain := NewClass("Plain")

	assert.True(t, parent.HasDestructor())
	assert.True(t, child.HasDestructor())
	assert.NotNil(t, child.ResolveDestructor())
	assert.False(t, plain.HasDestructor())
	assert.Nil(t, plain.ResolveDestructor())
}

func TestClassIsSubclassOf(t *testing.T) {
	a := NewClass("A")
	b := NewClass("B", WithParent(a))
	c := NewClass("C", WithParent(b))
	other := NewClass("Other")

	assert.True(t, c.IsSubclassOf(c))
	assert.True(t, c.IsSubclassOf(b))
	assert.True(t, c.IsSubclassOf(a))
	assert.False(t, a.IsSubclassOf(c))
	assert.False(t, c.IsSubclassOf(other))
}

func TestClassBasics(t *testing.T) {
	c := NewClass("Point", WithProperties("x", "y"))
	assert.Equal(t, CLASS, c.Type())
	assert.Equal(t, "Point", c.Name())
	assert.Equal(t, "class(Point)", c.Inspect())
	assert.Equal(t, "Point", c.Interface())
	assert.True(t, c.Equals(c))
	assert.False(t, c.Equals(NewClass("Point")))
	assert.True(t, c.IsTruthy())
}
