package object

import (
	"fmt"

	"github.com/deepnoodle-ai/udon/errz"
	"github.com/deepnoodle-ai/udon/op"
)

// Instance is a reference-counted instance of a Class. The count does
// not manage memory; it decides when the destructor runs. A new
// instance starts with one reference owned by the creator.
type Instance struct {
	class      *Class
	refs       int
	slots      []Object
	noDestruct bool
	destructed bool
}

// NewInstance creates an instance of the given class with a single
// reference and every slot set to nil.
func NewInstance(class *Class) *Instance {
	slots := make([]Object, class.NumSlots())
	for i := range slots {
		slots[i] = Nil
	}
	return &Instance{class: class, refs: 1, slots: slots}
}

// Class returns the class of this instance.
func (i *Instance) Class() *Class {
	return i.class
}

// Retain increments the reference count.
func (i *Instance) Retain() {
	i.refs++
}

// Release decrements the reference count. At zero the destructor runs
// exactly once, unless it was suppressed with SetNoDestruct. The error
// is whatever the destructor produced.
func (i *Instance) Release() error {
	if i.refs <= 0 {
		return errz.NewHostFaultf(errz.FaultInternal,
			"reference count underflow on %s instance", i.class.name)
	}
	i.refs--
	if i.refs > 0 {
		return nil
	}
	if i.destructed {
		return nil
	}
	i.destructed = true
	if i.noDestruct {
		return nil
	}
	dtor := i.class.ResolveDestructor()
	if dtor == nil {
		return nil
	}
	return dtor(i)
}

// RefCount returns the current reference count.
func (i *Instance) RefCount() int {
	return i.refs
}

// SetNoDestruct suppresses the destructor for this instance. Used for
// receivers whose constructor never completed.
func (i *Instance) SetNoDestruct() {
	i.noDestruct = true
}

// NoDestruct reports whether the destructor is suppressed.
func (i *Instance) NoDestruct() bool {
	return i.noDestruct
}

// Destructed reports whether the instance reached the end of its
// lifetime, whether or not the destructor actually ran.
func (i *Instance) Destructed() bool {
	return i.destructed
}

// GetSlot returns the value in the given property slot. It does not
// touch reference counts.
func (i *Instance) GetSlot(idx int) Object {
	return i.slots[idx]
}

// SetSlot writes the given property slot directly, without adjusting
// reference counts. Callers transfer ownership of any reference they
// hold on value.
func (i *Instance) SetSlot(idx int, value Object) {
	i.slots[idx] = value
}

func (i *Instance) GetAttr(name string) (Object, bool) {
	idx, ok := i.class.SlotOf(name)
	if !ok {
		return nil, false
	}
	return i.slots[idx], true
}

// SetAttr writes a property by name with full reference accounting:
// the new value is retained and the old value released. The error is
// whatever destructor the release may have run produced.
func (i *Instance) SetAttr(name string, value Object) error {
	idx, ok := i.class.SlotOf(name)
	if !ok {
		return TypeErrorf("type error: %s has no property %q", i.class.name, name)
	}
	old := i.slots[idx]
	Retain(value)
	i.slots[idx] = value
	return Release(old)
}

func (i *Instance) Type() Type {
	return INSTANCE
}

func (i *Instance) Inspect() string {
	return fmt.Sprintf("instance(%s)", i.class.name)
}

func (i *Instance) String() string {
	return i.Inspect()
}

func (i *Instance) Interface() interface{} {
	props := make(map[string]interface{}, len(i.slots))
	for idx, v := range i.slots {
		props[i.class.SlotName(idx)] = v.Interface()
	}
	return props
}

func (i *Instance) Equals(other Object) bool {
	otherInst, ok := other.(*Instance)
	if !ok {
		return false
	}
	return i == otherInst
}

func (i *Instance) IsTruthy() bool {
	return true
}

func (i *Instance) RunOperation(opType op.BinaryOpType, right Object) (Object, error) {
	return nil, fmt.Errorf("type error: unsupported operation for %s instance: %v", i.class.name, opType)
}
