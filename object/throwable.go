package object

// Throwable classes share a fixed property slot layout. The unwinder
// reads and writes the previous slot directly when it merges faults,
// so the layout is part of the runtime contract and subclasses may
// only append slots after these.
const (
	SlotMessage  = 0
	SlotCode     = 1
	SlotFile     = 2
	SlotLine     = 3
	SlotTrace    = 4
	SlotPrevious = 5
)

var throwableProps = []string{"message", "code", "file", "line", "trace", "previous"}

var (
	// ThrowableClass is the root class of everything a program can throw.
	ThrowableClass = NewClass("Throwable",
		WithProperties(throwableProps...),
		WithConstructor())

	// ExceptionClass is the base class for recoverable conditions.
	ExceptionClass = NewClass("Exception", WithParent(ThrowableClass))

	// ErrorClass is the base class for conditions raised by the runtime
	// on behalf of the program, such as type errors.
	ErrorClass = NewClass("Error", WithParent(ThrowableClass))
)

// NewException creates an instance of the given throwable class with a
// single reference and the message slot populated.
func NewException(class *Class, message string) *Instance {
	inst := NewInstance(class)
	inst.SetSlot(SlotMessage, NewString(message))
	return inst
}

// IsThrowable reports whether obj is an instance of a class descending
// from Throwable.
func IsThrowable(obj Object) bool {
	inst, ok := obj.(*Instance)
	if !ok {
		return false
	}
	return inst.class.IsSubclassOf(ThrowableClass)
}

// Message returns the message slot of a throwable as a Go string, or
// "" if the slot does not hold a string.
func Message(exc *Instance) string {
	if s, ok := exc.GetSlot(SlotMessage).(*String); ok {
		return s.value
	}
	return ""
}

// Previous returns the raw value of exc's previous slot. Programs can
// store arbitrary values there, so callers must check the type.
func Previous(exc *Instance) Object {
	return exc.GetSlot(SlotPrevious)
}

// SetPrevious writes prev into exc's previous slot without touching
// reference counts. Callers transfer ownership of the reference they
// hold on prev.
func SetPrevious(exc *Instance, prev Object) {
	exc.SetSlot(SlotPrevious, prev)
}
