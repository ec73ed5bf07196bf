package vm

import (
	"github.com/deepnoodle-ai/udon/object"
	"github.com/deepnoodle-ai/udon/program"
)

// FrameID identifies a frame for the lifetime of a Machine. Fault
// records hold frame identifiers instead of frame pointers so that a
// record can outlive the frame it was bound to without keeping the
// frame alive or dereferencing it later.
type FrameID uint64

// suspendKind tags how a frame suspends, which decides where its
// exception lands when the frame is torn down mid-unwind.
type suspendKind uint8

const (
	// suspendNone frames run eagerly and complete by returning.
	suspendNone suspendKind = iota
	// suspendFuture frames settle a future instead of rethrowing.
	suspendFuture
	// suspendGenerator frames finish their generator and rethrow.
	suspendGenerator
	// suspendAsyncGenerator frames settle whichever handle their
	// consumer holds.
	suspendAsyncGenerator
)

// Frame is one function activation. Eager frames form a chain through
// caller; a frame that suspends detaches from the chain and is owned
// by its adapter object until a driver resumes it.
type Frame struct {
	fn     *program.Function
	caller *Frame // nil at the root of a nesting level

	// callOffset is the offset of the Call instruction in the caller,
	// used to find the call-preparation region that created this frame.
	// returnOffset is where the caller resumes.
	callOffset   int
	returnOffset int

	// receiver is the method or constructor receiver. The frame owns
	// one reference, released with the locals.
	receiver *object.Instance

	locals         []object.Object
	localsReleased bool

	// stackBase is the evaluation stack depth the frame started at.
	// Everything above it belongs to this frame and is discarded when
	// the frame unwinds.
	stackBase int

	id FrameID

	// resumed is true once the frame has suspended at least once. A
	// resumed frame no longer returns to a caller: it settles its
	// adapter instead.
	resumed      bool
	awaitCalled  bool // entered via CallAwait
	suspend      suspendKind
	future       *object.Future
	gen          *object.Generator
	agen         *object.AsyncGenerator
	resumeOffset int
}

// ID returns the frame's identity token.
func (f *Frame) ID() FrameID {
	return f.id
}

// Function returns the function this frame executes.
func (f *Frame) Function() *program.Function {
	return f.fn
}

// LocalsReleased reports whether the frame's locals have already been
// released, by a return or by the unwinder.
func (f *Frame) LocalsReleased() bool {
	return f.localsReleased
}

// adapter returns the suspendable handle the frame settles into, or
// nil for eager frames.
func (f *Frame) adapter() object.Object {
	switch f.suspend {
	case suspendFuture:
		return f.future
	case suspendGenerator:
		return f.gen
	case suspendAsyncGenerator:
		return f.agen
	}
	return nil
}
