package vm

import (
	"github.com/deepnoodle-ai/udon/object"
	"github.com/deepnoodle-ai/udon/program"
)

// UnwindOutcome describes how an unwind pass ended.
type UnwindOutcome uint8

const (
	// OutcomeResumed means a handler took control and execution
	// continues in the handler body.
	OutcomeResumed UnwindOutcome = iota

	// OutcomeAbsorbed means a suspended computation took the exception
	// over and execution continues at the resume point.
	OutcomeAbsorbed

	// OutcomePropagated means the exception left the machine as an
	// error, with its identity preserved.
	OutcomePropagated

	// OutcomeHostFault means a host fault finished tearing down every
	// frame at its nesting level.
	OutcomeHostFault
)

func (o UnwindOutcome) String() string {
	switch o {
	case OutcomeResumed:
		return "resumed"
	case OutcomeAbsorbed:
		return "absorbed"
	case OutcomePropagated:
		return "propagated"
	case OutcomeHostFault:
		return "host_fault"
	default:
		return "unknown"
	}
}

// UnwindObserver receives callbacks while the machine unwinds. It
// exists for debuggers, tracers, and tests that need to see handler
// selection and frame teardown as they happen.
//
// All methods are optional - implementations can embed
// NoOpUnwindObserver to provide default no-op implementations for
// methods they don't need.
//
// Callbacks run synchronously in the middle of unwinding, so
// implementations must not call back into the machine. Unwinding
// cannot be halted from an observer.
type UnwindObserver interface {
	// OnUnwindStart is called when an exception or host fault begins
	// propagating.
	OnUnwindStart(event UnwindStartEvent)

	// OnHandlerEnter is called when the handler search selects a
	// handler and transfers control to it.
	OnHandlerEnter(event HandlerEnterEvent)

	// OnFrameTeardown is called after each frame is torn down.
	OnFrameTeardown(event FrameTeardownEvent)

	// OnChainMerge is called when two fault records merge and their
	// exceptions are chained, or the chain link is refused.
	OnChainMerge(event ChainMergeEvent)

	// OnUnwindEnd is called when propagation stops, with the outcome.
	OnUnwindEnd(event UnwindEndEvent)
}

// UnwindStartEvent describes the beginning of an unwind pass.
type UnwindStartEvent struct {
	// Exception is the thrown value, or nil for a host fault.
	Exception *object.Instance

	// HostErr is the host fault, or nil for a thrown exception.
	HostErr error

	// FrameID identifies the frame propagation starts in.
	FrameID FrameID

	// Offset is the instruction offset of the raise.
	Offset int
}

// HandlerEnterEvent describes a handler taking control.
type HandlerEnterEvent struct {
	// FrameID identifies the frame whose handler runs.
	FrameID FrameID

	// Kind is the handler flavor: catch or fault.
	Kind program.HandlerKind

	// Target is the instruction offset the handler body begins at.
	Target int

	// Handled is the number of handlers tried for this fault at this
	// raise offset, including this one.
	Handled int
}

// FrameTeardownEvent describes one frame being torn down.
type FrameTeardownEvent struct {
	// FrameID identifies the torn-down frame.
	FrameID FrameID

	// Function is the qualified name of the frame's function.
	Function string

	// Suspended is true if the frame belonged to a suspended
	// computation.
	Suspended bool

	// Absorbed is true if the frame's adapter took the exception over,
	// ending propagation.
	Absorbed bool
}

// ChainMergeEvent describes two fault records merging.
type ChainMergeEvent struct {
	// Kept is the exception of the merged record.
	Kept *object.Instance

	// Prior is the older exception that was linked behind Kept, or
	// released if the link was refused.
	Prior *object.Instance

	// Refused is true if linking would have created a cycle and the
	// prior exception was released instead.
	Refused bool
}

// UnwindEndEvent describes the end of an unwind pass.
type UnwindEndEvent struct {
	// Outcome is how propagation stopped.
	Outcome UnwindOutcome

	// FaultDepth is the number of fault records still pending.
	FaultDepth int
}

// NoOpUnwindObserver is an UnwindObserver implementation that does
// nothing. Embed this in your observer to provide default
// implementations for methods you don't need.
type NoOpUnwindObserver struct{}

func (NoOpUnwindObserver) OnUnwindStart(UnwindStartEvent)     {}
func (NoOpUnwindObserver) OnHandlerEnter(HandlerEnterEvent)   {}
func (NoOpUnwindObserver) OnFrameTeardown(FrameTeardownEvent) {}
func (NoOpUnwindObserver) OnChainMerge(ChainMergeEvent)       {}
func (NoOpUnwindObserver) OnUnwindEnd(UnwindEndEvent)         {}

// Ensure NoOpUnwindObserver implements UnwindObserver.
var _ UnwindObserver = NoOpUnwindObserver{}
