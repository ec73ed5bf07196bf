package object

import (
	"fmt"

	"github.com/deepnoodle-ai/udon/op"
)

// FutureState describes where a future is in its lifecycle.
type FutureState int

const (
	// FuturePending means the computation has not produced a result.
	FuturePending FutureState = iota
	// FutureSucceeded means the computation completed with a value.
	FutureSucceeded
	// FutureFailed means the computation completed with an exception.
	FutureFailed
	// FutureAborted means the computation was torn down by a host
	// fault and has no program-visible result.
	FutureAborted
)

func (s FutureState) String() string {
	switch s {
	case FuturePending:
		return "pending"
	case FutureSucceeded:
		return "succeeded"
	case FutureFailed:
		return "failed"
	case FutureAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Future is the handle for a suspendable computation's eventual result.
// An async function frame that unwinds settles its future instead of
// returning, so awaiting callers observe the exception later.
type Future struct {
	*base
	state   FutureState
	running bool
	result  Object
	failure *Instance
}

// NewFuture creates a pending future.
func NewFuture() *Future {
	return &Future{state: FuturePending}
}

// SucceededFuture creates a future that already completed with result.
func SucceededFuture(result Object) *Future {
	return &Future{state: FutureSucceeded, result: result}
}

// FailedFuture creates a future that already failed with exc. It takes
// over the reference the caller holds on exc.
func FailedFuture(exc *Instance) *Future {
	return &Future{state: FutureFailed, failure: exc}
}

// State returns the future's lifecycle state.
func (f *Future) State() FutureState {
	return f.state
}

// Running reports whether the computation is executing right now.
func (f *Future) Running() bool {
	return f.running
}

// SetRunning marks the computation as executing or suspended.
func (f *Future) SetRunning(running bool) {
	f.running = running
}

// Succeed settles the future with a value.
func (f *Future) Succeed(result Object) error {
	if f.state != FuturePending {
		return fmt.Errorf("future already %s", f.state)
	}
	f.state = FutureSucceeded
	f.result = result
	f.running = false
	return nil
}

// Fail settles the future with an exception, taking over the reference
// the caller holds on exc.
func (f *Future) Fail(exc *Instance) error {
	if f.state != FuturePending {
		return fmt.Errorf("future already %s", f.state)
	}
	f.state = FutureFailed
	f.failure = exc
	f.running = false
	return nil
}

// FailHost marks the future aborted by a host fault. Awaiting it
// afterward is a runtime error, never a program-visible exception.
func (f *Future) FailHost() {
	if f.state != FuturePending {
		return
	}
	f.state = FutureAborted
	f.running = false
}

// Result returns the value the future succeeded with.
func (f *Future) Result() Object {
	return f.result
}

// Failure returns the exception the future failed with. The future
// keeps its reference; callers that propagate the exception must
// retain it themselves.
func (f *Future) Failure() *Instance {
	return f.failure
}

func (f *Future) Type() Type {
	return FUTURE
}

func (f *Future) Inspect() string {
	return fmt.Sprintf("future(%s)", f.state)
}

func (f *Future) String() string {
	return f.Inspect()
}

func (f *Future) Interface() interface{} {
	if f.state == FutureSucceeded && f.result != nil {
		return f.result.Interface()
	}
	return nil
}

func (f *Future) Equals(other Object) bool {
	otherFuture, ok := other.(*Future)
	if !ok {
		return false
	}
	return f == otherFuture
}

func (f *Future) RunOperation(opType op.BinaryOpType, right Object) (Object, error) {
	return nil, fmt.Errorf("type error: unsupported operation for future: %v", opType)
}
