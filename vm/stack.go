package vm

import (
	"go.uber.org/zap"

	"github.com/deepnoodle-ai/udon/object"
	"github.com/deepnoodle-ai/udon/op"
	"github.com/deepnoodle-ai/udon/program"
)

// poisonedSlot overwrites vacated stack slots when debug checks are
// enabled, so a stale read shows up as this value instead of silently
// reusing a discarded one.
var poisonedSlot object.Object = object.NewString("<poisoned stack slot>")

// callRec is a pre-live activation record: a call has been prepared
// and its arguments are still being evaluated above spos. The record
// becomes a frame at the matching Call, or is discarded by the
// unwinder if a throw interrupts argument evaluation.
type callRec struct {
	frame      *Frame // frame whose code prepared the call
	prepOp     op.Code
	prepOffset int
	fn         *program.Function
	receiver   *object.Instance // ctor/method receiver; the record owns one reference
	spos       int              // stack depth when the record was pushed
}

// push appends a value to the evaluation stack, taking over whatever
// reference the caller holds on it.
func (m *Machine) push(obj object.Object) {
	m.stack = append(m.stack, obj)
}

// pop removes and returns the top of the stack, transferring its
// reference to the caller.
func (m *Machine) pop() object.Object {
	n := len(m.stack) - 1
	obj := m.stack[n]
	m.stack = m.stack[:n]
	return obj
}

// top returns the top of the stack without popping it.
func (m *Machine) top() object.Object {
	return m.stack[len(m.stack)-1]
}

// popStackTo releases every value above depth. Destructor failures are
// routed through discardReference and never escape.
func (m *Machine) popStackTo(depth int) {
	high := len(m.stack)
	for len(m.stack) > depth {
		n := len(m.stack) - 1
		obj := m.stack[n]
		m.stack = m.stack[:n]
		m.discardReference(obj)
	}
	if m.debugChecks && high > depth {
		spare := m.stack[:high]
		for i := depth; i < high; i++ {
			spare[i] = poisonedSlot
		}
	}
}

// discardReference releases one reference during a discard pass. A
// destructor that throws a program exception here has nowhere for it
// to go, so the exception is logged and dropped. A destructor that
// fails at the host level poisons the machine: the fault is held and
// delivered at the next dispatch point, and handler searches are
// skipped until then.
func (m *Machine) discardReference(obj object.Object) {
	if obj == nil {
		return
	}
	err := object.Release(obj)
	if err == nil {
		return
	}
	if thrown, ok := err.(*Thrown); ok {
		m.logger.Warn("exception thrown from destructor during discard",
			zap.String("class", thrown.Exception.Class().Name()),
			zap.String("message", object.Message(thrown.Exception)))
		if rerr := object.Release(thrown.Exception); rerr != nil {
			m.logger.Error("failed to discard destructor exception", zap.Error(rerr))
		}
		return
	}
	if m.pendingHost == nil {
		m.pendingHost = err
	}
	m.logger.Error("host fault from destructor during discard", zap.Error(err))
}
