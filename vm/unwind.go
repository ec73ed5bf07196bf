package vm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/deepnoodle-ai/udon/errz"
	"github.com/deepnoodle-ai/udon/object"
)

// UnwindAction tells the dispatch loop what to do after an unwind
// pass.
type UnwindAction uint8

const (
	// Propagate means no handler took the exception and it leaves the
	// machine as an error.
	Propagate UnwindAction = iota

	// ResumeVM means execution continues: a handler took control, or a
	// suspended computation absorbed the exception.
	ResumeVM
)

func (a UnwindAction) String() string {
	switch a {
	case Propagate:
		return "propagate"
	case ResumeVM:
		return "resume"
	default:
		return "unknown"
	}
}

// Thrown is the error a program exception becomes when it leaves the
// machine without being handled. The exception value keeps its
// identity: the same instance a handler would have received, carrying
// one reference that now belongs to the holder of the error.
type Thrown struct {
	Exception *object.Instance
}

// Error implements the error interface.
func (t *Thrown) Error() string {
	msg := object.Message(t.Exception)
	if msg == "" {
		return fmt.Sprintf("uncaught exception: %s", t.Exception.Class().Name())
	}
	return fmt.Sprintf("uncaught exception: %s: %s", t.Exception.Class().Name(), msg)
}

// AsThrown returns the Thrown in err's chain, if any.
func AsThrown(err error) (*Thrown, bool) {
	if thrown, ok := err.(*Thrown); ok {
		return thrown, true
	}
	return nil, false
}

// Throw raises exc in the machine's current frame. The machine takes
// its own reference on exc; the caller keeps whatever reference it
// holds. The returned action is ResumeVM if a handler or a suspended
// computation took the exception, or Propagate with a *Thrown error
// carrying it out of the machine.
func (m *Machine) Throw(exc *object.Instance) (UnwindAction, error) {
	if exc == nil {
		return Propagate, errz.NewHostFault(errz.FaultInternal, "throw of a nil exception")
	}
	if m.debugChecks && !object.IsThrowable(exc) {
		m.logger.DPanic("thrown value is not throwable",
			zap.String("class", exc.Class().Name()))
	}
	if m.frame == nil {
		return Propagate, errz.NewHostFault(errz.FaultInternal, "throw with no active frame")
	}
	object.Retain(exc)
	m.faults = append(m.faults, unboundFault(exc))
	m.logger.Debug("exception thrown",
		zap.String("class", exc.Class().Name()),
		zap.String("message", object.Message(exc)),
		zap.Int("fault_depth", len(m.faults)))
	if m.observer != nil {
		m.observer.OnUnwindStart(UnwindStartEvent{
			Exception: exc,
			FrameID:   m.frame.id,
			Offset:    m.opOffset,
		})
	}
	return m.Unwind()
}

// Unwind propagates the newest pending fault from the machine's
// current position. The dispatch loop calls it for a fresh throw by
// way of Throw, and again from the Unwind instruction that ends a
// cleanup handler's body.
//
// The unwinder works on a value copy of the fault record and writes it
// back at well-defined points, so host code that re-enters the machine
// while a destructor runs can raise and handle its own exceptions
// without corrupting this one.
func (m *Machine) Unwind() (UnwindAction, error) {
	if len(m.faults) == 0 {
		return Propagate, errz.NewHostFault(errz.FaultInternal, "unwind with no pending fault")
	}
	if m.frame == nil {
		return Propagate, errz.NewHostFault(errz.FaultInternal, "unwind with no active frame")
	}
	fault := m.faults[len(m.faults)-1]
	offset := m.opOffset
	m.discardMemberScratch(m.frame.fn.OpAt(offset))

	for {
		f := m.frame
		discard := false
		if !fault.bound() {
			fault.raiseNesting = len(m.saved)
			fault.raiseFrame = f.id
			fault.raiseOffset = offset
			fault.handled = 0
			discard = true
			m.logger.Debug("fault bound", fault.zapFields()...)
		}
		for {
			if discard {
				m.discardStackTemps(f, fault.raiseOffset)
				discard = false
			}
			// A frame whose locals are already gone cannot run a
			// handler, and neither can any frame while a destructor's
			// host fault is waiting to be delivered. The fault still
			// chains so a merged record propagates correctly.
			if m.pendingHost == nil && !f.localsReleased {
				if idx := f.fn.FindHandler(fault.raiseOffset); idx != -1 {
					if m.checkHandlers(f, idx, &fault) == ResumeVM {
						m.faults[len(m.faults)-1] = fault
						if m.observer != nil {
							m.observer.OnUnwindEnd(UnwindEndEvent{
								Outcome:    OutcomeResumed,
								FaultDepth: len(m.faults),
							})
						}
						return ResumeVM, nil
					}
				}
			}
			if !m.chainFaults(&fault) {
				break
			}
		}

		exc := m.tearDownFrame(f, offset, fault.exception)
		if exc == nil {
			m.faults = m.faults[:len(m.faults)-1]
			if m.observer != nil {
				m.observer.OnUnwindEnd(UnwindEndEvent{
					Outcome:    OutcomeAbsorbed,
					FaultDepth: len(m.faults),
				})
			}
			return ResumeVM, nil
		}
		fault.exception = exc
		fault.unbind()
		m.faults[len(m.faults)-1] = fault
		if m.frame == nil {
			break
		}
		// The walk continues at the call site that created the frame
		// just torn down, so protected regions ending at the call
		// still cover the raise.
		offset = f.callOffset
	}

	m.faults = m.faults[:len(m.faults)-1]

	// A host fault produced by a destructor along the way outranks the
	// exception, which has no frame left to handle it anyway.
	if m.pendingHost != nil {
		hostErr := m.pendingHost
		m.pendingHost = nil
		m.discardReference(fault.exception)
		if m.observer != nil {
			m.observer.OnUnwindEnd(UnwindEndEvent{
				Outcome:    OutcomeHostFault,
				FaultDepth: len(m.faults),
			})
		}
		return Propagate, hostErr
	}

	// No frame handled the fault: it leaves the machine with its
	// exception's identity intact.
	if m.observer != nil {
		m.observer.OnUnwindEnd(UnwindEndEvent{
			Outcome:    OutcomePropagated,
			FaultDepth: len(m.faults),
		})
	}
	m.logger.Debug("exception propagates out of the machine",
		zap.String("class", fault.exception.Class().Name()))
	return Propagate, &Thrown{Exception: fault.exception}
}

// UnwindHost tears down every frame at the current nesting level on
// behalf of a host fault. Program handlers never see a host fault:
// frames are discarded, pending program faults raised inside them are
// dropped, suspended computations are aborted, and the fault itself
// is returned enriched with the frames it crossed.
func (m *Machine) UnwindHost(hostErr error) error {
	if hostErr == nil {
		hostErr = errz.NewHostFault(errz.FaultInternal, "host unwind with no fault")
	}
	if m.unwindingHost {
		if m.debugChecks {
			m.logger.DPanic("re-entered host unwinding")
		}
		return hostErr
	}
	m.unwindingHost = true
	defer func() { m.unwindingHost = false }()

	m.logger.Debug("host fault unwinding", zap.Error(hostErr))
	if m.observer != nil && m.frame != nil {
		m.observer.OnUnwindStart(UnwindStartEvent{
			HostErr: hostErr,
			FrameID: m.frame.id,
			Offset:  m.opOffset,
		})
	}
	offset := m.opOffset
	if m.frame != nil {
		m.discardMemberScratch(m.frame.fn.OpAt(offset))
	}
	hf, isFault := errz.AsHostFault(hostErr)

	for m.frame != nil {
		f := m.frame

		// Program faults raised inside this frame die with it.
		for len(m.faults) > 0 {
			fault := m.faults[len(m.faults)-1]
			if fault.raiseFrame != f.id || fault.raiseNesting != len(m.saved) {
				break
			}
			m.faults = m.faults[:len(m.faults)-1]
			m.logger.Debug("discarding program fault", fault.zapFields()...)
			m.discardReference(fault.exception)
		}

		// No handler will run; tearDownFrame discards the frame's
		// whole share of the stack, protected regions notwithstanding.
		if leftover := m.tearDownFrame(f, offset, nil); leftover != nil {
			if m.debugChecks {
				m.logger.DPanic("host teardown produced an exception")
			}
			m.discardReference(leftover)
		}
		if isFault {
			hf.WithFrame(f.fn.QualifiedName(), offset)
		}
		offset = f.callOffset
	}

	// A destructor fault raised while frames were discarded loses to
	// the fault already propagating.
	if m.pendingHost != nil {
		m.logger.Warn("suppressing destructor fault raised during host unwinding",
			zap.Error(m.pendingHost))
		m.pendingHost = nil
	}

	if m.observer != nil {
		m.observer.OnUnwindEnd(UnwindEndEvent{
			Outcome:    OutcomeHostFault,
			FaultDepth: len(m.faults),
		})
	}
	return hostErr
}

// UnwindBuiltinFrame discards the current frame, which must belong to
// one of the host functions known to be safe to unwind in place, and
// resumes the caller with nil as the call's result. Used by debugger
// and coverage hooks that need to abandon their own activation.
func (m *Machine) UnwindBuiltinFrame() error {
	f := m.frame
	if f == nil || !f.fn.IsBuiltin() {
		return errz.NewHostFault(errz.FaultInternal, "no builtin frame to unwind")
	}
	if !unwindableBuiltins[f.fn.Name()] {
		return errz.NewHostFaultf(errz.FaultInternal,
			"frame of host function %s cannot be unwound in place", f.fn.QualifiedName())
	}
	if f.caller == nil {
		return errz.NewHostFault(errz.FaultInternal, "builtin frame has no caller")
	}
	m.popStackTo(f.stackBase)
	m.releaseFrameLocals(f)
	m.frameDepth--
	m.frame = f.caller
	m.pc = f.returnOffset
	m.opOffset = f.returnOffset
	m.push(object.Nil)
	m.logger.Debug("builtin frame unwound",
		zap.String("function", f.fn.QualifiedName()))
	if m.observer != nil {
		m.observer.OnFrameTeardown(FrameTeardownEvent{
			FrameID:  f.id,
			Function: f.fn.QualifiedName(),
		})
	}
	return nil
}

// unwindableBuiltins names the host functions whose frames may be
// abandoned in place by UnwindBuiltinFrame.
var unwindableBuiltins = map[string]bool{
	"debug_break":      true,
	"coverage_enable":  true,
	"coverage_disable": true,
}

// raise routes an error produced mid-instruction into the unwinder. A
// *Thrown error is a program exception and runs the handler machinery;
// anything else is a host fault that tears down the nesting level. A
// nil return means execution continues.
func (m *Machine) raise(err error) error {
	if thrown, ok := AsThrown(err); ok {
		action, perr := m.Throw(thrown.Exception)
		m.discardReference(thrown.Exception)
		if action == ResumeVM {
			return nil
		}
		return perr
	}
	return m.UnwindHost(err)
}

// thrown wraps a freshly created exception for the raise path, with
// the single reference the creator holds riding along.
func thrown(exc *object.Instance) *Thrown {
	return &Thrown{Exception: exc}
}

// throwError creates an instance of the runtime error class carrying
// msg and returns it as a *Thrown, ready for raise.
func throwError(format string, args ...any) *Thrown {
	return thrown(object.NewException(object.ErrorClass, fmt.Sprintf(format, args...)))
}
