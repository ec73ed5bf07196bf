package vm

import (
	"go.uber.org/zap"

	"github.com/deepnoodle-ai/udon/object"
	"github.com/deepnoodle-ai/udon/op"
	"github.com/deepnoodle-ai/udon/program"
)

// releaseFrameLocals releases the frame's locals and receiver exactly
// once. Destructor failures during the release are routed through
// discardReference: a thrown exception is dropped, a host fault is
// held for the next dispatch point. Either way the release runs to
// completion so no local keeps a stale reference.
func (m *Machine) releaseFrameLocals(f *Frame) {
	if f.localsReleased {
		return
	}
	f.localsReleased = true
	for i := len(f.locals) - 1; i >= 0; i-- {
		obj := f.locals[i]
		f.locals[i] = nil
		m.discardReference(obj)
	}
	if f.receiver != nil {
		m.discardReference(f.receiver)
	}
}

// guardConstructorReceiver suppresses the destructor of a receiver
// whose constructor frame is being torn down before it completed. The
// caller's call-preparation region proves the frame really was entered
// through a constructor call: receivers of plain method calls on the
// same function do not qualify.
func (m *Machine) guardConstructorReceiver(f *Frame, offset int) {
	if op.IsReturn(f.fn.OpAt(offset)) || f.localsReleased {
		return
	}
	if f.receiver == nil || f.fn.ClassName() == "" {
		return
	}
	recvClass := f.receiver.Class()
	ctor, ok := m.prog.CtorOf(recvClass)
	if !ok || ctor != f.fn || !recvClass.HasDestructor() {
		return
	}
	prevFrame, prevOffset, ok := m.prevVMState(f)
	if !ok {
		return
	}
	if op.IsConstructorCall(prevFrame.fn.EnclosingCallPrep(prevOffset)) {
		f.receiver.SetNoDestruct()
		m.logger.Debug("suppressed destructor of unconstructed receiver",
			zap.String("class", recvClass.Name()))
	}
}

// tearDownFrame removes f from the machine after its evaluation stack
// has been discarded, and decides where the propagating exception goes
// next. The returned exception is nil if a suspended computation took
// it over, in which case propagation stops and execution resumes in
// the frame below. offset is the instruction offset teardown happens
// at within f.
//
// Eager frames release their locals and disappear. An eager async
// function frame absorbs the exception into a failed future left
// behind as the call's result, unless the call awaited the result in
// place, in which case the exception propagates like a plain call's
// would. Suspended frames settle their adapters: an async function
// fails its future, an async generator fails whichever handle its
// consumer holds, and a plain generator is finished but the exception
// keeps propagating to whoever resumed it.
func (m *Machine) tearDownFrame(f *Frame, offset int, exc *object.Instance) *object.Instance {
	m.guardConstructorReceiver(f, offset)

	// The frame's whole share of the stack is discarded no matter
	// which path settles the frame, pending call records included: a
	// preparation whose arguments sat below a protected region's
	// height survives the raise-time walk, but once the frame is gone
	// nothing can complete the call. Handler bodies are not obliged to
	// leave the stack clean before an Unwind.
	m.discardStackTemps(f, program.InvalidOffset)

	absorbed := false
	if !f.resumed {
		m.releaseFrameLocals(f)
		if f.fn.IsAsync() && exc != nil && !f.awaitCalled {
			m.push(object.FailedFuture(exc))
			exc = nil
			absorbed = true
		}
	} else {
		switch f.suspend {
		case suspendFuture:
			if exc != nil {
				if err := f.future.Fail(exc); err != nil {
					m.logger.Error("failed to settle future during teardown", zap.Error(err))
					m.discardReference(exc)
				}
				exc = nil
				absorbed = true
				m.releaseFrameLocals(f)
			} else if f.future.Running() {
				f.future.FailHost()
				m.releaseFrameLocals(f)
			}
		case suspendAsyncGenerator:
			if exc != nil {
				eager, err := f.agen.Fail(exc)
				if err != nil {
					m.logger.Error("failed to settle async generator during teardown", zap.Error(err))
				}
				if eager != nil {
					m.push(eager)
				}
				exc = nil
				absorbed = true
				m.releaseFrameLocals(f)
			} else if f.agen.Eager() || f.agen.Running() {
				f.agen.FailHost()
				m.releaseFrameLocals(f)
			}
		case suspendGenerator:
			// The generator is finished for good, but the exception
			// keeps propagating to the frame that resumed it.
			f.gen.Fail()
			m.releaseFrameLocals(f)
		default:
			if m.debugChecks {
				m.logger.DPanic("resumed frame has no suspend variant",
					zap.String("function", f.fn.QualifiedName()))
			}
			m.releaseFrameLocals(f)
		}
		if adapter := f.adapter(); adapter != nil {
			delete(m.suspended, adapter)
		}
	}

	if m.observer != nil {
		m.observer.OnFrameTeardown(FrameTeardownEvent{
			FrameID:   f.id,
			Function:  f.fn.QualifiedName(),
			Suspended: f.resumed,
			Absorbed:  absorbed,
		})
	}
	m.logger.Debug("frame torn down",
		zap.String("function", f.fn.QualifiedName()),
		zap.Uint64("frame", uint64(f.id)),
		zap.Bool("absorbed", absorbed))

	m.frameDepth--
	if f.caller == nil {
		m.frame = nil
		return exc
	}
	m.frame = f.caller
	m.pc = f.returnOffset
	m.opOffset = f.returnOffset
	return exc
}
