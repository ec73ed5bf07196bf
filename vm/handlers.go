package vm

import (
	"go.uber.org/zap"
)

// checkHandlers walks the handler chain of f from the innermost
// handler covering the fault's raise offset outward, skipping the
// handlers the fault has already tried. The first untried handler
// takes control: the fault's handled count grows, the machine jumps to
// the handler target, and execution resumes. Catch and fault handlers
// transfer identically; the difference is in the handler body, which
// begins with a Catch instruction or ends with an Unwind instruction.
func (m *Machine) checkHandlers(f *Frame, idx int, fault *faultRecord) UnwindAction {
	for i := 0; idx != -1; i++ {
		if fault.handled == i {
			h := f.fn.HandlerAt(idx)
			fault.handled++
			m.pc = h.Target
			m.opOffset = h.Target
			m.logger.Debug("handler takes control",
				zap.String("function", f.fn.QualifiedName()),
				zap.String("kind", h.Kind.String()),
				zap.Int("target", h.Target),
				zap.Int("handled", fault.handled))
			if m.observer != nil {
				m.observer.OnHandlerEnter(HandlerEnterEvent{
					FrameID: f.id,
					Kind:    h.Kind,
					Target:  h.Target,
					Handled: fault.handled,
				})
			}
			return ResumeVM
		}
		idx = f.fn.HandlerParent(idx)
	}
	return Propagate
}
