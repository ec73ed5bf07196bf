package vm

import (
	"go.uber.org/zap"

	"github.com/deepnoodle-ai/udon/op"
)

// discardStackTemps clears everything the frame owns above the stack
// height the protected region covering raiseOffset maintains:
// temporary values and any call still being prepared. Arguments above
// each pre-live record are released first, then the record itself. A
// constructor record whose call never happened marks its receiver so
// the destructor will not run when the receiver's last reference
// drops; the object was never fully constructed. Outside every
// protected region the target height is the frame's base, so the
// frame's whole share of the stack is discarded.
func (m *Machine) discardStackTemps(f *Frame, raiseOffset int) {
	target := f.stackBase + f.fn.StackDepthAt(raiseOffset)
	for len(m.preps) > 0 {
		rec := m.preps[len(m.preps)-1]
		if rec.frame != f || rec.spos < target {
			break
		}
		m.popStackTo(rec.spos)
		if rec.receiver != nil {
			if rec.prepOp == op.PrepCtorCall {
				rec.receiver.SetNoDestruct()
			}
			m.discardReference(rec.receiver)
		}
		m.preps = m.preps[:len(m.preps)-1]
		m.logger.Debug("discarded pending call",
			zap.String("function", rec.fn.QualifiedName()),
			zap.Int("prep_offset", rec.prepOffset))
	}
	m.popStackTo(target)
}

// discardMemberScratch drops the scratch references a member access
// run was holding, if the raising instruction was part of such a run.
// Outside a member run the scratch slots are empty and there is
// nothing to do.
func (m *Machine) discardMemberScratch(raiseOp op.Code) {
	if !op.IsMemberAccess(raiseOp) {
		return
	}
	m.clearMemberScratch()
}

// clearMemberScratch releases both scratch slots. Called when a member
// access run completes or is abandoned by the unwinder.
func (m *Machine) clearMemberScratch() {
	for i := range m.scratch {
		obj := m.scratch[i]
		if obj == nil {
			continue
		}
		m.scratch[i] = nil
		m.discardReference(obj)
	}
	m.scratchIdx = 0
}
