package vm

import (
	"go.uber.org/zap"

	"github.com/deepnoodle-ai/udon/object"
)

// chainFaults merges the in-flight fault with the next pending record
// when both were raised in the same frame at the same nesting level:
// the scenario of a throw from inside a handler that was already
// handling a throw. The merged fault keeps the newer exception, adopts
// the older record's raise offset and handled count so the handler
// search continues outward instead of re-entering the handler that
// just failed, and chains the older exception behind the newer one.
//
// The fault stack's top entry is the caller's stale copy of fault; it
// is replaced by the merged record. Returns true if a merge happened
// and the handler search should run again.
func (m *Machine) chainFaults(fault *faultRecord) bool {
	m.faults = m.faults[:len(m.faults)-1]
	if len(m.faults) == 0 {
		m.faults = append(m.faults, *fault)
		return false
	}
	prev := m.faults[len(m.faults)-1]
	if fault.raiseNesting == prev.raiseNesting && fault.raiseFrame == prev.raiseFrame {
		fault.raiseOffset = prev.raiseOffset
		fault.handled = prev.handled
		m.chainExceptions(fault.exception, prev.exception)
		m.faults = m.faults[:len(m.faults)-1]
		m.faults = append(m.faults, *fault)
		return true
	}
	m.faults = append(m.faults, *fault)
	return false
}

// chainExceptions links prev behind the tail of top's previous chain,
// taking over the reference the merged-away record held on prev. If
// the link would create a cycle, or either chain already contains one,
// prev's reference is released instead and no link is made.
func (m *Machine) chainExceptions(top, prev *object.Instance) {
	seen := map[*object.Instance]struct{}{}

	tail := top
	for {
		if tail == prev {
			m.refuseChainLink(top, prev)
			return
		}
		if _, dup := seen[tail]; dup {
			m.refuseChainLink(top, prev)
			return
		}
		seen[tail] = struct{}{}
		next, ok := object.Previous(tail).(*object.Instance)
		if !ok || !object.IsThrowable(next) {
			break
		}
		tail = next
	}

	// The link is refused if prev's own chain leads back into top's.
	for cur := prev; cur != nil; {
		if _, dup := seen[cur]; dup {
			m.refuseChainLink(top, prev)
			return
		}
		seen[cur] = struct{}{}
		next, ok := object.Previous(cur).(*object.Instance)
		if !ok || !object.IsThrowable(next) {
			break
		}
		cur = next
	}

	old := object.Previous(tail)
	object.SetPrevious(tail, prev)
	m.discardReference(old)
	m.logger.Debug("chained prior exception",
		zap.String("kept", top.Class().Name()),
		zap.String("prior", prev.Class().Name()))
	if m.observer != nil {
		m.observer.OnChainMerge(ChainMergeEvent{Kept: top, Prior: prev})
	}
}

// refuseChainLink releases the reference held on prev instead of
// linking it, because linking would create a reference cycle between
// exception chains.
func (m *Machine) refuseChainLink(top, prev *object.Instance) {
	m.logger.Debug("refused exception chain link",
		zap.String("kept", top.Class().Name()),
		zap.String("prior", prev.Class().Name()))
	if m.observer != nil {
		m.observer.OnChainMerge(ChainMergeEvent{Kept: top, Prior: prev, Refused: true})
	}
	m.discardReference(prev)
}
