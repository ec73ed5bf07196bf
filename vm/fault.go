package vm

import (
	"go.uber.org/zap"

	"github.com/deepnoodle-ai/udon/object"
	"github.com/deepnoodle-ai/udon/program"
)

// invalidNesting marks a fault record not yet bound to a machine
// nesting level.
const invalidNesting = -1

// invalidFrameID marks a fault record not yet bound to a frame. Frame
// identifiers start at 1, so the zero value never collides.
const invalidFrameID FrameID = 0

// faultRecord tracks one exception while it propagates. Records live
// on the machine's fault stack and are copied by value: the unwinder
// works on a copy and writes it back at well-defined points, so code
// that re-enters the machine mid-unwind can push and pop records of
// its own without corrupting the one in flight.
//
// A record starts unbound, with every location field set to its
// invalid sentinel. The unwinder binds it to the frame and offset
// where propagation is happening, and resets it to sentinels each time
// propagation moves to a caller frame.
type faultRecord struct {
	// exception is the thrown value. The record owns one reference,
	// which follows the record until a handler, a suspended
	// computation, or the machine's caller takes the exception over.
	exception *object.Instance

	// raiseNesting is the machine re-entrancy depth the fault is bound
	// to, or invalidNesting.
	raiseNesting int

	// raiseFrame identifies the frame the fault is bound to, or
	// invalidFrameID. It is an identity token, never dereferenced.
	raiseFrame FrameID

	// raiseOffset is the instruction offset the handler search runs
	// against, or program.InvalidOffset.
	raiseOffset int

	// handled counts how many enclosing handlers already ran for this
	// fault at this raise offset. The handler search skips that many.
	handled int
}

func unboundFault(exc *object.Instance) faultRecord {
	return faultRecord{
		exception:    exc,
		raiseNesting: invalidNesting,
		raiseFrame:   invalidFrameID,
		raiseOffset:  program.InvalidOffset,
	}
}

// unbind resets the record's location fields to their sentinels,
// keeping the exception. The next unwind pass rebinds it to whatever
// frame propagation reaches.
func (r *faultRecord) unbind() {
	r.raiseNesting = invalidNesting
	r.raiseFrame = invalidFrameID
	r.raiseOffset = program.InvalidOffset
	r.handled = 0
}

func (r *faultRecord) bound() bool {
	return r.raiseOffset != program.InvalidOffset
}

// zapFields renders the record for structured logs.
func (r *faultRecord) zapFields() []zap.Field {
	exception := "<none>"
	if r.exception != nil {
		exception = r.exception.Class().Name()
		if msg := object.Message(r.exception); msg != "" {
			exception += ": " + msg
		}
	}
	return []zap.Field{
		zap.String("exception", exception),
		zap.Int("raise_nesting", r.raiseNesting),
		zap.Uint64("raise_frame", uint64(r.raiseFrame)),
		zap.Int("raise_offset", r.raiseOffset),
		zap.Int("handled", r.handled),
	}
}
