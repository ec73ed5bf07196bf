package program

// InvalidOffset marks an instruction offset that intentionally points
// nowhere, such as the raise offset of a fault that has not yet been
// bound to a frame.
const InvalidOffset = -1

// HandlerKind distinguishes the two handler flavors.
type HandlerKind int

const (
	// HandlerCatch receives the exception value and may resume normal
	// execution. Catch bodies begin with a Catch instruction.
	HandlerCatch HandlerKind = iota
	// HandlerFault runs cleanup and then resumes propagation. Fault
	// bodies end with an Unwind instruction.
	HandlerFault
)

func (k HandlerKind) String() string {
	switch k {
	case HandlerCatch:
		return "catch"
	case HandlerFault:
		return "fault"
	default:
		return "unknown"
	}
}

// Handler is one entry in a function's handler table: a protected
// instruction range [Base, Past) and the offset where handling begins.
// Handlers nest. Parent is the table index of the innermost enclosing
// handler, or -1. The table is ordered so parents precede children.
//
// Depth is the evaluation stack height, relative to the frame's base,
// that code inside the protected range maintains at safe points. The
// unwinder discards slots above Base+Depth before the handler runs, so
// the handler body always starts from a stack of known height.
type Handler struct {
	Kind   HandlerKind
	Base   int
	Past   int
	Target int
	Parent int
	Depth  int
}

// Covers reports whether the handler's protected range contains the
// given offset.
func (h Handler) Covers(offset int) bool {
	return offset >= h.Base && offset < h.Past
}

// CallRegion marks the instruction range where a call is being
// prepared: from just after the preparation instruction through the
// matching call. While execution is inside the region, a pre-live
// activation record sits on the evaluation stack.
type CallRegion struct {
	PrepOffset int // offset of the PrepCall/PrepMethodCall/PrepCtorCall
	Base       int // first offset after the preparation instruction
	Past       int // offset just past the matching call instruction
}

// Covers reports whether the region contains the given offset.
func (r CallRegion) Covers(offset int) bool {
	return offset >= r.Base && offset < r.Past
}
