// Package errz defines error types raised by the host runtime itself,
// as opposed to exception values thrown by executing program code. The
// two never convert into each other: a host fault propagates through
// the virtual machine as a Go error and is never visible to program
// handlers, while a thrown exception stays a program value.
package errz

import (
	"bytes"
	"errors"
	"fmt"
)

// FaultKind represents the category of a host fault.
type FaultKind int

const (
	// FaultInternal indicates a broken invariant inside the runtime.
	FaultInternal FaultKind = iota
	// FaultMemory indicates the runtime ran out of a memory budget.
	FaultMemory
	// FaultOverflow indicates the call stack exceeded its depth limit.
	FaultOverflow
	// FaultTimeout indicates an execution deadline expired.
	FaultTimeout
)

// String returns the string representation of the fault kind.
func (k FaultKind) String() string {
	switch k {
	case FaultInternal:
		return "internal fault"
	case FaultMemory:
		return "memory fault"
	case FaultOverflow:
		return "stack overflow"
	case FaultTimeout:
		return "timeout"
	default:
		return "fault"
	}
}

// StackFrame identifies one activation record a host fault crossed
// while propagating out of the virtual machine.
type StackFrame struct {
	Function string
	Offset   int
}

// FormatStackTrace renders stack frames innermost first.
func FormatStackTrace(frames []StackFrame) string {
	var buf bytes.Buffer
	buf.WriteString("runtime stack:\n")
	for _, f := range frames {
		fmt.Fprintf(&buf, "  at %s (offset %d)\n", f.Function, f.Offset)
	}
	return buf.String()
}

// HostFault is an error originating in the host runtime. It records the
// frames it crossed during unwinding for diagnostics.
type HostFault struct {
	Message string
	Kind    FaultKind
	Stack   []StackFrame
	Cause   error
}

// Error implements the error interface.
func (e *HostFault) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind.String(), e.Message)
}

// Unwrap returns the underlying cause of the fault.
func (e *HostFault) Unwrap() error {
	return e.Cause
}

// FriendlyFaultMessage returns a human-friendly message including the
// runtime stack the fault crossed.
func (e *HostFault) FriendlyFaultMessage() string {
	var msg bytes.Buffer
	msg.WriteString(fmt.Sprintf("%s: %s\n", e.Kind.String(), e.Message))
	if len(e.Stack) > 0 {
		msg.WriteString("\n")
		msg.WriteString(FormatStackTrace(e.Stack))
	}
	if e.Cause != nil {
		msg.WriteString(fmt.Sprintf("\ncaused by: %s\n", e.Cause.Error()))
	}
	return msg.String()
}

// NewHostFault creates a new HostFault with the given kind and message.
func NewHostFault(kind FaultKind, message string) *HostFault {
	return &HostFault{Kind: kind, Message: message}
}

// NewHostFaultf creates a new HostFault with a formatted message.
func NewHostFaultf(kind FaultKind, format string, args ...any) *HostFault {
	return &HostFault{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithCause wraps the fault with a cause.
func (e *HostFault) WithCause(cause error) *HostFault {
	e.Cause = cause
	return e
}

// WithFrame appends an activation record to the fault's runtime stack.
// The virtual machine calls this once per frame torn down while the
// fault propagates.
func (e *HostFault) WithFrame(function string, offset int) *HostFault {
	e.Stack = append(e.Stack, StackFrame{Function: function, Offset: offset})
	return e
}

// AsHostFault returns the HostFault in err's chain, if any.
func AsHostFault(err error) (*HostFault, bool) {
	var hf *HostFault
	if errors.As(err, &hf) {
		return hf, true
	}
	return nil, false
}

// IsHostFault reports whether err has a HostFault in its chain.
func IsHostFault(err error) bool {
	_, ok := AsHostFault(err)
	return ok
}
