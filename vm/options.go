package vm

import (
	"go.uber.org/zap"

	"github.com/deepnoodle-ai/udon/object"
)

// Option is a configuration function for a Machine.
type Option func(*Machine)

// WithLogger sets the structured logger used for unwind tracing and
// destructor failure reports. The machine tags every entry with its
// own identifier. By default logging is disabled.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Machine) {
		m.logger = logger
	}
}

// WithObserver sets an observer for unwind events. The observer
// receives callbacks for unwind start and end, handler selection,
// frame teardown, and fault chaining. This enables debuggers and
// tracers without modifying the machine's core.
//
// Observer methods are called synchronously during unwinding, so
// implementations should be fast and must not call back into the
// machine.
func WithObserver(observer UnwindObserver) Option {
	return func(m *Machine) {
		m.observer = observer
	}
}

// WithGlobals provides initial values for the program's global
// variables by name. Names the program does not declare are ignored.
func WithGlobals(globals map[string]object.Object) Option {
	return func(m *Machine) {
		for name, value := range globals {
			m.inputGlobals[name] = value
		}
	}
}

// WithMaxFrameDepth overrides the call depth limit. Exceeding the
// limit raises a stack overflow host fault, which tears down the
// nesting level without running program handlers.
func WithMaxFrameDepth(depth int) Option {
	return func(m *Machine) {
		if depth > 0 {
			m.maxFrameDepth = depth
		}
	}
}

// WithDebugChecks enables internal invariant checking: vacated stack
// slots are poisoned, suspension points verify stack discipline, and
// broken unwinder invariants panic through the logger instead of
// continuing. Meant for tests and debugging builds.
func WithDebugChecks(enabled bool) Option {
	return func(m *Machine) {
		m.debugChecks = enabled
	}
}

// WithContextCheckInterval sets how often the machine checks ctx.Done()
// during execution. The interval is specified in number of
// instructions. A value of 0 disables the check. The default is
// DefaultContextCheckInterval.
func WithContextCheckInterval(interval int) Option {
	return func(m *Machine) {
		m.contextCheckInterval = interval
	}
}
