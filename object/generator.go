package object

import (
	"fmt"

	"github.com/deepnoodle-ai/udon/op"
)

// GeneratorState describes where a generator is in its lifecycle.
type GeneratorState int

const (
	GeneratorCreated GeneratorState = iota
	GeneratorRunning
	GeneratorSuspended
	GeneratorFinished
)

func (s GeneratorState) String() string {
	switch s {
	case GeneratorCreated:
		return "created"
	case GeneratorRunning:
		return "running"
	case GeneratorSuspended:
		return "suspended"
	case GeneratorFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Generator is the handle for a suspended generator frame. A generator
// whose frame unwinds is finished: the exception keeps propagating to
// whoever resumed it, and the generator itself never yields again.
type Generator struct {
	*base
	state GeneratorState
}

// NewGenerator creates a generator in the created state.
func NewGenerator() *Generator {
	return &Generator{state: GeneratorCreated}
}

// State returns the generator's lifecycle state.
func (g *Generator) State() GeneratorState {
	return g.state
}

// SetState moves the generator to the given state.
func (g *Generator) SetState(state GeneratorState) {
	g.state = state
}

// Fail marks the generator finished after its frame unwound.
func (g *Generator) Fail() {
	g.state = GeneratorFinished
}

// Finished reports whether the generator can never resume.
func (g *Generator) Finished() bool {
	return g.state == GeneratorFinished
}

func (g *Generator) Type() Type {
	return GENERATOR
}

func (g *Generator) Inspect() string {
	return fmt.Sprintf("generator(%s)", g.state)
}

func (g *Generator) String() string {
	return g.Inspect()
}

func (g *Generator) Interface() interface{} {
	return nil
}

func (g *Generator) Equals(other Object) bool {
	otherGen, ok := other.(*Generator)
	if !ok {
		return false
	}
	return g == otherGen
}

func (g *Generator) RunOperation(opType op.BinaryOpType, right Object) (Object, error) {
	return nil, fmt.Errorf("type error: unsupported operation for generator: %v", opType)
}

// AsyncGenerator is the handle for a suspended async generator frame.
// Consumers await a fresh future per element. When the frame unwinds
// with an exception, the failure lands on whichever handle the
// consumer holds: the future it is already awaiting, or an eager
// result future returned to the caller that started the generator
// running eagerly.
type AsyncGenerator struct {
	*base
	state   GeneratorState
	eager   bool
	running bool
	waiting *Future
}

// NewAsyncGenerator creates an async generator in the created state.
// An eager generator is one still executing on behalf of its creator,
// before any future has been handed out.
func NewAsyncGenerator(eager bool) *AsyncGenerator {
	return &AsyncGenerator{state: GeneratorCreated, eager: eager}
}

// State returns the generator's lifecycle state.
func (g *AsyncGenerator) State() GeneratorState {
	return g.state
}

// SetState moves the generator to the given state.
func (g *AsyncGenerator) SetState(state GeneratorState) {
	g.state = state
}

// Eager reports whether the generator is executing eagerly, with no
// future handed out yet.
func (g *AsyncGenerator) Eager() bool {
	return g.eager
}

// SetEager marks the generator as executing eagerly again. A driver
// sets this when it runs the frame synchronously and takes the result
// directly, rather than through a future installed with SetWaiting.
func (g *AsyncGenerator) SetEager(eager bool) {
	g.eager = eager
}

// Running reports whether the generator frame is executing right now.
func (g *AsyncGenerator) Running() bool {
	return g.running
}

// SetRunning marks the generator frame as executing or suspended.
func (g *AsyncGenerator) SetRunning(running bool) {
	g.running = running
}

// SetWaiting installs the future the consumer currently awaits. Called
// when the consumer requests the next element.
func (g *AsyncGenerator) SetWaiting(f *Future) {
	g.waiting = f
	g.eager = false
}

// Waiting returns the future the consumer currently awaits, or nil.
func (g *AsyncGenerator) Waiting() *Future {
	return g.waiting
}

// Fail finishes the generator with an exception, taking over the
// reference the caller holds on exc. If the generator was executing
// eagerly it returns a failed future for the creator to receive as the
// call result; otherwise the failure settles the future the consumer
// awaits and nil is returned. The error is whatever destructor a
// discarded reference may have run produced.
func (g *AsyncGenerator) Fail(exc *Instance) (*Future, error) {
	g.state = GeneratorFinished
	g.running = false
	if g.eager {
		return FailedFuture(exc), nil
	}
	if g.waiting != nil {
		waiting := g.waiting
		g.waiting = nil
		return nil, waiting.Fail(exc)
	}
	// Nobody is listening for this failure.
	return nil, Release(exc)
}

// FailHost finishes the generator after a host fault. No exception
// value exists, so any awaiting future is aborted.
func (g *AsyncGenerator) FailHost() {
	g.state = GeneratorFinished
	g.running = false
	if g.waiting != nil {
		g.waiting.FailHost()
		g.waiting = nil
	}
}

func (g *AsyncGenerator) Type() Type {
	return ASYNC_GENERATOR
}

func (g *AsyncGenerator) Inspect() string {
	return fmt.Sprintf("async_generator(%s)", g.state)
}

func (g *AsyncGenerator) String() string {
	return g.Inspect()
}

func (g *AsyncGenerator) Interface() interface{} {
	return nil
}

func (g *AsyncGenerator) Equals(other Object) bool {
	otherGen, ok := other.(*AsyncGenerator)
	if !ok {
		return false
	}
	return g == otherGen
}

func (g *AsyncGenerator) RunOperation(opType op.BinaryOpType, right Object) (Object, error) {
	return nil, fmt.Errorf("type error: unsupported operation for async_generator: %v", opType)
}
