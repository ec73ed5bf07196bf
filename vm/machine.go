// Package vm implements the Udon virtual machine. The machine executes
// one program at a time on a single goroutine, but may be re-entered
// from host callbacks such as destructors while a call or an unwind is
// in progress. Each re-entrant run gets its own nesting level with its
// own root frame; exceptions and host faults never cross a nesting
// boundary on their own.
package vm

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"

	"github.com/deepnoodle-ai/udon/errz"
	"github.com/deepnoodle-ai/udon/object"
	"github.com/deepnoodle-ai/udon/program"
)

const (
	// MaxFrameDepth is the default call depth limit.
	MaxFrameDepth = 1024

	// DefaultContextCheckInterval is the default number of instructions
	// between context cancellation checks.
	DefaultContextCheckInterval = 1000
)

// savedState is the machine state snapshotted when a nesting level is
// entered and restored when it exits.
type savedState struct {
	frame      *Frame
	pc         int
	opOffset   int
	stackFloor int
}

// Machine executes Udon programs.
type Machine struct {
	id   string
	prog *program.Program

	frame    *Frame
	pc       int
	opOffset int // offset of the instruction currently executing

	stack []object.Object
	preps []callRec

	globals      []object.Object
	inputGlobals map[string]object.Object

	// faults is the stack of in-flight fault records, outermost first.
	faults []faultRecord

	// scratch holds intermediate references during a member access run.
	// Two slots alternate so that both the previous and current
	// intermediate stay alive.
	scratch    [2]object.Object
	scratchIdx int

	// suspended maps adapter objects (futures, generators) to the
	// detached frames they own.
	suspended map[object.Object]*Frame

	// saved is the stack of states for re-entrant runs. Its depth is
	// the machine's current nesting level.
	saved []savedState

	// suspendResult carries a yielded or returned value from the frame
	// that suspended to the driver that resumed it.
	suspendResult object.Object

	// pendingHost is a host fault produced by a destructor during a
	// discard pass. It is held until the next dispatch point; handler
	// searches are skipped while it is set.
	pendingHost error

	// unwindingHost is true while a host fault is tearing down frames.
	unwindingHost bool

	nextFrame  FrameID
	frameDepth int

	maxFrameDepth        int
	contextCheckInterval int
	steps                int

	debugChecks bool
	validated   bool
	running     bool

	logger   *zap.Logger
	observer UnwindObserver
}

// New creates a Machine for the given program.
func New(prog *program.Program, options ...Option) *Machine {
	m := &Machine{
		prog:                 prog,
		inputGlobals:         map[string]object.Object{},
		suspended:            map[object.Object]*Frame{},
		nextFrame:            1,
		maxFrameDepth:        MaxFrameDepth,
		contextCheckInterval: DefaultContextCheckInterval,
		logger:               zap.NewNop(),
	}
	for _, opt := range options {
		opt(m)
	}
	m.id = uuid.Must(uuid.NewV4()).String()
	m.logger = m.logger.With(zap.String("machine_id", m.id))
	m.globals = make([]object.Object, prog.GlobalCount())
	for i := range m.globals {
		m.globals[i] = object.Nil
	}
	for name, value := range m.inputGlobals {
		idx := prog.GlobalIndex(name)
		if idx < 0 {
			m.logger.Warn("ignoring unknown global", zap.String("name", name))
			continue
		}
		object.Retain(value)
		m.globals[idx] = value
	}
	return m
}

// ID returns the machine's unique identifier.
func (m *Machine) ID() string {
	return m.id
}

// Program returns the program the machine executes.
func (m *Machine) Program() *program.Program {
	return m.prog
}

// Run executes the program's main function and returns its result. An
// exception that no handler catches is returned as a *Thrown error
// holding the exception value itself.
func (m *Machine) Run(ctx context.Context) (object.Object, error) {
	if m.running {
		return nil, errz.NewHostFault(errz.FaultInternal, "machine is already running")
	}
	main := m.prog.Main()
	if main == nil {
		return nil, errz.NewHostFault(errz.FaultInternal, "program has no main function")
	}
	m.running = true
	defer func() { m.running = false }()
	return m.callRoot(ctx, main, nil, nil)
}

// CallFunction invokes fn with the given arguments and returns its
// result. It may be called while the machine is running: host code
// such as a destructor re-enters the machine this way, and the call
// runs at its own nesting level without disturbing the suspended one.
func (m *Machine) CallFunction(ctx context.Context, fn *program.Function, args ...object.Object) (object.Object, error) {
	if fn == nil {
		return nil, errz.NewHostFault(errz.FaultInternal, "call of a nil function")
	}
	if fn.IsBuiltin() {
		return nil, errz.NewHostFaultf(errz.FaultInternal,
			"host function %s is called directly, not through the machine", fn.QualifiedName())
	}
	return m.callRoot(ctx, fn, nil, args)
}

// callRoot runs fn as the root frame of a fresh nesting level. For
// generator kinds no code runs: the frame is created suspended and its
// adapter object is the result.
func (m *Machine) callRoot(ctx context.Context, fn *program.Function, receiver *object.Instance, args []object.Object) (object.Object, error) {
	if err := m.ensureValidated(); err != nil {
		return nil, err
	}
	recvSlots := 0
	if receiver != nil {
		recvSlots = 1
	}
	if len(args)+recvSlots != fn.ParamCount() {
		return nil, errz.NewHostFaultf(errz.FaultInternal,
			"function %s takes %d arguments (%d given)",
			fn.QualifiedName(), fn.ParamCount(), len(args))
	}
	if m.frameDepth >= m.maxFrameDepth {
		return nil, errz.NewHostFaultf(errz.FaultOverflow,
			"call depth limit of %d exceeded", m.maxFrameDepth)
	}

	f := m.newFrame(fn, nil, receiver)
	for i, arg := range args {
		object.Retain(arg)
		f.locals[recvSlots+i] = arg
	}
	if receiver != nil {
		// One reference for the frame itself, one for local slot 0.
		object.Retain(receiver)
		object.Retain(receiver)
		f.locals[0] = receiver
	}

	switch fn.Kind() {
	case program.KindGenerator:
		return m.suspendCreated(f), nil
	case program.KindAsyncGenerator:
		return m.suspendCreated(f), nil
	}

	floor := m.enterNesting()
	defer m.leaveNesting(floor)

	f.stackBase = len(m.stack)
	m.frame = f
	m.frameDepth++
	m.pc = 0
	m.opOffset = 0

	if err := m.runNesting(ctx); err != nil {
		m.popStackTo(floor.stackFloor)
		return nil, err
	}
	var result object.Object = object.Nil
	if len(m.stack) > floor.stackFloor {
		result = m.pop()
	}
	m.popStackTo(floor.stackFloor)
	return result, nil
}

// suspendCreated parks a freshly created generator frame behind its
// adapter object without executing any of its code.
func (m *Machine) suspendCreated(f *Frame) object.Object {
	f.resumed = true
	f.resumeOffset = 0
	switch f.fn.Kind() {
	case program.KindAsyncGenerator:
		f.suspend = suspendAsyncGenerator
		f.agen = object.NewAsyncGenerator(true)
	default:
		f.suspend = suspendGenerator
		f.gen = object.NewGenerator()
	}
	adapter := f.adapter()
	m.suspended[adapter] = f
	return adapter
}

// ResumeFuture resumes the async function frame suspended behind fut,
// delivering result as the value of the await it suspended at. The
// frame runs until it suspends again, settles fut, or unwinds.
func (m *Machine) ResumeFuture(ctx context.Context, fut *object.Future, result object.Object) error {
	f, ok := m.suspended[fut]
	if !ok {
		return errz.NewHostFaultf(errz.FaultInternal, "no suspended computation behind %s", fut.Inspect())
	}
	if fut.Running() {
		return errz.NewHostFault(errz.FaultInternal, "computation is already running")
	}
	if err := m.ensureValidated(); err != nil {
		return err
	}
	floor := m.enterNesting()
	defer m.leaveNesting(floor)

	delete(m.suspended, fut)
	f.stackBase = len(m.stack)
	m.frame = f
	m.frameDepth++
	m.pc = f.resumeOffset
	m.opOffset = f.resumeOffset
	fut.SetRunning(true)
	if result == nil {
		result = object.Nil
	}
	object.Retain(result)
	m.push(result)

	err := m.runNesting(ctx)
	m.popStackTo(floor.stackFloor)
	return err
}

// ResumeGenerator resumes gen and runs its frame until the next yield
// or until it finishes. The yielded or returned value is returned. A
// frame that unwinds finishes the generator and the exception
// propagates to this caller; the generator can never resume again.
func (m *Machine) ResumeGenerator(ctx context.Context, gen *object.Generator) (object.Object, error) {
	f, ok := m.suspended[gen]
	if !ok || gen.Finished() {
		return nil, errz.NewHostFault(errz.FaultInternal, "generator is already finished")
	}
	if gen.State() == object.GeneratorRunning {
		return nil, errz.NewHostFault(errz.FaultInternal, "generator is already running")
	}
	if err := m.ensureValidated(); err != nil {
		return nil, err
	}
	floor := m.enterNesting()
	defer m.leaveNesting(floor)

	fresh := gen.State() == object.GeneratorCreated
	gen.SetState(object.GeneratorRunning)
	f.stackBase = len(m.stack)
	m.frame = f
	m.frameDepth++
	m.pc = f.resumeOffset
	m.opOffset = f.resumeOffset
	if !fresh {
		// The value of the yield expression the frame suspended at.
		m.push(object.Nil)
	}
	m.suspendResult = nil

	err := m.runNesting(ctx)
	m.popStackTo(floor.stackFloor)
	if err != nil {
		return nil, err
	}
	result := m.suspendResult
	m.suspendResult = nil
	if result == nil {
		result = object.Nil
	}
	return result, nil
}

// NextAsyncGenerator drives agen eagerly to its next element and
// returns a future holding it. A yield or a return settles the future
// right away. A frame that unwinds with an exception finishes the
// generator and the returned future is failed with that exception; the
// caller observes it on await. A frame that suspends at an await of
// its own returns a pending future, which a later ResumeAsyncGenerator
// settles.
func (m *Machine) NextAsyncGenerator(ctx context.Context, agen *object.AsyncGenerator) (*object.Future, error) {
	f, ok := m.suspended[agen]
	if !ok || agen.State() == object.GeneratorFinished {
		return nil, errz.NewHostFault(errz.FaultInternal, "async generator is already finished")
	}
	if agen.Running() {
		return nil, errz.NewHostFault(errz.FaultInternal, "async generator is already running")
	}
	if agen.Waiting() != nil {
		return nil, errz.NewHostFault(errz.FaultInternal, "async generator already has a consumer waiting")
	}
	if err := m.ensureValidated(); err != nil {
		return nil, err
	}
	floor := m.enterNesting()
	defer m.leaveNesting(floor)

	fresh := agen.State() == object.GeneratorCreated
	agen.SetState(object.GeneratorRunning)
	agen.SetRunning(true)
	agen.SetEager(true)
	f.stackBase = len(m.stack)
	m.frame = f
	m.frameDepth++
	m.pc = f.resumeOffset
	m.opOffset = f.resumeOffset
	if !fresh {
		m.push(object.Nil)
	}
	m.suspendResult = nil

	err := m.runNesting(ctx)
	if err != nil {
		m.popStackTo(floor.stackFloor)
		return nil, err
	}
	// A teardown that settled the generator eagerly leaves the failed
	// future on the stack as the drive's result.
	if len(m.stack) > floor.stackFloor {
		if fut, ok := m.top().(*object.Future); ok {
			m.pop()
			m.popStackTo(floor.stackFloor)
			return fut, nil
		}
	}
	m.popStackTo(floor.stackFloor)
	if m.suspendResult == nil && agen.State() != object.GeneratorFinished {
		// The frame suspended at an await of its own. The element
		// arrives once the host resumes the generator.
		waiting := object.NewFuture()
		agen.SetWaiting(waiting)
		return waiting, nil
	}
	result := m.suspendResult
	m.suspendResult = nil
	if result == nil {
		result = object.Nil
	}
	return object.SucceededFuture(result), nil
}

// ResumeAsyncGenerator resumes agen with the value its own await
// suspended on, on behalf of a consumer holding the pending future a
// NextAsyncGenerator call returned. Outcomes settle that future: a
// yield or return succeeds it, an unwinding exception fails it.
func (m *Machine) ResumeAsyncGenerator(ctx context.Context, agen *object.AsyncGenerator, sent object.Object) error {
	f, ok := m.suspended[agen]
	if !ok || agen.State() == object.GeneratorFinished {
		return errz.NewHostFault(errz.FaultInternal, "async generator is already finished")
	}
	if agen.Running() {
		return errz.NewHostFault(errz.FaultInternal, "async generator is already running")
	}
	if agen.Waiting() == nil {
		return errz.NewHostFault(errz.FaultInternal, "async generator has no consumer waiting")
	}
	if err := m.ensureValidated(); err != nil {
		return err
	}
	floor := m.enterNesting()
	defer m.leaveNesting(floor)

	agen.SetState(object.GeneratorRunning)
	agen.SetRunning(true)
	f.stackBase = len(m.stack)
	m.frame = f
	m.frameDepth++
	m.pc = f.resumeOffset
	m.opOffset = f.resumeOffset
	if sent == nil {
		sent = object.Nil
	}
	object.Retain(sent)
	m.push(sent)

	err := m.runNesting(ctx)
	m.popStackTo(floor.stackFloor)
	return err
}

// TOS returns the top of the evaluation stack, if any.
func (m *Machine) TOS() (object.Object, bool) {
	if len(m.stack) == 0 {
		return nil, false
	}
	return m.stack[len(m.stack)-1], true
}

// StackDepth returns the current evaluation stack depth.
func (m *Machine) StackDepth() int {
	return len(m.stack)
}

// FrameDepth returns the number of linked frames.
func (m *Machine) FrameDepth() int {
	return m.frameDepth
}

// FaultDepth returns the number of in-flight fault records.
func (m *Machine) FaultDepth() int {
	return len(m.faults)
}

// NestingDepth returns the machine's re-entrancy depth. Zero means the
// machine is at its base level.
func (m *Machine) NestingDepth() int {
	return len(m.saved)
}

// Global returns the value of the named global variable.
func (m *Machine) Global(name string) (object.Object, bool) {
	idx := m.prog.GlobalIndex(name)
	if idx < 0 {
		return nil, false
	}
	return m.globals[idx], true
}

// SetGlobal assigns the named global variable, retaining the new value
// and releasing the old one.
func (m *Machine) SetGlobal(name string, value object.Object) error {
	idx := m.prog.GlobalIndex(name)
	if idx < 0 {
		return fmt.Errorf("unknown global %q", name)
	}
	old := m.globals[idx]
	object.Retain(value)
	m.globals[idx] = value
	m.discardReference(old)
	return nil
}

func (m *Machine) newFrame(fn *program.Function, caller *Frame, receiver *object.Instance) *Frame {
	locals := make([]object.Object, fn.LocalCount())
	for i := range locals {
		locals[i] = object.Nil
	}
	f := &Frame{
		fn:       fn,
		caller:   caller,
		receiver: receiver,
		locals:   locals,
		id:       m.nextFrame,
	}
	m.nextFrame++
	return f
}

// enterNesting snapshots the machine state for a re-entrant run and
// returns the snapshot. The caller restores it with leaveNesting.
func (m *Machine) enterNesting() savedState {
	s := savedState{
		frame:      m.frame,
		pc:         m.pc,
		opOffset:   m.opOffset,
		stackFloor: len(m.stack),
	}
	m.saved = append(m.saved, s)
	return s
}

func (m *Machine) leaveNesting(s savedState) {
	m.saved = m.saved[:len(m.saved)-1]
	m.frame = s.frame
	m.pc = s.pc
	m.opOffset = s.opOffset
}

// prevVMState returns the frame and call offset that control returns
// to when f completes: the linked caller, or the state saved when f's
// nesting level was entered.
func (m *Machine) prevVMState(f *Frame) (*Frame, int, bool) {
	if f.caller != nil {
		return f.caller, f.callOffset, true
	}
	if len(m.saved) == 0 {
		return nil, 0, false
	}
	s := m.saved[len(m.saved)-1]
	if s.frame == nil {
		return nil, 0, false
	}
	return s.frame, s.opOffset, true
}

func (m *Machine) ensureValidated() error {
	if m.validated {
		return nil
	}
	fns := make([]*program.Function, 0, m.prog.FunctionCount()+1)
	if main := m.prog.Main(); main != nil {
		fns = append(fns, main)
	}
	for i := 0; i < m.prog.FunctionCount(); i++ {
		fns = append(fns, m.prog.FunctionAt(i))
	}
	for _, fn := range fns {
		if err := program.Validate(fn); err != nil {
			return errz.NewHostFaultf(errz.FaultInternal,
				"function %s failed validation", fn.QualifiedName()).WithCause(err)
		}
	}
	m.validated = true
	return nil
}

// runNesting drives the dispatch loop, converting panics into host
// faults so a broken invariant surfaces as an error instead of
// crashing the embedding process.
func (m *Machine) runNesting(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errz.NewHostFaultf(errz.FaultInternal, "machine panic: %v", r)
			m.logger.Error("machine panic", zap.Any("panic", r))
		}
	}()
	return m.eval(ctx)
}
