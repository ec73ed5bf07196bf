package vm

import (
	"context"

	"go.uber.org/zap"

	"github.com/deepnoodle-ai/udon/errz"
	"github.com/deepnoodle-ai/udon/object"
	"github.com/deepnoodle-ai/udon/op"
	"github.com/deepnoodle-ai/udon/program"
)

// eval is the dispatch loop. It runs the current nesting level until
// its root frame completes, a value is yielded, or an error leaves the
// machine. Instruction handlers report failures as errors: a *Thrown
// is a program exception and runs the handler machinery, anything else
// is a host fault that tears the nesting level down.
func (m *Machine) eval(ctx context.Context) error {
	for m.frame != nil {
		// A destructor fault held from a discard pass is delivered
		// before anything else runs.
		if m.pendingHost != nil {
			hostErr := m.pendingHost
			m.pendingHost = nil
			return m.UnwindHost(hostErr)
		}
		m.steps++
		if m.contextCheckInterval > 0 && m.steps%m.contextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return m.UnwindHost(errz.NewHostFaultf(errz.FaultTimeout,
					"execution cancelled after %d steps", m.steps).WithCause(err))
			}
		}
		fn := m.frame.fn
		if m.pc < 0 || m.pc >= fn.InstructionCount() {
			return m.UnwindHost(errz.NewHostFaultf(errz.FaultInternal,
				"instruction offset %d out of bounds in %s", m.pc, fn.QualifiedName()))
		}
		m.opOffset = m.pc
		opcode := fn.InstructionAt(m.pc)
		m.pc++

		var err error
		switch opcode {

		case op.Nop:

		case op.Halt:
			err = m.halt()

		case op.LoadConst:
			idx := m.fetch()
			if idx < 0 || idx >= fn.ConstantCount() {
				err = errz.NewHostFaultf(errz.FaultInternal,
					"constant index %d out of bounds in %s", idx, fn.QualifiedName())
				break
			}
			obj := fn.ConstantAt(idx)
			object.Retain(obj)
			m.push(obj)

		case op.LoadFast:
			idx := m.fetch()
			if idx < 0 || idx >= len(m.frame.locals) {
				err = errz.NewHostFaultf(errz.FaultInternal,
					"local index %d out of bounds in %s", idx, fn.QualifiedName())
				break
			}
			obj := m.frame.locals[idx]
			if obj == nil {
				obj = object.Nil
			}
			object.Retain(obj)
			m.push(obj)

		case op.StoreFast:
			idx := m.fetch()
			if idx < 0 || idx >= len(m.frame.locals) {
				err = errz.NewHostFaultf(errz.FaultInternal,
					"local index %d out of bounds in %s", idx, fn.QualifiedName())
				break
			}
			if err = m.needStack(1); err != nil {
				break
			}
			old := m.frame.locals[idx]
			m.frame.locals[idx] = m.pop()
			m.discardReference(old)

		case op.LoadGlobal:
			idx := m.fetch()
			if idx < 0 || idx >= len(m.globals) {
				err = errz.NewHostFaultf(errz.FaultInternal,
					"global index %d out of bounds", idx)
				break
			}
			obj := m.globals[idx]
			object.Retain(obj)
			m.push(obj)

		case op.StoreGlobal:
			idx := m.fetch()
			if idx < 0 || idx >= len(m.globals) {
				err = errz.NewHostFaultf(errz.FaultInternal,
					"global index %d out of bounds", idx)
				break
			}
			if err = m.needStack(1); err != nil {
				break
			}
			old := m.globals[idx]
			m.globals[idx] = m.pop()
			m.discardReference(old)

		case op.Nil:
			m.push(object.Nil)

		case op.True:
			m.push(object.True)

		case op.False:
			m.push(object.False)

		case op.BinaryOp:
			opType := op.BinaryOpType(m.fetch())
			err = m.binaryOp(opType)

		case op.CompareOp:
			opType := op.CompareOpType(m.fetch())
			err = m.compareOp(opType)

		case op.UnaryNegative:
			err = m.unaryNegative()

		case op.UnaryNot:
			if err = m.needStack(1); err != nil {
				break
			}
			obj := m.pop()
			truthy := obj.IsTruthy()
			m.discardReference(obj)
			if truthy {
				m.push(object.False)
			} else {
				m.push(object.True)
			}

		case op.JumpForward:
			delta := m.fetch()
			m.pc = m.opOffset + delta

		case op.JumpBackward:
			delta := m.fetch()
			m.pc = m.opOffset - delta

		case op.PopJumpForwardIfFalse:
			delta := m.fetch()
			if err = m.needStack(1); err != nil {
				break
			}
			obj := m.pop()
			if !obj.IsTruthy() {
				m.pc = m.opOffset + delta
			}
			m.discardReference(obj)

		case op.PopJumpForwardIfTrue:
			delta := m.fetch()
			if err = m.needStack(1); err != nil {
				break
			}
			obj := m.pop()
			if obj.IsTruthy() {
				m.pc = m.opOffset + delta
			}
			m.discardReference(obj)

		case op.Swap:
			depth := m.fetch()
			if err = m.needStack(depth + 1); err != nil {
				break
			}
			top := len(m.stack) - 1
			m.stack[top], m.stack[top-depth] = m.stack[top-depth], m.stack[top]

		case op.Copy:
			depth := m.fetch()
			if err = m.needStack(depth + 1); err != nil {
				break
			}
			obj := m.stack[len(m.stack)-1-depth]
			object.Retain(obj)
			m.push(obj)

		case op.PopTop:
			if err = m.needStack(1); err != nil {
				break
			}
			m.discardReference(m.pop())

		case op.PrepCall:
			idx := m.fetch()
			if idx < 0 || idx >= m.prog.FunctionCount() {
				err = errz.NewHostFaultf(errz.FaultInternal,
					"function index %d out of bounds", idx)
				break
			}
			m.preps = append(m.preps, callRec{
				frame:      m.frame,
				prepOp:     op.PrepCall,
				prepOffset: m.opOffset,
				fn:         m.prog.FunctionAt(idx),
				spos:       len(m.stack),
			})

		case op.PrepMethodCall:
			idx := m.fetch()
			err = m.prepMethodCall(idx)

		case op.PrepCtorCall:
			idx := m.fetch()
			err = m.prepCtorCall(idx)

		case op.Call:
			argc := m.fetch()
			err = m.callPrepared(ctx, argc, false)

		case op.CallAwait:
			argc := m.fetch()
			err = m.callPrepared(ctx, argc, true)

		case op.ReturnValue:
			err = m.returnValue()

		case op.MemberDim:
			idx := m.fetch()
			err = m.memberDim(idx)

		case op.MemberFinal:
			idx := m.fetch()
			err = m.memberFinal(idx)

		case op.Throw:
			err = m.throwTop()

		case op.Catch:
			err = m.catchFault()

		case op.Unwind:
			action, uerr := m.Unwind()
			if action != ResumeVM {
				return uerr
			}

		case op.Await:
			err = m.await()

		case op.Yield:
			err = m.yieldValue()

		default:
			err = errz.NewHostFaultf(errz.FaultInternal,
				"unknown opcode %d at offset %d in %s", opcode, m.opOffset, fn.QualifiedName())
		}

		if err != nil {
			if perr := m.raise(err); perr != nil {
				return perr
			}
		}
	}
	return nil
}

// fetch reads the operand at pc and advances past it.
func (m *Machine) fetch() int {
	v := int(m.frame.fn.InstructionAt(m.pc))
	m.pc++
	return v
}

// needStack reports a host fault unless the current frame owns at
// least n values on the evaluation stack.
func (m *Machine) needStack(n int) error {
	if len(m.stack)-m.frame.stackBase < n {
		return errz.NewHostFaultf(errz.FaultInternal,
			"stack underflow at offset %d in %s", m.opOffset, m.frame.fn.QualifiedName())
	}
	return nil
}

// halt stops the current nesting level, discarding the root frame and
// everything it owns. Only the eager root frame may halt.
func (m *Machine) halt() error {
	f := m.frame
	if f.caller != nil || f.resumed {
		return errz.NewHostFaultf(errz.FaultInternal,
			"halt outside the root frame in %s", f.fn.QualifiedName())
	}
	m.discardStackTemps(f, program.InvalidOffset)
	m.releaseFrameLocals(f)
	m.frameDepth--
	m.frame = nil
	return nil
}

func (m *Machine) binaryOp(opType op.BinaryOpType) error {
	if err := m.needStack(2); err != nil {
		return err
	}
	right := m.pop()
	left := m.pop()
	result, opErr := object.BinaryOp(opType, left, right)
	if opErr == nil {
		// The result may be one of the operands, so it gets its own
		// reference before the operand references drop.
		object.Retain(result)
	}
	m.discardReference(left)
	m.discardReference(right)
	if opErr != nil {
		return thrown(object.NewException(object.ErrorClass, opErr.Error()))
	}
	m.push(result)
	return nil
}

func (m *Machine) compareOp(opType op.CompareOpType) error {
	if err := m.needStack(2); err != nil {
		return err
	}
	right := m.pop()
	left := m.pop()
	result, opErr := object.Compare(opType, left, right)
	m.discardReference(left)
	m.discardReference(right)
	if opErr != nil {
		return thrown(object.NewException(object.ErrorClass, opErr.Error()))
	}
	m.push(result)
	return nil
}

func (m *Machine) unaryNegative() error {
	if err := m.needStack(1); err != nil {
		return err
	}
	obj := m.pop()
	var result object.Object
	switch v := obj.(type) {
	case *object.Int:
		result = object.NewInt(-v.Value())
	case *object.Float:
		result = object.NewFloat(-v.Value())
	}
	t := obj.Type()
	m.discardReference(obj)
	if result == nil {
		return throwError("type error: unsupported operation for %s: -", t)
	}
	m.push(result)
	return nil
}

func (m *Machine) prepMethodCall(idx int) error {
	if idx < 0 || idx >= m.prog.FunctionCount() {
		return errz.NewHostFaultf(errz.FaultInternal, "function index %d out of bounds", idx)
	}
	if err := m.needStack(1); err != nil {
		return err
	}
	fn := m.prog.FunctionAt(idx)
	obj := m.pop()
	recv, ok := obj.(*object.Instance)
	if !ok {
		t := obj.Type()
		m.discardReference(obj)
		return throwError("type error: method call on %s value", t)
	}
	m.preps = append(m.preps, callRec{
		frame:      m.frame,
		prepOp:     op.PrepMethodCall,
		prepOffset: m.opOffset,
		fn:         fn,
		receiver:   recv,
		spos:       len(m.stack),
	})
	return nil
}

func (m *Machine) prepCtorCall(idx int) error {
	if idx < 0 || idx >= m.prog.ClassCount() {
		return errz.NewHostFaultf(errz.FaultInternal, "class index %d out of bounds", idx)
	}
	cls := m.prog.ClassAt(idx)
	ctor, ok := m.prog.CtorOf(cls)
	if !ok {
		return errz.NewHostFaultf(errz.FaultInternal, "class %s has no constructor", cls.Name())
	}
	m.preps = append(m.preps, callRec{
		frame:      m.frame,
		prepOp:     op.PrepCtorCall,
		prepOffset: m.opOffset,
		fn:         ctor,
		receiver:   object.NewInstance(cls),
		spos:       len(m.stack),
	})
	return nil
}

// callPrepared turns the newest call record into a live frame. Checks
// that fail before the record is consumed leave it in place, so the
// unwinder discards the pending call along with its arguments.
func (m *Machine) callPrepared(ctx context.Context, argc int, awaited bool) error {
	if len(m.preps) == 0 || m.preps[len(m.preps)-1].frame != m.frame {
		return errz.NewHostFaultf(errz.FaultInternal,
			"call at offset %d has no preparation", m.opOffset)
	}
	rec := m.preps[len(m.preps)-1]
	fn := rec.fn
	recvSlots := 0
	if rec.receiver != nil {
		recvSlots = 1
	}
	if argc+recvSlots != fn.ParamCount() {
		return errz.NewHostFaultf(errz.FaultInternal,
			"function %s takes %d arguments (%d given)",
			fn.QualifiedName(), fn.ParamCount()-recvSlots, argc)
	}
	if len(m.stack)-rec.spos < argc {
		return errz.NewHostFaultf(errz.FaultInternal,
			"call at offset %d has %d of %d arguments on the stack",
			m.opOffset, len(m.stack)-rec.spos, argc)
	}
	if m.frameDepth >= m.maxFrameDepth {
		return errz.NewHostFaultf(errz.FaultOverflow,
			"call depth limit of %d exceeded", m.maxFrameDepth)
	}
	m.preps = m.preps[:len(m.preps)-1]

	f := m.newFrame(fn, m.frame, rec.receiver)
	f.callOffset = m.opOffset
	f.returnOffset = m.pc
	f.awaitCalled = awaited
	for i := argc - 1; i >= 0; i-- {
		f.locals[recvSlots+i] = m.pop()
	}
	if rec.receiver != nil {
		// The record's reference moves to the frame; local slot 0
		// takes one of its own.
		object.Retain(rec.receiver)
		f.locals[0] = rec.receiver
	}

	if fn.IsBuiltin() {
		return m.callBuiltin(ctx, f)
	}

	switch fn.Kind() {
	case program.KindGenerator, program.KindAsyncGenerator:
		// The frame never links into the chain: it parks behind its
		// adapter until a driver resumes it at its own nesting level.
		f.caller = nil
		f.callOffset = 0
		m.push(m.suspendCreated(f))
		return nil
	}

	f.stackBase = len(m.stack)
	m.frame = f
	m.frameDepth++
	m.pc = 0
	m.opOffset = 0
	return nil
}

// callBuiltin executes a host function in its own frame, so a throw
// from inside it unwinds the frame like any other. The host function
// borrows the locals for the duration of the call and its result
// arrives with one reference owned by the machine.
func (m *Machine) callBuiltin(ctx context.Context, f *Frame) error {
	f.stackBase = len(m.stack)
	m.frame = f
	m.frameDepth++

	result, err := f.fn.Builtin()(ctx, f.locals...)

	if m.frame != f {
		// The host function unwound its own activation; whatever it
		// returned is void.
		return nil
	}
	if err != nil {
		// Raised from the builtin frame: the unwinder tears it down
		// and continues in the caller.
		return err
	}
	m.releaseFrameLocals(f)
	m.frameDepth--
	m.frame = f.caller
	m.pc = f.returnOffset
	m.opOffset = f.returnOffset
	if result == nil {
		result = object.Nil
	}
	m.push(result)
	return nil
}

// returnValue completes the current frame. Eager frames hand their
// result to the caller on the stack; resumed frames settle their
// adapters instead.
func (m *Machine) returnValue() error {
	f := m.frame
	var rv object.Object = object.Nil
	if len(m.stack) > f.stackBase {
		rv = m.pop()
	}
	m.popStackTo(f.stackBase)

	if f.resumed {
		return m.returnFromResumed(f, rv)
	}

	if f.fn.IsConstructor() && f.receiver != nil {
		// The call's result is the receiver, fully constructed. Its
		// result reference is taken before the frame's references
		// drop.
		object.Retain(f.receiver)
		m.discardReference(rv)
		m.releaseFrameLocals(f)
		m.unlinkFrame(f)
		m.push(f.receiver)
		return nil
	}
	if f.fn.IsAsync() && !f.awaitCalled {
		// An async function that never suspended wraps its result.
		m.releaseFrameLocals(f)
		m.unlinkFrame(f)
		m.push(object.SucceededFuture(rv))
		return nil
	}
	m.releaseFrameLocals(f)
	m.unlinkFrame(f)
	m.push(rv)
	return nil
}

// returnFromResumed settles the adapter of a resumed frame that ran to
// completion.
func (m *Machine) returnFromResumed(f *Frame, rv object.Object) error {
	switch f.suspend {
	case suspendGenerator:
		f.gen.SetState(object.GeneratorFinished)
		delete(m.suspended, f.gen)
		m.releaseFrameLocals(f)
		m.frameDepth--
		m.frame = nil
		m.suspendResult = rv
		return nil
	case suspendAsyncGenerator:
		f.agen.SetState(object.GeneratorFinished)
		f.agen.SetRunning(false)
		delete(m.suspended, f.agen)
		m.releaseFrameLocals(f)
		m.frameDepth--
		m.frame = nil
		if waiting := f.agen.Waiting(); waiting != nil {
			f.agen.SetWaiting(nil)
			if err := waiting.Succeed(rv); err != nil {
				m.logger.Error("failed to settle async generator future", zap.Error(err))
				m.discardReference(rv)
			}
		} else {
			m.suspendResult = rv
		}
		return nil
	case suspendFuture:
		m.releaseFrameLocals(f)
		m.frameDepth--
		m.frame = nil
		if err := f.future.Succeed(rv); err != nil {
			m.logger.Error("failed to settle future", zap.Error(err))
			m.discardReference(rv)
		}
		return nil
	default:
		m.discardReference(rv)
		return errz.NewHostFaultf(errz.FaultInternal,
			"resumed frame of %s has no suspend variant", f.fn.QualifiedName())
	}
}

// unlinkFrame removes a completed eager frame from the chain and moves
// control to its caller, or ends the nesting level at the root.
func (m *Machine) unlinkFrame(f *Frame) {
	m.frameDepth--
	if f.caller == nil {
		m.frame = nil
		return
	}
	m.frame = f.caller
	m.pc = f.returnOffset
	m.opOffset = f.returnOffset
}

// memberDim reads one step of a member access run. The value goes to
// the stack and to a scratch slot, keeping it alive across the rest of
// the run even if later steps overwrite the property.
func (m *Machine) memberDim(idx int) error {
	if idx < 0 || idx >= m.frame.fn.NameCount() {
		return errz.NewHostFaultf(errz.FaultInternal, "name index %d out of bounds", idx)
	}
	if err := m.needStack(1); err != nil {
		return err
	}
	name := m.frame.fn.NameAt(idx)
	base := m.pop()
	val, ok := base.GetAttr(name)
	if !ok {
		t := base.Type()
		m.discardReference(base)
		// The scratch references from earlier steps of the run are
		// the unwinder's to discard.
		return throwError("undefined property %q on %s", name, t)
	}
	object.Retain(val) // stack reference
	object.Retain(val) // scratch reference
	m.push(val)
	old := m.scratch[m.scratchIdx]
	m.scratch[m.scratchIdx] = val
	m.scratchIdx ^= 1
	m.discardReference(old)
	m.discardReference(base)
	return nil
}

// memberFinal reads the last step of a member access run and releases
// the scratch references the run accumulated.
func (m *Machine) memberFinal(idx int) error {
	if idx < 0 || idx >= m.frame.fn.NameCount() {
		return errz.NewHostFaultf(errz.FaultInternal, "name index %d out of bounds", idx)
	}
	if err := m.needStack(1); err != nil {
		return err
	}
	name := m.frame.fn.NameAt(idx)
	base := m.pop()
	val, ok := base.GetAttr(name)
	if !ok {
		t := base.Type()
		m.discardReference(base)
		return throwError("undefined property %q on %s", name, t)
	}
	object.Retain(val)
	m.push(val)
	m.discardReference(base)
	m.clearMemberScratch()
	return nil
}

// throwTop raises the top of the stack as an exception.
func (m *Machine) throwTop() error {
	if err := m.needStack(1); err != nil {
		return err
	}
	obj := m.pop()
	exc, ok := obj.(*object.Instance)
	if !ok || !object.IsThrowable(exc) {
		t := obj.Type()
		m.discardReference(obj)
		return throwError("cannot throw %s value", t)
	}
	return thrown(exc)
}

// catchFault enters a catch handler: the pending fault record is
// consumed and its exception becomes a program value on the stack.
func (m *Machine) catchFault() error {
	if len(m.faults) == 0 {
		return errz.NewHostFault(errz.FaultInternal, "catch with no pending fault")
	}
	fault := m.faults[len(m.faults)-1]
	m.faults = m.faults[:len(m.faults)-1]
	m.push(fault.exception)
	return nil
}

// await settles or suspends on the future at the top of the stack. A
// settled future produces its value or throws its failure in place. A
// pending future suspends the frame: the machine keeps no handle on
// the awaited future, and the embedder resumes the frame through its
// adapter when the result is ready.
func (m *Machine) await() error {
	if err := m.needStack(1); err != nil {
		return err
	}
	obj := m.pop()
	fut, ok := obj.(*object.Future)
	if !ok {
		t := obj.Type()
		m.discardReference(obj)
		return throwError("await of %s value", t)
	}
	switch fut.State() {
	case object.FutureSucceeded:
		result := fut.Result()
		if result == nil {
			result = object.Nil
		}
		object.Retain(result)
		m.push(result)
		return nil
	case object.FutureFailed:
		exc := fut.Failure()
		object.Retain(exc)
		return thrown(exc)
	case object.FutureAborted:
		return errz.NewHostFault(errz.FaultInternal, "await of an aborted computation")
	}

	f := m.frame
	switch {
	case f.fn.IsAsync():
		first := f.future == nil
		if first {
			f.future = object.NewFuture()
			f.suspend = suspendFuture
			f.resumed = true
		}
		f.resumeOffset = m.pc
		m.popStackTo(f.stackBase)
		m.suspended[f.future] = f
		f.future.SetRunning(false)
		m.frameDepth--
		caller := f.caller
		if caller != nil {
			// First suspension: the frame detaches for good and the
			// pending future becomes the call's result.
			f.caller = nil
			m.frame = caller
			m.pc = f.returnOffset
			m.opOffset = f.returnOffset
			m.push(f.future)
		} else {
			m.frame = nil
			if first {
				m.push(f.future)
			}
		}
		return nil
	case f.suspend == suspendAsyncGenerator:
		f.resumeOffset = m.pc
		m.popStackTo(f.stackBase)
		f.agen.SetState(object.GeneratorSuspended)
		f.agen.SetRunning(false)
		m.frameDepth--
		m.frame = nil
		return nil
	default:
		return errz.NewHostFaultf(errz.FaultInternal,
			"%s frame cannot await", f.fn.Kind())
	}
}

// yieldValue suspends the current generator frame with the top of the
// stack as the element.
func (m *Machine) yieldValue() error {
	if err := m.needStack(1); err != nil {
		return err
	}
	v := m.pop()
	f := m.frame
	switch f.suspend {
	case suspendGenerator:
		m.popStackTo(f.stackBase)
		f.resumeOffset = m.pc
		f.gen.SetState(object.GeneratorSuspended)
		m.frameDepth--
		m.frame = nil
		m.suspendResult = v
		return nil
	case suspendAsyncGenerator:
		m.popStackTo(f.stackBase)
		f.resumeOffset = m.pc
		f.agen.SetState(object.GeneratorSuspended)
		f.agen.SetRunning(false)
		m.frameDepth--
		m.frame = nil
		if waiting := f.agen.Waiting(); waiting != nil {
			f.agen.SetWaiting(nil)
			if err := waiting.Succeed(v); err != nil {
				m.logger.Error("failed to settle async generator future", zap.Error(err))
				m.discardReference(v)
			}
		} else {
			m.suspendResult = v
		}
		return nil
	default:
		m.discardReference(v)
		return errz.NewHostFaultf(errz.FaultInternal,
			"%s frame cannot yield", f.fn.Kind())
	}
}
