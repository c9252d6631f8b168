package ftl

import "github.com/janweinstock/ftl/internal/x64"

// Arg is one argument to Call: either a Value already resident somewhere
// in the function, or a constant materialized fresh at the call site.
type Arg interface {
	isArg()
}

// ValueArg passes an existing Value as an argument.
type ValueArg struct {
	Value *Value
}

// ImmArg passes a constant as an argument.
type ImmArg struct {
	Imm int64
}

func (ValueArg) isArg() {}
func (ImmArg) isArg()   {}

// Call emits a call to target, an absolute address of a host function
// with the implicit-data-pointer ABI every generated function itself
// follows: argreg(0) is always the function's own base pointer (the
// data pointer passed in), with args occupying argreg(1) onward. Callers
// that need to call a function without that convention should not use
// this adapter.
//
// Arguments are placed right to left so that a later argument's setup
// (which may itself spill a register) never clobbers an earlier one
// already parked in its argument register.
func (fn *Function) Call(target uintptr, args ...Arg) (*Value, error) {
	if err := fn.ensureEmitting(); err != nil {
		return nil, err
	}
	if len(args) > len(x64.ArgRegs)-1 {
		return nil, newError(KindInvalidOperand, "call takes at most %d arguments, got %d", len(x64.ArgRegs)-1, len(args))
	}

	for i := len(args) - 1; i >= 0; i-- {
		dst := x64.ArgReg(i + 1)
		switch a := args[i].(type) {
		case ValueArg:
			if _, err := fn.fetch(a.Value, dst); err != nil {
				return nil, err
			}
			fn.pinReg(a.Value)
		case ImmArg:
			if err := fn.materializeImm(dst, a.Imm); err != nil {
				return nil, err
			}
		default:
			return nil, newError(KindInvalidOperand, "unsupported call argument type %T", args[i])
		}
	}
	for _, a := range args {
		if va, ok := a.(ValueArg); ok {
			fn.unpinReg(va.Value)
		}
	}

	if err := fn.flushVolatileRegs(); err != nil {
		return nil, err
	}
	if err := fn.flushVolatileXMM(); err != nil {
		return nil, err
	}

	if err := fn.enc.MovRM(64, x64.Reg(x64.ArgReg(0)), basePointerReg); err != nil {
		return nil, wrapError(KindBufferFull, err, "move base pointer into argreg(0)")
	}

	if err := fn.emitCall(target); err != nil {
		return nil, err
	}
	return fn.captureResult("call.result", 64, x64.ReturnReg)
}

// materializeImm moves an immediate into an argument register, using the
// 32-bit form when it fits to avoid an unnecessary 10-byte encoding.
func (fn *Function) materializeImm(dst x64.Register, imm int64) error {
	if imm >= -(1<<31) && imm < 1<<31 {
		if err := fn.enc.MovImm32(64, x64.Reg(dst), int32(imm)); err != nil {
			return wrapError(KindBufferFull, err, "materialize immediate argument")
		}
		return nil
	}
	if err := fn.enc.MovImm64(dst, imm); err != nil {
		return wrapError(KindBufferFull, err, "materialize immediate argument")
	}
	return nil
}

// emitCall prefers a direct rel32 call when target is reachable from the
// call site, falling back to loading the address into a scratch register
// and calling indirect when it isn't. Reachability is checked before any
// bytes are written, since a `call rel32` placeholder can't be shrunk
// back into an indirect sequence once emitted.
func (fn *Function) emitCall(target uintptr) error {
	const callRelLen = 5 // opcode byte + rel32
	predictedBase := int64(fn.enc.Buffer().Entry()) + int64(fn.enc.Buffer().Cursor()) + callRelLen
	delta := int64(target) - predictedBase
	if delta < -(1<<31) || delta >= 1<<31 {
		return fn.callIndirect(target)
	}
	site, base, err := fn.enc.CallRel()
	if err != nil {
		return wrapError(KindBufferFull, err, "emit call")
	}
	if err := fn.enc.Buffer().Patch(site, 4, int64(target)-(int64(fn.enc.Buffer().Entry())+int64(base))); err != nil {
		return wrapError(KindBufferFull, err, "patch call displacement")
	}
	return nil
}

// callIndirect loads target into a scratch register and calls through it.
func (fn *Function) callIndirect(target uintptr) error {
	scratch := x64.RAX
	if err := fn.clobberRegs(scratch); err != nil {
		return err
	}
	if err := fn.enc.MovImm64(scratch, int64(target)); err != nil {
		return wrapError(KindBufferFull, err, "materialize call target")
	}
	if err := fn.enc.CallIndirect(x64.Reg(scratch)); err != nil {
		return wrapError(KindBufferFull, err, "emit indirect call")
	}
	return nil
}
