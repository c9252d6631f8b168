package ftl

import "unsafe"

// Finalize makes every function emitted into the generator so far
// executable and forbids further emission into it. Call once, after the
// last Function.Finish.
func (g *Generator) Finalize() error {
	return g.buf.Finalize()
}

// Exec invokes fn as `int64 fn(void *data)`, the ABI every generated
// function shares: data lands in the implicit base-pointer argument
// (RDI on entry, copied into RBP by the prologue) and the return value
// comes back in RAX. fn's generator must have been Finalized first.
//
// Go does not guarantee its own calling convention places the first
// argument in RDI -- the register-based ABIInternal is free to use AX
// instead -- so the call is routed through callThunk, an ABI0 assembly
// stub that places entry and data into the exact registers a SysV
// function expects before calling it.
func (fn *Function) Exec(data unsafe.Pointer) (int64, error) {
	if fn.state != stateFinished {
		return 0, newError(KindFunctionSealed, "function %q has not been finished", fn.name)
	}
	entry := fn.gen.buf.Entry() + uintptr(fn.entryOffset)
	return callThunk(entry, data), nil
}
