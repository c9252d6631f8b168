package ftl

import "unsafe"

// callThunk calls the System V AMD64 function at entry with data in RDI
// and returns its RAX. Implemented in callthunk_amd64.s as an ABI0 stub
// so the argument and result registers are exactly the ones a
// generated function's prologue/epilogue expect, independent of
// whatever register Go's own ABI happens to use for a direct call
// through a func value.
func callThunk(entry uintptr, data unsafe.Pointer) int64
