package ftl

import (
	"math"

	"github.com/janweinstock/ftl/internal/asm"
	"github.com/janweinstock/ftl/internal/x64"
)

// basePointerReg is the register that holds the implicit data pointer
// every generated function receives as its first argument. It doubles
// as the addressing base for local stack slots. RBP is never offered to
// the allocator (see newGPRFile), so this convention never collides with
// value storage.
const basePointerReg = x64.RBP

// calleeSavedPushOrder lists the registers the prologue preserves (and
// the epilogue restores, in reverse). RBX/R12-R15 are preserved because
// the allocator may hand them out as value homes; RBP is preserved
// because the prologue repurposes it to hold the data pointer, and the
// caller's own RBP (part of its frame-pointer chain) must come back
// exactly as it went in.
var calleeSavedPushOrder = []x64.Register{x64.RBX, x64.R12, x64.R13, x64.R14, x64.R15, x64.RBP}

// funcState is the emission lifecycle: Fresh before any operation,
// Emitting once the prologue has been written, Finished after Finish.
type funcState uint8

const (
	stateFresh funcState = iota
	stateEmitting
	stateFinished
)

// Generator owns one code buffer shared by every Function emitted into
// it. It is not safe for concurrent emission; exactly one Function may
// be Emitting at a time.
type Generator struct {
	buf *asm.CodeBuffer
	enc *x64.Encoder
}

// NewGenerator allocates a code buffer with room for at least capacity
// bytes of machine code and returns a Generator ready to emit functions
// into it.
func NewGenerator(capacity int) (*Generator, error) {
	buf, err := asm.NewCodeBuffer(capacity)
	if err != nil {
		return nil, wrapError(KindBufferFull, err, "allocate code buffer")
	}
	return &Generator{buf: buf, enc: x64.NewEncoder(buf)}, nil
}

// Close releases the generator's backing memory. No Function created
// from it may be used afterward.
func (g *Generator) Close() error {
	return g.buf.Free()
}

// Function begins a new function at the generator's current cursor. The
// prologue is not emitted until the first real operation, matching the
// Fresh -> Emitting transition.
func (g *Generator) Function(name string) *Function {
	return &Function{
		gen:       g,
		name:      name,
		enc:       g.enc,
		gpr:       newGPRFile(),
		xmm:       newXMMFile(),
		exitLabel: x64.NewLabel(name + ".exit"),
		values:    make(map[*Value]struct{}),
	}
}

// Function is a per-function emission context: its own register
// allocator state, its own entry point, and a shared reference to the
// generator's single code buffer and encoder.
type Function struct {
	gen   *Generator
	name  string
	enc   *x64.Encoder
	state funcState

	gpr *regFile
	xmm *regFile

	entryOffset  int
	stackSize    int32
	frameSizeFix int // buffer offset of the placeholder sub rsp, imm32

	exitLabel *x64.Label
	retValue  *Value

	values map[*Value]struct{}
	seq    uint64
}

// valueForReg returns the Value (if any) currently owning GPR r.
func (fn *Function) valueForReg(r x64.Register) *Value {
	return fn.gpr.ownerOf(r.Index())
}

func (fn *Function) valueForXMM(x x64.XMM) *Value {
	return fn.xmm.ownerOf(x.Index())
}

// ensureEmitting transitions Fresh -> Emitting, writing the prologue
// exactly once, and rejects any call once Finished.
func (fn *Function) ensureEmitting() error {
	switch fn.state {
	case stateFinished:
		return newError(KindFunctionSealed, "function %q already finished", fn.name)
	case stateEmitting:
		return nil
	}
	fn.entryOffset = fn.enc.Buffer().Cursor()
	for _, r := range calleeSavedPushOrder {
		if err := fn.enc.Push(r); err != nil {
			return wrapError(KindBufferFull, err, "prologue push %s", r)
		}
	}
	// RBP is already saved on the stack by the loop above; safe to
	// overwrite it with the data pointer now.
	if err := fn.enc.MovRM(64, x64.Reg(basePointerReg), x64.RDI); err != nil {
		return wrapError(KindBufferFull, err, "prologue: move data pointer into base register")
	}
	// Placeholder `sub rsp, imm32` (opcode forced to the imm32 form
	// regardless of the eventual frame size, since the placeholder is
	// written before the size is known and Patch cannot change an
	// instruction's length after the fact).
	buf := fn.enc.Buffer()
	if err := buf.Write([]byte{0x48, 0x81, 0xec}); err != nil {
		return wrapError(KindBufferFull, err, "prologue: reserve frame")
	}
	fn.frameSizeFix = buf.Cursor()
	if err := buf.Write([]byte{0, 0, 0, 0}); err != nil {
		return wrapError(KindBufferFull, err, "prologue: reserve frame")
	}
	fn.state = stateEmitting
	return nil
}

// EntryOffset returns the buffer offset this function's code begins at.
// Only meaningful once Finish has succeeded.
func (fn *Function) EntryOffset() int { return fn.entryOffset }

// newValue allocates bookkeeping for a value without materializing it
// anywhere; callers set kind-specific fields before returning it.
func (fn *Function) newValue(name string, width int, kind ValueKind, scalar bool) *Value {
	fn.seq++
	v := &Value{name: name, width: width, kind: kind, scalar: scalar, reg: x64.RegNone, created: fn.seq}
	fn.values[v] = struct{}{}
	return v
}

// LocalI32 creates a stack-resident 32-bit local initialized to init.
func (fn *Function) LocalI32(name string, init int32) (*Value, error) {
	return fn.newLocal(name, 32, int64(init))
}

// LocalI64 creates a stack-resident 64-bit local initialized to init.
func (fn *Function) LocalI64(name string, init int64) (*Value, error) {
	return fn.newLocal(name, 64, init)
}

func (fn *Function) newLocal(name string, width int, init int64) (*Value, error) {
	if err := fn.ensureEmitting(); err != nil {
		return nil, err
	}
	v := fn.newValue(name, width, KindLocal, false)
	slotSize := int32(8) // every slot is pointer-sized for simplicity of addressing
	fn.stackSize += slotSize
	v.home = -fn.stackSize

	reg, err := fn.assign(v, x64.RegNone)
	if err != nil {
		return nil, err
	}
	if init >= -(1<<31) && init < 1<<31 {
		if err := fn.enc.MovImm32(width, x64.Reg(reg), int32(init)); err != nil {
			return nil, wrapError(KindBufferFull, err, "initialize local %q", name)
		}
	} else if err := fn.enc.MovImm64(reg, init); err != nil {
		return nil, wrapError(KindBufferFull, err, "initialize local %q", name)
	}
	v.dirty = true
	return v, nil
}

// LocalF64 creates a stack-resident double initialized to init.
func (fn *Function) LocalF64(name string, init float64) (*Value, error) {
	return fn.newLocalF(name, 64, init)
}

// LocalF32 creates a stack-resident single-precision float initialized
// to init.
func (fn *Function) LocalF32(name string, init float64) (*Value, error) {
	return fn.newLocalF(name, 32, init)
}

// newLocalF initializes a scalar local by writing its bit pattern
// straight to its stack slot through a clobbered GPR, bypassing the XMM
// allocator entirely -- there is no integer-immediate-to-XMM move on
// this ISA, but an immediate-to-memory one composes just as well since
// the value starts out not resident anywhere.
func (fn *Function) newLocalF(name string, width int, init float64) (*Value, error) {
	if err := fn.ensureEmitting(); err != nil {
		return nil, err
	}
	v := fn.newValue(name, width, KindLocal, true)
	slotSize := int32(8)
	fn.stackSize += slotSize
	v.home = -fn.stackSize

	var bits uint64
	if width == 64 {
		bits = math.Float64bits(init)
	} else {
		bits = uint64(math.Float32bits(float32(init)))
	}
	if err := fn.clobberRegs(x64.RAX); err != nil {
		return nil, err
	}
	if bits < 0x80000000 {
		if err := fn.enc.MovImm32(64, x64.Reg(x64.RAX), int32(bits)); err != nil {
			return nil, wrapError(KindBufferFull, err, "initialize scalar local %q", name)
		}
	} else if err := fn.enc.MovImm64(x64.RAX, int64(bits)); err != nil {
		return nil, wrapError(KindBufferFull, err, "initialize scalar local %q", name)
	}
	if err := fn.enc.MovRM(width, x64.Mem(basePointerReg, v.home), x64.RAX); err != nil {
		return nil, wrapError(KindBufferFull, err, "initialize scalar local %q", name)
	}
	return v, nil
}

// GlobalI32 creates a value backed by a fixed 32-bit memory address.
func (fn *Function) GlobalI32(name string, addr uintptr) (*Value, error) {
	if err := fn.ensureEmitting(); err != nil {
		return nil, err
	}
	v := fn.newValue(name, 32, KindGlobal, false)
	v.addr = addr
	return v, nil
}

// GlobalI64 creates a value backed by a fixed 64-bit memory address.
func (fn *Function) GlobalI64(name string, addr uintptr) (*Value, error) {
	if err := fn.ensureEmitting(); err != nil {
		return nil, err
	}
	v := fn.newValue(name, 64, KindGlobal, false)
	v.addr = addr
	return v, nil
}

// ScratchI64 creates a register-only 64-bit value with no home. It must
// be pinned for its whole use window or freed before a spill can be
// forced, per the allocator's OutOfRegisters contract.
func (fn *Function) ScratchI64(name string) (*Value, error) {
	if err := fn.ensureEmitting(); err != nil {
		return nil, err
	}
	return fn.newValue(name, 64, KindScratch, false), nil
}

// GlobalF64 creates a scalar value backed by a fixed 64-bit address.
func (fn *Function) GlobalF64(name string, addr uintptr) (*Value, error) {
	if err := fn.ensureEmitting(); err != nil {
		return nil, err
	}
	v := fn.newValue(name, 64, KindGlobal, true)
	v.addr = addr
	return v, nil
}

// GlobalF32 creates a scalar value backed by a fixed 32-bit address.
func (fn *Function) GlobalF32(name string, addr uintptr) (*Value, error) {
	if err := fn.ensureEmitting(); err != nil {
		return nil, err
	}
	v := fn.newValue(name, 32, KindGlobal, true)
	v.addr = addr
	return v, nil
}

// ScratchF64 creates a register-only double with no home.
func (fn *Function) ScratchF64(name string) (*Value, error) {
	if err := fn.ensureEmitting(); err != nil {
		return nil, err
	}
	return fn.newValue(name, 64, KindScratch, true), nil
}

// Label creates an unplaced label scoped to this function's buffer.
func (fn *Function) Label(name string) *x64.Label {
	return x64.NewLabel(name)
}

// Place binds lbl to the current cursor and resolves its pending fixups.
func (fn *Function) Place(lbl *x64.Label) error {
	if err := fn.ensureEmitting(); err != nil {
		return err
	}
	if err := lbl.Place(fn.enc.Buffer()); err != nil {
		return translateLabelErr(err)
	}
	return nil
}

func translateLabelErr(err error) error {
	if de, ok := err.(*x64.DisplacementError); ok {
		return wrapError(KindDisplacementTooLarge, de, "resolve fixup")
	}
	return wrapError(KindBufferFull, err, "resolve fixup")
}

// Finish patches the frame-size placeholder, places the exit label,
// emits the epilogue, and seals the function against further emission.
func (fn *Function) Finish() error {
	if fn.state == stateFinished {
		return nil
	}
	if err := fn.ensureEmitting(); err != nil {
		return err
	}
	// The exit label is the single epilogue entry point every Ret call
	// jumps to; its body (the flush below, then frame teardown) must
	// live after the label so it runs regardless of which Ret site
	// reached it, not just the fallthrough path.
	if err := fn.Place(fn.exitLabel); err != nil {
		return err
	}
	if err := fn.storeAllRegs(); err != nil {
		return err
	}
	frameSize := frameReservation(fn.stackSize)
	if err := fn.enc.Buffer().Patch(fn.frameSizeFix, 4, int64(frameSize)); err != nil {
		return wrapError(KindBufferFull, err, "patch frame size")
	}
	// `add rsp, imm32`, mirroring the prologue's forced-width sub.
	if err := fn.enc.Buffer().Write([]byte{0x48, 0x81, 0xc4}); err != nil {
		return wrapError(KindBufferFull, err, "epilogue: release frame")
	}
	if err := fn.enc.Buffer().Write(encodeLE32(frameSize)); err != nil {
		return wrapError(KindBufferFull, err, "epilogue: release frame")
	}
	for i := len(calleeSavedPushOrder) - 1; i >= 0; i-- {
		if err := fn.enc.Pop(calleeSavedPushOrder[i]); err != nil {
			return wrapError(KindBufferFull, err, "epilogue pop")
		}
	}
	if err := fn.enc.Ret(); err != nil {
		return wrapError(KindBufferFull, err, "epilogue ret")
	}
	fn.state = stateFinished
	return nil
}

func alignUp(v int32, align int32) int32 {
	if v <= 0 {
		return 0
	}
	return (v + align - 1) &^ (align - 1)
}

// frameReservation returns the `sub rsp` amount for a frame of at least
// stackSize bytes that leaves RSP 16-byte aligned at any call site
// inside the function body. The prologue's six callee-saved pushes
// (RBX, R12-R15, and the repurposed RBP) total 48 bytes -- a multiple
// of 16 -- so they leave RSP at the same residue mod 16 it had on
// entry (8, per the SysV convention that a `call` leaves RSP 8 mod 16
// in the callee). The reserved frame must therefore itself land 8 mod
// 16, not 0, to bring RSP back onto a 16-byte boundary.
func frameReservation(stackSize int32) int32 {
	padded := alignUp(stackSize+8, 16)
	return padded - 8
}

func encodeLE32(v int32) []byte {
	u := uint32(v)
	return []byte{byte(u), byte(u >> 8), byte(u >> 16), byte(u >> 24)}
}
