package ftl

import "github.com/janweinstock/ftl/internal/x64"

// aluRegReg implements the code generator façade's per-operation pattern
// for register-register ALU ops: pin the source, fetch the destination,
// emit, mark dirty, unpin.
func (fn *Function) aluRegReg(op x64.ALUOp, dst, src *Value) error {
	if err := fn.ensureEmitting(); err != nil {
		return err
	}
	fn.pinReg(src)
	defer fn.unpinReg(src)
	dstReg, err := fn.fetch(dst, x64.RegNone)
	if err != nil {
		return err
	}
	srcReg, err := fn.fetch(src, x64.RegNone)
	if err != nil {
		return err
	}
	if err := fn.enc.ALU(op, dst.width, x64.Reg(dstReg), srcReg); err != nil {
		return wrapError(KindBufferFull, err, "emit alu op on %q, %q", dst.name, src.name)
	}
	if op != x64.ALUCmp {
		fn.markDirty(dstReg)
	}
	return nil
}

func (fn *Function) Add(dst, src *Value) error { return fn.aluRegReg(x64.ALUAdd, dst, src) }
func (fn *Function) Or(dst, src *Value) error  { return fn.aluRegReg(x64.ALUOr, dst, src) }
func (fn *Function) Adc(dst, src *Value) error { return fn.aluRegReg(x64.ALUAdc, dst, src) }
func (fn *Function) Sbb(dst, src *Value) error { return fn.aluRegReg(x64.ALUSbb, dst, src) }
func (fn *Function) And(dst, src *Value) error { return fn.aluRegReg(x64.ALUAnd, dst, src) }
func (fn *Function) Sub(dst, src *Value) error { return fn.aluRegReg(x64.ALUSub, dst, src) }
func (fn *Function) Xor(dst, src *Value) error { return fn.aluRegReg(x64.ALUXor, dst, src) }

// Cmp compares a against b and sets flags; neither operand is modified.
func (fn *Function) Cmp(a, b *Value) error { return fn.aluRegReg(x64.ALUCmp, a, b) }

// aluImm implements the immediate-operand variant of the façade's
// per-operation pattern.
func (fn *Function) aluImm(op x64.ALUOp, dst *Value, imm int32) error {
	if err := fn.ensureEmitting(); err != nil {
		return err
	}
	dstReg, err := fn.fetch(dst, x64.RegNone)
	if err != nil {
		return err
	}
	if err := fn.enc.ALUImm(op, dst.width, x64.Reg(dstReg), imm); err != nil {
		return wrapError(KindBufferFull, err, "emit alu-imm op on %q", dst.name)
	}
	if op != x64.ALUCmp {
		fn.markDirty(dstReg)
	}
	return nil
}

func (fn *Function) AddImm(dst *Value, imm int32) error { return fn.aluImm(x64.ALUAdd, dst, imm) }
func (fn *Function) OrImm(dst *Value, imm int32) error  { return fn.aluImm(x64.ALUOr, dst, imm) }
func (fn *Function) AndImm(dst *Value, imm int32) error { return fn.aluImm(x64.ALUAnd, dst, imm) }
func (fn *Function) SubImm(dst *Value, imm int32) error { return fn.aluImm(x64.ALUSub, dst, imm) }
func (fn *Function) XorImm(dst *Value, imm int32) error { return fn.aluImm(x64.ALUXor, dst, imm) }
func (fn *Function) CmpImm(dst *Value, imm int32) error { return fn.aluImm(x64.ALUCmp, dst, imm) }

// Mov copies src into dst's register, without touching src.
func (fn *Function) Mov(dst, src *Value) error {
	if err := fn.ensureEmitting(); err != nil {
		return err
	}
	fn.pinReg(src)
	defer fn.unpinReg(src)
	srcReg, err := fn.fetch(src, x64.RegNone)
	if err != nil {
		return err
	}
	dstReg, err := fn.assign(dst, x64.RegNone)
	if err != nil {
		return err
	}
	if dstReg == srcReg {
		return nil
	}
	if err := fn.enc.MovRM(dst.width, x64.Reg(dstReg), srcReg); err != nil {
		return wrapError(KindBufferFull, err, "emit mov %q, %q", dst.name, src.name)
	}
	fn.markDirty(dstReg)
	return nil
}

// unary implements inc/dec/not/neg: fetch, emit, mark dirty.
func (fn *Function) unary(emit func(width int, rm x64.RM) error, v *Value) error {
	if err := fn.ensureEmitting(); err != nil {
		return err
	}
	reg, err := fn.fetch(v, x64.RegNone)
	if err != nil {
		return err
	}
	if err := emit(v.width, x64.Reg(reg)); err != nil {
		return wrapError(KindBufferFull, err, "emit unary op on %q", v.name)
	}
	fn.markDirty(reg)
	return nil
}

func (fn *Function) Inc(v *Value) error { return fn.unary(fn.enc.Inc, v) }
func (fn *Function) Dec(v *Value) error { return fn.unary(fn.enc.Dec, v) }
func (fn *Function) Not(v *Value) error { return fn.unary(fn.enc.Not, v) }
func (fn *Function) Neg(v *Value) error { return fn.unary(fn.enc.Neg, v) }

// shiftImm implements shl/shr/sar/rol/ror/rcl/rcr by an immediate count.
func (fn *Function) shiftImm(op x64.ShiftOp, v *Value, count uint8) error {
	if err := fn.ensureEmitting(); err != nil {
		return err
	}
	reg, err := fn.fetch(v, x64.RegNone)
	if err != nil {
		return err
	}
	if err := fn.enc.ShiftImm(op, v.width, x64.Reg(reg), count); err != nil {
		return wrapError(KindBufferFull, err, "emit shift on %q", v.name)
	}
	fn.markDirty(reg)
	return nil
}

// shiftByValue implements a shift whose count is itself a Value, which
// must be materialized into CL ahead of the shift per the ISA's
// shift-by-CL encoding.
func (fn *Function) shiftByValue(op x64.ShiftOp, v, count *Value) error {
	if err := fn.ensureEmitting(); err != nil {
		return err
	}
	fn.pinReg(v)
	defer fn.unpinReg(v)
	if _, err := fn.fetch(count, x64.RCX); err != nil {
		return err
	}
	reg, err := fn.fetch(v, x64.RegNone)
	if err != nil {
		return err
	}
	if err := fn.enc.ShiftCL(op, v.width, x64.Reg(reg)); err != nil {
		return wrapError(KindBufferFull, err, "emit shift-by-cl on %q", v.name)
	}
	fn.markDirty(reg)
	return nil
}

func (fn *Function) Shl(v *Value, count uint8) error { return fn.shiftImm(x64.ShiftShl, v, count) }
func (fn *Function) Shr(v *Value, count uint8) error { return fn.shiftImm(x64.ShiftShr, v, count) }
func (fn *Function) Sar(v *Value, count uint8) error { return fn.shiftImm(x64.ShiftSar, v, count) }
func (fn *Function) Rol(v *Value, count uint8) error { return fn.shiftImm(x64.ShiftRol, v, count) }
func (fn *Function) Ror(v *Value, count uint8) error { return fn.shiftImm(x64.ShiftRor, v, count) }
func (fn *Function) Rcl(v *Value, count uint8) error { return fn.shiftImm(x64.ShiftRcl, v, count) }
func (fn *Function) Rcr(v *Value, count uint8) error { return fn.shiftImm(x64.ShiftRcr, v, count) }

func (fn *Function) ShlBy(v, count *Value) error { return fn.shiftByValue(x64.ShiftShl, v, count) }
func (fn *Function) ShrBy(v, count *Value) error { return fn.shiftByValue(x64.ShiftShr, v, count) }
func (fn *Function) SarBy(v, count *Value) error { return fn.shiftByValue(x64.ShiftSar, v, count) }

// mulDivSetup prepares the shared RDX:RAX contract every one-operand
// multiply/divide instruction uses: right must land somewhere other than
// RAX/RDX (both get overwritten by the instruction itself), left must be
// in RAX, and whatever the allocator previously kept in RAX/RDX must be
// flushed and forgotten before the instruction runs, since by the time
// captureResult claims those registers for the result the bookkeeping
// must already show them free.
func (fn *Function) mulDivSetup(left, right *Value) (x64.Register, error) {
	var rightReg x64.Register
	err := fn.withReserved([]uint8{x64.RAX.Index(), x64.RDX.Index()}, func() error {
		var err error
		rightReg, err = fn.fetch(right, x64.RegNone)
		return err
	})
	if err != nil {
		return x64.RegNone, err
	}
	// withReserved only keeps right from being freshly allocated into
	// RAX/RDX; if it was already resident there from earlier in the
	// function, move it out explicitly.
	if rightReg == x64.RAX || rightReg == x64.RDX {
		if err := fn.withReserved([]uint8{x64.RAX.Index(), x64.RDX.Index()}, func() error {
			alt, err := fn.allocateGPR(x64.RegNone, right)
			if err != nil {
				return err
			}
			return fn.relocateGPR(right, alt)
		}); err != nil {
			return x64.RegNone, err
		}
		rightReg = right.reg
	}
	fn.pinReg(right)
	defer fn.unpinReg(right)
	if _, err := fn.fetch(left, x64.RAX); err != nil {
		return x64.RegNone, err
	}
	if err := fn.clobberRegs(x64.RAX, x64.RDX); err != nil {
		return x64.RegNone, err
	}
	return rightReg, nil
}

// IMul computes left*right (signed) truncated to left's width, returning
// a fresh scratch value owning the low half (RAX).
func (fn *Function) IMul(left, right *Value) (*Value, error) {
	if err := fn.ensureEmitting(); err != nil {
		return nil, err
	}
	rightReg, err := fn.mulDivSetup(left, right)
	if err != nil {
		return nil, err
	}
	if err := fn.enc.IMul1(left.width, x64.Reg(rightReg)); err != nil {
		return nil, wrapError(KindBufferFull, err, "emit imul")
	}
	return fn.captureResult("imul.result", left.width, x64.RAX)
}

// IDiv computes left/right (signed, truncating toward zero), returning
// the quotient. Sign-extends RAX into RDX:RAX first via cdq/cqo.
func (fn *Function) IDiv(left, right *Value) (*Value, error) {
	q, _, err := fn.idivImpl(left, right)
	return q, err
}

// IMod computes left%right (signed), returning the remainder.
func (fn *Function) IMod(left, right *Value) (*Value, error) {
	_, r, err := fn.idivImpl(left, right)
	return r, err
}

func (fn *Function) idivImpl(left, right *Value) (quotient, remainder *Value, err error) {
	if err = fn.ensureEmitting(); err != nil {
		return nil, nil, err
	}
	rightReg, err := fn.mulDivSetup(left, right)
	if err != nil {
		return nil, nil, err
	}
	if left.width == 64 {
		err = fn.enc.Cqo()
	} else {
		err = fn.enc.Cdq()
	}
	if err != nil {
		return nil, nil, wrapError(KindBufferFull, err, "sign-extend before idiv")
	}
	if err := fn.enc.IDiv(left.width, x64.Reg(rightReg)); err != nil {
		return nil, nil, wrapError(KindBufferFull, err, "emit idiv")
	}
	quotient, err = fn.captureResult("idiv.quotient", left.width, x64.RAX)
	if err != nil {
		return nil, nil, err
	}
	remainder, err = fn.captureResult("idiv.remainder", left.width, x64.RDX)
	return quotient, remainder, err
}

// UMul, UDiv, UMod mirror IMul/IDiv/IMod using the unsigned mul/div
// opcodes; unsigned division needs RDX zeroed rather than sign-extended.
func (fn *Function) UMul(left, right *Value) (*Value, error) {
	if err := fn.ensureEmitting(); err != nil {
		return nil, err
	}
	rightReg, err := fn.mulDivSetup(left, right)
	if err != nil {
		return nil, err
	}
	if err := fn.enc.Mul(left.width, x64.Reg(rightReg)); err != nil {
		return nil, wrapError(KindBufferFull, err, "emit mul")
	}
	return fn.captureResult("mul.result", left.width, x64.RAX)
}

func (fn *Function) UDiv(left, right *Value) (*Value, error) {
	q, _, err := fn.udivImpl(left, right)
	return q, err
}

func (fn *Function) UMod(left, right *Value) (*Value, error) {
	_, r, err := fn.udivImpl(left, right)
	return r, err
}

func (fn *Function) udivImpl(left, right *Value) (quotient, remainder *Value, err error) {
	if err = fn.ensureEmitting(); err != nil {
		return nil, nil, err
	}
	rightReg, err := fn.mulDivSetup(left, right)
	if err != nil {
		return nil, nil, err
	}
	if err := fn.enc.XorRDXRDX(); err != nil {
		return nil, nil, wrapError(KindBufferFull, err, "zero rdx before div")
	}
	if err := fn.enc.Div(left.width, x64.Reg(rightReg)); err != nil {
		return nil, nil, wrapError(KindBufferFull, err, "emit div")
	}
	quotient, err = fn.captureResult("div.quotient", left.width, x64.RAX)
	if err != nil {
		return nil, nil, err
	}
	remainder, err = fn.captureResult("div.remainder", left.width, x64.RDX)
	return quotient, remainder, err
}

// captureResult creates a fresh dirty scratch bound to reg, used to pick
// up a hardware-dictated result register (RAX, RDX) after an instruction
// that writes it implicitly.
func (fn *Function) captureResult(name string, width int, reg x64.Register) (*Value, error) {
	v := fn.newValue(name, width, KindScratch, false)
	if _, err := fn.assign(v, reg); err != nil {
		return nil, err
	}
	v.dirty = true
	return v, nil
}

// ZeroExtend widens src (8/16/32 bits) into dst with upper bits cleared.
func (fn *Function) ZeroExtend(dst, src *Value) error {
	if err := fn.ensureEmitting(); err != nil {
		return err
	}
	fn.pinReg(src)
	defer fn.unpinReg(src)
	srcReg, err := fn.fetch(src, x64.RegNone)
	if err != nil {
		return err
	}
	dstReg, err := fn.assign(dst, x64.RegNone)
	if err != nil {
		return err
	}
	if src.width == 32 && dst.width == 64 {
		// mov r32, r32 already zero-extends the upper 32 bits on this
		// ISA; no movzx form exists for 32->64.
		if err := fn.enc.MovRM(32, x64.Reg(dstReg), srcReg); err != nil {
			return wrapError(KindBufferFull, err, "zero-extend %q", src.name)
		}
	} else {
		if err := fn.enc.MovZX(dst.width, src.width, dstReg, x64.Reg(srcReg)); err != nil {
			return wrapError(KindBufferFull, err, "zero-extend %q", src.name)
		}
	}
	fn.markDirty(dstReg)
	return nil
}

// SignExtend widens src into dst preserving sign.
func (fn *Function) SignExtend(dst, src *Value) error {
	if err := fn.ensureEmitting(); err != nil {
		return err
	}
	fn.pinReg(src)
	defer fn.unpinReg(src)
	srcReg, err := fn.fetch(src, x64.RegNone)
	if err != nil {
		return err
	}
	dstReg, err := fn.assign(dst, x64.RegNone)
	if err != nil {
		return err
	}
	var encErr error
	if src.width == 32 && dst.width == 64 {
		encErr = fn.enc.MovSXD(dstReg, x64.Reg(srcReg))
	} else {
		encErr = fn.enc.MovSX(dst.width, src.width, dstReg, x64.Reg(srcReg))
	}
	if encErr != nil {
		return wrapError(KindBufferFull, encErr, "sign-extend %q", src.name)
	}
	fn.markDirty(dstReg)
	return nil
}

// SetCC materializes condition cond as a 0/1 byte in dst.
func (fn *Function) SetCC(cond x64.Condition, dst *Value) error {
	if err := fn.ensureEmitting(); err != nil {
		return err
	}
	reg, err := fn.assign(dst, x64.RegNone)
	if err != nil {
		return err
	}
	if err := fn.enc.SetCC(cond, x64.Reg(reg)); err != nil {
		return wrapError(KindBufferFull, err, "emit setcc")
	}
	fn.markDirty(reg)
	return nil
}

// CMovCC conditionally moves src into dst's register.
func (fn *Function) CMovCC(cond x64.Condition, dst, src *Value) error {
	if err := fn.ensureEmitting(); err != nil {
		return err
	}
	fn.pinReg(src)
	defer fn.unpinReg(src)
	srcReg, err := fn.fetch(src, x64.RegNone)
	if err != nil {
		return err
	}
	dstReg, err := fn.fetch(dst, x64.RegNone)
	if err != nil {
		return err
	}
	if err := fn.enc.CMovCC(cond, dst.width, dstReg, x64.Reg(srcReg)); err != nil {
		return wrapError(KindBufferFull, err, "emit cmovcc")
	}
	fn.markDirty(dstReg)
	return nil
}

// Jcc emits a conditional jump to lbl. far selects the 32-bit
// displacement form; otherwise the 8-bit form is used and resolution
// fails with DisplacementTooLarge if the eventual offset doesn't fit.
func (fn *Function) Jcc(cond x64.Condition, lbl *x64.Label, far bool) error {
	if err := fn.ensureEmitting(); err != nil {
		return err
	}
	var site, base int
	var err error
	width := 1
	if far {
		width = 4
		site, base, err = fn.enc.JccNear(cond)
	} else {
		site, base, err = fn.enc.JccShort(cond)
	}
	if err != nil {
		return wrapError(KindBufferFull, err, "emit jcc")
	}
	return fn.attachFixup(lbl, site, width, base)
}

// Jmp emits an unconditional jump to lbl.
func (fn *Function) Jmp(lbl *x64.Label, far bool) error {
	if err := fn.ensureEmitting(); err != nil {
		return err
	}
	var site, base int
	var err error
	width := 1
	if far {
		width = 4
		site, base, err = fn.enc.JmpNear()
	} else {
		site, base, err = fn.enc.JmpShort()
	}
	if err != nil {
		return wrapError(KindBufferFull, err, "emit jmp")
	}
	return fn.attachFixup(lbl, site, width, base)
}

func (fn *Function) attachFixup(lbl *x64.Label, site, width, base int) error {
	if err := lbl.AttachFixup(fn.enc.Buffer(), site, width, base); err != nil {
		return translateLabelErr(err)
	}
	return nil
}

// Ret ensures val is in RAX and jumps to the shared epilogue.
func (fn *Function) Ret(val *Value) error {
	if err := fn.ensureEmitting(); err != nil {
		return err
	}
	if _, err := fn.fetch(val, x64.ReturnReg); err != nil {
		return err
	}
	fn.retValue = val
	return fn.Jmp(fn.exitLabel, true)
}

// Fence emits a full memory fence (the generator does not distinguish
// load/store fences; mfence orders both, matching the source's
// gen_fence).
func (fn *Function) Fence(loads, stores bool) error {
	if err := fn.ensureEmitting(); err != nil {
		return err
	}
	if err := fn.enc.Mfence(); err != nil {
		return wrapError(KindBufferFull, err, "emit mfence")
	}
	return nil
}

// Exchange atomically (in the ISA sense of implied lock on memory
// operands) swaps dst and src's contents.
func (fn *Function) Exchange(dst, src *Value) error {
	if err := fn.ensureEmitting(); err != nil {
		return err
	}
	dstReg, err := fn.fetch(dst, x64.RegNone)
	if err != nil {
		return err
	}
	srcReg, err := fn.fetch(src, x64.RegNone)
	if err != nil {
		return err
	}
	if err := fn.enc.Xchg(dst.width, x64.Reg(dstReg), srcReg); err != nil {
		return wrapError(KindBufferFull, err, "emit xchg")
	}
	fn.markDirty(dstReg)
	fn.markDirty(srcReg)
	return nil
}

// CompareAndSwap emits `lock cmpxchg`: if dest equals expect, dest
// becomes newVal and the swap succeeded; otherwise dest is unchanged.
// Returns a scratch holding the pre-swap value of dest (always found in
// RAX by the ISA's cmpxchg contract).
func (fn *Function) CompareAndSwap(dest, expect, newVal *Value) (*Value, error) {
	if err := fn.ensureEmitting(); err != nil {
		return nil, err
	}
	if _, err := fn.fetch(expect, x64.RAX); err != nil {
		return nil, err
	}
	fn.pinReg(expect)
	defer fn.unpinReg(expect)
	destReg, err := fn.fetch(dest, x64.RegNone)
	if err != nil {
		return nil, err
	}
	fn.pinReg(dest)
	newReg, err := fn.fetch(newVal, x64.RegNone)
	fn.unpinReg(dest)
	if err != nil {
		return nil, err
	}
	if err := fn.enc.LockCmpXchg(dest.width, x64.Reg(destReg), newReg); err != nil {
		return nil, wrapError(KindBufferFull, err, "emit lock cmpxchg")
	}
	fn.markDirty(destReg)
	return fn.captureResult("cas.previous", dest.width, x64.RAX)
}

// bitTestImm/bitTestReg implement the bt/bts/btr/btc family against an
// immediate bit index or a register-valued one.
func (fn *Function) bitTestImm(op x64.BitTestOp, v *Value, bit uint8) error {
	if err := fn.ensureEmitting(); err != nil {
		return err
	}
	reg, err := fn.fetch(v, x64.RegNone)
	if err != nil {
		return err
	}
	if err := fn.enc.BitTestImm(op, v.width, x64.Reg(reg), bit); err != nil {
		return wrapError(KindBufferFull, err, "emit bit test")
	}
	if op != x64.BTOp {
		fn.markDirty(reg)
	}
	return nil
}

func (fn *Function) bitTestReg(op x64.BitTestOp, v, bitIndex *Value) error {
	if err := fn.ensureEmitting(); err != nil {
		return err
	}
	fn.pinReg(bitIndex)
	defer fn.unpinReg(bitIndex)
	idxReg, err := fn.fetch(bitIndex, x64.RegNone)
	if err != nil {
		return err
	}
	reg, err := fn.fetch(v, x64.RegNone)
	if err != nil {
		return err
	}
	if err := fn.enc.BitTestReg(op, v.width, x64.Reg(reg), idxReg); err != nil {
		return wrapError(KindBufferFull, err, "emit bit test")
	}
	if op != x64.BTOp {
		fn.markDirty(reg)
	}
	return nil
}

func (fn *Function) BitTest(v *Value, bit uint8) error { return fn.bitTestImm(x64.BTOp, v, bit) }
func (fn *Function) BitTestAndSet(v *Value, bit uint8) error {
	return fn.bitTestImm(x64.BTSOp, v, bit)
}
func (fn *Function) BitTestAndReset(v *Value, bit uint8) error {
	return fn.bitTestImm(x64.BTROp, v, bit)
}
func (fn *Function) BitTestAndComplement(v *Value, bit uint8) error {
	return fn.bitTestImm(x64.BTCOp, v, bit)
}

func (fn *Function) BitTestReg(v, bitIndex *Value) error { return fn.bitTestReg(x64.BTOp, v, bitIndex) }
func (fn *Function) BitTestAndSetReg(v, bitIndex *Value) error {
	return fn.bitTestReg(x64.BTSOp, v, bitIndex)
}
func (fn *Function) BitTestAndResetReg(v, bitIndex *Value) error {
	return fn.bitTestReg(x64.BTROp, v, bitIndex)
}
func (fn *Function) BitTestAndComplementReg(v, bitIndex *Value) error {
	return fn.bitTestReg(x64.BTCOp, v, bitIndex)
}
