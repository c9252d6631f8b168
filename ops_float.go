package ftl

import "github.com/janweinstock/ftl/internal/x64"

// floatBin implements the scalar two-operand SSE pattern shared by
// add/sub/mul/div/min/max: pin src, fetch both, emit, mark dst dirty.
func (fn *Function) floatBin(emit func(double bool, dst x64.XMM, src x64.XMMOperand) error, dst, src *Value) error {
	if err := fn.ensureEmitting(); err != nil {
		return err
	}
	fn.pinXMM(src)
	defer fn.unpinXMM(src)
	dstReg, err := fn.fetchXMM(dst, xmmNone)
	if err != nil {
		return err
	}
	srcReg, err := fn.fetchXMM(src, xmmNone)
	if err != nil {
		return err
	}
	if err := emit(dst.isDouble(), dstReg, x64.XReg(srcReg)); err != nil {
		return wrapError(KindBufferFull, err, "emit scalar op on %q, %q", dst.name, src.name)
	}
	fn.markDirtyXMM(dstReg)
	return nil
}

func (fn *Function) AddF(dst, src *Value) error { return fn.floatBin(fn.enc.AddF, dst, src) }
func (fn *Function) SubF(dst, src *Value) error { return fn.floatBin(fn.enc.SubF, dst, src) }
func (fn *Function) MulF(dst, src *Value) error { return fn.floatBin(fn.enc.MulF, dst, src) }
func (fn *Function) DivF(dst, src *Value) error { return fn.floatBin(fn.enc.DivF, dst, src) }
func (fn *Function) MinF(dst, src *Value) error { return fn.floatBin(fn.enc.MinF, dst, src) }
func (fn *Function) MaxF(dst, src *Value) error { return fn.floatBin(fn.enc.MaxF, dst, src) }

// MovF copies src's value into dst's register, without touching src.
func (fn *Function) MovF(dst, src *Value) error {
	if err := fn.ensureEmitting(); err != nil {
		return err
	}
	fn.pinXMM(src)
	defer fn.unpinXMM(src)
	srcReg, err := fn.fetchXMM(src, xmmNone)
	if err != nil {
		return err
	}
	dstReg, err := fn.assignXMM(dst, xmmNone)
	if err != nil {
		return err
	}
	if dstReg == srcReg {
		return nil
	}
	if err := fn.enc.MovF(dst.isDouble(), dstReg, x64.XReg(srcReg)); err != nil {
		return wrapError(KindBufferFull, err, "emit movf %q, %q", dst.name, src.name)
	}
	fn.markDirtyXMM(dstReg)
	return nil
}

// SqrtF computes the square root of src into dst.
func (fn *Function) SqrtF(dst, src *Value) error {
	if err := fn.ensureEmitting(); err != nil {
		return err
	}
	fn.pinXMM(src)
	defer fn.unpinXMM(src)
	srcReg, err := fn.fetchXMM(src, xmmNone)
	if err != nil {
		return err
	}
	dstReg, err := fn.assignXMM(dst, xmmNone)
	if err != nil {
		return err
	}
	if err := fn.enc.SqrtF(dst.isDouble(), dstReg, x64.XReg(srcReg)); err != nil {
		return wrapError(KindBufferFull, err, "emit sqrtf %q", dst.name)
	}
	fn.markDirtyXMM(dstReg)
	return nil
}

// CompareF compares a against b, setting flags. ordered selects
// comiss/comisd (raises an exception on NaN) over the ucomiss/ucomisd
// variant; this generator never raises it, it just picks the opcode the
// caller asked for.
func (fn *Function) CompareF(ordered bool, a, b *Value) error {
	if err := fn.ensureEmitting(); err != nil {
		return err
	}
	fn.pinXMM(b)
	defer fn.unpinXMM(b)
	aReg, err := fn.fetchXMM(a, xmmNone)
	if err != nil {
		return err
	}
	bReg, err := fn.fetchXMM(b, xmmNone)
	if err != nil {
		return err
	}
	if err := fn.enc.CompareF(a.isDouble(), ordered, aReg, x64.XReg(bReg)); err != nil {
		return wrapError(KindBufferFull, err, "emit comparef")
	}
	return nil
}

// CvtToFloat converts the integer value src into the scalar value dst.
func (fn *Function) CvtToFloat(dst, src *Value) error {
	if err := fn.ensureEmitting(); err != nil {
		return err
	}
	fn.pinReg(src)
	defer fn.unpinReg(src)
	srcReg, err := fn.fetch(src, x64.RegNone)
	if err != nil {
		return err
	}
	dstReg, err := fn.assignXMM(dst, xmmNone)
	if err != nil {
		return err
	}
	if err := fn.enc.CvtIntToFloat(dst.isDouble(), src.width, dstReg, x64.Reg(srcReg)); err != nil {
		return wrapError(KindBufferFull, err, "emit cvt-to-float")
	}
	fn.markDirtyXMM(dstReg)
	return nil
}

// CvtToInt truncates the scalar value src into the integer value dst.
func (fn *Function) CvtToInt(dst, src *Value) error {
	if err := fn.ensureEmitting(); err != nil {
		return err
	}
	fn.pinXMM(src)
	defer fn.unpinXMM(src)
	srcReg, err := fn.fetchXMM(src, xmmNone)
	if err != nil {
		return err
	}
	dstReg, err := fn.assign(dst, x64.RegNone)
	if err != nil {
		return err
	}
	if err := fn.enc.CvtFloatToIntTrunc(src.isDouble(), dst.width, dstReg, x64.XReg(srcReg)); err != nil {
		return wrapError(KindBufferFull, err, "emit cvt-to-int")
	}
	fn.markDirty(dstReg)
	return nil
}
