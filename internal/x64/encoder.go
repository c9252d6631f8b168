package x64

import (
	"fmt"

	"github.com/janweinstock/ftl/internal/asm"
)

// InvalidOperandError reports an operand that is the wrong kind or width
// for the instruction being encoded.
type InvalidOperandError struct {
	Op     string
	Reason string
}

func (e *InvalidOperandError) Error() string {
	return fmt.Sprintf("x64: invalid operand for %s: %s", e.Op, e.Reason)
}

// Encoder emits x86-64 machine code into a CodeBuffer. It is a pure
// translator from (mnemonic, operands) to bytes: it never chooses
// registers or decides what to spill, that is the allocator's job one
// layer up.
type Encoder struct {
	buf *asm.CodeBuffer
}

// NewEncoder wraps buf. The encoder borrows the buffer; it does not own
// or free it.
func NewEncoder(buf *asm.CodeBuffer) *Encoder {
	return &Encoder{buf: buf}
}

// Buffer exposes the underlying CodeBuffer, e.g. so the generator can
// query Cursor() for fixup bookkeeping.
func (e *Encoder) Buffer() *asm.CodeBuffer {
	return e.buf
}

// rexPrefix computes a REX byte (or 0 if none is needed) from the
// operand-size and extension bits. w selects REX.W (64-bit operand size).
func rexPrefix(w, r, x, b bool) byte {
	if !w && !r && !x && !b {
		return 0
	}
	rex := byte(0x40)
	if w {
		rex |= 0x08
	}
	if r {
		rex |= 0x04
	}
	if x {
		rex |= 0x02
	}
	if b {
		rex |= 0x01
	}
	return rex
}

// modrmSIB computes the ModR/M byte (and, when the base register demands
// it, a SIB byte and displacement) for regField (either another register's
// low 3 bits, or an opcode extension) addressing rm.
func modrmSIB(regField uint8, rm RM) (modrm byte, sib *byte, disp []byte) {
	regField &= 0x7
	if !rm.IsMem() {
		return 0xc0 | (regField << 3) | rm.Reg().low3(), nil, nil
	}

	base := rm.base()
	d := rm.Disp()
	needsSIB := base.low3() == RSP.low3() // RSP or R12: SIB required, index=none
	basedRBP := base.low3() == RBP.low3() // RBP or R13: mod=0 with disp=0 is illegal

	var mod byte
	switch {
	case d == 0 && !basedRBP:
		mod = 0
	case fitsI8(d):
		mod = 1
	default:
		mod = 2
	}

	if needsSIB {
		modrm = (mod << 6) | (regField << 3) | 0x4 // rm field = 100 selects SIB
		sibByte := byte(0x20) | base.low3()        // scale=1, index=100 (none), base
		sib = &sibByte
	} else {
		modrm = (mod << 6) | (regField << 3) | base.low3()
	}

	switch mod {
	case 1:
		disp = []byte{byte(int8(d))}
	case 2:
		disp = le32(d)
	}
	return modrm, sib, disp
}

func (r RM) base() Register {
	if r.mem {
		return r.base
	}
	return r.reg
}

func fitsI8(v int32) bool { return v >= -128 && v <= 127 }

func le32(v int32) []byte {
	u := uint32(v)
	return []byte{byte(u), byte(u >> 8), byte(u >> 16), byte(u >> 24)}
}

func le16(v uint16) []byte {
	return []byte{byte(v), byte(v >> 8)}
}

// emit writes an instruction: optional legacy prefix, optional REX,
// opcode bytes, ModR/M/SIB/disp, and an immediate. Any of modrm, sib,
// disp, or imm may be nil (absent) depending on the caller; a rex of 0
// means no REX byte.
func (e *Encoder) emit(prefix66 bool, rex byte, opcode []byte, modrm *byte, sib *byte, disp, imm []byte) error {
	if prefix66 {
		if err := e.buf.WriteByte(0x66); err != nil {
			return err
		}
	}
	if rex != 0 {
		if err := e.buf.WriteByte(rex); err != nil {
			return err
		}
	}
	if err := e.buf.Write(opcode); err != nil {
		return err
	}
	if modrm != nil {
		if err := e.buf.WriteByte(*modrm); err != nil {
			return err
		}
	}
	if sib != nil {
		if err := e.buf.WriteByte(*sib); err != nil {
			return err
		}
	}
	if len(disp) > 0 {
		if err := e.buf.Write(disp); err != nil {
			return err
		}
	}
	if len(imm) > 0 {
		if err := e.buf.Write(imm); err != nil {
			return err
		}
	}
	return nil
}

// regExt returns the REX.R-relevant extension bit for reg when it
// occupies the ModR/M reg field (as opposed to the rm field).
func regExt(r Register) bool { return r.extended() }

// rmRex computes the REX.B (and, for SIB addressing, REX.X) bits
// contributed by an RM operand. This encoder never emits a scaled index,
// so REX.X is always false.
func rmRex(rm RM) (b bool) {
	return rm.base().extended()
}

// byteWidthForcesREX reports whether width==8 addressing of rm requires a
// REX prefix purely to select the SIL/DIL/BPL/SPL encoding.
func byteWidthForcesREX(width int, rm RM) bool {
	if width != 8 {
		return false
	}
	if rm.IsMem() {
		return false
	}
	return rm.Reg().needsREXForByteWidth()
}

// ---- ALU family -----------------------------------------------------

// ALUOp identifies one of the eight ALU reg-field opcodes that share a
// single encoding pattern (add/or/adc/sbb/and/sub/xor/cmp).
type ALUOp uint8

const (
	ALUAdd ALUOp = 0
	ALUOr  ALUOp = 1
	ALUAdc ALUOp = 2
	ALUSbb ALUOp = 3
	ALUAnd ALUOp = 4
	ALUSub ALUOp = 5
	ALUXor ALUOp = 6
	ALUCmp ALUOp = 7
)

// ALU emits `op dst, src` where dst is r/m and src is a register (the
// r/m, reg direction, with src in the ModR/M reg field). The ISA also
// has the reg, r/m direction; ALULoad emits that one.
func (e *Encoder) ALU(op ALUOp, width int, dst RM, src Register) error {
	return e.aluRM(byte(op)<<3, width, dst, src, "alu")
}

// ALULoad emits `op dst(reg), src(r/m)` — the reverse direction, used
// when dst must end up a register (e.g. comparisons feeding a register
// result) and src may be memory.
func (e *Encoder) ALULoad(op ALUOp, width int, dst Register, src RM) error {
	return e.aluRM(byte(op)<<3|0x2, width, src, dst, "alu")
}

func (e *Encoder) aluRM(baseOpcode byte, width int, rm RM, reg Register, name string) error {
	w := width == 64
	rex := rexPrefix(w, regExt(reg), false, rmRex(rm))
	if rex == 0 && byteWidthForcesREX(width, rm) {
		rex = 0x40
	}
	opcode := baseOpcode | widthBit(width)
	modrm, sib, disp := modrmSIB(reg.low3In(), rm)
	return e.emit(width == 16, rex, []byte{opcode}, &modrm, sib, disp, nil)
}

func widthBit(width int) byte {
	if width == 8 {
		return 0
	}
	return 1
}

// low3In exists only to keep call sites above readable; reg field input
// is always a plain register here.
func (r Register) low3In() uint8 { return r.low3() }

// ALUImm emits `op dst, imm` using the /0..7,imm8|imm32 group-1 opcode.
// imm is sign-extended to width when it fits i8; otherwise the full-width
// immediate form is used (imm16 at width 16, imm32 at width 32/64).
func (e *Encoder) ALUImm(op ALUOp, width int, dst RM, imm int32) error {
	w := width == 64
	rex := rexPrefix(w, false, false, rmRex(dst))
	if rex == 0 && byteWidthForcesREX(width, dst) {
		rex = 0x40
	}
	var opcode byte
	var immBytes []byte
	useImm8 := width != 8 && fitsI8(imm)
	switch {
	case width == 8:
		opcode = 0x80
		immBytes = []byte{byte(imm)}
	case useImm8:
		opcode = 0x83
		immBytes = []byte{byte(imm)}
	case width == 16:
		opcode = 0x81
		immBytes = le16(uint16(imm))
	default:
		opcode = 0x81
		immBytes = le32(imm)
	}
	modrm, sib, disp := modrmSIB(uint8(op), dst)
	return e.emit(width == 16, rex, []byte{opcode}, &modrm, sib, disp, immBytes)
}

// Test emits `test dst, src` (register form) — opcode 0x84/0x85, ModR/M
// reg field carries src.
func (e *Encoder) Test(width int, dst RM, src Register) error {
	w := width == 64
	rex := rexPrefix(w, regExt(src), false, rmRex(dst))
	opcode := byte(0x84) | widthBit(width)
	modrm, sib, disp := modrmSIB(src.low3(), dst)
	return e.emit(width == 16, rex, []byte{opcode}, &modrm, sib, disp, nil)
}

// TestImm emits `test dst, imm` (opcode group 3, /0).
func (e *Encoder) TestImm(width int, dst RM, imm int32) error {
	w := width == 64
	rex := rexPrefix(w, false, false, rmRex(dst))
	var opcode byte
	var immBytes []byte
	if width == 8 {
		opcode = 0xf6
		immBytes = []byte{byte(imm)}
	} else {
		opcode = 0xf7
		if width == 16 {
			immBytes = le16(uint16(imm))
		} else {
			immBytes = le32(imm)
		}
	}
	modrm, sib, disp := modrmSIB(0, dst)
	return e.emit(width == 16, rex, []byte{opcode}, &modrm, sib, disp, immBytes)
}

// ---- Data movement ----------------------------------------------------

// MovRM emits `mov dst(r/m), src(reg)`.
func (e *Encoder) MovRM(width int, dst RM, src Register) error {
	w := width == 64
	rex := rexPrefix(w, regExt(src), false, rmRex(dst))
	if rex == 0 && byteWidthForcesREX(width, dst) {
		rex = 0x40
	}
	opcode := byte(0x88) | widthBit(width)
	modrm, sib, disp := modrmSIB(src.low3(), dst)
	return e.emit(width == 16, rex, []byte{opcode}, &modrm, sib, disp, nil)
}

// MovReg emits `mov dst(reg), src(r/m)`.
func (e *Encoder) MovReg(width int, dst Register, src RM) error {
	w := width == 64
	rex := rexPrefix(w, regExt(dst), false, rmRex(src))
	if rex == 0 && byteWidthForcesREX(width, src) {
		rex = 0x40
	}
	opcode := byte(0x8a) | widthBit(width)
	modrm, sib, disp := modrmSIB(dst.low3(), src)
	return e.emit(width == 16, rex, []byte{opcode}, &modrm, sib, disp, nil)
}

// MovImm32 emits `mov dst(r/m), imm32` (opcode 0xC7 /0; 0xC6 with an
// imm8 at width 8), extended per width rules of the ISA: at width 64
// (REX.W) the imm32 is sign-extended to 64 bits, and a width-32 write to
// a register zero-extends into its upper half.
func (e *Encoder) MovImm32(width int, dst RM, imm int32) error {
	w := width == 64
	rex := rexPrefix(w, false, false, rmRex(dst))
	if rex == 0 && byteWidthForcesREX(width, dst) {
		rex = 0x40
	}
	var opcode byte
	var immBytes []byte
	if width == 8 {
		opcode = 0xc6
		immBytes = []byte{byte(imm)}
	} else {
		opcode = 0xc7
		if width == 16 {
			immBytes = le16(uint16(imm))
		} else {
			immBytes = le32(imm)
		}
	}
	modrm, sib, disp := modrmSIB(0, dst)
	return e.emit(width == 16, rex, []byte{opcode}, &modrm, sib, disp, immBytes)
}

// MovImm64 emits `mov reg, imm64` (opcode 0xB8+r), the only form that can
// materialize a full 64-bit immediate.
func (e *Encoder) MovImm64(dst Register, imm int64) error {
	rex := rexPrefix(true, false, false, dst.extended())
	opcode := 0xb8 | dst.low3()
	u := uint64(imm)
	immBytes := []byte{
		byte(u), byte(u >> 8), byte(u >> 16), byte(u >> 24),
		byte(u >> 32), byte(u >> 40), byte(u >> 48), byte(u >> 56),
	}
	return e.emit(false, rex, []byte{opcode}, nil, nil, nil, immBytes)
}

// movExtend emits the two-byte movzx/movsx family. srcWidth is the
// operand's declared width (8 or 16); dstWidth (32 or 64) picks REX.W.
func (e *Encoder) movExtend(signed bool, dstWidth, srcWidth int, dst Register, src RM) error {
	w := dstWidth == 64
	rex := rexPrefix(w, regExt(dst), false, rmRex(src))
	if rex == 0 && byteWidthForcesREX(srcWidth, src) {
		rex = 0x40
	}
	op2 := byte(0xb6)
	if srcWidth == 16 {
		op2 = 0xb7
	}
	if signed {
		op2 += 0x08
	}
	modrm, sib, disp := modrmSIB(dst.low3(), src)
	return e.emit(false, rex, []byte{0x0f, op2}, &modrm, sib, disp, nil)
}

// MovZX zero-extends an 8- or 16-bit r/m into a wider register.
func (e *Encoder) MovZX(dstWidth, srcWidth int, dst Register, src RM) error {
	return e.movExtend(false, dstWidth, srcWidth, dst, src)
}

// MovSX sign-extends an 8- or 16-bit r/m into a wider register.
func (e *Encoder) MovSX(dstWidth, srcWidth int, dst Register, src RM) error {
	return e.movExtend(true, dstWidth, srcWidth, dst, src)
}

// MovSXD sign-extends a 32-bit r/m into a 64-bit register (opcode 0x63).
func (e *Encoder) MovSXD(dst Register, src RM) error {
	rex := rexPrefix(true, regExt(dst), false, rmRex(src))
	modrm, sib, disp := modrmSIB(dst.low3(), src)
	return e.emit(false, rex, []byte{0x63}, &modrm, sib, disp, nil)
}

// Lea emits `lea dst, [src]`.
func (e *Encoder) Lea(width int, dst Register, src RM) error {
	if !src.IsMem() {
		return &InvalidOperandError{Op: "lea", Reason: "source must be memory"}
	}
	w := width == 64
	rex := rexPrefix(w, regExt(dst), false, rmRex(src))
	modrm, sib, disp := modrmSIB(dst.low3(), src)
	return e.emit(width == 16, rex, []byte{0x8d}, &modrm, sib, disp, nil)
}

// ---- Unary group-3/5 (inc/dec/not/neg/mul/imul/div/idiv) ---------------

func (e *Encoder) group3(ext uint8, width int, rm RM) error {
	w := width == 64
	rex := rexPrefix(w, false, false, rmRex(rm))
	if rex == 0 && byteWidthForcesREX(width, rm) {
		rex = 0x40
	}
	opcode := byte(0xf6) | widthBit(width)
	modrm, sib, disp := modrmSIB(ext, rm)
	return e.emit(width == 16, rex, []byte{opcode}, &modrm, sib, disp, nil)
}

func (e *Encoder) group5(ext uint8, width int, rm RM) error {
	w := width == 64
	rex := rexPrefix(w, false, false, rmRex(rm))
	if rex == 0 && byteWidthForcesREX(width, rm) {
		rex = 0x40
	}
	opcode := byte(0xfe) | widthBit(width)
	modrm, sib, disp := modrmSIB(ext, rm)
	return e.emit(width == 16, rex, []byte{opcode}, &modrm, sib, disp, nil)
}

func (e *Encoder) Inc(width int, rm RM) error { return e.group5(0, width, rm) }
func (e *Encoder) Dec(width int, rm RM) error { return e.group5(1, width, rm) }
func (e *Encoder) Not(width int, rm RM) error { return e.group3(2, width, rm) }
func (e *Encoder) Neg(width int, rm RM) error { return e.group3(3, width, rm) }

// Mul emits unsigned `mul r/m` (RDX:RAX = RAX * r/m).
func (e *Encoder) Mul(width int, rm RM) error { return e.group3(4, width, rm) }

// IMul1 emits signed single-operand `imul r/m` (RDX:RAX = RAX * r/m).
func (e *Encoder) IMul1(width int, rm RM) error { return e.group3(5, width, rm) }

// Div emits unsigned `div r/m` (RAX,RDX = RDX:RAX /% r/m).
func (e *Encoder) Div(width int, rm RM) error { return e.group3(6, width, rm) }

// IDiv emits signed `idiv r/m` (RAX,RDX = RDX:RAX /% r/m).
func (e *Encoder) IDiv(width int, rm RM) error { return e.group3(7, width, rm) }

// IMul2 emits the two-operand signed multiply `imul dst, r/m` (opcode
// 0x0F 0xAF), dst *= r/m.
func (e *Encoder) IMul2(width int, dst Register, src RM) error {
	w := width == 64
	rex := rexPrefix(w, regExt(dst), false, rmRex(src))
	modrm, sib, disp := modrmSIB(dst.low3(), src)
	return e.emit(false, rex, []byte{0x0f, 0xaf}, &modrm, sib, disp, nil)
}

// IMul3Imm emits the three-operand signed multiply `imul dst, src, imm`
// (opcode 0x69 with imm32, or 0x6B with a sign-extended imm8).
func (e *Encoder) IMul3Imm(width int, dst Register, src RM, imm int32) error {
	w := width == 64
	rex := rexPrefix(w, regExt(dst), false, rmRex(src))
	var opcode byte
	var immBytes []byte
	if fitsI8(imm) {
		opcode = 0x6b
		immBytes = []byte{byte(imm)}
	} else {
		opcode = 0x69
		immBytes = le32(imm)
	}
	modrm, sib, disp := modrmSIB(dst.low3(), src)
	return e.emit(false, rex, []byte{opcode}, &modrm, sib, disp, immBytes)
}

// Cdq sign-extends EAX into EDX:EAX, used ahead of a 32-bit idiv.
func (e *Encoder) Cdq() error { return e.buf.WriteByte(0x99) }

// Cqo sign-extends RAX into RDX:RAX, used ahead of a 64-bit idiv.
func (e *Encoder) Cqo() error {
	if err := e.buf.WriteByte(rexPrefix(true, false, false, false)); err != nil {
		return err
	}
	return e.buf.WriteByte(0x99)
}

// ---- Shifts -------------------------------------------------------

// ShiftOp identifies a group-2 shift/rotate opcode extension.
type ShiftOp uint8

const (
	ShiftRol ShiftOp = 0
	ShiftRor ShiftOp = 1
	ShiftRcl ShiftOp = 2
	ShiftRcr ShiftOp = 3
	ShiftShl ShiftOp = 4
	ShiftShr ShiftOp = 5
	ShiftSar ShiftOp = 7
)

// ShiftImm emits `op dst, imm8` for a shift/rotate by an immediate count,
// masked to 0..63 per ISA semantics.
func (e *Encoder) ShiftImm(op ShiftOp, width int, dst RM, count uint8) error {
	count &= 0x3f
	w := width == 64
	rex := rexPrefix(w, false, false, rmRex(dst))
	if rex == 0 && byteWidthForcesREX(width, dst) {
		rex = 0x40
	}
	var opcode byte
	if count == 1 {
		opcode = byte(0xd0) | widthBit(width)
		modrm, sib, disp := modrmSIB(uint8(op), dst)
		return e.emit(width == 16, rex, []byte{opcode}, &modrm, sib, disp, nil)
	}
	opcode = byte(0xc0) | widthBit(width)
	modrm, sib, disp := modrmSIB(uint8(op), dst)
	return e.emit(width == 16, rex, []byte{opcode}, &modrm, sib, disp, []byte{count})
}

// ShiftCL emits `op dst, cl`, a shift count carried in CL.
func (e *Encoder) ShiftCL(op ShiftOp, width int, dst RM) error {
	w := width == 64
	rex := rexPrefix(w, false, false, rmRex(dst))
	if rex == 0 && byteWidthForcesREX(width, dst) {
		rex = 0x40
	}
	opcode := byte(0xd2) | widthBit(width)
	modrm, sib, disp := modrmSIB(uint8(op), dst)
	return e.emit(width == 16, rex, []byte{opcode}, &modrm, sib, disp, nil)
}

// ---- Bit test family -----------------------------------------------

type BitTestOp uint8

const (
	BTOp  BitTestOp = 4
	BTSOp BitTestOp = 5
	BTROp BitTestOp = 6
	BTCOp BitTestOp = 7
)

// BitTestImm emits `bt/bts/btr/btc dst, imm8` (opcode 0x0F 0xBA /ext).
func (e *Encoder) BitTestImm(op BitTestOp, width int, dst RM, bit uint8) error {
	w := width == 64
	rex := rexPrefix(w, false, false, rmRex(dst))
	modrm, sib, disp := modrmSIB(uint8(op), dst)
	return e.emit(false, rex, []byte{0x0f, 0xba}, &modrm, sib, disp, []byte{bit})
}

// BitTestReg emits `bt/bts/btr/btc dst, src` (opcode 0x0F, base 0xA3 with
// +0x08 per op, register-indexed bit).
func (e *Encoder) BitTestReg(op BitTestOp, width int, dst RM, src Register) error {
	w := width == 64
	rex := rexPrefix(w, regExt(src), false, rmRex(dst))
	opcodeByOp := map[BitTestOp]byte{BTOp: 0xa3, BTSOp: 0xab, BTROp: 0xb3, BTCOp: 0xbb}
	modrm, sib, disp := modrmSIB(src.low3(), dst)
	return e.emit(false, rex, []byte{0x0f, opcodeByOp[op]}, &modrm, sib, disp, nil)
}

// ---- Stack, control flow, misc --------------------------------------

// Push emits `push reg`.
func (e *Encoder) Push(reg Register) error {
	rex := rexPrefix(false, false, false, reg.extended())
	return e.emit(false, rex, []byte{0x50 | reg.low3()}, nil, nil, nil, nil)
}

// Pop emits `pop reg`.
func (e *Encoder) Pop(reg Register) error {
	rex := rexPrefix(false, false, false, reg.extended())
	return e.emit(false, rex, []byte{0x58 | reg.low3()}, nil, nil, nil, nil)
}

// Ret emits a near return.
func (e *Encoder) Ret() error { return e.buf.WriteByte(0xc3) }

// Xchg emits `xchg dst, src` (register-register or register-memory).
func (e *Encoder) Xchg(width int, dst RM, src Register) error {
	w := width == 64
	rex := rexPrefix(w, regExt(src), false, rmRex(dst))
	opcode := byte(0x86) | widthBit(width)
	modrm, sib, disp := modrmSIB(src.low3(), dst)
	return e.emit(width == 16, rex, []byte{opcode}, &modrm, sib, disp, nil)
}

// Mfence emits a full memory fence.
func (e *Encoder) Mfence() error {
	return e.buf.Write([]byte{0x0f, 0xae, 0xf0})
}

// LockCmpXchg emits `lock cmpxchg dst, src`: compares RAX to dst; if
// equal, src is stored into dst and ZF is set; otherwise dst is loaded
// into RAX and ZF cleared.
func (e *Encoder) LockCmpXchg(width int, dst RM, src Register) error {
	if err := e.buf.WriteByte(0xf0); err != nil { // LOCK prefix
		return err
	}
	w := width == 64
	rex := rexPrefix(w, regExt(src), false, rmRex(dst))
	opcode := byte(0x0f)
	op2 := byte(0xb0) | widthBit(width)
	modrm, sib, disp := modrmSIB(src.low3(), dst)
	return e.emit(false, rex, []byte{opcode, op2}, &modrm, sib, disp, nil)
}

// SetCC emits `setcc dst` (byte destination, 0 or 1).
func (e *Encoder) SetCC(cond Condition, dst RM) error {
	rex := rexPrefix(false, false, false, rmRex(dst))
	if rex == 0 && byteWidthForcesREX(8, dst) {
		rex = 0x40
	}
	op1, op2 := cond.setccOpcode()
	modrm, sib, disp := modrmSIB(0, dst)
	return e.emit(false, rex, []byte{op1, op2}, &modrm, sib, disp, nil)
}

// CMovCC emits `cmovcc dst, src`.
func (e *Encoder) CMovCC(cond Condition, width int, dst Register, src RM) error {
	w := width == 64
	rex := rexPrefix(w, regExt(dst), false, rmRex(src))
	op1, op2 := cond.cmovccOpcode()
	modrm, sib, disp := modrmSIB(dst.low3(), src)
	return e.emit(false, rex, []byte{op1, op2}, &modrm, sib, disp, nil)
}

// JccShort emits a short conditional jump with an 8-bit placeholder
// displacement and returns the byte offset of that placeholder (the
// fixup patch site) plus the instruction-end offset (the fixup base).
func (e *Encoder) JccShort(cond Condition) (site, base int, err error) {
	if err = e.buf.WriteByte(cond.jccShortOpcode()); err != nil {
		return 0, 0, err
	}
	site = e.buf.Cursor()
	if err = e.buf.WriteByte(0); err != nil {
		return 0, 0, err
	}
	base = e.buf.Cursor()
	return site, base, nil
}

// JccNear emits a near (32-bit) conditional jump placeholder.
func (e *Encoder) JccNear(cond Condition) (site, base int, err error) {
	op1, op2 := cond.jccNearOpcode()
	if err = e.buf.Write([]byte{op1, op2}); err != nil {
		return 0, 0, err
	}
	site = e.buf.Cursor()
	if err = e.buf.Write([]byte{0, 0, 0, 0}); err != nil {
		return 0, 0, err
	}
	base = e.buf.Cursor()
	return site, base, nil
}

// JmpShort emits an unconditional short jump placeholder.
func (e *Encoder) JmpShort() (site, base int, err error) {
	if err = e.buf.WriteByte(0xeb); err != nil {
		return 0, 0, err
	}
	site = e.buf.Cursor()
	if err = e.buf.WriteByte(0); err != nil {
		return 0, 0, err
	}
	base = e.buf.Cursor()
	return site, base, nil
}

// JmpNear emits an unconditional near jump placeholder.
func (e *Encoder) JmpNear() (site, base int, err error) {
	if err = e.buf.WriteByte(0xe9); err != nil {
		return 0, 0, err
	}
	site = e.buf.Cursor()
	if err = e.buf.Write([]byte{0, 0, 0, 0}); err != nil {
		return 0, 0, err
	}
	base = e.buf.Cursor()
	return site, base, nil
}

// JmpIndirect emits `jmp r/m64`.
func (e *Encoder) JmpIndirect(rm RM) error {
	rex := rexPrefix(false, false, false, rmRex(rm))
	modrm, sib, disp := modrmSIB(4, rm)
	return e.emit(false, rex, []byte{0xff}, &modrm, sib, disp, nil)
}

// CallRel emits a direct near call placeholder (`call rel32`).
func (e *Encoder) CallRel() (site, base int, err error) {
	if err = e.buf.WriteByte(0xe8); err != nil {
		return 0, 0, err
	}
	site = e.buf.Cursor()
	if err = e.buf.Write([]byte{0, 0, 0, 0}); err != nil {
		return 0, 0, err
	}
	base = e.buf.Cursor()
	return site, base, nil
}

// CallIndirect emits `call r/m64`.
func (e *Encoder) CallIndirect(rm RM) error {
	rex := rexPrefix(false, false, false, rmRex(rm))
	modrm, sib, disp := modrmSIB(2, rm)
	return e.emit(false, rex, []byte{0xff}, &modrm, sib, disp, nil)
}

// XorRDXRDX zeroes RDX ahead of an unsigned div, using the 32-bit form
// (which the ISA zero-extends into the full 64-bit register) to avoid an
// unnecessary REX.W.
func (e *Encoder) XorRDXRDX() error {
	return e.ALU(ALUXor, 32, Reg(RDX), RDX)
}
