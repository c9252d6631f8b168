package x64

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/janweinstock/ftl/internal/asm"
)

func newEncoder(t *testing.T) (*Encoder, *asm.CodeBuffer) {
	t.Helper()
	buf, err := asm.NewCodeBuffer(256)
	require.NoError(t, err)
	t.Cleanup(func() { buf.Free() })
	return NewEncoder(buf), buf
}

func TestALUImmBoundary(t *testing.T) {
	t.Run("imm fits i8 uses 0x83", func(t *testing.T) {
		e, buf := newEncoder(t)
		require.NoError(t, e.ALUImm(ALUAdd, 32, Reg(RAX), 127))
		bs := buf.Bytes()
		require.Equal(t, byte(0x83), bs[0])
	})

	t.Run("imm does not fit i8 uses 0x81", func(t *testing.T) {
		e, buf := newEncoder(t)
		require.NoError(t, e.ALUImm(ALUAdd, 32, Reg(RAX), 128))
		bs := buf.Bytes()
		require.Equal(t, byte(0x81), bs[0])
	})
}

func TestMemoryOperandBaseRSPForcesSIB(t *testing.T) {
	e, buf := newEncoder(t)
	require.NoError(t, e.MovReg(64, RAX, Mem(RSP, 8)))
	bs := buf.Bytes()
	// rex.w, opcode 0x8b, modrm with rm field = 100 (SIB follows), sib, disp8
	require.Equal(t, byte(0x48), bs[0])
	require.Equal(t, byte(0x8b), bs[1])
	require.Equal(t, byte(0x4), bs[2]&0x7, "rm field must select SIB")
}

func TestMemoryOperandBaseRBPZeroDispForcesDisp8(t *testing.T) {
	e, buf := newEncoder(t)
	require.NoError(t, e.MovReg(64, RAX, Mem(RBP, 0)))
	bs := buf.Bytes()
	modrm := bs[2]
	mod := modrm >> 6
	require.Equal(t, byte(1), mod, "RBP base with disp=0 must use mod=1,disp8=0, not mod=0")
	require.Equal(t, byte(0), bs[3])
}

func TestExtendedRegistersSetREXBits(t *testing.T) {
	e, buf := newEncoder(t)
	require.NoError(t, e.MovReg(64, R8, Reg(R15)))
	bs := buf.Bytes()
	rex := bs[0]
	require.NotZero(t, rex&0x40)
	require.NotZero(t, rex&0x04, "REX.R must be set for dst=R8")
	require.NotZero(t, rex&0x01, "REX.B must be set for src=R15")
}

func TestByteWidthForcesREXForSPBPSIDI(t *testing.T) {
	for _, r := range []Register{RSP, RBP, RSI, RDI} {
		e, buf := newEncoder(t)
		require.NoError(t, e.MovImm32(8, Reg(r), 1))
		bs := buf.Bytes()
		require.Equal(t, byte(0x40), bs[0], "register %s at width 8 must force a bare REX prefix", r)
	}
}

func TestByteWidthNoREXForAXWithoutOtherReason(t *testing.T) {
	e, buf := newEncoder(t)
	require.NoError(t, e.MovImm32(8, Reg(RAX), 1))
	bs := buf.Bytes()
	require.Equal(t, byte(0xc6), bs[0], "no REX byte expected before the opcode")
}

func TestJccShortPlaceholderThenPatch(t *testing.T) {
	e, buf := newEncoder(t)
	site, base, err := e.JccShort(CondL)
	require.NoError(t, err)
	require.NoError(t, buf.Patch(site, 1, int64(10-base)))
	require.Equal(t, byte(0x7c), buf.Bytes()[0]) // Jl opcode = 0x70|CondL(=0xc)
}

func TestSetCCAndCMovCCOpcodeDerivation(t *testing.T) {
	e, buf := newEncoder(t)
	require.NoError(t, e.SetCC(CondG, Reg(RAX)))
	bs := buf.Bytes()
	require.Equal(t, byte(0x0f), bs[0])
	require.Equal(t, byte(0x90|byte(CondG)), bs[1])

	e2, buf2 := newEncoder(t)
	require.NoError(t, e2.CMovCC(CondG, 32, RAX, Reg(RCX)))
	bs2 := buf2.Bytes()
	require.Equal(t, byte(0x0f), bs2[0])
	require.Equal(t, byte(0x40|byte(CondG)), bs2[1])
}
