package asm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodeBufferWriteAdvancesCursor(t *testing.T) {
	b, err := NewCodeBuffer(16)
	require.NoError(t, err)
	defer b.Free()

	require.Equal(t, 0, b.Cursor())

	require.NoError(t, b.WriteByte(0x90))
	require.Equal(t, 1, b.Cursor())

	require.NoError(t, b.Write([]byte{0x48, 0x89, 0xd8}))
	require.Equal(t, 4, b.Cursor())

	require.Equal(t, []byte{0x90, 0x48, 0x89, 0xd8}, b.Bytes())
}

func TestCodeBufferLittleEndianWrites(t *testing.T) {
	b, err := NewCodeBuffer(32)
	require.NoError(t, err)
	defer b.Free()

	require.NoError(t, b.WriteUint16LE(0x0201))
	require.NoError(t, b.WriteUint32LE(0x04030201))
	require.NoError(t, b.WriteUint64LE(0x0807060504030201))

	want := []byte{
		0x01, 0x02,
		0x01, 0x02, 0x03, 0x04,
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
	}
	require.Equal(t, want, b.Bytes())
}

func TestCodeBufferGrowsPastInitialCapacity(t *testing.T) {
	b, err := NewCodeBuffer(4)
	require.NoError(t, err)
	defer b.Free()

	for i := 0; i < 64; i++ {
		require.NoError(t, b.WriteByte(byte(i)))
	}
	require.Equal(t, 64, b.Cursor())
	require.GreaterOrEqual(t, b.Cap(), 64)
	for i := 0; i < 64; i++ {
		require.Equal(t, byte(i), b.Bytes()[i])
	}
}

func TestCodeBufferPatch(t *testing.T) {
	b, err := NewCodeBuffer(16)
	require.NoError(t, err)
	defer b.Free()

	require.NoError(t, b.WriteByte(0xeb)) // jmp rel8
	patchAt := b.Cursor()
	require.NoError(t, b.WriteByte(0x00)) // placeholder displacement

	require.NoError(t, b.Patch(patchAt, 1, 5))
	require.Equal(t, byte(5), b.Bytes()[patchAt])
}

func TestCodeBufferPatchRejectsOutOfRange(t *testing.T) {
	b, err := NewCodeBuffer(16)
	require.NoError(t, err)
	defer b.Free()

	require.NoError(t, b.WriteByte(0x90))
	require.Error(t, b.Patch(4, 1, 0))
	require.Error(t, b.Patch(-1, 1, 0))
}

func TestCodeBufferFinalizeMakesExecutable(t *testing.T) {
	b, err := NewCodeBuffer(16)
	require.NoError(t, err)
	defer b.Free()

	require.NoError(t, b.WriteByte(0xc3)) // ret
	require.NoError(t, b.Finalize())

	entry := b.Entry()
	require.NotZero(t, entry)
}
