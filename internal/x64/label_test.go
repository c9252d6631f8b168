package x64

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/janweinstock/ftl/internal/asm"
)

func TestLabelBackwardReferenceNeedsNoFixup(t *testing.T) {
	buf, err := asm.NewCodeBuffer(64)
	require.NoError(t, err)
	defer buf.Free()

	l := NewLabel("loop")
	require.NoError(t, l.Place(buf))
	require.True(t, l.IsPlaced())

	require.NoError(t, buf.WriteByte(0x90))
	site := buf.Cursor()
	require.NoError(t, buf.WriteByte(0))
	require.NoError(t, l.AttachFixup(buf, site, 1, buf.Cursor()))

	require.Empty(t, l.pending)
}

func TestLabelForwardReferenceResolvesOnPlace(t *testing.T) {
	buf, err := asm.NewCodeBuffer(64)
	require.NoError(t, err)
	defer buf.Free()

	l := NewLabel("fwd")
	require.NoError(t, buf.WriteByte(0xeb))
	site := buf.Cursor()
	require.NoError(t, buf.WriteByte(0))
	base := buf.Cursor()
	require.NoError(t, l.AttachFixup(buf, site, 1, base))
	require.Len(t, l.pending, 1)

	for i := 0; i < 5; i++ {
		require.NoError(t, buf.WriteByte(0x90))
	}
	require.NoError(t, l.Place(buf))
	require.Empty(t, l.pending)
	require.Equal(t, byte(5), buf.Bytes()[site])
}

func TestLabelNearFixupTooLarge(t *testing.T) {
	buf, err := asm.NewCodeBuffer(512)
	require.NoError(t, err)
	defer buf.Free()

	l := NewLabel("far")
	require.NoError(t, buf.WriteByte(0xeb))
	site := buf.Cursor()
	require.NoError(t, buf.WriteByte(0))
	base := buf.Cursor()
	require.NoError(t, l.AttachFixup(buf, site, 1, base))

	for i := 0; i < 200; i++ {
		require.NoError(t, buf.WriteByte(0x90))
	}

	err = l.Place(buf)
	require.Error(t, err)
	var displErr *DisplacementError
	require.True(t, errors.As(err, &displErr))
}

func TestLabelCannotBePlacedTwice(t *testing.T) {
	buf, err := asm.NewCodeBuffer(64)
	require.NoError(t, err)
	defer buf.Free()

	l := NewLabel("once")
	require.NoError(t, l.Place(buf))
	require.Error(t, l.Place(buf))
}
