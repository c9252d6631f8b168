package platform

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAlloc(t *testing.T) {
	t.Run("rejects non-positive size", func(t *testing.T) {
		_, err := Alloc(0)
		require.Error(t, err)
		_, err = Alloc(-1)
		require.Error(t, err)
	})

	t.Run("maps at least the requested size", func(t *testing.T) {
		r, err := Alloc(16)
		require.NoError(t, err)
		defer r.Free()
		require.GreaterOrEqual(t, r.Len(), 16)
		require.False(t, r.Executable())
	})
}

func TestRegionWriteExecuteRoundTrip(t *testing.T) {
	r, err := Alloc(64)
	require.NoError(t, err)
	defer r.Free()

	// ret (0xc3)
	copy(r.Bytes(), []byte{0xc3})

	require.NoError(t, r.MakeExecutable())
	require.True(t, r.Executable())

	require.NoError(t, r.MakeWritable())
	require.False(t, r.Executable())

	// Idempotent toggles don't error.
	require.NoError(t, r.MakeWritable())
	require.NoError(t, r.MakeExecutable())
	require.NoError(t, r.MakeExecutable())
}

func TestRegionFreeIsIdempotent(t *testing.T) {
	r, err := Alloc(16)
	require.NoError(t, err)
	require.NoError(t, r.Free())
	require.NoError(t, r.Free())
}
