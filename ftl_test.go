package ftl

import (
	"errors"
	"reflect"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/janweinstock/ftl/internal/x64"
)

func newTestGenerator(t *testing.T) *Generator {
	t.Helper()
	gen, err := NewGenerator(4096)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gen.Close() })
	return gen
}

// S1: add/sub/ret round-trips through a global.
func TestScenarioAddAndReturn(t *testing.T) {
	gen := newTestGenerator(t)
	var val int32 = 40

	fn := gen.Function("s1")
	a, err := fn.LocalI32("a", 2)
	require.NoError(t, err)
	b, err := fn.GlobalI32("val", uintptr(unsafe.Pointer(&val)))
	require.NoError(t, err)
	c, err := fn.LocalI32("c", -2)
	require.NoError(t, err)

	require.NoError(t, fn.Add(a, b))
	require.NoError(t, fn.Sub(b, c))
	require.NoError(t, fn.Ret(a))
	require.NoError(t, fn.Finish())
	require.NoError(t, gen.Finalize())

	ret, err := fn.Exec(nil)
	require.NoError(t, err)
	require.EqualValues(t, 42, ret)
	require.EqualValues(t, 42, val)
}

// S2: cmp/jl/ret picks the larger of two globals.
func TestScenarioConditionalBranchMax(t *testing.T) {
	gen := newTestGenerator(t)
	var a, b int32 = 40, 42

	fn := gen.Function("s2")
	va, err := fn.GlobalI32("a", uintptr(unsafe.Pointer(&a)))
	require.NoError(t, err)
	vb, err := fn.GlobalI32("b", uintptr(unsafe.Pointer(&b)))
	require.NoError(t, err)

	l := fn.Label("max")
	require.NoError(t, fn.Cmp(va, vb))
	require.NoError(t, fn.Jcc(x64.CondL, l, false))
	require.NoError(t, fn.Ret(va))
	require.NoError(t, fn.Place(l))
	require.NoError(t, fn.Ret(vb))
	require.NoError(t, fn.Finish())
	require.NoError(t, gen.Finalize())

	ret, err := fn.Exec(nil)
	require.NoError(t, err)
	require.EqualValues(t, 42, ret)
}

// S3: signed multiply/divide/modulo truncate toward zero.
func TestScenarioSignedMulDivMod(t *testing.T) {
	gen := newTestGenerator(t)
	var outMul, outDiv, outMod int32

	fn := gen.Function("s3")
	a, err := fn.LocalI32("a", 16)
	require.NoError(t, err)
	b, err := fn.LocalI32("b", -5)
	require.NoError(t, err)
	gMul, err := fn.GlobalI32("outMul", uintptr(unsafe.Pointer(&outMul)))
	require.NoError(t, err)
	gDiv, err := fn.GlobalI32("outDiv", uintptr(unsafe.Pointer(&outDiv)))
	require.NoError(t, err)
	gMod, err := fn.GlobalI32("outMod", uintptr(unsafe.Pointer(&outMod)))
	require.NoError(t, err)

	mul, err := fn.IMul(a, b)
	require.NoError(t, err)
	require.NoError(t, fn.Mov(gMul, mul))

	div, err := fn.IDiv(a, b)
	require.NoError(t, err)
	require.NoError(t, fn.Mov(gDiv, div))

	mod, err := fn.IMod(a, b)
	require.NoError(t, err)
	require.NoError(t, fn.Mov(gMod, mod))

	require.NoError(t, fn.Ret(a))
	require.NoError(t, fn.Finish())
	require.NoError(t, gen.Finalize())

	_, err = fn.Exec(nil)
	require.NoError(t, err)
	require.EqualValues(t, -80, outMul)
	require.EqualValues(t, -3, outDiv)
	require.EqualValues(t, 1, outMod)
}

// S4: unsigned multiply/divide/modulo.
func TestScenarioUnsignedMulDivMod(t *testing.T) {
	gen := newTestGenerator(t)
	var outMul, outDiv, outMod int32

	fn := gen.Function("s4")
	a, err := fn.LocalI32("a", 16)
	require.NoError(t, err)
	b, err := fn.LocalI32("b", 5)
	require.NoError(t, err)
	gMul, err := fn.GlobalI32("outMul", uintptr(unsafe.Pointer(&outMul)))
	require.NoError(t, err)
	gDiv, err := fn.GlobalI32("outDiv", uintptr(unsafe.Pointer(&outDiv)))
	require.NoError(t, err)
	gMod, err := fn.GlobalI32("outMod", uintptr(unsafe.Pointer(&outMod)))
	require.NoError(t, err)

	mul, err := fn.UMul(a, b)
	require.NoError(t, err)
	require.NoError(t, fn.Mov(gMul, mul))

	div, err := fn.UDiv(a, b)
	require.NoError(t, err)
	require.NoError(t, fn.Mov(gDiv, div))

	mod, err := fn.UMod(a, b)
	require.NoError(t, err)
	require.NoError(t, fn.Mov(gMod, mod))

	require.NoError(t, fn.Ret(a))
	require.NoError(t, fn.Finish())
	require.NoError(t, gen.Finalize())

	_, err = fn.Exec(nil)
	require.NoError(t, err)
	require.EqualValues(t, 80, outMul)
	require.EqualValues(t, 3, outDiv)
	require.EqualValues(t, 1, outMod)
}

// S5: a forward short jump that resolves to a displacement wider than a
// signed byte reports DisplacementTooLarge rather than corrupting code.
func TestScenarioForwardShortJumpTooLarge(t *testing.T) {
	gen := newTestGenerator(t)
	fn := gen.Function("s5")

	l := fn.Label("far")
	require.NoError(t, fn.Jmp(l, false))
	for i := 0; i < 130; i++ {
		require.NoError(t, fn.enc.Buffer().WriteByte(0x90))
	}
	err := fn.Place(l)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrDisplacementTooLarge))
}

// S6: a host callback reached through Call sees the function's own base
// pointer as its implicit first argument, with the remaining arguments in
// the next registers.
func TestScenarioCallbackWithImplicitBasePointer(t *testing.T) {
	gen := newTestGenerator(t)
	var sum int64

	callback := func(data unsafe.Pointer, a, b int64) int64 {
		*(*int64)(data) = a + b
		return a * b
	}
	target := reflect.ValueOf(callback).Pointer()

	fn := gen.Function("s6")
	v1, err := fn.LocalI64("v1", 7)
	require.NoError(t, err)
	v2, err := fn.LocalI64("v2", 6)
	require.NoError(t, err)

	result, err := fn.Call(target, ValueArg{v1}, ValueArg{v2})
	require.NoError(t, err)
	require.NoError(t, fn.Ret(result))
	require.NoError(t, fn.Finish())
	require.NoError(t, gen.Finalize())

	ret, err := fn.Exec(unsafe.Pointer(&sum))
	require.NoError(t, err)
	require.EqualValues(t, 42, ret)
	require.EqualValues(t, 13, sum)
}

// Idempotence: a second Finish on an already-finished function succeeds
// as a no-op.
func TestFinishIsIdempotent(t *testing.T) {
	gen := newTestGenerator(t)
	fn := gen.Function("idempotent")
	a, err := fn.LocalI32("a", 1)
	require.NoError(t, err)
	require.NoError(t, fn.Ret(a))
	require.NoError(t, fn.Finish())
	require.NoError(t, fn.Finish())
}

// Emitting into a finished function is rejected rather than silently
// corrupting the already-sealed epilogue.
func TestEmissionAfterFinishIsRejected(t *testing.T) {
	gen := newTestGenerator(t)
	fn := gen.Function("sealed")
	a, err := fn.LocalI32("a", 1)
	require.NoError(t, err)
	require.NoError(t, fn.Ret(a))
	require.NoError(t, fn.Finish())

	_, err = fn.LocalI32("b", 2)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrFunctionSealed))
}
