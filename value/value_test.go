package value

import (
	"math"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumRoundTrip(t *testing.T) {
	cases := []float64{0, 1, -1, 3.5, -3.5, 1e300, -1e-300, math.MaxFloat64}
	for _, f := range cases {
		v := Num(f)
		assert.True(t, IsNum(v), "Num(%v) should be IsNum", f)
		assert.False(t, IsObj(v))
		assert.False(t, IsNull(v))
		assert.False(t, IsBool(v))
		assert.Equal(t, f, AsNum(v))
	}
}

func TestNumCanonicalizesNaN(t *testing.T) {
	weird := math.Float64frombits(0x7ffc000000000001)
	require.True(t, math.IsNaN(weird))
	v := Num(weird)
	assert.True(t, IsNum(v))
	assert.True(t, math.IsNaN(AsNum(v)))
}

func TestSingletons(t *testing.T) {
	assert.True(t, IsNull(Null))
	assert.False(t, IsNum(Null))
	assert.False(t, IsBool(Null))

	assert.True(t, IsBool(True))
	assert.True(t, AsBool(True))
	assert.True(t, Truthy(True))

	assert.True(t, IsBool(False))
	assert.False(t, AsBool(False))
	assert.False(t, Truthy(False))

	assert.False(t, Truthy(Null))
}

func TestBoolHelper(t *testing.T) {
	assert.Equal(t, True, Bool(true))
	assert.Equal(t, False, Bool(false))
}

func TestObjPtrRoundTrip(t *testing.T) {
	x := 42
	ptr := uintptr(unsafe.Pointer(&x))
	v := ObjPtr(ptr)
	assert.True(t, IsObj(v))
	assert.False(t, IsNum(v))
	assert.Equal(t, ptr, AsObjPtr(v))
	assert.True(t, Truthy(v))
}

func TestTruthyOnlyFalseAndNullAreFalsy(t *testing.T) {
	assert.True(t, Truthy(Num(0)))
	assert.True(t, Truthy(Num(-1)))
	assert.False(t, Truthy(False))
	assert.False(t, Truthy(Null))
}
