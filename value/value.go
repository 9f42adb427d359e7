// Package value implements the NaN-boxed 64-bit value representation shared
// by the host interpreter and the JIT. A Value is either an IEEE-754 double
// in its natural bit pattern, or one of a small number of tagged non-number
// encodings packed into the otherwise-unused payload bits of a quiet NaN.
//
// Layout (high bit to low bit), mirroring the classic Wren encoding:
//
//	sign | exponent (11) | qnan marker (2) | payload (50)
//
// QNAN alone (sign bit clear) selects one of a handful of singleton tags
// (null, true, false). QNAN with the sign bit set selects a tagged object
// pointer, with the pointer packed into the low 48 bits (payload).
package value

import "math"

// Value is an opaque 64-bit word. Its semantics are defined entirely by the
// bit patterns below; callers outside this package should only construct or
// inspect a Value through the functions here.
type Value uint64

const (
	signBit = uint64(1) << 63

	// qnan is the quiet-NaN pattern used as the tag marker. Any bit pattern
	// that does NOT have all of these bits set is a valid double (including
	// ordinary NaNs produced by floating point arithmetic that don't collide
	// with this specific marker).
	qnan = uint64(0x7ffc000000000000)

	tagNull  = uint64(1)
	tagFalse = uint64(2)
	tagTrue  = uint64(3)

	// pointerMask extracts/restores the 48-bit payload used for object
	// pointers once the qnan+sign marker bits are known to be set.
	pointerMask = uint64(0x0000ffffffffffff)
)

var (
	// Null, False, and True are the singleton non-number constants.
	Null  = Value(qnan | tagNull)
	False = Value(qnan | tagFalse)
	True  = Value(qnan | tagTrue)
)

// Num boxes a float64 into a Value. Since doubles already use their natural
// bit pattern, this is a reinterpretation, not a transformation — except
// that it canonicalizes any incoming bit pattern that happens to collide
// with our qnan marker (a "real" NaN) to a fixed canonical NaN so IS_NUM
// stays correct for every double Wren-style code can observe.
func Num(f float64) Value {
	bits := math.Float64bits(f)
	if bits&qnan == qnan {
		// Collides with our tag space: canonicalize to a NaN bit pattern
		// that does not set every qnan bit (quiet NaN, sign clear, one
		// payload bit set so it can't be mistaken for Null/False/True).
		bits = 0x7ff8000000000001
	}
	return Value(bits)
}

// AsNum unboxes a numeric Value. Caller must have checked IsNum.
func AsNum(v Value) float64 {
	return math.Float64frombits(uint64(v))
}

// Bool boxes a boolean.
func Bool(b bool) Value {
	if b {
		return True
	}
	return False
}

// IsNum reports whether v holds a double rather than a tagged non-number.
// This is the exact predicate the JIT's guard-num lowering mirrors:
// (value & qnan) != qnan.
func IsNum(v Value) bool {
	return uint64(v)&qnan != qnan
}

// IsObj reports whether v holds a tagged object pointer.
func IsObj(v Value) bool {
	return uint64(v)&(qnan|signBit) == (qnan | signBit)
}

// IsNull reports whether v is the Null singleton.
func IsNull(v Value) bool {
	return v == Null
}

// IsBool reports whether v is True or False.
func IsBool(v Value) bool {
	return v == True || v == False
}

// AsBool unboxes a boolean Value. Caller must have checked IsBool.
func AsBool(v Value) bool {
	return v == True
}

// Truthy implements the host's truthiness predicate: false and null are
// falsy, everything else (including 0 and "") is truthy.
func Truthy(v Value) bool {
	return v != False && v != Null
}

// ObjPtr boxes a raw object pointer (as a uintptr so this package stays
// independent of the concrete object layout used by host).
func ObjPtr(ptr uintptr) Value {
	return Value((qnan | signBit) | (uint64(ptr) & pointerMask))
}

// AsObjPtr extracts the raw object pointer. Caller must have checked IsObj.
func AsObjPtr(v Value) uintptr {
	return uintptr(uint64(v) & pointerMask)
}

// QNANMask and SignBit are exported for the code generator, which needs the
// raw bit masks to emit the equivalent of IsNum/IsObj as machine
// instructions.
const (
	QNANMask = qnan
	SignBit  = signBit

	// PointerMask isolates the 48-bit object-pointer payload, the same
	// mask ObjPtr/AsObjPtr use internally.
	PointerMask = pointerMask
)
