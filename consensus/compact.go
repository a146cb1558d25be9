package consensus

import "github.com/holiman/uint256"

// CompactToTarget expands the 32-bit compact difficulty encoding into a
// 256-bit target. The compact form is a base-256 floating point number:
// the high byte is the exponent (in bytes), the low 23 bits the
// mantissa, and bit 23 a sign flag. Negative, zero and overflowing
// encodings are reported through the flags; the returned target is only
// meaningful when both flags are clear.
func CompactToTarget(bits uint32) (target *uint256.Int, negative bool, overflow bool) {
	size := bits >> 24
	word := bits & 0x007fffff
	target = new(uint256.Int)
	if size <= 3 {
		target.SetUint64(uint64(word >> (8 * (3 - size))))
	} else {
		target.SetUint64(uint64(word))
		target.Lsh(target, uint(8*(size-3)))
	}
	negative = word != 0 && bits&0x00800000 != 0
	overflow = word != 0 && (size > 34 ||
		(word > 0xff && size > 33) ||
		(word > 0xffff && size > 32))
	return target, negative, overflow
}

// TargetToCompact reduces a 256-bit target to compact form. The
// mantissa keeps the top 23 bits; the encoding round-trips through
// CompactToTarget with at most mantissa truncation.
func TargetToCompact(target *uint256.Int) uint32 {
	size := uint32(target.ByteLen())
	var compact uint32
	if size <= 3 {
		compact = uint32(target.Uint64() << (8 * (3 - size)))
	} else {
		shifted := new(uint256.Int).Rsh(target, uint(8*(size-3)))
		compact = uint32(shifted.Uint64())
	}
	// Avoid setting the sign bit; bump the exponent instead.
	if compact&0x00800000 != 0 {
		compact >>= 8
		size++
	}
	return compact | size<<24
}

// TargetFromBits returns the expanded target, or zero for invalid
// encodings (negative, zero or overflowing).
func TargetFromBits(bits uint32) *uint256.Int {
	target, negative, overflow := CompactToTarget(bits)
	if negative || overflow || target.IsZero() {
		return new(uint256.Int)
	}
	return target
}
