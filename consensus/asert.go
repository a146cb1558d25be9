package consensus

import (
	"math/big"

	"github.com/holiman/uint256"
)

// ASERT (aserti3-2d) difficulty retargeting, after the Bitcoin Cash
// reference algorithm. The target rises or falls exponentially with how
// far the chain is behind or ahead of its schedule relative to a fixed
// anchor block: for every halfLife seconds of drift the target doubles
// or halves.

// CalculateASERT computes the next target.
//
//	refTarget   anchor block target (0 < refTarget <= powLimit)
//	spacing     scheduled seconds between blocks
//	timeDiff    seconds from the anchor's parent to the new block's parent
//	heightDiff  blocks from the anchor to the new block's parent (>= 0)
//	halfLife    seconds per doubling/halving of the target
//
// Fixed-point arithmetic with 16 fractional bits; 2^x on [0,1) is
// approximated by a cubic polynomial (error < 0.013%). The intermediate
// product needs more than 256 bits, so it is carried in a big.Int and
// clamped to [1, powLimit] at the end.
func CalculateASERT(refTarget *uint256.Int, spacing, timeDiff, heightDiff int64, powLimit *uint256.Int, halfLife int64) *uint256.Int {
	exponent := ((timeDiff - spacing*(heightDiff+1)) * 65536) / halfLife

	shifts := exponent >> 16
	frac := uint64(uint16(exponent))

	// 2^(frac/65536) in 16.16 fixed point.
	factor := 65536 + ((195766423245049*frac+
		971821376*frac*frac+
		5127*frac*frac*frac+
		(1<<47))>>48)

	shifts -= 16
	if shifts >= 256 {
		// Any shift this large exceeds every representable target.
		return new(uint256.Int).Set(powLimit)
	}
	if shifts <= -512 {
		return uint256.NewInt(1)
	}

	next := refTarget.ToBig()
	next.Mul(next, new(big.Int).SetUint64(factor))
	if shifts <= 0 {
		next.Rsh(next, uint(-shifts))
	} else {
		next.Lsh(next, uint(shifts))
	}

	limit := powLimit.ToBig()
	if next.Cmp(limit) > 0 {
		next.Set(limit)
	}
	if next.Sign() == 0 {
		next.SetInt64(1)
	}
	out, _ := uint256.FromBig(next)
	return out
}
