package consensus

import "github.com/holiman/uint256"

// BlockProof computes the work contributed by a block with the given
// compact target: 2^256 / (target+1). 2^256 itself does not fit in 256
// bits, but since it is at least as large as target+1 the quotient
// equals ~target / (target+1) + 1. Invalid targets contribute no work.
func BlockProof(bits uint32) *uint256.Int {
	target, negative, overflow := CompactToTarget(bits)
	if negative || overflow || target.IsZero() {
		return new(uint256.Int)
	}
	inv := new(uint256.Int).Not(target)
	den := new(uint256.Int).AddUint64(target, 1)
	proof := new(uint256.Int).Div(inv, den)
	return proof.AddUint64(proof, 1)
}

// HeadersWork sums the proof of a batch of headers. Headers with
// invalid targets are skipped and contribute zero.
func HeadersWork(headers []BlockHeader) *uint256.Int {
	total := new(uint256.Int)
	for i := range headers {
		total.Add(total, BlockProof(headers[i].Bits))
	}
	return total
}
