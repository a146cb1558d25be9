package consensus

import (
	"bytes"

	"cinder.dev/node/crypto"
)

// PowVerifyMode selects how much of the proof of work is verified.
type PowVerifyMode int

const (
	// PowVerifyFull computes the RandomX hash and verifies the
	// commitment. Both must match.
	PowVerifyFull PowVerifyMode = iota
	// PowVerifyCommitmentOnly verifies only the commitment against the
	// target. Roughly 50x cheaper; used for header-sync pre-filtering.
	PowVerifyCommitmentOnly
	// PowVerifyMining computes the hash for a candidate header and
	// checks the resulting commitment. Used only by the miner.
	PowVerifyMining
)

// CheckProofOfWork verifies a header's proof of work under the given
// compact target. outHash receives the computed RandomX hash and is
// required in mining mode.
func CheckProofOfWork(header *BlockHeader, bits uint32, params *Params, pool *crypto.VMPool, mode PowVerifyMode, outHash *Hash) bool {
	target, negative, overflow := CompactToTarget(bits)
	if negative || overflow || target.IsZero() {
		return false
	}
	if mode == PowVerifyMining && outHash == nil {
		return false
	}

	powBytes := header.SerializePoW()
	var rxHash Hash

	// Cheap commitment verification first.
	if mode != PowVerifyMining {
		if header.RandomXHash.IsZero() {
			return false
		}
		commitment := Hash(crypto.Commitment(powBytes[:], header.RandomXHash))
		if commitment.ToU256().Gt(target) {
			return false
		}
		rxHash = header.RandomXHash
	}

	// Compute the RandomX hash when required.
	if mode == PowVerifyFull || mode == PowVerifyMining {
		if pool == nil {
			return false
		}
		epoch := crypto.Epoch(header.Time, params.RandomXEpochDuration)
		vm := pool.Get(epoch)
		computed := vm.Hash(powBytes[:])

		if mode != PowVerifyMining {
			if !bytes.Equal(computed[:], header.RandomXHash[:]) {
				return false
			}
		} else {
			rxHash = Hash(computed)
			commitment := Hash(crypto.Commitment(powBytes[:], computed))
			if commitment.ToU256().Gt(target) {
				return false
			}
		}
	}

	if outHash != nil {
		*outHash = rxHash
	}
	return true
}
