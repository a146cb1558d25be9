package validation

import (
	"fmt"
	"log/slog"

	"github.com/holiman/uint256"

	"cinder.dev/node/chain"
	"cinder.dev/node/consensus"
	"cinder.dev/node/crypto"
)

const (
	// MaxFutureBlockTime bounds how far a timestamp may run ahead of
	// adjusted time.
	MaxFutureBlockTime = 2 * 60 * 60

	// MaxHeadersResults caps a single headers message.
	MaxHeadersResults = 2000

	// AntiDoSWorkBufferBlocks is the slack behind the tip allowed for
	// incoming header chains after IBD (~4.8 hours at 2-minute
	// spacing).
	AntiDoSWorkBufferBlocks = 144
)

// NextWorkRequired computes the expected compact target for the block
// after prev under ASERT. Blocks at or below the anchor height, regtest
// chains, and the genesis successor all use the pow limit.
func NextWorkRequired(prev *chain.BlockIndex, params *consensus.Params) uint32 {
	if prev == nil {
		return params.PowLimitBits()
	}
	if params.Type == consensus.ChainRegTest {
		return params.PowLimitBits()
	}
	if prev.Height < params.ASERTAnchorHeight {
		return params.PowLimitBits()
	}

	anchor := prev.Ancestor(params.ASERTAnchorHeight)
	if anchor == nil || anchor.Prev == nil {
		// Anchor ancestry is guaranteed by the height checks above;
		// treat a broken chain as minimum difficulty rather than halt.
		return params.PowLimitBits()
	}
	anchorParent := anchor.Prev

	refTarget := consensus.TargetFromBits(anchor.Bits)
	if refTarget.IsZero() {
		return params.PowLimitBits()
	}

	// Time from the anchor's parent to the new block's parent; height
	// from the anchor to the new block's parent.
	timeDiff := prev.BlockTime() - anchorParent.BlockTime()
	heightDiff := int64(prev.Height - params.ASERTAnchorHeight)

	next := consensus.CalculateASERT(refTarget, params.PowTargetSpacing,
		timeDiff, heightDiff, params.PowLimit, params.ASERTHalfLife)
	return consensus.TargetToCompact(next)
}

// CheckBlockHeader performs the full, context-free proof-of-work
// verification: computes the RandomX hash and verifies the commitment
// against header.Bits. It does NOT establish that Bits is correct for
// the chain position; ContextualCheckBlockHeader does.
func CheckBlockHeader(header *consensus.BlockHeader, params *consensus.Params, pool *crypto.VMPool, state *ValidationState) bool {
	if !consensus.CheckProofOfWork(header, header.Bits, params, pool, consensus.PowVerifyFull, nil) {
		return state.Invalid(RejectHighHash, "proof of work failed")
	}
	return true
}

// ContextualCheckBlockHeader validates a header against its chain
// position: expected difficulty, median-time-past lower bound, future
// drift upper bound, version floor and network expiration.
func ContextualCheckBlockHeader(header *consensus.BlockHeader, prev *chain.BlockIndex, params *consensus.Params, adjustedTime int64, state *ValidationState, logger *slog.Logger) bool {
	expectedBits := NextWorkRequired(prev, params)
	if header.Bits != expectedBits {
		return state.Invalid(RejectBadDiffBits,
			fmt.Sprintf("incorrect difficulty: expected %#x, got %#x", expectedBits, header.Bits))
	}

	if prev != nil {
		mtp := prev.MedianTimePast()
		if int64(header.Time) <= mtp {
			return state.Invalid(RejectTimeTooOld,
				fmt.Sprintf("block timestamp %d <= median time past %d", header.Time, mtp))
		}
	}

	if int64(header.Time) > adjustedTime+MaxFutureBlockTime {
		return state.Invalid(RejectTimeTooNew,
			fmt.Sprintf("block timestamp %d too far in future", header.Time))
	}

	if header.Version < 1 {
		return state.Invalid(RejectBadVersion,
			fmt.Sprintf("block version too old: %d", header.Version))
	}

	// Network expiration (timebomb): stale software stops following
	// the chain instead of silently forking off.
	if params.NetworkExpirationInterval > 0 {
		height := int32(0)
		if prev != nil {
			height = prev.Height + 1
		}
		if height > params.NetworkExpirationInterval {
			return state.Invalid(RejectNetworkExpired,
				fmt.Sprintf("network expired at block %d; update to continue", params.NetworkExpirationInterval))
		}
		if logger != nil && height > params.NetworkExpirationInterval-params.NetworkExpirationGrace {
			logger.Warn("network approaching expiration",
				"expiration_height", params.NetworkExpirationInterval,
				"current_height", height)
		}
	}

	return true
}

// AntiDoSWorkThreshold is the minimum cumulative work a headers batch
// must carry to be stored after IBD: the chain-work floor from the
// params, or the tip's work minus a buffer of recent blocks, whichever
// is greater. During IBD there is no floor.
func AntiDoSWorkThreshold(tip *chain.BlockIndex, params *consensus.Params, isIBD bool) *uint256.Int {
	threshold := new(uint256.Int)
	if isIBD {
		return threshold
	}
	if params.MinimumChainWork != nil {
		threshold.Set(params.MinimumChainWork)
	}
	if tip == nil {
		return threshold
	}
	buffer := new(uint256.Int).Mul(
		consensus.BlockProof(tip.Bits),
		uint256.NewInt(AntiDoSWorkBufferBlocks))
	nearTip := new(uint256.Int)
	if tip.ChainWork.Gt(buffer) {
		nearTip.Sub(tip.ChainWork, buffer)
	}
	if nearTip.Gt(threshold) {
		threshold.Set(nearTip)
	}
	return threshold
}

// CheckHeadersContinuous verifies headers[i].PrevBlock links to
// headers[i-1]. It does not verify headers[0] connects to the index.
func CheckHeadersContinuous(headers []consensus.BlockHeader) bool {
	for i := 1; i < len(headers); i++ {
		if headers[i].PrevBlock != headers[i-1].Hash() {
			return false
		}
	}
	return true
}
