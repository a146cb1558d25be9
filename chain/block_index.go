// Package chain owns the in-memory tree of block headers: the index
// entries, the skip-list ancestor structure, and the height-indexed
// active chain. Entries are allocated once and addressed by pointer for
// their whole lifetime; they are never copied or moved.
package chain

import (
	"fmt"
	"sort"

	"github.com/holiman/uint256"

	"cinder.dev/node/consensus"
)

// MedianTimeSpan is the number of previous blocks over which the
// median time past is computed. Must be odd.
const MedianTimeSpan = 11

// BlockStatus tracks how far a header has been validated. Validity
// levels are sequential integers in the low bits and compared
// numerically; failure flags are independent high bits.
type BlockStatus uint32

const (
	BlockValidUnknown BlockStatus = 0

	// Parsed, valid PoW, valid difficulty, valid timestamp.
	BlockValidHeader BlockStatus = 1

	// All parents found and at least tree-valid themselves. This is
	// the highest level for a headers-only chain.
	BlockValidTree BlockStatus = 2

	BlockFailedValid BlockStatus = 32 // failed at its last-reached level
	BlockFailedChild BlockStatus = 64 // descends from a failed block
	BlockFailedMask  BlockStatus = BlockFailedValid | BlockFailedChild

	// Validity levels occupy the low 5 bits; failure flags sit above
	// them. Every status check uses this split.
	blockValidityMask BlockStatus = 0x1f
)

// BlockIndex is the owned metadata for one header. The containing
// BlockManager keeps entries alive for its whole lifetime; Prev and
// Skip are non-owning pointers into the same container. Height,
// ChainWork and the hash are set once at insertion and never mutated
// afterwards (the candidate-set ordering depends on it).
type BlockIndex struct {
	Status BlockStatus

	hash consensus.Hash

	Prev *BlockIndex
	Skip *BlockIndex

	Height    int32
	ChainWork *uint256.Int

	// Header fields stored inline so the entry is self-describing.
	Version     int32
	MinerAddr   consensus.MinerAddress
	Time        uint32
	Bits        uint32
	Nonce       uint32
	RandomXHash consensus.Hash

	// When this header was first received, for relay decisions.
	TimeReceived int64

	// Monotonic maximum of Time over the chain prefix, for time-based
	// binary search on the active chain.
	TimeMax int64
}

func newBlockIndex(hash consensus.Hash, header *consensus.BlockHeader) *BlockIndex {
	return &BlockIndex{
		hash:        hash,
		ChainWork:   new(uint256.Int),
		Version:     header.Version,
		MinerAddr:   header.MinerAddr,
		Time:        header.Time,
		Bits:        header.Bits,
		Nonce:       header.Nonce,
		RandomXHash: header.RandomXHash,
	}
}

func (bi *BlockIndex) Hash() consensus.Hash { return bi.hash }

// Header reconstructs the full header by value; safe to use across
// lock boundaries.
func (bi *BlockIndex) Header() consensus.BlockHeader {
	h := consensus.BlockHeader{
		Version:     bi.Version,
		MinerAddr:   bi.MinerAddr,
		Time:        bi.Time,
		Bits:        bi.Bits,
		Nonce:       bi.Nonce,
		RandomXHash: bi.RandomXHash,
	}
	if bi.Prev != nil {
		h.PrevBlock = bi.Prev.hash
	}
	return h
}

func (bi *BlockIndex) BlockTime() int64 { return int64(bi.Time) }

// MedianTimePast returns the median of the last MedianTimeSpan block
// times ending at this block, or fewer near genesis. A new block's
// timestamp must exceed it.
func (bi *BlockIndex) MedianTimePast() int64 {
	times := make([]int64, 0, MedianTimeSpan)
	walk := bi
	for i := 0; i < MedianTimeSpan && walk != nil; i++ {
		times = append(times, walk.BlockTime())
		walk = walk.Prev
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
	return times[len(times)/2]
}

// IsValid reports whether the entry is valid up to the given level.
// Any failure flag makes the entry invalid at every level.
func (bi *BlockIndex) IsValid(upTo BlockStatus) bool {
	if bi.Status&BlockFailedMask != 0 {
		return false
	}
	return bi.Status&blockValidityMask >= upTo
}

// RaiseValidity raises the validity level, returning true if changed.
// Never raises an entry carrying a failure flag.
func (bi *BlockIndex) RaiseValidity(upTo BlockStatus) bool {
	if bi.Status&BlockFailedMask != 0 {
		return false
	}
	if bi.Status&blockValidityMask < upTo {
		bi.Status = (bi.Status &^ blockValidityMask) | upTo
		return true
	}
	return false
}

func invertLowestOne(n int32) int32 { return n & (n - 1) }

// skipHeight picks the deterministic ancestor height the skip pointer
// targets, such that repeated skips reach height 0 in O(log n) hops.
func skipHeight(height int32) int32 {
	if height < 2 {
		return 0
	}
	if height&1 == 1 {
		return invertLowestOne(invertLowestOne(height-1)) + 1
	}
	return invertLowestOne(height)
}

// BuildSkip sets the skip pointer. Prev and Height must already be set.
func (bi *BlockIndex) BuildSkip() {
	if bi.Prev != nil {
		bi.Skip = bi.Prev.Ancestor(skipHeight(bi.Height))
	}
}

// Ancestor returns the ancestor at the given height, using the skip
// list for O(log n) traversal, or nil if the height is out of range.
func (bi *BlockIndex) Ancestor(height int32) *BlockIndex {
	if height > bi.Height || height < 0 {
		return nil
	}
	index := bi
	walk := bi.Height
	for walk > height {
		hSkip := skipHeight(walk)
		hSkipPrev := skipHeight(walk - 1)
		if index.Skip != nil &&
			(hSkip == height ||
				(hSkip > height && !(hSkipPrev < hSkip-2 && hSkipPrev >= height))) {
			index = index.Skip
			walk = hSkip
		} else {
			index = index.Prev
			walk--
		}
	}
	return index
}

func (bi *BlockIndex) String() string {
	return fmt.Sprintf("BlockIndex(hash=%s, height=%d, work=%s, status=0x%x)",
		bi.hash.Short(), bi.Height, bi.ChainWork.Hex(), uint32(bi.Status))
}

// LastCommonAncestor aligns both entries to the same height and walks
// backward until they meet. Returns nil if either input is nil or the
// chains share no ancestor (different genesis); callers must handle
// nil.
func LastCommonAncestor(pa, pb *BlockIndex) *BlockIndex {
	if pa == nil || pb == nil {
		return nil
	}
	if pa.Height > pb.Height {
		pa = pa.Ancestor(pb.Height)
	} else if pb.Height > pa.Height {
		pb = pb.Ancestor(pa.Height)
	}
	for pa != pb && pa != nil && pb != nil {
		pa = pa.Prev
		pb = pb.Prev
	}
	return pa
}
