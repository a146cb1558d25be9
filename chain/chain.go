package chain

import (
	"sort"

	"cinder.dev/node/consensus"
)

// BlockLocator is the exponentially spaced hash list used to let a
// peer find the fork point with our chain.
type BlockLocator struct {
	Hashes []consensus.Hash
}

// Chain is a height-indexed view of one linear chain: blocks[h] is the
// entry at height h. It does not own the entries.
type Chain struct {
	blocks []*BlockIndex
}

// Genesis returns the entry at height 0, or nil for an empty chain.
func (c *Chain) Genesis() *BlockIndex {
	if len(c.blocks) == 0 {
		return nil
	}
	return c.blocks[0]
}

// Tip returns the last entry, or nil for an empty chain.
func (c *Chain) Tip() *BlockIndex {
	if len(c.blocks) == 0 {
		return nil
	}
	return c.blocks[len(c.blocks)-1]
}

// Height is Tip().Height, or -1 for an empty chain.
func (c *Chain) Height() int32 {
	return int32(len(c.blocks)) - 1
}

// AtHeight returns the entry at a height, or nil if out of range.
func (c *Chain) AtHeight(height int32) *BlockIndex {
	if height < 0 || height >= int32(len(c.blocks)) {
		return nil
	}
	return c.blocks[height]
}

// Contains checks active-chain membership in O(1).
func (c *Chain) Contains(index *BlockIndex) bool {
	if index == nil {
		return false
	}
	return c.AtHeight(index.Height) == index
}

// Next returns the successor of index on this chain, or nil.
func (c *Chain) Next(index *BlockIndex) *BlockIndex {
	if !c.Contains(index) {
		return nil
	}
	return c.AtHeight(index.Height + 1)
}

// SetTip makes index the tip, walking backward through parents to fill
// every height slot. The walk stops at the first slot that already
// holds the right entry, so switching to a sibling branch only rewrites
// the divergent suffix.
func (c *Chain) SetTip(index *BlockIndex) {
	if index == nil {
		c.blocks = nil
		return
	}
	need := int(index.Height) + 1
	if len(c.blocks) < need {
		c.blocks = append(c.blocks, make([]*BlockIndex, need-len(c.blocks))...)
	}
	c.blocks = c.blocks[:need]
	for index != nil && c.blocks[index.Height] != index {
		c.blocks[index.Height] = index
		index = index.Prev
	}
}

// Clear empties the chain.
func (c *Chain) Clear() {
	c.blocks = nil
}

// FindFork returns the deepest entry shared by this chain and the
// ancestor path of index, or nil if they are disjoint.
func (c *Chain) FindFork(index *BlockIndex) *BlockIndex {
	if index == nil {
		return nil
	}
	if index.Height > c.Height() {
		index = index.Ancestor(c.Height())
	}
	for index != nil && !c.Contains(index) {
		index = index.Prev
	}
	return index
}

// FindEarliestAtLeast returns the first entry with TimeMax >= nTime and
// height >= minHeight, using binary search over the monotonic TimeMax
// field, or nil if none qualifies.
func (c *Chain) FindEarliestAtLeast(nTime int64, minHeight int32) *BlockIndex {
	i := sort.Search(len(c.blocks), func(i int) bool {
		return c.blocks[i].TimeMax >= nTime && c.blocks[i].Height >= minHeight
	})
	if i == len(c.blocks) {
		return nil
	}
	return c.blocks[i]
}

// Locator builds the locator for this chain's tip.
func (c *Chain) Locator() BlockLocator {
	return LocatorFrom(c.Tip())
}

// LocatorEntries lists hashes walking back from index: the first 10 at
// step 1, then doubling steps, always ending at genesis.
func LocatorEntries(index *BlockIndex) []consensus.Hash {
	if index == nil {
		return nil
	}
	step := int32(1)
	have := make([]consensus.Hash, 0, 32)
	for index != nil {
		have = append(have, index.Hash())
		if index.Height == 0 {
			break
		}
		height := index.Height - step
		if height < 0 {
			height = 0
		}
		index = index.Ancestor(height)
		if len(have) > 10 {
			step *= 2
		}
	}
	return have
}

// LocatorFrom builds a locator starting at the given entry.
func LocatorFrom(index *BlockIndex) BlockLocator {
	return BlockLocator{Hashes: LocatorEntries(index)}
}
