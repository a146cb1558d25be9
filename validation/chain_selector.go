package validation

import (
	"github.com/emirpasic/gods/sets/treeset"

	"cinder.dev/node/chain"
)

// blockIndexWorkComparator orders candidate tips: more cumulative work
// first, then greater height, then ascending hash as a deterministic
// tie-breaker.
//
// The compared fields (ChainWork, Height, hash) are write-once: they
// are set when the entry is created and never mutated while the entry
// is in the set. Code that ever needs to change them must erase the
// entry first and reinsert after.
func blockIndexWorkComparator(a, b interface{}) int {
	pa := a.(*chain.BlockIndex)
	pb := b.(*chain.BlockIndex)
	if c := pa.ChainWork.Cmp(pb.ChainWork); c != 0 {
		return -c
	}
	if pa.Height != pb.Height {
		if pa.Height > pb.Height {
			return -1
		}
		return 1
	}
	ha, hb := pa.Hash(), pb.Hash()
	return ha.ToU256().Cmp(hb.ToU256())
}

// ChainSelector maintains the set of competing chain tips and answers
// which has the most work. The set holds entries validated to at least
// tree level: leaves of the index, plus (after a candidate rebuild)
// entries whose only children are failed. No internal mutex: the
// chainstate manager's lock must be held.
type ChainSelector struct {
	candidates *treeset.Set
	bestHeader *chain.BlockIndex
}

func NewChainSelector() *ChainSelector {
	return &ChainSelector{
		candidates: treeset.NewWith(blockIndexWorkComparator),
	}
}

// FindMostWorkChain returns the best candidate, skipping entries whose
// failure flags were set after insertion (a race with invalidation),
// or nil when the set holds no viable tip.
func (cs *ChainSelector) FindMostWorkChain() *chain.BlockIndex {
	it := cs.candidates.Iterator()
	for it.Next() {
		candidate := it.Value().(*chain.BlockIndex)
		if candidate.Status&chain.BlockFailedMask != 0 {
			continue
		}
		return candidate
	}
	return nil
}

// TryAddCandidate inserts index if it is tree-valid and a leaf. The
// parent, if present in the set, stops being a tip and is removed, so
// the set only ever holds actual leaves.
func (cs *ChainSelector) TryAddCandidate(index *chain.BlockIndex, blocks *chain.BlockManager) {
	if index == nil || !index.IsValid(chain.BlockValidTree) {
		return
	}
	if hasChildren(blocks, index) {
		return
	}
	if index.Prev != nil {
		cs.candidates.Remove(index.Prev)
	}
	cs.candidates.Add(index)
}

// Prune drops candidates that can no longer win: anything with less
// work than the active tip, the tip itself, interior blocks of the
// active chain, and (defensively) non-leaves.
func (cs *ChainSelector) Prune(blocks *chain.BlockManager) {
	tip := blocks.Tip()
	if tip == nil {
		return
	}
	var remove []*chain.BlockIndex
	it := cs.candidates.Iterator()
	for it.Next() {
		candidate := it.Value().(*chain.BlockIndex)
		switch {
		case candidate == tip:
			remove = append(remove, candidate)
		case candidate.ChainWork.Lt(tip.ChainWork):
			remove = append(remove, candidate)
		case tip.Ancestor(candidate.Height) == candidate:
			remove = append(remove, candidate)
		case hasChildren(blocks, candidate):
			remove = append(remove, candidate)
		}
	}
	for _, candidate := range remove {
		cs.candidates.Remove(candidate)
	}
}

// AddCandidateUnchecked inserts without leaf or validity checks; used
// for genesis at initialization and by the candidate rebuild after Load
// or InvalidateBlock, whose callers apply their own selection rules.
func (cs *ChainSelector) AddCandidateUnchecked(index *chain.BlockIndex) {
	cs.candidates.Add(index)
}

func (cs *ChainSelector) ClearCandidates() {
	cs.candidates.Clear()
}

func (cs *ChainSelector) CandidateCount() int {
	return cs.candidates.Size()
}

// BestHeader is the most-work header ever seen, on the active chain or
// not. It drives sync progress even during reorgs.
func (cs *ChainSelector) BestHeader() *chain.BlockIndex { return cs.bestHeader }

func (cs *ChainSelector) SetBestHeader(index *chain.BlockIndex) { cs.bestHeader = index }

// UpdateBestHeader replaces the best header if index has strictly more
// work.
func (cs *ChainSelector) UpdateBestHeader(index *chain.BlockIndex) {
	if index == nil {
		return
	}
	if cs.bestHeader == nil || index.ChainWork.Gt(cs.bestHeader.ChainWork) {
		cs.bestHeader = index
	}
}

func hasChildren(blocks *chain.BlockManager, index *chain.BlockIndex) bool {
	found := false
	blocks.ForEach(func(entry *chain.BlockIndex) bool {
		if entry.Prev == index {
			found = true
			return false
		}
		return true
	})
	return found
}
