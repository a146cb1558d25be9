package chain

import (
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"cinder.dev/node/consensus"
)

// BlockManager stores every known header (active chain, stale forks and
// failed branches alike) and the active chain built over them. The map
// owns the entries; everything else refers to them by pointer. Entries
// are never removed, so pointers handed out stay valid for the life of
// the manager.
//
// BlockManager has no mutex of its own; the chainstate manager's lock
// must be held around every call.
type BlockManager struct {
	index       map[consensus.Hash]*BlockIndex
	active      Chain
	genesisHash consensus.Hash
	initialized bool

	// now is the received-time source; replaceable in tests.
	now func() int64
}

func NewBlockManager() *BlockManager {
	return &BlockManager{
		index: make(map[consensus.Hash]*BlockIndex),
		now:   func() int64 { return time.Now().Unix() },
	}
}

// SetTimeSource overrides the received-time clock.
func (bm *BlockManager) SetTimeSource(now func() int64) {
	bm.now = now
}

// Initialize installs the genesis header at height 0. Fails if called
// twice.
func (bm *BlockManager) Initialize(genesis consensus.BlockHeader) error {
	if bm.initialized {
		return errors.New("block manager: already initialized")
	}
	if !genesis.PrevBlock.IsZero() {
		return errors.New("block manager: genesis has a parent")
	}
	hash := genesis.Hash()
	entry := newBlockIndex(hash, &genesis)
	entry.Height = 0
	entry.ChainWork = consensus.BlockProof(genesis.Bits)
	entry.TimeMax = int64(genesis.Time)
	entry.TimeReceived = bm.now()
	entry.RaiseValidity(BlockValidTree)

	bm.index[hash] = entry
	bm.genesisHash = hash
	bm.initialized = true
	bm.active.SetTip(entry)
	return nil
}

// Lookup returns the entry for a hash, or nil.
func (bm *BlockManager) Lookup(hash consensus.Hash) *BlockIndex {
	return bm.index[hash]
}

// AddToIndex inserts a header, computing height, cumulative work, the
// monotonic time maximum and the skip pointer from its parent.
// Idempotent: a known hash returns the existing entry.
func (bm *BlockManager) AddToIndex(header consensus.BlockHeader) (*BlockIndex, error) {
	hash := header.Hash()
	if existing := bm.index[hash]; existing != nil {
		return existing, nil
	}
	prev := bm.index[header.PrevBlock]
	if prev == nil {
		return nil, fmt.Errorf("block manager: parent %s not in index", header.PrevBlock.Short())
	}

	entry := newBlockIndex(hash, &header)
	entry.Prev = prev
	entry.Height = prev.Height + 1
	entry.ChainWork = new(uint256.Int).Add(prev.ChainWork, consensus.BlockProof(header.Bits))
	entry.TimeMax = prev.TimeMax
	if int64(header.Time) > entry.TimeMax {
		entry.TimeMax = int64(header.Time)
	}
	entry.TimeReceived = bm.now()
	entry.BuildSkip()

	bm.index[hash] = entry
	return entry, nil
}

// ActiveChain exposes the current best chain.
func (bm *BlockManager) ActiveChain() *Chain { return &bm.active }

// Tip returns the active tip, or nil.
func (bm *BlockManager) Tip() *BlockIndex { return bm.active.Tip() }

// SetActiveTip repoints the active chain at the given entry.
func (bm *BlockManager) SetActiveTip(index *BlockIndex) {
	bm.active.SetTip(index)
}

// Count returns the number of known headers.
func (bm *BlockManager) Count() int { return len(bm.index) }

// GenesisHash returns the installed genesis hash.
func (bm *BlockManager) GenesisHash() consensus.Hash { return bm.genesisHash }

// ForEach visits every entry until fn returns false. Iteration order is
// unspecified.
func (bm *BlockManager) ForEach(fn func(*BlockIndex) bool) {
	for _, entry := range bm.index {
		if !fn(entry) {
			return
		}
	}
}
