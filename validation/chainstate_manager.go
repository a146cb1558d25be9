package validation

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"cinder.dev/node/chain"
	"cinder.dev/node/consensus"
	"cinder.dev/node/crypto"
)

const (
	// DefaultSuspiciousReorgDepth halts reorganizations at or beyond
	// this depth. Zero disables the limit.
	DefaultSuspiciousReorgDepth = 100

	// Orphan pool limits.
	MaxOrphanHeaders          = 1000
	MaxOrphanHeadersPerPeer   = 50
	OrphanHeaderExpireSeconds = 600

	// LocalPeer marks headers submitted by this node (miner, RPC).
	LocalPeer int64 = -1
)

// PowChecker verifies a header's proof of work in the given mode.
// Injectable so tests and simulations can substitute the engine.
type PowChecker func(header *consensus.BlockHeader, mode consensus.PowVerifyMode) bool

// Options configures a ChainstateManager.
type Options struct {
	// SuspiciousReorgDepth refuses reorgs of at least this depth;
	// 0 means unlimited.
	SuspiciousReorgDepth int32

	// PowChecker overrides proof-of-work verification. Nil uses the
	// RandomX engine with VMPool.
	PowChecker PowChecker

	// VMPool supplies per-epoch VMs for the default checker. Nil
	// allocates a pool of DefaultVMCacheSize.
	VMPool *crypto.VMPool

	// AdjustedTime returns network-adjusted unix time for contextual
	// checks. Nil uses the local clock.
	AdjustedTime func() int64

	// Now is the local clock, used for orphan expiry and the IBD
	// check. Nil uses time.Now.
	Now func() int64

	Logger *slog.Logger
}

type orphanHeader struct {
	header       consensus.BlockHeader
	timeReceived int64
	peer         int64
}

// ChainstateManager coordinates the block index, the active chain and
// the candidate set behind one lock. It is the only way into the core:
// every exported method acquires the lock, runs the transition, and
// dispatches any queued notifications after releasing it.
type ChainstateManager struct {
	mu sync.Mutex

	blocks   *chain.BlockManager
	selector *ChainSelector
	params   *consensus.Params

	suspiciousReorgDepth int32
	powCheck             PowChecker
	adjustedTime         func() int64
	now                  func() int64
	logger               *slog.Logger

	// Orphan pool: headers whose parent is unknown, bounded globally
	// and per peer, expiring after OrphanHeaderExpireSeconds.
	orphans         map[consensus.Hash]orphanHeader
	peerOrphanCount map[int64]int

	// Entries that failed validation. Consulted so descendants of a
	// failed block are rejected without re-validating.
	failedBlocks mapset.Set[*chain.BlockIndex]

	// Latches to true once IBD completes; never clears. Read without
	// the lock.
	finishedIBD atomic.Bool

	subscribers []Notifications
	pending     []notification
}

func NewChainstateManager(params *consensus.Params, opts Options) *ChainstateManager {
	m := &ChainstateManager{
		blocks:               chain.NewBlockManager(),
		selector:             NewChainSelector(),
		params:               params,
		suspiciousReorgDepth: opts.SuspiciousReorgDepth,
		powCheck:             opts.PowChecker,
		adjustedTime:         opts.AdjustedTime,
		now:                  opts.Now,
		logger:               opts.Logger,
		orphans:              make(map[consensus.Hash]orphanHeader),
		peerOrphanCount:      make(map[int64]int),
		failedBlocks:         mapset.NewThreadUnsafeSet[*chain.BlockIndex](),
	}
	if m.powCheck == nil {
		pool := opts.VMPool
		if pool == nil {
			pool, _ = crypto.NewVMPool(crypto.DefaultVMCacheSize)
		}
		m.powCheck = func(header *consensus.BlockHeader, mode consensus.PowVerifyMode) bool {
			return consensus.CheckProofOfWork(header, header.Bits, params, pool, mode, nil)
		}
	}
	if m.now == nil {
		m.now = func() int64 { return time.Now().Unix() }
	}
	if m.adjustedTime == nil {
		m.adjustedTime = m.now
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.blocks.SetTimeSource(func() int64 { return m.now() })
	return m
}

// RegisterNotifications subscribes an observer to chain events.
func (m *ChainstateManager) RegisterNotifications(n Notifications) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, n)
}

// Initialize installs the genesis header and seeds the candidate set.
func (m *ChainstateManager) Initialize(genesis consensus.BlockHeader) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.blocks.Initialize(genesis); err != nil {
		return err
	}
	tip := m.blocks.Tip()
	m.selector.AddCandidateUnchecked(tip)
	m.selector.SetBestHeader(tip)
	m.logger.Debug("initialized chain", "genesis", tip.Hash().Short())
	return nil
}

// AcceptBlockHeader runs the acceptance pipeline for one header from
// peer. On success the returned entry is tree-valid and in the index;
// on failure state carries the classified reason. An orphaned header
// returns nil with reason "orphaned", which is not a protocol failure.
//
// Anti-DoS layering: the cheap commitment check runs unconditionally
// before anything is stored, and the header enters the index before the
// expensive full PoW check so the expensive verdict is cached in the
// entry's status.
func (m *ChainstateManager) AcceptBlockHeader(header *consensus.BlockHeader, state *ValidationState, peer int64) *chain.BlockIndex {
	m.mu.Lock()
	index := m.acceptBlockHeader(header, state, peer)
	events := m.takePending()
	m.mu.Unlock()
	m.dispatch(events)
	return index
}

func (m *ChainstateManager) acceptBlockHeader(header *consensus.BlockHeader, state *ValidationState, peer int64) *chain.BlockIndex {
	hash := header.Hash()

	// Step 1: duplicate.
	if index := m.blocks.Lookup(hash); index != nil {
		if index.Status&chain.BlockFailedMask != 0 {
			state.Invalid(RejectDuplicate, "block is marked invalid")
			return nil
		}
		return index
	}

	// Step 2: cheap PoW commitment check. Unconditional; callers
	// cannot bypass it.
	if !m.powCheck(header, consensus.PowVerifyCommitmentOnly) {
		m.logger.Debug("header failed commitment check", "hash", hash.Short())
		state.Invalid(RejectHighHash, "proof of work commitment failed")
		return nil
	}

	// Step 3: genesis claims. A fake genesis is rejected outright; the
	// real one must come through Initialize.
	if header.PrevBlock.IsZero() {
		if hash != m.params.GenesisHash {
			m.logger.Error("rejected fake genesis", "hash", hash.String(),
				"expected", m.params.GenesisHash.String())
			state.Invalid(RejectBadGenesis, "genesis block hash mismatch")
			return nil
		}
		state.Invalid(RejectGenesisViaAccept, "genesis must be added via Initialize")
		return nil
	}

	// Step 4: parent lookup; cache as orphan when missing.
	prev := m.blocks.Lookup(header.PrevBlock)
	if prev == nil {
		if m.tryAddOrphan(header, peer) {
			m.logger.Info("cached orphan header", "hash", hash.Short(),
				"parent", header.PrevBlock.Short(), "peer", peer)
			state.Invalid(RejectOrphaned, "header cached as orphan (parent not found)")
		} else {
			m.logger.Warn("orphan pool refused header", "hash", hash.Short(), "peer", peer)
			state.Invalid(RejectOrphanLimit, "orphan pool full or peer limit exceeded")
		}
		return nil
	}

	// Step 5: parent marked invalid.
	if prev.Status&chain.BlockFailedMask != 0 {
		state.Invalid(RejectBadPrevBlk, "previous block is invalid")
		return nil
	}

	// Step 6: parent descends from a known failed block. Mark the path
	// down to the failure so the whole subtree rejects in O(1) later.
	if !prev.IsValid(chain.BlockValidTree) {
		badPrev := false
		m.failedBlocks.Each(func(failed *chain.BlockIndex) bool {
			if prev.Ancestor(failed.Height) == failed {
				for walk := prev; walk != failed; walk = walk.Prev {
					walk.Status |= chain.BlockFailedChild
				}
				badPrev = true
				return true
			}
			return false
		})
		if badPrev {
			state.Invalid(RejectBadPrevBlk, "previous block descends from invalid block")
			return nil
		}
	}

	// Step 7: insert before expensive validation so its outcome is
	// cached in the entry status.
	index, err := m.blocks.AddToIndex(*header)
	if err != nil {
		state.Error(err.Error())
		return nil
	}

	// Step 8: contextual checks.
	if !ContextualCheckBlockHeader(header, prev, m.params, m.adjustedTime(), state, m.logger) {
		m.logger.Error("contextual check failed", "hash", hash.Short(),
			"reason", string(state.Reason()), "debug", state.DebugMessage())
		index.Status |= chain.BlockFailedValid
		m.failedBlocks.Add(index)
		return nil
	}

	// Step 9: full PoW verification.
	if !m.powCheck(header, consensus.PowVerifyFull) {
		m.logger.Error("full PoW check failed", "hash", hash.Short())
		state.Invalid(RejectHighHash, "proof of work failed")
		index.Status |= chain.BlockFailedValid
		m.failedBlocks.Add(index)
		return nil
	}

	// Step 10: raise validity and track the best header seen.
	index.RaiseValidity(chain.BlockValidTree)
	m.selector.UpdateBestHeader(index)

	m.logger.Info("accepted block header", "hash", hash.Short(),
		"height", index.Height, "peer", peer)

	// Step 11: resolve orphans waiting on this header.
	m.processOrphans(hash)

	return index
}

// ProcessNewBlockHeader accepts a header, registers it as a candidate
// tip and activates the best chain, atomically under the core lock.
func (m *ChainstateManager) ProcessNewBlockHeader(header *consensus.BlockHeader, state *ValidationState) bool {
	m.mu.Lock()
	index := m.acceptBlockHeader(header, state, LocalPeer)
	ok := index != nil
	if ok {
		m.selector.TryAddCandidate(index, m.blocks)
		if err := m.activateBestChain(nil); err != nil {
			state.Error(err.Error())
			ok = false
		}
	}
	events := m.takePending()
	m.mu.Unlock()
	m.dispatch(events)
	return ok
}

// ActivateBestChain switches to the most-work candidate (or the hint).
// Policy refusals (suspicious reorg) succeed without switching and emit
// a notification; only unrecoverable conditions return an error.
func (m *ChainstateManager) ActivateBestChain(hint *chain.BlockIndex) error {
	m.mu.Lock()
	err := m.activateBestChain(hint)
	events := m.takePending()
	m.mu.Unlock()
	m.dispatch(events)
	return err
}

func (m *ChainstateManager) activateBestChain(hint *chain.BlockIndex) error {
	mostWork := hint
	if mostWork == nil {
		mostWork = m.selector.FindMostWorkChain()
	}
	if mostWork == nil {
		// No candidates: the current tip is already best.
		return nil
	}

	oldTip := m.blocks.Tip()
	if oldTip == mostWork {
		return nil
	}
	// The work comparison only holds the tip in place while the tip is
	// itself valid; an invalidated tip must be abandoned even for a
	// lower-work chain.
	if oldTip != nil && oldTip.Status&chain.BlockFailedMask == 0 &&
		!mostWork.ChainWork.Gt(oldTip.ChainWork) {
		m.logger.Debug("candidate lacks work to replace tip",
			"candidate", mostWork.Hash().Short(), "height", mostWork.Height)
		return nil
	}

	fork := chain.LastCommonAncestor(oldTip, mostWork)
	if oldTip != nil && fork == nil {
		m.logger.Error("no common ancestor with candidate chain",
			"tip", oldTip.Hash().Short(), "candidate", mostWork.Hash().Short())
		return errors.New("no common ancestor between active chain and candidate")
	}

	if oldTip != nil && fork != nil {
		reorgDepth := oldTip.Height - fork.Height
		if m.suspiciousReorgDepth > 0 && reorgDepth >= m.suspiciousReorgDepth {
			m.logger.Error("refusing suspicious reorg",
				"depth", reorgDepth, "max_allowed", m.suspiciousReorgDepth-1,
				"tip", oldTip.Hash().Short(), "candidate", mostWork.Hash().Short(),
				"fork_height", fork.Height)
			m.queueSuspiciousReorg(reorgDepth, m.suspiciousReorgDepth-1)
			return nil
		}
	}

	// Disconnect back to the fork, remembering the order for rollback.
	var disconnected []*chain.BlockIndex
	for walk := m.blocks.Tip(); walk != nil && walk != fork; walk = m.blocks.Tip() {
		disconnected = append(disconnected, walk)
		if err := m.disconnectTip(); err != nil {
			return fmt.Errorf("disconnect during reorg: %w", err)
		}
	}

	// Collect the connect path tip-down, then attach fork-up.
	var connect []*chain.BlockIndex
	for walk := mostWork; walk != nil && walk != fork; walk = walk.Prev {
		connect = append(connect, walk)
	}
	for i := len(connect) - 1; i >= 0; i-- {
		if err := m.connectTip(connect[i]); err != nil {
			m.logger.Error("connect failed during reorg",
				"height", connect[i].Height, "err", err)
			if rbErr := m.rollback(fork, disconnected); rbErr != nil {
				return fmt.Errorf("reorg failed and rollback failed: %w", rbErr)
			}
			return fmt.Errorf("connect during reorg: %w", err)
		}
	}

	if len(disconnected) > 0 {
		m.logger.Warn("chain reorganized",
			"disconnected", len(disconnected), "connected", len(connect),
			"new_tip", mostWork.Hash().Short(), "height", mostWork.Height,
			"fork_height", fork.Height)
	} else {
		m.logger.Info("new best chain",
			"tip", mostWork.Hash().Short(), "height", mostWork.Height)
	}

	m.queueChainTip(mostWork)
	m.selector.Prune(m.blocks)
	return nil
}

// rollback undoes a half-finished reorg: disconnect whatever connected,
// then reconnect the saved old chain tip-up.
func (m *ChainstateManager) rollback(fork *chain.BlockIndex, disconnected []*chain.BlockIndex) error {
	for m.blocks.Tip() != fork {
		if err := m.disconnectTip(); err != nil {
			return fmt.Errorf("chain state may be inconsistent: %w", err)
		}
	}
	for i := len(disconnected) - 1; i >= 0; i-- {
		if err := m.connectTip(disconnected[i]); err != nil {
			return fmt.Errorf("failed to restore old chain: %w", err)
		}
	}
	if tip := m.blocks.Tip(); tip != nil {
		m.logger.Info("rollback restored old tip", "height", tip.Height)
	}
	return nil
}

// connectTip advances the active chain, then queues block-connected:
// subscribers observing the event see the new tip.
func (m *ChainstateManager) connectTip(index *chain.BlockIndex) error {
	if index == nil {
		return errors.New("connect: nil block index")
	}
	m.blocks.SetActiveTip(index)
	m.queueBlockConnected(index)
	return nil
}

// disconnectTip queues block-disconnected first, then rolls the active
// chain back one block. Genesis is never disconnected.
func (m *ChainstateManager) disconnectTip() error {
	tip := m.blocks.Tip()
	if tip == nil {
		return errors.New("disconnect: no tip")
	}
	if tip.Prev == nil {
		return errors.New("disconnect: cannot disconnect genesis")
	}
	m.queueBlockDisconnected(tip)
	m.blocks.SetActiveTip(tip.Prev)
	return nil
}

// InvalidateBlock marks a block and every descendant invalid, rebuilds
// the candidate set from the remaining valid leaves and, if the active
// tip was in the invalidated subtree, reactivates the best valid chain.
func (m *ChainstateManager) InvalidateBlock(hash consensus.Hash) error {
	m.mu.Lock()
	err := m.invalidateBlock(hash)
	events := m.takePending()
	m.mu.Unlock()
	m.dispatch(events)
	return err
}

func (m *ChainstateManager) invalidateBlock(hash consensus.Hash) error {
	index := m.blocks.Lookup(hash)
	if index == nil {
		return fmt.Errorf("invalidate: block %s not found", hash.Short())
	}
	if index.Prev == nil {
		return errors.New("invalidate: refusing to invalidate genesis")
	}
	m.logger.Info("invalidating block", "hash", hash.Short(), "height", index.Height)

	index.Status |= chain.BlockFailedValid
	m.failedBlocks.Add(index)

	// Mark every descendant.
	m.blocks.ForEach(func(entry *chain.BlockIndex) bool {
		if entry != index && entry.Ancestor(index.Height) == index {
			entry.Status |= chain.BlockFailedChild
		}
		return true
	})

	// Rebuild candidates from the leaves of the valid tree.
	m.rebuildCandidates(false)

	tip := m.blocks.Tip()
	if tip != nil && tip.Ancestor(index.Height) == index {
		m.logger.Warn("active tip descends from invalidated block, reactivating")
		mostWork := m.selector.FindMostWorkChain()
		if mostWork == nil {
			return errors.New("invalidate: no valid chain remains")
		}
		if err := m.activateBestChain(mostWork); err != nil {
			return err
		}
	}
	return nil
}

// rebuildCandidates repopulates the candidate set with every tree-valid
// entry that has no valid child (the leaves of the valid tree; an entry
// whose only descendants are failed is itself a viable tip). Returns
// the number of candidates added.
func (m *ChainstateManager) rebuildCandidates(updateBest bool) int {
	m.selector.ClearCandidates()
	hasValidChild := make(map[*chain.BlockIndex]bool, m.blocks.Count())
	m.blocks.ForEach(func(entry *chain.BlockIndex) bool {
		if entry.Prev != nil && entry.Status&chain.BlockFailedMask == 0 {
			hasValidChild[entry.Prev] = true
		}
		return true
	})
	added := 0
	m.blocks.ForEach(func(entry *chain.BlockIndex) bool {
		if !hasValidChild[entry] && entry.IsValid(chain.BlockValidTree) {
			m.selector.AddCandidateUnchecked(entry)
			if updateBest {
				m.selector.UpdateBestHeader(entry)
			}
			added++
		}
		return true
	})
	return added
}

// TryAddBlockIndexCandidate registers an accepted entry as a candidate
// tip; used by batch workflows that defer activation.
func (m *ChainstateManager) TryAddBlockIndexCandidate(index *chain.BlockIndex) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selector.TryAddCandidate(index, m.blocks)
}

// IsInitialBlockDownload reports whether the node is still syncing.
// Once all checks pass the result latches to false permanently; the
// fast path is lock-free.
func (m *ChainstateManager) IsInitialBlockDownload() bool {
	if m.finishedIBD.Load() {
		return false
	}

	m.mu.Lock()
	tip := m.blocks.Tip()
	now := m.now()
	m.mu.Unlock()

	if tip == nil {
		return true
	}
	if int64(tip.Time) < now-3600 {
		return true
	}
	if m.params.MinimumChainWork != nil && tip.ChainWork.Lt(m.params.MinimumChainWork) {
		return true
	}

	m.logger.Info("initial block download complete", "height", tip.Height)
	m.finishedIBD.Store(true)
	return false
}

// CheckHeadersPoW runs the cheap commitment check over a batch.
func (m *ChainstateManager) CheckHeadersPoW(headers []consensus.BlockHeader) bool {
	for i := range headers {
		if !m.powCheck(&headers[i], consensus.PowVerifyCommitmentOnly) {
			m.logger.Debug("header failed batch commitment check",
				"hash", headers[i].Hash().Short())
			return false
		}
	}
	return true
}

// Accessors. Each takes the core lock; returned pointers stay valid
// because index entries are never removed.

func (m *ChainstateManager) GetTip() *chain.BlockIndex {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blocks.Tip()
}

func (m *ChainstateManager) BestHeader() *chain.BlockIndex {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selector.BestHeader()
}

func (m *ChainstateManager) LookupBlockIndex(hash consensus.Hash) *chain.BlockIndex {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blocks.Lookup(hash)
}

// GetLocator builds a locator from the given entry, or from the active
// tip when index is nil.
func (m *ChainstateManager) GetLocator(index *chain.BlockIndex) chain.BlockLocator {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index != nil {
		return chain.LocatorFrom(index)
	}
	return m.blocks.ActiveChain().Locator()
}

func (m *ChainstateManager) IsOnActiveChain(index *chain.BlockIndex) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blocks.ActiveChain().Contains(index)
}

func (m *ChainstateManager) GetBlockAtHeight(height int32) *chain.BlockIndex {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blocks.ActiveChain().AtHeight(height)
}

func (m *ChainstateManager) GetChainHeight() int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blocks.ActiveChain().Height()
}

func (m *ChainstateManager) GetBlockCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blocks.Count()
}

func (m *ChainstateManager) GetCandidateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selector.CandidateCount()
}

// Save writes the whole index and active tip to one file, atomically.
func (m *ChainstateManager) Save(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blocks.Save(path)
}

// Load restores the index from disk and rebuilds the candidate set and
// best header from the valid leaves.
func (m *ChainstateManager) Load(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.blocks.Load(path, m.params.GenesisHash); err != nil {
		return err
	}

	m.selector.SetBestHeader(nil)
	m.failedBlocks.Clear()
	m.blocks.ForEach(func(entry *chain.BlockIndex) bool {
		if entry.Status&chain.BlockFailedValid != 0 {
			m.failedBlocks.Add(entry)
		}
		return true
	})
	candidates := m.rebuildCandidates(true)

	tip := m.blocks.Tip()
	m.logger.Info("loaded chain state",
		"blocks", m.blocks.Count(), "candidates", candidates,
		"height", m.blocks.ActiveChain().Height())
	if tip != nil {
		m.logger.Info("active chain tip", "hash", tip.Hash().Short(), "height", tip.Height)
	}
	return nil
}

// Orphan pool.

func (m *ChainstateManager) tryAddOrphan(header *consensus.BlockHeader, peer int64) bool {
	hash := header.Hash()
	if _, ok := m.orphans[hash]; ok {
		return true
	}
	if m.peerOrphanCount[peer] >= MaxOrphanHeadersPerPeer {
		m.logger.Warn("peer exceeded orphan limit", "peer", peer,
			"count", m.peerOrphanCount[peer])
		return false
	}
	if len(m.orphans) >= MaxOrphanHeaders {
		if m.evictOrphans(m.now()) == 0 {
			m.logger.Error("orphan pool stuck at capacity")
			return false
		}
	}
	m.orphans[hash] = orphanHeader{
		header:       *header,
		timeReceived: m.now(),
		peer:         peer,
	}
	m.peerOrphanCount[peer]++
	return true
}

func (m *ChainstateManager) removeOrphan(hash consensus.Hash) {
	orphan, ok := m.orphans[hash]
	if !ok {
		return
	}
	delete(m.orphans, hash)
	if count := m.peerOrphanCount[orphan.peer]; count <= 1 {
		delete(m.peerOrphanCount, orphan.peer)
	} else {
		m.peerOrphanCount[orphan.peer] = count - 1
	}
}

// processOrphans resolves the orphans waiting on parentHash. The hashes
// are snapshotted first and each header is copied out of the pool
// before erasure; acceptance then recurses naturally one level at a
// time.
func (m *ChainstateManager) processOrphans(parentHash consensus.Hash) {
	var ready []consensus.Hash
	for hash, orphan := range m.orphans {
		if orphan.header.PrevBlock == parentHash {
			ready = append(ready, hash)
		}
	}
	if len(ready) == 0 {
		return
	}
	m.logger.Info("resolving orphan headers", "count", len(ready),
		"parent", parentHash.Short())

	for _, hash := range ready {
		orphan, ok := m.orphans[hash]
		if !ok {
			continue
		}
		header := orphan.header
		peer := orphan.peer
		m.removeOrphan(hash)

		var state ValidationState
		index := m.acceptBlockHeader(&header, &state, peer)
		if index == nil {
			m.logger.Debug("orphan failed acceptance", "hash", hash.Short(),
				"reason", string(state.Reason()))
			continue
		}
		m.selector.TryAddCandidate(index, m.blocks)
	}
}

// EvictOrphans removes expired orphans; if nothing expired and the pool
// is at capacity, the single oldest entry goes. Returns the number
// removed.
func (m *ChainstateManager) EvictOrphans() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evictOrphans(m.now())
}

func (m *ChainstateManager) evictOrphans(now int64) int {
	if len(m.orphans) == 0 {
		return 0
	}
	evicted := 0
	for hash, orphan := range m.orphans {
		if now-orphan.timeReceived > OrphanHeaderExpireSeconds {
			m.removeOrphan(hash)
			evicted++
		}
	}
	if evicted == 0 && len(m.orphans) >= MaxOrphanHeaders {
		var oldestHash consensus.Hash
		oldest := int64(0)
		first := true
		for hash, orphan := range m.orphans {
			if first || orphan.timeReceived < oldest {
				oldest = orphan.timeReceived
				oldestHash = hash
				first = false
			}
		}
		m.removeOrphan(oldestHash)
		evicted++
	}
	if evicted > 0 {
		m.logger.Info("evicted orphan headers", "count", evicted,
			"pool_size", len(m.orphans))
	}
	return evicted
}

func (m *ChainstateManager) GetOrphanCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orphans)
}
