package sync

import (
	"log/slog"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"cinder.dev/node/chain"
	"cinder.dev/node/consensus"
	"cinder.dev/node/validation"
)

// State describes the sync engine's coarse progress.
type State int

const (
	StateIdle State = iota
	StateSyncing
	StateSynced
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSyncing:
		return "syncing"
	case StateSynced:
		return "synced"
	}
	return "unknown"
}

// syncedMaxAge is the tip age under which the node counts as synced.
const syncedMaxAge = 3600

// HeaderArchive persists accepted headers durably; the node wires the
// bbolt-backed store here. Nil disables archiving.
type HeaderArchive interface {
	PutHeader(hash consensus.Hash, raw []byte, height int32, work *uint256.Int) error
}

// HeaderSync is the batched entry point for headers arriving from
// peers. It pre-filters cheaply (size, connectivity, continuity,
// commitment PoW, anti-DoS work floor), feeds survivors through the
// acceptance pipeline, maps failures onto misbehavior penalties, and
// activates the best chain once per batch so reorg depth is measured
// against the pre-batch tip.
type HeaderSync struct {
	chainstate *validation.ChainstateManager
	params     *consensus.Params
	peers      *PeerManager
	banman     *BanMan
	archive    HeaderArchive
	logger     *slog.Logger
	now        func() int64

	mu            sync.Mutex
	state         State
	lastBatchSize int
	stateCallback func(State, int32)
}

func NewHeaderSync(chainstate *validation.ChainstateManager, params *consensus.Params, peers *PeerManager, logger *slog.Logger) *HeaderSync {
	if logger == nil {
		logger = slog.Default()
	}
	return &HeaderSync{
		chainstate: chainstate,
		params:     params,
		peers:      peers,
		logger:     logger,
		now:        func() int64 { return time.Now().Unix() },
	}
}

// SetBanMan wires address discouragement for peers crossing the
// threshold.
func (hs *HeaderSync) SetBanMan(b *BanMan) { hs.banman = b }

// SetArchive wires durable header storage.
func (hs *HeaderSync) SetArchive(a HeaderArchive) { hs.archive = a }

// SetTimeSource overrides the clock.
func (hs *HeaderSync) SetTimeSource(now func() int64) { hs.now = now }

// SetStateCallback registers a callback fired on state transitions.
func (hs *HeaderSync) SetStateCallback(fn func(State, int32)) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.stateCallback = fn
}

// penalize records misbehavior and, when the peer crosses the
// threshold, discourages its address.
func (hs *HeaderSync) penalize(peer int64, amount int, reason string) {
	if !hs.peers.Misbehaving(peer, amount, reason) {
		return
	}
	if hs.banman != nil {
		if addr := hs.peers.PeerAddress(peer); addr != "" && addr != "unknown" {
			hs.banman.Discourage(addr)
		}
	}
}

// ProcessHeaders handles one headers message from peer. Returns false
// when the batch was rejected; per-peer penalties are applied as a side
// effect.
func (hs *HeaderSync) ProcessHeaders(headers []consensus.BlockHeader, peer int64) bool {
	if len(headers) == 0 {
		hs.setLastBatchSize(0)
		hs.updateState()
		return true
	}

	if len(headers) > validation.MaxHeadersResults {
		hs.logger.Error("oversized headers message", "peer", peer,
			"size", len(headers), "max", validation.MaxHeadersResults)
		hs.penalize(peer, PenaltyOversizedMessage, "oversized headers message")
		return false
	}

	hs.logger.Info("processing headers", "count", len(headers), "peer", peer)

	// The first header must connect to the known chain; otherwise the
	// whole batch is a non-connecting event.
	if hs.chainstate.LookupBlockIndex(headers[0].PrevBlock) == nil {
		hs.logger.Warn("headers do not connect to known chain", "peer", peer,
			"first_prev", headers[0].PrevBlock.Short())
		if hs.peers.IncrementUnconnectingHeaders(peer) {
			hs.penalize(peer, PenaltyTooManyUnconnecting, "too many unconnecting headers messages")
		}
		return false
	}
	hs.peers.ResetUnconnectingHeaders(peer)

	// Cheap commitment PoW over the whole batch before anything enters
	// the index.
	if !hs.chainstate.CheckHeadersPoW(headers) {
		hs.logger.Error("headers failed commitment check", "peer", peer)
		hs.penalize(peer, PenaltyInvalidPow, "header with invalid proof of work")
		return false
	}

	if !validation.CheckHeadersContinuous(headers) {
		hs.logger.Error("non-continuous headers", "peer", peer)
		hs.penalize(peer, PenaltyNonContinuousHeaders, "non-continuous headers sequence")
		return false
	}

	// Anti-DoS work floor, enforced only after IBD. Low-work batches
	// are ignored, not stored.
	if !hs.chainstate.IsInitialBlockDownload() {
		tip := hs.chainstate.GetTip()
		threshold := validation.AntiDoSWorkThreshold(tip, hs.params, false)
		work := consensus.HeadersWork(headers)
		if work.Lt(threshold) {
			hs.logger.Warn("ignoring low-work headers", "peer", peer,
				"work", work.Hex(), "threshold", threshold.Hex())
			hs.penalize(peer, PenaltyLowWorkHeaders, "low-work header spam")
			return false
		}
	}

	hs.setLastBatchSize(len(headers))

	// Accept every header without activating; activation happens once
	// afterwards so the reorg check sees the full depth from the
	// pre-batch tip.
	for i := range headers {
		header := headers[i]
		var state validation.ValidationState
		index := hs.chainstate.AcceptBlockHeader(&header, &state, peer)
		if index == nil {
			if !hs.handleReject(&header, &state, peer) {
				return false
			}
			continue
		}
		hs.chainstate.TryAddBlockIndexCandidate(index)
		if hs.archive != nil {
			raw := header.Serialize()
			if err := hs.archive.PutHeader(index.Hash(), raw[:], index.Height, index.ChainWork); err != nil {
				hs.logger.Error("header archive write failed",
					"hash", index.Hash().Short(), "err", err)
			}
		}
	}

	if err := hs.chainstate.ActivateBestChain(nil); err != nil {
		hs.logger.Error("activation failed after batch", "err", err)
		return false
	}

	if hs.chainstate.IsInitialBlockDownload() {
		hs.logger.Info("synchronizing block headers",
			"height", hs.BestHeight(), "progress", hs.Progress())
	} else if tip := hs.chainstate.GetTip(); tip != nil {
		hs.logger.Info("new block header",
			"height", tip.Height, "hash", tip.Hash().Short())
	}

	hs.updateState()
	return true
}

// handleReject maps one acceptance failure onto the penalty table.
// Returns true when the batch may continue (orphaned headers only).
func (hs *HeaderSync) handleReject(header *consensus.BlockHeader, state *validation.ValidationState, peer int64) bool {
	reason := state.Reason()
	switch reason {
	case validation.RejectOrphaned:
		// Not a failure: the parent may arrive later.
		hs.logger.Info("header cached as orphan", "peer", peer,
			"hash", header.Hash().Short())
		return true

	case validation.RejectOrphanLimit:
		hs.logger.Warn("peer exceeded orphan limit", "peer", peer)
		hs.penalize(peer, PenaltyTooManyOrphans, "exceeded orphan header limit")
		return false

	case validation.RejectHighHash, validation.RejectBadDiffBits,
		validation.RejectTimeTooOld, validation.RejectTimeTooNew,
		validation.RejectBadVersion, validation.RejectNetworkExpired:
		hs.logger.Error("invalid header from peer", "peer", peer, "reason", string(reason))
		hs.penalize(peer, PenaltyInvalidHeader, "invalid header: "+string(reason))
		return false

	case validation.RejectDuplicate:
		// Re-sending a header we already rejected is an attack retry.
		hs.logger.Warn("cached-invalid duplicate from peer", "peer", peer)
		hs.penalize(peer, PenaltyInvalidHeader, "duplicate header marked as invalid")
		return false

	case validation.RejectBadPrevBlk:
		hs.logger.Error("header references invalid parent", "peer", peer)
		hs.penalize(peer, PenaltyInvalidHeader, "header references invalid parent")
		return false

	case validation.RejectBadGenesis, validation.RejectGenesisViaAccept:
		hs.logger.Error("invalid genesis from peer", "peer", peer, "reason", string(reason))
		hs.penalize(peer, PenaltyInvalidHeader, "invalid genesis block")
		return false
	}

	// Unknown reason: fail the batch but do not punish, in case the
	// defect is ours.
	hs.logger.Error("header rejected for unclassified reason", "peer", peer,
		"hash", header.Hash().Short(), "reason", string(reason),
		"debug", state.DebugMessage())
	return false
}

// Locator returns the locator from the active tip.
func (hs *HeaderSync) Locator() chain.BlockLocator {
	return hs.chainstate.GetLocator(nil)
}

// LocatorFromPrev starts the locator one block behind the tip, so the
// peer's response always includes at least our current tip.
func (hs *HeaderSync) LocatorFromPrev() chain.BlockLocator {
	tip := hs.chainstate.GetTip()
	if tip == nil || tip.Prev == nil {
		return hs.chainstate.GetLocator(nil)
	}
	return hs.chainstate.GetLocator(tip.Prev)
}

// IsSynced reports whether the tip is recent.
func (hs *HeaderSync) IsSynced() bool {
	tip := hs.chainstate.GetTip()
	if tip == nil {
		return false
	}
	return hs.now()-int64(tip.Time) < syncedMaxAge
}

// Progress estimates sync completion from timestamps; display only.
func (hs *HeaderSync) Progress() float64 {
	tip := hs.chainstate.GetTip()
	if tip == nil {
		return 0
	}
	now := hs.now()
	genesisTime := int64(hs.params.Genesis.Time)
	total := now - genesisTime
	if total <= 0 || now <= int64(tip.Time) {
		return 1
	}
	progress := float64(int64(tip.Time)-genesisTime) / float64(total)
	if progress < 0 {
		return 0
	}
	if progress > 1 {
		return 1
	}
	return progress
}

func (hs *HeaderSync) BestHeight() int32 {
	tip := hs.chainstate.GetTip()
	if tip == nil {
		return -1
	}
	return tip.Height
}

// ShouldRequestMore reports whether the last batch was full and the
// node is still behind.
func (hs *HeaderSync) ShouldRequestMore() bool {
	hs.mu.Lock()
	last := hs.lastBatchSize
	hs.mu.Unlock()
	return last == validation.MaxHeadersResults && !hs.IsSynced()
}

func (hs *HeaderSync) State() State {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return hs.state
}

func (hs *HeaderSync) setLastBatchSize(n int) {
	hs.mu.Lock()
	hs.lastBatchSize = n
	hs.mu.Unlock()
}

func (hs *HeaderSync) updateState() {
	synced := hs.IsSynced()
	height := hs.BestHeight()

	hs.mu.Lock()
	old := hs.state
	switch {
	case synced:
		hs.state = StateSynced
	case hs.lastBatchSize > 0:
		hs.state = StateSyncing
	default:
		hs.state = StateIdle
	}
	changed := hs.state != old
	callback := hs.stateCallback
	newState := hs.state
	hs.mu.Unlock()

	if changed && callback != nil {
		callback(newState, height)
	}
}
