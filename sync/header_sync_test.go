package sync

import (
	"sync"
	"testing"

	"github.com/holiman/uint256"

	"cinder.dev/node/consensus"
	"cinder.dev/node/validation"
)

type syncHarness struct {
	t      *testing.T
	params *consensus.Params
	m      *validation.ChainstateManager
	peers  *PeerManager
	banman *BanMan
	hs     *HeaderSync
	now    int64
	mu     sync.Mutex
	badPoW map[consensus.Hash]bool
}

func newSyncHarness(t *testing.T) *syncHarness {
	t.Helper()
	params := consensus.RegTestParams()
	h := &syncHarness{
		t:      t,
		params: params,
		now:    int64(params.Genesis.Time) + 600,
		badPoW: make(map[consensus.Hash]bool),
	}
	clock := func() int64 {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.now
	}
	h.m = validation.NewChainstateManager(params, validation.Options{
		PowChecker: func(header *consensus.BlockHeader, mode consensus.PowVerifyMode) bool {
			h.mu.Lock()
			defer h.mu.Unlock()
			return !h.badPoW[header.Hash()]
		},
		Now:          clock,
		AdjustedTime: clock,
	})
	if err := h.m.Initialize(params.Genesis); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	h.peers = NewPeerManager(nil)
	h.banman = NewBanMan()
	h.banman.SetTimeSource(clock)
	h.hs = NewHeaderSync(h.m, params, h.peers, nil)
	h.hs.SetBanMan(h.banman)
	h.hs.SetTimeSource(clock)
	return h
}

func (h *syncHarness) setNow(now int64) {
	h.mu.Lock()
	h.now = now
	h.mu.Unlock()
}

func (h *syncHarness) markBadPoW(hash consensus.Hash) {
	h.mu.Lock()
	h.badPoW[hash] = true
	h.mu.Unlock()
}

// headerChain builds n chained headers above parent.
func (h *syncHarness) headerChain(parent consensus.BlockHeader, n int, branch uint32) []consensus.BlockHeader {
	out := make([]consensus.BlockHeader, 0, n)
	for i := 0; i < n; i++ {
		child := consensus.BlockHeader{
			Version:   1,
			PrevBlock: parent.Hash(),
			Time:      parent.Time + 120,
			Bits:      h.params.PowLimitBits(),
			Nonce:     parent.Nonce + 1 + branch<<16,
		}
		child.RandomXHash[0] = byte(branch) + 1
		out = append(out, child)
		parent = child
	}
	return out
}

// grow extends the active chain through the full batch path.
func (h *syncHarness) grow(n int) []consensus.BlockHeader {
	h.t.Helper()
	tip := h.m.GetTip().Header()
	headers := h.headerChain(tip, n, 0)
	h.setNow(int64(headers[len(headers)-1].Time))
	if !h.hs.ProcessHeaders(headers, 1) {
		h.t.Fatalf("grow: batch rejected")
	}
	return headers
}

func TestProcessHeadersEmptyBatch(t *testing.T) {
	h := newSyncHarness(t)
	if !h.hs.ProcessHeaders(nil, 1) {
		t.Fatalf("empty batch must succeed")
	}
	if h.peers.MisbehaviorScore(1) != 0 {
		t.Fatalf("empty batch must not penalize")
	}
}

func TestProcessHeadersHappyPath(t *testing.T) {
	h := newSyncHarness(t)
	h.grow(5)
	tip := h.m.GetTip()
	if tip.Height != 5 {
		t.Fatalf("expected height 5, got %d", tip.Height)
	}
	if h.peers.MisbehaviorScore(1) != 0 {
		t.Fatalf("clean batch must not penalize")
	}
	if h.hs.State() != StateSynced {
		t.Fatalf("recent tip should report synced, got %s", h.hs.State())
	}
}

func TestProcessHeadersOversized(t *testing.T) {
	h := newSyncHarness(t)
	batch := h.headerChain(h.params.Genesis, validation.MaxHeadersResults+1, 0)
	if h.hs.ProcessHeaders(batch, 2) {
		t.Fatalf("oversized batch must be rejected")
	}
	if got := h.peers.MisbehaviorScore(2); got != PenaltyOversizedMessage {
		t.Fatalf("expected %d points, got %d", PenaltyOversizedMessage, got)
	}
	if h.m.GetBlockCount() != 1 {
		t.Fatalf("no headers may enter the index")
	}
}

func TestProcessHeadersUnconnecting(t *testing.T) {
	h := newSyncHarness(t)
	var phantom consensus.BlockHeader
	phantom.Nonce = 0x5555
	batch := h.headerChain(phantom, 3, 0)

	// Ten non-connecting messages are tolerated without penalty.
	for i := 0; i < MaxUnconnectingHeaders; i++ {
		if h.hs.ProcessHeaders(batch, 3) {
			t.Fatalf("unconnecting batch must be rejected")
		}
	}
	if h.peers.MisbehaviorScore(3) != 0 {
		t.Fatalf("penalty applied too early")
	}

	// The 11th in a row draws the penalty.
	if h.hs.ProcessHeaders(batch, 3) {
		t.Fatalf("unconnecting batch must be rejected")
	}
	if got := h.peers.MisbehaviorScore(3); got != PenaltyTooManyUnconnecting {
		t.Fatalf("expected %d points, got %d", PenaltyTooManyUnconnecting, got)
	}
}

func TestProcessHeadersNonContinuous(t *testing.T) {
	h := newSyncHarness(t)
	batch := h.headerChain(h.params.Genesis, 3, 0)
	batch[1], batch[2] = batch[2], batch[1]
	if h.hs.ProcessHeaders(batch, 4) {
		t.Fatalf("shuffled batch must be rejected")
	}
	if got := h.peers.MisbehaviorScore(4); got != PenaltyNonContinuousHeaders {
		t.Fatalf("expected %d points, got %d", PenaltyNonContinuousHeaders, got)
	}
	if h.m.GetBlockCount() != 1 {
		t.Fatalf("no headers may enter the index")
	}
}

func TestProcessHeadersBadPoW(t *testing.T) {
	h := newSyncHarness(t)
	batch := h.headerChain(h.params.Genesis, 3, 0)
	h.markBadPoW(batch[1].Hash())
	if h.hs.ProcessHeaders(batch, 5) {
		t.Fatalf("batch with bad PoW must be rejected")
	}
	if got := h.peers.MisbehaviorScore(5); got != PenaltyInvalidPow {
		t.Fatalf("expected %d points, got %d", PenaltyInvalidPow, got)
	}
	if !h.peers.ShouldDisconnect(5) {
		t.Fatalf("invalid PoW is an instant disconnect")
	}
	if h.m.GetBlockCount() != 1 {
		t.Fatalf("no headers may enter the index")
	}
}

func TestProcessHeadersInvalidHeaderAborts(t *testing.T) {
	h := newSyncHarness(t)
	batch := h.headerChain(h.params.Genesis, 3, 0)
	batch[2].Version = 0
	// Rebuild linkage after mutating the middle of the chain.
	batch[2].PrevBlock = batch[1].Hash()
	if h.hs.ProcessHeaders(batch, 6) {
		t.Fatalf("batch with invalid header must fail")
	}
	if got := h.peers.MisbehaviorScore(6); got != PenaltyInvalidHeader {
		t.Fatalf("expected %d points, got %d", PenaltyInvalidHeader, got)
	}
	// The valid prefix stays accepted; the invalid header is cached in
	// the index as failed so resubmission rejects in O(1).
	if h.m.GetBlockCount() != 4 {
		t.Fatalf("expected 3 indexed headers plus genesis, got %d", h.m.GetBlockCount())
	}
}

// Low-work ignore: a stale low-work batch is rejected with a small
// penalty; the peer survives until repetition crosses the threshold.
func TestScenarioLowWorkHeaders(t *testing.T) {
	h := newSyncHarness(t)
	h.grow(160) // tall active chain, post-IBD

	if h.m.IsInitialBlockDownload() {
		t.Fatalf("harness should be out of IBD")
	}
	countBefore := h.m.GetBlockCount()

	lowWork := h.headerChain(h.params.Genesis, 5, 9)
	for i := 1; i <= 10; i++ {
		if h.hs.ProcessHeaders(lowWork, 7) {
			t.Fatalf("low-work batch %d must be rejected", i)
		}
		if got := h.peers.MisbehaviorScore(7); got != i*PenaltyLowWorkHeaders {
			t.Fatalf("after batch %d: expected %d points, got %d",
				i, i*PenaltyLowWorkHeaders, got)
		}
		if i < 10 && h.peers.ShouldDisconnect(7) {
			t.Fatalf("peer disconnected after only %d offenses", i)
		}
	}
	if !h.peers.ShouldDisconnect(7) {
		t.Fatalf("tenth offense must cross the threshold")
	}
	if h.m.GetBlockCount() != countBefore {
		t.Fatalf("low-work headers were stored")
	}
}

func TestLowWorkNotEnforcedDuringIBD(t *testing.T) {
	h := newSyncHarness(t)
	// Old tip: still in IBD, so the work floor is off and a short
	// batch is stored.
	h.setNow(int64(h.params.Genesis.Time) + 10*3600)
	if !h.m.IsInitialBlockDownload() {
		t.Fatalf("harness should be in IBD")
	}
	batch := h.headerChain(h.params.Genesis, 2, 0)
	if !h.hs.ProcessHeaders(batch, 8) {
		t.Fatalf("batch must be accepted during IBD")
	}
	if h.peers.MisbehaviorScore(8) != 0 {
		t.Fatalf("no penalty during IBD")
	}
}

type recordingArchive struct {
	mu      sync.Mutex
	headers []consensus.Hash
}

func (r *recordingArchive) PutHeader(hash consensus.Hash, raw []byte, height int32, work *uint256.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.headers = append(r.headers, hash)
	return nil
}

func TestArchiveReceivesAcceptedHeaders(t *testing.T) {
	h := newSyncHarness(t)
	archive := &recordingArchive{}
	h.hs.SetArchive(archive)
	batch := h.grow(3)

	archive.mu.Lock()
	defer archive.mu.Unlock()
	if len(archive.headers) != 3 {
		t.Fatalf("expected 3 archived headers, got %d", len(archive.headers))
	}
	for i, header := range batch {
		if archive.headers[i] != header.Hash() {
			t.Fatalf("archive order mismatch at %d", i)
		}
	}
}

func TestDiscouragedAddressAfterThreshold(t *testing.T) {
	h := newSyncHarness(t)
	h.peers.AddPeer(9, "203.0.113.7:9333", PermissionNone)
	batch := h.headerChain(h.params.Genesis, 2, 0)
	h.markBadPoW(batch[0].Hash())
	if h.hs.ProcessHeaders(batch, 9) {
		t.Fatalf("bad batch must be rejected")
	}
	if !h.banman.IsDiscouraged("203.0.113.7:9333") {
		t.Fatalf("address should be discouraged once the peer crosses the threshold")
	}
}

func TestShouldRequestMore(t *testing.T) {
	h := newSyncHarness(t)
	if h.hs.ShouldRequestMore() {
		t.Fatalf("nothing received yet")
	}
	h.grow(4)
	// Short batch and a fresh tip: no more requests needed.
	if h.hs.ShouldRequestMore() {
		t.Fatalf("short batch with fresh tip should not request more")
	}
}

func TestLocatorFromPrev(t *testing.T) {
	h := newSyncHarness(t)
	// At genesis the locator starts at the tip itself.
	loc := h.hs.LocatorFromPrev()
	if len(loc.Hashes) != 1 || loc.Hashes[0] != h.params.GenesisHash {
		t.Fatalf("genesis locator wrong")
	}

	h.grow(3)
	loc = h.hs.LocatorFromPrev()
	tip := h.m.GetTip()
	if loc.Hashes[0] != tip.Prev.Hash() {
		t.Fatalf("locator must start one behind the tip")
	}
}
