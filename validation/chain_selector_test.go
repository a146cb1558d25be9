package validation

import (
	"testing"

	"github.com/holiman/uint256"

	"cinder.dev/node/chain"
	"cinder.dev/node/consensus"
)

func TestSelectorOrdersByWorkHeightHash(t *testing.T) {
	h := newHarness(t, 0)
	h.initGenesis()
	genesis := h.params.Genesis

	// Two sibling tips at the same height share the same work under
	// regtest difficulty; the hash breaks the tie deterministically.
	a := h.header(genesis, 1)
	b := h.header(genesis, 2)
	ia, _ := h.accept(a, LocalPeer)
	ib, _ := h.accept(b, LocalPeer)
	if ia == nil || ib == nil {
		t.Fatalf("siblings not accepted")
	}
	h.m.TryAddBlockIndexCandidate(ia)
	h.m.TryAddBlockIndexCandidate(ib)

	// A two-block branch outworks both.
	c1 := h.header(genesis, 3)
	ic1, _ := h.accept(c1, LocalPeer)
	c2 := h.header(c1, 3)
	ic2, _ := h.accept(c2, LocalPeer)
	h.m.TryAddBlockIndexCandidate(ic1)
	h.m.TryAddBlockIndexCandidate(ic2)

	sel := h.m.selector
	best := sel.FindMostWorkChain()
	if best != ic2 {
		t.Fatalf("expected two-block branch to lead, got %v", best)
	}

	// Extending a candidate evicts its parent from the set.
	if sel.candidates.Contains(ic1) {
		t.Fatalf("parent of a candidate must leave the set")
	}

	// Equal work and height: ascending hash decides.
	ha, hb := ia.Hash(), ib.Hash()
	wantFirst := ia
	if hb.ToU256().Cmp(ha.ToU256()) < 0 {
		wantFirst = ib
	}
	sel.candidates.Remove(ic2)
	if got := sel.FindMostWorkChain(); got != wantFirst {
		t.Fatalf("hash tiebreak: expected %s, got %s",
			wantFirst.Hash().Short(), got.Hash().Short())
	}
}

func TestSelectorSkipsFailedCandidates(t *testing.T) {
	h := newHarness(t, 0)
	h.initGenesis()
	a := h.header(h.params.Genesis, 1)
	ia, _ := h.accept(a, LocalPeer)
	h.m.TryAddBlockIndexCandidate(ia)

	ia.Status |= chain.BlockFailedValid
	if got := h.m.selector.FindMostWorkChain(); got == ia {
		t.Fatalf("failed entry returned as most-work chain")
	}
}

func TestSelectorPruneRules(t *testing.T) {
	h := newHarness(t, 0)
	h.initGenesis()
	genesis := h.params.Genesis

	// Active chain of 3, stale sibling of 1.
	mainChain := h.extend(genesis, 3, 0)
	stale := h.header(genesis, 9)
	istale, _ := h.accept(stale, LocalPeer)
	h.m.TryAddBlockIndexCandidate(istale)

	tip := h.m.GetTip()
	if tip.Hash() != mainChain[2].Hash() {
		t.Fatalf("unexpected tip")
	}

	h.m.mu.Lock()
	h.m.selector.AddCandidateUnchecked(tip)
	h.m.selector.Prune(h.m.blocks)
	count := h.m.selector.CandidateCount()
	h.m.mu.Unlock()

	// The stale sibling has less work than the tip and the tip itself
	// is pruned, so nothing remains.
	if count != 0 {
		t.Fatalf("expected empty candidate set after prune, got %d", count)
	}
}

func TestUpdateBestHeaderMonotonic(t *testing.T) {
	h := newHarness(t, 0)
	h.initGenesis()
	genesis := h.params.Genesis

	chain1 := h.extend(genesis, 2, 0)
	best := h.m.BestHeader()
	if best == nil || best.Hash() != chain1[1].Hash() {
		t.Fatalf("best header should be the two-block tip")
	}

	// A shorter sibling must not displace it.
	sib := h.header(genesis, 5)
	h.accept(sib, LocalPeer)
	best = h.m.BestHeader()
	if best.Hash() != chain1[1].Hash() {
		t.Fatalf("best header regressed to lower-work entry")
	}
}

func TestAntiDoSWorkThreshold(t *testing.T) {
	h := newHarness(t, 0)
	h.initGenesis()
	h.extend(h.params.Genesis, 10, 0)
	tip := h.m.GetTip()

	// During IBD there is no floor.
	if !AntiDoSWorkThreshold(tip, h.params, true).IsZero() {
		t.Fatalf("IBD threshold must be zero")
	}

	// Post-IBD: tip work minus the buffer, floored at zero here since
	// the chain is shorter than the buffer, and regtest has no
	// minimum chain work.
	got := AntiDoSWorkThreshold(tip, h.params, false)
	if !got.IsZero() {
		t.Fatalf("short chain should have zero threshold, got %s", got.Hex())
	}

	// With a tall chain the buffer bites: threshold = work - 144*proof.
	proof := consensus.BlockProof(tip.Bits)
	deep := tip.ChainWork.Clone()
	for i := 0; i < 200; i++ {
		deep.Add(deep, proof)
	}
	tall := &chain.BlockIndex{Height: 210, ChainWork: deep, Bits: tip.Bits}
	got = AntiDoSWorkThreshold(tall, h.params, false)

	buffer := new(uint256.Int).Mul(proof, uint256.NewInt(144))
	want := new(uint256.Int).Sub(deep, buffer)
	if !got.Eq(want) {
		t.Fatalf("threshold: got %s, want %s", got.Hex(), want.Hex())
	}
}

func TestCheckHeadersContinuous(t *testing.T) {
	h := newHarness(t, 0)
	genesis := h.params.Genesis
	a := h.header(genesis, 0)
	b := h.header(a, 0)
	c := h.header(b, 0)

	if !CheckHeadersContinuous(nil) {
		t.Fatalf("empty batch is continuous")
	}
	if !CheckHeadersContinuous([]consensus.BlockHeader{a, b, c}) {
		t.Fatalf("chained batch reported non-continuous")
	}
	if CheckHeadersContinuous([]consensus.BlockHeader{a, c, b}) {
		t.Fatalf("shuffled batch reported continuous")
	}
}

func TestNextWorkRequiredRegtestIsPowLimit(t *testing.T) {
	h := newHarness(t, 0)
	h.initGenesis()
	h.extend(h.params.Genesis, 5, 0)
	tip := h.m.GetTip()
	if got := NextWorkRequired(tip, h.params); got != h.params.PowLimitBits() {
		t.Fatalf("regtest must always require the pow limit, got %#x", got)
	}
	if got := NextWorkRequired(nil, h.params); got != h.params.PowLimitBits() {
		t.Fatalf("genesis successor must use the pow limit")
	}
}
