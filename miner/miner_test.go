package miner

import (
	"testing"
	"time"

	"cinder.dev/node/consensus"
	"cinder.dev/node/crypto"
	"cinder.dev/node/validation"
)

func newMiningFixture(t *testing.T) (*consensus.Params, *validation.ChainstateManager, *crypto.VMPool) {
	t.Helper()
	params := consensus.RegTestParams()
	pool, err := crypto.NewVMPool(crypto.DefaultVMCacheSize)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	m := validation.NewChainstateManager(params, validation.Options{VMPool: pool})
	if err := m.Initialize(params.Genesis); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return params, m, pool
}

func TestCreateTemplateFollowsTip(t *testing.T) {
	params, m, pool := newMiningFixture(t)
	var addr consensus.MinerAddress
	addr[0] = 0xca
	miner := New(params, m, pool, addr, nil)

	tmpl := miner.createTemplate()
	if tmpl.Height != 1 {
		t.Fatalf("expected height 1 above genesis, got %d", tmpl.Height)
	}
	if tmpl.Header.PrevBlock != params.GenesisHash {
		t.Fatalf("template must extend genesis")
	}
	if tmpl.Header.Bits != params.PowLimitBits() {
		t.Fatalf("regtest template must use the pow limit")
	}
	if tmpl.Header.MinerAddr != addr {
		t.Fatalf("payout address lost")
	}
	if mtp := m.GetTip().MedianTimePast(); int64(tmpl.Header.Time) <= mtp {
		t.Fatalf("template time %d not above median time past %d", tmpl.Header.Time, mtp)
	}
}

func TestMinerFindsBlocks(t *testing.T) {
	params, m, pool := newMiningFixture(t)
	miner := New(params, m, pool, consensus.MinerAddress{}, nil)

	if !miner.Start() {
		t.Fatalf("start failed")
	}
	if miner.Start() {
		t.Fatalf("second start must fail while running")
	}
	defer miner.Stop()

	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		if m.GetChainHeight() >= 2 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if m.GetChainHeight() < 2 {
		t.Fatalf("miner found no blocks before deadline (height %d)", m.GetChainHeight())
	}
	if miner.BlocksFound() < 2 {
		t.Fatalf("blocks found counter lagging: %d", miner.BlocksFound())
	}

	// Mined blocks pass the full verification path.
	tip := m.GetTip()
	header := tip.Header()
	if !consensus.CheckProofOfWork(&header, header.Bits, params, pool, consensus.PowVerifyFull, nil) {
		t.Fatalf("mined tip fails full verification")
	}
}

func TestInvalidateTemplateForcesRegeneration(t *testing.T) {
	params, m, pool := newMiningFixture(t)
	miner := New(params, m, pool, consensus.MinerAddress{}, nil)
	tmpl := miner.createTemplate()
	if miner.shouldRegenerate(&tmpl) {
		t.Fatalf("fresh template should not regenerate")
	}
	miner.InvalidateTemplate()
	if !miner.shouldRegenerate(&tmpl) {
		t.Fatalf("invalidated template must regenerate")
	}
	// The flag is one-shot.
	if miner.shouldRegenerate(&tmpl) {
		t.Fatalf("invalidate flag should have cleared")
	}
}
