// Package miner is a single-threaded CPU miner. It assembles a header
// template from the chain tip, grinds nonces through the PoW engine's
// mining mode, and submits found blocks through the same acceptance
// entry point the network uses.
package miner

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"cinder.dev/node/consensus"
	"cinder.dev/node/crypto"
	"cinder.dev/node/validation"
)

// BlockTemplate is one mining work unit.
type BlockTemplate struct {
	Header consensus.BlockHeader
	Height int32
}

type CPUMiner struct {
	params     *consensus.Params
	chainstate *validation.ChainstateManager
	pool       *crypto.VMPool
	minerAddr  consensus.MinerAddress
	logger     *slog.Logger
	now        func() int64

	mining      atomic.Bool
	invalidated atomic.Bool
	totalHashes atomic.Uint64
	blocksFound atomic.Uint64

	wg        sync.WaitGroup
	startTime time.Time
}

func New(params *consensus.Params, chainstate *validation.ChainstateManager, pool *crypto.VMPool, minerAddr consensus.MinerAddress, logger *slog.Logger) *CPUMiner {
	if logger == nil {
		logger = slog.Default()
	}
	return &CPUMiner{
		params:     params,
		chainstate: chainstate,
		pool:       pool,
		minerAddr:  minerAddr,
		logger:     logger,
		now:        func() int64 { return time.Now().Unix() },
	}
}

// SetTimeSource overrides the template clock.
func (m *CPUMiner) SetTimeSource(now func() int64) { m.now = now }

// Start launches the mining worker. Returns false if already running.
func (m *CPUMiner) Start() bool {
	if !m.mining.CompareAndSwap(false, true) {
		m.logger.Warn("miner already running")
		return false
	}
	m.totalHashes.Store(0)
	m.startTime = time.Now()
	m.logger.Info("miner starting", "chain", m.params.Type.String())

	m.wg.Add(1)
	go m.worker()
	return true
}

// Stop halts mining and waits for the worker.
func (m *CPUMiner) Stop() {
	if !m.mining.CompareAndSwap(true, false) {
		return
	}
	m.wg.Wait()

	elapsed := time.Since(m.startTime).Seconds()
	hashes := m.totalHashes.Load()
	rate := float64(0)
	if elapsed > 0 {
		rate = float64(hashes) / elapsed
	}
	m.logger.Info("miner stopped",
		"total_hashes", hashes, "hashrate", rate,
		"blocks_found", m.blocksFound.Load())
}

// InvalidateTemplate tells the worker the tip changed; wired to the
// chain-tip notification.
func (m *CPUMiner) InvalidateTemplate() { m.invalidated.Store(true) }

func (m *CPUMiner) BlocksFound() uint64 { return m.blocksFound.Load() }

// Hashrate reports hashes per second since Start.
func (m *CPUMiner) Hashrate() float64 {
	if !m.mining.Load() {
		return 0
	}
	elapsed := time.Since(m.startTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.totalHashes.Load()) / elapsed
}

func (m *CPUMiner) worker() {
	defer m.wg.Done()

	tmpl := m.createTemplate()
	nonce := uint32(0)

	for m.mining.Load() {
		if m.shouldRegenerate(&tmpl) {
			m.logger.Info("chain tip changed, regenerating template")
			tmpl = m.createTemplate()
			nonce = 0
		}

		tmpl.Header.Nonce = nonce

		var rxHash consensus.Hash
		found := consensus.CheckProofOfWork(&tmpl.Header, tmpl.Header.Bits,
			m.params, m.pool, consensus.PowVerifyMining, &rxHash)

		if found {
			m.blocksFound.Add(1)
			header := tmpl.Header
			header.RandomXHash = rxHash

			m.logger.Info("block found", "height", tmpl.Height,
				"nonce", nonce, "hash", header.Hash().Short())

			var state validation.ValidationState
			if !m.chainstate.ProcessNewBlockHeader(&header, &state) {
				m.logger.Error("mined block rejected",
					"reason", string(state.Reason()), "debug", state.DebugMessage())
			}

			tmpl = m.createTemplate()
			nonce = 0
			continue
		}

		m.totalHashes.Add(1)
		nonce++
	}
}

func (m *CPUMiner) createTemplate() BlockTemplate {
	tip := m.chainstate.GetTip()

	var tmpl BlockTemplate
	tmpl.Header.Version = 1
	tmpl.Header.MinerAddr = m.minerAddr
	tmpl.Header.Time = uint32(m.now())

	if tip != nil {
		tmpl.Header.PrevBlock = tip.Hash()
		tmpl.Height = tip.Height + 1
		// Keep the timestamp above the median time past; matters on
		// regtest where blocks arrive faster than the clock.
		if mtp := tip.MedianTimePast(); int64(tmpl.Header.Time) <= mtp {
			tmpl.Header.Time = uint32(mtp + 1)
		}
	}
	tmpl.Header.Bits = validation.NextWorkRequired(tip, m.params)
	return tmpl
}

func (m *CPUMiner) shouldRegenerate(tmpl *BlockTemplate) bool {
	if m.invalidated.Swap(false) {
		return true
	}
	tip := m.chainstate.GetTip()
	if tip == nil {
		return !tmpl.Header.PrevBlock.IsZero()
	}
	return tip.Hash() != tmpl.Header.PrevBlock
}
