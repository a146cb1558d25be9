package node

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"cinder.dev/node/chain"
	"cinder.dev/node/consensus"
	"cinder.dev/node/crypto"
	"cinder.dev/node/miner"
	"cinder.dev/node/node/store"
	nodesync "cinder.dev/node/sync"
	"cinder.dev/node/util"
	"cinder.dev/node/validation"
)

// Node owns the consensus core and its collaborators for one chain
// directory. New locks the datadir, opens the archive, builds the
// chainstate, then wires sync and (optionally) the miner; Start loads
// or initializes the index.
type Node struct {
	cfg    Config
	params *consensus.Params
	logger *slog.Logger

	dirLock    *flock.Flock
	db         *store.DB
	pool       *crypto.VMPool
	timeData   *util.TimeData
	chainstate *validation.ChainstateManager
	peers      *nodesync.PeerManager
	banman     *nodesync.BanMan
	headerSync *nodesync.HeaderSync
	miner      *miner.CPUMiner

	snapshotPath string
}

// tipLogger mirrors chain events into the log and keeps the miner's
// template fresh.
type tipLogger struct {
	logger *slog.Logger
	miner  *miner.CPUMiner
}

func (t *tipLogger) BlockConnected(header consensus.BlockHeader, index *chain.BlockIndex) {
	t.logger.Debug("block connected", "hash", index.Hash().Short(), "height", index.Height)
}

func (t *tipLogger) BlockDisconnected(header consensus.BlockHeader, index *chain.BlockIndex) {
	t.logger.Debug("block disconnected", "hash", index.Hash().Short(), "height", index.Height)
}

func (t *tipLogger) ChainTip(index *chain.BlockIndex, height int32) {
	t.logger.Info("chain tip", "hash", index.Hash().Short(), "height", height)
	if t.miner != nil {
		t.miner.InvalidateTemplate()
	}
}

func (t *tipLogger) SuspiciousReorg(depth, maxAllowed int32) {
	t.logger.Error("suspicious reorg refused; shutting down is advised",
		"depth", depth, "max_allowed", maxAllowed)
}

func New(cfg Config, logger *slog.Logger) (*Node, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	params := consensus.ParamsForChain(cfg.Chain)
	if params == nil {
		return nil, fmt.Errorf("unknown chain %q", cfg.Chain)
	}

	if err := util.EnsureDir(cfg.DataDir); err != nil {
		return nil, err
	}

	// One process per data directory.
	dirLock := flock.New(filepath.Join(cfg.DataDir, "LOCK"))
	locked, err := dirLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("datadir lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("data directory %s is in use by another instance", cfg.DataDir)
	}

	db, err := store.Open(cfg.DataDir, params.Type.String())
	if err != nil {
		_ = dirLock.Unlock()
		return nil, err
	}

	pool, err := crypto.NewVMPool(crypto.DefaultVMCacheSize)
	if err != nil {
		_ = db.Close()
		_ = dirLock.Unlock()
		return nil, err
	}

	timeData := util.NewTimeData(logger)

	chainstate := validation.NewChainstateManager(params, validation.Options{
		SuspiciousReorgDepth: cfg.SuspiciousReorgDepth,
		VMPool:               pool,
		AdjustedTime:         timeData.AdjustedTime,
		Logger:               logger,
	})

	n := &Node{
		cfg:          cfg,
		params:       params,
		logger:       logger,
		dirLock:      dirLock,
		db:           db,
		pool:         pool,
		timeData:     timeData,
		chainstate:   chainstate,
		peers:        nodesync.NewPeerManager(logger),
		banman:       nodesync.NewBanMan(),
		snapshotPath: store.HeadersSnapshotPath(db.ChainDir()),
	}

	n.headerSync = nodesync.NewHeaderSync(chainstate, params, n.peers, logger)
	n.headerSync.SetBanMan(n.banman)
	n.headerSync.SetArchive(db)

	if cfg.Mine {
		var addr consensus.MinerAddress
		if cfg.MinerAddress != "" {
			raw, err := hex.DecodeString(cfg.MinerAddress)
			if err != nil || len(raw) != 20 {
				n.Close()
				return nil, fmt.Errorf("invalid miner_address")
			}
			copy(addr[:], raw)
		}
		n.miner = miner.New(params, chainstate, pool, addr, logger)
	}

	chainstate.RegisterNotifications(&tipLogger{logger: logger, miner: n.miner})
	return n, nil
}

// Start loads the saved index (or installs genesis on first run) and
// begins mining when configured.
func (n *Node) Start() error {
	if _, err := os.Stat(n.snapshotPath); err == nil {
		if err := n.chainstate.Load(n.snapshotPath); err != nil {
			return fmt.Errorf("load headers snapshot: %w", err)
		}
	} else {
		if err := n.chainstate.Initialize(n.params.Genesis); err != nil {
			return fmt.Errorf("initialize genesis: %w", err)
		}
		tip := n.chainstate.GetTip()
		raw := n.params.Genesis.Serialize()
		if err := n.db.PutHeader(tip.Hash(), raw[:], 0, tip.ChainWork); err != nil {
			return fmt.Errorf("archive genesis: %w", err)
		}
		if err := n.db.SetManifest(&store.Manifest{
			SchemaVersion: store.SchemaVersionV1,
			Chain:         n.params.Type.String(),
			GenesisHash:   n.params.GenesisHash.String(),
			TipHash:       tip.Hash().String(),
			TipHeight:     0,
			TipWork:       tip.ChainWork.Hex(),
		}); err != nil {
			return fmt.Errorf("write manifest: %w", err)
		}
	}

	n.logger.Info("node started",
		"chain", n.params.Type.String(),
		"height", n.chainstate.GetChainHeight(),
		"blocks", n.chainstate.GetBlockCount())

	if n.miner != nil {
		n.miner.Start()
	}
	return nil
}

// Save snapshots the index and commits the manifest.
func (n *Node) Save() error {
	if err := n.chainstate.Save(n.snapshotPath); err != nil {
		return err
	}
	tip := n.chainstate.GetTip()
	if tip == nil {
		return nil
	}
	return n.db.SetManifest(&store.Manifest{
		SchemaVersion: store.SchemaVersionV1,
		Chain:         n.params.Type.String(),
		GenesisHash:   n.params.GenesisHash.String(),
		TipHash:       tip.Hash().String(),
		TipHeight:     tip.Height,
		TipWork:       tip.ChainWork.Hex(),
	})
}

// Close stops the miner, snapshots state and releases resources.
func (n *Node) Close() {
	if n.miner != nil {
		n.miner.Stop()
	}
	if n.chainstate != nil && n.chainstate.GetTip() != nil {
		if err := n.Save(); err != nil {
			n.logger.Error("failed to save headers snapshot", "err", err)
		}
	}
	if n.db != nil {
		_ = n.db.Close()
	}
	if n.dirLock != nil {
		_ = n.dirLock.Unlock()
	}
}

func (n *Node) Chainstate() *validation.ChainstateManager { return n.chainstate }
func (n *Node) HeaderSync() *nodesync.HeaderSync          { return n.headerSync }
func (n *Node) Peers() *nodesync.PeerManager              { return n.peers }
func (n *Node) BanMan() *nodesync.BanMan                  { return n.banman }
func (n *Node) TimeData() *util.TimeData                  { return n.timeData }
func (n *Node) Params() *consensus.Params                 { return n.params }
func (n *Node) Miner() *miner.CPUMiner                    { return n.miner }
