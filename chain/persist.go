package chain

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/holiman/uint256"

	"cinder.dev/node/consensus"
	"cinder.dev/node/util"
)

const indexDiskVersion = 1

type indexDiskEntry struct {
	Hash         string `json:"hash"`
	Prev         string `json:"prev"`
	Height       int32  `json:"height"`
	Status       uint32 `json:"status"`
	Work         string `json:"work"`
	Version      int32  `json:"version"`
	Miner        string `json:"miner"`
	Time         uint32 `json:"time"`
	Bits         uint32 `json:"bits"`
	Nonce        uint32 `json:"nonce"`
	RandomX      string `json:"randomx"`
	TimeReceived int64  `json:"time_received"`
}

type indexDisk struct {
	Version uint32           `json:"version"`
	Genesis string           `json:"genesis"`
	Tip     string           `json:"tip"`
	Entries []indexDiskEntry `json:"entries"`
}

// Save serializes the whole index plus the active tip to one file. The
// write is crash-safe (temp file, fsync, atomic rename, directory
// sync).
func (bm *BlockManager) Save(path string) error {
	if !bm.initialized {
		return fmt.Errorf("block manager: save before initialize")
	}
	disk := indexDisk{
		Version: indexDiskVersion,
		Genesis: bm.genesisHash.String(),
		Entries: make([]indexDiskEntry, 0, len(bm.index)),
	}
	if tip := bm.Tip(); tip != nil {
		disk.Tip = tip.Hash().String()
	}
	for hash, entry := range bm.index {
		var prev string
		if entry.Prev != nil {
			prev = entry.Prev.Hash().String()
		}
		disk.Entries = append(disk.Entries, indexDiskEntry{
			Hash:         hash.String(),
			Prev:         prev,
			Height:       entry.Height,
			Status:       uint32(entry.Status),
			Work:         entry.ChainWork.Hex(),
			Version:      entry.Version,
			Miner:        hex.EncodeToString(entry.MinerAddr[:]),
			Time:         entry.Time,
			Bits:         entry.Bits,
			Nonce:        entry.Nonce,
			RandomX:      entry.RandomXHash.String(),
			TimeReceived: entry.TimeReceived,
		})
	}
	sort.Slice(disk.Entries, func(i, j int) bool {
		if disk.Entries[i].Height != disk.Entries[j].Height {
			return disk.Entries[i].Height < disk.Entries[j].Height
		}
		return disk.Entries[i].Hash < disk.Entries[j].Hash
	})

	raw, err := json.MarshalIndent(disk, "", "  ")
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	raw = append(raw, '\n')
	return util.AtomicWriteFile(path, raw, 0o600)
}

// Load rebuilds the index from a file written by Save, rewiring parent
// and skip pointers by hash and restoring the active chain. Fails when
// the stored genesis does not match the expected hash.
func (bm *BlockManager) Load(path string, expectedGenesis consensus.Hash) error {
	if bm.initialized {
		return fmt.Errorf("block manager: load after initialize")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var disk indexDisk
	if err := json.Unmarshal(raw, &disk); err != nil {
		return fmt.Errorf("decode index: %w", err)
	}
	if disk.Version != indexDiskVersion {
		return fmt.Errorf("unsupported index version: %d", disk.Version)
	}
	genesisHash, err := consensus.HashFromHex(disk.Genesis)
	if err != nil {
		return fmt.Errorf("index genesis: %w", err)
	}
	if genesisHash != expectedGenesis {
		return fmt.Errorf("index genesis %s does not match expected %s",
			genesisHash.Short(), expectedGenesis.Short())
	}

	// Entries sorted by height guarantee parents are wired before
	// their children.
	entries := append([]indexDiskEntry(nil), disk.Entries...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Height < entries[j].Height })

	index := make(map[consensus.Hash]*BlockIndex, len(entries))
	sawGenesis := false
	for _, de := range entries {
		entry, hash, err := entryFromDisk(de, index)
		if err != nil {
			return err
		}
		if _, dup := index[hash]; dup {
			return fmt.Errorf("index: duplicate entry %s", hash.Short())
		}
		index[hash] = entry
		if entry.Height == 0 {
			if hash != expectedGenesis {
				return fmt.Errorf("index: foreign genesis %s", hash.Short())
			}
			sawGenesis = true
		}
	}
	if !sawGenesis {
		return fmt.Errorf("index: expected genesis %s absent", expectedGenesis.Short())
	}

	bm.index = index
	bm.genesisHash = genesisHash
	bm.initialized = true

	bm.active.Clear()
	if disk.Tip != "" {
		tipHash, err := consensus.HashFromHex(disk.Tip)
		if err != nil {
			return fmt.Errorf("index tip: %w", err)
		}
		tip := index[tipHash]
		if tip == nil {
			return fmt.Errorf("index: tip %s not present", tipHash.Short())
		}
		bm.active.SetTip(tip)
	}
	return nil
}

func entryFromDisk(de indexDiskEntry, index map[consensus.Hash]*BlockIndex) (*BlockIndex, consensus.Hash, error) {
	var zero consensus.Hash
	hash, err := consensus.HashFromHex(de.Hash)
	if err != nil {
		return nil, zero, fmt.Errorf("index entry hash: %w", err)
	}
	randomx, err := consensus.HashFromHex(de.RandomX)
	if err != nil {
		return nil, zero, fmt.Errorf("index entry randomx: %w", err)
	}
	minerRaw, err := hex.DecodeString(de.Miner)
	if err != nil || len(minerRaw) != 20 {
		return nil, zero, fmt.Errorf("index entry miner: bad encoding")
	}
	work, err := uint256.FromHex(de.Work)
	if err != nil {
		return nil, zero, fmt.Errorf("index entry work: %w", err)
	}

	header := consensus.BlockHeader{
		Version:     de.Version,
		Time:        de.Time,
		Bits:        de.Bits,
		Nonce:       de.Nonce,
		RandomXHash: randomx,
	}
	copy(header.MinerAddr[:], minerRaw)

	entry := newBlockIndex(hash, &header)
	entry.Status = BlockStatus(de.Status)
	entry.Height = de.Height
	entry.ChainWork = work
	entry.TimeReceived = de.TimeReceived
	entry.TimeMax = int64(de.Time)

	if de.Height > 0 {
		prevHash, err := consensus.HashFromHex(de.Prev)
		if err != nil {
			return nil, zero, fmt.Errorf("index entry prev: %w", err)
		}
		prev := index[prevHash]
		if prev == nil {
			return nil, zero, fmt.Errorf("index: entry %s missing parent %s",
				hash.Short(), prevHash.Short())
		}
		if prev.Height+1 != de.Height {
			return nil, zero, fmt.Errorf("index: entry %s height %d under parent at %d",
				hash.Short(), de.Height, prev.Height)
		}
		entry.Prev = prev
		if prev.TimeMax > entry.TimeMax {
			entry.TimeMax = prev.TimeMax
		}
		entry.BuildSkip()
	} else if de.Prev != "" {
		return nil, zero, fmt.Errorf("index: genesis with parent")
	}
	return entry, hash, nil
}
