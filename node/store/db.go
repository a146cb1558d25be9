// Package store is the durable header archive: a bbolt key-value store
// of every accepted header plus a small index entry per hash, and a
// manifest recording the committed tip. The in-memory block index is
// the source of truth; the archive exists so the daemon can serve
// headers and audit its history without replaying the network.
package store

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/holiman/uint256"
	bolt "go.etcd.io/bbolt"

	"cinder.dev/node/consensus"
	"cinder.dev/node/util"
)

var (
	bucketHeaders = []byte("headers_by_hash")
	bucketIndex   = []byte("header_index_by_hash")
	bucketHeights = []byte("hash_by_height")
)

// IndexEntry is the per-header metadata kept alongside the raw bytes.
type IndexEntry struct {
	Height         int32
	CumulativeWork *uint256.Int
}

// DB wraps the bbolt handle and the chain manifest.
type DB struct {
	chainDir string
	db       *bolt.DB
	manifest *Manifest
}

// Open creates or opens the archive under datadir for the named chain.
// A missing manifest means an uninitialized chain; the caller writes
// one after installing genesis.
func Open(datadir, chainName string) (*DB, error) {
	if datadir == "" {
		return nil, fmt.Errorf("datadir required")
	}
	if chainName == "" {
		return nil, fmt.Errorf("chain name required")
	}

	chainDir := ChainDir(datadir, chainName)
	if err := util.EnsureDir(filepath.Join(chainDir, "db")); err != nil {
		return nil, err
	}

	path := filepath.Join(chainDir, "db", "headers.db")
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt: %w", err)
	}

	d := &DB{chainDir: chainDir, db: bdb}

	if err := d.db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketHeaders, bucketIndex, bucketHeights} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", string(b), err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	m, err := readManifest(chainDir)
	if err != nil {
		if os.IsNotExist(err) {
			return d, nil // uninitialized chain
		}
		_ = bdb.Close()
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if m.SchemaVersion > SchemaVersionV1 {
		_ = bdb.Close()
		return nil, fmt.Errorf("manifest schema_version %d > supported %d", m.SchemaVersion, SchemaVersionV1)
	}
	d.manifest = m
	return d, nil
}

func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *DB) ChainDir() string { return d.chainDir }

func (d *DB) Manifest() *Manifest {
	if d == nil {
		return nil
	}
	return d.manifest
}

func (d *DB) SetManifest(m *Manifest) error {
	if d == nil {
		return fmt.Errorf("db: nil")
	}
	if err := writeManifestAtomic(d.chainDir, m); err != nil {
		return err
	}
	d.manifest = m
	return nil
}

// PutHeader stores the raw header bytes and index entry for a hash.
// Implements sync.HeaderArchive.
func (d *DB) PutHeader(hash consensus.Hash, raw []byte, height int32, work *uint256.Int) error {
	if len(raw) != consensus.HeaderSize {
		return fmt.Errorf("store: header must be %d bytes, got %d", consensus.HeaderSize, len(raw))
	}
	entry, err := encodeIndexEntry(IndexEntry{Height: height, CumulativeWork: work})
	if err != nil {
		return err
	}
	var heightKey [4]byte
	binary.LittleEndian.PutUint32(heightKey[:], uint32(height))
	return d.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketHeaders).Put(hash[:], raw); err != nil {
			return err
		}
		if err := tx.Bucket(bucketIndex).Put(hash[:], entry); err != nil {
			return err
		}
		return tx.Bucket(bucketHeights).Put(heightKey[:], hash[:])
	})
}

// GetHeader returns the raw header bytes for a hash.
func (d *DB) GetHeader(hash consensus.Hash) ([]byte, bool, error) {
	var out []byte
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketHeaders).Get(hash[:])
		if v == nil {
			return nil
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

// GetIndex returns the index entry for a hash.
func (d *DB) GetIndex(hash consensus.Hash) (*IndexEntry, bool, error) {
	var out *IndexEntry
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketIndex).Get(hash[:])
		if v == nil {
			return nil
		}
		e, err := decodeIndexEntry(v)
		if err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

// HashAtHeight returns the archived hash for a height.
func (d *DB) HashAtHeight(height int32) (consensus.Hash, bool, error) {
	var out consensus.Hash
	var ok bool
	var heightKey [4]byte
	binary.LittleEndian.PutUint32(heightKey[:], uint32(height))
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketHeights).Get(heightKey[:])
		if v == nil {
			return nil
		}
		copy(out[:], v)
		ok = true
		return nil
	})
	return out, ok, err
}

// HeaderCount counts archived headers.
func (d *DB) HeaderCount() (int, error) {
	n := 0
	err := d.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketHeaders).Stats().KeyN
		return nil
	})
	return n, err
}

func encodeIndexEntry(e IndexEntry) ([]byte, error) {
	if e.CumulativeWork == nil {
		return nil, fmt.Errorf("store: cumulative work required")
	}
	work := e.CumulativeWork.Bytes()
	// Layout: height u32le | work_len u8 | work_bytes (big-endian)
	out := make([]byte, 4+1+len(work))
	binary.LittleEndian.PutUint32(out[0:4], uint32(e.Height))
	out[4] = byte(len(work))
	copy(out[5:], work)
	return out, nil
}

func decodeIndexEntry(b []byte) (*IndexEntry, error) {
	if len(b) < 5 {
		return nil, fmt.Errorf("store: index entry truncated")
	}
	workLen := int(b[4])
	if 5+workLen != len(b) {
		return nil, fmt.Errorf("store: bad work length")
	}
	work := new(uint256.Int).SetBytes(b[5:])
	return &IndexEntry{
		Height:         int32(binary.LittleEndian.Uint32(b[0:4])),
		CumulativeWork: work,
	}, nil
}
