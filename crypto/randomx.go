// Package crypto implements the RandomX-style proof-of-work engine at
// the interface the consensus layer consumes: epoch derivation, seed
// hashes, per-epoch virtual machines with cached construction, and
// header commitments. VMs hash raw bytes; the package knows nothing
// about header layout.
package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/blake2b"
)

const (
	// DefaultVMCacheSize is the number of epochs kept warm. There is
	// one VM per epoch. Minimum is 1.
	DefaultVMCacheSize = 2

	vmKeyTime    = 1
	vmKeyMemory  = 8 * 1024 // KiB
	vmKeyThreads = 1
)

var commitmentSalt = []byte("cinder/randomx/commitment/v1")

// Epoch maps a block timestamp to its VM epoch.
func Epoch(nTime uint32, duration int64) uint32 {
	if duration <= 0 {
		return 0
	}
	return uint32(int64(nTime) / duration)
}

// SeedHash derives the epoch seed: SHA256d("CinderChain/RandomX/Epoch/N").
func SeedHash(epoch uint32) [32]byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], epoch)
	pre := append([]byte("CinderChain/RandomX/Epoch/"), buf[:]...)
	h1 := sha256.Sum256(pre)
	return sha256.Sum256(h1[:])
}

// VM is a hashing machine for one epoch. Construction is deliberately
// expensive (memory-hard key stretch); hashing on a single VM is not
// reentrant, so Hash serializes on an internal mutex.
type VM struct {
	epoch uint32
	key   [32]byte
	mu    sync.Mutex
}

// NewVM constructs a VM for an epoch. Callers should prefer the pool.
func NewVM(epoch uint32) *VM {
	seed := SeedHash(epoch)
	var key [32]byte
	derived := argon2.IDKey(seed[:], []byte("cinder/randomx/vm"), vmKeyTime, vmKeyMemory, vmKeyThreads, 32)
	copy(key[:], derived)
	return &VM{epoch: epoch, key: key}
}

func (vm *VM) Epoch() uint32 { return vm.epoch }

// Hash computes the epoch-keyed hash of data.
func (vm *VM) Hash(data []byte) [32]byte {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	h, err := blake2b.New256(vm.key[:])
	if err != nil {
		panic(fmt.Sprintf("blake2b keyed init: %v", err))
	}
	h.Write(data)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Commitment binds a PoW preimage (header bytes with the randomx field
// zeroed) to its RandomX hash. The commitment, not the hash itself, is
// compared against the difficulty target, which makes the cheap check
// possible without running a VM.
func Commitment(powBytes []byte, rxHash [32]byte) [32]byte {
	h, err := blake2b.New256(commitmentSalt)
	if err != nil {
		panic(fmt.Sprintf("blake2b keyed init: %v", err))
	}
	h.Write(powBytes)
	h.Write(rxHash[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
