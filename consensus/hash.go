package consensus

import (
	"encoding/hex"
	"fmt"

	"github.com/holiman/uint256"
)

// Hash is a 256-bit hash stored in internal (little-endian) byte order.
// Display order is the conventional reversed hex.
type Hash [32]byte

// MinerAddress is the 160-bit payout address embedded in each header.
type MinerAddress [20]byte

func (h Hash) IsZero() bool {
	return h == Hash{}
}

// String renders the hash in display order (big-endian hex).
func (h Hash) String() string {
	var rev [32]byte
	for i := 0; i < 32; i++ {
		rev[i] = h[31-i]
	}
	return hex.EncodeToString(rev[:])
}

// Short returns a truncated display form for logging.
func (h Hash) Short() string {
	return h.String()[:16]
}

// HashFromHex parses a display-order (big-endian) hex string.
func HashFromHex(s string) (Hash, error) {
	var out Hash
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("hash: %w", err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("hash: expected 32 bytes, got %d", len(raw))
	}
	for i := 0; i < 32; i++ {
		out[i] = raw[31-i]
	}
	return out, nil
}

// ToU256 interprets the hash as a 256-bit unsigned integer.
func (h Hash) ToU256() *uint256.Int {
	var be [32]byte
	for i := 0; i < 32; i++ {
		be[i] = h[31-i]
	}
	return new(uint256.Int).SetBytes(be[:])
}

// HashFromU256 converts an integer back into internal byte order.
func HashFromU256(x *uint256.Int) Hash {
	be := x.Bytes32()
	var out Hash
	for i := 0; i < 32; i++ {
		out[i] = be[31-i]
	}
	return out
}
