package consensus

import (
	"crypto/sha256"
	"encoding/binary"
)

// Wire layout of a block header. Fixed 100 bytes, all integers
// little-endian. Field order and sizes must never change without a
// hard fork.
const (
	HeaderSize = 100

	offVersion = 0
	offPrev    = 4
	offMiner   = 36
	offTime    = 56
	offBits    = 60
	offNonce   = 64
	offRandomX = 68
)

// BlockHeader is the complete block; this is a headers-only chain.
type BlockHeader struct {
	Version     int32
	PrevBlock   Hash
	MinerAddr   MinerAddress
	Time        uint32
	Bits        uint32
	Nonce       uint32
	RandomXHash Hash
}

// Serialize encodes the canonical 100-byte wire form.
func (h *BlockHeader) Serialize() [HeaderSize]byte {
	var data [HeaderSize]byte
	binary.LittleEndian.PutUint32(data[offVersion:], uint32(h.Version))
	copy(data[offPrev:], h.PrevBlock[:])
	copy(data[offMiner:], h.MinerAddr[:])
	binary.LittleEndian.PutUint32(data[offTime:], h.Time)
	binary.LittleEndian.PutUint32(data[offBits:], h.Bits)
	binary.LittleEndian.PutUint32(data[offNonce:], h.Nonce)
	copy(data[offRandomX:], h.RandomXHash[:])
	return data
}

// SerializePoW encodes the wire form with the randomx field zeroed.
// This is the preimage for RandomX hashing and commitments.
func (h *BlockHeader) SerializePoW() [HeaderSize]byte {
	data := h.Serialize()
	for i := offRandomX; i < HeaderSize; i++ {
		data[i] = 0
	}
	return data
}

// DeserializeHeader decodes exactly HeaderSize bytes; trailing or
// missing bytes are a parse error.
func DeserializeHeader(b []byte) (BlockHeader, error) {
	var h BlockHeader
	if len(b) != HeaderSize {
		return h, hdrerr(HEADER_ERR_PARSE, "header: wrong size")
	}
	h.Version = int32(binary.LittleEndian.Uint32(b[offVersion:]))
	copy(h.PrevBlock[:], b[offPrev:offPrev+32])
	copy(h.MinerAddr[:], b[offMiner:offMiner+20])
	h.Time = binary.LittleEndian.Uint32(b[offTime:])
	h.Bits = binary.LittleEndian.Uint32(b[offBits:])
	h.Nonce = binary.LittleEndian.Uint32(b[offNonce:])
	copy(h.RandomXHash[:], b[offRandomX:offRandomX+32])
	return h, nil
}

// Hash computes double SHA-256 over the wire form. The digest is
// reversed into internal little-endian order.
func (h *BlockHeader) Hash() Hash {
	data := h.Serialize()
	h1 := sha256.Sum256(data[:])
	h2 := sha256.Sum256(h1[:])
	var out Hash
	for i := 0; i < 32; i++ {
		out[i] = h2[31-i]
	}
	return out
}
