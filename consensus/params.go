package consensus

import "github.com/holiman/uint256"

type ChainType int

const (
	ChainMain ChainType = iota
	ChainTestNet
	ChainRegTest
)

func (t ChainType) String() string {
	switch t {
	case ChainMain:
		return "main"
	case ChainTestNet:
		return "test"
	case ChainRegTest:
		return "regtest"
	}
	return "unknown"
}

// Params holds the per-network consensus and policy constants. Immutable
// after construction; shared by reference.
type Params struct {
	Type ChainType

	// Proof of work.
	PowLimit         *uint256.Int
	PowTargetSpacing int64

	RandomXEpochDuration int64

	// ASERT retargeting. Blocks at or below the anchor height use
	// PowLimit, which lets genesis and the anchor itself be mined at
	// any time.
	ASERTHalfLife     int64
	ASERTAnchorHeight int32

	GenesisHash Hash
	Genesis     BlockHeader

	// Minimum cumulative work before IBD is considered complete.
	// Zero disables the check (regtest).
	MinimumChainWork *uint256.Int

	// Network expiration (timebomb). Blocks above the interval are
	// rejected, forcing operators onto current releases. Zero disables.
	NetworkExpirationInterval int32
	NetworkExpirationGrace    int32

	DefaultPort uint16
	FixedSeeds  []string
}

// PowLimitBits is the compact encoding of the easiest allowed target.
func (p *Params) PowLimitBits() uint32 {
	return TargetToCompact(p.PowLimit)
}

// CreateGenesisBlock builds the canonical genesis header for a network.
func CreateGenesisBlock(nTime, nNonce, nBits uint32, version int32) BlockHeader {
	return BlockHeader{
		Version: version,
		Time:    nTime,
		Bits:    nBits,
		Nonce:   nNonce,
	}
}

func newParams(t ChainType, powLimitBits uint32, genesisTime, genesisNonce uint32) *Params {
	powLimit := TargetFromBits(powLimitBits)
	genesis := CreateGenesisBlock(genesisTime, genesisNonce, powLimitBits, 1)
	p := &Params{
		Type:                 t,
		PowLimit:             powLimit,
		PowTargetSpacing:     120,
		RandomXEpochDuration: 7 * 24 * 60 * 60,
		ASERTHalfLife:        2 * 24 * 60 * 60,
		ASERTAnchorHeight:    1,
		Genesis:              genesis,
		GenesisHash:          genesis.Hash(),
		MinimumChainWork:     new(uint256.Int),
	}
	return p
}

func MainNetParams() *Params {
	p := newParams(ChainMain, 0x1f00ffff, 1735689600, 0x00217fb2)
	p.MinimumChainWork = uint256.NewInt(0x100000)
	p.NetworkExpirationInterval = 262800 // ~1 year at 2-minute spacing
	p.NetworkExpirationGrace = 10080
	p.DefaultPort = 9333
	p.FixedSeeds = []string{
		"seed1.cinder.dev:9333",
		"seed2.cinder.dev:9333",
	}
	return p
}

func TestNetParams() *Params {
	p := newParams(ChainTestNet, 0x1f00ffff, 1735689600, 0x000104cd)
	p.MinimumChainWork = uint256.NewInt(0x10000)
	p.NetworkExpirationInterval = 262800
	p.NetworkExpirationGrace = 10080
	p.DefaultPort = 19333
	p.FixedSeeds = []string{"testseed.cinder.dev:19333"}
	return p
}

// RegTestParams has no retargeting, no minimum work and no expiration;
// every block may be mined at the pow limit.
func RegTestParams() *Params {
	p := newParams(ChainRegTest, 0x207fffff, 1296688602, 2)
	p.DefaultPort = 29333
	return p
}

// ParamsForChain maps a chain name to its parameter set.
func ParamsForChain(name string) *Params {
	switch name {
	case "main", "mainnet":
		return MainNetParams()
	case "test", "testnet":
		return TestNetParams()
	case "regtest":
		return RegTestParams()
	}
	return nil
}
