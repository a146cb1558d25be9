package consensus

import (
	"testing"

	"github.com/holiman/uint256"
)

const (
	testSpacing  = int64(120)
	testHalfLife = int64(2 * 24 * 60 * 60)
)

func asertPowLimit() *uint256.Int {
	return TargetFromBits(0x1f00ffff)
}

func TestASERTOnScheduleKeepsTarget(t *testing.T) {
	ref := TargetFromBits(0x1c100000)
	heightDiff := int64(1000)
	timeDiff := testSpacing * (heightDiff + 1)
	next := CalculateASERT(ref, testSpacing, timeDiff, heightDiff, asertPowLimit(), testHalfLife)
	if !next.Eq(ref) {
		t.Fatalf("on-schedule target changed: %s -> %s", ref.Hex(), next.Hex())
	}
}

func TestASERTDoublesPerHalfLifeBehind(t *testing.T) {
	ref := TargetFromBits(0x1c100000)
	heightDiff := int64(100)
	timeDiff := testSpacing*(heightDiff+1) + testHalfLife
	next := CalculateASERT(ref, testSpacing, timeDiff, heightDiff, asertPowLimit(), testHalfLife)
	want := new(uint256.Int).Lsh(ref, 1)
	if !next.Eq(want) {
		t.Fatalf("one half-life behind: expected %s, got %s", want.Hex(), next.Hex())
	}
}

func TestASERTHalvesPerHalfLifeAhead(t *testing.T) {
	ref := TargetFromBits(0x1c100000)
	heightDiff := int64(100)
	timeDiff := testSpacing*(heightDiff+1) - testHalfLife
	next := CalculateASERT(ref, testSpacing, timeDiff, heightDiff, asertPowLimit(), testHalfLife)
	want := new(uint256.Int).Rsh(ref, 1)
	if !next.Eq(want) {
		t.Fatalf("one half-life ahead: expected %s, got %s", want.Hex(), next.Hex())
	}
}

func TestASERTClampsToPowLimit(t *testing.T) {
	limit := asertPowLimit()
	// Far behind schedule from an already-easy target.
	next := CalculateASERT(limit, testSpacing, testSpacing+100*testHalfLife, 0, limit, testHalfLife)
	if !next.Eq(limit) {
		t.Fatalf("expected clamp to pow limit, got %s", next.Hex())
	}
}

func TestASERTNeverReachesZero(t *testing.T) {
	ref := uint256.NewInt(1)
	// Far ahead of schedule from the hardest possible target.
	next := CalculateASERT(ref, testSpacing, testSpacing-1000*testHalfLife, 0, asertPowLimit(), testHalfLife)
	if next.IsZero() {
		t.Fatalf("target must never be zero")
	}
	if !next.Eq(uint256.NewInt(1)) {
		t.Fatalf("expected floor of 1, got %s", next.Hex())
	}
}

func TestASERTFractionalStepMonotonic(t *testing.T) {
	ref := TargetFromBits(0x1c100000)
	limit := asertPowLimit()
	heightDiff := int64(500)
	base := testSpacing * (heightDiff + 1)
	prev := CalculateASERT(ref, testSpacing, base-testHalfLife/2, heightDiff, limit, testHalfLife)
	for drift := -testHalfLife / 2 + 600; drift <= testHalfLife/2; drift += 600 {
		next := CalculateASERT(ref, testSpacing, base+drift, heightDiff, limit, testHalfLife)
		if next.Lt(prev) {
			t.Fatalf("target not monotonic in time drift at %d", drift)
		}
		prev = next
	}
}
