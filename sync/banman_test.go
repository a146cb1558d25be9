package sync

import "testing"

func TestBanExpiry(t *testing.T) {
	b := NewBanMan()
	now := int64(1_700_000_000)
	b.SetTimeSource(func() int64 { return now })

	b.Ban("1.2.3.4", 100)
	if !b.IsBanned("1.2.3.4") {
		t.Fatalf("expected banned")
	}
	now += 99
	if !b.IsBanned("1.2.3.4") {
		t.Fatalf("ban expired early")
	}
	now += 2
	if b.IsBanned("1.2.3.4") {
		t.Fatalf("ban should have expired")
	}
}

func TestPermanentBan(t *testing.T) {
	b := NewBanMan()
	now := int64(1_700_000_000)
	b.SetTimeSource(func() int64 { return now })

	b.Ban("5.6.7.8", 0)
	now += 10 * 365 * 24 * 3600
	if !b.IsBanned("5.6.7.8") {
		t.Fatalf("permanent ban expired")
	}
	b.Unban("5.6.7.8")
	if b.IsBanned("5.6.7.8") {
		t.Fatalf("unban failed")
	}
}

func TestDiscouragement(t *testing.T) {
	b := NewBanMan()
	now := int64(1_700_000_000)
	b.SetTimeSource(func() int64 { return now })

	b.Discourage("9.9.9.9")
	if !b.IsDiscouraged("9.9.9.9") {
		t.Fatalf("expected discouraged")
	}
	if b.IsDiscouraged("9.9.9.8") {
		t.Fatalf("wrong address discouraged")
	}
	now += DiscouragementDuration + 1
	if b.IsDiscouraged("9.9.9.9") {
		t.Fatalf("discouragement should have lapsed")
	}
}

func TestSweepBanned(t *testing.T) {
	b := NewBanMan()
	now := int64(1_700_000_000)
	b.SetTimeSource(func() int64 { return now })

	b.Ban("a", 10)
	b.Ban("b", 0)
	now += 20
	b.SweepBanned()
	banned := b.Banned()
	if _, ok := banned["a"]; ok {
		t.Fatalf("expired ban survived sweep")
	}
	if _, ok := banned["b"]; !ok {
		t.Fatalf("permanent ban swept")
	}
}
