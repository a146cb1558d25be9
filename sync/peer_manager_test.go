package sync

import "testing"

func TestMisbehavingAccumulatesAndMarks(t *testing.T) {
	pm := NewPeerManager(nil)
	pm.AddPeer(1, "10.0.0.1:9333", PermissionNone)

	if pm.Misbehaving(1, 50, "first strike") {
		t.Fatalf("50 points must not discourage")
	}
	if pm.MisbehaviorScore(1) != 50 {
		t.Fatalf("expected score 50, got %d", pm.MisbehaviorScore(1))
	}
	if !pm.Misbehaving(1, 50, "second strike") {
		t.Fatalf("100 points must discourage")
	}
	if !pm.ShouldDisconnect(1) {
		t.Fatalf("peer should be marked for disconnection")
	}
}

func TestMisbehavingNoBanNeverDiscourages(t *testing.T) {
	pm := NewPeerManager(nil)
	pm.AddPeer(2, "10.0.0.2:9333", PermissionNoBan)

	if pm.Misbehaving(2, 1000, "hammering") {
		t.Fatalf("noban peer must never be marked")
	}
	if pm.ShouldDisconnect(2) {
		t.Fatalf("noban peer must never disconnect")
	}
	// Score still accumulates for observability.
	if pm.MisbehaviorScore(2) != 1000 {
		t.Fatalf("expected score 1000, got %d", pm.MisbehaviorScore(2))
	}
}

func TestUnconnectingHeadersCounter(t *testing.T) {
	pm := NewPeerManager(nil)
	pm.AddPeer(3, "10.0.0.3:9333", PermissionNone)

	// The first MaxUnconnectingHeaders messages are tolerated.
	for i := 0; i < MaxUnconnectingHeaders; i++ {
		if pm.IncrementUnconnectingHeaders(3) {
			t.Fatalf("message %d should not trip the threshold", i+1)
		}
	}
	// The 11th trips it and resets the counter.
	if !pm.IncrementUnconnectingHeaders(3) {
		t.Fatalf("message %d should trip the threshold", MaxUnconnectingHeaders+1)
	}
	if pm.IncrementUnconnectingHeaders(3) {
		t.Fatalf("counter should have reset after tripping")
	}

	// A connecting batch resets it too.
	for i := 0; i < 5; i++ {
		pm.IncrementUnconnectingHeaders(3)
	}
	pm.ResetUnconnectingHeaders(3)
	for i := 0; i < MaxUnconnectingHeaders; i++ {
		if pm.IncrementUnconnectingHeaders(3) {
			t.Fatalf("reset did not clear the counter")
		}
	}
}

func TestPeerLifecycle(t *testing.T) {
	pm := NewPeerManager(nil)
	pm.AddPeer(4, "10.0.0.4:9333", PermissionNone)
	if pm.PeerCount() != 1 {
		t.Fatalf("expected 1 peer")
	}
	if pm.PeerAddress(4) != "10.0.0.4:9333" {
		t.Fatalf("address lost")
	}
	pm.RemovePeer(4)
	if pm.PeerCount() != 0 {
		t.Fatalf("peer not removed")
	}
	if pm.ShouldDisconnect(4) {
		t.Fatalf("unknown peer cannot be marked")
	}
}

func TestPermissionFlags(t *testing.T) {
	p := PermissionNoBan | PermissionManual
	if !p.Has(PermissionNoBan) || !p.Has(PermissionManual) {
		t.Fatalf("combined permissions lost")
	}
	if PermissionNone.Has(PermissionNoBan) {
		t.Fatalf("none must not satisfy noban")
	}
	if p.Has(PermissionNone) {
		t.Fatalf("zero check must never be satisfied")
	}
}
