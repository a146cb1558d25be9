// Package sync implements header synchronization above the consensus
// core: the batched header pre-filter, per-peer misbehavior accounting
// and address discouragement.
package sync

import (
	"log/slog"
	"sync"
)

// DiscouragementThreshold is the misbehavior score at which a peer is
// marked for disconnection.
const DiscouragementThreshold = 100

// Misbehavior penalties. The table is fixed; transports map reject
// reasons onto it.
const (
	PenaltyInvalidPow           = 100 // invalid proof of work
	PenaltyInvalidHeader        = 100 // bad bits/time/version/prev, cached-invalid duplicate
	PenaltyOversizedMessage     = 20  // headers message above the cap
	PenaltyNonContinuousHeaders = 20  // batch does not chain together
	PenaltyTooManyUnconnecting  = 20  // repeated non-connecting headers messages
	PenaltyTooManyOrphans       = 50  // exceeded per-peer orphan quota
	PenaltyLowWorkHeaders       = 10  // low-work header spam after IBD
)

// MaxUnconnectingHeaders is how many non-connecting headers messages in
// a row are tolerated before the penalty applies.
const MaxUnconnectingHeaders = 10

// PeerPermissions are capability flags granted to a connection.
type PeerPermissions uint32

const (
	PermissionNone PeerPermissions = 0
	// PermissionNoBan exempts a peer from discouragement regardless of
	// its score.
	PermissionNoBan PeerPermissions = 1 << 0
	// PermissionManual marks operator-requested connections.
	PermissionManual PeerPermissions = 1 << 1
)

func (p PeerPermissions) Has(check PeerPermissions) bool {
	return check != 0 && p&check == check
}

type peerState struct {
	id                  int64
	address             string
	score               int
	shouldDiscourage    bool
	unconnectingHeaders int
	permissions         PeerPermissions
}

// PeerManager tracks misbehavior per peer. It manages no sockets; the
// transport registers peers, feeds penalties and reads the
// should-disconnect verdict.
type PeerManager struct {
	mu     sync.RWMutex
	peers  map[int64]*peerState
	logger *slog.Logger
}

func NewPeerManager(logger *slog.Logger) *PeerManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &PeerManager{
		peers:  make(map[int64]*peerState),
		logger: logger,
	}
}

func (pm *PeerManager) AddPeer(id int64, address string, permissions PeerPermissions) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if _, ok := pm.peers[id]; ok {
		return
	}
	pm.peers[id] = &peerState{id: id, address: address, permissions: permissions}
}

func (pm *PeerManager) RemovePeer(id int64) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.peers, id)
}

func (pm *PeerManager) PeerCount() int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return len(pm.peers)
}

// peer returns the state for id, creating it for peers the transport
// never registered (e.g. local submissions in tests).
func (pm *PeerManager) peer(id int64) *peerState {
	p, ok := pm.peers[id]
	if !ok {
		p = &peerState{id: id, address: "unknown"}
		pm.peers[id] = p
	}
	return p
}

// Misbehaving adds amount to the peer's score and returns whether the
// peer should now be disconnected. Peers with the NoBan permission
// accumulate score but are never marked.
func (pm *PeerManager) Misbehaving(id int64, amount int, reason string) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	p := pm.peer(id)
	p.score += amount
	if p.permissions.Has(PermissionNoBan) {
		pm.logger.Info("misbehavior from noban peer", "peer", id,
			"amount", amount, "score", p.score, "reason", reason)
		return false
	}
	if p.score >= DiscouragementThreshold {
		p.shouldDiscourage = true
	}
	pm.logger.Warn("peer misbehaving", "peer", id, "amount", amount,
		"score", p.score, "discourage", p.shouldDiscourage, "reason", reason)
	return p.shouldDiscourage
}

func (pm *PeerManager) ShouldDisconnect(id int64) bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	p, ok := pm.peers[id]
	return ok && p.shouldDiscourage
}

func (pm *PeerManager) MisbehaviorScore(id int64) int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	p, ok := pm.peers[id]
	if !ok {
		return 0
	}
	return p.score
}

func (pm *PeerManager) PeerAddress(id int64) string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	p, ok := pm.peers[id]
	if !ok {
		return ""
	}
	return p.address
}

// IncrementUnconnectingHeaders bumps the consecutive non-connecting
// headers counter; returns true once the count exceeds
// MaxUnconnectingHeaders, at which point the caller applies the penalty
// and the counter resets.
func (pm *PeerManager) IncrementUnconnectingHeaders(id int64) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	p := pm.peer(id)
	p.unconnectingHeaders++
	if p.unconnectingHeaders > MaxUnconnectingHeaders {
		p.unconnectingHeaders = 0
		return true
	}
	return false
}

func (pm *PeerManager) ResetUnconnectingHeaders(id int64) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if p, ok := pm.peers[id]; ok {
		p.unconnectingHeaders = 0
	}
}
