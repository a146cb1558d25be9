package validation

import (
	"log/slog"
	"sync"
	"testing"

	"cinder.dev/node/chain"
	"cinder.dev/node/consensus"
)

// fakeClock is a settable unix clock shared by the manager's time
// hooks.
type fakeClock struct {
	mu  sync.Mutex
	now int64
}

func (c *fakeClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(now int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *fakeClock) Advance(d int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d
}

// recorder captures notifications in dispatch order.
type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	kind       string
	hash       consensus.Hash
	height     int32
	depth      int32
	maxAllowed int32
}

func (r *recorder) BlockConnected(header consensus.BlockHeader, index *chain.BlockIndex) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{kind: "connect", hash: index.Hash(), height: index.Height})
}

func (r *recorder) BlockDisconnected(header consensus.BlockHeader, index *chain.BlockIndex) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{kind: "disconnect", hash: index.Hash(), height: index.Height})
}

func (r *recorder) ChainTip(index *chain.BlockIndex, height int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{kind: "tip", hash: index.Hash(), height: height})
}

func (r *recorder) SuspiciousReorg(depth, maxAllowed int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{kind: "suspicious-reorg", depth: depth, maxAllowed: maxAllowed})
}

func (r *recorder) take() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

func (r *recorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.kind
	}
	return out
}

// harness is a regtest chainstate with an accept-everything PoW
// checker and a controllable clock, mirroring the test subclass that
// overrides proof-of-work verification.
type harness struct {
	t      *testing.T
	params *consensus.Params
	m      *ChainstateManager
	clock  *fakeClock
	rec    *recorder
}

func newHarness(t *testing.T, reorgDepth int32) *harness {
	t.Helper()
	params := consensus.RegTestParams()
	clock := &fakeClock{now: int64(params.Genesis.Time) + 600}
	rec := &recorder{}
	m := NewChainstateManager(params, Options{
		SuspiciousReorgDepth: reorgDepth,
		PowChecker: func(*consensus.BlockHeader, consensus.PowVerifyMode) bool {
			return true
		},
		Now:          clock.Now,
		AdjustedTime: clock.Now,
		Logger:       slog.Default(),
	})
	m.RegisterNotifications(rec)
	return &harness{t: t, params: params, m: m, clock: clock, rec: rec}
}

func (h *harness) initGenesis() {
	h.t.Helper()
	if err := h.m.Initialize(h.params.Genesis); err != nil {
		h.t.Fatalf("initialize: %v", err)
	}
}

// header builds a contextual-check-clean child header. branch salts
// the nonce so sibling chains stay distinct.
func (h *harness) header(parent consensus.BlockHeader, branch uint32) consensus.BlockHeader {
	child := consensus.BlockHeader{
		Version:   1,
		PrevBlock: parent.Hash(),
		Time:      parent.Time + 120,
		Bits:      h.params.PowLimitBits(),
		Nonce:     parent.Nonce + 1 + branch<<16,
	}
	child.RandomXHash[0] = byte(branch) + 1
	child.RandomXHash[1] = byte(child.Nonce)
	return child
}

// extend builds and fully processes n headers above parent, returning
// the headers in order.
func (h *harness) extend(parent consensus.BlockHeader, n int, branch uint32) []consensus.BlockHeader {
	h.t.Helper()
	out := make([]consensus.BlockHeader, 0, n)
	for i := 0; i < n; i++ {
		child := h.header(parent, branch)
		if int64(child.Time) > h.clock.Now() {
			h.clock.Set(int64(child.Time))
		}
		var state ValidationState
		if !h.m.ProcessNewBlockHeader(&child, &state) {
			h.t.Fatalf("process header %d: %s (%s)", i, state.Reason(), state.DebugMessage())
		}
		out = append(out, child)
		parent = child
	}
	return out
}

// accept runs a header through acceptance only, returning the state.
func (h *harness) accept(header consensus.BlockHeader, peer int64) (*chain.BlockIndex, ValidationState) {
	var state ValidationState
	index := h.m.AcceptBlockHeader(&header, &state, peer)
	return index, state
}
