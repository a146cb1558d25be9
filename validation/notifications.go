package validation

import (
	"cinder.dev/node/chain"
	"cinder.dev/node/consensus"
)

// Notifications is the observer interface for chain events. Handlers
// run outside the core lock, after the state transition that produced
// them completed, in the order the transitions happened. Handlers must
// not assume the tip is unchanged since the event was produced.
type Notifications interface {
	BlockConnected(header consensus.BlockHeader, index *chain.BlockIndex)
	BlockDisconnected(header consensus.BlockHeader, index *chain.BlockIndex)
	ChainTip(index *chain.BlockIndex, height int32)
	SuspiciousReorg(depth, maxAllowed int32)
}

type notifyKind int

const (
	notifyBlockConnected notifyKind = iota
	notifyBlockDisconnected
	notifyChainTip
	notifySuspiciousReorg
)

// notification is one queued event. Events are queued while the core
// lock is held and drained FIFO after it is released, so subscriber
// code can never re-enter the core mid-transition.
type notification struct {
	kind       notifyKind
	header     consensus.BlockHeader
	index      *chain.BlockIndex
	height     int32
	depth      int32
	maxAllowed int32
}

func (m *ChainstateManager) queueBlockConnected(index *chain.BlockIndex) {
	m.pending = append(m.pending, notification{
		kind:   notifyBlockConnected,
		header: index.Header(),
		index:  index,
	})
}

func (m *ChainstateManager) queueBlockDisconnected(index *chain.BlockIndex) {
	m.pending = append(m.pending, notification{
		kind:   notifyBlockDisconnected,
		header: index.Header(),
		index:  index,
	})
}

func (m *ChainstateManager) queueChainTip(index *chain.BlockIndex) {
	m.pending = append(m.pending, notification{
		kind:   notifyChainTip,
		index:  index,
		height: index.Height,
	})
}

func (m *ChainstateManager) queueSuspiciousReorg(depth, maxAllowed int32) {
	m.pending = append(m.pending, notification{
		kind:       notifySuspiciousReorg,
		depth:      depth,
		maxAllowed: maxAllowed,
	})
}

// takePending hands over the queued events; caller must hold the lock.
func (m *ChainstateManager) takePending() []notification {
	out := m.pending
	m.pending = nil
	return out
}

// dispatch delivers events to every subscriber. Must be called without
// the lock held.
func (m *ChainstateManager) dispatch(events []notification) {
	if len(events) == 0 {
		return
	}
	m.mu.Lock()
	subscribers := append([]Notifications(nil), m.subscribers...)
	m.mu.Unlock()
	for _, ev := range events {
		for _, sub := range subscribers {
			switch ev.kind {
			case notifyBlockConnected:
				sub.BlockConnected(ev.header, ev.index)
			case notifyBlockDisconnected:
				sub.BlockDisconnected(ev.header, ev.index)
			case notifyChainTip:
				sub.ChainTip(ev.index, ev.height)
			case notifySuspiciousReorg:
				sub.SuspiciousReorg(ev.depth, ev.maxAllowed)
			}
		}
	}
}
