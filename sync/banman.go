package sync

import (
	"sync"
	"time"
)

// DiscouragementDuration is how long a misbehaving address stays
// discouraged.
const DiscouragementDuration = 24 * 60 * 60

// BanEntry records one manual ban. BanUntil of zero means permanent.
type BanEntry struct {
	CreateTime int64
	BanUntil   int64
}

func (e BanEntry) IsExpired(now int64) bool {
	return e.BanUntil > 0 && now >= e.BanUntil
}

// BanMan keeps the two-tier address blocklist: operator-requested bans
// (timed or permanent) and automatic discouragement of misbehaving
// addresses. Persistence of the list is the host application's concern.
type BanMan struct {
	mu          sync.Mutex
	banned      map[string]BanEntry
	discouraged map[string]int64 // address -> expiry
	now         func() int64
}

func NewBanMan() *BanMan {
	return &BanMan{
		banned:      make(map[string]BanEntry),
		discouraged: make(map[string]int64),
		now:         func() int64 { return time.Now().Unix() },
	}
}

// SetTimeSource overrides the clock.
func (b *BanMan) SetTimeSource(now func() int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Ban blocks an address for offset seconds; zero means permanently.
func (b *BanMan) Ban(address string, offset int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	until := int64(0)
	if offset > 0 {
		until = now + offset
	}
	b.banned[address] = BanEntry{CreateTime: now, BanUntil: until}
}

func (b *BanMan) Unban(address string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.banned, address)
}

func (b *BanMan) IsBanned(address string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.banned[address]
	if !ok {
		return false
	}
	if entry.IsExpired(b.now()) {
		delete(b.banned, address)
		return false
	}
	return true
}

// Discourage soft-bans an address for DiscouragementDuration.
func (b *BanMan) Discourage(address string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.discouraged[address] = b.now() + DiscouragementDuration
}

func (b *BanMan) IsDiscouraged(address string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	expiry, ok := b.discouraged[address]
	if !ok {
		return false
	}
	if b.now() >= expiry {
		delete(b.discouraged, address)
		return false
	}
	return true
}

func (b *BanMan) ClearDiscouraged() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.discouraged = make(map[string]int64)
}

func (b *BanMan) ClearBanned() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.banned = make(map[string]BanEntry)
}

// Banned returns a copy of the manual ban table.
func (b *BanMan) Banned() map[string]BanEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]BanEntry, len(b.banned))
	for addr, entry := range b.banned {
		out[addr] = entry
	}
	return out
}

// SweepBanned drops expired entries.
func (b *BanMan) SweepBanned() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	for addr, entry := range b.banned {
		if entry.IsExpired(now) {
			delete(b.banned, addr)
		}
	}
}
