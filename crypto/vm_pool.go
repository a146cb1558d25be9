package crypto

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// VMPool caches VMs by epoch. Acquiring a VM takes the pool's short
// mutex; the per-VM hashing mutex is held only for the duration of a
// hash computation. Eviction is LRU on insert.
type VMPool struct {
	mu    sync.Mutex
	cache *lru.Cache
}

func NewVMPool(size int) (*VMPool, error) {
	if size < 1 {
		return nil, fmt.Errorf("vm pool: size must be >= 1, got %d", size)
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &VMPool{cache: cache}, nil
}

// Get returns the VM for an epoch, constructing it on a miss.
func (p *VMPool) Get(epoch uint32) *VM {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.cache.Get(epoch); ok {
		return v.(*VM)
	}
	vm := NewVM(epoch)
	p.cache.Add(epoch, vm)
	return vm
}

// Len reports the number of cached VMs.
func (p *VMPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cache.Len()
}
