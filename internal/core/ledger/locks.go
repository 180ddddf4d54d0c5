package ledger

import (
	"sort"
	"sync"
)

// lockTable hands out one mutex per address. Multi-account operations
// acquire their locks in lexicographic address order, so two
// operations touching the same accounts in opposite directions cannot
// deadlock.
type lockTable struct {
	mu    sync.Mutex
	locks map[Address]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[Address]*sync.Mutex)}
}

// acquire locks every given address (deduplicated, in sorted order)
// and returns the release function. Intended use:
//
//	defer t.acquire(from, to)()
func (t *lockTable) acquire(addrs ...Address) func() {
	uniq := make([]Address, 0, len(addrs))
	seen := make(map[Address]struct{}, len(addrs))
	for _, addr := range addrs {
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		uniq = append(uniq, addr)
	}
	sort.Slice(uniq, func(i, j int) bool { return uniq[i] < uniq[j] })

	held := make([]*sync.Mutex, len(uniq))
	for i, addr := range uniq {
		held[i] = t.lockFor(addr)
		held[i].Lock()
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

func (t *lockTable) lockFor(addr Address) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.locks[addr]; ok {
		return m
	}
	m := &sync.Mutex{}
	t.locks[addr] = m
	return m
}
