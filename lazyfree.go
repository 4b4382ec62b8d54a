package patricia

import "sync"


// lazyFreeItem is a single superseded-node record: the writer version that retired
// it, its node id, and its serialized size. §3.4.
type lazyFreeItem struct {
	version uint64
	nodeID  uint32
	size    uint32
}

// lazyFreeList is a per-writer-thread FIFO of lazyFreeItem, per §4.4. A node's bytes
// remain readable by any token that acquired before the node was retired, until the
// item is drained — draining requires version < the trie's current min_age.
type lazyFreeList struct {
	mu    sync.Mutex
	items []lazyFreeItem
}

func newLazyFreeList() *lazyFreeList {
	return &lazyFreeList{}
}

func (l *lazyFreeList) push(item lazyFreeItem) {
	l.mu.Lock()
	l.items = append(l.items, item)
	l.mu.Unlock()
}

// drain pops up to bulkFreeNum head entries whose version is below minAge, returning
// each one's slab range to tc (or the shared pool when tc is nil). Called by retire
// right after it pushes a superseded node.
func (l *lazyFreeList) drain(s *slab, tc *threadCache, minAge uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for n < bulkFreeNum && len(l.items) > 0 {
		head := l.items[0]
		if head.version >= minAge { break }

		s.free(uint64(head.nodeID)*AlignSize, uint64(head.size), tc)
		l.items = l.items[1:]
		n++
	}
}

// lazyFreeListFor returns (creating if needed) the lazy-free list and thread cache
// bound to a writer token. Each writer token owns its own list/cache for the lifetime
// of the token, touched only by that token's goroutine. writerLazyFreeMu guards only
// the map itself, which gains an entry here and loses it when the token is disposed.
func (tr *Trie) lazyFreeListFor(t *Token) *lazyFreeList {
	tr.writerLazyFreeMu.Lock()
	defer tr.writerLazyFreeMu.Unlock()

	if tr.writerLazyFree == nil { tr.writerLazyFree = make(map[*Token]*lazyFreeList) }

	if l, ok := tr.writerLazyFree[t]; ok { return l }

	l := newLazyFreeList()
	tr.writerLazyFree[t] = l

	return l
}
