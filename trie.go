package patricia

import "sync/atomic"


// Open initializes a Trie: it reserves the backing slab, allocates the initial empty
// root node, and starts the accessor epoch queue. If opts.FilePath is set the slab is
// backed by that file (created if necessary); otherwise the mapping is anonymous.
func Open(opts TrieOpts) (*Trie, error) {
	if opts.ValueSize <= 0 || opts.ValueSize%AlignSize != 0 { return nil, ErrInvalidArgument }
	if opts.ConcurrencyLevel == MultiWriteMultiRead && opts.ValueSize > MaxValueSize { return nil, ErrInvalidArgument }

	s, err := newSlab(opts)
	if err != nil { return nil, err }

	tr := &Trie{
		opts:           opts,
		slab:           s,
		queue:          newTokenQueue(),
		writerLazyFree: make(map[*Token]*lazyFreeList),
	}

	root := nodeView{header: nodeHeader{tag: tagLeaf}}
	so := computeSections(tagLeaf, 0, 0, opts.ValueSize, false)

	off, allocErr := s.alloc(so.totalLen, nil)
	if allocErr != nil { return nil, allocErr }

	encodeNode(s.bytes()[off:off+so.totalLen], &root, opts.ValueSize)
	tr.rootID.Store(uint32(off / AlignSize))

	atomic.AddInt64(&tr.numNodes, 1)

	return tr, nil
}

// Close releases the trie's backing slab. It does not wait for outstanding tokens to
// release; the caller is responsible for quiescing accessors first.
func (tr *Trie) Close() error {
	if !tr.closed.CompareAndSwap(false, true) { return nil }
	return tr.slab.close()
}

// ReadOnly reports whether the trie was opened read-only (e.g. a loaded persisted image).
func (tr *Trie) ReadOnly() bool { return tr.opts.ConcurrencyLevel == ReadOnly }
