package patricia

import "bytes"
import "runtime"
import "sync/atomic"


// Insert installs key -> value, returning the value slot (valid until token release)
// and whether the key was newly created (false if the key already existed, even if
// its value changed). The commit protocol is lock-free: a failed CAS simply restarts
// the whole traversal from the root, per §4.5 and §4.5.5 — there is no bound on retries,
// so a writer token held under sustained contention can starve, which is the tradeoff
// the design accepts for never blocking.
func (tr *Trie) Insert(tok *Token, key, value []byte) ([]byte, bool, error) {
	if tok == nil || !tok.writer { return nil, false, ErrLogicError }
	if tr.opts.ConcurrencyLevel == ReadOnly { return nil, false, ErrInvalidArgument }
	if len(value) != tr.opts.ValueSize { return nil, false, ErrInvalidArgument }

	for {
		slot, created, ok, err := tr.tryInsert(tok, key, value)
		if err != nil { return nil, false, err }
		if ok {
			tok.lastValue = slot
			if created { tr.recordNewWord(len(key)) }
			return slot, created, nil
		}

		runtime.Gosched()
	}
}

// tryInsert runs a single traversal-and-commit attempt. ok is false when the commit's
// CAS lost a race to a concurrent writer and the whole attempt must be redone from the
// root; every node allocated during a losing attempt is freed locally (never lazy-freed,
// since no reader could yet observe it) before returning.
func (tr *Trie) tryInsert(tok *Token, key, value []byte) (slot []byte, created, ok bool, err error) {
	data := tr.slab.bytes()

	rootID := tr.rootID.Load()
	curr := decodeNode(data, uint64(rootID)*AlignSize, tr.opts.ValueSize)

	// parent tracking: either a real node (parentView, parentSlotIdx) or the virtual
	// root slot when curr is the root itself.
	atRoot := true
	var parentView nodeView
	var parentSlotIdx int

	pos := 0
	for {
		z := 0
		for z < len(curr.zpath) && pos+z < len(key) && key[pos+z] == curr.zpath[z] { z++ }

		switch {
			case z < len(curr.zpath) && pos+z == len(key):
				return tr.splitZPath(tok, atRoot, parentView, parentSlotIdx, curr, z, value)

			case z < len(curr.zpath):
				return tr.forkBranch(tok, atRoot, parentView, parentSlotIdx, curr, z, key, pos, value)

			default:
				pos += z
				if pos == len(key) {
					return tr.setFinal(tok, atRoot, parentView, parentSlotIdx, curr, value)
				}

				ch := key[pos]
				idx, found := findChild(&curr, ch)
				if !found {
					return tr.addStateMove(tok, atRoot, parentView, parentSlotIdx, curr, ch, key[pos+1:], value)
				}

				parentView = curr
				parentSlotIdx = idx
				atRoot = false

				curr = decodeNode(data, uint64(curr.children[idx])*AlignSize, tr.opts.ValueSize)
				pos++
		}
	}
}

// slotRef names the single child-id cell a structural operation installs its result
// into: either a real parent node's children section, or the trie's virtual root slot.
type slotRef struct {
	isRoot bool
	parent nodeView
	idx    int
}

// commit installs newID in place of oldID at ref, per the concurrent commit protocol of
// §4.5.5. For the virtual root slot it is a single CAS on tr.rootID — there is no real
// parent node to lock. For a real parent, it locks the parent's b_lock bit, marks the
// superseded child b_lazy_free (folding the "verify nothing changed" check into that
// CAS by requiring the exact flags byte observed at traversal time), CASes the slot, and
// unlocks — backing out both flags on any failure so the node is left exactly as it was
// found.
func (tr *Trie) commit(ref slotRef, oldID, newID uint32) bool {
	if ref.isRoot {
		return tr.rootID.CompareAndSwap(oldID, newID)
	}

	data := tr.slab.bytes()
	parentFlagOff := ref.parent.offset

	if !tryLockFlagBit(data, parentFlagOff, flagLock) { return false }

	oldChildFlagOff := uint64(oldID) * AlignSize
	oldChild := decodeHeader(data, oldChildFlagOff)
	snapshotFlags := encodeHeader(oldChild)[0]

	if oldChild.lazyFree || !casFlagsByte(data, oldChildFlagOff, snapshotFlags, snapshotFlags|flagLazyFree) {
		clearFlagBitAtomic(data, parentFlagOff, flagLock)
		return false
	}

	if !casChildSlot(data, childSlotOffset(&ref.parent, ref.idx), oldID, newID) {
		clearFlagBitAtomic(data, oldChildFlagOff, flagLazyFree)
		clearFlagBitAtomic(data, parentFlagOff, flagLock)
		return false
	}

	clearFlagBitAtomic(data, parentFlagOff, flagLock)
	return true
}

func makeSlotRef(atRoot bool, parent nodeView, idx int) slotRef {
	return slotRef{isRoot: atRoot, parent: parent, idx: idx}
}

// allocNode serializes nv into a freshly allocated slab range and returns its node id
// and byte size. nv.header.nChildren is (re)derived from len(nv.children) except for
// the dense fast-root layout, whose child count is implicit in the tag.
func (tr *Trie) allocNode(tok *Token, nv *nodeView) (uint32, uint64, error) {
	nv.header.nChildren = len(nv.children)
	if nv.header.tag == tagFastRoot { nv.header.nChildren = 0 }
	nv.header.zpathLen = len(nv.zpath)

	so := computeSections(nv.header.tag, nv.header.nChildren, nv.header.zpathLen, tr.opts.ValueSize, nv.header.isFinal)

	off, err := tr.slab.alloc(so.totalLen, tok.tc)
	if err != nil { return 0, 0, err }

	nv.offset = off
	data := tr.slab.bytes()
	encodeNode(data[off:off+so.totalLen], nv, tr.opts.ValueSize)

	atomic.AddInt64(&tr.numNodes, 1)
	atomic.AddInt64(&tr.totalZPathLen, int64(len(nv.zpath)))

	return uint32(off / AlignSize), so.totalLen, nil
}

// discardLocal returns a never-published node straight to the allocator, bypassing the
// lazy-free list: no reader can hold a pointer to a node this writer only just built and
// then failed to install.
func (tr *Trie) discardLocal(tok *Token, id uint32, size uint64) {
	tr.slab.free(uint64(id)*AlignSize, size, tok.tc)
	atomic.AddInt64(&tr.numNodes, -1)
}

// retire pushes a just-superseded (but previously published) node onto the writer's
// lazy-free list, keyed by the token queue's tail version as of this commit: any token
// that acquired before this commit may still be mid-traversal through the old node, and
// must not see its bytes reused until the global min_age passes this version. §3.4, §4.4.
func (tr *Trie) retire(tok *Token, id uint32, size uint64) {
	tok.lazyFree.push(lazyFreeItem{version: tr.queue.tailVerseq.Load(), nodeID: id, size: uint32(size)})
	tok.lazyFree.drain(tr.slab, tok.tc, tr.queue.minAgeNow())
	atomic.AddInt64(&tr.numNodes, -1)
}

// recordNewWord updates the key-count and max-length stats after a key is newly
// created. These are best-effort running totals (§6.8's Stats supplement), not
// recomputed from a live tree walk, so brief overcounting under contention (a retried
// attempt that created the word on a losing try, then again on the winning one) is
// possible in principle but not reachable here: created is only ever true once commit
// has actually succeeded.
func (tr *Trie) recordNewWord(keyLen int) {
	atomic.AddInt64(&tr.numWords, 1)

	for {
		cur := atomic.LoadInt64(&tr.maxWordLen)
		if int64(keyLen) <= cur { break }
		if atomic.CompareAndSwapInt64(&tr.maxWordLen, cur, int64(keyLen)) { break }
	}
}

func sizeOf(tr *Trie, nv nodeView) uint64 {
	so := computeSections(nv.header.tag, len(nv.children), len(nv.zpath), tr.opts.ValueSize, nv.header.isFinal || nv.header.tag == tagFastRoot)
	return so.totalLen
}

// buildChain allocates a linear chain of single-child nodes carrying the remaining key
// bytes, terminated by a final node holding value. Each intermediate node consumes up
// to 255 bytes of key: 254 packed into its zpath plus one more byte used as the label
// selecting its single child, since n_zpath_len is an 8-bit field. The terminal node
// carries whatever is left (up to 255 bytes) purely as zpath, with zero children.
func (tr *Trie) buildChain(tok *Token, suffix, value []byte) (uint32, uint64, error) {
	pos := len(suffix)

	termLen := pos
	if termLen > 255 { termLen = 255 }

	term := nodeView{
		header: nodeHeader{tag: tagLeaf, isFinal: true, version: tok.verseq},
		zpath:  suffix[pos-termLen : pos],
		value:  value,
	}

	id, size, err := tr.allocNode(tok, &term)
	if err != nil { return 0, 0, err }

	pos -= termLen
	prevID, prevSize := id, size

	for pos > 0 {
		take := pos
		if take > 255 { take = 255 }

		chunk := suffix[pos-take : pos]
		label := chunk[take-1]
		zpath := chunk[:take-1]

		n := nodeView{
			header:   nodeHeader{tag: tagSmallLo, version: tok.verseq},
			labels:   []byte{label},
			children: []uint32{prevID},
			zpath:    zpath,
		}

		nid, nsize, allocErr := tr.allocNode(tok, &n)
		if allocErr != nil {
			tr.discardLocal(tok, prevID, prevSize)
			return 0, 0, allocErr
		}

		prevID, prevSize = nid, nsize
		pos -= take
	}

	return prevID, prevSize, nil
}

// addStateMove implements §4.5.1: grow curr by one child at label ch, whose subtree is
// the freshly built chain for the rest of the key. A tag-15 fast root never reaches this
// path for the "replace the node" branches below — it mutates its dense slot in place.
func (tr *Trie) addStateMove(tok *Token, atRoot bool, parent nodeView, parentIdx int, curr nodeView, ch byte, rest, value []byte) ([]byte, bool, bool, error) {
	childID, childSize, err := tr.buildChain(tok, rest, value)
	if err != nil { return nil, false, false, err }

	if curr.header.tag == tagFastRoot {
		data := tr.slab.bytes()
		slotOff := childSlotOffset(&curr, int(ch))
		if !casChildSlot(data, slotOff, nilNode, childID) {
			tr.discardLocal(tok, childID, childSize)
			return nil, false, false, nil
		}

		return valueSlotFor(tr, childID, value), true, true, nil
	}

	labels := curr.labels
	if curr.header.tag == tagBitmap {
		labels = make([]byte, len(curr.children))
		for i := range labels { labels[i] = bitmapLabelAt(curr.bitmap, i) }
	}

	n := len(labels)
	newLabels := make([]byte, n+1)
	newChildren := make([]uint32, n+1)

	pos := 0
	for pos < n && labels[pos] < ch { pos++ }

	copy(newLabels, labels[:pos])
	newLabels[pos] = ch
	copy(newLabels[pos+1:], labels[pos:])

	copy(newChildren, curr.children[:pos])
	newChildren[pos] = childID
	copy(newChildren[pos+1:], curr.children[pos:])

	newTag := tagForChildCount(n+1, atRoot)

	var nv nodeView
	if newTag == tagBitmap {
		bitmap, prefix := buildBitmapIndex(newLabels)
		nv = nodeView{
			header:   nodeHeader{tag: tagBitmap, isFinal: curr.header.isFinal, version: tok.verseq},
			bitmap:   bitmap,
			prefix:   prefix,
			children: newChildren,
			zpath:    curr.zpath,
			value:    curr.value,
		}
	} else if newTag == tagFastRoot {
		dense := make([]uint32, denseChildren)
		for i := range dense { dense[i] = nilNode }
		for i, l := range newLabels { dense[l] = newChildren[i] }

		nv = nodeView{
			header:   nodeHeader{tag: tagFastRoot, isFinal: curr.header.isFinal, version: tok.verseq},
			children: dense,
			value:    curr.value,
		}
	} else {
		nv = nodeView{
			header:   nodeHeader{tag: newTag, isFinal: curr.header.isFinal, version: tok.verseq},
			labels:   newLabels,
			children: newChildren,
			zpath:    curr.zpath,
			value:    curr.value,
		}
	}

	newID, _, err := tr.allocNode(tok, &nv)
	if err != nil {
		tr.discardLocal(tok, childID, childSize)
		return nil, false, false, err
	}

	ref := makeSlotRef(atRoot, parent, parentIdx)
	if !tr.commit(ref, curr.offsetID(), newID) {
		tr.discardLocal(tok, childID, childSize)
		tr.discardLocal(tok, newID, sizeOf(tr, nv))
		return nil, false, false, nil
	}

	tr.retire(tok, curr.offsetID(), sizeOf(tr, curr))
	return valueSlotFor(tr, childID, value), true, true, nil
}

// forkBranch implements §4.5.2: the key diverges from curr's zpath partway through, and
// more key bytes follow the divergence, so a new internal node is inserted above a
// shortened copy of curr and a freshly built chain for the rest of the key.
func (tr *Trie) forkBranch(tok *Token, atRoot bool, parent nodeView, parentIdx int, curr nodeView, z int, key []byte, pos int, value []byte) ([]byte, bool, bool, error) {
	oldLabel := curr.zpath[z]
	newLabel := key[pos+z]

	suffixNV := curr
	suffixNV.header.version = tok.verseq
	suffixNV.zpath = curr.zpath[z+1:]

	suffixID, suffixSize, err := tr.allocNode(tok, &suffixNV)
	if err != nil { return nil, false, false, err }

	newSuffixID, newSuffixSize, err := tr.buildChain(tok, key[pos+z+1:], value)
	if err != nil {
		tr.discardLocal(tok, suffixID, suffixSize)
		return nil, false, false, err
	}

	var labels []byte
	var children []uint32
	if oldLabel < newLabel {
		labels = []byte{oldLabel, newLabel}
		children = []uint32{suffixID, newSuffixID}
	} else {
		labels = []byte{newLabel, oldLabel}
		children = []uint32{newSuffixID, suffixID}
	}

	parentNV := nodeView{
		header:   nodeHeader{tag: tagSmallLo, version: tok.verseq},
		labels:   labels,
		children: children,
		zpath:    curr.zpath[:z],
	}

	newID, _, err := tr.allocNode(tok, &parentNV)
	if err != nil {
		tr.discardLocal(tok, suffixID, suffixSize)
		tr.discardLocal(tok, newSuffixID, newSuffixSize)
		return nil, false, false, err
	}

	ref := makeSlotRef(atRoot, parent, parentIdx)
	if !tr.commit(ref, curr.offsetID(), newID) {
		tr.discardLocal(tok, suffixID, suffixSize)
		tr.discardLocal(tok, newSuffixID, newSuffixSize)
		tr.discardLocal(tok, newID, sizeOf(tr, parentNV))
		return nil, false, false, nil
	}

	tr.retire(tok, curr.offsetID(), sizeOf(tr, curr))
	return valueSlotFor(tr, newSuffixID, value), true, true, nil
}

// splitZPath implements §4.5.3: the key runs out strictly inside curr's zpath. A new
// final node carrying the consumed prefix and value is inserted above a shortened copy
// of curr holding the rest.
func (tr *Trie) splitZPath(tok *Token, atRoot bool, parent nodeView, parentIdx int, curr nodeView, z int, value []byte) ([]byte, bool, bool, error) {
	label := curr.zpath[z]

	suffixNV := curr
	suffixNV.header.version = tok.verseq
	suffixNV.zpath = curr.zpath[z+1:]

	suffixID, suffixSize, err := tr.allocNode(tok, &suffixNV)
	if err != nil { return nil, false, false, err }

	prefixNV := nodeView{
		header:   nodeHeader{tag: tagSmallLo, isFinal: true, version: tok.verseq},
		labels:   []byte{label},
		children: []uint32{suffixID},
		zpath:    curr.zpath[:z],
		value:    value,
	}

	newID, _, err := tr.allocNode(tok, &prefixNV)
	if err != nil {
		tr.discardLocal(tok, suffixID, suffixSize)
		return nil, false, false, err
	}

	ref := makeSlotRef(atRoot, parent, parentIdx)
	if !tr.commit(ref, curr.offsetID(), newID) {
		tr.discardLocal(tok, suffixID, suffixSize)
		tr.discardLocal(tok, newID, sizeOf(tr, prefixNV))
		return nil, false, false, nil
	}

	tr.retire(tok, curr.offsetID(), sizeOf(tr, curr))
	return valueSlotFor(tr, newID, value), true, true, nil
}

// setFinal implements §4.5.4: the key matches curr exactly. If curr was not already
// final this creates the key; otherwise it only replaces the value, and only if the
// value actually changed. The tag-15 fast root is special-cased to mutate in place via
// atomic flag/value writes rather than a node replacement, since it is never replaced.
func (tr *Trie) setFinal(tok *Token, atRoot bool, parent nodeView, parentIdx int, curr nodeView, value []byte) ([]byte, bool, bool, error) {
	if curr.header.tag == tagFastRoot {
		return tr.setFinalFastRoot(tok, curr, value)
	}

	if curr.header.isFinal && bytes.Equal(curr.value, value) {
		return valueSlotFor(tr, curr.offsetID(), value), false, true, nil
	}

	newNV := curr
	newNV.header.version = tok.verseq
	newNV.header.isFinal = true
	newNV.value = value

	newID, _, err := tr.allocNode(tok, &newNV)
	if err != nil { return nil, false, false, err }

	ref := makeSlotRef(atRoot, parent, parentIdx)
	if !tr.commit(ref, curr.offsetID(), newID) {
		tr.discardLocal(tok, newID, sizeOf(tr, newNV))
		return nil, false, false, nil
	}

	tr.retire(tok, curr.offsetID(), sizeOf(tr, curr))
	return valueSlotFor(tr, newID, value), !curr.header.isFinal, true, nil
}

// setFinalFastRoot marks the empty-string key final on a dense tag-15 root. Creating
// the key (curr not yet final) uses b_lock to serialize "write the value, then raise
// b_is_final" into a single winner: without that, two concurrent creators racing with
// different values could both copy before either's OR is visible, leaving the slot
// holding whichever copy physically ran last rather than the one the winning OR
// actually published, violating "the value write happens-before the publishing CAS"
// (§4.5.4). A concurrent loser spins on the lock, then reports the key as
// already-existing once the winner releases it. Updating an already-final key needs
// no lock: it overwrites the value in place, unlike setFinal's general path, which
// installs a new copy of the node.
func (tr *Trie) setFinalFastRoot(tok *Token, curr nodeView, value []byte) ([]byte, bool, bool, error) {
	data := tr.slab.bytes()

	valueOff := curr.offset + computeSections(tagFastRoot, 0, 0, tr.opts.ValueSize, true).valueOff
	slot := data[valueOff : valueOff+uint64(tr.opts.ValueSize)]

	if curr.header.isFinal {
		if bytes.Equal(curr.value, value) { return slot, false, true, nil }
		copy(slot, value)
		return slot, false, true, nil
	}

	for !tryLockFlagBit(data, curr.offset, flagLock) {
		if decodeHeader(data, curr.offset).isFinal { return slot, false, true, nil }
		runtime.Gosched()
	}

	if decodeHeader(data, curr.offset).isFinal {
		clearFlagBitAtomic(data, curr.offset, flagLock)
		return slot, false, true, nil
	}

	copy(slot, value)
	orFlagBitAtomic(data, curr.offset, flagIsFinal)
	clearFlagBitAtomic(data, curr.offset, flagLock)

	return slot, true, true, nil
}

// offsetID recovers the node id this view was decoded from.
func (nv nodeView) offsetID() uint32 { return uint32(nv.offset / AlignSize) }

// valueSlotFor returns the byte slice view over id's value section; used so Insert can
// hand back a live pointer without a second decode. The terminal node built by
// buildChain/setFinal always carries the just-written value at this offset.
func valueSlotFor(tr *Trie, id uint32, value []byte) []byte {
	data := tr.slab.bytes()
	off := uint64(id) * AlignSize
	h := decodeHeader(data, off)
	so := computeSections(h.tag, h.nChildren, h.zpathLen, tr.opts.ValueSize, true)
	return data[off+so.valueOff : off+so.valueOff+uint64(len(value))]
}
