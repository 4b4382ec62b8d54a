package patricia


// Lookup performs a read-only, wait-free traversal for key, returning its value slot
// (a live view into the slab, valid until tok is released or advanced past the node's
// reclamation point) and whether the key exists. Lookup never blocks on a writer: it
// only ever reads already-published node bytes, per §4.6.
func (tr *Trie) Lookup(tok *Token, key []byte) ([]byte, bool) {
	data := tr.slab.bytes()

	id := tr.rootID.Load()
	pos := 0

	for {
		nv := decodeNode(data, uint64(id)*AlignSize, tr.opts.ValueSize)

		z := 0
		for z < len(nv.zpath) && pos+z < len(key) && key[pos+z] == nv.zpath[z] { z++ }
		if z != len(nv.zpath) { return nil, false }

		pos += z
		if pos == len(key) {
			if !nv.header.isFinal { return nil, false }
			so := computeSections(nv.header.tag, nv.header.nChildren, nv.header.zpathLen, tr.opts.ValueSize, true)
			return data[nv.offset+so.valueOff : nv.offset+so.valueOff+uint64(tr.opts.ValueSize)], true
		}

		ch := key[pos]
		idx, found := findChild(&nv, ch)
		if !found { return nil, false }

		id = nv.children[idx]
		pos++
	}
}

// CountPrefix returns the number of keys in the trie that begin with prefix, by
// descending to the subtree rooted at the end of the matched prefix (consuming a
// partial zpath) and counting final nodes beneath it.
func (tr *Trie) CountPrefix(tok *Token, prefix []byte) int {
	count := 0
	tr.ForEachPrefix(tok, prefix, func(_, _ []byte) bool { count++; return true })
	return count
}

// ForEachPrefix visits every key/value pair whose key begins with prefix, in ascending
// label order, calling fn until it returns false or the subtree is exhausted.
func (tr *Trie) ForEachPrefix(tok *Token, prefix []byte, fn func(key, value []byte) bool) {
	data := tr.slab.bytes()

	id := tr.rootID.Load()
	pos := 0
	matched := make([]byte, 0, len(prefix)+16)

	for pos < len(prefix) {
		nv := decodeNode(data, uint64(id)*AlignSize, tr.opts.ValueSize)

		z := 0
		for z < len(nv.zpath) && pos+z < len(prefix) && prefix[pos+z] == nv.zpath[z] { z++ }

		if z < len(nv.zpath) {
			// The prefix is exhausted exactly inside this node's zpath: everything
			// below is a match. A true mismatch (prefix continues past z) means no
			// key in the trie can start with prefix.
			if pos+z == len(prefix) {
				walkSubtree(data, tr.opts.ValueSize, nv, matched, fn)
			}
			return
		}

		pos += z
		if pos >= len(prefix) { break }
		matched = append(matched, nv.zpath...)

		ch := prefix[pos]
		idx, found := findChild(&nv, ch)
		if !found { return }

		matched = append(matched, ch)
		id = nv.children[idx]
		pos++
	}

	nv := decodeNode(data, uint64(id)*AlignSize, tr.opts.ValueSize)
	walkSubtree(data, tr.opts.ValueSize, nv, matched, fn)
}

// walkSubtree performs a pre-order, label-ascending walk of the subtree rooted at nv,
// calling fn for every final node reached, and stopping as soon as fn returns false.
func walkSubtree(data mmapBuf, valueSize int, nv nodeView, prefix []byte, fn func(key, value []byte) bool) bool {
	key := append(append([]byte(nil), prefix...), nv.zpath...)

	if nv.header.isFinal {
		if !fn(key, nv.value) { return false }
	}

	if nv.header.tag == tagFastRoot {
		for label := 0; label < denseChildren; label++ {
			childID := nv.children[label]
			if childID == nilNode { continue }

			child := decodeNode(data, uint64(childID)*AlignSize, valueSize)
			if !walkSubtree(data, valueSize, child, append(key, byte(label)), fn) { return false }
		}
		return true
	}

	for i, childID := range nv.children {
		label := labelFor(nv, i)
		child := decodeNode(data, uint64(childID)*AlignSize, valueSize)
		if !walkSubtree(data, valueSize, child, append(key, label), fn) { return false }
	}

	return true
}

// labelFor recovers the branch byte leading to nv.children[i], the one byte consumed
// between a node's zpath and its child, valid for every non-dense tag.
func labelFor(nv nodeView, i int) byte {
	if nv.header.tag == tagBitmap { return bitmapLabelAt(nv.bitmap, i) }
	return nv.labels[i]
}

// bitmapLabelAt inverts bitmapRank: returns the byte whose rank among set bits of
// bitmap is i, by walking words in order and counting set bits within each.
func bitmapLabelAt(bitmap [8]uint32, i int) byte {
	rank := 0
	for word := 0; word < 8; word++ {
		w := bitmap[word]
		for bit := 0; bit < 32; bit++ {
			if w&(1<<bit) == 0 { continue }
			if rank == i { return byte(word*32 + bit) }
			rank++
		}
	}
	return 0
}
