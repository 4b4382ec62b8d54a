package patricia

import "sort"


// iterFrame is one level of an Iterator's explicit traversal stack: the decoded node,
// the full key it would represent if final (its accumulated zpath), and a cursor into
// its children in ascending label order.
type iterFrame struct {
	nv       nodeView
	key      []byte
	childIdx int
	emitted  bool
}

// Iterator walks the trie's keys in ascending order. It is pinned to the token that
// created it: the token's acquired epoch keeps every node the iterator might still
// visit from being reclaimed, even across intervening writer commits elsewhere in the
// tree — a snapshot read, per §4.6.
type Iterator struct {
	tr   *Trie
	tok  *Token
	data mmapBuf

	stack []iterFrame

	// reversed records that the last positioning call walked backward (Prev/SeekLast),
	// so the next Next() must rebuild a forward stack from the current key rather than
	// resume one built for descending traversal.
	reversed bool

	curKey, curValue []byte
	ok               bool
}

// Iterator returns a new ordered iterator snapshotted against tok's current epoch.
// Call SeekFirst, SeekLast, or SeekLowerBound before Key/Value/Next/Prev.
func (tr *Trie) Iterator(tok *Token) *Iterator {
	return &Iterator{tr: tr, tok: tok, data: tr.slab.bytes()}
}

func (it *Iterator) root() nodeView {
	return decodeNode(it.data, uint64(it.tr.rootID.Load())*AlignSize, it.tr.opts.ValueSize)
}

// SeekFirst positions the iterator at the smallest key in the trie.
func (it *Iterator) SeekFirst() bool {
	root := it.root()
	it.stack = []iterFrame{{nv: root, key: append([]byte(nil), root.zpath...)}}
	it.reversed = false
	return it.advance()
}

// SeekLast positions the iterator at the largest key in the trie.
func (it *Iterator) SeekLast() bool {
	root := it.root()
	it.stack = []iterFrame{{nv: root, key: append([]byte(nil), root.zpath...), childIdx: lastChildIdx(root)}}
	it.reversed = true
	return it.retreat()
}

// SeekLowerBound positions the iterator at the smallest key >= target.
func (it *Iterator) SeekLowerBound(target []byte) bool {
	it.stack = it.tr.buildLowerBoundStack(it.data, it.root(), nil, target, 0)
	it.reversed = false
	return it.advance()
}

// Next advances to the next key in ascending order. Calling it after a Prev() rebuilds
// the forward stack from the current key, since the two directions keep independent
// cursors rather than a single doubly-navigable one.
func (it *Iterator) Next() bool {
	if it.reversed && it.ok {
		it.stack = it.tr.buildLowerBoundStack(it.data, it.root(), nil, nextKeyAfter(it.curKey), 0)
	}
	it.reversed = false
	return it.advance()
}

// Prev retreats to the previous key in ascending order (the largest key strictly less
// than the current one).
func (it *Iterator) Prev() bool {
	it.stack = it.tr.buildUpperBoundStack(it.data, it.root(), nil, it.curKey, 0, it.ok)
	it.reversed = true
	return it.retreat()
}

// Key returns the key at the iterator's current position. Valid only after a seek/Next/
// Prev call returned true.
func (it *Iterator) Key() []byte { return it.curKey }

// Value returns the value at the iterator's current position.
func (it *Iterator) Value() []byte { return it.curValue }

// Valid reports whether the iterator is currently positioned on a key.
func (it *Iterator) Valid() bool { return it.ok }

// advance runs the shared forward-traversal loop: visit self (if final and not yet
// emitted), then descend into the next unvisited child in ascending label order,
// popping frames whose children are exhausted.
func (it *Iterator) advance() bool {
	for len(it.stack) > 0 {
		top := &it.stack[len(it.stack)-1]

		if !top.emitted {
			top.emitted = true
			if top.nv.header.isFinal {
				it.curKey = append([]byte(nil), top.key...)
				it.curValue = append([]byte(nil), top.nv.value...)
				it.ok = true
				return true
			}
		}

		childID, label, nextIdx, found := nextChildFrom(top.nv, top.childIdx)
		if !found {
			it.stack = it.stack[:len(it.stack)-1]
			continue
		}

		top.childIdx = nextIdx
		child := decodeNode(it.data, uint64(childID)*AlignSize, it.tr.opts.ValueSize)
		childKey := append(append(append([]byte(nil), top.key...), label), child.zpath...)
		it.stack = append(it.stack, iterFrame{nv: child, key: childKey})
	}

	it.ok = false
	return false
}

// retreat is advance's mirror for descending order: visit children in descending label
// order first, then self last, since a final node's key always sorts before any of its
// descendants' keys.
func (it *Iterator) retreat() bool {
	for len(it.stack) > 0 {
		top := &it.stack[len(it.stack)-1]

		childID, label, nextIdx, found := prevChildFrom(top.nv, top.childIdx)
		if found {
			top.childIdx = nextIdx
			child := decodeNode(it.data, uint64(childID)*AlignSize, it.tr.opts.ValueSize)
			childKey := append(append(append([]byte(nil), top.key...), label), child.zpath...)
			it.stack = append(it.stack, iterFrame{nv: child, key: childKey, childIdx: lastChildIdx(child)})
			continue
		}

		it.stack = it.stack[:len(it.stack)-1]
		if top.nv.header.isFinal {
			it.curKey = append([]byte(nil), top.key...)
			it.curValue = append([]byte(nil), top.nv.value...)
			it.ok = true
			return true
		}
	}

	it.ok = false
	return false
}

// lastChildIdx returns the starting childIdx cursor for a rightmost-first (descending)
// walk: the last slot (label 255) for dense nodes, or the final array index for others.
func lastChildIdx(nv nodeView) int {
	if nv.header.tag == tagFastRoot { return denseChildren - 1 }
	return len(nv.children) - 1
}

// nextChildFrom returns the first child at or after childIdx in ascending label order.
// For inline/bitmap tags childIdx is a children-array index; for the dense fast root it
// is a label value, since empty slots must be skipped by scanning.
func nextChildFrom(nv nodeView, childIdx int) (childID uint32, label byte, nextIdx int, found bool) {
	if nv.header.tag == tagFastRoot {
		for c := childIdx; c < denseChildren; c++ {
			if nv.children[c] != nilNode { return nv.children[c], byte(c), c + 1, true }
		}
		return 0, 0, 0, false
	}

	if childIdx >= len(nv.children) { return 0, 0, 0, false }
	return nv.children[childIdx], labelFor(nv, childIdx), childIdx + 1, true
}

// prevChildFrom is nextChildFrom's mirror: the last child at or before childIdx in
// descending label order.
func prevChildFrom(nv nodeView, childIdx int) (childID uint32, label byte, nextIdx int, found bool) {
	if nv.header.tag == tagFastRoot {
		for c := childIdx; c >= 0; c-- {
			if nv.children[c] != nilNode { return nv.children[c], byte(c), c - 1, true }
		}
		return 0, 0, 0, false
	}

	if childIdx < 0 || childIdx >= len(nv.children) { return 0, 0, 0, false }
	return nv.children[childIdx], labelFor(nv, childIdx), childIdx - 1, true
}

// findChildOrNext locates the smallest child label >= ch. found reports an exact match;
// exists reports whether any such label exists at all (false means every label is < ch).
func findChildOrNext(nv nodeView, ch byte) (idx int, found, exists bool) {
	switch nv.header.tag {
		case tagLeaf:
			return 0, false, false

		case tagFastRoot:
			for c := int(ch); c < denseChildren; c++ {
				if nv.children[c] != nilNode { return c, c == int(ch), true }
			}
			return 0, false, false

		case tagBitmap:
			for c := int(ch); c < 256; c++ {
				if bitmapTest(nv.bitmap, byte(c)) { return bitmapRank(nv.bitmap, nv.prefix, byte(c)), c == int(ch), true }
			}
			return 0, false, false

		default:
			n := len(nv.labels)
			pos := sort.Search(n, func(i int) bool { return nv.labels[i] >= ch })
			if pos >= n { return 0, false, false }
			return pos, nv.labels[pos] == ch, true
	}
}

// findChildOrPrev is findChildOrNext's mirror: the largest label <= ch.
func findChildOrPrev(nv nodeView, ch byte) (idx int, found, exists bool) {
	switch nv.header.tag {
		case tagLeaf:
			return 0, false, false

		case tagFastRoot:
			for c := int(ch); c >= 0; c-- {
				if nv.children[c] != nilNode { return c, c == int(ch), true }
			}
			return 0, false, false

		case tagBitmap:
			for c := int(ch); c >= 0; c-- {
				if bitmapTest(nv.bitmap, byte(c)) { return bitmapRank(nv.bitmap, nv.prefix, byte(c)), c == int(ch), true }
			}
			return 0, false, false

		default:
			n := len(nv.labels)
			pos := sort.Search(n, func(i int) bool { return nv.labels[i] > ch })
			if pos == 0 { return 0, false, false }
			return pos - 1, nv.labels[pos-1] == ch, true
	}
}

// buildLowerBoundStack builds the traversal stack positioned at the smallest key >=
// target: a root-to-leaf path of frames whose childIdx cursors are set to resume
// exactly where target's subtree begins, per node.
func (tr *Trie) buildLowerBoundStack(data mmapBuf, nv nodeView, keyPrefix, target []byte, pos int) []iterFrame {
	z := 0
	for z < len(nv.zpath) && pos+z < len(target) && target[pos+z] == nv.zpath[z] { z++ }
	selfKey := append(append([]byte(nil), keyPrefix...), nv.zpath...)

	if z < len(nv.zpath) {
		if pos+z == len(target) || target[pos+z] < nv.zpath[z] {
			return []iterFrame{{nv: nv, key: selfKey}}
		}
		return nil
	}

	pos += z
	if pos >= len(target) {
		return []iterFrame{{nv: nv, key: selfKey}}
	}

	ch := target[pos]
	idx, found, exists := findChildOrNext(nv, ch)
	if !exists { return nil }
	if !found {
		return []iterFrame{{nv: nv, key: selfKey, childIdx: idx, emitted: true}}
	}

	child := decodeNode(data, uint64(nv.children[idx])*AlignSize, tr.opts.ValueSize)
	sub := tr.buildLowerBoundStack(data, child, append(selfKey, ch), target, pos+1)
	if sub == nil {
		nextIdx, doneIdx := advanceChildCursor(nv, idx)
		if nextIdx == doneIdx { return []iterFrame{{nv: nv, key: selfKey, childIdx: doneIdx, emitted: true}} }
		return []iterFrame{{nv: nv, key: selfKey, childIdx: nextIdx, emitted: true}}
	}

	frame := iterFrame{nv: nv, key: selfKey, childIdx: idx + 1, emitted: true}
	return append([]iterFrame{frame}, sub...)
}

// buildUpperBoundStack builds the traversal stack positioned at the largest key
// strictly less than target (or the largest key overall, if hasTarget is false — used
// when the iterator has never been positioned and Prev() is called directly, though
// callers normally reach Prev only after a prior seek).
func (tr *Trie) buildUpperBoundStack(data mmapBuf, nv nodeView, keyPrefix, target []byte, pos int, hasTarget bool) []iterFrame {
	if !hasTarget {
		return []iterFrame{{nv: nv, key: append(append([]byte(nil), keyPrefix...), nv.zpath...), childIdx: lastChildIdx(nv)}}
	}

	z := 0
	for z < len(nv.zpath) && pos+z < len(target) && target[pos+z] == nv.zpath[z] { z++ }
	selfKey := append(append([]byte(nil), keyPrefix...), nv.zpath...)

	if z < len(nv.zpath) {
		if target[pos+z] > nv.zpath[z] {
			return []iterFrame{{nv: nv, key: selfKey, childIdx: lastChildIdx(nv)}}
		}
		return nil
	}

	pos += z
	if pos >= len(target) {
		// self's key equals or is a prefix of target: nothing in this subtree is < target
		// except possibly self, and self == target is excluded (strict).
		return nil
	}

	ch := target[pos]
	idx, found, exists := findChildOrPrev(nv, ch)

	var sub []iterFrame
	if exists && found {
		child := decodeNode(data, uint64(nv.children[idx])*AlignSize, tr.opts.ValueSize)
		sub = tr.buildUpperBoundStack(data, child, append(selfKey, ch), target, pos+1, true)
	}

	if sub != nil {
		frame := iterFrame{nv: nv, key: selfKey, childIdx: retreatChildCursor(nv, idx)}
		return append([]iterFrame{frame}, sub...)
	}

	// Either no child <= ch matched target's next byte exactly and usefully, or its
	// subtree had nothing < target: fall back to self (if final) plus every child
	// strictly before ch.
	startIdx := idx
	if exists && found { startIdx = retreatChildCursor(nv, idx) }

	return []iterFrame{{nv: nv, key: selfKey, childIdx: startIdx}}
}

// advanceChildCursor returns the children-array index (or dense label) immediately
// after idx, plus the "nothing further" sentinel value for nv's tag.
func advanceChildCursor(nv nodeView, idx int) (next, done int) {
	if nv.header.tag == tagFastRoot { return idx + 1, denseChildren }
	return idx + 1, len(nv.children)
}

// retreatChildCursor returns the children-array index (or dense label) immediately
// before idx, suitable as a descending-walk resume cursor.
func retreatChildCursor(nv nodeView, idx int) int {
	return idx - 1
}

// nextKeyAfter returns the lexicographically smallest byte string strictly greater
// than key, by appending a zero byte — every key in the trie that is > key either
// diverges before len(key) or extends past it, and no valid key equals key followed
// immediately by nothing, so key+0x00 is always a safe strict lower bound.
func nextKeyAfter(key []byte) []byte {
	return append(append([]byte(nil), key...), 0)
}
