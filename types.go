package patricia

import "sync"
import "sync/atomic"


// ConcurrencyLevel selects how a Trie's slab grows and whether writer tokens get a
// per-writer free-list cache. Every level uses the same Insert path and CAS commit.
type ConcurrencyLevel int

const (
	// SingleThreadStrict: one goroutine touches the trie, ever.
	SingleThreadStrict ConcurrencyLevel = iota
	// SingleThreadShared: one writer plus any number of iterators/readers that never mutate.
	SingleThreadShared
	// OneWriteMultiRead: one writer goroutine, many concurrent readers.
	OneWriteMultiRead
	// MultiWriteMultiRead: many writer goroutines, many readers. The only mode whose writer tokens get a thread cache.
	MultiWriteMultiRead
	// ReadOnly: the trie was loaded from a persisted image. Insert fails with ErrInvalidArgument.
	ReadOnly
)

// TrieOpts configures a Trie at construction.
type TrieOpts struct {
	// ConcurrencyLevel: selects the slab growth strategy and writer free-list caching. The
	// zero value is SingleThreadStrict; set it explicitly for any other mode.
	ConcurrencyLevel ConcurrencyLevel
	// MaxMemory: positive reserves and commits incrementally; negative allocates |MaxMemory| bytes up front.
	MaxMemory int64
	// ValueSize: fixed size, in bytes, of every value slot. Must be a multiple of AlignSize.
	ValueSize int
	// FilePath: optional backing file for the slab. Empty means an anonymous mapping.
	FilePath string
}

// Trie is a concurrent, in-memory Patricia trie backed by a single slab.
type Trie struct {
	opts TrieOpts

	slab *slab

	// rootID holds the node id of the current root node. The root's identity as an
	// *entry point* is constant (callers never see anything else), but its underlying
	// node is replaced by path-copy exactly like any other node; rootID is the CAS
	// target that stands in for "the parent slot" at the top of the tree, since the
	// root has no real parent to hold one. §3.2, §4.5.5.
	rootID atomic.Uint32

	queue *tokenQueue

	// writerLazyFree holds the lazy-free list of every writer token not yet disposed,
	// keyed by token pointer.
	writerLazyFreeMu sync.Mutex
	writerLazyFree   map[*Token]*lazyFreeList

	// stats are global counters updated atomically by every insert; there are no
	// per-writer counters to merge.
	numNodes      int64
	numWords      int64
	totalZPathLen int64
	maxWordLen    int64

	closed atomic.Bool
}

// KeyValue is a single key/value pair. The iterator and ForEachPrefix hand back keys and
// values as separate slices, not as a KeyValue.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// Stats reports the trie's global running counters.
type Stats struct {
	NumNodes      int64
	NumWords      int64
	MaxWordLen    int64
	TotalZPathLen int64
}

const (
	// AlignSize is the cell width nodes are packed and padded to. 8 keeps every field
	// that matters (node ids, offsets, versions) naturally aligned.
	AlignSize = 8

	// NodeIDSize is the width of a node id (offset / AlignSize) as stored in a child slot.
	NodeIDSize = 4

	// nilNode is the all-ones sentinel node id: "no child here".
	nilNode uint32 = 0xFFFFFFFF

	// headerSize is the fixed-width node header: flags, reserved, n_children, n_zpath_len, reserved, version.
	headerSize = 16

	// bitmapSectionSize is the tag-8 256-bit bitmap (8 x uint32) plus its rank prefix-popcount index (8 x uint32).
	bitmapSectionSize = 64

	// denseChildren is the number of slots in a tag-15 fast-root dense child array.
	denseChildren = 256

	// maxInlineChildren is the largest n_children that still uses an inline sorted label array (tags 0..7).
	maxInlineChildren = 16

	// bitmapPromoteThreshold is n_children at which a tag-8 node is promoted to the tag-15 dense root.
	bitmapPromoteThreshold = 64

	// MaxValueSize bounds value slots in multi-writer mode.
	MaxValueSize = 128

	// bulkFreeNum is the maximum number of lazy-free entries drained per allocation, per §4.4.
	bulkFreeNum = 32

	// maxDelPtrs bounds how many dead tokens reclaim_head cleans up per call, per §4.3.
	maxDelPtrs = 16
)

// node tag values, per spec §3.1. Tags 1, 3 and 7 share the same inline-label packing;
// the tag number itself is derived from n_children and is kept only for the on-disk
// contract and for branch dispatch, not as a separate code path per tag.
const (
	tagLeaf        uint8 = 0  // 0 children, final leaf only
	tagSmallLo     uint8 = 1  // 1..2 children, inline labels
	tagMedLo       uint8 = 3  // 3..6 children, inline labels
	tagWide        uint8 = 7  // 7..16 children, inline labels
	tagBitmap      uint8 = 8  // 17..255 children, bitmap + rank index
	tagFastRoot    uint8 = 15 // 256 children, dense array, root only
)

// node header flag bits, packed into the first header byte.
const (
	flagIsFinal   = 1 << 3
	flagLazyFree  = 1 << 2
	flagLock      = 1 << 1
	flagSetFinal  = 1 << 0
)
