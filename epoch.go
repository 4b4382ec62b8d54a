package patricia

import "sync/atomic"


// tokenState is the state machine driving AcquireReader/AcquireWriter, Release, Idle
// and Dispose, per §3.3.
type tokenState int32

const (
	AcquireIdle tokenState = iota
	AcquireLock
	AcquireDone
	ReleaseWait
	ReleaseDone
	DisposeWait
	DisposeDone
)

// Token is a per-accessor handle bound to a Trie: a pointer to the trie, the version
// at which it joined the queue, and a link into the FIFO epoch queue. Writer tokens
// additionally carry an out-pointer to the most recently written value slot.
type Token struct {
	trie *Trie

	writer bool

	state atomic.Int32

	verseq uint64 // assigned at enqueue time, under the queue's headLock
	minAge uint64 // snapshot of min_age as of acquire: a lower bound on reclaimable epochs

	next atomic.Pointer[Token] // intrusive FIFO link
	isHead atomic.Bool

	// lastValue is the value slot pointer from this token's most recent successful
	// Insert, kept so callers can read it back without a second traversal.
	lastValue []byte

	lazyFree *lazyFreeList
	tc       *threadCache
}

func (t *Token) getState() tokenState { return tokenState(t.state.Load()) }
func (t *Token) setState(s tokenState) { t.state.Store(int32(s)) }
func (t *Token) casState(from, to tokenState) bool {
	return t.state.CompareAndSwap(int32(from), int32(to))
}

// tokenQueue is the singly-linked intrusive FIFO of acquired tokens, ordered by
// version. The dummy head never represents a real accessor; headLock is the single-bit
// CAS guarding mutation of head/tail linkage. §4.3.
type tokenQueue struct {
	dummy Token

	headLock atomic.Bool
	headIsDead atomic.Bool
	headIsIdle atomic.Bool

	head atomic.Pointer[Token] // current logical head (oldest live token, or &dummy)
	tail atomic.Pointer[Token]

	tailVerseq atomic.Uint64
	minAge     atomic.Uint64
}

func newTokenQueue() *tokenQueue {
	q := &tokenQueue{}
	q.head.Store(&q.dummy)
	q.tail.Store(&q.dummy)
	q.dummy.setState(ReleaseDone)
	q.dummy.isHead.Store(true)

	return q
}

func (q *tokenQueue) lockHead() bool {
	return q.headLock.CompareAndSwap(false, true)
}

func (q *tokenQueue) unlockHead() {
	q.headLock.Store(false)
}

// acquire appends token to the tail with a freshly assigned version, per §4.3.
// If the token was mid-release it is first restored to AcquireDone.
func (q *tokenQueue) acquire(t *Token) {
	for !q.lockHead() { }
	defer q.unlockHead()

	// A re-acquired token may still sit at the head if its release lost the headLock
	// race; move the head past it before it is linked in again at the tail.
	q.advanceHeadLocked()
	t.setState(AcquireDone)

	verseq := q.tailVerseq.Add(1)
	t.verseq = verseq
	t.minAge = q.minAge.Load()
	t.isHead.Store(false)
	t.next.Store(nil)

	tail := q.tail.Load()
	if tail == t {
		// t is the only token in the queue: it stays head under its new version.
		t.isHead.Store(true)
		q.minAge.Store(verseq)
		return
	}
	tail.next.Store(t)
	q.tail.Store(t)

	// The dummy (and any already-retired token) is always immediately skippable,
	// so advance the head eagerly rather than waiting for a release to trigger it.
	q.advanceHeadLocked()
}

// release transitions t out of the live set. If t was the queue head, release
// advances the head past contiguous ReleaseDone tokens, bumping min_age. If the
// caller can't take headLock, it marks head_is_dead and returns — wait-free, per §4.3:
// the next acquire advances the head first and so finishes the cleanup.
func (q *tokenQueue) release(t *Token) {
	t.setState(ReleaseWait)
	t.setState(ReleaseDone)

	if !t.isHead.Load() { return }

	if !q.lockHead() {
		q.headIsDead.Store(true)
		return
	}
	defer q.unlockHead()

	q.advanceHeadLocked()
}

// advanceHeadLocked must be called with headLock held. It walks forward from the
// current head while the head token is ReleaseDone or DisposeWait/Done, retiring
// each one and raising min_age to the new head's verseq.
func (q *tokenQueue) advanceHeadLocked() {
	count := 0
	for count < maxDelPtrs {
		cur := q.head.Load()
		nxt := cur.next.Load()
		if nxt == nil { break }

		st := cur.getState()
		if cur != &q.dummy && st != ReleaseDone && st != DisposeWait && st != DisposeDone { break }

		cur.isHead.Store(false)
		nxt.isHead.Store(true)
		q.head.Store(nxt)
		q.minAge.Store(nxt.verseq)
		count++
	}

	q.headIsDead.Store(false)
}

// reclaimHead is a standalone cleanup entrypoint: it takes headLock (if free) and
// advances the head, skipping at most maxDelPtrs tokens, per §4.3. Nothing in the
// package calls it; acquire and release advance the head themselves.
// It never surfaces an error; contention just means "no-op this call", per §7.
func (q *tokenQueue) reclaimHead() {
	if !q.lockHead() { return }
	defer q.unlockHead()

	q.advanceHeadLocked()
}

// dispose is only legal outside the head state; it marks the token for cleanup once
// it becomes head and is past reader use.
func (q *tokenQueue) dispose(t *Token) error {
	if t.isHead.Load() { return ErrLogicError }

	if !t.casState(ReleaseDone, DisposeWait) && !t.casState(AcquireDone, DisposeWait) {
		return ErrLogicError
	}

	t.setState(DisposeDone)
	return nil
}

// mtUpdate is a head-owning writer periodically re-enqueuing itself at the tail so
// its old version stops pinning the lazy-free reclamation point, per §4.3.
func (q *tokenQueue) mtUpdate(t *Token) {
	if !t.isHead.Load() { return }

	q.release(t)
	q.acquire(t)
}

// minAgeNow is the current global minimum live epoch: nodes freed with a version
// strictly below this are eligible for reclamation.
func (q *tokenQueue) minAgeNow() uint64 {
	return q.minAge.Load()
}

// --- Trie-facing Token API, §6.3 ---

// AcquireReader binds a new read-only token to the trie.
func (tr *Trie) AcquireReader() *Token {
	t := &Token{trie: tr, writer: false}
	t.setState(AcquireIdle)
	tr.queue.acquire(t)

	return t
}

// AcquireWriter binds a new writer token to the trie. In single-threaded modes the
// caller is expected to serialize its own writers; in multi-writer mode any number
// of writer tokens may be acquired concurrently.
func (tr *Trie) AcquireWriter() *Token {
	t := &Token{trie: tr, writer: true}
	t.setState(AcquireIdle)
	tr.queue.acquire(t)

	t.lazyFree = tr.lazyFreeListFor(t)
	if tr.opts.ConcurrencyLevel == MultiWriteMultiRead { t.tc = newThreadCache(tr.slab) }

	return t
}

// Release marks the token released so the queue head can advance past it, without
// destroying it; no method re-acquires it afterwards. Any pointers previously returned
// to this token must not be used afterwards — reclamation may now proceed past this token's pinned version.
func (t *Token) Release() {
	t.trie.queue.release(t)
}

// Dispose permanently retires the token. It is a LogicError to dispose a token that
// is currently the queue head (i.e. still pinning the oldest live epoch) — release it
// first.
func (t *Token) Dispose() error {
	if err := t.trie.queue.dispose(t); err != nil { return err }

	if t.writer {
		t.trie.writerLazyFreeMu.Lock()
		delete(t.trie.writerLazyFree, t)
		t.trie.writerLazyFreeMu.Unlock()
	}

	return nil
}

// Idle advances the token out of the head slot without a full release, per §6.3's
// idle(token). It is implemented as mt_update: re-enqueue at the tail under a fresh
// version so the token's old version stops pinning reclamation, while the token
// remains acquired.
func (t *Token) Idle() {
	t.trie.queue.mtUpdate(t)
}
