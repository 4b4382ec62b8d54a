package patricia

import "errors"


// Error kinds, per spec §7. Transient contention (CAS failure, queue-lock contention) is
// never surfaced here — it is retried internally by the insert engine.
var (
	// ErrOutOfMemory: the slab is at its configured cap.
	ErrOutOfMemory = errors.New("patricia: slab allocator out of memory")
	// ErrInvalidArgument: a value size is misaligned, exceeds the mode cap, or a write
	// was attempted on a read-only trie.
	ErrInvalidArgument = errors.New("patricia: invalid argument")
	// ErrLogicError: caller misuse of a token (inserting through a reader token, or
	// disposing a token that is the queue head or already disposed).
	ErrLogicError = errors.New("patricia: logic error")
	// ErrCorruption: a persisted image failed its magic, version or length check on load.
	// Images carry no checksum, so damaged node bytes are not detected.
	ErrCorruption = errors.New("patricia: corrupted image")
	// ErrKeyNotFound: lookup found no entry for the key.
	ErrKeyNotFound = errors.New("patricia: key not found")
	// ErrIteratorExhausted: next/prev advanced past the end/start of the keyspace.
	ErrIteratorExhausted = errors.New("patricia: iterator exhausted")
)
