package patricia

import "os"
import "sync/atomic"


// imageMagic identifies a persisted trie image on disk; imageVersion is the on-disk
// layout version, bumped whenever the header or block format changes.
const (
	imageMagic   uint32 = 0x54524950 // "PIRT" (patricia, little-endian)
	imageVersion uint32 = 1

	// imageHeaderSize: magic(4) + version(4) + valueSize(4) + rootID(4) + numNodes(8) +
	// usedBytes(8) + appDataOff(8) + appDataLen(8), already a multiple of AlignSize.
	imageHeaderSize = 48
)

// imageHeader is the fixed prefix of a persisted image: enough to validate the file and
// locate both the slab body and an optional trailing application-data block, per §6.2/
// §6.8's export for the succinct-index collaborator.
type imageHeader struct {
	magic      uint32
	version    uint32
	valueSize  uint32
	rootID     uint32
	numNodes   uint64
	usedBytes  uint64
	appDataOff uint64
	appDataLen uint64
}

func encodeImageHeader(h imageHeader) [imageHeaderSize]byte {
	var buf [imageHeaderSize]byte
	putLeUint32(buf[0:4], h.magic)
	putLeUint32(buf[4:8], h.version)
	putLeUint32(buf[8:12], h.valueSize)
	putLeUint32(buf[12:16], h.rootID)
	putLeUint64(buf[16:24], h.numNodes)
	putLeUint64(buf[24:32], h.usedBytes)
	putLeUint64(buf[32:40], h.appDataOff)
	putLeUint64(buf[40:48], h.appDataLen)
	return buf
}

func decodeImageHeader(b []byte) (imageHeader, error) {
	if len(b) < imageHeaderSize { return imageHeader{}, ErrCorruption }

	h := imageHeader{
		magic:      leUint32(b[0:4]),
		version:    leUint32(b[4:8]),
		valueSize:  leUint32(b[8:12]),
		rootID:     leUint32(b[12:16]),
		numNodes:   leUint64(b[16:24]),
		usedBytes:  leUint64(b[24:32]),
		appDataOff: leUint64(b[32:40]),
		appDataLen: leUint64(b[40:48]),
	}

	if h.magic != imageMagic { return imageHeader{}, ErrCorruption }
	if h.version != imageVersion { return imageHeader{}, ErrCorruption }

	return h, nil
}

// Save writes a standalone, read-only image of the trie's current committed state to
// path: a header, followed by the live prefix of the slab verbatim (node ids are
// offsets, so the image is mmap-loadable with zero deserialization), followed by an
// optional trailing application-data block for a collaborating succinct index. Save
// copies the slab's live bytes without excluding writers, so the image is a consistent
// snapshot only when no writer commits while Save runs. §6.2, §6.8.
func (tr *Trie) Save(path string, appData []byte) error {
	data := tr.slab.bytes()
	used := roundUp(loadUsed(tr.slab), AlignSize)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil { return err }
	defer f.Close()

	h := imageHeader{
		magic:     imageMagic,
		version:   imageVersion,
		valueSize: uint32(tr.opts.ValueSize),
		rootID:    tr.rootID.Load(),
		numNodes:  uint64(loadNumNodes(tr)),
		usedBytes: used,
	}

	if len(appData) > 0 {
		h.appDataOff = imageHeaderSize + used
		h.appDataLen = uint64(len(appData))
	}

	hdr := encodeImageHeader(h)
	if _, writeErr := f.Write(hdr[:]); writeErr != nil { return writeErr }
	if _, writeErr := f.Write(data[:used]); writeErr != nil { return writeErr }
	if len(appData) > 0 {
		if _, writeErr := f.Write(appData); writeErr != nil { return writeErr }
	}

	return f.Sync()
}

// OpenImage loads a persisted image as a read-only Trie. Insert fails with
// ErrInvalidArgument on the result, matching the ReadOnly concurrency level; Lookup,
// Iterator, CountPrefix, and ForEachPrefix all work normally against the loaded bytes.
//
// The image is read fully into memory rather than mapped read-only: mapRegion only
// exposes PROT_READ|PROT_WRITE/MAP_SHARED or anonymous mappings (§4.1's write path
// needs both), and a true read-only mmap would need a second platform-specific entry
// point for no benefit at the sizes this exercise targets — see DESIGN.md.
func OpenImage(path string) (*Trie, []byte, error) {
	full, err := os.ReadFile(path)
	if err != nil { return nil, nil, err }

	h, decErr := decodeImageHeader(full)
	if decErr != nil { return nil, nil, decErr }

	if uint64(len(full)) < imageHeaderSize+h.usedBytes { return nil, nil, ErrCorruption }

	body := mmapBuf(full[imageHeaderSize : imageHeaderSize+h.usedBytes])

	s := &slab{level: ReadOnly, data: body, sharedFree: make(map[uint64][]uint64), unmanaged: true}
	s.used = h.usedBytes
	s.readonly.Store(true)

	tr := &Trie{
		opts:           TrieOpts{ConcurrencyLevel: ReadOnly, ValueSize: int(h.valueSize)},
		slab:           s,
		queue:          newTokenQueue(),
		writerLazyFree: make(map[*Token]*lazyFreeList),
		numNodes:       int64(h.numNodes),
	}
	tr.rootID.Store(h.rootID)

	var appData []byte
	if h.appDataLen > 0 {
		appData = append([]byte(nil), full[h.appDataOff:h.appDataOff+h.appDataLen]...)
	}

	return tr, appData, nil
}

func loadUsed(s *slab) uint64 {
	return atomic.LoadUint64(&s.used)
}

func loadNumNodes(tr *Trie) int64 {
	return atomic.LoadInt64(&tr.numNodes)
}
