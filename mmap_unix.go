//go:build linux || darwin || freebsd || openbsd || netbsd

package patricia

import "os"
import "golang.org/x/sys/unix"


// mmapBuf is the byte-slice view over a memory mapped region, file-backed or anonymous.
type mmapBuf []byte

// mapRegion maps size bytes either from f (file-backed, grown by Truncate before mapping)
// or anonymously when f is nil. The whole region is reserved and committed up front —
// the OS already demand-pages physical memory lazily, so a separate reserve/commit split
// (as the virtual-memory-cap design in §4.1 envisions for huge trie caps) is not needed
// at this scale; see DESIGN.md for the tradeoff.
func mapRegion(f *os.File, size int64) (mmapBuf, error) {
	prot := unix.PROT_READ | unix.PROT_WRITE
	flags := unix.MAP_SHARED
	fd := -1

	if f == nil {
		flags = unix.MAP_PRIVATE | unix.MAP_ANON
	} else {
		if truncErr := f.Truncate(size); truncErr != nil { return nil, truncErr }
		fd = int(f.Fd())
	}

	data, mmapErr := unix.Mmap(fd, 0, int(size), prot, flags)
	if mmapErr != nil { return nil, mmapErr }

	return mmapBuf(data), nil
}

// unmap releases the mapping.
func (m mmapBuf) unmap() error {
	if len(m) == 0 { return nil }
	return unix.Munmap(m)
}

// flush syncs a byte range of a file-backed mapping to disk. No-op for anonymous mappings.
func (m mmapBuf) flush(start, end int) error {
	if len(m) == 0 { return nil }
	if end > len(m) { end = len(m) }
	if start >= end { return nil }

	return unix.Msync(m[start:end], unix.MS_ASYNC)
}
