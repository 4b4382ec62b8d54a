//go:build windows

package patricia

import "os"
import "sync"
import "unsafe"
import "golang.org/x/sys/windows"


// mmapBuf is the byte-slice view over a memory mapped region, file-backed or anonymous.
// mmapAddrs maps each region's first byte to the address MapViewOfFile returned, which
// unmap hands back to UnmapViewOfFile.
type mmapBuf []byte

var mmapAddrsMu sync.Mutex
var mmapAddrs = map[uintptr]uintptr{}

// mapRegion maps size bytes either from f (file-backed) or anonymously (backed by the
// system page file) when f is nil.
func mapRegion(f *os.File, size int64) (mmapBuf, error) {
	var fh windows.Handle = windows.InvalidHandle

	if f != nil {
		if truncErr := f.Truncate(size); truncErr != nil { return nil, truncErr }
		fh = windows.Handle(f.Fd())
	}

	low := uint32(size & 0xFFFFFFFF)
	high := uint32(size >> 32)

	mapping, createErr := windows.CreateFileMapping(fh, nil, windows.PAGE_READWRITE, high, low, nil)
	if createErr != nil { return nil, createErr }
	defer windows.CloseHandle(mapping)

	addr, viewErr := windows.MapViewOfFile(mapping, windows.FILE_MAP_WRITE, 0, 0, uintptr(size))
	if viewErr != nil { return nil, viewErr }

	data := unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(size))

	mmapAddrsMu.Lock()
	mmapAddrs[uintptr(unsafe.Pointer(&data[0]))] = addr
	mmapAddrsMu.Unlock()

	return mmapBuf(data), nil
}

// unmap releases the mapping.
func (m mmapBuf) unmap() error {
	if len(m) == 0 { return nil }

	base := uintptr(unsafe.Pointer(&m[0]))

	mmapAddrsMu.Lock()
	addr := mmapAddrs[base]
	delete(mmapAddrs, base)
	mmapAddrsMu.Unlock()

	return windows.UnmapViewOfFile(addr)
}

// flush syncs a byte range of a file-backed mapping to disk. No-op for anonymous mappings.
func (m mmapBuf) flush(start, end int) error {
	if len(m) == 0 { return nil }
	if end > len(m) { end = len(m) }
	if start >= end { return nil }

	return windows.FlushViewOfFile(uintptr(unsafe.Pointer(&m[start])), uintptr(end-start))
}
