package flash

import (
	"fmt"
	"os"
	"sync"
)

// File is a Storage backed by an *os.File: a raw flash image on the host or
// an MTD character device on the target.
type File struct {
	mu       sync.Mutex
	f        *os.File
	capacity uint32
}

var _ Storage = (*File)(nil)

// OpenFile opens an existing image or device. The capacity is the file size.
func OpenFile(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open flash %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat flash %s: %w", path, err)
	}
	if st.Size() <= 0 || st.Size() > int64(^uint32(0)) {
		_ = f.Close()
		return nil, fmt.Errorf("flash %s: unsupported size %d", path, st.Size())
	}
	return &File{f: f, capacity: uint32(st.Size())}, nil
}

// CreateFile creates (or truncates) an erased image of the given capacity.
func CreateFile(path string, capacity uint32) (*File, error) {
	if capacity == 0 || capacity%SectorSize != 0 {
		return nil, fmt.Errorf("flash capacity 0x%x is not a multiple of the sector size", capacity)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create flash %s: %w", path, err)
	}
	erased := make([]byte, SectorSize)
	for i := range erased {
		erased[i] = Erased
	}
	for off := uint32(0); off < capacity; off += SectorSize {
		if _, err := f.WriteAt(erased, int64(off)); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("erase flash %s: %w", path, err)
		}
	}
	return &File{f: f, capacity: capacity}, nil
}

func (d *File) Capacity() uint32 {
	return d.capacity
}

func (d *File) Read(offset uint32, p []byte) error {
	if err := checkRange(d, offset, len(p)); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.f.ReadAt(p, int64(offset)); err != nil {
		return fmt.Errorf("read flash at 0x%x: %w", offset, err)
	}
	return nil
}

func (d *File) Write(offset uint32, p []byte) error {
	if err := checkRange(d, offset, len(p)); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.f.WriteAt(p, int64(offset)); err != nil {
		return fmt.Errorf("write flash at 0x%x: %w", offset, err)
	}
	return d.f.Sync()
}

// Close flushes and releases the underlying file.
func (d *File) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}
