// Package filemem tracks external files attached as physical instances.
// Offsets are handed out monotonically and never reclaimed; the ordered
// offset table supports the reverse lookup from a raw offset back to
// the owning instance.
package filemem

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
)

// InstanceID identifies an attached file instance.
type InstanceID uint64

// Instance describes one attached file.
type Instance struct {
	ID     InstanceID
	URL    string
	Offset int64
	Size   int64
}

// FileMemory allocates offsets for attached files. The allocator is
// intentionally append-only: offsets increase monotonically and free is
// a no-op, which keeps the offset-to-instance reverse lookup valid for
// the lifetime of the memory.
type FileMemory struct {
	fs afs.Service

	mu         sync.Mutex
	nextOffset int64
	nextID     InstanceID
	offsets    []int64
	byOffset   map[int64]InstanceID
	instances  map[InstanceID]*Instance
}

// New returns a FileMemory backed by the given abstract file service.
func New(fs afs.Service) *FileMemory {
	if fs == nil {
		fs = afs.New()
	}
	return &FileMemory{
		fs:         fs,
		nextOffset: 0x12340000, // non-zero base helps spot uninitialised offsets
		byOffset:   map[int64]InstanceID{},
		instances:  map[InstanceID]*Instance{},
	}
}

// AllocBytes hands out the next offset for size bytes. Offsets are
// never reused.
func (m *FileMemory) AllocBytes(size int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	offset := m.nextOffset
	m.nextOffset += size
	return offset
}

// FreeBytes is a no-op; the memory never reclaims offsets.
func (m *FileMemory) FreeBytes(offset, size int64) {}

// Attach creates (if needed) the backing file and registers an instance
// covering size bytes at a fresh offset.
func (m *FileMemory) Attach(ctx context.Context, url string, size int64) (*Instance, error) {
	if size <= 0 {
		return nil, fmt.Errorf("attach %v: invalid size %d", url, size)
	}
	exists, err := m.fs.Exists(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("attach %v: %w", url, err)
	}
	if !exists {
		if err := m.fs.Upload(ctx, url, file.DefaultFileOsMode, bytes.NewReader(make([]byte, size))); err != nil {
			return nil, fmt.Errorf("attach %v: %w", url, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	offset := m.nextOffset
	m.nextOffset += size
	m.nextID++
	inst := &Instance{ID: m.nextID, URL: url, Offset: offset, Size: size}
	m.offsets = append(m.offsets, offset)
	m.byOffset[offset] = inst.ID
	m.instances[inst.ID] = inst
	return inst, nil
}

// Detach forgets the instance. Its offset range stays allocated.
func (m *FileMemory) Detach(ctx context.Context, id InstanceID) error {
	m.mu.Lock()
	inst, ok := m.instances[id]
	if ok {
		delete(m.instances, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("detach: unknown instance %d", id)
	}
	_ = inst
	return nil
}

// Lookup maps a raw offset back to the instance containing it and the
// offset relative to the instance base.
func (m *FileMemory) Lookup(offset int64) (*Instance, int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if offset >= m.nextOffset || len(m.offsets) == 0 {
		return nil, 0, false
	}
	// First offset strictly greater, then step back one entry.
	i := sort.Search(len(m.offsets), func(i int) bool { return m.offsets[i] > offset })
	if i == 0 {
		return nil, 0, false
	}
	base := m.offsets[i-1]
	id := m.byOffset[base]
	inst, ok := m.instances[id]
	if !ok {
		return nil, 0, false
	}
	rel := offset - base
	if rel >= inst.Size {
		return nil, 0, false
	}
	return inst, rel, true
}

// Instance returns the live instance record for an id.
func (m *FileMemory) Instance(id InstanceID) (*Instance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	return inst, ok
}
