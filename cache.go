package dkfs

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
)

// DefaultBlockCacheCapacity is the number of block-sized buffers the
// cache holds before it must evict to make room for a new one.
const DefaultBlockCacheCapacity = 64

// cacheEntry is one block-sized buffer, independently exclusively
// lockable, with a dirty flag and a reference count of outstanding
// handles held by callers outside the cache.
type cacheEntry struct {
	mu      sync.Mutex
	blockID BlockID
	dev     BlockDevice
	buf     [BlockSize]byte
	dirty   bool
	refs    int32 // atomic; handles held outside the cache's own slot
}

func loadEntry(blockID BlockID, dev BlockDevice) (*cacheEntry, error) {
	e := &cacheEntry{blockID: blockID, dev: dev}
	if err := dev.ReadBlock(blockID, e.buf[:]); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *cacheEntry) sync() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.syncLocked()
}

func (e *cacheEntry) syncLocked() error {
	if !e.dirty {
		return nil
	}
	if err := e.dev.WriteBlock(e.blockID, e.buf[:]); err != nil {
		return err
	}
	e.dirty = false
	return nil
}

// CacheHandle is a caller's live reference to a cached block. The
// caller must call Release when done; the block is written back
// (if dirty) when it is evicted after no handle references it, on an
// explicit Flush, or by FileSystem.ClearBlock.
type CacheHandle struct {
	entry    *cacheEntry
	released int32 // atomic; guards against double Release
}

// Release drops this handle's reference. It is safe to call at most
// once per handle; calling it twice panics, since that would indicate
// a reference-counting bug in the caller.
func (h *CacheHandle) Release() {
	if !atomic.CompareAndSwapInt32(&h.released, 0, 1) {
		panic("dkfs: CacheHandle released more than once")
	}
	atomic.AddInt32(&h.entry.refs, -1)
}

// Read runs fn with the entry's exclusive lock held, passing the
// whole block buffer for fn to read a sub-range of.
func (h *CacheHandle) Read(fn func(buf []byte)) {
	e := h.entry
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.buf[:])
}

// Write runs fn with the entry's exclusive lock held, passing the
// whole block buffer for fn to mutate, and marks the entry dirty.
func (h *CacheHandle) Write(fn func(buf []byte)) {
	e := h.entry
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.buf[:])
	e.dirty = true
}

// ReadStruct unmarshals the struct at the given byte offset.
func (h *CacheHandle) ReadStruct(offset uint64, size int, v interface{ UnmarshalBinary([]byte) error }) error {
	var err error
	h.Read(func(buf []byte) {
		err = v.UnmarshalBinary(buf[offset : offset+uint64(size)])
	})
	return err
}

// WriteStruct marshals v and writes it at the given byte offset,
// marking the entry dirty.
func (h *CacheHandle) WriteStruct(offset uint64, size int, v interface{ MarshalBinary() ([]byte, error) }) error {
	data, err := v.MarshalBinary()
	if err != nil {
		return err
	}
	h.Write(func(buf []byte) {
		copy(buf[offset:offset+uint64(size)], data)
	})
	return nil
}

// Zero fills the whole block with zero bytes and marks it dirty.
func (h *CacheHandle) Zero() {
	h.Write(func(buf []byte) {
		for i := range buf {
			buf[i] = 0
		}
	})
}

// BlockCacheBuffer is the bounded, write-back cache of block-sized
// buffers: at most one entry per block id, LRU-approximate (new
// entries go to the back; eviction scans from the front for the
// first entry with no outstanding external reference), and fatal on
// saturation when every entry is busy.
type BlockCacheBuffer struct {
	mu       sync.Mutex
	order    []*cacheEntry // front = oldest, back = most recently inserted
	capacity int
	logger   *log.Logger
}

// NewBlockCacheBuffer returns an empty cache with the given capacity.
func NewBlockCacheBuffer(capacity int, logger *log.Logger) *BlockCacheBuffer {
	if logger == nil {
		logger = log.Default()
	}
	return &BlockCacheBuffer{capacity: capacity, logger: logger}
}

// Get returns a handle to block id's cached buffer, loading it from
// dev if not already cached. The caller must Release the handle.
//
// If the cache is full and every entry currently has an outstanding
// handle, Get panics ("Out of block cache buffer"): this core fails
// fast on saturation rather than blocking, since blocking here would
// usually just convert a sizing bug into a deadlock.
func (c *BlockCacheBuffer) Get(blockID BlockID, dev BlockDevice) (*CacheHandle, error) {
	c.mu.Lock()

	for _, e := range c.order {
		if e.blockID == blockID {
			atomic.AddInt32(&e.refs, 1)
			c.mu.Unlock()
			return &CacheHandle{entry: e}, nil
		}
	}

	if len(c.order) >= c.capacity {
		evictIdx := -1
		for i, e := range c.order {
			if atomic.LoadInt32(&e.refs) == 0 {
				evictIdx = i
				break
			}
		}
		if evictIdx < 0 {
			panic("dkfs: Out of block cache buffer")
		}
		victim := c.order[evictIdx]
		c.order = append(c.order[:evictIdx], c.order[evictIdx+1:]...)
		// The victim is written back before the cache lock is released,
		// so no concurrent Get can load its block from the device while
		// the dirty copy is still in flight. Its refs are zero, so no
		// handle holder can be holding its entry lock.
		if err := victim.sync(); err != nil {
			c.logger.Printf("dkfs: cache: failed to write back evicted block %d: %s", victim.blockID, err)
		}
	}

	e, err := loadEntry(blockID, dev)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	atomic.AddInt32(&e.refs, 1)
	c.order = append(c.order, e)
	c.mu.Unlock()

	return &CacheHandle{entry: e}, nil
}

// Flush exclusive-locks each entry in turn and writes it back if
// dirty, without evicting anything.
func (c *BlockCacheBuffer) Flush() error {
	c.mu.Lock()
	entries := make([]*cacheEntry, len(c.order))
	copy(entries, c.order)
	c.mu.Unlock()

	for _, e := range entries {
		if err := e.sync(); err != nil {
			return fmt.Errorf("dkfs: flush: %w", err)
		}
	}
	return nil
}

// Len reports the number of entries currently cached, for tests.
func (c *BlockCacheBuffer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}
