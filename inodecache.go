package dkfs

import "sync"

// InodeCache is a bounded, shared cache of Inode handles keyed by
// inode number: at most one cached handle per inode number, so while
// a handle stays cached, two callers resolving the same inode see and
// lock the same cell. Capacity is enforced by evicting the
// least-recently-used handle (the one resolved longest ago) when a
// miss would otherwise grow the cache past its limit. Eviction does
// not check whether callers still hold the handle: they keep using
// it, and a later Get for the same inode number builds a new handle
// with its own lock and snapshot.
//
// The cache's own lock protects only the index (the map and the
// recency order); it is held just long enough to look up, insert, or
// reorder an entry; it is never held while an Inode's own lock is
// acquired, so dispatching through the cache from inside a directory
// operation that already holds a different inode's lock cannot
// deadlock against it.
type InodeCache struct {
	mu       sync.Mutex
	order    []*Inode // front = least recently used, back = most recently used
	capacity int
}

// NewInodeCache returns an empty cache holding at most capacity handles.
func NewInodeCache(capacity int) *InodeCache {
	return &InodeCache{capacity: capacity}
}

// Get returns the handle for inum, resolving it from sb/dev/cache on
// a miss. On a hit the handle is marked most-recently-used.
func (c *InodeCache) Get(inum InodeNum, sb *SuperBlock, dev BlockDevice, blocks *BlockCacheBuffer) (*Inode, error) {
	if inum >= sb.InodeCount {
		return nil, ErrInodeNotExists
	}

	c.mu.Lock()
	for i, h := range c.order {
		if h.num == inum {
			c.order = append(c.order[:i], c.order[i+1:]...)
			c.order = append(c.order, h)
			c.mu.Unlock()
			return h, nil
		}
	}

	if len(c.order) >= c.capacity {
		c.order = c.order[1:]
	}
	c.mu.Unlock()

	blockID, offset := sb.InodePos(inum)
	h, err := blocks.Get(blockID, dev)
	if err != nil {
		return nil, err
	}
	var d DInode
	err = h.ReadStruct(offset, inodeRecordSize, &d)
	h.Release()
	if err != nil {
		return nil, err
	}

	inode := &Inode{
		num:     inum,
		blockID: blockID,
		offset:  offset,
		dev:     dev,
		cache:   blocks,
		dinode:  d,
	}

	c.mu.Lock()
	for _, h := range c.order {
		if h.num == inum {
			c.mu.Unlock()
			return h, nil
		}
	}
	if len(c.order) >= c.capacity {
		c.order = c.order[1:]
	}
	c.order = append(c.order, inode)
	c.mu.Unlock()
	return inode, nil
}

// Len reports the number of handles currently cached, for tests.
func (c *InodeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}
