package dkfs

import (
	"fmt"
	"sync"
)

// Inode is the in-memory handle for one inode: a shared, exclusively
// lockable cell holding a recent snapshot of the on-disk record plus
// the inode number and its on-disk address. Its lifetime is owned by
// the InodeCache that produced it; callers hold it across operations
// but never outlive the filesystem that created the cache.
//
// The handle deliberately holds no back-reference to the FileSystem:
// operations that need the filesystem (allocation, directory
// mutation) take it as an explicit parameter instead of storing it,
// avoiding a reference cycle between the two.
type Inode struct {
	mu sync.Mutex

	num     InodeNum
	blockID BlockID
	offset  uint64

	dev   BlockDevice
	cache *BlockCacheBuffer

	dinode DInode // recent in-memory snapshot
}

// Lock acquires the inode's exclusive lock. Callers must not be
// holding the inode cache's own lock when calling Lock.
func (i *Inode) Lock() { i.mu.Lock() }

// Unlock releases the inode's exclusive lock.
func (i *Inode) Unlock() { i.mu.Unlock() }

// Num returns the inode's number. Safe to call without holding the lock.
func (i *Inode) Num() InodeNum { return i.num }

// Type returns the inode's type. The caller must hold the lock.
func (i *Inode) Type() InodeType { return i.dinode.Type }

// Size returns the inode's byte size. The caller must hold the lock.
func (i *Inode) Size() uint64 { return i.dinode.Size }

// Links returns the inode's link count. The caller must hold the lock.
func (i *Inode) Links() uint64 { return i.dinode.Links }

// IsValid reports whether the inode's record is in use. The caller
// must hold the lock.
func (i *Inode) IsValid() bool { return i.dinode.IsValid() }

// reload re-reads the on-disk record into the in-memory snapshot.
// The caller must hold the lock.
func (i *Inode) reload() error {
	h, err := i.cache.Get(i.blockID, i.dev)
	if err != nil {
		return err
	}
	defer h.Release()
	return h.ReadStruct(i.offset, inodeRecordSize, &i.dinode)
}

// mutate locks the containing block-cache entry, applies fn to the
// on-disk record in place, writes it back through the cache, and
// updates the in-memory snapshot to match — so cached reads stay
// coherent without a re-read. The caller must hold i's own lock.
func (i *Inode) mutate(fn func(d *DInode)) error {
	h, err := i.cache.Get(i.blockID, i.dev)
	if err != nil {
		return err
	}
	defer h.Release()

	var err2 error
	h.Write(func(buf []byte) {
		var d DInode
		if err2 = d.UnmarshalBinary(buf[i.offset : i.offset+inodeRecordSize]); err2 != nil {
			return
		}
		fn(&d)
		var data []byte
		data, err2 = d.MarshalBinary()
		if err2 != nil {
			return
		}
		copy(buf[i.offset:i.offset+inodeRecordSize], data)
		i.dinode = d
	})
	return err2
}

// blockIDAt returns the data block id mapped at inner index idx,
// loading the indirect index block through the cache when idx falls
// past the direct slots. The caller must hold i's own lock. Panics if
// idx is out of range: that is always a caller bug, never reachable
// through normal growth since Resize bounds idx by CapacityPerInode.
func (i *Inode) blockIDAt(idx int) (BlockID, error) {
	if idx < DirectCount {
		return i.dinode.Direct[idx], nil
	}
	if idx < MaxBlocksPerInode {
		if i.dinode.Indirect == 0 {
			panic("dkfs: inode has no indirect block allocated but inner index requires one")
		}
		h, err := i.cache.Get(i.dinode.Indirect, i.dev)
		if err != nil {
			return 0, err
		}
		defer h.Release()
		var ib IndexBlock
		if err := h.ReadStruct(0, BlockSize, &ib); err != nil {
			return 0, err
		}
		return ib[idx-DirectCount], nil
	}
	panic(fmt.Sprintf("dkfs: inner index %d out of range (max %d)", idx, MaxBlocksPerInode))
}

// setBlockIDAt writes the data block id at inner index idx. When idx
// falls past the direct slots, the indirect block must already be
// allocated (done by Resize). The caller must hold i's own lock.
func (i *Inode) setBlockIDAt(idx int, blockID BlockID) error {
	if idx < DirectCount {
		return i.mutate(func(d *DInode) { d.Direct[idx] = blockID })
	}
	if idx < MaxBlocksPerInode {
		if i.dinode.Indirect == 0 {
			panic("dkfs: setBlockIDAt past direct slots with no indirect block allocated")
		}
		h, err := i.cache.Get(i.dinode.Indirect, i.dev)
		if err != nil {
			return err
		}
		defer h.Release()
		var ib IndexBlock
		if err := h.ReadStruct(0, BlockSize, &ib); err != nil {
			return err
		}
		ib[idx-DirectCount] = blockID
		return h.WriteStruct(0, BlockSize, &ib)
	}
	panic(fmt.Sprintf("dkfs: inner index %d out of range (max %d)", idx, MaxBlocksPerInode))
}

// ReadData copies up to len(buf) bytes starting at offset into buf,
// never reading past the inode's current size. It returns the number
// of bytes copied. The caller must hold i's own lock.
func (i *Inode) ReadData(offset uint64, buf []byte) (int, error) {
	size := i.dinode.Size
	if offset >= size {
		return 0, nil
	}
	span := uint64(len(buf))
	if offset+span > size {
		span = size - offset
	}

	start := offset
	end := offset + span
	completed := uint64(0)
	for start < end {
		blockIdx := int(start / BlockSize)
		inBlock := start % BlockSize
		incr := end - start
		if inBlock+incr > BlockSize {
			incr = BlockSize - inBlock
		}

		id, err := i.blockIDAt(blockIdx)
		if err != nil {
			return int(completed), err
		}
		h, err := i.cache.Get(id, i.dev)
		if err != nil {
			return int(completed), err
		}
		h.Read(func(blk []byte) {
			copy(buf[completed:completed+incr], blk[inBlock:inBlock+incr])
		})
		h.Release()

		completed += incr
		start += incr
	}
	return int(completed), nil
}

// WriteData copies up to len(buf) bytes from buf into the inode's
// data starting at offset, never writing past the inode's current
// size (grow with Resize first). It returns the number of bytes
// copied. The caller must hold i's own lock.
func (i *Inode) WriteData(offset uint64, buf []byte) (int, error) {
	size := i.dinode.Size
	if offset >= size {
		return 0, nil
	}
	span := uint64(len(buf))
	if offset+span > size {
		span = size - offset
	}

	start := offset
	end := offset + span
	completed := uint64(0)
	for start < end {
		blockIdx := int(start / BlockSize)
		inBlock := start % BlockSize
		incr := end - start
		if inBlock+incr > BlockSize {
			incr = BlockSize - inBlock
		}

		id, err := i.blockIDAt(blockIdx)
		if err != nil {
			return int(completed), err
		}
		h, err := i.cache.Get(id, i.dev)
		if err != nil {
			return int(completed), err
		}
		h.Write(func(blk []byte) {
			copy(blk[inBlock:inBlock+incr], buf[completed:completed+incr])
		})
		h.Release()

		completed += incr
		start += incr
	}
	return int(completed), nil
}
