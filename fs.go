package dkfs

import (
	"fmt"
	"log"
)

const (
	bootBlocks    = 1
	superBlocks   = 1
	loggingBlocks = 1
)

// RootInodeNum is the inode number of the root directory, always
// allocated first by Create.
const RootInodeNum InodeNum = 0

// FileSystem is the assembled filesystem object: a block device, an
// immutable copy of the superblock, the block cache, and the inode
// cache. Create it with Create (formats a new image) or Open (mounts
// an existing one); there is no explicit close — call Flush before
// the device goes away.
type FileSystem struct {
	dev BlockDevice
	sb  SuperBlock

	blocks *BlockCacheBuffer
	inodes *InodeCache

	logger *log.Logger
}

// computeLayout derives a superblock for a device of totalBlocks
// blocks reserving inodeBlocks blocks for inode records.
//
// The inode-bitmap sizing follows inodeBlocks/BitsPerBitmapBlock + 1
// (over-allocating by one whole bitmap block when inodeBlocks is an
// exact multiple of BitsPerBitmapBlock) rather than a tight ceiling
// division, for compatibility with images written by that formula.
func computeLayout(totalBlocks, inodeBlocks uint64) (SuperBlock, error) {
	inodeBitmapBlocks := inodeBlocks/BitsPerBitmapBlock + 1
	inodeArea := inodeBitmapBlocks + inodeBlocks

	fixed := uint64(bootBlocks + superBlocks + loggingBlocks)
	if totalBlocks <= fixed+inodeArea {
		return SuperBlock{}, fmt.Errorf("dkfs: no room for data blocks: %d total blocks, %d reserved for boot/super/log/inodes", totalBlocks, fixed+inodeArea)
	}
	dataArea := totalBlocks - fixed - inodeArea

	dataBitmapBlocks := dataArea/(1+8*BlockSize) + 1
	dataBlocks := dataArea - dataBitmapBlocks

	inodeBitmapStart := BlockID(SuperBlockLoc) + superBlocks
	inodeRegionStart := inodeBitmapStart + inodeBitmapBlocks
	dataBitmapStart := inodeRegionStart + inodeBlocks
	dataRegionStart := dataBitmapStart + dataBitmapBlocks

	return SuperBlock{
		Magic:            FSMagic,
		TotalBlocks:      totalBlocks,
		InodeBitmapStart: inodeBitmapStart,
		InodeRegionStart: inodeRegionStart,
		InodeCount:       inodeBlocks * InodesPerBlock,
		DataBitmapStart:  dataBitmapStart,
		DataRegionStart:  dataRegionStart,
		DataBlockCount:   dataBlocks,
	}, nil
}

// Create formats dev as a fresh image of totalBlocks blocks reserving
// inodeBlocks blocks of inode records, allocates the root directory
// inode, and returns the opened filesystem.
func Create(dev BlockDevice, totalBlocks, inodeBlocks uint64, opts ...Option) (*FileSystem, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}

	sb, err := computeLayout(totalBlocks, inodeBlocks)
	if err != nil {
		return nil, err
	}
	cfg.logger.Printf("dkfs: create: %d total blocks, inode area [%d,%d), data area [%d,+%d)",
		sb.TotalBlocks, sb.InodeBitmapStart, sb.DataBitmapStart, sb.DataRegionStart, sb.DataBlockCount)

	initCache := NewBlockCacheBuffer(cfg.blockCacheCapacity, cfg.logger)

	for id := sb.InodeBitmapStart; id < sb.DataRegionStart; id++ {
		h, err := initCache.Get(id, dev)
		if err != nil {
			return nil, err
		}
		h.Zero()
		h.Release()
	}

	h, err := initCache.Get(BlockID(SuperBlockLoc), dev)
	if err != nil {
		return nil, err
	}
	if err := h.WriteStruct(0, superBlockSize, &sb); err != nil {
		h.Release()
		return nil, err
	}
	h.Release()

	if err := initCache.Flush(); err != nil {
		return nil, fmt.Errorf("dkfs: create: %w", err)
	}

	fs, err := Open(dev, true, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInit, err)
	}

	root, err := fs.AllocateInode(TypeDirectory)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to allocate the root inode: %s", ErrInvalidInit, err)
	}
	if root.Num() != RootInodeNum {
		return nil, fmt.Errorf("%w: root inode allocated as %d, want %d", ErrInvalidInit, root.Num(), RootInodeNum)
	}

	return fs, nil
}

// Open reads the superblock at SuperBlockLoc and, if validate is
// true, requires its magic to match; it returns ErrInvalidImage
// otherwise.
func Open(dev BlockDevice, validate bool, opts ...Option) (*FileSystem, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}

	blocks := NewBlockCacheBuffer(cfg.blockCacheCapacity, cfg.logger)
	h, err := blocks.Get(BlockID(SuperBlockLoc), dev)
	if err != nil {
		return nil, err
	}
	var sb SuperBlock
	err = h.ReadStruct(0, superBlockSize, &sb)
	h.Release()
	if err != nil {
		return nil, err
	}

	if validate && !sb.IsValid() {
		return nil, ErrInvalidImage
	}

	return &FileSystem{
		dev:    dev,
		sb:     sb,
		blocks: blocks,
		inodes: NewInodeCache(cfg.inodeCacheCapacity),
		logger: cfg.logger,
	}, nil
}

// Flush writes back every dirty cached block.
func (fs *FileSystem) Flush() error {
	return fs.blocks.Flush()
}

// Superblock returns a copy of the filesystem's immutable superblock.
func (fs *FileSystem) Superblock() SuperBlock {
	return fs.sb
}

// Root returns the root directory's inode handle.
func (fs *FileSystem) Root() (*Inode, error) {
	return fs.GetInode(RootInodeNum)
}

// GetInode returns the handle for inum, resolving it through the
// inode cache on a miss.
func (fs *FileSystem) GetInode(inum InodeNum) (*Inode, error) {
	return fs.inodes.Get(inum, &fs.sb, fs.dev, fs.blocks)
}

// AllocateInode allocates a free inode slot and initializes it as an
// empty inode of the given type.
//
// If the allocated bit's slot index falls outside the inode count
// (the inode bitmap region can have trailing bits with no
// corresponding record, since each bitmap block tracks
// BitsPerBitmapBlock slots whatever the inode count), the bit is left
// set — a one-bit leak — and ErrInodeExhausted is returned.
func (fs *FileSystem) AllocateInode(t InodeType) (*Inode, error) {
	inum, err := fs.allocateBit(fs.sb.InodeBitmapStart, fs.sb.InodeRegionStart)
	if err != nil {
		return nil, err
	}
	if inum == nil {
		fs.logger.Printf("dkfs: allocate inode: exhausted")
		return nil, ErrInodeExhausted
	}
	if InodeNum(*inum) >= fs.sb.InodeCount {
		fs.logger.Printf("dkfs: allocate inode: bit %d exceeds inode count %d", *inum, fs.sb.InodeCount)
		return nil, ErrInodeExhausted
	}

	inode, err := fs.GetInode(InodeNum(*inum))
	if err != nil {
		return nil, err
	}
	inode.Lock()
	err = inode.mutate(func(d *DInode) { d.Initialize(t) })
	inode.Unlock()
	if err != nil {
		return nil, err
	}
	return inode, nil
}

// AllocateDataBlock allocates a free data block and returns its
// block id. It returns ErrAllocExhausted if the data region is full.
func (fs *FileSystem) AllocateDataBlock() (BlockID, error) {
	id, err := fs.allocateBit(fs.sb.DataBitmapStart, fs.sb.DataRegionStart)
	if err != nil {
		return 0, err
	}
	if id == nil {
		return 0, ErrAllocExhausted
	}
	blockID := fs.sb.DataRegionStart + BlockID(*id)
	if blockID >= fs.sb.DataRegionStart+fs.sb.DataBlockCount {
		fs.logger.Printf("dkfs: allocate data block: slot %d exceeds data block count %d", *id, fs.sb.DataBlockCount)
		return 0, ErrAllocExhausted
	}
	return blockID, nil
}

// allocateBit scans every bitmap block in [bitmapStart, regionStart)
// for a clear bit, returning the flat slot index relative to
// bitmapStart's first bit. It returns nil, nil if every block is
// saturated.
func (fs *FileSystem) allocateBit(bitmapStart, regionStart BlockID) (*uint64, error) {
	for blockID := bitmapStart; blockID < regionStart; blockID++ {
		h, err := fs.blocks.Get(blockID, fs.dev)
		if err != nil {
			return nil, err
		}
		var idx int
		var ok bool
		h.Write(func(buf []byte) {
			var bm BitmapBlock
			copy(bm[:], buf)
			idx, ok = bm.Allocate()
			if ok {
				copy(buf, bm[:])
			}
		})
		h.Release()
		if ok {
			slot := uint64(blockID-bitmapStart)*BitsPerBitmapBlock + uint64(idx)
			return &slot, nil
		}
	}
	return nil, nil
}

// ClearBlock zeroes block id and writes it back immediately.
func (fs *FileSystem) ClearBlock(id BlockID) error {
	h, err := fs.blocks.Get(id, fs.dev)
	if err != nil {
		return err
	}
	h.Zero()
	err = h.entry.sync()
	h.Release()
	return err
}

// Lookup resolves name inside dir's directory payload, returning the
// referenced inode's handle. dir must be a directory; callers must
// hold dir's lock.
func (fs *FileSystem) Lookup(dir *Inode, name string) (*Inode, error) {
	if dir.Type() != TypeDirectory {
		panic("dkfs: Lookup on a non-directory inode")
	}

	count := dir.Size() / DirEntrySize
	buf := make([]byte, DirEntrySize)
	for i := uint64(0); i < count; i++ {
		n, err := dir.ReadData(i*DirEntrySize, buf)
		if err != nil {
			return nil, err
		}
		if uint64(n) != DirEntrySize {
			return nil, fmt.Errorf("dkfs: short directory entry read at index %d", i)
		}
		var entry DirEntry
		if err := entry.UnmarshalBinary(buf); err != nil {
			return nil, err
		}
		if entry.Name() == name {
			return fs.GetInode(entry.InodeNum)
		}
	}
	return nil, nil
}

// CreateInode allocates a new inode of type t and links it into dir
// under name. It returns ErrAlreadyExists if name is already present.
// Callers must hold dir's lock.
func (fs *FileSystem) CreateInode(dir *Inode, name string, t InodeType) (*Inode, error) {
	if dir.Type() != TypeDirectory {
		panic("dkfs: CreateInode on a non-directory inode")
	}

	existing, err := fs.Lookup(dir, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %q", ErrAlreadyExists, name)
	}

	newInode, err := fs.AllocateInode(t)
	if err != nil {
		return nil, err
	}

	oldSize := dir.Size()
	if err := fs.Resize(dir, oldSize+DirEntrySize); err != nil {
		return nil, err
	}

	entry, err := NewDirEntry(newInode.Num(), name)
	if err != nil {
		return nil, err
	}
	data, err := entry.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if _, err := dir.WriteData(oldSize, data); err != nil {
		return nil, err
	}

	newInode.Lock()
	err = newInode.mutate(func(d *DInode) { d.Links++ })
	newInode.Unlock()
	if err != nil {
		return nil, err
	}

	return newInode, nil
}

// Resize grows inode to newSize, allocating and zeroing whatever new
// data blocks are required. Shrinking is not supported and returns
// ErrShrinkNotSupported; growing past CapacityPerInode returns
// ErrTooLarge. Callers must hold inode's lock.
func (fs *FileSystem) Resize(inode *Inode, newSize uint64) error {
	if newSize > CapacityPerInode {
		return ErrTooLarge
	}
	curSize := inode.Size()
	if newSize == curSize {
		return nil
	}
	if newSize < curSize {
		return ErrShrinkNotSupported
	}

	curBlocks := 0
	if curSize > 0 {
		curBlocks = int((curSize + BlockSize - 1) / BlockSize)
	}
	tailSlack := uint64(0)
	if curBlocks > 0 {
		tailSlack = uint64(curBlocks)*BlockSize - curSize
	}

	growth := newSize - curSize
	if growth <= tailSlack {
		return inode.mutate(func(d *DInode) { d.Size = newSize })
	}
	growth -= tailSlack

	neededBlocks := int((growth + BlockSize - 1) / BlockSize)
	for n := 0; n < neededBlocks; n++ {
		idx := curBlocks + n
		if idx == DirectCount {
			if err := fs.allocateIndirectBlock(inode); err != nil {
				return err
			}
		}
		blockID, err := fs.AllocateDataBlock()
		if err != nil {
			return err
		}
		if err := fs.ClearBlock(blockID); err != nil {
			return err
		}
		if err := inode.setBlockIDAt(idx, blockID); err != nil {
			return err
		}
	}

	return inode.mutate(func(d *DInode) { d.Size = newSize })
}

// allocateIndirectBlock allocates and zeroes inode's indirect index
// block. The caller must hold inode's lock and must call this only
// once, the first time growth crosses the direct-slot threshold.
func (fs *FileSystem) allocateIndirectBlock(inode *Inode) error {
	blockID, err := fs.AllocateDataBlock()
	if err != nil {
		return err
	}
	if err := fs.ClearBlock(blockID); err != nil {
		return err
	}
	return inode.mutate(func(d *DInode) { d.Indirect = blockID })
}

// ReadInode reads up to len(buf) bytes from inode at offset. Callers
// must hold inode's lock.
func (fs *FileSystem) ReadInode(inode *Inode, offset uint64, buf []byte) (int, error) {
	return inode.ReadData(offset, buf)
}

// WriteInode writes up to len(buf) bytes to inode at offset. Callers
// must hold inode's lock.
func (fs *FileSystem) WriteInode(inode *Inode, offset uint64, buf []byte) (int, error) {
	return inode.WriteData(offset, buf)
}

// GetInodeFromPath resolves path against start, splitting on '/' and
// skipping empty components. Every intermediate component must name a
// directory. An empty path returns start itself. There is no
// current-directory concept and ".." is treated as a literal name.
func (fs *FileSystem) GetInodeFromPath(path string, start *Inode) (*Inode, error) {
	current := start
	rest := path
	for {
		name, next, ok := skip(rest)
		if !ok {
			return current, nil
		}

		current.Lock()
		if current.Type() != TypeDirectory {
			current.Unlock()
			return nil, nil
		}
		found, err := fs.Lookup(current, name)
		current.Unlock()
		if err != nil {
			return nil, err
		}
		if found == nil {
			return nil, nil
		}

		current = found
		rest = next
	}
}
