package dkfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// FSMagic is the constant written to SuperBlock.Magic.
const FSMagic uint64 = 0x102030

// DirectCount is the number of direct block ids held in an inode
// record.
const DirectCount = 28

// idsPerBlock is the number of 64-bit block ids that fit in one
// block; it sizes the indirect index block.
const idsPerBlock = BlockSize / 8

// IndirectCount is the number of additional data blocks reachable
// through one indirect index block.
const IndirectCount = idsPerBlock

// MaxBlocksPerInode is the largest number of data blocks an inode can
// map: direct slots plus everything the indirect block can address.
const MaxBlocksPerInode = DirectCount + IndirectCount

// CapacityPerInode is the largest byte size an inode's data can reach.
const CapacityPerInode = MaxBlocksPerInode * BlockSize

// dirNameSize is the fixed width, in bytes, of a directory entry name.
const dirNameSize = 24

// DirEntrySize is the on-disk size of one directory entry.
const DirEntrySize = 8 + dirNameSize

// superBlockSize is the on-disk size of the superblock.
const superBlockSize = 64

// inodeRecordSize is the on-disk size of one inode record: a 4-byte
// type, 4 bytes of padding to an 8-byte boundary, three 8-byte fields
// (indirect id, link count, byte size), and DirectCount 8-byte direct
// ids. This comes out to 256 bytes (16 records per 4096-byte block),
// sized to fit exactly DirectCount direct ids alongside one indirect
// pointer.
const inodeRecordSize = 4 + 4 + 8 + 8 + 8 + DirectCount*8

// InodesPerBlock is the number of inode record slots packed into one
// block. The filesystem layout invariant requires
// inodeRecordSize*InodesPerBlock == BlockSize exactly.
const InodesPerBlock = BlockSize / inodeRecordSize

// BitsPerBitmapBlock is the number of allocation slots tracked by one
// bitmap block.
const BitsPerBitmapBlock = BlockSize * 8

func init() {
	if inodeRecordSize*InodesPerBlock != BlockSize {
		panic("dkfs: inode record size must evenly divide block size")
	}
}

// InodeType is the type tag stored in an inode record.
type InodeType uint32

const (
	// TypeInvalid marks a free (never-allocated, or not-yet-initialized) inode slot.
	TypeInvalid InodeType = iota
	TypeFile
	TypeDirectory
)

func (t InodeType) String() string {
	switch t {
	case TypeInvalid:
		return "invalid"
	case TypeFile:
		return "file"
	case TypeDirectory:
		return "directory"
	default:
		return fmt.Sprintf("InodeType(%d)", uint32(t))
	}
}

// SuperBlock is the persistent filesystem header stored at block id
// SuperBlockLoc.
//
// Invariant: the regions [boot][super][inode bitmap][inode
// blocks][data bitmap][data blocks] are disjoint and fit within
// TotalBlocks.
type SuperBlock struct {
	Magic            uint64
	TotalBlocks      uint64
	InodeBitmapStart BlockID
	InodeRegionStart BlockID
	InodeCount       uint64
	DataBitmapStart  BlockID
	DataRegionStart  BlockID
	DataBlockCount   uint64
}

// IsValid reports whether the superblock's magic matches FSMagic.
func (sb *SuperBlock) IsValid() bool {
	return sb.Magic == FSMagic
}

// InodePos returns the block id and in-block byte offset of the given
// inode's record.
func (sb *SuperBlock) InodePos(inum InodeNum) (BlockID, uint64) {
	block := inum/InodesPerBlock + sb.InodeRegionStart
	offset := (inum % InodesPerBlock) * inodeRecordSize
	return block, offset
}

// MarshalBinary encodes the superblock into a fixed superBlockSize
// buffer, little-endian.
func (sb *SuperBlock) MarshalBinary() ([]byte, error) {
	buf := make([]byte, superBlockSize)
	binary.LittleEndian.PutUint64(buf[0:8], sb.Magic)
	binary.LittleEndian.PutUint64(buf[8:16], sb.TotalBlocks)
	binary.LittleEndian.PutUint64(buf[16:24], sb.InodeBitmapStart)
	binary.LittleEndian.PutUint64(buf[24:32], sb.InodeRegionStart)
	binary.LittleEndian.PutUint64(buf[32:40], sb.InodeCount)
	binary.LittleEndian.PutUint64(buf[40:48], sb.DataBitmapStart)
	binary.LittleEndian.PutUint64(buf[48:56], sb.DataRegionStart)
	binary.LittleEndian.PutUint64(buf[56:64], sb.DataBlockCount)
	return buf, nil
}

// UnmarshalBinary decodes a superblock from a superBlockSize buffer.
func (sb *SuperBlock) UnmarshalBinary(data []byte) error {
	if len(data) < superBlockSize {
		return fmt.Errorf("dkfs: superblock buffer too small: %d bytes", len(data))
	}
	sb.Magic = binary.LittleEndian.Uint64(data[0:8])
	sb.TotalBlocks = binary.LittleEndian.Uint64(data[8:16])
	sb.InodeBitmapStart = binary.LittleEndian.Uint64(data[16:24])
	sb.InodeRegionStart = binary.LittleEndian.Uint64(data[24:32])
	sb.InodeCount = binary.LittleEndian.Uint64(data[32:40])
	sb.DataBitmapStart = binary.LittleEndian.Uint64(data[40:48])
	sb.DataRegionStart = binary.LittleEndian.Uint64(data[48:56])
	sb.DataBlockCount = binary.LittleEndian.Uint64(data[56:64])
	return nil
}

// DInode is the fixed-size on-disk inode record.
type DInode struct {
	Type     InodeType
	Indirect BlockID
	Links    uint64
	Size     uint64
	Direct   [DirectCount]BlockID
}

// IsValid reports whether the record is in use.
func (d *DInode) IsValid() bool {
	return d.Type != TypeInvalid
}

// Initialize resets the record to a freshly-allocated, empty inode of
// the given type.
func (d *DInode) Initialize(t InodeType) {
	*d = DInode{Type: t}
}

// MarshalBinary encodes the inode record into a fixed inodeRecordSize
// buffer, little-endian.
func (d *DInode) MarshalBinary() ([]byte, error) {
	buf := make([]byte, inodeRecordSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(d.Type))
	// bytes 4:8 are padding, left zero
	binary.LittleEndian.PutUint64(buf[8:16], d.Indirect)
	binary.LittleEndian.PutUint64(buf[16:24], d.Links)
	binary.LittleEndian.PutUint64(buf[24:32], d.Size)
	for i, id := range d.Direct {
		off := 32 + i*8
		binary.LittleEndian.PutUint64(buf[off:off+8], id)
	}
	return buf, nil
}

// UnmarshalBinary decodes an inode record from an inodeRecordSize
// buffer.
func (d *DInode) UnmarshalBinary(data []byte) error {
	if len(data) < inodeRecordSize {
		return fmt.Errorf("dkfs: inode record buffer too small: %d bytes", len(data))
	}
	d.Type = InodeType(binary.LittleEndian.Uint32(data[0:4]))
	d.Indirect = binary.LittleEndian.Uint64(data[8:16])
	d.Links = binary.LittleEndian.Uint64(data[16:24])
	d.Size = binary.LittleEndian.Uint64(data[24:32])
	for i := range d.Direct {
		off := 32 + i*8
		d.Direct[i] = binary.LittleEndian.Uint64(data[off : off+8])
	}
	return nil
}

// DirEntry is one fixed-size record in a directory's data payload.
type DirEntry struct {
	InodeNum InodeNum
	name     [dirNameSize]byte
}

// NewDirEntry builds a directory entry for inum/name. name must be at
// most dirNameSize bytes; longer names are a caller error.
func NewDirEntry(inum InodeNum, name string) (DirEntry, error) {
	if len(name) > dirNameSize {
		return DirEntry{}, fmt.Errorf("dkfs: directory entry name %q exceeds %d bytes", name, dirNameSize)
	}
	var e DirEntry
	e.InodeNum = inum
	copy(e.name[:], name)
	return e, nil
}

// Name returns the entry's name. A name exactly dirNameSize bytes long
// has no trailing NUL and is returned in full; shorter names are
// trimmed at the first NUL byte.
func (e *DirEntry) Name() string {
	n := bytes.IndexByte(e.name[:], 0)
	if n < 0 {
		n = dirNameSize
	}
	return string(e.name[:n])
}

// MarshalBinary encodes the entry into a fixed DirEntrySize buffer.
func (e *DirEntry) MarshalBinary() ([]byte, error) {
	buf := make([]byte, DirEntrySize)
	binary.LittleEndian.PutUint64(buf[0:8], e.InodeNum)
	copy(buf[8:], e.name[:])
	return buf, nil
}

// UnmarshalBinary decodes an entry from a DirEntrySize buffer.
func (e *DirEntry) UnmarshalBinary(data []byte) error {
	if len(data) < DirEntrySize {
		return fmt.Errorf("dkfs: directory entry buffer too small: %d bytes", len(data))
	}
	e.InodeNum = binary.LittleEndian.Uint64(data[0:8])
	copy(e.name[:], data[8:8+dirNameSize])
	return nil
}

// IndexBlock is a block interpreted as an array of block ids, used as
// the single indirect index block of an inode.
type IndexBlock [idsPerBlock]BlockID

// MarshalBinary encodes the index block.
func (ib *IndexBlock) MarshalBinary() ([]byte, error) {
	buf := make([]byte, BlockSize)
	for i, id := range ib {
		binary.LittleEndian.PutUint64(buf[i*8:i*8+8], id)
	}
	return buf, nil
}

// UnmarshalBinary decodes an index block.
func (ib *IndexBlock) UnmarshalBinary(data []byte) error {
	if len(data) < BlockSize {
		return fmt.Errorf("dkfs: index block buffer too small: %d bytes", len(data))
	}
	for i := range ib {
		ib[i] = binary.LittleEndian.Uint64(data[i*8 : i*8+8])
	}
	return nil
}
