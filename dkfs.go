// Package dkfs implements the core of a small Unix-style on-disk
// filesystem: block-exact layout and serialization, a bounded block
// buffer cache with write-back, an inode layer (allocation, data-block
// mapping, directory operations, path resolution), and filesystem
// assembly (mkfs-equivalent creation and validating open).
//
// The package does not talk to real hardware; it is driven through
// the BlockDevice interface, which callers implement over a host
// file, a block device driver, or an in-memory fake.
package dkfs

// BlockID identifies a block on the device. 0 is reserved; 1 is the
// superblock location.
type BlockID = uint64

// InodeNum identifies an inode by its slot index in the inode region.
// 0 is the root directory.
type InodeNum = uint64

// BlockSize is the fixed size, in bytes, of every block on the
// device. It must be a power of two and at least one sector.
const BlockSize = 4096

// SuperBlockLoc is the fixed block id of the superblock.
const SuperBlockLoc BlockID = 1
