package dkfs

import (
	"errors"
	"fmt"
)

// Package-specific sentinel errors, usable with errors.Is().
var (
	// ErrInvalidImage is returned by Open when validation is requested
	// and the superblock magic does not match.
	ErrInvalidImage = errors.New("dkfs: invalid image, superblock magic mismatch")

	// ErrInvalidInit is returned by Create when image construction
	// failed, typically because the root inode could not be allocated.
	ErrInvalidInit = errors.New("dkfs: failed to initialize filesystem")

	// ErrInodeNotExists is returned when a requested inode number lies
	// outside [0, inodeCount).
	ErrInodeNotExists = errors.New("dkfs: inode does not exist")

	// ErrAllocExhausted is returned when growing an inode runs out of
	// free data blocks.
	ErrAllocExhausted = errors.New("dkfs: out of data blocks")

	// ErrInodeExhausted is returned when there is no free inode bit.
	ErrInodeExhausted = errors.New("dkfs: out of inodes")

	// ErrAlreadyExists is returned by CreateInode when the name is
	// already present in the directory.
	ErrAlreadyExists = errors.New("dkfs: directory entry already exists")

	// ErrTooLarge is returned by Resize when the requested size
	// exceeds the per-inode capacity.
	ErrTooLarge = errors.New("dkfs: requested size exceeds inode capacity")

	// ErrShrinkNotSupported is returned by Resize when asked to make
	// an inode smaller; shrinking is out of scope for this core.
	ErrShrinkNotSupported = errors.New("dkfs: shrinking an inode is not supported")
)

// IOError wraps a failure from the underlying BlockDevice, recording
// which block the operation concerned.
type IOError struct {
	Block BlockID
	Op    string // "read" or "write"
	Err   error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("dkfs: %s block %d: %s", e.Op, e.Block, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
