package dkfs

import (
	"fmt"
	"io"
	"os"
)

// BlockDevice is the contract this core consumes from its block
// device collaborator: random read/write of exactly one fixed-size
// block at a time. Operations are synchronous and atomic at block
// granularity from the core's point of view; implementations may be
// backed by a host file, a driver, or a fake.
type BlockDevice interface {
	// ReadBlock fills buf (exactly BlockSize bytes) with the on-disk
	// contents of block id.
	ReadBlock(id BlockID, buf []byte) error
	// WriteBlock persists buf (exactly BlockSize bytes) at block id.
	WriteBlock(id BlockID, buf []byte) error
}

// fileDevice backs a BlockDevice with a host file standing in for the
// image a driver would otherwise serve. Positioned reads/writes go
// through os.File's ReadAt/WriteAt, which are safe to call
// concurrently without an external lock, avoiding a shared seek
// position entirely.
type fileDevice struct {
	f *os.File
}

// NewFileDevice returns a BlockDevice backed by an already-open host
// file. The caller owns the file's lifetime.
func NewFileDevice(f *os.File) BlockDevice {
	return &fileDevice{f: f}
}

func (d *fileDevice) ReadBlock(id BlockID, buf []byte) error {
	if len(buf) != BlockSize {
		return fmt.Errorf("dkfs: ReadBlock buffer must be %d bytes, got %d", BlockSize, len(buf))
	}
	n, err := d.f.ReadAt(buf, int64(id)*BlockSize)
	if err != nil && err != io.EOF {
		return &IOError{Block: id, Op: "read", Err: err}
	}
	if n != BlockSize {
		return &IOError{Block: id, Op: "read", Err: io.ErrUnexpectedEOF}
	}
	return nil
}

func (d *fileDevice) WriteBlock(id BlockID, buf []byte) error {
	if len(buf) != BlockSize {
		return fmt.Errorf("dkfs: WriteBlock buffer must be %d bytes, got %d", BlockSize, len(buf))
	}
	n, err := d.f.WriteAt(buf, int64(id)*BlockSize)
	if err != nil {
		return &IOError{Block: id, Op: "write", Err: err}
	}
	if n != BlockSize {
		return &IOError{Block: id, Op: "write", Err: io.ErrShortWrite}
	}
	return nil
}

// memDevice is an in-memory BlockDevice fake for tests: a sparse
// block store with the ability to inject a failure at a given block
// id.
type memDevice struct {
	blocks map[BlockID][]byte
	failAt map[BlockID]bool
}

// NewMemDevice returns an in-memory BlockDevice whose blocks all read
// as zero until written. nBlocks is only a sizing hint for the backing
// map; block ids are not range-checked against it.
func NewMemDevice(nBlocks uint64) *memDevice {
	return &memDevice{
		blocks: make(map[BlockID][]byte, nBlocks),
		failAt: make(map[BlockID]bool),
	}
}

// FailBlock makes subsequent reads and writes to block id return an
// error, simulating a failing device.
func (d *memDevice) FailBlock(id BlockID) {
	d.failAt[id] = true
}

func (d *memDevice) ReadBlock(id BlockID, buf []byte) error {
	if d.failAt[id] {
		return &IOError{Block: id, Op: "read", Err: fmt.Errorf("injected failure")}
	}
	if len(buf) != BlockSize {
		return fmt.Errorf("dkfs: ReadBlock buffer must be %d bytes, got %d", BlockSize, len(buf))
	}
	if data, ok := d.blocks[id]; ok {
		copy(buf, data)
	} else {
		for i := range buf {
			buf[i] = 0
		}
	}
	return nil
}

func (d *memDevice) WriteBlock(id BlockID, buf []byte) error {
	if d.failAt[id] {
		return &IOError{Block: id, Op: "write", Err: fmt.Errorf("injected failure")}
	}
	if len(buf) != BlockSize {
		return fmt.Errorf("dkfs: WriteBlock buffer must be %d bytes, got %d", BlockSize, len(buf))
	}
	cp := make([]byte, BlockSize)
	copy(cp, buf)
	d.blocks[id] = cp
	return nil
}
