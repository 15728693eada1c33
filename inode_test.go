package dkfs

import "testing"

// newTestInode builds a detached Inode handle backed by block 0 of a
// fresh memDevice, for exercising block-mapping and data transfer in
// isolation from InodeCache/FileSystem.
func newTestInode(t *testing.T, dev *memDevice, blocks *BlockCacheBuffer) *Inode {
	t.Helper()
	h, err := blocks.Get(0, dev)
	if err != nil {
		t.Fatal(err)
	}
	var d DInode
	d.Initialize(TypeFile)
	if err := h.WriteStruct(0, inodeRecordSize, &d); err != nil {
		t.Fatal(err)
	}
	h.Release()

	return &Inode{
		num:     0,
		blockID: 0,
		offset:  0,
		dev:     dev,
		cache:   blocks,
		dinode:  d,
	}
}

func TestInodeDirectBlockMapping(t *testing.T) {
	dev := NewMemDevice(64)
	blocks := NewBlockCacheBuffer(16, nil)
	ino := newTestInode(t, dev, blocks)

	if err := ino.setBlockIDAt(0, 10); err != nil {
		t.Fatal(err)
	}
	id, err := ino.blockIDAt(0)
	if err != nil {
		t.Fatal(err)
	}
	if id != 10 {
		t.Fatalf("got %d, want 10", id)
	}
}

func TestInodeIndirectBlockMapping(t *testing.T) {
	dev := NewMemDevice(1024)
	blocks := NewBlockCacheBuffer(16, nil)
	ino := newTestInode(t, dev, blocks)

	indirectBlock := BlockID(500)
	if err := ino.mutate(func(d *DInode) { d.Indirect = indirectBlock }); err != nil {
		t.Fatal(err)
	}
	h, err := blocks.Get(indirectBlock, dev)
	if err != nil {
		t.Fatal(err)
	}
	h.Zero()
	h.Release()

	if err := ino.setBlockIDAt(DirectCount, 777); err != nil {
		t.Fatal(err)
	}
	id, err := ino.blockIDAt(DirectCount)
	if err != nil {
		t.Fatal(err)
	}
	if id != 777 {
		t.Fatalf("got %d, want 777", id)
	}
}

func TestInodeBlockIDAtOutOfRangePanics(t *testing.T) {
	dev := NewMemDevice(64)
	blocks := NewBlockCacheBuffer(16, nil)
	ino := newTestInode(t, dev, blocks)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for out-of-range inner index")
		}
	}()
	ino.blockIDAt(MaxBlocksPerInode)
}

func TestInodeReadWriteDataBoundedBySize(t *testing.T) {
	dev := NewMemDevice(64)
	blocks := NewBlockCacheBuffer(16, nil)
	ino := newTestInode(t, dev, blocks)

	if err := ino.setBlockIDAt(0, 20); err != nil {
		t.Fatal(err)
	}
	if err := ino.mutate(func(d *DInode) { d.Size = 10 }); err != nil {
		t.Fatal(err)
	}

	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	n, err := ino.WriteData(0, payload)
	if err != nil {
		t.Fatal(err)
	}
	if n != 10 {
		t.Fatalf("wrote %d bytes, want 10", n)
	}

	// Writing past size is truncated to the remaining size.
	n, err = ino.WriteData(8, []byte{100, 200, 255})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("wrote %d bytes at tail, want 2 (truncated at size boundary)", n)
	}

	got := make([]byte, 20)
	n, err = ino.ReadData(0, got)
	if err != nil {
		t.Fatal(err)
	}
	if n != 10 {
		t.Fatalf("read %d bytes, want 10 (bounded by size)", n)
	}
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 100, 200}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestInodeReadDataPastSizeReturnsZero(t *testing.T) {
	dev := NewMemDevice(64)
	blocks := NewBlockCacheBuffer(16, nil)
	ino := newTestInode(t, dev, blocks)

	buf := make([]byte, 10)
	n, err := ino.ReadData(0, buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("read %d bytes from a zero-size inode, want 0", n)
	}
}
