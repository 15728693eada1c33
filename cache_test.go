package dkfs

import "testing"

func TestBlockCacheReadWriteRoundTrip(t *testing.T) {
	dev := NewMemDevice(8)
	c := NewBlockCacheBuffer(4, nil)

	h, err := c.Get(0, dev)
	if err != nil {
		t.Fatal(err)
	}
	h.Write(func(buf []byte) {
		buf[0] = 0x42
	})
	h.Release()

	h2, err := c.Get(0, dev)
	if err != nil {
		t.Fatal(err)
	}
	var got byte
	h2.Read(func(buf []byte) { got = buf[0] })
	h2.Release()

	if got != 0x42 {
		t.Fatalf("got %#x, want 0x42", got)
	}
}

func TestBlockCacheAtMostOneEntryPerBlock(t *testing.T) {
	dev := NewMemDevice(8)
	c := NewBlockCacheBuffer(4, nil)

	h1, err := c.Get(3, dev)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := c.Get(3, dev)
	if err != nil {
		t.Fatal(err)
	}
	if h1.entry != h2.entry {
		t.Fatal("expected the same underlying entry for repeated Get of the same block")
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
	h1.Release()
	h2.Release()
}

func TestBlockCacheEvictsUnreferencedEntry(t *testing.T) {
	dev := NewMemDevice(8)
	c := NewBlockCacheBuffer(2, nil)

	h0, err := c.Get(0, dev)
	if err != nil {
		t.Fatal(err)
	}
	h0.Release()
	h1, err := c.Get(1, dev)
	if err != nil {
		t.Fatal(err)
	}
	h1.Release()

	// Cache full at capacity 2 with both entries unreferenced; a third
	// Get must evict one to make room rather than panicking.
	h2, err := c.Get(2, dev)
	if err != nil {
		t.Fatal(err)
	}
	defer h2.Release()
	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
}

func TestBlockCachePanicsWhenSaturatedAndAllBusy(t *testing.T) {
	dev := NewMemDevice(8)
	c := NewBlockCacheBuffer(1, nil)

	h0, err := c.Get(0, dev)
	if err != nil {
		t.Fatal(err)
	}
	defer h0.Release()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on cache saturation with all entries busy")
		}
	}()
	c.Get(1, dev)
}

func TestCacheHandleDoubleReleasePanics(t *testing.T) {
	dev := NewMemDevice(8)
	c := NewBlockCacheBuffer(2, nil)
	h, err := c.Get(0, dev)
	if err != nil {
		t.Fatal(err)
	}
	h.Release()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double Release")
		}
	}()
	h.Release()
}

func TestBlockCacheFlushWritesBackDirtyEntries(t *testing.T) {
	dev := NewMemDevice(8)
	c := NewBlockCacheBuffer(4, nil)

	h, err := c.Get(5, dev)
	if err != nil {
		t.Fatal(err)
	}
	h.Write(func(buf []byte) { buf[0] = 7 })
	h.Release()

	if err := c.Flush(); err != nil {
		t.Fatal(err)
	}

	raw := make([]byte, BlockSize)
	if err := dev.ReadBlock(5, raw); err != nil {
		t.Fatal(err)
	}
	if raw[0] != 7 {
		t.Fatalf("device byte = %d, want 7", raw[0])
	}
}
