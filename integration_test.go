package dkfs

import (
	"fmt"
	"testing"
)

// Scenario 1: create, then inspect the fresh root directory.
func TestScenarioCreateRootListdirEmpty(t *testing.T) {
	dev := NewMemDevice(4096)
	fs, err := Create(dev, 4096, 1)
	if err != nil {
		t.Fatal(err)
	}
	root, err := fs.Root()
	if err != nil {
		t.Fatal(err)
	}
	root.Lock()
	defer root.Unlock()

	if root.Num() != 0 {
		t.Fatalf("root inum = %d, want 0", root.Num())
	}
	if root.Type() != TypeDirectory {
		t.Fatalf("root type = %s, want directory", root.Type())
	}
	if root.Size() != 0 {
		t.Fatalf("root size = %d, want 0", root.Size())
	}
	found, err := fs.Lookup(root, "anything")
	if err != nil {
		t.Fatal(err)
	}
	if found != nil {
		t.Fatal("expected lookup in an empty directory to miss")
	}
}

// Scenario 2 + 4: a nine-cube of nested directories and files, then a
// lookup by path into the middle of the tree.
func TestScenarioNineCubeAndPathLookup(t *testing.T) {
	dev := NewMemDevice(16384)
	fs, err := Create(dev, 16384, 64)
	if err != nil {
		t.Fatal(err)
	}
	root, err := fs.Root()
	if err != nil {
		t.Fatal(err)
	}

	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	for i := 1; i <= 9; i++ {
		iName := fmt.Sprint(i)
		root.Lock()
		iDir, err := fs.CreateInode(root, iName, TypeDirectory)
		root.Unlock()
		if err != nil {
			t.Fatalf("create /%s: %s", iName, err)
		}

		for j := 1; j <= 9; j++ {
			jName := fmt.Sprint(j)
			iDir.Lock()
			jDir, err := fs.CreateInode(iDir, jName, TypeDirectory)
			iDir.Unlock()
			if err != nil {
				t.Fatalf("create /%s/%s: %s", iName, jName, err)
			}

			for k := 1; k <= 9; k++ {
				kName := fmt.Sprint(k)
				jDir.Lock()
				kFile, err := fs.CreateInode(jDir, kName, TypeFile)
				if err != nil {
					jDir.Unlock()
					t.Fatalf("create /%s/%s/%s: %s", iName, jName, kName, err)
				}
				jDir.Unlock()

				kFile.Lock()
				if err := fs.Resize(kFile, uint64(len(payload))); err != nil {
					kFile.Unlock()
					t.Fatalf("resize /%s/%s/%s: %s", iName, jName, kName, err)
				}
				if _, err := fs.WriteInode(kFile, 0, payload); err != nil {
					kFile.Unlock()
					t.Fatalf("write /%s/%s/%s: %s", iName, jName, kName, err)
				}
				got := make([]byte, len(payload))
				if _, err := fs.ReadInode(kFile, 0, got); err != nil {
					kFile.Unlock()
					t.Fatalf("read /%s/%s/%s: %s", iName, jName, kName, err)
				}
				kFile.Unlock()

				for b := range payload {
					if got[b] != payload[b] {
						t.Fatalf("/%s/%s/%s byte %d = %d, want %d", iName, jName, kName, b, got[b], payload[b])
					}
				}
			}
		}
	}

	found, err := fs.GetInodeFromPath("/3/7/2", root)
	if err != nil {
		t.Fatal(err)
	}
	if found == nil {
		t.Fatal("expected /3/7/2 to resolve")
	}
	found.Lock()
	size := found.Size()
	found.Unlock()
	if size != 10 {
		t.Fatalf("size(/3/7/2) = %d, want 10", size)
	}
}

// Scenario 3: a single file at exactly the per-inode capacity boundary.
func TestScenarioSingleLargeFileAtCapacity(t *testing.T) {
	const totalBlocks = 100 * 1024
	dev := NewMemDevice(totalBlocks)
	fs, err := Create(dev, totalBlocks, totalBlocks/10)
	if err != nil {
		t.Fatal(err)
	}
	root, err := fs.Root()
	if err != nil {
		t.Fatal(err)
	}

	root.Lock()
	f, err := fs.CreateInode(root, "a_large_file", TypeFile)
	root.Unlock()
	if err != nil {
		t.Fatal(err)
	}

	wantCapacity := uint64(DirectCount+4096/8) * BlockSize
	if wantCapacity != CapacityPerInode {
		t.Fatalf("CapacityPerInode = %d, want %d", CapacityPerInode, wantCapacity)
	}

	f.Lock()
	defer f.Unlock()
	if err := fs.Resize(f, CapacityPerInode); err != nil {
		t.Fatalf("resize to capacity failed: %s", err)
	}
	if err := fs.Resize(f, CapacityPerInode+1); err != ErrTooLarge {
		t.Fatalf("got %v, want ErrTooLarge", err)
	}
}

// Scenario 5: persistence across a flush and a re-open with validation.
func TestScenarioPersistenceAcrossReopen(t *testing.T) {
	dev := NewMemDevice(4096)
	fs, err := Create(dev, 4096, 1)
	if err != nil {
		t.Fatal(err)
	}
	root, err := fs.Root()
	if err != nil {
		t.Fatal(err)
	}

	root.Lock()
	bin, err := fs.CreateInode(root, "bin", TypeDirectory)
	root.Unlock()
	if err != nil {
		t.Fatal(err)
	}

	bin.Lock()
	hello, err := fs.CreateInode(bin, "hello", TypeFile)
	if err != nil {
		bin.Unlock()
		t.Fatal(err)
	}
	bin.Unlock()

	payload := make([]byte, BlockSize)
	for i := range payload {
		payload[i] = 0xAA
	}
	hello.Lock()
	if err := fs.Resize(hello, uint64(len(payload))); err != nil {
		hello.Unlock()
		t.Fatal(err)
	}
	if _, err := fs.WriteInode(hello, 0, payload); err != nil {
		hello.Unlock()
		t.Fatal(err)
	}
	hello.Unlock()

	if err := fs.Flush(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(dev, true)
	if err != nil {
		t.Fatal(err)
	}
	reopenedRoot, err := reopened.Root()
	if err != nil {
		t.Fatal(err)
	}

	reopenedRoot.Lock()
	reopenedBin, err := reopened.Lookup(reopenedRoot, "bin")
	reopenedRoot.Unlock()
	if err != nil {
		t.Fatal(err)
	}
	if reopenedBin == nil {
		t.Fatal("expected /bin to survive reopen")
	}

	reopenedBin.Lock()
	reopenedHello, err := reopened.Lookup(reopenedBin, "hello")
	reopenedBin.Unlock()
	if err != nil {
		t.Fatal(err)
	}
	if reopenedHello == nil {
		t.Fatal("expected /bin/hello to survive reopen")
	}

	reopenedHello.Lock()
	got := make([]byte, BlockSize)
	_, err = reopened.ReadInode(reopenedHello, 0, got)
	reopenedHello.Unlock()
	if err != nil {
		t.Fatal(err)
	}
	for i, b := range got {
		if b != 0xAA {
			t.Fatalf("byte %d = %#x, want 0xAA", i, b)
		}
	}
}

// Scenario 6: drive the data bitmap to saturation without a crash.
func TestScenarioDataBitmapSaturation(t *testing.T) {
	dev := NewMemDevice(4096)
	fs, err := Create(dev, 4096, 1)
	if err != nil {
		t.Fatal(err)
	}

	failures := 0
	for i := 0; i < int(fs.sb.DataBlockCount)+4; i++ {
		_, err := fs.AllocateDataBlock()
		if err != nil {
			failures++
		} else {
			failures = 0
		}
	}
	if failures < 2 {
		t.Fatalf("expected at least two consecutive failures at saturation, got %d", failures)
	}
}
