// Command mkfs builds a dkfs image from a host directory tree.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nanoos/dkfs"
)

const usage = `mkfs - dkfs image builder

Usage:
  mkfs <image-path> [source-path...]        Build an image, copying sources under /bin
  mkfs -C <image-path>                      List /bin of an existing image

Each source path is either a regular file, copied under /bin/<basename>,
or a directory, whose contained regular files (one level, no nested
directories) are copied the same way.
`

// canonicalImageBlocks and canonicalInodeBlocks size the fixed 16 MiB
// image the builder produces, matching the size the original image
// builder this tool replaces always used.
const (
	canonicalImageBlocks = 4096
	canonicalInodeBlocks = 1
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	if os.Args[1] == "-C" {
		if len(os.Args) < 3 {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(1)
		}
		if err := listBin(os.Args[2]); err != nil {
			fmt.Fprintf(os.Stderr, "mkfs: %s\n", err)
			os.Exit(1)
		}
		return
	}

	imagePath := os.Args[1]
	sources := os.Args[2:]
	if err := build(imagePath, sources); err != nil {
		fmt.Fprintf(os.Stderr, "mkfs: %s\n", err)
		os.Exit(1)
	}
}

func build(imagePath string, sources []string) error {
	f, err := os.OpenFile(imagePath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	if err := f.Truncate(canonicalImageBlocks * dkfs.BlockSize); err != nil {
		return fmt.Errorf("size image: %w", err)
	}

	fs, err := dkfs.Create(dkfs.NewFileDevice(f), canonicalImageBlocks, canonicalInodeBlocks)
	if err != nil {
		return fmt.Errorf("format image: %w", err)
	}

	root, err := fs.Root()
	if err != nil {
		return err
	}

	root.Lock()
	binDir, err := fs.CreateInode(root, "bin", dkfs.TypeDirectory)
	root.Unlock()
	if err != nil {
		return fmt.Errorf("create /bin: %w", err)
	}

	for _, src := range sources {
		if err := copySource(fs, binDir, src); err != nil {
			return err
		}
	}

	return fs.Flush()
}

func copySource(fs *dkfs.FileSystem, binDir *dkfs.Inode, src string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}

	if info.IsDir() {
		entries, err := os.ReadDir(src)
		if err != nil {
			return fmt.Errorf("read dir %s: %w", src, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				fmt.Fprintf(os.Stderr, "mkfs: skipping nested directory %s\n", filepath.Join(src, e.Name()))
				continue
			}
			if err := copyFile(fs, binDir, filepath.Join(src, e.Name())); err != nil {
				return err
			}
		}
		return nil
	}

	return copyFile(fs, binDir, src)
}

func copyFile(fs *dkfs.FileSystem, binDir *dkfs.Inode, path string) error {
	fmt.Fprintf(os.Stderr, "copying %s to /bin ...\n", path)

	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	name := filepath.Base(path)

	binDir.Lock()
	dst, err := fs.CreateInode(binDir, name, dkfs.TypeFile)
	binDir.Unlock()
	if err != nil {
		return fmt.Errorf("create /bin/%s: %w", name, err)
	}

	dst.Lock()
	defer dst.Unlock()
	if err := fs.Resize(dst, uint64(info.Size())); err != nil {
		return fmt.Errorf("size /bin/%s: %w", name, err)
	}

	buf := make([]byte, dkfs.BlockSize)
	var offset uint64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := fs.WriteInode(dst, offset, buf[:n]); werr != nil {
				return fmt.Errorf("write /bin/%s: %w", name, werr)
			}
			offset += uint64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
	}

	return nil
}

func listBin(imagePath string) error {
	f, err := os.Open(imagePath)
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	fs, err := dkfs.Open(dkfs.NewFileDevice(f), true)
	if err != nil {
		return fmt.Errorf("open filesystem: %w", err)
	}

	root, err := fs.Root()
	if err != nil {
		return err
	}

	root.Lock()
	binDir, err := fs.Lookup(root, "bin")
	root.Unlock()
	if err != nil {
		return err
	}
	if binDir == nil {
		return fmt.Errorf("no /bin in image")
	}

	binDir.Lock()
	defer binDir.Unlock()

	count := binDir.Size() / dkfs.DirEntrySize
	entryBuf := make([]byte, dkfs.DirEntrySize)
	for i := uint64(0); i < count; i++ {
		if _, err := fs.ReadInode(binDir, i*dkfs.DirEntrySize, entryBuf); err != nil {
			return err
		}
		var entry dkfs.DirEntry
		if err := entry.UnmarshalBinary(entryBuf); err != nil {
			return err
		}
		fmt.Println(entry.Name())
	}
	return nil
}
