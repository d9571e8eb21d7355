package blockio

import (
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/opfs-go/opfs/errors"
)

// MappedImage is the real, on-disk-backed Device: a shared read/write
// memory mapping of the whole image file. Every Block() call returns a
// slice directly into the mapping, so mutations are visible to the kernel's
// page cache immediately and are written back to the file on Sync/Close
// without any explicit buffering layer in this package.
type MappedImage struct {
	file      *os.File
	mapping   mmap.MMap
	blockSize uint32
	numBlocks uint32
}

// OpenMapped opens path read/write and maps it in its entirety. blockSize
// must evenly divide the file size, or the image is rejected as malformed.
func OpenMapped(path string, blockSize uint32) (*MappedImage, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.New(errors.InvalidArgument, "open %s: %s", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.New(errors.InvalidArgument, "stat %s: %s", path, err)
	}

	size := info.Size()
	if size <= 0 || size%int64(blockSize) != 0 {
		file.Close()
		return nil, errors.New(
			errors.Corrupt,
			"%s: size %d is not a positive multiple of block size %d",
			path, size, blockSize,
		)
	}

	mapping, err := mmap.Map(file, mmap.RDWR, 0)
	if err != nil {
		file.Close()
		return nil, errors.New(errors.InvalidArgument, "mmap %s: %s", path, err)
	}

	return &MappedImage{
		file:      file,
		mapping:   mapping,
		blockSize: blockSize,
		numBlocks: uint32(size / int64(blockSize)),
	}, nil
}

func (img *MappedImage) Block(b uint32) ([]byte, error) {
	if err := checkBlockBounds(b, img.numBlocks); err != nil {
		return nil, err
	}
	start := uint64(b) * uint64(img.blockSize)
	return img.mapping[start : start+uint64(img.blockSize)], nil
}

func (img *MappedImage) NumBlocks() uint32 { return img.numBlocks }
func (img *MappedImage) BlockSize() uint32 { return img.blockSize }

func (img *MappedImage) Sync() error {
	return img.mapping.Flush()
}

// Close unmaps the image and closes the file descriptor. It is safe to call
// from the fatal-error trampoline in cmd/opfs: it always attempts both
// steps and returns the first error encountered, matching the "still
// unmaps cleanly" guarantee.
func (img *MappedImage) Close() error {
	unmapErr := img.mapping.Unmap()
	closeErr := img.file.Close()
	if unmapErr != nil {
		return errors.New(errors.InvalidArgument, "munmap: %s", unmapErr)
	}
	if closeErr != nil {
		return errors.New(errors.InvalidArgument, "close: %s", closeErr)
	}
	return nil
}
