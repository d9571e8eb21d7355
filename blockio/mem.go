package blockio

import (
	"io"

	"github.com/xaionaro-go/bytesextra"

	"github.com/opfs-go/opfs/errors"
)

// MemImage is a Device backed by a plain byte slice instead of a memory
// mapped file. It's used by tests and by the internal fixture formatter
// (internal/xv6test), where there's no real file to mmap. Block() slices
// directly into the backing array, so it has the same write-through
// semantics as MappedImage.
type MemImage struct {
	data      []byte
	blockSize uint32
	numBlocks uint32
}

// NewMemImage wraps an existing byte slice whose length must be an exact
// multiple of blockSize.
func NewMemImage(data []byte, blockSize uint32) (*MemImage, error) {
	if blockSize == 0 || len(data)%int(blockSize) != 0 {
		return nil, errors.New(
			errors.Corrupt,
			"image size %d is not a multiple of block size %d", len(data), blockSize,
		)
	}
	return &MemImage{
		data:      data,
		blockSize: blockSize,
		numBlocks: uint32(len(data) / int(blockSize)),
	}, nil
}

func (img *MemImage) Block(b uint32) ([]byte, error) {
	if err := checkBlockBounds(b, img.numBlocks); err != nil {
		return nil, err
	}
	start := uint64(b) * uint64(img.blockSize)
	return img.data[start : start+uint64(img.blockSize)], nil
}

func (img *MemImage) NumBlocks() uint32 { return img.numBlocks }
func (img *MemImage) BlockSize() uint32 { return img.blockSize }
func (img *MemImage) Sync() error       { return nil }
func (img *MemImage) Close() error      { return nil }

// Stream exposes the whole backing array as an io.ReadWriteSeeker, for
// callers that want to treat the image as a flat byte stream instead of a
// sequence of blocks -- e.g. cmd/opfs's export-compressed command, which
// feeds it straight into utilities/compression.CompressImage.
func (img *MemImage) Stream() io.ReadWriteSeeker {
	return bytesextra.NewReadWriteSeeker(img.data)
}

// Bytes returns the raw backing array. Callers must not retain it past the
// lifetime of the image if they intend to keep using the MemImage.
func (img *MemImage) Bytes() []byte {
	return img.data
}
