// Package blockio provides fixed-size block access to an xv6-style disk
// image, backed either by a shared memory mapping of a real image file or,
// for tests, by a plain byte slice exposed as a stream.
package blockio

import "github.com/opfs-go/opfs/errors"

// Device is a typed window over a disk image: fixed-size block access by
// block number, with stores visible to every other reader of the same
// Device and persisted to the backing storage according to the
// implementation's own flush semantics.
type Device interface {
	// Block returns a mutable slice of exactly BlockSize() bytes
	// representing block b. Writes through the returned slice are visible
	// immediately to every subsequent Block() call, including ones from a
	// different Device instance over the same storage.
	Block(b uint32) ([]byte, error)

	// NumBlocks returns the total number of blocks in the image.
	NumBlocks() uint32

	// BlockSize returns the size of one block, in bytes. Always BSIZE for
	// xv6-style images.
	BlockSize() uint32

	// Sync flushes any buffered writes to the backing storage.
	Sync() error

	// Close releases the underlying resources (file descriptor, mapping).
	// After Close, the Device must not be used again.
	Close() error
}

func checkBlockBounds(b, numBlocks uint32) error {
	if b >= numBlocks {
		return errors.Fatalf(
			errors.InvalidArgument,
			"block %d out of range [0, %d)", b, numBlocks,
		)
	}
	return nil
}
