// Package xv6test builds freshly formatted in-memory filesystem images for
// use in tests, grounded on testing/images.go's LoadDiskImage -- but instead
// of decompressing a canned fixture, it formats one from scratch through
// xv6fs.Format, since every test in this module exercises operations this
// editor itself performs rather than replaying a golden image.
package xv6test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opfs-go/opfs/blockio"
	"github.com/opfs-go/opfs/utilities/compression"
	"github.com/opfs-go/opfs/xv6fs"
)

// Fixture is a small, fully formatted image plus the FileSystem opened on
// top of it.
type Fixture struct {
	Image *blockio.MemImage
	FS    *xv6fs.FileSystem
}

// New formats a numBlocks-block, numInodes-inode image with a log region of
// numLog blocks and returns both the raw image and the opened FileSystem.
// Fails the test immediately (via require) if formatting doesn't succeed --
// a malformed fixture means the test itself is broken, not the code under
// test.
func New(t *testing.T, numBlocks, numInodes, numLog uint32) *Fixture {
	t.Helper()

	data := make([]byte, numBlocks*xv6fs.BSIZE)
	img, err := blockio.NewMemImage(data, xv6fs.BSIZE)
	require.NoError(t, err)

	fs, err := xv6fs.Format(img, numInodes, numLog)
	require.NoError(t, err)

	return &Fixture{Image: img, FS: fs}
}

// Reopen decodes a fresh FileSystem handle from the same backing image,
// simulating a process restart between operations (useful for asserting
// that writes actually persisted rather than living only in Go-level
// state).
func (f *Fixture) Reopen(t *testing.T) *xv6fs.FileSystem {
	t.Helper()
	fs, err := xv6fs.Open(f.Image)
	require.NoError(t, err)
	return fs
}

// Compress packs the fixture's current bytes through the RLE8+gzip codec,
// the same one cmd/opfs's export-compressed command uses. Useful for
// building a golden compressed image from a Fixture built programmatically
// with New.
func (f *Fixture) Compress(t *testing.T) []byte {
	t.Helper()
	var out bytes.Buffer
	_, err := compression.CompressImage(f.Image.Stream(), &out)
	require.NoError(t, err)
	return out.Bytes()
}

// LoadCompressed decompresses a gzipped, RLE8-encoded disk image (as
// produced by Compress, or by a canned fixture committed to the repo) and
// opens a FileSystem on top of it, following testing/images.go's
// LoadDiskImage.
func LoadCompressed(t *testing.T, compressedImageBytes []byte, numBlocks uint32) *Fixture {
	t.Helper()
	require.Greater(t, len(compressedImageBytes), 0, "compressed image is empty")

	imageBytes, err := compression.DecompressImageToBytes(bytes.NewReader(compressedImageBytes))
	require.NoError(t, err)
	require.Equal(t, int(numBlocks*xv6fs.BSIZE), len(imageBytes), "uncompressed image is wrong size")

	img, err := blockio.NewMemImage(imageBytes, xv6fs.BSIZE)
	require.NoError(t, err)

	fs, err := xv6fs.Open(img)
	require.NoError(t, err)

	return &Fixture{Image: img, FS: fs}
}
