package xv6fs_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opfs-go/opfs/internal/xv6test"
	"github.com/opfs-go/opfs/xv6fs"
)

func TestTruncate_PartialShrinkKeepsPrefixAndFreesTail(t *testing.T) {
	fx := xv6test.New(t, 256, 64, 8)

	_, err := fx.FS.Create("/big", xv6fs.TypeFile)
	require.NoError(t, err)

	payload := bytes.Repeat([]byte{'x'}, 3*int(xv6fs.BSIZE))
	n, err := fx.FS.Write("/big", 0, payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	usedBefore, err := fx.FS.Alloc.CountUsed()
	require.NoError(t, err)

	newSize := uint32(xv6fs.BSIZE) + 100
	inum, err := fx.FS.Lookup("/big")
	require.NoError(t, err)
	require.NoError(t, xv6fs.Truncate(fx.FS.Dev, fx.FS.Alloc, fx.FS.SB, inum, newSize, nil))

	usedAfter, err := fx.FS.Alloc.CountUsed()
	require.NoError(t, err)
	assert.Less(t, usedAfter, usedBefore, "shrinking should free the blocks beyond newSize")

	d, err := fx.FS.Stat("/big")
	require.NoError(t, err)
	assert.Equal(t, newSize, d.Size)

	buf := make([]byte, newSize)
	got, err := fx.FS.Read("/big", 0, buf)
	require.NoError(t, err)
	assert.Equal(t, int(newSize), got)
	assert.Equal(t, payload[:newSize], buf)

	tail := make([]byte, 8)
	got, err = fx.FS.Read("/big", newSize, tail)
	require.NoError(t, err)
	assert.Equal(t, 0, got)
}

func TestTruncate_GrowZeroFillsGap(t *testing.T) {
	fx := xv6test.New(t, 256, 64, 8)

	_, err := fx.FS.Create("/small", xv6fs.TypeFile)
	require.NoError(t, err)

	n, err := fx.FS.Write("/small", 0, []byte("hi"))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	newSize := uint32(2 + 10)
	inum, err := fx.FS.Lookup("/small")
	require.NoError(t, err)
	require.NoError(t, xv6fs.Truncate(fx.FS.Dev, fx.FS.Alloc, fx.FS.SB, inum, newSize, nil))

	d, err := fx.FS.Stat("/small")
	require.NoError(t, err)
	assert.Equal(t, newSize, d.Size)

	buf := make([]byte, newSize)
	got, err := fx.FS.Read("/small", 0, buf)
	require.NoError(t, err)
	assert.Equal(t, int(newSize), got)

	want := append([]byte("hi"), make([]byte, 10)...)
	assert.Equal(t, want, buf)
}

func TestTruncate_SameSizeTwiceIsIdempotent(t *testing.T) {
	fx := xv6test.New(t, 256, 64, 8)

	_, err := fx.FS.Create("/f", xv6fs.TypeFile)
	require.NoError(t, err)
	_, err = fx.FS.Write("/f", 0, bytes.Repeat([]byte{'y'}, int(xv6fs.BSIZE)+50))
	require.NoError(t, err)

	inum, err := fx.FS.Lookup("/f")
	require.NoError(t, err)

	const newSize = 200
	require.NoError(t, xv6fs.Truncate(fx.FS.Dev, fx.FS.Alloc, fx.FS.SB, inum, newSize, nil))
	dOnce, err := fx.FS.Stat("/f")
	require.NoError(t, err)
	usedOnce, err := fx.FS.Alloc.CountUsed()
	require.NoError(t, err)

	require.NoError(t, xv6fs.Truncate(fx.FS.Dev, fx.FS.Alloc, fx.FS.SB, inum, newSize, nil))
	dTwice, err := fx.FS.Stat("/f")
	require.NoError(t, err)
	usedTwice, err := fx.FS.Alloc.CountUsed()
	require.NoError(t, err)

	assert.Equal(t, dOnce, dTwice)
	assert.Equal(t, usedOnce, usedTwice)
}
