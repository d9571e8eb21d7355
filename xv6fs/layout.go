// Package xv6fs implements the on-disk structures and operations of the
// xv6-style filesystem image editor: superblock derivation, the block
// allocation bitmap, the inode table, the direct/indirect block mapper,
// byte-range file I/O, and the directory/path-resolution layer.
//
// Every exported operation here corresponds 1:1 to one concern of that
// layer: iget/geti/ialloc/ifree, balloc/bfree, bmap, iread/iwrite/
// itruncate, skipelem/splitpath, dlookup/daddent/dmkparlink/emptydir/
// ilookup/icreat/iunlink.
package xv6fs

import (
	"encoding/binary"

	"github.com/noxer/bytewriter"

	"github.com/opfs-go/opfs/errors"
)

// On-disk geometry constants (byte-exact, never adjusted by
// this editor).
const (
	// BSIZE is the size of one block, in bytes.
	BSIZE = 512
	// DinodeSize is the size of one on-disk inode record, in bytes.
	DinodeSize = 64
	// IPB is the number of inodes that fit in one block.
	IPB = BSIZE / DinodeSize
	// NDIRECT is the number of direct block pointers in an inode.
	NDIRECT = 12
	// NINDIRECT is the number of block pointers held by one indirect block.
	NINDIRECT = BSIZE / 4
	// DIRSIZ is the maximum length of a path component / directory entry
	// name, in bytes.
	DIRSIZ = 14
	// DirentSize is the size of one on-disk directory entry, in bytes.
	DirentSize = 2 + DIRSIZ
	// MAXFILESIZE is the largest a file's size may grow to, in bytes.
	MAXFILESIZE = (NDIRECT + NINDIRECT) * BSIZE

	// Inode types (dinode.Type).
	TypeFree = 0
	TypeDir  = 1
	TypeFile = 2
	TypeDev  = 3

	// RootInum is the inode number of the root directory. Its ".." points
	// to itself.
	RootInum = 1

	superblockBlock = 1
	firstInodeBlock = 2
)

// Superblock holds the four stored fields that the rest of the region
// layout is derived from.
type Superblock struct {
	Size    uint32 // N: total blocks in the image
	NInodes uint32 // ninodes: total addressable inode numbers (0 reserved)
	NBlocks uint32 // nblocks: Nd, the number of data blocks
	NLog    uint32 // nlog: Nl, the number of log blocks (untouched by this tool)
}

// divCeil computes ceil(x/y) for non-negative x and positive y.
func divCeil(x, y uint32) uint32 {
	if x == 0 {
		return 0
	}
	return (x-1)/y + 1
}

// NumInodeBlocks returns Ni, the number of inode blocks.
func (sb Superblock) NumInodeBlocks() uint32 {
	return divCeil(sb.NInodes, IPB)
}

// NumBitmapBlocks returns Nm, the number of bitmap blocks.
func (sb Superblock) NumBitmapBlocks() uint32 {
	return sb.Size/(BSIZE*8) + 1
}

// FirstBitmapBlock returns the block number of the first bitmap block.
func (sb Superblock) FirstBitmapBlock() uint32 {
	return firstInodeBlock + sb.NumInodeBlocks()
}

// FirstDataBlock returns d, the block number of the first data block.
func (sb Superblock) FirstDataBlock() uint32 {
	return sb.FirstBitmapBlock() + sb.NumBitmapBlocks()
}

// FirstLogBlock returns the block number of the first log block.
func (sb Superblock) FirstLogBlock() uint32 {
	return sb.Size - sb.NLog
}

// ValidDataBlock reports whether b falls within [d, d+Nd).
func (sb Superblock) ValidDataBlock(b uint32) bool {
	d := sb.FirstDataBlock()
	return b >= d && b < d+sb.NBlocks
}

// InodeBlockOf returns the block number containing inode inum.
func (sb Superblock) InodeBlockOf(inum uint32) uint32 {
	return firstInodeBlock + inum/IPB
}

// readSuperblock decodes the stored fields from block 1.
func readSuperblock(block []byte) (Superblock, error) {
	if len(block) < 16 {
		return Superblock{}, errors.Fatalf(errors.Corrupt, "superblock block too short")
	}
	return Superblock{
		Size:    binary.LittleEndian.Uint32(block[0:4]),
		NInodes: binary.LittleEndian.Uint32(block[4:8]),
		NBlocks: binary.LittleEndian.Uint32(block[8:12]),
		NLog:    binary.LittleEndian.Uint32(block[12:16]),
	}, nil
}

// writeSuperblock encodes sb into block (block 1 of the image), using a
// bytewriter so binary.Write can target the pre-sliced block window
// directly, the way file_systems/unixv1/format.go writes its header.
func writeSuperblock(block []byte, sb Superblock) error {
	w := bytewriter.New(block)
	for _, v := range []uint32{sb.Size, sb.NInodes, sb.NBlocks, sb.NLog} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return errors.Fatalf(errors.Corrupt, "write superblock: %s", err)
		}
	}
	return nil
}
