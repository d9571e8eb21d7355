package xv6fs

import (
	"github.com/boljen/go-bitmap"

	"github.com/opfs-go/opfs/blockio"
	"github.com/opfs-go/opfs/errors"
)

// BPB is the number of bits stored in one bitmap block.
const BPB = BSIZE * 8

// Allocator is the bitmap-backed data-block allocator. It treats each
// bitmap block of the image directly as a [bitmap.Bitmap], so every Set()
// call writes straight through to the image rather than through a private
// copy of the bitmap.
type Allocator struct {
	sb  Superblock
	dev blockio.Device
}

// NewAllocator builds an Allocator over an already-derived Superblock.
func NewAllocator(sb Superblock, dev blockio.Device) *Allocator {
	return &Allocator{sb: sb, dev: dev}
}

// bitmapBlockAndIndex locates the bitmap block and the bit index within it
// for global block number b.
func (a *Allocator) bitmapBlockAndIndex(b uint32) (blockNum uint32, bitIndex int) {
	return a.sb.FirstBitmapBlock() + b/BPB, int(b % BPB)
}

func (a *Allocator) getBit(b uint32) (bool, error) {
	blockNum, bitIndex := a.bitmapBlockAndIndex(b)
	raw, err := a.dev.Block(blockNum)
	if err != nil {
		return false, err
	}
	return bitmap.Bitmap(raw).Get(bitIndex), nil
}

func (a *Allocator) setBit(b uint32, v bool) error {
	blockNum, bitIndex := a.bitmapBlockAndIndex(b)
	raw, err := a.dev.Block(blockNum)
	if err != nil {
		return err
	}
	bitmap.Bitmap(raw).Set(bitIndex, v)
	return nil
}

// Allocate scans the bitmap from bit 0 for the first clear bit whose index
// is a valid data block, sets it, zero-fills the block, and returns its
// number. Fails fatally if none is found.
func (a *Allocator) Allocate() (uint32, error) {
	for b := uint32(0); b < a.sb.Size; b++ {
		set, err := a.getBit(b)
		if err != nil {
			return 0, err
		}
		if set {
			continue
		}
		if !a.sb.ValidDataBlock(b) {
			continue
		}
		if err := a.setBit(b, true); err != nil {
			return 0, err
		}
		block, err := a.dev.Block(b)
		if err != nil {
			return 0, err
		}
		for i := range block {
			block[i] = 0
		}
		return b, nil
	}
	return 0, errors.Fatalf(errors.Exhausted, "balloc: no free blocks")
}

// Free clears the bitmap bit for a data block. It refuses to touch a block
// outside the data region, and warns (but still succeeds) if the bit was
// already clear.
func (a *Allocator) Free(b uint32, onWarning func(string)) error {
	if !a.sb.ValidDataBlock(b) {
		return errors.New(errors.InvalidArgument, "bfree: %d: invalid data block number", b)
	}
	set, err := a.getBit(b)
	if err != nil {
		return err
	}
	if !set && onWarning != nil {
		onWarning("bfree: block already free")
	}
	return a.setBit(b, false)
}

// CountUsed returns the number of set bits across every bitmap block, used
// by `diskinfo`.
func (a *Allocator) CountUsed() (uint32, error) {
	var count uint32
	for i := uint32(0); i < a.sb.NumBitmapBlocks(); i++ {
		raw, err := a.dev.Block(a.sb.FirstBitmapBlock() + i)
		if err != nil {
			return 0, err
		}
		for _, byteVal := range raw {
			count += uint32(bitCount(byteVal))
		}
	}
	return count, nil
}

func bitCount(x byte) int {
	n := 0
	for x != 0 {
		n += int(x & 1)
		x >>= 1
	}
	return n
}
