package xv6fs

import (
	"encoding/binary"

	"github.com/opfs-go/opfs/blockio"
	"github.com/opfs-go/opfs/errors"
)

// ReadAt copies up to len(dst) bytes of inum's content starting at offset
// off into dst, returning the number of bytes copied. Reads that start at
// or past the file's recorded size return 0 bytes and no error; reads
// that overrun it are clamped to the bytes actually present.
func ReadAt(dev blockio.Device, sb Superblock, inum uint32, off uint32, dst []byte) (int, error) {
	ip, err := Get(dev, sb, inum)
	if err != nil {
		return 0, err
	}
	d, err := ip.Read()
	if err != nil {
		return 0, err
	}
	if d.IsDev() {
		return 0, errors.New(errors.WrongType, "iread: inode %d is a device", inum)
	}
	if off >= d.Size {
		return 0, nil
	}

	total := len(dst)
	if uint32(total) > d.Size-off {
		total = int(d.Size - off)
	}

	copied := 0
	for copied < total {
		blockOffset := (off + uint32(copied)) / BSIZE
		byteInBlock := (off + uint32(copied)) % BSIZE

		blockNum := d.Addrs[0]
		if blockOffset < NDIRECT {
			blockNum = d.Addrs[blockOffset]
		} else {
			idx := blockOffset - NDIRECT
			indirect, err := dev.Block(d.Addrs[NDIRECT])
			if err != nil {
				return copied, err
			}
			start, end := indirectSlot(idx)
			blockNum = binary.LittleEndian.Uint32(indirect[start:end])
		}
		if blockNum == 0 {
			return copied, errors.Fatalf(errors.Corrupt, "iread: inode %d: hole at block offset %d", inum, blockOffset)
		}

		raw, err := dev.Block(blockNum)
		if err != nil {
			return copied, err
		}
		n := copy(dst[copied:total], raw[byteInBlock:])
		copied += n
	}
	return copied, nil
}

// WriteAt stores src at offset off in inum's content, growing the file and
// allocating new blocks through alloc as needed. It fails fatally if the
// write would push the file past MAXFILESIZE.
func WriteAt(dev blockio.Device, alloc *Allocator, sb Superblock, inum uint32, off uint32, src []byte) (int, error) {
	ip, err := Get(dev, sb, inum)
	if err != nil {
		return 0, err
	}
	d, err := ip.Read()
	if err != nil {
		return 0, err
	}
	if d.IsDev() {
		return 0, errors.New(errors.WrongType, "iwrite: inode %d is a device", inum)
	}
	if uint64(off)+uint64(len(src)) > MAXFILESIZE {
		return 0, errors.Fatalf(errors.Capacity, "iwrite: inode %d: write would exceed MAXFILESIZE", inum)
	}

	written, err := writeBytes(dev, alloc, &d, off, src)
	if err != nil {
		return written, err
	}

	if end := off + uint32(written); end > d.Size {
		d.Size = end
	}
	if err := ip.Write(d); err != nil {
		return written, err
	}
	return written, nil
}

// writeBytes copies src into d's content starting at off, allocating
// blocks through alloc as needed via bmap. It does not touch d.Size --
// callers decide how the inode's recorded size should change.
func writeBytes(dev blockio.Device, alloc *Allocator, d *Dinode, off uint32, src []byte) (int, error) {
	written := 0
	for written < len(src) {
		blockOffset := (off + uint32(written)) / BSIZE
		byteInBlock := (off + uint32(written)) % BSIZE

		blockNum, err := bmap(dev, alloc, d, blockOffset)
		if err != nil {
			return written, err
		}

		raw, err := dev.Block(blockNum)
		if err != nil {
			return written, err
		}
		n := copy(raw[byteInBlock:], src[written:])
		written += n
	}
	return written, nil
}

// ceilBlocks returns the number of BSIZE blocks needed to hold size bytes.
func ceilBlocks(size uint32) uint32 {
	return (size + BSIZE - 1) / BSIZE
}

// Truncate resizes inum's content to newSize. Shrinking frees only the
// blocks that fall entirely outside the kept range -- direct blocks
// [min(k, NDIRECT), min(n, NDIRECT)), then indirect slots
// [max(k-NDIRECT, 0), max(n-NDIRECT, 0)), freeing the indirect block
// itself once every indirect slot is gone -- where n and k are the
// block counts needed for the old and new size respectively. Growing
// zero-fills the gap between the old size and newSize, allocating blocks
// as the write demands. Calling Truncate twice with the same newSize is a
// no-op the second time.
func Truncate(dev blockio.Device, alloc *Allocator, sb Superblock, inum uint32, newSize uint32, onWarning func(string)) error {
	if uint64(newSize) > MAXFILESIZE {
		return errors.Fatalf(errors.Capacity, "itruncate: inode %d: new size exceeds MAXFILESIZE", inum)
	}
	ip, err := Get(dev, sb, inum)
	if err != nil {
		return err
	}
	d, err := ip.Read()
	if err != nil {
		return err
	}

	switch {
	case newSize < d.Size:
		if err := shrink(dev, alloc, &d, newSize, onWarning); err != nil {
			return err
		}
	case newSize > d.Size:
		gap := make([]byte, newSize-d.Size)
		if _, err := writeBytes(dev, alloc, &d, d.Size, gap); err != nil {
			return err
		}
	}

	d.Size = newSize
	return ip.Write(d)
}

// shrink frees the blocks that fall outside the first newSize bytes of d's
// content, per the block-range arithmetic documented on Truncate.
func shrink(dev blockio.Device, alloc *Allocator, d *Dinode, newSize uint32, onWarning func(string)) error {
	n := ceilBlocks(d.Size)
	k := ceilBlocks(newSize)

	directEnd := n
	if directEnd > NDIRECT {
		directEnd = NDIRECT
	}
	directStart := k
	if directStart > NDIRECT {
		directStart = NDIRECT
	}
	for i := directStart; i < directEnd; i++ {
		if d.Addrs[i] == 0 {
			continue
		}
		if err := alloc.Free(d.Addrs[i], onWarning); err != nil {
			return err
		}
		d.Addrs[i] = 0
	}

	if n <= NDIRECT {
		return nil
	}

	indStart := uint32(0)
	if k > NDIRECT {
		indStart = k - NDIRECT
	}
	indEnd := n - NDIRECT

	if d.Addrs[NDIRECT] != 0 {
		indirect, err := dev.Block(d.Addrs[NDIRECT])
		if err != nil {
			return err
		}
		for i := indStart; i < indEnd; i++ {
			start, end := indirectSlot(i)
			addr := binary.LittleEndian.Uint32(indirect[start:end])
			if addr == 0 {
				continue
			}
			if err := alloc.Free(addr, onWarning); err != nil {
				return err
			}
			binary.LittleEndian.PutUint32(indirect[start:end], 0)
		}
	}

	if k <= NDIRECT && d.Addrs[NDIRECT] != 0 {
		if err := alloc.Free(d.Addrs[NDIRECT], onWarning); err != nil {
			return err
		}
		d.Addrs[NDIRECT] = 0
	}
	return nil
}
