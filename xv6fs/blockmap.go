package xv6fs

import (
	"encoding/binary"

	"github.com/opfs-go/opfs/blockio"
	"github.com/opfs-go/opfs/errors"
)

// indirectSlot returns the byte range within an indirect block holding the
// n'th pointer.
func indirectSlot(n uint32) (start, end int) {
	start = int(n) * 4
	return start, start + 4
}

// bmap returns the data block number holding the n'th block of an inode's
// content (0-indexed), allocating direct and indirect pointers as it goes.
// It fails fatally if n is beyond MAXFILESIZE/BSIZE.
func bmap(dev blockio.Device, alloc *Allocator, d *Dinode, n uint32) (uint32, error) {
	if n < NDIRECT {
		if d.Addrs[n] == 0 {
			b, err := alloc.Allocate()
			if err != nil {
				return 0, err
			}
			d.Addrs[n] = b
		}
		return d.Addrs[n], nil
	}

	n -= NDIRECT
	if n >= NINDIRECT {
		return 0, errors.Fatalf(errors.IOBounds, "bmap: block offset %d exceeds MAXFILESIZE", n)
	}

	if d.Addrs[NDIRECT] == 0 {
		b, err := alloc.Allocate()
		if err != nil {
			return 0, err
		}
		d.Addrs[NDIRECT] = b
	}

	indirect, err := dev.Block(d.Addrs[NDIRECT])
	if err != nil {
		return 0, err
	}

	start, end := indirectSlot(n)
	addr := binary.LittleEndian.Uint32(indirect[start:end])
	if addr == 0 {
		addr, err = alloc.Allocate()
		if err != nil {
			return 0, err
		}
		binary.LittleEndian.PutUint32(indirect[start:end], addr)
	}
	return addr, nil
}

// blockCount returns how many block pointers d holds directly: its non-zero
// direct pointers plus its indirect block, if any. The slots inside the
// indirect block are not counted.
func blockCount(d *Dinode) uint32 {
	var n uint32
	for _, a := range d.Addrs[:NDIRECT] {
		if a != 0 {
			n++
		}
	}
	if d.Addrs[NDIRECT] != 0 {
		n++
	}
	return n
}
