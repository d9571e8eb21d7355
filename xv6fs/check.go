package xv6fs

import (
	"encoding/binary"

	"github.com/hashicorp/go-multierror"

	"github.com/opfs-go/opfs/blockio"
	"github.com/opfs-go/opfs/errors"
)

// Validate walks the whole image and checks that every in-use data block
// is reachable from exactly one inode and marked allocated in the bitmap,
// every directory's "." names the directory itself and its ".." entry is
// present, and no inode claims a block outside the data region. Link counts
// are not checked. It's the `opfs check` command's engine.
//
// Every violation found is collected rather than returned on the first
// failure, the same multi-error-aggregation pattern a CLI uses for
// reporting several config/flag problems at once.
func Validate(dev blockio.Device, sb Superblock) error {
	var result *multierror.Error

	owner := make(map[uint32]uint32) // data block -> owning inode

	for inum := uint32(1); inum < sb.NInodes; inum++ {
		ip, err := Get(dev, sb, inum)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		d, err := ip.Read()
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if d.IsFree() {
			continue
		}

		for _, b := range d.Addrs[:NDIRECT] {
			if b == 0 {
				continue
			}
			if err := checkOwnedBlock(dev, sb, inum, b, owner); err != nil {
				result = multierror.Append(result, err)
			}
		}
		if b := d.Addrs[NDIRECT]; b != 0 {
			if err := checkOwnedBlock(dev, sb, inum, b, owner); err != nil {
				result = multierror.Append(result, err)
			}
			if indirect, err := dev.Block(b); err != nil {
				result = multierror.Append(result, err)
			} else {
				for i := uint32(0); i < NINDIRECT; i++ {
					start, end := indirectSlot(i)
					addr := binary.LittleEndian.Uint32(indirect[start:end])
					if addr == 0 {
						continue
					}
					if err := checkOwnedBlock(dev, sb, inum, addr, owner); err != nil {
						result = multierror.Append(result, err)
					}
				}
			}
		}

		if d.IsDir() {
			if err := checkDirShape(dev, sb, inum, d); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}

	alloc := NewAllocator(sb, dev)
	for b := sb.FirstDataBlock(); b < sb.FirstDataBlock()+sb.NBlocks; b++ {
		set, err := alloc.getBit(b)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		_, owned := owner[b]
		if set && !owned {
			result = multierror.Append(result, errors.New(errors.Corrupt, "block %d marked allocated but not referenced by any inode", b))
		}
		if !set && owned {
			result = multierror.Append(result, errors.New(errors.Corrupt, "block %d referenced by inode %d but not marked allocated", b, owner[b]))
		}
	}

	return result.ErrorOrNil()
}

func checkOwnedBlock(dev blockio.Device, sb Superblock, inum uint32, b uint32, owner map[uint32]uint32) error {
	if !sb.ValidDataBlock(b) {
		return errors.New(errors.Corrupt, "inode %d: block %d is outside the data region", inum, b)
	}
	if prev, ok := owner[b]; ok {
		return errors.New(errors.Corrupt, "block %d is claimed by both inode %d and inode %d", b, prev, inum)
	}
	owner[b] = inum
	return nil
}

func checkDirShape(dev blockio.Device, sb Superblock, inum uint32, d Dinode) error {
	selfInum, _, ok, err := dlookup(dev, sb, inum, ".")
	if err != nil {
		return err
	}
	if !ok {
		return errors.New(errors.Corrupt, "directory %d: missing \".\" entry", inum)
	}
	if selfInum != inum {
		return errors.New(errors.Corrupt, "directory %d: \".\" points to inode %d", inum, selfInum)
	}
	if _, _, ok, err := dlookup(dev, sb, inum, ".."); err != nil {
		return err
	} else if !ok {
		return errors.New(errors.Corrupt, "directory %d: missing \"..\" entry", inum)
	}
	return nil
}
