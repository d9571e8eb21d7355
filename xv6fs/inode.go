package xv6fs

import (
	"encoding/binary"

	"github.com/noxer/bytewriter"

	"github.com/opfs-go/opfs/blockio"
	"github.com/opfs-go/opfs/errors"
)

// Dinode is the decoded form of one on-disk inode record.
type Dinode struct {
	Type  int16
	Major int16
	Minor int16
	NLink int16
	Size  uint32
	Addrs [NDIRECT + 1]uint32
}

// IsDir, IsFile, IsDev, IsFree classify a Dinode's Type field.
func (d Dinode) IsDir() bool  { return d.Type == TypeDir }
func (d Dinode) IsFile() bool { return d.Type == TypeFile }
func (d Dinode) IsDev() bool  { return d.Type == TypeDev }
func (d Dinode) IsFree() bool { return d.Type == TypeFree }

func decodeDinode(raw []byte) Dinode {
	var d Dinode
	d.Type = int16(binary.LittleEndian.Uint16(raw[0:2]))
	d.Major = int16(binary.LittleEndian.Uint16(raw[2:4]))
	d.Minor = int16(binary.LittleEndian.Uint16(raw[4:6]))
	d.NLink = int16(binary.LittleEndian.Uint16(raw[6:8]))
	d.Size = binary.LittleEndian.Uint32(raw[8:12])
	for i := 0; i < NDIRECT+1; i++ {
		off := 12 + i*4
		d.Addrs[i] = binary.LittleEndian.Uint32(raw[off : off+4])
	}
	return d
}

// encodeDinode serializes d into raw (exactly DinodeSize bytes), using a
// bytewriter over the pre-sliced window so binary.Write can target it
// directly -- the same pattern file_systems/unixv1/format.go uses to write
// its bitmap header.
func encodeDinode(raw []byte, d Dinode) error {
	w := bytewriter.New(raw)
	fields := []any{
		uint16(d.Type), uint16(d.Major), uint16(d.Minor), uint16(d.NLink), d.Size,
	}
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return errors.New(errors.Corrupt, "encode inode: %s", err)
		}
	}
	for _, a := range d.Addrs {
		if err := binary.Write(w, binary.LittleEndian, a); err != nil {
			return errors.New(errors.Corrupt, "encode inode: %s", err)
		}
	}
	return nil
}

// Inode is a handle to one on-disk inode record: an (image, inode number)
// pair, so a handle never needs to reverse-search for its own inode number.
type Inode struct {
	dev  blockio.Device
	sb   Superblock
	Inum uint32
}

// block returns the exact DinodeSize-byte window backing this inode, a
// direct slice into the underlying device so that field stores take effect
// immediately.
func (ip *Inode) block() ([]byte, error) {
	blockNum := ip.sb.InodeBlockOf(ip.Inum)
	raw, err := ip.dev.Block(blockNum)
	if err != nil {
		return nil, err
	}
	slot := ip.Inum % IPB
	start := slot * DinodeSize
	return raw[start : start+DinodeSize], nil
}

// Read decodes the current on-disk state of this inode.
func (ip *Inode) Read() (Dinode, error) {
	raw, err := ip.block()
	if err != nil {
		return Dinode{}, err
	}
	return decodeDinode(raw), nil
}

// Write stores d as this inode's on-disk state.
func (ip *Inode) Write(d Dinode) error {
	raw, err := ip.block()
	if err != nil {
		return err
	}
	return encodeDinode(raw, d)
}

// Get returns an Inode handle for inode number inum, which must be in
// (0, ninodes) -- inode 0 is reserved.
func Get(dev blockio.Device, sb Superblock, inum uint32) (*Inode, error) {
	if inum == 0 || inum >= sb.NInodes {
		return nil, errors.New(errors.InvalidArgument, "iget: %d: invalid inode number", inum)
	}
	return &Inode{dev: dev, sb: sb, Inum: inum}, nil
}

// Alloc scans for the first free inode, zeroes it, sets its type, and
// returns a handle to it. Fails fatally if none is free.
func Alloc(dev blockio.Device, sb Superblock, invType int16) (*Inode, error) {
	for inum := uint32(1); inum < sb.NInodes; inum++ {
		ip := &Inode{dev: dev, sb: sb, Inum: inum}
		d, err := ip.Read()
		if err != nil {
			return nil, err
		}
		if !d.IsFree() {
			continue
		}
		var fresh Dinode
		fresh.Type = invType
		if err := ip.Write(fresh); err != nil {
			return nil, err
		}
		return ip, nil
	}
	return nil, errors.Fatalf(errors.Exhausted, "ialloc: no free inodes")
}

// Free marks inum's inode as free (Type = 0). It warns, but does not fail,
// if the inode was already free or still has outstanding links. It does
// not free the underlying data blocks; callers do that separately via
// Truncate.
func Free(dev blockio.Device, sb Superblock, inum uint32, onWarning func(string)) error {
	ip, err := Get(dev, sb, inum)
	if err != nil {
		return err
	}
	d, err := ip.Read()
	if err != nil {
		return err
	}
	if onWarning != nil {
		if d.IsFree() {
			onWarning("ifree: inode already free")
		}
		if d.NLink > 0 {
			onWarning("ifree: nlink is not zero")
		}
	}
	d.Type = TypeFree
	return ip.Write(d)
}
