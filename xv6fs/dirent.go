package xv6fs

import (
	"bytes"
	"encoding/binary"

	"github.com/noxer/bytewriter"

	"github.com/opfs-go/opfs/errors"
)

// Dirent is the decoded form of one on-disk directory entry: an
// inode number paired with a fixed-width, NUL-padded name.
type Dirent struct {
	Inum uint16
	Name string
}

// decodeDirent reads one DirentSize-byte record.
func decodeDirent(raw []byte) Dirent {
	inum := binary.LittleEndian.Uint16(raw[0:2])
	nameBytes := raw[2:DirentSize]
	if i := bytes.IndexByte(nameBytes, 0); i >= 0 {
		nameBytes = nameBytes[:i]
	}
	return Dirent{Inum: inum, Name: string(nameBytes)}
}

// encodeDirent writes de into raw, which must be exactly DirentSize bytes.
// A name longer than DIRSIZ bytes is silently truncated to fit, the same
// as skipelem/splitpath truncate an overlong path component before it
// ever reaches here.
func encodeDirent(raw []byte, de Dirent) error {
	w := bytewriter.New(raw)
	if err := binary.Write(w, binary.LittleEndian, de.Inum); err != nil {
		return errors.New(errors.Corrupt, "encode dirent: %s", err)
	}
	var nameBuf [DIRSIZ]byte
	copy(nameBuf[:], de.Name)
	if err := binary.Write(w, binary.LittleEndian, nameBuf); err != nil {
		return errors.New(errors.Corrupt, "encode dirent: %s", err)
	}
	return nil
}

// direntsPerBlock is how many fixed-size directory entries fit in one
// block.
const direntsPerBlock = BSIZE / DirentSize
