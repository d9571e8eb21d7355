package xv6fs

import (
	"github.com/opfs-go/opfs/blockio"
	"github.com/opfs-go/opfs/errors"
)

// readDirentAt decodes the idx'th directory entry of dirInum.
func readDirentAt(dev blockio.Device, sb Superblock, dirInum uint32, idx uint32) (Dirent, error) {
	buf := make([]byte, DirentSize)
	n, err := ReadAt(dev, sb, dirInum, idx*DirentSize, buf)
	if err != nil {
		return Dirent{}, err
	}
	if n < DirentSize {
		return Dirent{}, nil
	}
	return decodeDirent(buf), nil
}

// writeDirentAt stores de as the idx'th directory entry of dirInum,
// allocating blocks (and growing the directory) as needed.
func writeDirentAt(dev blockio.Device, alloc *Allocator, sb Superblock, dirInum uint32, idx uint32, de Dirent) error {
	buf := make([]byte, DirentSize)
	if err := encodeDirent(buf, de); err != nil {
		return err
	}
	_, err := WriteAt(dev, alloc, sb, dirInum, idx*DirentSize, buf)
	return err
}

// entryCount returns how many DirentSize-wide slots dirInum's content
// currently holds (including any unlinked, all-zero slots).
func entryCount(dev blockio.Device, sb Superblock, dirInum uint32) (uint32, error) {
	ip, err := Get(dev, sb, dirInum)
	if err != nil {
		return 0, err
	}
	d, err := ip.Read()
	if err != nil {
		return 0, err
	}
	return d.Size / DirentSize, nil
}

// dlookup scans dirInum's entries for name. ok is false if no entry matches.
func dlookup(dev blockio.Device, sb Superblock, dirInum uint32, name string) (inum uint32, idx uint32, ok bool, err error) {
	count, err := entryCount(dev, sb, dirInum)
	if err != nil {
		return 0, 0, false, err
	}
	for i := uint32(0); i < count; i++ {
		de, err := readDirentAt(dev, sb, dirInum, i)
		if err != nil {
			return 0, 0, false, err
		}
		if de.Inum != 0 && de.Name == name {
			return uint32(de.Inum), i, true, nil
		}
	}
	return 0, 0, false, nil
}

// daddent adds an entry (name -> inum) to dirInum, reusing the first
// unlinked slot if one exists or appending a new one otherwise. It fails if
// name already exists. Unless name is
// ".", the linked inode's nlink is incremented -- this single rule is what
// produces every directory's "own '.'" baseline (set explicitly at
// creation, since "." entries never increment) plus its "parent names it"
// and "child's '..' names it" contributions (both flow through here).
func daddent(dev blockio.Device, alloc *Allocator, sb Superblock, dirInum uint32, name string, inum uint32) error {
	if _, _, ok, err := dlookup(dev, sb, dirInum, name); err != nil {
		return err
	} else if ok {
		return errors.New(errors.AlreadyExists, "daddent: %q already exists", name)
	}

	count, err := entryCount(dev, sb, dirInum)
	if err != nil {
		return err
	}

	var freeIdx uint32 = count
	for i := uint32(0); i < count; i++ {
		de, err := readDirentAt(dev, sb, dirInum, i)
		if err != nil {
			return err
		}
		if de.Inum == 0 {
			freeIdx = i
			break
		}
	}

	if err := writeDirentAt(dev, alloc, sb, dirInum, freeIdx, Dirent{Inum: uint16(inum), Name: name}); err != nil {
		return err
	}

	if name == "." {
		return nil
	}
	ip, err := Get(dev, sb, inum)
	if err != nil {
		return err
	}
	d, err := ip.Read()
	if err != nil {
		return err
	}
	d.NLink++
	return ip.Write(d)
}

// removeEntryAt clears the idx'th slot of dirInum by zeroing its inode
// number, leaving the slot available for reuse by a later daddent.
func removeEntryAt(dev blockio.Device, alloc *Allocator, sb Superblock, dirInum uint32, idx uint32) error {
	return writeDirentAt(dev, alloc, sb, dirInum, idx, Dirent{Inum: 0, Name: ""})
}

// dmkparlink populates a freshly allocated directory's "." and ".." entries,
// The ".." entry names parentInum, so
// daddent's generic nlink rule bumps the parent's link count for us.
func dmkparlink(dev blockio.Device, alloc *Allocator, sb Superblock, dirInum, parentInum uint32) error {
	if err := daddent(dev, alloc, sb, dirInum, ".", dirInum); err != nil {
		return err
	}
	return daddent(dev, alloc, sb, dirInum, "..", parentInum)
}

// emptydir reports whether dirInum contains only "." and "..".
func emptydir(dev blockio.Device, sb Superblock, dirInum uint32) (bool, error) {
	count, err := entryCount(dev, sb, dirInum)
	if err != nil {
		return false, err
	}
	for i := uint32(0); i < count; i++ {
		de, err := readDirentAt(dev, sb, dirInum, i)
		if err != nil {
			return false, err
		}
		if de.Inum == 0 {
			continue
		}
		if de.Name != "." && de.Name != ".." {
			return false, nil
		}
	}
	return true, nil
}

// ilookup resolves an absolute or root-relative path to an inode number.
// rootInum anchors both "/" and a leading empty parent.
func ilookup(dev blockio.Device, sb Superblock, rootInum uint32, path string) (uint32, error) {
	cur := rootInum
	rest := path
	for {
		elem, next, ok := skipelem(rest)
		if !ok {
			return cur, nil
		}

		ip, err := Get(dev, sb, cur)
		if err != nil {
			return 0, err
		}
		d, err := ip.Read()
		if err != nil {
			return 0, err
		}
		if !d.IsDir() {
			return 0, errors.New(errors.WrongType, "ilookup: %q: not a directory", elem)
		}

		inum, _, found, err := dlookup(dev, sb, cur, elem)
		if err != nil {
			return 0, err
		}
		if !found {
			return 0, errors.New(errors.NotFound, "ilookup: %q: no such file or directory", elem)
		}

		cur = inum
		rest = next
	}
}

// icreat resolves path's parent directory, creates a new inode of type
// invType, links it into the parent under path's final element (truncated
// to DIRSIZ bytes by splitpath), and (for directories) wires up "." and
// "..". It fails if the parent doesn't exist, isn't a directory, or the
// name is already taken.
func icreat(dev blockio.Device, alloc *Allocator, sb Superblock, rootInum uint32, path string, invType int16) (uint32, error) {
	parentPath, name := splitpath(path)
	if name == "" {
		return 0, errors.New(errors.InvalidArgument, "icreat: %q: empty final path element", path)
	}

	parentInum := rootInum
	if parentPath != "" {
		var err error
		parentInum, err = ilookup(dev, sb, rootInum, parentPath)
		if err != nil {
			return 0, err
		}
	}
	pip, err := Get(dev, sb, parentInum)
	if err != nil {
		return 0, err
	}
	pd, err := pip.Read()
	if err != nil {
		return 0, err
	}
	if !pd.IsDir() {
		return 0, errors.New(errors.WrongType, "icreat: %q: parent is not a directory", path)
	}

	ip, err := Alloc(dev, sb, invType)
	if err != nil {
		return 0, err
	}

	// A fresh directory starts at nlink=1 for its own "." (daddent never
	// increments on a "." entry, so this baseline has to be set here);
	// a fresh file starts at 0 and picks up its first link below.
	if invType == TypeDir {
		d, err := ip.Read()
		if err != nil {
			return 0, err
		}
		d.NLink = 1
		if err := ip.Write(d); err != nil {
			return 0, err
		}
	}

	if err := daddent(dev, alloc, sb, parentInum, name, ip.Inum); err != nil {
		return 0, err
	}

	if invType == TypeDir {
		if err := dmkparlink(dev, alloc, sb, ip.Inum, parentInum); err != nil {
			return 0, err
		}
	}

	return ip.Inum, nil
}

// iunlink removes path's final element from its parent directory,
// decrements the target's link count, and -- once its link count reaches
// zero -- truncates and frees its inode.
// Directories must be empty (besides "." and "..") before they may be
// unlinked.
func iunlink(dev blockio.Device, alloc *Allocator, sb Superblock, rootInum uint32, path string, onWarning func(string)) error {
	parentPath, name := splitpath(path)
	if name == "" || name == "." || name == ".." {
		return errors.New(errors.InvalidArgument, "iunlink: %q: cannot unlink", name)
	}

	parentInum := rootInum
	if parentPath != "" {
		var err error
		parentInum, err = ilookup(dev, sb, rootInum, parentPath)
		if err != nil {
			return err
		}
	}

	inum, idx, found, err := dlookup(dev, sb, parentInum, name)
	if err != nil {
		return err
	}
	if !found {
		return errors.New(errors.NotFound, "iunlink: %q: no such file or directory", name)
	}

	ip, err := Get(dev, sb, inum)
	if err != nil {
		return err
	}
	d, err := ip.Read()
	if err != nil {
		return err
	}

	if d.IsDir() {
		empty, err := emptydir(dev, sb, inum)
		if err != nil {
			return err
		}
		if !empty {
			return errors.New(errors.NotEmpty, "iunlink: %q: directory not empty", name)
		}

		pip, err := Get(dev, sb, parentInum)
		if err != nil {
			return err
		}
		pd, err := pip.Read()
		if err != nil {
			return err
		}
		pd.NLink--
		if err := pip.Write(pd); err != nil {
			return err
		}
	}

	if err := removeEntryAt(dev, alloc, sb, parentInum, idx); err != nil {
		return err
	}

	d.NLink--
	if err := ip.Write(d); err != nil {
		return err
	}

	if d.NLink <= 0 {
		if err := Truncate(dev, alloc, sb, inum, 0, onWarning); err != nil {
			return err
		}
		if err := Free(dev, sb, inum, onWarning); err != nil {
			return err
		}
	}

	return nil
}
