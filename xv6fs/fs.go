package xv6fs

import (
	"github.com/opfs-go/opfs/blockio"
	"github.com/opfs-go/opfs/errors"
)

// FileSystem ties a block device to its derived superblock and allocator,
// giving the CLI layer a single handle for every operation.
// It holds no cached inode or directory state: every call reads through to
// dev, which is itself either a memory mapping or an in-memory buffer with
// write-through semantics (blockio.Device).
type FileSystem struct {
	Dev   blockio.Device
	SB    Superblock
	Alloc *Allocator
}

// Open derives a FileSystem from an already-opened device by decoding its
// superblock (block 1).
func Open(dev blockio.Device) (*FileSystem, error) {
	block, err := dev.Block(superblockBlock)
	if err != nil {
		return nil, err
	}
	sb, err := readSuperblock(block)
	if err != nil {
		return nil, err
	}
	if sb.Size != dev.NumBlocks() {
		return nil, errors.New(
			errors.Corrupt,
			"superblock reports %d blocks but image has %d", sb.Size, dev.NumBlocks(),
		)
	}
	return &FileSystem{
		Dev:   dev,
		SB:    sb,
		Alloc: NewAllocator(sb, dev),
	}, nil
}

// Format lays down a fresh filesystem across the whole of dev: the
// superblock, zeroed inode and bitmap blocks, and a root directory whose
// ".." points to itself. The root directory always lives at inode 1.
func Format(dev blockio.Device, nInodes, nLog uint32) (*FileSystem, error) {
	total := dev.NumBlocks()
	sb := Superblock{Size: total, NInodes: nInodes, NLog: nLog}
	sb.NBlocks = total - sb.FirstDataBlock() - nLog
	if sb.FirstDataBlock()+nLog > total {
		return nil, errors.New(errors.Capacity, "format: image too small for %d inodes and %d log blocks", nInodes, nLog)
	}

	sbBlock, err := dev.Block(superblockBlock)
	if err != nil {
		return nil, err
	}
	if err := writeSuperblock(sbBlock, sb); err != nil {
		return nil, err
	}

	for b := firstInodeBlock; uint32(b) < sb.FirstBitmapBlock(); b++ {
		raw, err := dev.Block(uint32(b))
		if err != nil {
			return nil, err
		}
		for i := range raw {
			raw[i] = 0
		}
	}
	for b := sb.FirstBitmapBlock(); b < sb.FirstDataBlock(); b++ {
		raw, err := dev.Block(b)
		if err != nil {
			return nil, err
		}
		for i := range raw {
			raw[i] = 0
		}
	}

	fs := &FileSystem{Dev: dev, SB: sb, Alloc: NewAllocator(sb, dev)}

	root, err := Alloc(dev, sb, TypeDir)
	if err != nil {
		return nil, err
	}
	if root.Inum != RootInum {
		return nil, errors.Fatalf(errors.Corrupt, "format: root inode allocated as %d, expected %d", root.Inum, RootInum)
	}
	rd, err := root.Read()
	if err != nil {
		return nil, err
	}
	rd.NLink = 1
	if err := root.Write(rd); err != nil {
		return nil, err
	}
	if err := daddent(dev, fs.Alloc, sb, RootInum, ".", RootInum); err != nil {
		return nil, err
	}
	if err := daddent(dev, fs.Alloc, sb, RootInum, "..", RootInum); err != nil {
		return nil, err
	}

	return fs, nil
}

// Lookup resolves path to an inode number.
func (fs *FileSystem) Lookup(path string) (uint32, error) {
	return ilookup(fs.Dev, fs.SB, RootInum, path)
}

// Stat returns the decoded inode for path.
func (fs *FileSystem) Stat(path string) (Dinode, error) {
	inum, err := fs.Lookup(path)
	if err != nil {
		return Dinode{}, err
	}
	ip, err := Get(fs.Dev, fs.SB, inum)
	if err != nil {
		return Dinode{}, err
	}
	return ip.Read()
}

// List returns the non-empty directory entries of path.
func (fs *FileSystem) List(path string) ([]Dirent, error) {
	inum, err := fs.Lookup(path)
	if err != nil {
		return nil, err
	}
	ip, err := Get(fs.Dev, fs.SB, inum)
	if err != nil {
		return nil, err
	}
	d, err := ip.Read()
	if err != nil {
		return nil, err
	}
	if !d.IsDir() {
		return nil, errors.New(errors.WrongType, "%q: not a directory", path)
	}

	count, err := entryCount(fs.Dev, fs.SB, inum)
	if err != nil {
		return nil, err
	}
	entries := make([]Dirent, 0, count)
	for i := uint32(0); i < count; i++ {
		de, err := readDirentAt(fs.Dev, fs.SB, inum, i)
		if err != nil {
			return nil, err
		}
		if de.Inum != 0 {
			entries = append(entries, de)
		}
	}
	return entries, nil
}

// Read copies content from path starting at off into dst.
func (fs *FileSystem) Read(path string, off uint32, dst []byte) (int, error) {
	inum, err := fs.Lookup(path)
	if err != nil {
		return 0, err
	}
	return ReadAt(fs.Dev, fs.SB, inum, off, dst)
}

// Write stores src into path starting at off.
func (fs *FileSystem) Write(path string, off uint32, src []byte) (int, error) {
	inum, err := fs.Lookup(path)
	if err != nil {
		return 0, err
	}
	return WriteAt(fs.Dev, fs.Alloc, fs.SB, inum, off, src)
}

// Create makes a new file or directory at path.
func (fs *FileSystem) Create(path string, invType int16) (uint32, error) {
	return icreat(fs.Dev, fs.Alloc, fs.SB, RootInum, path, invType)
}

// Link adds a second name (newPath) for the inode already at oldPath.
// It refuses to hard-link a directory.
func (fs *FileSystem) Link(oldPath, newPath string) error {
	inum, err := fs.Lookup(oldPath)
	if err != nil {
		return err
	}
	ip, err := Get(fs.Dev, fs.SB, inum)
	if err != nil {
		return err
	}
	d, err := ip.Read()
	if err != nil {
		return err
	}
	if d.IsDir() {
		return errors.New(errors.WrongType, "ln: %q: cannot hard-link a directory", oldPath)
	}

	parentPath, name := splitpath(newPath)
	parentInum := uint32(RootInum)
	if parentPath != "" {
		parentInum, err = fs.Lookup(parentPath)
		if err != nil {
			return err
		}
	}
	// daddent itself increments the target's nlink for any non-"." name.
	return daddent(fs.Dev, fs.Alloc, fs.SB, parentInum, name, inum)
}

// Unlink removes path, freeing its inode once its link count drops to zero.
func (fs *FileSystem) Unlink(path string, onWarning func(string)) error {
	return iunlink(fs.Dev, fs.Alloc, fs.SB, RootInum, path, onWarning)
}

// Move relocates oldPath to newPath, following the src/dst type-combination
// table for `mv`: moving a regular file onto an existing
// directory places it inside under its own basename; onto an existing
// regular file, the destination is unlinked first; a directory may only
// land on an empty directory, which is unlinked and replaced. Moving the
// root, or moving anything onto a device inode, is refused.
func (fs *FileSystem) Move(oldPath, newPath string) error {
	if oldPath == "/" {
		return errors.New(errors.InvalidArgument, "mv: cannot move the root")
	}

	srcInum, err := fs.Lookup(oldPath)
	if err != nil {
		return err
	}
	srcIP, err := Get(fs.Dev, fs.SB, srcInum)
	if err != nil {
		return err
	}
	srcD, err := srcIP.Read()
	if err != nil {
		return err
	}

	targetParentInum, targetName, err := fs.resolveMoveTarget(oldPath, newPath, srcD)
	if err != nil {
		return err
	}

	oldParentPath, oldName := splitpath(oldPath)
	oldParentInum := uint32(RootInum)
	if oldParentPath != "" {
		oldParentInum, err = fs.Lookup(oldParentPath)
		if err != nil {
			return err
		}
	}

	if err := daddent(fs.Dev, fs.Alloc, fs.SB, targetParentInum, targetName, srcInum); err != nil {
		return err
	}

	_, oldIdx, found, err := dlookup(fs.Dev, fs.SB, oldParentInum, oldName)
	if err != nil {
		return err
	}
	if !found {
		return errors.New(errors.NotFound, "mv: %q: no such file or directory", oldPath)
	}
	if err := removeEntryAt(fs.Dev, fs.Alloc, fs.SB, oldParentInum, oldIdx); err != nil {
		return err
	}
	// Re-read: daddent above already bumped the on-disk nlink.
	srcD, err = srcIP.Read()
	if err != nil {
		return err
	}
	srcD.NLink--
	if err := srcIP.Write(srcD); err != nil {
		return err
	}

	if srcD.IsDir() && oldParentInum != targetParentInum {
		if err := fs.reparentDir(srcInum, oldParentInum, targetParentInum); err != nil {
			return err
		}
	}

	return nil
}

// resolveMoveTarget decides where the moved entry ends up: inside an
// existing destination directory under its own basename, replacing an
// existing destination file (or empty directory) of a compatible type, or
// simply at newPath if nothing exists there yet.
func (fs *FileSystem) resolveMoveTarget(oldPath, newPath string, srcD Dinode) (parentInum uint32, name string, err error) {
	dstInum, lookupErr := fs.Lookup(newPath)
	if lookupErr != nil && !errors.Is(lookupErr, errors.NotFound) {
		return 0, "", lookupErr
	}
	dstExists := lookupErr == nil

	if !dstExists {
		parentPath, n := splitpath(newPath)
		parentInum = RootInum
		if parentPath != "" {
			if parentInum, err = fs.Lookup(parentPath); err != nil {
				return 0, "", err
			}
		}
		return parentInum, n, nil
	}

	dstIP, err := Get(fs.Dev, fs.SB, dstInum)
	if err != nil {
		return 0, "", err
	}
	dstD, err := dstIP.Read()
	if err != nil {
		return 0, "", err
	}

	if dstD.IsDev() {
		return 0, "", errors.New(errors.WrongType, "mv: %q: cannot move onto a device inode", newPath)
	}

	if dstD.IsDir() {
		if !srcD.IsDir() {
			_, base := splitpath(oldPath)
			return dstInum, base, nil
		}
		empty, err := emptydir(fs.Dev, fs.SB, dstInum)
		if err != nil {
			return 0, "", err
		}
		if !empty {
			return 0, "", errors.New(errors.NotEmpty, "mv: %q: destination directory not empty", newPath)
		}
		parentPath, n := splitpath(newPath)
		parentInum = RootInum
		if parentPath != "" {
			if parentInum, err = fs.Lookup(parentPath); err != nil {
				return 0, "", err
			}
		}
		if err := fs.Unlink(newPath, nil); err != nil {
			return 0, "", err
		}
		return parentInum, n, nil
	}

	// dst is a regular file.
	if srcD.IsDir() {
		return 0, "", errors.New(errors.WrongType, "mv: %q: cannot move a directory onto a file", newPath)
	}
	if err := fs.Unlink(newPath, nil); err != nil {
		return 0, "", err
	}
	parentPath, n := splitpath(newPath)
	parentInum = RootInum
	if parentPath != "" {
		if parentInum, err = fs.Lookup(parentPath); err != nil {
			return 0, "", err
		}
	}
	return parentInum, n, nil
}

// reparentDir re-points a moved directory's ".." to its new parent and
// adjusts both parents' nlink, mirroring dmkparlink's bookkeeping.
func (fs *FileSystem) reparentDir(dirInum, oldParentInum, newParentInum uint32) error {
	_, idx, found, err := dlookup(fs.Dev, fs.SB, dirInum, "..")
	if err != nil {
		return err
	}
	if !found {
		return errors.New(errors.Corrupt, "mv: inode %d: missing \"..\" entry", dirInum)
	}
	if err := writeDirentAt(fs.Dev, fs.Alloc, fs.SB, dirInum, idx, Dirent{Inum: uint16(newParentInum), Name: ".."}); err != nil {
		return err
	}

	oldParentIP, err := Get(fs.Dev, fs.SB, oldParentInum)
	if err != nil {
		return err
	}
	oldParentD, err := oldParentIP.Read()
	if err != nil {
		return err
	}
	oldParentD.NLink--
	if err := oldParentIP.Write(oldParentD); err != nil {
		return err
	}

	newParentIP, err := Get(fs.Dev, fs.SB, newParentInum)
	if err != nil {
		return err
	}
	newParentD, err := newParentIP.Read()
	if err != nil {
		return err
	}
	newParentD.NLink++
	return newParentIP.Write(newParentD)
}

// Validate checks the image's structural invariants against corruption.
func (fs *FileSystem) Validate() error {
	return Validate(fs.Dev, fs.SB)
}
