// Command opfs edits a raw xv6-style filesystem image: list, read, create,
// copy, move, hardlink, delete, mkdir and rmdir, all without the help of
// any operating-system filesystem driver. Invocation is positional:
// `opfs IMAGE COMMAND [ARGS...]`. Two extra commands, export-compressed
// and import-compressed, pack and unpack a whole image through an
// RLE8+gzip codec for archiving, bypassing the xv6 layer entirely.
package main

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/urfave/cli/v2"

	"github.com/opfs-go/opfs/blockio"
	"github.com/opfs-go/opfs/errors"
	"github.com/opfs-go/opfs/utilities/compression"
	"github.com/opfs-go/opfs/xv6fs"
)

const readBufSize = 4096

// opts carries the root command's -debug/-csv flags down to each command
// function, since the dispatch table below is plain data, not closures
// over the cli.Context.
type opts struct {
	debug bool
	csv   bool
}

// command is one entry of the dispatch table: a name, an argument arity,
// and the function to run.
type command struct {
	name  string
	arity int // -1 means "any number of arguments"
	run   func(fs *xv6fs.FileSystem, args []string, o opts) error
}

var commands []command

func init() {
	commands = []command{
		{"diskinfo", 0, cmdDiskinfo},
		{"info", 1, cmdInfo},
		{"ls", 1, cmdLs},
		{"get", 1, cmdGet},
		{"put", 1, cmdPut},
		{"rm", 1, cmdRm},
		{"cp", 2, cmdCp},
		{"mv", 2, cmdMv},
		{"ln", 2, cmdLn},
		{"mkdir", 1, cmdMkdir},
		{"rmdir", 1, cmdRmdir},
		{"check", 0, cmdCheck},
	}
}

func main() {
	app := &cli.App{
		Name:      "opfs",
		Usage:     "inspect and mutate an xv6-style filesystem image offline",
		ArgsUsage: "IMAGE COMMAND [ARGS...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "debug", Usage: "print warning/debug diagnostics to stderr"},
			&cli.BoolFlag{Name: "csv", Usage: "emit ls/diskinfo output as CSV"},
		},
		Action: dispatch,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("opfs: %s", err)
	}
}

// dispatch opens the image named by the first positional argument, looks
// up the requested command in the table, runs it, and always unmaps and
// closes the image afterward -- even if the command itself failed --
// mirroring a fatal-error trampoline pattern.
func dispatch(c *cli.Context) error {
	args := c.Args().Slice()
	if len(args) < 2 {
		return cli.Exit("usage: opfs IMAGE COMMAND [ARGS...]", 2)
	}
	imagePath, cmdName, rest := args[0], args[1], args[2:]

	if cmdName == "export-compressed" || cmdName == "import-compressed" {
		if len(rest) != 1 {
			return cli.Exit(fmt.Sprintf("%s: expected 1 argument, got %d", cmdName, len(rest)), 2)
		}
		var err error
		if cmdName == "export-compressed" {
			err = exportCompressed(imagePath, rest[0])
		} else {
			err = importCompressed(rest[0], imagePath)
		}
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		return nil
	}

	var cmd *command
	for i := range commands {
		if commands[i].name == cmdName {
			cmd = &commands[i]
			break
		}
	}
	if cmd == nil {
		return cli.Exit(fmt.Sprintf("unknown command %q", cmdName), 2)
	}
	if cmd.arity >= 0 && len(rest) != cmd.arity {
		return cli.Exit(fmt.Sprintf("%s: expected %d argument(s), got %d", cmdName, cmd.arity, len(rest)), 2)
	}

	img, err := blockio.OpenMapped(imagePath, xv6fs.BSIZE)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer func() {
		if cerr := img.Close(); cerr != nil {
			fmt.Fprintf(os.Stderr, "opfs: close: %s\n", cerr)
		}
	}()

	fs, err := xv6fs.Open(img)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	o := opts{debug: c.Bool("debug"), csv: c.Bool("csv")}
	runErr := cmd.run(fs, rest, o)
	if runErr != nil {
		if o.debug || errors.IsFatal(runErr) {
			fmt.Fprintf(os.Stderr, "opfs: %s: %s\n", cmdName, runErr)
		}
		return cli.Exit(runErr.Error(), 1)
	}
	return nil
}

func warnTo(stream io.Writer, enabled bool) func(string) {
	return func(msg string) {
		if enabled {
			fmt.Fprintf(stream, "opfs: warning: %s\n", msg)
		}
	}
}

// diskinfoRow and lsRow are the CSV projections of diskinfo/ls output,
// following the `csv:"..."` tag convention disks/disks.go uses for
// gocarina/gocsv.
type diskinfoRow struct {
	Field string `csv:"field"`
	Value string `csv:"value"`
}

type lsRow struct {
	Name string `csv:"name"`
	Type int16  `csv:"type"`
	Inum uint32 `csv:"inum"`
	Size uint32 `csv:"size"`
}

func cmdDiskinfo(fs *xv6fs.FileSystem, _ []string, o opts) error {
	used, err := fs.Alloc.CountUsed()
	if err != nil {
		return err
	}

	tally := map[int16]int{}
	for inum := uint32(1); inum < fs.SB.NInodes; inum++ {
		ip, err := xv6fs.Get(fs.Dev, fs.SB, inum)
		if err != nil {
			return err
		}
		d, err := ip.Read()
		if err != nil {
			return err
		}
		if !d.IsFree() {
			tally[d.Type]++
		}
	}

	rows := []diskinfoRow{
		{"size", strconv.FormatUint(uint64(fs.SB.Size), 10)},
		{"ninodes", strconv.FormatUint(uint64(fs.SB.NInodes), 10)},
		{"nblocks", strconv.FormatUint(uint64(fs.SB.NBlocks), 10)},
		{"nlog", strconv.FormatUint(uint64(fs.SB.NLog), 10)},
		{"first_inode_block", "2"},
		{"first_bitmap_block", strconv.FormatUint(uint64(fs.SB.FirstBitmapBlock()), 10)},
		{"first_data_block", strconv.FormatUint(uint64(fs.SB.FirstDataBlock()), 10)},
		{"first_log_block", strconv.FormatUint(uint64(fs.SB.FirstLogBlock()), 10)},
		{"maxfilesize", strconv.FormatUint(uint64(xv6fs.MAXFILESIZE), 10)},
		{"used_blocks", strconv.FormatUint(uint64(used), 10)},
		{"dirs", strconv.Itoa(tally[xv6fs.TypeDir])},
		{"files", strconv.Itoa(tally[xv6fs.TypeFile])},
		{"devs", strconv.Itoa(tally[xv6fs.TypeDev])},
	}

	if o.csv {
		out, err := gocsv.MarshalString(&rows)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	}
	for _, r := range rows {
		fmt.Printf("%s: %s\n", r.Field, r.Value)
	}
	return nil
}

func cmdInfo(fs *xv6fs.FileSystem, args []string, _ opts) error {
	d, err := fs.Stat(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("type: %d (%s)\n", d.Type, typeName(d.Type))
	fmt.Printf("nlink: %d\n", d.NLink)
	fmt.Printf("size: %d\n", d.Size)
	return nil
}

func typeName(t int16) string {
	switch t {
	case xv6fs.TypeDir:
		return "directory"
	case xv6fs.TypeFile:
		return "file"
	case xv6fs.TypeDev:
		return "device"
	default:
		return "free"
	}
}

func cmdLs(fs *xv6fs.FileSystem, args []string, o opts) error {
	d, err := fs.Stat(args[0])
	if err != nil {
		return err
	}
	if !d.IsDir() {
		fmt.Printf("%s %d %d %d\n", args[0], d.Type, 0, d.Size)
		return nil
	}

	entries, err := fs.List(args[0])
	if err != nil {
		return err
	}
	rows := make([]lsRow, 0, len(entries))
	for _, de := range entries {
		entryD, err := fs.Stat(joinPath(args[0], de.Name))
		if err != nil {
			return err
		}
		rows = append(rows, lsRow{Name: de.Name, Type: entryD.Type, Inum: uint32(de.Inum), Size: entryD.Size})
	}

	if o.csv {
		out, err := gocsv.MarshalString(&rows)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	}
	for _, r := range rows {
		fmt.Printf("%s %d %d %d\n", r.Name, r.Type, r.Inum, r.Size)
	}
	return nil
}

func cmdGet(fs *xv6fs.FileSystem, args []string, _ opts) error {
	d, err := fs.Stat(args[0])
	if err != nil {
		return err
	}
	buf := make([]byte, readBufSize)
	var off uint32
	for off < d.Size {
		n, err := fs.Read(args[0], off, buf)
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
		if _, err := os.Stdout.Write(buf[:n]); err != nil {
			return err
		}
		off += uint32(n)
	}
	return nil
}

func cmdPut(fs *xv6fs.FileSystem, args []string, _ opts) error {
	path := args[0]

	inum, err := fs.Lookup(path)
	switch {
	case err == nil:
		ip, err := xv6fs.Get(fs.Dev, fs.SB, inum)
		if err != nil {
			return err
		}
		d, err := ip.Read()
		if err != nil {
			return err
		}
		if !d.IsFile() {
			return errors.New(errors.WrongType, "put: %q: not a regular file", path)
		}
		if err := xv6fs.Truncate(fs.Dev, fs.Alloc, fs.SB, inum, 0, nil); err != nil {
			return err
		}
	case errors.Is(err, errors.NotFound):
		if _, err := fs.Create(path, xv6fs.TypeFile); err != nil {
			return err
		}
	default:
		return err
	}

	r := bufio.NewReader(os.Stdin)
	buf := make([]byte, readBufSize)
	var off uint32
	for off < xv6fs.MAXFILESIZE {
		n, readErr := r.Read(buf)
		if n > 0 {
			if _, err := fs.Write(path, off, buf[:n]); err != nil {
				return err
			}
			off += uint32(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return readErr
		}
	}
	return nil
}

func cmdRm(fs *xv6fs.FileSystem, args []string, o opts) error {
	d, err := fs.Stat(args[0])
	if err != nil {
		return err
	}
	if d.IsDir() {
		return errors.New(errors.WrongType, "rm: %q: is a directory", args[0])
	}
	return fs.Unlink(args[0], warnTo(os.Stderr, o.debug))
}

func cmdCp(fs *xv6fs.FileSystem, args []string, _ opts) error {
	src, dst := args[0], args[1]

	srcD, err := fs.Stat(src)
	if err != nil {
		return err
	}
	if !srcD.IsFile() {
		return errors.New(errors.WrongType, "cp: %q: not a regular file", src)
	}

	dstPath := dst
	if dstInum, err := fs.Lookup(dst); err == nil {
		dstIP, err := xv6fs.Get(fs.Dev, fs.SB, dstInum)
		if err != nil {
			return err
		}
		dstD, err := dstIP.Read()
		if err != nil {
			return err
		}
		switch {
		case dstD.IsDir():
			_, base := splitBase(src)
			dstPath = joinPath(dst, base)
			if _, err := fs.Create(dstPath, xv6fs.TypeFile); err != nil {
				return err
			}
		case dstD.IsFile():
			if err := xv6fs.Truncate(fs.Dev, fs.Alloc, fs.SB, dstInum, 0, nil); err != nil {
				return err
			}
		default:
			return errors.New(errors.WrongType, "cp: %q: not a regular file or directory", dst)
		}
	} else if errors.Is(err, errors.NotFound) {
		if _, err := fs.Create(dstPath, xv6fs.TypeFile); err != nil {
			return err
		}
	} else {
		return err
	}

	buf := make([]byte, readBufSize)
	var off uint32
	for off < srcD.Size {
		n, err := fs.Read(src, off, buf)
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
		if _, err := fs.Write(dstPath, off, buf[:n]); err != nil {
			return err
		}
		off += uint32(n)
	}
	return nil
}

func cmdMv(fs *xv6fs.FileSystem, args []string, _ opts) error {
	return fs.Move(args[0], args[1])
}

func cmdLn(fs *xv6fs.FileSystem, args []string, _ opts) error {
	src, dst := args[0], args[1]

	srcD, err := fs.Stat(src)
	if err != nil {
		return err
	}
	if !srcD.IsFile() {
		return errors.New(errors.WrongType, "ln: %q: not a regular file", src)
	}

	linkPath := dst
	if dstInum, err := fs.Lookup(dst); err == nil {
		dstIP, err := xv6fs.Get(fs.Dev, fs.SB, dstInum)
		if err != nil {
			return err
		}
		dstD, err := dstIP.Read()
		if err != nil {
			return err
		}
		if dstD.IsDir() {
			_, base := splitBase(src)
			linkPath = joinPath(dst, base)
		}
	}
	return fs.Link(src, linkPath)
}

func cmdMkdir(fs *xv6fs.FileSystem, args []string, _ opts) error {
	_, err := fs.Create(args[0], xv6fs.TypeDir)
	return err
}

func cmdRmdir(fs *xv6fs.FileSystem, args []string, o opts) error {
	d, err := fs.Stat(args[0])
	if err != nil {
		return err
	}
	if !d.IsDir() {
		return errors.New(errors.WrongType, "rmdir: %q: not a directory", args[0])
	}
	return fs.Unlink(args[0], warnTo(os.Stderr, o.debug))
}

func cmdCheck(fs *xv6fs.FileSystem, _ []string, _ opts) error {
	if err := fs.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return cli.Exit("check found invariant violations", 1)
	}
	fmt.Println("ok")
	return nil
}

// splitBase returns the parent path and final element of p, delegating to
// the same convention xv6fs uses internally for path splitting.
func splitBase(p string) (parent string, base string) {
	p = strings.TrimRight(p, "/")
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return "", p
	}
	return p[:i], p[i+1:]
}

// joinPath appends child to a directory path without doubling the slash
// when dir is the root.
func joinPath(dir, child string) string {
	dir = strings.TrimRight(dir, "/")
	if dir == "" {
		return "/" + child
	}
	return dir + "/" + child
}

// exportCompressed reads the whole image at imagePath, validates it's
// block-aligned by wrapping it as a blockio.MemImage, and writes an
// RLE8+gzip compressed copy to outPath -- useful for archiving or sharing
// an image at a fraction of its raw size.
func exportCompressed(imagePath, outPath string) error {
	raw, ioErr := os.ReadFile(imagePath)
	if ioErr != nil {
		return errors.New(errors.InvalidArgument, "export-compressed: %s", ioErr)
	}
	img, err := blockio.NewMemImage(raw, xv6fs.BSIZE)
	if err != nil {
		return err
	}

	out, ioErr := os.Create(outPath)
	if ioErr != nil {
		return errors.New(errors.InvalidArgument, "export-compressed: %s", ioErr)
	}
	defer out.Close()

	if _, ioErr := compression.CompressImage(img.Stream(), out); ioErr != nil {
		return errors.New(errors.IOBounds, "export-compressed: %s", ioErr)
	}
	return nil
}

// importCompressed decompresses an RLE8+gzip image from srcPath into
// imagePath, ready to be opened by every other opfs command.
func importCompressed(srcPath, imagePath string) error {
	src, ioErr := os.Open(srcPath)
	if ioErr != nil {
		return errors.New(errors.InvalidArgument, "import-compressed: %s", ioErr)
	}
	defer src.Close()

	out, ioErr := os.Create(imagePath)
	if ioErr != nil {
		return errors.New(errors.InvalidArgument, "import-compressed: %s", ioErr)
	}
	defer out.Close()

	n, ioErr := compression.DecompressImage(src, out)
	if ioErr != nil {
		return errors.New(errors.IOBounds, "import-compressed: %s", ioErr)
	}
	if n%int64(xv6fs.BSIZE) != 0 {
		return errors.New(
			errors.Corrupt,
			"import-compressed: decompressed image size %d is not a multiple of %d", n, xv6fs.BSIZE,
		)
	}
	return nil
}
