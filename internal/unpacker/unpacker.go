// Package unpacker implements the MKAR decoder: reading the FS table,
// resolving logical paths to fsids, and extracting entries to disk,
// dispatching on each entry's properties (directory, symlink, script,
// network, plain file).
package unpacker

import (
	"encoding/binary"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/renameio"
	"golang.org/x/xerrors"

	"github.com/mkar-fmt/mkar/internal/bitio"
	"github.com/mkar-fmt/mkar/internal/container"
	"github.com/mkar-fmt/mkar/internal/cryptutil"
	"github.com/mkar-fmt/mkar/internal/fetch"
	"github.com/mkar-fmt/mkar/internal/mask"
	"github.com/mkar-fmt/mkar/internal/password"
	"github.com/mkar-fmt/mkar/internal/platform"
	"github.com/mkar-fmt/mkar/internal/script"
	"github.com/mkar-fmt/mkar/internal/zstdcodec"
)

// Unpacker reads an MKAR archive and extracts entries from it.
type Unpacker struct {
	r      io.ReaderAt
	header container.Header

	fileNames   []string
	fileOffsets []uint64 // len == FSCount()+1; the last entry is FSTOffset.
	fileSizes   []uint64
	rootdir     []uint32

	Passwords *password.Store
	safe      bool

	routines []routineEntry
	tasks    []scriptTask
}

type routineEntry struct {
	fsid uint32
	path string
}

type scriptTask struct {
	pri   uint32
	src   string
	title string
}

// Open reads and validates the archive header. Call FSTable next.
func Open(r io.ReaderAt, passwords *password.Store) (*Unpacker, error) {
	hdr, err := container.ReadHeader(io.NewSectionReader(r, 0, container.HeaderSize))
	if err != nil {
		return nil, err
	}
	return &Unpacker{r: r, header: hdr, Passwords: passwords}, nil
}

// readerAtOffset returns an io.Reader over r starting at off, with no known
// upper bound; reads simply fail once the underlying ReaderAt reports EOF.
func readerAtOffset(r io.ReaderAt, off uint64) io.Reader {
	return io.NewSectionReader(r, int64(off), math.MaxInt64-int64(off))
}

// Safe enables safe mode: scripts and network entries are never executed or
// fetched, only written to disk as plain files.
func (u *Unpacker) Safe() { u.safe = true }

// FSTable reads every FS table record and computes each entry's payload
// size from consecutive offsets.
func (u *Unpacker) FSTable() error {
	r := readerAtOffset(u.r, u.header.FSTOffset)
	for {
		rec, end, err := container.ReadFSTableRecord(r)
		if err != nil {
			return xerrors.Errorf("unpacker: read FS table: %w", err)
		}
		if end {
			break
		}
		u.fileNames = append(u.fileNames, rec.Name)
		u.fileOffsets = append(u.fileOffsets, rec.Offset)
	}
	u.fileOffsets = append(u.fileOffsets, u.header.FSTOffset)

	u.fileSizes = make([]uint64, len(u.fileNames))
	for i := range u.fileNames {
		if u.fileOffsets[i+1] < u.fileOffsets[i]+container.EntryPrefixSize {
			return xerrors.Errorf("unpacker: corrupt FS table offsets at fsid %d", i)
		}
		u.fileSizes[i] = u.fileOffsets[i+1] - u.fileOffsets[i] - container.EntryPrefixSize
	}
	return nil
}

// FSCount returns the number of entries in the archive.
func (u *Unpacker) FSCount() uint32 { return uint32(len(u.fileNames)) }

// TestRootdir scans every entry's prop bits and records which are ROOTDIR.
func (u *Unpacker) TestRootdir() error {
	for i := range u.fileNames {
		_, prop, err := u.readPrefix(uint32(i))
		if err != nil {
			return err
		}
		if prop.Has(container.PropRootdir) {
			u.rootdir = append(u.rootdir, uint32(i))
		}
	}
	return nil
}

func (u *Unpacker) readPrefix(fsid uint32) (*mask.Mask, container.Prop, error) {
	if int(fsid) >= len(u.fileNames) {
		return nil, 0, xerrors.Errorf("unpacker: fsid %d out of range", fsid)
	}
	r := readerAtOffset(u.r, u.fileOffsets[fsid])
	br := bitio.NewReader(r)
	propBits, err := br.ReadBits(7)
	if err != nil {
		return nil, 0, xerrors.Errorf("unpacker: read prop bits for fsid %d: %w", fsid, err)
	}
	m, err := mask.DecodePermutation(mask.Version(u.header.StandardVersion), br)
	if err != nil {
		return nil, 0, xerrors.Errorf("unpacker: decode permutation for fsid %d: %w", fsid, err)
	}
	return m, container.Prop(propBits), nil
}

func (u *Unpacker) extractData(fsid uint32) ([]byte, container.Prop, error) {
	m, prop, err := u.readPrefix(fsid)
	if err != nil {
		return nil, 0, err
	}

	buf := make([]byte, u.fileSizes[fsid])
	payloadOffset := u.fileOffsets[fsid] + container.EntryPrefixSize
	if _, err := io.ReadFull(readerAtOffset(u.r, payloadOffset), buf); err != nil {
		return nil, 0, xerrors.Errorf("unpacker: read payload for fsid %d: %w", fsid, err)
	}

	for i := 0; i < 3; i++ {
		m.Unmask(buf)
	}

	if prop.Has(container.PropEncrypted) {
		kix, err := cryptutil.KeyIndex(buf)
		if err != nil {
			return nil, 0, err
		}
		var plain []byte
		err = u.Passwords.Resolve(kix, func(pw string) error {
			p, err := cryptutil.Decrypt(buf, pw)
			if err != nil {
				return err
			}
			plain = p
			return nil
		})
		if err != nil {
			return nil, 0, err
		}
		buf = plain
	}

	if prop.Has(container.PropCompressed) {
		d, err := zstdcodec.Decompress(buf)
		if err != nil {
			return nil, 0, err
		}
		buf = d
	}

	return buf, prop, nil
}

// Extract writes fsid's resolved content to path, recursing through
// symlinks and directories as needed.
func (u *Unpacker) Extract(fsid uint32, path string) error {
	data, prop, err := u.extractData(fsid)
	if err != nil {
		return err
	}

	if prop.Has(container.PropSymlink) {
		if len(data) != 4 {
			return xerrors.Errorf("unpacker: invalid symlink payload size at fsid %d", fsid)
		}
		return u.Extract(binary.LittleEndian.Uint32(data), path)
	}

	if prop.Has(container.PropPath) {
		if err := os.Mkdir(platform.ToPlatformPath(path), 0o755); err != nil {
			return xerrors.Errorf("unpacker: mkdir %s: %w", path, err)
		}
		children, err := decodeDirectory(data)
		if err != nil {
			return xerrors.Errorf("unpacker: fsid %d: %w", fsid, err)
		}
		for _, childFsid := range children {
			if int(childFsid) >= len(u.fileNames) {
				return xerrors.Errorf("unpacker: fsid %d out of range", childFsid)
			}
			if err := u.Extract(childFsid, filepath.Join(path, u.fileNames[childFsid])); err != nil {
				return err
			}
		}
		return nil
	}

	if prop.Has(container.PropScript) {
		if u.safe {
			if len(data) < 4 {
				return xerrors.Errorf("unpacker: invalid script payload at fsid %d", fsid)
			}
			data = data[4:]
		} else {
			if len(data) < 4 {
				return xerrors.Errorf("unpacker: invalid script payload at fsid %d", fsid)
			}
			pri := binary.LittleEndian.Uint32(data[0:4])
			src := string(data[4:])
			if pri == 0 {
				log.Printf("unpacker: execute %s", path)
				return script.Run(src, path)
			}
			u.tasks = append(u.tasks, scriptTask{pri: pri, src: src, title: path})
			return nil
		}
	}

	if prop.Has(container.PropNetwork) && !u.safe {
		url := strings.TrimRight(string(data), " \t\n\r\v\f")
		dest := platform.ToPlatformPath(path)
		log.Printf("unpacker: download %s -> %s", url, path)
		if err := fetch.Download(url, dest); err != nil {
			log.Printf("unpacker: download %s failed (%v), writing the URL itself to %s", url, err, path)
			return renameio.WriteFile(dest, []byte(url), 0o644)
		}
		return nil
	}

	return renameio.WriteFile(platform.ToPlatformPath(path), data, 0o644)
}

func decodeDirectory(data []byte) ([]uint32, error) {
	if len(data) < 4 {
		return nil, xerrors.Errorf("invalid directory payload size")
	}
	count := binary.LittleEndian.Uint32(data[0:4])
	if uint64(len(data)) != 4+4*uint64(count) {
		return nil, xerrors.Errorf("invalid directory payload size")
	}
	children := make([]uint32, count)
	for i := uint32(0); i < count; i++ {
		children[i] = binary.LittleEndian.Uint32(data[4+4*i : 8+4*i])
	}
	return children, nil
}

// ExtractAll extracts every ROOTDIR entry under its own name.
func (u *Unpacker) ExtractAll() error {
	for _, fsid := range u.rootdir {
		if err := u.Extract(fsid, u.fileNames[fsid]); err != nil {
			return err
		}
	}
	return nil
}

func splitSegments(path string) []string {
	return strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' })
}

// DumpFSID resolves a logical slash- or backslash-separated path to an
// fsid, following symlinks along the way.
func (u *Unpacker) DumpFSID(path string) (uint32, error) {
	segments := splitSegments(path)
	if len(segments) == 0 {
		return 0, xerrors.Errorf("unpacker: empty path")
	}

	var fsid uint32
	found := false
	for _, x := range u.rootdir {
		if u.fileNames[x] == segments[0] {
			fsid, found = x, true
			break
		}
	}
	if !found {
		return 0, xerrors.Errorf("unpacker: path not found: %s", path)
	}

	for _, seg := range segments[1:] {
		data, prop, err := u.extractData(fsid)
		if err != nil {
			return 0, err
		}
		for prop.Has(container.PropSymlink) {
			if len(data) != 4 {
				return 0, xerrors.Errorf("unpacker: invalid symlink payload")
			}
			nfsid := binary.LittleEndian.Uint32(data)
			data, prop, err = u.extractData(nfsid)
			if err != nil {
				return 0, err
			}
		}
		if !prop.Has(container.PropPath) {
			return 0, xerrors.Errorf("unpacker: path not found: %s", path)
		}
		children, err := decodeDirectory(data)
		if err != nil {
			return 0, err
		}
		found = false
		for _, nfsid := range children {
			if int(nfsid) >= len(u.fileNames) {
				return 0, xerrors.Errorf("unpacker: fsid %d out of range", nfsid)
			}
			if u.fileNames[nfsid] == seg {
				fsid, found = nfsid, true
				break
			}
		}
		if !found {
			return 0, xerrors.Errorf("unpacker: path not found: %s", path)
		}
	}
	return fsid, nil
}

// AddRoutine enqueues (fsid, path) for a later RunRoutines call.
func (u *Unpacker) AddRoutine(fsid uint32, path string) {
	u.routines = append(u.routines, routineEntry{fsid, path})
}

// RunRoutines drains the queue built by AddRoutine, in FIFO order.
func (u *Unpacker) RunRoutines() error {
	for len(u.routines) > 0 {
		e := u.routines[0]
		u.routines = u.routines[1:]
		if err := u.Extract(e.fsid, e.path); err != nil {
			return err
		}
	}
	return nil
}

// PostExtract runs every deferred script task, in strictly descending
// priority order.
func (u *Unpacker) PostExtract() error {
	sort.SliceStable(u.tasks, func(i, j int) bool { return u.tasks[i].pri > u.tasks[j].pri })
	for _, t := range u.tasks {
		log.Printf("unpacker: execute %s (priority %d)", t.title, t.pri)
		if err := script.Run(t.src, t.title); err != nil {
			return err
		}
	}
	return nil
}

// IsDirectory reports whether fsid (after resolving any symlink chain)
// names a directory.
func (u *Unpacker) IsDirectory(fsid uint32) bool {
	if int(fsid) >= len(u.fileNames) {
		return false
	}
	data, prop, err := u.extractData(fsid)
	if err != nil {
		return false
	}
	for prop.Has(container.PropSymlink) {
		if len(data) != 4 {
			return false
		}
		nfsid := binary.LittleEndian.Uint32(data)
		if int(nfsid) >= len(u.fileNames) {
			return false
		}
		data, prop, err = u.extractData(nfsid)
		if err != nil {
			return false
		}
	}
	return prop.Has(container.PropPath)
}

// IsSymlink reports whether fsid itself is a symlink entry (no chain
// resolution).
func (u *Unpacker) IsSymlink(fsid uint32) bool {
	if int(fsid) >= len(u.fileNames) {
		return false
	}
	_, prop, err := u.readPrefix(fsid)
	if err != nil {
		return false
	}
	return prop.Has(container.PropSymlink)
}

// ListDirectory returns fsid's children (after resolving any symlink
// chain), or the root directory list if fsid is negative or out of range.
func (u *Unpacker) ListDirectory(fsid int) []uint32 {
	if fsid < 0 || fsid >= len(u.fileNames) {
		return u.rootdir
	}
	data, prop, err := u.extractData(uint32(fsid))
	if err != nil {
		return nil
	}
	for prop.Has(container.PropSymlink) {
		if len(data) != 4 {
			return nil
		}
		nfsid := binary.LittleEndian.Uint32(data)
		if int(nfsid) >= len(u.fileNames) {
			return nil
		}
		data, prop, err = u.extractData(nfsid)
		if err != nil {
			return nil
		}
	}
	if !prop.Has(container.PropPath) {
		return nil
	}
	children, err := decodeDirectory(data)
	if err != nil {
		return nil
	}
	res := make([]uint32, 0, len(children))
	for _, nfsid := range children {
		if int(nfsid) < len(u.fileNames) {
			res = append(res, nfsid)
		}
	}
	return res
}

// GetName returns fsid's FS table name, or a placeholder if out of range.
func (u *Unpacker) GetName(fsid uint32) string {
	if int(fsid) >= len(u.fileNames) {
		return "**undefined**"
	}
	return u.fileNames[fsid]
}
