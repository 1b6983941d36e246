// Package packer implements the MKAR encoder: walking a set of root paths,
// assigning each a file-system id, applying the configured per-path
// properties (compress, encrypt, symlink, script, network, root), and
// writing the resulting entries plus FS table to an archive.
package packer

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/xerrors"

	"github.com/mkar-fmt/mkar/internal/bitio"
	"github.com/mkar-fmt/mkar/internal/container"
	"github.com/mkar-fmt/mkar/internal/cryptutil"
	"github.com/mkar-fmt/mkar/internal/mask"
	"github.com/mkar-fmt/mkar/internal/platform"
	"github.com/mkar-fmt/mkar/internal/zstdcodec"
)

// Packer builds an MKAR archive, one AddRoutine/RunRoutines/FSTable call at
// a time: a two-phase "queue everything, then drain the queue" construction.
type Packer struct {
	w       io.WriteSeeker
	version mask.Version

	fileCount   uint32
	prevSize    uint64
	fileNames   []string
	fileOffsets []uint64
	subs        [][]uint32

	props    map[string]container.Prop
	keys     map[uint32]string
	enckix   map[string]uint32
	execpri  map[string]uint32
	pth2fsid map[string]uint32
	maskProp container.Prop

	routines []string
}

// New opens a new archive for writing, at the given standard version, and
// writes a placeholder header (the FS table offset is back-patched by
// FSTable once the entries have all been written).
func New(w io.WriteSeeker, version mask.Version) (*Packer, error) {
	if err := container.WriteHeader(w, container.Header{StandardVersion: uint16(version)}); err != nil {
		return nil, xerrors.Errorf("packer: write header: %w", err)
	}
	return &Packer{
		w:        w,
		version:  version,
		prevSize: container.HeaderSize,
		props:    make(map[string]container.Prop),
		keys:     make(map[uint32]string),
		enckix:   make(map[string]uint32),
		execpri:  make(map[string]uint32),
		pth2fsid: make(map[string]uint32),
	}, nil
}

func normPath(path string) string {
	return filepath.ToSlash(filepath.Clean(path))
}

// AddProp ORs prop into the bits already recorded for path.
func (p *Packer) AddProp(path string, prop container.Prop) {
	p.props[normPath(path)] |= prop
}

// MaskProp ORs prop into every entry's properties, regardless of path.
func (p *Packer) MaskProp(prop container.Prop) {
	p.maskProp |= prop
}

// SetKey registers a password for kix. Registering the same kix twice is a
// configuration error.
func (p *Packer) SetKey(kix uint32, val string) error {
	if _, exists := p.keys[kix]; exists {
		return xerrors.Errorf("packer: duplicate key for index %d", kix)
	}
	p.keys[kix] = val
	return nil
}

// SetKix records the encryption key index to use for path.
func (p *Packer) SetKix(path string, kix uint32) error {
	norm := normPath(path)
	if _, exists := p.enckix[norm]; exists {
		return xerrors.Errorf("packer: duplicate encryption key index for %s", norm)
	}
	p.enckix[norm] = kix
	return nil
}

// SetExecPri records the execution priority for a SCRIPT path.
func (p *Packer) SetExecPri(path string, pri uint32) error {
	norm := normPath(path)
	if _, exists := p.execpri[norm]; exists {
		return xerrors.Errorf("packer: duplicate exec priority for %s", norm)
	}
	p.execpri[norm] = pri
	return nil
}

// AddRoutine assigns path (and, recursively, its directory contents) the
// next sequential fsid(s) and enqueues them for writing. isRoot marks path
// as a ROOTDIR entry.
func (p *Packer) AddRoutine(path string, isRoot bool) error {
	norm := normPath(path)
	if _, exists := p.pth2fsid[norm]; exists {
		return xerrors.Errorf("packer: duplicate path %q", norm)
	}

	p.routines = append(p.routines, path)
	if isRoot {
		p.AddProp(path, container.PropRootdir)
	}
	selfID := p.fileCount
	p.fileCount++
	p.subs = append(p.subs, nil)
	p.pth2fsid[norm] = selfID

	info, err := os.Stat(platform.ToPlatformPath(path))
	if err != nil {
		return xerrors.Errorf("packer: stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return nil
	}

	p.AddProp(path, container.PropPath)
	entries, err := os.ReadDir(platform.ToPlatformPath(path))
	if err != nil {
		return xerrors.Errorf("packer: read dir %s: %w", path, err)
	}
	for _, entry := range entries {
		p.subs[selfID] = append(p.subs[selfID], p.fileCount)
		if err := p.AddRoutine(filepath.Join(path, entry.Name()), false); err != nil {
			return err
		}
	}
	return nil
}

// RunRoutines drains the queue built by AddRoutine, writing each entry in
// fsid order.
func (p *Packer) RunRoutines() error {
	for len(p.routines) > 0 {
		path := p.routines[0]
		p.routines = p.routines[1:]
		fsid := p.pth2fsid[normPath(path)]
		if err := p.addPath(path, fsid); err != nil {
			return xerrors.Errorf("packer: add %s: %w", path, err)
		}
	}
	return nil
}

func (p *Packer) addPath(path string, fsid uint32) error {
	prop := p.props[normPath(path)] | p.maskProp

	var prefix bytes.Buffer
	bw := bitio.NewWriter(&prefix)
	if err := bw.WriteBits(uint32(prop), 7); err != nil {
		return err
	}
	perm, err := mask.GenerateAndEncode(p.version, bw)
	if err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if prefix.Len() != container.EntryPrefixSize {
		return xerrors.Errorf("packer: entry prefix was %d bytes, want %d", prefix.Len(), container.EntryPrefixSize)
	}

	content, err := p.buildContent(path, fsid, prop)
	if err != nil {
		return err
	}

	if prop.Has(container.PropCompressed) {
		content, err = zstdcodec.Compress(content)
		if err != nil {
			return err
		}
	}
	if prop.Has(container.PropEncrypted) {
		kix := p.enckix[normPath(path)]
		pw, ok := p.keys[kix]
		if !ok {
			return xerrors.Errorf("packer: missing password for key index %d", kix)
		}
		content, err = cryptutil.Encrypt(content, kix, pw)
		if err != nil {
			return err
		}
	}

	for i := 0; i < 3; i++ {
		perm.Mask(content)
	}

	if _, err := p.w.Write(prefix.Bytes()); err != nil {
		return err
	}
	if _, err := p.w.Write(content); err != nil {
		return err
	}

	p.fileNames = append(p.fileNames, filepath.Base(path))
	p.fileOffsets = append(p.fileOffsets, p.prevSize)
	p.prevSize += container.EntryPrefixSize + uint64(len(content))
	return nil
}

func (p *Packer) buildContent(path string, fsid uint32, prop container.Prop) ([]byte, error) {
	if prop.Has(container.PropPath) {
		children := p.subs[fsid]
		content := make([]byte, (len(children)+1)*4)
		binary.LittleEndian.PutUint32(content[0:4], uint32(len(children)))
		for i, c := range children {
			binary.LittleEndian.PutUint32(content[4+4*i:8+4*i], c)
		}
		return content, nil
	}

	raw, err := os.ReadFile(platform.ToPlatformPath(path))
	if err != nil {
		return nil, xerrors.Errorf("packer: read %s: %w", path, err)
	}

	content := raw
	if prop.Has(container.PropScript) {
		pri, ok := p.execpri[normPath(path)]
		if !ok {
			return nil, xerrors.Errorf("packer: missing exec priority for %s", path)
		}
		content = make([]byte, 4+len(raw))
		binary.LittleEndian.PutUint32(content[0:4], pri)
		copy(content[4:], raw)
	}

	if prop.Has(container.PropSymlink) {
		target := normPath(strings.TrimSpace(string(content)))
		targetFsid, ok := p.pth2fsid[target]
		if !ok {
			return nil, xerrors.Errorf("packer: symlink target not found: %s", target)
		}
		content = make([]byte, 4)
		binary.LittleEndian.PutUint32(content, targetFsid)
	}

	return content, nil
}

// FSTable writes the FS table and back-patches the header's FS table
// offset field.
func (p *Packer) FSTable() error {
	for i := uint32(0); i < p.fileCount; i++ {
		if err := container.WriteFSTableRecord(p.w, p.fileNames[i], p.fileOffsets[i]); err != nil {
			return err
		}
	}
	if err := container.WriteFSTableEnd(p.w); err != nil {
		return err
	}

	fstOffset := p.prevSize
	if _, err := p.w.Seek(8, io.SeekStart); err != nil {
		return xerrors.Errorf("packer: seek to back-patch header: %w", err)
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], fstOffset)
	_, err := p.w.Write(buf[:])
	return err
}
