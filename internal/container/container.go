// Package container defines the MKAR on-disk layout shared by the packer
// and unpacker: the 16-byte archive header, the per-entry property bits, the
// fixed 225-byte entry prefix budget, and the FS table record format.
package container

import (
	"encoding/binary"
	"io"

	"golang.org/x/xerrors"
)

// Magic is the 4-byte tag every MKAR archive starts with.
const Magic = "MKAR"

// ImplTag identifies this implementation lineage; archives from an
// incompatible implementation are rejected outright.
const ImplTag uint16 = 0x2009

// MaxStandardVersion is the highest standard version this implementation
// understands. Mask behavior is selected by this value (see internal/mask).
const MaxStandardVersion uint16 = 2

// EntryPrefixSize is the fixed size, in bytes, of the bit-packed prop field
// plus serialized permutation that precedes every entry's payload: 7 bits of
// prop plus the permutation's 1793-bit encoding is exactly 1800 bits.
const EntryPrefixSize = 225

// EndTag terminates the FS table in place of a record's name-length field.
const EndTag uint16 = 0x8000

// HeaderSize is the byte length of the fixed archive header.
const HeaderSize = 16

// Prop holds the seven per-entry property bits. Bit 7 is unused; prop values
// are always encoded in exactly 7 bits on disk.
type Prop uint8

const (
	PropNetwork    Prop = 1 << 0
	PropScript     Prop = 1 << 1
	PropPath       Prop = 1 << 2
	PropSymlink    Prop = 1 << 3
	PropRootdir    Prop = 1 << 4
	PropCompressed Prop = 1 << 5
	PropEncrypted  Prop = 1 << 6
)

// Has reports whether p carries every bit set in bit.
func (p Prop) Has(bit Prop) bool { return p&bit == bit }

// Header is the fixed-size archive header.
type Header struct {
	StandardVersion uint16
	FSTOffset       uint64
}

// WriteHeader writes the 16-byte header: magic, impl tag, standard version,
// then an 8-byte FS table offset (typically a placeholder, back-patched
// later by the packer once the offset is known).
func WriteHeader(w io.Writer, h Header) error {
	var buf [HeaderSize]byte
	copy(buf[0:4], Magic)
	binary.LittleEndian.PutUint16(buf[4:6], ImplTag)
	binary.LittleEndian.PutUint16(buf[6:8], h.StandardVersion)
	binary.LittleEndian.PutUint64(buf[8:16], h.FSTOffset)
	_, err := w.Write(buf[:])
	return err
}

// ReadHeader reads and validates the archive header.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, xerrors.Errorf("container: read header: %w", err)
	}
	if string(buf[0:4]) != Magic {
		return Header{}, xerrors.Errorf("container: bad magic %q", buf[0:4])
	}
	impl := binary.LittleEndian.Uint16(buf[4:6])
	if impl != ImplTag {
		return Header{}, xerrors.Errorf("container: incompatible implementation tag %#x", impl)
	}
	ver := binary.LittleEndian.Uint16(buf[6:8])
	if ver > MaxStandardVersion {
		return Header{}, xerrors.Errorf("container: incompatible standard version %d", ver)
	}
	return Header{
		StandardVersion: ver,
		FSTOffset:       binary.LittleEndian.Uint64(buf[8:16]),
	}, nil
}

// WriteFSTableRecord appends one (name, offset) record to the FS table: a
// 2-byte LE name length, the name bytes, then an 8-byte LE absolute file
// offset of the entry.
func WriteFSTableRecord(w io.Writer, name string, offset uint64) error {
	if len(name) >= int(EndTag) {
		return xerrors.Errorf("container: name %q too long for FS table", name)
	}
	var head [2]byte
	binary.LittleEndian.PutUint16(head[:], uint16(len(name)))
	if _, err := w.Write(head[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(w, name); err != nil {
		return err
	}
	var tail [8]byte
	binary.LittleEndian.PutUint64(tail[:], offset)
	_, err := w.Write(tail[:])
	return err
}

// WriteFSTableEnd writes the two-byte tag that terminates the FS table.
func WriteFSTableEnd(w io.Writer) error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], EndTag)
	_, err := w.Write(buf[:])
	return err
}

// FSTableRecord is one decoded FS table entry.
type FSTableRecord struct {
	Name   string
	Offset uint64
}

// ReadFSTableRecord reads the next FS table record. It returns end=true,
// with a zero Record, once the terminating tag has been consumed.
func ReadFSTableRecord(r io.Reader) (rec FSTableRecord, end bool, err error) {
	var head [2]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return FSTableRecord{}, false, xerrors.Errorf("container: read FS table record: %w", err)
	}
	nameLen := binary.LittleEndian.Uint16(head[:])
	if nameLen == EndTag {
		return FSTableRecord{}, true, nil
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return FSTableRecord{}, false, xerrors.Errorf("container: read FS table name: %w", err)
	}
	var tail [8]byte
	if _, err := io.ReadFull(r, tail[:]); err != nil {
		return FSTableRecord{}, false, xerrors.Errorf("container: read FS table offset: %w", err)
	}
	return FSTableRecord{
		Name:   string(name),
		Offset: binary.LittleEndian.Uint64(tail[:]),
	}, false, nil
}
