package container

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteHeader(&buf, Header{StandardVersion: 2, FSTOffset: 0x1234}))
	require.Equal(t, HeaderSize, buf.Len())

	got, err := ReadHeader(&buf)
	require.NoError(t, err)
	want := Header{StandardVersion: 2, FSTOffset: 0x1234}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ReadHeader() mismatch (-want +got):\n%s", diff)
	}
}

func TestReadHeaderRejectsBadMagic(t *testing.T) {
	buf := bytes.NewBuffer(make([]byte, HeaderSize))
	_, err := ReadHeader(buf)
	require.Error(t, err)
}

func TestReadHeaderRejectsFutureVersion(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteHeader(&buf, Header{StandardVersion: 3}))
	_, err := ReadHeader(&buf)
	require.Error(t, err)
}

func TestFSTableRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFSTableRecord(&buf, "hello.txt", 16))
	require.NoError(t, WriteFSTableRecord(&buf, "b", 500))
	require.NoError(t, WriteFSTableEnd(&buf))

	rec1, end, err := ReadFSTableRecord(&buf)
	require.NoError(t, err)
	require.False(t, end)
	if diff := cmp.Diff(FSTableRecord{Name: "hello.txt", Offset: 16}, rec1); diff != "" {
		t.Errorf("ReadFSTableRecord() mismatch (-want +got):\n%s", diff)
	}

	rec2, end, err := ReadFSTableRecord(&buf)
	require.NoError(t, err)
	require.False(t, end)
	if diff := cmp.Diff(FSTableRecord{Name: "b", Offset: 500}, rec2); diff != "" {
		t.Errorf("ReadFSTableRecord() mismatch (-want +got):\n%s", diff)
	}

	_, end, err = ReadFSTableRecord(&buf)
	require.NoError(t, err)
	require.True(t, end)
}

func TestPropHas(t *testing.T) {
	p := PropPath | PropRootdir
	require.True(t, p.Has(PropPath))
	require.True(t, p.Has(PropRootdir))
	require.False(t, p.Has(PropSymlink))
	require.False(t, p.Has(PropCompressed))
}
