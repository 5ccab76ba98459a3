package localfs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sshfx "github.com/sshtools/sftp/encoding/ssh/filexfer"
	"github.com/sshtools/sftp/encoding/ssh/filexfer/openssh"
)

func TestToOsFlags(t *testing.T) {
	tests := []struct {
		pflags uint32
		want   int
	}{
		{sshfx.FlagRead, os.O_RDONLY},
		{sshfx.FlagWrite, os.O_WRONLY},
		{sshfx.FlagRead | sshfx.FlagWrite, os.O_RDWR},
		{sshfx.FlagWrite | sshfx.FlagAppend, os.O_WRONLY | os.O_APPEND},
		{sshfx.FlagWrite | sshfx.FlagCreate, os.O_WRONLY | os.O_CREATE},
		{sshfx.FlagWrite | sshfx.FlagCreate | sshfx.FlagTruncate, os.O_WRONLY | os.O_CREATE | os.O_TRUNC},
		{sshfx.FlagWrite | sshfx.FlagCreate | sshfx.FlagExclusive, os.O_WRONLY | os.O_CREATE | os.O_EXCL},
	}

	for _, tt := range tests {
		got, err := toOsFlags(tt.pflags)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "pflags %x", tt.pflags)
	}

	_, err := toOsFlags(sshfx.FlagCreate)
	assert.ErrorIs(t, err, syscall.EINVAL)
}

func TestOpenWriteReadClose(t *testing.T) {
	ctx := context.Background()
	h := New()
	root := t.TempDir()

	name := filepath.Join(root, "a.txt")

	handle, err := h.Open(ctx, &sshfx.OpenPacket{
		Filename: name,
		PFlags:   sshfx.FlagRead | sshfx.FlagWrite | sshfx.FlagCreate,
	})
	require.NoError(t, err)

	require.NoError(t, h.Write(ctx, &sshfx.WritePacket{
		Handle: handle,
		Offset: 0,
		Data:   []byte("hello, world"),
	}))

	data, err := h.Read(ctx, &sshfx.ReadPacket{
		Handle: handle,
		Offset: 7,
		Length: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, "world", string(data))

	// Reading at the end surfaces io.EOF.
	_, err = h.Read(ctx, &sshfx.ReadPacket{
		Handle: handle,
		Offset: 12,
		Length: 4,
	})
	assert.ErrorIs(t, err, io.EOF)

	attrs, err := h.FStat(ctx, &sshfx.FStatPacket{Handle: handle})
	require.NoError(t, err)
	assert.Equal(t, uint64(12), attrs.Size)

	require.NoError(t, h.Close(ctx, &sshfx.ClosePacket{Handle: handle}))

	// A closed handle is gone.
	assert.Error(t, h.Close(ctx, &sshfx.ClosePacket{Handle: handle}))
}

func TestOpenMissingFile(t *testing.T) {
	ctx := context.Background()
	h := New()
	root := t.TempDir()

	_, err := h.Open(ctx, &sshfx.OpenPacket{
		Filename: filepath.Join(root, "missing"),
		PFlags:   sshfx.FlagRead,
	})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadDirBatches(t *testing.T) {
	ctx := context.Background()
	h := New()
	root := t.TempDir()

	want := []string{"a.txt", "b.txt", "c.txt"}
	for _, name := range want {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(name), 0o644))
	}

	handle, err := h.OpenDir(ctx, &sshfx.OpenDirPacket{Path: root})
	require.NoError(t, err)

	var names []string
	for {
		entries, err := h.ReadDir(ctx, &sshfx.ReadDirPacket{Handle: handle})
		if err == io.EOF {
			break
		}
		require.NoError(t, err)

		for _, e := range entries {
			names = append(names, e.Filename)
			assert.NotEmpty(t, e.Longname)
			assert.True(t, e.Attrs.HasSize())
		}
	}
	sort.Strings(names)

	assert.Equal(t, want, names)

	require.NoError(t, h.Close(ctx, &sshfx.ClosePacket{Handle: handle}))
}

func TestOpenDirOnFile(t *testing.T) {
	ctx := context.Background()
	h := New()
	root := t.TempDir()

	name := filepath.Join(root, "plain")
	require.NoError(t, os.WriteFile(name, nil, 0o644))

	_, err := h.OpenDir(ctx, &sshfx.OpenDirPacket{Path: name})
	assert.ErrorIs(t, err, syscall.ENOTDIR)
}

func TestStatFamilies(t *testing.T) {
	ctx := context.Background()
	h := New()
	root := t.TempDir()

	name := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(name, []byte("ABCD"), 0o644))

	link := filepath.Join(root, "link")
	require.NoError(t, os.Symlink(name, link))

	attrs, err := h.Stat(ctx, &sshfx.StatPacket{Path: link})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), attrs.Size)
	assert.Equal(t, sshfx.FileTypeRegular, attrs.FileType())

	attrs, err = h.LStat(ctx, &sshfx.LStatPacket{Path: link})
	require.NoError(t, err)
	assert.Equal(t, sshfx.FileTypeSymlink, attrs.FileType())

	target, err := h.ReadLink(ctx, &sshfx.ReadLinkPacket{Path: link})
	require.NoError(t, err)
	assert.Equal(t, name, target)
}

func TestSetStatTruncate(t *testing.T) {
	ctx := context.Background()
	h := New()
	root := t.TempDir()

	name := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(name, []byte("ABCDEFGH"), 0o644))

	var attrs sshfx.Attributes
	attrs.SetSize(4)

	require.NoError(t, h.SetStat(ctx, &sshfx.SetStatPacket{Path: name, Attrs: attrs}))

	fi, err := os.Stat(name)
	require.NoError(t, err)
	assert.Equal(t, int64(4), fi.Size())
}

func TestMkdirRenameRemove(t *testing.T) {
	ctx := context.Background()
	h := New()
	root := t.TempDir()

	dir := filepath.Join(root, "dir")
	require.NoError(t, h.Mkdir(ctx, &sshfx.MkdirPacket{Path: dir}))

	fi, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, fi.IsDir())

	moved := filepath.Join(root, "moved")
	require.NoError(t, h.Rename(ctx, &sshfx.RenamePacket{OldPath: dir, NewPath: moved}))

	require.NoError(t, h.Rmdir(ctx, &sshfx.RmdirPacket{Path: moved}))

	name := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(name, nil, 0o644))
	require.NoError(t, h.Remove(ctx, &sshfx.RemovePacket{Path: name}))

	_, err = os.Stat(name)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRealPath(t *testing.T) {
	ctx := context.Background()
	h := New()

	got, err := h.RealPath(ctx, &sshfx.RealPathPacket{Path: ""})
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(filepath.FromSlash(got)))
}

func TestHardlinkAndFsync(t *testing.T) {
	ctx := context.Background()
	h := New()
	root := t.TempDir()

	name := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(name, []byte("ABCD"), 0o644))

	linked := filepath.Join(root, "b.txt")
	require.NoError(t, h.Hardlink(ctx, &openssh.HardlinkExtendedPacket{
		OldPath: name,
		NewPath: linked,
	}))

	data, err := os.ReadFile(linked)
	require.NoError(t, err)
	assert.Equal(t, "ABCD", string(data))

	handle, err := h.Open(ctx, &sshfx.OpenPacket{
		Filename: name,
		PFlags:   sshfx.FlagRead | sshfx.FlagWrite,
	})
	require.NoError(t, err)

	require.NoError(t, h.Fsync(ctx, &openssh.FsyncExtendedPacket{Handle: handle}))
	require.NoError(t, h.Close(ctx, &sshfx.ClosePacket{Handle: handle}))
}

var longnameRE = regexp.MustCompile(`^[-dlbcps][-rwxsStT]{9} +\d+ +\S+ +\S+ +\d+ +\w{3} +\d+ +[\d:]+ .+$`)

func TestLongname(t *testing.T) {
	root := t.TempDir()

	name := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(name, []byte("ABCD"), 0o644))

	fi, err := os.Stat(name)
	require.NoError(t, err)

	line := longname(fi)
	assert.Regexp(t, longnameRE, line)
	assert.Contains(t, line, "a.txt")
}
