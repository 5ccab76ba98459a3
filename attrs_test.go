package sftp

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	sshfx "github.com/sshtools/sftp/encoding/ssh/filexfer"
)

func TestToFileMode(t *testing.T) {
	tests := []struct {
		perm uint32
		want os.FileMode
	}{
		{0o644 | sshfx.ModeRegular, 0o644},
		{0o755 | sshfx.ModeDir, 0o755 | os.ModeDir},
		{0o777 | sshfx.ModeSymlink, 0o777 | os.ModeSymlink},
		{0o600 | sshfx.ModeNamedPipe, 0o600 | os.ModeNamedPipe},
		{0o660 | sshfx.ModeCharDevice, 0o660 | os.ModeDevice | os.ModeCharDevice},
		{0o660 | sshfx.ModeBlockDevice, 0o660 | os.ModeDevice},
		{0o755 | sshfx.ModeSocket, 0o755 | os.ModeSocket},
		{0o4755 | sshfx.ModeRegular, 0o755 | os.ModeSetuid},
		{0o2755 | sshfx.ModeRegular, 0o755 | os.ModeSetgid},
		{0o1777 | sshfx.ModeDir, 0o777 | os.ModeDir | os.ModeSticky},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ToFileMode(tt.perm), "perm %o", tt.perm)
	}
}

func TestFromFileModeRoundTrip(t *testing.T) {
	modes := []os.FileMode{
		0o644,
		0o755 | os.ModeDir,
		0o777 | os.ModeSymlink,
		0o600 | os.ModeNamedPipe,
		0o660 | os.ModeDevice | os.ModeCharDevice,
		0o660 | os.ModeDevice,
		0o755 | os.ModeSocket,
		0o755 | os.ModeSetuid,
		0o755 | os.ModeSetgid,
		0o777 | os.ModeDir | os.ModeSticky,
	}

	for _, mode := range modes {
		assert.Equal(t, mode, ToFileMode(FromFileMode(mode)), "mode %v", mode)
	}
}

func TestFileInfoBridge(t *testing.T) {
	attrs := new(sshfx.Attributes)
	attrs.SetSize(1024)
	attrs.SetPermissions(0o644 | sshfx.ModeRegular)
	attrs.SetACModTime(1234567890, 1234567890)

	fi := fileInfoFromAttrs("a.txt", attrs)

	assert.Equal(t, "a.txt", fi.Name())
	assert.Equal(t, int64(1024), fi.Size())
	assert.Equal(t, os.FileMode(0o644), fi.Mode())
	assert.Equal(t, time.Unix(1234567890, 0), fi.ModTime())
	assert.False(t, fi.IsDir())
	assert.Same(t, attrs, fi.Sys())
}

func TestAttributesFromFileInfo(t *testing.T) {
	attrs := new(sshfx.Attributes)
	attrs.SetSize(42)
	attrs.SetPermissions(0o755 | sshfx.ModeDir)
	attrs.SetACModTime(1234567890, 1234567890)

	// Round-trip through the os.FileInfo view and back.
	got := AttributesFromFileInfo(fileInfoFromAttrs("dir", attrs))

	assert.True(t, got.HasSize())
	assert.Equal(t, uint64(42), got.Size)
	assert.True(t, got.HasPermissions())
	assert.Equal(t, uint32(0o755|sshfx.ModeDir), got.Permissions)
	assert.True(t, got.HasACModTime())
	assert.Equal(t, uint32(1234567890), got.MTime)
	assert.True(t, got.IsDir())
}
