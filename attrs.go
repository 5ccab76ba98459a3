package sftp

import (
	"os"
	"time"

	sshfx "github.com/sshtools/sftp/encoding/ssh/filexfer"
)

// fileInfo presents remote file attributes as an os.FileInfo.
type fileInfo struct {
	name  string
	attrs *sshfx.Attributes
}

// Name returns the base name of the file.
func (fi *fileInfo) Name() string { return fi.name }

// Size returns the length in bytes for regular files; system-dependent for others.
func (fi *fileInfo) Size() int64 { return int64(fi.attrs.Size) }

// Mode returns file mode bits.
func (fi *fileInfo) Mode() os.FileMode { return ToFileMode(fi.attrs.Permissions) }

// ModTime returns the last modification time of the file.
func (fi *fileInfo) ModTime() time.Time { return time.Unix(int64(fi.attrs.MTime), 0) }

// IsDir returns true if the file is a directory.
func (fi *fileInfo) IsDir() bool { return fi.attrs.IsDir() }

// Sys returns the underlying *sshfx.Attributes.
func (fi *fileInfo) Sys() interface{} { return fi.attrs }

// fileInfoFromAttrs wraps a decoded attribute block as an os.FileInfo.
func fileInfoFromAttrs(name string, attrs *sshfx.Attributes) os.FileInfo {
	return &fileInfo{
		name:  name,
		attrs: attrs,
	}
}

// ToFileMode converts a POSIX permissions field into an os.FileMode.
func ToFileMode(perm uint32) os.FileMode {
	mode := os.FileMode(perm & 0777)

	switch perm & sshfx.ModeType {
	case sshfx.ModeNamedPipe:
		mode |= os.ModeNamedPipe
	case sshfx.ModeCharDevice:
		mode |= os.ModeDevice | os.ModeCharDevice
	case sshfx.ModeDir:
		mode |= os.ModeDir
	case sshfx.ModeBlockDevice:
		mode |= os.ModeDevice
	case sshfx.ModeSymlink:
		mode |= os.ModeSymlink
	case sshfx.ModeSocket:
		mode |= os.ModeSocket
	}

	if perm&0o4000 != 0 {
		mode |= os.ModeSetuid
	}

	if perm&0o2000 != 0 {
		mode |= os.ModeSetgid
	}

	if perm&0o1000 != 0 {
		mode |= os.ModeSticky
	}

	return mode
}

// FromFileMode converts an os.FileMode into a POSIX permissions field.
func FromFileMode(mode os.FileMode) uint32 {
	perm := uint32(mode & os.ModePerm)

	switch mode & os.ModeType {
	case os.ModeDevice | os.ModeCharDevice:
		perm |= sshfx.ModeCharDevice
	case os.ModeDevice:
		perm |= sshfx.ModeBlockDevice
	case os.ModeDir:
		perm |= sshfx.ModeDir
	case os.ModeNamedPipe:
		perm |= sshfx.ModeNamedPipe
	case os.ModeSymlink:
		perm |= sshfx.ModeSymlink
	case os.ModeSocket:
		perm |= sshfx.ModeSocket
	case 0:
		perm |= sshfx.ModeRegular
	}

	if mode&os.ModeSetuid != 0 {
		perm |= 0o4000
	}

	if mode&os.ModeSetgid != 0 {
		perm |= 0o2000
	}

	if mode&os.ModeSticky != 0 {
		perm |= 0o1000
	}

	return perm
}

// AttributesFromFileInfo builds the wire attribute block for a local file,
// populating size, permissions and modification times. Server handlers use it
// to answer the stat family of requests from an os.FileInfo.
func AttributesFromFileInfo(fi os.FileInfo) *sshfx.Attributes {
	attrs := new(sshfx.Attributes)

	attrs.SetSize(uint64(fi.Size()))
	attrs.SetPermissions(FromFileMode(fi.Mode()))

	mtime := uint32(fi.ModTime().Unix())
	attrs.SetACModTime(mtime, mtime)

	return attrs
}
