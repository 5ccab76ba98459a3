// Package localfs provides an sftp.Handler backed by the local filesystem.
//
// Paths are passed to the operating system as the client sent them; the
// handler applies no chroot or permission policy of its own. Embedders that
// need confinement should wrap it, or mount it behind a restricted account.
package localfs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/google/uuid"

	"github.com/sshtools/sftp"
	sshfx "github.com/sshtools/sftp/encoding/ssh/filexfer"
	"github.com/sshtools/sftp/encoding/ssh/filexfer/openssh"
)

// readdirBatchSize is how many entries are returned per SSH_FXP_READDIR.
const readdirBatchSize = 128

// clampDataLength bounds the buffer allocated for a single SSH_FXP_READ,
// regardless of the length the client asked for.
const clampDataLength = 256 * 1024

// dir is an open directory iterator.
type dir struct {
	f *os.File

	mu   sync.Mutex
	done bool
}

// Handler implements sftp.Handler against the local filesystem.
type Handler struct {
	sftp.UnimplementedHandler

	mu    sync.RWMutex
	files map[string]*os.File
	dirs  map[string]*dir
}

// New returns a Handler ready to be served.
func New() *Handler {
	return &Handler{
		files: make(map[string]*os.File),
		dirs:  make(map[string]*dir),
	}
}

// newHandle returns a fresh handle string.
// Handles are opaque to the protocol; a random UUID is collision-free and
// reveals nothing about the file behind it.
func newHandle() string {
	return uuid.NewString()
}

func (h *Handler) file(handle string) (*os.File, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	f, ok := h.files[handle]
	if !ok {
		return nil, syscall.EBADF
	}
	return f, nil
}

func (h *Handler) dir(handle string) (*dir, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	d, ok := h.dirs[handle]
	if !ok {
		return nil, syscall.EBADF
	}
	return d, nil
}

// toOsFlags converts SSH_FXF_* bits into os.OpenFile flags.
func toOsFlags(pflags uint32) (int, error) {
	var flags int

	switch {
	case pflags&sshfx.FlagRead != 0 && pflags&sshfx.FlagWrite != 0:
		flags = os.O_RDWR
	case pflags&sshfx.FlagRead != 0:
		flags = os.O_RDONLY
	case pflags&sshfx.FlagWrite != 0:
		flags = os.O_WRONLY
	default:
		return 0, syscall.EINVAL
	}

	if pflags&sshfx.FlagAppend != 0 {
		flags |= os.O_APPEND
	}

	if pflags&sshfx.FlagCreate != 0 {
		flags |= os.O_CREATE
	}

	if pflags&sshfx.FlagTruncate != 0 {
		flags |= os.O_TRUNC
	}

	if pflags&sshfx.FlagExclusive != 0 {
		flags |= os.O_EXCL
	}

	return flags, nil
}

// Open opens or creates a file per the request's pflags.
func (h *Handler) Open(_ context.Context, req *sshfx.OpenPacket) (string, error) {
	flags, err := toOsFlags(req.PFlags)
	if err != nil {
		return "", err
	}

	perm := os.FileMode(0o644)
	if req.Attrs.HasPermissions() {
		perm = sftp.ToFileMode(req.Attrs.Permissions).Perm()
	}

	f, err := os.OpenFile(req.Filename, flags, perm)
	if err != nil {
		return "", err
	}

	handle := newHandle()

	h.mu.Lock()
	h.files[handle] = f
	h.mu.Unlock()

	return handle, nil
}

// OpenDir opens a directory for iteration.
func (h *Handler) OpenDir(_ context.Context, req *sshfx.OpenDirPacket) (string, error) {
	f, err := os.Open(req.Path)
	if err != nil {
		return "", err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return "", err
	}

	if !fi.IsDir() {
		f.Close()
		return "", syscall.ENOTDIR
	}

	handle := newHandle()

	h.mu.Lock()
	h.dirs[handle] = &dir{f: f}
	h.mu.Unlock()

	return handle, nil
}

// Close releases the file or directory behind the handle.
func (h *Handler) Close(_ context.Context, req *sshfx.ClosePacket) error {
	h.mu.Lock()

	if f, ok := h.files[req.Handle]; ok {
		delete(h.files, req.Handle)
		h.mu.Unlock()
		return f.Close()
	}

	if d, ok := h.dirs[req.Handle]; ok {
		delete(h.dirs, req.Handle)
		h.mu.Unlock()
		return d.f.Close()
	}

	h.mu.Unlock()
	return syscall.EBADF
}

// Read returns up to req.Length bytes from the file at req.Offset.
func (h *Handler) Read(_ context.Context, req *sshfx.ReadPacket) ([]byte, error) {
	f, err := h.file(req.Handle)
	if err != nil {
		return nil, err
	}

	length := req.Length
	if length > clampDataLength {
		length = clampDataLength
	}

	b := make([]byte, length)

	n, err := f.ReadAt(b, int64(req.Offset))
	if n == 0 && err != nil {
		return nil, err
	}

	// A partial read still returns data; the client asks again and gets the EOF then.
	return b[:n], nil
}

// Write stores req.Data at req.Offset.
func (h *Handler) Write(_ context.Context, req *sshfx.WritePacket) error {
	f, err := h.file(req.Handle)
	if err != nil {
		return err
	}

	_, err = f.WriteAt(req.Data, int64(req.Offset))
	return err
}

// ReadDir returns the next batch of entries, then io.EOF.
func (h *Handler) ReadDir(_ context.Context, req *sshfx.ReadDirPacket) ([]*sshfx.NameEntry, error) {
	d, err := h.dir(req.Handle)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.done {
		return nil, io.EOF
	}

	fis, err := d.f.Readdir(readdirBatchSize)
	if err != nil {
		if err == io.EOF {
			d.done = true
			if len(fis) == 0 {
				return nil, io.EOF
			}
			err = nil
		}
		if err != nil {
			return nil, err
		}
	}

	if len(fis) == 0 {
		d.done = true
		return nil, io.EOF
	}

	entries := make([]*sshfx.NameEntry, 0, len(fis))
	for _, fi := range fis {
		entries = append(entries, &sshfx.NameEntry{
			Filename: fi.Name(),
			Longname: longname(fi),
			Attrs:    *attributes(fi),
		})
	}

	return entries, nil
}

// attributes builds the wire attributes for a local file,
// including ownership where the platform exposes it.
func attributes(fi os.FileInfo) *sshfx.Attributes {
	attrs := sftp.AttributesFromFileInfo(fi)

	if uid, gid, ok := fileOwner(fi); ok {
		attrs.SetUIDGID(uid, gid)
	}

	return attrs
}

// Stat follows symlinks.
func (h *Handler) Stat(_ context.Context, req *sshfx.StatPacket) (*sshfx.Attributes, error) {
	fi, err := os.Stat(req.Path)
	if err != nil {
		return nil, err
	}

	return attributes(fi), nil
}

// LStat does not follow symlinks.
func (h *Handler) LStat(_ context.Context, req *sshfx.LStatPacket) (*sshfx.Attributes, error) {
	fi, err := os.Lstat(req.Path)
	if err != nil {
		return nil, err
	}

	return attributes(fi), nil
}

// FStat stats an open file handle.
func (h *Handler) FStat(_ context.Context, req *sshfx.FStatPacket) (*sshfx.Attributes, error) {
	f, err := h.file(req.Handle)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	return attributes(fi), nil
}

// setStat applies exactly the attributes the client populated.
// Unpopulated fields are left alone: draft-02 is silent on merge-versus-
// replace, and preserving is what every existing server does.
func setStat(name string, attrs *sshfx.Attributes) error {
	if attrs.HasSize() {
		if err := os.Truncate(name, int64(attrs.Size)); err != nil {
			return err
		}
	}

	if attrs.HasPermissions() {
		if err := os.Chmod(name, sftp.ToFileMode(attrs.Permissions)); err != nil {
			return err
		}
	}

	if attrs.HasACModTime() {
		atime := unixTime(attrs.ATime)
		mtime := unixTime(attrs.MTime)
		if err := os.Chtimes(name, atime, mtime); err != nil {
			return err
		}
	}

	if attrs.HasUIDGID() {
		if err := os.Chown(name, int(attrs.UID), int(attrs.GID)); err != nil {
			return err
		}
	}

	return nil
}

// SetStat modifies metadata of the named file.
func (h *Handler) SetStat(_ context.Context, req *sshfx.SetStatPacket) error {
	return setStat(req.Path, &req.Attrs)
}

// FSetStat modifies metadata via an open handle.
func (h *Handler) FSetStat(_ context.Context, req *sshfx.FSetStatPacket) error {
	f, err := h.file(req.Handle)
	if err != nil {
		return err
	}

	return setStat(f.Name(), &req.Attrs)
}

// Remove removes the named file.
func (h *Handler) Remove(_ context.Context, req *sshfx.RemovePacket) error {
	return os.Remove(req.Path)
}

// Mkdir creates the named directory.
func (h *Handler) Mkdir(_ context.Context, req *sshfx.MkdirPacket) error {
	perm := os.FileMode(0o755)
	if req.Attrs.HasPermissions() {
		perm = sftp.ToFileMode(req.Attrs.Permissions).Perm()
	}

	return os.Mkdir(req.Path, perm)
}

// Rmdir removes the named directory.
func (h *Handler) Rmdir(_ context.Context, req *sshfx.RmdirPacket) error {
	return os.Remove(req.Path)
}

// Rename renames oldpath to newpath.
func (h *Handler) Rename(_ context.Context, req *sshfx.RenamePacket) error {
	return os.Rename(req.OldPath, req.NewPath)
}

// Symlink creates linkpath as a symbolic link to targetpath.
func (h *Handler) Symlink(_ context.Context, req *sshfx.SymlinkPacket) error {
	return os.Symlink(req.TargetPath, req.LinkPath)
}

// ReadLink returns the target of the named symbolic link.
func (h *Handler) ReadLink(_ context.Context, req *sshfx.ReadLinkPacket) (string, error) {
	return os.Readlink(req.Path)
}

// RealPath canonicalizes the given path.
func (h *Handler) RealPath(_ context.Context, req *sshfx.RealPathPacket) (string, error) {
	name := req.Path
	if name == "" {
		name = "."
	}

	abs, err := filepath.Abs(name)
	if err != nil {
		return "", err
	}

	return filepath.ToSlash(abs), nil
}

// Hardlink implements the hardlink@openssh.com extension.
func (h *Handler) Hardlink(_ context.Context, req *openssh.HardlinkExtendedPacket) error {
	return os.Link(req.OldPath, req.NewPath)
}

// Fsync implements the fsync@openssh.com extension.
func (h *Handler) Fsync(_ context.Context, req *openssh.FsyncExtendedPacket) error {
	f, err := h.file(req.Handle)
	if err != nil {
		return err
	}

	return f.Sync()
}

var (
	_ sftp.Handler         = (*Handler)(nil)
	_ sftp.HardlinkHandler = (*Handler)(nil)
	_ sftp.FsyncHandler    = (*Handler)(nil)
)
