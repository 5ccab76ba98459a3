package sftp

import (
	"context"

	sshfx "github.com/sshtools/sftp/encoding/ssh/filexfer"
	"github.com/sshtools/sftp/encoding/ssh/filexfer/openssh"
)

// Handler is the capability surface a Server dispatches requests to.
// One method corresponds to one request kind; each receives the decoded
// request (its request id already stripped) and returns either the positive
// result, or an error. The engine attaches the correct id to the reply.
//
// Return a *StatusError to pick the exact SSH_FX_* code sent to the client;
// any other error is mapped by the usual sentinels (fs.ErrNotExist,
// fs.ErrPermission, io.EOF) and otherwise reported as SSH_FX_FAILURE.
//
// Implementations must embed UnimplementedHandler, which answers every
// request with SSH_FX_OP_UNSUPPORTED, and override what they support.
//
// The server may invoke methods concurrently; implementations are
// responsible for their own locking.
type Handler interface {
	// Open opens the named file per the SSH_FXF_* bits in req.PFlags,
	// and returns the handle that identifies it for Read, Write, FStat,
	// FSetStat and Close. Handles are opaque to the protocol, must not
	// exceed 256 bytes, and must be unique within the session.
	Open(ctx context.Context, req *sshfx.OpenPacket) (handle string, err error)

	// OpenDir opens the named directory for iteration and returns its handle.
	OpenDir(ctx context.Context, req *sshfx.OpenDirPacket) (handle string, err error)

	// Close releases whatever resource backs the given handle.
	// The engine has already removed the handle from its table.
	Close(ctx context.Context, req *sshfx.ClosePacket) error

	// Read returns up to req.Length bytes from the file at req.Offset.
	// Reading at or past end-of-file returns io.EOF.
	Read(ctx context.Context, req *sshfx.ReadPacket) ([]byte, error)

	// Write stores req.Data into the file at req.Offset.
	Write(ctx context.Context, req *sshfx.WritePacket) error

	// ReadDir returns the next batch of entries for a directory handle.
	// An exhausted iterator returns io.EOF.
	ReadDir(ctx context.Context, req *sshfx.ReadDirPacket) ([]*sshfx.NameEntry, error)

	// Stat returns attributes for the named file, following symlinks.
	Stat(ctx context.Context, req *sshfx.StatPacket) (*sshfx.Attributes, error)

	// LStat returns attributes for the named file, without following symlinks.
	LStat(ctx context.Context, req *sshfx.LStatPacket) (*sshfx.Attributes, error)

	// FStat returns attributes for an open handle.
	FStat(ctx context.Context, req *sshfx.FStatPacket) (*sshfx.Attributes, error)

	// SetStat applies the attributes populated in req.Attrs to the named file.
	// The decoded attributes carry exactly the fields the client set;
	// whether absent fields are preserved or reset is the handler's policy.
	SetStat(ctx context.Context, req *sshfx.SetStatPacket) error

	// FSetStat applies the attributes populated in req.Attrs to an open handle.
	FSetStat(ctx context.Context, req *sshfx.FSetStatPacket) error

	// Remove removes the named file.
	Remove(ctx context.Context, req *sshfx.RemovePacket) error

	// Mkdir creates the named directory.
	Mkdir(ctx context.Context, req *sshfx.MkdirPacket) error

	// Rmdir removes the named directory.
	Rmdir(ctx context.Context, req *sshfx.RmdirPacket) error

	// Rename renames req.OldPath to req.NewPath.
	Rename(ctx context.Context, req *sshfx.RenamePacket) error

	// Symlink creates req.LinkPath as a symbolic link to req.TargetPath.
	Symlink(ctx context.Context, req *sshfx.SymlinkPacket) error

	// ReadLink returns the target of the named symbolic link.
	ReadLink(ctx context.Context, req *sshfx.ReadLinkPacket) (string, error)

	// RealPath canonicalizes the given path.
	RealPath(ctx context.Context, req *sshfx.RealPathPacket) (string, error)
}

// HardlinkHandler is implemented by handlers supporting the
// hardlink@openssh.com extension. A Server advertises the extension when its
// handler implements this interface.
type HardlinkHandler interface {
	Hardlink(ctx context.Context, req *openssh.HardlinkExtendedPacket) error
}

// FsyncHandler is implemented by handlers supporting the
// fsync@openssh.com extension. A Server advertises the extension when its
// handler implements this interface.
type FsyncHandler interface {
	Fsync(ctx context.Context, req *openssh.FsyncExtendedPacket) error
}

// StatVFSHandler is implemented by handlers supporting the
// statvfs@openssh.com extension. A Server advertises the extension when its
// handler implements this interface.
type StatVFSHandler interface {
	StatVFS(ctx context.Context, req *openssh.StatVFSExtendedPacket) (*openssh.StatVFSExtendedReplyPacket, error)
}

// ExtendedHandler is implemented by handlers answering SSH_FXP_EXTENDED
// requests beyond the built-in openssh extensions. The returned data is
// marshaled into an SSH_FXP_EXTENDED_REPLY; a nil result with a nil error
// produces an empty reply.
type ExtendedHandler interface {
	Extended(ctx context.Context, req *sshfx.ExtendedPacket) (sshfx.ExtendedData, error)
}

// errOPUnsupported answers a request the handler does not implement.
func errOPUnsupported(typ sshfx.PacketType) error {
	return &StatusError{
		Code: sshfx.StatusOPUnsupported,
		msg:  typ.String(),
	}
}

// UnimplementedHandler answers every request with SSH_FX_OP_UNSUPPORTED.
// Embed it in Handler implementations so they keep compiling as methods are
// added to the interface.
type UnimplementedHandler struct{}

var _ Handler = UnimplementedHandler{}

func (UnimplementedHandler) Open(_ context.Context, req *sshfx.OpenPacket) (string, error) {
	return "", errOPUnsupported(req.Type())
}

func (UnimplementedHandler) OpenDir(_ context.Context, req *sshfx.OpenDirPacket) (string, error) {
	return "", errOPUnsupported(req.Type())
}

func (UnimplementedHandler) Close(_ context.Context, req *sshfx.ClosePacket) error {
	return errOPUnsupported(req.Type())
}

func (UnimplementedHandler) Read(_ context.Context, req *sshfx.ReadPacket) ([]byte, error) {
	return nil, errOPUnsupported(req.Type())
}

func (UnimplementedHandler) Write(_ context.Context, req *sshfx.WritePacket) error {
	return errOPUnsupported(req.Type())
}

func (UnimplementedHandler) ReadDir(_ context.Context, req *sshfx.ReadDirPacket) ([]*sshfx.NameEntry, error) {
	return nil, errOPUnsupported(req.Type())
}

func (UnimplementedHandler) Stat(_ context.Context, req *sshfx.StatPacket) (*sshfx.Attributes, error) {
	return nil, errOPUnsupported(req.Type())
}

func (UnimplementedHandler) LStat(_ context.Context, req *sshfx.LStatPacket) (*sshfx.Attributes, error) {
	return nil, errOPUnsupported(req.Type())
}

func (UnimplementedHandler) FStat(_ context.Context, req *sshfx.FStatPacket) (*sshfx.Attributes, error) {
	return nil, errOPUnsupported(req.Type())
}

func (UnimplementedHandler) SetStat(_ context.Context, req *sshfx.SetStatPacket) error {
	return errOPUnsupported(req.Type())
}

func (UnimplementedHandler) FSetStat(_ context.Context, req *sshfx.FSetStatPacket) error {
	return errOPUnsupported(req.Type())
}

func (UnimplementedHandler) Remove(_ context.Context, req *sshfx.RemovePacket) error {
	return errOPUnsupported(req.Type())
}

func (UnimplementedHandler) Mkdir(_ context.Context, req *sshfx.MkdirPacket) error {
	return errOPUnsupported(req.Type())
}

func (UnimplementedHandler) Rmdir(_ context.Context, req *sshfx.RmdirPacket) error {
	return errOPUnsupported(req.Type())
}

func (UnimplementedHandler) Rename(_ context.Context, req *sshfx.RenamePacket) error {
	return errOPUnsupported(req.Type())
}

func (UnimplementedHandler) Symlink(_ context.Context, req *sshfx.SymlinkPacket) error {
	return errOPUnsupported(req.Type())
}

func (UnimplementedHandler) ReadLink(_ context.Context, req *sshfx.ReadLinkPacket) (string, error) {
	return "", errOPUnsupported(req.Type())
}

func (UnimplementedHandler) RealPath(_ context.Context, req *sshfx.RealPathPacket) (string, error) {
	return "", errOPUnsupported(req.Type())
}
