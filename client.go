package sftp

import (
	"io"
	"os"
	"path"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/kr/fs"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"

	sshfx "github.com/sshtools/sftp/encoding/ssh/filexfer"
	"github.com/sshtools/sftp/encoding/ssh/filexfer/openssh"
)

// ClientOption specifies an optional that can be set on a client.
type ClientOption func(*Client) error

// WithTimeout sets the per-request timeout. When a reply does not arrive in
// time the request errors with ErrTimeout, and its id is quarantined until
// the late reply eventually lands. A zero duration waits forever.
//
// The default is 10 seconds.
func WithTimeout(d time.Duration) ClientOption {
	return func(cl *Client) error {
		if d < 0 {
			return errors.Errorf("timeout cannot be negative: %v", d)
		}

		cl.timeout = d
		return nil
	}
}

// WithMaxPacketLength sets the maximum length of an inbound packet the client
// will accept before rejecting the frame to bound memory.
//
// The default is sshfx.DefaultMaxPacketLength.
func WithMaxPacketLength(length uint32) ClientOption {
	return func(cl *Client) error {
		if length < 1 {
			return errors.Errorf("max packet length cannot be less than 1: %d", length)
		}

		cl.conn.maxPacket = length
		return nil
	}
}

// Client represents an SFTP session bound to a duplex byte stream.
// A client may be called concurrently from multiple goroutines.
type Client struct {
	conn clientConn

	timeout time.Duration

	maxReadLen  int
	maxWriteLen int

	maxOpenHandles int64
	openHandles    atomic.Int64

	exts map[string]string
}

// NewClient creates a new SFTP client on conn, by opening an "sftp" subsystem session.
func NewClient(conn *ssh.Client, opts ...ClientOption) (*Client, error) {
	s, err := conn.NewSession()
	if err != nil {
		return nil, err
	}

	if err := s.RequestSubsystem("sftp"); err != nil {
		s.Close()
		return nil, err
	}

	w, err := s.StdinPipe()
	if err != nil {
		s.Close()
		return nil, err
	}

	r, err := s.StdoutPipe()
	if err != nil {
		s.Close()
		return nil, err
	}

	return NewClientPipe(r, w, opts...)
}

// NewClientPipe creates a new SFTP client given a Reader and WriteCloser.
// This can be used for connecting to an SFTP server over TCP/TLS, or by using
// the system's ssh client program (e.g. via exec.Command).
//
// It performs the SSH_FXP_INIT/SSH_FXP_VERSION handshake before returning:
// the server must answer with version 3, or the client refuses the session.
func NewClientPipe(rd io.Reader, wr io.WriteCloser, opts ...ClientOption) (*Client, error) {
	cl := &Client{
		conn: clientConn{
			conn: conn{
				Reader:    rd,
				wr:        wr,
				maxPacket: sshfx.DefaultMaxPacketLength,
			},
			inflight: make(map[uint32]chan<- result),
			closed:   make(chan struct{}),
		},

		timeout: 10 * time.Second,

		maxReadLen:  defaultMaxDataLength,
		maxWriteLen: defaultMaxDataLength,
	}

	for _, opt := range opts {
		if err := opt(cl); err != nil {
			return nil, err
		}
	}

	exts, err := cl.handshake()
	if err != nil {
		return nil, err
	}
	cl.exts = exts

	go func() {
		err := cl.conn.recvLoop()
		if err == nil || errors.Is(err, io.EOF) {
			err = ErrConnectionLost
		}
		cl.conn.disconnect(err)
	}()

	if _, ok := cl.exts[openssh.ExtensionNameLimits]; ok {
		if limits, err := cl.Limits(); err == nil {
			cl.applyLimits(limits)
		}
	}

	return cl, nil
}

// handshake writes SSH_FXP_INIT and awaits the server's SSH_FXP_VERSION.
// It owns the read half until it returns; the receive loop starts after.
func (cl *Client) handshake() (map[string]string, error) {
	initPkt := &sshfx.InitPacket{
		Version: sftpProtocolVersion,
	}

	data, err := initPkt.MarshalBinary()
	if err != nil {
		return nil, err
	}

	if err := cl.conn.writeRaw(data); err != nil {
		return nil, errors.Wrap(err, "write SSH_FXP_INIT")
	}

	var version sshfx.VersionPacket

	typ, err := version.ReadFrom(cl.conn.Reader, cl.conn.maxPacket)
	if err != nil {
		return nil, errors.Wrap(err, "read SSH_FXP_VERSION")
	}

	if typ != sshfx.PacketTypeVersion {
		return nil, errors.Wrapf(ErrUnexpectedPacket, "expected SSH_FXP_VERSION, got %v", typ)
	}

	if version.Version != sftpProtocolVersion {
		return nil, errors.Wrapf(ErrUnexpectedVersion, "server speaks version %d, want %d", version.Version, sftpProtocolVersion)
	}

	exts := make(map[string]string)
	for _, ext := range version.Extensions {
		exts[ext.Name] = ext.Data
	}
	return exts, nil
}

// applyLimits adopts the bounds advertised by the limits@openssh.com extension.
// Read and write chunk sizes become the advertised lengths, capped at the
// inbound packet limit; a zero field leaves the default in place.
func (cl *Client) applyLimits(limits *openssh.LimitsExtendedReplyPacket) {
	if n := limits.MaxReadLength; n > 0 {
		cl.maxReadLen = int(min(n, uint64(cl.conn.maxPacket)))
	}

	if n := limits.MaxWriteLength; n > 0 {
		cl.maxWriteLen = int(min(n, uint64(cl.conn.maxPacket)))
	}

	cl.maxOpenHandles = int64(limits.MaxOpenHandles)
}

// HasExtension returns the data advertised by the server for the named
// extension, and whether the server advertised it at all.
func (cl *Client) HasExtension(name string) (string, bool) {
	data, ok := cl.exts[name]
	return data, ok
}

// Close closes the SFTP session: every pending request errors with
// ErrConnectionLost, and the write half of the stream is closed.
func (cl *Client) Close() error {
	cl.conn.disconnect(ErrConnectionLost)
	return cl.conn.Close()
}

// invoke allocates a request id, builds the packet with it, dispatches it,
// and blocks until its reply, the timeout, or session death.
func (cl *Client) invoke(build func(id uint32) packetMarshaler) (result, error) {
	ch := make(chan result, 1)
	reqid := cl.conn.reserveID(ch)

	if err := cl.conn.dispatch(reqid, build(reqid)); err != nil {
		return result{}, err
	}

	return cl.conn.await(reqid, ch, cl.timeout)
}

// expectStatus expects an SSH_FXP_STATUS reply, where SSH_FX_OK is success.
func (cl *Client) expectStatus(res result, err error) error {
	if err != nil {
		return err
	}

	if res.typ != sshfx.PacketTypeStatus {
		return errors.Wrapf(ErrBadMessage, "expected SSH_FXP_STATUS, got %v", res.typ)
	}

	var status sshfx.StatusPacket
	if err := status.UnmarshalPacketBody(res.data); err != nil {
		return errors.Wrap(ErrBadMessage, err.Error())
	}

	if status.StatusCode == sshfx.StatusOK {
		return nil
	}

	return &StatusError{Code: status.StatusCode, msg: status.ErrorMessage, lang: status.LanguageTag}
}

// statusToError decodes a non-OK SSH_FXP_STATUS into a *StatusError.
// An SSH_FX_OK in reply to a request that expected data is a protocol violation.
func statusToError(res result) error {
	var status sshfx.StatusPacket
	if err := status.UnmarshalPacketBody(res.data); err != nil {
		return errors.Wrap(ErrBadMessage, err.Error())
	}

	if status.StatusCode == sshfx.StatusOK {
		return errors.Wrap(ErrUnexpectedPacket, "unexpected SSH_FX_OK")
	}

	return &StatusError{Code: status.StatusCode, msg: status.ErrorMessage, lang: status.LanguageTag}
}

// expectHandle expects an SSH_FXP_HANDLE reply.
func (cl *Client) expectHandle(res result, err error) (string, error) {
	if err != nil {
		return "", err
	}

	switch res.typ {
	case sshfx.PacketTypeHandle:
		var pkt sshfx.HandlePacket
		if err := pkt.UnmarshalPacketBody(res.data); err != nil {
			return "", errors.Wrap(ErrBadMessage, err.Error())
		}
		return pkt.Handle, nil

	case sshfx.PacketTypeStatus:
		return "", statusToError(res)

	default:
		return "", errors.Wrapf(ErrBadMessage, "expected SSH_FXP_HANDLE, got %v", res.typ)
	}
}

// expectAttrs expects an SSH_FXP_ATTRS reply.
func (cl *Client) expectAttrs(res result, err error) (*sshfx.Attributes, error) {
	if err != nil {
		return nil, err
	}

	switch res.typ {
	case sshfx.PacketTypeAttrs:
		var pkt sshfx.AttrsPacket
		if err := pkt.UnmarshalPacketBody(res.data); err != nil {
			return nil, errors.Wrap(ErrBadMessage, err.Error())
		}
		return &pkt.Attrs, nil

	case sshfx.PacketTypeStatus:
		return nil, statusToError(res)

	default:
		return nil, errors.Wrapf(ErrBadMessage, "expected SSH_FXP_ATTRS, got %v", res.typ)
	}
}

// expectData expects an SSH_FXP_DATA reply.
// An SSH_FX_EOF status is surfaced as io.EOF, not an error.
func (cl *Client) expectData(res result, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}

	switch res.typ {
	case sshfx.PacketTypeData:
		var pkt sshfx.DataPacket
		if err := pkt.UnmarshalPacketBody(res.data); err != nil {
			return nil, errors.Wrap(ErrBadMessage, err.Error())
		}
		return pkt.Data, nil

	case sshfx.PacketTypeStatus:
		return nil, normaliseError(statusToError(res))

	default:
		return nil, errors.Wrapf(ErrBadMessage, "expected SSH_FXP_DATA, got %v", res.typ)
	}
}

// expectName expects an SSH_FXP_NAME reply.
// An SSH_FX_EOF status is surfaced as io.EOF, not an error.
func (cl *Client) expectName(res result, err error) ([]*sshfx.NameEntry, error) {
	if err != nil {
		return nil, err
	}

	switch res.typ {
	case sshfx.PacketTypeName:
		var pkt sshfx.NamePacket
		if err := pkt.UnmarshalPacketBody(res.data); err != nil {
			return nil, errors.Wrap(ErrBadMessage, err.Error())
		}
		return pkt.Entries, nil

	case sshfx.PacketTypeStatus:
		return nil, normaliseError(statusToError(res))

	default:
		return nil, errors.Wrapf(ErrBadMessage, "expected SSH_FXP_NAME, got %v", res.typ)
	}
}

// expectExtendedReply expects an SSH_FXP_EXTENDED_REPLY reply.
func (cl *Client) expectExtendedReply(res result, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}

	switch res.typ {
	case sshfx.PacketTypeExtendedReply:
		return res.data.Bytes(), nil

	case sshfx.PacketTypeStatus:
		return nil, statusToError(res)

	default:
		return nil, errors.Wrapf(ErrBadMessage, "expected SSH_FXP_EXTENDED_REPLY, got %v", res.typ)
	}
}

func wrapPathError(op, path string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, io.EOF) {
		// Numerous odd things break if we don't return bare io.EOF errors.
		return io.EOF
	}

	return &os.PathError{Op: op, Path: path, Err: err}
}

func wrapLinkError(op, oldpath, newpath string, err error) error {
	if err == nil {
		return nil
	}

	return &os.LinkError{Op: op, Old: oldpath, New: newpath, Err: err}
}

// OpenFile opens the named file with the given SSH_FXF_* flags and attributes.
// The pflags combination is forwarded to the server verbatim.
func (cl *Client) OpenFile(name string, pflags uint32, attrs sshfx.Attributes) (*File, error) {
	if err := cl.acquireHandle(); err != nil {
		return nil, wrapPathError("open", name, err)
	}

	res, err := cl.invoke(func(id uint32) packetMarshaler {
		return &sshfx.OpenPacket{
			RequestID: id,
			Filename:  name,
			PFlags:    pflags,
			Attrs:     attrs,
		}
	})

	handle, err := cl.expectHandle(res, err)
	if err != nil {
		cl.openHandles.Add(-1)
		return nil, wrapPathError("open", name, normaliseError(err))
	}

	f := &File{
		c:      cl,
		path:   name,
		handle: handle,
	}

	// Mirror os.File: a leaked handle is eventually closed, best-effort.
	runtime.SetFinalizer(f, (*File).drop)

	return f, nil
}

// Open opens the named file for reading.
func (cl *Client) Open(name string) (*File, error) {
	return cl.OpenFile(name, sshfx.FlagRead, sshfx.Attributes{})
}

// Create creates or truncates the named file, open for reading and writing.
func (cl *Client) Create(name string) (*File, error) {
	return cl.OpenFile(name, sshfx.FlagRead|sshfx.FlagWrite|sshfx.FlagCreate|sshfx.FlagTruncate, sshfx.Attributes{})
}

// acquireHandle counts a handle against the server's advertised limit.
func (cl *Client) acquireHandle() error {
	if n := cl.openHandles.Add(1); cl.maxOpenHandles > 0 && n > cl.maxOpenHandles {
		cl.openHandles.Add(-1)
		return errors.Wrap(ErrLimitExceeded, "too many open handles")
	}

	return nil
}

// closeHandle sends SSH_FXP_CLOSE for the given handle.
func (cl *Client) closeHandle(handle string) error {
	defer cl.openHandles.Add(-1)

	res, err := cl.invoke(func(id uint32) packetMarshaler {
		return &sshfx.ClosePacket{
			RequestID: id,
			Handle:    handle,
		}
	})

	return cl.expectStatus(res, err)
}

// OpenDir opens the named directory for listing.
func (cl *Client) OpenDir(name string) (*Dir, error) {
	if err := cl.acquireHandle(); err != nil {
		return nil, wrapPathError("opendir", name, err)
	}

	res, err := cl.invoke(func(id uint32) packetMarshaler {
		return &sshfx.OpenDirPacket{
			RequestID: id,
			Path:      name,
		}
	})

	handle, err := cl.expectHandle(res, err)
	if err != nil {
		cl.openHandles.Add(-1)
		return nil, wrapPathError("opendir", name, normaliseError(err))
	}

	d := &Dir{
		c:      cl,
		path:   name,
		handle: handle,
	}

	runtime.SetFinalizer(d, (*Dir).drop)

	return d, nil
}

// ReadDir reads the named directory, returning a list of directory entries.
func (cl *Client) ReadDir(name string) ([]os.FileInfo, error) {
	d, err := cl.OpenDir(name)
	if err != nil {
		return nil, err
	}
	defer d.Close()

	var all []os.FileInfo
	for {
		batch, err := d.ReadDir()
		all = append(all, batch...)

		if err != nil {
			if errors.Is(err, io.EOF) {
				return all, nil
			}
			return all, err
		}
	}
}

// Remove removes the named file.
func (cl *Client) Remove(name string) error {
	res, err := cl.invoke(func(id uint32) packetMarshaler {
		return &sshfx.RemovePacket{
			RequestID: id,
			Path:      name,
		}
	})

	return wrapPathError("remove", name, normaliseError(cl.expectStatus(res, err)))
}

// Mkdir creates the specified directory with the given permissions.
func (cl *Client) Mkdir(name string, perm os.FileMode) error {
	var attrs sshfx.Attributes
	attrs.SetPermissions(FromFileMode(perm.Perm()))

	res, err := cl.invoke(func(id uint32) packetMarshaler {
		return &sshfx.MkdirPacket{
			RequestID: id,
			Path:      name,
			Attrs:     attrs,
		}
	})

	return wrapPathError("mkdir", name, normaliseError(cl.expectStatus(res, err)))
}

// Rmdir removes the specified empty directory.
func (cl *Client) Rmdir(name string) error {
	res, err := cl.invoke(func(id uint32) packetMarshaler {
		return &sshfx.RmdirPacket{
			RequestID: id,
			Path:      name,
		}
	})

	return wrapPathError("rmdir", name, normaliseError(cl.expectStatus(res, err)))
}

// Rename renames (moves) oldpath to newpath.
// Version 3 of the protocol fails if newpath already exists.
func (cl *Client) Rename(oldpath, newpath string) error {
	res, err := cl.invoke(func(id uint32) packetMarshaler {
		return &sshfx.RenamePacket{
			RequestID: id,
			OldPath:   oldpath,
			NewPath:   newpath,
		}
	})

	return wrapLinkError("rename", oldpath, newpath, normaliseError(cl.expectStatus(res, err)))
}

// Symlink creates linkpath as a symbolic link to targetpath.
func (cl *Client) Symlink(targetpath, linkpath string) error {
	res, err := cl.invoke(func(id uint32) packetMarshaler {
		return &sshfx.SymlinkPacket{
			RequestID:  id,
			LinkPath:   linkpath,
			TargetPath: targetpath,
		}
	})

	return wrapLinkError("symlink", targetpath, linkpath, normaliseError(cl.expectStatus(res, err)))
}

// ReadLink reads the target of the named symbolic link.
func (cl *Client) ReadLink(name string) (string, error) {
	res, err := cl.invoke(func(id uint32) packetMarshaler {
		return &sshfx.ReadLinkPacket{
			RequestID: id,
			Path:      name,
		}
	})

	entries, err := cl.expectName(res, err)
	if err != nil {
		return "", wrapPathError("readlink", name, normaliseError(err))
	}

	if len(entries) != 1 {
		return "", wrapPathError("readlink", name, errors.Wrap(ErrBadMessage, "expected exactly one name entry"))
	}

	return entries[0].Filename, nil
}

// RealPath canonicalizes the given path relative to the server's notion of
// the current working directory.
func (cl *Client) RealPath(name string) (string, error) {
	res, err := cl.invoke(func(id uint32) packetMarshaler {
		return &sshfx.RealPathPacket{
			RequestID: id,
			Path:      name,
		}
	})

	entries, err := cl.expectName(res, err)
	if err != nil {
		return "", wrapPathError("realpath", name, normaliseError(err))
	}

	if len(entries) != 1 {
		return "", wrapPathError("realpath", name, errors.Wrap(ErrBadMessage, "expected exactly one name entry"))
	}

	return entries[0].Filename, nil
}

// Stat returns file metadata for the named file, following symbolic links.
func (cl *Client) Stat(name string) (os.FileInfo, error) {
	res, err := cl.invoke(func(id uint32) packetMarshaler {
		return &sshfx.StatPacket{
			RequestID: id,
			Path:      name,
		}
	})

	attrs, err := cl.expectAttrs(res, err)
	if err != nil {
		return nil, wrapPathError("stat", name, normaliseError(err))
	}

	return fileInfoFromAttrs(path.Base(name), attrs), nil
}

// LStat returns file metadata for the named file, without following symbolic links.
func (cl *Client) LStat(name string) (os.FileInfo, error) {
	res, err := cl.invoke(func(id uint32) packetMarshaler {
		return &sshfx.LStatPacket{
			RequestID: id,
			Path:      name,
		}
	})

	attrs, err := cl.expectAttrs(res, err)
	if err != nil {
		return nil, wrapPathError("lstat", name, normaliseError(err))
	}

	return fileInfoFromAttrs(path.Base(name), attrs), nil
}

// SetStat modifies metadata of the named file. Only the attributes populated
// in attrs are sent; whether the server merges or replaces unpopulated fields
// is the server's decision.
func (cl *Client) SetStat(name string, attrs sshfx.Attributes) error {
	res, err := cl.invoke(func(id uint32) packetMarshaler {
		return &sshfx.SetStatPacket{
			RequestID: id,
			Path:      name,
			Attrs:     attrs,
		}
	})

	return wrapPathError("setstat", name, normaliseError(cl.expectStatus(res, err)))
}

// Chmod changes the permission bits of the named file.
func (cl *Client) Chmod(name string, perm os.FileMode) error {
	var attrs sshfx.Attributes
	attrs.SetPermissions(FromFileMode(perm))

	return cl.SetStat(name, attrs)
}

// Truncate changes the size of the named file.
func (cl *Client) Truncate(name string, size int64) error {
	var attrs sshfx.Attributes
	attrs.SetSize(uint64(size))

	return cl.SetStat(name, attrs)
}

// Extended sends an SSH_FXP_EXTENDED request with the given extended-request
// name and request-specific data, and returns the raw reply-specific data.
func (cl *Client) Extended(request string, data []byte) ([]byte, error) {
	res, err := cl.invoke(func(id uint32) packetMarshaler {
		return &sshfx.ExtendedPacket{
			RequestID:       id,
			ExtendedRequest: request,
			Data:            sshfx.NewBuffer(data),
		}
	})

	return cl.expectExtendedReply(res, err)
}

// unsupportedExtension is returned for an extension the server did not advertise.
func unsupportedExtension(name string) error {
	return &StatusError{
		Code: sshfx.StatusOPUnsupported,
		msg:  "server does not advertise extension " + name,
	}
}

// Limits queries the limits@openssh.com extension.
func (cl *Client) Limits() (*openssh.LimitsExtendedReplyPacket, error) {
	if _, ok := cl.HasExtension(openssh.ExtensionNameLimits); !ok {
		return nil, unsupportedExtension(openssh.ExtensionNameLimits)
	}

	data, err := cl.Extended(openssh.ExtensionNameLimits, nil)
	if err != nil {
		return nil, err
	}

	limits := new(openssh.LimitsExtendedReplyPacket)
	if err := limits.UnmarshalBinary(data); err != nil {
		return nil, errors.Wrap(ErrBadMessage, err.Error())
	}

	return limits, nil
}

// Hardlink creates newpath as a hard link to oldpath,
// via the hardlink@openssh.com extension.
func (cl *Client) Hardlink(oldpath, newpath string) error {
	if _, ok := cl.HasExtension(openssh.ExtensionNameHardlink); !ok {
		return wrapLinkError("hardlink", oldpath, newpath, unsupportedExtension(openssh.ExtensionNameHardlink))
	}

	req := &openssh.HardlinkExtendedPacket{
		OldPath: oldpath,
		NewPath: newpath,
	}

	data, err := req.MarshalBinary()
	if err != nil {
		return err
	}

	res, err := cl.invoke(func(id uint32) packetMarshaler {
		return &sshfx.ExtendedPacket{
			RequestID:       id,
			ExtendedRequest: openssh.ExtensionNameHardlink,
			Data:            sshfx.NewBuffer(data),
		}
	})

	return wrapLinkError("hardlink", oldpath, newpath, normaliseError(cl.expectStatus(res, err)))
}

// StatVFS queries filesystem statistics for the filesystem containing the
// named path, via the statvfs@openssh.com extension.
func (cl *Client) StatVFS(name string) (*openssh.StatVFSExtendedReplyPacket, error) {
	if _, ok := cl.HasExtension(openssh.ExtensionNameStatVFS); !ok {
		return nil, wrapPathError("statvfs", name, unsupportedExtension(openssh.ExtensionNameStatVFS))
	}

	req := &openssh.StatVFSExtendedPacket{
		Path: name,
	}

	data, err := req.MarshalBinary()
	if err != nil {
		return nil, err
	}

	reply, err := cl.Extended(openssh.ExtensionNameStatVFS, data)
	if err != nil {
		return nil, wrapPathError("statvfs", name, normaliseError(err))
	}

	vfs := new(openssh.StatVFSExtendedReplyPacket)
	if err := vfs.UnmarshalBinary(reply); err != nil {
		return nil, wrapPathError("statvfs", name, errors.Wrap(ErrBadMessage, err.Error()))
	}

	return vfs, nil
}

// fsync sends an fsync@openssh.com request for the given handle.
func (cl *Client) fsync(handle string) error {
	if _, ok := cl.HasExtension(openssh.ExtensionNameFsync); !ok {
		return unsupportedExtension(openssh.ExtensionNameFsync)
	}

	req := &openssh.FsyncExtendedPacket{
		Handle: handle,
	}

	data, err := req.MarshalBinary()
	if err != nil {
		return err
	}

	res, err := cl.invoke(func(id uint32) packetMarshaler {
		return &sshfx.ExtendedPacket{
			RequestID:       id,
			ExtendedRequest: openssh.ExtensionNameFsync,
			Data:            sshfx.NewBuffer(data),
		}
	})

	return normaliseError(cl.expectStatus(res, err))
}

// Join joins any number of path elements into a single path, separating them
// with slashes. It is part of the kr/fs FileSystem interface.
func (cl *Client) Join(elem ...string) string { return path.Join(elem...) }

// Lstat is an alias for LStat, satisfying the kr/fs FileSystem interface.
func (cl *Client) Lstat(name string) (os.FileInfo, error) { return cl.LStat(name) }

// Walk returns a new Walker rooted at root.
func (cl *Client) Walk(root string) *fs.Walker {
	return fs.WalkFS(root, cl)
}

// File represents an open remote file, identified by a server-chosen handle.
//
// Multiple reads and writes on the same File may be in flight concurrently;
// the engine guarantees nothing about their relative order beyond each
// completing when its own reply arrives.
type File struct {
	c      *Client
	path   string
	handle string

	closed atomic.Bool
}

// Name returns the name of the file as presented to OpenFile.
func (f *File) Name() string { return f.path }

// drop is the finalizer for a File discarded without Close:
// a best-effort SSH_FXP_CLOSE is spawned so the server handle is not leaked,
// without ever blocking the collector.
func (f *File) drop() {
	if f.closed.CompareAndSwap(false, true) {
		go f.c.closeHandle(f.handle)
	}
}

// Close closes the remote file handle. It is an error to use the File after Close.
func (f *File) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return os.ErrClosed
	}

	runtime.SetFinalizer(f, nil)

	return wrapPathError("close", f.path, f.c.closeHandle(f.handle))
}

// ReadAt reads len(b) bytes from the remote file starting at byte offset off.
// It returns the number of bytes read and the error, if any. Per io.ReaderAt,
// ReadAt always returns a non-nil error when n < len(b): at end of file, that
// error is io.EOF.
//
// Transfers larger than the negotiated data limit are split into chunks.
func (f *File) ReadAt(b []byte, off int64) (int, error) {
	var n int
	for n < len(b) {
		chunk := min(len(b)-n, f.c.maxReadLen)

		res, err := f.c.invoke(func(id uint32) packetMarshaler {
			return &sshfx.ReadPacket{
				RequestID: id,
				Handle:    f.handle,
				Offset:    uint64(off) + uint64(n),
				Length:    uint32(chunk),
			}
		})

		data, err := f.c.expectData(res, err)
		if len(data) > chunk {
			return n, wrapPathError("read", f.path, errors.Wrap(ErrBadMessage, "server returned more data than requested"))
		}

		n += copy(b[n:], data)

		if err != nil {
			return n, wrapPathError("read", f.path, err)
		}

		if len(data) == 0 {
			// A zero-length SSH_FXP_DATA instead of an EOF status;
			// bail out rather than spin on a misbehaving server.
			return n, wrapPathError("read", f.path, io.ErrUnexpectedEOF)
		}
	}

	return n, nil
}

// WriteAt writes len(b) bytes to the remote file starting at byte offset off.
// Transfers larger than the negotiated data limit are split into chunks.
func (f *File) WriteAt(b []byte, off int64) (int, error) {
	var n int
	for n < len(b) {
		chunk := min(len(b)-n, f.c.maxWriteLen)

		res, err := f.c.invoke(func(id uint32) packetMarshaler {
			return &sshfx.WritePacket{
				RequestID: id,
				Handle:    f.handle,
				Offset:    uint64(off) + uint64(n),
				Data:      b[n : n+chunk],
			}
		})

		if err := normaliseError(f.c.expectStatus(res, err)); err != nil {
			return n, wrapPathError("write", f.path, err)
		}

		n += chunk
	}

	return n, nil
}

// Stat returns metadata of the remote file, via its handle.
func (f *File) Stat() (os.FileInfo, error) {
	res, err := f.c.invoke(func(id uint32) packetMarshaler {
		return &sshfx.FStatPacket{
			RequestID: id,
			Handle:    f.handle,
		}
	})

	attrs, err := f.c.expectAttrs(res, err)
	if err != nil {
		return nil, wrapPathError("fstat", f.path, normaliseError(err))
	}

	return fileInfoFromAttrs(path.Base(f.path), attrs), nil
}

// SetStat modifies metadata of the remote file, via its handle.
// Only the attributes populated in attrs are sent.
func (f *File) SetStat(attrs sshfx.Attributes) error {
	res, err := f.c.invoke(func(id uint32) packetMarshaler {
		return &sshfx.FSetStatPacket{
			RequestID: id,
			Handle:    f.handle,
			Attrs:     attrs,
		}
	})

	return wrapPathError("fsetstat", f.path, normaliseError(f.c.expectStatus(res, err)))
}

// Truncate changes the size of the remote file.
func (f *File) Truncate(size int64) error {
	var attrs sshfx.Attributes
	attrs.SetSize(uint64(size))

	return f.SetStat(attrs)
}

// Sync flushes the file's contents to stable storage,
// via the fsync@openssh.com extension.
func (f *File) Sync() error {
	return wrapPathError("fsync", f.path, f.c.fsync(f.handle))
}

// Dir represents an open remote directory iterator,
// identified by a server-chosen handle.
type Dir struct {
	c      *Client
	path   string
	handle string

	closed atomic.Bool
}

// Name returns the name of the directory as presented to OpenDir.
func (d *Dir) Name() string { return d.path }

func (d *Dir) drop() {
	if d.closed.CompareAndSwap(false, true) {
		go d.c.closeHandle(d.handle)
	}
}

// Close closes the remote directory handle.
func (d *Dir) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return os.ErrClosed
	}

	runtime.SetFinalizer(d, nil)

	return wrapPathError("close", d.path, d.c.closeHandle(d.handle))
}

// ReadDir returns the next batch of directory entries.
// The end of the listing is signalled by io.EOF.
func (d *Dir) ReadDir() ([]os.FileInfo, error) {
	res, err := d.c.invoke(func(id uint32) packetMarshaler {
		return &sshfx.ReadDirPacket{
			RequestID: id,
			Handle:    d.handle,
		}
	})

	entries, err := d.c.expectName(res, err)
	if err != nil {
		return nil, wrapPathError("readdir", d.path, err)
	}

	infos := make([]os.FileInfo, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, fileInfoFromAttrs(e.Filename, &e.Attrs))
	}

	return infos, nil
}
