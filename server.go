package sftp

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"

	sshfx "github.com/sshtools/sftp/encoding/ssh/filexfer"
	"github.com/sshtools/sftp/encoding/ssh/filexfer/openssh"
)

// ServerOption specifies an optional that can be set on a server.
type ServerOption func(*Server) error

// WithServerMaxPacketLength sets the maximum length of an inbound packet the
// server will accept before rejecting the frame to bound memory.
//
// The default is sshfx.DefaultMaxPacketLength.
func WithServerMaxPacketLength(length uint32) ServerOption {
	return func(sv *Server) error {
		if length < 1 {
			return errors.Errorf("max packet length cannot be less than 1: %d", length)
		}

		sv.conn.maxPacket = length
		return nil
	}
}

// WithConcurrency bounds the number of handler invocations in flight at once.
// Zero, the default, leaves handler concurrency unbounded; back-pressure then
// comes only from the single-reader model.
func WithConcurrency(n int) ServerOption {
	return func(sv *Server) error {
		if n < 0 {
			return errors.Errorf("concurrency cannot be negative: %d", n)
		}

		if n > 0 {
			sv.sem = make(chan struct{}, n)
		} else {
			sv.sem = nil
		}
		return nil
	}
}

// WithMaxOpenHandles bounds the number of handles open at once, and is
// advertised to clients through the limits@openssh.com extension.
// Zero, the default, means unbounded.
func WithMaxOpenHandles(n uint64) ServerOption {
	return func(sv *Server) error {
		sv.maxOpenHandles = n
		return nil
	}
}

// Server serves one SFTP session on a duplex byte stream, routing each
// request to an application-supplied Handler and marshaling its results back
// into replies. It is filesystem-agnostic: every notion of path, file and
// directory lives behind the Handler.
type Server struct {
	conn conn

	handler Handler

	maxOpenHandles uint64

	sem chan struct{} // bounds handler concurrency when non-nil

	wg sync.WaitGroup

	mu      sync.Mutex
	handles map[string]struct{}
}

// NewServer creates a server for a single session on the given stream.
// A subsequent call to Serve is required.
func NewServer(rd io.Reader, wr io.WriteCloser, handler Handler, opts ...ServerOption) (*Server, error) {
	sv := &Server{
		conn: conn{
			Reader:    rd,
			wr:        wr,
			maxPacket: sshfx.DefaultMaxPacketLength,
		},
		handler: handler,
		handles: make(map[string]struct{}),
	}

	for _, opt := range opts {
		if err := opt(sv); err != nil {
			return nil, err
		}
	}

	// Typed decoding of the built-in extended packets.
	openssh.RegisterExtensionLimits()
	openssh.RegisterExtensionHardlink()
	openssh.RegisterExtensionFsync()
	openssh.RegisterExtensionStatVFS()

	return sv, nil
}

// extensions returns the extension pairs advertised in SSH_FXP_VERSION:
// limits@openssh.com always, the rest as the handler supports them.
func (sv *Server) extensions() []*sshfx.ExtensionPair {
	exts := []*sshfx.ExtensionPair{
		openssh.ExtensionLimits(),
	}

	if _, ok := sv.handler.(HardlinkHandler); ok {
		exts = append(exts, openssh.ExtensionHardlink())
	}

	if _, ok := sv.handler.(FsyncHandler); ok {
		exts = append(exts, openssh.ExtensionFsync())
	}

	if _, ok := sv.handler.(StatVFSHandler); ok {
		exts = append(exts, openssh.ExtensionStatVFS())
	}

	return exts
}

// limits returns the bounds reported by the limits@openssh.com extension.
// Data lengths leave headroom under the packet cap for the reply framing.
func (sv *Server) limits() *openssh.LimitsExtendedReplyPacket {
	return &openssh.LimitsExtendedReplyPacket{
		MaxPacketLength: uint64(sv.conn.maxPacket),
		MaxReadLength:   uint64(sv.conn.maxPacket - 1024),
		MaxWriteLength:  uint64(sv.conn.maxPacket - 1280),
		MaxOpenHandles:  sv.maxOpenHandles,
	}
}

// handshake awaits SSH_FXP_INIT and answers SSH_FXP_VERSION.
// Any other opening packet terminates the session: before version negotiation
// there is no request id to hang an error reply on.
func (sv *Server) handshake() error {
	var initPkt sshfx.InitPacket

	typ, err := initPkt.ReadFrom(sv.conn.Reader, sv.conn.maxPacket)
	if err != nil {
		return errors.Wrap(err, "read SSH_FXP_INIT")
	}

	if typ != sshfx.PacketTypeInit {
		return errors.Wrapf(ErrBadMessage, "expected SSH_FXP_INIT, got %v", typ)
	}

	if initPkt.Version < sftpProtocolVersion {
		return errors.Wrapf(ErrUnexpectedVersion, "client speaks version %d, want at least %d", initPkt.Version, sftpProtocolVersion)
	}

	// A client proposing a higher version settles on ours.
	version := &sshfx.VersionPacket{
		Version:    sftpProtocolVersion,
		Extensions: sv.extensions(),
	}

	data, err := version.MarshalBinary()
	if err != nil {
		return err
	}

	return errors.Wrap(sv.conn.writeRaw(data), "write SSH_FXP_VERSION")
}

// Serve negotiates the protocol version, then decodes and dispatches requests
// until the stream ends. Handler invocations are spawned, so replies may be
// sent out of order with respect to receipt; request ids disambiguate.
//
// On return every handle still open has been released through the handler.
func (sv *Server) Serve() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sv.handshake(); err != nil {
		return err
	}

	var err error
	for {
		var raw *sshfx.RawPacket
		raw, err = sv.conn.recvPacket()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			break
		}

		if sv.sem != nil {
			sv.sem <- struct{}{}
		}

		sv.wg.Add(1)
		go func() {
			defer sv.wg.Done()
			if sv.sem != nil {
				defer func() { <-sv.sem }()
			}

			sv.respond(ctx, raw)
		}()
	}

	cancel()
	sv.wg.Wait()
	sv.closeAllHandles()

	return err
}

// storeHandle validates and records a handle returned by the handler.
func (sv *Server) storeHandle(handle string) error {
	if len(handle) > maxHandleLength {
		return errors.Errorf("handler returned over-long handle: %d bytes", len(handle))
	}

	sv.mu.Lock()
	defer sv.mu.Unlock()

	if _, dup := sv.handles[handle]; dup {
		return errors.Errorf("handler returned duplicate handle: %q", handle)
	}

	if sv.maxOpenHandles > 0 && uint64(len(sv.handles)) >= sv.maxOpenHandles {
		return errors.New("too many open handles")
	}

	sv.handles[handle] = struct{}{}
	return nil
}

// takeHandle removes a handle from the table, reporting whether it was open.
func (sv *Server) takeHandle(handle string) bool {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	if _, ok := sv.handles[handle]; !ok {
		return false
	}

	delete(sv.handles, handle)
	return true
}

// checkHandle reports whether a handle is currently open.
func (sv *Server) checkHandle(handle string) bool {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	_, ok := sv.handles[handle]
	return ok
}

// closeAllHandles releases every remaining handle through the handler.
// Handles are session-scoped: none survive Serve returning.
func (sv *Server) closeAllHandles() {
	sv.mu.Lock()
	handles := make([]string, 0, len(sv.handles))
	for handle := range sv.handles {
		handles = append(handles, handle)
	}
	sv.handles = make(map[string]struct{})
	sv.mu.Unlock()

	ctx := context.Background()
	for _, handle := range handles {
		if err := sv.handler.Close(ctx, &sshfx.ClosePacket{Handle: handle}); err != nil {
			debug("close handle %q on shutdown: %v", handle, err)
		}
	}
}

var errInvalidHandle = &StatusError{Code: sshfx.StatusFailure, msg: "invalid handle"}

// sendReply writes a reply packet, falling back to debug logging on failure;
// a dead stream will surface through the reader loop shortly anyway.
func (sv *Server) sendReply(reply packetMarshaler) {
	if err := sv.conn.sendPacket(reply); err != nil {
		debug("send reply: %v", err)
	}
}

func (sv *Server) sendStatus(reqid uint32, err error) {
	sv.sendReply(statusFromError(reqid, err))
}

// respond decodes one raw request, runs the handler, and writes the reply.
//
// An unknown packet type answers SSH_FX_OP_UNSUPPORTED and an undecodable
// body answers SSH_FX_BAD_MESSAGE; neither terminates the session, as the
// framing layer is still intact.
func (sv *Server) respond(ctx context.Context, raw *sshfx.RawPacket) {
	reqid := raw.RequestID

	pkt, err := sshfx.NewPacketFromType(raw.PacketType)
	if err != nil {
		sv.sendStatus(reqid, &StatusError{
			Code: sshfx.StatusOPUnsupported,
			msg:  raw.PacketType.String(),
		})
		return
	}

	if err := pkt.UnmarshalPacketBody(&raw.Data); err != nil {
		sv.sendStatus(reqid, &StatusError{
			Code: sshfx.StatusBadMessage,
			msg:  err.Error(),
		})
		return
	}

	switch req := pkt.(type) {
	case *sshfx.OpenPacket:
		sv.respondHandle(ctx, reqid, func() (string, error) { return sv.handler.Open(ctx, req) },
			func(handle string) { sv.handler.Close(ctx, &sshfx.ClosePacket{Handle: handle}) })

	case *sshfx.OpenDirPacket:
		sv.respondHandle(ctx, reqid, func() (string, error) { return sv.handler.OpenDir(ctx, req) },
			func(handle string) { sv.handler.Close(ctx, &sshfx.ClosePacket{Handle: handle}) })

	case *sshfx.ClosePacket:
		if !sv.takeHandle(req.Handle) {
			sv.sendStatus(reqid, errInvalidHandle)
			return
		}
		sv.sendStatus(reqid, sv.handler.Close(ctx, req))

	case *sshfx.ReadPacket:
		if !sv.checkHandle(req.Handle) {
			sv.sendStatus(reqid, errInvalidHandle)
			return
		}

		data, err := sv.handler.Read(ctx, req)
		if err != nil {
			sv.sendStatus(reqid, err)
			return
		}
		sv.sendReply(&sshfx.DataPacket{RequestID: reqid, Data: data})

	case *sshfx.WritePacket:
		if !sv.checkHandle(req.Handle) {
			sv.sendStatus(reqid, errInvalidHandle)
			return
		}
		sv.sendStatus(reqid, sv.handler.Write(ctx, req))

	case *sshfx.ReadDirPacket:
		if !sv.checkHandle(req.Handle) {
			sv.sendStatus(reqid, errInvalidHandle)
			return
		}

		entries, err := sv.handler.ReadDir(ctx, req)
		if err != nil {
			sv.sendStatus(reqid, err)
			return
		}
		sv.sendReply(&sshfx.NamePacket{RequestID: reqid, Entries: entries})

	case *sshfx.StatPacket:
		sv.respondAttrs(reqid, func() (*sshfx.Attributes, error) { return sv.handler.Stat(ctx, req) })

	case *sshfx.LStatPacket:
		sv.respondAttrs(reqid, func() (*sshfx.Attributes, error) { return sv.handler.LStat(ctx, req) })

	case *sshfx.FStatPacket:
		if !sv.checkHandle(req.Handle) {
			sv.sendStatus(reqid, errInvalidHandle)
			return
		}
		sv.respondAttrs(reqid, func() (*sshfx.Attributes, error) { return sv.handler.FStat(ctx, req) })

	case *sshfx.SetStatPacket:
		sv.sendStatus(reqid, sv.handler.SetStat(ctx, req))

	case *sshfx.FSetStatPacket:
		if !sv.checkHandle(req.Handle) {
			sv.sendStatus(reqid, errInvalidHandle)
			return
		}
		sv.sendStatus(reqid, sv.handler.FSetStat(ctx, req))

	case *sshfx.RemovePacket:
		sv.sendStatus(reqid, sv.handler.Remove(ctx, req))

	case *sshfx.MkdirPacket:
		sv.sendStatus(reqid, sv.handler.Mkdir(ctx, req))

	case *sshfx.RmdirPacket:
		sv.sendStatus(reqid, sv.handler.Rmdir(ctx, req))

	case *sshfx.RenamePacket:
		sv.sendStatus(reqid, sv.handler.Rename(ctx, req))

	case *sshfx.SymlinkPacket:
		sv.sendStatus(reqid, sv.handler.Symlink(ctx, req))

	case *sshfx.ReadLinkPacket:
		sv.respondName(reqid, func() (string, error) { return sv.handler.ReadLink(ctx, req) })

	case *sshfx.RealPathPacket:
		sv.respondName(reqid, func() (string, error) { return sv.handler.RealPath(ctx, req) })

	case *sshfx.ExtendedPacket:
		sv.respondExtended(ctx, reqid, req)

	default:
		sv.sendStatus(reqid, &StatusError{
			Code: sshfx.StatusOPUnsupported,
			msg:  raw.PacketType.String(),
		})
	}
}

// respondHandle runs an Open or OpenDir, records the returned handle, and
// replies SSH_FXP_HANDLE. A handle the engine refuses to store is released
// straight back through the handler so nothing leaks.
func (sv *Server) respondHandle(ctx context.Context, reqid uint32, open func() (string, error), release func(string)) {
	handle, err := open()
	if err != nil {
		sv.sendStatus(reqid, err)
		return
	}

	if err := sv.storeHandle(handle); err != nil {
		release(handle)
		sv.sendStatus(reqid, err)
		return
	}

	sv.sendReply(&sshfx.HandlePacket{RequestID: reqid, Handle: handle})
}

func (sv *Server) respondAttrs(reqid uint32, stat func() (*sshfx.Attributes, error)) {
	attrs, err := stat()
	if err != nil {
		sv.sendStatus(reqid, err)
		return
	}

	sv.sendReply(&sshfx.AttrsPacket{RequestID: reqid, Attrs: *attrs})
}

// respondName replies a single-entry SSH_FXP_NAME, as READLINK and REALPATH require.
func (sv *Server) respondName(reqid uint32, resolve func() (string, error)) {
	name, err := resolve()
	if err != nil {
		sv.sendStatus(reqid, err)
		return
	}

	sv.sendReply(&sshfx.NamePacket{
		RequestID: reqid,
		Entries: []*sshfx.NameEntry{
			{Filename: name, Longname: name},
		},
	})
}

// respondExtended routes SSH_FXP_EXTENDED requests by extended-request name.
// The built-in openssh extensions go to their capability interfaces; anything
// else goes to ExtendedHandler if implemented, and is otherwise unsupported.
func (sv *Server) respondExtended(ctx context.Context, reqid uint32, req *sshfx.ExtendedPacket) {
	switch data := req.Data.(type) {
	case *openssh.LimitsExtendedPacket:
		sv.sendReply(&sshfx.ExtendedReplyPacket{
			RequestID: reqid,
			Data:      sv.limits(),
		})

	case *openssh.HardlinkExtendedPacket:
		if h, ok := sv.handler.(HardlinkHandler); ok {
			sv.sendStatus(reqid, h.Hardlink(ctx, data))
			return
		}
		sv.sendStatus(reqid, errOPUnsupported(req.Type()))

	case *openssh.FsyncExtendedPacket:
		if h, ok := sv.handler.(FsyncHandler); ok {
			if !sv.checkHandle(data.Handle) {
				sv.sendStatus(reqid, errInvalidHandle)
				return
			}
			sv.sendStatus(reqid, h.Fsync(ctx, data))
			return
		}
		sv.sendStatus(reqid, errOPUnsupported(req.Type()))

	case *openssh.StatVFSExtendedPacket:
		if h, ok := sv.handler.(StatVFSHandler); ok {
			vfs, err := h.StatVFS(ctx, data)
			if err != nil {
				sv.sendStatus(reqid, err)
				return
			}
			sv.sendReply(&sshfx.ExtendedReplyPacket{RequestID: reqid, Data: vfs})
			return
		}
		sv.sendStatus(reqid, errOPUnsupported(req.Type()))

	default:
		if h, ok := sv.handler.(ExtendedHandler); ok {
			reply, err := h.Extended(ctx, req)
			if err != nil {
				sv.sendStatus(reqid, err)
				return
			}
			sv.sendReply(&sshfx.ExtendedReplyPacket{RequestID: reqid, Data: reply})
			return
		}

		sv.sendStatus(reqid, &StatusError{
			Code: sshfx.StatusOPUnsupported,
			msg:  req.ExtendedRequest,
		})
	}
}
