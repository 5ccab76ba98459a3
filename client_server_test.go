package sftp

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sshfx "github.com/sshtools/sftp/encoding/ssh/filexfer"
)

// memHandler is an in-memory filesystem Handler for driving the engines
// against each other without touching the host filesystem.
type memHandler struct {
	UnimplementedHandler

	mu      sync.Mutex
	files   map[string][]byte
	handles map[string]*memHandle
	nhandle int
	closed  []string

	// readBarrier, when non-nil, is awaited before answering a Read.
	readBarrier chan struct{}
}

type memHandle struct {
	path string
	dir  bool
	// remaining readdir batches
	batches [][]*sshfx.NameEntry
}

func newMemHandler() *memHandler {
	return &memHandler{
		files:   make(map[string][]byte),
		handles: make(map[string]*memHandle),
	}
}

func (h *memHandler) newHandle(path string, dir bool) string {
	h.nhandle++
	handle := fmt.Sprintf("h%d", h.nhandle)
	h.handles[handle] = &memHandle{path: path, dir: dir}
	return handle
}

func (h *memHandler) Open(_ context.Context, req *sshfx.OpenPacket) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, exists := h.files[req.Filename]

	if !exists {
		if req.PFlags&sshfx.FlagCreate == 0 {
			return "", &StatusError{Code: sshfx.StatusNoSuchFile, msg: req.Filename}
		}
		h.files[req.Filename] = nil
	}

	if exists && req.PFlags&sshfx.FlagTruncate != 0 {
		h.files[req.Filename] = nil
	}

	return h.newHandle(req.Filename, false), nil
}

func (h *memHandler) OpenDir(_ context.Context, req *sshfx.OpenDirPacket) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	names := []string{".", ".."}
	for name := range h.files {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]*sshfx.NameEntry, 0, len(names))
	for _, name := range names {
		entries = append(entries, &sshfx.NameEntry{Filename: name, Longname: name})
	}

	handle := h.newHandle(req.Path, true)
	h.handles[handle].batches = [][]*sshfx.NameEntry{entries}
	return handle, nil
}

func (h *memHandler) Close(_ context.Context, req *sshfx.ClosePacket) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.handles[req.Handle]; !ok {
		return &StatusError{Code: sshfx.StatusFailure, msg: "bad handle"}
	}

	delete(h.handles, req.Handle)
	h.closed = append(h.closed, req.Handle)
	return nil
}

func (h *memHandler) Read(_ context.Context, req *sshfx.ReadPacket) ([]byte, error) {
	h.mu.Lock()
	barrier := h.readBarrier
	h.mu.Unlock()

	if barrier != nil {
		<-barrier
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	mh, ok := h.handles[req.Handle]
	if !ok {
		return nil, &StatusError{Code: sshfx.StatusFailure, msg: "bad handle"}
	}

	data := h.files[mh.path]
	if req.Offset >= uint64(len(data)) {
		return nil, io.EOF
	}

	end := req.Offset + uint64(req.Length)
	if end > uint64(len(data)) {
		end = uint64(len(data))
	}

	return data[req.Offset:end], nil
}

func (h *memHandler) Write(_ context.Context, req *sshfx.WritePacket) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	mh, ok := h.handles[req.Handle]
	if !ok {
		return &StatusError{Code: sshfx.StatusFailure, msg: "bad handle"}
	}

	data := h.files[mh.path]
	end := req.Offset + uint64(len(req.Data))
	if end > uint64(len(data)) {
		grown := make([]byte, end)
		copy(grown, data)
		data = grown
	}
	copy(data[req.Offset:], req.Data)
	h.files[mh.path] = data
	return nil
}

func (h *memHandler) ReadDir(_ context.Context, req *sshfx.ReadDirPacket) ([]*sshfx.NameEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	mh, ok := h.handles[req.Handle]
	if !ok || !mh.dir {
		return nil, &StatusError{Code: sshfx.StatusFailure, msg: "bad handle"}
	}

	if len(mh.batches) == 0 {
		return nil, io.EOF
	}

	batch := mh.batches[0]
	mh.batches = mh.batches[1:]
	return batch, nil
}

func (h *memHandler) Stat(_ context.Context, req *sshfx.StatPacket) (*sshfx.Attributes, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, ok := h.files[req.Path]
	if !ok {
		return nil, &StatusError{Code: sshfx.StatusNoSuchFile, msg: req.Path}
	}

	attrs := new(sshfx.Attributes)
	attrs.SetSize(uint64(len(data)))
	attrs.SetPermissions(0o644 | sshfx.ModeRegular)
	return attrs, nil
}

func (h *memHandler) Remove(_ context.Context, req *sshfx.RemovePacket) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.files[req.Path]; !ok {
		return &StatusError{Code: sshfx.StatusNoSuchFile, msg: req.Path}
	}

	delete(h.files, req.Path)
	return nil
}

func (h *memHandler) RealPath(_ context.Context, req *sshfx.RealPathPacket) (string, error) {
	if req.Path == "" || req.Path == "." {
		return "/", nil
	}
	return req.Path, nil
}

func (h *memHandler) closedHandles() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]string(nil), h.closed...)
}

// testPair wires a client and server together over an in-memory connection.
func testPair(t *testing.T, handler Handler, copts []ClientOption, sopts []ServerOption) (*Client, <-chan error) {
	t.Helper()

	cconn, sconn := net.Pipe()

	sv, err := NewServer(sconn, sconn, handler, sopts...)
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() {
		served <- sv.Serve()
	}()

	cl, err := NewClientPipe(cconn, cconn, copts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		cl.Close()
		sconn.Close()
	})

	return cl, served
}

func TestHandshake(t *testing.T) {
	cl, _ := testPair(t, newMemHandler(), nil, nil)

	// The server always advertises limits@openssh.com.
	_, ok := cl.HasExtension("limits@openssh.com")
	assert.True(t, ok)

	// Normal operation after the handshake.
	name, err := cl.RealPath(".")
	require.NoError(t, err)
	assert.Equal(t, "/", name)
}

func TestOpenReadClose(t *testing.T) {
	handler := newMemHandler()
	handler.files["/a.txt"] = []byte("ABCDEFGH")

	cl, _ := testPair(t, handler, nil, nil)

	f, err := cl.Open("/a.txt")
	require.NoError(t, err)

	b := make([]byte, 4)
	n, err := f.ReadAt(b, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "ABCD", string(b))

	// Reading past the end surfaces io.EOF, not an error status.
	n, err = f.ReadAt(b, 8)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)

	// A short read at the boundary also ends in io.EOF.
	b = make([]byte, 8)
	n, err = f.ReadAt(b, 4)
	assert.Equal(t, 4, n)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "EFGH", string(b[:4]))

	require.NoError(t, f.Close())

	// The handle is gone server-side.
	assert.NotEmpty(t, handler.closedHandles())
}

func TestWriteRoundTrip(t *testing.T) {
	handler := newMemHandler()

	cl, _ := testPair(t, handler, nil, nil)

	f, err := cl.Create("/new.txt")
	require.NoError(t, err)

	n, err := f.WriteAt([]byte("hello, world"), 0)
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	require.NoError(t, f.Close())

	assert.Equal(t, []byte("hello, world"), handler.files["/new.txt"])
}

func TestReadDirSequence(t *testing.T) {
	handler := newMemHandler()
	handler.files["/a.txt"] = []byte("A")

	cl, _ := testPair(t, handler, nil, nil)

	d, err := cl.OpenDir("/")
	require.NoError(t, err)

	batch, err := d.ReadDir()
	require.NoError(t, err)

	names := make([]string, 0, len(batch))
	for _, fi := range batch {
		names = append(names, fi.Name())
	}
	assert.Equal(t, []string{".", "..", "/a.txt"}, names)

	// The exhausted iterator answers SSH_FX_EOF.
	_, err = d.ReadDir()
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, d.Close())
}

func TestReadDirAll(t *testing.T) {
	handler := newMemHandler()
	handler.files["/a.txt"] = []byte("A")
	handler.files["/b.txt"] = []byte("B")

	cl, _ := testPair(t, handler, nil, nil)

	infos, err := cl.ReadDir("/")
	require.NoError(t, err)
	assert.Len(t, infos, 4) // ".", "..", and both files
}

func TestErrorSurface(t *testing.T) {
	handler := newMemHandler()
	handler.files["/a.txt"] = []byte("A")

	cl, _ := testPair(t, handler, nil, nil)

	_, err := cl.Open("/missing")
	assert.ErrorIs(t, err, os.ErrNotExist)

	// The session stays usable after a per-request failure.
	f, err := cl.Open("/a.txt")
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestStatAndRemove(t *testing.T) {
	handler := newMemHandler()
	handler.files["/a.txt"] = []byte("ABCD")

	cl, _ := testPair(t, handler, nil, nil)

	fi, err := cl.Stat("/a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(4), fi.Size())
	assert.Equal(t, "a.txt", fi.Name())
	assert.False(t, fi.IsDir())

	require.NoError(t, cl.Remove("/a.txt"))

	_, err = cl.Stat("/a.txt")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLimitsExtension(t *testing.T) {
	cl, _ := testPair(t, newMemHandler(), nil, []ServerOption{WithMaxOpenHandles(64)})

	limits, err := cl.Limits()
	require.NoError(t, err)

	assert.Equal(t, uint64(sshfx.DefaultMaxPacketLength), limits.MaxPacketLength)
	assert.Equal(t, uint64(sshfx.DefaultMaxPacketLength-1024), limits.MaxReadLength)
	assert.Equal(t, uint64(sshfx.DefaultMaxPacketLength-1280), limits.MaxWriteLength)
	assert.Equal(t, uint64(64), limits.MaxOpenHandles)
}

func TestUnknownExtension(t *testing.T) {
	cl, _ := testPair(t, newMemHandler(), nil, nil)

	_, err := cl.Extended("nope@example.com", nil)

	var status *StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, sshfx.StatusOPUnsupported, status.Code)
}

func TestUnadvertisedExtensionGating(t *testing.T) {
	// memHandler implements neither HardlinkHandler nor StatVFSHandler,
	// so the client refuses locally without a round trip.
	cl, _ := testPair(t, newMemHandler(), nil, nil)

	err := cl.Hardlink("/a", "/b")
	var status *StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, sshfx.StatusOPUnsupported, status.Code)

	_, err = cl.StatVFS("/")
	require.ErrorAs(t, err, &status)
	assert.Equal(t, sshfx.StatusOPUnsupported, status.Code)
}

func TestTimeoutAndIDReuse(t *testing.T) {
	handler := newMemHandler()
	handler.files["/a.txt"] = []byte("ABCD")

	barrier := make(chan struct{})
	handler.readBarrier = barrier

	cl, _ := testPair(t, handler,
		[]ClientOption{WithTimeout(100 * time.Millisecond)}, nil)

	f, err := cl.Open("/a.txt")
	require.NoError(t, err)

	// This read blocks server-side until the barrier opens, so the awaiter
	// times out and its id is quarantined.
	b := make([]byte, 4)
	_, err = f.ReadAt(b, 0)
	assert.ErrorIs(t, err, ErrTimeout)

	// Unblock further reads, and release the late reply.
	handler.mu.Lock()
	handler.readBarrier = nil
	handler.mu.Unlock()
	close(barrier)

	// The session survives: the late reply is discarded, and new requests
	// with fresh ids complete normally.
	n, err := f.ReadAt(b, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "ABCD", string(b))

	require.NoError(t, f.Close())
}

func TestServerClosesHandlesOnShutdown(t *testing.T) {
	handler := newMemHandler()
	handler.files["/a.txt"] = []byte("A")

	cl, served := testPair(t, handler, nil, nil)

	_, err := cl.Open("/a.txt")
	require.NoError(t, err)

	// Tear the stream down with the handle still open.
	cl.Close()

	select {
	case <-served:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}

	assert.NotEmpty(t, handler.closedHandles())
}

func TestConnectionLostBroadcast(t *testing.T) {
	handler := newMemHandler()
	handler.files["/a.txt"] = []byte("ABCD")

	barrier := make(chan struct{})
	handler.readBarrier = barrier
	defer close(barrier)

	cl, _ := testPair(t, handler, []ClientOption{WithTimeout(0)}, nil)

	f, err := cl.Open("/a.txt")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		b := make([]byte, 4)
		_, err := f.ReadAt(b, 0)
		done <- err
	}()

	// Let the read get in flight, then kill the session.
	time.Sleep(50 * time.Millisecond)
	cl.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrConnectionLost)
	case <-time.After(5 * time.Second):
		t.Fatal("pending request was not woken by disconnect")
	}
}
