package sftp

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"

	sshfx "github.com/sshtools/sftp/encoding/ssh/filexfer"
)

// packetMarshaler is the subset of sshfx.Packet needed to put a packet on the wire.
type packetMarshaler interface {
	MarshalPacket() (header, payload []byte, err error)
}

// conn implements a bidirectional channel on which client and server
// connections are multiplexed.
type conn struct {
	io.Reader
	wr io.WriteCloser

	maxPacket uint32

	mu sync.Mutex // serialises writes to sendPacket
}

// recvPacket reads the next length-prefixed frame and splits off its type and request id.
func (c *conn) recvPacket() (*sshfx.RawPacket, error) {
	raw := new(sshfx.RawPacket)
	if err := raw.ReadFrom(c.Reader, c.maxPacket); err != nil {
		return nil, err
	}

	return raw, nil
}

// sendPacket marshals m and writes it to the stream.
// Writes are atomic with respect to each other; any responder may call this concurrently.
func (c *conn) sendPacket(m packetMarshaler) error {
	header, payload, err := m.MarshalPacket()
	if err != nil {
		return errors.Wrap(err, "marshal packet")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.wr.Write(header); err != nil {
		return errors.Wrap(err, "write packet header")
	}

	if len(payload) != 0 {
		if _, err := c.wr.Write(payload); err != nil {
			return errors.Wrap(err, "write packet payload")
		}
	}

	return nil
}

// writeRaw writes pre-marshaled bytes (the handshake packets) to the stream.
func (c *conn) writeRaw(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.wr.Write(b)
	return err
}

func (c *conn) Close() error {
	return c.wr.Close()
}

// result is a response packet routed to the request's awaiter.
// The data buffer is positioned just past the uint32(request-id).
type result struct {
	typ  sshfx.PacketType
	data *sshfx.Buffer
	err  error
}

// clientConn multiplexes request/response traffic for a Client.
//
// A single reader goroutine owns the read half of the stream and routes each
// decoded reply to the channel registered under its request id. At any time
// an id is either free, or mapped to exactly one awaiter; a reply removes the
// mapping and wakes the awaiter exactly once.
type clientConn struct {
	conn

	mu       sync.Mutex
	nextid   uint32
	inflight map[uint32]chan<- result

	closed chan struct{}
	err    error
}

// reserveID allocates the next request id and registers ch under it.
// IDs increment monotonically with wrap-around; an id still in flight
// (including one quarantined by a timeout) is skipped, so a wrapped counter
// can never attach two awaiters to the same id.
func (c *clientConn) reserveID(ch chan<- result) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		c.nextid++
		id := c.nextid
		if id == 0 {
			// Zero is reserved: error replies to undecodable requests
			// carry id zero, and must never match a real awaiter.
			continue
		}
		if _, inuse := c.inflight[id]; !inuse {
			c.inflight[id] = ch
			return id
		}
	}
}

// getChan removes and returns the awaiter registered under reqid.
func (c *clientConn) getChan(reqid uint32) (chan<- result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, loaded := c.inflight[reqid]
	delete(c.inflight, reqid)

	return ch, loaded
}

// abandon replaces the awaiter under reqid with a buffered channel nobody
// reads. The id stays unavailable until the late reply lands, at which point
// the reader delivers into the void and frees the id. The stream is never
// desynchronized by an abandoned request.
func (c *clientConn) abandon(reqid uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, inflight := c.inflight[reqid]; inflight {
		c.inflight[reqid] = make(chan<- result, 1)
	}
}

// dispatch writes the marshaled request to the stream.
// On a write failure the registration is rolled back and the id freed.
func (c *clientConn) dispatch(reqid uint32, req packetMarshaler) error {
	select {
	case <-c.closed:
		c.getChan(reqid)
		return ErrConnectionLost
	default:
	}

	if err := c.sendPacket(req); err != nil {
		c.getChan(reqid)
		return err
	}

	return nil
}

// await blocks until the reply for reqid arrives, the timeout expires, or the
// session dies. A zero timeout waits forever.
func (c *clientConn) await(reqid uint32, ch chan result, timeout time.Duration) (result, error) {
	var timer *time.Timer
	var expired <-chan time.Time

	if timeout > 0 {
		timer = time.NewTimer(timeout)
		expired = timer.C
		defer timer.Stop()
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return result{}, res.err
		}
		return res, nil

	case <-expired:
		c.abandon(reqid)
		return result{}, ErrTimeout

	case <-c.closed:
		return result{}, c.err
	}
}

// recvLoop continuously decodes reply packets and routes them by request id.
// It returns when the stream fails, or when a reply arrives for an id that
// was never issued, which is unrecoverable: the stream framing can no longer
// be trusted to line up with the pending map.
func (c *clientConn) recvLoop() error {
	for {
		raw, err := c.recvPacket()
		if err != nil {
			return err
		}

		ch, loaded := c.getChan(raw.RequestID)
		if !loaded {
			return errors.Wrapf(ErrUnexpectedPacket, "reply for unknown request id %d", raw.RequestID)
		}

		ch <- result{typ: raw.PacketType, data: &raw.Data}
	}
}

// disconnect marks the session dead and wakes every pending awaiter.
// Safe to call multiple times; only the first error sticks.
func (c *clientConn) disconnect(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closed:
		return
	default:
	}

	c.err = err
	close(c.closed)

	// Waiters also select on c.closed, but delivering into each registered
	// channel guarantees wake-up even for one already committed to its recv.
	bcast := result{err: err}
	for reqid, ch := range c.inflight {
		select {
		case ch <- bcast:
		default:
		}
		delete(c.inflight, reqid)
	}
}
