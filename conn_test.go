package sftp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	sshfx "github.com/sshtools/sftp/encoding/ssh/filexfer"
)

func newTestClientConn() *clientConn {
	return &clientConn{
		inflight: make(map[uint32]chan<- result),
		closed:   make(chan struct{}),
	}
}

func TestReserveIDMonotonic(t *testing.T) {
	c := newTestClientConn()

	a := c.reserveID(make(chan result, 1))
	b := c.reserveID(make(chan result, 1))

	assert.Equal(t, uint32(1), a)
	assert.Equal(t, uint32(2), b)
}

func TestReserveIDSkipsInflight(t *testing.T) {
	c := newTestClientConn()

	// Occupy the ids the counter is about to produce.
	c.inflight[1] = make(chan result, 1)
	c.inflight[2] = make(chan result, 1)

	id := c.reserveID(make(chan result, 1))
	assert.Equal(t, uint32(3), id)
}

func TestReserveIDWrapAround(t *testing.T) {
	c := newTestClientConn()
	c.nextid = ^uint32(0) - 1

	a := c.reserveID(make(chan result, 1))
	assert.Equal(t, ^uint32(0)-0, a)

	// The counter wraps around, skipping the reserved zero id.
	b := c.reserveID(make(chan result, 1))
	assert.Equal(t, uint32(1), b)

	cID := c.reserveID(make(chan result, 1))
	assert.Equal(t, uint32(2), cID)
}

func TestAbandonQuarantinesID(t *testing.T) {
	c := newTestClientConn()

	ch := make(chan result, 1)
	id := c.reserveID(ch)

	c.abandon(id)

	// The id is still occupied, so a new reservation skips it.
	c.nextid = id - 1
	next := c.reserveID(make(chan result, 1))
	assert.NotEqual(t, id, next)

	// A late reply frees the id without reaching the original channel.
	late, ok := c.getChan(id)
	assert.True(t, ok)
	late <- result{typ: sshfx.PacketTypeStatus}

	select {
	case <-ch:
		t.Fatal("late reply reached the abandoned awaiter")
	default:
	}

	// Now the id really is free again.
	c.nextid = id - 1
	assert.Equal(t, id, c.reserveID(make(chan result, 1)))
}

func TestAwaitTimeout(t *testing.T) {
	c := newTestClientConn()

	ch := make(chan result, 1)
	id := c.reserveID(ch)

	start := time.Now()
	_, err := c.await(id, ch, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)

	// The entry is tombstoned, not removed.
	_, ok := c.getChan(id)
	assert.True(t, ok)
}

func TestDisconnectWakesAwaiters(t *testing.T) {
	c := newTestClientConn()

	ch := make(chan result, 1)
	id := c.reserveID(ch)

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.disconnect(ErrConnectionLost)
	}()

	_, err := c.await(id, ch, 0)
	assert.ErrorIs(t, err, ErrConnectionLost)

	// Idempotent.
	c.disconnect(ErrBadMessage)
	assert.ErrorIs(t, c.err, ErrConnectionLost)
}
